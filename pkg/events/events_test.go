package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishAndSubscribe(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Emit(EventTaskAssigned, "", "task_id", "t1")

	select {
	case ev := <-sub:
		assert.Equal(t, EventTaskAssigned, ev.Type)
		assert.Equal(t, "t1", ev.Metadata["task_id"])
		assert.NotEmpty(t, ev.ID)
		assert.NotZero(t, ev.Timestamp)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestRecentRing(t *testing.T) {
	b := NewBroker()

	for i := 0; i < 5; i++ {
		b.Emit(EventTaskCompleted, "")
	}
	recent := b.Recent(3)
	require.Len(t, recent, 3)

	all := b.Recent(0)
	assert.Len(t, all, 5)
}

func TestRecentRingWrapsAround(t *testing.T) {
	b := NewBroker()
	for i := 0; i < defaultRingSize+10; i++ {
		b.Emit(EventTaskCompleted, "")
	}
	assert.Len(t, b.Recent(0), defaultRingSize)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe()
	assert.Equal(t, 1, b.SubscriberCount())
	b.Unsubscribe(sub)
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	// Never drained; its buffer fills and further events are skipped
	_ = b.Subscribe()

	for i := 0; i < 200; i++ {
		b.Emit(EventTaskAssigned, "")
	}
	// Publishing stayed non-blocking
	assert.Len(t, b.Recent(0), 200)
}
