package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringSetJSONRoundTrip(t *testing.T) {
	set := NewStringSet("security", "development", "ci")

	data, err := json.Marshal(set)
	require.NoError(t, err)
	// Serialized as an ordered array
	assert.JSONEq(t, `["ci","development","security"]`, string(data))

	var decoded StringSet
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, decoded.Has("security"))
	assert.True(t, decoded.Has("ci"))
	assert.Equal(t, 3, decoded.Len())
}

func TestStringSetZeroValue(t *testing.T) {
	var set StringSet
	assert.Equal(t, 0, set.Len())
	assert.False(t, set.Has("anything"))
	assert.Equal(t, []string{}, set.Sorted())

	data, err := json.Marshal(set)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestStringSetSubsetOf(t *testing.T) {
	tests := []struct {
		name     string
		required StringSet
		offered  StringSet
		expected bool
	}{
		{"empty required matches anything", NewStringSet(), NewStringSet("dev"), true},
		{"exact match", NewStringSet("dev"), NewStringSet("dev"), true},
		{"subset", NewStringSet("dev"), NewStringSet("dev", "sec"), true},
		{"missing capability", NewStringSet("dev"), NewStringSet("sec"), false},
		{"partial overlap", NewStringSet("dev", "sec"), NewStringSet("dev"), false},
		{"zero required", StringSet{}, NewStringSet("dev"), true},
		{"zero offered", NewStringSet("dev"), StringSet{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.required.SubsetOf(tt.offered))
		})
	}
}

func TestPriorityRank(t *testing.T) {
	assert.Equal(t, 0, PriorityCritical.Rank())
	assert.Equal(t, 1, PriorityHigh.Rank())
	assert.Equal(t, 2, PriorityNormal.Rank())
	assert.Equal(t, 3, PriorityLow.Rank())
	// Unknown ranks as normal
	assert.Equal(t, 2, Priority("bogus").Rank())
}

func TestTaskStatusPredicates(t *testing.T) {
	assert.True(t, TaskStatusCompleted.Terminal())
	assert.True(t, TaskStatusFailed.Terminal())
	assert.True(t, TaskStatusCancelled.Terminal())
	assert.False(t, TaskStatusPending.Terminal())
	assert.False(t, TaskStatusAssigned.Terminal())

	assert.True(t, TaskStatusAssigned.Active())
	assert.True(t, TaskStatusInProgress.Active())
	assert.False(t, TaskStatusPending.Active())
	assert.False(t, TaskStatusCompleted.Active())
}

func TestWorkerClone(t *testing.T) {
	worker := &Worker{
		ID:           "w1",
		Capabilities: NewStringSet("dev"),
		Metadata:     map[string]any{"zone": "a"},
	}
	clone := worker.Clone()
	clone.Capabilities.Add("sec")
	clone.Metadata["zone"] = "b"

	assert.False(t, worker.Capabilities.Has("sec"))
	assert.Equal(t, "a", worker.Metadata["zone"])
}

func TestTaskClone(t *testing.T) {
	task := &Task{ID: "t1", RequiredCapabilities: NewStringSet("dev")}
	clone := task.Clone()
	clone.RequiredCapabilities.Add("sec")
	assert.False(t, task.RequiredCapabilities.Has("sec"))
}
