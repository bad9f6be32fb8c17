package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ry-ops/cortexd/pkg/errdefs"
	"github.com/ry-ops/cortexd/pkg/events"
	"github.com/ry-ops/cortexd/pkg/metrics"
	"github.com/ry-ops/cortexd/pkg/scheduler"
	"github.com/ry-ops/cortexd/pkg/types"
)

// Client talks to a running daemon's operator API
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the daemon at addr (host:port or URL)
func NewClient(addr string) *Client {
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return &Client{
		base: strings.TrimRight(addr, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// Health is the GET /health response
type Health struct {
	Status   string `json:"status"`
	UptimeMs int64  `json:"uptimeMs"`
	Version  string `json:"version"`
}

// State is the GET /state response
type State struct {
	Workers     []*types.Worker     `json:"workers"`
	Tasks       []*types.Task       `json:"tasks"`
	Assignments []*types.Assignment `json:"assignments"`
	Metadata    map[string]any      `json:"metadata"`
	Counts      map[string]int      `json:"counts"`
}

func (c *Client) do(method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return remoteError(resp.StatusCode, apiErr.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// remoteError maps an API status back onto the error taxonomy so
// callers can use the errdefs predicates on client results.
func remoteError(status int, msg string) error {
	switch status {
	case http.StatusBadRequest:
		return fmt.Errorf("%s: %w", msg, errdefs.ErrInvalidArgument)
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", msg, errdefs.ErrNotFound)
	case http.StatusConflict:
		return fmt.Errorf("%s: %w", msg, errdefs.ErrPrecondition)
	case http.StatusServiceUnavailable:
		return fmt.Errorf("%s: %w", msg, errdefs.ErrNoWorkersAvailable)
	case http.StatusGatewayTimeout:
		return fmt.Errorf("%s: %w", msg, errdefs.ErrTimeout)
	default:
		return fmt.Errorf("%s: %w", msg, errdefs.ErrInternal)
	}
}

// Health returns daemon liveness
func (c *Client) Health() (*Health, error) {
	var out Health
	if err := c.do(http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// State returns the full materialized state snapshot
func (c *Client) State() (*State, error) {
	var out State
	if err := c.do(http.MethodGet, "/state", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Metrics returns the JSON metrics snapshot
func (c *Client) Metrics() (*metrics.Snapshot, error) {
	var out metrics.Snapshot
	if err := c.do(http.MethodGet, "/metrics", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Events returns up to limit recent daemon events
func (c *Client) Events(limit int) ([]*events.Event, error) {
	var out struct {
		Events []*events.Event `json:"events"`
	}
	path := "/events"
	if limit > 0 {
		path += "?limit=" + url.QueryEscape(fmt.Sprint(limit))
	}
	if err := c.do(http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// RegisterWorker creates or replaces a worker record
func (c *Client) RegisterWorker(id string, capabilities []string, metadata map[string]any) (*types.Worker, error) {
	var out types.Worker
	err := c.do(http.MethodPost, "/workers/register", map[string]any{
		"workerId":     id,
		"capabilities": capabilities,
		"metadata":     metadata,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UnregisterWorker removes a worker, reassigning its tasks
func (c *Client) UnregisterWorker(id string) error {
	return c.do(http.MethodPost, "/workers/unregister", map[string]any{"workerId": id}, nil)
}

// EvictWorker force-removes a worker
func (c *Client) EvictWorker(id string) error {
	return c.do(http.MethodPost, "/workers/evict", map[string]any{"workerId": id}, nil)
}

// ListWorkers returns all workers
func (c *Client) ListWorkers() ([]*types.Worker, error) {
	var out struct {
		Workers []*types.Worker `json:"workers"`
	}
	if err := c.do(http.MethodGet, "/workers", nil, &out); err != nil {
		return nil, err
	}
	return out.Workers, nil
}

// GetWorker returns one worker
func (c *Client) GetWorker(id string) (*types.Worker, error) {
	var out types.Worker
	if err := c.do(http.MethodGet, "/workers/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AssignTask schedules a task, optionally onto a preferred worker
func (c *Client) AssignTask(taskID, workerID string, spec *types.TaskSpec) (*scheduler.AssignResult, error) {
	var out scheduler.AssignResult
	err := c.do(http.MethodPost, "/tasks/assign", map[string]any{
		"taskId":   taskID,
		"workerId": workerID,
		"taskData": spec,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CompleteTask records a successful terminal transition
func (c *Client) CompleteTask(taskID string, result map[string]any) error {
	return c.do(http.MethodPost, "/tasks/complete", map[string]any{"taskId": taskID, "result": result}, nil)
}

// FailTask records a failed terminal transition
func (c *Client) FailTask(taskID, errMsg string) error {
	return c.do(http.MethodPost, "/tasks/fail", map[string]any{"taskId": taskID, "error": errMsg}, nil)
}

// CancelTask cancels a pending or active task
func (c *Client) CancelTask(taskID string) error {
	return c.do(http.MethodPost, "/tasks/cancel", map[string]any{"taskId": taskID}, nil)
}

// ListTasks returns all tasks, optionally filtered by status
func (c *Client) ListTasks(status string) ([]*types.Task, error) {
	var out struct {
		Tasks []*types.Task `json:"tasks"`
	}
	path := "/tasks"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	if err := c.do(http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

// GetTask returns one task
func (c *Client) GetTask(id string) (*types.Task, error) {
	var out types.Task
	if err := c.do(http.MethodGet, "/tasks/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Snapshot forces a persistence snapshot
func (c *Client) Snapshot() error {
	return c.do(http.MethodPost, "/snapshot", nil, nil)
}
