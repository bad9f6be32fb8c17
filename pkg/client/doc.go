/*
Package client is the Go client for the cortexd operator API.

The CLI subcommands (cortexd status, workers, tasks, snapshot) and the
end-to-end tests drive a running daemon through this package rather
than hand-rolling HTTP calls. One method exists per API operation:

	c := client.NewClient("localhost:8420")
	health, err := c.Health()
	worker, err := c.RegisterWorker("w1", []string{"dev"}, nil)
	result, err := c.AssignTask("t1", "", &types.TaskSpec{...})
	err = c.CompleteTask("t1", map[string]any{"ok": true})
	state, err := c.State()

Error responses are mapped back onto the shared error taxonomy from
their status codes: 400 invalid argument, 404 not found, 409
precondition failed, 503 no workers available, 504 timeout, anything
else internal. A capability mismatch therefore comes back as a
precondition failure, and capacity, offline and queue-full failures as
no workers available. Callers classify with the errdefs predicates:

	if _, err := c.GetTask("ghost"); errdefs.IsNotFound(err) { ... }

The client is stateless apart from its base URL and a 10-second
request timeout; it is safe for concurrent use.
*/
package client
