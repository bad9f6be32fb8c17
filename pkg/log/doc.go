/*
Package log provides structured logging for cortexd, built on zerolog.

Init configures the daemon-wide base logger once, from the CLI flags
or embedding program; an unknown level or format is an error rather
than a silent fallback. Before Init runs the base logger discards
everything, so packages constructed in tests or as libraries stay
quiet without any setup.

Every long-lived component derives a child logger once at
construction:

	logger := log.Component("scheduler")
	logger.Info().Str("worker_id", id).Msg("Worker registered")

Task-scoped lines use WithTask to carry the task/worker pair
uniformly, so one filter follows a task across components:

	log.WithTask(logger, taskID, workerID).Info().Msg("Task assigned")

Console output (RFC3339 timestamps, human-readable) is the default;
JSON output is for production deployments where logs are shipped.
*/
package log
