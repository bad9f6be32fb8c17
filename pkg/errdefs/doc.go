/*
Package errdefs defines the error taxonomy shared across cortexd.

Every failure a caller can act on is one of a small set of kinds:
invalid argument, not found, precondition failed, worker at capacity,
no workers available, capability mismatch, worker offline, queue full,
timeout, internal. Each kind is a sentinel error; call sites wrap one
with context and callers classify with the predicates:

	if err := sched.Complete(taskID, result, reporter); err != nil {
		switch {
		case errdefs.IsNotFound(err):      // unknown task
		case errdefs.IsPrecondition(err):  // already terminal, or late reply
		}
	}

Wrapping goes through fmt.Errorf with %w or the helpers (NotFoundf,
InvalidArgumentf, Preconditionf), so errors.Is sees through any number
of context layers.

# Transport mapping

HTTPStatus maps a kind to the status code the operator API returns:
validation → 400, not found → 404, precondition and capability
mismatch → 409, capacity / queue-full / offline → 503, timeout → 504,
everything else → 500. The session layer sends the error text in an
error frame instead. Neither surface ever exposes stack traces or
internal paths. The pkg/client side maps status codes back onto
kinds, but one code covers several kinds: 409 always comes back as
precondition failed and 503 as no workers available, so a remote
capability mismatch, capacity, offline or queue-full failure is not
told apart by the predicates on client results.

# Conventions

Recoverable errors return to the immediate caller. Reassignment
cascades triggered by worker loss are events, never request failures.
Persistence failures are events and metrics only. Unwinding (panic) is
reserved for genuine internal-invariant violations, and even those are
contained at component boundaries - the daemon never crashes on a
single bad request.
*/
package errdefs
