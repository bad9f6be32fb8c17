package errdefs

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds for the daemon. API boundaries wrap one of these
// sentinels with context via fmt.Errorf("...: %w", Err...); callers
// classify with the Is* predicates.
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrNotFound           = errors.New("not found")
	ErrPrecondition       = errors.New("precondition failed")
	ErrWorkerAtCapacity   = errors.New("worker at capacity")
	ErrNoWorkersAvailable = errors.New("no workers available")
	ErrCapabilityMismatch = errors.New("capability mismatch")
	ErrWorkerOffline      = errors.New("worker offline")
	ErrQueueFull          = errors.New("queue full")
	ErrTimeout            = errors.New("timeout")
	ErrInternal           = errors.New("internal error")
)

func IsInvalidArgument(err error) bool    { return errors.Is(err, ErrInvalidArgument) }
func IsNotFound(err error) bool           { return errors.Is(err, ErrNotFound) }
func IsPrecondition(err error) bool       { return errors.Is(err, ErrPrecondition) }
func IsWorkerAtCapacity(err error) bool   { return errors.Is(err, ErrWorkerAtCapacity) }
func IsNoWorkersAvailable(err error) bool { return errors.Is(err, ErrNoWorkersAvailable) }
func IsCapabilityMismatch(err error) bool { return errors.Is(err, ErrCapabilityMismatch) }
func IsWorkerOffline(err error) bool      { return errors.Is(err, ErrWorkerOffline) }
func IsQueueFull(err error) bool          { return errors.Is(err, ErrQueueFull) }
func IsTimeout(err error) bool            { return errors.Is(err, ErrTimeout) }

// NotFoundf wraps ErrNotFound with a formatted message
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

// InvalidArgumentf wraps ErrInvalidArgument with a formatted message
func InvalidArgumentf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidArgument)...)
}

// Preconditionf wraps ErrPrecondition with a formatted message
func Preconditionf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrPrecondition)...)
}

// HTTPStatus maps an error kind to the status code the operator API
// returns for it. Unknown errors map to 500.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsInvalidArgument(err):
		return http.StatusBadRequest
	case IsNotFound(err):
		return http.StatusNotFound
	case IsPrecondition(err):
		return http.StatusConflict
	case IsWorkerAtCapacity(err), IsNoWorkersAvailable(err), IsQueueFull(err):
		return http.StatusServiceUnavailable
	case IsCapabilityMismatch(err):
		return http.StatusConflict
	case IsWorkerOffline(err):
		return http.StatusServiceUnavailable
	case IsTimeout(err):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
