package scheduling

import (
	"errors"
	"fmt"

	"github.com/iliyamo/token-queue/internal/model"
	"github.com/iliyamo/token-queue/internal/repository"
)

// Caller-visible outcomes.  NotFound, Closed, CapacityExceeded and
// InvalidTransition are business results and must not be retried.
// Unavailable is reported only after the allocator's own retries ran out.
var (
	ErrNotFound          = repository.ErrNotFound
	ErrCapacityExceeded  = repository.ErrCapacityExceeded
	ErrConflict          = repository.ErrConflict
	ErrClosed            = errors.New("closed")
	ErrInvalidSlot       = errors.New("invalid slot request")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrUnavailable       = errors.New("service unavailable")
)

// InvalidTransitionError names the rejected from/to pair.  It matches
// ErrInvalidTransition under errors.Is.
type InvalidTransitionError struct {
	From   model.Status
	To     model.Status
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
	}
	return fmt.Sprintf("invalid transition %s -> %s: %s", e.From, e.To, e.Reason)
}

// Is lets callers match any InvalidTransitionError with ErrInvalidTransition.
func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }
