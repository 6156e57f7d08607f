package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/token-queue/internal/metrics"
	"github.com/iliyamo/token-queue/internal/model"
)

// DefaultMaxRetries bounds how often an admission is retried after losing
// an optimistic-lock race.
const DefaultMaxRetries = 5

const retryBackoff = 5 * time.Millisecond

// Allocator admits bookings into a queue.  The capacity check, token
// assignment and booking insert happen atomically in the store; the
// allocator only decides what to do when that step reports a conflict.
type Allocator struct {
	store      Admitter
	maxRetries int
	backoff    time.Duration
	logger     *zap.Logger
}

// NewAllocator returns an allocator that retries conflicts up to
// maxRetries times.
func NewAllocator(store Admitter, maxRetries int, logger *zap.Logger) *Allocator {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Allocator{store: store, maxRetries: maxRetries, backoff: retryBackoff, logger: logger}
}

// Allocate admits b into the queue identified by key and returns its
// token.  Tokens within a key are strictly increasing and the active count
// never exceeds capacity, whatever the concurrency.  A full queue is
// ErrCapacityExceeded; there is no wait-list.  Persistent contention is
// ErrUnavailable once retries run out.
func (a *Allocator) Allocate(ctx context.Context, key model.QueueKey, capacity int, b *model.Booking) (int, error) {
	for attempt := 0; ; attempt++ {
		err := a.store.Admit(ctx, key, capacity, b)
		switch {
		case err == nil:
			metrics.Admissions.WithLabelValues(metrics.ResultAdmitted).Inc()
			return b.Token, nil

		case errors.Is(err, ErrCapacityExceeded):
			metrics.Admissions.WithLabelValues(metrics.ResultFull).Inc()
			return 0, fmt.Errorf("%w: queue %s is at capacity %d", ErrCapacityExceeded, key, capacity)

		case errors.Is(err, ErrConflict):
			if attempt >= a.maxRetries {
				metrics.Admissions.WithLabelValues(metrics.ResultUnavailable).Inc()
				a.logger.Warn("admission gave up after conflicts",
					zap.String("queue_key", key.String()), zap.Int("attempts", attempt+1))
				return 0, fmt.Errorf("%w: queue %s stayed contended after %d attempts", ErrUnavailable, key, attempt+1)
			}
			metrics.AllocRetries.Inc()
			if err := a.wait(ctx, attempt); err != nil {
				return 0, err
			}

		default:
			metrics.Admissions.WithLabelValues(metrics.ResultError).Inc()
			return 0, err
		}
	}
}

// wait sleeps a linearly growing backoff, returning early on cancellation.
func (a *Allocator) wait(ctx context.Context, attempt int) error {
	if a.backoff <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(a.backoff * time.Duration(attempt+1))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
