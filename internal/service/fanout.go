package service

import (
	"context"

	"go.uber.org/multierr"

	q "github.com/iliyamo/token-queue/internal/queue"
)

// Fanout delivers each event to every publisher in order.  One failing
// publisher does not stop the others; their errors are combined.
type Fanout []Publisher

// Publish implements Publisher.
func (f Fanout) Publish(ctx context.Context, ev q.BookingEvent) error {
	var errs error
	for _, p := range f {
		if p == nil {
			continue
		}
		errs = multierr.Append(errs, p.Publish(ctx, ev))
	}
	return errs
}
