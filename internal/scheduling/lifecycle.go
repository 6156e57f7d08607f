package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/token-queue/internal/clock"
	"github.com/iliyamo/token-queue/internal/metrics"
	"github.com/iliyamo/token-queue/internal/model"
	"github.com/iliyamo/token-queue/internal/repository"
)

// DefaultNoShowGrace is how long after its scheduled time a booking must
// wait before it may be marked no-show.
const DefaultNoShowGrace = 15 * time.Minute

const updateAttempts = 3

// transitions is the complete lifecycle graph.  Terminal statuses have no
// outgoing edges.
var transitions = map[model.Status][]model.Status{
	model.StatusPending:    {model.StatusConfirmed, model.StatusCancelled},
	model.StatusConfirmed:  {model.StatusCancelled, model.StatusCheckedIn, model.StatusNoShow},
	model.StatusCheckedIn:  {model.StatusInProgress, model.StatusNoShow},
	model.StatusInProgress: {model.StatusCompleted},
}

// Allowed reports whether from -> to is an edge of the lifecycle graph.
func Allowed(from, to model.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Change is the result of applying a transition.  Changed is false when
// the request was an idempotent repeat and nothing was written.
type Change struct {
	Booking *model.Booking
	From    model.Status
	Changed bool
}

// Lifecycle validates and applies booking status transitions.
type Lifecycle struct {
	store  BookingStore
	clock  clock.Clock
	grace  time.Duration
	logger *zap.Logger
}

// NewLifecycle returns a lifecycle manager writing through store.
func NewLifecycle(store BookingStore, clk clock.Clock, grace time.Duration, logger *zap.Logger) *Lifecycle {
	if grace < 0 {
		grace = DefaultNoShowGrace
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lifecycle{store: store, clock: clk, grace: grace, logger: logger}
}

// NewBooking builds the booking to admit for a resolved request.  Units
// with auto-approval start bookings confirmed, others start pending.
func (l *Lifecycle) NewBooking(res *Resolution, customer model.Customer, notes string, scheduledAt time.Time) *model.Booking {
	now := l.clock.Now()
	b := &model.Booking{
		ID:             uuid.NewString(),
		CapacityUnitID: res.Unit.ID,
		SlotID:         res.Key.SlotID,
		QueueDay:       res.Key.Day,
		Customer:       customer,
		Notes:          notes,
		Status:         model.StatusPending,
		ScheduledAt:    scheduledAt,
		CreatedAt:      now,
	}
	if res.Unit.AutoApprove {
		b.Status = model.StatusConfirmed
		b.ConfirmedAt = &now
	}
	return b
}

// Apply moves booking id to status to on behalf of actor.  Cancelling an
// already cancelled booking succeeds without writing.  Everything outside
// the transition graph, or failing a guard, is an *InvalidTransitionError.
func (l *Lifecycle) Apply(ctx context.Context, id string, actor model.Actor, to model.Status) (*Change, error) {
	var from model.Status
	mutate := func(b *model.Booking) error {
		from = b.Status
		if to == model.StatusCancelled && from == model.StatusCancelled {
			return repository.ErrNoChange
		}
		now := l.clock.Now()
		if err := l.guard(b, actor, to, now); err != nil {
			return err
		}
		stamp(b, to, now)
		b.Status = to
		return nil
	}

	var (
		b   *model.Booking
		err error
	)
	for attempt := 0; attempt < updateAttempts; attempt++ {
		b, err = l.store.UpdateBooking(ctx, id, mutate)
		if !errors.Is(err, ErrConflict) {
			break
		}
	}
	switch {
	case errors.Is(err, repository.ErrNoChange):
		return &Change{Booking: b, From: from, Changed: false}, nil
	case errors.Is(err, ErrConflict):
		return nil, fmt.Errorf("%w: booking %s stayed contended", ErrUnavailable, id)
	case err != nil:
		return nil, err
	}

	metrics.Transitions.WithLabelValues(from.String(), to.String()).Inc()
	l.logger.Info("booking transitioned",
		zap.String("booking_id", id),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.String("actor", string(actor)),
	)
	return &Change{Booking: b, From: from, Changed: true}, nil
}

func (l *Lifecycle) guard(b *model.Booking, actor model.Actor, to model.Status, now time.Time) error {
	reject := func(reason string) error {
		return &InvalidTransitionError{From: b.Status, To: to, Reason: reason}
	}
	if !to.IsValid() {
		return reject("unknown status")
	}
	if !Allowed(b.Status, to) {
		return reject("")
	}
	if to != model.StatusCancelled && actor != model.ActorBusiness {
		return reject("only the business may perform this transition")
	}
	if actor != model.ActorBusiness && actor != model.ActorCustomer {
		return reject("unknown actor")
	}
	switch to {
	case model.StatusCheckedIn:
		if b.ConfirmedAt == nil {
			return reject("booking was never confirmed")
		}
	case model.StatusNoShow:
		if due := b.ScheduledAt.Add(l.grace); now.Before(due) {
			return reject(fmt.Sprintf("grace period runs until %s", due.Format(time.RFC3339)))
		}
	}
	return nil
}

// stamp records the time of entering status to.  Each stamp is written at
// most once and never earlier than the stamps before it.
func stamp(b *model.Booking, to model.Status, now time.Time) {
	if last := latestStamp(b); now.Before(last) {
		now = last
	}
	set := func(p **time.Time) {
		if *p == nil {
			t := now
			*p = &t
		}
	}
	switch to {
	case model.StatusConfirmed:
		set(&b.ConfirmedAt)
	case model.StatusCheckedIn:
		set(&b.CheckedInAt)
	case model.StatusInProgress:
		set(&b.StartedAt)
	case model.StatusCompleted:
		set(&b.CompletedAt)
	case model.StatusCancelled:
		set(&b.CancelledAt)
	case model.StatusNoShow:
		set(&b.NoShowAt)
	}
}

func latestStamp(b *model.Booking) time.Time {
	last := b.CreatedAt
	for _, t := range []*time.Time{b.ConfirmedAt, b.CheckedInAt, b.StartedAt, b.CompletedAt, b.CancelledAt, b.NoShowAt} {
		if t != nil && t.After(last) {
			last = *t
		}
	}
	return last
}
