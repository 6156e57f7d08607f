// Package scheduling is the queue and slot scheduling engine.  It admits
// bookings into live queues or dated slots without ever exceeding
// capacity, assigns monotonically increasing tokens, drives the booking
// lifecycle, and keeps queue positions and wait estimates current.
//
// The Service type is the facade used by the HTTP layer.  Registry,
// Allocator, Tracker and Lifecycle are its collaborators and are exported
// so they can be exercised on their own.
package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/token-queue/internal/clock"
	"github.com/iliyamo/token-queue/internal/model"
	"github.com/iliyamo/token-queue/internal/queue"
)

// Config tunes the engine.  Zero values fall back to the package defaults,
// except NoShowGrace where zero means no grace and a negative value
// selects DefaultNoShowGrace.
type Config struct {
	MaxAllocRetries       int
	NoShowGrace           time.Duration
	DefaultServiceMinutes int
	UnitCacheTTL          time.Duration
	Location              *time.Location
}

// CreateBookingRequest is a customer's request for a place in a queue.
// Slot is ignored by live units and required by slotted ones.
type CreateBookingRequest struct {
	BusinessID   string
	DepartmentID string
	Customer     model.Customer
	Notes        string
	Slot         *SlotRequest
}

// Service ties the engine together.
type Service struct {
	store     Store
	registry  *Registry
	allocator *Allocator
	tracker   *Tracker
	lifecycle *Lifecycle
	events    EventPublisher
	clock     clock.Clock
	logger    *zap.Logger
}

// New builds a Service.  cache and events may be nil.
func New(store Store, cache SnapshotCache, events EventPublisher, clk clock.Clock, cfg Config, logger *zap.Logger) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAllocRetries == 0 {
		cfg.MaxAllocRetries = DefaultMaxRetries
	}
	if cfg.NoShowGrace < 0 {
		cfg.NoShowGrace = DefaultNoShowGrace
	}
	registry := NewRegistry(store, clk, cfg.Location, cfg.UnitCacheTTL)
	return &Service{
		store:     store,
		registry:  registry,
		allocator: NewAllocator(store, cfg.MaxAllocRetries, logger.Named("allocator")),
		tracker:   NewTracker(store, registry, cache, clk, cfg.DefaultServiceMinutes, logger.Named("tracker")),
		lifecycle: NewLifecycle(store, clk, cfg.NoShowGrace, logger.Named("lifecycle")),
		events:    events,
		clock:     clk,
		logger:    logger,
	}
}

// Run drives the engine's background upkeep until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	return s.registry.Run(ctx)
}

// Registry exposes the unit registry.
func (s *Service) Registry() *Registry { return s.registry }

// Tracker exposes the position tracker.
func (s *Service) Tracker() *Tracker { return s.tracker }

// CreateBooking admits a new booking and returns it with its token,
// position and wait estimate filled in.
func (s *Service) CreateBooking(ctx context.Context, req CreateBookingRequest) (*model.Booking, error) {
	req.Customer.Name = strings.TrimSpace(req.Customer.Name)
	req.Customer.Phone = strings.TrimSpace(req.Customer.Phone)
	req.Customer.Email = strings.TrimSpace(req.Customer.Email)
	if req.Customer.Name == "" || req.Customer.Phone == "" {
		return nil, fmt.Errorf("%w: customer name and phone are required", ErrInvalidRequest)
	}

	res, err := s.registry.Resolve(ctx, req.BusinessID, req.DepartmentID, req.Slot)
	if err != nil {
		return nil, err
	}

	scheduledAt, err := s.scheduledAt(ctx, res)
	if err != nil {
		return nil, err
	}
	b := s.lifecycle.NewBooking(res, req.Customer, req.Notes, scheduledAt)
	if _, err := s.allocator.Allocate(ctx, res.Key, res.Unit.Capacity, b); err != nil {
		return nil, err
	}

	// The booking is committed from here on; failures below only cost
	// freshness of derived data.
	snap, err := s.tracker.Recompute(ctx, res.Key)
	if err != nil {
		s.logger.Warn("recompute after admission failed",
			zap.String("booking_id", b.ID), zap.String("queue_key", res.Key.String()), zap.Error(err))
	} else {
		place(b, snap)
	}
	s.logger.Info("booking admitted",
		zap.String("booking_id", b.ID),
		zap.String("queue_key", res.Key.String()),
		zap.Int("token", b.Token),
		zap.String("status", b.Status.String()),
	)
	s.publish(ctx, queue.EventAdmitted, b, "")
	return b, nil
}

// scheduledAt is the slot start, or for live queues the estimated service
// time given the bookings already waiting.
func (s *Service) scheduledAt(ctx context.Context, res *Resolution) (time.Time, error) {
	if res.Slot != nil {
		return res.Slot.StartsAt, nil
	}
	snap, err := s.tracker.Snapshot(ctx, res.Key)
	if err != nil {
		return time.Time{}, err
	}
	ahead := time.Duration(len(snap.Entries)*snap.AverageServiceMinutes) * time.Minute
	return s.clock.Now().Add(ahead), nil
}

// CancelBooking cancels a booking.  Cancelling twice is not an error and
// emits nothing the second time.
func (s *Service) CancelBooking(ctx context.Context, id string, actor model.Actor) (*model.Booking, error) {
	return s.AdvanceBooking(ctx, id, actor, model.StatusCancelled)
}

// AdvanceBooking moves a booking to target.
func (s *Service) AdvanceBooking(ctx context.Context, id string, actor model.Actor, target model.Status) (*model.Booking, error) {
	ch, err := s.lifecycle.Apply(ctx, id, actor, target)
	if err != nil {
		return nil, err
	}
	b := ch.Booking
	if !ch.Changed {
		s.fillPosition(ctx, b)
		return b, nil
	}

	// Every edge leaves an active status, so each committed transition
	// changes either the active set or a status shown in the snapshot.
	snap, err := s.tracker.Recompute(ctx, b.Key())
	if err != nil {
		s.logger.Warn("recompute after transition failed",
			zap.String("booking_id", b.ID), zap.Error(err))
	} else {
		place(b, snap)
	}
	s.publish(ctx, queue.EventTransition, b, ch.From)
	return b, nil
}

// GetBooking returns a booking with its current position.
func (s *Service) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	b, err := s.store.Booking(ctx, id)
	if err != nil {
		return nil, err
	}
	s.fillPosition(ctx, b)
	return b, nil
}

// QueueSnapshot returns the ranked active set of a unit's queue.  slotID
// must be empty for live units and name a slot for slotted ones.
func (s *Service) QueueSnapshot(ctx context.Context, unitID, slotID string) (*Snapshot, error) {
	key, err := s.QueueKey(ctx, unitID, slotID)
	if err != nil {
		return nil, err
	}
	return s.tracker.Snapshot(ctx, key)
}

// QueueKey resolves a unit id and optional slot id to the queue they name.
func (s *Service) QueueKey(ctx context.Context, unitID, slotID string) (model.QueueKey, error) {
	u, err := s.registry.Unit(ctx, unitID)
	if err != nil {
		return model.QueueKey{}, err
	}
	return s.registry.KeyFor(u, slotID)
}

// ListSlots returns the slots of a slotted department on date with their
// current booked counts.
func (s *Service) ListSlots(ctx context.Context, businessID, departmentID, date string) ([]model.Slot, error) {
	u, err := s.registry.Department(ctx, businessID, departmentID)
	if err != nil {
		return nil, err
	}
	slots, err := s.registry.Slots(u, date)
	if err != nil {
		return nil, err
	}
	usage, err := s.store.SlotUsage(ctx, u.ID, date)
	if err != nil {
		return nil, err
	}
	for i := range slots {
		slots[i].Booked = usage[slots[i].ID]
	}
	return slots, nil
}

func (s *Service) fillPosition(ctx context.Context, b *model.Booking) {
	if !b.Status.IsActive() {
		place(b, nil)
		return
	}
	snap, err := s.tracker.Snapshot(ctx, b.Key())
	if err != nil {
		s.logger.Warn("snapshot read failed", zap.String("booking_id", b.ID), zap.Error(err))
		return
	}
	place(b, snap)
}

// place copies the booking's entry from snap.  Bookings outside the active
// set have position zero.
func place(b *model.Booking, snap *Snapshot) {
	b.Position, b.EstimatedWaitMinutes = 0, 0
	if snap == nil {
		return
	}
	if p, ok := snap.Find(b.ID); ok {
		b.Position = p.Position
		b.EstimatedWaitMinutes = p.EstimatedWaitMinutes
	}
}

// publish emits a booking event.  Delivery failures are logged and never
// fail the operation that caused them.
func (s *Service) publish(ctx context.Context, typ queue.EventType, b *model.Booking, from model.Status) {
	if s.events == nil {
		return
	}
	ev := queue.BookingEvent{
		Type:                 typ,
		BookingID:            b.ID,
		CapacityUnitID:       b.CapacityUnitID,
		SlotID:               b.SlotID,
		QueueDay:             b.QueueDay,
		Token:                b.Token,
		OldStatus:            from.String(),
		NewStatus:            b.Status.String(),
		Position:             b.Position,
		EstimatedWaitMinutes: b.EstimatedWaitMinutes,
		Timestamp:            s.clock.Now(),
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn("publish booking event failed",
			zap.String("booking_id", b.ID), zap.String("type", string(typ)), zap.Error(err))
	}
}
