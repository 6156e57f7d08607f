package scheduling

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/token-queue/internal/clock"
	"github.com/iliyamo/token-queue/internal/model"
	"github.com/iliyamo/token-queue/internal/queue"
	"github.com/iliyamo/token-queue/internal/repository"
)

// monday08 is 08:00 UTC on a Monday.
var monday08 = time.Date(2026, time.October, 19, 8, 0, 0, 0, time.UTC)

const (
	biz       = "b1"
	liveDept  = "front-desk"
	slotDept  = "consult"
	liveUnit  = "u-live"
	slotUnit  = "u-slot"
	slotDate  = "2026-10-19"
	slot0900  = "2026-10-19T09:00"
	slotAvg   = 15
	liveAvg   = 10
	slotWidth = 30
)

type recorder struct {
	mu     sync.Mutex
	events []queue.BookingEvent
}

func (r *recorder) Publish(_ context.Context, ev queue.BookingEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) all() []queue.BookingEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]queue.BookingEvent(nil), r.events...)
}

type fixture struct {
	svc    *Service
	store  *repository.MemoryStore
	clock  *clock.Manual
	events *recorder
}

func liveUnitWithCapacity(capacity int) model.CapacityUnit {
	return model.CapacityUnit{
		ID:                    liveUnit,
		BusinessID:            biz,
		DepartmentID:          liveDept,
		Mode:                  model.ModeLive,
		Capacity:              capacity,
		AverageServiceMinutes: liveAvg,
		AutoApprove:           true,
		Active:                true,
	}
}

func slottedUnit() model.CapacityUnit {
	return model.CapacityUnit{
		ID:                    slotUnit,
		BusinessID:            biz,
		DepartmentID:          slotDept,
		Mode:                  model.ModeSlotted,
		Capacity:              3,
		SlotDurationMinutes:   slotWidth,
		AverageServiceMinutes: slotAvg,
		Window: model.OperatingWindow{
			time.Monday:  {OpenMinute: 9 * 60, CloseMinute: 12 * 60},
			time.Tuesday: {OpenMinute: 9 * 60, CloseMinute: 12 * 60},
		},
		Active: true,
	}
}

func newFixture(t *testing.T, units ...model.CapacityUnit) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	for _, u := range units {
		require.NoError(t, store.PutUnit(u))
	}
	clk := clock.NewManual(monday08)
	rec := &recorder{}
	svc := New(store, nil, rec, clk, Config{NoShowGrace: DefaultNoShowGrace}, nil)
	return &fixture{svc: svc, store: store, clock: clk, events: rec}
}

func customer(name string) model.Customer {
	return model.Customer{Name: name, Phone: "+15550100"}
}

func (f *fixture) bookLive(t *testing.T, name string) *model.Booking {
	t.Helper()
	b, err := f.svc.CreateBooking(context.Background(), CreateBookingRequest{
		BusinessID: biz, DepartmentID: liveDept, Customer: customer(name),
	})
	require.NoError(t, err)
	return b
}

func (f *fixture) bookSlot(t *testing.T, name, hhmm string) *model.Booking {
	t.Helper()
	b, err := f.svc.CreateBooking(context.Background(), CreateBookingRequest{
		BusinessID: biz, DepartmentID: slotDept, Customer: customer(name),
		Slot: &SlotRequest{Date: slotDate, Time: hhmm},
	})
	require.NoError(t, err)
	return b
}

func (f *fixture) advance(t *testing.T, id string, steps ...model.Status) *model.Booking {
	t.Helper()
	var b *model.Booking
	for _, s := range steps {
		var err error
		b, err = f.svc.AdvanceBooking(context.Background(), id, model.ActorBusiness, s)
		require.NoError(t, err, "advance to %s", s)
	}
	return b
}
