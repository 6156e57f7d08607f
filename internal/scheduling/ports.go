package scheduling

import (
	"context"

	"github.com/iliyamo/token-queue/internal/model"
	"github.com/iliyamo/token-queue/internal/queue"
	"github.com/iliyamo/token-queue/internal/repository"
)

// UnitSource reads externally managed department configuration.
type UnitSource interface {
	Unit(ctx context.Context, businessID, departmentID string) (*model.CapacityUnit, error)
	UnitByID(ctx context.Context, unitID string) (*model.CapacityUnit, error)
}

// Admitter is the store's atomic conditional-increment-and-insert.
type Admitter interface {
	Admit(ctx context.Context, key model.QueueKey, capacity int, b *model.Booking) error
}

// ActiveSetReader reads a consistent view of one queue.
type ActiveSetReader interface {
	ActiveSet(ctx context.Context, key model.QueueKey) (*repository.ActiveSet, error)
}

// BookingStore reads and atomically mutates single bookings.
type BookingStore interface {
	Booking(ctx context.Context, id string) (*model.Booking, error)
	UpdateBooking(ctx context.Context, id string, mutate repository.MutateFunc) (*model.Booking, error)
}

// Store is everything the engine needs from durable storage.  Both
// repository.MySQLStore and repository.MemoryStore satisfy it.
type Store interface {
	UnitSource
	Admitter
	ActiveSetReader
	BookingStore
	SlotUsage(ctx context.Context, unitID, day string) (map[string]int, error)
}

// EventPublisher delivers domain events to the notification side.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.BookingEvent) error
}

// SnapshotCache keeps the latest snapshot of each queue for cheap polling.
// Put must ignore a snapshot older than the one already stored.
type SnapshotCache interface {
	Get(ctx context.Context, key model.QueueKey) (*Snapshot, bool)
	Put(ctx context.Context, snap *Snapshot) error
}
