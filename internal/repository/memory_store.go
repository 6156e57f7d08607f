package repository

import (
	"context"
	"errors"
	"sync"

	"github.com/iliyamo/token-queue/internal/model"
)

// MemoryStore is an in-process implementation of the durable store.  Each
// capacity pool carries its own mutex so admissions to different queues
// never contend, while admissions and transitions within one pool are
// strictly serialized.  It backs STORE_DRIVER=memory and the engine's tests.
//
// Lock order is always queue mutex before the map mutex.
type MemoryStore struct {
	mu       sync.RWMutex
	units    map[string]model.CapacityUnit
	depts    map[string]string
	bookings map[string]model.Booking
	queues   map[string]*memQueue
}

// memQueue is one capacity pool.  tokens holds the last token of each
// sequence admitted into it; a live pool has one sequence per day.
type memQueue struct {
	mu      sync.Mutex
	key     model.QueueKey
	tokens  map[string]int
	active  int
	version int64
	members []string // booking ids in admission order
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		units:    make(map[string]model.CapacityUnit),
		depts:    make(map[string]string),
		bookings: make(map[string]model.Booking),
		queues:   make(map[string]*memQueue),
	}
}

func deptKey(businessID, departmentID string) string { return businessID + "/" + departmentID }

// PutUnit registers or replaces a capacity unit.
func (s *MemoryStore) PutUnit(u model.CapacityUnit) error {
	if err := u.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.units[u.ID] = u
	s.depts[deptKey(u.BusinessID, u.DepartmentID)] = u.ID
	return nil
}

// Unit looks up the capacity unit of a business department.
func (s *MemoryStore) Unit(ctx context.Context, businessID, departmentID string) (*model.CapacityUnit, error) {
	s.mu.RLock()
	id, ok := s.depts[deptKey(businessID, departmentID)]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.UnitByID(ctx, id)
}

// UnitByID looks up a capacity unit by its identifier.
func (s *MemoryStore) UnitByID(_ context.Context, unitID string) (*model.CapacityUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.units[unitID]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

// pool returns the capacity pool of key, creating it on first use.
func (s *MemoryStore) pool(key model.QueueKey) *memQueue {
	key = key.Pool()
	k := key.String()
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[k]
	if !ok {
		q = &memQueue{key: key, tokens: make(map[string]int)}
		s.queues[k] = q
	}
	return q
}

// Admit atomically checks the pool's active count against capacity,
// assigns the next token of key's sequence to b and records it.  A
// rejected admission consumes no token.
func (s *MemoryStore) Admit(ctx context.Context, key model.QueueKey, capacity int, b *model.Booking) error {
	q := s.pool(key)
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if q.active >= capacity {
		return ErrCapacityExceeded
	}
	seq := key.String()
	q.tokens[seq]++
	q.active++
	q.version++
	b.Token = q.tokens[seq]
	q.members = append(q.members, b.ID)

	s.mu.Lock()
	s.bookings[b.ID] = *b
	s.mu.Unlock()
	return nil
}

// Booking returns a copy of the stored booking.
func (s *MemoryStore) Booking(_ context.Context, id string) (*model.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

// UpdateBooking applies mutate to the booking under its pool's lock.  When
// the booking leaves the active set its capacity is released in the same
// step.
func (s *MemoryStore) UpdateBooking(ctx context.Context, id string, mutate MutateFunc) (*model.Booking, error) {
	cur, err := s.Booking(ctx, id)
	if err != nil {
		return nil, err
	}
	q := s.pool(cur.Key())
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Re-read under the pool lock: the first read only located the pool.
	s.mu.RLock()
	prev := s.bookings[id]
	s.mu.RUnlock()

	next := prev
	if err := mutate(&next); err != nil {
		if errors.Is(err, ErrNoChange) {
			return &prev, ErrNoChange
		}
		return nil, err
	}
	if prev.Status.IsActive() && !next.Status.IsActive() {
		q.active--
	}
	q.version++

	s.mu.Lock()
	s.bookings[id] = next
	s.mu.Unlock()
	return &next, nil
}

// ActiveSet returns the active bookings of key's pool in admission order,
// which is queue day then token.
func (s *MemoryStore) ActiveSet(_ context.Context, key model.QueueKey) (*ActiveSet, error) {
	key = key.Pool()
	s.mu.RLock()
	q, ok := s.queues[key.String()]
	s.mu.RUnlock()
	set := &ActiveSet{Key: key, Bookings: []model.Booking{}}
	if !ok {
		return set, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range q.members {
		if b := s.bookings[id]; b.Status.IsActive() {
			set.Bookings = append(set.Bookings, b)
		}
	}
	set.Revision = q.version
	return set, nil
}

// SlotUsage returns the active booking count of every slot of a unit on
// the given date that has seen at least one admission.
func (s *MemoryStore) SlotUsage(_ context.Context, unitID, day string) (map[string]int, error) {
	s.mu.RLock()
	var matched []*memQueue
	for _, q := range s.queues {
		if q.key.UnitID == unitID && q.key.Day == day && q.key.SlotID != "" {
			matched = append(matched, q)
		}
	}
	s.mu.RUnlock()

	usage := make(map[string]int, len(matched))
	for _, q := range matched {
		q.mu.Lock()
		usage[q.key.SlotID] = q.active
		q.mu.Unlock()
	}
	return usage, nil
}
