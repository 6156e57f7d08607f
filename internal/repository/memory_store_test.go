package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/token-queue/internal/model"
)

func TestMemoryAdmitSerializesPerQueue(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	const capacity, callers = 5, 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		tokens   []int
		rejected int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b := &model.Booking{ID: fmt.Sprintf("b-%d", i), CapacityUnitID: liveKey.UnitID, QueueDay: liveKey.Day, Status: model.StatusPending}
			err := s.Admit(ctx, liveKey, capacity, b)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, ErrCapacityExceeded)
				rejected++
				return
			}
			tokens = append(tokens, b.Token)
		}(i)
	}
	wg.Wait()

	assert.ElementsMatch(t, []int{1, 2, 3, 4, 5}, tokens)
	assert.Equal(t, callers-capacity, rejected)

	set, err := s.ActiveSet(ctx, liveKey)
	require.NoError(t, err)
	require.Len(t, set.Bookings, capacity)
	for i, b := range set.Bookings {
		assert.Equal(t, i+1, b.Token)
	}
}

func TestMemoryUpdateReleasesCapacity(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first := &model.Booking{ID: "a", CapacityUnitID: liveKey.UnitID, QueueDay: liveKey.Day, Status: model.StatusConfirmed}
	require.NoError(t, s.Admit(ctx, liveKey, 1, first))
	require.ErrorIs(t, s.Admit(ctx, liveKey, 1, &model.Booking{ID: "b"}), ErrCapacityExceeded)

	before, err := s.ActiveSet(ctx, liveKey)
	require.NoError(t, err)

	got, err := s.UpdateBooking(ctx, "a", func(b *model.Booking) error {
		b.Status = model.StatusCancelled
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, got.Status)

	after, err := s.ActiveSet(ctx, liveKey)
	require.NoError(t, err)
	assert.Empty(t, after.Bookings)
	assert.Greater(t, after.Revision, before.Revision)

	// The freed place goes to the next token; cancelled tokens are not reused.
	next := &model.Booking{ID: "c", CapacityUnitID: liveKey.UnitID, QueueDay: liveKey.Day, Status: model.StatusPending}
	require.NoError(t, s.Admit(ctx, liveKey, 1, next))
	assert.Equal(t, 2, next.Token)
}

func TestMemoryLiveCapacitySpansDays(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	tomorrow := model.QueueKey{UnitID: liveKey.UnitID, Day: "2026-10-20"}

	late := &model.Booking{ID: "late", CapacityUnitID: liveKey.UnitID, QueueDay: liveKey.Day, Status: model.StatusInProgress}
	require.NoError(t, s.Admit(ctx, liveKey, 1, late))

	// Still being served after midnight: the new day's queue is full.
	early := &model.Booking{ID: "early", CapacityUnitID: tomorrow.UnitID, QueueDay: tomorrow.Day, Status: model.StatusPending}
	require.ErrorIs(t, s.Admit(ctx, tomorrow, 1, early), ErrCapacityExceeded)

	_, err := s.UpdateBooking(ctx, "late", func(b *model.Booking) error {
		b.Status = model.StatusCompleted
		return nil
	})
	require.NoError(t, err)

	// Tokens restart on the new day.
	require.NoError(t, s.Admit(ctx, tomorrow, 2, early))
	assert.Equal(t, 1, early.Token)
	again := &model.Booking{ID: "again", CapacityUnitID: liveKey.UnitID, QueueDay: liveKey.Day, Status: model.StatusPending}
	require.NoError(t, s.Admit(ctx, liveKey, 2, again))
	assert.Equal(t, 2, again.Token)

	set, err := s.ActiveSet(ctx, tomorrow)
	require.NoError(t, err)
	assert.Equal(t, liveKey.Pool(), set.Key)
	require.Len(t, set.Bookings, 2)
}

func TestMemoryUpdateNoChangeKeepsRevision(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Admit(ctx, liveKey, 1, &model.Booking{ID: "a", CapacityUnitID: liveKey.UnitID, QueueDay: liveKey.Day, Status: model.StatusPending}))
	before, _ := s.ActiveSet(ctx, liveKey)

	got, err := s.UpdateBooking(ctx, "a", func(*model.Booking) error { return ErrNoChange })
	assert.ErrorIs(t, err, ErrNoChange)
	require.NotNil(t, got)
	assert.Equal(t, model.StatusPending, got.Status)

	after, _ := s.ActiveSet(ctx, liveKey)
	assert.Equal(t, before.Revision, after.Revision)

	_, err = s.UpdateBooking(ctx, "missing", func(*model.Booking) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemorySlotUsage(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	nine := model.QueueKey{UnitID: "u2", SlotID: "2026-10-19T09:00", Day: "2026-10-19"}
	ten := model.QueueKey{UnitID: "u2", SlotID: "2026-10-19T10:00", Day: "2026-10-19"}
	other := model.QueueKey{UnitID: "u2", SlotID: "2026-10-20T09:00", Day: "2026-10-20"}

	for i, k := range []model.QueueKey{nine, nine, ten, other} {
		b := &model.Booking{ID: fmt.Sprintf("b-%d", i), CapacityUnitID: k.UnitID, SlotID: k.SlotID, QueueDay: k.Day, Status: model.StatusPending}
		require.NoError(t, s.Admit(ctx, k, 3, b))
	}

	usage, err := s.SlotUsage(ctx, "u2", "2026-10-19")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"2026-10-19T09:00": 2, "2026-10-19T10:00": 1}, usage)
}

func TestMemoryUnitLookup(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.Error(t, s.PutUnit(model.CapacityUnit{ID: "bad", Mode: model.ModeLive}))
	require.NoError(t, s.PutUnit(model.CapacityUnit{ID: "u1", BusinessID: "b1", DepartmentID: "desk", Mode: model.ModeLive, Capacity: 4, Active: true}))

	u, err := s.Unit(ctx, "b1", "desk")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)

	_, err = s.Unit(ctx, "b1", "other")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.UnitByID(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
