package scheduling

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/token-queue/internal/model"
)

// flakyAdmitter reports a conflict for the first n calls, then admits.
type flakyAdmitter struct {
	conflicts int
	calls     int
	next      int
	err       error
}

func (f *flakyAdmitter) Admit(_ context.Context, _ model.QueueKey, _ int, b *model.Booking) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	if f.calls <= f.conflicts {
		return ErrConflict
	}
	f.next++
	b.Token = f.next
	return nil
}

func TestAllocatorRetriesConflicts(t *testing.T) {
	store := &flakyAdmitter{conflicts: 3}
	a := NewAllocator(store, 5, nil)
	a.backoff = 0

	token, err := a.Allocate(context.Background(), model.QueueKey{UnitID: "u", Day: "2026-10-19"}, 1, &model.Booking{ID: "b"})
	require.NoError(t, err)
	assert.Equal(t, 1, token)
	assert.Equal(t, 4, store.calls)
}

func TestAllocatorGivesUpAfterMaxRetries(t *testing.T) {
	store := &flakyAdmitter{conflicts: 100}
	a := NewAllocator(store, 2, nil)
	a.backoff = 0

	_, err := a.Allocate(context.Background(), model.QueueKey{UnitID: "u", Day: "2026-10-19"}, 1, &model.Booking{ID: "b"})
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 3, store.calls)
}

func TestAllocatorDoesNotRetryBusinessOutcomes(t *testing.T) {
	for _, want := range []error{ErrCapacityExceeded, errors.New("disk on fire")} {
		store := &flakyAdmitter{err: want}
		a := NewAllocator(store, 5, nil)
		_, err := a.Allocate(context.Background(), model.QueueKey{UnitID: "u", Day: "d"}, 1, &model.Booking{ID: "b"})
		assert.ErrorIs(t, err, want)
		assert.Equal(t, 1, store.calls)
	}
}

func TestAllocatorStopsOnCancel(t *testing.T) {
	store := &flakyAdmitter{conflicts: 100}
	a := NewAllocator(store, 5, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Allocate(ctx, model.QueueKey{UnitID: "u", Day: "d"}, 1, &model.Booking{ID: "b"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, store.calls)
}
