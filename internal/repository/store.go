package repository

import "github.com/iliyamo/token-queue/internal/model"

// ActiveSet is a consistent read of one queue: its active bookings in
// token order together with the counter revision they were read at.  The
// revision grows on every committed admission or transition in the queue,
// so two ActiveSets of the same key can be ordered by freshness.
type ActiveSet struct {
	Key      model.QueueKey
	Bookings []model.Booking
	Revision int64
}

// MutateFunc edits a booking in place inside the store's per-booking
// atomic section.  Returning an error aborts the update; returning
// ErrNoChange aborts it without treating it as a failure.
type MutateFunc func(b *model.Booking) error
