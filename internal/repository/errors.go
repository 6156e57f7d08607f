// Package repository defines the durable store for capacity units, queue
// counters and bookings, along with error types that are reused across
// the store implementations.  These sentinel values allow higher layers
// such as the scheduling engine to distinguish between a legitimate
// business outcome (the queue is full) and a transient fault (a
// concurrent writer got there first).
package repository

import "errors"

// ErrNotFound is returned when a capacity unit or booking does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an optimistic version check fails because
// another writer committed first.  It is transient: the caller should
// re-read and retry.
var ErrConflict = errors.New("conflict")

// ErrCapacityExceeded is returned by Admit when the queue key already
// holds as many active bookings as its capacity allows.
var ErrCapacityExceeded = errors.New("capacity exceeded")

// ErrNoChange is returned by a mutate callback to signal that the booking
// is already in the requested state.  UpdateBooking then commits nothing
// and returns the current record alongside ErrNoChange.
var ErrNoChange = errors.New("no change")
