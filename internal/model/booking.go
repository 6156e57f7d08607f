package model

import "time"

// Status is the lifecycle state of a booking.  The set is closed; any
// other string is rejected by ParseStatus.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusCheckedIn  Status = "checked-in"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no-show"
)

// String implements fmt.Stringer.
func (s Status) String() string { return string(s) }

// IsValid reports whether s is one of the known statuses.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCheckedIn, StatusInProgress,
		StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// IsActive reports whether a booking in this status counts toward its
// queue's active set and capacity.
func (s Status) IsActive() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCheckedIn, StatusInProgress:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// ParseStatus converts raw input into a Status.
func ParseStatus(raw string) (Status, bool) {
	s := Status(raw)
	return s, s.IsValid()
}

// Actor is the role of whoever drives a transition.  Authentication is
// done upstream; the engine trusts the value it is given.
type Actor string

const (
	ActorCustomer Actor = "customer"
	ActorBusiness Actor = "business"
)

// Customer holds the contact details captured with a booking.
type Customer struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
}

// Booking is one customer's reservation in a queue.  Token is assigned
// once at admission and never changes.  Position and
// EstimatedWaitMinutes are derived from the queue's active set and are
// filled in by the tracker on read; they are not persisted.
//
// ScheduledAt is the slot start for slotted bookings and the estimated
// service time computed at admission for live bookings.  It anchors the
// no-show grace period.
type Booking struct {
	ID                   string     `json:"id"`
	CapacityUnitID       string     `json:"capacity_unit_id"`
	SlotID               string     `json:"slot_id,omitempty"`
	QueueDay             string     `json:"queue_day"`
	Customer             Customer   `json:"customer"`
	Notes                string     `json:"notes,omitempty"`
	Token                int        `json:"token"`
	Status               Status     `json:"status"`
	ScheduledAt          time.Time  `json:"scheduled_at"`
	CreatedAt            time.Time  `json:"created_at"`
	ConfirmedAt          *time.Time `json:"confirmed_at,omitempty"`
	CheckedInAt          *time.Time `json:"checked_in_at,omitempty"`
	StartedAt            *time.Time `json:"started_at,omitempty"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	CancelledAt          *time.Time `json:"cancelled_at,omitempty"`
	NoShowAt             *time.Time `json:"no_show_at,omitempty"`
	Position             int        `json:"position"`
	EstimatedWaitMinutes int        `json:"estimated_wait_minutes"`
}

// Key returns the queue the booking belongs to.
func (b *Booking) Key() QueueKey {
	return QueueKey{UnitID: b.CapacityUnitID, SlotID: b.SlotID, Day: b.QueueDay}
}
