package model

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar date format used in slot and queue keys.
const DateLayout = "2006-01-02"

// ClockLayout is the time-of-day format used in slot identifiers.
const ClockLayout = "15:04"

// Slot is one dated, capacity-bounded subdivision of a slotted
// CapacityUnit.  Slots are derived from the unit's operating window and
// slot duration; they are never stored ad hoc.  Booked is the count of
// active bookings referencing the slot at read time.
type Slot struct {
	ID       string    `json:"id"`
	UnitID   string    `json:"capacity_unit_id"`
	Date     string    `json:"date"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
	Capacity int       `json:"capacity"`
	Booked   int       `json:"booked"`
}

// Available reports whether the slot still has room.
func (s Slot) Available() bool { return s.Booked < s.Capacity }

// SlotID builds the identifier of the slot starting at start on date.  The
// identifier is unique within a unit.
func SlotID(date string, start time.Time) string {
	return date + "T" + start.Format(ClockLayout)
}

// ParseSlotID splits a slot identifier into its date and HH:MM parts.
func ParseSlotID(id string) (date, clock string, err error) {
	date, clock, ok := strings.Cut(id, "T")
	if !ok {
		return "", "", fmt.Errorf("malformed slot id %q", id)
	}
	if _, err := time.Parse(DateLayout, date); err != nil {
		return "", "", fmt.Errorf("malformed slot id %q: %w", id, err)
	}
	if _, err := time.Parse(ClockLayout, clock); err != nil {
		return "", "", fmt.Errorf("malformed slot id %q: %w", id, err)
	}
	return date, clock, nil
}

// QueueKey identifies one token sequence.  For a live unit SlotID is empty
// and Day is the operating day, so tokens restart at 1 each day.  For a
// slotted unit Day is the slot's date.
//
// Capacity and the active set belong to the key's Pool, which for a live
// unit spans every operating day: a customer still being served after
// midnight keeps holding a place.
type QueueKey struct {
	UnitID string `json:"capacity_unit_id"`
	SlotID string `json:"slot_id,omitempty"`
	Day    string `json:"day,omitempty"`
}

// String renders the key in the form used by counter rows and cache keys.
func (k QueueKey) String() string {
	switch {
	case k.SlotID != "":
		return k.UnitID + "|" + k.SlotID
	case k.Day == "":
		return k.UnitID + "|live"
	}
	return k.UnitID + "|live|" + k.Day
}

// Pool returns the key capacity is counted against.  A slot is its own
// pool; a live unit has one pool with no day.
func (k QueueKey) Pool() QueueKey {
	if k.SlotID != "" {
		return k
	}
	return QueueKey{UnitID: k.UnitID}
}

// IsPool reports whether k already names a capacity pool.
func (k QueueKey) IsPool() bool { return k == k.Pool() }
