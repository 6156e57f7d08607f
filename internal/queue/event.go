// Package queue defines message payloads exchanged over the message broker
// and the consumer that records them.
package queue

import "time"

// EventType classifies a booking event for downstream consumers.
type EventType string

const (
	EventAdmitted   EventType = "booking.admitted"
	EventTransition EventType = "booking.transitioned"
)

// BookingEvent is published on every admission and on every transition
// that changes a queue's active set.  It carries enough information for
// the notification subsystem to tell the customer what changed without
// querying the primary database.  OldStatus is empty for admissions.
// Position is zero once the booking has left the active set.
type BookingEvent struct {
	Type                 EventType `json:"type"`
	BookingID            string    `json:"booking_id"`
	CapacityUnitID       string    `json:"capacity_unit_id"`
	SlotID               string    `json:"slot_id,omitempty"`
	QueueDay             string    `json:"queue_day"`
	Token                int       `json:"token"`
	OldStatus            string    `json:"old_status,omitempty"`
	NewStatus            string    `json:"new_status"`
	Position             int       `json:"position"`
	EstimatedWaitMinutes int       `json:"estimated_wait_minutes"`
	Timestamp            time.Time `json:"timestamp"`
}
