package model

import (
	"fmt"
	"sync"
	"time"
)

// Mode selects how a CapacityUnit is booked.
type Mode string

const (
	// ModeLive is a single open-ended queue served strictly in token order.
	ModeLive Mode = "live"
	// ModeSlotted partitions the unit into dated time slots, each with its
	// own capacity and token sequence.
	ModeSlotted Mode = "slotted"
)

// IsValid reports whether m is one of the known modes.
func (m Mode) IsValid() bool {
	return m == ModeLive || m == ModeSlotted
}

// DayHours is the open/close window of a single weekday expressed as
// minutes since local midnight.  Close is exclusive.
type DayHours struct {
	OpenMinute  int `json:"open_minute"`
	CloseMinute int `json:"close_minute"`
}

// Contains reports whether the minute-of-day m lies within the window.
func (h DayHours) Contains(m int) bool {
	return m >= h.OpenMinute && m < h.CloseMinute
}

// OperatingWindow maps each weekday to its opening hours.  A weekday with
// no entry is closed.
type OperatingWindow map[time.Weekday]DayHours

// Hours returns the opening hours of the given weekday and whether the
// unit opens at all on that day.
func (w OperatingWindow) Hours(day time.Weekday) (DayHours, bool) {
	h, ok := w[day]
	if !ok || h.CloseMinute <= h.OpenMinute {
		return DayHours{}, false
	}
	return h, true
}

// CapacityUnit represents a bookable department resource.  It is owned by
// the business-management side of the product and is only read here.
// This struct corresponds to a row in the `capacity_units` table joined
// with its `operating_hours`.
//
// Fields:
//  ID                    – primary key identifier.
//  BusinessID            – owning business.
//  DepartmentID          – department within the business.
//  Mode                  – live or slotted.
//  Capacity              – max concurrent active bookings (live) or per slot (slotted).
//  SlotDurationMinutes   – slot length, slotted mode only.
//  Window                – per-weekday opening hours, slotted mode only.
//  AverageServiceMinutes – minutes a single customer is expected to take.
//  AutoApprove           – new bookings start confirmed instead of pending.
//  Active                – inactive departments accept no bookings.
//  Timezone              – IANA zone of the business (empty = service default).
type CapacityUnit struct {
	ID                    string          `json:"id"`
	BusinessID            string          `json:"business_id"`
	DepartmentID          string          `json:"department_id"`
	Mode                  Mode            `json:"mode"`
	Capacity              int             `json:"capacity"`
	SlotDurationMinutes   int             `json:"slot_duration_minutes,omitempty"`
	Window                OperatingWindow `json:"operating_window,omitempty"`
	AverageServiceMinutes int             `json:"average_service_minutes"`
	AutoApprove           bool            `json:"auto_approve"`
	Active                bool            `json:"active"`
	Timezone              string          `json:"timezone,omitempty"`
}

// Validate checks the structural invariants of a unit's configuration.
func (u *CapacityUnit) Validate() error {
	if u.ID == "" {
		return fmt.Errorf("capacity unit: empty id")
	}
	if !u.Mode.IsValid() {
		return fmt.Errorf("capacity unit %s: unknown mode %q", u.ID, u.Mode)
	}
	if u.Capacity < 1 {
		return fmt.Errorf("capacity unit %s: capacity must be >= 1, got %d", u.ID, u.Capacity)
	}
	if u.Mode == ModeSlotted && u.SlotDurationMinutes < 1 {
		return fmt.Errorf("capacity unit %s: slotted mode requires a slot duration", u.ID)
	}
	return nil
}

// zones memoizes time.LoadLocation by name.  A nil value records a name
// that failed to load.
var zones sync.Map

func loadZone(name string) *time.Location {
	if v, ok := zones.Load(name); ok {
		return v.(*time.Location)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		loc = nil
	}
	v, _ := zones.LoadOrStore(name, loc)
	return v.(*time.Location)
}

// Location resolves the unit's timezone, falling back to def when the
// unit has none or it cannot be loaded.  Each zone is read from the
// tz database once per process.
func (u *CapacityUnit) Location(def *time.Location) *time.Location {
	if u.Timezone != "" {
		if loc := loadZone(u.Timezone); loc != nil {
			return loc
		}
	}
	if def == nil {
		return time.UTC
	}
	return def
}
