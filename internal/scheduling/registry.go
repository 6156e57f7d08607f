package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/jinzhu/now"

	"github.com/iliyamo/token-queue/internal/clock"
	"github.com/iliyamo/token-queue/internal/model"
)

// SlotRequest is the customer's choice of slot for a slotted unit.  Date
// is YYYY-MM-DD and Time is HH:MM in the unit's local timezone.
type SlotRequest struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

// Resolution is the outcome of resolving a booking request against the
// unit configuration.  Slot is nil for live units.
type Resolution struct {
	Unit *model.CapacityUnit
	Slot *model.Slot
	Key  model.QueueKey
}

// Registry answers which capacity unit and slot a request maps to.  Unit
// rows are cached for a short TTL since they are edited by the business
// side far less often than they are read.
type Registry struct {
	units UnitSource
	clock clock.Clock
	loc   *time.Location
	cache *ttlcache.Cache[string, model.CapacityUnit]
}

// NewRegistry returns a registry reading from units.  loc is the business
// timezone used when a unit carries none.  A ttl of zero disables caching.
func NewRegistry(units UnitSource, clk clock.Clock, loc *time.Location, ttl time.Duration) *Registry {
	if loc == nil {
		loc = time.UTC
	}
	r := &Registry{units: units, clock: clk, loc: loc}
	if ttl > 0 {
		r.cache = ttlcache.New[string, model.CapacityUnit](
			ttlcache.WithTTL[string, model.CapacityUnit](ttl),
			ttlcache.WithDisableTouchOnHit[string, model.CapacityUnit](),
		)
	}
	return r
}

// Run evicts expired unit rows until ctx is done.  It returns at once
// when caching is disabled.
func (r *Registry) Run(ctx context.Context) error {
	if r.cache == nil {
		return nil
	}
	go func() {
		<-ctx.Done()
		r.cache.Stop()
	}()
	r.cache.Start()
	return nil
}

func (r *Registry) lookup(cacheKey string, load func() (*model.CapacityUnit, error)) (*model.CapacityUnit, error) {
	if r.cache != nil {
		if item := r.cache.Get(cacheKey); item != nil {
			u := item.Value()
			return &u, nil
		}
	}
	u, err := load()
	if err != nil {
		return nil, err
	}
	if !u.Active {
		return nil, fmt.Errorf("%w: capacity unit %s is inactive", ErrNotFound, u.ID)
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}
	if r.cache != nil {
		r.cache.Set(cacheKey, *u, ttlcache.DefaultTTL)
	}
	return u, nil
}

// Department returns the active unit of a business department.
func (r *Registry) Department(ctx context.Context, businessID, departmentID string) (*model.CapacityUnit, error) {
	return r.lookup("dept:"+businessID+"/"+departmentID, func() (*model.CapacityUnit, error) {
		return r.units.Unit(ctx, businessID, departmentID)
	})
}

// Unit returns the active unit with the given id.
func (r *Registry) Unit(ctx context.Context, unitID string) (*model.CapacityUnit, error) {
	return r.lookup("unit:"+unitID, func() (*model.CapacityUnit, error) {
		return r.units.UnitByID(ctx, unitID)
	})
}

// Location is the timezone slot times and operating days are read in.
func (r *Registry) Location(u *model.CapacityUnit) *time.Location {
	return u.Location(r.loc)
}

// OperatingDay is the current calendar day of the unit.  Live tokens
// restart at 1 when it rolls over.
func (r *Registry) OperatingDay(u *model.CapacityUnit) string {
	t := r.clock.Now().In(r.Location(u))
	return now.With(t).BeginningOfDay().Format(model.DateLayout)
}

// Resolve maps a booking request onto a unit and, for slotted units, a
// slot.  Live units ignore req.  For slotted units a missing or malformed
// request is ErrInvalidSlot, a time outside the window or already past is
// ErrClosed, and a time inside the window but off the slot grid is
// ErrInvalidSlot.
func (r *Registry) Resolve(ctx context.Context, businessID, departmentID string, req *SlotRequest) (*Resolution, error) {
	u, err := r.Department(ctx, businessID, departmentID)
	if err != nil {
		return nil, err
	}
	if u.Mode == model.ModeLive {
		return &Resolution{Unit: u, Key: model.QueueKey{UnitID: u.ID, Day: r.OperatingDay(u)}}, nil
	}
	if req == nil || strings.TrimSpace(req.Date) == "" || strings.TrimSpace(req.Time) == "" {
		return nil, fmt.Errorf("%w: slot date and time are required", ErrInvalidSlot)
	}
	slot, err := r.slotAt(u, strings.TrimSpace(req.Date), strings.TrimSpace(req.Time))
	if err != nil {
		return nil, err
	}
	if !slot.StartsAt.After(r.clock.Now()) {
		return nil, fmt.Errorf("%w: slot %s has already started", ErrClosed, slot.ID)
	}
	return &Resolution{Unit: u, Slot: slot, Key: model.QueueKey{UnitID: u.ID, SlotID: slot.ID, Day: slot.Date}}, nil
}

// KeyFor returns the capacity pool a snapshot of the unit is read from.
// Live units have one pool spanning all days and reject a slot id; slotted
// units require one that lies on the unit's slot grid.
func (r *Registry) KeyFor(u *model.CapacityUnit, slotID string) (model.QueueKey, error) {
	if u.Mode == model.ModeLive {
		if slotID != "" {
			return model.QueueKey{}, fmt.Errorf("%w: unit %s has no slots", ErrInvalidSlot, u.ID)
		}
		return model.QueueKey{UnitID: u.ID}, nil
	}
	if slotID == "" {
		return model.QueueKey{}, fmt.Errorf("%w: slot id is required", ErrInvalidSlot)
	}
	date, clk, err := model.ParseSlotID(slotID)
	if err != nil {
		return model.QueueKey{}, fmt.Errorf("%w: %v", ErrInvalidSlot, err)
	}
	slot, err := r.slotAt(u, date, clk)
	if err != nil {
		return model.QueueKey{}, err
	}
	return model.QueueKey{UnitID: u.ID, SlotID: slot.ID, Day: slot.Date}, nil
}

// Slots lists every slot of a slotted unit on date, in start order.  A
// closed weekday yields no slots.  Booked counts are left at zero.
func (r *Registry) Slots(u *model.CapacityUnit, date string) ([]model.Slot, error) {
	if u.Mode != model.ModeSlotted {
		return nil, fmt.Errorf("%w: unit %s is not slotted", ErrInvalidSlot, u.ID)
	}
	day, err := time.ParseInLocation(model.DateLayout, date, r.Location(u))
	if err != nil {
		return nil, fmt.Errorf("%w: bad date %q", ErrInvalidSlot, date)
	}
	hours, ok := u.Window.Hours(day.Weekday())
	if !ok {
		return []model.Slot{}, nil
	}
	out := make([]model.Slot, 0, (hours.CloseMinute-hours.OpenMinute)/u.SlotDurationMinutes)
	for m := hours.OpenMinute; m+u.SlotDurationMinutes <= hours.CloseMinute; m += u.SlotDurationMinutes {
		out = append(out, r.makeSlot(u, day, m))
	}
	return out, nil
}

func (r *Registry) slotAt(u *model.CapacityUnit, date, clk string) (*model.Slot, error) {
	loc := r.Location(u)
	day, err := time.ParseInLocation(model.DateLayout, date, loc)
	if err != nil {
		return nil, fmt.Errorf("%w: bad date %q", ErrInvalidSlot, date)
	}
	tod, err := time.Parse(model.ClockLayout, clk)
	if err != nil {
		return nil, fmt.Errorf("%w: bad time %q", ErrInvalidSlot, clk)
	}
	minute := tod.Hour()*60 + tod.Minute()

	hours, ok := u.Window.Hours(day.Weekday())
	if !ok {
		return nil, fmt.Errorf("%w: unit %s does not open on %s", ErrClosed, u.ID, day.Weekday())
	}
	if !hours.Contains(minute) || minute+u.SlotDurationMinutes > hours.CloseMinute {
		return nil, fmt.Errorf("%w: %s %s is outside operating hours", ErrClosed, date, clk)
	}
	if (minute-hours.OpenMinute)%u.SlotDurationMinutes != 0 {
		return nil, fmt.Errorf("%w: %s is not a slot start", ErrInvalidSlot, clk)
	}
	s := r.makeSlot(u, day, minute)
	return &s, nil
}

// makeSlot builds the slot starting minute minutes after local midnight of
// day.  time.Date normalises the minute overflow and any DST gap.
func (r *Registry) makeSlot(u *model.CapacityUnit, day time.Time, minute int) model.Slot {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, minute, 0, 0, day.Location())
	end := time.Date(day.Year(), day.Month(), day.Day(), 0, minute+u.SlotDurationMinutes, 0, 0, day.Location())
	date := day.Format(model.DateLayout)
	return model.Slot{
		ID:       model.SlotID(date, start),
		UnitID:   u.ID,
		Date:     date,
		StartsAt: start,
		EndsAt:   end,
		Capacity: u.Capacity,
	}
}
