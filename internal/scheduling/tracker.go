package scheduling

import (
	"context"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/token-queue/internal/clock"
	"github.com/iliyamo/token-queue/internal/metrics"
	"github.com/iliyamo/token-queue/internal/model"
)

// DefaultServiceMinutes is used when a unit has no average service time.
const DefaultServiceMinutes = 10

// Position is one active booking's place in its queue.
type Position struct {
	BookingID            string       `json:"booking_id"`
	QueueDay             string       `json:"queue_day,omitempty"`
	Token                int          `json:"token"`
	Status               model.Status `json:"status"`
	Position             int          `json:"position"`
	EstimatedWaitMinutes int          `json:"estimated_wait_minutes"`
}

// Snapshot is the ranked active set of one capacity pool.  Revision
// increases with every change committed to the pool, so two snapshots of
// the same key can be ordered without comparing their contents.
type Snapshot struct {
	Key                   model.QueueKey `json:"key"`
	Revision              int64          `json:"revision"`
	AverageServiceMinutes int            `json:"average_service_minutes"`
	Entries               []Position     `json:"entries"`
	GeneratedAt           time.Time      `json:"generated_at"`
}

// Find returns the entry of the given booking.
func (s *Snapshot) Find(bookingID string) (Position, bool) {
	for _, p := range s.Entries {
		if p.BookingID == bookingID {
			return p, true
		}
	}
	return Position{}, false
}

// Rank orders active bookings by queue day, then token, and assigns
// 1-based positions.  A live customer admitted before midnight stays ahead
// of the new day's tokens.  The wait estimate of position p is (p-1)*avg
// minutes.  Rank has no side effects; recomputing the same input always
// yields the same output.
func Rank(bookings []model.Booking, avg int) []Position {
	sorted := slices.Clone(bookings)
	slices.SortFunc(sorted, func(a, b model.Booking) int {
		if c := strings.Compare(a.QueueDay, b.QueueDay); c != 0 {
			return c
		}
		return a.Token - b.Token
	})

	out := make([]Position, 0, len(sorted))
	for _, b := range sorted {
		if !b.Status.IsActive() {
			continue
		}
		p := len(out) + 1
		out = append(out, Position{
			BookingID:            b.ID,
			QueueDay:             b.QueueDay,
			Token:                b.Token,
			Status:               b.Status,
			Position:             p,
			EstimatedWaitMinutes: (p - 1) * avg,
		})
	}
	return out
}

// Tracker derives queue positions and wait estimates from the store and
// publishes them to the snapshot cache.
type Tracker struct {
	store      ActiveSetReader
	units      *Registry
	cache      SnapshotCache
	clock      clock.Clock
	defaultAvg int
	logger     *zap.Logger
}

// NewTracker wires a tracker.  cache may be nil.
func NewTracker(store ActiveSetReader, units *Registry, cache SnapshotCache, clk clock.Clock, defaultAvg int, logger *zap.Logger) *Tracker {
	if defaultAvg <= 0 {
		defaultAvg = DefaultServiceMinutes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: store, units: units, cache: cache, clock: clk, defaultAvg: defaultAvg, logger: logger}
}

func (t *Tracker) average(u *model.CapacityUnit) int {
	if u == nil || u.AverageServiceMinutes <= 0 {
		return t.defaultAvg
	}
	return u.AverageServiceMinutes
}

// Recompute reads the active set of key's pool from the store and ranks
// it.  The result is offered to the cache, which keeps it only if no newer
// revision is already there.
func (t *Tracker) Recompute(ctx context.Context, key model.QueueKey) (*Snapshot, error) {
	key = key.Pool()
	start := time.Now()
	defer func() { metrics.RecomputeSeconds.Observe(time.Since(start).Seconds()) }()

	// An inactive unit still has bookings worth ranking; fall back to the
	// default average when its row can't be read.
	u, _ := t.units.Unit(ctx, key.UnitID)
	set, err := t.store.ActiveSet(ctx, key)
	if err != nil {
		return nil, err
	}
	avg := t.average(u)
	snap := &Snapshot{
		Key:                   key,
		Revision:              set.Revision,
		AverageServiceMinutes: avg,
		Entries:               Rank(set.Bookings, avg),
		GeneratedAt:           t.clock.Now(),
	}
	if t.cache != nil {
		if err := t.cache.Put(ctx, snap); err != nil {
			t.logger.Warn("snapshot cache write failed",
				zap.String("queue_key", key.String()), zap.Error(err))
		}
	}
	return snap, nil
}

// Snapshot returns the cached snapshot of key's pool when there is one
// and recomputes it otherwise.
func (t *Tracker) Snapshot(ctx context.Context, key model.QueueKey) (*Snapshot, error) {
	key = key.Pool()
	if t.cache != nil {
		if snap, ok := t.cache.Get(ctx, key); ok {
			return snap, nil
		}
	}
	return t.Recompute(ctx, key)
}
