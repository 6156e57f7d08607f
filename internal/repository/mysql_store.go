package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/token-queue/internal/model"
)

// MySQLStore is the durable store backed by MySQL.  Admission and booking
// creation commit in one transaction, so a failed or timed-out request
// never leaves capacity reserved without a booking row.
type MySQLStore struct {
	db       *sql.DB
	units    *CapacityUnitRepo
	counters *QueueCounterRepo
	bookings *BookingRepo
}

// NewMySQLStore wires the table repositories around a single database.
func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{
		db:       db,
		units:    NewCapacityUnitRepo(db),
		counters: NewQueueCounterRepo(db),
		bookings: NewBookingRepo(db),
	}
}

// Unit looks up the capacity unit of a business department.
func (s *MySQLStore) Unit(ctx context.Context, businessID, departmentID string) (*model.CapacityUnit, error) {
	return s.units.GetByDepartment(ctx, businessID, departmentID)
}

// UnitByID looks up a capacity unit by its identifier.
func (s *MySQLStore) UnitByID(ctx context.Context, unitID string) (*model.CapacityUnit, error) {
	return s.units.GetByID(ctx, unitID)
}

// Booking returns the booking with the given id.
func (s *MySQLStore) Booking(ctx context.Context, id string) (*model.Booking, error) {
	return s.bookings.GetByID(ctx, id)
}

// Admit performs the conditional increment on the capacity pool of key,
// draws the next token of key's sequence and inserts b with it, all in one
// transaction.  It returns ErrCapacityExceeded when the pool is full and
// ErrConflict when another admission committed between the read and the
// versioned update.
func (s *MySQLStore) Admit(ctx context.Context, key model.QueueKey, capacity int, b *model.Booking) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
		err = translateTxError(err)
	}()

	pool := key.Pool()
	if err := s.counters.EnsureTx(ctx, tx, pool); err != nil {
		return err
	}
	if !key.IsPool() {
		if err := s.counters.EnsureTx(ctx, tx, key); err != nil {
			return err
		}
	}
	rec, err := s.counters.GetTx(ctx, tx, pool)
	if err != nil {
		return err
	}
	if rec.ActiveCount >= capacity {
		return ErrCapacityExceeded
	}
	if err := s.counters.ReserveTx(ctx, tx, pool, rec.Version); err != nil {
		return err
	}
	token, err := s.counters.NextTokenTx(ctx, tx, key)
	if err != nil {
		return err
	}
	b.Token = token
	if err := s.bookings.CreateTx(ctx, tx, b); err != nil {
		b.Token = 0
		return err
	}
	if err := tx.Commit(); err != nil {
		b.Token = 0
		return err
	}
	committed = true
	return nil
}

// UpdateBooking locks the booking row, applies mutate and writes the
// result.  The pool counter's version is bumped in the same transaction,
// and one unit of capacity is released when the booking leaves the active
// set.
func (s *MySQLStore) UpdateBooking(ctx context.Context, id string, mutate MutateFunc) (_ *model.Booking, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
		err = translateTxError(err)
	}()

	cur, err := s.bookings.GetForUpdateTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	prev := *cur
	if err := mutate(cur); err != nil {
		if errors.Is(err, ErrNoChange) {
			return &prev, ErrNoChange
		}
		return nil, err
	}
	if err := s.bookings.UpdateTx(ctx, tx, cur); err != nil {
		return nil, err
	}
	release := prev.Status.IsActive() && !cur.Status.IsActive()
	if err := s.counters.TouchTx(ctx, tx, cur.Key().Pool(), release); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return cur, nil
}

// ActiveSet reads the active bookings of key's pool and its counter
// revision from a single repeatable-read snapshot.
func (s *MySQLStore) ActiveSet(ctx context.Context, key model.QueueKey) (*ActiveSet, error) {
	key = key.Pool()
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rev, err := s.counters.RevisionTx(ctx, tx, key)
	if err != nil {
		return nil, err
	}
	bookings, err := s.bookings.ListActiveTx(ctx, tx, key)
	if err != nil {
		return nil, err
	}
	return &ActiveSet{Key: key, Bookings: bookings, Revision: rev}, nil
}

// SlotUsage returns the active count of every slot of a unit on a date.
func (s *MySQLStore) SlotUsage(ctx context.Context, unitID, day string) (map[string]int, error) {
	return s.counters.UsageByDay(ctx, unitID, day)
}
