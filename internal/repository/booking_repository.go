package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/token-queue/internal/model"
)

// BookingRepo provides persistence for the bookings table.  Bookings are
// never deleted; terminal rows stay for history.  All timestamp columns
// are stored in UTC.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a new BookingRepo bound to the given database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

const bookingColumns = `id, unit_id, slot_id, queue_day, token, status,
                        customer_name, customer_phone, customer_email, notes,
                        scheduled_at, created_at, confirmed_at, checked_in_at, started_at,
                        completed_at, cancelled_at, no_show_at`

// activeStatuses is the SQL list of statuses that count toward capacity.
var activeStatuses = "'" + strings.Join([]string{
	string(model.StatusPending), string(model.StatusConfirmed),
	string(model.StatusCheckedIn), string(model.StatusInProgress),
}, "','") + "'"

// CreateTx inserts a booking within the caller's transaction.  The token
// must already be assigned.
func (r *BookingRepo) CreateTx(ctx context.Context, tx *sql.Tx, b *model.Booking) error {
	const q = `INSERT INTO bookings (id, unit_id, slot_id, queue_day, queue_key, token, status,
                                     customer_name, customer_phone, customer_email, notes,
                                     scheduled_at, created_at, confirmed_at)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q,
		b.ID, b.CapacityUnitID, b.SlotID, b.QueueDay, b.Key().String(), b.Token, string(b.Status),
		b.Customer.Name, b.Customer.Phone, b.Customer.Email, b.Notes,
		b.ScheduledAt.UTC(), b.CreatedAt.UTC(), nullTime(b.ConfirmedAt))
	return err
}

// GetByID returns the booking with the given id or ErrNotFound.
func (r *BookingRepo) GetByID(ctx context.Context, id string) (*model.Booking, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	return scanBooking(row)
}

// GetForUpdateTx reads and row-locks a booking until the transaction ends.
func (r *BookingRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id string) (*model.Booking, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ? FOR UPDATE`, id)
	return scanBooking(row)
}

// UpdateTx writes the status and lifecycle timestamps of b.
func (r *BookingRepo) UpdateTx(ctx context.Context, tx *sql.Tx, b *model.Booking) error {
	const q = `UPDATE bookings
                  SET status = ?, confirmed_at = ?, checked_in_at = ?, started_at = ?,
                      completed_at = ?, cancelled_at = ?, no_show_at = ?
                WHERE id = ?`
	_, err := tx.ExecContext(ctx, q, string(b.Status),
		nullTime(b.ConfirmedAt), nullTime(b.CheckedInAt), nullTime(b.StartedAt),
		nullTime(b.CompletedAt), nullTime(b.CancelledAt), nullTime(b.NoShowAt), b.ID)
	return err
}

// ListActiveTx returns the active bookings of a capacity pool ordered by
// queue day and token.  A live pool has an empty slot id and spans days.
func (r *BookingRepo) ListActiveTx(ctx context.Context, tx *sql.Tx, pool model.QueueKey) ([]model.Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings
          WHERE unit_id = ? AND slot_id = ? AND status IN (` + activeStatuses + `)
          ORDER BY queue_day, token`
	rows, err := tx.QueryContext(ctx, q, pool.UnitID, pool.SlotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*model.Booking, error) {
	var b model.Booking
	var status string
	var email, notes sql.NullString
	var confirmed, checkedIn, started, completed, cancelled, noShow sql.NullTime
	err := row.Scan(&b.ID, &b.CapacityUnitID, &b.SlotID, &b.QueueDay, &b.Token, &status,
		&b.Customer.Name, &b.Customer.Phone, &email, &notes,
		&b.ScheduledAt, &b.CreatedAt, &confirmed, &checkedIn, &started,
		&completed, &cancelled, &noShow)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	b.Status = model.Status(status)
	b.Customer.Email = email.String
	b.Notes = notes.String
	b.ConfirmedAt = timePtr(confirmed)
	b.CheckedInAt = timePtr(checkedIn)
	b.StartedAt = timePtr(started)
	b.CompletedAt = timePtr(completed)
	b.CancelledAt = timePtr(cancelled)
	b.NoShowAt = timePtr(noShow)
	return &b, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
