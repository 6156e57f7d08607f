package repository

import (
	"context"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/token-queue/internal/model"
)

var (
	liveKey  = model.QueueKey{UnitID: "u1", Day: "2026-10-19"}
	livePool = liveKey.Pool()
	slotKey  = model.QueueKey{UnitID: "u2", SlotID: "2026-10-19T09:30", Day: "2026-10-19"}
)

func newMockStore(t *testing.T) (*MySQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewMySQLStore(db), mock
}

func expectEnsure(mock sqlmock.Sqlmock, key model.QueueKey) {
	mock.ExpectExec(regexp.QuoteMeta(`INSERT IGNORE INTO queue_counters`)).
		WithArgs(key.String(), key.UnitID, key.SlotID, key.Day).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

// expectCounter expects the live pool and day rows to be created and the
// pool row to be read.
func expectCounter(mock sqlmock.Sqlmock, active int, version int64) {
	expectEnsure(mock, livePool)
	expectEnsure(mock, liveKey)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT last_token, active_count, version FROM queue_counters`)).
		WithArgs(livePool.String()).
		WillReturnRows(sqlmock.NewRows([]string{"last_token", "active_count", "version"}).
			AddRow(0, active, version))
}

func newBooking() *model.Booking {
	now := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	return &model.Booking{
		ID:             "b-1",
		CapacityUnitID: liveKey.UnitID,
		QueueDay:       liveKey.Day,
		Customer:       model.Customer{Name: "ana", Phone: "+15550100"},
		Status:         model.StatusConfirmed,
		ScheduledAt:    now,
		CreatedAt:      now,
		ConfirmedAt:    &now,
	}
}

func TestMySQLAdmitAssignsNextToken(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	expectCounter(mock, 1, 7)
	mock.ExpectExec(`UPDATE queue_counters\s+SET active_count = active_count \+ 1`).
		WithArgs(livePool.String(), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`SET last_token = LAST_INSERT_ID(last_token + 1)`)).
		WithArgs(liveKey.String()).
		WillReturnResult(sqlmock.NewResult(5, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO bookings`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	b := newBooking()
	require.NoError(t, s.Admit(context.Background(), liveKey, 2, b))
	assert.Equal(t, 5, b.Token)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLAdmitSlotUsesOneRow(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	expectEnsure(mock, slotKey)
	mock.ExpectQuery(`SELECT last_token, active_count, version FROM queue_counters`).
		WithArgs(slotKey.String()).
		WillReturnRows(sqlmock.NewRows([]string{"last_token", "active_count", "version"}).AddRow(2, 2, 4))
	mock.ExpectExec(`SET active_count = active_count \+ 1`).
		WithArgs(slotKey.String(), int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`LAST_INSERT_ID`).
		WithArgs(slotKey.String()).
		WillReturnResult(sqlmock.NewResult(3, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO bookings`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	b := newBooking()
	b.CapacityUnitID, b.SlotID = slotKey.UnitID, slotKey.SlotID
	require.NoError(t, s.Admit(context.Background(), slotKey, 3, b))
	assert.Equal(t, 3, b.Token)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLAdmitRejectsFullQueue(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	expectCounter(mock, 2, 7)
	mock.ExpectRollback()

	b := newBooking()
	err := s.Admit(context.Background(), liveKey, 2, b)
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Zero(t, b.Token)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLAdmitReportsVersionConflict(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	expectCounter(mock, 1, 7)
	mock.ExpectExec(`UPDATE queue_counters`).
		WithArgs(livePool.String(), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.Admit(context.Background(), liveKey, 2, newBooking())
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLAdmitMapsDeadlockToConflict(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	expectCounter(mock, 0, 0)
	mock.ExpectExec(`UPDATE queue_counters`).
		WillReturnError(&mysql.MySQLError{Number: 1213, Message: "Deadlock found"})
	mock.ExpectRollback()

	err := s.Admit(context.Background(), liveKey, 2, newBooking())
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func bookingValues(b *model.Booking) []driver.Value {
	ts := func(t *time.Time) driver.Value {
		if t == nil {
			return nil
		}
		return *t
	}
	return []driver.Value{b.ID, b.CapacityUnitID, b.SlotID, b.QueueDay, b.Token, string(b.Status),
		b.Customer.Name, b.Customer.Phone, nil, nil,
		b.ScheduledAt, b.CreatedAt, ts(b.ConfirmedAt), ts(b.CheckedInAt), ts(b.StartedAt),
		ts(b.CompletedAt), ts(b.CancelledAt), ts(b.NoShowAt)}
}

func bookingRow(b *model.Booking) *sqlmock.Rows {
	cols := []string{"id", "unit_id", "slot_id", "queue_day", "token", "status",
		"customer_name", "customer_phone", "customer_email", "notes",
		"scheduled_at", "created_at", "confirmed_at", "checked_in_at", "started_at",
		"completed_at", "cancelled_at", "no_show_at"}
	return sqlmock.NewRows(cols).AddRow(bookingValues(b)...)
}

func TestMySQLUpdateBookingReleasesCapacity(t *testing.T) {
	s, mock := newMockStore(t)
	cur := newBooking()
	cur.Token = 3

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM bookings WHERE id = \? FOR UPDATE`).WithArgs(cur.ID).WillReturnRows(bookingRow(cur))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE bookings`)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE queue_counters SET active_count = active_count - ?`)).
		WithArgs(1, livePool.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	got, err := s.UpdateBooking(context.Background(), cur.ID, func(b *model.Booking) error {
		now := time.Date(2026, 10, 19, 8, 5, 0, 0, time.UTC)
		b.Status = model.StatusCancelled
		b.CancelledAt = &now
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, got.Status)
	assert.Equal(t, 3, got.Token)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLUpdateBookingNoChangeRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	cur := newBooking()
	cur.Status = model.StatusCancelled

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs(cur.ID).WillReturnRows(bookingRow(cur))
	mock.ExpectRollback()

	got, err := s.UpdateBooking(context.Background(), cur.ID, func(*model.Booking) error { return ErrNoChange })
	assert.ErrorIs(t, err, ErrNoChange)
	require.NotNil(t, got)
	assert.Equal(t, model.StatusCancelled, got.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLActiveSetSpansLiveDays(t *testing.T) {
	s, mock := newMockStore(t)
	late := newBooking()
	late.QueueDay, late.Token, late.Status = "2026-10-18", 9, model.StatusInProgress
	early := newBooking()
	early.ID, early.Token = "b-2", 1

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT last_token, active_count, version FROM queue_counters`).
		WithArgs(livePool.String()).
		WillReturnRows(sqlmock.NewRows([]string{"last_token", "active_count", "version"}).AddRow(0, 2, 11))
	mock.ExpectQuery(`WHERE unit_id = \? AND slot_id = \? AND status IN .* ORDER BY queue_day, token`).
		WithArgs(liveKey.UnitID, "").
		WillReturnRows(bookingRow(late).AddRow(bookingValues(early)...))
	mock.ExpectRollback()

	set, err := s.ActiveSet(context.Background(), liveKey)
	require.NoError(t, err)
	assert.Equal(t, livePool, set.Key)
	assert.Equal(t, int64(11), set.Revision)
	require.Len(t, set.Bookings, 2)
	assert.Equal(t, "2026-10-18", set.Bookings[0].QueueDay)
	assert.Equal(t, 1, set.Bookings[1].Token)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLBookingNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`FROM bookings WHERE id = \?`).WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.Booking(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLUnitLoadsOperatingHours(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`FROM capacity_units WHERE business_id = \? AND department_id = \?`).
		WithArgs("b1", "consult").
		WillReturnRows(sqlmock.NewRows([]string{"id", "business_id", "department_id", "mode", "capacity",
			"slot_duration_minutes", "average_service_minutes", "auto_approve", "is_active", "timezone"}).
			AddRow("u2", "b1", "consult", "slotted", 3, 30, 15, false, true, "Europe/Berlin"))
	mock.ExpectQuery(`FROM operating_hours WHERE unit_id = \?`).WithArgs("u2").
		WillReturnRows(sqlmock.NewRows([]string{"weekday", "open_minute", "close_minute"}).
			AddRow(1, 540, 720).
			AddRow(2, 540, 720))

	u, err := s.Unit(context.Background(), "b1", "consult")
	require.NoError(t, err)
	assert.Equal(t, model.ModeSlotted, u.Mode)
	assert.Equal(t, "Europe/Berlin", u.Timezone)
	h, ok := u.Window.Hours(time.Monday)
	require.True(t, ok)
	assert.Equal(t, model.DayHours{OpenMinute: 540, CloseMinute: 720}, h)
	_, ok = u.Window.Hours(time.Sunday)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
