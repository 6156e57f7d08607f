package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/token-queue/internal/model"
)

// CapacityUnitRepo reads department configuration from the
// capacity_units and operating_hours tables.  The rows are maintained by
// the business-management side; this repository never writes them.
type CapacityUnitRepo struct {
	db *sql.DB
}

// NewCapacityUnitRepo returns a new CapacityUnitRepo bound to the given database.
func NewCapacityUnitRepo(db *sql.DB) *CapacityUnitRepo { return &CapacityUnitRepo{db: db} }

const unitColumns = `id, business_id, department_id, mode, capacity, slot_duration_minutes,
                     average_service_minutes, auto_approve, is_active, timezone`

// GetByDepartment loads the unit configured for a business department.
// It returns ErrNotFound when no such department exists.
func (r *CapacityUnitRepo) GetByDepartment(ctx context.Context, businessID, departmentID string) (*model.CapacityUnit, error) {
	q := `SELECT ` + unitColumns + ` FROM capacity_units WHERE business_id = ? AND department_id = ?`
	return r.load(ctx, r.db.QueryRowContext(ctx, q, businessID, departmentID))
}

// GetByID loads a unit by primary key.  It returns ErrNotFound when the
// row does not exist.
func (r *CapacityUnitRepo) GetByID(ctx context.Context, unitID string) (*model.CapacityUnit, error) {
	q := `SELECT ` + unitColumns + ` FROM capacity_units WHERE id = ?`
	return r.load(ctx, r.db.QueryRowContext(ctx, q, unitID))
}

func (r *CapacityUnitRepo) load(ctx context.Context, row *sql.Row) (*model.CapacityUnit, error) {
	var u model.CapacityUnit
	var mode string
	var tz sql.NullString
	err := row.Scan(&u.ID, &u.BusinessID, &u.DepartmentID, &mode, &u.Capacity, &u.SlotDurationMinutes,
		&u.AverageServiceMinutes, &u.AutoApprove, &u.Active, &tz)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.Mode = model.Mode(mode)
	if tz.Valid {
		u.Timezone = tz.String
	}
	if u.Mode == model.ModeSlotted {
		w, err := r.window(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		u.Window = w
	}
	return &u, nil
}

// window loads the per-weekday opening hours of a unit.  Weekdays are
// stored 0=Sunday..6=Saturday to match time.Weekday.
func (r *CapacityUnitRepo) window(ctx context.Context, unitID string) (model.OperatingWindow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT weekday, open_minute, close_minute FROM operating_hours WHERE unit_id = ?`, unitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	w := make(model.OperatingWindow)
	for rows.Next() {
		var day, open, closeMin int
		if err := rows.Scan(&day, &open, &closeMin); err != nil {
			return nil, err
		}
		w[time.Weekday(day)] = model.DayHours{OpenMinute: open, CloseMinute: closeMin}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return w, nil
}
