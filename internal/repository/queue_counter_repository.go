package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/token-queue/internal/model"
)

// QueueCounterRecord mirrors a row of the queue_counters table.  A row
// keyed by a token sequence holds the last token handed out; a row keyed
// by a capacity pool holds the number of active bookings and a version used
// for optimistic concurrency control.  A slot is both, so its row carries
// all three.
type QueueCounterRecord struct {
	QueueKey    string
	LastToken   int
	ActiveCount int
	Version     int64
}

// QueueCounterRepo provides the conditional-increment primitive that
// serializes admission per queue key.  All writes happen inside a
// transaction supplied by the caller.
type QueueCounterRepo struct {
	db *sql.DB
}

// NewQueueCounterRepo returns a new QueueCounterRepo bound to the given database.
func NewQueueCounterRepo(db *sql.DB) *QueueCounterRepo { return &QueueCounterRepo{db: db} }

// EnsureTx creates the counter row for key if it does not exist yet.
func (r *QueueCounterRepo) EnsureTx(ctx context.Context, tx *sql.Tx, key model.QueueKey) error {
	_, err := tx.ExecContext(ctx,
		`INSERT IGNORE INTO queue_counters (queue_key, unit_id, slot_id, queue_day) VALUES (?, ?, ?, ?)`,
		key.String(), key.UnitID, key.SlotID, key.Day)
	return err
}

// GetTx reads the counter row for key within the transaction.
func (r *QueueCounterRepo) GetTx(ctx context.Context, tx *sql.Tx, key model.QueueKey) (QueueCounterRecord, error) {
	rec := QueueCounterRecord{QueueKey: key.String()}
	err := tx.QueryRowContext(ctx,
		`SELECT last_token, active_count, version FROM queue_counters WHERE queue_key = ?`,
		rec.QueueKey).Scan(&rec.LastToken, &rec.ActiveCount, &rec.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, nil
	}
	return rec, err
}

// ReserveTx takes one unit of capacity from the pool row only if it is
// still at expectVersion.  It returns ErrConflict when another transaction
// committed in between.
func (r *QueueCounterRepo) ReserveTx(ctx context.Context, tx *sql.Tx, pool model.QueueKey, expectVersion int64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE queue_counters
            SET active_count = active_count + 1, version = version + 1
          WHERE queue_key = ? AND version = ?`,
		pool.String(), expectVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// NextTokenTx increments the sequence row of key and returns the new
// token.  LAST_INSERT_ID(expr) hands the value back on the same statement.
func (r *QueueCounterRepo) NextTokenTx(ctx context.Context, tx *sql.Tx, key model.QueueKey) (int, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE queue_counters SET last_token = LAST_INSERT_ID(last_token + 1) WHERE queue_key = ?`,
		key.String())
	if err != nil {
		return 0, err
	}
	token, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return int(token), nil
}

// TouchTx bumps the version of a pool row and, when release is true,
// returns one unit of capacity to it.
func (r *QueueCounterRepo) TouchTx(ctx context.Context, tx *sql.Tx, pool model.QueueKey, release bool) error {
	dec := 0
	if release {
		dec = 1
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE queue_counters SET active_count = active_count - ?, version = version + 1 WHERE queue_key = ?`,
		dec, pool.String())
	return err
}

// RevisionTx returns the current version of a pool, or zero if it has no
// counter row yet.
func (r *QueueCounterRepo) RevisionTx(ctx context.Context, tx *sql.Tx, pool model.QueueKey) (int64, error) {
	rec, err := r.GetTx(ctx, tx, pool)
	return rec.Version, err
}

// UsageByDay returns the active count of every slot of a unit on a date.
func (r *QueueCounterRepo) UsageByDay(ctx context.Context, unitID, day string) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT slot_id, active_count FROM queue_counters WHERE unit_id = ? AND queue_day = ? AND slot_id <> ''`,
		unitID, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	usage := make(map[string]int)
	for rows.Next() {
		var slotID string
		var active int
		if err := rows.Scan(&slotID, &active); err != nil {
			return nil, err
		}
		usage[slotID] = active
	}
	return usage, rows.Err()
}

// translateTxError maps lock contention reported by MySQL onto
// ErrConflict so the allocator retries instead of failing the request.
func translateTxError(err error) error {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case 1213, 1205, 1062: // deadlock, lock wait timeout, duplicate (queue_key, token)
			return ErrConflict
		}
	}
	return err
}
