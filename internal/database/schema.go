package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema holds the tables the scheduling engine reads and writes.
// capacity_units and operating_hours are owned by the business-management
// side; they are created here so a fresh database is usable.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS capacity_units (
        id                      VARCHAR(64)  NOT NULL PRIMARY KEY,
        business_id             VARCHAR(64)  NOT NULL,
        department_id           VARCHAR(64)  NOT NULL,
        mode                    ENUM('live','slotted') NOT NULL,
        capacity                INT          NOT NULL,
        slot_duration_minutes   INT          NOT NULL DEFAULT 0,
        average_service_minutes INT          NOT NULL DEFAULT 0,
        auto_approve            TINYINT(1)   NOT NULL DEFAULT 0,
        is_active               TINYINT(1)   NOT NULL DEFAULT 1,
        timezone                VARCHAR(64)  NULL,
        UNIQUE KEY uq_department (business_id, department_id),
        CHECK (capacity >= 1)
    ) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS operating_hours (
        unit_id      VARCHAR(64) NOT NULL,
        weekday      TINYINT     NOT NULL,
        open_minute  INT         NOT NULL,
        close_minute INT         NOT NULL,
        PRIMARY KEY (unit_id, weekday),
        FOREIGN KEY (unit_id) REFERENCES capacity_units(id) ON DELETE CASCADE
    ) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS queue_counters (
        queue_key    VARCHAR(160) NOT NULL PRIMARY KEY,
        unit_id      VARCHAR(64)  NOT NULL,
        slot_id      VARCHAR(32)  NOT NULL DEFAULT '',
        queue_day    CHAR(10)     NOT NULL,
        last_token   INT          NOT NULL DEFAULT 0,
        active_count INT          NOT NULL DEFAULT 0,
        version      BIGINT       NOT NULL DEFAULT 0,
        KEY idx_unit_day (unit_id, queue_day)
    ) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS bookings (
        id             CHAR(36)     NOT NULL PRIMARY KEY,
        unit_id        VARCHAR(64)  NOT NULL,
        slot_id        VARCHAR(32)  NOT NULL DEFAULT '',
        queue_day      CHAR(10)     NOT NULL,
        queue_key      VARCHAR(160) NOT NULL,
        token          INT          NOT NULL,
        status         VARCHAR(16)  NOT NULL,
        customer_name  VARCHAR(255) NOT NULL,
        customer_phone VARCHAR(32)  NOT NULL,
        customer_email VARCHAR(255) NULL,
        notes          TEXT         NULL,
        scheduled_at   DATETIME     NOT NULL,
        created_at     DATETIME     NOT NULL,
        confirmed_at   DATETIME     NULL,
        checked_in_at  DATETIME     NULL,
        started_at     DATETIME     NULL,
        completed_at   DATETIME     NULL,
        cancelled_at   DATETIME     NULL,
        no_show_at     DATETIME     NULL,
        UNIQUE KEY uq_queue_token (queue_key, token),
        KEY idx_pool_status (unit_id, slot_id, status)
    ) ENGINE=InnoDB`,
}

// Migrate creates any missing tables.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i, err)
		}
	}
	return nil
}
