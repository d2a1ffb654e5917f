package storage

import (
	"database/sql"
	"fmt"
)

// Statements use a dialect-neutral subset so the same list serves SQLite and Postgres.
var migrations = []string{
	// Migration 1: users and devices
	`CREATE TABLE IF NOT EXISTS users (
		id                  TEXT PRIMARY KEY,
		email               TEXT NOT NULL DEFAULT '',
		latitude            DOUBLE PRECISION,
		longitude           DOUBLE PRECISION,
		location_updated_at TIMESTAMP,
		created_at          TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS devices (
		id             TEXT PRIMARY KEY,
		user_id        TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		token          TEXT NOT NULL UNIQUE,
		platform       TEXT NOT NULL DEFAULT '',
		last_active_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		created_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_devices_user ON devices(user_id);`,

	// Migration 2: per recipient/location/alert type cooldown
	`CREATE TABLE IF NOT EXISTS notification_cooldown (
		recipient_id     TEXT NOT NULL,
		latitude         DOUBLE PRECISION NOT NULL,
		longitude        DOUBLE PRECISION NOT NULL,
		alert_type       TEXT NOT NULL,
		severity         TEXT NOT NULL DEFAULT '',
		alert_value      DOUBLE PRECISION NOT NULL DEFAULT 0,
		last_notified_at TIMESTAMP NOT NULL,
		CONSTRAINT unique_user_location_alert UNIQUE (recipient_id, latitude, longitude, alert_type)
	);

	CREATE INDEX IF NOT EXISTS idx_cooldown_last_notified ON notification_cooldown(last_notified_at);`,
}

// runMigrations applies pending schema migrations.
func runMigrations(db *sql.DB, rebind func(string) string) error {
	// Ensure migration tracking table exists
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create migration table: %w", err)
	}

	var currentVersion int
	row := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("check migration version: %w", err)
	}

	for i := currentVersion; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}

		if _, err := tx.Exec(migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("run migration %d: %w", i+1, err)
		}

		if _, err := tx.Exec(rebind("INSERT INTO schema_migrations (version) VALUES (?)"), i+1); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}

	return nil
}
