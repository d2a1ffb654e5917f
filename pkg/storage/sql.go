package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/model"
)

// SQLStore implements Storage on database/sql. Queries are written with ?
// placeholders and rebound for the dialect in use.
type SQLStore struct {
	db     *sql.DB
	rebind func(string) string
}

func newSQLStore(db *sql.DB, rebind func(string) string) (*SQLStore, error) {
	if err := runMigrations(db, rebind); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLStore{db: db, rebind: rebind}, nil
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) UpsertUser(ctx context.Context, user *model.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.exec(ctx,
		`INSERT INTO users (id, email, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET email = excluded.email`,
		user.ID, user.Email, user.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *SQLStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, email, latitude, longitude, location_updated_at, created_at FROM users WHERE id = ?`), id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *SQLStore) UpdateUserLocation(ctx context.Context, userID string, latitude, longitude float64, device *model.Device) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin location update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, s.rebind(
		`UPDATE users SET latitude = ?, longitude = ?, location_updated_at = ? WHERE id = ?`),
		latitude, longitude, now, userID,
	)
	if err != nil {
		return fmt.Errorf("update user location: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("user %q: %w", userID, ErrNotFound)
	}

	if device != nil && device.Token != "" {
		device.UserID = userID
		prepareDevice(device, now)
		if _, err := tx.ExecContext(ctx, s.rebind(upsertDeviceSQL), deviceArgs(device)...); err != nil {
			return fmt.Errorf("upsert device: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit location update: %w", err)
	}
	return nil
}

func (s *SQLStore) ListLocatedUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, email, latitude, longitude, location_updated_at, created_at
		 FROM users WHERE latitude IS NOT NULL AND longitude IS NOT NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list located users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

const upsertDeviceSQL = `INSERT INTO devices (id, user_id, token, platform, last_active_at, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(token) DO UPDATE SET
	  user_id = excluded.user_id,
	  platform = excluded.platform,
	  last_active_at = excluded.last_active_at`

func prepareDevice(device *model.Device, now time.Time) {
	if device.ID == "" {
		device.ID = uuid.New().String()
	}
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.LastActiveAt = now
}

func deviceArgs(d *model.Device) []any {
	return []any{d.ID, d.UserID, d.Token, d.Platform, d.LastActiveAt, d.CreatedAt}
}

func (s *SQLStore) RegisterDevice(ctx context.Context, device *model.Device) error {
	if device.Token == "" {
		return errors.New("register device: empty token")
	}
	prepareDevice(device, time.Now().UTC())

	if _, err := s.exec(ctx, upsertDeviceSQL, deviceArgs(device)...); err != nil {
		return fmt.Errorf("register device: %w", err)
	}
	return nil
}

func (s *SQLStore) ListDevices(ctx context.Context, userID string) ([]model.Device, error) {
	query := "SELECT id, user_id, token, platform, last_active_at, created_at FROM devices"
	var args []any
	if userID != "" {
		query += " WHERE user_id = ?"
		args = append(args, userID)
	}
	query += " ORDER BY user_id, created_at"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []model.Device
	for rows.Next() {
		var d model.Device
		if err := rows.Scan(&d.ID, &d.UserID, &d.Token, &d.Platform, &d.LastActiveAt, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan device row: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

func (s *SQLStore) TokensForUsers(ctx context.Context, userIDs []string) (map[string][]string, error) {
	result := make(map[string][]string)
	if len(userIDs) == 0 {
		return result, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(userIDs)), ", ")
	args := make([]any, len(userIDs))
	for i, id := range userIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(
		"SELECT user_id, token FROM devices WHERE user_id IN ("+placeholders+") ORDER BY user_id, created_at"),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query device tokens: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var userID, token string
		if err := rows.Scan(&userID, &token); err != nil {
			return nil, fmt.Errorf("scan device token: %w", err)
		}
		result[userID] = append(result[userID], token)
	}
	return result, rows.Err()
}

func (s *SQLStore) DeleteDeviceByToken(ctx context.Context, token string) error {
	result, err := s.exec(ctx, "DELETE FROM devices WHERE token = ?", token)
	if err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("device token: %w", ErrNotFound)
	}
	return nil
}

func (s *SQLStore) GetCooldown(ctx context.Context, key model.CooldownKey) (*model.CooldownRecord, error) {
	var r model.CooldownRecord
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT recipient_id, latitude, longitude, alert_type, severity, alert_value, last_notified_at
		 FROM notification_cooldown
		 WHERE recipient_id = ? AND latitude = ? AND longitude = ? AND alert_type = ?`),
		key.RecipientID, key.Latitude, key.Longitude, key.AlertType,
	).Scan(&r.RecipientID, &r.Latitude, &r.Longitude, &r.AlertType, &r.Severity, &r.AlertValue, &r.LastNotifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cooldown %s/%g,%g/%s: %w", key.RecipientID, key.Latitude, key.Longitude, key.AlertType, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get cooldown: %w", err)
	}
	return &r, nil
}

func (s *SQLStore) UpsertCooldown(ctx context.Context, record *model.CooldownRecord) error {
	if record.LastNotifiedAt.IsZero() {
		record.LastNotifiedAt = time.Now().UTC()
	}

	_, err := s.exec(ctx,
		`INSERT INTO notification_cooldown (recipient_id, latitude, longitude, alert_type, severity, alert_value, last_notified_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(recipient_id, latitude, longitude, alert_type) DO UPDATE SET
		   severity = excluded.severity,
		   alert_value = excluded.alert_value,
		   last_notified_at = excluded.last_notified_at`,
		record.RecipientID, record.Latitude, record.Longitude, record.AlertType,
		record.Severity, record.AlertValue, record.LastNotifiedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert cooldown: %w", err)
	}
	return nil
}

func (s *SQLStore) ListCooldowns(ctx context.Context, recipientID string) ([]model.CooldownRecord, error) {
	query := `SELECT recipient_id, latitude, longitude, alert_type, severity, alert_value, last_notified_at
		FROM notification_cooldown`
	var args []any
	if recipientID != "" {
		query += " WHERE recipient_id = ?"
		args = append(args, recipientID)
	}
	query += " ORDER BY last_notified_at DESC"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list cooldowns: %w", err)
	}
	defer rows.Close()

	var records []model.CooldownRecord
	for rows.Next() {
		var r model.CooldownRecord
		if err := rows.Scan(&r.RecipientID, &r.Latitude, &r.Longitude, &r.AlertType,
			&r.Severity, &r.AlertValue, &r.LastNotifiedAt); err != nil {
			return nil, fmt.Errorf("scan cooldown row: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *SQLStore) DeleteCooldownsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.exec(ctx, "DELETE FROM notification_cooldown WHERE last_notified_at < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired cooldowns: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	return n, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u         model.User
		lat, lon  sql.NullFloat64
		updatedAt sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Email, &lat, &lon, &updatedAt, &u.CreatedAt); err != nil {
		return nil, err
	}
	if lat.Valid {
		u.Latitude = &lat.Float64
	}
	if lon.Valid {
		u.Longitude = &lon.Float64
	}
	if updatedAt.Valid {
		u.LocationUpdatedAt = &updatedAt.Time
	}
	return &u, nil
}
