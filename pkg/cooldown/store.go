// Package cooldown suppresses repeat notifications for the same recipient,
// location and alert type within a fixed window.
package cooldown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/alerts"
	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/model"
	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/storage"
)

const (
	DefaultWindow    = time.Hour
	DefaultRetention = 2 * time.Hour
)

// Persistence is the part of the storage layer the cooldown store needs.
type Persistence interface {
	GetCooldown(ctx context.Context, key model.CooldownKey) (*model.CooldownRecord, error)
	UpsertCooldown(ctx context.Context, record *model.CooldownRecord) error
	ListCooldowns(ctx context.Context, recipientID string) ([]model.CooldownRecord, error)
	DeleteCooldownsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Store is the single writer of cooldown records.
type Store struct {
	db        Persistence
	window    time.Duration
	retention time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithWindow overrides the suppression window.
func WithWindow(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.window = d
		}
	}
}

// WithRetention overrides how long records are kept before Sweep removes them.
func WithRetention(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a Store over db.
func New(db Persistence, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		db:        db,
		window:    DefaultWindow,
		retention: DefaultRetention,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.retention < s.window {
		s.retention = s.window
	}
	return s
}

// Window returns the suppression window.
func (s *Store) Window() time.Duration {
	return s.window
}

// Key builds the cooldown key for a recipient in a rounded location.
func Key(recipientID string, loc model.Location, alertType alerts.AlertType) model.CooldownKey {
	return model.CooldownKey{
		RecipientID: recipientID,
		Latitude:    loc.Latitude,
		Longitude:   loc.Longitude,
		AlertType:   string(alertType),
	}
}

// IsInCooldown reports whether key was notified within the window.
// Storage errors are logged and treated as not in cooldown.
func (s *Store) IsInCooldown(ctx context.Context, key model.CooldownKey) bool {
	rec, err := s.db.GetCooldown(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return false
	}
	if err != nil {
		s.logger.Warn("cooldown check failed, allowing notification",
			"recipient_id", key.RecipientID,
			"latitude", key.Latitude,
			"longitude", key.Longitude,
			"alert_type", key.AlertType,
			"error", err,
		)
		return false
	}
	return s.now().Sub(rec.LastNotifiedAt) < s.window
}

// RecordSent starts or refreshes the window for key. Call it only after a
// delivery to the recipient succeeded.
func (s *Store) RecordSent(ctx context.Context, key model.CooldownKey, fact alerts.Fact) error {
	rec := &model.CooldownRecord{
		CooldownKey:    key,
		LastNotifiedAt: s.now().UTC(),
		Severity:       string(fact.Severity),
		AlertValue:     fact.Value,
	}
	if err := s.db.UpsertCooldown(ctx, rec); err != nil {
		return fmt.Errorf("record cooldown: %w", err)
	}
	return nil
}

// Entry is a cooldown record with its derived status.
type Entry struct {
	model.CooldownRecord
	Active    bool      `json:"active"`
	ExpiresAt time.Time `json:"expires_at"`
}

// List returns records of a recipient, or all records when recipientID is empty.
func (s *Store) List(ctx context.Context, recipientID string) ([]Entry, error) {
	records, err := s.db.ListCooldowns(ctx, recipientID)
	if err != nil {
		return nil, fmt.Errorf("list cooldowns: %w", err)
	}
	now := s.now()
	entries := make([]Entry, 0, len(records))
	for _, r := range records {
		expires := r.LastNotifiedAt.Add(s.window)
		entries = append(entries, Entry{
			CooldownRecord: r,
			Active:         now.Before(expires),
			ExpiresAt:      expires,
		})
	}
	return entries, nil
}

// Sweep deletes records older than the retention horizon.
func (s *Store) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.retention)
	n, err := s.db.DeleteCooldownsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep cooldowns: %w", err)
	}
	if n > 0 {
		s.logger.Info("swept expired cooldowns", "deleted", n, "cutoff", cutoff)
	}
	return n, nil
}
