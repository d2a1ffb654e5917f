package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/model"
)

// ErrNotFound is returned (wrapped) when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Storage defines the persistence layer for users, devices and cooldown records.
type Storage interface {
	// UpsertUser creates a user or updates its email.
	UpsertUser(ctx context.Context, user *model.User) error

	// GetUser retrieves a user by id.
	GetUser(ctx context.Context, id string) (*model.User, error)

	// UpdateUserLocation stores raw coordinates for a user and, when device is
	// non-nil, registers or refreshes that device in the same transaction.
	UpdateUserLocation(ctx context.Context, userID string, latitude, longitude float64, device *model.Device) error

	// ListLocatedUsers returns every user with both coordinates set.
	ListLocatedUsers(ctx context.Context) ([]model.User, error)

	// RegisterDevice inserts a device or moves an existing token to the given user.
	RegisterDevice(ctx context.Context, device *model.Device) error

	// ListDevices returns devices of a user, or all devices when userID is empty.
	ListDevices(ctx context.Context, userID string) ([]model.Device, error)

	// TokensForUsers returns push tokens grouped by user id.
	TokensForUsers(ctx context.Context, userIDs []string) (map[string][]string, error)

	// DeleteDeviceByToken removes a device from the registry.
	DeleteDeviceByToken(ctx context.Context, token string) error

	// GetCooldown returns the record for key, or an error wrapping ErrNotFound.
	GetCooldown(ctx context.Context, key model.CooldownKey) (*model.CooldownRecord, error)

	// UpsertCooldown inserts or refreshes the single record for the record's key.
	UpsertCooldown(ctx context.Context, record *model.CooldownRecord) error

	// ListCooldowns returns cooldown records of a recipient, or all records when empty.
	ListCooldowns(ctx context.Context, recipientID string) ([]model.CooldownRecord, error)

	// DeleteCooldownsBefore removes records last notified before cutoff.
	DeleteCooldownsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}
