package model

import (
	"fmt"
	"time"
)

// User is a notifiable person. Latitude and Longitude are nil until the
// user's device has reported a location.
type User struct {
	ID                string     `json:"id" db:"id"`
	Email             string     `json:"email,omitempty" db:"email"`
	Latitude          *float64   `json:"latitude,omitempty" db:"latitude"`
	Longitude         *float64   `json:"longitude,omitempty" db:"longitude"`
	LocationUpdatedAt *time.Time `json:"location_updated_at,omitempty" db:"location_updated_at"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
}

// HasLocation reports whether both coordinates are known.
func (u User) HasLocation() bool {
	return u.Latitude != nil && u.Longitude != nil
}

// Device is a push target registered for a user.
type Device struct {
	ID           string    `json:"id" db:"id"`
	UserID       string    `json:"user_id" db:"user_id"`
	Token        string    `json:"token" db:"token"`
	Platform     string    `json:"platform,omitempty" db:"platform"`
	LastActiveAt time.Time `json:"last_active_at" db:"last_active_at"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Location is a rounded coordinate pair shared by every user in the same cell.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (l Location) String() string {
	return fmt.Sprintf("%g,%g", l.Latitude, l.Longitude)
}

// CooldownKey identifies one suppression bucket. Coordinates must already be rounded.
type CooldownKey struct {
	RecipientID string  `json:"recipient_id" db:"recipient_id"`
	Latitude    float64 `json:"latitude" db:"latitude"`
	Longitude   float64 `json:"longitude" db:"longitude"`
	AlertType   string  `json:"alert_type" db:"alert_type"`
}

// CooldownRecord is the last successful notification for a key.
type CooldownRecord struct {
	CooldownKey
	LastNotifiedAt time.Time `json:"last_notified_at" db:"last_notified_at"`
	Severity       string    `json:"severity,omitempty" db:"severity"`
	AlertValue     float64   `json:"alert_value" db:"alert_value"`
}
