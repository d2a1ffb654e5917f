// Package push delivers rendered alerts to device tokens.
package push

import "context"

// ErrorClass tells the dispatcher what to do with a failed token.
type ErrorClass string

const (
	ClassNone            ErrorClass = ""
	ClassUnregistered    ErrorClass = "unregistered"     // Token no longer exists on the device
	ClassInvalidArgument ErrorClass = "invalid_argument" // Token is malformed
	ClassTransient       ErrorClass = "transient"        // Network, quota or server error
)

// Permanent reports whether the token should be removed from the registry.
func (c ErrorClass) Permanent() bool {
	return c == ClassUnregistered || c == ClassInvalidArgument
}

// Message is the device-facing notification.
type Message struct {
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Priority  string            `json:"priority"`
	Channel   string            `json:"channel,omitempty"`
	Tag       string            `json:"tag,omitempty"`
	Vibration []int             `json:"vibration,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
}

// Outcome is the delivery result for one token.
type Outcome struct {
	Token      string     `json:"token"`
	Success    bool       `json:"success"`
	ErrorClass ErrorClass `json:"error_class,omitempty"`
	Err        error      `json:"-"`
}

// Transport sends one message to many tokens. It returns one Outcome per
// token; the order of outcomes is not significant. A non-nil error means the
// batch could not be attempted at all.
type Transport interface {
	SendBatch(ctx context.Context, tokens []string, msg Message) ([]Outcome, error)
}
