package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/push"
)

// ErrNoDevices is returned when a test notification targets a user without tokens.
var ErrNoDevices = errors.New("user has no registered devices")

// TestResult reports a manual test notification.
type TestResult struct {
	UserID        string         `json:"user_id"`
	Sent          int            `json:"sent"`
	Failed        int            `json:"failed"`
	TokensRemoved int            `json:"tokens_removed"`
	Outcomes      []push.Outcome `json:"outcomes"`
}

// SendTest pushes a test notification to every device of userID. It ignores
// cooldown and the weather budget but still prunes invalid tokens.
func (d *Dispatcher) SendTest(ctx context.Context, userID string) (*TestResult, error) {
	byUser, err := d.deps.Registry.TokensForUsers(ctx, []string{userID})
	if err != nil {
		return nil, fmt.Errorf("look up devices: %w", err)
	}
	tokens := byUser[userID]
	if len(tokens) == 0 {
		return nil, fmt.Errorf("user %q: %w", userID, ErrNoDevices)
	}

	msg := push.Message{
		Title:    "Test notification",
		Body:     "Weather alerts are working on this device.",
		Priority: "high",
		Channel:  push.Channel,
		Tag:      "test_" + userID,
		Data: map[string]string{
			"type":      "test",
			"timestamp": d.cfg.Now().UTC().Format(time.RFC3339),
		},
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()
	outcomes, err := d.deps.Transport.SendBatch(sendCtx, tokens, msg)
	if err != nil {
		return nil, fmt.Errorf("send test notification: %w", err)
	}

	res := &TestResult{UserID: userID, Outcomes: outcomes}
	for _, o := range outcomes {
		if o.Success {
			res.Sent++
			continue
		}
		res.Failed++
		if !o.ErrorClass.Permanent() {
			continue
		}
		if err := d.deps.Registry.DeleteDeviceByToken(ctx, o.Token); err != nil {
			d.logger.Warn("remove invalid token failed", "user_id", userID, "error", err)
			continue
		}
		res.TokensRemoved++
	}
	d.logger.Info("test notification sent",
		"user_id", userID,
		"sent", res.Sent,
		"failed", res.Failed,
		"tokens_removed", res.TokensRemoved,
	)
	return res, nil
}
