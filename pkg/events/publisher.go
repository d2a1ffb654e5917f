// Package events publishes dispatch cycle summaries to NATS JetStream.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	StreamName     = "WAG_CYCLES"
	DefaultSubject = "wag.cycles"
)

// Envelope wraps a published payload with delivery metadata.
type Envelope struct {
	EventID   string          `json:"event_id"`
	Source    string          `json:"source"`
	CycleID   string          `json:"cycle_id"`
	Timestamp time.Time       `json:"timestamp"`
	Summary   json.RawMessage `json:"summary"`
}

// streamPublisher is the part of jetstream.JetStream the Publisher uses.
type streamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Publisher sends cycle summaries to a JetStream stream.
type Publisher struct {
	js      streamPublisher
	nc      *nats.Conn
	subject string
	logger  *slog.Logger
}

// New connects to natsURL and ensures the cycle stream exists.
func New(natsURL, subject string, logger *slog.Logger) (*Publisher, error) {
	if subject == "" {
		subject = DefaultSubject
	}

	nc, err := nats.Connect(natsURL, nats.Name("weather-alert-guardian"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{subject + ".>"},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		logger.Warn("failed to create cycle stream (may already exist)", "stream", StreamName, "error", err)
	}

	return &Publisher{js: js, nc: nc, subject: subject, logger: logger}, nil
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() {
	if p.nc == nil {
		return
	}
	if err := p.nc.Drain(); err != nil {
		p.logger.Warn("drain nats connection", "error", err)
		p.nc.Close()
	}
}

// PublishCycle publishes summary on <subject>.<cycleID>.
func (p *Publisher) PublishCycle(ctx context.Context, cycleID string, summary any) error {
	data, err := Encode(cycleID, summary, time.Now().UTC())
	if err != nil {
		return err
	}

	subject := Subject(p.subject, cycleID)
	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := p.js.Publish(pubCtx, subject, data); err != nil {
		return fmt.Errorf("publish cycle summary: %w", err)
	}

	p.logger.Debug("published cycle summary", "subject", subject)
	return nil
}

// Subject builds the per-cycle subject. Tokens NATS reserves are replaced.
func Subject(prefix, cycleID string) string {
	token := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(cycleID)
	if token == "" {
		token = "unknown"
	}
	return prefix + "." + token
}

// Encode builds the JSON envelope for a cycle summary.
func Encode(cycleID string, summary any, at time.Time) ([]byte, error) {
	raw, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("marshal cycle summary: %w", err)
	}
	data, err := json.Marshal(Envelope{
		EventID:   uuid.New().String(),
		Source:    "wag",
		CycleID:   cycleID,
		Timestamp: at,
		Summary:   raw,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}
