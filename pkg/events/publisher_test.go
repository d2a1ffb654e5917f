package events_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/events"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "wag.cycles.abc-123", events.Subject("wag.cycles", "abc-123"))
	assert.Equal(t, "wag.cycles.a_b_c", events.Subject("wag.cycles", "a.b*c"))
	assert.Equal(t, "wag.cycles.unknown", events.Subject("wag.cycles", ""))
}

func TestEncode(t *testing.T) {
	at := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	data, err := events.Encode("c-1", map[string]int{"locations_processed": 2}, at)
	require.NoError(t, err)

	var env events.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "c-1", env.CycleID)
	assert.Equal(t, "wag", env.Source)
	assert.NotEmpty(t, env.EventID)
	assert.True(t, at.Equal(env.Timestamp))
	assert.JSONEq(t, `{"locations_processed": 2}`, string(env.Summary))
}

func TestEncode_Unmarshalable(t *testing.T) {
	_, err := events.Encode("c-1", make(chan int), time.Now())
	assert.ErrorContains(t, err, "marshal cycle summary")
}

func TestNew_Unreachable(t *testing.T) {
	_, err := events.New("nats://127.0.0.1:1", "", nil)
	assert.ErrorContains(t, err, "connect to nats")
}

type fakeStream struct {
	subject  string
	payload  []byte
	deadline bool
	err      error
}

func (f *fakeStream) Publish(ctx context.Context, subject string, payload []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.subject = subject
	f.payload = payload
	_, f.deadline = ctx.Deadline()
	if f.err != nil {
		return nil, f.err
	}
	return &jetstream.PubAck{Stream: events.StreamName, Sequence: 1}, nil
}

func TestPublishCycle(t *testing.T) {
	stream := &fakeStream{}
	pub := events.NewWithStream(stream, "", slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := pub.PublishCycle(context.Background(), "c-42", map[string]int{"deliveries": 3})
	require.NoError(t, err)

	assert.Equal(t, "wag.cycles.c-42", stream.subject)
	assert.True(t, stream.deadline, "publish runs under a timeout")

	var env events.Envelope
	require.NoError(t, json.Unmarshal(stream.payload, &env))
	assert.Equal(t, "c-42", env.CycleID)
	assert.JSONEq(t, `{"deliveries": 3}`, string(env.Summary))

	pub.Close()
}

func TestPublishCycle_Error(t *testing.T) {
	stream := &fakeStream{err: assert.AnError}
	pub := events.NewWithStream(stream, "ops.cycles", slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := pub.PublishCycle(context.Background(), "c-1", struct{}{})
	assert.ErrorIs(t, err, assert.AnError)
	assert.ErrorContains(t, err, "publish cycle summary")
	assert.Equal(t, "ops.cycles.c-1", stream.subject)
}
