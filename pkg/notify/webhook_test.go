package notify_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/notify"
)

func TestWebhookNotifier_Name(t *testing.T) {
	n := notify.NewWebhookNotifier("https://example.com/webhook", "")
	assert.Equal(t, "webhook", n.Name())
}

func TestWebhookNotifier_Send(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Weather-Alert-Guardian/1.0", r.Header.Get("User-Agent"))
		assert.Equal(t, http.MethodPost, r.Method)

		err := json.NewDecoder(r.Body).Decode(&received)
		assert.NoError(t, err)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := notify.NewWebhookNotifier(server.URL, "")
	err := n.Send(context.Background(), notify.Event{
		Level: notify.LevelWarning,
		Kind:  notify.KindTransportFailures,
		Count: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, "dispatch.transport_failures", received["event"])
	assert.NotEmpty(t, received["timestamp"])

	data, ok := received["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(4), data["count"])
}

func TestWebhookNotifier_Send_WithHMAC(t *testing.T) {
	var signature, expected string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mac := hmac.New(sha256.New, []byte("test-secret"))
		mac.Write(body)
		expected = "sha256=" + hex.EncodeToString(mac.Sum(nil))
		signature = r.Header.Get("X-Signature-256")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := notify.NewWebhookNotifier(server.URL, "test-secret")
	err := n.Send(context.Background(), notify.Event{Level: notify.LevelWarning})
	require.NoError(t, err)
	assert.Equal(t, expected, signature)
}

func TestWebhookNotifier_Send_NoHMAC(t *testing.T) {
	var hasSignature bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hasSignature = r.Header.Get("X-Signature-256") != ""
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := notify.NewWebhookNotifier(server.URL, "")
	err := n.Send(context.Background(), notify.Event{Level: notify.LevelWarning})
	require.NoError(t, err)
	assert.False(t, hasSignature)
}

func TestWebhookNotifier_Send_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	n := notify.NewWebhookNotifier(server.URL, "")
	err := n.Send(context.Background(), notify.Event{Level: notify.LevelWarning})
	assert.Error(t, err)
}

type failingNotifier struct{ calls int }

func (f *failingNotifier) Name() string { return "failing" }
func (f *failingNotifier) Send(context.Context, notify.Event) error {
	f.calls++
	return errors.New("unreachable")
}

func TestBroadcast_LogsFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	a, b := &failingNotifier{}, &failingNotifier{}

	notify.Broadcast(context.Background(), logger, []notify.Notifier{a, b}, notify.Event{Kind: notify.KindCycleFailed})

	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
	assert.Contains(t, buf.String(), "notifier=failing")
	assert.Contains(t, buf.String(), "kind=cycle_failed")
}
