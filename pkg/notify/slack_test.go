package notify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/notify"
)

func TestSlackNotifier_Name(t *testing.T) {
	n := notify.NewSlackNotifier("https://hooks.slack.com/test", "#test")
	assert.Equal(t, "slack", n.Name())
}

func TestSlackNotifier_Send(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, http.MethodPost, r.Method)

		err := json.NewDecoder(r.Body).Decode(&received)
		assert.NoError(t, err)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := notify.NewSlackNotifier(server.URL, "#weather-ops")

	err := n.Send(context.Background(), notify.Event{
		Level:   notify.LevelWarning,
		Kind:    notify.KindBudgetTruncated,
		CycleID: "c-1",
		Message: "3 of 5 locations skipped: request budget exhausted",
		Count:   3,
		Total:   5,
	})
	require.NoError(t, err)
	assert.Equal(t, "#weather-ops", received["channel"])

	attachments, ok := received["attachments"].([]any)
	require.True(t, ok)
	require.Len(t, attachments, 1)
	first := attachments[0].(map[string]any)
	assert.Equal(t, "#ff9900", first["color"])
	assert.Contains(t, first["title"], "budget_truncated")
	assert.Len(t, first["fields"], 4)
}

func TestSlackNotifier_Send_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	n := notify.NewSlackNotifier(server.URL, "#test")
	err := n.Send(context.Background(), notify.Event{Level: notify.LevelWarning})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestSlackNotifier_LevelColors(t *testing.T) {
	tests := []struct {
		level notify.Level
		color string
	}{
		{notify.LevelInfo, "#36a64f"},
		{notify.LevelWarning, "#ff9900"},
		{notify.LevelCritical, "#cc0000"},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			var received struct {
				Attachments []struct {
					Color string `json:"color"`
				} `json:"attachments"`
			}
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			n := notify.NewSlackNotifier(server.URL, "#test")
			require.NoError(t, n.Send(context.Background(), notify.Event{Level: tt.level}))
			require.Len(t, received.Attachments, 1)
			assert.Equal(t, tt.color, received.Attachments[0].Color)
		})
	}
}
