package weather_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/alerts"
	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/weather"
)

const forecastBody = `{
  "current": {"time": "2026-05-01T14:15", "precipitation": 1.2, "rain": 1.2, "wind_speed_10m": 12, "wind_gusts_10m": 25, "uv_index": 6.5},
  "hourly": {
    "time": ["2026-05-01T12:00", "2026-05-01T13:00", "2026-05-01T14:00", "2026-05-01T15:00", "2026-05-01T16:00", "2026-05-01T17:00"],
    "precipitation": [9, 9, 0.2, 0.8, 3.0, 40],
    "wind_gusts_10m": [90, 90, 20, 30, 40, 95]
  }
}`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newServers(t *testing.T, aqStatus int, aqBody string) (*httptest.Server, *httptest.Server) {
	t.Helper()
	forecast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "10", r.URL.Query().Get("latitude"))
		assert.Equal(t, "20.5", r.URL.Query().Get("longitude"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(forecastBody))
	}))
	aq := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(aqStatus)
		w.Write([]byte(aqBody))
	}))
	t.Cleanup(forecast.Close)
	t.Cleanup(aq.Close)
	return forecast, aq
}

func TestOpenMeteo_Fetch(t *testing.T) {
	forecast, aq := newServers(t, http.StatusOK, `{"current": {"european_aqi": 55}}`)
	client := weather.NewOpenMeteo(forecast.URL, aq.URL, 5*time.Second, testLogger())

	facts, err := client.Fetch(context.Background(), 10, 20.5)
	require.NoError(t, err)
	byType := factsByType(facts)

	assert.Equal(t, alerts.SeverityLight, byType[alerts.RainNow].Severity)
	require.Contains(t, byType, alerts.RainForecast)
	assert.Equal(t, 3, byType[alerts.RainForecast].HoursAhead)
	assert.Equal(t, 3.0, byType[alerts.RainForecast].Value)
	assert.Equal(t, alerts.SeverityHigh, byType[alerts.UVHigh].Severity)
	assert.Equal(t, alerts.SeverityModerate, byType[alerts.AirQuality].Severity)
	assert.NotContains(t, byType, alerts.Wind)
	assert.NotContains(t, byType, alerts.WindForecast)
}

func TestOpenMeteo_AirQualityFailureTolerated(t *testing.T) {
	forecast, aq := newServers(t, http.StatusBadGateway, "upstream down")
	client := weather.NewOpenMeteo(forecast.URL, aq.URL, 5*time.Second, testLogger())

	facts, err := client.Fetch(context.Background(), 10, 20.5)
	require.NoError(t, err)
	assert.NotContains(t, factsByType(facts), alerts.AirQuality)
	assert.Contains(t, factsByType(facts), alerts.RainNow)
}

func TestOpenMeteo_ForecastFailure(t *testing.T) {
	forecast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer forecast.Close()
	_, aq := newServers(t, http.StatusOK, `{"current": {"european_aqi": 10}}`)

	client := weather.NewOpenMeteo(forecast.URL, aq.URL, 5*time.Second, testLogger())
	_, err := client.Fetch(context.Background(), 10, 20.5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestOpenMeteo_MalformedBody(t *testing.T) {
	forecast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"current": `))
	}))
	defer forecast.Close()
	_, aq := newServers(t, http.StatusOK, `{}`)

	client := weather.NewOpenMeteo(forecast.URL, aq.URL, 5*time.Second, testLogger())
	_, err := client.Fetch(context.Background(), 1, 1)
	assert.ErrorContains(t, err, "decode response")
}

func TestOpenMeteo_Name(t *testing.T) {
	assert.Equal(t, "open-meteo", weather.NewOpenMeteo("", "", 0, testLogger()).Name())
}
