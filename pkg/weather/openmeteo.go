package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/alerts"
)

const (
	DefaultForecastURL   = "https://api.open-meteo.com/v1/forecast"
	DefaultAirQualityURL = "https://air-quality-api.open-meteo.com/v1/air-quality"

	openMeteoTimeLayout = "2006-01-02T15:04"
)

// OpenMeteo queries the free Open-Meteo forecast and air quality APIs.
type OpenMeteo struct {
	forecastURL   string
	airQualityURL string
	client        *http.Client
	logger        *slog.Logger
}

// NewOpenMeteo creates a client. Empty URLs fall back to the public endpoints.
func NewOpenMeteo(forecastURL, airQualityURL string, timeout time.Duration, logger *slog.Logger) *OpenMeteo {
	if forecastURL == "" {
		forecastURL = DefaultForecastURL
	}
	if airQualityURL == "" {
		airQualityURL = DefaultAirQualityURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &OpenMeteo{
		forecastURL:   forecastURL,
		airQualityURL: airQualityURL,
		client:        &http.Client{Timeout: timeout},
		logger:        logger,
	}
}

func (o *OpenMeteo) Name() string { return "open-meteo" }

type forecastResponse struct {
	Current struct {
		Time          string  `json:"time"`
		Precipitation float64 `json:"precipitation"`
		Rain          float64 `json:"rain"`
		WindSpeed     float64 `json:"wind_speed_10m"`
		WindGusts     float64 `json:"wind_gusts_10m"`
		UVIndex       float64 `json:"uv_index"`
	} `json:"current"`
	Hourly struct {
		Time          []string  `json:"time"`
		Precipitation []float64 `json:"precipitation"`
		WindGusts     []float64 `json:"wind_gusts_10m"`
	} `json:"hourly"`
}

type airQualityResponse struct {
	Current struct {
		EuropeanAQI *float64 `json:"european_aqi"`
	} `json:"current"`
}

// Fetch requests forecast and air quality in parallel. An air quality
// failure only drops the air quality fact.
func (o *OpenMeteo) Fetch(ctx context.Context, latitude, longitude float64) ([]alerts.Fact, error) {
	var (
		forecast forecastResponse
		aq       airQualityResponse
		aqErr    error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		params := coordParams(latitude, longitude)
		params.Set("current", "temperature_2m,precipitation,rain,weather_code,wind_speed_10m,wind_gusts_10m,uv_index")
		params.Set("hourly", "precipitation,rain,weather_code,wind_speed_10m,wind_gusts_10m,uv_index")
		params.Set("forecast_days", "2")
		return o.get(gctx, o.forecastURL, params, &forecast)
	})
	g.Go(func() error {
		params := coordParams(latitude, longitude)
		params.Set("current", "european_aqi,pm10,pm2_5")
		aqErr = o.get(gctx, o.airQualityURL, params, &aq)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fetch forecast: %w", err)
	}

	cond, err := forecast.conditions()
	if err != nil {
		return nil, err
	}
	if aqErr != nil {
		o.logger.Warn("air quality lookup failed",
			"latitude", latitude,
			"longitude", longitude,
			"error", aqErr,
		)
	} else {
		cond.AirQuality = aq.Current.EuropeanAQI
	}
	return Derive(cond), nil
}

func (r forecastResponse) conditions() (Conditions, error) {
	now, err := time.Parse(openMeteoTimeLayout, r.Current.Time)
	if err != nil {
		return Conditions{}, fmt.Errorf("parse current time %q: %w", r.Current.Time, err)
	}
	c := Conditions{
		Time:          now,
		Precipitation: r.Current.Precipitation,
		Rain:          r.Current.Rain,
		UVIndex:       r.Current.UVIndex,
		WindSpeed:     r.Current.WindSpeed,
		WindGusts:     r.Current.WindGusts,
	}

	start := -1
	hour := now.Truncate(time.Hour)
	for i, ts := range r.Hourly.Time {
		t, err := time.Parse(openMeteoTimeLayout, ts)
		if err != nil {
			return Conditions{}, fmt.Errorf("parse hourly time %q: %w", ts, err)
		}
		if !t.Before(hour) {
			start = i
			break
		}
	}
	if start >= 0 {
		c.HourlyPrecipitation = window(r.Hourly.Precipitation, start)
		c.HourlyGusts = window(r.Hourly.WindGusts, start)
	}
	return c, nil
}

func window(values []float64, start int) []float64 {
	if start >= len(values) {
		return nil
	}
	end := min(start+forecastHours, len(values))
	return values[start:end]
}

func coordParams(latitude, longitude float64) url.Values {
	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(latitude, 'f', -1, 64))
	params.Set("longitude", strconv.FormatFloat(longitude, 'f', -1, 64))
	params.Set("timezone", "auto")
	return params
}

func (o *OpenMeteo) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("open-meteo returned status %d: %s", resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
