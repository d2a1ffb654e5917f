// Package weather fetches conditions for a location and turns them into alert facts.
package weather

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/alerts"
)

// Provider returns the alert facts for a location. Each Fetch counts as one
// request against the upstream budget.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, latitude, longitude float64) ([]alerts.Fact, error)
}

const (
	forecastHours   = 3
	rainForecastMin = 0.5 // mm
	gustForecastMin = 60  // km/h
)

// Conditions is the provider-neutral input to Derive.
type Conditions struct {
	Time          time.Time
	Precipitation float64
	Rain          float64
	UVIndex       float64
	WindSpeed     float64
	WindGusts     float64

	// Next hourly slots starting at the current hour.
	HourlyPrecipitation []float64
	HourlyGusts         []float64

	// AirQuality is nil when the air quality lookup failed.
	AirQuality *float64
}

// Derive evaluates every alert type against c. Facts below their type's
// notify threshold are included; callers filter with Fact.ShouldNotify.
func Derive(c Conditions) []alerts.Fact {
	var facts []alerts.Fact

	if c.Precipitation > 0 || c.Rain > 0 {
		rain := c.Precipitation
		if rain == 0 {
			rain = c.Rain
		}
		facts = append(facts, alerts.Fact{
			Type:     alerts.RainNow,
			Severity: alerts.RainLevel(rain),
			Value:    rain,
			Message:  fmt.Sprintf("It is raining now (%.1f mm)", rain),
		})
	}

	if peak, slot := peakOf(c.HourlyPrecipitation); slot >= 0 && peak > rainForecastMin {
		facts = append(facts, alerts.Fact{
			Type:       alerts.RainForecast,
			Severity:   alerts.RainLevel(peak),
			Value:      peak,
			HoursAhead: slot + 1,
			Message:    fmt.Sprintf("Rain expected in %dh (%.1f mm)", slot+1, peak),
		})
	}

	if uv := alerts.UVLevel(c.UVIndex); alerts.UVScale.ShouldNotify(uv) {
		label := "High"
		if uv == alerts.SeverityExtreme {
			label = "Extreme"
		}
		facts = append(facts, alerts.Fact{
			Type:     alerts.UVHigh,
			Severity: uv,
			Value:    c.UVIndex,
			Message:  fmt.Sprintf("%s UV index: %.1f", label, c.UVIndex),
		})
	}

	if c.AirQuality != nil {
		aqi := *c.AirQuality
		if level := alerts.AirQualityLevel(aqi); alerts.AirQualityScale.ShouldNotify(level) {
			facts = append(facts, alerts.Fact{
				Type:     alerts.AirQuality,
				Severity: level,
				Value:    aqi,
				Message:  fmt.Sprintf("Air quality is %s (AQI: %.0f)", airQualityLabel(level), aqi),
			})
		}
	}

	windLevel := alerts.WindLevel(c.WindSpeed, c.WindGusts)
	windAlert := alerts.WindScale.ShouldNotify(windLevel)
	if windAlert {
		peak := math.Max(c.WindSpeed, c.WindGusts)
		label := "Strong wind"
		if windLevel == alerts.SeverityVeryStrong {
			label = "Very strong wind"
		}
		facts = append(facts, alerts.Fact{
			Type:     alerts.Wind,
			Severity: windLevel,
			Value:    peak,
			Message:  fmt.Sprintf("%s: %.0f km/h", label, peak),
		})
	}

	if peak, slot := peakOf(c.HourlyGusts); !windAlert && slot >= 0 && peak >= gustForecastMin {
		facts = append(facts, alerts.Fact{
			Type:       alerts.WindForecast,
			Severity:   alerts.SeverityStrong,
			Value:      peak,
			HoursAhead: slot + 1,
			Message:    fmt.Sprintf("Strong gusts expected in %dh (%.0f km/h)", slot+1, peak),
		})
	}

	return facts
}

// peakOf returns the maximum of the first forecastHours values and its index,
// or -1 when there are none.
func peakOf(values []float64) (float64, int) {
	slot := -1
	var peak float64
	for i, v := range values {
		if i >= forecastHours {
			break
		}
		if slot < 0 || v > peak {
			peak, slot = v, i
		}
	}
	return peak, slot
}

func airQualityLabel(s alerts.Severity) string {
	switch s {
	case alerts.SeverityModerate:
		return "moderate"
	case alerts.SeverityPoor:
		return "poor"
	case alerts.SeverityVeryPoor:
		return "very poor"
	case alerts.SeverityExtremelyPoor:
		return "extremely poor"
	default:
		return string(s)
	}
}
