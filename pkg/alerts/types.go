package alerts

import (
	"fmt"
	"slices"
)

// AlertType identifies a weather condition users can be notified about.
type AlertType string

const (
	RainNow      AlertType = "rain_now"      // Precipitation right now
	RainForecast AlertType = "rain_forecast" // Precipitation within the next 3 hours
	UVHigh       AlertType = "uv_high"       // High UV index
	AirQuality   AlertType = "air_quality"   // Poor European AQI
	Wind         AlertType = "wind"          // Strong wind or gusts right now
	WindForecast AlertType = "wind_forecast" // Strong gusts within the next 3 hours
)

// AllTypes lists every alert type in evaluation order.
func AllTypes() []AlertType {
	return []AlertType{RainNow, RainForecast, UVHigh, AirQuality, Wind, WindForecast}
}

// ParseAlertType validates a stored or user-supplied type name.
func ParseAlertType(s string) (AlertType, error) {
	t := AlertType(s)
	if _, ok := t.scale(); !ok {
		return "", fmt.Errorf("unknown alert type %q", s)
	}
	return t, nil
}

// Severity is a level name. Its ordering is defined by the Scale of the
// alert type it belongs to.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityLight    Severity = "light"
	SeverityModerate Severity = "moderate"
	SeverityHeavy    Severity = "heavy"
	SeverityExtreme  Severity = "extreme"

	SeverityLow      Severity = "low"
	SeverityHigh     Severity = "high"
	SeverityVeryHigh Severity = "very_high"

	SeverityGood          Severity = "good"
	SeverityFair          Severity = "fair"
	SeverityPoor          Severity = "poor"
	SeverityVeryPoor      Severity = "very_poor"
	SeverityExtremelyPoor Severity = "extremely_poor"

	SeverityCalm       Severity = "calm"
	SeverityStrong     Severity = "strong"
	SeverityVeryStrong Severity = "very_strong"
)

// Scale is an ordered list of severities with the level from which a
// notification is sent.
type Scale struct {
	Name     string
	Levels   []Severity
	NotifyAt Severity
}

var (
	RainScale = Scale{
		Name:     "rain",
		Levels:   []Severity{SeverityNone, SeverityLight, SeverityModerate, SeverityHeavy, SeverityExtreme},
		NotifyAt: SeverityLight,
	}
	UVScale = Scale{
		Name:     "uv",
		Levels:   []Severity{SeverityLow, SeverityModerate, SeverityHigh, SeverityVeryHigh, SeverityExtreme},
		NotifyAt: SeverityHigh,
	}
	AirQualityScale = Scale{
		Name:     "air_quality",
		Levels:   []Severity{SeverityGood, SeverityFair, SeverityModerate, SeverityPoor, SeverityVeryPoor, SeverityExtremelyPoor},
		NotifyAt: SeverityModerate,
	}
	WindScale = Scale{
		Name:     "wind",
		Levels:   []Severity{SeverityCalm, SeverityStrong, SeverityVeryStrong},
		NotifyAt: SeverityStrong,
	}
)

// Rank returns the position of sev in the scale, or -1 if it is not part of it.
func (s Scale) Rank(sev Severity) int {
	return slices.Index(s.Levels, sev)
}

// ShouldNotify reports whether sev is at or above the notify threshold.
func (s Scale) ShouldNotify(sev Severity) bool {
	rank := s.Rank(sev)
	return rank >= 0 && rank >= s.Rank(s.NotifyAt)
}

// Scale returns the severity scale of the type.
func (t AlertType) Scale() (Scale, error) {
	s, ok := t.scale()
	if !ok {
		return Scale{}, fmt.Errorf("unknown alert type %q", t)
	}
	return s, nil
}

func (t AlertType) scale() (Scale, bool) {
	switch t {
	case RainNow, RainForecast:
		return RainScale, true
	case UVHigh:
		return UVScale, true
	case AirQuality:
		return AirQualityScale, true
	case Wind, WindForecast:
		return WindScale, true
	default:
		return Scale{}, false
	}
}

// Fact is one observation derived from provider data for a location.
type Fact struct {
	Type       AlertType `json:"type"`
	Severity   Severity  `json:"severity"`
	Value      float64   `json:"value"`
	Message    string    `json:"message"`
	HoursAhead int       `json:"hours_ahead,omitempty"`
}

// ShouldNotify reports whether the fact crosses its type's notify threshold.
// Facts with an unknown type or a severity outside the type's scale never notify.
func (f Fact) ShouldNotify() bool {
	s, ok := f.Type.scale()
	return ok && s.ShouldNotify(f.Severity)
}

// RainLevel classifies a precipitation intensity in mm/h.
func RainLevel(mmPerHour float64) Severity {
	switch {
	case mmPerHour < 0.1:
		return SeverityNone
	case mmPerHour < 2.5:
		return SeverityLight
	case mmPerHour < 10:
		return SeverityModerate
	case mmPerHour < 50:
		return SeverityHeavy
	default:
		return SeverityExtreme
	}
}

// UVLevel classifies a UV index.
func UVLevel(index float64) Severity {
	switch {
	case index < 3:
		return SeverityLow
	case index < 6:
		return SeverityModerate
	case index < 8:
		return SeverityHigh
	case index < 11:
		return SeverityVeryHigh
	default:
		return SeverityExtreme
	}
}

// AirQualityLevel classifies a European AQI value.
func AirQualityLevel(aqi float64) Severity {
	switch {
	case aqi <= 20:
		return SeverityGood
	case aqi <= 40:
		return SeverityFair
	case aqi <= 60:
		return SeverityModerate
	case aqi <= 80:
		return SeverityPoor
	case aqi <= 100:
		return SeverityVeryPoor
	default:
		return SeverityExtremelyPoor
	}
}

// WindLevel classifies the stronger of sustained wind and gusts, in km/h.
func WindLevel(speed, gusts float64) Severity {
	peak := max(speed, gusts)
	switch {
	case peak < 50:
		return SeverityCalm
	case peak < 70:
		return SeverityStrong
	default:
		return SeverityVeryStrong
	}
}
