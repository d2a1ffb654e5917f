package dispatch

import (
	"time"

	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/alerts"
	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/model"
)

// SkipReason explains why a location was not processed in a cycle.
type SkipReason string

const (
	SkipBudgetExhausted SkipReason = "budget_exhausted" // Beyond the remaining request budget
	SkipLimiterTimeout  SkipReason = "limiter_timeout"  // No request slot within the max wait
	SkipFetchFailed     SkipReason = "fetch_failed"
	SkipRegistryFailed  SkipReason = "registry_failed"
	SkipDeadline        SkipReason = "deadline_exceeded" // Abandoned when the cycle ran out of time
)

// Skip records one location left out of a cycle.
type Skip struct {
	model.Location
	Recipients int        `json:"recipients"`
	Reason     SkipReason `json:"reason"`
	Error      string     `json:"error,omitempty"`
}

// TypeCounts breaks cycle results down for one alert type.
type TypeCounts struct {
	Detected int `json:"detected"`
	Notified int `json:"notified"`
	Cooldown int `json:"cooldown"`
	Failures int `json:"failures"`
}

// Summary is the result of one dispatch cycle.
type Summary struct {
	CycleID    string    `json:"cycle_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMS int64     `json:"duration_ms"`
	Partial    bool      `json:"partial"`

	LocationsTotal     int                `json:"locations_total"`
	LocationsProcessed int                `json:"locations_processed"`
	LocationsSkipped   int                `json:"locations_skipped"`
	SkipReasons        map[SkipReason]int `json:"skip_reasons"`
	Skips              []Skip             `json:"skips,omitempty"`

	AlertsDetected       int `json:"alerts_detected"`
	RecipientsNotified   int `json:"recipients_notified"`
	RecipientsInCooldown int `json:"recipients_in_cooldown"`
	RecipientsNoDevices  int `json:"recipients_no_devices"`

	Deliveries    int `json:"deliveries"`
	Failures      int `json:"failures"`
	Transient     int `json:"transient_failures"`
	TokensRemoved int `json:"tokens_removed"`

	ByType map[alerts.AlertType]*TypeCounts `json:"by_type"`
}

func newSummary(cycleID string, started time.Time) *Summary {
	return &Summary{
		CycleID:     cycleID,
		StartedAt:   started,
		SkipReasons: make(map[SkipReason]int),
		ByType:      make(map[alerts.AlertType]*TypeCounts),
	}
}

func (s *Summary) skip(loc model.Location, recipients int, reason SkipReason, err error) {
	sk := Skip{Location: loc, Recipients: recipients, Reason: reason}
	if err != nil {
		sk.Error = err.Error()
	}
	s.Skips = append(s.Skips, sk)
	s.SkipReasons[reason]++
	s.LocationsSkipped++
	if reason == SkipDeadline {
		s.Partial = true
	}
}

func (s *Summary) typeCounts(t alerts.AlertType) *TypeCounts {
	c, ok := s.ByType[t]
	if !ok {
		c = &TypeCounts{}
		s.ByType[t] = c
	}
	return c
}
