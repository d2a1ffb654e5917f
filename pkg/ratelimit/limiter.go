package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

// minSleep is the shortest pause WaitUntilAllowed takes between re-checks.
const minSleep = 100 * time.Millisecond

// Window names one of the three sliding windows.
type Window string

const (
	WindowSecond Window = "second"
	WindowHour   Window = "hour"
	WindowDay    Window = "day"
)

// Limits are the request caps of the upstream weather API.
type Limits struct {
	PerSecond int `json:"per_second"`
	PerHour   int `json:"per_hour"`
	PerDay    int `json:"per_day"`
}

// DefaultLimits returns the free-tier caps: 3/s, 25/h, 500/day.
func DefaultLimits() Limits {
	return Limits{PerSecond: 3, PerHour: 25, PerDay: 500}
}

// Validate checks that every cap is positive.
func (l Limits) Validate() error {
	if l.PerSecond <= 0 || l.PerHour <= 0 || l.PerDay <= 0 {
		return fmt.Errorf("rate limits must be positive: %d/s, %d/h, %d/day", l.PerSecond, l.PerHour, l.PerDay)
	}
	return nil
}

// Decision is the result of an admission check.
type Decision struct {
	Allowed        bool          `json:"allowed"`
	LimitingWindow Window        `json:"limiting_window,omitempty"`
	WaitTime       time.Duration `json:"wait_time,omitempty"`
	CurrentCount   int           `json:"current_count"`
	Limit          int           `json:"limit"`
}

// WindowStats is a point-in-time view of one window.
type WindowStats struct {
	Current    int     `json:"current"`
	Limit      int     `json:"limit"`
	Available  int     `json:"available"`
	Percentage float64 `json:"percentage"`
}

// Stats is a snapshot of all three windows.
type Stats struct {
	PerSecond WindowStats `json:"per_second"`
	PerHour   WindowStats `json:"per_hour"`
	PerDay    WindowStats `json:"per_day"`
}

// Sleeper pauses for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithSleeper replaces the real sleep used by WaitUntilAllowed and Acquire.
func WithSleeper(sleep Sleeper) Option {
	return func(l *Limiter) { l.sleep = sleep }
}

type window struct {
	name   Window
	length time.Duration
	limit  int
	stamps []time.Time
}

// prune drops every stamp whose age has reached the window length.
// Stamps are kept in insertion order, so the expired ones form a prefix.
func (w *window) prune(now time.Time) {
	i := 0
	for i < len(w.stamps) && now.Sub(w.stamps[i]) >= w.length {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

func (w *window) stats() WindowStats {
	current := len(w.stamps)
	return WindowStats{
		Current:    current,
		Limit:      w.limit,
		Available:  max(w.limit-current, 0),
		Percentage: math.Round(float64(current)*1000/float64(w.limit)) / 10,
	}
}

// Limiter tracks outbound provider requests over per-second, per-hour and
// per-day sliding windows. It is safe for concurrent use; Acquire makes the
// admission check and the record a single atomic step.
type Limiter struct {
	mu      sync.Mutex
	limits  Limits
	windows [3]*window
	now     func() time.Time
	sleep   Sleeper
	logger  *slog.Logger
}

// New creates a limiter with the given caps.
func New(limits Limits, logger *slog.Logger, opts ...Option) *Limiter {
	l := &Limiter{
		limits: limits,
		windows: [3]*window{
			{name: WindowSecond, length: time.Second, limit: limits.PerSecond},
			{name: WindowHour, length: time.Hour, limit: limits.PerHour},
			{name: WindowDay, length: 24 * time.Hour, limit: limits.PerDay},
		},
		now:    time.Now,
		sleep:  sleepContext,
		logger: logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Limits returns the configured caps.
func (l *Limiter) Limits() Limits {
	return l.limits
}

// CanMakeRequest reports whether a request may be sent now. Windows are
// checked tightest first and the first saturated one is reported.
func (l *Limiter) CanMakeRequest() Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checkLocked(l.now())
}

// RecordRequest appends the current instant to every window. Call it exactly
// once per request actually sent.
func (l *Limiter) RecordRequest() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recordLocked(l.now())
}

// TryAcquire records a request only if it is admitted.
func (l *Limiter) TryAcquire() Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	d := l.checkLocked(now)
	if d.Allowed {
		l.recordLocked(now)
	}
	return d
}

// WaitUntilAllowed blocks until CanMakeRequest admits a request, giving up
// with false once maxWait would be exceeded or ctx is done. It does not
// record the request.
func (l *Limiter) WaitUntilAllowed(ctx context.Context, maxWait time.Duration) bool {
	return l.wait(ctx, maxWait, l.CanMakeRequest)
}

// Acquire is WaitUntilAllowed followed by RecordRequest, performed under one
// lock so no concurrent caller can slip past the same slot.
func (l *Limiter) Acquire(ctx context.Context, maxWait time.Duration) bool {
	return l.wait(ctx, maxWait, l.TryAcquire)
}

func (l *Limiter) wait(ctx context.Context, maxWait time.Duration, check func() Decision) bool {
	start := l.now()
	for {
		d := check()
		if d.Allowed {
			return true
		}

		remaining := maxWait - l.now().Sub(start)
		if remaining <= 0 || d.WaitTime > remaining {
			l.logger.Warn("rate limit wait exceeded",
				"window", d.LimitingWindow,
				"wait_ms", d.WaitTime.Milliseconds(),
				"max_wait_ms", maxWait.Milliseconds(),
			)
			return false
		}

		pause := min(max(d.WaitTime, minSleep), remaining)
		l.logger.Debug("waiting for rate limit",
			"window", d.LimitingWindow,
			"wait_ms", pause.Milliseconds(),
			"current", d.CurrentCount,
			"limit", d.Limit,
		)
		if err := l.sleep(ctx, pause); err != nil {
			return false
		}
	}
}

// MaxAllowedRequests returns how many requests the tightest window still admits.
func (l *Limiter) MaxAllowedRequests() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked(l.now())
	available := math.MaxInt
	for _, w := range l.windows {
		available = min(available, w.limit-len(w.stamps))
	}
	return max(available, 0)
}

// OptimalDelay returns the spacing to use between totalRequests sequential
// requests: spread over one hour when they exceed the hourly cap, never
// tighter than the per-second spacing.
func (l *Limiter) OptimalDelay(totalRequests int) time.Duration {
	minDelay := time.Duration((1000+l.limits.PerSecond-1)/l.limits.PerSecond) * time.Millisecond
	if totalRequests > l.limits.PerHour {
		spread := time.Duration(time.Hour.Milliseconds()/int64(totalRequests)) * time.Millisecond
		return max(minDelay, spread)
	}
	return minDelay
}

// Stats returns current usage of every window.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked(l.now())
	return Stats{
		PerSecond: l.windows[0].stats(),
		PerHour:   l.windows[1].stats(),
		PerDay:    l.windows[2].stats(),
	}
}

// Reset clears all windows.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, w := range l.windows {
		w.stamps = nil
	}
	l.logger.Warn("rate limiter reset")
}

func (l *Limiter) checkLocked(now time.Time) Decision {
	l.pruneLocked(now)
	for _, w := range l.windows {
		if len(w.stamps) < w.limit {
			continue
		}
		wait := w.length - now.Sub(w.stamps[0])
		return Decision{
			Allowed:        false,
			LimitingWindow: w.name,
			WaitTime:       max(wait, 0),
			CurrentCount:   len(w.stamps),
			Limit:          w.limit,
		}
	}
	return Decision{Allowed: true, CurrentCount: len(l.windows[0].stamps), Limit: l.windows[0].limit}
}

func (l *Limiter) recordLocked(now time.Time) {
	for _, w := range l.windows {
		w.stamps = append(w.stamps, now)
	}
}

func (l *Limiter) pruneLocked(now time.Time) {
	for _, w := range l.windows {
		w.prune(now)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
