// Package dispatch runs alert cycles: cluster users, fetch conditions under
// the request budget, filter by cooldown, push, and record what happened.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/alerts"
	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/cluster"
	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/cooldown"
	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/model"
	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/notify"
	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/push"
	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/storage"
	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/weather"
)

// ErrCycleRunning is returned when a cycle is requested while one is in progress.
var ErrCycleRunning = errors.New("dispatch cycle already running")

// Locator produces the clusters to process, most recipients first.
type Locator interface {
	Locations(ctx context.Context) ([]cluster.Cluster, error)
}

// Limiter guards the weather provider's request budget.
type Limiter interface {
	MaxAllowedRequests() int
	Acquire(ctx context.Context, maxWait time.Duration) bool
	OptimalDelay(totalRequests int) time.Duration
}

// Cooldowns decides and records notification suppression.
type Cooldowns interface {
	IsInCooldown(ctx context.Context, key model.CooldownKey) bool
	RecordSent(ctx context.Context, key model.CooldownKey, fact alerts.Fact) error
}

// Registry resolves and prunes device tokens.
type Registry interface {
	TokensForUsers(ctx context.Context, userIDs []string) (map[string][]string, error)
	DeleteDeviceByToken(ctx context.Context, token string) error
}

// Renderer turns a fact into a push message.
type Renderer interface {
	Render(fact alerts.Fact, loc model.Location) (push.Message, error)
}

// Publisher receives the summary of every finished cycle.
type Publisher interface {
	PublishCycle(ctx context.Context, cycleID string, summary any) error
}

// Deps are the collaborators of a Dispatcher. Publisher and Notifiers are optional.
type Deps struct {
	Locator   Locator
	Limiter   Limiter
	Provider  weather.Provider
	Cooldowns Cooldowns
	Registry  Registry
	Transport push.Transport
	Renderer  Renderer
	Publisher Publisher
	Notifiers []notify.Notifier
}

// Config tunes a Dispatcher.
type Config struct {
	MaxWait       time.Duration // Longest wait for a request slot per location
	FetchTimeout  time.Duration
	LookupTimeout time.Duration // Device token lookup per location
	SendTimeout   time.Duration
	Pace          bool // Space provider requests by the limiter's optimal delay

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		MaxWait:       5 * time.Second,
		FetchTimeout:  15 * time.Second,
		LookupTimeout: 10 * time.Second,
		SendTimeout:   30 * time.Second,
		Pace:          true,
	}
}

// Dispatcher runs at most one cycle at a time.
type Dispatcher struct {
	deps    Deps
	cfg     Config
	logger  *slog.Logger
	running atomic.Bool
}

// New creates a Dispatcher.
func New(deps Deps, cfg Config, logger *slog.Logger) *Dispatcher {
	def := DefaultConfig()
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = def.MaxWait
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = def.LookupTimeout
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	return &Dispatcher{deps: deps, cfg: cfg, logger: logger}
}

// Running reports whether a cycle is in progress.
func (d *Dispatcher) Running() bool {
	return d.running.Load()
}

// RunCycle processes every located cluster once. It returns an error only when
// the cycle cannot start; per-location failures are reported in the summary.
// When ctx ends, in-flight calls finish, the remaining clusters are abandoned
// and a partial summary is returned.
func (d *Dispatcher) RunCycle(ctx context.Context) (*Summary, error) {
	if !d.running.CompareAndSwap(false, true) {
		return nil, ErrCycleRunning
	}
	defer d.running.Store(false)

	sum := newSummary(uuid.New().String(), d.cfg.Now().UTC())
	log := d.logger.With("cycle_id", sum.CycleID)

	clusters, err := d.deps.Locator.Locations(ctx)
	if err != nil {
		d.broadcast(ctx, notify.Event{
			Level:   notify.LevelCritical,
			Kind:    notify.KindCycleFailed,
			CycleID: sum.CycleID,
			Message: err.Error(),
		})
		return nil, fmt.Errorf("load locations: %w", err)
	}
	sum.LocationsTotal = len(clusters)
	log.Info("dispatch cycle started", "locations", len(clusters))

	budget := d.deps.Limiter.MaxAllowedRequests()
	work := clusters
	if len(clusters) > budget {
		work = clusters[:budget]
		for _, c := range clusters[budget:] {
			sum.skip(c.Location, c.RecipientCount, SkipBudgetExhausted, nil)
		}
		log.Warn("request budget truncated locations",
			"processed", len(work),
			"skipped", len(clusters)-budget,
			"budget", budget,
		)
	}

	var delay time.Duration
	if d.cfg.Pace && len(work) > 1 {
		delay = d.deps.Limiter.OptimalDelay(len(work))
	}

	for i, c := range work {
		if ctx.Err() == nil && i > 0 && delay > 0 {
			_ = d.cfg.Sleep(ctx, delay)
		}
		if ctx.Err() != nil {
			for _, rest := range work[i:] {
				sum.skip(rest.Location, rest.RecipientCount, SkipDeadline, ctx.Err())
			}
			log.Warn("cycle deadline reached, abandoning locations", "abandoned", len(work)-i)
			break
		}
		d.processLocation(ctx, log, c, sum)
	}

	d.finish(ctx, log, sum)
	return sum, nil
}

func (d *Dispatcher) processLocation(ctx context.Context, log *slog.Logger, c cluster.Cluster, sum *Summary) {
	log = log.With("latitude", c.Latitude, "longitude", c.Longitude)

	if !d.deps.Limiter.Acquire(ctx, d.cfg.MaxWait) {
		if ctx.Err() != nil {
			sum.skip(c.Location, c.RecipientCount, SkipDeadline, ctx.Err())
			return
		}
		log.Warn("no request slot within max wait, skipping location", "max_wait_ms", d.cfg.MaxWait.Milliseconds())
		sum.skip(c.Location, c.RecipientCount, SkipLimiterTimeout, nil)
		return
	}

	// In-flight calls outlive the cycle deadline; their own timeouts bound them.
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.FetchTimeout)
	facts, err := d.deps.Provider.Fetch(fetchCtx, c.Latitude, c.Longitude)
	cancel()
	if err != nil {
		log.Warn("weather fetch failed, skipping location", "provider", d.deps.Provider.Name(), "error", err)
		sum.skip(c.Location, c.RecipientCount, SkipFetchFailed, err)
		return
	}

	var notifiable []alerts.Fact
	for _, f := range facts {
		if f.ShouldNotify() {
			notifiable = append(notifiable, f)
		}
	}
	if len(notifiable) == 0 {
		sum.LocationsProcessed++
		log.Debug("no alerts for location", "recipients", c.RecipientCount)
		return
	}

	lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.LookupTimeout)
	tokens, err := d.deps.Registry.TokensForUsers(lookupCtx, c.RecipientIDs)
	cancel()
	if err != nil {
		log.Error("device lookup failed, skipping location", "error", err)
		sum.skip(c.Location, c.RecipientCount, SkipRegistryFailed, err)
		return
	}
	sum.LocationsProcessed++

	for _, fact := range notifiable {
		d.dispatchFact(ctx, log, c, fact, tokens, sum)
	}
}

// dispatchFact sends one fact to every recipient of c not in cooldown for it.
// tokens is updated in place when tokens are pruned.
func (d *Dispatcher) dispatchFact(ctx context.Context, log *slog.Logger, c cluster.Cluster, fact alerts.Fact, tokens map[string][]string, sum *Summary) {
	counts := sum.typeCounts(fact.Type)
	counts.Detected++
	sum.AlertsDetected++
	log = log.With("alert_type", fact.Type, "severity", fact.Severity)

	// Cooldown reads and writes happen after the deadline too so a sent batch is always recorded.
	bg := context.WithoutCancel(ctx)

	owner := make(map[string]string)
	var batch []string
	for _, rid := range c.RecipientIDs {
		if d.deps.Cooldowns.IsInCooldown(bg, cooldown.Key(rid, c.Location, fact.Type)) {
			counts.Cooldown++
			sum.RecipientsInCooldown++
			continue
		}
		if len(tokens[rid]) == 0 {
			sum.RecipientsNoDevices++
			continue
		}
		for _, tok := range tokens[rid] {
			owner[tok] = rid
			batch = append(batch, tok)
		}
	}
	if len(batch) == 0 {
		return
	}

	msg, err := d.deps.Renderer.Render(fact, c.Location)
	if err != nil {
		log.Error("render push message failed", "error", err)
		counts.Failures += len(batch)
		sum.Failures += len(batch)
		return
	}

	sendCtx, cancel := context.WithTimeout(bg, d.cfg.SendTimeout)
	outcomes, err := d.deps.Transport.SendBatch(sendCtx, batch, msg)
	cancel()
	if err != nil {
		log.Warn("push batch failed", "tokens", len(batch), "error", err)
		counts.Failures += len(batch)
		sum.Failures += len(batch)
		sum.Transient += len(batch)
		return
	}

	delivered := make(map[string]bool)
	reported := make(map[string]bool, len(outcomes))
	for _, o := range outcomes {
		rid, ok := owner[o.Token]
		if !ok || reported[o.Token] {
			log.Warn("push outcome for unexpected token ignored")
			continue
		}
		reported[o.Token] = true

		if o.Success {
			delivered[rid] = true
			sum.Deliveries++
			continue
		}
		counts.Failures++
		sum.Failures++
		if !o.ErrorClass.Permanent() {
			sum.Transient++
			log.Debug("transient push failure", "recipient_id", rid, "error", o.Err)
			continue
		}
		d.pruneToken(bg, log, o, rid, tokens, sum)
	}
	if missing := len(batch) - len(reported); missing > 0 {
		log.Warn("push outcomes missing for tokens", "missing", missing)
		counts.Failures += missing
		sum.Failures += missing
		sum.Transient += missing
	}

	for _, rid := range c.RecipientIDs {
		if !delivered[rid] {
			continue
		}
		if err := d.deps.Cooldowns.RecordSent(bg, cooldown.Key(rid, c.Location, fact.Type), fact); err != nil {
			log.Error("record cooldown failed", "recipient_id", rid, "error", err)
		}
		counts.Notified++
		sum.RecipientsNotified++
	}
	log.Info("alert dispatched",
		"recipients", len(delivered),
		"tokens", len(batch),
		"value", fact.Value,
	)
}

func (d *Dispatcher) pruneToken(ctx context.Context, log *slog.Logger, o push.Outcome, rid string, tokens map[string][]string, sum *Summary) {
	err := d.deps.Registry.DeleteDeviceByToken(ctx, o.Token)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Error("remove invalid token failed", "recipient_id", rid, "error", err)
		return
	}
	if err == nil {
		sum.TokensRemoved++
	}
	log.Info("removed invalid device token", "recipient_id", rid, "error_class", o.ErrorClass)

	kept := tokens[rid][:0]
	for _, t := range tokens[rid] {
		if t != o.Token {
			kept = append(kept, t)
		}
	}
	tokens[rid] = kept
}

func (d *Dispatcher) finish(ctx context.Context, log *slog.Logger, sum *Summary) {
	sum.FinishedAt = d.cfg.Now().UTC()
	sum.DurationMS = sum.FinishedAt.Sub(sum.StartedAt).Milliseconds()

	byType := make([]any, 0, 2*len(sum.ByType))
	for _, t := range alerts.AllTypes() {
		if c, ok := sum.ByType[t]; ok {
			byType = append(byType, string(t), c.Detected)
		}
	}
	log.Info("dispatch cycle finished",
		"locations_processed", sum.LocationsProcessed,
		"locations_skipped", sum.LocationsSkipped,
		"alerts", sum.AlertsDetected,
		"notified", sum.RecipientsNotified,
		"cooldown", sum.RecipientsInCooldown,
		"failures", sum.Failures,
		"tokens_removed", sum.TokensRemoved,
		"partial", sum.Partial,
		"duration_ms", sum.DurationMS,
		slog.Group("by_type", byType...),
	)

	if n := sum.SkipReasons[SkipBudgetExhausted]; n > 0 {
		d.broadcast(ctx, notify.Event{
			Level:   notify.LevelWarning,
			Kind:    notify.KindBudgetTruncated,
			CycleID: sum.CycleID,
			Message: fmt.Sprintf("%d of %d locations skipped: weather request budget exhausted", n, sum.LocationsTotal),
			Count:   n,
			Total:   sum.LocationsTotal,
		})
	}
	if n := sum.SkipReasons[SkipLimiterTimeout]; n > 0 {
		d.broadcast(ctx, notify.Event{
			Level:   notify.LevelWarning,
			Kind:    notify.KindLimiterTimeout,
			CycleID: sum.CycleID,
			Message: fmt.Sprintf("%d locations skipped waiting for a request slot", n),
			Count:   n,
			Total:   sum.LocationsTotal,
		})
	}
	if sum.Transient > 0 {
		d.broadcast(ctx, notify.Event{
			Level:   notify.LevelWarning,
			Kind:    notify.KindTransportFailures,
			CycleID: sum.CycleID,
			Message: fmt.Sprintf("%d push deliveries failed transiently and will be retried next cycle", sum.Transient),
			Count:   sum.Transient,
			Total:   sum.Deliveries + sum.Failures,
		})
	}

	if d.deps.Publisher != nil {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := d.deps.Publisher.PublishCycle(pubCtx, sum.CycleID, sum); err != nil {
			log.Warn("publish cycle summary failed", "error", err)
		}
	}
}

func (d *Dispatcher) broadcast(ctx context.Context, event notify.Event) {
	if len(d.deps.Notifiers) == 0 {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	notify.Broadcast(nctx, d.logger, d.deps.Notifiers, event)
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
