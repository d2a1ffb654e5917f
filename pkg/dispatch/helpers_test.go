package dispatch_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/alerts"
	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/cluster"
	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/cooldown"
	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/dispatch"
	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/model"
	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/notify"
	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/push"
	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/ratelimit"
	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/storage"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Advance(d)
	return nil
}

type fakeProvider struct {
	mu      sync.Mutex
	facts   map[model.Location][]alerts.Fact
	errs    map[model.Location]error
	calls   []model.Location
	onFetch func(ctx context.Context, loc model.Location)
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Fetch(ctx context.Context, lat, lon float64) ([]alerts.Fact, error) {
	loc := model.Location{Latitude: lat, Longitude: lon}
	if p.onFetch != nil {
		p.onFetch(ctx, loc)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, loc)
	if err := p.errs[loc]; err != nil {
		return nil, err
	}
	return p.facts[loc], nil
}

type fakeTransport struct {
	mu      sync.Mutex
	fail    map[string]push.ErrorClass
	batches [][]string
	msgs    []push.Message
}

func (f *fakeTransport) SendBatch(_ context.Context, tokens []string, msg push.Message) ([]push.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, append([]string(nil), tokens...))
	f.msgs = append(f.msgs, msg)

	// Reverse order: callers must match outcomes by token.
	out := make([]push.Outcome, 0, len(tokens))
	for i := len(tokens) - 1; i >= 0; i-- {
		tok := tokens[i]
		if class, ok := f.fail[tok]; ok {
			out = append(out, push.Outcome{Token: tok, ErrorClass: class})
			continue
		}
		out = append(out, push.Outcome{Token: tok, Success: true})
	}
	return out, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Name() string { return "recording" }

func (r *recordingNotifier) Send(_ context.Context, e notify.Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *recordingNotifier) kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Kind
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

type recordingPublisher struct {
	cycles []string
}

func (p *recordingPublisher) PublishCycle(_ context.Context, cycleID string, _ any) error {
	p.cycles = append(p.cycles, cycleID)
	return nil
}

type env struct {
	db        *storage.SQLStore
	clock     *fakeClock
	limiter   *ratelimit.Limiter
	cooldowns *cooldown.Store
	provider  *fakeProvider
	transport *fakeTransport
	notifier  *recordingNotifier
	publisher *recordingPublisher
	deps      dispatch.Deps
	cfg       dispatch.Config
}

func newEnv(t *testing.T) *env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := storage.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clock := &fakeClock{t: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	e := &env{
		db:        db,
		clock:     clock,
		limiter:   ratelimit.New(ratelimit.DefaultLimits(), logger, ratelimit.WithClock(clock.Now), ratelimit.WithSleeper(clock.Sleep)),
		cooldowns: cooldown.New(db, logger, cooldown.WithClock(clock.Now)),
		provider:  &fakeProvider{facts: map[model.Location][]alerts.Fact{}, errs: map[model.Location]error{}},
		transport: &fakeTransport{fail: map[string]push.ErrorClass{}},
		notifier:  &recordingNotifier{},
		publisher: &recordingPublisher{},
	}
	e.deps = dispatch.Deps{
		Locator:   cluster.New(db, 2),
		Limiter:   e.limiter,
		Provider:  e.provider,
		Cooldowns: e.cooldowns,
		Registry:  db,
		Transport: e.transport,
		Renderer:  push.DefaultTemplates(),
		Publisher: e.publisher,
		Notifiers: []notify.Notifier{e.notifier},
	}
	e.cfg = dispatch.Config{
		MaxWait: 5 * time.Second,
		Pace:    true,
		Now:     clock.Now,
		Sleep:   clock.Sleep,
	}
	return e
}

func (e *env) dispatcher() *dispatch.Dispatcher {
	return dispatch.New(e.deps, e.cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func (e *env) addUser(t *testing.T, id string, lat, lon float64, tokens ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.db.UpsertUser(ctx, &model.User{ID: id}))
	require.NoError(t, e.db.UpdateUserLocation(ctx, id, lat, lon, nil))
	for _, tok := range tokens {
		require.NoError(t, e.db.RegisterDevice(ctx, &model.Device{UserID: id, Token: tok}))
	}
}

func (e *env) inCooldown(id string, loc model.Location, typ alerts.AlertType) bool {
	return e.cooldowns.IsInCooldown(context.Background(), cooldown.Key(id, loc, typ))
}

var (
	here = model.Location{Latitude: 10, Longitude: 20}

	rainModerate = alerts.Fact{Type: alerts.RainNow, Severity: alerts.SeverityModerate, Value: 4.2, Message: "It is raining now (4.2 mm)"}
	uvHigh       = alerts.Fact{Type: alerts.UVHigh, Severity: alerts.SeverityHigh, Value: 7.1, Message: "High UV index: 7.1"}
	uvLow        = alerts.Fact{Type: alerts.UVHigh, Severity: alerts.SeverityLow, Value: 1}
)
