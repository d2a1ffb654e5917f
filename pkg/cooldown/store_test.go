package cooldown_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/alerts"
	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/cooldown"
	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/model"
	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/storage"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func newStore(t *testing.T, c *clock) (*cooldown.Store, *storage.SQLStore) {
	t.Helper()
	db, err := storage.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return cooldown.New(db, logger, cooldown.WithClock(c.Now)), db
}

var (
	loc  = model.Location{Latitude: 10, Longitude: 20}
	rain = alerts.Fact{Type: alerts.RainNow, Severity: alerts.SeverityModerate, Value: 3.2}
)

func TestStore_WindowBoundary(t *testing.T) {
	c := &clock{t: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	s, _ := newStore(t, c)
	ctx := context.Background()
	key := cooldown.Key("R", loc, alerts.RainNow)

	assert.False(t, s.IsInCooldown(ctx, key))
	require.NoError(t, s.RecordSent(ctx, key, rain))

	c.t = c.t.Add(30 * time.Minute)
	assert.True(t, s.IsInCooldown(ctx, key))

	c.t = c.t.Add(31 * time.Minute)
	assert.False(t, s.IsInCooldown(ctx, key))
}

func TestStore_AlertTypesAreIndependent(t *testing.T) {
	c := &clock{t: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	s, _ := newStore(t, c)
	ctx := context.Background()

	require.NoError(t, s.RecordSent(ctx, cooldown.Key("R", loc, alerts.RainNow), rain))

	assert.True(t, s.IsInCooldown(ctx, cooldown.Key("R", loc, alerts.RainNow)))
	assert.False(t, s.IsInCooldown(ctx, cooldown.Key("R", loc, alerts.UVHigh)))
	assert.False(t, s.IsInCooldown(ctx, cooldown.Key("other", loc, alerts.RainNow)))
	assert.False(t, s.IsInCooldown(ctx, cooldown.Key("R", model.Location{Latitude: 10.01, Longitude: 20}, alerts.RainNow)))
}

func TestStore_RecordSentIsUpsert(t *testing.T) {
	c := &clock{t: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	s, db := newStore(t, c)
	ctx := context.Background()
	key := cooldown.Key("R", loc, alerts.RainNow)

	for i := 0; i < 4; i++ {
		fact := rain
		fact.Value = float64(i)
		require.NoError(t, s.RecordSent(ctx, key, fact))
		c.t = c.t.Add(10 * time.Minute)
	}

	records, err := db.ListCooldowns(ctx, "R")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 3.0, records[0].AlertValue)
	assert.Equal(t, "moderate", records[0].Severity)
}

func TestStore_RefreshExtendsWindow(t *testing.T) {
	c := &clock{t: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	s, _ := newStore(t, c)
	ctx := context.Background()
	key := cooldown.Key("R", loc, alerts.RainNow)

	require.NoError(t, s.RecordSent(ctx, key, rain))
	c.t = c.t.Add(50 * time.Minute)
	require.NoError(t, s.RecordSent(ctx, key, rain))
	c.t = c.t.Add(50 * time.Minute)

	assert.True(t, s.IsInCooldown(ctx, key))
}

func TestStore_List(t *testing.T) {
	c := &clock{t: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	s, _ := newStore(t, c)
	ctx := context.Background()

	require.NoError(t, s.RecordSent(ctx, cooldown.Key("R", loc, alerts.RainNow), rain))
	c.t = c.t.Add(90 * time.Minute)
	require.NoError(t, s.RecordSent(ctx, cooldown.Key("R", loc, alerts.UVHigh),
		alerts.Fact{Type: alerts.UVHigh, Severity: alerts.SeverityHigh, Value: 7}))

	entries, err := s.List(ctx, "R")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byType := map[string]cooldown.Entry{}
	for _, e := range entries {
		byType[e.AlertType] = e
	}
	assert.False(t, byType["rain_now"].Active)
	assert.True(t, byType["uv_high"].Active)
	assert.True(t, c.t.Add(time.Hour).Equal(byType["uv_high"].ExpiresAt))
}

func TestStore_Sweep(t *testing.T) {
	c := &clock{t: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	s, db := newStore(t, c)
	ctx := context.Background()

	require.NoError(t, s.RecordSent(ctx, cooldown.Key("old", loc, alerts.Wind), rain))
	c.t = c.t.Add(110 * time.Minute)
	require.NoError(t, s.RecordSent(ctx, cooldown.Key("new", loc, alerts.Wind), rain))
	c.t = c.t.Add(15 * time.Minute)

	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	records, err := db.ListCooldowns(ctx, "")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "new", records[0].RecipientID)
}

type brokenDB struct{ err error }

func (b brokenDB) GetCooldown(context.Context, model.CooldownKey) (*model.CooldownRecord, error) {
	return nil, b.err
}
func (b brokenDB) UpsertCooldown(context.Context, *model.CooldownRecord) error { return b.err }
func (b brokenDB) ListCooldowns(context.Context, string) ([]model.CooldownRecord, error) {
	return nil, b.err
}
func (b brokenDB) DeleteCooldownsBefore(context.Context, time.Time) (int64, error) { return 0, b.err }

func TestStore_FailOpen(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	s := cooldown.New(brokenDB{err: errors.New("disk I/O error")}, logger)

	assert.False(t, s.IsInCooldown(context.Background(), cooldown.Key("R", loc, alerts.RainNow)))
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "disk I/O error")
}

func TestStore_RecordSentError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := cooldown.New(brokenDB{err: errors.New("readonly")}, logger)

	err := s.RecordSent(context.Background(), cooldown.Key("R", loc, alerts.RainNow), rain)
	assert.ErrorContains(t, err, "record cooldown")
}

func TestNew_Options(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := cooldown.New(brokenDB{}, logger, cooldown.WithWindow(15*time.Minute), cooldown.WithWindow(0))
	assert.Equal(t, 15*time.Minute, s.Window())
}
