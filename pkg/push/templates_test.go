package push_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/alerts"
	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/model"
	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/push"
)

var saoPaulo = model.Location{Latitude: -23.55, Longitude: -46.63}

func TestDefaultTemplates_Render(t *testing.T) {
	tpl := push.DefaultTemplates()

	msg, err := tpl.Render(alerts.Fact{
		Type:       alerts.RainForecast,
		Severity:   alerts.SeverityLight,
		Value:      1.2,
		HoursAhead: 2,
		Message:    "Rain expected in 2h (1.2 mm)",
	}, saoPaulo)
	require.NoError(t, err)

	assert.Equal(t, "Rain on the way", msg.Title)
	assert.Equal(t, "Rain expected in 2h (1.2 mm)", msg.Body)
	assert.Equal(t, "normal", msg.Priority)
	assert.Equal(t, []int{200, 100, 200}, msg.Vibration)
	assert.Equal(t, push.Channel, msg.Channel)
	assert.Equal(t, "rain_forecast_-23.55_-46.63", msg.Tag)
	assert.Equal(t, "2", msg.Data["hours_ahead"])
	assert.Equal(t, "light", msg.Data["severity"])
}

func TestDefaultTemplates_SeverityEscalates(t *testing.T) {
	tpl := push.DefaultTemplates()

	extreme, err := tpl.Render(alerts.Fact{Type: alerts.RainNow, Severity: alerts.SeverityExtreme}, saoPaulo)
	require.NoError(t, err)
	assert.Equal(t, "high", extreme.Priority)
	assert.Len(t, extreme.Vibration, 9)

	strong, err := tpl.Render(alerts.Fact{Type: alerts.Wind, Severity: alerts.SeverityVeryStrong}, saoPaulo)
	require.NoError(t, err)
	assert.Equal(t, "high", strong.Priority)
	assert.Len(t, strong.Vibration, 5)
}

func TestLoadTemplatesFromBytes_Overrides(t *testing.T) {
	tpl, err := push.LoadTemplatesFromBytes([]byte(`
uv_high:
  default:
    title: "UV {{.Severity}}"
    body: "UV index {{printf \"%.1f\" .Value}} at {{.Latitude}},{{.Longitude}}"
  extreme:
    priority: max
`))
	require.NoError(t, err)

	high, err := tpl.Render(alerts.Fact{Type: alerts.UVHigh, Severity: alerts.SeverityHigh, Value: 7.24}, saoPaulo)
	require.NoError(t, err)
	assert.Equal(t, "UV high", high.Title)
	assert.Equal(t, "UV index 7.2 at -23.55,-46.63", high.Body)
	assert.Equal(t, "normal", high.Priority)

	extreme, err := tpl.Render(alerts.Fact{Type: alerts.UVHigh, Severity: alerts.SeverityExtreme, Value: 12}, saoPaulo)
	require.NoError(t, err)
	assert.Equal(t, "max", extreme.Priority)
	assert.Equal(t, "UV extreme", extreme.Title)

	rain, err := tpl.Render(alerts.Fact{Type: alerts.RainNow, Severity: alerts.SeverityHeavy, Message: "pouring"}, saoPaulo)
	require.NoError(t, err)
	assert.Equal(t, "Rain right now", rain.Title)
	assert.Equal(t, "pouring", rain.Body)
}

func TestLoadTemplatesFromBytes_Errors(t *testing.T) {
	_, err := push.LoadTemplatesFromBytes([]byte("hail:\n  default:\n    title: x\n"))
	assert.ErrorContains(t, err, "unknown alert type")

	_, err = push.LoadTemplatesFromBytes([]byte("uv_high:\n  low:\n    title: x\n"))
	assert.ErrorContains(t, err, "not notifiable")

	_, err = push.LoadTemplatesFromBytes([]byte("wind:\n  default:\n    title: \"{{.Nope\"\n"))
	assert.Error(t, err)

	_, err = push.LoadTemplatesFromBytes([]byte("{not yaml"))
	assert.Error(t, err)
}

func TestLoadTemplates_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	require.NoError(t, os.WriteFile(path, []byte("wind:\n  default:\n    title: Windy\n"), 0o644))

	tpl, err := push.LoadTemplates(path)
	require.NoError(t, err)
	msg, err := tpl.Render(alerts.Fact{Type: alerts.Wind, Severity: alerts.SeverityStrong}, saoPaulo)
	require.NoError(t, err)
	assert.Equal(t, "Windy", msg.Title)

	_, err = push.LoadTemplates(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRender_UnknownType(t *testing.T) {
	_, err := push.DefaultTemplates().Render(alerts.Fact{Type: "hail"}, saoPaulo)
	assert.Error(t, err)
}
