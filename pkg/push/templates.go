package push

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/alerts"
	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/model"
)

// Channel is the Android notification channel alerts are posted to.
const Channel = "weather_alerts"

// defaultKey selects the template used when no severity-specific one exists.
const defaultKey = "default"

// Template describes how one alert type and severity is presented.
type Template struct {
	Title     string `yaml:"title"`
	Body      string `yaml:"body"`
	Priority  string `yaml:"priority"`
	Vibration []int  `yaml:"vibration"`
}

// TemplateFile is the on-disk layout: alert type, then severity or "default".
type TemplateFile map[string]map[string]Template

type compiled struct {
	Template
	title *template.Template
	body  *template.Template
}

// Templates renders alert facts into push messages.
type Templates struct {
	entries map[alerts.AlertType]map[string]compiled
}

// templateData is what title and body templates can reference.
type templateData struct {
	Type       alerts.AlertType
	Severity   alerts.Severity
	Value      float64
	Message    string
	HoursAhead int
	Latitude   float64
	Longitude  float64
}

var vibrationLadder = [][]int{
	{200, 100, 200},
	{300, 150, 300, 150, 300},
	{400, 200, 400, 200, 400, 200, 400},
	{500, 250, 500, 250, 500, 250, 500, 250, 500},
}

var defaultTitles = map[alerts.AlertType]string{
	alerts.RainNow:      "Rain right now",
	alerts.RainForecast: "Rain on the way",
	alerts.UVHigh:       "High UV index",
	alerts.AirQuality:   "Air quality alert",
	alerts.Wind:         "Strong wind",
	alerts.WindForecast: "Strong gusts ahead",
}

// DefaultTemplates returns the built-in presentation for every alert type.
func DefaultTemplates() *Templates {
	t, err := compile(TemplateFile{})
	if err != nil {
		panic(err)
	}
	return t
}

// LoadTemplates reads a YAML template file. Types or severities it does not
// mention keep the built-in presentation.
func LoadTemplates(path string) (*Templates, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template file %s: %w", path, err)
	}
	t, err := LoadTemplatesFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("template file %s: %w", path, err)
	}
	return t, nil
}

// LoadTemplatesFromBytes parses YAML template data.
func LoadTemplatesFromBytes(data []byte) (*Templates, error) {
	var file TemplateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse template data: %w", err)
	}
	return compile(file)
}

func compile(file TemplateFile) (*Templates, error) {
	t := &Templates{entries: make(map[alerts.AlertType]map[string]compiled)}

	for _, typ := range alerts.AllTypes() {
		scale, _ := typ.Scale()
		set := make(map[string]compiled)
		overrides := file[string(typ)]

		def := merge(Template{
			Title:     defaultTitles[typ],
			Body:      "{{.Message}}",
			Priority:  "high",
			Vibration: vibrationLadder[0],
		}, overrides[defaultKey])
		c, err := compileOne(typ, defaultKey, def)
		if err != nil {
			return nil, err
		}
		set[defaultKey] = c

		notifyRank := scale.Rank(scale.NotifyAt)
		for rank, sev := range scale.Levels {
			if rank < notifyRank {
				continue
			}
			step := min(rank-notifyRank, len(vibrationLadder)-1)
			base := Template{
				Title:     defaultTitles[typ],
				Body:      "{{.Message}}",
				Priority:  "high",
				Vibration: vibrationLadder[step],
			}
			if step == 0 {
				base.Priority = "normal"
			}
			base = merge(merge(base, overrides[defaultKey]), overrides[string(sev)])
			c, err := compileOne(typ, string(sev), base)
			if err != nil {
				return nil, err
			}
			set[string(sev)] = c
		}

		for key := range overrides {
			if _, ok := set[key]; !ok {
				return nil, fmt.Errorf("%s: severity %q is not notifiable", typ, key)
			}
		}
		t.entries[typ] = set
	}

	for key := range file {
		if _, err := alerts.ParseAlertType(key); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func merge(base, o Template) Template {
	if o.Title != "" {
		base.Title = o.Title
	}
	if o.Body != "" {
		base.Body = o.Body
	}
	if o.Priority != "" {
		base.Priority = o.Priority
	}
	if len(o.Vibration) > 0 {
		base.Vibration = o.Vibration
	}
	return base
}

func compileOne(typ alerts.AlertType, key string, tmpl Template) (compiled, error) {
	title, err := template.New(string(typ) + "." + key + ".title").Parse(tmpl.Title)
	if err != nil {
		return compiled{}, fmt.Errorf("%s/%s title: %w", typ, key, err)
	}
	body, err := template.New(string(typ) + "." + key + ".body").Parse(tmpl.Body)
	if err != nil {
		return compiled{}, fmt.Errorf("%s/%s body: %w", typ, key, err)
	}
	return compiled{Template: tmpl, title: title, body: body}, nil
}

// Render builds the push message for fact observed at loc.
func (t *Templates) Render(fact alerts.Fact, loc model.Location) (Message, error) {
	set, ok := t.entries[fact.Type]
	if !ok {
		return Message{}, fmt.Errorf("no template for alert type %q", fact.Type)
	}
	c, ok := set[string(fact.Severity)]
	if !ok {
		c = set[defaultKey]
	}

	data := templateData{
		Type:       fact.Type,
		Severity:   fact.Severity,
		Value:      fact.Value,
		Message:    fact.Message,
		HoursAhead: fact.HoursAhead,
		Latitude:   loc.Latitude,
		Longitude:  loc.Longitude,
	}
	var title, body bytes.Buffer
	if err := c.title.Execute(&title, data); err != nil {
		return Message{}, fmt.Errorf("render title: %w", err)
	}
	if err := c.body.Execute(&body, data); err != nil {
		return Message{}, fmt.Errorf("render body: %w", err)
	}

	lat := strconv.FormatFloat(loc.Latitude, 'f', -1, 64)
	lon := strconv.FormatFloat(loc.Longitude, 'f', -1, 64)
	msg := Message{
		Title:     title.String(),
		Body:      body.String(),
		Priority:  c.Priority,
		Channel:   Channel,
		Tag:       fmt.Sprintf("%s_%s_%s", fact.Type, lat, lon),
		Vibration: c.Vibration,
		Data: map[string]string{
			"type":      string(fact.Type),
			"severity":  string(fact.Severity),
			"value":     strconv.FormatFloat(fact.Value, 'f', -1, 64),
			"latitude":  lat,
			"longitude": lon,
		},
	}
	if fact.HoursAhead > 0 {
		msg.Data["hours_ahead"] = strconv.Itoa(fact.HoursAhead)
	}
	return msg, nil
}
