// Package profileyaml converts a device's profile model to and from a
// YAML document, so configurations can be saved, edited and replayed onto
// a mouse.
package profileyaml

import (
	"fmt"

	"github.com/goccy/go-yaml"

	"github.com/openmouse/openmouse/mouse"
)

// File is the top-level YAML document.
type File struct {
	Profiles []Profile `yaml:"profiles"`
}

type Profile struct {
	Name        string       `yaml:"name,omitempty"`
	Enabled     bool         `yaml:"enabled"`
	RateMS      uint8        `yaml:"rateMs,omitempty"`
	Resolutions []Resolution `yaml:"resolutions,omitempty"`
	Buttons     []Button     `yaml:"buttons,omitempty"`
	Leds        []Led        `yaml:"leds,omitempty"`
}

type Resolution struct {
	DPI     uint16 `yaml:"dpi"`
	Active  bool   `yaml:"active,omitempty"`
	Default bool   `yaml:"default,omitempty"`
}

type Button struct {
	Kind      string      `yaml:"kind"`
	Button    int         `yaml:"button,omitempty"`
	Key       uint8       `yaml:"key,omitempty"`
	Modifiers uint8       `yaml:"modifiers,omitempty"`
	Consumer  uint16      `yaml:"consumer,omitempty"`
	Special   uint8       `yaml:"special,omitempty"`
	Macro     []MacroStep `yaml:"macro,omitempty"`
}

type MacroStep struct {
	Kind      string `yaml:"kind"`
	Key       uint8  `yaml:"key,omitempty"`
	Modifiers uint8  `yaml:"modifiers,omitempty"`
	DelayMS   uint16 `yaml:"delayMs,omitempty"`
}

type Led struct {
	Mode       string `yaml:"mode"`
	Color      Color  `yaml:"color,omitempty"`
	PeriodMS   uint16 `yaml:"periodMs,omitempty"`
	Brightness uint8  `yaml:"brightness,omitempty"`
}

// Color renders as "#rrggbb" in the document.
type Color mouse.Color

func (c Color) MarshalYAML() ([]byte, error) {
	return yaml.Marshal(fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B))
}

func (c *Color) UnmarshalYAML(data []byte) error {
	var s string
	if err := yaml.Unmarshal(data, &s); err != nil {
		return err
	}
	var parsed Color
	if _, err := fmt.Sscanf(s, "#%02x%02x%02x", &parsed.R, &parsed.G, &parsed.B); err != nil {
		return fmt.Errorf("invalid color %q, expected #rrggbb", s)
	}
	*c = parsed
	return nil
}

var actionKinds = map[string]mouse.ActionKind{
	"disabled": mouse.ActionNone,
	"button":   mouse.ActionButton,
	"key":      mouse.ActionKey,
	"consumer": mouse.ActionConsumer,
	"special":  mouse.ActionSpecial,
	"macro":    mouse.ActionMacro,
}

var actionKindNames = map[mouse.ActionKind]string{
	mouse.ActionNone:     "disabled",
	mouse.ActionButton:   "button",
	mouse.ActionKey:      "key",
	mouse.ActionConsumer: "consumer",
	mouse.ActionSpecial:  "special",
	mouse.ActionMacro:    "macro",
}

var stepKinds = map[string]mouse.MacroStepKind{
	"press":   mouse.MacroKeyPress,
	"release": mouse.MacroKeyRelease,
	"wait":    mouse.MacroWait,
}

var stepKindNames = map[mouse.MacroStepKind]string{
	mouse.MacroKeyPress:   "press",
	mouse.MacroKeyRelease: "release",
	mouse.MacroWait:       "wait",
}

var ledModes = map[string]mouse.LedMode{
	"off":       mouse.LedOff,
	"on":        mouse.LedOn,
	"cycle":     mouse.LedCycle,
	"breathing": mouse.LedBreathing,
}

// Snapshot captures the device's profile model.
func Snapshot(dev *mouse.Device) File {
	var f File
	for _, p := range dev.Profiles() {
		profile := Profile{
			Name:    p.Name(),
			Enabled: p.Enabled(),
			RateMS:  p.ReportRateMS(),
		}
		for _, r := range p.Resolutions() {
			profile.Resolutions = append(profile.Resolutions, Resolution{
				DPI:     r.DPI(),
				Active:  r.IsActive(),
				Default: r.IsDefault(),
			})
		}
		for _, b := range p.Buttons() {
			profile.Buttons = append(profile.Buttons, buttonFromAction(b.Action()))
		}
		for _, l := range p.Leds() {
			profile.Leds = append(profile.Leds, Led{
				Mode:       l.Mode().String(),
				Color:      Color(l.Color()),
				PeriodMS:   l.PeriodMS(),
				Brightness: l.Brightness(),
			})
		}
		f.Profiles = append(f.Profiles, profile)
	}
	return f
}

func buttonFromAction(a mouse.Action) Button {
	b := Button{
		Kind:      actionKindNames[a.Kind],
		Button:    a.Button,
		Key:       a.Key,
		Modifiers: a.Modifiers,
		Consumer:  a.Consumer,
		Special:   uint8(a.Special),
	}
	for _, step := range a.Macro {
		b.Macro = append(b.Macro, MacroStep{
			Kind:      stepKindNames[step.Kind],
			Key:       step.Key,
			Modifiers: step.Modifiers,
			DelayMS:   step.DelayMS,
		})
	}
	return b
}

func actionFromButton(b Button) (mouse.Action, error) {
	kind, ok := actionKinds[b.Kind]
	if !ok {
		return mouse.Action{}, fmt.Errorf("unknown button kind %q", b.Kind)
	}
	a := mouse.Action{
		Kind:      kind,
		Button:    b.Button,
		Key:       b.Key,
		Modifiers: b.Modifiers,
		Consumer:  b.Consumer,
		Special:   mouse.Special(b.Special),
	}
	for _, step := range b.Macro {
		stepKind, ok := stepKinds[step.Kind]
		if !ok {
			return mouse.Action{}, fmt.Errorf("unknown macro step kind %q", step.Kind)
		}
		a.Macro = append(a.Macro, mouse.MacroStep{
			Kind:      stepKind,
			Key:       step.Key,
			Modifiers: step.Modifiers,
			DelayMS:   step.DelayMS,
		})
	}
	return a, nil
}

// Marshal renders the document.
func Marshal(f File) ([]byte, error) {
	return yaml.Marshal(f)
}

// Unmarshal parses a document.
func Unmarshal(data []byte) (File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("failed to parse profiles: %w", err)
	}
	return f, nil
}

// Apply copies the document onto the device's model through the profile
// setters, so only actual differences are marked dirty. The document may
// cover fewer profiles than the device has; the rest are left alone.
func Apply(f File, dev *mouse.Device) error {
	profiles := dev.Profiles()
	if len(f.Profiles) > len(profiles) {
		return fmt.Errorf("document has %d profiles, device has %d", len(f.Profiles), len(profiles))
	}
	for i, doc := range f.Profiles {
		if err := applyProfile(doc, profiles[i]); err != nil {
			return fmt.Errorf("profile %d: %w", i, err)
		}
	}
	return nil
}

func applyProfile(doc Profile, p *mouse.Profile) error {
	p.SetName(doc.Name)
	p.SetEnabled(doc.Enabled)
	if doc.RateMS != 0 {
		if err := p.SetReportRate(doc.RateMS); err != nil {
			return err
		}
	}

	resolutions := p.Resolutions()
	if len(doc.Resolutions) > len(resolutions) {
		return fmt.Errorf("document has %d resolutions, profile has %d", len(doc.Resolutions), len(resolutions))
	}
	for i, res := range doc.Resolutions {
		slot := resolutions[i]
		if err := slot.SetDPI(res.DPI); err != nil {
			return err
		}
		if res.Active {
			slot.SetActive()
		}
		if res.Default {
			slot.SetDefault()
		}
	}

	buttons := p.Buttons()
	if len(doc.Buttons) > len(buttons) {
		return fmt.Errorf("document has %d buttons, profile has %d", len(doc.Buttons), len(buttons))
	}
	for i, btn := range doc.Buttons {
		action, err := actionFromButton(btn)
		if err != nil {
			return fmt.Errorf("button %d: %w", i, err)
		}
		buttons[i].SetAction(action)
	}

	leds := p.Leds()
	if len(doc.Leds) > len(leds) {
		return fmt.Errorf("document has %d leds, profile has %d", len(doc.Leds), len(leds))
	}
	for i, led := range doc.Leds {
		mode, ok := ledModes[led.Mode]
		if !ok {
			return fmt.Errorf("led %d: unknown mode %q", i, led.Mode)
		}
		l := leds[i]
		if err := l.SetMode(mode); err != nil {
			return fmt.Errorf("led %d: %w", i, err)
		}
		l.SetColor(mouse.Color(led.Color))
		if led.PeriodMS != 0 {
			l.SetPeriod(led.PeriodMS)
		}
		if led.Brightness != 0 {
			l.SetBrightness(led.Brightness)
		}
	}
	return nil
}
