package mouse

import "fmt"

// CapabilityError means the device does not advertise the requested mode or
// operation. The request is rejected before any device I/O.
type CapabilityError struct {
	What string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s not supported by this device", e.What)
}

// Color is one RGB triple.
type Color struct {
	R, G, B uint8
}

// LedMode is the effect a LED runs.
type LedMode uint8

const (
	LedOff LedMode = iota
	LedOn
	LedCycle
	LedBreathing
)

func (m LedMode) String() string {
	switch m {
	case LedOff:
		return "off"
	case LedOn:
		return "on"
	case LedCycle:
		return "cycle"
	case LedBreathing:
		return "breathing"
	}
	return fmt.Sprintf("unknown mode %d", uint8(m))
}

// Profile is one named configuration set of a device. Mutations go through
// the setters, which mark the touched entity and its profile dirty;
// Device.Commit writes dirty profiles back to the hardware and clears the
// flags on success.
type Profile struct {
	dev   *Device
	index int
	dirty bool

	name         string
	enabled      bool
	active       bool
	reportRateMS uint8

	resolutions []*Resolution
	buttons     []*Button
	leds        []*Led
}

// Resolution is one sensor resolution slot of a profile.
type Resolution struct {
	profile *Profile
	index   int
	dirty   bool

	dpi       uint16
	isActive  bool
	isDefault bool

	// Accepted resolutions: either discrete values, or a step grid
	// between Min and Max.
	MinDPI  uint16
	MaxDPI  uint16
	StepDPI uint16
	Values  []uint16
}

// Button is one physical button of a profile.
type Button struct {
	profile *Profile
	index   int
	dirty   bool
	action  Action
}

// Led is one light of a profile.
type Led struct {
	profile *Profile
	index   int
	dirty   bool

	mode       LedMode
	color      Color
	periodMS   uint16
	brightness uint8

	// Modes holds the effects the device advertises for this light. An
	// empty list accepts everything.
	Modes []LedMode
}

func (p *Profile) Index() int          { return p.index }
func (p *Profile) Name() string        { return p.name }
func (p *Profile) Enabled() bool       { return p.enabled }
func (p *Profile) Active() bool        { return p.active }
func (p *Profile) ReportRateMS() uint8 { return p.reportRateMS }
func (p *Profile) Dirty() bool         { return p.dirty }

func (p *Profile) Resolutions() []*Resolution { return p.resolutions }
func (p *Profile) Buttons() []*Button         { return p.buttons }
func (p *Profile) Leds() []*Led               { return p.leds }

func (p *Profile) markDirty() {
	p.dirty = true
}

// SetName renames the profile. Drivers bound the length at commit time.
func (p *Profile) SetName(name string) {
	if p.name == name {
		return
	}
	p.name = name
	p.markDirty()
}

// SetEnabled flips the profile's directory enabled flag.
func (p *Profile) SetEnabled(enabled bool) {
	if p.enabled == enabled {
		return
	}
	p.enabled = enabled
	p.markDirty()
}

// SetReportRate sets the report interval in milliseconds.
func (p *Profile) SetReportRate(ms uint8) error {
	if ms < 1 || ms > 8 {
		return fmt.Errorf("report interval %dms out of range", ms)
	}
	if p.reportRateMS == ms {
		return nil
	}
	p.reportRateMS = ms
	p.markDirty()
	return nil
}

func (r *Resolution) Index() int      { return r.index }
func (r *Resolution) DPI() uint16     { return r.dpi }
func (r *Resolution) IsActive() bool  { return r.isActive }
func (r *Resolution) IsDefault() bool { return r.isDefault }
func (r *Resolution) Dirty() bool     { return r.dirty }

func (r *Resolution) markDirty() {
	r.dirty = true
	r.profile.markDirty()
}

// Accepts reports whether the sensor allows the resolution.
func (r *Resolution) Accepts(dpi uint16) bool {
	if r.StepDPI != 0 {
		return dpi >= r.MinDPI && dpi <= r.MaxDPI && (dpi-r.MinDPI)%r.StepDPI == 0
	}
	if len(r.Values) == 0 {
		return true
	}
	for _, v := range r.Values {
		if v == dpi {
			return true
		}
	}
	return false
}

// SetDPI changes the slot's resolution after validating it against the
// sensor's accepted list.
func (r *Resolution) SetDPI(dpi uint16) error {
	if !r.Accepts(dpi) {
		return fmt.Errorf("resolution %d not accepted by the sensor", dpi)
	}
	if r.dpi == dpi {
		return nil
	}
	r.dpi = dpi
	r.markDirty()
	return nil
}

// SetActive makes this slot the live one, clearing the flag on its
// siblings.
func (r *Resolution) SetActive() {
	if r.isActive {
		return
	}
	for _, other := range r.profile.resolutions {
		if other.isActive {
			other.isActive = false
			other.markDirty()
		}
	}
	r.isActive = true
	r.markDirty()
}

// SetDefault makes this slot the power-up one, clearing the flag on its
// siblings.
func (r *Resolution) SetDefault() {
	if r.isDefault {
		return
	}
	for _, other := range r.profile.resolutions {
		if other.isDefault {
			other.isDefault = false
			other.markDirty()
		}
	}
	r.isDefault = true
	r.markDirty()
}

func (b *Button) Index() int     { return b.index }
func (b *Button) Action() Action { return b.action }
func (b *Button) Dirty() bool    { return b.dirty }

// SetAction remaps the button.
func (b *Button) SetAction(a Action) {
	if b.action.Equal(a) {
		return
	}
	b.action = a
	b.dirty = true
	b.profile.markDirty()
}

func (l *Led) Index() int        { return l.index }
func (l *Led) Mode() LedMode     { return l.mode }
func (l *Led) Color() Color      { return l.color }
func (l *Led) PeriodMS() uint16  { return l.periodMS }
func (l *Led) Brightness() uint8 { return l.brightness }
func (l *Led) Dirty() bool       { return l.dirty }

func (l *Led) markDirty() {
	l.dirty = true
	l.profile.markDirty()
}

// Supports reports whether the light advertises the mode.
func (l *Led) Supports(mode LedMode) bool {
	if len(l.Modes) == 0 {
		return true
	}
	for _, m := range l.Modes {
		if m == mode {
			return true
		}
	}
	return false
}

// SetMode changes the LED effect. Modes outside the light's advertised set
// are rejected before any device I/O.
func (l *Led) SetMode(mode LedMode) error {
	if !l.Supports(mode) {
		return &CapabilityError{What: fmt.Sprintf("led mode %q", mode)}
	}
	if l.mode == mode {
		return nil
	}
	l.mode = mode
	l.markDirty()
	return nil
}

// SetColor changes the LED color.
func (l *Led) SetColor(c Color) {
	if l.color == c {
		return
	}
	l.color = c
	l.markDirty()
}

// SetPeriod changes the effect period in milliseconds.
func (l *Led) SetPeriod(ms uint16) {
	if l.periodMS == ms {
		return
	}
	l.periodMS = ms
	l.markDirty()
}

// SetBrightness changes the effect brightness in percent.
func (l *Led) SetBrightness(pct uint8) {
	if l.brightness == pct {
		return
	}
	l.brightness = pct
	l.markDirty()
}
