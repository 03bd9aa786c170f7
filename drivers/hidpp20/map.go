package hidpp20

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/openmouse/openmouse/hidpp"
	"github.com/openmouse/openmouse/mouse"
)

// Raw LED mode bytes stored in profile records, matching the color effect
// identifiers.
const (
	rawLedOff       = 0x00
	rawLedOn        = 0x01
	rawLedCycle     = 0x03
	rawLedBreathing = 0x0a
)

func ledModeFromRaw(raw uint8) mouse.LedMode {
	switch raw {
	case rawLedOn:
		return mouse.LedOn
	case rawLedCycle:
		return mouse.LedCycle
	case rawLedBreathing:
		return mouse.LedBreathing
	}
	return mouse.LedOff
}

func rawFromLedMode(mode mouse.LedMode) uint8 {
	switch mode {
	case mouse.LedOn:
		return rawLedOn
	case mouse.LedCycle:
		return rawLedCycle
	case mouse.LedBreathing:
		return rawLedBreathing
	}
	return rawLedOff
}

// populateProfile fills a freshly added or reset profile from a decoded
// record. The record is cached so fields the model does not carry survive
// the next commit.
func (d *Driver) populateProfile(p *mouse.Profile, record *hidpp.OnboardProfile, active bool, dpiIndex uint8) {
	if d.records == nil {
		d.records = make(map[int]*hidpp.OnboardProfile)
	}
	d.records[p.Index()] = record

	var caps hidpp.DPIList
	if len(d.sensors) > 0 {
		caps = d.sensors[0].List
	}
	for i, dpi := range record.DPI {
		if dpi == 0 {
			break
		}
		activeSlot := active && int(dpiIndex) == i
		if !active {
			activeSlot = int(record.DefaultDPIIndex) == i
		}
		p.AddResolution(mouse.ResolutionSpec{
			DPI:     dpi,
			Active:  activeSlot,
			Default: int(record.DefaultDPIIndex) == i,
			MinDPI:  caps.Min,
			MaxDPI:  caps.Max,
			StepDPI: caps.Step,
			Values:  caps.Values,
		})
	}

	buttons := int(d.store.Info().ButtonCount)
	if buttons > len(record.Buttons) {
		buttons = len(record.Buttons)
	}
	for i := 0; i < buttons; i++ {
		p.AddButton(d.actionFromBinding(record.Buttons[i]))
	}

	// Profile records store any of the four fixed effects.
	ledModes := []mouse.LedMode{mouse.LedOff, mouse.LedOn, mouse.LedCycle, mouse.LedBreathing}
	for _, led := range record.Leds {
		p.AddLed(mouse.LedSpec{
			Mode:       ledModeFromRaw(led.Mode),
			Color:      mouse.Color{R: led.Color.R, G: led.Color.G, B: led.Color.B},
			PeriodMS:   led.Period,
			Brightness: led.Brightness,
			Modes:      ledModes,
		})
	}
}

// actionFromBinding maps a stored binding to the generic action model.
// Macro bindings are resolved by reading the macro sectors; a macro that
// cannot be decoded degrades to a disabled button rather than failing the
// whole profile load.
func (d *Driver) actionFromBinding(b hidpp.Binding) mouse.Action {
	switch b.Kind {
	case hidpp.BindMouseButton:
		return mouse.Action{Kind: mouse.ActionButton, Button: int(b.Button)}
	case hidpp.BindKey:
		return mouse.Action{Kind: mouse.ActionKey, Modifiers: b.Modifiers, Key: b.Key}
	case hidpp.BindConsumer:
		return mouse.Action{Kind: mouse.ActionConsumer, Consumer: b.Consumer}
	case hidpp.BindSpecial:
		return mouse.Action{Kind: mouse.ActionSpecial, Special: mouse.Special(b.Special)}
	case hidpp.BindMacro:
		events, err := d.store.ReadMacro(b)
		if err != nil {
			d.log.Warn("failed to decode macro, disabling button",
				zap.Uint8("page", b.MacroPage), zap.Error(err))
			return mouse.Action{Kind: mouse.ActionNone}
		}
		return mouse.Action{Kind: mouse.ActionMacro, Macro: stepsFromEvents(events)}
	}
	return mouse.Action{Kind: mouse.ActionNone}
}

func bindingFromAction(a mouse.Action) (hidpp.Binding, error) {
	switch a.Kind {
	case mouse.ActionNone:
		return hidpp.Binding{Kind: hidpp.BindDisabled}, nil
	case mouse.ActionButton:
		if a.Button < 1 || a.Button > 16 {
			return hidpp.Binding{}, fmt.Errorf("mouse button %d out of range", a.Button)
		}
		return hidpp.Binding{Kind: hidpp.BindMouseButton, Button: uint8(a.Button)}, nil
	case mouse.ActionKey:
		return hidpp.Binding{Kind: hidpp.BindKey, Modifiers: a.Modifiers, Key: a.Key}, nil
	case mouse.ActionConsumer:
		return hidpp.Binding{Kind: hidpp.BindConsumer, Consumer: a.Consumer}, nil
	case mouse.ActionSpecial:
		return hidpp.Binding{Kind: hidpp.BindSpecial, Special: uint8(a.Special)}, nil
	}
	return hidpp.Binding{}, fmt.Errorf("action %s has no stored form", a.Kind)
}

func stepsFromEvents(events []hidpp.MacroEvent) []mouse.MacroStep {
	steps := make([]mouse.MacroStep, 0, len(events))
	for _, ev := range events {
		switch ev.Op {
		case hidpp.MacroOpKeyPress:
			steps = append(steps, mouse.MacroStep{Kind: mouse.MacroKeyPress, Modifiers: ev.Modifiers, Key: ev.Key})
		case hidpp.MacroOpKeyRelease:
			steps = append(steps, mouse.MacroStep{Kind: mouse.MacroKeyRelease, Modifiers: ev.Modifiers, Key: ev.Key})
		case hidpp.MacroOpDelay:
			steps = append(steps, mouse.MacroStep{Kind: mouse.MacroWait, DelayMS: ev.DelayMS})
		}
	}
	return steps
}

func eventsFromSteps(steps []mouse.MacroStep) []hidpp.MacroEvent {
	events := make([]hidpp.MacroEvent, 0, len(steps))
	for _, s := range steps {
		switch s.Kind {
		case mouse.MacroKeyPress:
			events = append(events, hidpp.MacroEvent{Op: hidpp.MacroOpKeyPress, Modifiers: s.Modifiers, Key: s.Key})
		case mouse.MacroKeyRelease:
			events = append(events, hidpp.MacroEvent{Op: hidpp.MacroOpKeyRelease, Modifiers: s.Modifiers, Key: s.Key})
		case mouse.MacroWait:
			events = append(events, hidpp.MacroEvent{Op: hidpp.MacroOpDelay, DelayMS: s.DelayMS})
		}
	}
	return events
}

// recordFromProfile builds the sector image of a profile, starting from its
// cached record so fields outside the model keep their values. Macro button
// bindings are left disabled here and patched by writeProfileMacros.
func (d *Driver) recordFromProfile(p *mouse.Profile) (*hidpp.OnboardProfile, error) {
	var record hidpp.OnboardProfile
	if cached, ok := d.records[p.Index()]; ok {
		record = *cached
	}
	record.ReportRateMS = p.ReportRateMS()
	record.Name = p.Name()

	record.DPI = [5]uint16{}
	for i, r := range p.Resolutions() {
		if i >= len(record.DPI) {
			break
		}
		record.DPI[i] = r.DPI()
		if r.IsDefault() {
			record.DefaultDPIIndex = uint8(i)
		}
		if r.IsActive() {
			record.SwitchedDPIIndex = uint8(i)
		}
	}

	for i := range record.Buttons {
		if i >= len(p.Buttons()) {
			break
		}
		a := p.Buttons()[i].Action()
		if a.Kind == mouse.ActionMacro {
			record.Buttons[i] = hidpp.Binding{Kind: hidpp.BindDisabled}
			continue
		}
		b, err := bindingFromAction(a)
		if err != nil {
			return nil, fmt.Errorf("button %d: %w", i, err)
		}
		record.Buttons[i] = b
	}

	for i, led := range p.Leds() {
		if i >= len(record.Leds) {
			break
		}
		record.Leds[i] = hidpp.ProfileLed{
			Mode:       rawFromLedMode(led.Mode()),
			Color:      hidpp.Color{R: led.Color().R, G: led.Color().G, B: led.Color().B},
			Period:     led.PeriodMS(),
			Brightness: led.Brightness(),
		}
	}
	return &record, nil
}

// writeProfileMacros packs every macro of the profile into its macro
// sector and patches the corresponding button bindings in the record. One
// sector per profile holds all of its macros back to back.
func (d *Driver) writeProfileMacros(p *mouse.Profile, record *hidpp.OnboardProfile) error {
	var macros []int
	for i, b := range p.Buttons() {
		if i >= len(record.Buttons) {
			break
		}
		if b.Action().Kind == mouse.ActionMacro {
			macros = append(macros, i)
		}
	}
	if len(macros) == 0 {
		d.records[p.Index()] = record
		return nil
	}

	sector, err := d.macroSector(p.Index())
	if err != nil {
		return err
	}
	size := int(d.store.Info().SectorSize)
	data := make([]byte, size)
	for i := range data {
		data[i] = 0xff
	}
	offset := 0
	for _, i := range macros {
		code, err := hidpp.EncodeMacro(eventsFromSteps(p.Buttons()[i].Action().Macro))
		if err != nil {
			return fmt.Errorf("button %d: %w", i, err)
		}
		if offset+len(code) > size-2 {
			return fmt.Errorf("macros of profile %d exceed sector size %d", p.Index(), size)
		}
		copy(data[offset:], code)
		record.Buttons[i] = hidpp.Binding{
			Kind:        hidpp.BindMacro,
			MacroPage:   uint8(sector),
			MacroOffset: uint16(offset),
		}
		offset += len(code)
	}
	checksum := hidpp.Checksum(data[:size-2])
	data[size-2] = byte(checksum >> 8)
	data[size-1] = byte(checksum)

	if err := d.retryBusy(func() error {
		return d.store.WriteSector(sector, data)
	}); err != nil {
		return err
	}
	d.records[p.Index()] = record
	return nil
}

// macroSector picks the flash sector holding the macros of one profile:
// the first sector past the directory and profile sectors, one per
// profile.
func (d *Driver) macroSector(profileIndex int) (uint16, error) {
	base := uint16(0)
	for _, e := range d.entries {
		if e.Sector > base {
			base = e.Sector
		}
	}
	sector := base + 1 + uint16(profileIndex)
	if sector >= uint16(d.store.Info().SectorCount) {
		return 0, fmt.Errorf("no free sector for macros of profile %d", profileIndex)
	}
	return sector, nil
}
