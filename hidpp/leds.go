package hidpp

import (
	"fmt"
)

// LED software control page functions.
const (
	cmdLedGetCount  = 0x00
	cmdLedGetInfo   = 0x10
	cmdLedGetSwCtrl = 0x20
	cmdLedSetSwCtrl = 0x30
	cmdLedGetState  = 0x40
	cmdLedSetState  = 0x50
)

// LED mode bits. GetInfo reports the supported set as a bitmask; state
// reads and writes carry exactly one of them.
const (
	LedModeOff       uint16 = 0x0001
	LedModeOn        uint16 = 0x0002
	LedModeBlink     uint16 = 0x0004
	LedModeTravel    uint16 = 0x0008
	LedModeRampUp    uint16 = 0x0010
	LedModeRampDown  uint16 = 0x0020
	LedModeHeartbeat uint16 = 0x0040
	LedModeBreathing uint16 = 0x0080
)

// LedInfo describes one software-controllable LED.
type LedInfo struct {
	Index      uint8
	Type       uint8
	Modes      uint16
	ConfigCaps uint8
}

// Supports reports whether the LED can run the given mode.
func (i LedInfo) Supports(mode uint16) bool {
	return i.Modes&mode != 0
}

// LedState is the running state of one LED. Which payload fields are
// meaningful depends on Mode: blink uses OnTime and OffTime, breathing uses
// Brightness and Period.
type LedState struct {
	Index      uint8
	Mode       uint16
	Brightness uint16
	Period     uint16
	OnTime     uint16
	OffTime    uint16
}

// Leds enumerates the software-controllable LEDs.
func (d *Device) Leds() ([]LedInfo, error) {
	f, err := d.GetFeature(PageLedSwControl)
	if err != nil {
		return nil, err
	}
	reply, err := d.Request(Message{
		Report:  ReportShort,
		SubID:   f.Index,
		Address: cmdLedGetCount,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read led count: %w", err)
	}
	count := int(reply.Params[0])

	leds := make([]LedInfo, 0, count)
	for i := 0; i < count; i++ {
		msg := Message{
			Report:  ReportShort,
			SubID:   f.Index,
			Address: cmdLedGetInfo,
		}
		msg.Params[0] = uint8(i)
		reply, err := d.Request(msg)
		if err != nil {
			return nil, fmt.Errorf("failed to read led %d info: %w", i, err)
		}
		leds = append(leds, LedInfo{
			Index:      reply.Params[0],
			Type:       reply.Params[1],
			Modes:      getBE16(reply.Params[2:]),
			ConfigCaps: reply.Params[4],
		})
	}
	return leds, nil
}

// LedSoftwareControl reports whether the LEDs are under software control.
func (d *Device) LedSoftwareControl() (bool, error) {
	f, err := d.GetFeature(PageLedSwControl)
	if err != nil {
		return false, err
	}
	reply, err := d.Request(Message{
		Report:  ReportShort,
		SubID:   f.Index,
		Address: cmdLedGetSwCtrl,
	})
	if err != nil {
		return false, fmt.Errorf("failed to read led control state: %w", err)
	}
	return reply.Params[0] != 0, nil
}

// SetLedSoftwareControl hands LED control to software (true) or back to
// firmware (false). State writes are rejected by firmware while it owns the
// LEDs.
func (d *Device) SetLedSoftwareControl(sw bool) error {
	f, err := d.GetFeature(PageLedSwControl)
	if err != nil {
		return err
	}
	msg := Message{
		Report:  ReportShort,
		SubID:   f.Index,
		Address: cmdLedSetSwCtrl,
	}
	if sw {
		msg.Params[0] = 1
	}
	if _, err := d.Request(msg); err != nil {
		return fmt.Errorf("failed to set led control state: %w", err)
	}
	return nil
}

// LedStateOf reads the running state of one LED.
func (d *Device) LedStateOf(index uint8) (LedState, error) {
	f, err := d.GetFeature(PageLedSwControl)
	if err != nil {
		return LedState{}, err
	}
	msg := Message{
		Report:  ReportShort,
		SubID:   f.Index,
		Address: cmdLedGetState,
	}
	msg.Params[0] = index
	reply, err := d.Request(msg)
	if err != nil {
		return LedState{}, fmt.Errorf("failed to read led %d state: %w", index, err)
	}
	s := LedState{
		Index: reply.Params[0],
		Mode:  getBE16(reply.Params[1:]),
	}
	switch s.Mode {
	case LedModeBlink:
		s.OnTime = getBE16(reply.Params[3:])
		s.OffTime = getBE16(reply.Params[5:])
	case LedModeBreathing:
		s.Brightness = getBE16(reply.Params[3:])
		s.Period = getBE16(reply.Params[5:])
	}
	return s, nil
}

// SetLedState writes the running state of one LED. The mode must be one the
// LED's info record advertises.
func (d *Device) SetLedState(info LedInfo, s LedState) error {
	if !info.Supports(s.Mode) {
		return &ValidationError{What: "led mode", Value: int(s.Mode), Reason: "not supported by this led"}
	}
	f, err := d.GetFeature(PageLedSwControl)
	if err != nil {
		return err
	}
	msg := Message{
		Report:  ReportLong,
		SubID:   f.Index,
		Address: cmdLedSetState,
	}
	msg.Params[0] = info.Index
	putBE16(msg.Params[1:], s.Mode)
	switch s.Mode {
	case LedModeBlink:
		putBE16(msg.Params[3:], s.OnTime)
		putBE16(msg.Params[5:], s.OffTime)
	case LedModeBreathing:
		putBE16(msg.Params[3:], s.Brightness)
		putBE16(msg.Params[5:], s.Period)
	}
	if _, err := d.Request(msg); err != nil {
		return fmt.Errorf("failed to set led %d state: %w", info.Index, err)
	}
	return nil
}

// Color LED effects page functions.
const (
	cmdColorLedGetInfo       = 0x00
	cmdColorLedGetZoneInfo   = 0x10
	cmdColorLedGetEffectInfo = 0x20
	cmdColorLedSetZoneEffect = 0x30
)

// Color zone effect identifiers.
const (
	ColorEffectNone      uint16 = 0x0000
	ColorEffectFixed     uint16 = 0x0001
	ColorEffectCycle     uint16 = 0x0003
	ColorEffectBreathing uint16 = 0x000a
)

// Color is one RGB triple.
type Color struct {
	R, G, B uint8
}

// ColorZone is one independently controllable lighting zone.
type ColorZone struct {
	Index    uint16
	Location uint16
	Effects  []ColorEffect
}

// ColorEffect is one effect slot of a zone.
type ColorEffect struct {
	Slot   uint8
	ID     uint16
	Caps   uint16
	Period uint16
}

// ColorZones enumerates the color effect zones and their effect slots.
func (d *Device) ColorZones() ([]ColorZone, error) {
	f, err := d.GetFeature(PageColorLedEffects)
	if err != nil {
		return nil, err
	}
	reply, err := d.Request(Message{
		Report:  ReportShort,
		SubID:   f.Index,
		Address: cmdColorLedGetInfo,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read color led info: %w", err)
	}
	count := int(reply.Params[0])

	zones := make([]ColorZone, 0, count)
	for i := 0; i < count; i++ {
		msg := Message{
			Report:  ReportShort,
			SubID:   f.Index,
			Address: cmdColorLedGetZoneInfo,
		}
		msg.Params[0] = uint8(i)
		reply, err := d.Request(msg)
		if err != nil {
			return nil, fmt.Errorf("failed to read color zone %d: %w", i, err)
		}
		zone := ColorZone{
			Index:    getBE16(reply.Params[0:]),
			Location: getBE16(reply.Params[2:]),
		}
		slots := int(reply.Params[4])
		for slot := 0; slot < slots; slot++ {
			msg := Message{
				Report:  ReportShort,
				SubID:   f.Index,
				Address: cmdColorLedGetEffectInfo,
			}
			msg.Params[0] = uint8(i)
			msg.Params[1] = uint8(slot)
			reply, err := d.Request(msg)
			if err != nil {
				return nil, fmt.Errorf("failed to read effect %d of zone %d: %w", slot, i, err)
			}
			zone.Effects = append(zone.Effects, ColorEffect{
				Slot:   uint8(slot),
				ID:     getBE16(reply.Params[2:]),
				Caps:   getBE16(reply.Params[4:]),
				Period: getBE16(reply.Params[6:]),
			})
		}
		zones = append(zones, zone)
	}
	return zones, nil
}

// SetZoneEffect starts an effect on one zone. The slot must come from the
// zone's enumerated effect list; color and period apply to effects that use
// them.
func (d *Device) SetZoneEffect(zone ColorZone, slot uint8, c Color, period uint16) error {
	found := false
	for _, e := range zone.Effects {
		if e.Slot == slot {
			found = true
			break
		}
	}
	if !found {
		return &ValidationError{What: "effect slot", Value: int(slot), Reason: "zone has no such effect"}
	}
	f, err := d.GetFeature(PageColorLedEffects)
	if err != nil {
		return err
	}
	msg := Message{
		Report:  ReportLong,
		SubID:   f.Index,
		Address: cmdColorLedSetZoneEffect,
	}
	msg.Params[0] = uint8(zone.Index)
	msg.Params[1] = slot
	msg.Params[2] = c.R
	msg.Params[3] = c.G
	msg.Params[4] = c.B
	putBE16(msg.Params[5:], period)
	if _, err := d.Request(msg); err != nil {
		return fmt.Errorf("failed to set effect on zone %d: %w", zone.Index, err)
	}
	return nil
}
