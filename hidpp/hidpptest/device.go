// Package hidpptest provides an in-memory HID++ 2.0 device for tests: a
// Transport whose other end answers root, feature set, mouse pointer,
// adjustable DPI, report rate, battery, LED and onboard profile requests
// from plain Go state.
package hidpptest

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Feature pages the emulator knows how to serve. Kept in sync with the
// production tables by the package tests that use both.
const (
	pageRoot            = 0x0000
	pageFeatureSet      = 0x0001
	pageBatteryLevel    = 0x1000
	pageLedSwControl    = 0x1300
	pageSpecialKeys     = 0x1b04
	pageMousePointer    = 0x2200
	pageAdjustableDPI   = 0x2201
	pageReportRate      = 0x8060
	pageColorLedEffects = 0x8070
	pageOnboardProfiles = 0x8100
)

const (
	errInvalidArgument     = 0x02
	errInvalidFeatureIndex = 0x06
	errInvalidFunctionID   = 0x07
	errBusy                = 0x08
)

var errNoPendingReport = errors.New("hidpptest: no report pending")

// Sensor is one emulated resolution sensor.
type Sensor struct {
	DPI        uint16
	DefaultDPI uint16
	// List holds discrete resolutions; Step switches to range mode using
	// the first and last list entries as bounds.
	List []uint16
	Step uint16
}

// Control is one emulated reprogrammable control.
type Control struct {
	ControlID  uint16
	TaskID     uint16
	Flags      uint8
	RemappedTo uint16
	Reporting  uint8
}

// Led is one emulated software-controllable light. Modes is the advertised
// bitmask, Mode the running one.
type Led struct {
	Type       uint8
	Modes      uint16
	Mode       uint16
	Brightness uint16
	Period     uint16
	OnTime     uint16
	OffTime    uint16
}

// ColorZone is one emulated lighting zone with fixed effect slots.
type ColorZone struct {
	Location   uint16
	Effects    []uint16
	ActiveSlot uint8
	Color      [3]uint8
	Period     uint16
}

// Device emulates one HID++ 2.0 mouse. The zero value is not usable; use
// New.
type Device struct {
	mu    sync.Mutex
	queue [][]byte

	protoMajor uint8
	protoMinor uint8
	features   []uint16

	BatteryLevel  uint8
	BatteryStatus uint8

	Sensors  []Sensor
	RateBits uint8
	RateMS   uint8

	PointerResolution uint16
	PointerFlags      uint8

	Controls []Control

	// BrokenControlID makes the info read of the matching control answer
	// ERR_INVALID_ARGUMENT.
	BrokenControlID uint16

	Leds         []Led
	LedSwControl bool
	ColorZones   []ColorZone

	SectorSize    uint16
	SectorCount   uint8
	ProfileCount  uint8
	Sectors       map[uint16][]byte
	onboardMode   uint8
	activeProfile uint16
	dpiIndex      uint8

	writeOpen   bool
	writeSector uint16
	writeBuf    []byte

	// BusyWrites makes the next n profile memory writes answer ERR_BUSY.
	BusyWrites int

	// DropReads makes the next n reads time out, exercising the settle
	// path.
	DropReads int

	// Requests counts every request frame received.
	Requests int
}

// Option configures the emulated device.
type Option func(*Device)

// WithProtocol overrides the reported protocol version.
func WithProtocol(major, minor uint8) Option {
	return func(d *Device) {
		d.protoMajor = major
		d.protoMinor = minor
	}
}

// WithFeatures replaces the feature table. Index 0 is always the root page.
func WithFeatures(pages ...uint16) Option {
	return func(d *Device) {
		d.features = append([]uint16{pageRoot}, pages...)
	}
}

// New builds an emulated device with a feature table covering every page
// the emulator serves, one 800..3200-step sensor, 1ms report rate and four
// blank profiles.
func New(opts ...Option) *Device {
	d := &Device{
		protoMajor: 4,
		protoMinor: 2,
		features: []uint16{
			pageRoot, pageFeatureSet, pageBatteryLevel, pageSpecialKeys,
			pageAdjustableDPI, pageReportRate, pageOnboardProfiles,
		},
		BatteryLevel: 90,
		Sensors: []Sensor{
			{DPI: 800, DefaultDPI: 800, List: []uint16{200, 3200}, Step: 50},
		},
		RateBits:      0x8b, // 1, 2, 4 and 8 ms
		RateMS:        1,
		SectorSize:    256,
		SectorCount:   16,
		ProfileCount:  4,
		Sectors:       make(map[uint16][]byte),
		onboardMode:   1,
		activeProfile: 1,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Sector returns the content of a sector, a blank 0xff image when it was
// never written.
func (d *Device) Sector(sector uint16) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sector(sector)
}

func (d *Device) sector(sector uint16) []byte {
	if data, ok := d.Sectors[sector]; ok {
		return data
	}
	data := make([]byte, d.SectorSize)
	for i := range data {
		data[i] = 0xff
	}
	d.Sectors[sector] = data
	return data
}

// LoadSector installs sector content, padding with 0xff up to the sector
// size.
func (d *Device) LoadSector(sector uint16, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	full := make([]byte, d.SectorSize)
	for i := range full {
		full[i] = 0xff
	}
	copy(full, data)
	d.Sectors[sector] = full
}

// ActiveProfile returns the 1-based profile the device is on.
func (d *Device) ActiveProfile() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.activeProfile
}

// OnboardMode returns the raw onboard mode byte.
func (d *Device) OnboardMode() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.onboardMode
}

// WriteReport accepts one request frame and queues the reply.
func (d *Device) WriteReport(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(data) != 7 && len(data) != 20 {
		return fmt.Errorf("hidpptest: bad report length %d", len(data))
	}
	d.Requests++
	deviceIndex := data[1]
	subID := data[2]
	address := data[3]
	params := make([]byte, 16)
	copy(params, data[4:])

	reply, errCode := d.handle(subID, address&0xf0, params)
	if errCode != 0 {
		frame := make([]byte, 20)
		frame[0] = 0x11
		frame[1] = deviceIndex
		frame[2] = 0x8f
		frame[3] = subID
		frame[4] = address
		frame[5] = errCode
		d.queue = append(d.queue, frame)
		return nil
	}
	frame := make([]byte, 20)
	frame[0] = 0x11
	frame[1] = deviceIndex
	frame[2] = subID
	frame[3] = address
	copy(frame[4:], reply)
	d.queue = append(d.queue, frame)
	return nil
}

// Inject queues a raw frame ahead of the next reply, emulating unrelated
// traffic arriving on the same receiver.
func (d *Device) Inject(frame []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = append(d.queue, frame)
}

// ReadReport pops the next queued reply or fails like a timed-out read.
func (d *Device) ReadReport(timeout time.Duration) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.DropReads > 0 {
		d.DropReads--
		return nil, errNoPendingReport
	}
	if len(d.queue) == 0 {
		return nil, errNoPendingReport
	}
	frame := d.queue[0]
	d.queue = d.queue[1:]
	return frame, nil
}

// Close discards pending replies.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = nil
	return nil
}

func (d *Device) featureIndex(page uint16) (uint8, bool) {
	for i, p := range d.features {
		if p == page {
			return uint8(i), true
		}
	}
	return 0, false
}

func (d *Device) handle(subID, fn uint8, params []byte) ([]byte, uint8) {
	if int(subID) >= len(d.features) {
		return nil, errInvalidFeatureIndex
	}
	switch d.features[subID] {
	case pageRoot:
		return d.handleRoot(fn, params)
	case pageFeatureSet:
		return d.handleFeatureSet(fn, params)
	case pageBatteryLevel:
		return d.handleBattery(fn)
	case pageLedSwControl:
		return d.handleLeds(fn, params)
	case pageColorLedEffects:
		return d.handleColorZones(fn, params)
	case pageSpecialKeys:
		return d.handleControls(fn, params)
	case pageMousePointer:
		return d.handlePointer(fn)
	case pageAdjustableDPI:
		return d.handleDPI(fn, params)
	case pageReportRate:
		return d.handleRate(fn, params)
	case pageOnboardProfiles:
		return d.handleProfiles(fn, params)
	}
	return nil, errInvalidFeatureIndex
}

func (d *Device) handleRoot(fn uint8, params []byte) ([]byte, uint8) {
	switch fn {
	case 0x00:
		page := uint16(params[0])<<8 | uint16(params[1])
		reply := make([]byte, 16)
		if idx, ok := d.featureIndex(page); ok {
			reply[0] = idx
		}
		return reply, 0
	case 0x10:
		reply := make([]byte, 16)
		reply[0] = d.protoMajor
		reply[1] = d.protoMinor
		reply[2] = params[2]
		return reply, 0
	}
	return nil, errInvalidFunctionID
}

func (d *Device) handleFeatureSet(fn uint8, params []byte) ([]byte, uint8) {
	switch fn {
	case 0x00:
		reply := make([]byte, 16)
		reply[0] = uint8(len(d.features) - 1)
		return reply, 0
	case 0x10:
		idx := int(params[0])
		if idx >= len(d.features) {
			return nil, errInvalidArgument
		}
		reply := make([]byte, 16)
		reply[0] = uint8(d.features[idx] >> 8)
		reply[1] = uint8(d.features[idx])
		return reply, 0
	}
	return nil, errInvalidFunctionID
}

func (d *Device) handleBattery(fn uint8) ([]byte, uint8) {
	if fn != 0x00 {
		return nil, errInvalidFunctionID
	}
	reply := make([]byte, 16)
	reply[0] = d.BatteryLevel
	reply[1] = d.BatteryLevel
	reply[2] = d.BatteryStatus
	return reply, 0
}

func (d *Device) handleLeds(fn uint8, params []byte) ([]byte, uint8) {
	switch fn {
	case 0x00:
		reply := make([]byte, 16)
		reply[0] = uint8(len(d.Leds))
		return reply, 0
	case 0x10:
		idx := int(params[0])
		if idx >= len(d.Leds) {
			return nil, errInvalidArgument
		}
		l := d.Leds[idx]
		reply := make([]byte, 16)
		reply[0] = uint8(idx)
		reply[1] = l.Type
		reply[2] = uint8(l.Modes >> 8)
		reply[3] = uint8(l.Modes)
		return reply, 0
	case 0x20:
		reply := make([]byte, 16)
		if d.LedSwControl {
			reply[0] = 1
		}
		return reply, 0
	case 0x30:
		d.LedSwControl = params[0] != 0
		return make([]byte, 16), 0
	case 0x40:
		idx := int(params[0])
		if idx >= len(d.Leds) {
			return nil, errInvalidArgument
		}
		l := d.Leds[idx]
		reply := make([]byte, 16)
		reply[0] = uint8(idx)
		reply[1] = uint8(l.Mode >> 8)
		reply[2] = uint8(l.Mode)
		switch l.Mode {
		case 0x0004: // blink
			reply[3] = uint8(l.OnTime >> 8)
			reply[4] = uint8(l.OnTime)
			reply[5] = uint8(l.OffTime >> 8)
			reply[6] = uint8(l.OffTime)
		case 0x0080: // breathing
			reply[3] = uint8(l.Brightness >> 8)
			reply[4] = uint8(l.Brightness)
			reply[5] = uint8(l.Period >> 8)
			reply[6] = uint8(l.Period)
		}
		return reply, 0
	case 0x50:
		if !d.LedSwControl {
			return nil, errInvalidArgument
		}
		idx := int(params[0])
		if idx >= len(d.Leds) {
			return nil, errInvalidArgument
		}
		mode := uint16(params[1])<<8 | uint16(params[2])
		if d.Leds[idx].Modes&mode == 0 {
			return nil, errInvalidArgument
		}
		d.Leds[idx].Mode = mode
		switch mode {
		case 0x0004:
			d.Leds[idx].OnTime = uint16(params[3])<<8 | uint16(params[4])
			d.Leds[idx].OffTime = uint16(params[5])<<8 | uint16(params[6])
		case 0x0080:
			d.Leds[idx].Brightness = uint16(params[3])<<8 | uint16(params[4])
			d.Leds[idx].Period = uint16(params[5])<<8 | uint16(params[6])
		}
		return make([]byte, 16), 0
	}
	return nil, errInvalidFunctionID
}

func (d *Device) handleColorZones(fn uint8, params []byte) ([]byte, uint8) {
	switch fn {
	case 0x00:
		reply := make([]byte, 16)
		reply[0] = uint8(len(d.ColorZones))
		return reply, 0
	case 0x10:
		idx := int(params[0])
		if idx >= len(d.ColorZones) {
			return nil, errInvalidArgument
		}
		z := d.ColorZones[idx]
		reply := make([]byte, 16)
		reply[1] = uint8(idx)
		reply[2] = uint8(z.Location >> 8)
		reply[3] = uint8(z.Location)
		reply[4] = uint8(len(z.Effects))
		return reply, 0
	case 0x20:
		idx := int(params[0])
		if idx >= len(d.ColorZones) {
			return nil, errInvalidArgument
		}
		slot := int(params[1])
		if slot >= len(d.ColorZones[idx].Effects) {
			return nil, errInvalidArgument
		}
		id := d.ColorZones[idx].Effects[slot]
		reply := make([]byte, 16)
		reply[2] = uint8(id >> 8)
		reply[3] = uint8(id)
		return reply, 0
	case 0x30:
		idx := int(params[0])
		if idx >= len(d.ColorZones) {
			return nil, errInvalidArgument
		}
		slot := int(params[1])
		if slot >= len(d.ColorZones[idx].Effects) {
			return nil, errInvalidArgument
		}
		z := &d.ColorZones[idx]
		z.ActiveSlot = uint8(slot)
		z.Color = [3]uint8{params[2], params[3], params[4]}
		z.Period = uint16(params[5])<<8 | uint16(params[6])
		return make([]byte, 16), 0
	}
	return nil, errInvalidFunctionID
}

func (d *Device) handleControls(fn uint8, params []byte) ([]byte, uint8) {
	switch fn {
	case 0x00:
		reply := make([]byte, 16)
		reply[0] = uint8(len(d.Controls))
		return reply, 0
	case 0x10:
		idx := int(params[0])
		if idx >= len(d.Controls) {
			return nil, errInvalidArgument
		}
		c := d.Controls[idx]
		if d.BrokenControlID != 0 && c.ControlID == d.BrokenControlID {
			return nil, errInvalidArgument
		}
		reply := make([]byte, 16)
		reply[0] = uint8(c.ControlID >> 8)
		reply[1] = uint8(c.ControlID)
		reply[2] = uint8(c.TaskID >> 8)
		reply[3] = uint8(c.TaskID)
		reply[4] = c.Flags
		return reply, 0
	case 0x20:
		id := uint16(params[0])<<8 | uint16(params[1])
		for _, c := range d.Controls {
			if c.ControlID == id {
				reply := make([]byte, 16)
				reply[0] = params[0]
				reply[1] = params[1]
				reply[2] = uint8(c.RemappedTo >> 8)
				reply[3] = uint8(c.RemappedTo)
				reply[4] = c.Reporting
				return reply, 0
			}
		}
		return nil, errInvalidArgument
	case 0x30:
		id := uint16(params[0])<<8 | uint16(params[1])
		for i := range d.Controls {
			if d.Controls[i].ControlID == id {
				flags := params[2]
				if flags&0x02 != 0 {
					d.Controls[i].Reporting = d.Controls[i].Reporting&^0x01 | flags&0x01
				}
				if flags&0x08 != 0 {
					d.Controls[i].Reporting = d.Controls[i].Reporting&^0x04 | flags&0x04
				}
				if flags&0x20 != 0 {
					d.Controls[i].Reporting = d.Controls[i].Reporting&^0x10 | flags&0x10
				}
				d.Controls[i].RemappedTo = uint16(params[3])<<8 | uint16(params[4])
				return make([]byte, 16), 0
			}
		}
		return nil, errInvalidArgument
	}
	return nil, errInvalidFunctionID
}

func (d *Device) handlePointer(fn uint8) ([]byte, uint8) {
	if fn != 0x00 {
		return nil, errInvalidFunctionID
	}
	reply := make([]byte, 16)
	reply[0] = uint8(d.PointerResolution >> 8)
	reply[1] = uint8(d.PointerResolution)
	reply[2] = d.PointerFlags
	return reply, 0
}

func (d *Device) handleDPI(fn uint8, params []byte) ([]byte, uint8) {
	switch fn {
	case 0x00:
		reply := make([]byte, 16)
		reply[0] = uint8(len(d.Sensors))
		return reply, 0
	case 0x10:
		idx := int(params[0])
		if idx >= len(d.Sensors) {
			return nil, errInvalidArgument
		}
		s := d.Sensors[idx]
		reply := make([]byte, 16)
		reply[0] = uint8(idx)
		off := 1
		put := func(v uint16) {
			reply[off] = uint8(v >> 8)
			reply[off+1] = uint8(v)
			off += 2
		}
		if s.Step != 0 {
			put(s.List[0])
			put(0xe000 + s.Step)
			put(s.List[len(s.List)-1])
		} else {
			for _, v := range s.List {
				put(v)
			}
		}
		return reply, 0
	case 0x20:
		idx := int(params[0])
		if idx >= len(d.Sensors) {
			return nil, errInvalidArgument
		}
		s := d.Sensors[idx]
		reply := make([]byte, 16)
		reply[0] = uint8(idx)
		reply[1] = uint8(s.DPI >> 8)
		reply[2] = uint8(s.DPI)
		reply[3] = uint8(s.DefaultDPI >> 8)
		reply[4] = uint8(s.DefaultDPI)
		return reply, 0
	case 0x30:
		idx := int(params[0])
		if idx >= len(d.Sensors) {
			return nil, errInvalidArgument
		}
		dpi := uint16(params[1])<<8 | uint16(params[2])
		d.Sensors[idx].DPI = dpi
		reply := make([]byte, 16)
		reply[0] = uint8(idx)
		reply[1] = params[1]
		reply[2] = params[2]
		return reply, 0
	}
	return nil, errInvalidFunctionID
}

func (d *Device) handleRate(fn uint8, params []byte) ([]byte, uint8) {
	switch fn {
	case 0x00:
		reply := make([]byte, 16)
		reply[0] = d.RateBits
		return reply, 0
	case 0x10:
		reply := make([]byte, 16)
		reply[0] = d.RateMS
		return reply, 0
	case 0x20:
		ms := params[0]
		if ms < 1 || ms > 8 || d.RateBits&(1<<(ms-1)) == 0 {
			return nil, errInvalidArgument
		}
		d.RateMS = ms
		return make([]byte, 16), 0
	}
	return nil, errInvalidFunctionID
}

func (d *Device) handleProfiles(fn uint8, params []byte) ([]byte, uint8) {
	switch fn {
	case 0x00:
		reply := make([]byte, 16)
		reply[0] = 0x01 // memory model
		reply[1] = 0x01 // profile format
		reply[2] = 0x00 // macro format
		reply[3] = d.ProfileCount
		reply[4] = d.ProfileCount
		reply[5] = 16
		reply[6] = d.SectorCount
		reply[7] = uint8(d.SectorSize >> 8)
		reply[8] = uint8(d.SectorSize)
		return reply, 0
	case 0x10:
		if params[0] != 1 && params[0] != 2 {
			return nil, errInvalidArgument
		}
		d.onboardMode = params[0]
		return make([]byte, 16), 0
	case 0x20:
		reply := make([]byte, 16)
		reply[0] = d.onboardMode
		return reply, 0
	case 0x30:
		n := uint16(params[0])<<8 | uint16(params[1])
		if n < 1 || n > uint16(d.ProfileCount) {
			return nil, errInvalidArgument
		}
		d.activeProfile = n
		return make([]byte, 16), 0
	case 0x40:
		reply := make([]byte, 16)
		reply[0] = uint8(d.activeProfile >> 8)
		reply[1] = uint8(d.activeProfile)
		return reply, 0
	case 0x50:
		sector := uint16(params[0])<<8 | uint16(params[1])
		offset := uint16(params[2])<<8 | uint16(params[3])
		if offset+16 > d.SectorSize {
			return nil, errInvalidArgument
		}
		data := d.sector(sector)
		reply := make([]byte, 16)
		copy(reply, data[offset:offset+16])
		return reply, 0
	case 0x60:
		if d.BusyWrites > 0 {
			d.BusyWrites--
			return nil, errBusy
		}
		d.writeSector = uint16(params[0])<<8 | uint16(params[1])
		d.writeBuf = d.writeBuf[:0]
		d.writeOpen = true
		return make([]byte, 16), 0
	case 0x70:
		if !d.writeOpen {
			return nil, errInvalidArgument
		}
		d.writeBuf = append(d.writeBuf, params[:16]...)
		return make([]byte, 16), 0
	case 0x80:
		if !d.writeOpen {
			return nil, errInvalidArgument
		}
		d.writeOpen = false
		full := make([]byte, d.SectorSize)
		for i := range full {
			full[i] = 0xff
		}
		copy(full, d.writeBuf)
		d.Sectors[d.writeSector] = full
		return make([]byte, 16), 0
	case 0xb0:
		reply := make([]byte, 16)
		reply[0] = d.dpiIndex
		return reply, 0
	case 0xc0:
		d.dpiIndex = params[0]
		return make([]byte, 16), 0
	}
	return nil, errInvalidFunctionID
}
