// Package mouse is the device-independent model of a configurable pointing
// device: profiles with resolutions, buttons and lights, dirty tracking on
// every mutation, and the driver contract that moves the model to and from
// hardware.
package mouse

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Transport is the raw HID report channel a driver talks through. It
// matches the shape the protocol packages consume, so a single value serves
// both.
type Transport interface {
	WriteReport(data []byte) error
	ReadReport(timeout time.Duration) ([]byte, error)
	Close() error
}

// DeviceInfo identifies a device on the system.
type DeviceInfo struct {
	Path      string
	Name      string
	VendorID  uint16
	ProductID uint16
}

func (i DeviceInfo) String() string {
	return fmt.Sprintf("%04x:%04x %s", i.VendorID, i.ProductID, i.Name)
}

// Device is one managed mouse. Its profile model is populated by the
// driver's Probe and mutated through the profile setters; Commit writes the
// dirty parts back.
type Device struct {
	log    *zap.Logger
	info   DeviceInfo
	tr     Transport
	driver Driver

	mu       sync.Mutex
	profiles []*Profile
}

// New wraps a transport into an unprobed device. The driver is attached by
// the registry's probe loop.
func New(info DeviceInfo, tr Transport, log *zap.Logger) *Device {
	return &Device{
		log:  log.Named("mouse").With(zap.String("device", info.Name)),
		info: info,
		tr:   tr,
	}
}

func (d *Device) Info() DeviceInfo     { return d.info }
func (d *Device) Transport() Transport { return d.tr }
func (d *Device) Driver() Driver       { return d.driver }
func (d *Device) Log() *zap.Logger     { return d.log }

// Attach binds the driver that probed the device. Drivers call this at the
// end of a successful Probe.
func (d *Device) Attach(drv Driver) {
	d.driver = drv
}

// Close closes the underlying transport.
func (d *Device) Close() error {
	return d.tr.Close()
}

// Profiles returns the profile model in index order.
func (d *Device) Profiles() []*Profile {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Profile, len(d.profiles))
	copy(out, d.profiles)
	return out
}

// Profile returns one profile by index.
func (d *Device) Profile(index int) (*Profile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if index < 0 || index >= len(d.profiles) {
		return nil, fmt.Errorf("device has %d profiles, no index %d", len(d.profiles), index)
	}
	return d.profiles[index], nil
}

// ActiveProfile returns the profile the device is currently on, nil when
// the model is empty.
func (d *Device) ActiveProfile() *Profile {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.profiles {
		if p.active {
			return p
		}
	}
	return nil
}

// Dirty reports whether any profile has uncommitted changes.
func (d *Device) Dirty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.profiles {
		if p.dirty {
			return true
		}
	}
	return false
}

// Commit writes every dirty profile back to the hardware. Profiles written
// successfully have their dirty flag cleared even when a later one fails.
func (d *Device) Commit(ctx context.Context) error {
	if d.driver == nil {
		return fmt.Errorf("device %s has no driver", d.info)
	}
	return d.driver.Commit(ctx, d)
}

// SetActiveProfile switches the hardware to the given profile and updates
// the model's active flags on success.
func (d *Device) SetActiveProfile(ctx context.Context, index int) error {
	p, err := d.Profile(index)
	if err != nil {
		return err
	}
	if d.driver == nil {
		return fmt.Errorf("device %s has no driver", d.info)
	}
	if err := d.driver.SetActiveProfile(ctx, d, index); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, other := range d.profiles {
		other.active = false
	}
	p.active = true
	return nil
}

// ReloadProfile re-reads one profile from the hardware, discarding any
// uncommitted model changes to it.
func (d *Device) ReloadProfile(ctx context.Context, index int) error {
	if d.driver == nil {
		return fmt.Errorf("device %s has no driver", d.info)
	}
	return d.driver.ReadProfile(ctx, d, index)
}

// ProfileSpec seeds a profile during probing.
type ProfileSpec struct {
	Name         string
	Enabled      bool
	Active       bool
	ReportRateMS uint8
}

// ResolutionSpec seeds one resolution slot during probing.
type ResolutionSpec struct {
	DPI     uint16
	Active  bool
	Default bool
	MinDPI  uint16
	MaxDPI  uint16
	StepDPI uint16
	Values  []uint16
}

// LedSpec seeds one light during probing.
type LedSpec struct {
	Mode       LedMode
	Color      Color
	PeriodMS   uint16
	Brightness uint8
	Modes      []LedMode
}

// AddProfile appends a clean profile to the model. Drivers call this while
// probing; the profile starts with the dirty flag unset.
func (d *Device) AddProfile(spec ProfileSpec) *Profile {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := &Profile{
		dev:          d,
		index:        len(d.profiles),
		name:         spec.Name,
		enabled:      spec.Enabled,
		active:       spec.Active,
		reportRateMS: spec.ReportRateMS,
	}
	d.profiles = append(d.profiles, p)
	return p
}

// Reset strips a profile's resolutions, buttons and lights so a driver can
// repopulate it from fresh hardware state.
func (p *Profile) Reset(spec ProfileSpec) {
	p.name = spec.Name
	p.enabled = spec.Enabled
	p.active = spec.Active
	p.reportRateMS = spec.ReportRateMS
	p.resolutions = nil
	p.buttons = nil
	p.leds = nil
	p.dirty = false
}

// AddResolution appends a clean resolution slot.
func (p *Profile) AddResolution(spec ResolutionSpec) *Resolution {
	r := &Resolution{
		profile:   p,
		index:     len(p.resolutions),
		dpi:       spec.DPI,
		isActive:  spec.Active,
		isDefault: spec.Default,
		MinDPI:    spec.MinDPI,
		MaxDPI:    spec.MaxDPI,
		StepDPI:   spec.StepDPI,
		Values:    spec.Values,
	}
	p.resolutions = append(p.resolutions, r)
	return r
}

// AddButton appends a clean button.
func (p *Profile) AddButton(a Action) *Button {
	b := &Button{
		profile: p,
		index:   len(p.buttons),
		action:  a,
	}
	p.buttons = append(p.buttons, b)
	return b
}

// AddLed appends a clean light.
func (p *Profile) AddLed(spec LedSpec) *Led {
	l := &Led{
		profile:    p,
		index:      len(p.leds),
		mode:       spec.Mode,
		color:      spec.Color,
		periodMS:   spec.PeriodMS,
		brightness: spec.Brightness,
		Modes:      spec.Modes,
	}
	p.leds = append(p.leds, l)
	return l
}

// ClearDirty marks the profile and everything in it as in sync with the
// hardware. Drivers call this after a successful write, which always covers
// the whole profile record.
func (p *Profile) ClearDirty() {
	p.dirty = false
	for _, r := range p.resolutions {
		r.dirty = false
	}
	for _, b := range p.buttons {
		b.dirty = false
	}
	for _, l := range p.leds {
		l.dirty = false
	}
}
