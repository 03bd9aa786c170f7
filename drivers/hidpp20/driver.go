// Package hidpp20 drives mice speaking HID++ 2.0. Devices with onboard
// profile memory get the full profile model backed by flash sectors; plainer
// devices fall back to a single live profile driven through the adjustable
// DPI and report rate features.
package hidpp20

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/openmouse/openmouse/hidpp"
	"github.com/openmouse/openmouse/mouse"
)

// DriverName is the name the driver registers under.
const DriverName = "hidpp20"

// wiredDeviceIndex addresses a device on its own USB connection rather than
// behind a receiver.
const wiredDeviceIndex = 0xff

var defaultOptions = options{
	busyAttempts: 10,
	busyDelay:    10 * time.Millisecond,
	deviceIndex:  wiredDeviceIndex,
	sleep:        time.Sleep,
}

type options struct {
	busyAttempts int
	busyDelay    time.Duration
	deviceIndex  uint8
	sleep        func(time.Duration)
	deviceOpts   []hidpp.DeviceOption
}

// Option tunes the driver.
type Option func(*options)

// WithBusyAttempts bounds how often a busy device is retried per sector
// write.
func WithBusyAttempts(n int) Option {
	return func(o *options) {
		o.busyAttempts = n
	}
}

// WithBusyDelay sets the pause between busy retries.
func WithBusyDelay(d time.Duration) Option {
	return func(o *options) {
		o.busyDelay = d
	}
}

// WithDeviceIndex addresses a device behind a receiver.
func WithDeviceIndex(index uint8) Option {
	return func(o *options) {
		o.deviceIndex = index
	}
}

// WithSleep injects the sleep used between busy retries.
func WithSleep(fn func(time.Duration)) Option {
	return func(o *options) {
		o.sleep = fn
	}
}

// WithDeviceOptions passes options through to the protocol engine.
func WithDeviceOptions(opts ...hidpp.DeviceOption) Option {
	return func(o *options) {
		o.deviceOpts = append(o.deviceOpts, opts...)
	}
}

// DeviceOptionsFromTuning converts millisecond tuning knobs into protocol
// engine options.
func DeviceOptionsFromTuning(readTimeoutMS, settleDelayMS int) []hidpp.DeviceOption {
	return []hidpp.DeviceOption{
		hidpp.WithReadTimeout(time.Duration(readTimeoutMS) * time.Millisecond),
		hidpp.WithSettleDelay(time.Duration(settleDelayMS) * time.Millisecond),
	}
}

// Driver implements mouse.Driver for one probed device. A fresh instance is
// built per probe attempt.
type Driver struct {
	log     *zap.Logger
	options options

	dev     *hidpp.Device
	store   *hidpp.ProfileStore
	entries []hidpp.DirectoryEntry
	sensors []hidpp.Sensor
	rates   hidpp.ReportRates
	records map[int]*hidpp.OnboardProfile
}

// New builds a driver with default tuning, matching the registry factory
// shape.
func New(log *zap.Logger) mouse.Driver {
	return NewDriver(log)
}

// NewDriver builds a tuned driver.
func NewDriver(log *zap.Logger, opts ...Option) *Driver {
	o := defaultOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &Driver{
		log:     log.Named(DriverName),
		options: o,
	}
}

// Factory adapts tuned construction to the registry factory shape.
func Factory(opts ...Option) mouse.Factory {
	return func(log *zap.Logger) mouse.Driver {
		return NewDriver(log, opts...)
	}
}

func (d *Driver) Name() string {
	return DriverName
}

// Probe speaks HID++ 2.0 to the device and fills the profile model. Devices
// that do not answer the protocol, or answer with protocol 1.0, are
// rejected.
func (d *Driver) Probe(ctx context.Context, dev *mouse.Device) error {
	hd, err := hidpp.NewDevice(dev.Transport(), d.options.deviceIndex, d.log, d.options.deviceOpts...)
	if err != nil {
		return fmt.Errorf("not a hidpp 2.0 device: %w", err)
	}
	d.dev = hd

	if sensors, err := hd.Sensors(); err == nil {
		d.sensors = sensors
	} else if !errors.Is(err, hidpp.ErrNotSupported) {
		return fmt.Errorf("failed to enumerate sensors: %w", err)
	}
	if rates, err := hd.ReportRates(); err == nil {
		d.rates = rates
	} else if !errors.Is(err, hidpp.ErrNotSupported) {
		return fmt.Errorf("failed to read report rates: %w", err)
	}

	store, err := hidpp.OpenProfiles(hd)
	if err != nil {
		if errors.Is(err, hidpp.ErrNotSupported) {
			d.log.Debug("no onboard profiles, using live settings",
				zap.String("device", dev.Info().Name))
			if err := d.probeLive(ctx, dev); err != nil {
				return err
			}
			dev.Attach(d)
			return nil
		}
		return fmt.Errorf("failed to open onboard profiles: %w", err)
	}
	d.store = store
	if err := d.probeOnboard(ctx, dev); err != nil {
		return err
	}
	dev.Attach(d)
	return nil
}

// probeOnboard loads every directory profile into the model.
func (d *Driver) probeOnboard(ctx context.Context, dev *mouse.Device) error {
	// The device must play its onboard memory, otherwise committed
	// profiles would never take effect.
	onboard, err := d.store.OnboardMode()
	if err != nil {
		return err
	}
	if !onboard {
		if err := d.store.SetOnboardMode(true); err != nil {
			return err
		}
	}

	entries, err := d.store.Directory()
	if err != nil {
		return err
	}
	d.entries = entries

	active, err := d.store.ActiveProfile()
	if err != nil {
		return err
	}
	dpiIndex, err := d.store.DPIIndex()
	if err != nil {
		return err
	}

	for i := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		record, err := d.store.ReadProfile(i)
		if err != nil {
			return fmt.Errorf("failed to load profile %d: %w", i, err)
		}
		p := dev.AddProfile(mouse.ProfileSpec{
			Name:         record.Name,
			Enabled:      entries[i].Enabled,
			Active:       i == active,
			ReportRateMS: record.ReportRateMS,
		})
		d.populateProfile(p, record, i == active, dpiIndex)
	}
	return nil
}

// probeLive builds a single pseudo-profile from the device's live settings.
func (d *Driver) probeLive(_ context.Context, dev *mouse.Device) error {
	var fixed *hidpp.PointerInfo
	if len(d.sensors) == 0 {
		// Some mice expose their fixed resolution on the mouse pointer
		// page instead.
		info, err := d.dev.PointerInfo()
		if err != nil {
			if errors.Is(err, hidpp.ErrNotSupported) {
				return fmt.Errorf("device has neither onboard profiles nor adjustable sensors: %w", hidpp.ErrNotSupported)
			}
			return fmt.Errorf("failed to read pointer info: %w", err)
		}
		fixed = &info
	}
	rate := uint8(1)
	if d.rates != 0 {
		if ms, err := d.dev.ReportRate(); err == nil {
			rate = ms
		}
	}
	p := dev.AddProfile(mouse.ProfileSpec{
		Enabled:      true,
		Active:       true,
		ReportRateMS: rate,
	})
	if fixed != nil {
		// The single slot is pinned to the hardware resolution.
		p.AddResolution(mouse.ResolutionSpec{
			DPI:     fixed.Resolution,
			Active:  true,
			Default: true,
			Values:  []uint16{fixed.Resolution},
		})
	} else {
		for i, s := range d.sensors {
			p.AddResolution(mouse.ResolutionSpec{
				DPI:     s.DPI,
				Active:  i == 0,
				Default: i == 0,
				MinDPI:  s.List.Min,
				MaxDPI:  s.List.Max,
				StepDPI: s.List.Step,
				Values:  s.List.Values,
			})
		}
	}

	controls, err := d.dev.Controls()
	if errors.Is(err, hidpp.ErrNotSupported) {
		controls, err = d.dev.ReprogKeys()
	}
	if err != nil && !errors.Is(err, hidpp.ErrNotSupported) {
		return fmt.Errorf("failed to enumerate controls: %w", err)
	}
	// Task IDs 1..16 are the fixed mouse button tasks; other controls
	// (gestures, shortcuts) have no button slot in the model.
	for _, c := range controls {
		action := mouse.Action{Kind: mouse.ActionNone}
		if c.TaskID >= 1 && c.TaskID <= 16 {
			action = mouse.Action{Kind: mouse.ActionButton, Button: int(c.TaskID)}
		}
		p.AddButton(action)
	}
	return nil
}

// Commit writes dirty profiles back. Onboard devices get their sectors and
// the directory rewritten; live devices get the settings applied directly.
// A profile's dirty flag is cleared as soon as its own write succeeds, so a
// failure later in the walk does not force clean profiles to be rewritten.
func (d *Driver) Commit(ctx context.Context, dev *mouse.Device) error {
	if d.store == nil {
		return d.commitLive(ctx, dev)
	}

	var errs error
	wroteActive := false
	for _, p := range dev.Profiles() {
		if !p.Dirty() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		record, err := d.recordFromProfile(p)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("profile %d: %w", p.Index(), err))
			continue
		}
		if err := d.writeProfileMacros(p, record); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("profile %d macros: %w", p.Index(), err))
			continue
		}
		if err := d.retryBusy(func() error {
			return d.store.WriteProfile(p.Index(), record)
		}); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("profile %d: %w", p.Index(), err))
			continue
		}
		if err := d.writeDirectory(dev); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		p.ClearDirty()
		if p.Active() {
			wroteActive = true
		}
		d.log.Debug("profile committed", zap.Int("profile", p.Index()))
	}

	// The firmware only reloads a profile when it switches to it, so
	// re-select the active one to make its new content live, then
	// re-assert its active resolution slot.
	if wroteActive {
		if active := dev.ActiveProfile(); active != nil {
			if err := d.store.SetActiveProfile(active.Index()); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("failed to reload active profile: %w", err))
			}
			for i, r := range active.Resolutions() {
				if r.IsActive() {
					if err := d.store.SetDPIIndex(uint8(i)); err != nil {
						errs = multierr.Append(errs, fmt.Errorf("failed to reselect resolution %d: %w", i, err))
					}
					break
				}
			}
		}
	}
	return errs
}

// commitLive applies the pseudo-profile through the live features.
func (d *Driver) commitLive(ctx context.Context, dev *mouse.Device) error {
	var errs error
	for _, p := range dev.Profiles() {
		if !p.Dirty() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		failed := false
		for i, r := range p.Resolutions() {
			if i >= len(d.sensors) {
				break
			}
			if r.DPI() == d.sensors[i].DPI {
				continue
			}
			if err := d.dev.SetSensorDPI(&d.sensors[i], r.DPI()); err != nil {
				errs = multierr.Append(errs, err)
				failed = true
			}
		}
		if d.rates != 0 {
			if err := d.dev.SetReportRate(p.ReportRateMS()); err != nil {
				errs = multierr.Append(errs, err)
				failed = true
			}
		}
		if !failed {
			p.ClearDirty()
		}
	}
	return errs
}

// ReadProfile discards the model of one profile and reloads it from the
// hardware.
func (d *Driver) ReadProfile(ctx context.Context, dev *mouse.Device, index int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := dev.Profile(index)
	if err != nil {
		return err
	}
	if d.store == nil {
		return fmt.Errorf("live profiles cannot be reloaded: %w", hidpp.ErrNotSupported)
	}
	record, err := d.store.ReadProfile(index)
	if err != nil {
		return err
	}
	active, err := d.store.ActiveProfile()
	if err != nil {
		return err
	}
	dpiIndex, err := d.store.DPIIndex()
	if err != nil {
		return err
	}
	p.Reset(mouse.ProfileSpec{
		Name:         record.Name,
		Enabled:      d.entries[index].Enabled,
		Active:       index == active,
		ReportRateMS: record.ReportRateMS,
	})
	d.populateProfile(p, record, index == active, dpiIndex)
	return nil
}

// SetActiveProfile switches the hardware profile.
func (d *Driver) SetActiveProfile(ctx context.Context, dev *mouse.Device, index int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.store == nil {
		if index != 0 {
			return fmt.Errorf("live devices have a single profile: %w", hidpp.ErrNotSupported)
		}
		return nil
	}
	return d.store.SetActiveProfile(index)
}

// writeDirectory rewrites the profile directory from the model's enabled
// flags.
func (d *Driver) writeDirectory(dev *mouse.Device) error {
	profiles := dev.Profiles()
	entries := make([]hidpp.DirectoryEntry, len(d.entries))
	copy(entries, d.entries)
	changed := false
	for i := range entries {
		if i >= len(profiles) {
			break
		}
		if entries[i].Enabled != profiles[i].Enabled() {
			entries[i].Enabled = profiles[i].Enabled()
			changed = true
		}
	}
	if !changed {
		return nil
	}
	if err := d.retryBusy(func() error {
		return d.store.WriteDirectory(entries)
	}); err != nil {
		return fmt.Errorf("failed to write profile directory: %w", err)
	}
	d.entries = entries
	return nil
}

// retryBusy runs fn, retrying with a pause while the device answers busy.
// The attempt bound covers flash garbage collection stalls seen after many
// sector writes.
func (d *Driver) retryBusy(fn func() error) error {
	var err error
	for attempt := 0; attempt < d.options.busyAttempts; attempt++ {
		err = fn()
		if err == nil || !hidpp.IsDeviceBusy(err) {
			return err
		}
		d.options.sleep(d.options.busyDelay)
	}
	return err
}
