package hidpp20_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openmouse/openmouse/drivers/hidpp20"
	"github.com/openmouse/openmouse/hidpp"
	"github.com/openmouse/openmouse/hidpp/hidpptest"
	"github.com/openmouse/openmouse/mouse"
)

func noSleep(time.Duration) {}

func protocolOptions() hidpp20.Option {
	return hidpp20.WithDeviceOptions(
		hidpp.WithSleep(noSleep),
		hidpp.WithReadTimeout(10*time.Millisecond),
	)
}

func blankProfile() *hidpp.OnboardProfile {
	p := &hidpp.OnboardProfile{
		ReportRateMS:    1,
		DefaultDPIIndex: 1,
		DPI:             [5]uint16{400, 800, 1600},
	}
	for i := range p.Buttons {
		p.Buttons[i] = hidpp.Binding{Kind: hidpp.BindDisabled}
		p.AltButtons[i] = hidpp.Binding{Kind: hidpp.BindDisabled}
	}
	p.Buttons[0] = hidpp.Binding{Kind: hidpp.BindMouseButton, Button: 1}
	p.Buttons[1] = hidpp.Binding{Kind: hidpp.BindMouseButton, Button: 2}
	p.Leds[0] = hidpp.ProfileLed{Mode: 0x01, Color: hidpp.Color{R: 0xff}}
	return p
}

// seedEmulator loads two profiles into the emulated flash through the
// protocol layer itself.
func seedEmulator(t *testing.T) *hidpptest.Device {
	t.Helper()
	emu := hidpptest.New()
	dev, err := hidpp.NewDevice(emu, 0xff, zap.NewNop(),
		hidpp.WithSleep(noSleep), hidpp.WithReadTimeout(10*time.Millisecond))
	require.NoError(t, err)
	store, err := hidpp.OpenProfiles(dev)
	require.NoError(t, err)
	require.NoError(t, store.WriteDirectory([]hidpp.DirectoryEntry{
		{Sector: 0x0001, Enabled: true},
		{Sector: 0x0002, Enabled: true},
	}))
	first := blankProfile()
	first.Name = "default"
	require.NoError(t, store.WriteProfile(0, first))
	second := blankProfile()
	second.Name = "travel"
	require.NoError(t, store.WriteProfile(1, second))
	return emu
}

func probe(t *testing.T, emu *hidpptest.Device, opts ...hidpp20.Option) (*mouse.Device, *hidpp20.Driver) {
	t.Helper()
	opts = append([]hidpp20.Option{protocolOptions(), hidpp20.WithSleep(noSleep)}, opts...)
	drv := hidpp20.NewDriver(zap.NewNop(), opts...)
	dev := mouse.New(mouse.DeviceInfo{Name: "emulated"}, emu, zap.NewNop())
	require.NoError(t, drv.Probe(context.Background(), dev))
	require.Same(t, drv, dev.Driver(), "probe must attach the driver")
	return dev, drv
}

func TestProbeBuildsModel(t *testing.T) {
	emu := seedEmulator(t)
	dev, _ := probe(t, emu)

	profiles := dev.Profiles()
	require.Len(t, profiles, 2)
	assert.Equal(t, "default", profiles[0].Name())
	assert.Equal(t, "travel", profiles[1].Name())
	assert.True(t, profiles[0].Active())
	assert.False(t, profiles[1].Active())

	res := profiles[0].Resolutions()
	require.Len(t, res, 3)
	assert.Equal(t, uint16(400), res[0].DPI())
	assert.Equal(t, uint16(800), res[1].DPI())
	assert.True(t, res[1].IsDefault())
	assert.Equal(t, uint16(3200), res[0].MaxDPI)

	buttons := profiles[0].Buttons()
	require.Len(t, buttons, 16)
	assert.Equal(t, mouse.Action{Kind: mouse.ActionButton, Button: 1}, buttons[0].Action())
	assert.Equal(t, mouse.ActionNone, buttons[2].Action().Kind)

	leds := profiles[0].Leds()
	require.Len(t, leds, 2)
	assert.Equal(t, mouse.LedOn, leds[0].Mode())
	assert.Equal(t, mouse.Color{R: 0xff}, leds[0].Color())

	assert.False(t, dev.Dirty())
}

func TestCommitWithoutChangesIsIdempotent(t *testing.T) {
	emu := seedEmulator(t)
	dev, _ := probe(t, emu)

	before := emu.Requests
	require.NoError(t, dev.Commit(context.Background()))
	assert.Equal(t, before, emu.Requests, "clean commit must not touch the device")
}

func TestCommitRoundTrips(t *testing.T) {
	emu := seedEmulator(t)
	dev, _ := probe(t, emu)

	p := dev.Profiles()[0]
	require.NoError(t, p.Resolutions()[1].SetDPI(2400))
	p.Buttons()[2].SetAction(mouse.Action{Kind: mouse.ActionKey, Modifiers: 0x01, Key: 0x06})
	p.SetName("fps")
	require.True(t, dev.Dirty())

	require.NoError(t, dev.Commit(context.Background()))
	assert.False(t, dev.Dirty())

	// A second probe of the same flash sees the committed state.
	dev2, _ := probe(t, emu)
	p2 := dev2.Profiles()[0]
	assert.Equal(t, "fps", p2.Name())
	assert.Equal(t, uint16(2400), p2.Resolutions()[1].DPI())
	assert.Equal(t, mouse.Action{Kind: mouse.ActionKey, Modifiers: 0x01, Key: 0x06}, p2.Buttons()[2].Action())
}

func TestCommitWritesOnlyDirtyProfileSector(t *testing.T) {
	emu := hidpptest.New()
	emu.Sensors = []hidpptest.Sensor{
		{DPI: 800, DefaultDPI: 800, List: []uint16{100, 12000}, Step: 50},
	}
	hd, err := hidpp.NewDevice(emu, 0xff, zap.NewNop(),
		hidpp.WithSleep(noSleep), hidpp.WithReadTimeout(10*time.Millisecond))
	require.NoError(t, err)
	store, err := hidpp.OpenProfiles(hd)
	require.NoError(t, err)
	require.NoError(t, store.WriteDirectory([]hidpp.DirectoryEntry{
		{Sector: 0x0001, Enabled: true},
		{Sector: 0x0002, Enabled: true},
	}))
	first := blankProfile()
	first.DPI = [5]uint16{400, 800, 1600, 3200, 6400}
	require.NoError(t, store.WriteProfile(0, first))
	require.NoError(t, store.WriteProfile(1, blankProfile()))

	dev, _ := probe(t, emu)
	p := dev.Profiles()[0]
	res := p.Resolutions()
	require.Len(t, res, 5)

	require.NoError(t, res[2].SetDPI(8150))
	assert.True(t, res[2].Dirty())
	assert.False(t, res[1].Dirty(), "sibling slot must stay clean")

	otherBefore := append([]byte(nil), emu.Sector(0x0002)...)
	require.NoError(t, dev.Commit(context.Background()))
	assert.False(t, dev.Dirty())
	assert.Equal(t, otherBefore, emu.Sector(0x0002), "clean profile's sector must be untouched")

	dev2, _ := probe(t, emu)
	assert.Equal(t, uint16(8150), dev2.Profiles()[0].Resolutions()[2].DPI())
}

func TestCommitClearsOnlyWrittenProfiles(t *testing.T) {
	emu := seedEmulator(t)
	dev, _ := probe(t, emu)

	good := dev.Profiles()[0]
	bad := dev.Profiles()[1]
	good.SetName("renamed")
	// Button 20 has no stored form, so this profile cannot be encoded.
	bad.Buttons()[0].SetAction(mouse.Action{Kind: mouse.ActionButton, Button: 20})

	err := dev.Commit(context.Background())
	require.Error(t, err)
	assert.False(t, good.Dirty(), "written profile must be clean")
	assert.True(t, bad.Dirty(), "failed profile must stay dirty")
}

func TestCommitReassertsActiveResolution(t *testing.T) {
	emu := seedEmulator(t)
	dev, _ := probe(t, emu)

	p := dev.Profiles()[0]
	p.Resolutions()[2].SetActive()
	require.NoError(t, dev.Commit(context.Background()))
	assert.False(t, dev.Dirty())

	// The hardware must have switched to the new slot, so both a reload
	// and a fresh probe see it active.
	require.NoError(t, dev.ReloadProfile(context.Background(), 0))
	assert.True(t, dev.Profiles()[0].Resolutions()[2].IsActive())

	dev2, _ := probe(t, emu)
	assert.True(t, dev2.Profiles()[0].Resolutions()[2].IsActive())
	assert.False(t, dev2.Profiles()[0].Resolutions()[1].IsActive())
}

func TestCommitRetriesBusyDevice(t *testing.T) {
	emu := seedEmulator(t)
	dev, _ := probe(t, emu, hidpp20.WithBusyAttempts(3))

	dev.Profiles()[0].SetName("busy test")
	emu.BusyWrites = 2
	require.NoError(t, dev.Commit(context.Background()))
	assert.False(t, dev.Dirty())
}

func TestCommitGivesUpAfterBusyBound(t *testing.T) {
	emu := seedEmulator(t)
	dev, _ := probe(t, emu, hidpp20.WithBusyAttempts(3))

	dev.Profiles()[0].SetName("busy test")
	emu.BusyWrites = 3
	err := dev.Commit(context.Background())
	require.Error(t, err)
	assert.True(t, hidpp.IsDeviceBusy(err))
	assert.True(t, dev.Profiles()[0].Dirty())
}

func TestCommitMacroRoundTrips(t *testing.T) {
	emu := seedEmulator(t)
	dev, _ := probe(t, emu)

	macro := mouse.Action{Kind: mouse.ActionMacro, Macro: []mouse.MacroStep{
		{Kind: mouse.MacroKeyPress, Modifiers: 0x02, Key: 0x04},
		{Kind: mouse.MacroWait, DelayMS: 50},
		{Kind: mouse.MacroKeyRelease, Modifiers: 0x02, Key: 0x04},
	}}
	dev.Profiles()[0].Buttons()[3].SetAction(macro)
	require.NoError(t, dev.Commit(context.Background()))

	dev2, _ := probe(t, emu)
	assert.Equal(t, macro, dev2.Profiles()[0].Buttons()[3].Action())
}

func TestCommitDisabledProfileUpdatesDirectory(t *testing.T) {
	emu := seedEmulator(t)
	dev, _ := probe(t, emu)

	dev.Profiles()[1].SetEnabled(false)
	require.NoError(t, dev.Commit(context.Background()))

	dev2, _ := probe(t, emu)
	assert.True(t, dev2.Profiles()[0].Enabled())
	assert.False(t, dev2.Profiles()[1].Enabled())
}

func TestSetActiveProfile(t *testing.T) {
	emu := seedEmulator(t)
	dev, _ := probe(t, emu)

	require.NoError(t, dev.SetActiveProfile(context.Background(), 1))
	assert.Equal(t, uint16(2), emu.ActiveProfile())
	assert.True(t, dev.Profiles()[1].Active())
	assert.False(t, dev.Profiles()[0].Active())
}

func TestReloadProfileDropsLocalChanges(t *testing.T) {
	emu := seedEmulator(t)
	dev, _ := probe(t, emu)

	p := dev.Profiles()[0]
	p.SetName("scratch")
	require.True(t, p.Dirty())

	require.NoError(t, dev.ReloadProfile(context.Background(), 0))
	assert.Equal(t, "default", p.Name())
	assert.False(t, p.Dirty())
}

func TestProbeLiveFallback(t *testing.T) {
	emu := hidpptest.New(hidpptest.WithFeatures(
		0x0001, 0x2201, 0x8060,
	))
	dev, _ := probe(t, emu)

	profiles := dev.Profiles()
	require.Len(t, profiles, 1)
	res := profiles[0].Resolutions()
	require.Len(t, res, 1)
	assert.Equal(t, uint16(800), res[0].DPI())

	require.NoError(t, res[0].SetDPI(1600))
	require.NoError(t, profiles[0].SetReportRate(2))
	require.NoError(t, dev.Commit(context.Background()))
	assert.Equal(t, uint16(1600), emu.Sensors[0].DPI)
	assert.Equal(t, uint8(2), emu.RateMS)
	assert.False(t, dev.Dirty())
}

func TestProbeLiveExposesControlButtons(t *testing.T) {
	emu := hidpptest.New(hidpptest.WithFeatures(
		0x0001, 0x1b04, 0x2201, 0x8060,
	))
	emu.Controls = []hidpptest.Control{
		{ControlID: 0x0050, TaskID: 1},
		{ControlID: 0x0051, TaskID: 2},
		{ControlID: 0x00c3, TaskID: 0x00c2}, // gesture, no button slot
	}
	dev, _ := probe(t, emu)

	buttons := dev.Profiles()[0].Buttons()
	require.Len(t, buttons, 3)
	assert.Equal(t, mouse.Action{Kind: mouse.ActionButton, Button: 1}, buttons[0].Action())
	assert.Equal(t, mouse.Action{Kind: mouse.ActionButton, Button: 2}, buttons[1].Action())
	assert.Equal(t, mouse.ActionNone, buttons[2].Action().Kind)
}

func TestProbeFixedPointerFallback(t *testing.T) {
	emu := hidpptest.New(hidpptest.WithFeatures(
		0x0001, 0x2200, 0x8060,
	))
	emu.PointerResolution = 1000
	dev, _ := probe(t, emu)

	profiles := dev.Profiles()
	require.Len(t, profiles, 1)
	res := profiles[0].Resolutions()
	require.Len(t, res, 1)
	assert.Equal(t, uint16(1000), res[0].DPI())
	require.Error(t, res[0].SetDPI(1600), "fixed resolution must reject changes")

	require.NoError(t, profiles[0].SetReportRate(2))
	require.NoError(t, dev.Commit(context.Background()))
	assert.Equal(t, uint8(2), emu.RateMS)
	assert.False(t, dev.Dirty())
}

func TestRegistryProbe(t *testing.T) {
	emu := seedEmulator(t)
	reg := mouse.NewRegistry()
	reg.Register(hidpp20.DriverName, hidpp20.Factory(protocolOptions(), hidpp20.WithSleep(noSleep)))

	dev := mouse.New(mouse.DeviceInfo{Name: "emulated"}, emu, zap.NewNop())
	drv, err := reg.Probe(context.Background(), dev, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, hidpp20.DriverName, drv.Name())
	assert.Same(t, drv, dev.Driver())
	require.Len(t, dev.Profiles(), 2)
}
