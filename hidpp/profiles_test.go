package hidpp_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmouse/openmouse/hidpp"
	"github.com/openmouse/openmouse/hidpp/hidpptest"
)

func testProfile() *hidpp.OnboardProfile {
	p := &hidpp.OnboardProfile{
		ReportRateMS:     1,
		DefaultDPIIndex:  1,
		SwitchedDPIIndex: 3,
		DPI:              [5]uint16{400, 800, 1600, 3200, 6400},
		Color:            hidpp.Color{R: 0x20, G: 0x40, B: 0x80},
		PowersaveTimeout: 60,
		PoweroffTimeout:  300,
		Name:             "fps",
	}
	for i := range p.Buttons {
		p.Buttons[i] = hidpp.Binding{Kind: hidpp.BindDisabled}
		p.AltButtons[i] = hidpp.Binding{Kind: hidpp.BindDisabled}
	}
	p.Buttons[0] = hidpp.Binding{Kind: hidpp.BindMouseButton, Button: 1}
	p.Buttons[1] = hidpp.Binding{Kind: hidpp.BindMouseButton, Button: 2}
	p.Buttons[2] = hidpp.Binding{Kind: hidpp.BindKey, Modifiers: 0x01, Key: 0x06}
	p.Buttons[3] = hidpp.Binding{Kind: hidpp.BindMacro, MacroPage: 7, MacroOffset: 0}
	p.Leds[0] = hidpp.ProfileLed{Mode: 0x01, Color: hidpp.Color{R: 0xff}, Period: 500, Brightness: 80}
	return p
}

func openTestProfiles(t *testing.T, emu *hidpptest.Device) (*hidpp.Device, *hidpp.ProfileStore) {
	t.Helper()
	dev := newTestDevice(t, emu)
	store, err := hidpp.OpenProfiles(dev)
	require.NoError(t, err)
	return dev, store
}

func TestChecksum(t *testing.T) {
	// Seeded with 0xffff, so the empty input hashes to the seed.
	assert.Equal(t, uint16(0xffff), hidpp.Checksum(nil))
	a := hidpp.Checksum([]byte{0x01, 0x02, 0x03})
	b := hidpp.Checksum([]byte{0x01, 0x02, 0x04})
	assert.NotEqual(t, a, b)
}

func TestOpenProfilesInfo(t *testing.T) {
	emu := hidpptest.New()
	_, store := openTestProfiles(t, emu)

	info := store.Info()
	assert.Equal(t, uint8(4), info.ProfileCount)
	assert.Equal(t, uint16(256), info.SectorSize)
}

func TestOpenProfilesRejectsRaggedSectorSize(t *testing.T) {
	emu := hidpptest.New()
	emu.SectorSize = 250
	dev := newTestDevice(t, emu)

	_, err := hidpp.OpenProfiles(dev)
	require.Error(t, err)
	assert.ErrorIs(t, err, hidpp.ErrMalformedReply)
}

func TestOnboardMode(t *testing.T) {
	emu := hidpptest.New()
	_, store := openTestProfiles(t, emu)

	onboard, err := store.OnboardMode()
	require.NoError(t, err)
	assert.True(t, onboard)

	require.NoError(t, store.SetOnboardMode(false))
	assert.Equal(t, uint8(2), emu.OnboardMode())

	onboard, err = store.OnboardMode()
	require.NoError(t, err)
	assert.False(t, onboard)
}

func TestDirectoryRoundTrip(t *testing.T) {
	emu := hidpptest.New()
	_, store := openTestProfiles(t, emu)

	entries := []hidpp.DirectoryEntry{
		{Sector: 0x0001, Enabled: true},
		{Sector: 0x0002, Enabled: false},
		{Sector: 0x0003, Enabled: true},
	}
	require.NoError(t, store.WriteDirectory(entries))

	got, err := store.Directory()
	require.NoError(t, err)
	assert.Equal(t, entries, got)
}

func TestDirectoryFallsBackToROM(t *testing.T) {
	emu := hidpptest.New()
	_, store := openTestProfiles(t, emu)

	entries := []hidpp.DirectoryEntry{{Sector: 0x0001, Enabled: true}}
	require.NoError(t, store.WriteDirectory(entries))

	// Move the directory to its ROM copy and blank the user copy, like a
	// device fresh out of the factory.
	emu.LoadSector(0x0100, emu.Sector(0x0000))
	emu.LoadSector(0x0000, nil)

	got, err := store.Directory()
	require.NoError(t, err)
	assert.Equal(t, entries, got)
}

func TestProfileRoundTrip(t *testing.T) {
	emu := hidpptest.New()
	_, store := openTestProfiles(t, emu)

	require.NoError(t, store.WriteDirectory([]hidpp.DirectoryEntry{
		{Sector: 0x0001, Enabled: true},
		{Sector: 0x0002, Enabled: true},
	}))

	p := testProfile()
	require.NoError(t, store.WriteProfile(0, p))

	got, err := store.ReadProfile(0)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestReadProfileFallsBackToROM(t *testing.T) {
	emu := hidpptest.New()
	_, store := openTestProfiles(t, emu)

	require.NoError(t, store.WriteDirectory([]hidpp.DirectoryEntry{
		{Sector: 0x0001, Enabled: true},
	}))
	p := testProfile()
	require.NoError(t, store.WriteProfile(0, p))

	emu.LoadSector(0x0101, emu.Sector(0x0001))
	emu.LoadSector(0x0001, []byte{0xde, 0xad, 0xbe, 0xef})

	got, err := store.ReadProfile(0)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestReadProfileChecksumMismatch(t *testing.T) {
	emu := hidpptest.New()
	_, store := openTestProfiles(t, emu)

	require.NoError(t, store.WriteDirectory([]hidpp.DirectoryEntry{
		{Sector: 0x0001, Enabled: true},
	}))
	require.NoError(t, store.WriteProfile(0, testProfile()))

	// Corrupt both copies so there is nothing valid to fall back to.
	data := emu.Sector(0x0001)
	data[0] ^= 0xff
	emu.LoadSector(0x0001, data)
	emu.LoadSector(0x0101, []byte{0x00})

	_, err := store.ReadProfile(0)
	require.Error(t, err)
	var ce *hidpp.ChecksumError
	assert.ErrorAs(t, err, &ce)
}

func TestActiveProfileSwitch(t *testing.T) {
	emu := hidpptest.New()
	_, store := openTestProfiles(t, emu)

	active, err := store.ActiveProfile()
	require.NoError(t, err)
	assert.Equal(t, 0, active)

	require.NoError(t, store.SetActiveProfile(2))
	assert.Equal(t, uint16(3), emu.ActiveProfile())

	active, err = store.ActiveProfile()
	require.NoError(t, err)
	assert.Equal(t, 2, active)

	err = store.SetActiveProfile(9)
	require.Error(t, err)
	var ve *hidpp.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestDPIIndex(t *testing.T) {
	emu := hidpptest.New()
	_, store := openTestProfiles(t, emu)

	require.NoError(t, store.SetDPIIndex(3))
	idx, err := store.DPIIndex()
	require.NoError(t, err)
	assert.Equal(t, uint8(3), idx)

	err = store.SetDPIIndex(5)
	require.Error(t, err)
	var ve *hidpp.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestWriteAndReadMacro(t *testing.T) {
	emu := hidpptest.New()
	_, store := openTestProfiles(t, emu)

	events := []hidpp.MacroEvent{
		{Op: hidpp.MacroOpKeyPress, Key: 0x04},
		{Op: hidpp.MacroOpDelay, DelayMS: 20},
		{Op: hidpp.MacroOpKeyRelease, Key: 0x04},
	}
	binding, err := store.WriteMacro(0x0007, events)
	require.NoError(t, err)
	assert.Equal(t, hidpp.BindMacro, binding.Kind)
	assert.Equal(t, uint8(7), binding.MacroPage)

	got, err := store.ReadMacro(binding)
	require.NoError(t, err)
	assert.Equal(t, events, got)
}

func TestWriteSectorBusySurfaces(t *testing.T) {
	emu := hidpptest.New()
	_, store := openTestProfiles(t, emu)

	emu.BusyWrites = 1
	data := make([]byte, 256)
	err := store.WriteSector(0x0001, data)
	require.Error(t, err)
	assert.True(t, hidpp.IsDeviceBusy(err))
}
