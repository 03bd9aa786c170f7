package hidpp_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openmouse/openmouse/hidpp"
	"github.com/openmouse/openmouse/hidpp/hidpptest"
)

func newTestDevice(t *testing.T, emu *hidpptest.Device, opts ...hidpp.DeviceOption) *hidpp.Device {
	t.Helper()
	opts = append([]hidpp.DeviceOption{
		hidpp.WithSleep(func(time.Duration) {}),
		hidpp.WithReadTimeout(10 * time.Millisecond),
	}, opts...)
	dev, err := hidpp.NewDevice(emu, 0xff, zap.NewNop(), opts...)
	require.NoError(t, err)
	return dev
}

func TestNewDeviceProbesFeatures(t *testing.T) {
	emu := hidpptest.New()
	dev := newTestDevice(t, emu)

	major, minor := dev.Protocol()
	assert.Equal(t, uint8(4), major)
	assert.Equal(t, uint8(2), minor)

	features := dev.Features()
	require.NotEmpty(t, features)
	assert.Equal(t, uint16(hidpp.PageRoot), features[0].Page)

	assert.True(t, dev.HasFeature(hidpp.PageOnboardProfiles))
	assert.True(t, dev.HasFeature(hidpp.PageAdjustableDPI))
	assert.False(t, dev.HasFeature(hidpp.PageColorLedEffects))
}

func TestNewDeviceRejectsProtocolOne(t *testing.T) {
	emu := hidpptest.New(hidpptest.WithProtocol(1, 0))
	_, err := hidpp.NewDevice(emu, 0xff, zap.NewNop(),
		hidpp.WithSleep(func(time.Duration) {}))
	require.Error(t, err)
	assert.ErrorIs(t, err, hidpp.ErrNotSupported)
}

func TestRequestMapsErrorReports(t *testing.T) {
	emu := hidpptest.New()
	dev := newTestDevice(t, emu)

	// Function 0xe0 exists on no page.
	_, err := dev.Request(hidpp.Message{
		Report:  hidpp.ReportShort,
		SubID:   0x00,
		Address: 0xe0,
	})
	require.Error(t, err)
	var de *hidpp.DeviceError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, uint8(hidpp.ErrCodeInvalidFunctionID), de.Code)
	assert.False(t, hidpp.IsDeviceBusy(err))
}

func TestRequestRetriesOnceAfterTimeout(t *testing.T) {
	emu := hidpptest.New()
	slept := 0
	dev := newTestDevice(t, emu, hidpp.WithSleep(func(time.Duration) { slept++ }))

	emu.DropReads = 1
	_, err := dev.Request(hidpp.Message{
		Report:  hidpp.ReportShort,
		SubID:   0x00,
		Address: 0x10,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, slept)
}

func TestRequestTimesOutAfterSingleRetry(t *testing.T) {
	emu := hidpptest.New()
	dev := newTestDevice(t, emu)

	emu.DropReads = 2
	_, err := dev.Request(hidpp.Message{
		Report:  hidpp.ReportShort,
		SubID:   0x00,
		Address: 0x10,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, hidpp.ErrTimeout)
}

func TestRequestRejectsPresetSoftwareID(t *testing.T) {
	emu := hidpptest.New()
	dev := newTestDevice(t, emu)

	_, err := dev.Request(hidpp.Message{
		Report:  hidpp.ReportShort,
		SubID:   0x00,
		Address: 0x13,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, hidpp.ErrMalformedReply))
}

func TestRequestIgnoresOtherDeviceTraffic(t *testing.T) {
	emu := hidpptest.New()
	emu.BatteryLevel = 90
	dev := newTestDevice(t, emu)

	// A reply of another device behind the same receiver, matching the
	// feature index and address of the battery request issued below.
	stray := make([]byte, 20)
	stray[0] = 0x11
	stray[1] = 0x01
	stray[2] = 0x02 // battery feature index in the default table
	stray[3] = 0x08
	stray[4] = 0x11 // bogus level
	emu.Inject(stray)

	info, err := dev.Battery()
	require.NoError(t, err)
	assert.Equal(t, uint8(90), info.Level)
}

func TestErrorName(t *testing.T) {
	assert.Equal(t, "ERR_BUSY", hidpp.ErrorName(hidpp.ErrCodeBusy))
	assert.Equal(t, "ERR_INVALID_ARGUMENT", hidpp.ErrorName(hidpp.ErrCodeInvalidArgument))
	assert.Equal(t, "undocumented error 0x42", hidpp.ErrorName(0x42))
}

func TestBattery(t *testing.T) {
	emu := hidpptest.New()
	emu.BatteryLevel = 55
	dev := newTestDevice(t, emu)

	info, err := dev.Battery()
	require.NoError(t, err)
	assert.Equal(t, uint8(55), info.Level)
	assert.Equal(t, hidpp.BatteryDischarging, info.Status)
}

func TestReportRate(t *testing.T) {
	emu := hidpptest.New()
	dev := newTestDevice(t, emu)

	rates, err := dev.ReportRates()
	require.NoError(t, err)
	assert.Equal(t, []uint8{1, 2, 4, 8}, rates.Intervals())

	require.NoError(t, dev.SetReportRate(4))
	ms, err := dev.ReportRate()
	require.NoError(t, err)
	assert.Equal(t, uint8(4), ms)

	err = dev.SetReportRate(3)
	require.Error(t, err)
	var ve *hidpp.ValidationError
	assert.ErrorAs(t, err, &ve)
}
