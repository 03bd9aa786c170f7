package hidpp_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmouse/openmouse/hidpp"
	"github.com/openmouse/openmouse/hidpp/hidpptest"
)

func TestSensorsStepList(t *testing.T) {
	emu := hidpptest.New()
	dev := newTestDevice(t, emu)

	sensors, err := dev.Sensors()
	require.NoError(t, err)
	require.Len(t, sensors, 1)

	s := sensors[0]
	assert.Equal(t, uint16(800), s.DPI)
	assert.Equal(t, uint16(800), s.DefaultDPI)
	assert.Equal(t, uint16(200), s.List.Min)
	assert.Equal(t, uint16(3200), s.List.Max)
	assert.Equal(t, uint16(50), s.List.Step)
	assert.Empty(t, s.List.Values)
}

func TestSensorsDiscreteList(t *testing.T) {
	emu := hidpptest.New()
	emu.Sensors = []hidpptest.Sensor{
		{DPI: 1000, DefaultDPI: 1000, List: []uint16{400, 800, 1000, 1600}},
	}
	dev := newTestDevice(t, emu)

	sensors, err := dev.Sensors()
	require.NoError(t, err)
	require.Len(t, sensors, 1)
	assert.Equal(t, []uint16{400, 800, 1000, 1600}, sensors[0].List.Values)
	assert.Equal(t, uint16(400), sensors[0].List.Min)
	assert.Equal(t, uint16(1600), sensors[0].List.Max)
}

func TestDPIListAccepts(t *testing.T) {
	tests := []struct {
		name string
		list hidpp.DPIList
		dpi  uint16
		want bool
	}{
		{"step in range", hidpp.DPIList{Min: 200, Max: 3200, Step: 50}, 800, true},
		{"step off grid", hidpp.DPIList{Min: 200, Max: 3200, Step: 50}, 825, false},
		{"step below min", hidpp.DPIList{Min: 200, Max: 3200, Step: 50}, 150, false},
		{"step above max", hidpp.DPIList{Min: 200, Max: 3200, Step: 50}, 3250, false},
		{"discrete hit", hidpp.DPIList{Values: []uint16{400, 800}}, 800, true},
		{"discrete miss", hidpp.DPIList{Values: []uint16{400, 800}}, 600, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.list.Accepts(tt.dpi))
		})
	}
}

func TestPointerInfo(t *testing.T) {
	emu := hidpptest.New(hidpptest.WithFeatures(0x0001, 0x2200))
	emu.PointerResolution = 1000
	emu.PointerFlags = hidpp.PointerOSBallistics
	dev := newTestDevice(t, emu)

	info, err := dev.PointerInfo()
	require.NoError(t, err)
	assert.Equal(t, uint16(1000), info.Resolution)
	assert.Equal(t, uint8(hidpp.PointerOSBallistics), info.Flags)
}

func TestSetSensorDPI(t *testing.T) {
	emu := hidpptest.New()
	dev := newTestDevice(t, emu)

	sensors, err := dev.Sensors()
	require.NoError(t, err)
	s := &sensors[0]

	require.NoError(t, dev.SetSensorDPI(s, 1600))
	assert.Equal(t, uint16(1600), s.DPI)
	assert.Equal(t, uint16(1600), emu.Sensors[0].DPI)

	err = dev.SetSensorDPI(s, 833)
	require.Error(t, err)
	var ve *hidpp.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, uint16(1600), emu.Sensors[0].DPI)
}
