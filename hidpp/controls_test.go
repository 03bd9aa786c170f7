package hidpp_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmouse/openmouse/hidpp"
	"github.com/openmouse/openmouse/hidpp/hidpptest"
)

func TestControls(t *testing.T) {
	emu := hidpptest.New()
	emu.Controls = []hidpptest.Control{
		{ControlID: 0x0050, TaskID: 0x0038, Flags: hidpp.ControlFlagReprogrammable | hidpp.ControlFlagDivertable},
		{ControlID: 0x0051, TaskID: 0x0039, Flags: hidpp.ControlFlagReprogrammable},
	}
	dev := newTestDevice(t, emu)

	controls, err := dev.Controls()
	require.NoError(t, err)
	require.Len(t, controls, 2)
	assert.Equal(t, uint16(0x0050), controls[0].ControlID)
	assert.Equal(t, uint16(0x0038), controls[0].TaskID)
	assert.NotZero(t, controls[0].Flags&hidpp.ControlFlagDivertable)
}

func TestControlsSkipsUnreadableEntries(t *testing.T) {
	emu := hidpptest.New()
	emu.Controls = []hidpptest.Control{
		{ControlID: 0x0050, TaskID: 0x0038},
		{ControlID: 0x0051, TaskID: 0x0039},
		{ControlID: 0x0052, TaskID: 0x003a},
	}
	emu.BrokenControlID = 0x0051
	dev := newTestDevice(t, emu)

	controls, err := dev.Controls()
	require.NoError(t, err)
	require.Len(t, controls, 2)
	assert.Equal(t, uint16(0x0050), controls[0].ControlID)
	assert.Equal(t, uint16(0x0052), controls[1].ControlID)
}

func TestSetControlReporting(t *testing.T) {
	emu := hidpptest.New()
	emu.Controls = []hidpptest.Control{
		{ControlID: 0x0050, Flags: hidpp.ControlFlagDivertable},
	}
	dev := newTestDevice(t, emu)

	err := dev.SetControlReporting(0x0050, hidpp.Reporting{
		Diverted:   true,
		RemappedTo: 0x0051,
	})
	require.NoError(t, err)

	r, err := dev.ControlReporting(0x0050)
	require.NoError(t, err)
	assert.True(t, r.Diverted)
	assert.False(t, r.Persistent)
	assert.Equal(t, uint16(0x0051), r.RemappedTo)

	err = dev.SetControlReporting(0x9999, hidpp.Reporting{})
	require.Error(t, err)
	var de *hidpp.DeviceError
	assert.ErrorAs(t, err, &de)
}
