package mouse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newModelDevice() *Device {
	dev := New(DeviceInfo{Name: "test mouse"}, nil, zap.NewNop())
	p := dev.AddProfile(ProfileSpec{Name: "default", Enabled: true, Active: true, ReportRateMS: 1})
	p.AddResolution(ResolutionSpec{DPI: 800, Active: true, Default: true, MinDPI: 200, MaxDPI: 3200, StepDPI: 50})
	p.AddResolution(ResolutionSpec{DPI: 1600, MinDPI: 200, MaxDPI: 3200, StepDPI: 50})
	p.AddButton(Action{Kind: ActionButton, Button: 1})
	p.AddButton(Action{Kind: ActionButton, Button: 2})
	p.AddLed(LedSpec{Mode: LedOn, Color: Color{R: 0xff}, Modes: []LedMode{LedOff, LedOn, LedBreathing}})
	dev.AddProfile(ProfileSpec{Name: "second", Enabled: true, ReportRateMS: 1})
	return dev
}

func TestProbedModelStartsClean(t *testing.T) {
	dev := newModelDevice()
	assert.False(t, dev.Dirty())
	for _, p := range dev.Profiles() {
		assert.False(t, p.Dirty())
	}
}

func TestSettersMarkProfileDirty(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Profile) error
	}{
		{"rename", func(p *Profile) error { p.SetName("fps"); return nil }},
		{"disable", func(p *Profile) error { p.SetEnabled(false); return nil }},
		{"report rate", func(p *Profile) error { return p.SetReportRate(4) }},
		{"resolution dpi", func(p *Profile) error { return p.Resolutions()[1].SetDPI(2400) }},
		{"resolution active", func(p *Profile) error { p.Resolutions()[1].SetActive(); return nil }},
		{"resolution default", func(p *Profile) error { p.Resolutions()[1].SetDefault(); return nil }},
		{"button", func(p *Profile) error {
			p.Buttons()[0].SetAction(Action{Kind: ActionKey, Key: 0x04})
			return nil
		}},
		{"led mode", func(p *Profile) error { return p.Leds()[0].SetMode(LedBreathing) }},
		{"led color", func(p *Profile) error { p.Leds()[0].SetColor(Color{G: 0x80}); return nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newModelDevice()
			p := dev.Profiles()[0]
			require.NoError(t, tt.mutate(p))
			assert.True(t, p.Dirty())
			assert.True(t, dev.Dirty())
			assert.False(t, dev.Profiles()[1].Dirty(), "sibling profile must stay clean")
		})
	}
}

func TestNoopSettersStayClean(t *testing.T) {
	dev := newModelDevice()
	p := dev.Profiles()[0]

	p.SetName("default")
	p.SetEnabled(true)
	require.NoError(t, p.SetReportRate(1))
	require.NoError(t, p.Resolutions()[0].SetDPI(800))
	p.Resolutions()[0].SetActive()
	p.Resolutions()[0].SetDefault()
	p.Buttons()[0].SetAction(Action{Kind: ActionButton, Button: 1})
	require.NoError(t, p.Leds()[0].SetMode(LedOn))

	assert.False(t, p.Dirty())
}

func TestDirtyIsPerEntity(t *testing.T) {
	dev := newModelDevice()
	p := dev.Profiles()[0]

	p.Buttons()[0].SetAction(Action{Kind: ActionKey, Key: 0x04})
	assert.True(t, p.Buttons()[0].Dirty())
	assert.False(t, p.Buttons()[1].Dirty(), "sibling button must stay clean")
	assert.False(t, p.Resolutions()[0].Dirty())
	assert.False(t, p.Leds()[0].Dirty())
	assert.True(t, p.Dirty())
}

func TestSetActiveMarksBothSlotsDirty(t *testing.T) {
	dev := newModelDevice()
	p := dev.Profiles()[0]

	p.Resolutions()[1].SetActive()
	assert.True(t, p.Resolutions()[0].Dirty(), "slot losing the flag changed too")
	assert.True(t, p.Resolutions()[1].Dirty())
}

func TestLedModeCapabilityGating(t *testing.T) {
	dev := newModelDevice()
	l := dev.Profiles()[0].Leds()[0]

	err := l.SetMode(LedCycle)
	require.Error(t, err)
	var capErr *CapabilityError
	assert.ErrorAs(t, err, &capErr)
	assert.Equal(t, LedOn, l.Mode())
	assert.False(t, l.Dirty())
	assert.False(t, dev.Dirty())
}

func TestActiveResolutionIsExclusive(t *testing.T) {
	dev := newModelDevice()
	p := dev.Profiles()[0]

	p.Resolutions()[1].SetActive()
	assert.False(t, p.Resolutions()[0].IsActive())
	assert.True(t, p.Resolutions()[1].IsActive())

	p.Resolutions()[1].SetDefault()
	assert.False(t, p.Resolutions()[0].IsDefault())
	assert.True(t, p.Resolutions()[1].IsDefault())
}

func TestSetDPIValidates(t *testing.T) {
	dev := newModelDevice()
	r := dev.Profiles()[0].Resolutions()[0]

	require.Error(t, r.SetDPI(825))
	require.Error(t, r.SetDPI(100))
	require.Error(t, r.SetDPI(6400))
	assert.Equal(t, uint16(800), r.DPI())
	assert.False(t, dev.Profiles()[0].Dirty())
}

func TestSetReportRateValidates(t *testing.T) {
	dev := newModelDevice()
	p := dev.Profiles()[0]
	require.Error(t, p.SetReportRate(0))
	require.Error(t, p.SetReportRate(9))
	assert.False(t, p.Dirty())
}

func TestClearDirty(t *testing.T) {
	dev := newModelDevice()
	p := dev.Profiles()[0]
	p.SetName("fps")
	require.NoError(t, p.Resolutions()[1].SetDPI(2400))
	require.True(t, p.Dirty())
	p.ClearDirty()
	assert.False(t, p.Dirty())
	assert.False(t, p.Resolutions()[1].Dirty())
	assert.False(t, dev.Dirty())
}

func TestActionEqual(t *testing.T) {
	a := Action{Kind: ActionMacro, Macro: []MacroStep{{Kind: MacroKeyPress, Key: 4}}}
	b := Action{Kind: ActionMacro, Macro: []MacroStep{{Kind: MacroKeyPress, Key: 4}}}
	c := Action{Kind: ActionMacro, Macro: []MacroStep{{Kind: MacroKeyRelease, Key: 4}}}
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(Action{Kind: ActionNone}))
}
