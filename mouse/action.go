package mouse

import "fmt"

// ActionKind discriminates what a button does.
type ActionKind uint8

const (
	ActionNone ActionKind = iota
	ActionButton
	ActionKey
	ActionConsumer
	ActionSpecial
	ActionMacro
)

func (k ActionKind) String() string {
	switch k {
	case ActionNone:
		return "none"
	case ActionButton:
		return "button"
	case ActionKey:
		return "key"
	case ActionConsumer:
		return "consumer control"
	case ActionSpecial:
		return "special"
	case ActionMacro:
		return "macro"
	}
	return fmt.Sprintf("unknown action %d", uint8(k))
}

// Special button actions handled by the firmware itself.
type Special uint8

const (
	SpecialWheelLeft     Special = 0x01
	SpecialWheelRight    Special = 0x02
	SpecialDPINext       Special = 0x03
	SpecialDPIPrev       Special = 0x04
	SpecialDPICycle      Special = 0x05
	SpecialDPIDefault    Special = 0x06
	SpecialDPIShift      Special = 0x07
	SpecialProfileNext   Special = 0x08
	SpecialProfilePrev   Special = 0x09
	SpecialProfileCycle  Special = 0x0a
	SpecialSecondMode    Special = 0x0b
	SpecialBatteryLevel  Special = 0x0c
	SpecialProfileEnable Special = 0x0d
	SpecialPerformance   Special = 0x0e
	SpecialHostSwitch    Special = 0x0f
	SpecialScrollDown    Special = 0x10
	SpecialScrollUp      Special = 0x11
)

// MacroStepKind discriminates one macro step.
type MacroStepKind uint8

const (
	MacroKeyPress MacroStepKind = iota
	MacroKeyRelease
	MacroWait
)

// MacroStep is one step of a button macro.
type MacroStep struct {
	Kind      MacroStepKind
	Modifiers uint8
	Key       uint8
	DelayMS   uint16
}

// Action is what a physical button is mapped to, independent of how the
// firmware stores it.
type Action struct {
	Kind ActionKind

	// Button is the 1-based logical mouse button for ActionButton.
	Button int

	// Modifiers and Key are the HID keyboard usage for ActionKey.
	Modifiers uint8
	Key       uint8

	// Consumer is the HID consumer control usage for ActionConsumer.
	Consumer uint16

	// Special selects the firmware action for ActionSpecial.
	Special Special

	// Macro holds the steps for ActionMacro.
	Macro []MacroStep
}

// Equal reports whether two actions are the same mapping.
func (a Action) Equal(b Action) bool {
	if a.Kind != b.Kind || a.Button != b.Button ||
		a.Modifiers != b.Modifiers || a.Key != b.Key ||
		a.Consumer != b.Consumer || a.Special != b.Special ||
		len(a.Macro) != len(b.Macro) {
		return false
	}
	for i := range a.Macro {
		if a.Macro[i] != b.Macro[i] {
			return false
		}
	}
	return true
}
