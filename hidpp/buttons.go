package hidpp

import (
	"fmt"
	"math/bits"
)

// Button binding type tags, first byte of the packed 4-byte binding.
const (
	bindingTagMacro    = 0x00
	bindingTagHID      = 0x80
	bindingTagSpecial  = 0x90
	bindingTagDisabled = 0xff
)

// HID binding subtypes, second byte when the tag is HID.
const (
	bindingHIDMouse    = 0x01
	bindingHIDKeyboard = 0x02
	bindingHIDConsumer = 0x03
)

// BindingKind discriminates the Binding union.
type BindingKind uint8

const (
	BindDisabled BindingKind = iota
	BindMouseButton
	BindKey
	BindConsumer
	BindSpecial
	BindMacro
)

func (k BindingKind) String() string {
	switch k {
	case BindDisabled:
		return "disabled"
	case BindMouseButton:
		return "mouse button"
	case BindKey:
		return "key"
	case BindConsumer:
		return "consumer control"
	case BindSpecial:
		return "special"
	case BindMacro:
		return "macro"
	}
	return fmt.Sprintf("unknown kind %d", uint8(k))
}

// Binding is what a physical button does, decoded from the packed 4-byte
// form stored in profile sectors. Which fields are meaningful depends on
// Kind.
type Binding struct {
	Kind BindingKind

	// Button is the 1-based mouse button number.
	Button uint8

	// Modifiers and Key are the HID keyboard modifier byte and usage.
	Modifiers uint8
	Key       uint8

	// Consumer is the HID consumer control usage.
	Consumer uint16

	// Special is the firmware-defined special action code.
	Special uint8

	// MacroPage and MacroOffset address the first macro instruction.
	MacroPage   uint8
	MacroOffset uint16
}

// Encode packs the binding into its stored wire form.
func (b Binding) Encode() ([4]byte, error) {
	var raw [4]byte
	switch b.Kind {
	case BindDisabled:
		raw[0] = bindingTagDisabled
		raw[1] = 0xff
		raw[2] = 0xff
		raw[3] = 0xff
	case BindMouseButton:
		if b.Button < 1 || b.Button > 16 {
			return raw, &ValidationError{What: "mouse button", Value: int(b.Button), Reason: "must be between 1 and 16"}
		}
		raw[0] = bindingTagHID
		raw[1] = bindingHIDMouse
		putBE16(raw[2:], 1<<(b.Button-1))
	case BindKey:
		raw[0] = bindingTagHID
		raw[1] = bindingHIDKeyboard
		raw[2] = b.Modifiers
		raw[3] = b.Key
	case BindConsumer:
		raw[0] = bindingTagHID
		raw[1] = bindingHIDConsumer
		putBE16(raw[2:], b.Consumer)
	case BindSpecial:
		raw[0] = bindingTagSpecial
		raw[1] = b.Special
	case BindMacro:
		raw[0] = bindingTagMacro
		raw[1] = b.MacroPage
		putBE16(raw[2:], b.MacroOffset)
	default:
		return raw, &ValidationError{What: "binding kind", Value: int(b.Kind), Reason: "unknown kind"}
	}
	return raw, nil
}

// DecodeBinding unpacks a stored binding. Unknown tags are rejected rather
// than passed through, so corrupted sectors surface early.
func DecodeBinding(raw [4]byte) (Binding, error) {
	switch raw[0] {
	case bindingTagDisabled:
		return Binding{Kind: BindDisabled}, nil
	case bindingTagSpecial:
		return Binding{Kind: BindSpecial, Special: raw[1]}, nil
	case bindingTagMacro:
		return Binding{
			Kind:        BindMacro,
			MacroPage:   raw[1],
			MacroOffset: getBE16(raw[2:]),
		}, nil
	case bindingTagHID:
		switch raw[1] {
		case bindingHIDMouse:
			mask := getBE16(raw[2:])
			if mask == 0 {
				return Binding{Kind: BindDisabled}, nil
			}
			return Binding{
				Kind:   BindMouseButton,
				Button: uint8(bits.TrailingZeros16(mask)) + 1,
			}, nil
		case bindingHIDKeyboard:
			return Binding{Kind: BindKey, Modifiers: raw[2], Key: raw[3]}, nil
		case bindingHIDConsumer:
			return Binding{Kind: BindConsumer, Consumer: getBE16(raw[2:])}, nil
		}
		return Binding{}, fmt.Errorf("%w: unknown hid binding subtype 0x%02x", ErrMalformedReply, raw[1])
	}
	return Binding{}, fmt.Errorf("%w: unknown binding type 0x%02x", ErrMalformedReply, raw[0])
}
