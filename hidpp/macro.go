package hidpp

import (
	"fmt"
)

// Macro bytecode opcodes. Delay, key press, key release and jump are three
// bytes; noop is one byte; the end marker terminates the stream.
const (
	MacroOpDelay      = 0x40
	MacroOpKeyPress   = 0x41
	MacroOpKeyRelease = 0x42
	MacroOpJump       = 0x43
	MacroOpNoop       = 0x44
	MacroOpEnd        = 0xff
)

// maxMacroEvents bounds decoding so a corrupted jump chain cannot loop
// forever.
const maxMacroEvents = 256

// MacroEvent is one decoded macro step. Jumps are followed during decoding
// and never appear in the event list.
type MacroEvent struct {
	Op        uint8
	Modifiers uint8
	Key       uint8
	DelayMS   uint16
}

// EncodeMacro flattens events into bytecode, terminated with the end
// marker. A delay before the first key event is dropped because firmware
// stalls the whole macro on it.
func EncodeMacro(events []MacroEvent) ([]byte, error) {
	out := make([]byte, 0, len(events)*3+1)
	seenKey := false
	for i, ev := range events {
		switch ev.Op {
		case MacroOpDelay:
			if !seenKey {
				continue
			}
			out = append(out, MacroOpDelay, byte(ev.DelayMS>>8), byte(ev.DelayMS))
		case MacroOpKeyPress, MacroOpKeyRelease:
			seenKey = true
			out = append(out, ev.Op, ev.Modifiers, ev.Key)
		case MacroOpNoop:
			out = append(out, MacroOpNoop)
		default:
			return nil, &ValidationError{What: "macro opcode", Value: int(ev.Op), Reason: fmt.Sprintf("not encodable at step %d", i)}
		}
	}
	return append(out, MacroOpEnd), nil
}

// DecodeMacro walks the bytecode starting at offset in the given page,
// following jumps across pages, until the end marker. fetch loads the raw
// content of one page. Decoding is capped at maxMacroEvents steps.
func DecodeMacro(page uint8, offset uint16, fetch func(page uint8) ([]byte, error)) ([]MacroEvent, error) {
	data, err := fetch(page)
	if err != nil {
		return nil, fmt.Errorf("failed to load macro page 0x%02x: %w", page, err)
	}
	var events []MacroEvent
	pos := int(offset)
	for {
		if len(events) >= maxMacroEvents {
			return nil, fmt.Errorf("%w: macro exceeds %d events", ErrMalformedReply, maxMacroEvents)
		}
		if pos >= len(data) {
			return nil, fmt.Errorf("%w: macro runs past the end of page 0x%02x", ErrMalformedReply, page)
		}
		op := data[pos]
		switch op {
		case MacroOpEnd:
			return events, nil
		case MacroOpNoop:
			pos++
		case MacroOpDelay:
			if pos+3 > len(data) {
				return nil, fmt.Errorf("%w: truncated delay at offset %d", ErrMalformedReply, pos)
			}
			events = append(events, MacroEvent{
				Op:      MacroOpDelay,
				DelayMS: uint16(data[pos+1])<<8 | uint16(data[pos+2]),
			})
			pos += 3
		case MacroOpKeyPress, MacroOpKeyRelease:
			if pos+3 > len(data) {
				return nil, fmt.Errorf("%w: truncated key event at offset %d", ErrMalformedReply, pos)
			}
			events = append(events, MacroEvent{
				Op:        op,
				Modifiers: data[pos+1],
				Key:       data[pos+2],
			})
			pos += 3
		case MacroOpJump:
			if pos+3 > len(data) {
				return nil, fmt.Errorf("%w: truncated jump at offset %d", ErrMalformedReply, pos)
			}
			page = data[pos+1]
			pos = int(data[pos+2])
			data, err = fetch(page)
			if err != nil {
				return nil, fmt.Errorf("failed to load macro page 0x%02x: %w", page, err)
			}
		default:
			return nil, fmt.Errorf("%w: unknown macro opcode 0x%02x at offset %d", ErrMalformedReply, op, pos)
		}
	}
}
