package hidpp

import (
	"fmt"
)

// Adjustable DPI page functions.
const (
	cmdDPIGetSensorCount = 0x00
	cmdDPIGetSensorList  = 0x10
	cmdDPIGetSensorDPI   = 0x20
	cmdDPISetSensorDPI   = 0x30
)

// Mouse pointer page functions.
const cmdPointerGetInfo = 0x00

// Pointer flag bits.
const (
	PointerVerticalTuning   = 0x01
	PointerOSBallistics     = 0x02
	PointerAccelerationMask = 0x0c
)

// List entries above this value encode a step instead of a resolution.
const dpiStepMarker = 0xe000

// DPIList is the set of resolutions a sensor accepts. Either Values is
// populated with the discrete resolutions, or Step is non-zero and any
// multiple of Step within [Min, Max] is accepted.
type DPIList struct {
	Values []uint16
	Min    uint16
	Max    uint16
	Step   uint16
}

// Accepts reports whether dpi is a resolution this list allows.
func (l DPIList) Accepts(dpi uint16) bool {
	if l.Step != 0 {
		return dpi >= l.Min && dpi <= l.Max && (dpi-l.Min)%l.Step == 0
	}
	for _, v := range l.Values {
		if v == dpi {
			return true
		}
	}
	return false
}

// Sensor is one resolution sensor of the adjustable DPI feature.
type Sensor struct {
	Index      uint8
	DPI        uint16
	DefaultDPI uint16
	List       DPIList
}

// Sensors enumerates the device's resolution sensors with their current and
// default resolution and the accepted resolution list.
func (d *Device) Sensors() ([]Sensor, error) {
	f, err := d.GetFeature(PageAdjustableDPI)
	if err != nil {
		return nil, err
	}
	reply, err := d.Request(Message{
		Report:  ReportShort,
		SubID:   f.Index,
		Address: cmdDPIGetSensorCount,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read sensor count: %w", err)
	}
	count := int(reply.Params[0])

	sensors := make([]Sensor, 0, count)
	for i := 0; i < count; i++ {
		s, err := d.readSensor(f.Index, uint8(i))
		if err != nil {
			return nil, err
		}
		sensors = append(sensors, s)
	}
	return sensors, nil
}

func (d *Device) readSensor(featureIndex, sensor uint8) (Sensor, error) {
	s := Sensor{Index: sensor}

	msg := Message{
		Report:  ReportShort,
		SubID:   featureIndex,
		Address: cmdDPIGetSensorList,
	}
	msg.Params[0] = sensor
	reply, err := d.Request(msg)
	if err != nil {
		return Sensor{}, fmt.Errorf("failed to read dpi list of sensor %d: %w", sensor, err)
	}
	for off := 1; off+1 < LongParamCount; off += 2 {
		v := getBE16(reply.Params[off:])
		if v == 0 {
			break
		}
		if v > dpiStepMarker {
			s.List.Step = v - dpiStepMarker
			continue
		}
		s.List.Values = append(s.List.Values, v)
	}
	if len(s.List.Values) > 0 {
		s.List.Min = s.List.Values[0]
		s.List.Max = s.List.Values[len(s.List.Values)-1]
	}
	if s.List.Step != 0 {
		// With a step the value list degenerates to the two range bounds.
		s.List.Values = nil
	}

	msg = Message{
		Report:  ReportShort,
		SubID:   featureIndex,
		Address: cmdDPIGetSensorDPI,
	}
	msg.Params[0] = sensor
	reply, err = d.Request(msg)
	if err != nil {
		return Sensor{}, fmt.Errorf("failed to read dpi of sensor %d: %w", sensor, err)
	}
	s.DPI = getBE16(reply.Params[1:])
	s.DefaultDPI = getBE16(reply.Params[3:])
	return s, nil
}

// PointerInfo is the mouse pointer page data of devices whose sensor
// resolution is not adjustable.
type PointerInfo struct {
	Resolution uint16
	Flags      uint8
}

// PointerInfo reads the fixed sensor resolution and pointer flags.
func (d *Device) PointerInfo() (PointerInfo, error) {
	f, err := d.GetFeature(PageMousePointer)
	if err != nil {
		return PointerInfo{}, err
	}
	reply, err := d.Request(Message{
		Report:  ReportShort,
		SubID:   f.Index,
		Address: cmdPointerGetInfo,
	})
	if err != nil {
		return PointerInfo{}, fmt.Errorf("failed to read pointer info: %w", err)
	}
	return PointerInfo{
		Resolution: getBE16(reply.Params[0:]),
		Flags:      reply.Params[2],
	}, nil
}

// SetSensorDPI sets the live resolution of one sensor. The value is checked
// against the sensor's accepted list before any I/O. Firmware echoes the
// written value in the reply except on feature version 0, which echoes
// zeros; both are accepted.
func (d *Device) SetSensorDPI(s *Sensor, dpi uint16) error {
	if !s.List.Accepts(dpi) {
		return &ValidationError{What: "dpi", Value: int(dpi), Reason: "not in the sensor's accepted list"}
	}
	f, err := d.GetFeature(PageAdjustableDPI)
	if err != nil {
		return err
	}
	msg := Message{
		Report:  ReportShort,
		SubID:   f.Index,
		Address: cmdDPISetSensorDPI,
	}
	msg.Params[0] = s.Index
	putBE16(msg.Params[1:], dpi)
	reply, err := d.Request(msg)
	if err != nil {
		return fmt.Errorf("failed to set dpi of sensor %d: %w", s.Index, err)
	}
	echoed := getBE16(reply.Params[1:])
	if echoed != 0 && echoed != dpi {
		return fmt.Errorf("%w: sensor %d acknowledged dpi %d, wanted %d", ErrMalformedReply, s.Index, echoed, dpi)
	}
	s.DPI = dpi
	return nil
}
