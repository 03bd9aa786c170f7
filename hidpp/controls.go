package hidpp

import (
	"fmt"

	"go.uber.org/zap"
)

// Special keys and mouse buttons page functions.
const (
	cmdControlsGetCount     = 0x00
	cmdControlsGetInfo      = 0x10
	cmdControlsGetReporting = 0x20
	cmdControlsSetReporting = 0x30
)

// Control capability flags from the info record.
const (
	ControlFlagReprogrammable = 0x10
	ControlFlagDivertable     = 0x20
	ControlFlagPersist        = 0x40
	ControlFlagVirtual        = 0x80
)

// Additional capability flags.
const (
	ControlRawXYCapable = 0x01
)

// Reporting flag bits for GetReporting/SetReporting. Each settable bit is
// paired with a valid bit that must be set for the device to apply it.
const (
	ReportingDivert       = 0x01
	reportingDivertValid  = 0x02
	ReportingPersist      = 0x04
	reportingPersistValid = 0x08
	ReportingRawXY        = 0x10
	reportingRawXYValid   = 0x20
)

// Control is one reprogrammable key or button.
type Control struct {
	ControlID uint16
	TaskID    uint16
	Flags     uint8
	Position  uint8
	Group     uint8
	GroupMask uint8
	RawXY     bool
}

// Reporting is the current reporting state of a control.
type Reporting struct {
	RemappedTo uint16
	Diverted   bool
	Persistent bool
	RawXY      bool
}

// Controls enumerates the special keys and mouse buttons page.
func (d *Device) Controls() ([]Control, error) {
	f, err := d.GetFeature(PageSpecialKeys)
	if err != nil {
		return nil, err
	}
	return d.readControls(f.Index)
}

// ReprogKeys enumerates the older keyboard reprogrammable keys page. The
// record layout matches the special keys page; devices carry one or the
// other.
func (d *Device) ReprogKeys() ([]Control, error) {
	f, err := d.GetFeature(PageKbdReprogrammable)
	if err != nil {
		return nil, err
	}
	return d.readControls(f.Index)
}

func (d *Device) readControls(featureIndex uint8) ([]Control, error) {
	reply, err := d.Request(Message{
		Report:  ReportShort,
		SubID:   featureIndex,
		Address: cmdControlsGetCount,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read control count: %w", err)
	}
	count := int(reply.Params[0])

	controls := make([]Control, 0, count)
	for i := 0; i < count; i++ {
		msg := Message{
			Report:  ReportShort,
			SubID:   featureIndex,
			Address: cmdControlsGetInfo,
		}
		msg.Params[0] = uint8(i)
		reply, err := d.Request(msg)
		if err != nil {
			// Some firmwares list controls they then refuse to describe.
			d.log.Debug("skipping unreadable control", zap.Int("index", i), zap.Error(err))
			continue
		}
		controls = append(controls, Control{
			ControlID: getBE16(reply.Params[0:]),
			TaskID:    getBE16(reply.Params[2:]),
			Flags:     reply.Params[4],
			Position:  reply.Params[5],
			Group:     reply.Params[6],
			GroupMask: reply.Params[7],
			RawXY:     reply.Params[8]&ControlRawXYCapable != 0,
		})
	}
	return controls, nil
}

// ControlReporting reads the current reporting state of one control.
func (d *Device) ControlReporting(controlID uint16) (Reporting, error) {
	f, err := d.GetFeature(PageSpecialKeys)
	if err != nil {
		return Reporting{}, err
	}
	msg := Message{
		Report:  ReportShort,
		SubID:   f.Index,
		Address: cmdControlsGetReporting,
	}
	putBE16(msg.Params[:], controlID)
	reply, err := d.Request(msg)
	if err != nil {
		return Reporting{}, fmt.Errorf("failed to read reporting of control 0x%04x: %w", controlID, err)
	}
	flags := reply.Params[4]
	return Reporting{
		RemappedTo: getBE16(reply.Params[2:]),
		Diverted:   flags&ReportingDivert != 0,
		Persistent: flags&ReportingPersist != 0,
		RawXY:      flags&ReportingRawXY != 0,
	}, nil
}

// SetControlReporting applies a reporting state to one control. All three
// valid bits are set, so the device applies every field of r.
func (d *Device) SetControlReporting(controlID uint16, r Reporting) error {
	f, err := d.GetFeature(PageSpecialKeys)
	if err != nil {
		return err
	}
	var flags uint8 = reportingDivertValid | reportingPersistValid | reportingRawXYValid
	if r.Diverted {
		flags |= ReportingDivert
	}
	if r.Persistent {
		flags |= ReportingPersist
	}
	if r.RawXY {
		flags |= ReportingRawXY
	}
	msg := Message{
		Report:  ReportLong,
		SubID:   f.Index,
		Address: cmdControlsSetReporting,
	}
	putBE16(msg.Params[:], controlID)
	msg.Params[2] = flags
	putBE16(msg.Params[3:], r.RemappedTo)
	if _, err := d.Request(msg); err != nil {
		return fmt.Errorf("failed to set reporting of control 0x%04x: %w", controlID, err)
	}
	return nil
}
