package hidpp

import (
	"fmt"
)

// Battery level status page functions.
const (
	cmdBatteryGetLevelStatus = 0x00
)

// Battery voltage page functions.
const (
	cmdBatteryGetVoltage = 0x00
)

// BatteryStatus is the charging state reported alongside the battery level.
type BatteryStatus uint8

const (
	BatteryDischarging BatteryStatus = iota
	BatteryRecharging
	BatteryChargeComplete
	BatteryChargingFault
	BatteryChargingSlow
	BatteryInvalidBattery
	BatteryThermalError
)

func (s BatteryStatus) String() string {
	switch s {
	case BatteryDischarging:
		return "discharging"
	case BatteryRecharging:
		return "recharging"
	case BatteryChargeComplete:
		return "charge complete"
	case BatteryChargingFault:
		return "charging fault"
	case BatteryChargingSlow:
		return "charging slowly"
	case BatteryInvalidBattery:
		return "invalid battery"
	case BatteryThermalError:
		return "thermal error"
	}
	return fmt.Sprintf("unknown status %d", uint8(s))
}

// BatteryInfo is a point-in-time battery reading. Level and NextLevel are
// percentages and only valid when the level page supplied them; VoltageMV is
// only valid when the voltage page did.
type BatteryInfo struct {
	Level     uint8
	NextLevel uint8
	Status    BatteryStatus
	VoltageMV uint16
}

// Battery reads the battery state using whichever of the two battery pages
// the device exposes, preferring the level page. ErrNotSupported means the
// device has neither.
func (d *Device) Battery() (BatteryInfo, error) {
	if f, err := d.GetFeature(PageBatteryLevel); err == nil {
		reply, err := d.Request(Message{
			Report:  ReportShort,
			SubID:   f.Index,
			Address: cmdBatteryGetLevelStatus,
		})
		if err != nil {
			return BatteryInfo{}, fmt.Errorf("failed to read battery level: %w", err)
		}
		return BatteryInfo{
			Level:     reply.Params[0],
			NextLevel: reply.Params[1],
			Status:    BatteryStatus(reply.Params[2]),
		}, nil
	}
	f, err := d.GetFeature(PageBatteryVoltage)
	if err != nil {
		return BatteryInfo{}, err
	}
	reply, err := d.Request(Message{
		Report:  ReportShort,
		SubID:   f.Index,
		Address: cmdBatteryGetVoltage,
	})
	if err != nil {
		return BatteryInfo{}, fmt.Errorf("failed to read battery voltage: %w", err)
	}
	info := BatteryInfo{VoltageMV: getBE16(reply.Params[:2])}
	// Voltage flags: bit 7 set means external power, bit 0..2 encode the
	// charge state while charging.
	flags := reply.Params[2]
	if flags&0x80 != 0 {
		switch flags & 0x07 {
		case 0:
			info.Status = BatteryRecharging
		case 1:
			info.Status = BatteryChargeComplete
		case 2:
			info.Status = BatteryChargingFault
		default:
			info.Status = BatteryRecharging
		}
	} else {
		info.Status = BatteryDischarging
	}
	return info, nil
}
