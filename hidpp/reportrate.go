package hidpp

import (
	"fmt"
)

// Report rate page functions.
const (
	cmdRateGetList = 0x00
	cmdRateGet     = 0x10
	cmdRateSet     = 0x20
)

// ReportRates is the set of supported report intervals. Bit n set means an
// interval of n+1 milliseconds is supported.
type ReportRates uint8

// Supports reports whether the given interval in milliseconds is available.
func (r ReportRates) Supports(ms uint8) bool {
	if ms < 1 || ms > 8 {
		return false
	}
	return r&(1<<(ms-1)) != 0
}

// Intervals returns the supported intervals in milliseconds, ascending.
func (r ReportRates) Intervals() []uint8 {
	var out []uint8
	for ms := uint8(1); ms <= 8; ms++ {
		if r.Supports(ms) {
			out = append(out, ms)
		}
	}
	return out
}

// ReportRates reads the set of report intervals the device supports.
func (d *Device) ReportRates() (ReportRates, error) {
	f, err := d.GetFeature(PageReportRate)
	if err != nil {
		return 0, err
	}
	reply, err := d.Request(Message{
		Report:  ReportShort,
		SubID:   f.Index,
		Address: cmdRateGetList,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read report rate list: %w", err)
	}
	return ReportRates(reply.Params[0]), nil
}

// ReportRate reads the current report interval in milliseconds.
func (d *Device) ReportRate() (uint8, error) {
	f, err := d.GetFeature(PageReportRate)
	if err != nil {
		return 0, err
	}
	reply, err := d.Request(Message{
		Report:  ReportShort,
		SubID:   f.Index,
		Address: cmdRateGet,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read report rate: %w", err)
	}
	return reply.Params[0], nil
}

// SetReportRate sets the report interval in milliseconds. The value is
// checked against the supported list first. Some firmwares only accept the
// write while the device is in host mode.
func (d *Device) SetReportRate(ms uint8) error {
	rates, err := d.ReportRates()
	if err != nil {
		return err
	}
	if !rates.Supports(ms) {
		return &ValidationError{What: "report interval", Value: int(ms), Reason: "not in the supported list"}
	}
	f, err := d.GetFeature(PageReportRate)
	if err != nil {
		return err
	}
	msg := Message{
		Report:  ReportShort,
		SubID:   f.Index,
		Address: cmdRateSet,
	}
	msg.Params[0] = ms
	if _, err := d.Request(msg); err != nil {
		return fmt.Errorf("failed to set report rate to %dms: %w", ms, err)
	}
	return nil
}
