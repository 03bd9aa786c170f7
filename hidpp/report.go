// Package hidpp implements the HID++ 2.0 protocol spoken by programmable
// pointing devices: report framing, the request/response message engine,
// feature discovery and the capability modules built on top of it.
package hidpp

import (
	"fmt"
	"time"
)

// Report IDs and sizes of the two HID++ report flavours.
const (
	ReportIDShort = 0x10
	ReportIDLong  = 0x11

	ShortReportLength = 7
	LongReportLength  = 20

	// Number of parameter bytes in each report flavour (length minus the
	// four header bytes).
	ShortParamCount = ShortReportLength - 4
	LongParamCount  = LongReportLength - 4
)

// ReportKind selects the wire size of a message.
type ReportKind uint8

const (
	ReportShort ReportKind = iota
	ReportLong
)

func (k ReportKind) String() string {
	if k == ReportShort {
		return "short"
	}
	return "long"
}

// ReportTypes is the set of report flavours a device supports, as probed
// from its HID report descriptor.
type ReportTypes uint8

const (
	ReportTypeShort ReportTypes = 1 << iota
	ReportTypeLong
)

// Transport is the raw report channel underneath the message engine.
// WriteReport sends one complete report including the report ID byte.
// ReadReport blocks for at most timeout and returns one complete report.
type Transport interface {
	WriteReport(data []byte) error
	ReadReport(timeout time.Duration) ([]byte, error)
	Close() error
}

// Message is one HID++ 2.0 frame. SubID is the feature index the message is
// addressed to; the high nibble of Address selects the function, the low
// nibble carries the software ID stamped by the engine.
type Message struct {
	Report      ReportKind
	DeviceIndex uint8
	SubID       uint8
	Address     uint8
	Params      [LongParamCount]byte
}

// Encode frames the message into a wire report of the size selected by
// m.Report.
func (m Message) Encode() []byte {
	size := ShortReportLength
	id := byte(ReportIDShort)
	if m.Report == ReportLong {
		size = LongReportLength
		id = ReportIDLong
	}
	buf := make([]byte, size)
	buf[0] = id
	buf[1] = m.DeviceIndex
	buf[2] = m.SubID
	buf[3] = m.Address
	copy(buf[4:], m.Params[:size-4])
	return buf
}

func decodeMessage(data []byte) (Message, bool) {
	var m Message
	if len(data) < ShortReportLength {
		return m, false
	}
	switch data[0] {
	case ReportIDShort:
		m.Report = ReportShort
	case ReportIDLong:
		m.Report = ReportLong
		if len(data) < LongReportLength {
			return m, false
		}
	default:
		return m, false
	}
	m.DeviceIndex = data[1]
	m.SubID = data[2]
	m.Address = data[3]
	copy(m.Params[:], data[4:])
	return m, true
}

func (m Message) String() string {
	return fmt.Sprintf("hidpp %s dev=%02x sub=%02x addr=%02x", m.Report, m.DeviceIndex, m.SubID, m.Address)
}

func getBE16(buf []byte) uint16 {
	return uint16(buf[0])<<8 | uint16(buf[1])
}

func putBE16(buf []byte, v uint16) {
	buf[0] = byte(v >> 8)
	buf[1] = byte(v)
}

func getLE16(buf []byte) uint16 {
	return uint16(buf[1])<<8 | uint16(buf[0])
}

func putLE16(buf []byte, v uint16) {
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
}
