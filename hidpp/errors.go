package hidpp

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout means no reply matching the request arrived before the
	// transport read deadline.
	ErrTimeout = errors.New("timed out waiting for device reply")

	// ErrNotSupported means the device does not expose the feature page an
	// operation needs. Callers treat it as "capability absent", not as a
	// failure.
	ErrNotSupported = errors.New("feature not supported by device")

	// ErrMalformedReply means a reply was received but could not be
	// interpreted.
	ErrMalformedReply = errors.New("malformed device reply")
)

// Device-reported error codes.
const (
	errCodeNoError             = 0x00
	ErrCodeUnknown             = 0x01
	ErrCodeInvalidArgument     = 0x02
	ErrCodeOutOfRange          = 0x03
	ErrCodeHardwareError       = 0x04
	ErrCodeInternal            = 0x05
	ErrCodeInvalidFeatureIndex = 0x06
	ErrCodeInvalidFunctionID   = 0x07
	ErrCodeBusy                = 0x08
	ErrCodeUnsupported         = 0x09
)

// errorNames is process-wide and immutable after initialization.
var errorNames = map[uint8]string{
	errCodeNoError:             "ERR_NO_ERROR",
	ErrCodeUnknown:             "ERR_UNKNOWN",
	ErrCodeInvalidArgument:     "ERR_INVALID_ARGUMENT",
	ErrCodeOutOfRange:          "ERR_OUT_OF_RANGE",
	ErrCodeHardwareError:       "ERR_HARDWARE_ERROR",
	ErrCodeInternal:            "ERR_INTERNAL",
	ErrCodeInvalidFeatureIndex: "ERR_INVALID_FEATURE_INDEX",
	ErrCodeInvalidFunctionID:   "ERR_INVALID_FUNCTION_ID",
	ErrCodeBusy:                "ERR_BUSY",
	ErrCodeUnsupported:         "ERR_UNSUPPORTED",
}

// ErrorName returns the protocol name of a device error code, or a numeric
// placeholder for codes the protocol documentation does not list.
func ErrorName(code uint8) string {
	if name, ok := errorNames[code]; ok {
		return name
	}
	return fmt.Sprintf("undocumented error 0x%02x", code)
}

// DeviceError is a failure reported by the device itself in an error report.
type DeviceError struct {
	Code uint8
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device error: %s (0x%02x)", ErrorName(e.Code), e.Code)
}

// Busy reports whether the error means the device is temporarily unable to
// serve the request and the operation may be retried.
func (e *DeviceError) Busy() bool {
	return e.Code == ErrCodeBusy
}

// ValidationError rejects a caller-supplied value before any device I/O.
type ValidationError struct {
	What   string
	Value  int
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %d: %s", e.What, e.Value, e.Reason)
}

// IsDeviceBusy reports whether err is a device "busy" error.
func IsDeviceBusy(err error) bool {
	var de *DeviceError
	return errors.As(err, &de) && de.Busy()
}
