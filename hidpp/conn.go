package hidpp

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// softwareID is stamped into the low nibble of every request address so the
// device knows which host stack to answer. The kernel uses 0x1; we use our
// own value to keep replies apart.
const softwareID = 0x08

// Error report sub IDs. Some firmwares use 0xff instead of the documented
// 0x8f.
const (
	errorSubID    = 0x8f
	errorSubIDAlt = 0xff
)

var defaultDeviceOptions = deviceOptions{
	readTimeout: 1 * time.Second,
	settleDelay: 10 * time.Millisecond,
	reportTypes: ReportTypeShort | ReportTypeLong,
	sleep:       time.Sleep,
}

type deviceOptions struct {
	readTimeout time.Duration
	settleDelay time.Duration
	reportTypes ReportTypes
	sleep       func(time.Duration)
}

// DeviceOption tunes a Device at construction time.
type DeviceOption func(*deviceOptions)

// WithReadTimeout bounds every transport read issued by the message engine.
func WithReadTimeout(d time.Duration) DeviceOption {
	return func(o *deviceOptions) {
		o.readTimeout = d
	}
}

// WithSettleDelay sets the pause before the single re-read after a transport
// timeout.
func WithSettleDelay(d time.Duration) DeviceOption {
	return func(o *deviceOptions) {
		o.settleDelay = d
	}
}

// WithReportTypes restricts the report flavours used on the wire. Devices
// whose report descriptor lacks the short report get their short requests
// promoted to long.
func WithReportTypes(t ReportTypes) DeviceOption {
	return func(o *deviceOptions) {
		o.reportTypes = t
	}
}

// WithSleep injects the sleep function used by settle delays, so tests can
// run retry loops without wall-clock waits.
func WithSleep(fn func(time.Duration)) DeviceOption {
	return func(o *deviceOptions) {
		o.sleep = fn
	}
}

// Device is one HID++ 2.0 endpoint behind a Transport. All requests are
// serialized: a second request waits until the first completes or times out.
type Device struct {
	log     *zap.Logger
	tr      Transport
	index   uint8
	options deviceOptions

	mu sync.Mutex

	protoMajor uint8
	protoMinor uint8

	featureMu sync.Mutex
	features  map[uint16]Feature
	list      []Feature
}

// NewDevice probes the endpoint at the given device index: protocol version
// first, then the feature set. A protocol below 2.0 is rejected.
func NewDevice(tr Transport, index uint8, log *zap.Logger, opts ...DeviceOption) (*Device, error) {
	options := defaultDeviceOptions
	for _, opt := range opts {
		opt(&options)
	}
	if options.reportTypes == 0 {
		return nil, fmt.Errorf("device supports neither short nor long reports")
	}
	dev := &Device{
		log:      log,
		tr:       tr,
		index:    index,
		options:  options,
		features: make(map[uint16]Feature),
	}
	major, minor, err := dev.protocolVersion()
	if err != nil {
		return nil, fmt.Errorf("failed to probe protocol version: %w", err)
	}
	if major < 2 {
		return nil, fmt.Errorf("protocol %d.%d: %w", major, minor, ErrNotSupported)
	}
	dev.protoMajor = major
	dev.protoMinor = minor
	if err := dev.readFeatureSet(); err != nil {
		return nil, fmt.Errorf("failed to enumerate features: %w", err)
	}
	log.Debug("device probed",
		zap.Uint8("protoMajor", major),
		zap.Uint8("protoMinor", minor),
		zap.Int("features", len(dev.list)))
	return dev, nil
}

// Protocol returns the negotiated protocol version.
func (d *Device) Protocol() (major, minor uint8) {
	return d.protoMajor, d.protoMinor
}

// Index returns the wire device index.
func (d *Device) Index() uint8 {
	return d.index
}

// Close closes the underlying transport. Any in-flight state is undefined
// afterwards; callers must reload from scratch on reopen.
func (d *Device) Close() error {
	return d.tr.Close()
}

func (d *Device) sleep(dur time.Duration) {
	d.options.sleep(dur)
}

// Request sends msg and blocks until the matching reply, an error report for
// it, or a timeout. Replies to other requests and spontaneous event reports
// are skipped. Request never retries on its own; retry policy belongs to the
// caller.
func (d *Device) Request(msg Message) (Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.request(msg)
}

func (d *Device) request(msg Message) (Message, error) {
	if msg.Address&0x0f != 0 {
		return Message{}, fmt.Errorf("%w: request address %02x has the software id bits set", ErrMalformedReply, msg.Address)
	}
	msg.Address |= softwareID
	msg.DeviceIndex = d.index

	if msg.Report == ReportShort && d.options.reportTypes&ReportTypeShort == 0 {
		msg.Report = ReportLong
	}
	if msg.Report == ReportLong && d.options.reportTypes&ReportTypeLong == 0 {
		return Message{}, fmt.Errorf("long reports unsupported: %w", ErrNotSupported)
	}

	if err := d.tr.WriteReport(msg.Encode()); err != nil {
		return Message{}, fmt.Errorf("failed to write request: %w", err)
	}

	timedOut := false
	for {
		data, err := d.tr.ReadReport(d.options.readTimeout)
		if err != nil {
			if !timedOut {
				// One settle-and-retry after a timeout; some receivers
				// need the pause while the device wakes up.
				timedOut = true
				d.sleep(d.options.settleDelay)
				continue
			}
			return Message{}, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		reply, ok := decodeMessage(data)
		if !ok {
			continue
		}
		if reply.DeviceIndex != msg.DeviceIndex {
			// Traffic of another device behind the same receiver.
			continue
		}
		if reply.SubID == msg.SubID && reply.Address == msg.Address {
			return reply, nil
		}
		if (reply.SubID == errorSubID || reply.SubID == errorSubIDAlt) &&
			reply.Address == msg.SubID && reply.Params[0] == msg.Address {
			code := reply.Params[1]
			d.log.Debug("device reported error",
				zap.Uint8("deviceIndex", reply.DeviceIndex),
				zap.String("error", ErrorName(code)))
			return Message{}, &DeviceError{Code: code}
		}
		// Unrelated traffic (events, replies to other software IDs).
	}
}
