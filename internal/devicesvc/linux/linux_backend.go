// Package linux discovers HID devices through hidapi and opens their
// vendor-protocol interface as a raw report transport.
package linux

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sstallion/go-hid"
	"go.uber.org/zap"

	"github.com/openmouse/openmouse/internal/devicesvc"
	"github.com/openmouse/openmouse/mouse"
)

// Vendor usage pages carrying the short and long configuration reports.
// Only interfaces exposing one of them are worth probing.
const (
	usagePageVendor   = 0xff00
	usagePageVendorHi = 0xff43
)

var defaultBackendOptions = backendOptions{
	pollInterval: 1 * time.Second,
}

type backendOptions struct {
	pollInterval time.Duration
}

type Option func(*backendOptions)

// WithPollInterval sets how often the device list is re-enumerated.
func WithPollInterval(d time.Duration) Option {
	return func(o *backendOptions) {
		o.pollInterval = d
	}
}

// Backend implements devicesvc.Backend on top of hidapi.
type Backend struct {
	log     *zap.Logger
	options backendOptions

	devices *xsync.MapOf[HidAddress, hid.DeviceInfo]
	ready   chan struct{}

	publisher devicesvc.BackendPublisher
}

// HidAddress identifies one HID interface of one device.
type HidAddress struct {
	VendorID  uint16
	ProductID uint16
	Interface int
}

func (a HidAddress) String() string {
	return fmt.Sprintf("%04x:%04x:%d", a.VendorID, a.ProductID, a.Interface)
}

func ParseHidAddress(s string) (HidAddress, error) {
	var addr HidAddress
	_, err := fmt.Sscanf(s, "%04x:%04x:%d", &addr.VendorID, &addr.ProductID, &addr.Interface)
	if err != nil {
		return HidAddress{}, err
	}
	return addr, nil
}

func NewBackend(log *zap.Logger, opts ...Option) *Backend {
	options := defaultBackendOptions
	for _, opt := range opts {
		opt(&options)
	}
	return &Backend{
		log:     log.Named("linux"),
		options: options,
		devices: xsync.NewMapOf[HidAddress, hid.DeviceInfo](),
		ready:   make(chan struct{}),
	}
}

func (b *Backend) Ready() <-chan struct{} {
	return b.ready
}

func (b *Backend) Start(ctx context.Context, publisher devicesvc.BackendPublisher) error {
	hid.Init()
	b.publisher = publisher

	b.log.Info("Starting Linux HID backend")
	if err := b.refreshDevices(ctx); err != nil {
		return fmt.Errorf("failed to enumerate HID devices: %w", err)
	}
	close(b.ready)

	pollTicker := time.NewTicker(b.options.pollInterval)
	defer pollTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pollTicker.C:
			if err := b.refreshDevices(ctx); err != nil {
				b.log.Error("failed to refresh HID devices", zap.Error(err))
			}
		}
	}
}

func (b *Backend) refreshDevices(ctx context.Context) error {
	newDevices, err := b.enumerateDevices()
	if err != nil {
		return err
	}
	var disconnected []string
	var connected []devicesvc.BackendDevice
	b.devices.Range(func(addr HidAddress, dev hid.DeviceInfo) bool {
		if _, ok := newDevices[addr]; !ok {
			disconnected = append(disconnected, addr.String())
			b.devices.Delete(addr)
			return true
		}
		delete(newDevices, addr)
		return true
	})

	for addr, device := range newDevices {
		b.devices.Store(addr, device)
		connected = append(connected, devicesvc.BackendDevice{
			ID:        addr.String(),
			Name:      generateName(device),
			VendorID:  device.VendorID,
			ProductID: device.ProductID,
		})
	}

	if len(connected) > 0 || len(disconnected) > 0 {
		b.publisher(ctx, devicesvc.BackendEvent{
			Connected:    connected,
			Disconnected: disconnected,
		})
	}
	return nil
}

func generateName(device hid.DeviceInfo) string {
	var parts []string
	if device.MfrStr != "" {
		parts = append(parts, device.MfrStr)
	}
	if device.ProductStr != "" {
		parts = append(parts, device.ProductStr)
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%04x:%04x", device.VendorID, device.ProductID)
	}
	return strings.Join(parts, " ")
}

func (b *Backend) enumerateDevices() (map[HidAddress]hid.DeviceInfo, error) {
	devices := make(map[HidAddress]hid.DeviceInfo)
	err := hid.Enumerate(hid.VendorIDAny, hid.ProductIDAny, func(device *hid.DeviceInfo) error {
		if device.UsagePage != usagePageVendor && device.UsagePage != usagePageVendorHi {
			return nil
		}
		addr := HidAddress{
			VendorID:  device.VendorID,
			ProductID: device.ProductID,
			Interface: device.InterfaceNbr,
		}
		devices[addr] = *device
		return nil
	})
	if err != nil {
		return nil, err
	}
	return devices, nil
}

// OpenDevice opens the raw report channel of a discovered device.
func (b *Backend) OpenDevice(id string) (mouse.Transport, error) {
	addr, err := ParseHidAddress(id)
	if err != nil {
		return nil, err
	}
	info, ok := b.devices.Load(addr)
	if !ok {
		return nil, fmt.Errorf("device not found: %s", id)
	}
	dev, err := hid.OpenPath(info.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", info.Path, err)
	}
	return &hidapiTransport{
		log:  b.log,
		info: info,
		dev:  dev,
	}, nil
}

// hidapiTransport adapts one hidapi handle to the report transport the
// protocol layer consumes.
type hidapiTransport struct {
	log  *zap.Logger
	info hid.DeviceInfo
	dev  *hid.Device
}

func (h *hidapiTransport) WriteReport(data []byte) error {
	n, err := h.dev.Write(data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(data))
	}
	return nil
}

func (h *hidapiTransport) ReadReport(timeout time.Duration) ([]byte, error) {
	buf := make([]byte, 64)
	n, err := h.dev.ReadWithTimeout(buf, timeout)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("read timed out after %s", timeout)
	}
	return buf[:n], nil
}

func (h *hidapiTransport) Close() error {
	return h.dev.Close()
}
