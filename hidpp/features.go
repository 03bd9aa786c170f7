package hidpp

import (
	"errors"
	"fmt"
)

// Feature pages. The page is the stable identifier of a capability; the
// index it lives at differs per device and firmware revision.
const (
	PageRoot              uint16 = 0x0000
	PageFeatureSet        uint16 = 0x0001
	PageDeviceInfo        uint16 = 0x0003
	PageDeviceName        uint16 = 0x0005
	PageReset             uint16 = 0x0020
	PageBatteryLevel      uint16 = 0x1000
	PageBatteryVoltage    uint16 = 0x1001
	PageLedSwControl      uint16 = 0x1300
	PageKbdReprogrammable uint16 = 0x1b00
	PageSpecialKeys       uint16 = 0x1b04
	PageMousePointer      uint16 = 0x2200
	PageAdjustableDPI     uint16 = 0x2201
	PageAngleSnapping     uint16 = 0x2230
	PageReportRate        uint16 = 0x8060
	PageColorLedEffects   uint16 = 0x8070
	PageOnboardProfiles   uint16 = 0x8100
	PageMouseButtonSpy    uint16 = 0x8110
)

// Root page functions.
const (
	cmdRootGetFeature     = 0x00
	cmdRootGetProtocolVer = 0x10
)

// Feature set page functions.
const (
	cmdFeatureSetGetCount   = 0x00
	cmdFeatureSetGetFeature = 0x10
)

// pingMarker is echoed back by GetProtocolVersion so the reply can be told
// apart from a stale one.
const pingMarker = 0xaa

// featureNames is process-wide and immutable after initialization.
var featureNames = map[uint16]string{
	PageRoot:              "Root",
	PageFeatureSet:        "Feature Set",
	PageDeviceInfo:        "Device FW Version",
	PageDeviceName:        "Device Name",
	PageReset:             "Reset",
	PageBatteryLevel:      "Battery Level Status",
	PageBatteryVoltage:    "Battery Voltage",
	PageLedSwControl:      "LED Software Control",
	PageKbdReprogrammable: "Keyboard Reprogrammable Keys",
	PageSpecialKeys:       "Special Keys and Mouse Buttons",
	PageMousePointer:      "Mouse Pointer",
	PageAdjustableDPI:     "Adjustable DPI",
	PageAngleSnapping:     "Angle Snapping",
	PageReportRate:        "Report Rate",
	PageColorLedEffects:   "Color LED Effects",
	PageOnboardProfiles:   "Onboard Profiles",
	PageMouseButtonSpy:    "Mouse Button Spy",
}

// FeatureName returns the human-readable name of a feature page, or a
// numeric placeholder for pages not in the table.
func FeatureName(page uint16) string {
	if name, ok := featureNames[page]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN (0x%04x)", page)
}

// Feature flag bits reported by the feature set.
const (
	FeatureFlagObsolete = 0x80
	FeatureFlagHidden   = 0x40
	FeatureFlagInternal = 0x20
)

// Feature is one entry of a device's feature table.
type Feature struct {
	Page  uint16
	Index uint8
	Flags uint8
}

func (f Feature) String() string {
	return fmt.Sprintf("%s at index %d", FeatureName(f.Page), f.Index)
}

// protocolVersion asks the root feature for the protocol version. Devices
// speaking HID++ 1.0 reject the root sub ID, which 1.0 reports as
// ERR_INVALID_SUBID; that is mapped to version 1.0 here.
func (d *Device) protocolVersion() (major, minor uint8, err error) {
	msg := Message{
		Report:  ReportShort,
		SubID:   0x00,
		Address: cmdRootGetProtocolVer,
	}
	msg.Params[2] = pingMarker
	reply, err := d.Request(msg)
	if err != nil {
		var de *DeviceError
		if errors.As(err, &de) && de.Code == ErrCodeUnknown {
			// HID++ 1.0 ERR_INVALID_SUBID shares the 0x01 code.
			return 1, 0, nil
		}
		return 0, 0, err
	}
	return reply.Params[0], reply.Params[1], nil
}

// GetFeature resolves a feature page to its index on this device. The result
// is cached for the lifetime of the Device. ErrNotSupported is returned when
// the device does not expose the page.
func (d *Device) GetFeature(page uint16) (Feature, error) {
	d.featureMu.Lock()
	defer d.featureMu.Unlock()
	return d.getFeature(page)
}

func (d *Device) getFeature(page uint16) (Feature, error) {
	if f, ok := d.features[page]; ok {
		return f, nil
	}
	msg := Message{
		Report:  ReportShort,
		SubID:   0x00,
		Address: cmdRootGetFeature,
	}
	putBE16(msg.Params[:], page)
	reply, err := d.Request(msg)
	if err != nil {
		return Feature{}, fmt.Errorf("failed to look up feature %s: %w", FeatureName(page), err)
	}
	if reply.Params[0] == 0 {
		return Feature{}, fmt.Errorf("%s: %w", FeatureName(page), ErrNotSupported)
	}
	f := Feature{Page: page, Index: reply.Params[0], Flags: reply.Params[1]}
	d.features[page] = f
	return f, nil
}

// Features returns the full feature table in index order, as enumerated at
// probe time.
func (d *Device) Features() []Feature {
	d.featureMu.Lock()
	defer d.featureMu.Unlock()
	out := make([]Feature, len(d.list))
	copy(out, d.list)
	return out
}

// HasFeature reports whether the device exposes the given page.
func (d *Device) HasFeature(page uint16) bool {
	_, err := d.GetFeature(page)
	return err == nil
}

// readFeatureSet walks the feature set page and fills the feature table.
func (d *Device) readFeatureSet() error {
	d.featureMu.Lock()
	defer d.featureMu.Unlock()

	fs, err := d.getFeature(PageFeatureSet)
	if err != nil {
		return err
	}
	reply, err := d.Request(Message{
		Report:  ReportShort,
		SubID:   fs.Index,
		Address: cmdFeatureSetGetCount,
	})
	if err != nil {
		return fmt.Errorf("failed to read feature count: %w", err)
	}
	// The reported count excludes the root feature at index 0.
	count := int(reply.Params[0]) + 1

	list := make([]Feature, 0, count)
	list = append(list, Feature{Page: PageRoot, Index: 0})
	for i := 1; i < count; i++ {
		msg := Message{
			Report:  ReportShort,
			SubID:   fs.Index,
			Address: cmdFeatureSetGetFeature,
		}
		msg.Params[0] = uint8(i)
		reply, err := d.Request(msg)
		if err != nil {
			return fmt.Errorf("failed to read feature at index %d: %w", i, err)
		}
		f := Feature{
			Page:  getBE16(reply.Params[:2]),
			Index: uint8(i),
			Flags: reply.Params[2],
		}
		list = append(list, f)
		if _, ok := d.features[f.Page]; !ok {
			d.features[f.Page] = f
		}
	}
	d.list = list
	return nil
}
