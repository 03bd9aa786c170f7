package hidpp

import (
	"bytes"
	"fmt"

	"go.uber.org/zap"
)

// Onboard profiles page functions.
const (
	cmdProfilesGetDescription = 0x00
	cmdProfilesSetOnboardMode = 0x10
	cmdProfilesGetOnboardMode = 0x20
	cmdProfilesSetCurrent     = 0x30
	cmdProfilesGetCurrent     = 0x40
	cmdProfilesMemoryRead     = 0x50
	cmdProfilesMemoryAddr     = 0x60
	cmdProfilesMemoryWrite    = 0x70
	cmdProfilesMemoryWriteEnd = 0x80
	cmdProfilesGetDPIIndex    = 0xb0
	cmdProfilesSetDPIIndex    = 0xc0
)

// Onboard modes.
const (
	onboardModeOnboard = 0x01
	onboardModeHost    = 0x02
)

// romSectorFlag addresses the read-only factory copy of a sector.
const romSectorFlag = 0x0100

// memoryChunk is the payload size of one memory read or write frame.
const memoryChunk = 16

// setProfileAttempts bounds the verify-and-retry loop of SetActiveProfile;
// some firmwares acknowledge the switch but stay on the old profile.
const setProfileAttempts = 3

// ProfilesInfo is the static description of the onboard profile memory.
type ProfilesInfo struct {
	MemoryModel     uint8
	ProfileFormat   uint8
	MacroFormat     uint8
	ProfileCount    uint8
	OOBProfileCount uint8
	ButtonCount     uint8
	SectorCount     uint8
	SectorSize      uint16
}

// DirectoryEntry is one slot of the profile directory sector.
type DirectoryEntry struct {
	Sector  uint16
	Enabled bool
}

// ChecksumError means a sector's stored checksum does not match its
// content.
type ChecksumError struct {
	Sector uint16
	Want   uint16
	Got    uint16
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("sector 0x%04x checksum mismatch: stored 0x%04x, computed 0x%04x", e.Sector, e.Want, e.Got)
}

// Checksum is the CRC-CCITT variant the firmware runs over sector payloads,
// seeded with 0xffff.
func Checksum(data []byte) uint16 {
	crc := uint16(0xffff)
	for _, b := range data {
		temp := (crc >> 8) ^ uint16(b)
		crc <<= 8
		quick := temp ^ (temp >> 4)
		crc ^= quick
		quick <<= 5
		crc ^= quick
		quick <<= 7
		crc ^= quick
	}
	return crc
}

// ProfileStore is the onboard profile memory of one device.
type ProfileStore struct {
	dev     *Device
	log     *zap.Logger
	feature Feature
	info    ProfilesInfo
}

// OpenProfiles probes the onboard profiles feature and validates that the
// memory layout is one this implementation understands.
func OpenProfiles(d *Device) (*ProfileStore, error) {
	f, err := d.GetFeature(PageOnboardProfiles)
	if err != nil {
		return nil, err
	}
	reply, err := d.Request(Message{
		Report:  ReportShort,
		SubID:   f.Index,
		Address: cmdProfilesGetDescription,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles description: %w", err)
	}
	info := ProfilesInfo{
		MemoryModel:     reply.Params[0],
		ProfileFormat:   reply.Params[1],
		MacroFormat:     reply.Params[2],
		ProfileCount:    reply.Params[3],
		OOBProfileCount: reply.Params[4],
		ButtonCount:     reply.Params[5],
		SectorCount:     reply.Params[6],
		SectorSize:      getBE16(reply.Params[7:]),
	}
	if info.MemoryModel != 0x01 {
		return nil, fmt.Errorf("memory model 0x%02x: %w", info.MemoryModel, ErrNotSupported)
	}
	if info.ProfileFormat < 0x01 || info.ProfileFormat > 0x03 {
		return nil, fmt.Errorf("profile format 0x%02x: %w", info.ProfileFormat, ErrNotSupported)
	}
	if info.MacroFormat != 0x00 {
		return nil, fmt.Errorf("macro format 0x%02x: %w", info.MacroFormat, ErrNotSupported)
	}
	if info.SectorSize < memoryChunk || info.SectorSize%memoryChunk != 0 || info.ProfileCount == 0 {
		return nil, fmt.Errorf("%w: implausible profile memory (%d sectors of %d bytes, %d profiles)",
			ErrMalformedReply, info.SectorCount, info.SectorSize, info.ProfileCount)
	}
	return &ProfileStore{
		dev:     d,
		log:     d.log.Named("profiles"),
		feature: f,
		info:    info,
	}, nil
}

// Info returns the static memory description read at open time.
func (s *ProfileStore) Info() ProfilesInfo {
	return s.info
}

// OnboardMode reports whether the device plays its onboard profiles (true)
// or is driven by the host (false).
func (s *ProfileStore) OnboardMode() (bool, error) {
	reply, err := s.dev.Request(Message{
		Report:  ReportShort,
		SubID:   s.feature.Index,
		Address: cmdProfilesGetOnboardMode,
	})
	if err != nil {
		return false, fmt.Errorf("failed to read onboard mode: %w", err)
	}
	return reply.Params[0] == onboardModeOnboard, nil
}

// SetOnboardMode switches between onboard and host mode.
func (s *ProfileStore) SetOnboardMode(onboard bool) error {
	msg := Message{
		Report:  ReportShort,
		SubID:   s.feature.Index,
		Address: cmdProfilesSetOnboardMode,
	}
	if onboard {
		msg.Params[0] = onboardModeOnboard
	} else {
		msg.Params[0] = onboardModeHost
	}
	if _, err := s.dev.Request(msg); err != nil {
		return fmt.Errorf("failed to set onboard mode: %w", err)
	}
	return nil
}

// ReadSector reads one full sector. Reads go in 16-byte chunks; the final
// chunk is issued at sectorSize-16 because firmware rejects offsets past
// it, so the tail overlaps the previous chunk.
func (s *ProfileStore) ReadSector(sector uint16) ([]byte, error) {
	size := int(s.info.SectorSize)
	data := make([]byte, size)
	for off := 0; off < size; off += memoryChunk {
		if off+memoryChunk > size {
			off = size - memoryChunk
		}
		msg := Message{
			Report:  ReportLong,
			SubID:   s.feature.Index,
			Address: cmdProfilesMemoryRead,
		}
		putBE16(msg.Params[0:], sector)
		putBE16(msg.Params[2:], uint16(off))
		reply, err := s.dev.Request(msg)
		if err != nil {
			return nil, fmt.Errorf("failed to read sector 0x%04x at offset %d: %w", sector, off, err)
		}
		copy(data[off:], reply.Params[:memoryChunk])
	}
	return data, nil
}

// WriteSector writes one full sector: an address frame opens the
// transaction, the payload goes out in 16-byte frames, and the end frame
// commits it to flash.
func (s *ProfileStore) WriteSector(sector uint16, data []byte) error {
	if len(data) != int(s.info.SectorSize) {
		return &ValidationError{What: "sector payload", Value: len(data), Reason: fmt.Sprintf("must be exactly %d bytes", s.info.SectorSize)}
	}
	msg := Message{
		Report:  ReportLong,
		SubID:   s.feature.Index,
		Address: cmdProfilesMemoryAddr,
	}
	putBE16(msg.Params[0:], sector)
	putBE16(msg.Params[2:], 0)
	putBE16(msg.Params[4:], uint16(len(data)))
	if _, err := s.dev.Request(msg); err != nil {
		return fmt.Errorf("failed to open write to sector 0x%04x: %w", sector, err)
	}
	for off := 0; off < len(data); off += memoryChunk {
		msg := Message{
			Report:  ReportLong,
			SubID:   s.feature.Index,
			Address: cmdProfilesMemoryWrite,
		}
		copy(msg.Params[:], data[off:off+memoryChunk])
		if _, err := s.dev.Request(msg); err != nil {
			return fmt.Errorf("failed to write sector 0x%04x at offset %d: %w", sector, off, err)
		}
	}
	if _, err := s.dev.Request(Message{
		Report:  ReportShort,
		SubID:   s.feature.Index,
		Address: cmdProfilesMemoryWriteEnd,
	}); err != nil {
		return fmt.Errorf("failed to finish write to sector 0x%04x: %w", sector, err)
	}
	s.log.Debug("sector written", zap.Uint16("sector", sector))
	return nil
}

// readValidSector reads a sector and verifies its trailing checksum,
// falling back to the ROM copy when the user copy is blank or corrupt.
func (s *ProfileStore) readValidSector(sector uint16) ([]byte, error) {
	data, err := s.ReadSector(sector)
	if err == nil {
		if err := verifyChecksum(sector, data); err == nil {
			return data, nil
		}
		s.log.Debug("user sector invalid, falling back to rom", zap.Uint16("sector", sector))
	}
	rom := sector | romSectorFlag
	data, romErr := s.ReadSector(rom)
	if romErr != nil {
		if err != nil {
			return nil, err
		}
		return nil, romErr
	}
	if err := verifyChecksum(rom, data); err != nil {
		return nil, err
	}
	return data, nil
}

func verifyChecksum(sector uint16, data []byte) error {
	stored := getBE16(data[len(data)-2:])
	computed := Checksum(data[:len(data)-2])
	if stored != computed {
		return &ChecksumError{Sector: sector, Want: stored, Got: computed}
	}
	return nil
}

// sealChecksum recomputes and stores the trailing checksum of a sector
// image.
func sealChecksum(data []byte) {
	putBE16(data[len(data)-2:], Checksum(data[:len(data)-2]))
}

// Directory reads the profile directory from sector 0, or its ROM copy when
// the user copy has never been written. Entries past ProfileCount are
// ignored.
func (s *ProfileStore) Directory() ([]DirectoryEntry, error) {
	data, err := s.readValidSector(0x0000)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile directory: %w", err)
	}
	var entries []DirectoryEntry
	for off := 0; off+4 <= len(data)-2 && len(entries) < int(s.info.ProfileCount); off += 4 {
		sector := getBE16(data[off:])
		if sector == 0xffff {
			break
		}
		entries = append(entries, DirectoryEntry{
			Sector:  sector,
			Enabled: data[off+2] != 0,
		})
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: profile directory is empty", ErrMalformedReply)
	}
	return entries, nil
}

// WriteDirectory writes the profile directory to sector 0 with a fresh
// checksum.
func (s *ProfileStore) WriteDirectory(entries []DirectoryEntry) error {
	if len(entries) == 0 || len(entries) > int(s.info.ProfileCount) {
		return &ValidationError{What: "directory size", Value: len(entries), Reason: fmt.Sprintf("must be between 1 and %d entries", s.info.ProfileCount)}
	}
	data := make([]byte, s.info.SectorSize)
	for i := range data {
		data[i] = 0xff
	}
	for i, e := range entries {
		putBE16(data[i*4:], e.Sector)
		if e.Enabled {
			data[i*4+2] = 0x01
		} else {
			data[i*4+2] = 0x00
		}
		data[i*4+3] = 0x00
	}
	sealChecksum(data)
	return s.WriteSector(0x0000, data)
}

// ActiveProfile returns the zero-based index of the profile the device is
// currently on.
func (s *ProfileStore) ActiveProfile() (int, error) {
	reply, err := s.dev.Request(Message{
		Report:  ReportShort,
		SubID:   s.feature.Index,
		Address: cmdProfilesGetCurrent,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read active profile: %w", err)
	}
	n := getBE16(reply.Params[:2])
	if n == 0 {
		return 0, fmt.Errorf("%w: device reports no active profile", ErrMalformedReply)
	}
	return int(n) - 1, nil
}

// SetActiveProfile switches the device to the zero-based profile index and
// verifies the switch took, retrying a bounded number of times.
func (s *ProfileStore) SetActiveProfile(index int) error {
	if index < 0 || index >= int(s.info.ProfileCount) {
		return &ValidationError{What: "profile index", Value: index, Reason: fmt.Sprintf("device has %d profiles", s.info.ProfileCount)}
	}
	var lastErr error
	for attempt := 0; attempt < setProfileAttempts; attempt++ {
		msg := Message{
			Report:  ReportShort,
			SubID:   s.feature.Index,
			Address: cmdProfilesSetCurrent,
		}
		putBE16(msg.Params[:], uint16(index)+1)
		if _, err := s.dev.Request(msg); err != nil {
			lastErr = err
			continue
		}
		active, err := s.ActiveProfile()
		if err != nil {
			lastErr = err
			continue
		}
		if active == index {
			return nil
		}
		lastErr = fmt.Errorf("device stayed on profile %d", active)
		s.log.Debug("profile switch did not stick", zap.Int("wanted", index), zap.Int("active", active))
	}
	return fmt.Errorf("failed to switch to profile %d: %w", index, lastErr)
}

// DPIIndex reads the active resolution slot of the current profile.
func (s *ProfileStore) DPIIndex() (uint8, error) {
	reply, err := s.dev.Request(Message{
		Report:  ReportShort,
		SubID:   s.feature.Index,
		Address: cmdProfilesGetDPIIndex,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read dpi index: %w", err)
	}
	return reply.Params[0], nil
}

// SetDPIIndex selects a resolution slot of the current profile.
func (s *ProfileStore) SetDPIIndex(index uint8) error {
	if index >= profileDPICount {
		return &ValidationError{What: "dpi index", Value: int(index), Reason: fmt.Sprintf("profiles hold %d resolutions", profileDPICount)}
	}
	msg := Message{
		Report:  ReportShort,
		SubID:   s.feature.Index,
		Address: cmdProfilesSetDPIIndex,
	}
	msg.Params[0] = index
	if _, err := s.dev.Request(msg); err != nil {
		return fmt.Errorf("failed to set dpi index: %w", err)
	}
	return nil
}

// Profile record layout inside a sector.
const (
	profileDPICount      = 5
	profileButtonCount   = 16
	profileNameLength    = 48
	profileLedCount      = 2
	profileLedSize       = 11
	profileOffButtons    = 32
	profileOffAltButtons = 96
	profileOffName       = 160
	profileOffLeds       = 208
	profileOffAltLeds    = 230
	profileMinSize       = 256
)

// ProfileLed is one lighting slot stored in a profile record.
type ProfileLed struct {
	Mode       uint8
	Color      Color
	Period     uint16
	Brightness uint8
}

// OnboardProfile is one decoded profile record.
type OnboardProfile struct {
	ReportRateMS     uint8
	DefaultDPIIndex  uint8
	SwitchedDPIIndex uint8
	DPI              [profileDPICount]uint16
	Color            Color
	PowerMode        uint8
	AngleSnapping    uint8
	PowersaveTimeout uint16
	PoweroffTimeout  uint16
	Buttons          [profileButtonCount]Binding
	AltButtons       [profileButtonCount]Binding
	Name             string
	Leds             [profileLedCount]ProfileLed
	AltLeds          [profileLedCount]ProfileLed
}

// ReadProfile loads and decodes the profile at the zero-based directory
// index, falling back to the ROM copy of its sector when the user copy is
// invalid.
func (s *ProfileStore) ReadProfile(index int) (*OnboardProfile, error) {
	entries, err := s.Directory()
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(entries) {
		return nil, &ValidationError{What: "profile index", Value: index, Reason: fmt.Sprintf("directory has %d entries", len(entries))}
	}
	data, err := s.readValidSector(entries[index].Sector)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile %d: %w", index, err)
	}
	return decodeProfile(data)
}

// WriteProfile encodes and writes the profile at the zero-based directory
// index with a fresh checksum.
func (s *ProfileStore) WriteProfile(index int, p *OnboardProfile) error {
	entries, err := s.Directory()
	if err != nil {
		return err
	}
	if index < 0 || index >= len(entries) {
		return &ValidationError{What: "profile index", Value: index, Reason: fmt.Sprintf("directory has %d entries", len(entries))}
	}
	data, err := encodeProfile(p, int(s.info.SectorSize))
	if err != nil {
		return err
	}
	if err := s.WriteSector(entries[index].Sector, data); err != nil {
		return fmt.Errorf("failed to write profile %d: %w", index, err)
	}
	return nil
}

func decodeProfile(data []byte) (*OnboardProfile, error) {
	if len(data) < profileMinSize {
		return nil, fmt.Errorf("%w: profile record of %d bytes", ErrMalformedReply, len(data))
	}
	p := &OnboardProfile{
		ReportRateMS:     data[0],
		DefaultDPIIndex:  data[1],
		SwitchedDPIIndex: data[2],
		Color:            Color{R: data[13], G: data[14], B: data[15]},
		PowerMode:        data[16],
		AngleSnapping:    data[17],
		PowersaveTimeout: getLE16(data[28:]),
		PoweroffTimeout:  getLE16(data[30:]),
	}
	for i := 0; i < profileDPICount; i++ {
		p.DPI[i] = getLE16(data[3+i*2:])
	}
	for i := 0; i < profileButtonCount; i++ {
		var raw [4]byte
		copy(raw[:], data[profileOffButtons+i*4:])
		b, err := DecodeBinding(raw)
		if err != nil {
			return nil, fmt.Errorf("button %d: %w", i, err)
		}
		p.Buttons[i] = b
		copy(raw[:], data[profileOffAltButtons+i*4:])
		b, err = DecodeBinding(raw)
		if err != nil {
			return nil, fmt.Errorf("alternate button %d: %w", i, err)
		}
		p.AltButtons[i] = b
	}
	p.Name = decodeProfileName(data[profileOffName : profileOffName+profileNameLength])
	for i := 0; i < profileLedCount; i++ {
		p.Leds[i] = decodeProfileLed(data[profileOffLeds+i*profileLedSize:])
		p.AltLeds[i] = decodeProfileLed(data[profileOffAltLeds+i*profileLedSize:])
	}
	return p, nil
}

func encodeProfile(p *OnboardProfile, sectorSize int) ([]byte, error) {
	if sectorSize < profileMinSize {
		return nil, &ValidationError{What: "sector size", Value: sectorSize, Reason: fmt.Sprintf("profile records need %d bytes", profileMinSize)}
	}
	if len(p.Name) > profileNameLength {
		return nil, &ValidationError{What: "profile name length", Value: len(p.Name), Reason: fmt.Sprintf("at most %d bytes", profileNameLength)}
	}
	data := make([]byte, sectorSize)
	for i := range data {
		data[i] = 0xff
	}
	data[0] = p.ReportRateMS
	data[1] = p.DefaultDPIIndex
	data[2] = p.SwitchedDPIIndex
	for i := 0; i < profileDPICount; i++ {
		putLE16(data[3+i*2:], p.DPI[i])
	}
	data[13] = p.Color.R
	data[14] = p.Color.G
	data[15] = p.Color.B
	data[16] = p.PowerMode
	data[17] = p.AngleSnapping
	for i := 18; i < 28; i++ {
		data[i] = 0x00
	}
	putLE16(data[28:], p.PowersaveTimeout)
	putLE16(data[30:], p.PoweroffTimeout)
	for i := 0; i < profileButtonCount; i++ {
		raw, err := p.Buttons[i].Encode()
		if err != nil {
			return nil, fmt.Errorf("button %d: %w", i, err)
		}
		copy(data[profileOffButtons+i*4:], raw[:])
		raw, err = p.AltButtons[i].Encode()
		if err != nil {
			return nil, fmt.Errorf("alternate button %d: %w", i, err)
		}
		copy(data[profileOffAltButtons+i*4:], raw[:])
	}
	encodeProfileName(data[profileOffName:profileOffName+profileNameLength], p.Name)
	for i := 0; i < profileLedCount; i++ {
		encodeProfileLed(data[profileOffLeds+i*profileLedSize:], p.Leds[i])
		encodeProfileLed(data[profileOffAltLeds+i*profileLedSize:], p.AltLeds[i])
	}
	sealChecksum(data)
	return data, nil
}

// decodeProfileName interprets the stored name field. A field that was
// never written reads back as all 0xff and means "unnamed".
func decodeProfileName(raw []byte) string {
	blank := true
	for _, b := range raw {
		if b != 0xff {
			blank = false
			break
		}
	}
	if blank {
		return ""
	}
	if i := bytes.IndexByte(raw, 0x00); i >= 0 {
		raw = raw[:i]
	}
	return string(raw)
}

func encodeProfileName(dst []byte, name string) {
	for i := range dst {
		dst[i] = 0x00
	}
	copy(dst, name)
}

func decodeProfileLed(raw []byte) ProfileLed {
	return ProfileLed{
		Mode:       raw[0],
		Color:      Color{R: raw[1], G: raw[2], B: raw[3]},
		Period:     getBE16(raw[4:]),
		Brightness: raw[6],
	}
}

func encodeProfileLed(dst []byte, led ProfileLed) {
	for i := 0; i < profileLedSize; i++ {
		dst[i] = 0x00
	}
	dst[0] = led.Mode
	dst[1] = led.Color.R
	dst[2] = led.Color.G
	dst[3] = led.Color.B
	putBE16(dst[4:], led.Period)
	dst[6] = led.Brightness
}

// ReadMacro decodes the macro a binding points at, reading pages on demand.
func (s *ProfileStore) ReadMacro(b Binding) ([]MacroEvent, error) {
	if b.Kind != BindMacro {
		return nil, &ValidationError{What: "binding kind", Value: int(b.Kind), Reason: "not a macro binding"}
	}
	cache := make(map[uint8][]byte)
	fetch := func(page uint8) ([]byte, error) {
		if data, ok := cache[page]; ok {
			return data, nil
		}
		data, err := s.ReadSector(uint16(page))
		if err != nil {
			return nil, err
		}
		cache[page] = data
		return data, nil
	}
	return DecodeMacro(b.MacroPage, b.MacroOffset, fetch)
}

// WriteMacro encodes events into the given sector starting at offset zero
// and returns a binding pointing at it. The bytecode must fit in one
// sector.
func (s *ProfileStore) WriteMacro(sector uint16, events []MacroEvent) (Binding, error) {
	code, err := EncodeMacro(events)
	if err != nil {
		return Binding{}, err
	}
	size := int(s.info.SectorSize)
	if len(code) > size-2 {
		return Binding{}, &ValidationError{What: "macro length", Value: len(code), Reason: fmt.Sprintf("at most %d bytes per sector", size-2)}
	}
	data := make([]byte, size)
	for i := range data {
		data[i] = 0xff
	}
	copy(data, code)
	sealChecksum(data)
	if err := s.WriteSector(sector, data); err != nil {
		return Binding{}, err
	}
	return Binding{Kind: BindMacro, MacroPage: uint8(sector), MacroOffset: 0}, nil
}
