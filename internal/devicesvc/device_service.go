// Package devicesvc tracks configurable mice as they come and go, probes
// them through the driver registry and keeps a record of known devices in
// the state store.
package devicesvc

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openmouse/openmouse/mouse"
	"github.com/openmouse/openmouse/pkg/bus"
)

// BackendDevice is one device a backend can open.
type BackendDevice struct {
	ID        string
	Name      string
	VendorID  uint16
	ProductID uint16
}

// BackendEvent reports devices appearing and disappearing.
type BackendEvent struct {
	Connected    []BackendDevice
	Disconnected []string
}

// BackendPublisher delivers backend events into the service.
type BackendPublisher func(ctx context.Context, event BackendEvent)

// Backend is the OS-specific part of device discovery.
type Backend interface {
	Start(ctx context.Context, publisher BackendPublisher) error
	Ready() <-chan struct{}
	OpenDevice(id string) (mouse.Transport, error)
}

// EventType tags events on the device bus.
type EventType uint8

const (
	DeviceConnected EventType = iota
	DeviceDisconnected
	DeviceResynced
	DeviceCommitted
)

func (t EventType) String() string {
	switch t {
	case DeviceConnected:
		return "connected"
	case DeviceDisconnected:
		return "disconnected"
	case DeviceResynced:
		return "resynced"
	case DeviceCommitted:
		return "committed"
	}
	return fmt.Sprintf("unknown event %d", uint8(t))
}

// Event is published on the device bus, keyed by device ID.
type Event struct {
	Type EventType
	Info mouse.DeviceInfo
}

// ManagedDevice is one probed mouse under the service's control.
type ManagedDevice struct {
	ID          string
	Device      *mouse.Device
	Driver      string
	ConnectedAt time.Time

	// commitMu keeps one hardware write transaction in flight per device;
	// interleaved sector writes would corrupt the flash.
	commitMu sync.Mutex
}

// Record is the persisted trace of a device the service has managed,
// surviving disconnects and restarts.
type Record struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	VendorID  uint16    `json:"vendorId"`
	ProductID uint16    `json:"productId"`
	Driver    string    `json:"driver"`
	Profiles  int       `json:"profiles"`
	LastSeen  time.Time `json:"lastSeen"`
}

var recordPrefix = []byte("device:")

// Service connects backend discovery, the driver registry and the device
// bus.
type Service struct {
	log      *zap.Logger
	db       *badger.DB
	backend  Backend
	registry *mouse.Registry

	devices *xsync.MapOf[string, *ManagedDevice]
	bus     *bus.Bus[string, Event]
	ready   chan struct{}

	now func() time.Time
}

func New(log *zap.Logger, db *badger.DB, backend Backend, registry *mouse.Registry) *Service {
	return &Service{
		log:      log.Named("devicesvc"),
		db:       db,
		backend:  backend,
		registry: registry,
		devices:  xsync.NewMapOf[string, *ManagedDevice](),
		bus:      bus.NewBus[string, Event](log),
		ready:    make(chan struct{}),
		now:      time.Now,
	}
}

func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// Start runs the backend and consumes its events until ctx is canceled.
func (s *Service) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if err := s.bus.Start(ctx); err != nil {
		return err
	}

	events := make(chan BackendEvent)
	publisher := func(ctx context.Context, event BackendEvent) {
		select {
		case <-ctx.Done():
		case events <- event:
		}
	}
	g.Go(func() error {
		return s.backend.Start(ctx, publisher)
	})

	select {
	case <-ctx.Done():
		return g.Wait()
	case <-s.backend.Ready():
	}
	close(s.ready)
	s.log.Info("Device service started")

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case event := <-events:
				s.handleBackendEvent(ctx, event)
			}
		}
	})
	return g.Wait()
}

func (s *Service) handleBackendEvent(ctx context.Context, event BackendEvent) {
	for _, id := range event.Disconnected {
		s.handleDisconnected(ctx, id)
	}
	for _, dev := range event.Connected {
		s.handleConnected(ctx, dev)
	}
}

func (s *Service) handleConnected(ctx context.Context, bd BackendDevice) {
	resync := false
	if old, ok := s.devices.Load(bd.ID); ok {
		// The same address reappeared, so the old handle is stale.
		resync = true
		_ = old.Device.Close()
		s.devices.Delete(bd.ID)
	}

	tr, err := s.backend.OpenDevice(bd.ID)
	if err != nil {
		s.log.Error("failed to open device", zap.String("id", bd.ID), zap.Error(err))
		return
	}
	info := mouse.DeviceInfo{
		Path:      bd.ID,
		Name:      bd.Name,
		VendorID:  bd.VendorID,
		ProductID: bd.ProductID,
	}
	dev := mouse.New(info, tr, s.log)
	drv, err := s.registry.Probe(ctx, dev, s.log)
	if err != nil {
		// Not every HID device is a configurable mouse.
		s.log.Debug("no driver for device", zap.String("id", bd.ID), zap.Error(err))
		_ = tr.Close()
		return
	}

	managed := &ManagedDevice{
		ID:          bd.ID,
		Device:      dev,
		Driver:      drv.Name(),
		ConnectedAt: s.now(),
	}
	s.devices.Store(bd.ID, managed)
	if err := s.storeRecord(managed); err != nil {
		s.log.Error("failed to persist device record", zap.Error(err))
	}

	eventType := DeviceConnected
	if resync {
		eventType = DeviceResynced
	}
	s.bus.Publish(ctx, bd.ID, Event{Type: eventType, Info: info})
	s.log.Info("device ready",
		zap.String("id", bd.ID),
		zap.String("driver", drv.Name()),
		zap.Int("profiles", len(dev.Profiles())))
}

func (s *Service) handleDisconnected(ctx context.Context, id string) {
	managed, ok := s.devices.Load(id)
	if !ok {
		return
	}
	s.devices.Delete(id)
	_ = managed.Device.Close()
	s.bus.Publish(ctx, id, Event{Type: DeviceDisconnected, Info: managed.Device.Info()})
	s.log.Info("device disconnected", zap.String("id", id))
}

// Devices returns the managed devices sorted by ID.
func (s *Service) Devices() []*ManagedDevice {
	var out []*ManagedDevice
	s.devices.Range(func(_ string, d *ManagedDevice) bool {
		out = append(out, d)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns one managed device by ID.
func (s *Service) Get(id string) (*ManagedDevice, error) {
	d, ok := s.devices.Load(id)
	if !ok {
		return nil, fmt.Errorf("device not connected: %s", id)
	}
	return d, nil
}

// Commit writes a device's dirty profiles back and publishes the result.
// Commits of the same device are serialized.
func (s *Service) Commit(ctx context.Context, id string) error {
	d, err := s.Get(id)
	if err != nil {
		return err
	}
	d.commitMu.Lock()
	defer d.commitMu.Unlock()
	if err := d.Device.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit %s: %w", id, err)
	}
	if err := s.storeRecord(d); err != nil {
		s.log.Error("failed to persist device record", zap.Error(err))
	}
	s.bus.Publish(ctx, id, Event{Type: DeviceCommitted, Info: d.Device.Info()})
	return nil
}

// Subscribe delivers device events until ctx is canceled. Without IDs it
// delivers events of every device.
func (s *Service) Subscribe(ctx context.Context, ids ...string) <-chan bus.Message[string, Event] {
	return s.bus.Subscribe(ctx, ids...)
}

func (s *Service) storeRecord(d *ManagedDevice) error {
	info := d.Device.Info()
	record := Record{
		ID:        d.ID,
		Name:      info.Name,
		VendorID:  info.VendorID,
		ProductID: info.ProductID,
		Driver:    d.Driver,
		Profiles:  len(d.Device.Profiles()),
		LastSeen:  s.now(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(append(recordPrefix, []byte(d.ID)...), data)
	})
}

// Known returns every device record ever persisted, sorted by ID, whether
// or not the device is currently connected.
func (s *Service) Known() ([]Record, error) {
	var records []Record
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(recordPrefix); it.ValidForPrefix(recordPrefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var record Record
				if err := json.Unmarshal(val, &record); err != nil {
					return err
				}
				records = append(records, record)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}
