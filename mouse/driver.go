package mouse

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// Driver moves the profile model between a Device and its hardware.
//
// Probe attaches the driver and fills the model from the device. Commit
// writes dirty profiles back, clearing the dirty flag per profile as it
// succeeds. ReadProfile refreshes one profile from hardware. All four may
// block on device I/O and honor ctx between hardware transactions.
type Driver interface {
	Name() string
	Probe(ctx context.Context, dev *Device) error
	Commit(ctx context.Context, dev *Device) error
	ReadProfile(ctx context.Context, dev *Device, index int) error
	SetActiveProfile(ctx context.Context, dev *Device, index int) error
}

// Factory builds one driver instance.
type Factory func(log *zap.Logger) Driver

// Registry maps driver names to factories. Registration order decides probe
// order for devices that do not name a driver explicitly.
type Registry struct {
	names     []string
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a driver factory. Registering the same name twice is a
// programming error and panics.
func (r *Registry) Register(name string, f Factory) {
	if _, ok := r.factories[name]; ok {
		panic("driver already registered: " + name)
	}
	r.names = append(r.names, name)
	r.factories[name] = f
}

// New builds the named driver.
func (r *Registry) New(name string, log *zap.Logger) (Driver, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("driver not found: %s", name)
	}
	return f(log), nil
}

// Names returns the registered driver names sorted alphabetically.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	sort.Strings(out)
	return out
}

// Probe tries the registered drivers in registration order until one
// accepts the device, attaches it and returns it. A driver that rejects the
// device returns an error from its Probe; the last rejection is reported
// when none accept.
func (r *Registry) Probe(ctx context.Context, dev *Device, log *zap.Logger) (Driver, error) {
	var lastErr error
	for _, name := range r.names {
		drv := r.factories[name](log)
		if err := drv.Probe(ctx, dev); err != nil {
			dev.log.Debug("driver rejected device",
				zap.String("driver", name), zap.Error(err))
			lastErr = err
			continue
		}
		dev.Attach(drv)
		return drv, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no drivers registered")
	}
	return nil, fmt.Errorf("no driver accepted %s: %w", dev.info, lastErr)
}
