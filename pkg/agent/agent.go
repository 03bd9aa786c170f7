package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/openmouse/openmouse/drivers/hidpp20"
	"github.com/openmouse/openmouse/internal/configsvc"
	"github.com/openmouse/openmouse/internal/devicesvc"
	"github.com/openmouse/openmouse/internal/devicesvc/linux"
	"github.com/openmouse/openmouse/mouse"
)

// Agent wires the services together: config watching, device discovery,
// the driver registry and the state store.
type Agent struct {
	config Config
	log    *zap.Logger

	db        *badger.DB
	registry  *mouse.Registry
	configSvc *configsvc.Service
	deviceSvc *devicesvc.Service

	tuning atomic.Pointer[Tuning]
}

func NewAgent(config Config) (*Agent, error) {
	loggerConfig := zap.NewDevelopmentConfig()
	loggerConfig.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000000000")
	loggerConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, err := loggerConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	dbOptions := badger.DefaultOptions(filepath.Join(config.DataDir, "db"))
	dbOptions.Logger = &badgerLogger{l: logger.Named("badger")}
	db, err := badger.Open(dbOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	a := &Agent{
		config: config,
		log:    logger,
		db:     db,
	}
	tuning := DefaultTuning()
	a.tuning.Store(&tuning)

	a.configSvc = configsvc.New(logger.Named("config"))
	backend := linux.NewBackend(logger.Named("hid.linux"),
		linux.WithPollInterval(time.Duration(tuning.PollIntervalMS)*time.Millisecond))

	a.registry = mouse.NewRegistry()
	a.registry.Register(hidpp20.DriverName, func(log *zap.Logger) mouse.Driver {
		t := a.tuning.Load()
		return hidpp20.NewDriver(log,
			hidpp20.WithBusyAttempts(t.BusyAttempts),
			hidpp20.WithBusyDelay(time.Duration(t.BusyDelayMS)*time.Millisecond),
			hidpp20.WithDeviceOptions(
				hidpp20.DeviceOptionsFromTuning(t.ReadTimeoutMS, t.SettleDelayMS)...,
			),
		)
	})

	a.deviceSvc = devicesvc.New(logger.Named("device"), db, backend, a.registry)
	return a, nil
}

func (a *Agent) Close() error {
	return a.db.Close()
}

type badgerLogger struct {
	l *zap.Logger
}

func (l badgerLogger) Errorf(msg string, args ...any) {
	l.l.Error(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Warningf(msg string, args ...any) {
	l.l.Warn(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Infof(msg string, args ...any) {
	l.l.Info(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Debugf(msg string, args ...any) {
	l.l.Debug(fmt.Sprintf(msg, args...))
}

// Run starts the agent and blocks until the context is cancelled. A tuning
// file that becomes invalid after startup leaves the last valid tuning in
// effect.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return a.configSvc.Start(groupCtx)
	})
	group.Go(func() error {
		select {
		case <-groupCtx.Done():
			return nil
		case <-a.configSvc.Ready():
		}
		return a.watchTuning(groupCtx)
	})
	group.Go(func() error {
		return a.deviceSvc.Start(groupCtx)
	})

	if err := group.Wait(); err != nil {
		return fmt.Errorf("agent failed: %w", err)
	}
	return nil
}

func (a *Agent) watchTuning(_ context.Context) error {
	if a.config.TuningConfig == "" {
		return nil
	}
	tuning, err := configsvc.RegisterWriteable(a.configSvc, a.config.TuningConfig, DefaultTuning(), func(t Tuning, err error) {
		if err != nil {
			a.log.Error("failed to reload tuning", zap.Error(err))
			return
		}
		a.tuning.Store(&t)
		a.log.Info("tuning reloaded")
	})
	if err != nil {
		// An unreadable tuning file is not fatal, the defaults apply.
		a.log.Warn("tuning file not loaded", zap.Error(err))
		return nil
	}
	a.tuning.Store(&tuning)
	return nil
}

// Ready is closed when device discovery is up.
func (a *Agent) Ready() <-chan struct{} {
	return a.deviceSvc.Ready()
}

// Devices exposes the device service to the CLI.
func (a *Agent) Devices() *devicesvc.Service {
	return a.deviceSvc
}
