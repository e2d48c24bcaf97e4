package system

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mykyno/hydroponik/internal/api/rest"
	"github.com/mykyno/hydroponik/internal/api/websocket"
	"github.com/mykyno/hydroponik/internal/calibration"
	"github.com/mykyno/hydroponik/internal/config"
	"github.com/mykyno/hydroponik/internal/console"
	"github.com/mykyno/hydroponik/internal/control"
	"github.com/mykyno/hydroponik/internal/discovery"
	"github.com/mykyno/hydroponik/internal/hardware"
	"github.com/mykyno/hydroponik/internal/interfaces"
	"github.com/mykyno/hydroponik/internal/state"
	"github.com/mykyno/hydroponik/internal/storage"
	"github.com/mykyno/hydroponik/internal/telemetry"
	"go.uber.org/zap"
)

const publishTimeout = 2 * time.Second

type LifecycleManager struct {
	config    *config.Config
	logger    *zap.Logger
	clock     state.Clock
	startedAt time.Time

	backend    hardware.Backend
	calStore   *calibration.BoltStore
	runner     *control.Runner
	storage    *storage.PostgresClient
	metrics    *telemetry.Metrics
	publishers telemetry.Fanout
	wsHub      *websocket.Hub
	restServer *rest.Server
	discovery  *discovery.Service

	stateMu      sync.RWMutex
	currentState SystemState

	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

func NewLifecycleManager(cfg *config.Config, logger *zap.Logger) *LifecycleManager {
	return &LifecycleManager{
		config:       cfg,
		logger:       logger,
		clock:        state.NewSystemClock(),
		metrics:      telemetry.NewMetrics(),
		wsHub:        websocket.NewHub(logger.Named("ws")),
		currentState: StateInitializing,
		shutdownChan: make(chan struct{}),
	}
}

// Start brings up the hardware, the control loop and every outer surface.
// On failure the services started so far are torn down again.
func (lm *LifecycleManager) Start() error {
	lm.logger.Info("Starting hydroponik controller",
		zap.String("backend", lm.config.Hardware.Backend))

	if err := lm.start(); err != nil {
		lm.setState(StateError)
		ctx, cancel := context.WithTimeout(context.Background(), lm.config.Server.ShutdownTimeout)
		defer cancel()
		if shutdownErr := lm.Shutdown(ctx); shutdownErr != nil {
			lm.logger.Warn("Cleanup after failed start incomplete", zap.Error(shutdownErr))
		}
		return err
	}

	lm.setState(StateRunning)

	lm.logger.Info("System started successfully",
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Int("publishers", len(lm.publishers)),
		zap.Bool("database_enabled", lm.storage != nil))
	return nil
}

func (lm *LifecycleManager) start() error {
	var err error
	lm.startedAt = time.Now()

	if lm.backend, err = openBackend(lm.config.Hardware, lm.clock, lm.logger.Named("hardware")); err != nil {
		return fmt.Errorf("failed to open hardware backend: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(lm.config.Calibration.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create calibration directory: %w", err)
	}
	if lm.calStore, err = calibration.OpenBoltStore(lm.config.Calibration.Path); err != nil {
		return err
	}

	if err := lm.connectStorage(); err != nil {
		return err
	}
	if err := lm.connectPublishers(); err != nil {
		return err
	}

	coord := control.NewCoordinator(controlConfig(lm.config), lm.backend, lm.calStore,
		lm.clock.NowMs(), lm.logger.Named("control"))
	lm.runner = control.NewRunner(coord, lm.clock, lm.config.Control.CycleInterval, lm.logger.Named("runner"))

	ctx, cancel := context.WithCancel(context.Background())
	lm.cancel = cancel
	go lm.wsHub.Run(ctx)

	if err := lm.runner.Start(); err != nil {
		return fmt.Errorf("failed to start control loop: %w", err)
	}

	lm.wg.Add(2)
	go lm.forwardEvents()
	go lm.forwardSnapshots(ctx)

	lm.restServer = rest.NewServer(lm, lm.logger.Named("api"), lm.wsHub)
	if err := lm.restServer.Start(); err != nil {
		return fmt.Errorf("failed to start REST API: %w", err)
	}

	if lm.config.Discovery.Enabled {
		lm.discovery = discovery.NewService(lm.config.Discovery.Instance, lm.config.Server.HTTPPort, lm.logger.Named("mdns"))
		if err := lm.discovery.Start(); err != nil {
			// The API is reachable without mDNS.
			lm.logger.Warn("mDNS advertisement unavailable", zap.Error(err))
			lm.discovery = nil
		}
	}

	if lm.config.Console.Enabled {
		con := console.New(
			console.NewReaderSource(os.Stdin, lm.logger),
			console.NewWriterSink(os.Stdout),
			lm.runner,
			lm.logger.Named("console"),
		)
		lm.wg.Add(1)
		go func() {
			defer lm.wg.Done()
			con.Run(ctx)
		}()
	}

	return nil
}

func (lm *LifecycleManager) connectStorage() error {
	if !lm.config.Database.Enabled {
		return nil
	}

	db, err := storage.NewPostgresClient(lm.config.Database)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.EnsureSchema(ctx); err != nil {
		db.Close()
		return err
	}

	lm.storage = db
	lm.logger.Info("Database connected successfully",
		zap.String("host", lm.config.Database.Host),
		zap.String("database", lm.config.Database.Database))
	return nil
}

func (lm *LifecycleManager) connectPublishers() error {
	if lm.config.Redis.Enabled {
		p, err := telemetry.NewRedisPublisher(lm.config.Redis, lm.logger.Named("redis"))
		if err != nil {
			return err
		}
		lm.publishers = append(lm.publishers, p)
	}

	if lm.config.MQTT.Enabled {
		p, err := telemetry.NewMQTTPublisher(lm.config.MQTT, lm.logger.Named("mqtt"))
		if err != nil {
			return err
		}
		lm.publishers = append(lm.publishers, p)
	}

	return nil
}

// forwardEvents runs until the control loop closes its event channel, so
// the doses of the final cycle still reach every sink.
func (lm *LifecycleManager) forwardEvents() {
	defer lm.wg.Done()

	for ev := range lm.runner.Events() {
		lm.metrics.ObserveDose(ev)

		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		lm.wsHub.PublishDose(ctx, ev)

		if lm.storage != nil {
			if err := lm.storage.InsertDoseEvent(ctx, ev); err != nil {
				lm.logger.Warn("Failed to store dose event",
					zap.String("id", ev.ID.String()),
					zap.Error(err))
			}
		}

		if err := lm.publishers.PublishDose(ctx, ev); err != nil {
			lm.logger.Warn("Failed to publish dose event", zap.Error(err))
		}
		cancel()
	}
}

// forwardSnapshots feeds metrics and websocket clients every cycle and the
// external publishers at most once per publish interval.
func (lm *LifecycleManager) forwardSnapshots(ctx context.Context) {
	defer lm.wg.Done()

	sub := lm.runner.Subscribe()
	defer lm.runner.Unsubscribe(sub)

	var lastPublish time.Time
	for {
		select {
		case <-ctx.Done():
			return

		case snap, ok := <-sub:
			if !ok {
				return
			}

			lm.metrics.ObserveSnapshot(snap)
			lm.wsHub.PublishSnapshot(ctx, snap)

			if len(lm.publishers) == 0 || time.Since(lastPublish) < lm.config.Telemetry.PublishInterval {
				continue
			}
			lastPublish = time.Now()

			pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
			if err := lm.publishers.PublishSnapshot(pubCtx, snap); err != nil {
				lm.logger.Warn("Failed to publish snapshot", zap.Error(err))
			}
			cancel()
		}
	}
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")
		lm.setState(StateStopping)

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.setState(StateStopped)
		close(lm.shutdownChan)
	})

	return shutdownErr
}

// Done is closed once Shutdown has completed.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var errs []error

	// Stop accepting commands first so nothing restarts a pump.
	if lm.restServer != nil {
		if err := lm.restServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("rest api shutdown failed: %w", err))
		}
	}
	if lm.discovery != nil {
		lm.discovery.Stop()
	}

	// Stopping the runner zeroes every actuator and closes the event stream.
	if lm.runner != nil {
		lm.runner.Stop()
	}
	if lm.cancel != nil {
		lm.cancel()
	}

	done := make(chan struct{})
	go func() {
		lm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		errs = append(errs, fmt.Errorf("shutdown timeout exceeded"))
	}

	if err := lm.publishers.Close(); err != nil {
		errs = append(errs, err)
	}
	if lm.storage != nil {
		lm.storage.Close()
	}
	if lm.calStore != nil {
		if err := lm.calStore.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if lm.backend != nil {
		if err := lm.backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("hardware close failed: %w", err))
		}
	}

	if len(errs) == 0 {
		lm.logger.Info("Graceful shutdown completed")
	}
	return errors.Join(errs...)
}

func (lm *LifecycleManager) setState(to SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()

	if err := ValidateTransition(lm.currentState, to); err != nil {
		lm.logger.Warn("Unexpected lifecycle transition", zap.Error(err))
	}
	lm.currentState = to
}

func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()

	status := interfaces.SystemStatus{
		State:            lm.currentState.String(),
		Backend:          lm.config.Hardware.Backend,
		DatabaseEnabled:  lm.storage != nil,
		WebsocketClients: lm.wsHub.GetClientCount(),
	}
	if lm.runner != nil {
		status.ControlMode = lm.runner.Snapshot().System.String()
	}
	if !lm.startedAt.IsZero() {
		status.UptimeSeconds = int64(time.Since(lm.startedAt).Seconds())
	}
	if lm.config.Redis.Enabled {
		status.Publishers = append(status.Publishers, "redis")
	}
	if lm.config.MQTT.Enabled {
		status.Publishers = append(status.Publishers, "mqtt")
	}
	return status
}

// Config returns the configuration
func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}

func (lm *LifecycleManager) Controller() *control.Runner {
	return lm.runner
}

func (lm *LifecycleManager) DoseHistory() interfaces.DoseHistory {
	if lm.storage == nil {
		return nil
	}
	return lm.storage
}

func (lm *LifecycleManager) MetricsHandler() http.Handler {
	return lm.metrics.Handler()
}
