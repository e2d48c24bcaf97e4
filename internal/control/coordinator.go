package control

import (
	"errors"
	"fmt"

	"github.com/mykyno/hydroponik/internal/calibration"
	"github.com/mykyno/hydroponik/internal/dosing"
	"github.com/mykyno/hydroponik/internal/hardware"
	"github.com/mykyno/hydroponik/internal/safety"
	"github.com/mykyno/hydroponik/internal/sensor"
	"github.com/mykyno/hydroponik/internal/state"
	"go.uber.org/zap"
)

var ErrNotCalibrating = errors.New("system is not calibrating")

type Config struct {
	Sensor sensor.Config
	Dosing dosing.Config
	Safety safety.Config
	AutoPH bool
}

func DefaultConfig() Config {
	return Config{
		Sensor: sensor.DefaultConfig(),
		Dosing: dosing.DefaultConfig(),
		Safety: safety.DefaultConfig(),
	}
}

// Coordinator owns the system mode and runs one control cycle per Tick. It
// is not safe for concurrent use; the Runner serializes access.
type Coordinator struct {
	states  *state.Manager
	sensors *sensor.Pipeline
	dosing  *dosing.Controller
	monitor *safety.Monitor
	store   calibration.Store
	logger  *zap.Logger

	errorReason string
	faults      []safety.Fault
}

func NewCoordinator(cfg Config, hw hardware.Backend, store calibration.Store, now uint32, logger *zap.Logger) *Coordinator {
	states := state.NewManager(now, logger)
	params := calibration.LoadOrDefault(store, logger)

	sensors := sensor.NewPipeline(cfg.Sensor, states, hw, params, logger)
	doser := dosing.NewController(cfg.Dosing, states, hw, logger)
	monitor := safety.NewMonitor(cfg.Safety, states, doser, sensors, logger)

	if cfg.AutoPH {
		doser.SetAutoMode(true)
	}

	return &Coordinator{
		states:  states,
		sensors: sensors,
		dosing:  doser,
		monitor: monitor,
		store:   store,
		logger:  logger,
	}
}

// Boot brings the system from Startup to Monitoring with every pump off.
func (c *Coordinator) Boot() error {
	if err := c.states.TransitionSystem(state.SystemStartup, state.SystemInitializing); err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}

	for _, id := range state.Channels() {
		c.dosing.ForceOff(id)
	}
	if err := c.sensors.Init(); err != nil {
		return fmt.Errorf("failed to initialize sensors: %w", err)
	}

	if err := c.states.TransitionSystem(state.SystemInitializing, state.SystemMonitoring); err != nil {
		return fmt.Errorf("failed to start monitoring: %w", err)
	}

	c.logger.Info("Controller ready",
		zap.Bool("auto_ph", c.dosing.AutoMode()),
		zap.Float32("target_ph", c.dosing.Target()))
	return nil
}

// Advance sets the clock snapshot used by operations run between cycles.
// Faults belong to the cycle that raised them and are cleared.
func (c *Coordinator) Advance(now uint32) {
	c.states.Advance(now)
	c.faults = nil
}

// Tick runs one control cycle at now: system housekeeping, sensing, the
// dosing decision, channel phase advancement and the safety sweep, in that
// order.
func (c *Coordinator) Tick(now uint32) Snapshot {
	c.states.Advance(now)

	if c.states.System() == state.SystemMaintenance {
		c.holdMaintenance()
	}

	if c.sensing() {
		if reading, fresh := c.sensors.Tick(); fresh {
			c.evaluate(reading)
		}
	}

	c.dosing.Tick()
	c.faults = c.monitor.Sweep()

	return c.Snapshot()
}

func (c *Coordinator) sensing() bool {
	mode := c.states.System()
	return mode == state.SystemMonitoring || mode == state.SystemDosing
}

func (c *Coordinator) evaluate(r sensor.Reading) {
	if !c.dosing.AutoMode() || c.states.System() != state.SystemMonitoring {
		return
	}

	if err := c.states.TransitionSystem(state.SystemMonitoring, state.SystemDosing); err != nil {
		return
	}
	c.dosing.Evaluate(r.PH, r.VolumeLiters)
	c.states.TransitionSystem(state.SystemDosing, state.SystemMonitoring)
}

// Channels already Idle stay Idle; anything else is parked in Maintenance.
func (c *Coordinator) holdMaintenance() {
	for _, id := range state.Channels() {
		switch c.states.Channel(id) {
		case state.ChannelIdle, state.ChannelMaintenance:
		default:
			c.dosing.ForceOff(id)
			c.states.TransitionChannel(id, c.states.Channel(id), state.ChannelMaintenance)
		}
	}
}

// ==================== MODE CONTROL ====================

// EmergencyStop zeroes every pump, forces every channel to Idle and the
// system to Error. It completes before returning and only RecoverFromError
// leaves the resulting state.
func (c *Coordinator) EmergencyStop() {
	c.dosing.StopAll()
	c.states.ForceSystem(state.SystemError)
	c.sensors.Halt()
	c.states.ForceSensor(state.SensorReady)
	c.states.SetCalibration(state.CalibrationIdle)
	c.errorReason = "emergency stop"

	c.logger.Error("EMERGENCY STOP: all pumps stopped, system in error")
}

// ReportError puts the system into Error on operator request.
func (c *Coordinator) ReportError(reason string) error {
	if err := c.states.TransitionSystem(c.states.System(), state.SystemError); err != nil {
		return err
	}
	c.sensors.Halt()
	c.states.SetCalibration(state.CalibrationIdle)
	c.errorReason = reason

	c.logger.Error("Error reported", zap.String("reason", reason))
	return nil
}

func (c *Coordinator) RecoverFromError() error {
	if err := c.states.TransitionSystem(state.SystemError, state.SystemMonitoring); err != nil {
		return err
	}
	c.errorReason = ""

	c.logger.Info("Recovered from error")
	return nil
}

func (c *Coordinator) EnterMaintenance() error {
	if err := c.states.TransitionSystem(c.states.System(), state.SystemMaintenance); err != nil {
		return err
	}
	c.sensors.Halt()
	c.holdMaintenance()

	c.logger.Info("Maintenance mode entered")
	return nil
}

func (c *Coordinator) ExitMaintenance() error {
	if err := c.states.TransitionSystem(state.SystemMaintenance, state.SystemMonitoring); err != nil {
		return err
	}
	for _, id := range state.Channels() {
		if c.states.Channel(id) == state.ChannelMaintenance {
			c.states.TransitionChannel(id, state.ChannelMaintenance, state.ChannelIdle)
		}
	}

	c.logger.Info("Maintenance mode exited")
	return nil
}

// Shutdown stops every pump and parks the system in Shutdown.
func (c *Coordinator) Shutdown() {
	c.dosing.StopAll()
	c.sensors.Halt()
	c.states.ForceSystem(state.SystemShutdown)
}

// ==================== DOSING OPERATIONS ====================

func (c *Coordinator) SetAutoMode(enabled bool) {
	c.dosing.SetAutoMode(enabled)
}

func (c *Coordinator) SetTarget(target float32) float32 {
	return c.dosing.SetTarget(target)
}

func (c *Coordinator) SetGains(g dosing.Gains) dosing.Gains {
	return c.dosing.SetGains(g)
}

func (c *Coordinator) ManualDose(id state.ChannelID, ml float32) (dosing.DoseEvent, error) {
	return c.dosing.ManualDose(id, ml)
}

func (c *Coordinator) ManualStart(id state.ChannelID, flowRate float32) error {
	return c.dosing.ManualStart(id, flowRate)
}

func (c *Coordinator) ManualStop(id state.ChannelID) error {
	return c.dosing.ManualStop(id)
}

// StopAll stops every pump without touching the system mode.
func (c *Coordinator) StopAll() {
	c.dosing.StopAll()
}

// TakeEvents drains the dose events produced since the last call.
func (c *Coordinator) TakeEvents() []dosing.DoseEvent {
	return c.dosing.TakeEvents()
}

// ==================== CALIBRATION ====================

func (c *Coordinator) BeginCalibration() error {
	if err := c.states.TransitionSystem(state.SystemMonitoring, state.SystemCalibrating); err != nil {
		return err
	}
	c.sensors.Halt()
	c.states.SetCalibration(state.CalibrationActive)
	return nil
}

func (c *Coordinator) EndCalibration() error {
	if err := c.states.TransitionSystem(state.SystemCalibrating, state.SystemMonitoring); err != nil {
		return err
	}
	c.states.SetCalibration(state.CalibrationIdle)
	return nil
}

// SampleRaw reads the uncalibrated probe signals. It is only available
// while calibrating, when the acquisition machine is idle.
func (c *Coordinator) SampleRaw() (sensor.Raw, error) {
	if c.states.System() != state.SystemCalibrating {
		return sensor.Raw{}, ErrNotCalibrating
	}
	return c.sensors.SampleRaw()
}

func (c *Coordinator) Calibration() calibration.Parameters {
	return c.sensors.Calibration()
}

// ApplyCalibration validates and installs new parameters, then persists
// them. A save failure is returned but the parameters stay in effect.
func (c *Coordinator) ApplyCalibration(p calibration.Parameters) error {
	if err := p.Validate(); err != nil {
		return err
	}
	c.sensors.SetCalibration(p)

	if err := c.store.Save(p); err != nil {
		c.logger.Error("Failed to save calibration", zap.Error(err))
		return fmt.Errorf("failed to save calibration: %w", err)
	}

	c.logger.Info("Calibration applied",
		zap.Float32("ph_slope", p.PHSlope),
		zap.Float32("ph_offset", p.PHOffset),
		zap.Float32("ec_slope", p.ECSlope),
		zap.Float32("ec_offset", p.ECOffset),
		zap.Bool("volume_calibrated", p.VolumeCalibrated()))
	return nil
}

func (c *Coordinator) ResetCalibration() error {
	return c.ApplyCalibration(calibration.Defaults())
}

// ==================== SNAPSHOT ====================

func (c *Coordinator) Snapshot() Snapshot {
	channels := make([]dosing.ChannelStatus, 0, state.NumChannels)
	for _, id := range state.Channels() {
		channels = append(channels, c.dosing.Status(id))
	}

	return Snapshot{
		ClockMs:          c.states.Now(),
		System:           c.states.System(),
		SystemDurationMs: c.states.SystemDuration(),
		Sensor:           c.states.Sensor(),
		SensorDurationMs: c.states.SensorDuration(),
		Calibration:      c.states.Calibration(),
		Channels:         channels,
		Reading:          c.sensors.Filtered(),
		AutoMode:         c.dosing.AutoMode(),
		Target:           c.dosing.Target(),
		Gains:            c.dosing.Gains(),
		ErrorReason:      c.errorReason,
		Faults:           c.faults,
	}
}
