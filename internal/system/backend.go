package system

import (
	"fmt"

	"github.com/mykyno/hydroponik/internal/config"
	"github.com/mykyno/hydroponik/internal/control"
	"github.com/mykyno/hydroponik/internal/hardware"
	"github.com/mykyno/hydroponik/internal/state"
	"go.uber.org/zap"
)

// controlConfig maps the file configuration onto the control-clock units
// used by the coordinator. Limits not exposed in the file keep their
// defaults.
func controlConfig(cfg *config.Config) control.Config {
	cc := control.DefaultConfig()
	cc.AutoPH = cfg.Control.AutoPH

	s := &cc.Sensor
	s.IntervalMs = config.Millis(cfg.Sensor.Interval)
	s.WarmupMs = config.Millis(cfg.Sensor.Warmup)
	s.Samples = cfg.Sensor.Samples
	s.AlphaPH = cfg.Sensor.AlphaPH
	s.AlphaEC = cfg.Sensor.AlphaEC
	s.AlphaVolume = cfg.Sensor.AlphaVolume
	s.ADCMaxCounts = cfg.Sensor.ADCMaxCounts
	s.ADCReferenceMV = cfg.Sensor.ADCReferenceMV
	s.PHTempCoefficient = cfg.Sensor.PHTempCoefficient
	s.ECTempCoefficient = cfg.Sensor.ECTempCoefficient
	s.MaxInvalidReadings = cfg.Sensor.MaxInvalidReadings

	d := &cc.Dosing
	d.FlowRate = cfg.Dosing.FlowRate
	d.PrimingDuty = cfg.Dosing.PrimingDuty
	d.PrimingWindowMs = config.Millis(cfg.Dosing.PrimingWindow)
	d.MinDoseIntervalMs = config.Millis(cfg.Dosing.MinDoseInterval)
	d.MaxDosesPerHour = cfg.Dosing.MaxDosesPerHour
	d.MaxActuationMs = config.Millis(cfg.Dosing.MaxActuation)
	d.TargetPH = cfg.Control.TargetPH
	d.Gains.Kp = cfg.Control.Kp
	d.Gains.Ki = cfg.Control.Ki
	d.Gains.Kd = cfg.Control.Kd

	sf := &cc.Safety
	sf.PrimingTimeoutMs = config.Millis(cfg.Safety.PrimingTimeout)
	sf.ActuationTimeoutMs = config.Millis(cfg.Dosing.MaxActuation)
	sf.CooldownMs = config.Millis(cfg.Safety.Cooldown)
	sf.ChannelRecoveryMs = config.Millis(cfg.Safety.ChannelErrorRecovery)
	sf.SensorWarmupTimeoutMs = config.Millis(cfg.Safety.SensorWarmupTimeout)
	sf.SensorRecoveryMs = config.Millis(cfg.Safety.SensorErrorRecovery)

	return cc
}

// openBackend connects the configured hardware backend.
func openBackend(cfg config.HardwareConfig, clock state.Clock, logger *zap.Logger) (hardware.Backend, error) {
	switch cfg.Backend {
	case "sim":
		logger.Warn("Using simulated reservoir, no pumps will run")
		return hardware.NewSimulator(hardware.DefaultSimulatorConfig(), clock), nil

	case "modbus":
		profile := hardware.DefaultProfile()
		if cfg.Modbus.Profile != "" {
			loader, err := hardware.NewProfileLoader()
			if err != nil {
				return nil, err
			}
			if profile, err = loader.Load(cfg.Modbus.Profile); err != nil {
				return nil, err
			}
		}
		if cfg.Modbus.UnitID != 0 {
			profile.UnitID = uint8(cfg.Modbus.UnitID)
		}

		logger.Info("Connecting Modbus I/O module",
			zap.String("address", cfg.Modbus.Address),
			zap.String("profile", profile.ID),
			zap.Uint8("unit_id", profile.UnitID))
		return hardware.NewModbusBackend(cfg.Modbus.Address, profile, cfg.Modbus.Timeout)

	case "s7":
		logger.Info("Connecting S7 PLC",
			zap.String("host", cfg.S7.Host),
			zap.Int("db", cfg.S7.DB))
		return hardware.NewS7Backend(hardware.S7Config{
			Host:    cfg.S7.Host,
			Rack:    cfg.S7.Rack,
			Slot:    cfg.S7.Slot,
			DB:      cfg.S7.DB,
			Timeout: cfg.S7.Timeout,
			Layout:  hardware.DefaultS7Layout(),
		})

	default:
		return nil, fmt.Errorf("unknown hardware backend %q", cfg.Backend)
	}
}
