package safety

import (
	"github.com/mykyno/hydroponik/internal/state"
	"go.uber.org/zap"
)

// Config holds the phase time limits enforced by the sweep. A phase is
// corrected once it has been held strictly longer than its limit.
type Config struct {
	PrimingTimeoutMs      uint32
	ActuationTimeoutMs    uint32
	CooldownMs            uint32
	ChannelRecoveryMs     uint32
	SensorWarmupTimeoutMs uint32
	SensorRecoveryMs      uint32
}

func DefaultConfig() Config {
	return Config{
		PrimingTimeoutMs:      5000,
		ActuationTimeoutMs:    600000,
		CooldownMs:            300000,
		ChannelRecoveryMs:     30000,
		SensorWarmupTimeoutMs: 5000,
		SensorRecoveryMs:      10000,
	}
}

// PumpCutoff switches a channel's actuator off.
type PumpCutoff interface {
	ForceOff(id state.ChannelID)
}

// SensorCutoff escalates the acquisition machine to Error with the probes
// unpowered.
type SensorCutoff interface {
	Fault()
}

// Monitor forces channel and sensor machines that overstayed a phase into a
// safe state. It runs once per cycle, after the channels have ticked.
type Monitor struct {
	cfg     Config
	states  *state.Manager
	pumps   PumpCutoff
	sensors SensorCutoff
	logger  *zap.Logger
}

func NewMonitor(cfg Config, states *state.Manager, pumps PumpCutoff, sensors SensorCutoff, logger *zap.Logger) *Monitor {
	return &Monitor{
		cfg:     cfg,
		states:  states,
		pumps:   pumps,
		sensors: sensors,
		logger:  logger,
	}
}

// Sweep applies every timeout rule once and reports the faults it raised.
// Recoveries are logged but not reported.
func (m *Monitor) Sweep() []Fault {
	var faults []Fault

	for _, id := range state.Channels() {
		if f, ok := m.sweepChannel(id); ok {
			faults = append(faults, f)
		}
	}
	if f, ok := m.sweepSensor(); ok {
		faults = append(faults, f)
	}

	return faults
}

func (m *Monitor) sweepChannel(id state.ChannelID) (Fault, bool) {
	phase := m.states.Channel(id)
	held := m.states.ChannelDuration(id)

	switch phase {
	case state.ChannelPriming:
		if held > m.cfg.PrimingTimeoutMs {
			return m.channelTimeout(id, phase, held), true
		}

	case state.ChannelDosing:
		if held > m.cfg.ActuationTimeoutMs {
			return m.channelTimeout(id, phase, held), true
		}

	case state.ChannelCoolingDown:
		if held > m.cfg.CooldownMs {
			if err := m.states.TransitionChannel(id, phase, state.ChannelIdle); err == nil {
				m.logger.Debug("Cooldown complete", zap.Stringer("channel", id))
			}
		}

	case state.ChannelError:
		if held > m.cfg.ChannelRecoveryMs {
			if err := m.states.TransitionChannel(id, phase, state.ChannelIdle); err == nil {
				m.logger.Info("Channel recovered from error", zap.Stringer("channel", id))
			}
		}
	}

	return Fault{}, false
}

func (m *Monitor) channelTimeout(id state.ChannelID, phase state.ChannelPhase, held uint32) Fault {
	m.pumps.ForceOff(id)
	m.states.TransitionChannel(id, phase, state.ChannelError)

	f := Fault{
		Kind:       ActuationTimeout,
		Channel:    id,
		Phase:      phase.String(),
		HeldMs:     held,
		DetectedAt: m.states.Now(),
	}
	m.logger.Error("Actuation timeout, pump forced off",
		zap.Stringer("channel", id),
		zap.Stringer("phase", phase),
		zap.Uint32("held_ms", held))
	return f
}

func (m *Monitor) sweepSensor() (Fault, bool) {
	phase := m.states.Sensor()
	held := m.states.SensorDuration()

	switch phase {
	case state.SensorWarmingUp:
		if held > m.cfg.SensorWarmupTimeoutMs {
			m.sensors.Fault()
			m.logger.Error("Sensor warmup timeout", zap.Uint32("held_ms", held))
			return Fault{
				Kind:       SensorFault,
				Channel:    NoChannel,
				Phase:      phase.String(),
				HeldMs:     held,
				DetectedAt: m.states.Now(),
			}, true
		}

	case state.SensorError:
		if held > m.cfg.SensorRecoveryMs {
			if err := m.states.TransitionSensor(phase, state.SensorReady); err == nil {
				m.logger.Info("Sensor recovered from error")
			}
		}
	}

	return Fault{}, false
}
