package state

import (
	"go.uber.org/zap"
)

type entry[T any] struct {
	current T
	since   uint32
}

// Manager holds the current value and entry timestamp of every state machine.
// It keeps its own notion of "now", set once per control cycle via Advance,
// so all transitions and durations within a cycle share one clock snapshot.
//
// Manager is not safe for concurrent use; the control loop owns it.
type Manager struct {
	logger *zap.Logger
	now    uint32

	system      entry[SystemMode]
	channels    [NumChannels]entry[ChannelPhase]
	sensor      entry[SensorPhase]
	calibration entry[CalibrationPhase]
}

func NewManager(now uint32, logger *zap.Logger) *Manager {
	m := &Manager{
		logger:      logger,
		now:         now,
		system:      entry[SystemMode]{current: SystemStartup, since: now},
		sensor:      entry[SensorPhase]{current: SensorInitializing, since: now},
		calibration: entry[CalibrationPhase]{current: CalibrationIdle, since: now},
	}
	for i := range m.channels {
		m.channels[i] = entry[ChannelPhase]{current: ChannelIdle, since: now}
	}
	return m
}

// Advance records the clock snapshot for the current cycle.
func (m *Manager) Advance(now uint32) {
	m.now = now
}

func (m *Manager) Now() uint32 {
	return m.now
}

// ==================== SYSTEM ====================

func (m *Manager) System() SystemMode {
	return m.system.current
}

func (m *Manager) SystemDuration() uint32 {
	return Elapsed(m.now, m.system.since)
}

// TransitionSystem moves the system machine from -> to. The edge must be in
// the table and from must match the current mode, unless to is an emergency
// target.
func (m *Manager) TransitionSystem(from, to SystemMode) error {
	cur := m.system.current
	if !IsSystemEmergency(to) && cur != from {
		return m.reject(&TransitionError{Machine: MachineSystem, From: cur.String(), To: to.String(), Expected: from.String()})
	}
	if err := ValidateSystemTransition(cur, to); err != nil {
		return m.reject(err)
	}
	m.setSystem(to)
	return nil
}

// ForceSystem sets the system mode without consulting the table. Only the
// emergency-stop path uses it.
func (m *Manager) ForceSystem(to SystemMode) {
	m.setSystem(to)
}

func (m *Manager) setSystem(to SystemMode) {
	from := m.system.current
	m.system = entry[SystemMode]{current: to, since: m.now}
	m.logger.Debug("System mode changed",
		zap.Stringer("from", from),
		zap.Stringer("to", to))
}

// ==================== CHANNELS ====================

func (m *Manager) Channel(id ChannelID) ChannelPhase {
	return m.channels[id].current
}

func (m *Manager) ChannelDuration(id ChannelID) uint32 {
	return Elapsed(m.now, m.channels[id].since)
}

func (m *Manager) TransitionChannel(id ChannelID, from, to ChannelPhase) error {
	cur := m.channels[id].current
	if !IsChannelEmergency(to) && cur != from {
		return m.reject(&TransitionError{Machine: MachineChannel(id), From: cur.String(), To: to.String(), Expected: from.String()})
	}
	if err := ValidateChannelTransition(id, cur, to); err != nil {
		return m.reject(err)
	}
	m.setChannel(id, to)
	return nil
}

// ForceChannel sets a channel phase without consulting the table. It backs
// operator overrides (manual start) and emergency stop.
func (m *Manager) ForceChannel(id ChannelID, to ChannelPhase) {
	m.setChannel(id, to)
}

func (m *Manager) setChannel(id ChannelID, to ChannelPhase) {
	from := m.channels[id].current
	m.channels[id] = entry[ChannelPhase]{current: to, since: m.now}
	m.logger.Debug("Channel phase changed",
		zap.Stringer("channel", id),
		zap.Stringer("from", from),
		zap.Stringer("to", to))
}

// ==================== SENSOR ====================

func (m *Manager) Sensor() SensorPhase {
	return m.sensor.current
}

func (m *Manager) SensorDuration() uint32 {
	return Elapsed(m.now, m.sensor.since)
}

func (m *Manager) TransitionSensor(from, to SensorPhase) error {
	cur := m.sensor.current
	if to != SensorError && cur != from {
		return m.reject(&TransitionError{Machine: MachineSensor, From: cur.String(), To: to.String(), Expected: from.String()})
	}
	if err := ValidateSensorTransition(cur, to); err != nil {
		return m.reject(err)
	}
	m.setSensor(to)
	return nil
}

func (m *Manager) ForceSensor(to SensorPhase) {
	m.setSensor(to)
}

func (m *Manager) setSensor(to SensorPhase) {
	from := m.sensor.current
	m.sensor = entry[SensorPhase]{current: to, since: m.now}
	m.logger.Debug("Sensor phase changed",
		zap.Stringer("from", from),
		zap.Stringer("to", to))
}

// ==================== CALIBRATION ====================

func (m *Manager) Calibration() CalibrationPhase {
	return m.calibration.current
}

func (m *Manager) CalibrationDuration() uint32 {
	return Elapsed(m.now, m.calibration.since)
}

// SetCalibration toggles the calibration flag; both directions are legal.
func (m *Manager) SetCalibration(to CalibrationPhase) {
	m.calibration = entry[CalibrationPhase]{current: to, since: m.now}
	m.logger.Debug("Calibration phase changed", zap.Stringer("to", to))
}

func (m *Manager) reject(err error) error {
	m.logger.Warn("Rejected state transition", zap.Error(err))
	return err
}
