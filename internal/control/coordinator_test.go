package control

import (
	"testing"

	"github.com/mykyno/hydroponik/internal/calibration"
	"github.com/mykyno/hydroponik/internal/dosing"
	"github.com/mykyno/hydroponik/internal/hardware"
	"github.com/mykyno/hydroponik/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type rig struct {
	clock *state.FakeClock
	sim   *hardware.Simulator
	store *calibration.MemoryStore
	coord *Coordinator
}

func newRig(t *testing.T, auto bool) *rig {
	t.Helper()

	clock := state.NewFakeClock(1000)
	simCfg := hardware.DefaultSimulatorConfig()
	simCfg.TemperatureC = 25
	simCfg.DriftPerSecond = 0
	sim := hardware.NewSimulator(simCfg, clock)

	params, err := calibration.Defaults().FitVolume(100, 60, 20, 80)
	require.NoError(t, err)
	store := calibration.NewMemoryStore()
	require.NoError(t, store.Save(params))

	cfg := DefaultConfig()
	cfg.AutoPH = auto
	coord := NewCoordinator(cfg, sim, store, clock.NowMs(), zaptest.NewLogger(t))
	require.NoError(t, coord.Boot())

	return &rig{clock: clock, sim: sim, store: store, coord: coord}
}

func (r *rig) tick(d uint32) Snapshot {
	r.clock.Advance(d)
	return r.coord.Tick(r.clock.NowMs())
}

// acquire drives one full sensor cycle.
func (r *rig) acquire() Snapshot {
	r.tick(0)
	r.tick(200)
	r.tick(1)
	return r.tick(1)
}

func TestBoot(t *testing.T) {
	r := newRig(t, false)
	snap := r.coord.Snapshot()

	assert.Equal(t, state.SystemMonitoring, snap.System)
	assert.Equal(t, state.SensorReady, snap.Sensor)
	assert.Len(t, snap.Channels, state.NumChannels)
	assert.Len(t, r.sim.Writes(), state.NumChannels)
	for _, w := range r.sim.Writes() {
		assert.Zero(t, w.Percent)
	}

	assert.Error(t, r.coord.Boot(), "boot is a one-shot")
}

func TestAutoDoseFromReading(t *testing.T) {
	r := newRig(t, true)

	snap := r.acquire()
	require.True(t, snap.Reading.Valid)
	assert.InDelta(t, 6.96, snap.Reading.PH, 0.01)
	assert.InDelta(t, 12, snap.Reading.VolumeLiters, 0.1)

	assert.Equal(t, state.SystemMonitoring, snap.System)
	ch, ok := snap.Channel(state.PHDown)
	require.True(t, ok)
	assert.Equal(t, state.ChannelPriming, ch.Phase)

	events := r.coord.TakeEvents()
	require.Len(t, events, 1)
	assert.Equal(t, state.PHDown, events[0].Channel)
	assert.Equal(t, dosing.SourceAuto, events[0].Source)
}

func TestNoDoseWithoutAutoMode(t *testing.T) {
	r := newRig(t, false)

	snap := r.acquire()
	require.True(t, snap.Reading.Valid)
	for _, ch := range snap.Channels {
		assert.Equal(t, state.ChannelIdle, ch.Phase)
	}
	assert.Empty(t, r.coord.TakeEvents())
}

func TestDoseRunsToIdle(t *testing.T) {
	r := newRig(t, false)

	ev, err := r.coord.ManualDose(state.NutrientA, 5)
	require.NoError(t, err)
	require.Equal(t, uint32(10000), ev.DurationMs)

	r.tick(2500)
	snap := r.tick(10000)
	ch, _ := snap.Channel(state.NutrientA)
	assert.Equal(t, state.ChannelCoolingDown, ch.Phase)
	assert.Zero(t, r.sim.Duty(state.NutrientA))

	r.tick(300000)
	snap = r.tick(1)
	ch, _ = snap.Channel(state.NutrientA)
	assert.Equal(t, state.ChannelIdle, ch.Phase)
}

func TestEmergencyStop(t *testing.T) {
	r := newRig(t, false)

	require.NoError(t, r.coord.ManualStart(state.PHUp, 60))
	_, err := r.coord.ManualDose(state.PHDown, 10)
	require.NoError(t, err)
	r.tick(0)
	require.True(t, r.sim.Powered())

	r.coord.EmergencyStop()
	snap := r.coord.Snapshot()

	assert.Equal(t, state.SystemError, snap.System)
	assert.Equal(t, state.SensorReady, snap.Sensor)
	assert.Equal(t, "emergency stop", snap.ErrorReason)
	for _, ch := range snap.Channels {
		assert.Equal(t, state.ChannelIdle, ch.Phase)
		assert.Zero(t, r.sim.Duty(ch.Channel))
	}
	assert.False(t, r.sim.Powered())

	// Stays in Error; no dosing, no sensing.
	r.tick(600000)
	assert.Equal(t, state.SystemError, r.coord.Snapshot().System)
	_, err = r.coord.ManualDose(state.NutrientB, 10)
	assert.ErrorIs(t, err, dosing.ErrSafetyRejected)

	require.NoError(t, r.coord.RecoverFromError())
	snap = r.coord.Snapshot()
	assert.Equal(t, state.SystemMonitoring, snap.System)
	assert.Empty(t, snap.ErrorReason)
}

func TestRecoverRequiresError(t *testing.T) {
	r := newRig(t, false)
	assert.ErrorIs(t, r.coord.RecoverFromError(), state.ErrInvalidTransition)
}

func TestReportError(t *testing.T) {
	r := newRig(t, false)

	require.NoError(t, r.coord.ReportError("reservoir leak"))
	snap := r.coord.Snapshot()
	assert.Equal(t, state.SystemError, snap.System)
	assert.Equal(t, "reservoir leak", snap.ErrorReason)

	require.NoError(t, r.coord.RecoverFromError())
	assert.Equal(t, state.SystemMonitoring, r.coord.Snapshot().System)
}

func TestReportErrorEndsCalibration(t *testing.T) {
	r := newRig(t, false)
	require.NoError(t, r.coord.BeginCalibration())

	require.NoError(t, r.coord.ReportError("pH electrode cracked"))
	snap := r.coord.Snapshot()
	assert.Equal(t, state.SystemError, snap.System)
	assert.Equal(t, state.CalibrationIdle, snap.Calibration)

	require.NoError(t, r.coord.RecoverFromError())
	snap = r.coord.Snapshot()
	assert.Equal(t, state.SystemMonitoring, snap.System)
	assert.Equal(t, state.CalibrationIdle, snap.Calibration)
	_, err := r.coord.SampleRaw()
	assert.ErrorIs(t, err, ErrNotCalibrating)
}

func TestManualStartNeedsRunningSystem(t *testing.T) {
	r := newRig(t, false)

	r.coord.EmergencyStop()
	assert.ErrorIs(t, r.coord.ManualStart(state.PHUp, 30), dosing.ErrSafetyRejected)
	snap := r.tick(60000)
	up, _ := snap.Channel(state.PHUp)
	assert.Equal(t, state.ChannelIdle, up.Phase)
	assert.Zero(t, r.sim.Duty(state.PHUp))

	require.NoError(t, r.coord.RecoverFromError())
	require.NoError(t, r.coord.EnterMaintenance())
	assert.ErrorIs(t, r.coord.ManualStart(state.PHUp, 30), dosing.ErrSafetyRejected)
	assert.Zero(t, r.sim.Duty(state.PHUp))

	require.NoError(t, r.coord.ExitMaintenance())
	require.NoError(t, r.coord.ManualStart(state.PHUp, 30))
	assert.NotZero(t, r.sim.Duty(state.PHUp))
}

func TestMaintenance(t *testing.T) {
	r := newRig(t, true)
	require.NoError(t, r.coord.ManualStart(state.PHUp, 30))

	require.NoError(t, r.coord.EnterMaintenance())
	snap := r.coord.Snapshot()
	assert.Equal(t, state.SystemMaintenance, snap.System)
	up, _ := snap.Channel(state.PHUp)
	assert.Equal(t, state.ChannelMaintenance, up.Phase)
	down, _ := snap.Channel(state.PHDown)
	assert.Equal(t, state.ChannelIdle, down.Phase)
	assert.Zero(t, r.sim.Duty(state.PHUp))

	// No sensing while in maintenance.
	snap = r.tick(10000)
	assert.Equal(t, state.SensorReady, snap.Sensor)
	assert.False(t, snap.Reading.Valid)

	require.NoError(t, r.coord.ExitMaintenance())
	snap = r.coord.Snapshot()
	assert.Equal(t, state.SystemMonitoring, snap.System)
	up, _ = snap.Channel(state.PHUp)
	assert.Equal(t, state.ChannelIdle, up.Phase)

	assert.ErrorIs(t, r.coord.ExitMaintenance(), state.ErrInvalidTransition)
}

func TestCalibrationSession(t *testing.T) {
	r := newRig(t, false)

	_, err := r.coord.SampleRaw()
	assert.ErrorIs(t, err, ErrNotCalibrating)

	require.NoError(t, r.coord.BeginCalibration())
	snap := r.coord.Snapshot()
	assert.Equal(t, state.SystemCalibrating, snap.System)
	assert.Equal(t, state.CalibrationActive, snap.Calibration)

	raw, err := r.coord.SampleRaw()
	require.NoError(t, err)
	assert.InDelta(t, (6.8-7.0)/-0.0169, raw.PHMillivolts, 2)
	assert.Equal(t, float32(60), raw.DistanceCm)
	assert.False(t, r.sim.Powered())

	// Dosing is gated while calibrating.
	_, err = r.coord.ManualDose(state.PHUp, 5)
	assert.ErrorIs(t, err, dosing.ErrSafetyRejected)

	require.NoError(t, r.coord.EndCalibration())
	snap = r.coord.Snapshot()
	assert.Equal(t, state.SystemMonitoring, snap.System)
	assert.Equal(t, state.CalibrationIdle, snap.Calibration)
}

func TestApplyCalibration(t *testing.T) {
	r := newRig(t, false)

	bad := calibration.Defaults()
	bad.PHOffset = 20
	assert.ErrorIs(t, r.coord.ApplyCalibration(bad), calibration.ErrCalibrationInvalid)

	good, err := calibration.Defaults().FitPH(177, 4.0, 0, 7.0)
	require.NoError(t, err)
	require.NoError(t, r.coord.ApplyCalibration(good))
	assert.Equal(t, good, r.coord.Calibration())

	stored, err := r.store.Load()
	require.NoError(t, err)
	assert.Equal(t, good, stored)

	require.NoError(t, r.coord.ResetCalibration())
	assert.Equal(t, calibration.Defaults(), r.coord.Calibration())
}

func TestStopAllKeepsMode(t *testing.T) {
	r := newRig(t, false)
	require.NoError(t, r.coord.ManualStart(state.NutrientB, 30))

	r.coord.StopAll()
	snap := r.coord.Snapshot()
	assert.Equal(t, state.SystemMonitoring, snap.System)
	b, _ := snap.Channel(state.NutrientB)
	assert.Equal(t, state.ChannelIdle, b.Phase)
	assert.Zero(t, r.sim.Duty(state.NutrientB))
}

func TestShutdown(t *testing.T) {
	r := newRig(t, false)
	require.NoError(t, r.coord.ManualStart(state.NutrientB, 30))

	r.coord.Shutdown()
	assert.Equal(t, state.SystemShutdown, r.coord.Snapshot().System)
	assert.Zero(t, r.sim.Duty(state.NutrientB))
}
