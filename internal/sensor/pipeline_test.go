package sensor

import (
	"errors"
	"testing"

	"github.com/mykyno/hydroponik/internal/calibration"
	"github.com/mykyno/hydroponik/internal/hardware"
	"github.com/mykyno/hydroponik/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeHW struct {
	counts   map[hardware.SensorID]uint16
	tempC    float32
	tempErr  error
	distance float32
	powered  bool
	toggles  int
}

func newFakeHW() *fakeHW {
	return &fakeHW{
		counts:   map[hardware.SensorID]uint16{},
		tempC:    25,
		distance: 60,
	}
}

func (f *fakeHW) ReadRaw(id hardware.SensorID) (uint16, error) { return f.counts[id], nil }
func (f *fakeHW) ReadCelsius() (float32, error)                { return f.tempC, f.tempErr }
func (f *fakeHW) ReadCm() (float32, error)                     { return f.distance, nil }
func (f *fakeHW) SetSensorPower(on bool) error {
	if on != f.powered {
		f.toggles++
	}
	f.powered = on
	return nil
}

type harness struct {
	t      *testing.T
	now    uint32
	states *state.Manager
	hw     *fakeHW
	p      *Pipeline
}

func newHarness(t *testing.T, params calibration.Parameters) *harness {
	logger := zaptest.NewLogger(t)
	h := &harness{t: t, states: state.NewManager(0, logger), hw: newFakeHW()}
	h.p = NewPipeline(DefaultConfig(), h.states, h.hw, params, logger)
	require.NoError(t, h.p.Init())
	return h
}

func (h *harness) tick(at uint32) (Reading, bool) {
	h.now = at
	h.states.Advance(at)
	return h.p.Tick()
}

// cycle runs one full acquisition starting at the given time.
func (h *harness) cycle(start uint32) (Reading, bool) {
	h.tick(start)       // Ready -> WarmingUp
	h.tick(start + 200) // WarmingUp -> Reading
	h.tick(start + 201) // Reading -> Filtering
	return h.tick(start + 202)
}

func calibratedVolume() calibration.Parameters {
	p, _ := calibration.Defaults().FitVolume(100, 60, 20, 80)
	return p
}

func TestEMAScenario(t *testing.T) {
	assert.InDelta(t, 6.80, EMA(7.00, 6.00, 0.2), 1e-6)
}

func TestTemperatureCompensation(t *testing.T) {
	assert.InDelta(t, 6.15, CompensatePH(6.0, 30, 0.03), 1e-5)
	assert.InDelta(t, 5.85, CompensatePH(6.0, 20, 0.03), 1e-5)
	assert.Equal(t, float32(14), CompensatePH(13.9, 40, 0.03))
	assert.InDelta(t, 1.2, CompensateEC(1.0, 35, 0.02), 1e-5)
	assert.InDelta(t, 1.0, CompensateEC(1.0, 25, 0.02), 1e-6)
}

func TestPipelinePhaseSequence(t *testing.T) {
	h := newHarness(t, calibratedVolume())
	assert.Equal(t, state.SensorReady, h.states.Sensor())

	h.tick(0)
	assert.Equal(t, state.SensorWarmingUp, h.states.Sensor())
	assert.True(t, h.hw.powered)

	h.tick(150)
	assert.Equal(t, state.SensorWarmingUp, h.states.Sensor())

	h.tick(200)
	assert.Equal(t, state.SensorReading, h.states.Sensor())

	h.tick(201)
	assert.Equal(t, state.SensorFiltering, h.states.Sensor())

	r, fresh := h.tick(202)
	require.True(t, fresh)
	assert.Equal(t, state.SensorReady, h.states.Sensor())
	assert.False(t, h.hw.powered)

	// counts 0 -> 0 mV -> pH offset 7.0; raw EC 0 pulls the 1.0 seed down
	// with alpha 0.2
	assert.InDelta(t, 7.0, r.PH, 1e-5)
	assert.InDelta(t, 0.8, r.EC, 1e-6)
	// 40 L at the half point, EMA from 0 with alpha 0.3
	assert.InDelta(t, 12.0, r.VolumeLiters, 1e-4)
	assert.True(t, r.Valid)
	assert.Equal(t, uint32(201), r.Timestamp)
}

func TestPipelineHonoursInterval(t *testing.T) {
	h := newHarness(t, calibratedVolume())
	_, fresh := h.cycle(0)
	require.True(t, fresh)

	h.tick(3000)
	assert.Equal(t, state.SensorReady, h.states.Sensor())

	h.tick(5202)
	assert.Equal(t, state.SensorWarmingUp, h.states.Sensor())
}

func TestPipelineFilterConverges(t *testing.T) {
	h := newHarness(t, calibratedVolume())

	var r Reading
	for i := uint32(0); i < 40; i++ {
		r, _ = h.cycle(i * 6000)
	}
	assert.InDelta(t, 40.0, r.VolumeLiters, 0.01)
}

func TestPipelineTemperatureFallback(t *testing.T) {
	h := newHarness(t, calibratedVolume())
	h.hw.tempErr = errors.New("bus disconnected")

	r, fresh := h.cycle(0)
	require.True(t, fresh)
	assert.Equal(t, float32(25), r.TemperatureC)
}

func TestPipelineInvalidReadingsEscalate(t *testing.T) {
	h := newHarness(t, calibratedVolume())
	h.hw.distance = -1

	_, fresh := h.cycle(0)
	assert.False(t, fresh)
	assert.Equal(t, 1, h.p.InvalidCount())
	assert.Equal(t, state.SensorReady, h.states.Sensor())

	h.cycle(6000)
	assert.Equal(t, 2, h.p.InvalidCount())

	h.tick(12000)
	h.tick(12200)
	h.tick(12201)
	assert.Equal(t, state.SensorError, h.states.Sensor())
	assert.False(t, h.hw.powered)
	assert.Equal(t, 0, h.p.InvalidCount())
}

func TestPipelineValidReadingResetsCounter(t *testing.T) {
	h := newHarness(t, calibratedVolume())
	h.hw.distance = -1
	h.cycle(0)
	h.cycle(6000)
	require.Equal(t, 2, h.p.InvalidCount())

	h.hw.distance = 60
	_, fresh := h.cycle(12000)
	assert.True(t, fresh)
	assert.Equal(t, 0, h.p.InvalidCount())
}

func TestPipelineRejectsOutOfRangePH(t *testing.T) {
	h := newHarness(t, calibratedVolume())
	// ~1000 mV drives the default calibration far below pH 0
	h.hw.counts[hardware.SensorPH] = 1241

	_, fresh := h.cycle(0)
	assert.False(t, fresh)
	assert.Equal(t, float32(0), h.p.Current().PH)
	assert.False(t, h.p.Current().Valid)
}

func TestPipelineDistanceOutsideEchoRange(t *testing.T) {
	h := newHarness(t, calibratedVolume())
	h.hw.distance = 1.5

	_, fresh := h.cycle(0)
	assert.False(t, fresh)
	assert.Equal(t, float32(-1), h.p.LastRaw().DistanceCm)
}

func TestSampleRaw(t *testing.T) {
	h := newHarness(t, calibration.Defaults())
	h.hw.counts[hardware.SensorPH] = 4095
	h.hw.counts[hardware.SensorEC] = 0

	raw, err := h.p.SampleRaw()
	require.NoError(t, err)
	assert.InDelta(t, 3300, raw.PHMillivolts, 1e-2)
	assert.Equal(t, float32(0), raw.ECMillivolts)
	assert.Equal(t, float32(60), raw.DistanceCm)
	assert.False(t, h.hw.powered)
}

func TestHaltAbandonsCycle(t *testing.T) {
	h := newHarness(t, calibration.Defaults())

	h.tick(1000)
	require.Equal(t, state.SensorWarmingUp, h.states.Sensor())
	require.True(t, h.hw.powered)

	h.p.Halt()
	assert.Equal(t, state.SensorReady, h.states.Sensor())
	assert.False(t, h.hw.powered)

	// Error is left for the safety sweep to recover.
	h.states.ForceSensor(state.SensorError)
	h.p.Halt()
	assert.Equal(t, state.SensorError, h.states.Sensor())
}
