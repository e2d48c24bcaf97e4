package sensor

import (
	"fmt"
	"math"

	"github.com/mykyno/hydroponik/internal/calibration"
	"github.com/mykyno/hydroponik/internal/hardware"
	"github.com/mykyno/hydroponik/internal/state"
	"go.uber.org/zap"
)

type Config struct {
	IntervalMs         uint32
	WarmupMs           uint32
	Samples            int
	AlphaPH            float32
	AlphaEC            float32
	AlphaVolume        float32
	ADCMaxCounts       float32
	ADCReferenceMV     float32
	PHTempCoefficient  float32
	ECTempCoefficient  float32
	MaxInvalidReadings int
	MinDistanceCm      float32
	MaxDistanceCm      float32
}

func DefaultConfig() Config {
	return Config{
		IntervalMs:         5000,
		WarmupMs:           200,
		Samples:            5,
		AlphaPH:            0.2,
		AlphaEC:            0.2,
		AlphaVolume:        0.3,
		ADCMaxCounts:       4095,
		ADCReferenceMV:     3300,
		PHTempCoefficient:  0.03,
		ECTempCoefficient:  0.02,
		MaxInvalidReadings: 3,
		MinDistanceCm:      2,
		MaxDistanceCm:      400,
	}
}

// Hardware is what the pipeline needs from the I/O backend.
type Hardware interface {
	hardware.AnalogInput
	hardware.TemperatureSensor
	hardware.DistanceSensor
	hardware.SensorPower
}

// Pipeline drives the acquisition state machine:
// Ready -> WarmingUp -> Reading -> Filtering -> Ready.
type Pipeline struct {
	cfg    Config
	states *state.Manager
	hw     Hardware
	logger *zap.Logger

	params calibration.Parameters

	current  Reading
	filtered Reading
	raw      Raw

	lastCycle    uint32
	cycled       bool
	invalidCount int
}

func NewPipeline(cfg Config, states *state.Manager, hw Hardware, params calibration.Parameters, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		cfg:    cfg,
		states: states,
		hw:     hw,
		logger: logger,
		params: params,
		// EMA seed; not reported as valid until the first real reading.
		filtered: Reading{PH: 7.0, EC: 1.0, VolumeLiters: 0, TemperatureC: 25.0},
	}
}

// Init completes power-up: Initializing -> Ready with probes unpowered.
func (p *Pipeline) Init() error {
	p.powerOff()
	return p.states.TransitionSensor(state.SensorInitializing, state.SensorReady)
}

// SetCalibration replaces the calibration parameters. Callers must invoke it
// between cycles.
func (p *Pipeline) SetCalibration(params calibration.Parameters) {
	p.params = params
}

func (p *Pipeline) Calibration() calibration.Parameters {
	return p.params
}

// Filtered returns the latest filtered reading.
func (p *Pipeline) Filtered() Reading {
	return p.filtered
}

// Current returns the latest unfiltered reading.
func (p *Pipeline) Current() Reading {
	return p.current
}

func (p *Pipeline) LastRaw() Raw {
	return p.raw
}

// InvalidCount is the number of consecutive implausible raw readings.
func (p *Pipeline) InvalidCount() int {
	return p.invalidCount
}

// Tick advances the acquisition machine by at most one phase. It returns the
// new filtered reading and true when a valid cycle completed in this call.
func (p *Pipeline) Tick() (Reading, bool) {
	now := p.states.Now()

	switch p.states.Sensor() {
	case state.SensorReady:
		if p.cycled && state.Elapsed(now, p.lastCycle) < p.cfg.IntervalMs {
			return p.filtered, false
		}
		if err := p.hw.SetSensorPower(true); err != nil {
			p.logger.Warn("Failed to power sensors", zap.Error(err))
		}
		p.states.TransitionSensor(state.SensorReady, state.SensorWarmingUp)

	case state.SensorWarmingUp:
		if p.states.SensorDuration() >= p.cfg.WarmupMs {
			p.states.TransitionSensor(state.SensorWarmingUp, state.SensorReading)
		}

	case state.SensorReading:
		p.current = p.acquire(now)
		if p.current.Valid {
			p.invalidCount = 0
		} else {
			p.invalidCount++
			p.logger.Warn("Implausible sensor reading",
				zap.Float32("ph", p.current.PH),
				zap.Float32("ec", p.current.EC),
				zap.Float32("volume_liters", p.current.VolumeLiters),
				zap.Int("consecutive", p.invalidCount))

			if p.invalidCount >= p.cfg.MaxInvalidReadings {
				p.Fault()
				return p.filtered, false
			}
		}
		p.states.TransitionSensor(state.SensorReading, state.SensorFiltering)

	case state.SensorFiltering:
		fresh := p.current.Valid
		if fresh {
			p.filtered = Reading{
				PH:           EMA(p.filtered.PH, p.current.PH, p.cfg.AlphaPH),
				EC:           EMA(p.filtered.EC, p.current.EC, p.cfg.AlphaEC),
				VolumeLiters: EMA(p.filtered.VolumeLiters, p.current.VolumeLiters, p.cfg.AlphaVolume),
				TemperatureC: p.current.TemperatureC,
				Timestamp:    p.current.Timestamp,
				Valid:        true,
			}
		}
		p.powerOff()
		p.states.TransitionSensor(state.SensorFiltering, state.SensorReady)
		p.lastCycle = now
		p.cycled = true

		if fresh {
			return p.filtered, true
		}
	}

	return p.filtered, false
}

// Fault escalates the sensor machine to Error with the probes unpowered.
func (p *Pipeline) Fault() {
	p.powerOff()
	p.invalidCount = 0
	p.states.TransitionSensor(p.states.Sensor(), state.SensorError)
	p.logger.Warn("Sensor fault, acquisition suspended")
}

// Halt abandons an acquisition cycle in progress and unpowers the probes. It
// is called when the system leaves a sensing mode.
func (p *Pipeline) Halt() {
	p.powerOff()
	switch p.states.Sensor() {
	case state.SensorWarmingUp, state.SensorReading, state.SensorFiltering:
		p.states.ForceSensor(state.SensorReady)
	}
}

// SampleRaw powers the probes, averages the configured number of samples,
// and returns the uncalibrated signals. It is used while calibrating, when
// the acquisition machine is not running.
func (p *Pipeline) SampleRaw() (Raw, error) {
	if err := p.hw.SetSensorPower(true); err != nil {
		return Raw{}, fmt.Errorf("failed to power sensors: %w", err)
	}
	defer p.powerOff()

	phMV, err := p.averageMillivolts(hardware.SensorPH)
	if err != nil {
		return Raw{}, err
	}
	ecMV, err := p.averageMillivolts(hardware.SensorEC)
	if err != nil {
		return Raw{}, err
	}

	raw := Raw{
		PHMillivolts: phMV,
		ECMillivolts: ecMV,
		DistanceCm:   p.readDistance(),
		TemperatureC: p.readTemperature(),
	}
	p.raw = raw
	return raw, nil
}

func (p *Pipeline) acquire(now uint32) Reading {
	tempC := p.readTemperature()
	r := Reading{TemperatureC: tempC, Timestamp: now}

	ph, phMV, err := p.sampleCalibrated(hardware.SensorPH, p.params.PHSlope, p.params.PHOffset, 0, 14)
	if err != nil {
		p.logger.Warn("pH read failed", zap.Error(err))
		return r
	}
	ec, ecMV, err := p.sampleCalibrated(hardware.SensorEC, p.params.ECSlope, p.params.ECOffset, 0, math.MaxFloat32)
	if err != nil {
		p.logger.Warn("EC read failed", zap.Error(err))
		return r
	}

	distance := p.readDistance()
	volume, err := p.params.DistanceToVolume(distance)
	if err != nil {
		p.logger.Warn("Volume unavailable", zap.Float32("distance_cm", distance), zap.Error(err))
	}

	p.raw = Raw{PHMillivolts: phMV, ECMillivolts: ecMV, DistanceCm: distance, TemperatureC: tempC}

	r.PH = CompensatePH(ph, tempC, p.cfg.PHTempCoefficient)
	r.EC = CompensateEC(ec, tempC, p.cfg.ECTempCoefficient)
	r.VolumeLiters = volume
	r.Valid = r.Plausible()
	return r
}

// sampleCalibrated averages cfg.Samples calibrated values, clamping each one
// to [lo, hi], and also returns the mean millivolts.
func (p *Pipeline) sampleCalibrated(id hardware.SensorID, slope, offset, lo, hi float32) (float32, float32, error) {
	n := p.samples()
	var sum, sumMV float32
	for i := 0; i < n; i++ {
		counts, err := p.hw.ReadRaw(id)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to read %s: %w", id, err)
		}
		mv := p.countsToMillivolts(counts)
		sumMV += mv
		sum += clamp(slope*mv+offset, lo, hi)
	}
	return sum / float32(n), sumMV / float32(n), nil
}

func (p *Pipeline) averageMillivolts(id hardware.SensorID) (float32, error) {
	n := p.samples()
	var sum float32
	for i := 0; i < n; i++ {
		counts, err := p.hw.ReadRaw(id)
		if err != nil {
			return 0, fmt.Errorf("failed to read %s: %w", id, err)
		}
		sum += p.countsToMillivolts(counts)
	}
	return sum / float32(n), nil
}

func (p *Pipeline) countsToMillivolts(counts uint16) float32 {
	return float32(counts) * (p.cfg.ADCReferenceMV / p.cfg.ADCMaxCounts)
}

func (p *Pipeline) samples() int {
	if p.cfg.Samples < 1 {
		return 1
	}
	return p.cfg.Samples
}

// readTemperature falls back to the 25 C reference when the probe is absent.
func (p *Pipeline) readTemperature() float32 {
	t, err := p.hw.ReadCelsius()
	if err != nil {
		p.logger.Debug("Temperature unavailable, assuming reference", zap.Error(err))
		return referenceTempC
	}
	return t
}

const distanceFault float32 = -1

// readDistance maps read errors and out-of-range echoes to the fault sentinel.
func (p *Pipeline) readDistance() float32 {
	d, err := p.hw.ReadCm()
	if err != nil {
		p.logger.Debug("Distance read failed", zap.Error(err))
		return distanceFault
	}
	if d >= 0 && (d < p.cfg.MinDistanceCm || d > p.cfg.MaxDistanceCm) {
		return distanceFault
	}
	return d
}

func (p *Pipeline) powerOff() {
	if err := p.hw.SetSensorPower(false); err != nil {
		p.logger.Warn("Failed to power down sensors", zap.Error(err))
	}
}
