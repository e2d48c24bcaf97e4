package hardware

import (
	"errors"
	"sync"

	"github.com/mykyno/hydroponik/internal/calibration"
	"github.com/mykyno/hydroponik/internal/state"
)

var ErrSensorUnpowered = errors.New("sensors not powered")

// SimulatorConfig describes the simulated reservoir.
type SimulatorConfig struct {
	InitialPH    float32
	InitialEC    float32
	TemperatureC float32
	DistanceCm   float32

	// Per-second rates. Pump effects scale with duty/100.
	DriftPerSecond   float32
	PHPerDutySecond  float32
	ECPerDutySecond  float32
	ADCMaxCounts     uint16
	ADCReferenceMV   float32
	RequirePower     bool
	CalibrationModel calibration.Parameters
}

func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		InitialPH:        6.8,
		InitialEC:        1.2,
		TemperatureC:     22,
		DistanceCm:       60,
		DriftPerSecond:   0.0005,
		PHPerDutySecond:  0.002,
		ECPerDutySecond:  0.001,
		ADCMaxCounts:     4095,
		ADCReferenceMV:   3300,
		RequirePower:     true,
		CalibrationModel: calibration.Defaults(),
	}
}

// DutyWrite is one recorded actuator command.
type DutyWrite struct {
	Channel state.ChannelID
	Percent float32
	AtMs    uint32
}

// Simulator is an in-memory reservoir. pH drifts toward 7 and responds to
// the pH pumps; the nutrient pumps raise EC. Probe counts are produced by
// inverting the configured calibration model.
type Simulator struct {
	cfg   SimulatorConfig
	clock state.Clock

	mu       sync.Mutex
	ph       float32
	ec       float32
	tempC    float32
	distance float32
	duty     [state.NumChannels]float32
	writes   []DutyWrite
	powered  bool
	last     uint32
	readErr  error
	dutyErr  error
}

func NewSimulator(cfg SimulatorConfig, clock state.Clock) *Simulator {
	return &Simulator{
		cfg:      cfg,
		clock:    clock,
		ph:       cfg.InitialPH,
		ec:       cfg.InitialEC,
		tempC:    cfg.TemperatureC,
		distance: cfg.DistanceCm,
		last:     clock.NowMs(),
	}
}

// integrate advances the reservoir model to the current clock reading.
// Callers hold s.mu.
func (s *Simulator) integrate() {
	now := s.clock.NowMs()
	dt := float32(state.Elapsed(now, s.last)) / 1000
	s.last = now
	if dt <= 0 {
		return
	}

	s.ph += (7 - s.ph) * s.cfg.DriftPerSecond * dt
	s.ph += s.duty[state.PHUp] / 100 * s.cfg.PHPerDutySecond * dt
	s.ph -= s.duty[state.PHDown] / 100 * s.cfg.PHPerDutySecond * dt
	s.ph = clampRange(s.ph, 0, 14)

	nutrients := s.duty[state.NutrientA] + s.duty[state.NutrientB]
	s.ec += nutrients / 100 * s.cfg.ECPerDutySecond * dt
}

func (s *Simulator) SetDuty(ch state.ChannelID, percent float32) error {
	if err := checkChannel(ch); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dutyErr != nil {
		return s.dutyErr
	}
	s.integrate()

	percent = clampDuty(percent)
	s.duty[ch] = percent
	s.writes = append(s.writes, DutyWrite{Channel: ch, Percent: percent, AtMs: s.last})
	return nil
}

func (s *Simulator) ReadRaw(id SensorID) (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.readable(); err != nil {
		return 0, err
	}
	s.integrate()

	m := s.cfg.CalibrationModel
	var mv float32
	switch id {
	case SensorPH:
		mv = (s.ph - m.PHOffset) / m.PHSlope
	case SensorEC:
		mv = (s.ec - m.ECOffset) / m.ECSlope
	default:
		return 0, errors.New("unknown sensor")
	}

	counts := mv * float32(s.cfg.ADCMaxCounts) / s.cfg.ADCReferenceMV
	return uint16(clampRange(counts+0.5, 0, float32(s.cfg.ADCMaxCounts))), nil
}

func (s *Simulator) ReadCelsius() (float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.readErr != nil {
		return 0, s.readErr
	}
	return s.tempC, nil
}

func (s *Simulator) ReadCm() (float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.readErr != nil {
		return 0, s.readErr
	}
	return s.distance, nil
}

func (s *Simulator) SetSensorPower(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.powered = on
	return nil
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.duty {
		s.duty[i] = 0
	}
	return nil
}

func (s *Simulator) readable() error {
	if s.readErr != nil {
		return s.readErr
	}
	if s.cfg.RequirePower && !s.powered {
		return ErrSensorUnpowered
	}
	return nil
}

// ==================== TEST AND DEMO CONTROLS ====================

func (s *Simulator) SetPH(ph float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.integrate()
	s.ph = ph
}

func (s *Simulator) PH() float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.integrate()
	return s.ph
}

func (s *Simulator) SetEC(ec float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ec = ec
}

func (s *Simulator) SetTemperature(c float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tempC = c
}

func (s *Simulator) SetDistance(cm float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.distance = cm
}

// FailReads makes every sensor read return err until cleared with nil.
func (s *Simulator) FailReads(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr = err
}

// FailDuty makes every SetDuty return err until cleared with nil.
func (s *Simulator) FailDuty(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dutyErr = err
}

func (s *Simulator) Duty(ch state.ChannelID) float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duty[ch]
}

func (s *Simulator) Writes() []DutyWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DutyWrite, len(s.writes))
	copy(out, s.writes)
	return out
}

func (s *Simulator) Powered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.powered
}

func clampRange(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
