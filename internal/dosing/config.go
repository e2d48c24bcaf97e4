package dosing

// Config carries the dosing limits and control-loop defaults. Times are in
// milliseconds of the control clock.
type Config struct {
	FlowRate          float32 // ml/min used for PID and manual doses
	MinFlowRate       float32
	MaxFlowRate       float32
	PrimingDuty       float32 // percent
	PrimingWindowMs   uint32
	MinDoseIntervalMs uint32
	MaxDosesPerHour   int
	MaxActuationMs    uint32
	MinDoseML         float32
	MaxDoseML         float32

	// Plausibility guard for the automatic pH path.
	MinVolumeLiters float32
	MaxVolumeLiters float32
	MinPH           float32
	MaxPH           float32

	TargetPH      float32
	Gains         Gains
	IntegralLimit float32
}

func DefaultConfig() Config {
	return Config{
		FlowRate:          30,
		MinFlowRate:       10,
		MaxFlowRate:       90,
		PrimingDuty:       25,
		PrimingWindowMs:   2500,
		MinDoseIntervalMs: 300000,
		MaxDosesPerHour:   3,
		MaxActuationMs:    600000,
		MinDoseML:         5,
		MaxDoseML:         25,
		MinVolumeLiters:   5,
		MaxVolumeLiters:   200,
		MinPH:             4,
		MaxPH:             9,
		TargetPH:          6.0,
		Gains:             Gains{Kp: 8, Ki: 0.5, Kd: 2},
		IntegralLimit:     50,
	}
}

const hourMs uint32 = 3600000

// Operator-settable ranges.
const (
	minTargetPH = 5.0
	maxTargetPH = 8.0

	minKp, maxKp = 0.1, 50.0
	minKi, maxKi = 0.0, 5.0
	minKd, maxKd = 0.0, 10.0

	// Pump calibration line: 5.2 ml/min at 10% duty, 90 ml/min at 100%.
	dutyFlowFloor = 5.2
	dutyFlowCeil  = 90.0
)

// DutyForFlowRate maps a flow rate in ml/min to a pump duty in percent.
func DutyForFlowRate(rate float32) float32 {
	rate = clamp(rate, dutyFlowFloor, dutyFlowCeil)
	return 10 + (rate-dutyFlowFloor)*90/(dutyFlowCeil-dutyFlowFloor)
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
