package calibration

import (
	"fmt"
	"math"
)

const (
	minVoltageSpanMV = 50.0
	maxMillivolts    = 3300.0
	minECSpan        = 0.1
)

// FitPH derives pH slope and offset from two buffer-solution points and
// returns a copy of p with those values replaced. The offset is anchored on
// the second point.
func (p Parameters) FitPH(v1, ph1, v2, ph2 float32) (Parameters, error) {
	if math.Abs(float64(v1-v2)) < minVoltageSpanMV {
		return p, fmt.Errorf("%w: pH points must differ by at least %.0f mV", ErrCalibrationInvalid, minVoltageSpanMV)
	}
	if !inMillivoltRange(v1) || !inMillivoltRange(v2) {
		return p, fmt.Errorf("%w: voltages must be within 0-%.0f mV", ErrCalibrationInvalid, maxMillivolts)
	}
	if !(ph1 >= 0 && ph1 <= 14) || !(ph2 >= 0 && ph2 <= 14) {
		return p, fmt.Errorf("%w: pH values must be within 0-14", ErrCalibrationInvalid)
	}

	p.PHSlope = (ph2 - ph1) / (v2 - v1)
	p.PHOffset = ph2 - p.PHSlope*v2
	return p, nil
}

// FitEC derives EC slope and offset from a low and a high conductivity
// standard. The offset is anchored on the low point.
func (p Parameters) FitEC(lowV, lowEC, highV, highEC float32) (Parameters, error) {
	if math.Abs(float64(lowV-highV)) < minVoltageSpanMV {
		return p, fmt.Errorf("%w: EC points must differ by at least %.0f mV", ErrCalibrationInvalid, minVoltageSpanMV)
	}
	if math.Abs(float64(lowEC-highEC)) < minECSpan {
		return p, fmt.Errorf("%w: EC standards must differ by at least %.1f mS/cm", ErrCalibrationInvalid, minECSpan)
	}
	if !inMillivoltRange(lowV) || !inMillivoltRange(highV) {
		return p, fmt.Errorf("%w: voltages must be within 0-%.0f mV", ErrCalibrationInvalid, maxMillivolts)
	}
	if !(lowEC >= 0) || !(highEC >= 0) {
		return p, fmt.Errorf("%w: EC values must not be negative", ErrCalibrationInvalid)
	}

	p.ECSlope = (highEC - lowEC) / (highV - lowV)
	p.ECOffset = lowEC - p.ECSlope*lowV
	return p, nil
}

// FitVolume records the three-point distance map.
func (p Parameters) FitVolume(empty, half, full, maxVolume float32) (Parameters, error) {
	if err := validateVolumeMap(empty, half, full, maxVolume); err != nil {
		return p, err
	}

	p.EmptyDistance = empty
	p.HalfDistance = half
	p.FullDistance = full
	p.MaxVolume = maxVolume
	return p, nil
}

func inMillivoltRange(v float32) bool {
	return v >= 0 && v <= maxMillivolts
}
