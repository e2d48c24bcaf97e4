package calibration

import (
	"errors"
	"fmt"
)

var (
	// ErrCalibrationInvalid covers records of the wrong size and parameter
	// sets whose values are out of range.
	ErrCalibrationInvalid = errors.New("calibration invalid")

	// ErrDistanceFault is returned when the distance sensor reports its
	// negative fault sentinel.
	ErrDistanceFault = errors.New("distance sensor fault")
)

// Parameters linearises the raw sensor signals. pH and EC are
// value = slope*millivolts + offset; volume uses a three-point distance map.
type Parameters struct {
	PHSlope  float32 `json:"ph_slope"`
	PHOffset float32 `json:"ph_offset"`
	ECSlope  float32 `json:"ec_slope"`
	ECOffset float32 `json:"ec_offset"`

	EmptyDistance float32 `json:"empty_distance_cm"`
	HalfDistance  float32 `json:"half_distance_cm"`
	FullDistance  float32 `json:"full_distance_cm"`
	MaxVolume     float32 `json:"max_volume_liters"`
}

// Defaults returns the built-in parameters. The volume map is left unset.
func Defaults() Parameters {
	return Parameters{
		PHSlope:  -0.0169,
		PHOffset: 7.0,
		ECSlope:  0.001,
		ECOffset: 0.0,
	}
}

// VolumeCalibrated reports whether a distance map has been recorded.
func (p Parameters) VolumeCalibrated() bool {
	return p.MaxVolume > 0 && p.EmptyDistance > 0
}

// Validate checks every parameter against its plausible range. Comparisons
// are written so that NaN fails them.
func (p Parameters) Validate() error {
	if !(p.PHSlope > -0.1 && p.PHSlope < 0.1) {
		return fmt.Errorf("%w: pH slope %g outside (-0.1, 0.1)", ErrCalibrationInvalid, p.PHSlope)
	}
	if !(p.PHOffset > 0 && p.PHOffset < 14) {
		return fmt.Errorf("%w: pH offset %g outside (0, 14)", ErrCalibrationInvalid, p.PHOffset)
	}
	if !(p.ECSlope > -1 && p.ECSlope < 1) {
		return fmt.Errorf("%w: EC slope %g outside (-1, 1)", ErrCalibrationInvalid, p.ECSlope)
	}
	if !(p.ECOffset >= 0) {
		return fmt.Errorf("%w: EC offset %g is negative", ErrCalibrationInvalid, p.ECOffset)
	}

	if p.MaxVolume == 0 && p.EmptyDistance == 0 && p.HalfDistance == 0 && p.FullDistance == 0 {
		return nil
	}
	return validateVolumeMap(p.EmptyDistance, p.HalfDistance, p.FullDistance, p.MaxVolume)
}

func validateVolumeMap(empty, half, full, maxVolume float32) error {
	if !(full > 0 && half > 0 && empty > 0) {
		return fmt.Errorf("%w: distances must be positive", ErrCalibrationInvalid)
	}
	if !(full < half && half < empty) {
		return fmt.Errorf("%w: distances must satisfy full < half < empty (got %g, %g, %g)",
			ErrCalibrationInvalid, full, half, empty)
	}
	if !(maxVolume > 0) {
		return fmt.Errorf("%w: max volume must be positive", ErrCalibrationInvalid)
	}
	return nil
}
