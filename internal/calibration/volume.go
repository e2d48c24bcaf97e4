package calibration

// VolumeFault is the volume reported alongside ErrDistanceFault.
const VolumeFault float32 = -1

// DistanceToVolume converts an ultrasonic/time-of-flight distance in cm to a
// reservoir volume in liters with a piecewise-linear map through the empty,
// half and full calibration points. An uncalibrated map yields 0.
func (p Parameters) DistanceToVolume(distanceCm float32) (float32, error) {
	if distanceCm < 0 {
		return VolumeFault, ErrDistanceFault
	}
	if !p.VolumeCalibrated() {
		return 0, nil
	}

	if distanceCm >= p.EmptyDistance {
		return 0, nil
	}
	if distanceCm <= p.FullDistance {
		return p.MaxVolume, nil
	}

	half := p.MaxVolume / 2
	if distanceCm > p.HalfDistance {
		ratio := (p.EmptyDistance - distanceCm) / (p.EmptyDistance - p.HalfDistance)
		return ratio * half, nil
	}

	ratio := (p.HalfDistance - distanceCm) / (p.HalfDistance - p.FullDistance)
	return half + ratio*half, nil
}
