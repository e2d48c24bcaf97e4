package sensor

// Reading is one acquisition result, raw or filtered.
type Reading struct {
	PH           float32 `json:"ph"`
	EC           float32 `json:"ec"`
	VolumeLiters float32 `json:"volume_liters"`
	TemperatureC float32 `json:"temperature_c"`
	Timestamp    uint32  `json:"timestamp_ms"`
	Valid        bool    `json:"valid"`
}

// Plausible applies the validity rule: pH strictly inside (0, 14), EC and
// volume non-negative.
func (r Reading) Plausible() bool {
	return r.PH > 0 && r.PH < 14 && r.EC >= 0 && r.VolumeLiters >= 0
}

// Raw holds the uncalibrated signals of the last acquisition. The
// calibration flow fits parameters against these.
type Raw struct {
	PHMillivolts float32 `json:"ph_mv"`
	ECMillivolts float32 `json:"ec_mv"`
	DistanceCm   float32 `json:"distance_cm"`
	TemperatureC float32 `json:"temperature_c"`
}

// EMA blends a new sample into the previous filtered value.
func EMA(prev, sample, alpha float32) float32 {
	return prev*(1-alpha) + sample*alpha
}

// CompensatePH shifts a pH value by coeff per degree away from 25 C and
// clamps the result to [0, 14].
func CompensatePH(ph, tempC, coeff float32) float32 {
	return clamp(ph+(tempC-referenceTempC)*coeff, 0, 14)
}

// CompensateEC scales conductivity to its 25 C equivalent.
func CompensateEC(ec, tempC, coeff float32) float32 {
	return ec * (1 + coeff*(tempC-referenceTempC))
}

const referenceTempC = 25.0

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
