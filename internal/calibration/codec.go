package calibration

import (
	"encoding/binary"
	"fmt"
	"math"
)

// RecordSize is the exact length of a persisted calibration record: eight
// little-endian float32 values.
const RecordSize = 32

func (p *Parameters) fields() []*float32 {
	return []*float32{
		&p.PHSlope, &p.PHOffset,
		&p.ECSlope, &p.ECOffset,
		&p.EmptyDistance, &p.HalfDistance, &p.FullDistance, &p.MaxVolume,
	}
}

// MarshalBinary encodes p as a fixed-size record.
func (p Parameters) MarshalBinary() ([]byte, error) {
	buf := make([]byte, RecordSize)
	for i, f := range p.fields() {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(*f))
	}
	return buf, nil
}

// UnmarshalBinary decodes a record. Only the length is checked here; range
// validation is left to Validate.
func (p *Parameters) UnmarshalBinary(data []byte) error {
	if len(data) != RecordSize {
		return fmt.Errorf("%w: record is %d bytes, want %d", ErrCalibrationInvalid, len(data), RecordSize)
	}

	for i, f := range p.fields() {
		*f = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return nil
}
