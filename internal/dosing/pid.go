package dosing

import (
	"math"

	"github.com/mykyno/hydroponik/internal/state"
)

type Gains struct {
	Kp float32 `json:"kp"`
	Ki float32 `json:"ki"`
	Kd float32 `json:"kd"`
}

// PID is the per-channel control state, including the dose bookkeeping the
// safety gate reads.
type PID struct {
	Gains
	Target    float32
	Integral  float32
	LastError float32

	LastDoseTime  uint32
	dosed         bool
	DosesThisHour int
	HourStart     uint32
	TotalDosedML  float32

	// start times of doses still inside the rolling hour, oldest first
	recent []uint32
}

// Reset clears the integral accumulator and the derivative history.
func (p *PID) Reset() {
	p.Integral = 0
	p.LastError = 0
}

// Update runs one PID step against the current process value and returns the
// raw controller output. The integral is clamped to +/-limit.
func (p *PID) Update(current, limit float32) float32 {
	e := p.Target - current

	p.Integral = clamp(p.Integral+e, -limit, limit)

	derivative := e - p.LastError
	p.LastError = e

	return p.Kp*e + p.Ki*p.Integral + p.Kd*derivative
}

// DoseVolume scales a controller output to the reservoir size (normalised to
// 10 L) and clamps it to the permitted dose range.
func DoseVolume(output, volumeLiters, minML, maxML float32) float32 {
	ml := float32(math.Abs(float64(output))) * (volumeLiters / 10.0)
	return clamp(ml, minML, maxML)
}

// SinceLastDose reports the time since the last dose and whether there has
// been one at all.
func (p *PID) SinceLastDose(now uint32) (uint32, bool) {
	return state.Elapsed(now, p.LastDoseTime), p.dosed
}

// RollHour restarts the hourly window once a full hour has elapsed since it
// began.
func (p *PID) RollHour(now uint32) {
	if state.Elapsed(now, p.HourStart) >= hourMs {
		p.DosesThisHour = 0
		p.HourStart = now
	}
}

// DosesWithin counts the doses started less than window ago and forgets the
// older ones.
func (p *PID) DosesWithin(now, window uint32) int {
	i := 0
	for i < len(p.recent) && state.Elapsed(now, p.recent[i]) >= window {
		i++
	}
	p.recent = p.recent[i:]
	return len(p.recent)
}

func (p *PID) recordDose(now uint32, ml float32) {
	p.LastDoseTime = now
	p.dosed = true
	p.DosesThisHour++
	p.TotalDosedML += ml
	p.recent = append(p.recent, now)
}
