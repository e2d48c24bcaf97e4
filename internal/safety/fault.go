package safety

import "github.com/mykyno/hydroponik/internal/state"

type FaultKind string

const (
	SensorFault      FaultKind = "sensor_fault"
	ActuationTimeout FaultKind = "actuation_timeout"
)

// NoChannel marks a fault that is not tied to a dosing channel.
const NoChannel state.ChannelID = -1

// Fault records one escalation raised by the sweep.
type Fault struct {
	Kind       FaultKind       `json:"kind"`
	Channel    state.ChannelID `json:"-"`
	Phase      string          `json:"phase"`
	HeldMs     uint32          `json:"held_ms"`
	DetectedAt uint32          `json:"detected_at_ms"`
}

func (f Fault) HasChannel() bool {
	return f.Channel.Valid()
}
