package control

import (
	"time"

	"github.com/mykyno/hydroponik/internal/dosing"
	"github.com/mykyno/hydroponik/internal/safety"
	"github.com/mykyno/hydroponik/internal/sensor"
	"github.com/mykyno/hydroponik/internal/state"
)

// Snapshot is a copy of the controller state at the end of a cycle.
type Snapshot struct {
	ClockMs          uint32                 `json:"clock_ms"`
	System           state.SystemMode       `json:"system_mode"`
	SystemDurationMs uint32                 `json:"system_duration_ms"`
	Sensor           state.SensorPhase      `json:"sensor_phase"`
	SensorDurationMs uint32                 `json:"sensor_duration_ms"`
	Calibration      state.CalibrationPhase `json:"calibration_phase"`
	Channels         []dosing.ChannelStatus `json:"channels"`
	Reading          sensor.Reading         `json:"reading"`
	AutoMode         bool                   `json:"auto_mode"`
	Target           float32                `json:"target_ph"`
	Gains            dosing.Gains           `json:"gains"`
	ErrorReason      string                 `json:"error_reason,omitempty"`
	Faults           []safety.Fault         `json:"faults,omitempty"`
	Timestamp        time.Time              `json:"timestamp"`
}

// Channel returns the status of one channel.
func (s Snapshot) Channel(id state.ChannelID) (dosing.ChannelStatus, bool) {
	for _, ch := range s.Channels {
		if ch.Channel == id {
			return ch, true
		}
	}
	return dosing.ChannelStatus{}, false
}
