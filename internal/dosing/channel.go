package dosing

import (
	"time"

	"github.com/google/uuid"
	"github.com/mykyno/hydroponik/internal/state"
)

// Channel binds a pump line to its control state.
type Channel struct {
	ID                state.ChannelID
	PID               PID
	Running           bool
	PhaseStart        uint32
	PlannedDurationMs uint32
	TargetDuty        float32

	appliedDuty float32
	dutyKnown   bool
}

// ChannelStatus is a read-only view of a channel for status displays.
type ChannelStatus struct {
	Channel           state.ChannelID    `json:"channel"`
	Phase             state.ChannelPhase `json:"phase"`
	PhaseDurationMs   uint32             `json:"phase_duration_ms"`
	Running           bool               `json:"running"`
	PlannedDurationMs uint32             `json:"planned_duration_ms"`
	TargetDuty        float32            `json:"target_duty"`
	AppliedDuty       float32            `json:"applied_duty"`
	DosesThisHour     int                `json:"doses_this_hour"`
	TotalDosedML      float32            `json:"total_dosed_ml"`
}

type Source string

const (
	SourceAuto   Source = "auto"
	SourceManual Source = "manual"
)

// DoseEvent describes one granted dose. At is the wall-clock time, stamped
// when the event leaves the control loop.
type DoseEvent struct {
	ID          uuid.UUID       `json:"id"`
	Channel     state.ChannelID `json:"channel"`
	Source      Source          `json:"source"`
	VolumeML    float32         `json:"volume_ml"`
	DurationMs  uint32          `json:"duration_ms"`
	FlowRate    float32         `json:"flow_rate_ml_min"`
	DutyPercent float32         `json:"duty_percent"`
	PH          float32         `json:"ph"`
	Target      float32         `json:"target"`
	AtMs        uint32          `json:"at_ms"`
	At          time.Time       `json:"at"`
}
