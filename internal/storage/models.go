package storage

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mykyno/hydroponik/internal/dosing"
	"github.com/mykyno/hydroponik/internal/state"
)

// DoseRecord is one row of the dose_events table.
type DoseRecord struct {
	ID          uuid.UUID `json:"id"`
	Channel     string    `json:"channel"`
	Source      string    `json:"source"`
	VolumeML    float32   `json:"volume_ml"`
	DurationMs  int64     `json:"duration_ms"`
	FlowRate    float32   `json:"flow_rate"`
	DutyPercent float32   `json:"duty_percent"`
	PH          float32   `json:"ph"`
	Target      float32   `json:"target"`
	ClockMs     int64     `json:"clock_ms"`
	DosedAt     time.Time `json:"dosed_at"`
}

func NewDoseRecord(ev dosing.DoseEvent) DoseRecord {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	return DoseRecord{
		ID:          ev.ID,
		Channel:     ev.Channel.String(),
		Source:      string(ev.Source),
		VolumeML:    ev.VolumeML,
		DurationMs:  int64(ev.DurationMs),
		FlowRate:    ev.FlowRate,
		DutyPercent: ev.DutyPercent,
		PH:          ev.PH,
		Target:      ev.Target,
		ClockMs:     int64(ev.AtMs),
		DosedAt:     at.UTC(),
	}
}

// Event converts the row back into a dose event.
func (r DoseRecord) Event() (dosing.DoseEvent, error) {
	ch, err := state.ParseChannel(r.Channel)
	if err != nil {
		return dosing.DoseEvent{}, fmt.Errorf("dose %s: %w", r.ID, err)
	}
	return dosing.DoseEvent{
		ID:          r.ID,
		Channel:     ch,
		Source:      dosing.Source(r.Source),
		VolumeML:    r.VolumeML,
		DurationMs:  uint32(r.DurationMs),
		FlowRate:    r.FlowRate,
		DutyPercent: r.DutyPercent,
		PH:          r.PH,
		Target:      r.Target,
		AtMs:        uint32(r.ClockMs),
		At:          r.DosedAt,
	}, nil
}
