package storage

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mykyno/hydroponik/internal/dosing"
	"github.com/mykyno/hydroponik/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoseRecordRoundTrip(t *testing.T) {
	ev := dosing.DoseEvent{
		ID:          uuid.New(),
		Channel:     state.PHDown,
		Source:      dosing.SourceAuto,
		VolumeML:    12.5,
		DurationMs:  25000,
		FlowRate:    30,
		DutyPercent: 37.6,
		PH:          6.8,
		Target:      6.0,
		AtMs:        0xFFFFFF00,
		At:          time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	r := NewDoseRecord(ev)
	assert.Equal(t, "pH_Down", r.Channel)
	assert.Equal(t, int64(0xFFFFFF00), r.ClockMs)

	back, err := r.Event()
	require.NoError(t, err)
	assert.Equal(t, ev, back)
}

func TestDoseRecordStampsMissingTime(t *testing.T) {
	r := NewDoseRecord(dosing.DoseEvent{Channel: state.NutrientA})
	assert.False(t, r.DosedAt.IsZero())
}

func TestDoseRecordUnknownChannel(t *testing.T) {
	_, err := DoseRecord{Channel: "Nut_C"}.Event()
	assert.Error(t, err)
}
