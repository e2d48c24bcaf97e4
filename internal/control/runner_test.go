package control

import (
	"context"
	"testing"
	"time"

	"github.com/mykyno/hydroponik/internal/calibration"
	"github.com/mykyno/hydroponik/internal/dosing"
	"github.com/mykyno/hydroponik/internal/hardware"
	"github.com/mykyno/hydroponik/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestRunner(t *testing.T) (*Runner, *hardware.Simulator) {
	t.Helper()

	clock := state.NewFakeClock(0)
	sim := hardware.NewSimulator(hardware.DefaultSimulatorConfig(), clock)
	logger := zaptest.NewLogger(t)
	coord := NewCoordinator(DefaultConfig(), sim, calibration.NewMemoryStore(), clock.NowMs(), logger)

	r := NewRunner(coord, clock, time.Millisecond, logger)
	require.NoError(t, r.Start())
	t.Cleanup(r.Stop)
	return r, sim
}

func TestRunnerDo(t *testing.T) {
	r, sim := newTestRunner(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	assert.Equal(t, state.SystemMonitoring, r.Snapshot().System)

	var ev dosing.DoseEvent
	err := r.Do(ctx, func(c *Coordinator) error {
		var err error
		ev, err = c.ManualDose(state.PHUp, 10)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, float32(dosing.DefaultConfig().PrimingDuty), sim.Duty(state.PHUp))

	select {
	case got := <-r.Events():
		assert.Equal(t, ev.ID, got.ID)
		assert.False(t, got.At.IsZero())
	case <-ctx.Done():
		t.Fatal("dose event not delivered")
	}

	recent := r.RecentDoses(10)
	require.Len(t, recent, 1)
	assert.Equal(t, ev.ID, recent[0].ID)

	ch, ok := r.Snapshot().Channel(state.PHUp)
	require.True(t, ok)
	assert.Equal(t, state.ChannelPriming, ch.Phase)

	// The gate's error comes back unchanged.
	err = r.Do(ctx, func(c *Coordinator) error {
		_, err := c.ManualDose(state.PHUp, 10)
		return err
	})
	assert.ErrorIs(t, err, dosing.ErrSafetyRejected)
}

func TestRunnerRecentDosesNewestFirst(t *testing.T) {
	r, _ := newTestRunner(t)
	ctx := context.Background()

	for _, id := range []state.ChannelID{state.NutrientA, state.NutrientB} {
		id := id
		require.NoError(t, r.Do(ctx, func(c *Coordinator) error {
			_, err := c.ManualDose(id, 5)
			return err
		}))
	}

	recent := r.RecentDoses(0)
	require.Len(t, recent, 2)
	assert.Equal(t, state.NutrientB, recent[0].Channel)
	assert.Equal(t, state.NutrientA, recent[1].Channel)

	assert.Len(t, r.RecentDoses(1), 1)
}

func TestRunnerSubscribe(t *testing.T) {
	r, _ := newTestRunner(t)

	sub := r.Subscribe()
	select {
	case snap := <-sub:
		assert.False(t, snap.Timestamp.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot published")
	}

	r.Unsubscribe(sub)
	for range sub {
	}
}

func TestRunnerStop(t *testing.T) {
	r, sim := newTestRunner(t)
	ctx := context.Background()

	require.NoError(t, r.Do(ctx, func(c *Coordinator) error {
		return c.ManualStart(state.NutrientA, 60)
	}))
	require.NotZero(t, sim.Duty(state.NutrientA))

	r.Stop()
	r.Stop()

	assert.Zero(t, sim.Duty(state.NutrientA))
	assert.Equal(t, state.SystemShutdown, r.Snapshot().System)
	assert.ErrorIs(t, r.Do(ctx, func(*Coordinator) error { return nil }), ErrNotRunning)
	assert.ErrorIs(t, r.Start(), ErrNotRunning)

	for range r.Events() {
	}
}
