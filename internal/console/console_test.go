package console

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mykyno/hydroponik/internal/calibration"
	"github.com/mykyno/hydroponik/internal/control"
	"github.com/mykyno/hydroponik/internal/hardware"
	"github.com/mykyno/hydroponik/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *recordSink) Emit(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
}

func (s *recordSink) take() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.lines
	s.lines = nil
	return out
}

type noInput struct{}

func (noInput) Poll() (byte, bool) { return 0, false }

func newTestConsole(t *testing.T) (*Console, *control.Runner, *recordSink) {
	t.Helper()

	clock := state.NewFakeClock(0)
	sim := hardware.NewSimulator(hardware.DefaultSimulatorConfig(), clock)
	logger := zaptest.NewLogger(t)
	coord := control.NewCoordinator(control.DefaultConfig(), sim, calibration.NewMemoryStore(), clock.NowMs(), logger)
	runner := control.NewRunner(coord, clock, time.Millisecond, logger)
	require.NoError(t, runner.Start())
	t.Cleanup(runner.Stop)

	sink := &recordSink{}
	return New(noInput{}, sink, runner, logger), runner, sink
}

func TestTargetCycle(t *testing.T) {
	c, runner, sink := newTestConsole(t)
	ctx := context.Background()

	want := []float32{7.0, 5.5, 6.0, 6.5, 7.0}
	for _, target := range want {
		c.Handle(ctx, 't')
		assert.InDelta(t, target, runner.Snapshot().Target, 1e-6)
	}
	lines := sink.take()
	require.Len(t, lines, len(want))
	assert.Equal(t, "pH target set to 7.0", lines[0])
}

func TestAutoToggle(t *testing.T) {
	c, runner, sink := newTestConsole(t)
	ctx := context.Background()

	c.Handle(ctx, 'a')
	assert.True(t, runner.Snapshot().AutoMode)
	c.Handle(ctx, 'a')
	assert.False(t, runner.Snapshot().AutoMode)
	assert.Equal(t, []string{"Auto pH control: ON", "Auto pH control: OFF"}, sink.take())
}

func TestManualDoseKey(t *testing.T) {
	c, runner, sink := newTestConsole(t)
	ctx := context.Background()

	c.Handle(ctx, 'm')
	ch, _ := runner.Snapshot().Channel(state.PHUp)
	assert.Equal(t, state.ChannelPriming, ch.Phase)
	assert.Equal(t, []string{"Manual dose started: 10.0ml pH_Up"}, sink.take())

	c.Handle(ctx, 'm')
	lines := sink.take()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "Command failed")
}

func TestManualStartKeys(t *testing.T) {
	c, runner, sink := newTestConsole(t)
	ctx := context.Background()

	for _, key := range []byte("1234") {
		c.Handle(ctx, key)
	}
	for _, ch := range runner.Snapshot().Channels {
		assert.Equal(t, state.ChannelDosing, ch.Phase, ch.Channel.String())
	}
	assert.Len(t, sink.take(), 4)

	c.Handle(ctx, 'z')
	for _, ch := range runner.Snapshot().Channels {
		assert.Equal(t, state.ChannelIdle, ch.Phase)
	}
	assert.Equal(t, []string{"All pumps stopped"}, sink.take())
}

func TestEmergencyAndRecover(t *testing.T) {
	c, runner, sink := newTestConsole(t)
	ctx := context.Background()

	c.Handle(ctx, 'R')
	assert.Equal(t, []string{"System not in ERROR - no recovery needed"}, sink.take())

	c.Handle(ctx, 'x')
	assert.Equal(t, state.SystemError, runner.Snapshot().System)

	c.Handle(ctx, 'R')
	assert.Equal(t, state.SystemMonitoring, runner.Snapshot().System)
	lines := sink.take()
	assert.Equal(t, "System recovered from ERROR", lines[len(lines)-1])
}

func TestMaintenanceToggle(t *testing.T) {
	c, runner, _ := newTestConsole(t)
	ctx := context.Background()

	c.Handle(ctx, 'M')
	assert.Equal(t, state.SystemMaintenance, runner.Snapshot().System)
	c.Handle(ctx, 'M')
	assert.Equal(t, state.SystemMonitoring, runner.Snapshot().System)
}

func TestStatusKeys(t *testing.T) {
	c, _, sink := newTestConsole(t)
	ctx := context.Background()

	c.Handle(ctx, 's')
	lines := sink.take()
	require.Len(t, lines, 4)
	assert.Equal(t, "Volume: not calibrated", lines[3])

	c.Handle(ctx, 'q')
	assert.Len(t, sink.take(), 1+state.NumChannels)

	c.Handle(ctx, 'S')
	lines = sink.take()
	assert.Equal(t, "System: MONITORING (0ms)", lines[1])

	c.Handle(ctx, 'v')
	lines = sink.take()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "/api/v1/calibration/volume")
}

func TestIgnoredKeys(t *testing.T) {
	c, runner, sink := newTestConsole(t)
	ctx := context.Background()

	c.Handle(ctx, '?')
	c.Handle(ctx, 'Z')
	assert.Empty(t, sink.take())

	runner.Stop()
	c.Handle(ctx, 'x')
	assert.Empty(t, sink.take())
}

func TestReaderSource(t *testing.T) {
	src := NewReaderSource(strings.NewReader("a\r\n q"), zaptest.NewLogger(t))

	var got []byte
	require.Eventually(t, func() bool {
		if b, ok := src.Poll(); ok {
			got = append(got, b)
		}
		return len(got) == 2
	}, time.Second, time.Millisecond)
	assert.Equal(t, []byte("aq"), got)

	_, ok := src.Poll()
	assert.False(t, ok)
}

func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer
	NewWriterSink(&buf).Emit("hello")
	assert.True(t, strings.HasSuffix(buf.String(), "] hello\n"))
}
