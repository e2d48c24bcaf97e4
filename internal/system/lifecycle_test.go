package system

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mykyno/hydroponik/internal/config"
	"github.com/mykyno/hydroponik/internal/control"
	"github.com/mykyno/hydroponik/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Server.HTTPPort = 0
	cfg.Calibration.Path = filepath.Join(t.TempDir(), "cal", "calibration.db")
	return cfg
}

func TestControlConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Control.AutoPH = true
	cfg.Control.TargetPH = 6.2
	cfg.Dosing.MinDoseInterval = 2 * time.Minute
	cfg.Dosing.MaxActuation = 90 * time.Second
	cfg.Safety.Cooldown = 45 * time.Second

	cc := controlConfig(cfg)
	assert.True(t, cc.AutoPH)
	assert.InDelta(t, 6.2, cc.Dosing.TargetPH, 1e-6)
	assert.Equal(t, uint32(120000), cc.Dosing.MinDoseIntervalMs)
	assert.Equal(t, uint32(90000), cc.Dosing.MaxActuationMs)
	assert.Equal(t, uint32(90000), cc.Safety.ActuationTimeoutMs)
	assert.Equal(t, uint32(45000), cc.Safety.CooldownMs)
	assert.Equal(t, uint32(5000), cc.Sensor.IntervalMs)
	assert.Equal(t, uint32(200), cc.Sensor.WarmupMs)
	assert.InDelta(t, 8, cc.Dosing.Gains.Kp, 1e-6)
	// Not exposed in the file.
	assert.InDelta(t, 25, cc.Dosing.MaxDoseML, 1e-6)
}

func TestOpenBackendRejectsUnknown(t *testing.T) {
	_, err := openBackend(config.HardwareConfig{Backend: "gpio"}, state.NewFakeClock(0), zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "unknown hardware backend")
}

func TestValidateTransition(t *testing.T) {
	assert.NoError(t, ValidateTransition(StateInitializing, StateRunning))
	assert.NoError(t, ValidateTransition(StateError, StateStopping))
	assert.Error(t, ValidateTransition(StateStopped, StateRunning))
	assert.Error(t, ValidateTransition(StateRunning, StateInitializing))
}

func TestLifecycleStartAndShutdown(t *testing.T) {
	lm := NewLifecycleManager(testConfig(t), zaptest.NewLogger(t))
	require.NoError(t, lm.Start())

	assert.Equal(t, StateRunning, lm.State())
	assert.Nil(t, lm.DoseHistory())

	status := lm.GetCurrentStatus()
	assert.Equal(t, "RUNNING", status.State)
	assert.Equal(t, "MONITORING", status.ControlMode)
	assert.Equal(t, "sim", status.Backend)
	assert.Empty(t, status.Publishers)

	err := lm.Controller().Do(context.Background(), func(c *control.Coordinator) error {
		_, err := c.ManualDose(state.PHUp, 10)
		return err
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		lm.MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
		return strings.Contains(rec.Body.String(),
			`hydroponik_doses_total{channel="pH_Up",source="manual"} 1`)
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, lm.Shutdown(ctx))

	assert.Equal(t, StateStopped, lm.State())
	select {
	case <-lm.Done():
	default:
		t.Fatal("Done not closed after shutdown")
	}
	assert.Equal(t, state.SystemShutdown, lm.Controller().Snapshot().System)

	// A second shutdown is a no-op.
	assert.NoError(t, lm.Shutdown(ctx))
}

func TestLifecycleStartFailureCleansUp(t *testing.T) {
	cfg := testConfig(t)
	cfg.Hardware.Backend = "gpio"

	lm := NewLifecycleManager(cfg, zaptest.NewLogger(t))
	assert.Error(t, lm.Start())
	assert.Equal(t, StateStopped, lm.State())
}
