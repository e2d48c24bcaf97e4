package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mykyno/hydroponik/internal/api/websocket"
	"github.com/mykyno/hydroponik/internal/calibration"
	"github.com/mykyno/hydroponik/internal/config"
	"github.com/mykyno/hydroponik/internal/control"
	"github.com/mykyno/hydroponik/internal/dosing"
	"github.com/mykyno/hydroponik/internal/hardware"
	"github.com/mykyno/hydroponik/internal/interfaces"
	"github.com/mykyno/hydroponik/internal/state"
	"github.com/mykyno/hydroponik/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeHistory struct {
	doses []dosing.DoseEvent
}

func (h *fakeHistory) ListDoseEvents(_ context.Context, limit int) ([]dosing.DoseEvent, error) {
	if limit < len(h.doses) {
		return h.doses[:limit], nil
	}
	return h.doses, nil
}

type fakeLifecycle struct {
	cfg     *config.Config
	runner  *control.Runner
	history interfaces.DoseHistory
	metrics *telemetry.Metrics
}

func (f *fakeLifecycle) Config() *config.Config { return f.cfg }
func (f *fakeLifecycle) Controller() *control.Runner { return f.runner }
func (f *fakeLifecycle) DoseHistory() interfaces.DoseHistory { return f.history }
func (f *fakeLifecycle) MetricsHandler() http.Handler { return f.metrics.Handler() }
func (f *fakeLifecycle) Shutdown(ctx context.Context) error { return nil }
func (f *fakeLifecycle) GetCurrentStatus() interfaces.SystemStatus {
	return interfaces.SystemStatus{State: f.runner.Snapshot().System.String(), Backend: "sim"}
}

func newTestServer(t *testing.T) (*Server, *fakeLifecycle) {
	t.Helper()

	clock := state.NewFakeClock(0)
	sim := hardware.NewSimulator(hardware.DefaultSimulatorConfig(), clock)
	logger := zaptest.NewLogger(t)
	coord := control.NewCoordinator(control.DefaultConfig(), sim, calibration.NewMemoryStore(), clock.NowMs(), logger)
	runner := control.NewRunner(coord, clock, time.Millisecond, logger)
	require.NoError(t, runner.Start())
	t.Cleanup(runner.Stop)

	lm := &fakeLifecycle{
		cfg:     config.Default(),
		runner:  runner,
		metrics: telemetry.NewMetrics(),
	}
	return NewServer(lm, logger, websocket.NewHub(logger)), lm
}

func request(t *testing.T, s *Server, method, path, body string) (int, map[string]interface{}) {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec.Code, decoded
}

func errorCode(resp map[string]interface{}) string {
	body, _ := resp["error"].(map[string]interface{})
	code, _ := body["code"].(string)
	return code
}

func TestHealthAndStatus(t *testing.T) {
	s, _ := newTestServer(t)

	code, resp := request(t, s, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", resp["status"])

	code, resp = request(t, s, "GET", "/api/v1/status", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "MONITORING", resp["system_mode"])
	assert.Len(t, resp["channels"], state.NumChannels)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hydroponik_system_mode")
}

func TestControlSettings(t *testing.T) {
	s, lm := newTestServer(t)

	code, _ := request(t, s, "POST", "/api/v1/auto", `{"enabled":true}`)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, lm.runner.Snapshot().AutoMode)

	code, resp := request(t, s, "POST", "/api/v1/auto", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "REQUEST_400", errorCode(resp))

	code, resp = request(t, s, "POST", "/api/v1/target", `{"value":6.5}`)
	assert.Equal(t, http.StatusOK, code)
	assert.InDelta(t, 6.5, resp["target_ph"], 1e-6)

	code, resp = request(t, s, "POST", "/api/v1/gains", `{"kp":4,"ki":0.25,"kd":1}`)
	assert.Equal(t, http.StatusOK, code)
	assert.InDelta(t, 4, resp["kp"], 1e-6)
	assert.InDelta(t, 4, lm.runner.Snapshot().Gains.Kp, 1e-6)
}

func TestManualDoseEndpoint(t *testing.T) {
	s, lm := newTestServer(t)

	code, resp := request(t, s, "POST", "/api/v1/channels/pH_Up/dose", `{"ml":10}`)
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, "pH_Up", resp["channel"])
	assert.Equal(t, "manual", resp["source"])

	ch, ok := lm.runner.Snapshot().Channel(state.PHUp)
	require.True(t, ok)
	assert.Equal(t, state.ChannelPriming, ch.Phase)

	code, resp = request(t, s, "POST", "/api/v1/channels/0/dose", `{"ml":10}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "DOSING_409", errorCode(resp))

	code, resp = request(t, s, "POST", "/api/v1/channels/nope/dose", `{"ml":10}`)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "CHANNEL_404", errorCode(resp))

	code, resp = request(t, s, "GET", "/api/v1/doses", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1.0, resp["count"])
	assert.Equal(t, "memory", resp["source"])
}

func TestDosesFromHistory(t *testing.T) {
	s, lm := newTestServer(t)
	lm.history = &fakeHistory{doses: []dosing.DoseEvent{
		{Channel: state.PHDown, Source: dosing.SourceAuto},
		{Channel: state.PHUp, Source: dosing.SourceManual},
	}}

	code, resp := request(t, s, "GET", "/api/v1/doses?source=db&limit=1", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "db", resp["source"])
	assert.Equal(t, 1.0, resp["count"])

	code, _ = request(t, s, "GET", "/api/v1/doses?limit=-3", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestManualStartStop(t *testing.T) {
	s, lm := newTestServer(t)

	code, _ := request(t, s, "POST", "/api/v1/channels/Nut_A/start", `{"flow_rate":30}`)
	require.Equal(t, http.StatusAccepted, code)
	ch, _ := lm.runner.Snapshot().Channel(state.NutrientA)
	assert.Equal(t, state.ChannelDosing, ch.Phase)

	code, _ = request(t, s, "POST", "/api/v1/channels/Nut_A/stop", "")
	assert.Equal(t, http.StatusOK, code)
	ch, _ = lm.runner.Snapshot().Channel(state.NutrientA)
	assert.Equal(t, state.ChannelCoolingDown, ch.Phase)

	code, _ = request(t, s, "POST", "/api/v1/stop-all", "")
	assert.Equal(t, http.StatusOK, code)
	ch, _ = lm.runner.Snapshot().Channel(state.NutrientA)
	assert.Equal(t, state.ChannelIdle, ch.Phase)
}

func TestEmergencyStopAndRecover(t *testing.T) {
	s, lm := newTestServer(t)

	code, resp := request(t, s, "POST", "/api/v1/recover", "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "STATE_409", errorCode(resp))

	code, resp = request(t, s, "POST", "/api/v1/emergency-stop", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ERROR", resp["status"])
	assert.Equal(t, "emergency stop", lm.runner.Snapshot().ErrorReason)

	code, resp = request(t, s, "POST", "/api/v1/channels/pH_Down/dose", `{"ml":5}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "DOSING_409", errorCode(resp))

	code, _ = request(t, s, "POST", "/api/v1/recover", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, state.SystemMonitoring, lm.runner.Snapshot().System)

	code, _ = request(t, s, "POST", "/api/v1/error", `{"reason":"leak detected"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "leak detected", lm.runner.Snapshot().ErrorReason)
}

func TestMaintenanceEndpoint(t *testing.T) {
	s, lm := newTestServer(t)

	code, _ := request(t, s, "POST", "/api/v1/maintenance", `{"enabled":true}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, state.SystemMaintenance, lm.runner.Snapshot().System)

	code, _ = request(t, s, "POST", "/api/v1/maintenance", `{"enabled":false}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, state.SystemMonitoring, lm.runner.Snapshot().System)

	code, resp := request(t, s, "POST", "/api/v1/maintenance", `{"enabled":false}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "STATE_409", errorCode(resp))
}

func TestCalibrationFlow(t *testing.T) {
	s, lm := newTestServer(t)

	code, resp := request(t, s, "GET", "/api/v1/calibration/sample", "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "CALIBRATION_409", errorCode(resp))

	code, _ = request(t, s, "POST", "/api/v1/calibration/begin", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, state.SystemCalibrating, lm.runner.Snapshot().System)

	code, resp = request(t, s, "GET", "/api/v1/calibration/sample", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, resp, "ph_mv")

	code, resp = request(t, s, "POST", "/api/v1/calibration/ph", `{"v1":100,"value1":4,"v2":120,"value2":7}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "CALIBRATION_400", errorCode(resp))

	code, resp = request(t, s, "POST", "/api/v1/calibration/ph", `{"v1":177,"value1":4,"v2":0,"value2":7}`)
	assert.Equal(t, http.StatusOK, code)
	assert.InDelta(t, 7.0, resp["ph_offset"], 1e-4)

	code, resp = request(t, s, "POST", "/api/v1/calibration/volume", `{"empty_cm":100,"half_cm":60,"full_cm":20,"max_liters":80}`)
	assert.Equal(t, http.StatusOK, code)
	assert.InDelta(t, 80, resp["max_volume_liters"], 1e-6)

	code, resp = request(t, s, "GET", "/api/v1/calibration", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, resp["volume_calibrated"])

	code, _ = request(t, s, "POST", "/api/v1/calibration/end", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, state.SystemMonitoring, lm.runner.Snapshot().System)

	code, resp = request(t, s, "POST", "/api/v1/calibration/reset", "")
	assert.Equal(t, http.StatusOK, code)
	assert.InDelta(t, calibration.Defaults().PHSlope, resp["ph_slope"], 1e-6)
}

func TestStoppedController(t *testing.T) {
	s, lm := newTestServer(t)
	lm.runner.Stop()

	code, resp := request(t, s, "POST", "/api/v1/stop-all", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "CONTROL_503", errorCode(resp))
}
