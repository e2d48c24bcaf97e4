package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mykyno/hydroponik/internal/control"
	"github.com/mykyno/hydroponik/internal/dosing"
	"github.com/mykyno/hydroponik/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func startHub(t *testing.T) (*Hub, *websocket.Conn) {
	t.Helper()

	hub := NewHub(zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		cancel()
		srv.Close()
	})

	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 },
		time.Second, 5*time.Millisecond)
	return hub, conn
}

// readMessages splits a frame that may carry several coalesced messages.
func readMessages(t *testing.T, conn *websocket.Conn) []Message {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var out []Message
	for _, line := range strings.Split(string(data), "\n") {
		var msg Message
		require.NoError(t, json.Unmarshal([]byte(line), &msg))
		out = append(out, msg)
	}
	return out
}

func collect(t *testing.T, conn *websocket.Conn, n int) []Message {
	t.Helper()
	var out []Message
	for len(out) < n {
		out = append(out, readMessages(t, conn)...)
	}
	return out
}

func TestHubBroadcastsDose(t *testing.T) {
	hub, conn := startHub(t)

	ev := dosing.DoseEvent{Channel: state.PHDown, Source: dosing.SourceAuto, VolumeML: 7.5}
	require.NoError(t, hub.PublishDose(context.Background(), ev))

	msgs := collect(t, conn, 1)
	assert.Equal(t, MessageTypeDoseEvent, msgs[0].Type)
	data := msgs[0].Data.(map[string]interface{})
	assert.Equal(t, "pH_Down", data["channel"])
	assert.Equal(t, 7.5, data["volume_ml"])
}

func TestHubModeChange(t *testing.T) {
	hub, conn := startHub(t)
	ctx := context.Background()

	require.NoError(t, hub.PublishSnapshot(ctx, control.Snapshot{System: state.SystemMonitoring}))
	require.NoError(t, hub.PublishSnapshot(ctx, control.Snapshot{System: state.SystemMonitoring}))
	require.NoError(t, hub.PublishSnapshot(ctx, control.Snapshot{
		System:      state.SystemError,
		ErrorReason: "emergency stop",
	}))

	msgs := collect(t, conn, 4)
	types := make([]MessageType, len(msgs))
	for i, m := range msgs {
		types[i] = m.Type
	}
	assert.Equal(t, []MessageType{
		MessageTypeSnapshot,
		MessageTypeSnapshot,
		MessageTypeModeChange,
		MessageTypeSnapshot,
	}, types)

	change := msgs[2].Data.(map[string]interface{})
	assert.Equal(t, "ERROR", change["mode"])
	assert.Equal(t, "MONITORING", change["previous_mode"])
	assert.Equal(t, "emergency stop", change["reason"])
}

func TestHubUnregistersClosedClient(t *testing.T) {
	hub, conn := startHub(t)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	assert.Eventually(t, func() bool { return hub.GetClientCount() == 0 },
		time.Second, 5*time.Millisecond)
}
