package interfaces

import (
	"context"
	"net/http"

	"github.com/mykyno/hydroponik/internal/config"
	"github.com/mykyno/hydroponik/internal/control"
	"github.com/mykyno/hydroponik/internal/dosing"
)

// SystemStatus summarises the running services for the health endpoint
type SystemStatus struct {
	State            string   `json:"state"`
	ControlMode      string   `json:"control_mode,omitempty"`
	Backend          string   `json:"backend"`
	Publishers       []string `json:"publishers,omitempty"`
	DatabaseEnabled  bool     `json:"database_enabled"`
	WebsocketClients int      `json:"websocket_clients"`
	UptimeSeconds    int64    `json:"uptime_seconds"`
}

// DoseHistory is a persistent dose log, newest first.
type DoseHistory interface {
	ListDoseEvents(ctx context.Context, limit int) ([]dosing.DoseEvent, error)
}

type LifecycleManager interface {
	Config() *config.Config
	Controller() *control.Runner
	// DoseHistory returns nil when no database is configured.
	DoseHistory() DoseHistory
	MetricsHandler() http.Handler
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
