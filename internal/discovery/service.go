package discovery

import (
	"fmt"
	"os"
	"sync"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"
)

const (
	ServiceType   = "_hydroponik._tcp"
	ServiceDomain = "local."
	txtVersion    = "1"
)

// Service advertises the HTTP API on the local network over mDNS.
type Service struct {
	instance string
	port     int
	logger   *zap.Logger

	mu      sync.Mutex
	server  *zeroconf.Server
	running bool
}

// NewService falls back to "<hostname>-hydroponik" when instance is empty.
func NewService(instance string, port int, logger *zap.Logger) *Service {
	if instance == "" {
		hostname, _ := os.Hostname()
		instance = fmt.Sprintf("%s-hydroponik", hostname)
	}
	return &Service{instance: instance, port: port, logger: logger}
}

func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	server, err := zeroconf.Register(s.instance, ServiceType, ServiceDomain, s.port, s.txtRecords(), nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}

	s.server = server
	s.running = true

	s.logger.Info("mDNS advertisement started",
		zap.String("instance", s.instance),
		zap.String("type", ServiceType),
		zap.Int("port", s.port))
	return nil
}

func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.server.Shutdown()
	s.server = nil
	s.running = false

	s.logger.Info("mDNS advertisement stopped")
}

func (s *Service) Instance() string {
	return s.instance
}

func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Service) txtRecords() []string {
	return []string{
		"version=" + txtVersion,
		"id=" + s.instance,
	}
}
