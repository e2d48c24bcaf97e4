package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mykyno/hydroponik/internal/api/websocket"
	"github.com/mykyno/hydroponik/internal/calibration"
	"github.com/mykyno/hydroponik/internal/control"
	"github.com/mykyno/hydroponik/internal/dosing"
	"github.com/mykyno/hydroponik/internal/interfaces"
	"github.com/mykyno/hydroponik/internal/state"
	"github.com/mykyno/hydroponik/internal/types"
	"go.uber.org/zap"
)

type Server struct {
	router *gin.Engine
	lm     interfaces.LifecycleManager
	logger *zap.Logger
	server *http.Server
	wsHub  *websocket.Hub
}

func NewServer(lm interfaces.LifecycleManager, logger *zap.Logger, wsHub *websocket.Hub) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router: gin.New(),
		lm:     lm,
		logger: logger,
		wsHub:  wsHub,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", lm.Config().Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(s.lm.MetricsHandler()))

	v1 := s.router.Group("/api/v1")
	{
		// ==================== CONTROL ====================
		v1.GET("/status", s.getStatus)
		v1.POST("/auto", s.setAutoMode)
		v1.POST("/target", s.setTarget)
		v1.POST("/gains", s.setGains)

		// ==================== CHANNELS ====================
		channels := v1.Group("/channels/:id")
		{
			channels.POST("/dose", s.manualDose)
			channels.POST("/start", s.manualStart)
			channels.POST("/stop", s.manualStop)
		}

		// ==================== SYSTEM MODES ====================
		v1.POST("/stop-all", s.stopAll)
		v1.POST("/emergency-stop", s.emergencyStop)
		v1.POST("/maintenance", s.setMaintenance)
		v1.POST("/recover", s.recoverFromError)
		v1.POST("/error", s.reportError)

		// ==================== CALIBRATION ====================
		cal := v1.Group("/calibration")
		{
			cal.GET("", s.getCalibration)
			cal.POST("/begin", s.beginCalibration)
			cal.POST("/end", s.endCalibration)
			cal.GET("/sample", s.sampleRaw)
			cal.POST("/ph", s.calibratePH)
			cal.POST("/ec", s.calibrateEC)
			cal.POST("/volume", s.calibrateVolume)
			cal.POST("/reset", s.resetCalibration)
		}

		// ==================== HISTORY ====================
		v1.GET("/doses", s.listDoses)

		// ==================== WEBSOCKET ====================
		ws := v1.Group("/ws")
		{
			ws.GET("/live", s.wsLiveConnection)
			ws.GET("/status", s.wsStatus)
		}
	}
}

// do runs fn on the control loop with the request's context.
func (s *Server) do(c *gin.Context, fn func(*control.Coordinator) error) error {
	return s.lm.Controller().Do(c.Request.Context(), fn)
}

// respondError maps controller errors onto API error codes.
func (s *Server) respondError(c *gin.Context, err error) {
	var code string

	switch {
	case errors.Is(err, dosing.ErrSafetyRejected):
		code = types.CodeDoseRejected
	case errors.Is(err, state.ErrInvalidTransition):
		code = types.CodeInvalidTransition
	case errors.Is(err, control.ErrNotCalibrating):
		code = types.CodeNotCalibrating
	case errors.Is(err, calibration.ErrCalibrationInvalid):
		code = types.CodeInvalidCalibration
	case errors.Is(err, control.ErrNotRunning):
		code = types.CodeControllerStopped
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		code = types.CodeControllerTimeout
	default:
		code = types.CodeInternal
		s.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}

	status := types.StatusFor(code)
	c.JSON(status, types.NewErrorResponse(code, http.StatusText(status), err.Error()))
}

func badRequest(c *gin.Context, message string, err error) {
	c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, message, err.Error()))
}

// WebSocket handlers
func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"system":    s.lm.GetCurrentStatus(),
	})
}
