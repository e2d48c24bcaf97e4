package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mykyno/hydroponik/internal/control"
)

// POST /api/v1/stop-all
func (s *Server) stopAll(c *gin.Context) {
	err := s.do(c, func(co *control.Coordinator) error {
		co.StopAll()
		return nil
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "All pumps stopped"})
}

// POST /api/v1/emergency-stop
func (s *Server) emergencyStop(c *gin.Context) {
	err := s.do(c, func(co *control.Coordinator) error {
		co.EmergencyStop()
		return nil
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Emergency stop executed",
		"status":  s.lm.Controller().Snapshot().System,
	})
}

// POST /api/v1/maintenance
func (s *Server) setMaintenance(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	err := s.do(c, func(co *control.Coordinator) error {
		if *req.Enabled {
			return co.EnterMaintenance()
		}
		return co.ExitMaintenance()
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"maintenance": *req.Enabled})
}

// POST /api/v1/recover
func (s *Server) recoverFromError(c *gin.Context) {
	err := s.do(c, func(co *control.Coordinator) error {
		return co.RecoverFromError()
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "System recovered from error"})
}

// POST /api/v1/error
func (s *Server) reportError(c *gin.Context) {
	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	err := s.do(c, func(co *control.Coordinator) error {
		return co.ReportError(req.Reason)
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Error reported"})
}
