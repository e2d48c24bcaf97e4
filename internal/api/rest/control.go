package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mykyno/hydroponik/internal/control"
	"github.com/mykyno/hydroponik/internal/dosing"
)

// GET /api/v1/status
func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.lm.Controller().Snapshot())
}

// POST /api/v1/auto
func (s *Server) setAutoMode(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	err := s.do(c, func(co *control.Coordinator) error {
		co.SetAutoMode(*req.Enabled)
		return nil
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"auto_mode": *req.Enabled})
}

// POST /api/v1/target
func (s *Server) setTarget(c *gin.Context) {
	var req struct {
		Value *float32 `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	var applied float32
	err := s.do(c, func(co *control.Coordinator) error {
		applied = co.SetTarget(*req.Value)
		return nil
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"target_ph": applied})
}

// POST /api/v1/gains
func (s *Server) setGains(c *gin.Context) {
	var req dosing.Gains
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	var applied dosing.Gains
	err := s.do(c, func(co *control.Coordinator) error {
		applied = co.SetGains(req)
		return nil
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, applied)
}
