package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mykyno/hydroponik/internal/control"
	"github.com/mykyno/hydroponik/internal/dosing"
	"github.com/mykyno/hydroponik/internal/state"
	"github.com/mykyno/hydroponik/internal/types"
	"go.uber.org/zap"
)

func (s *Server) channelParam(c *gin.Context) (state.ChannelID, bool) {
	id, err := state.ParseChannel(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, types.NewErrorResponse(types.CodeUnknownChannel, "Unknown channel", err.Error()))
		return 0, false
	}
	return id, true
}

// POST /api/v1/channels/:id/dose
func (s *Server) manualDose(c *gin.Context) {
	id, ok := s.channelParam(c)
	if !ok {
		return
	}

	var req struct {
		ML float32 `json:"ml" binding:"required,gt=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	var ev dosing.DoseEvent
	err := s.do(c, func(co *control.Coordinator) error {
		var err error
		ev, err = co.ManualDose(id, req.ML)
		return err
	})
	if err != nil {
		s.logger.Warn("Manual dose refused",
			zap.Stringer("channel", id),
			zap.Error(err))
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, ev)
}

// POST /api/v1/channels/:id/start
func (s *Server) manualStart(c *gin.Context) {
	id, ok := s.channelParam(c)
	if !ok {
		return
	}

	var req struct {
		FlowRate float32 `json:"flow_rate" binding:"required,gt=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	err := s.do(c, func(co *control.Coordinator) error {
		return co.ManualStart(id, req.FlowRate)
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Pump started",
		"channel": id,
	})
}

// POST /api/v1/channels/:id/stop
func (s *Server) manualStop(c *gin.Context) {
	id, ok := s.channelParam(c)
	if !ok {
		return
	}

	err := s.do(c, func(co *control.Coordinator) error {
		return co.ManualStop(id)
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Pump stopped",
		"channel": id,
	})
}
