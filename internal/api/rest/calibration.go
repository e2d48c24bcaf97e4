package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mykyno/hydroponik/internal/calibration"
	"github.com/mykyno/hydroponik/internal/control"
	"github.com/mykyno/hydroponik/internal/sensor"
)

type twoPointRequest struct {
	V1     *float32 `json:"v1" binding:"required"`
	Value1 *float32 `json:"value1" binding:"required"`
	V2     *float32 `json:"v2" binding:"required"`
	Value2 *float32 `json:"value2" binding:"required"`
}

type volumeRequest struct {
	EmptyCm   float32 `json:"empty_cm" binding:"required,gt=0"`
	HalfCm    float32 `json:"half_cm" binding:"required,gt=0"`
	FullCm    float32 `json:"full_cm" binding:"required,gt=0"`
	MaxLiters float32 `json:"max_liters" binding:"required,gt=0"`
}

// GET /api/v1/calibration
func (s *Server) getCalibration(c *gin.Context) {
	var params calibration.Parameters
	err := s.do(c, func(co *control.Coordinator) error {
		params = co.Calibration()
		return nil
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"parameters":        params,
		"volume_calibrated": params.VolumeCalibrated(),
	})
}

// POST /api/v1/calibration/begin
func (s *Server) beginCalibration(c *gin.Context) {
	if err := s.do(c, (*control.Coordinator).BeginCalibration); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Calibration started"})
}

// POST /api/v1/calibration/end
func (s *Server) endCalibration(c *gin.Context) {
	if err := s.do(c, (*control.Coordinator).EndCalibration); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Calibration finished"})
}

// GET /api/v1/calibration/sample
func (s *Server) sampleRaw(c *gin.Context) {
	var raw sensor.Raw
	err := s.do(c, func(co *control.Coordinator) error {
		var err error
		raw, err = co.SampleRaw()
		return err
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, raw)
}

// applyFit derives new parameters from the current ones and installs them.
func (s *Server) applyFit(c *gin.Context, fit func(calibration.Parameters) (calibration.Parameters, error)) {
	var applied calibration.Parameters
	err := s.do(c, func(co *control.Coordinator) error {
		p, err := fit(co.Calibration())
		if err != nil {
			return err
		}
		if err := co.ApplyCalibration(p); err != nil {
			return err
		}
		applied = p
		return nil
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, applied)
}

// POST /api/v1/calibration/ph
func (s *Server) calibratePH(c *gin.Context) {
	var req twoPointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	s.applyFit(c, func(p calibration.Parameters) (calibration.Parameters, error) {
		return p.FitPH(*req.V1, *req.Value1, *req.V2, *req.Value2)
	})
}

// POST /api/v1/calibration/ec
func (s *Server) calibrateEC(c *gin.Context) {
	var req twoPointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	s.applyFit(c, func(p calibration.Parameters) (calibration.Parameters, error) {
		return p.FitEC(*req.V1, *req.Value1, *req.V2, *req.Value2)
	})
}

// POST /api/v1/calibration/volume
func (s *Server) calibrateVolume(c *gin.Context) {
	var req volumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	s.applyFit(c, func(p calibration.Parameters) (calibration.Parameters, error) {
		return p.FitVolume(req.EmptyCm, req.HalfCm, req.FullCm, req.MaxLiters)
	})
}

// POST /api/v1/calibration/reset
func (s *Server) resetCalibration(c *gin.Context) {
	s.applyFit(c, func(calibration.Parameters) (calibration.Parameters, error) {
		return calibration.Defaults(), nil
	})
}
