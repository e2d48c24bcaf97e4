package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mykyno/hydroponik/internal/dosing"
)

const (
	defaultDoseLimit = 20
	maxDoseLimit     = 500
)

// GET /api/v1/doses?limit=N&source=db
//
// Served from the in-memory ring unless source=db is given and a database
// is configured.
func (s *Server) listDoses(c *gin.Context) {
	limit := defaultDoseLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxDoseLimit)
	}

	var (
		doses  []dosing.DoseEvent
		source = "memory"
	)

	if history := s.lm.DoseHistory(); c.Query("source") == "db" && history != nil {
		var err error
		doses, err = history.ListDoseEvents(c.Request.Context(), limit)
		if err != nil {
			s.respondError(c, err)
			return
		}
		source = "db"
	} else {
		doses = s.lm.Controller().RecentDoses(limit)
	}

	c.JSON(http.StatusOK, gin.H{
		"doses":  doses,
		"count":  len(doses),
		"source": source,
	})
}
