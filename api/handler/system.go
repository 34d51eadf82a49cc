package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ddevcap/subtracker/tracker"
)

const readyTimeout = 2 * time.Second

type SystemHandler struct {
	tracker *tracker.Tracker
}

func NewSystemHandler(tr *tracker.Tracker) *SystemHandler {
	return &SystemHandler{tracker: tr}
}

// HealthLive handles GET /health. It only reports that the process serves
// requests.
func (h *SystemHandler) HealthLive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HealthReady handles GET /ready. It checks that the history store answers.
func (h *SystemHandler) HealthReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
	defer cancel()
	if err := h.tracker.Ready(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"channels": h.tracker.GlobalStats().TotalChannels,
	})
}
