package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ddevcap/subtracker/chanid"
	"github.com/ddevcap/subtracker/tracker"
	"github.com/ddevcap/subtracker/upstream"
)

// ChannelHandler serves the listing, history and mutation endpoints.
type ChannelHandler struct {
	tracker *tracker.Tracker
}

func NewChannelHandler(tr *tracker.Tracker) *ChannelHandler {
	return &ChannelHandler{tracker: tr}
}

// ListChannels handles GET /api/channels?page=&limit=&search=.
func (h *ChannelHandler) ListChannels(c *gin.Context) {
	page := queryInt(c, "page", 1)
	limit := queryInt(c, "limit", 0)
	c.JSON(http.StatusOK, h.tracker.ListSnapshots(page, limit, c.Query("search")))
}

// Stats handles GET /api/stats.
func (h *ChannelHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.tracker.GlobalStats())
}

// Search handles GET /api/search?q=. An empty query returns no results
// without calling upstream.
func (h *ChannelHandler) Search(c *gin.Context) {
	q := c.Query("q")
	if q == "" {
		c.JSON(http.StatusOK, gin.H{"results": []upstream.SearchResult{}})
		return
	}
	results, err := h.tracker.Search(c.Request.Context(), q)
	if err != nil {
		writeError(c, err)
		return
	}
	if results == nil {
		results = []upstream.SearchResult{}
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

type addChannelRequest struct {
	ID string `json:"id"`
}

// AddChannel handles POST /add-channel {"id": "..."}.
func (h *ChannelHandler) AddChannel(c *gin.Context) {
	var req addChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing channel ID"})
		return
	}
	id, err := h.tracker.AddChannel(c.Request.Context(), req.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "route": DataRoute(id)})
}

// UpdateChannel handles POST /api/update/:id.
func (h *ChannelHandler) UpdateChannel(c *gin.Context) {
	snap, err := h.tracker.ForceUpdate(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "channel": snap})
}

// History handles GET /data/:id.
func (h *ChannelHandler) History(c *gin.Context) {
	series, err := h.tracker.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, tracker.ErrNotTracked) {
			c.JSON(http.StatusNotFound, gin.H{"error": "data not found"})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, series)
}

// Scheduler handles GET /api/scheduler.
func (h *ChannelHandler) Scheduler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"sweep":    h.tracker.SchedulerStatus(),
		"channels": h.tracker.Statuses(),
	})
}

// DataRoute is the history URL of a channel.
func DataRoute(id string) string {
	return "/data/" + chanid.PathSegment(id)
}

// writeError maps tracker and upstream errors to HTTP statuses.
func writeError(c *gin.Context, err error) {
	var ue *upstream.Error
	switch {
	case errors.Is(err, chanid.ErrInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, tracker.ErrAlreadyTracked):
		c.JSON(http.StatusConflict, gin.H{"error": "channel already added"})
	case errors.Is(err, tracker.ErrNotTracked):
		c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
	case errors.Is(err, upstream.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "channel not found upstream"})
	case errors.As(err, &ue):
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream request failed"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// queryInt parses a positive integer query parameter, returning def when it
// is absent or malformed.
func queryInt(c *gin.Context, key string, def int) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil || n < 1 {
		return def
	}
	return n
}
