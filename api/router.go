package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/ddevcap/subtracker/api/handler"
	"github.com/ddevcap/subtracker/api/middleware"
	"github.com/ddevcap/subtracker/config"
	"github.com/ddevcap/subtracker/tracker"
)

// corsMiddleware returns a gin-contrib/cors middleware. With no configured
// origins any origin may read the API; otherwise only the listed ones.
func corsMiddleware(cfg config.Config) gin.HandlerFunc {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS", "HEAD"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Content-Length", "Accept", middleware.RequestIDHeader},
		ExposeHeaders: []string{"Content-Length", "Content-Type", middleware.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.CORSOrigins) == 0 {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = cfg.CORSOrigins
	}
	return cors.New(c)
}

// NewRouter builds the HTTP API. The returned function releases the
// router's background resources and must be called on shutdown.
func NewRouter(cfg config.Config, tr *tracker.Tracker, images handler.ImageFetcher, wsHub *handler.WSHub) (http.Handler, func()) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.RequestLogger(), corsMiddleware(cfg))

	addLimiter, stopLimiter := middleware.AddChannelRateLimiter(cfg)

	channelH := handler.NewChannelHandler(tr)
	avatarH := handler.NewAvatarHandler(tr, images, cfg.AvatarCacheTTL)
	systemH := handler.NewSystemHandler(tr)

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/channels", channelH.ListChannels)
		apiGroup.GET("/stats", channelH.Stats)
		apiGroup.GET("/search", channelH.Search)
		apiGroup.POST("/update/:id", channelH.UpdateChannel)
		apiGroup.GET("/scheduler", channelH.Scheduler)
		apiGroup.GET("/avatar/:id", avatarH.GetAvatar)
	}

	r.POST("/add-channel", addLimiter, channelH.AddChannel)

	// One parameterized route serves every tracked channel's history.
	r.GET("/data/:id", channelH.History)

	// Live snapshot feed for the dashboard.
	r.GET("/socket", handler.WebSocketHandler(wsHub))

	// Health probes for container orchestrators.
	r.GET("/health", systemH.HealthLive)
	r.GET("/ready", systemH.HealthReady)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	stop := func() {
		stopLimiter()
		avatarH.Stop()
	}
	return r, stop
}
