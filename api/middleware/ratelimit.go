package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ddevcap/subtracker/config"
)

// ipWindow counts requests from one IP in a fixed window.
type ipWindow struct {
	count     int
	windowEnd time.Time
}

// ipLimiter is an in-memory fixed-window limiter keyed by client IP.
type ipLimiter struct {
	mu      sync.Mutex
	entries map[string]*ipWindow
	max     int
	window  time.Duration
	now     func() time.Time
	stop    chan struct{}
}

func newIPLimiter(maxRequests int, window time.Duration) *ipLimiter {
	l := &ipLimiter{
		entries: make(map[string]*ipWindow),
		max:     maxRequests,
		window:  window,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	// Periodically clean up stale entries to prevent unbounded memory growth.
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.cleanup()
			case <-l.stop:
				return
			}
		}
	}()
	return l
}

// cleanup removes entries whose window has expired.
func (l *ipLimiter) cleanup() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, e := range l.entries {
		if now.After(e.windowEnd) {
			delete(l.entries, ip)
		}
	}
}

// allow counts one request from ip and reports whether it is within the limit.
func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	e, ok := l.entries[ip]
	if !ok || now.After(e.windowEnd) {
		l.entries[ip] = &ipWindow{count: 1, windowEnd: now.Add(l.window)}
		return true
	}
	if e.count >= l.max {
		return false
	}
	e.count++
	return true
}

// AddChannelRateLimiter limits how many add-channel requests one IP may make
// per window. It returns the middleware and a stop function that ends the
// cleanup goroutine on shutdown. A non-positive ADD_MAX_REQUESTS disables it.
func AddChannelRateLimiter(cfg config.Config) (gin.HandlerFunc, func()) {
	if cfg.AddMaxRequests <= 0 || cfg.AddWindow <= 0 {
		return func(c *gin.Context) { c.Next() }, func() {}
	}
	limiter := newIPLimiter(cfg.AddMaxRequests, cfg.AddWindow)

	mw := func(c *gin.Context) {
		if !limiter.allow(ClientIP(c)) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Too many channels added. Please try again later.",
			})
			return
		}
		c.Next()
	}

	var once sync.Once
	stop := func() { once.Do(func() { close(limiter.stop) }) }
	return mw, stop
}

// ClientIP extracts the client IP using Gin's built-in ClientIP method,
// which honours the engine's trusted-proxy configuration and safely handles
// X-Forwarded-For chains. Falls back to RemoteAddr when no proxy is trusted.
func ClientIP(c *gin.Context) string {
	return c.ClientIP()
}
