package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/jellydator/ttlcache/v3"

	"github.com/ddevcap/subtracker/tracker"
	"github.com/ddevcap/subtracker/upstream"
)

const defaultAvatarCacheTTL = time.Hour

// ImageFetcher downloads an image by absolute URL.
type ImageFetcher interface {
	FetchImage(ctx context.Context, imageURL string) ([]byte, string, error)
}

type avatarImage struct {
	data        []byte
	contentType string
}

// AvatarHandler proxies channel avatars so the dashboard does not hotlink
// the upstream image host. Images are cached in memory keyed by URL.
type AvatarHandler struct {
	tracker *tracker.Tracker
	images  ImageFetcher
	cache   *ttlcache.Cache[string, avatarImage]
}

// NewAvatarHandler creates the handler and starts the cache's expiry loop.
// Call Stop on shutdown.
func NewAvatarHandler(tr *tracker.Tracker, images ImageFetcher, ttl time.Duration) *AvatarHandler {
	if ttl <= 0 {
		ttl = defaultAvatarCacheTTL
	}
	cache := ttlcache.New[string, avatarImage](
		ttlcache.WithTTL[string, avatarImage](ttl),
		ttlcache.WithDisableTouchOnHit[string, avatarImage](),
	)
	go cache.Start() // starts the automatic expired-item eviction loop
	return &AvatarHandler{tracker: tr, images: images, cache: cache}
}

// Stop ends the cache's expiry loop.
func (h *AvatarHandler) Stop() { h.cache.Stop() }

// GetAvatar handles GET /api/avatar/:id.
func (h *AvatarHandler) GetAvatar(c *gin.Context) {
	snap, ok := h.tracker.Snapshot(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
		return
	}
	if snap.Avatar == "" {
		c.Status(http.StatusNotFound)
		return
	}

	if item := h.cache.Get(snap.Avatar); item != nil {
		img := item.Value()
		c.Header("Cache-Control", "public, max-age=3600")
		c.Data(http.StatusOK, img.contentType, img.data)
		return
	}

	data, headerCT, err := h.images.FetchImage(c.Request.Context(), snap.Avatar)
	if err != nil {
		if errors.Is(err, upstream.ErrNotFound) {
			c.Status(http.StatusNotFound)
			return
		}
		slog.Debug("avatar fetch failed", "channel", snap.ChannelID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "avatar unavailable"})
		return
	}
	ct := sniffImageType(data, headerCT)
	if ct == "" {
		c.JSON(http.StatusBadGateway, gin.H{"error": "avatar is not an image"})
		return
	}
	h.cache.Set(snap.Avatar, avatarImage{data: data, contentType: ct}, ttlcache.DefaultTTL)
	c.Header("Cache-Control", "public, max-age=3600")
	c.Data(http.StatusOK, ct, data)
}

// sniffImageType returns the content type of image bytes. The announced
// header is trusted only when the bytes agree it is an image; mimetype
// recognises more formats than the stdlib (WebP, AVIF, HEIC, etc.).
// Returns "" when the bytes are not an image.
func sniffImageType(data []byte, headerCT string) string {
	detected := mimetype.Detect(data)
	if !strings.HasPrefix(detected.String(), "image/") {
		return ""
	}
	mimeType := strings.TrimSpace(strings.SplitN(headerCT, ";", 2)[0])
	if strings.HasPrefix(mimeType, "image/") {
		return mimeType
	}
	return detected.String()
}
