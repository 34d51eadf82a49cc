package handler_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ddevcap/subtracker/api/handler"
	"github.com/ddevcap/subtracker/tracker"
	"github.com/ddevcap/subtracker/upstream"
)

// minimalPNG returns the bytes of a 1x1 red PNG.
func minimalPNG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

// fakeImages serves fixed bytes per URL and counts fetches.
type fakeImages struct {
	mu          sync.Mutex
	body        map[string][]byte
	contentType string
	err         error
	fetches     int
}

func (f *fakeImages) FetchImage(_ context.Context, url string) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.err != nil {
		return nil, "", f.err
	}
	return f.body[url], f.contentType, nil
}

var _ = Describe("AvatarHandler", func() {
	const avatarURL = "https://img.example.com/a.png"

	var (
		src    *fakeSource
		tr     *tracker.Tracker
		images *fakeImages
		h      *handler.AvatarHandler
	)

	BeforeEach(func() {
		src = newFakeSource()
		src.set(upstream.Channel{ID: "UCa", Name: "A", Avatar: avatarURL, Subscribers: 1})
		src.set(upstream.Channel{ID: "UCnoav", Name: "No avatar", Subscribers: 1})
		tr = newTracker(src, nil)
		images = &fakeImages{body: map[string][]byte{avatarURL: minimalPNG()}}
		h = handler.NewAvatarHandler(tr, images, 0)
		DeferCleanup(h.Stop)
	})

	get := func(id string) (int, string, []byte) {
		w := serve(http.MethodGet, "/api/avatar/:id", h.GetAvatar, "/api/avatar/"+id)
		return w.Code, w.Header().Get("Content-Type"), w.Body.Bytes()
	}

	It("returns 404 for an untracked channel", func() {
		code, _, _ := get("UCa")
		Expect(code).To(Equal(http.StatusNotFound))
		Expect(images.fetches).To(BeZero())
	})

	It("returns 404 when the channel has no avatar", func() {
		track(tr, "UCnoav")
		code, _, _ := get("UCnoav")
		Expect(code).To(Equal(http.StatusNotFound))
	})

	It("proxies the image with a sniffed content type and caches it", func() {
		track(tr, "UCa")

		code, ct, body := get("UCa")
		Expect(code).To(Equal(http.StatusOK))
		Expect(ct).To(Equal("image/png"))
		Expect(body).To(Equal(minimalPNG()))

		code, _, _ = get("UCa")
		Expect(code).To(Equal(http.StatusOK))
		Expect(images.fetches).To(Equal(1))
	})

	It("prefers an announced image content type", func() {
		track(tr, "UCa")
		images.contentType = "image/x-custom; charset=binary"
		_, ct, _ := get("UCa")
		Expect(ct).To(Equal("image/x-custom"))
	})

	It("returns 502 when the bytes are not an image", func() {
		track(tr, "UCa")
		images.body[avatarURL] = []byte("<html>nope</html>")
		images.contentType = "image/png"
		code, _, _ := get("UCa")
		Expect(code).To(Equal(http.StatusBadGateway))
	})

	It("maps upstream errors", func() {
		track(tr, "UCa")
		images.err = upstream.ErrNotFound
		code, _, _ := get("UCa")
		Expect(code).To(Equal(http.StatusNotFound))

		images.err = &upstream.Error{Op: "image", Target: avatarURL, StatusCode: 500}
		code, _, _ = get("UCa")
		Expect(code).To(Equal(http.StatusBadGateway))
	})
})
