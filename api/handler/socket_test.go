package handler_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ddevcap/subtracker/api/handler"
	"github.com/ddevcap/subtracker/store"
	"github.com/ddevcap/subtracker/tracker"
	"github.com/ddevcap/subtracker/upstream"
)

type socketMessage struct {
	Type string              `json:"type"`
	Data *store.StatSnapshot `json:"data"`
}

var _ = Describe("WebSocketHandler", func() {
	var (
		src  *fakeSource
		tr   *tracker.Tracker
		hub  *handler.WSHub
		conn *websocket.Conn
	)

	read := func() socketMessage {
		var msg socketMessage
		ExpectWithOffset(1, conn.SetReadDeadline(time.Now().Add(5*time.Second))).To(Succeed())
		_, data, err := conn.ReadMessage()
		ExpectWithOffset(1, err).NotTo(HaveOccurred())
		ExpectWithOffset(1, json.Unmarshal(data, &msg)).To(Succeed())
		return msg
	}

	BeforeEach(func() {
		src = newFakeSource()
		src.set(upstream.Channel{ID: "UCa", Name: "A", Subscribers: 10})
		tr = newTracker(src, nil)
		hub = handler.NewWSHub()
		tr.OnUpdate(hub.Publish)

		r := gin.New()
		r.GET("/socket", handler.WebSocketHandler(hub))
		srv := httptest.NewServer(r)
		DeferCleanup(srv.Close)
		DeferCleanup(hub.Shutdown)

		var err error
		conn, _, err = websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/socket", nil)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(conn.Close)

		Expect(read().Type).To(Equal("keepalive"))
		Eventually(hub.Len).Should(Equal(1))
	})

	It("pushes every successful fetch to connected clients", func() {
		track(tr, "UCa")
		msg := read()
		Expect(msg.Type).To(Equal("snapshot"))
		Expect(msg.Data).NotTo(BeNil())
		Expect(msg.Data.ChannelID).To(Equal("UCa"))
		Expect(msg.Data.Subscribers).To(Equal(int64(10)))

		src.set(upstream.Channel{ID: "UCa", Name: "A", Subscribers: 11})
		_, err := tr.ForceUpdate(context.Background(), "UCa")
		Expect(err).NotTo(HaveOccurred())
		Expect(read().Data.Subscribers).To(Equal(int64(11)))
	})

	It("does not push failed fetches", func() {
		_, err := tr.AddChannel(context.Background(), "UCmissing")
		Expect(err).NotTo(HaveOccurred())
		tr.WaitIdle()
		hub.Publish(store.StatSnapshot{ChannelID: "marker"})
		Expect(read().Data.ChannelID).To(Equal("marker"))
	})

	It("closes connections on shutdown", func() {
		hub.Shutdown()
		Expect(conn.SetReadDeadline(time.Now().Add(5 * time.Second))).To(Succeed())
		_, _, err := conn.ReadMessage()
		Expect(websocket.IsCloseError(err, websocket.CloseGoingAway)).To(BeTrue())
		Expect(hub.Len()).To(BeZero())
	})
})
