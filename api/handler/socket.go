package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ddevcap/subtracker/store"
)

const (
	// wsKeepAliveInterval is how often a keepalive message is sent to connected clients.
	wsKeepAliveInterval = 10 * time.Second
	// wsReadDeadline is the maximum time to wait for a pong before considering the connection dead.
	wsReadDeadline = 90 * time.Second
	// wsWriteTimeout bounds a single write to a client.
	wsWriteTimeout = 5 * time.Second
	// wsSendBuffer is the number of queued messages per client before
	// further updates are dropped for that client.
	wsSendBuffer = 64
)

var upgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	ReadBufferSize:   1024,
	WriteBufferSize:  1024,
	// The feed is public read-only data.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsMessage is the envelope pushed to dashboard clients.
type wsMessage struct {
	Type string              `json:"type"`
	Data *store.StatSnapshot `json:"data,omitempty"`
}

// wsClient is one connection with its own outgoing queue, so a slow client
// never blocks the fetcher publishing updates.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// WSHub tracks all active WebSocket connections, fans snapshot updates out
// to them and closes them during graceful shutdown. Create one in main and
// pass it to the handler.
type WSHub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	done    chan struct{} // closed on shutdown
	once    sync.Once
}

func NewWSHub() *WSHub {
	return &WSHub{
		clients: make(map[*wsClient]struct{}),
		done:    make(chan struct{}),
	}
}

func (h *WSHub) add(cl *wsClient) {
	h.mu.Lock()
	h.clients[cl] = struct{}{}
	h.mu.Unlock()
}

func (h *WSHub) remove(cl *wsClient) {
	h.mu.Lock()
	delete(h.clients, cl)
	h.mu.Unlock()
}

// Len returns the number of connected clients.
func (h *WSHub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish queues a snapshot update for every connected client. Clients whose
// queue is full miss this update.
func (h *WSHub) Publish(snap store.StatSnapshot) {
	msg, err := json.Marshal(wsMessage{Type: "snapshot", Data: &snap})
	if err != nil {
		slog.Error("ws: failed to encode snapshot", "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for cl := range h.clients {
		select {
		case cl.send <- msg:
		default:
			slog.Debug("ws: client queue full, dropping update", "channel", snap.ChannelID)
		}
	}
}

// Shutdown closes all active WebSocket connections and signals handlers to exit.
func (h *WSHub) Shutdown() {
	h.once.Do(func() { close(h.done) })
	h.mu.Lock()
	defer h.mu.Unlock()
	for cl := range h.clients {
		_ = cl.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second),
		)
		_ = cl.conn.Close()
	}
	h.clients = make(map[*wsClient]struct{})
}

// WebSocketHandler returns a gin handler that streams snapshot updates to
// the client, with lifecycle tracking via the hub.
func WebSocketHandler(hub *WSHub) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		cl := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}
		hub.add(cl)
		defer func() {
			hub.remove(cl)
			_ = conn.Close()
		}()

		if err := sendKeepAlive(conn); err != nil {
			return
		}

		ticker := time.NewTicker(wsKeepAliveInterval)
		defer ticker.Stop()

		_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
			return nil
		})

		readErr := make(chan error, 1)
		go func() {
			for {
				_, _, err := conn.ReadMessage()
				if err != nil {
					readErr <- err
					return
				}
			}
		}()

		for {
			select {
			case <-hub.done:
				return
			case msg := <-cl.send:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					slog.Debug("ws: write error", "error", err)
					return
				}
			case <-ticker.C:
				if err := sendKeepAlive(conn); err != nil {
					slog.Debug("ws: keepalive write error", "error", err)
					return
				}
			case err := <-readErr:
				if websocket.IsUnexpectedCloseError(err,
					websocket.CloseGoingAway,
					websocket.CloseNormalClosure,
					websocket.CloseNoStatusReceived,
				) {
					slog.Debug("ws: unexpected close", "error", err)
				}
				return
			}
		}
	}
}

// sendKeepAlive writes {"type":"keepalive"}.
func sendKeepAlive(conn *websocket.Conn) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"keepalive"}`))
}
