package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"crowdtask-api/internal/apperror"
	"crowdtask-api/internal/middleware"
	"crowdtask-api/internal/realtime"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// wsClient implements realtime.Client by wrapping a websocket connection.
type wsClient struct {
	conn *websocket.Conn
}

func (c *wsClient) Send(message []byte) bool {
	if c == nil || c.conn == nil {
		return false
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, message) == nil
}

func (c *wsClient) Close() {
	if c != nil && c.conn != nil {
		_ = c.conn.Close()
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS is handled by the router
	CheckOrigin: func(r *http.Request) bool { return true },
}

type WSHandler struct {
	hub *realtime.Hub
	log *slog.Logger
}

func NewWSHandler(hub *realtime.Hub, log *slog.Logger) *WSHandler {
	return &WSHandler{hub: hub, log: log}
}

// Serve upgrades the connection and subscribes it to the caller's lifecycle
// events. The connection is receive-only; client messages are discarded.
func (h *WSHandler) Serve(c *gin.Context) {
	p := middleware.Principal(c)
	if p == nil {
		respond(c, apperror.Unauthenticated("Authorization token is required"))
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "user", p.UID, "error", err)
		return
	}

	client := &wsClient{conn: conn}
	h.hub.Register(p.UID, client)

	pingTicker := time.NewTicker(pingPeriod)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-pingTicker.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeWait)); err != nil {
					// the read loop notices the dead connection
					return
				}
			}
		}
	}()
	defer func() {
		close(done)
		pingTicker.Stop()
		h.hub.Unregister(p.UID, client)
		client.Close()
	}()

	conn.SetReadLimit(1024)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
