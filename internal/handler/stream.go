package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/psds-microservice/walkin-service/internal/changefeed"
	"github.com/psds-microservice/walkin-service/internal/errs"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// StreamHandler serves the live change feed over a websocket.
type StreamHandler struct {
	hub      *changefeed.Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewStreamHandler(hub *changefeed.Hub, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.With("component", "stream"),
	}
}

// Stream accepts the same filters as List. The first frame is "ready";
// every change committed after it follows as an "event" frame.
func (h *StreamHandler) Stream(c *gin.Context) {
	q, err := ParseCaseQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	filter := changefeed.FilterFor(q)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "err", errs.Loggable(err))
		return
	}
	defer conn.Close()

	sub := h.hub.Subscribe(filter)
	defer sub.Unsubscribe()
	log := h.logger.With("scope", filter.Scope())
	log.Info("stream opened", "remote", c.ClientIP())

	// The client never sends data; reading only detects close and pongs.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := h.write(conn, changefeed.Frame{Type: changefeed.FrameReady, Scope: filter.Scope()}); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				reason := "closed"
				if err := sub.Err(); err != nil {
					reason = err.Error()
				}
				log.Warn("stream ended by hub", "reason", reason)
				_ = h.write(conn, changefeed.Frame{Type: changefeed.FrameError, Scope: filter.Scope(), Error: reason})
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, reason), time.Now().Add(writeWait))
				return
			}
			if err := h.write(conn, changefeed.Frame{Type: changefeed.FrameEvent, Event: &e}); err != nil {
				log.Info("stream write failed", "err", errs.Loggable(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-gone:
			log.Info("stream closed by client")
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (h *StreamHandler) write(conn *websocket.Conn, f changefeed.Frame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(f)
}
