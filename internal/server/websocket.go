package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/MarcoPoloResearchLab/podium/internal/protocol"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 1024 * 1024
	messageTimeout    = 15 * time.Second
	maxRateViolations = 100
)

func (h *httpHandler) handleWebsocket(c *gin.Context) {
	if !h.origins.allowsHandshake(c.Request) {
		h.logger.Warn("websocket origin rejected", zap.String("origin", c.Request.Header.Get("Origin")))
		c.JSON(http.StatusForbidden, gin.H{"error": "origin_not_allowed"})
		return
	}
	principal, status, err := h.authenticate(c.Request)
	if err != nil {
		if status == http.StatusUnauthorized {
			h.logger.Debug("websocket handshake rejected", zap.Error(err))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		h.logger.Error("failed to resolve identity", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "identity_unavailable"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newConnection(newConnectionID(), principal, conn, h.limits, h.logger)
	if !h.track(client) {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait),
		)
		_ = conn.Close()
		return
	}
	defer h.untrack(client)
	h.logger.Debug("connection opened",
		zap.String("connection_id", client.id),
		zap.Bool("anonymous", principal.Anonymous()),
	)

	go client.writePump()
	h.readPump(c.Request.Context(), client)

	h.gateway.Disconnect(client.id)
	client.close(websocket.CloseNormalClosure, "")
	h.logger.Debug("connection closed", zap.String("connection_id", client.id))
}

// track registers client for shutdown. It fails once draining has begun.
func (h *httpHandler) track(client *connection) bool {
	h.liveMu.Lock()
	defer h.liveMu.Unlock()
	if h.draining {
		return false
	}
	h.live[client] = struct{}{}
	return true
}

func (h *httpHandler) untrack(client *connection) {
	h.liveMu.Lock()
	delete(h.live, client)
	h.liveMu.Unlock()
	close(client.finished)
}

func (h *httpHandler) closeConnections(ctx context.Context) error {
	h.liveMu.Lock()
	h.draining = true
	clients := make([]*connection, 0, len(h.live))
	for client := range h.live {
		clients = append(clients, client)
	}
	h.liveMu.Unlock()

	for _, client := range clients {
		client.close(websocket.CloseGoingAway, "server shutting down")
	}
	for _, client := range clients {
		select {
		case <-client.finished:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h.logger.Info("websocket connections closed", zap.Int("connections", len(clients)))
	return nil
}

func newConnectionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// connection is one websocket client. It implements protocol.Peer.
type connection struct {
	id        string
	principal protocol.Principal
	conn      *websocket.Conn
	send      chan []byte
	limiter   *rate.Limiter
	logger    *zap.Logger

	closed     chan struct{}
	closeOnce  sync.Once
	closeCode  int
	closeCause string
	// finished closes once the gateway has forgotten the connection.
	finished   chan struct{}
}

func newConnection(id string, principal protocol.Principal, conn *websocket.Conn, limits Limits, logger *zap.Logger) *connection {
	return &connection{
		id:        id,
		principal: principal,
		conn:      conn,
		send:      make(chan []byte, limits.SendBuffer),
		limiter:   rate.NewLimiter(rate.Limit(limits.MessagesPerSecond), limits.Burst),
		logger:    logger,
		closed:    make(chan struct{}),
		finished:  make(chan struct{}),
	}
}

func (c *connection) ID() string {
	return c.id
}

func (c *connection) Principal() protocol.Principal {
	return c.principal
}

// Send queues event for delivery. A client whose queue is full is closed
// instead of blocking the sender.
func (c *connection) Send(event protocol.Event) {
	data, err := event.Encode()
	if err != nil {
		c.logger.Error("failed to encode event",
			zap.String("connection_id", c.id),
			zap.String("event", event.Type),
			zap.Error(err),
		)
		return
	}
	select {
	case <-c.closed:
		return
	default:
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("send buffer full, closing connection", zap.String("connection_id", c.id))
		c.close(websocket.CloseTryAgainLater, "send buffer full")
	}
}

func (c *connection) close(code int, cause string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeCause = cause
		close(c.closed)
	})
}

func (c *connection) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (h *httpHandler) readPump(ctx context.Context, c *connection) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	violations := 0
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket read failed", zap.String("connection_id", c.id), zap.Error(err))
			}
			return
		}
		if c.isClosed() {
			return
		}

		var envelope protocol.Envelope
		if err := json.Unmarshal(message, &envelope); err != nil {
			c.Send(protocol.ErrorEvent("", protocol.ValidationFailed("malformed message: %v", err)))
			continue
		}

		if !c.limiter.Allow() {
			violations++
			c.Send(protocol.ErrorEvent(envelope.Type, protocol.ValidationFailed("rate limit exceeded")))
			if violations > maxRateViolations {
				h.logger.Warn("closing connection for excessive rate limit violations", zap.String("connection_id", c.id))
				c.close(websocket.ClosePolicyViolation, "rate limit exceeded")
				return
			}
			continue
		}

		messageCtx, cancel := context.WithTimeout(ctx, messageTimeout)
		h.gateway.Handle(messageCtx, c, envelope)
		cancel()
	}
}

func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-c.closed:
			if c.closeCode != websocket.CloseAbnormalClosure {
				_ = c.conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(c.closeCode, c.closeCause),
					time.Now().Add(writeWait),
				)
			}
			return
		}
	}
}
