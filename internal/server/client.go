package server

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/chathub/internal/config"
	"github.com/Tyrowin/chathub/internal/identity"
	"github.com/Tyrowin/chathub/internal/logger"
	"github.com/Tyrowin/chathub/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Client is one authenticated connection. The hub owns its lifecycle; the
// pumps only move frames between the socket and the hub.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	name   string
	role   identity.Role
	origin string

	limiter        *rate.Limiter
	rateLimit      config.RateLimitConfig
	maxMessageSize int64

	mu     sync.Mutex
	closed bool
}

func newClient(h *Hub, conn *websocket.Conn, name string, role identity.Role, origin string) *Client {
	maxSize := h.cfg.Server.MaxMessageSize.Int64()
	if conn != nil {
		conn.SetReadLimit(maxSize)
	}
	rl := h.cfg.RateLimit
	return &Client{
		hub:            h,
		conn:           conn,
		send:           make(chan []byte, h.cfg.Server.SendBuffer),
		name:           name,
		role:           role,
		origin:         origin,
		limiter:        newLimiter(rl),
		rateLimit:      rl,
		maxMessageSize: maxSize,
	}
}

// newLimiter refills Burst tokens per RefillInterval.
func newLimiter(cfg config.RateLimitConfig) *rate.Limiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	interval := cfg.RefillInterval
	if interval <= 0 {
		interval = time.Second
	}
	return rate.NewLimiter(rate.Limit(float64(burst)/interval.Seconds()), burst)
}

// Name returns the identity behind the connection.
func (c *Client) Name() string { return c.name }

// deliver queues a frame without blocking. A full buffer closes the
// connection; the read pump then unregisters it.
func (c *Client) deliver(frame []byte) bool {
	if frame == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.closed = true
		close(c.send)
		logger.Warn("send_buffer_full", zap.String("user", c.name), zap.String("origin", c.origin))
		return false
	}
}

// closeSend ends the write pump after it flushes what is queued. Safe to call
// more than once.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Debug("read_deadline_failed", zap.String("user", c.name), zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// handleReadError logs the reason a read loop ends.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		logger.Warn("message_too_large", zap.String("user", c.name), zap.Int64("limit", c.maxMessageSize))
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		logger.Debug("client_disconnected", zap.String("user", c.name), zap.Error(err))
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		logger.Debug("client_connection_closed", zap.String("user", c.name), zap.Error(err))
	default:
		logger.Warn("websocket_read_error", zap.String("user", c.name), zap.Error(err))
	}
}

// checkRateLimit reports whether the frame may be processed.
func (c *Client) checkRateLimit() bool {
	if c.limiter != nil && !c.limiter.Allow() {
		logger.Warn("rate_limited",
			zap.String("user", c.name),
			zap.Int("burst", c.rateLimit.Burst),
			zap.Duration("refill_interval", c.rateLimit.RefillInterval))
		return false
	}
	return true
}

// processMessage decodes a frame and hands it to the hub loop. Malformed
// frames are dropped without closing the connection.
func (c *Client) processMessage(raw []byte) bool {
	var in protocol.Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		logger.Debug("invalid_frame", zap.String("user", c.name), zap.Error(err))
		return false
	}
	return c.hub.submit(c, in)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			logger.Debug("close_failed", zap.String("user", c.name), zap.Error(err))
		}
	}()

	c.setupReadConnection()
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		if !c.checkRateLimit() {
			continue
		}
		c.processMessage(raw)
	}
}

// writePump writes one frame per queued message and pings on a ticker. It
// sends a close frame once the send channel is closed.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			logger.Debug("close_failed", zap.String("user", c.name), zap.Error(err))
		}
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				if !isExpectedCloseError(err) {
					logger.Debug("write_failed", zap.String("user", c.name), zap.Error(err))
				}
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "websocket: close sent") ||
		strings.Contains(msg, "broken pipe")
}
