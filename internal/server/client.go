package server

import (
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sendBufferSize = 256
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
)

// Close codes sent by the server.
const (
	CloseUserNotFound    = websocket.ClosePolicyViolation
	CloseSendBufferFull  = websocket.CloseTryAgainLater
	CloseSessionReplaced = 4001
)

var (
	// ErrSendBufferFull is returned when a client's outbound queue is full.
	ErrSendBufferFull = errors.New("send buffer full")
	// ErrClientClosed is returned when sending to a closed client.
	ErrClientClosed = errors.New("client closed")
)

// Client is the live connection of one session. Outbound frames are
// queued on send and written in order by writePump.
type Client struct {
	id       string
	identity string
	conn     *websocket.Conn
	send     chan []byte
	logger   *zap.Logger

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
}

// NewClient wraps conn for identity. conn may be nil, in which case frames
// are only queued.
func NewClient(conn *websocket.Conn, identity string, maxMessageSize int64, logger *zap.Logger) *Client {
	id := uuid.NewString()
	if conn != nil && maxMessageSize > 0 {
		conn.SetReadLimit(maxMessageSize)
	}

	return &Client{
		id:       id,
		identity: identity,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		logger:   logger.With(zap.String("identity", identity), zap.String("conn_id", id)),
		done:     make(chan struct{}),
	}
}

// ID returns the connection id.
func (c *Client) ID() string { return c.id }

// Identity returns the user the connection belongs to.
func (c *Client) Identity() string { return c.identity }

// Done is closed once the client has been closed.
func (c *Client) Done() <-chan struct{} { return c.done }

// Send queues a frame without blocking.
func (c *Client) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// CloseWithCode sends a close frame with code and reason, then closes the
// connection. Queued frames are dropped. Only the first call has effect.
func (c *Client) CloseWithCode(code int, reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)

		// The close frame goes out before the queue is closed so that
		// writePump does not drop the connection first.
		if c.conn != nil {
			msg := websocket.FormatCloseMessage(code, reason)
			if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil && !isExpectedCloseError(err) {
				c.logger.Debug("failed to write close frame", zap.Int("code", code), zap.Error(err))
			}
		}
		close(c.send)

		if c.conn == nil {
			return
		}
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Debug("failed to close connection", zap.Error(err))
		}
	})
}

// setupReadConnection arms the read deadline and refreshes it on every pong.
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Debug("failed to set read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// ReadFrame blocks until the next text frame arrives.
func (c *Client) ReadFrame() ([]byte, error) {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.TextMessage {
			return data, nil
		}
	}
}

// logReadError reports why the read loop stopped at a level matching how
// unusual the cause is.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("frame exceeded maximum size")
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		c.logger.Debug("peer closed connection", zap.Error(err))
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		c.logger.Debug("connection closed", zap.Error(err))
	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		c.logger.Warn("unexpected close", zap.Error(err))
	default:
		c.logger.Debug("read failed", zap.Error(err))
	}
}

// writePump drains the send queue, one frame per message, and pings the
// peer every pingPeriod. It returns when the queue is closed or a write
// fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Debug("failed to close connection in writePump", zap.Error(err))
		}
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.write(websocket.TextMessage, frame); err != nil {
				if !isExpectedCloseError(err) {
					c.logger.Debug("failed to write frame", zap.Error(err))
				}
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				if !isExpectedCloseError(err) {
					c.logger.Debug("failed to write ping", zap.Error(err))
				}
				return
			}
		}
	}
}

func (c *Client) write(kind int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(kind, data)
}

// isExpectedCloseError reports errors that are normal while tearing a
// connection down.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "broken pipe")
}
