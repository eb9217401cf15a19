package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/caption-relay/internal/observability"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// WSConn adapts a gorilla connection to Conn. Outbound messages go through a
// bounded queue drained by a single write pump, so Send never blocks.
type WSConn struct {
	id     string
	conn   *websocket.Conn
	send   chan Message
	done   chan struct{}
	logger zerolog.Logger

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

// NewWSConn wraps conn and starts its write pump. The caller keeps reading
// from conn; WSConn only writes.
func NewWSConn(conn *websocket.Conn, buffer int, logger zerolog.Logger) *WSConn {
	if buffer < 1 {
		buffer = 1
	}
	id := uuid.New().String()
	c := &WSConn{
		id:     id,
		conn:   conn,
		send:   make(chan Message, buffer),
		done:   make(chan struct{}),
		logger: logger.With().Str("conn_id", id).Logger(),
	}
	go c.writePump()
	return c
}

func (c *WSConn) ID() string { return c.id }

// Send queues msg for the write pump.
func (c *WSConn) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close stops the write pump and closes the socket. Messages already queued
// are still written, within the write deadline.
func (c *WSConn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
	return nil
}

// Done is closed once the connection is closed.
func (c *WSConn) Done() <-chan struct{} {
	return c.done
}

func (c *WSConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.drain()
			return

		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				c.logger.Debug().Err(err).Msg("Write failed, closing connection")
				observability.RecordBroadcastFailure("write")
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

func (c *WSConn) write(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error().Err(err).Str("type", msg.MessageType()).Msg("Failed to encode message")
		return nil
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// drain writes whatever was queued before Close.
func (c *WSConn) drain() {
	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

var _ Conn = (*WSConn)(nil)
