package hub

import "errors"

var (
	// ErrSlowConsumer is returned when a connection's outbound queue is full.
	ErrSlowConsumer = errors.New("connection send queue full")

	// ErrConnClosed is returned when sending on a closed connection.
	ErrConnClosed = errors.New("connection closed")
)

// Conn is an outbound client connection. Send must not block.
type Conn interface {
	ID() string
	Send(msg Message) error
	Close() error
}
