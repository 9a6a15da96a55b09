package protocol

import "context"

// Conn is one bidirectional message connection between a producer and a
// viewer. One goroutine may read while another writes.
type Conn interface {
	// ReadMessage blocks until a record arrives, the connection ends or ctx
	// is done.
	ReadMessage(ctx context.Context) (MessageKind, []byte, error)
	WriteMessage(ctx context.Context, kind MessageKind, data []byte) error
	Close() error
}
