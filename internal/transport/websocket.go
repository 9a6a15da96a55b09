// Package transport carries producer/viewer sessions over websockets.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dj-oyu/people-counter/internal/logger"
	"github.com/dj-oyu/people-counter/internal/protocol"
)

const (
	defaultWriteTimeout = 10 * time.Second
	closeGrace          = time.Second
)

// Conn adapts a websocket connection to protocol.Conn.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

// NewConn wraps ws.
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws, writeTimeout: defaultWriteTimeout}
}

// ReadMessage returns the next text or binary record. It is unblocked by
// Close rather than by ctx.
func (c *Conn) ReadMessage(ctx context.Context) (protocol.MessageKind, []byte, error) {
	mt, data, err := c.ws.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		return 0, nil, err
	}
	return protocol.MessageKind(mt), data, nil
}

// WriteMessage sends one record. The write deadline is the earlier of ctx's
// deadline and the connection's write timeout.
func (c *Conn) WriteMessage(ctx context.Context, kind protocol.MessageKind, data []byte) error {
	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(int(kind), data)
}

// Close sends a normal close frame and closes the socket. Safe to call more
// than once and concurrently with reads and writes.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// SessionServer runs one session on an accepted connection.
type SessionServer interface {
	Serve(ctx context.Context, conn protocol.Conn, codec protocol.Codec) error
}

// Handler upgrades HTTP requests to websockets and hands them to a
// SessionServer. The envelope format is taken from the "format" query
// parameter (json by default, protobuf for binary records).
type Handler struct {
	ctx      context.Context
	sessions SessionServer
	upgrader websocket.Upgrader
	log      logger.Module
}

// NewHandler creates a handler whose sessions end when ctx is cancelled.
func NewHandler(ctx context.Context, sessions SessionServer) *Handler {
	return &Handler{
		ctx:      ctx,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: logger.For("WebSocket"),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	codec := protocol.CodecFor(r.URL.Query().Get("format"))
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("Upgrade failed from %s: %v", r.RemoteAddr, err)
		return
	}
	h.log.Info("Viewer connected from %s (%s)", r.RemoteAddr, codec.Name())

	if err := h.sessions.Serve(h.ctx, NewConn(ws), codec); err != nil {
		h.log.Warn("Session from %s ended early: %v", r.RemoteAddr, err)
		return
	}
	h.log.Info("Viewer %s disconnected", r.RemoteAddr)
}

// Dial connects to a producer at rawURL. A non-empty format other than json
// is added as the "format" query parameter.
func Dial(ctx context.Context, rawURL, format string) (*Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if format != "" && format != protocol.FormatJSON {
		q := u.Query()
		q.Set("format", format)
		u.RawQuery = q.Encode()
	}

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", u, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", u, err)
	}
	return NewConn(ws), nil
}
