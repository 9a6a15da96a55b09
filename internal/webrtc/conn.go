package webrtc

import (
	"context"
	"errors"
	"sync"

	"github.com/dj-oyu/people-counter/internal/protocol"
)

const (
	// Writes wait while more than this many bytes are queued on the channel.
	maxBufferedAmount = 1 << 20
	lowBufferedAmount = 256 << 10

	incomingQueue = 16
)

var errClosed = errors.New("data channel closed")

// channel is the subset of *webrtc.DataChannel a session uses.
type channel interface {
	Send(data []byte) error
	SendText(s string) error
	BufferedAmount() uint64
	Close() error
}

type message struct {
	kind protocol.MessageKind
	data []byte
}

// dataChannelConn adapts a data channel to protocol.Conn. Incoming messages
// arrive through callbacks and are queued for ReadMessage.
type dataChannelConn struct {
	ch       channel
	incoming chan message
	lowWater chan struct{}
	closed   chan struct{}
	once     sync.Once
	onClose  func()
}

func newDataChannelConn(ch channel, onClose func()) *dataChannelConn {
	return &dataChannelConn{
		ch:       ch,
		incoming: make(chan message, incomingQueue),
		lowWater: make(chan struct{}, 1),
		closed:   make(chan struct{}),
		onClose:  onClose,
	}
}

// deliver queues a received message. It reports false when the queue is
// full and the message was dropped.
func (c *dataChannelConn) deliver(kind protocol.MessageKind, data []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.incoming <- message{kind: kind, data: data}:
		return true
	default:
		return false
	}
}

// bufferLow wakes a writer waiting on backpressure.
func (c *dataChannelConn) bufferLow() {
	select {
	case c.lowWater <- struct{}{}:
	default:
	}
}

func (c *dataChannelConn) ReadMessage(ctx context.Context) (protocol.MessageKind, []byte, error) {
	select {
	case msg := <-c.incoming:
		return msg.kind, msg.data, nil
	case <-c.closed:
		return 0, nil, errClosed
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (c *dataChannelConn) WriteMessage(ctx context.Context, kind protocol.MessageKind, data []byte) error {
	for c.ch.BufferedAmount() > maxBufferedAmount {
		select {
		case <-c.lowWater:
		case <-c.closed:
			return errClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case <-c.closed:
		return errClosed
	default:
	}

	if kind == protocol.Binary {
		return c.ch.Send(data)
	}
	return c.ch.SendText(string(data))
}

func (c *dataChannelConn) Close() error {
	var err error
	first := false
	c.once.Do(func() {
		first = true
		close(c.closed)
		err = c.ch.Close()
	})
	if first && c.onClose != nil {
		c.onClose()
	}
	return err
}
