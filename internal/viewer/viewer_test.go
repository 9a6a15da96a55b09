package viewer

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"io"
	"sync"
	"testing"

	"github.com/dj-oyu/people-counter/internal/metrics"
	"github.com/dj-oyu/people-counter/internal/protocol"
	"github.com/dj-oyu/people-counter/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	kind protocol.MessageKind
	data []byte
}

type scriptedConn struct {
	mu     sync.Mutex
	in     []record
	sent   []record
	closed bool
}

func (c *scriptedConn) ReadMessage(context.Context) (protocol.MessageKind, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.in) == 0 || c.closed {
		return 0, nil, io.EOF
	}
	r := c.in[0]
	c.in = c.in[1:]
	return r.kind, r.data, nil
}

func (c *scriptedConn) WriteMessage(_ context.Context, kind protocol.MessageKind, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, record{kind, data})
	return nil
}

func (c *scriptedConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 48)), nil))
	return buf.Bytes()
}

func encode(t *testing.T, codec protocol.Codec, env protocol.Envelope) record {
	t.Helper()
	data, err := codec.Encode(env)
	require.NoError(t, err)
	return record{codec.Kind(), data}
}

func TestRunSkipsBadMessages(t *testing.T) {
	frame := jpegBytes(t)
	conn := &scriptedConn{in: []record{
		encode(t, protocol.JSONCodec{}, protocol.Envelope{Frame: frame, Entries: 1}),
		{protocol.Text, []byte("hello")},
		{protocol.Text, []byte(`{"entries": 2, "exits": 0}`)},
		encode(t, protocol.JSONCodec{}, protocol.Envelope{Frame: []byte("not a jpeg"), Entries: 2}),
		encode(t, protocol.ProtobufCodec{}, protocol.Envelope{Frame: frame, Entries: 2, Exits: 3}),
	}}

	var got []Frame
	surface := SurfaceFunc(func(f Frame) error {
		got = append(got, f)
		return nil
	})
	m := metrics.New()
	cfg := protocol.Config{VideoSource: types.DeviceSource(0), Boundary: &types.Boundary{X1: 0, Y1: 240, X2: 640, Y2: 240}}

	require.NoError(t, Run(context.Background(), conn, cfg, surface, m))

	require.Len(t, conn.sent, 1)
	assert.Equal(t, protocol.Text, conn.sent[0].kind)
	assert.JSONEq(t, `{"video_source": 0, "boundary_line": [0, 240, 640, 240]}`, string(conn.sent[0].data))

	require.Len(t, got, 2)
	assert.Equal(t, types.Counters{Entries: 1}, got[0].Counters)
	assert.Equal(t, types.Counters{Entries: 2, Exits: 3}, got[1].Counters)
	assert.Equal(t, 64, got[1].Image.Bounds().Dx())

	assert.Equal(t, uint64(2), m.FramesReceived.Load())
	assert.Equal(t, uint64(2), m.ParseErrors.Load())
	assert.Equal(t, uint64(1), m.DecodeErrors.Load())
	assert.True(t, conn.closed)
}

func TestRunStopsOnSurfaceStop(t *testing.T) {
	frame := jpegBytes(t)
	env := protocol.Envelope{Frame: frame}
	conn := &scriptedConn{in: []record{
		encode(t, protocol.JSONCodec{}, env),
		encode(t, protocol.JSONCodec{}, env),
		encode(t, protocol.JSONCodec{}, env),
	}}

	renders := 0
	err := Run(context.Background(), conn, protocol.DefaultConfig(), SurfaceFunc(func(Frame) error {
		renders++
		return ErrStop
	}), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, renders)
	assert.Len(t, conn.in, 2)
}

func TestMultiRendersAll(t *testing.T) {
	var a, b int
	s := Multi(
		SurfaceFunc(func(Frame) error { a++; return ErrStop }),
		SurfaceFunc(func(Frame) error { b++; return nil }),
	)
	err := s.Render(Frame{})
	assert.ErrorIs(t, err, ErrStop)
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
}
