package session

import (
	"context"
	"errors"
	"image"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dj-oyu/people-counter/internal/capture"
	"github.com/dj-oyu/people-counter/internal/detect"
	"github.com/dj-oyu/people-counter/internal/metrics"
	"github.com/dj-oyu/people-counter/internal/protocol"
	"github.com/dj-oyu/people-counter/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type written struct {
	kind protocol.MessageKind
	data []byte
}

type fakeConn struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	out    []written
	failAt int
}

func newFakeConn(config string) *fakeConn {
	c := &fakeConn{in: make(chan []byte, 4), closed: make(chan struct{})}
	if config != "" {
		c.in <- []byte(config)
	}
	return c
}

func (c *fakeConn) ReadMessage(ctx context.Context) (protocol.MessageKind, []byte, error) {
	select {
	case msg, ok := <-c.in:
		if !ok {
			return 0, nil, io.EOF
		}
		return protocol.Text, msg, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (c *fakeConn) WriteMessage(_ context.Context, kind protocol.MessageKind, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAt > 0 && len(c.out)+1 >= c.failAt {
		return errors.New("broken pipe")
	}
	c.out = append(c.out, written{kind: kind, data: data})
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) written() []written {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]written(nil), c.out...)
}

type fakeSource struct {
	limit  int // 0 = endless
	reads  atomic.Int64
	closed atomic.Bool
}

func (s *fakeSource) Read() (image.Image, error) {
	n := s.reads.Add(1)
	if s.limit > 0 && int(n) > s.limit {
		return nil, io.EOF
	}
	return image.NewRGBA(image.Rect(0, 0, 640, 480)), nil
}

func (s *fakeSource) FPS() float64 { return 500 }
func (s *fakeSource) Close() error { s.closed.Store(true); return nil }

func openerFor(src *fakeSource, opened *types.VideoSource) capture.Opener {
	return capture.OpenerFunc(func(_ context.Context, v types.VideoSource) (capture.Source, error) {
		if opened != nil {
			*opened = v
		}
		return src, nil
	})
}

type scriptedTracker struct {
	frames [][]types.Track
	n      int
}

func (s *scriptedTracker) Update([]detect.Detection) []types.Track {
	if s.n >= len(s.frames) {
		return nil
	}
	t := s.frames[s.n]
	s.n++
	return t
}

func trackAt(id, cy int) types.Track {
	return types.Track{ID: id, BBox: types.BBox{X1: 300, Y1: cy - 40, X2: 340, Y2: cy + 40}, Confidence: 0.9}
}

func decodeAll(t *testing.T, out []written) []protocol.Envelope {
	t.Helper()
	envs := make([]protocol.Envelope, 0, len(out))
	for _, w := range out {
		env, err := protocol.Decode(w.kind, w.data)
		require.NoError(t, err)
		envs = append(envs, env)
	}
	return envs
}

func TestServeCountsEntryOnMidline(t *testing.T) {
	src := &fakeSource{limit: 3}
	var opened types.VideoSource
	srv := NewServer(DefaultConfig(), openerFor(src, &opened), nil, nil)
	srv.NewTracker = func() detect.Tracker {
		return &scriptedTracker{frames: [][]types.Track{
			{trackAt(7, 200)},
			{trackAt(7, 235)},
			{trackAt(7, 245)},
		}}
	}

	conn := newFakeConn(`{"video_source": 0}`)
	require.NoError(t, srv.Serve(context.Background(), conn, protocol.JSONCodec{}))

	assert.Equal(t, types.DeviceSource(0), opened)
	envs := decodeAll(t, conn.written())
	require.Len(t, envs, 3)
	assert.Equal(t, 0, envs[0].Entries)
	assert.Equal(t, 1, envs[1].Entries)
	assert.Equal(t, 1, envs[2].Entries)
	assert.Equal(t, 0, envs[2].Exits)
	for _, e := range envs {
		assert.NotEmpty(t, e.Frame)
	}

	assert.True(t, conn.isClosed())
	assert.True(t, src.closed.Load())
	assert.Zero(t, srv.Active())
	assert.Empty(t, srv.Sessions())
}

func TestServeExplicitBoundary(t *testing.T) {
	src := &fakeSource{limit: 2}
	srv := NewServer(DefaultConfig(), openerFor(src, nil), nil, nil)
	srv.NewTracker = func() detect.Tracker {
		return &scriptedTracker{frames: [][]types.Track{
			{trackAt(1, 100)},
			{trackAt(1, 105), trackAt(2, 240)},
		}}
	}

	conn := newFakeConn(`{"video_source": 0, "boundary_line": [0, 90, 640, 110]}`)
	require.NoError(t, srv.Serve(context.Background(), conn, protocol.ProtobufCodec{}))

	out := conn.written()
	require.Len(t, out, 2)
	assert.Equal(t, protocol.Binary, out[0].kind)
	envs := decodeAll(t, out)
	// line midpoint is y=100: id 1 sits on it (exit), id 2 is far below
	assert.Equal(t, protocol.Envelope{Frame: envs[1].Frame, Entries: 0, Exits: 1}, envs[1])
}

func TestServeOpenFailureSendsNothing(t *testing.T) {
	m := metrics.New()
	fail := capture.OpenerFunc(func(context.Context, types.VideoSource) (capture.Source, error) {
		return nil, errors.New("no such device")
	})
	srv := NewServer(DefaultConfig(), fail, nil, m)

	conn := newFakeConn(`{"video_source": 9}`)
	err := srv.Serve(context.Background(), conn, protocol.JSONCodec{})
	require.Error(t, err)

	assert.Empty(t, conn.written())
	assert.True(t, conn.isClosed())
	assert.Equal(t, uint64(1), m.CaptureOpenFailures.Load())
	assert.Zero(t, m.TotalSessions.Load())
}

func TestServeBusyDeviceIsFailedOpen(t *testing.T) {
	src := &fakeSource{}
	ex := capture.NewExclusive(openerFor(src, nil))
	held, err := ex.Open(context.Background(), types.DeviceSource(0))
	require.NoError(t, err)
	defer held.Close()

	srv := NewServer(DefaultConfig(), ex, nil, nil)
	conn := newFakeConn(`{"video_source": 0}`)
	err = srv.Serve(context.Background(), conn, protocol.JSONCodec{})
	assert.ErrorIs(t, err, capture.ErrBusy)
	assert.Empty(t, conn.written())
}

func TestServeStopsOnSendError(t *testing.T) {
	src := &fakeSource{}
	m := metrics.New()
	srv := NewServer(DefaultConfig(), openerFor(src, nil), nil, m)

	conn := newFakeConn(`{}`)
	conn.failAt = 3
	require.NoError(t, srv.Serve(context.Background(), conn, protocol.JSONCodec{}))

	assert.Len(t, conn.written(), 2)
	assert.Equal(t, int64(3), src.reads.Load())
	assert.True(t, src.closed.Load())
	assert.Equal(t, uint64(1), m.SendErrors.Load())
}

func TestServeDetectorErrorKeepsStreaming(t *testing.T) {
	src := &fakeSource{limit: 4}
	m := metrics.New()
	det := detect.DetectorFunc(func(context.Context, image.Image) ([]detect.Detection, error) {
		return nil, errors.New("inference down")
	})
	srv := NewServer(DefaultConfig(), openerFor(src, nil), det, m)

	conn := newFakeConn(`{"video_source": 0}`)
	require.NoError(t, srv.Serve(context.Background(), conn, protocol.JSONCodec{}))

	assert.Len(t, conn.written(), 4)
	assert.Equal(t, uint64(4), m.DetectErrors.Load())
}

func TestServeViewerDisconnect(t *testing.T) {
	src := &fakeSource{}
	srv := NewServer(DefaultConfig(), openerFor(src, nil), nil, nil)
	conn := newFakeConn(`{"video_source": 0}`)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background(), conn, protocol.JSONCodec{}) }()

	require.Eventually(t, func() bool { return len(conn.written()) >= 2 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, 1, srv.Active())
	sessions := srv.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "STREAMING", sessions[0].Phase)

	close(conn.in)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop after viewer disconnect")
	}
	assert.True(t, src.closed.Load())
	srv.Wait()
}

func TestServeContextCancel(t *testing.T) {
	srv := NewServer(DefaultConfig(), openerFor(&fakeSource{}, nil), nil, nil)
	conn := newFakeConn("")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, conn, protocol.JSONCodec{}) }()
	cancel()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop on cancel")
	}
	assert.Empty(t, conn.written())
	assert.True(t, conn.isClosed())
}

func TestSessionsAreIndependent(t *testing.T) {
	srv := NewServer(DefaultConfig(), capture.OpenerFunc(func(context.Context, types.VideoSource) (capture.Source, error) {
		return &fakeSource{limit: 2}, nil
	}), nil, nil)
	srv.NewTracker = func() detect.Tracker {
		return &scriptedTracker{frames: [][]types.Track{{trackAt(1, 235)}, {trackAt(2, 245)}}}
	}

	for _i := 0; _i < 2; _i++ {
		conn := newFakeConn(`{"video_source": 0}`)
		require.NoError(t, srv.Serve(context.Background(), conn, protocol.JSONCodec{}))
		envs := decodeAll(t, conn.written())
		require.Len(t, envs, 2)
		assert.Equal(t, 1, envs[1].Entries)
		assert.Equal(t, 1, envs[1].Exits)
	}
}
