package protocol

import (
	"encoding/json"
	"testing"

	"github.com/dj-oyu/people-counter/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	cases := []struct {
		name   string
		msg    string
		source types.VideoSource
		line   *types.Boundary
	}{
		{"full", `{"video_source": 2, "boundary_line": [0, 240, 640, 240]}`,
			types.DeviceSource(2), &types.Boundary{X1: 0, Y1: 240, X2: 640, Y2: 240}},
		{"missing boundary", `{"video_source": 0}`, types.DeviceSource(0), nil},
		{"null boundary", `{"video_source": "/tmp/a.mp4", "boundary_line": null}`, types.PathSource("/tmp/a.mp4"), nil},
		{"string zero", `{"video_source": "0"}`, types.DeviceSource(0), nil},
		{"float coords truncated", `{"boundary_line": [1.9, 2.2, 3.7, 4.0]}`,
			types.DefaultVideoSource, &types.Boundary{X1: 1, Y1: 2, X2: 3, Y2: 4}},
		{"short boundary", `{"boundary_line": [1, 2, 3]}`, types.DefaultVideoSource, nil},
		{"wrong boundary type", `{"boundary_line": "0,240,640,240"}`, types.DefaultVideoSource, nil},
		{"boundary with string", `{"boundary_line": [1, "2", 3, 4]}`, types.DefaultVideoSource, nil},
		{"negative device", `{"video_source": -1}`, types.DefaultVideoSource, nil},
		{"fractional device", `{"video_source": 1.5}`, types.DefaultVideoSource, nil},
		{"object source", `{"video_source": {"a": 1}}`, types.DefaultVideoSource, nil},
		{"not json", `hello`, types.DefaultVideoSource, nil},
		{"json array", `[1,2]`, types.DefaultVideoSource, nil},
		{"empty", ``, types.DefaultVideoSource, nil},
		{"url", `{"video_source": "http://cam/stream.mjpg"}`, types.PathSource("http://cam/stream.mjpg"), nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := ParseConfig([]byte(tc.msg))
			assert.Equal(t, tc.source, cfg.VideoSource)
			assert.Equal(t, tc.line, cfg.Boundary)
		})
	}
}

func TestConfigMarshal(t *testing.T) {
	data, err := Config{VideoSource: types.DeviceSource(0)}.Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{"video_source": 0, "boundary_line": null}`, string(data))

	cfg := Config{
		VideoSource: types.PathSource("clip.mp4"),
		Boundary:    &types.Boundary{X1: 1, Y1: 2, X2: 3, Y2: 4},
	}
	data, err = cfg.Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{"video_source": "clip.mp4", "boundary_line": [1, 2, 3, 4]}`, string(data))
	assert.Equal(t, cfg, ParseConfig(data))
}

func TestPhaseTransitions(t *testing.T) {
	p, err := AwaitingConfig.Next(Streaming)
	require.NoError(t, err)
	p, err = p.Next(Closed)
	require.NoError(t, err)
	assert.Equal(t, Closed, p)

	_, err = AwaitingConfig.Next(Closed)
	assert.NoError(t, err)

	_, err = Closed.Next(Streaming)
	assert.Error(t, err)
	_, err = Streaming.Next(AwaitingConfig)
	assert.Error(t, err)
	assert.Equal(t, "STREAMING", Streaming.String())
}

func TestJSONEnvelopeShape(t *testing.T) {
	data, err := JSONCodec{}.Encode(Envelope{Frame: []byte{0xff, 0xd8, 0x01}, Entries: 3, Exits: 1})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "/9gB", raw["frame"])
	assert.Equal(t, 3.0, raw["entries"])
	assert.Equal(t, 1.0, raw["exits"])
	assert.Len(t, raw, 3)
}

func TestDecodeBothFormats(t *testing.T) {
	want := Envelope{Frame: []byte("jpegbytes"), Entries: 5, Exits: 2}
	for _, codec := range []Codec{JSONCodec{}, ProtobufCodec{}} {
		data, err := codec.Encode(want)
		require.NoError(t, err)
		got, err := Decode(codec.Kind(), data)
		require.NoError(t, err, codec.Name())
		assert.Equal(t, want, got, codec.Name())
	}
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode(Text, []byte("not json"))
	assert.ErrorIs(t, err, ErrMalformed)

	env, err := Decode(Text, []byte(`{"entries": 4, "exits": 1}`))
	assert.ErrorIs(t, err, ErrNoFrame)
	assert.Equal(t, 4, env.Entries)

	_, err = Decode(Text, []byte(`{"frame": "***", "entries": 0, "exits": 0}`))
	assert.ErrorIs(t, err, ErrBadFrame)

	_, err = Decode(Binary, []byte{0xff, 0xff, 0xff})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestCodecFor(t *testing.T) {
	assert.Equal(t, FormatProtobuf, CodecFor("protobuf").Name())
	assert.Equal(t, FormatProtobuf, CodecFor("application/x-protobuf").Name())
	assert.Equal(t, FormatJSON, CodecFor("").Name())
	assert.Equal(t, FormatJSON, CodecFor("xml").Name())
}
