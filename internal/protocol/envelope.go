package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// MessageKind is the framing of one transport record. The values match the
// websocket opcodes.
type MessageKind int

const (
	Text   MessageKind = 1
	Binary MessageKind = 2
)

var (
	// ErrMalformed means the record is not the expected structured payload.
	ErrMalformed = errors.New("malformed frame message")
	// ErrNoFrame means the record parsed but carries no image.
	ErrNoFrame = errors.New("frame message without image")
	// ErrBadFrame means the image field could not be decoded to bytes.
	ErrBadFrame = errors.New("frame payload is not valid base64")
)

// Envelope is one transmitted frame: the compressed image plus the totals at
// the time it was produced.
type Envelope struct {
	Frame   []byte
	Entries int
	Exits   int
}

// Codec encodes envelopes for one wire format.
type Codec interface {
	Name() string
	Kind() MessageKind
	Encode(Envelope) ([]byte, error)
}

// Format names accepted by CodecFor
const (
	FormatJSON     = "json"
	FormatProtobuf = "protobuf"
)

// CodecFor returns the codec for a format name; unknown names get JSON.
func CodecFor(name string) Codec {
	switch strings.ToLower(name) {
	case FormatProtobuf, "proto", "pb", "application/protobuf", "application/x-protobuf":
		return ProtobufCodec{}
	default:
		return JSONCodec{}
	}
}

// Decode parses a frame record, picking the format from its framing.
func Decode(kind MessageKind, data []byte) (Envelope, error) {
	if kind == Binary {
		return ProtobufCodec{}.Decode(data)
	}
	return JSONCodec{}.Decode(data)
}

// JSONCodec sends {"frame": base64, "entries": n, "exits": n} text records.
type JSONCodec struct{}

type jsonEnvelope struct {
	Frame   *string `json:"frame"`
	Entries int     `json:"entries"`
	Exits   int     `json:"exits"`
}

func (JSONCodec) Name() string      { return FormatJSON }
func (JSONCodec) Kind() MessageKind { return Text }

func (JSONCodec) Encode(e Envelope) ([]byte, error) {
	frame := base64.StdEncoding.EncodeToString(e.Frame)
	return json.Marshal(jsonEnvelope{Frame: &frame, Entries: e.Entries, Exits: e.Exits})
}

func (JSONCodec) Decode(data []byte) (Envelope, error) {
	var msg jsonEnvelope
	if err := json.Unmarshal(data, &msg); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	out := Envelope{Entries: msg.Entries, Exits: msg.Exits}
	if msg.Frame == nil {
		return out, ErrNoFrame
	}
	frame, err := base64.StdEncoding.DecodeString(*msg.Frame)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	out.Frame = frame
	return out, nil
}

// ProtobufCodec sends the same keys as a google.protobuf.Struct in binary
// records.
type ProtobufCodec struct{}

func (ProtobufCodec) Name() string      { return FormatProtobuf }
func (ProtobufCodec) Kind() MessageKind { return Binary }

func (ProtobufCodec) Encode(e Envelope) ([]byte, error) {
	msg, err := structpb.NewStruct(map[string]any{
		"frame":   base64.StdEncoding.EncodeToString(e.Frame),
		"entries": e.Entries,
		"exits":   e.Exits,
	})
	if err != nil {
		return nil, fmt.Errorf("build frame struct: %w", err)
	}
	return proto.Marshal(msg)
}

func (ProtobufCodec) Decode(data []byte) (Envelope, error) {
	var msg structpb.Struct
	if err := proto.Unmarshal(data, &msg); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	fields := msg.GetFields()
	out := Envelope{
		Entries: int(fields["entries"].GetNumberValue()),
		Exits:   int(fields["exits"].GetNumberValue()),
	}
	frameValue, ok := fields["frame"]
	if !ok {
		return out, ErrNoFrame
	}
	frame, err := base64.StdEncoding.DecodeString(frameValue.GetStringValue())
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	out.Frame = frame
	return out, nil
}
