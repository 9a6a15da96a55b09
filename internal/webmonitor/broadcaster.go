package webmonitor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/people-counter/internal/logger"
)

// FrameBroadcaster manages fanout of JPEG frames to multiple clients.
type FrameBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan []byte
	nextID  int
	dropped uint64
}

// NewFrameBroadcaster creates an empty broadcaster.
func NewFrameBroadcaster() *FrameBroadcaster {
	return &FrameBroadcaster{
		clients: make(map[int]chan []byte),
	}
}

// Subscribe adds a new client and returns a channel for receiving frames.
func (fb *FrameBroadcaster) Subscribe() (int, <-chan []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	id := fb.nextID
	fb.nextID++
	ch := make(chan []byte, 2) // Buffer 2 frames to avoid blocking
	fb.clients[id] = ch

	logger.Debug("FrameBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(fb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (fb *FrameBroadcaster) Unsubscribe(id int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if ch, ok := fb.clients[id]; ok {
		close(ch)
		delete(fb.clients, id)
		logger.Debug("FrameBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(fb.clients))
	}
}

// Clients returns the number of subscribed clients.
func (fb *FrameBroadcaster) Clients() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.clients)
}

// Publish sends a frame to every client. Slow clients skip the frame.
func (fb *FrameBroadcaster) Publish(data []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	for _, ch := range fb.clients {
		select {
		case ch <- data:
		default:
			fb.dropped++
		}
	}
}

// Close disconnects every client.
func (fb *FrameBroadcaster) Close() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	for id, ch := range fb.clients {
		close(ch)
		delete(fb.clients, id)
	}
}

// SerializedEvent holds pre-serialized data in both formats.
// This avoids redundant serialization when broadcasting to multiple clients.
type SerializedEvent struct {
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // Pre-serialized Protobuf (base64 encoded for SSE)
}

// NewCounterEvent serializes a counter event in both formats.
func NewCounterEvent(ev CounterEvent) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal counter event: %w", err)
	}

	msg, err := structpb.NewStruct(map[string]any{
		"entries":   ev.Entries,
		"exits":     ev.Exits,
		"timestamp": ev.Timestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("build counter struct: %w", err)
	}
	pbData, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal counter struct: %w", err)
	}

	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}

// EventBroadcaster manages fanout of serialized events to multiple SSE clients.
// New subscribers receive the last published event first.
type EventBroadcaster struct {
	name    string
	mu      sync.Mutex
	clients map[int]chan *SerializedEvent
	nextID  int
	last    *SerializedEvent
}

// NewEventBroadcaster creates a broadcaster; name tags its log lines.
func NewEventBroadcaster(name string) *EventBroadcaster {
	return &EventBroadcaster{
		name:    name,
		clients: make(map[int]chan *SerializedEvent),
	}
}

// Subscribe adds a new client and returns a channel for receiving events.
func (eb *EventBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	id := eb.nextID
	eb.nextID++
	ch := make(chan *SerializedEvent, 8)
	if eb.last != nil {
		ch <- eb.last
	}
	eb.clients[id] = ch

	logger.Debug(eb.name, "Client #%d subscribed (total clients: %d)", id, len(eb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (eb *EventBroadcaster) Unsubscribe(id int) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if ch, ok := eb.clients[id]; ok {
		close(ch)
		delete(eb.clients, id)
		logger.Debug(eb.name, "Client #%d unsubscribed (remaining clients: %d)", id, len(eb.clients))
	}
}

// Publish sends an event to every client. Slow clients skip the event.
func (eb *EventBroadcaster) Publish(event *SerializedEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.last = event
	for _, ch := range eb.clients {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close disconnects every client.
func (eb *EventBroadcaster) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	for id, ch := range eb.clients {
		close(ch)
		delete(eb.clients, id)
	}
}
