// Package protocol defines the producer/viewer session: the one-shot
// configuration handshake and the per-frame envelope records that follow it.
package protocol

import "fmt"

// Phase is the state of one producer-side connection.
type Phase int

const (
	AwaitingConfig Phase = iota
	Streaming
	Closed
)

var phaseNames = map[Phase]string{
	AwaitingConfig: "AWAITING_CONFIG",
	Streaming:      "STREAMING",
	Closed:         "CLOSED",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Next validates a transition from p to to and returns to.
// AWAITING_CONFIG may go to STREAMING or directly to CLOSED; STREAMING may
// only close; CLOSED is terminal.
func (p Phase) Next(to Phase) (Phase, error) {
	switch {
	case p == AwaitingConfig && (to == Streaming || to == Closed):
		return to, nil
	case p == Streaming && to == Closed:
		return to, nil
	default:
		return p, fmt.Errorf("invalid transition %s -> %s", p, to)
	}
}
