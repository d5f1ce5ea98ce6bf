package voip

import "time"

// TalkState is the talking hysteresis state.
type TalkState int

const (
	// Silent means no packet has been produced within the threshold.
	Silent TalkState = iota

	// Talking means packets are being produced.
	Talking
)

// String returns the human-readable name of the state.
func (s TalkState) String() string {
	if s == Talking {
		return "talking"
	}
	return "silent"
}

// Hysteresis turns packet production into start/stop-talking edges. A
// single packet starts talking; talking stops only once no packet has been
// seen for the threshold.
//
// Times are stream times: offsets from an arbitrary origin that only move
// forward.
type Hysteresis struct {
	threshold time.Duration
	state     TalkState
	lastSeen  time.Duration
}

// NewHysteresis returns a Silent Hysteresis.
func NewHysteresis(threshold time.Duration) *Hysteresis {
	return &Hysteresis{threshold: threshold}
}

// Packet records a packet at now and reports whether talking started.
func (h *Hysteresis) Packet(now time.Duration) (started bool) {
	h.lastSeen = now
	if h.state == Talking {
		return false
	}
	h.state = Talking
	return true
}

// Silence records a tick without audio at now and reports whether talking
// stopped.
func (h *Hysteresis) Silence(now time.Duration) (stopped bool) {
	if h.state != Talking || now-h.lastSeen < h.threshold {
		return false
	}
	h.state = Silent
	return true
}

// State returns the current state.
func (h *Hysteresis) State() TalkState { return h.state }

// SetThreshold changes the stop threshold. It takes effect on the next
// Silence call.
func (h *Hysteresis) SetThreshold(d time.Duration) { h.threshold = d }

// Reset returns to Silent without emitting an edge.
func (h *Hysteresis) Reset() {
	h.state = Silent
	h.lastSeen = 0
}
