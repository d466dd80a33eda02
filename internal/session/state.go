package session

import "time"

// Phase is where a session is in its cycle.
type Phase string

// Session phases.
const (
	PhaseIdle     Phase = "idle"
	PhaseScanning Phase = "scanning"
	PhaseSettled  Phase = "settled"
)

// State is a read-only snapshot of the session.
//
// Attempt counts Begin calls that were admitted; it increases by one on
// every Idle -> Scanning transition. Last is the most recent outcome and
// stays set after the session returns to Idle.
type State struct {
	DeviceID  string    `json:"device_id"`
	Phase     Phase     `json:"phase"`
	Attempt   uint64    `json:"attempt"`
	Last      *Outcome  `json:"last_outcome,omitempty"`
	LatencyMS int64     `json:"latency_ms,omitempty"` // verify round trip of Last
	Message   string    `json:"message,omitempty"`
	Since     time.Time `json:"since"`
}

// message is the kiosk text for the current phase.
func (s State) message() string {
	switch s.Phase {
	case PhaseScanning:
		return "Scanning..."
	case PhaseSettled:
		if s.Last != nil {
			return s.Last.Message()
		}
	}
	return ""
}
