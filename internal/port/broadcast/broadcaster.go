// Package broadcast defines the port for broadcasting real-time events to connected clients.
package broadcast

import "context"

// Frame type constants for stream messages.
const (
	FrameInit          = "init"
	FrameGuardianEvent = "guardian_event"
	FrameStatsUpdate   = "stats_update"
)

// GuardianEventFrame is the payload for locally-originated guardian_event
// frames (takeover and release). Worker-originated events are forwarded on
// the wire verbatim.
type GuardianEventFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Source    string `json:"source"`
}

// Broadcaster sends real-time events to all connected clients.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to all connected clients.
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}
