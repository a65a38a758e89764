package messagequeue

import "time"

// Command types understood by the voice worker.
const (
	CommandTakeover = "takeover"
	CommandRelease  = "release"
)

// CommandPayload is the schema for guardian.commands.{session} messages.
// The command bus is the authoritative delivery channel for control
// transfer; the room data broadcast is best-effort redundancy.
type CommandPayload struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}
