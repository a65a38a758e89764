// Package session defines the core domain model for monitored voice calls:
// sessions, the events observed within them, and the wire messages emitted
// by the voice worker.
package session

import (
	"time"

	"github.com/voxguard/guardian/internal/domain/risk"
)

// Status represents the lifecycle state of a monitored session.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusTakeover  Status = "takeover"
)

// ValidStatuses is the set of all valid session statuses.
var ValidStatuses = map[Status]bool{
	StatusActive:    true,
	StatusCompleted: true,
	StatusTakeover:  true,
}

// StaleAfter is the age past which an active session with no session_end is
// assumed orphaned and force-completed by reconciliation.
const StaleAfter = 10 * time.Minute

// Session is one phone call under observation. The ID is assigned by the
// voice worker at call start and is stable for the call's lifetime.
type Session struct {
	ID            string         `json:"id"`
	RoomName      string         `json:"room_name"`
	AgentConfigID string         `json:"agent_config_id,omitempty"`
	Status        Status         `json:"status"`
	HumanActive   bool           `json:"human_active"`
	TakeoverAt    *time.Time     `json:"takeover_at,omitempty"`
	MessageCount  int            `json:"message_count"`
	AvgSentiment  float64        `json:"avg_sentiment"`
	MinSentiment  float64        `json:"min_sentiment"`
	MaxRiskLevel  risk.Level     `json:"max_risk_level"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
	EndedAt       *time.Time     `json:"ended_at,omitempty"`
}

// Live reports whether the session is still in progress, under either AI or
// human control.
func (s *Session) Live() bool {
	return s.Status == StatusActive || s.Status == StatusTakeover
}

// ListFilter narrows session queries.
type ListFilter struct {
	Status Status
	Limit  int
	Offset int
}

// Stats is the aggregate view pushed to dashboards alongside the session list.
type Stats struct {
	ActiveSessions   int     `json:"active_sessions"`
	TakeoverSessions int     `json:"takeover_sessions"`
	RiskEvents24h    int     `json:"risk_events_24h"`
	AvgSentiment     float64 `json:"avg_sentiment"`
}

// Snapshot is the combined view a dashboard needs to render: live sessions,
// recent events, and current aggregates.
type Snapshot struct {
	Sessions []Session `json:"sessions"`
	Events   []Event   `json:"events"`
	Stats    Stats     `json:"stats"`
}
