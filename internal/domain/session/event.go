package session

import (
	"time"

	"github.com/voxguard/guardian/internal/domain/risk"
)

// EventType classifies a stored guardian event.
type EventType string

const (
	EventKeywordMatch   EventType = "KEYWORD_MATCH"
	EventRiskDetected   EventType = "RISK_DETECTED"
	EventSentimentAlert EventType = "SENTIMENT_ALERT"
)

// CategoryUnknown is recorded when the source message carries no speaker.
// The speaker is never inferred; absence is stored explicitly.
const CategoryUnknown = "unknown"

// Event is one observed utterance or risk signal within a session.
// Events are immutable once written and ordered by CreatedAt for
// transcript reconstruction.
type Event struct {
	ID        string     `json:"id"`
	SessionID string     `json:"session_id"`
	EventType EventType  `json:"event_type"`
	RiskLevel risk.Level `json:"risk_level"`
	Sentiment float64    `json:"sentiment"`
	Text      string     `json:"text,omitempty"`
	Keywords  []string   `json:"keywords,omitempty"`
	Category  string     `json:"category"`
	Source    string     `json:"source"`
	CreatedAt time.Time  `json:"created_at"`
}
