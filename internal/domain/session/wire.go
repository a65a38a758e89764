package session

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Wire event types published by the voice worker on the guardian events
// channel. Messages are a tagged union discriminated by the "type" field.
const (
	WireSessionStart    = "session_start"
	WireSessionEnd      = "session_end"
	WireSentimentUpdate = "sentiment_update"
	WireRiskDetected    = "risk_detected"
)

// ErrUnknownEventType indicates a message whose type tag is not one of the
// known variants. Such messages are logged and dropped, never fatal.
var ErrUnknownEventType = errors.New("unknown event type")

// StartEvent announces a new call. The worker assigns the session ID.
type StartEvent struct {
	SessionID     string         `json:"session_id"`
	RoomName      string         `json:"room_name"`
	AgentConfigID string         `json:"agent_config_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// EndEvent terminates a call, optionally carrying final metrics.
type EndEvent struct {
	SessionID    string   `json:"session_id"`
	AvgSentiment *float64 `json:"avg_sentiment,omitempty"`
	MessageCount *int     `json:"message_count,omitempty"`
}

// SentimentEvent carries one scored utterance. Speaker is taken verbatim
// from the worker; it is never inferred downstream.
type SentimentEvent struct {
	SessionID string  `json:"session_id"`
	Sentiment float64 `json:"sentiment"`
	Text      string  `json:"text,omitempty"`
	Speaker   string  `json:"speaker,omitempty"`
}

// RiskEvent carries a risk signal the worker detected on its own.
type RiskEvent struct {
	SessionID string   `json:"session_id"`
	Level     string   `json:"level"`
	Sentiment *float64 `json:"sentiment,omitempty"`
	Text      string   `json:"text,omitempty"`
	Keywords  []string `json:"keywords,omitempty"`
	Category  string   `json:"category,omitempty"`
}

// WorkerEvent is the parsed form of one wire message. Exactly one of the
// variant pointers is non-nil, matching Type.
type WorkerEvent struct {
	Type      string
	Start     *StartEvent
	End       *EndEvent
	Sentiment *SentimentEvent
	Risk      *RiskEvent
}

// SessionID returns the session the event refers to, regardless of variant.
func (e *WorkerEvent) SessionID() string {
	switch e.Type {
	case WireSessionStart:
		return e.Start.SessionID
	case WireSessionEnd:
		return e.End.SessionID
	case WireSentimentUpdate:
		return e.Sentiment.SessionID
	case WireRiskDetected:
		return e.Risk.SessionID
	}
	return ""
}

// ParseWorkerEvent decodes and validates one wire message. Unknown types and
// messages missing a session ID are rejected with an error so the ingress
// loop can drop them without crashing.
func ParseWorkerEvent(data []byte) (*WorkerEvent, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	ev := &WorkerEvent{Type: envelope.Type}
	switch envelope.Type {
	case WireSessionStart:
		ev.Start = &StartEvent{}
		if err := json.Unmarshal(data, ev.Start); err != nil {
			return nil, fmt.Errorf("decode session_start: %w", err)
		}
		if ev.Start.RoomName == "" {
			return nil, errors.New("session_start missing room_name")
		}
	case WireSessionEnd:
		ev.End = &EndEvent{}
		if err := json.Unmarshal(data, ev.End); err != nil {
			return nil, fmt.Errorf("decode session_end: %w", err)
		}
	case WireSentimentUpdate:
		ev.Sentiment = &SentimentEvent{}
		if err := json.Unmarshal(data, ev.Sentiment); err != nil {
			return nil, fmt.Errorf("decode sentiment_update: %w", err)
		}
		if ev.Sentiment.Sentiment < -1 || ev.Sentiment.Sentiment > 1 {
			return nil, fmt.Errorf("sentiment %v out of range [-1,1]", ev.Sentiment.Sentiment)
		}
	case WireRiskDetected:
		ev.Risk = &RiskEvent{}
		if err := json.Unmarshal(data, ev.Risk); err != nil {
			return nil, fmt.Errorf("decode risk_detected: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, envelope.Type)
	}

	if ev.SessionID() == "" {
		return nil, fmt.Errorf("%s missing session_id", envelope.Type)
	}
	return ev, nil
}
