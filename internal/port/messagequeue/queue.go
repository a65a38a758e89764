// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
// The context carries request-scoped values such as the request ID.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// Each call creates an independent subscription; the returned function
	// cancels it.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	// Pending messages are processed; no new messages are accepted.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subject constants for NATS subjects used by Guardian.
const (
	// SubjectGuardianEvents carries call-lifecycle events from the voice worker.
	SubjectGuardianEvents = "guardian.events"

	// SubjectCommandPrefix is the stem for per-session command subjects.
	// Commands are addressed to the worker owning one session.
	SubjectCommandPrefix = "guardian.commands."
)

// CommandSubject returns the command-bus subject for one session's worker.
func CommandSubject(sessionID string) string {
	return SubjectCommandPrefix + sessionID
}
