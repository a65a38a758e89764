// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/voxguard/guardian/internal/domain/risk"
	"github.com/voxguard/guardian/internal/domain/session"
	"github.com/voxguard/guardian/internal/domain/user"
)

// Store is the port interface for database operations.
//
// Session mutations are expressed as conditional or monotonic updates so
// concurrent writers converge regardless of arrival order; the database's
// row-level atomicity is the only serialization point.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, s *session.Session) error
	GetSession(ctx context.Context, id string) (*session.Session, error)
	FindActiveSessionByRoom(ctx context.Context, roomName string) (*session.Session, error)
	ListSessions(ctx context.Context, filter session.ListFilter) ([]session.Session, error)
	ListLiveSessions(ctx context.Context, limit int) ([]session.Session, error)

	// CompleteSession marks the session completed with the given end time,
	// applying final metrics when supplied. Completing an already-completed
	// session is a no-op.
	CompleteSession(ctx context.Context, id string, endedAt time.Time, avgSentiment *float64, messageCount *int) error

	// ApplySentiment sets avg_sentiment, lowers min_sentiment if the new
	// value is lower, and increments message_count.
	ApplySentiment(ctx context.Context, id string, sentiment float64) error

	// RaiseRiskLevel raises max_risk_level only if level is strictly higher
	// in the ordering LOW < MEDIUM < HIGH < CRITICAL. Never lowers it.
	RaiseRiskLevel(ctx context.Context, id string, level risk.Level) error

	// SetTakeover marks the session human-controlled; ReleaseTakeover
	// returns it to active AI control.
	SetTakeover(ctx context.Context, id string, takeoverAt time.Time) error
	ReleaseTakeover(ctx context.Context, id string) error

	// CompleteStaleSessions force-completes active sessions started before
	// cutoff and returns how many rows changed.
	CompleteStaleSessions(ctx context.Context, cutoff time.Time) (int, error)

	// Events (append-only)
	CreateEvent(ctx context.Context, e *session.Event) error
	ListSessionEvents(ctx context.Context, sessionID string, limit, offset int) ([]session.Event, error)
	ListRecentEvents(ctx context.Context, since time.Time, limit int) ([]session.Event, error)

	// Stats aggregates live-session counts, 24h risk events, and the
	// average sentiment across live sessions.
	GetStats(ctx context.Context, riskSince time.Time) (*session.Stats, error)

	// Guardian configs
	GetAgentConfig(ctx context.Context, agentID string) (*risk.AgentConfig, error)
	UpsertAgentConfig(ctx context.Context, agentID string, cfg risk.Config) (*risk.AgentConfig, error)

	// Users
	CreateUser(ctx context.Context, u *user.User) error
	GetUserByID(ctx context.Context, id string) (*user.User, error)
	GetUserByEmail(ctx context.Context, email string) (*user.User, error)
	ListUsers(ctx context.Context) ([]user.User, error)
	UpdateUserPassword(ctx context.Context, id, passwordHash string) error
}
