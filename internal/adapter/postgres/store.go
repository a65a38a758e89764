package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxguard/guardian/internal/domain"
	"github.com/voxguard/guardian/internal/domain/risk"
	"github.com/voxguard/guardian/internal/domain/session"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// riskRank maps a risk level column or parameter to its numeric rank inline
// in SQL, so monotonic updates stay a single atomic statement.
func riskRank(expr string) string {
	return `(CASE ` + expr + ` WHEN 'CRITICAL' THEN 3 WHEN 'HIGH' THEN 2 WHEN 'MEDIUM' THEN 1 ELSE 0 END)`
}

// --- Sessions ---

const sessionColumns = `id, room_name, COALESCE(agent_config_id, ''), status, human_active, takeover_at,
	message_count, avg_sentiment, min_sentiment, max_risk_level, metadata, started_at, ended_at`

func scanSession(row scannable) (session.Session, error) {
	var (
		s        session.Session
		status   string
		level    string
		metadata []byte
	)
	err := row.Scan(
		&s.ID, &s.RoomName, &s.AgentConfigID, &status, &s.HumanActive, &s.TakeoverAt,
		&s.MessageCount, &s.AvgSentiment, &s.MinSentiment, &level, &metadata, &s.StartedAt, &s.EndedAt,
	)
	if err != nil {
		return session.Session{}, err
	}
	s.Status = session.Status(status)
	s.MaxRiskLevel = risk.Level(level)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &s.Metadata); err != nil {
			return session.Session{}, fmt.Errorf("unmarshal session metadata: %w", err)
		}
	}
	return s, nil
}

func (s *Store) CreateSession(ctx context.Context, sess *session.Session) error {
	metadata := []byte("{}")
	if sess.Metadata != nil {
		var err error
		metadata, err = json.Marshal(sess.Metadata)
		if err != nil {
			return fmt.Errorf("marshal session metadata: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO guardian_sessions (id, room_name, agent_config_id, status, max_risk_level, metadata, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sess.ID, sess.RoomName, nullIfEmpty(sess.AgentConfigID), string(sess.Status),
		string(sess.MaxRiskLevel), metadata, sess.StartedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		// 23505 covers both the primary key and the one-live-session-per-room
		// partial unique index.
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("create session %s: %w", sess.ID, domain.ErrDuplicateSession)
		}
		return fmt.Errorf("create session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*session.Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM guardian_sessions WHERE id = $1`, id)
	sess, err := scanSession(row)
	if err != nil {
		return nil, notFoundWrap(err, "get session %s", id)
	}
	return &sess, nil
}

func (s *Store) FindActiveSessionByRoom(ctx context.Context, roomName string) (*session.Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM guardian_sessions
		 WHERE room_name = $1 AND status IN ('active', 'takeover')`, roomName)
	sess, err := scanSession(row)
	if err != nil {
		return nil, notFoundWrap(err, "find active session for room %s", roomName)
	}
	return &sess, nil
}

func (s *Store) ListSessions(ctx context.Context, filter session.ListFilter) ([]session.Session, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := `SELECT ` + sessionColumns + ` FROM guardian_sessions`
	args := []any{}
	if filter.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(filter.Status))
	}
	query += fmt.Sprintf(` ORDER BY started_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, filter.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return orEmpty(sessions), rows.Err()
}

func (s *Store) ListLiveSessions(ctx context.Context, limit int) ([]session.Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM guardian_sessions
		 WHERE status IN ('active', 'takeover')
		 ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list live sessions: %w", err)
	}
	defer rows.Close()

	var sessions []session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return orEmpty(sessions), rows.Err()
}

func (s *Store) CompleteSession(ctx context.Context, id string, endedAt time.Time, avgSentiment *float64, messageCount *int) error {
	// Zero rows affected means the session is already completed (or never
	// existed); completion is idempotent either way.
	_, err := s.pool.Exec(ctx,
		`UPDATE guardian_sessions
		 SET status = 'completed', human_active = FALSE, ended_at = $2,
		     avg_sentiment = COALESCE($3, avg_sentiment),
		     message_count = COALESCE($4, message_count)
		 WHERE id = $1 AND status <> 'completed'`,
		id, endedAt, avgSentiment, messageCount)
	if err != nil {
		return fmt.Errorf("complete session %s: %w", id, err)
	}
	return nil
}

func (s *Store) ApplySentiment(ctx context.Context, id string, sentiment float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE guardian_sessions
		 SET avg_sentiment = $2,
		     min_sentiment = CASE WHEN message_count = 0 THEN $2 ELSE LEAST(min_sentiment, $2) END,
		     message_count = message_count + 1
		 WHERE id = $1`,
		id, sentiment)
	return execExpectOne(tag, err, "apply sentiment to session %s", id)
}

func (s *Store) RaiseRiskLevel(ctx context.Context, id string, level risk.Level) error {
	// Monotonic: only ever raises the stored level, so concurrent writers
	// converge on the maximum regardless of arrival order.
	_, err := s.pool.Exec(ctx,
		`UPDATE guardian_sessions SET max_risk_level = $2
		 WHERE id = $1 AND `+riskRank("max_risk_level")+` < `+riskRank("$2"),
		id, string(level))
	if err != nil {
		return fmt.Errorf("raise risk level for session %s: %w", id, err)
	}
	return nil
}

func (s *Store) SetTakeover(ctx context.Context, id string, takeoverAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE guardian_sessions
		 SET status = 'takeover', human_active = TRUE, takeover_at = $2
		 WHERE id = $1 AND status IN ('active', 'takeover')`,
		id, takeoverAt)
	return execExpectOne(tag, err, "set takeover on session %s", id)
}

func (s *Store) ReleaseTakeover(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE guardian_sessions
		 SET status = 'active', human_active = FALSE, takeover_at = NULL
		 WHERE id = $1 AND status = 'takeover'`,
		id)
	return execExpectOne(tag, err, "release takeover on session %s", id)
}

func (s *Store) CompleteStaleSessions(ctx context.Context, cutoff time.Time) (int, error) {
	// Only AI-controlled sessions are swept; a human takeover is live by
	// definition no matter how old the call is.
	tag, err := s.pool.Exec(ctx,
		`UPDATE guardian_sessions
		 SET status = 'completed', ended_at = NOW()
		 WHERE status = 'active' AND started_at < $1`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("complete stale sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// --- Events ---

const eventColumns = `id, session_id, event_type, risk_level, sentiment, text, keywords, category, source, created_at`

func scanEvent(row scannable) (session.Event, error) {
	var (
		e     session.Event
		etype string
		level string
	)
	err := row.Scan(&e.ID, &e.SessionID, &etype, &level, &e.Sentiment, &e.Text, &e.Keywords, &e.Category, &e.Source, &e.CreatedAt)
	if err != nil {
		return session.Event{}, err
	}
	e.EventType = session.EventType(etype)
	e.RiskLevel = risk.Level(level)
	return e, nil
}

func (s *Store) CreateEvent(ctx context.Context, e *session.Event) error {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO guardian_events (session_id, event_type, risk_level, sentiment, text, keywords, category, source)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at`,
		e.SessionID, string(e.EventType), string(e.RiskLevel), e.Sentiment, e.Text,
		pgTextArray(e.Keywords), e.Category, e.Source)
	if err := row.Scan(&e.ID, &e.CreatedAt); err != nil {
		return fmt.Errorf("create event for session %s: %w", e.SessionID, err)
	}
	return nil
}

func (s *Store) ListSessionEvents(ctx context.Context, sessionID string, limit, offset int) ([]session.Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM guardian_events
		 WHERE session_id = $1 ORDER BY created_at ASC LIMIT $2 OFFSET $3`,
		sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list events for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var events []session.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return orEmpty(events), rows.Err()
}

func (s *Store) ListRecentEvents(ctx context.Context, since time.Time, limit int) ([]session.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM guardian_events
		 WHERE created_at >= $1 ORDER BY created_at DESC LIMIT $2`,
		since, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent events: %w", err)
	}
	defer rows.Close()

	var events []session.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return orEmpty(events), rows.Err()
}

// --- Stats ---

func (s *Store) GetStats(ctx context.Context, riskSince time.Time) (*session.Stats, error) {
	var stats session.Stats
	err := s.pool.QueryRow(ctx,
		`SELECT
		   COUNT(*) FILTER (WHERE status IN ('active', 'takeover')),
		   COUNT(*) FILTER (WHERE status = 'takeover'),
		   COALESCE(AVG(avg_sentiment) FILTER (WHERE status IN ('active', 'takeover')), 0)
		 FROM guardian_sessions`).
		Scan(&stats.ActiveSessions, &stats.TakeoverSessions, &stats.AvgSentiment)
	if err != nil {
		return nil, fmt.Errorf("session stats: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM guardian_events
		 WHERE created_at >= $1 AND risk_level <> 'LOW'`, riskSince).
		Scan(&stats.RiskEvents24h)
	if err != nil {
		return nil, fmt.Errorf("risk event count: %w", err)
	}
	return &stats, nil
}
