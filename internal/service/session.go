package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxguard/guardian/internal/config"
	"github.com/voxguard/guardian/internal/domain"
	"github.com/voxguard/guardian/internal/domain/risk"
	"github.com/voxguard/guardian/internal/domain/session"
	"github.com/voxguard/guardian/internal/port/database"
)

// SessionService applies worker events to the session store and serves
// dashboard queries. All apply methods tolerate replays and out-of-order
// delivery: they converge on the same row state regardless of arrival order.
type SessionService struct {
	store   database.Store
	configs *ConfigService
	cfg     config.Guardian
}

// NewSessionService creates a SessionService.
func NewSessionService(store database.Store, configs *ConfigService, cfg config.Guardian) *SessionService {
	return &SessionService{store: store, configs: configs, cfg: cfg}
}

// HandleStart registers a new live session. A second session_start for a
// room that already has a live session is a no-op; the existing session
// stays untouched.
func (s *SessionService) HandleStart(ctx context.Context, ev *session.StartEvent) error {
	existing, err := s.store.FindActiveSessionByRoom(ctx, ev.RoomName)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("find session for room %s: %w", ev.RoomName, err)
	}
	if existing != nil {
		slog.Debug("duplicate session_start ignored",
			"session_id", ev.SessionID, "room", ev.RoomName, "existing", existing.ID)
		return nil
	}

	sess := &session.Session{
		ID:            ev.SessionID,
		RoomName:      ev.RoomName,
		AgentConfigID: ev.AgentConfigID,
		Status:        session.StatusActive,
		MaxRiskLevel:  risk.LevelLow,
		Metadata:      session.EnrichMetadata(ev.Metadata),
		StartedAt:     time.Now(),
	}

	// The partial unique index on live rooms is the backstop for two
	// session_start events racing past the lookup.
	err = s.store.CreateSession(ctx, sess)
	if errors.Is(err, domain.ErrDuplicateSession) {
		slog.Debug("duplicate session_start ignored",
			"session_id", ev.SessionID, "room", ev.RoomName)
		return nil
	}
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	slog.Info("session started", "session_id", ev.SessionID, "room", ev.RoomName)
	return nil
}

// HandleEnd completes a session, applying final metrics when the worker
// supplied them. Ending an unknown or already-completed session is a no-op.
func (s *SessionService) HandleEnd(ctx context.Context, ev *session.EndEvent) error {
	err := s.store.CompleteSession(ctx, ev.SessionID, time.Now(), ev.AvgSentiment, ev.MessageCount)
	if err != nil {
		return fmt.Errorf("complete session %s: %w", ev.SessionID, err)
	}
	slog.Info("session ended", "session_id", ev.SessionID)
	return nil
}

// HandleSentiment folds one scored utterance into the session and runs the
// keyword classifier over its text. A risk match appends a RISK_DETECTED
// event and raises the session risk level; a positive-keyword match above
// the positive threshold appends a KEYWORD_MATCH event; a rolling average
// at or below the handoff threshold appends a SENTIMENT_ALERT. A neutral
// utterance updates the metrics only.
func (s *SessionService) HandleSentiment(ctx context.Context, ev *session.SentimentEvent) error {
	sess, err := s.store.GetSession(ctx, ev.SessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			slog.Warn("sentiment_update for unknown session", "session_id", ev.SessionID)
			return nil
		}
		return fmt.Errorf("get session %s: %w", ev.SessionID, err)
	}

	if err := s.store.ApplySentiment(ctx, ev.SessionID, ev.Sentiment); err != nil {
		return fmt.Errorf("apply sentiment: %w", err)
	}

	ac, err := s.configs.Get(ctx, sess.AgentConfigID)
	if err != nil {
		return fmt.Errorf("load risk config: %w", err)
	}

	res := risk.Classify(ev.Text, ac.Config)
	category := speakerCategory(ev.Speaker)

	switch {
	case res.Level.Exceeds(risk.LevelLow):
		if err := s.appendEvent(ctx, &session.Event{
			SessionID: ev.SessionID,
			EventType: session.EventRiskDetected,
			RiskLevel: res.Level,
			Sentiment: ev.Sentiment,
			Text:      ev.Text,
			Keywords:  res.Matched,
			Category:  category,
			Source:    "classifier",
		}); err != nil {
			return err
		}
		if err := s.store.RaiseRiskLevel(ctx, ev.SessionID, res.Level); err != nil {
			return fmt.Errorf("raise risk level: %w", err)
		}

	case len(res.PositiveMatches) > 0 && ev.Sentiment >= ac.Config.PositiveAlertThreshold:
		if err := s.appendEvent(ctx, &session.Event{
			SessionID: ev.SessionID,
			EventType: session.EventKeywordMatch,
			RiskLevel: risk.LevelLow,
			Sentiment: ev.Sentiment,
			Text:      ev.Text,
			Keywords:  res.PositiveMatches,
			Category:  category,
			Source:    "classifier",
		}); err != nil {
			return err
		}
	}

	// Rolling-average handoff check uses the state after this utterance.
	updated, err := s.store.GetSession(ctx, ev.SessionID)
	if err != nil {
		return fmt.Errorf("reload session %s: %w", ev.SessionID, err)
	}
	if updated.AvgSentiment <= ac.Config.AutoHandoffThreshold && !updated.HumanActive {
		if err := s.appendEvent(ctx, &session.Event{
			SessionID: ev.SessionID,
			EventType: session.EventSentimentAlert,
			RiskLevel: risk.LevelHigh,
			Sentiment: updated.AvgSentiment,
			Text:      ev.Text,
			Category:  category,
			Source:    "sentiment",
		}); err != nil {
			return err
		}
		if err := s.store.RaiseRiskLevel(ctx, ev.SessionID, risk.LevelHigh); err != nil {
			return fmt.Errorf("raise risk level: %w", err)
		}
	}

	return nil
}

// HandleRisk records a risk signal the worker detected on its own, trusting
// its level and keywords verbatim.
func (s *SessionService) HandleRisk(ctx context.Context, ev *session.RiskEvent) error {
	level := risk.ParseLevel(ev.Level)

	var sentiment float64
	if ev.Sentiment != nil {
		sentiment = *ev.Sentiment
	}

	category := ev.Category
	if category == "" {
		category = session.CategoryUnknown
	}

	if err := s.appendEvent(ctx, &session.Event{
		SessionID: ev.SessionID,
		EventType: session.EventRiskDetected,
		RiskLevel: level,
		Sentiment: sentiment,
		Text:      ev.Text,
		Keywords:  ev.Keywords,
		Category:  category,
		Source:    "worker",
	}); err != nil {
		return err
	}

	if err := s.store.RaiseRiskLevel(ctx, ev.SessionID, level); err != nil {
		return fmt.Errorf("raise risk level: %w", err)
	}
	return nil
}

func (s *SessionService) appendEvent(ctx context.Context, e *session.Event) error {
	if err := s.store.CreateEvent(ctx, e); err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

// speakerCategory maps the worker-reported speaker onto the stored
// category. The speaker field is authoritative; absence is stored as
// "unknown", never guessed from the text.
func speakerCategory(speaker string) string {
	if speaker == "" {
		return session.CategoryUnknown
	}
	return speaker
}

// --- Queries ---

// List returns sessions matching the filter.
func (s *SessionService) List(ctx context.Context, filter session.ListFilter) ([]session.Session, error) {
	return s.store.ListSessions(ctx, filter)
}

// Get returns one session by ID.
func (s *SessionService) Get(ctx context.Context, id string) (*session.Session, error) {
	return s.store.GetSession(ctx, id)
}

// Events returns a page of events for one session, oldest first.
func (s *SessionService) Events(ctx context.Context, sessionID string, limit, offset int) ([]session.Event, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListSessionEvents(ctx, sessionID, limit, offset)
}

// Stats returns the dashboard aggregates.
func (s *SessionService) Stats(ctx context.Context) (*session.Stats, error) {
	return s.store.GetStats(ctx, time.Now().Add(-s.cfg.EventWindow))
}

// Snapshot assembles the initial dashboard state: live sessions, recent
// events, and aggregates. The three reads are independent, so they run
// concurrently on the pool.
func (s *SessionService) Snapshot(ctx context.Context) (*session.Snapshot, error) {
	since := time.Now().Add(-s.cfg.EventWindow)

	var snap session.Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sessions, err := s.store.ListLiveSessions(gctx, s.cfg.SnapshotSessions)
		if err != nil {
			return fmt.Errorf("list live sessions: %w", err)
		}
		snap.Sessions = sessions
		return nil
	})
	g.Go(func() error {
		events, err := s.store.ListRecentEvents(gctx, since, s.cfg.SnapshotEvents)
		if err != nil {
			return fmt.Errorf("list recent events: %w", err)
		}
		snap.Events = events
		return nil
	})
	g.Go(func() error {
		stats, err := s.store.GetStats(gctx, since)
		if err != nil {
			return fmt.Errorf("get stats: %w", err)
		}
		snap.Stats = *stats
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Reconcile force-completes sessions that went stale (no session_end
// arrived) and then takes a fresh snapshot, so the caller never reports a
// session the sweep just closed.
func (s *SessionService) Reconcile(ctx context.Context) (*session.Snapshot, error) {
	cutoff := time.Now().Add(-s.cfg.StaleAfter)
	n, err := s.store.CompleteStaleSessions(ctx, cutoff)
	if err != nil {
		slog.Warn("stale session sweep failed", "error", err)
	} else if n > 0 {
		slog.Info("completed stale sessions", "count", n)
	}
	return s.Snapshot(ctx)
}
