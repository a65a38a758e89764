package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxguard/guardian/internal/adapter/otel"
	"github.com/voxguard/guardian/internal/config"
	"github.com/voxguard/guardian/internal/domain"
	"github.com/voxguard/guardian/internal/domain/session"
	"github.com/voxguard/guardian/internal/domain/user"
	"github.com/voxguard/guardian/internal/port/broadcast"
	"github.com/voxguard/guardian/internal/port/database"
	"github.com/voxguard/guardian/internal/port/messagequeue"
	"github.com/voxguard/guardian/internal/port/room"
)

// TakeoverResult is returned to the operator starting a takeover.
type TakeoverResult struct {
	Session   *session.Session `json:"session"`
	RoomName  string           `json:"room_name"`
	JoinToken string           `json:"join_token"`
}

// TakeoverService transfers control of a live call between the AI agent and
// a human operator. A per-session guard is claimed before any I/O starts,
// so two racing operators can never both dispatch a takeover; exactly one
// wins and the loser gets ErrTakeoverActive.
type TakeoverService struct {
	store database.Store
	queue messagequeue.Queue
	rooms room.Service
	hub   broadcast.Broadcaster
	cfg   config.Guardian

	mu       sync.Mutex
	inFlight map[string]bool

	metrics *otel.Metrics
}

// NewTakeoverService creates a TakeoverService.
func NewTakeoverService(store database.Store, queue messagequeue.Queue, rooms room.Service, hub broadcast.Broadcaster, cfg config.Guardian) *TakeoverService {
	return &TakeoverService{
		store:    store,
		queue:    queue,
		rooms:    rooms,
		hub:      hub,
		cfg:      cfg,
		inFlight: make(map[string]bool),
	}
}

// SetMetrics attaches metric instruments.
func (s *TakeoverService) SetMetrics(m *otel.Metrics) {
	s.metrics = m
}

// Takeover puts a human operator in control of the session. The command bus
// is authoritative, so the store flips only after the publish succeeds; a
// failed dispatch leaves the session untouched. Returns a room join token
// for the operator's client.
func (s *TakeoverService) Takeover(ctx context.Context, sessionID string, operator *user.User) (*TakeoverResult, error) {
	if !s.claim(sessionID) {
		return nil, domain.ErrTakeoverActive
	}
	defer s.release(sessionID)

	ctx, span := otel.StartTakeoverSpan(ctx, messagequeue.CommandTakeover, sessionID)
	defer span.End()

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.HumanActive {
		return nil, domain.ErrTakeoverActive
	}
	if !sess.Live() {
		return nil, fmt.Errorf("%w: session %s is not live", domain.ErrConflict, sessionID)
	}

	if err := s.dispatch(ctx, messagequeue.CommandTakeover, sessionID, sess.RoomName); err != nil {
		return nil, err
	}

	if err := s.store.SetTakeover(ctx, sessionID, time.Now()); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Lost a race with session completion; the worker ignores the
			// command for a session it already closed.
			return nil, fmt.Errorf("%w: session %s is not live", domain.ErrConflict, sessionID)
		}
		return nil, fmt.Errorf("set takeover: %w", err)
	}

	token, err := s.rooms.JoinToken(ctx, room.Grants{
		Room:           sess.RoomName,
		Identity:       "operator-" + operator.ID,
		CanPublish:     true,
		CanSubscribe:   true,
		CanPublishData: true,
	}, s.cfg.JoinTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("issue join token: %w", err)
	}

	updated, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	s.hub.BroadcastEvent(ctx, broadcast.FrameGuardianEvent, broadcast.GuardianEventFrame{
		Type:      messagequeue.CommandTakeover,
		SessionID: sessionID,
		Source:    operator.Email,
	})
	if s.metrics != nil {
		s.metrics.TakeoversStarted.Add(ctx, 1)
	}
	slog.Info("takeover started", "session_id", sessionID, "operator", operator.Email)

	return &TakeoverResult{Session: updated, RoomName: sess.RoomName, JoinToken: token}, nil
}

// Release hands the session back to the AI agent. The session returns to
// active status; it is not completed, the call keeps going.
func (s *TakeoverService) Release(ctx context.Context, sessionID string, operator *user.User) (*session.Session, error) {
	if !s.claim(sessionID) {
		return nil, domain.ErrTakeoverActive
	}
	defer s.release(sessionID)

	ctx, span := otel.StartTakeoverSpan(ctx, messagequeue.CommandRelease, sessionID)
	defer span.End()

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.HumanActive {
		return nil, fmt.Errorf("%w: session %s has no takeover to release", domain.ErrConflict, sessionID)
	}

	if err := s.dispatch(ctx, messagequeue.CommandRelease, sessionID, sess.RoomName); err != nil {
		return nil, err
	}

	if err := s.store.ReleaseTakeover(ctx, sessionID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: session %s has no takeover to release", domain.ErrConflict, sessionID)
		}
		return nil, fmt.Errorf("release takeover: %w", err)
	}

	updated, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	s.hub.BroadcastEvent(ctx, broadcast.FrameGuardianEvent, broadcast.GuardianEventFrame{
		Type:      messagequeue.CommandRelease,
		SessionID: sessionID,
		Source:    operator.Email,
	})
	if s.metrics != nil {
		s.metrics.TakeoversReleased.Add(ctx, 1)
	}
	slog.Info("takeover released", "session_id", sessionID, "operator", operator.Email)

	return updated, nil
}

// dispatch delivers a control command over both channels. The command bus
// publish must succeed; the in-room data broadcast is redundancy for
// workers listening on the room channel and its failure only logs.
func (s *TakeoverService) dispatch(ctx context.Context, command, sessionID, roomName string) error {
	payload, err := json.Marshal(messagequeue.CommandPayload{
		Type:      command,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Source:    "guardian",
	})
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	if err := s.queue.Publish(ctx, messagequeue.CommandSubject(sessionID), payload); err != nil {
		return fmt.Errorf("publish %s command: %w", command, err)
	}

	if err := s.rooms.SendData(ctx, roomName, payload); err != nil {
		slog.Warn("room data broadcast failed",
			"command", command, "session_id", sessionID, "room", roomName, "error", err)
	}
	return nil
}
