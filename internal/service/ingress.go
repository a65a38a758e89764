package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/voxguard/guardian/internal/adapter/otel"
	"github.com/voxguard/guardian/internal/domain/session"
	"github.com/voxguard/guardian/internal/port/messagequeue"
)

// IngressService consumes worker events from the bus and applies them to
// the session store. Dashboard fan-out does not pass through here: stream
// clients hold their own bus subscriptions, so a store failure can never
// delay a frame on its way to the dashboard.
type IngressService struct {
	queue    messagequeue.Queue
	sessions *SessionService
	metrics  *otel.Metrics
}

// NewIngressService creates an IngressService. metrics may be nil.
func NewIngressService(queue messagequeue.Queue, sessions *SessionService, metrics *otel.Metrics) *IngressService {
	return &IngressService{queue: queue, sessions: sessions, metrics: metrics}
}

// Start subscribes to the worker event subject. The subscription runs until
// ctx is cancelled; the returned stop function tears it down early.
func (s *IngressService) Start(ctx context.Context) (func(), error) {
	stop, err := s.queue.Subscribe(ctx, messagequeue.SubjectGuardianEvents, s.handle)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", messagequeue.SubjectGuardianEvents, err)
	}
	slog.Info("ingress subscribed", "subject", messagequeue.SubjectGuardianEvents)
	return stop, nil
}

// handle processes one wire message. Malformed and unknown messages are
// logged and dropped. Store errors are returned so the bus redelivers;
// retries exhaust into the dead letter subject.
func (s *IngressService) handle(ctx context.Context, subject string, data []byte) error {
	ev, err := session.ParseWorkerEvent(data)
	if err != nil {
		slog.Warn("dropping malformed worker event", "subject", subject, "error", err)
		s.countDropped(ctx)
		return nil
	}

	spanCtx, span := otel.StartIngestSpan(ctx, ev.Type, ev.SessionID())
	defer span.End()

	start := time.Now()
	switch ev.Type {
	case session.WireSessionStart:
		err = s.sessions.HandleStart(spanCtx, ev.Start)
	case session.WireSessionEnd:
		err = s.sessions.HandleEnd(spanCtx, ev.End)
	case session.WireSentimentUpdate:
		err = s.sessions.HandleSentiment(spanCtx, ev.Sentiment)
	case session.WireRiskDetected:
		err = s.sessions.HandleRisk(spanCtx, ev.Risk)
	default:
		// ParseWorkerEvent already rejects unknown types.
		err = errors.New("unreachable event type")
	}

	if err != nil {
		slog.Error("failed to apply worker event",
			"type", ev.Type, "session_id", ev.SessionID(), "error", err)
		return err
	}

	if s.metrics != nil {
		s.metrics.EventsIngested.Add(ctx, 1)
		s.metrics.IngestLatency.Record(ctx, time.Since(start).Seconds())
	}
	return nil
}

func (s *IngressService) countDropped(ctx context.Context) {
	if s.metrics != nil {
		s.metrics.EventsDropped.Add(ctx, 1)
	}
}
