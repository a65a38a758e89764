package service

import (
	"context"
	"testing"

	"github.com/voxguard/guardian/internal/domain/session"
)

func newTestIngress(store *mockStore) *IngressService {
	return NewIngressService(&mockQueue{}, newTestSessionService(store), nil)
}

func TestIngress_MalformedMessageDropped(t *testing.T) {
	store := newMockStore()
	svc := newTestIngress(store)
	ctx := context.Background()

	for _, data := range [][]byte{
		[]byte(`not json`),
		[]byte(`{"type":"unknown_event","session_id":"s1"}`),
		[]byte(`{"type":"session_start","session_id":"s1"}`),                   // missing room
		[]byte(`{"type":"sentiment_update","session_id":"s1","sentiment":42}`), // out of range
		[]byte(`{"type":"sentiment_update","sentiment":0.5}`),                  // missing session_id
	} {
		if err := svc.handle(ctx, "guardian.events", data); err != nil {
			t.Errorf("malformed message should be dropped, not retried: %q -> %v", data, err)
		}
	}

	if len(store.sessions) != 0 || len(store.events) != 0 {
		t.Error("dropped messages must not touch the store")
	}
}

func TestIngress_SessionLifecycleViaWire(t *testing.T) {
	store := newMockStore()
	svc := newTestIngress(store)
	ctx := context.Background()

	frames := [][]byte{
		[]byte(`{"type":"session_start","session_id":"s1","room_name":"room-1"}`),
		[]byte(`{"type":"sentiment_update","session_id":"s1","sentiment":-0.4,"text":"I will sue you","speaker":"customer"}`),
		[]byte(`{"type":"risk_detected","session_id":"s1","level":"CRITICAL","keywords":["911"]}`),
		[]byte(`{"type":"session_end","session_id":"s1","avg_sentiment":-0.4,"message_count":7}`),
	}
	for _, f := range frames {
		if err := svc.handle(ctx, "guardian.events", f); err != nil {
			t.Fatalf("handle %s: %v", f, err)
		}
	}

	sess, err := store.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.Status != session.StatusCompleted {
		t.Errorf("status = %s, want completed", sess.Status)
	}
	if sess.MaxRiskLevel != "CRITICAL" {
		t.Errorf("max risk = %s, want CRITICAL", sess.MaxRiskLevel)
	}
	if sess.MessageCount != 7 {
		t.Errorf("final message count = %d, want 7", sess.MessageCount)
	}

	events, _ := store.ListSessionEvents(ctx, "s1", 10, 0)
	if len(events) != 2 {
		t.Errorf("expected 2 events (classifier + worker), got %d", len(events))
	}
}

func TestIngress_StoreErrorPropagatesForRetry(t *testing.T) {
	store := newMockStore()
	svc := newTestIngress(store)
	ctx := context.Background()

	if err := svc.handle(ctx, "guardian.events",
		[]byte(`{"type":"session_start","session_id":"s1","room_name":"room-1"}`)); err != nil {
		t.Fatalf("start: %v", err)
	}

	store.failCreateEvent = context.DeadlineExceeded
	err := svc.handle(ctx, "guardian.events",
		[]byte(`{"type":"risk_detected","session_id":"s1","level":"HIGH"}`))
	if err == nil {
		t.Fatal("store failures must propagate so the bus redelivers")
	}
}
