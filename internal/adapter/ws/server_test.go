package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	otelapi "go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/voxguard/guardian/internal/adapter/otel"
	"github.com/voxguard/guardian/internal/domain/risk"
	"github.com/voxguard/guardian/internal/domain/session"
	"github.com/voxguard/guardian/internal/domain/user"
	"github.com/voxguard/guardian/internal/middleware"
	"github.com/voxguard/guardian/internal/port/broadcast"
	"github.com/voxguard/guardian/internal/port/messagequeue"
)

// fakeQueue is an in-memory messagequeue.Queue that records subscriptions
// and lets tests push messages to them.
type fakeQueue struct {
	mu       sync.Mutex
	handlers map[int]messagequeue.Handler
	nextID   int
	stopped  int
}

var _ messagequeue.Queue = (*fakeQueue)(nil)

func newFakeQueue() *fakeQueue {
	return &fakeQueue{handlers: make(map[int]messagequeue.Handler)}
}

func (q *fakeQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	handlers := make([]messagequeue.Handler, 0, len(q.handlers))
	for _, h := range q.handlers {
		handlers = append(handlers, h)
	}
	q.mu.Unlock()
	for _, h := range handlers {
		_ = h(context.Background(), subject, data)
	}
	return nil
}

func (q *fakeQueue) Subscribe(_ context.Context, _ string, handler messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := q.nextID
	q.nextID++
	q.handlers[id] = handler
	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if _, ok := q.handlers[id]; ok {
			delete(q.handlers, id)
			q.stopped++
		}
	}, nil
}

func (q *fakeQueue) Drain() error      { return nil }
func (q *fakeQueue) Close() error      { return nil }
func (q *fakeQueue) IsConnected() bool { return true }

func (q *fakeQueue) subscriptionCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.handlers)
}

func (q *fakeQueue) firstHandler() messagequeue.Handler {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, h := range q.handlers {
		return h
	}
	return nil
}

// fakeSnapshots returns canned snapshots and counts reconciliations.
type fakeSnapshots struct {
	mu         sync.Mutex
	reconciles int
}

var _ SnapshotSource = (*fakeSnapshots)(nil)

func (f *fakeSnapshots) Snapshot(context.Context) (*session.Snapshot, error) {
	return &session.Snapshot{
		Sessions: []session.Session{{ID: "s1", RoomName: "r1", Status: session.StatusActive, MaxRiskLevel: risk.LevelLow}},
		Events:   []session.Event{},
		Stats:    session.Stats{ActiveSessions: 1},
	}, nil
}

func (f *fakeSnapshots) Reconcile(ctx context.Context) (*session.Snapshot, error) {
	f.mu.Lock()
	f.reconciles++
	f.mu.Unlock()
	return f.Snapshot(ctx)
}

// newStreamTestServer wires a Server behind an httptest server that injects
// the given user into the request context, the way the auth middleware does.
func newStreamTestServer(t *testing.T, srv *Server, u *user.User) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if u != nil {
			ctx = context.WithValue(ctx, middleware.AuthUserCtxKeyForTest(), u)
		}
		srv.HandleStream(w, r.WithContext(ctx))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func dialStream(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return c
}

func readFrame(t *testing.T, c *websocket.Conn) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	return msg
}

func agentUser() *user.User {
	return &user.User{ID: "u1", Email: "a@b.com", Role: user.RoleAgent, Enabled: true}
}

func TestHandleStreamRejectsUnauthenticated(t *testing.T) {
	srv := NewServer(newFakeQueue(), &fakeSnapshots{})
	ts := newStreamTestServer(t, srv, nil)

	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestHandleStreamRejectsViewer(t *testing.T) {
	srv := NewServer(newFakeQueue(), &fakeSnapshots{})
	ts := newStreamTestServer(t, srv, &user.User{ID: "v1", Role: user.RoleViewer})

	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestHandleStreamInitFrame(t *testing.T) {
	srv := NewServer(newFakeQueue(), &fakeSnapshots{})
	ts := newStreamTestServer(t, srv, agentUser())

	c := dialStream(t, ts)
	defer c.Close(websocket.StatusNormalClosure, "")

	msg := readFrame(t, c)
	if msg.Type != broadcast.FrameInit {
		t.Fatalf("first frame type = %q, want init", msg.Type)
	}

	var snap session.Snapshot
	if err := json.Unmarshal(msg.Payload, &snap); err != nil {
		t.Fatalf("unmarshal init payload: %v", err)
	}
	if len(snap.Sessions) != 1 || snap.Sessions[0].ID != "s1" {
		t.Fatalf("unexpected init sessions: %+v", snap.Sessions)
	}
	if snap.Stats.ActiveSessions != 1 {
		t.Fatalf("unexpected init stats: %+v", snap.Stats)
	}
}

func TestHandleStreamForwardsGuardianEvents(t *testing.T) {
	q := newFakeQueue()
	srv := NewServer(q, &fakeSnapshots{})
	ts := newStreamTestServer(t, srv, agentUser())

	c := dialStream(t, ts)
	defer c.Close(websocket.StatusNormalClosure, "")

	// Consume the init frame first.
	if msg := readFrame(t, c); msg.Type != broadcast.FrameInit {
		t.Fatalf("expected init, got %q", msg.Type)
	}

	// Wait for the per-connection subscription to register.
	deadline := time.Now().Add(2 * time.Second)
	for q.subscriptionCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if q.subscriptionCount() != 1 {
		t.Fatalf("subscriptions = %d, want 1", q.subscriptionCount())
	}

	raw := []byte(`{"type":"risk_detected","session_id":"s1","level":"high"}`)
	if err := q.Publish(context.Background(), messagequeue.SubjectGuardianEvents, raw); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msg := readFrame(t, c)
	if msg.Type != broadcast.FrameGuardianEvent {
		t.Fatalf("frame type = %q, want guardian_event", msg.Type)
	}
	if string(msg.Payload) != string(raw) {
		t.Fatalf("payload = %s, want verbatim forward", msg.Payload)
	}
}

func TestHandleStreamOutlivesInit(t *testing.T) {
	q := newFakeQueue()
	srv := NewServer(q, &fakeSnapshots{})
	srv.SetStatsInterval(50 * time.Millisecond)
	ts := newStreamTestServer(t, srv, agentUser())

	c := dialStream(t, ts)
	defer c.Close(websocket.StatusNormalClosure, "")

	if msg := readFrame(t, c); msg.Type != broadcast.FrameInit {
		t.Fatalf("expected init, got %q", msg.Type)
	}

	// The push loop must keep running after the init frame: the ticker
	// still fires and the subscription stays registered.
	if msg := readFrame(t, c); msg.Type != broadcast.FrameStatsUpdate {
		t.Fatalf("expected stats_update, got %q", msg.Type)
	}
	if q.subscriptionCount() != 1 {
		t.Fatalf("subscriptions = %d, want 1", q.subscriptionCount())
	}
	if srv.ConnectionCount() != 1 {
		t.Fatalf("connections = %d, want 1", srv.ConnectionCount())
	}
}

func TestStreamSendFailureAcksEvent(t *testing.T) {
	q := newFakeQueue()
	srv := NewServer(q, &fakeSnapshots{})
	ts := newStreamTestServer(t, srv, agentUser())

	c := dialStream(t, ts)
	if msg := readFrame(t, c); msg.Type != broadcast.FrameInit {
		t.Fatalf("expected init, got %q", msg.Type)
	}

	deadline := time.Now().Add(2 * time.Second)
	for q.subscriptionCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	handler := q.firstHandler()
	if handler == nil {
		t.Fatal("no subscription registered")
	}

	_ = c.Close(websocket.StatusNormalClosure, "")
	deadline = time.Now().Add(2 * time.Second)
	for srv.ConnectionCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	// A write to a dead client must not surface as a handler error; the
	// queue would otherwise redeliver the event and eventually dead-letter
	// it on behalf of a client that is simply gone.
	err := handler(context.Background(), messagequeue.SubjectGuardianEvents,
		[]byte(`{"type":"risk_detected","session_id":"s1"}`))
	if err != nil {
		t.Fatalf("handler returned %v, want nil for a dead client", err)
	}
}

func TestStreamClientGaugeTracksConnections(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	otelapi.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))

	metrics, err := otel.NewMetrics()
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	q := newFakeQueue()
	srv := NewServer(q, &fakeSnapshots{})
	srv.SetMetrics(metrics)
	ts := newStreamTestServer(t, srv, agentUser())

	c := dialStream(t, ts)
	if msg := readFrame(t, c); msg.Type != broadcast.FrameInit {
		t.Fatalf("expected init, got %q", msg.Type)
	}
	if got := streamClientsValue(t, reader); got != 1 {
		t.Fatalf("stream clients after connect = %d, want 1", got)
	}

	_ = c.Close(websocket.StatusNormalClosure, "")
	deadline := time.Now().Add(2 * time.Second)
	for srv.ConnectionCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := streamClientsValue(t, reader); got != 0 {
		t.Fatalf("stream clients after disconnect = %d, want 0", got)
	}
}

func streamClientsValue(t *testing.T, reader *sdkmetric.ManualReader) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != "guardian.stream.clients" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("unexpected data type %T", m.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestHandleStreamTeardownOnDisconnect(t *testing.T) {
	q := newFakeQueue()
	srv := NewServer(q, &fakeSnapshots{})
	ts := newStreamTestServer(t, srv, agentUser())

	c := dialStream(t, ts)
	if msg := readFrame(t, c); msg.Type != broadcast.FrameInit {
		t.Fatalf("expected init, got %q", msg.Type)
	}

	deadline := time.Now().Add(2 * time.Second)
	for q.subscriptionCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	_ = c.Close(websocket.StatusNormalClosure, "")

	// Disconnect must tear down the subscription and the registration.
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if q.subscriptionCount() == 0 && srv.ConnectionCount() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("leaked resources after disconnect: subs=%d conns=%d", q.subscriptionCount(), srv.ConnectionCount())
}

func TestBroadcastNoConnections(t *testing.T) {
	srv := NewServer(newFakeQueue(), &fakeSnapshots{})

	// Broadcast with no connections should not panic.
	srv.Broadcast(context.Background(), Message{
		Type:    broadcast.FrameGuardianEvent,
		Payload: []byte(`{"key":"value"}`),
	})
}

func TestBroadcastEventMarshalError(t *testing.T) {
	srv := NewServer(newFakeQueue(), &fakeSnapshots{})

	// A channel cannot be marshaled to JSON -- should log error, not panic.
	srv.BroadcastEvent(context.Background(), "bad", make(chan int))
}

func TestBroadcastEventReachesClient(t *testing.T) {
	srv := NewServer(newFakeQueue(), &fakeSnapshots{})
	ts := newStreamTestServer(t, srv, agentUser())

	c := dialStream(t, ts)
	defer c.Close(websocket.StatusNormalClosure, "")
	if msg := readFrame(t, c); msg.Type != broadcast.FrameInit {
		t.Fatalf("expected init, got %q", msg.Type)
	}

	srv.BroadcastEvent(context.Background(), broadcast.FrameGuardianEvent, broadcast.GuardianEventFrame{
		Type:      "takeover",
		SessionID: "s1",
		Source:    "guardian",
	})

	msg := readFrame(t, c)
	if msg.Type != broadcast.FrameGuardianEvent {
		t.Fatalf("frame type = %q, want guardian_event", msg.Type)
	}
	var frame broadcast.GuardianEventFrame
	if err := json.Unmarshal(msg.Payload, &frame); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if frame.Type != "takeover" || frame.SessionID != "s1" {
		t.Fatalf("unexpected frame: %+v", frame)
	}
}

func TestRemoveNonexistent(t *testing.T) {
	srv := NewServer(newFakeQueue(), &fakeSnapshots{})

	// Removing a connection that was never added should not panic.
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := &conn{ws: nil, cancel: cancel}
	srv.remove(c)
}
