// Package ws implements the WebSocket adapter streaming guardian state to
// operator dashboards.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voxguard/guardian/internal/adapter/otel"
	"github.com/voxguard/guardian/internal/domain/session"
	"github.com/voxguard/guardian/internal/domain/user"
	"github.com/voxguard/guardian/internal/middleware"
	"github.com/voxguard/guardian/internal/port/broadcast"
	"github.com/voxguard/guardian/internal/port/messagequeue"
)

// defaultStatsInterval is how often each connection reconciles staleness and
// pushes a stats_update frame.
const defaultStatsInterval = 10 * time.Second

// Message is the envelope for all WebSocket frames.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// SnapshotSource provides the store-backed views the stream pushes.
type SnapshotSource interface {
	// Snapshot returns live sessions, recent events, and aggregates.
	Snapshot(ctx context.Context) (*session.Snapshot, error)

	// Reconcile force-completes stale sessions and returns a snapshot read
	// after the sweep, so a stats_update never shows a session the sweep
	// just closed.
	Reconcile(ctx context.Context) (*session.Snapshot, error)
}

// conn wraps a single WebSocket connection. Frames are written from the
// upstream subscription, the stats ticker, and hub broadcasts, so writes are
// serialized through mu.
type conn struct {
	ws     *websocket.Conn
	cancel context.CancelFunc
	mu     sync.Mutex
}

func (c *conn) send(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// Server manages the per-dashboard stream connections.
//
// Each connection holds its own upstream subscription: one slow dashboard
// must never stall another, at the cost of one consumer per open connection.
// This is a known scaling constraint, accepted deliberately over a shared
// broadcast pool.
type Server struct {
	queue         messagequeue.Queue
	snapshots     SnapshotSource
	statsInterval time.Duration
	metrics       *otel.Metrics

	mu    sync.RWMutex
	conns map[*conn]struct{}
}

// NewServer creates a stream server over the given queue and snapshot source.
func NewServer(queue messagequeue.Queue, snapshots SnapshotSource) *Server {
	return &Server{
		queue:         queue,
		snapshots:     snapshots,
		statsInterval: defaultStatsInterval,
		conns:         make(map[*conn]struct{}),
	}
}

// SetStatsInterval overrides the stats push cadence. Call before serving.
func (s *Server) SetStatsInterval(d time.Duration) {
	if d > 0 {
		s.statsInterval = d
	}
}

// SetMetrics attaches metric instruments. Call before serving.
func (s *Server) SetMetrics(m *otel.Metrics) {
	s.metrics = m
}

// HandleStream upgrades the request to a WebSocket and runs the push loop
// until the client disconnects. The loop runs on the handler goroutine so
// the request context stays alive for the lifetime of the connection.
// Requires an authenticated admin or agent.
func (s *Server) HandleStream(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromContext(r.Context())
	if u == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if u.Role != user.RoleAdmin && u.Role != user.RoleAgent {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{ws: ws, cancel: cancel}

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.StreamClients.Add(ctx, 1)
	}

	slog.Info("stream connected", "remote", r.RemoteAddr, "user", u.ID)

	s.run(ctx, c, r.RemoteAddr)
}

// run owns the connection lifecycle. All teardown is funneled through the
// deferred calls so a disconnect always stops the ticker, cancels the
// upstream subscription, and releases the registration together.
func (s *Server) run(ctx context.Context, c *conn, remote string) {
	defer func() {
		s.remove(c)
		_ = c.ws.Close(websocket.StatusNormalClosure, "")
	}()

	if err := s.sendInit(ctx, c); err != nil {
		slog.Error("stream init failed", "remote", remote, "error", err)
		return
	}

	// Dedicated upstream subscription for this connection. A failed write
	// means the dashboard is gone; the event is still acked so a dead
	// client never pushes worker events toward the queue's retry path.
	stopSub, err := s.queue.Subscribe(ctx, messagequeue.SubjectGuardianEvents,
		func(msgCtx context.Context, _ string, data []byte) error {
			if err := c.send(msgCtx, Message{Type: broadcast.FrameGuardianEvent, Payload: data}); err != nil {
				slog.Debug("stream forward failed", "remote", remote, "error", err)
				c.cancel()
			}
			return nil
		})
	if err != nil {
		slog.Error("stream subscribe failed", "remote", remote, "error", err)
		return
	}
	defer stopSub()

	ticker := time.NewTicker(s.statsInterval)
	defer ticker.Stop()

	// Read loop in the background to detect disconnects and consume pings.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := c.ws.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-readDone:
			return
		case <-ticker.C:
			if err := s.sendStats(ctx, c); err != nil {
				slog.Debug("stats push failed", "remote", remote, "error", err)
				return
			}
		}
	}
}

func (s *Server) sendInit(ctx context.Context, c *conn) error {
	snap, err := s.snapshots.Snapshot(ctx)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.send(ctx, Message{Type: broadcast.FrameInit, Payload: payload})
}

func (s *Server) sendStats(ctx context.Context, c *conn) error {
	snap, err := s.snapshots.Reconcile(ctx)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.send(ctx, Message{Type: broadcast.FrameStatsUpdate, Payload: payload})
}

// Broadcast sends a frame to all connected dashboards. Used for events that
// originate locally (takeover, release) rather than from the worker.
func (s *Server) Broadcast(ctx context.Context, msg Message) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for c := range s.conns {
		if err := c.send(ctx, msg); err != nil {
			slog.Debug("stream write failed", "error", err)
			go s.remove(c)
		}
	}
}

// ConnectionCount returns the number of open stream connections.
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

func (s *Server) remove(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conns[c]; ok {
		c.cancel()
		delete(s.conns, c)
		if s.metrics != nil {
			s.metrics.StreamClients.Add(context.Background(), -1)
		}
		slog.Info("stream disconnected")
	}
}
