package http

import (
	"context"
	"net/http"

	"github.com/voxguard/guardian/internal/adapter/ws"
	"github.com/voxguard/guardian/internal/service"
)

// Pinger reports database connectivity. *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnChecker reports message bus connectivity.
type ConnChecker interface {
	IsConnected() bool
}

// Handlers bundles the HTTP handler dependencies. Each handler method is a
// thin adapter: decode, call a service, encode. DB and Queue are optional
// readiness probes; nil probes are skipped.
type Handlers struct {
	Auth      *service.AuthService
	Sessions  *service.SessionService
	Takeovers *service.TakeoverService
	Configs   *service.ConfigService
	Stream    *ws.Server

	DB    Pinger
	Queue ConnChecker
}

// NewHandlers constructs the handler set from its service dependencies.
func NewHandlers(auth *service.AuthService, sessions *service.SessionService, takeovers *service.TakeoverService, configs *service.ConfigService, stream *ws.Server) *Handlers {
	return &Handlers{
		Auth:      auth,
		Sessions:  sessions,
		Takeovers: takeovers,
		Configs:   configs,
		Stream:    stream,
	}
}

// Health reports process liveness.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready reports dependency connectivity. Degraded dependencies turn the
// response into a 503 so load balancers stop routing here.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	type readiness struct {
		Status   string `json:"status"`
		Postgres string `json:"postgres,omitempty"`
		NATS     string `json:"nats,omitempty"`
	}

	res := readiness{Status: "ok"}
	status := http.StatusOK

	if h.DB != nil {
		res.Postgres = "ok"
		if err := h.DB.Ping(r.Context()); err != nil {
			res.Postgres = "error"
			res.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	if h.Queue != nil {
		res.NATS = "ok"
		if !h.Queue.IsConnected() {
			res.NATS = "disconnected"
			res.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, res)
}
