package http

import (
	"net/http"
	"strconv"

	"github.com/voxguard/guardian/internal/domain/risk"
	"github.com/voxguard/guardian/internal/domain/session"
	"github.com/voxguard/guardian/internal/middleware"
)

// ListSessions returns sessions, newest first, optionally filtered by
// ?status= and paginated with ?limit= and ?offset=.
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	filter := session.ListFilter{
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		st := session.Status(raw)
		if !session.ValidStatuses[st] {
			writeError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(raw))
			return
		}
		filter.Status = st
	}

	sessions, err := h.Sessions.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if sessions == nil {
		sessions = []session.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// GetSession returns one session by ID.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	id, err := urlParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := h.Sessions.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// ListSessionEvents returns a page of events for one session, oldest first.
// Responds 404 when the session itself does not exist.
func (h *Handlers) ListSessionEvents(w http.ResponseWriter, r *http.Request) {
	id, err := urlParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := h.Sessions.Events(r.Context(), id, queryInt(r, "limit"), queryInt(r, "offset"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if events == nil {
		events = []session.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// GetStats returns the dashboard aggregates.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Sessions.Stats(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetGuardianConfig returns the agent configuration, creating the default
// lazily on first access. An empty {agentId} resolves to the default.
func (h *Handlers) GetGuardianConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.Configs.Get(r.Context(), agentIDParam(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// UpdateGuardianConfig validates and stores new keyword tiers and thresholds
// for an agent.
func (h *Handlers) UpdateGuardianConfig(w http.ResponseWriter, r *http.Request) {
	req, err := readJSON[risk.Config](w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg, err := h.Configs.Update(r.Context(), agentIDParam(r), *req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// StartTakeover flips the session to human control and returns the room join
// token for the operator. Responds 409 when another operator holds the
// session or the session is no longer live.
func (h *Handlers) StartTakeover(w http.ResponseWriter, r *http.Request) {
	id, err := urlParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	operator := middleware.UserFromContext(r.Context())
	if operator == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	result, err := h.Takeovers.Takeover(r.Context(), id, operator)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ReleaseTakeover hands the session back to the agent and returns the
// updated session, which stays active until the caller hangs up.
func (h *Handlers) ReleaseTakeover(w http.ResponseWriter, r *http.Request) {
	id, err := urlParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	operator := middleware.UserFromContext(r.Context())
	if operator == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	sess, err := h.Takeovers.Release(r.Context(), id, operator)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// queryInt parses an integer query parameter, returning 0 when absent or
// malformed so store-level defaults apply.
func queryInt(r *http.Request, name string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v < 0 {
		return 0
	}
	return v
}

// agentIDParam reads the optional {agentId} route parameter.
func agentIDParam(r *http.Request) string {
	if id, err := urlParam(r, "agentId"); err == nil {
		return id
	}
	return ""
}
