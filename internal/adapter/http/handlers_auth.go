package http

import (
	"net/http"

	"github.com/voxguard/guardian/internal/domain/user"
	"github.com/voxguard/guardian/internal/middleware"
)

// Login authenticates an operator and returns a signed access token.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	req, err := readJSON[user.LoginRequest](w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.Auth.Login(r.Context(), *req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Me returns the authenticated operator.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromContext(r.Context())
	if u == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, u)
}
