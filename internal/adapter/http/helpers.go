package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/voxguard/guardian/internal/domain"
	"github.com/voxguard/guardian/internal/domain/risk"
)

// maxRequestBody caps JSON request bodies at 1 MiB.
const maxRequestBody = 1 << 20

// readJSON decodes the request body into T, rejecting unknown fields and
// bodies over maxRequestBody.
func readJSON[T any](w http.ResponseWriter, r *http.Request) (*T, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var v T
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode request body: %w", err)
	}
	return &v, nil
}

// urlParam extracts a chi URL parameter, returning an error if empty.
func urlParam(r *http.Request, name string) (string, error) {
	v := chi.URLParam(r, name)
	if v == "" {
		return "", fmt.Errorf("missing URL parameter %q", name)
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps domain sentinel errors to HTTP status codes and
// falls back to 500 for anything unrecognized.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrDuplicateSession),
		errors.Is(err, domain.ErrTakeoverActive),
		errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, risk.ErrThresholdRange):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeInternalError(w, err)
	}
}

// writeInternalError logs the real error and returns an opaque 500 so
// internals never leak to clients.
func writeInternalError(w http.ResponseWriter, err error) {
	slog.Error("internal error", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
