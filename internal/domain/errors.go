// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict (optimistic locking).
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrDuplicateSession indicates a session with the same ID is already live.
var ErrDuplicateSession = errors.New("session already active")

// ErrTakeoverActive indicates a human takeover is already in progress for the session.
var ErrTakeoverActive = errors.New("takeover already in progress")
