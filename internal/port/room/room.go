// Package room defines the port for the external realtime room service.
package room

import (
	"context"
	"time"
)

// Grants describes what a join token authorizes inside one room.
type Grants struct {
	Room           string `json:"room"`
	Identity       string `json:"identity"`
	CanPublish     bool   `json:"can_publish"`
	CanSubscribe   bool   `json:"can_subscribe"`
	CanPublishData bool   `json:"can_publish_data"`
}

// Service is the port interface for the realtime audio/data room provider.
type Service interface {
	// JoinToken issues a signed, time-bounded token granting access to one
	// room with the given capabilities.
	JoinToken(ctx context.Context, grants Grants, ttl time.Duration) (string, error)

	// SendData broadcasts a reliable data message to all participants of
	// the named room. Delivery is best-effort: the room may have no
	// participants able to receive it.
	SendData(ctx context.Context, roomName string, payload []byte) error
}
