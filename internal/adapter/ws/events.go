package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// BroadcastEvent marshals a typed event and broadcasts it to every open
// connection. Implements the broadcast.Broadcaster port.
func (s *Server) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal stream event payload", "type", eventType, "error", err)
		return
	}

	s.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
