package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rodrigorsdev/r2.blockchain.crud/internal/domain"
	"github.com/rodrigorsdev/r2.blockchain.crud/internal/ws"
)

// HubSink broadcasts events to streaming subscribers, keyed by event type.
type HubSink struct {
	hub *ws.Hub
}

// NewHubSink constructs a HubSink.
func NewHubSink(hub *ws.Hub) HubSink {
	return HubSink{hub: hub}
}

// Publish implements Sink.
func (s HubSink) Publish(_ context.Context, event domain.Event) error {
	data, err := Marshal(event)
	if err != nil {
		return err
	}
	s.hub.Broadcast(event.Type, data)
	return nil
}

// Marshal formats an event for streaming payloads.
func Marshal(event domain.Event) ([]byte, error) {
	payload := map[string]any{
		"id":          event.ID,
		"type":        event.Type,
		"occurred_at": event.OccurredAt.UTC().Format(time.RFC3339Nano),
		"payload":     event.Payload,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", event.Type, err)
	}
	return data, nil
}
