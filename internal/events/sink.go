// Package events delivers registry notifications to observers.
//
// Delivery is best effort. Sinks report failures to their caller, and the
// registry only logs them: a committed mutation is never undone because an
// observer could not be reached.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/rodrigorsdev/r2.blockchain.crud/internal/domain"
)

// Sink receives registry events.
type Sink interface {
	Publish(ctx context.Context, event domain.Event) error
}

// NewEvent wraps payload in an envelope with a fresh id.
func NewEvent(eventType string, payload any, at time.Time) domain.Event {
	return domain.Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: at.UTC(),
		Payload:    payload,
	}
}

// Nop discards events.
type Nop struct{}

// Publish implements Sink.
func (Nop) Publish(context.Context, domain.Event) error { return nil }

// Multi fans one event out to several sinks.
type Multi []Sink

// Publish delivers to every sink and joins their errors.
func (m Multi) Publish(ctx context.Context, event domain.Event) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
