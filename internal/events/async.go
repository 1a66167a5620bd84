package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/rodrigorsdev/r2.blockchain.crud/internal/domain"
)

// ErrQueueFull is returned when the async queue cannot accept more events.
var ErrQueueFull = errors.New("events: dispatch queue full")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("events: dispatcher closed")

// Async decouples publishers from a slow sink with a bounded queue drained
// by a single goroutine. Events are delivered in publish order.
type Async struct {
	next   Sink
	logger *slog.Logger
	queue  chan domain.Event

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewAsync starts a dispatcher in front of next.
func NewAsync(next Sink, buffer int, logger *slog.Logger) *Async {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Async{next: next, logger: logger, queue: make(chan domain.Event, buffer)}
	a.wg.Add(1)
	go a.drain()
	return a
}

// Publish enqueues event without waiting for delivery.
func (a *Async) Publish(_ context.Context, event domain.Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		droppedTotal.WithLabelValues(event.Type).Inc()
		return ErrClosed
	}
	select {
	case a.queue <- event:
		return nil
	default:
		// Counted here, logged by the publisher that receives the error.
		droppedTotal.WithLabelValues(event.Type).Inc()
		return ErrQueueFull
	}
}

func (a *Async) drain() {
	defer a.wg.Done()
	for event := range a.queue {
		outcome := "ok"
		if err := a.next.Publish(context.Background(), event); err != nil {
			outcome = "error"
			a.logger.Warn("event delivery failed", "type", event.Type, "event_id", event.ID, "error", err)
		}
		publishedTotal.WithLabelValues(event.Type, outcome).Inc()
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (a *Async) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()
	a.wg.Wait()
}
