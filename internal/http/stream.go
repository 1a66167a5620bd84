package httpx

import (
	"net/http"
	"strings"
	"time"

	"github.com/rodrigorsdev/r2.blockchain.crud/internal/domain"
	"github.com/rodrigorsdev/r2.blockchain.crud/internal/ws"
)

// eventTopic maps the ?type= filter onto a hub topic.
func eventTopic(req *http.Request) (string, bool) {
	switch filter := strings.TrimSpace(req.URL.Query().Get("type")); filter {
	case "", ws.AllTopics:
		return ws.AllTopics, true
	case domain.EventUserAdded, domain.EventUserUpdated:
		return filter, true
	default:
		return "", false
	}
}

func (r *Router) handleEventsWS(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	topic, ok := eventTopic(req)
	if !ok {
		writeError(w, http.StatusBadRequest, kindBadRequest, "unknown event type")
		return
	}
	if r.hub == nil {
		writeError(w, http.StatusServiceUnavailable, kindInternal, "event stream unavailable")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(topic, client)
	go client.Serve(func() { r.hub.Unregister(topic, client) })
}

func (r *Router) handleEventsSSE(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	topic, ok := eventTopic(req)
	if !ok {
		writeError(w, http.StatusBadRequest, kindBadRequest, "unknown event type")
		return
	}
	if r.hub == nil {
		writeError(w, http.StatusServiceUnavailable, kindInternal, "event stream unavailable")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, kindInternal, "streaming unsupported")
		return
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	r.hub.Register(topic, client)
	defer func() {
		r.hub.Unregister(topic, client)
		client.Close()
	}()
	// The first comment frame tells the subscriber it is registered.
	if err := client.Heartbeat(); err != nil {
		return
	}

	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-client.Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}
