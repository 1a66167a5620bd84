package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	httpx "github.com/rodrigorsdev/r2.blockchain.crud/internal/http"
	"github.com/rodrigorsdev/r2.blockchain.crud/internal/repository/memory"
	"github.com/rodrigorsdev/r2.blockchain.crud/internal/service/auth"
	"github.com/rodrigorsdev/r2.blockchain.crud/internal/service/registry"
)

const (
	ownerID = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	otherID = "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
)

func newServer(t *testing.T) (*httptest.Server, auth.Service) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := memory.New()
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	authSvc := auth.New(logger, auth.Options{Secret: "secret", TokenTTL: time.Hour})
	svc := registry.New(store, nil, logger, registry.Options{})
	reg := prometheus.NewRegistry()
	router := httpx.NewRouter(logger, svc, authSvc, nil, nil, store.Ping, httpx.Options{Registerer: reg, Gatherer: reg})
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		router.Close()
	})
	return srv, authSvc
}

func issue(t *testing.T, svc auth.Service, id string) string {
	t.Helper()
	token, err := svc.Issue(id)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token.AccessToken
}

func TestClientRoundTrip(t *testing.T) {
	srv, authSvc := newServer(t)
	ctx := context.Background()
	cli, err := New(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	owner := issue(t, authSvc, ownerID)
	other := issue(t, authSvc, otherID)

	index, err := cli.Add(ctx, owner, "user1", "user1@domain.com")
	if err != nil || index != 1 {
		t.Fatalf("add: index=%d err=%v", index, err)
	}
	length, err := cli.UsersLength(ctx)
	if err != nil || length != 2 {
		t.Fatalf("length: %d err=%v", length, err)
	}
	exists, err := cli.Exists(ctx, "user1@domain.com")
	if err != nil || !exists {
		t.Fatalf("exists: %v err=%v", exists, err)
	}

	err = cli.Update(ctx, other, "user2", "user1@domain.com")
	var apiErr APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusForbidden || apiErr.Message != "is not the owner" {
		t.Fatalf("expected forbidden APIError, got %v", err)
	}
	if !IsKind(err, "authorization") {
		t.Fatalf("expected authorization kind, got %+v", apiErr)
	}

	if err := cli.Update(ctx, owner, "user2", "user1@domain.com"); err != nil {
		t.Fatalf("update: %v", err)
	}
	name, err := cli.GetUserByEmail(ctx, "user1@domain.com")
	if err != nil || name != "user2" {
		t.Fatalf("get: %q err=%v", name, err)
	}
	me, err := cli.Me(ctx, owner)
	if err != nil || me.Owner != ownerID || me.Index != 1 {
		t.Fatalf("me: %+v err=%v", me, err)
	}

	if err := cli.Remove(ctx, owner, "user1@domain.com"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := cli.GetUserByEmail(ctx, "user1@domain.com"); !IsKind(err, "not_found") {
		t.Fatalf("expected not_found after remove, got %v", err)
	}

	if _, err := cli.Add(ctx, other, "slashed", "a/b@domain.com"); err != nil {
		t.Fatalf("add slashed email: %v", err)
	}
	if name, err := cli.GetUserByEmail(ctx, "a/b@domain.com"); err != nil || name != "slashed" {
		t.Fatalf("get slashed email: %q err=%v", name, err)
	}
	if err := cli.Remove(ctx, other, "a/b@domain.com"); err != nil {
		t.Fatalf("remove slashed email: %v", err)
	}
	if exists, err := cli.Exists(ctx, "a/b@domain.com"); err != nil || exists {
		t.Fatalf("exists after remove: %v err=%v", exists, err)
	}
}

func TestNewNormalisesBaseURL(t *testing.T) {
	cli, err := New("localhost:4000/")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if cli.baseURL != "http://localhost:4000" {
		t.Fatalf("unexpected base url %q", cli.baseURL)
	}
}

func TestWatchEventsDecodesFrames(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/ws/events" || req.URL.Query().Get("type") != "UserAdded" {
			http.Error(w, "unexpected request", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"id":"1","type":"UserAdded","occurred_at":"2024-01-02T03:04:05Z","payload":{"index":1,"name":"user","email":"user@domain.com"}}`))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	cli, err := New(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	stopErr := errors.New("stop")
	var got Event
	err = cli.WatchEvents(context.Background(), "UserAdded", func(evt Event) error {
		got = evt
		return stopErr
	})
	if !errors.Is(err, stopErr) {
		t.Fatalf("expected handler error, got %v", err)
	}
	if got.ID != "1" || got.Type != "UserAdded" || string(got.Payload) == "" {
		t.Fatalf("unexpected event: %+v", got)
	}
}

func TestWatchEventsReportsHandshakeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"unknown event type","kind":"bad_request"}`))
	}))
	defer srv.Close()

	cli, err := New(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	err = cli.WatchEvents(context.Background(), "Nope", func(Event) error { return nil })
	if !IsKind(err, "bad_request") {
		t.Fatalf("expected bad_request APIError, got %v", err)
	}
}
