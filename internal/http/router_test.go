package httpx

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rodrigorsdev/r2.blockchain.crud/internal/domain"
	"github.com/rodrigorsdev/r2.blockchain.crud/internal/events"
	"github.com/rodrigorsdev/r2.blockchain.crud/internal/repository/memory"
	"github.com/rodrigorsdev/r2.blockchain.crud/internal/service/registry"
	"github.com/rodrigorsdev/r2.blockchain.crud/internal/ws"
)

const (
	ownerToken = "owner-token"
	otherToken = "other-token"
	ownerID    = "0x1111111111111111111111111111111111111111"
	otherID    = "0x2222222222222222222222222222222222222222"
)

type authStub struct {
	tokens map[string]string
}

func (a authStub) Authorize(_ context.Context, token string) (string, error) {
	if id, ok := a.tokens[token]; ok {
		return id, nil
	}
	return "", errors.New("unknown token")
}

type denyLimiter struct{}

func (denyLimiter) Allow(string, int, time.Duration) RateDecision {
	return RateDecision{Allowed: false, Count: 1, WindowEnd: time.Now().Add(time.Minute)}
}

func (denyLimiter) Close() {}

type fixture struct {
	router *Router
	hub    *ws.Hub
	reg    *prometheus.Registry
}

func newFixture(t *testing.T, limiter RateLimiter, health func(context.Context) error) fixture {
	t.Helper()
	store, err := memory.New()
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := ws.NewHub()
	t.Cleanup(hub.Close)
	svc := registry.New(store, events.NewHubSink(hub), logger, registry.Options{})
	auth := authStub{tokens: map[string]string{ownerToken: ownerID, otherToken: otherID}}
	reg := prometheus.NewRegistry()
	router := NewRouter(logger, svc, auth, hub, limiter, health, Options{Registerer: reg, Gatherer: reg, Heartbeat: time.Hour})
	t.Cleanup(router.Close)
	return fixture{router: router, hub: hub, reg: reg}
}

func (f fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, kind, reason string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["kind"] != kind || body["error"] != reason {
		t.Fatalf("expected %s/%q, got %v", kind, reason, body)
	}
}

func TestUsersRequireAuthentication(t *testing.T) {
	f := newFixture(t, nil, nil)

	rec := f.do(t, http.MethodPost, "/users", "", userPayload{Name: "user", Email: "user@domain.com"})
	expectError(t, rec, http.StatusUnauthorized, kindAuthentication, "authentication required")

	rec = f.do(t, http.MethodPost, "/users", "forged", userPayload{Name: "user", Email: "user@domain.com"})
	expectError(t, rec, http.StatusUnauthorized, kindAuthentication, "authentication failed")
}

func TestRegistryLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t, nil, nil)

	rec := f.do(t, http.MethodGet, "/stats/users", "", nil)
	if got := decode(t, rec)["length"]; got != float64(1) {
		t.Fatalf("expected initial length 1, got %v", got)
	}

	rec = f.do(t, http.MethodPost, "/users", ownerToken, userPayload{Name: "user1", Email: "user1@domain.com"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode(t, rec)["index"]; got != float64(1) {
		t.Fatalf("expected index 1, got %v", got)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}

	rec = f.do(t, http.MethodGet, "/stats/users", "", nil)
	if got := decode(t, rec)["length"]; got != float64(2) {
		t.Fatalf("expected length 2, got %v", got)
	}

	rec = f.do(t, http.MethodGet, "/users/user1@domain.com/exists", "", nil)
	if got := decode(t, rec)["exists"]; got != true {
		t.Fatalf("expected exists true, got %v", got)
	}

	rec = f.do(t, http.MethodPut, "/users", otherToken, userPayload{Name: "user2", Email: "user1@domain.com"})
	expectError(t, rec, http.StatusForbidden, "authorization", "is not the owner")

	rec = f.do(t, http.MethodPut, "/users", ownerToken, userPayload{Name: "user2", Email: "user1@domain.com"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, "/users/user1@domain.com", "", nil)
	if got := decode(t, rec)["name"]; got != "user2" {
		t.Fatalf("expected name user2, got %v", got)
	}

	rec = f.do(t, http.MethodGet, "/me", ownerToken, nil)
	me := decode(t, rec)
	if me["owner"] != ownerID || me["email"] != "user1@domain.com" || me["index"] != float64(1) {
		t.Fatalf("unexpected /me body: %v", me)
	}

	rec = f.do(t, http.MethodDelete, "/users/user1@domain.com", otherToken, nil)
	expectError(t, rec, http.StatusForbidden, "authorization", "is not the owner")

	rec = f.do(t, http.MethodDelete, "/users/user1@domain.com", ownerToken, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, "/users/user1@domain.com", "", nil)
	expectError(t, rec, http.StatusNotFound, "not_found", "user not exists")

	rec = f.do(t, http.MethodGet, "/stats/users", "", nil)
	if got := decode(t, rec)["length"]; got != float64(2) {
		t.Fatalf("expected length to stay 2 after removal, got %v", got)
	}
}

func TestRegistryErrorsMapToStatuses(t *testing.T) {
	f := newFixture(t, nil, nil)

	rec := f.do(t, http.MethodPost, "/users", ownerToken, userPayload{Name: "us", Email: "user@domain.com"})
	expectError(t, rec, http.StatusBadRequest, "validation", "name too short")

	if rec := f.do(t, http.MethodPost, "/users", ownerToken, userPayload{Name: "user", Email: "user@domain.com"}); rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	rec = f.do(t, http.MethodPost, "/users", ownerToken, userPayload{Name: "user", Email: "other@domain.com"})
	expectError(t, rec, http.StatusConflict, "conflict", "user exists")

	rec = f.do(t, http.MethodPost, "/users", otherToken, userPayload{Name: "user", Email: "user@domain.com"})
	expectError(t, rec, http.StatusConflict, "conflict", "email exists")

	rec = f.do(t, http.MethodGet, "/me", otherToken, nil)
	expectError(t, rec, http.StatusNotFound, "not_found", "user not exists")
}

func TestInvalidRequests(t *testing.T) {
	f := newFixture(t, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/users", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer "+ownerToken)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	expectError(t, rec, http.StatusBadRequest, kindBadRequest, "invalid JSON body")

	rec = f.do(t, http.MethodPatch, "/users", ownerToken, nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/users/user@domain.com/unknown", "", nil)
	expectError(t, rec, http.StatusNotFound, kindNotFound, "not found")

	rec = f.do(t, http.MethodGet, "/events/stream?type=UserRemoved", "", nil)
	expectError(t, rec, http.StatusBadRequest, kindBadRequest, "unknown event type")
}

func TestEmailWithSlashIsAddressable(t *testing.T) {
	f := newFixture(t, nil, nil)
	const email = "a/b@domain.com"
	const escaped = "/users/a%2Fb@domain.com"

	rec := f.do(t, http.MethodPost, "/users", ownerToken, userPayload{Name: "user", Email: email})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, escaped, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if body := decode(t, rec); body["email"] != email || body["name"] != "user" {
		t.Fatalf("unexpected body: %v", body)
	}

	rec = f.do(t, http.MethodGet, escaped+"/exists", "", nil)
	if got := decode(t, rec)["exists"]; got != true {
		t.Fatalf("expected exists true, got %v", got)
	}

	rec = f.do(t, http.MethodDelete, escaped, ownerToken, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, escaped+"/exists", "", nil)
	if got := decode(t, rec)["exists"]; got != false {
		t.Fatalf("expected exists false after removal, got %v", got)
	}
}

type brokenRegistry struct{ err error }

func (b brokenRegistry) Add(context.Context, string, string, string) (int64, error) { return 0, b.err }
func (b brokenRegistry) Exists(context.Context, string) (bool, error) { return false, b.err }
func (b brokenRegistry) GetUserByEmail(context.Context, string) (string, error) { return "", b.err }
func (b brokenRegistry) GetUser(context.Context, string) (*domain.User, error) { return nil, b.err }
func (b brokenRegistry) GetUsersLength(context.Context) (int64, error) { return 0, b.err }
func (b brokenRegistry) Update(context.Context, string, string, string) error { return b.err }
func (b brokenRegistry) Remove(context.Context, string, string) error { return b.err }

func TestStoreFailureIsOpaqueAndLogsRequestID(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	reg := prometheus.NewRegistry()
	router := NewRouter(logger, brokenRegistry{err: errors.New("disk on fire")}, authStub{}, nil, nil, nil, Options{Registerer: reg, Gatherer: reg})
	t.Cleanup(router.Close)

	req := httptest.NewRequest(http.MethodGet, "/users/user@domain.com", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	expectError(t, rec, http.StatusInternalServerError, kindInternal, "internal error")
	if strings.Contains(rec.Body.String(), "disk on fire") {
		t.Fatalf("internal error leaked to client: %s", rec.Body.String())
	}

	var found bool
	scanner := bufio.NewScanner(&logs)
	for scanner.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if entry["msg"] == "registry operation failed" {
			found = true
			if entry["request_id"] != "req-42" {
				t.Fatalf("expected request id in failure log, got %v", entry)
			}
		}
	}
	if !found {
		t.Fatalf("failure not logged: %s", logs.String())
	}
}

func TestRateLimitRejects(t *testing.T) {
	f := newFixture(t, denyLimiter{}, nil)

	rec := f.do(t, http.MethodGet, "/stats/users", "", nil)
	expectError(t, rec, http.StatusTooManyRequests, kindRateLimited, "rate limit exceeded")
	if rec.Header().Get("X-RateLimit-Limit") == "" {
		t.Fatalf("expected rate limit headers")
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil, func(context.Context) error { return errors.New("store offline") })

	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if got := decode(t, rec)["status"]; got != "degraded" {
		t.Fatalf("expected degraded status, got %v", got)
	}
}

func TestMetricsExposeRequestCounters(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.do(t, http.MethodGet, "/stats/users", "", nil)

	rec := f.do(t, http.MethodGet, "/metrics", "", nil)
	if !strings.Contains(rec.Body.String(), `registry_api_http_requests_total{method="GET",route="/stats/users",status="200"} 1`) {
		t.Fatalf("expected request counter in metrics output:\n%s", rec.Body.String())
	}
}

func TestEventStreamDeliversFilteredEvents(t *testing.T) {
	f := newFixture(t, nil, nil)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events/stream?type=UserUpdated", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	reader := bufio.NewReader(resp.Body)
	if line, err := reader.ReadString('\n'); err != nil || !strings.HasPrefix(line, ":") {
		t.Fatalf("expected registration comment, got %q (%v)", line, err)
	}

	if rec := f.do(t, http.MethodPost, "/users", ownerToken, userPayload{Name: "user1", Email: "user1@domain.com"}); rec.Code != http.StatusCreated {
		t.Fatalf("add failed: %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPut, "/users", ownerToken, userPayload{Name: "user2", Email: "user1@domain.com"}); rec.Code != http.StatusOK {
		t.Fatalf("update failed: %d", rec.Code)
	}

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		data, ok := strings.CutPrefix(strings.TrimRight(line, "\n"), "data: ")
		if !ok {
			continue
		}
		var evt struct {
			Type    string         `json:"type"`
			Payload map[string]any `json:"payload"`
		}
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			t.Fatalf("decode event %q: %v", data, err)
		}
		if evt.Type != "UserUpdated" || evt.Payload["name"] != "user2" {
			t.Fatalf("unexpected event: %+v", evt)
		}
		return
	}
}
