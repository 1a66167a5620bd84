package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rodrigorsdev/r2.blockchain.crud/internal/domain"
	"github.com/rodrigorsdev/r2.blockchain.crud/internal/requestctx"
	"github.com/rodrigorsdev/r2.blockchain.crud/internal/ws"
)

// Registry is the registry surface the router exposes.
type Registry interface {
	Add(ctx context.Context, caller, name, email string) (int64, error)
	Exists(ctx context.Context, email string) (bool, error)
	GetUserByEmail(ctx context.Context, email string) (string, error)
	GetUser(ctx context.Context, caller string) (*domain.User, error)
	GetUsersLength(ctx context.Context) (int64, error)
	Update(ctx context.Context, caller, name, email string) error
	Remove(ctx context.Context, caller, email string) error
}

// Authorizer resolves bearer tokens to caller identities.
type Authorizer interface {
	Authorize(ctx context.Context, token string) (string, error)
}

// Options tunes router infrastructure. Zero values use the process-wide
// Prometheus registry and a 15s SSE heartbeat.
type Options struct {
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	Heartbeat  time.Duration
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux         *http.ServeMux
	logger      *slog.Logger
	registry    Registry
	auth        Authorizer
	hub         *ws.Hub
	upgrader    websocket.Upgrader
	limiter     RateLimiter
	metrics     *metrics
	storeHealth func(context.Context) error
	heartbeat   time.Duration
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitUserWrite = 60
	rateLimitUserRead  = 120
	rateLimitStream    = 30
	healthCheckTimeout = 2 * time.Second
	defaultHeartbeat   = 15 * time.Second
	maxBodyBytes       = 1 << 20
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, registrySvc Registry, authSvc Authorizer, hub *ws.Hub, limiter RateLimiter, storeHealth func(context.Context) error, opts Options) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = defaultHeartbeat
	}
	r := &Router{
		mux:      http.NewServeMux(),
		logger:   logger,
		registry: registrySvc,
		auth:     authSvc,
		hub:      hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:     limiter,
		metrics:     newMetrics(opts.Registerer),
		storeHealth: storeHealth,
		heartbeat:   opts.Heartbeat,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.register(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register(metricsHandler http.Handler) {
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", metricsHandler)
	r.mux.HandleFunc("/users", r.audit("/users", r.handlerAuthRate("/users", rateLimitUserWrite, rateWindowDefault, r.handleUsers)))
	r.mux.HandleFunc("/users/", r.audit("/users/{email}", r.handleUserSubroutes))
	r.mux.HandleFunc("/stats/users", r.audit("/stats/users", r.handlerIPRate("/stats/users", rateLimitUserRead, rateWindowDefault, r.handleUsersLength)))
	r.mux.HandleFunc("/me", r.audit("/me", r.handlerAuthRate("/me", rateLimitUserRead, rateWindowDefault, r.handleMe)))
	r.mux.HandleFunc("/ws/events", r.audit("/ws/events", r.handlerIPRate("/ws/events", rateLimitStream, rateWindowRealtime, r.handleEventsWS)))
	r.mux.HandleFunc("/events/stream", r.audit("/events/stream", r.handlerIPRate("/events/stream", rateLimitStream, rateWindowRealtime, r.handleEventsSSE)))
}

type userPayload struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type userResponse struct {
	Owner     string    `json:"owner"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Index     int64     `json:"index"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r *Router) handleUsers(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodPost:
		r.handleAddUser(w, req)
	case http.MethodPut:
		r.handleUpdateUser(w, req)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleAddUser(w http.ResponseWriter, req *http.Request) {
	caller, ok := r.callerFromRequest(w, req)
	if !ok {
		return
	}
	payload, ok := decodeUserPayload(w, req)
	if !ok {
		return
	}
	index, err := r.registry.Add(req.Context(), caller, payload.Name, payload.Email)
	if err != nil {
		r.writeRegistryError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"index": index})
}

func (r *Router) handleUpdateUser(w http.ResponseWriter, req *http.Request) {
	caller, ok := r.callerFromRequest(w, req)
	if !ok {
		return
	}
	payload, ok := decodeUserPayload(w, req)
	if !ok {
		return
	}
	if err := r.registry.Update(req.Context(), caller, payload.Name, payload.Email); err != nil {
		r.writeRegistryError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// handleUserSubroutes serves /users/{email} and /users/{email}/exists.
func (r *Router) handleUserSubroutes(w http.ResponseWriter, req *http.Request) {
	// Split before unescaping so an email carrying %2F stays one segment.
	trimmed := strings.TrimPrefix(req.URL.EscapedPath(), "/users/")
	rawEmail, rest, _ := strings.Cut(trimmed, "/")
	email, err := url.PathUnescape(rawEmail)
	if err != nil || email == "" {
		r.notFound(w)
		return
	}
	switch {
	case rest == "exists":
		r.handlerIPRate("/users/{email}/exists", rateLimitUserRead, rateWindowDefault, func(w http.ResponseWriter, req *http.Request) {
			r.handleExists(w, req, email)
		})(w, req)
	case rest != "":
		r.notFound(w)
	case req.Method == http.MethodGet:
		r.handlerIPRate("/users/{email}", rateLimitUserRead, rateWindowDefault, func(w http.ResponseWriter, req *http.Request) {
			r.handleGetUser(w, req, email)
		})(w, req)
	case req.Method == http.MethodDelete:
		r.handlerAuthRate("/users/{email}", rateLimitUserWrite, rateWindowDefault, func(w http.ResponseWriter, req *http.Request) {
			r.handleRemoveUser(w, req, email)
		})(w, req)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleGetUser(w http.ResponseWriter, req *http.Request, email string) {
	name, err := r.registry.GetUserByEmail(req.Context(), email)
	if err != nil {
		r.writeRegistryError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, userPayload{Name: name, Email: email})
}

func (r *Router) handleExists(w http.ResponseWriter, req *http.Request, email string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	exists, err := r.registry.Exists(req.Context(), email)
	if err != nil {
		r.writeRegistryError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"email": email, "exists": exists})
}

func (r *Router) handleRemoveUser(w http.ResponseWriter, req *http.Request, email string) {
	caller, ok := r.callerFromRequest(w, req)
	if !ok {
		return
	}
	if err := r.registry.Remove(req.Context(), caller, email); err != nil {
		r.writeRegistryError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleUsersLength(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	length, err := r.registry.GetUsersLength(req.Context())
	if err != nil {
		r.writeRegistryError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"length": length})
}

func (r *Router) handleMe(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	caller, ok := r.callerFromRequest(w, req)
	if !ok {
		return
	}
	user, err := r.registry.GetUser(req.Context(), caller)
	if err != nil {
		r.writeRegistryError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{
		Owner:     user.Owner,
		Name:      user.Name,
		Email:     user.Email,
		Index:     user.Index,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	})
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.storeHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.storeHealth(ctx); err != nil {
			status = "degraded"
			components["store"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["store"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func decodeUserPayload(w http.ResponseWriter, req *http.Request) (userPayload, bool) {
	var payload userPayload
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, kindBadRequest, "invalid JSON body")
		return userPayload{}, false
	}
	return payload, true
}

// audit assigns a request id, records metrics, and logs one line per request.
func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		reqID := strings.TrimSpace(req.Header.Get("X-Request-ID"))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		req = req.WithContext(requestctx.WithRequestID(req.Context(), reqID))

		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.metrics.recordRequest(req.Method, route, status, duration)

		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
			"request_id", reqID,
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if caller, ok := requestctx.IdentityFromContext(ctx); ok {
			fields = append(fields, "identity", caller)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status == 0 {
		sr.status = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, kindBadRequest, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, kindNotFound, "not found")
}
