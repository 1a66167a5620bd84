package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rodrigorsdev/r2.blockchain.crud/internal/requestctx"
)

type contextSetter interface {
	SetContext(context.Context)
}

// requireAuth ensures the request has a valid bearer token before invoking the handler.
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ctx, ok := r.ensureAuth(w, req)
		if !ok {
			return
		}
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
		next(w, req.WithContext(ctx))
	}
}

// ensureAuth validates the Authorization header and stores the caller identity.
func (r *Router) ensureAuth(w http.ResponseWriter, req *http.Request) (context.Context, bool) {
	token, err := bearerToken(req.Header.Get("Authorization"))
	if err != nil {
		r.logger.Warn("authorization header invalid", "error", err, "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, kindAuthentication, "authentication required")
		return req.Context(), false
	}
	caller, err := r.auth.Authorize(req.Context(), token)
	if err != nil {
		r.logger.Warn("token validation failed", "error", err, "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, kindAuthentication, "authentication failed")
		return req.Context(), false
	}
	return requestctx.WithIdentity(req.Context(), caller), true
}

// callerFromRequest returns the identity stored by requireAuth.
func (r *Router) callerFromRequest(w http.ResponseWriter, req *http.Request) (string, bool) {
	caller, ok := requestctx.IdentityFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, kindInternal, "authorization context missing")
		return "", false
	}
	return caller, true
}

func bearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("empty bearer token")
	}
	return token, nil
}
