package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rodrigorsdev/r2.blockchain.crud/internal/requestctx"
	"github.com/rodrigorsdev/r2.blockchain.crud/internal/service/registry"
)

// Error kinds outside the registry taxonomy.
const (
	kindAuthentication = "authentication"
	kindBadRequest     = "bad_request"
	kindNotFound       = "not_found"
	kindRateLimited    = "rate_limited"
	kindInternal       = "internal"
)

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message tagged with its kind.
func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Kind: kind})
}

// writeRegistryError maps registry failures onto HTTP statuses. Anything
// outside the registry taxonomy is reported as an opaque 500.
func (r *Router) writeRegistryError(w http.ResponseWriter, req *http.Request, err error) {
	var regErr *registry.Error
	if !errors.As(err, &regErr) {
		r.logger.Error("registry operation failed",
			"error", err,
			"path", req.URL.Path,
			"request_id", requestctx.RequestIDFromContext(req.Context()),
		)
		writeError(w, http.StatusInternalServerError, kindInternal, "internal error")
		return
	}
	writeError(w, statusForKind(regErr.Kind), string(regErr.Kind), regErr.Reason)
}

func statusForKind(kind registry.Kind) int {
	switch kind {
	case registry.KindValidation:
		return http.StatusBadRequest
	case registry.KindAuthorization:
		return http.StatusForbidden
	case registry.KindNotFound:
		return http.StatusNotFound
	case registry.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
