// Package auth turns bearer tokens into caller identities.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rodrigorsdev/r2.blockchain.crud/pkg/identity"
	jwtpkg "github.com/rodrigorsdev/r2.blockchain.crud/pkg/jwt"
)

// DefaultTokenTTL applies when Options.TokenTTL is unset.
const DefaultTokenTTL = 24 * time.Hour

var (
	// ErrTokenRequired is returned for an empty bearer token.
	ErrTokenRequired = errors.New("token required")
	// ErrInvalidToken wraps every token parse or subject failure.
	ErrInvalidToken = errors.New("invalid token")
)

// Options configures token signing.
type Options struct {
	Secret   string
	TokenTTL time.Duration
}

// Token is a signed bearer token for one identity.
type Token struct {
	AccessToken string
	Identity    string
	ExpiresAt   time.Time
}

// Service handles the caller context boundary.
type Service struct {
	logger *slog.Logger
	opts   Options
}

// New constructs a Service.
func New(logger *slog.Logger, opts Options) Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = DefaultTokenTTL
	}
	return Service{logger: logger, opts: opts}
}

// Authorize validates a bearer token and returns the checksummed caller identity.
func (s Service) Authorize(_ context.Context, token string) (string, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return "", ErrTokenRequired
	}
	claims, err := jwtpkg.Parse(trimmed, s.opts.Secret)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	caller, err := identity.Parse(claims.Identity())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return caller, nil
}

// Issue signs a token for the given identity.
func (s Service) Issue(raw string) (Token, error) {
	caller, err := identity.Parse(raw)
	if err != nil {
		return Token{}, err
	}
	signed, expires, err := jwtpkg.GenerateToken(caller, s.opts.Secret, s.opts.TokenTTL)
	if err != nil {
		return Token{}, err
	}
	s.logger.Debug("token issued", "identity", caller, "expires_at", expires)
	return Token{AccessToken: signed, Identity: caller, ExpiresAt: expires}, nil
}
