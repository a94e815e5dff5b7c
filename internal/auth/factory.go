package auth

import (
	"fmt"

	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/store"
)

// NewVerifier creates a credential Verifier based on configuration.
func NewVerifier(cfg config.AuthConfig, s store.Store) (Verifier, error) {
	switch cfg.Provider {
	case "", "builtin":
		return NewService(s, cfg), nil
	case "jwks":
		return NewJWKSVerifier(cfg.JWKSIssuer)
	default:
		return nil, fmt.Errorf("unknown auth provider: %q", cfg.Provider)
	}
}
