// Package store defines the storage interface for parley and provides SQLite
// and PostgreSQL implementations.
package store

import (
	"context"
	"time"
)

// Store is the persistence interface backing accounts and live sessions.
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, username string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)

	// Live sessions. A credential is live iff its row exists; logout deletes
	// the row, natural expiry is enforced by the token validator.
	CreateSession(ctx context.Context, sess *Session) error
	SessionExists(ctx context.Context, tokenID string) (bool, error)
	DeleteSession(ctx context.Context, tokenID string) error
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error)

	// Health
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// User represents a registered account.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Session is one live (non-revoked) credential, keyed by the token's jti.
type Session struct {
	TokenID   string    `json:"token_id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}
