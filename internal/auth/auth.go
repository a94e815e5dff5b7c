// Package auth provides credential minting and verification for parley.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/store"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
)

// Claims represents the JWT token claims.
type Claims struct {
	UserID   string `json:"uid"`
	Username string `json:"usr"`
	jwt.RegisteredClaims
}

// Service is the builtin authentication provider. Tokens it mints are live
// only while their session row exists in the store; logout deletes the row,
// so a logged-out token fails verification even before its natural expiry.
type Service struct {
	store     store.Store
	jwtSecret []byte
	jwtExpiry time.Duration
}

// NewService creates a new auth service.
func NewService(s store.Store, cfg config.AuthConfig) *Service {
	return &Service{
		store:     s,
		jwtSecret: []byte(cfg.JWTSecret),
		jwtExpiry: cfg.JWTExpiry.Duration,
	}
}

// Name returns the provider name.
func (s *Service) Name() string { return "builtin" }

// Register creates a new user account.
func (s *Service) Register(ctx context.Context, username, password string) (*store.User, error) {
	existing, err := s.store.GetUser(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("check existing: %w", err)
	}
	if existing != nil {
		return nil, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &store.User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    time.Now(),
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	return user, nil
}

// Login authenticates a user, mints a JWT, and records it in the live-session
// store. The returned token is valid until logout or natural expiry.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.store.GetUser(ctx, username)
	if err != nil {
		return "", fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return "", ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	now := time.Now()
	expiresAt := now.Add(s.jwtExpiry)
	tokenID := uuid.New().String()

	claims := &Claims{
		UserID:   user.ID,
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        tokenID,
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	if err := s.store.CreateSession(ctx, &store.Session{
		TokenID:   tokenID,
		UserID:    user.ID,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}); err != nil {
		return "", fmt.Errorf("record session: %w", err)
	}

	return token, nil
}

// Logout revokes a credential by deleting its live-session row. Revocation is
// a delete, not a flag: a second logout of the same token is a no-op.
func (s *Service) Logout(ctx context.Context, credential string) error {
	claims, err := s.parseJWT(credential)
	if err != nil {
		return err
	}
	if err := s.store.DeleteSession(ctx, claims.ID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Verify checks a credential cryptographically and against the live-session
// store. Both must pass: a logged-out token remains cryptographically valid
// until natural expiry but is rejected as revoked.
func (s *Service) Verify(ctx context.Context, credential string) (*Identity, error) {
	claims, err := s.parseJWT(credential)
	if err != nil {
		return nil, err
	}

	live, err := s.store.SessionExists(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("session lookup: %w", err)
	}
	if !live {
		return nil, &VerificationError{Reason: ReasonRevoked}
	}

	return &Identity{
		UserID:   claims.UserID,
		Username: claims.Username,
	}, nil
}

// PurgeExpiredSessions removes session rows past their natural expiry. Expiry
// itself is enforced by Verify; this only keeps the table from growing.
func (s *Service) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	return s.store.DeleteExpiredSessions(ctx, time.Now())
}

func (s *Service) parseJWT(credential string) (*Claims, error) {
	if len(s.jwtSecret) == 0 {
		return nil, &VerificationError{Reason: ReasonMisconfigured}
	}

	token, err := jwt.ParseWithClaims(credential, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, &VerificationError{Reason: ReasonMalformed}
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, &VerificationError{Reason: ReasonExpired}
		default:
			return nil, &VerificationError{Reason: ReasonInvalidSignature}
		}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.ID == "" {
		return nil, &VerificationError{Reason: ReasonMalformed}
	}

	return claims, nil
}
