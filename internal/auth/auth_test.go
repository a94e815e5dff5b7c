package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/store"
)

func newTestService(t *testing.T, expiry time.Duration) (*Service, store.Store) {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	cfg := config.AuthConfig{
		JWTSecret: "test-secret-at-least-32-chars-long!!",
		JWTExpiry: config.Duration{Duration: expiry},
	}
	return NewService(s, cfg), s
}

func registerAndLogin(t *testing.T, svc *Service, username string) string {
	t.Helper()
	ctx := context.Background()
	if _, err := svc.Register(ctx, username, "password123"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	token, err := svc.Login(ctx, username, "password123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	return token
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _ := newTestService(t, time.Hour)

	token := registerAndLogin(t, svc, "alice")
	if token == "" {
		t.Fatal("Login returned empty token")
	}
	if parts := strings.Split(token, "."); len(parts) != 3 {
		t.Errorf("expected JWT with 3 parts, got %d", len(parts))
	}
}

func TestRegister_Duplicate(t *testing.T) {
	svc, _ := newTestService(t, time.Hour)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "password123"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, err := svc.Register(ctx, "alice", "otherpassword")
	if !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	svc, _ := newTestService(t, time.Hour)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "password123"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, err := svc.Login(ctx, "alice", "wrong-password")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLogin_UnknownUser(t *testing.T) {
	svc, _ := newTestService(t, time.Hour)

	_, err := svc.Login(context.Background(), "nobody", "password123")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestVerify_ValidToken(t *testing.T) {
	svc, _ := newTestService(t, time.Hour)

	token := registerAndLogin(t, svc, "alice")

	identity, err := svc.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if identity.Username != "alice" {
		t.Errorf("Username = %q, want %q", identity.Username, "alice")
	}
	if identity.UserID == "" {
		t.Error("UserID is empty")
	}
}

// A logged-out token stays cryptographically valid until natural expiry but
// must be rejected the moment its session row is gone.
func TestVerify_RevokedAfterLogout(t *testing.T) {
	svc, _ := newTestService(t, time.Hour)
	ctx := context.Background()

	token := registerAndLogin(t, svc, "alice")

	if _, err := svc.Verify(ctx, token); err != nil {
		t.Fatalf("Verify before logout: %v", err)
	}

	if err := svc.Logout(ctx, token); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	_, err := svc.Verify(ctx, token)
	if err == nil {
		t.Fatal("expected error for revoked token")
	}
	if Reason(err) != ReasonRevoked {
		t.Errorf("Reason = %q, want %q", Reason(err), ReasonRevoked)
	}
}

func TestLogout_Idempotent(t *testing.T) {
	svc, _ := newTestService(t, time.Hour)
	ctx := context.Background()

	token := registerAndLogin(t, svc, "alice")

	if err := svc.Logout(ctx, token); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	// Second logout has nothing to delete and still succeeds.
	if err := svc.Logout(ctx, token); err != nil {
		t.Fatalf("Logout (repeat): %v", err)
	}
}

func TestVerify_Malformed(t *testing.T) {
	svc, _ := newTestService(t, time.Hour)

	_, err := svc.Verify(context.Background(), "not-a-jwt")
	if err == nil {
		t.Fatal("expected error for malformed token")
	}
	if Reason(err) != ReasonMalformed {
		t.Errorf("Reason = %q, want %q", Reason(err), ReasonMalformed)
	}
}

func TestVerify_WrongSignature(t *testing.T) {
	svc, _ := newTestService(t, time.Hour)
	other, _ := newTestService(t, time.Hour)
	other.jwtSecret = []byte("a-completely-different-32-char-secret")

	token := registerAndLogin(t, other, "alice")

	_, err := svc.Verify(context.Background(), token)
	if err == nil {
		t.Fatal("expected error for foreign signature")
	}
	if Reason(err) != ReasonInvalidSignature {
		t.Errorf("Reason = %q, want %q", Reason(err), ReasonInvalidSignature)
	}
}

func TestVerify_Expired(t *testing.T) {
	svc, _ := newTestService(t, -time.Minute)

	token := registerAndLogin(t, svc, "alice")

	_, err := svc.Verify(context.Background(), token)
	if err == nil {
		t.Fatal("expected error for expired token")
	}
	if Reason(err) != ReasonExpired {
		t.Errorf("Reason = %q, want %q", Reason(err), ReasonExpired)
	}
}

func TestPurgeExpiredSessions(t *testing.T) {
	svc, _ := newTestService(t, -time.Minute)
	ctx := context.Background()

	registerAndLogin(t, svc, "alice")

	n, err := svc.PurgeExpiredSessions(ctx)
	if err != nil {
		t.Fatalf("PurgeExpiredSessions: %v", err)
	}
	if n != 1 {
		t.Errorf("purged = %d, want 1", n)
	}

	// Nothing left to purge.
	n, err = svc.PurgeExpiredSessions(ctx)
	if err != nil {
		t.Fatalf("PurgeExpiredSessions (repeat): %v", err)
	}
	if n != 0 {
		t.Errorf("purged = %d, want 0", n)
	}
}
