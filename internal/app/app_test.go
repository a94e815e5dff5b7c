package app

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/parley-chat/parley/internal/config"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.AllowedOrigins = []string{"http://chat.example"}
	cfg.Auth.JWTSecret = "test-secret-at-least-32-chars-long!!"
	cfg.Storage.Driver = "sqlite"
	cfg.Storage.DSN = ":memory:"
	cfg.ApplyDefaults()
	cfg.Shutdown.Timeout = config.Duration{Duration: 2 * time.Second}
	return cfg
}

func TestNew_WiresComponents(t *testing.T) {
	a, err := New(testConfig(), slog.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.store.Close() })

	if a.accounts == nil {
		t.Error("builtin provider should expose the account service")
	}
	if a.hub == nil || a.api == nil || a.metrics == nil {
		t.Error("component wiring incomplete")
	}
}

func TestNew_UnknownDriver(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.Driver = "oracle"
	if _, err := New(cfg, slog.Default()); err == nil {
		t.Fatal("expected error for unknown storage driver")
	}
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	a, err := New(testConfig(), slog.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	code := a.Run(ctx)
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
}

// A second shutdown trigger must observe the first run's result, not rerun
// the stages.
func TestShutdown_Idempotent(t *testing.T) {
	a, err := New(testConfig(), slog.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	first := a.Run(ctx)
	second := a.Shutdown()
	third := a.Shutdown()
	if first != 0 || second != first || third != first {
		t.Errorf("exit codes = %d, %d, %d; want all equal 0", first, second, third)
	}
}
