// Package config handles parley configuration loading and validation.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// knownWeakSecrets is a blocklist of secrets that must never be used in production.
var knownWeakSecrets = map[string]bool{
	"local-dev-secret-for-testing-only-32chars!": true,
	"changeme": true,
	"secret":   true,
}

// GenerateRandomSecret returns a cryptographically random 64-character hex string
// suitable for use as a JWT secret.
func GenerateRandomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Config is the top-level parley configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Auth      AuthConfig      `json:"auth"`
	Chat      ChatConfig      `json:"chat,omitempty"`
	Storage   StorageConfig   `json:"storage"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Shutdown  ShutdownConfig  `json:"shutdown,omitempty"`
	Logging   LoggingConfig   `json:"logging,omitempty"`
	RateLimit RateLimitConfig `json:"rate_limit,omitempty"`
}

// ServerConfig defines the listener settings.
type ServerConfig struct {
	Addr           string   `json:"addr"`                     // e.g. ":8080"
	TLSCert        string   `json:"tls_cert,omitempty"`
	TLSKey         string   `json:"tls_key,omitempty"`
	AllowedOrigins []string `json:"allowed_origins"`          // WebSocket/CORS origin allow-list; closed policy, no wildcard
	MaxBodyBytes   int64    `json:"max_body_bytes,omitempty"` // max request body size; default 64KB
}

// AuthConfig defines authentication settings.
type AuthConfig struct {
	Provider   string   `json:"provider,omitempty"`    // "builtin" (default) or "jwks"
	JWTSecret  string   `json:"jwt_secret,omitempty"`  // HS256 secret for builtin provider
	JWTExpiry  Duration `json:"jwt_expiry,omitempty"`  // default 24h
	JWKSIssuer string   `json:"jwks_issuer,omitempty"` // issuer base URL for jwks provider
}

// ChatConfig defines per-connection message policy.
type ChatConfig struct {
	RateLimitWindow      Duration `json:"rate_limit_window,omitempty"`       // fixed window; default 10s
	RateLimitMaxMessages int      `json:"rate_limit_max_messages,omitempty"` // per window; default 20
	MaxMessageBytes      int64    `json:"max_message_bytes,omitempty"`       // frame size cap; default 1024
	MaxMessageChars      int      `json:"max_message_chars,omitempty"`       // chat text cap; default 250
	PresenceDelay        Duration `json:"presence_delay,omitempty"`          // disconnect coalescing delay; default 1s
}

// StorageConfig defines database settings.
type StorageConfig struct {
	Driver string `json:"driver"` // "sqlite" (default) or "postgres"
	DSN    string `json:"dsn"`    // e.g. "parley.db" or ":memory:"
}

// TelemetryConfig defines the side-channel telemetry sink.
type TelemetryConfig struct {
	FlushTimeout Duration `json:"flush_timeout,omitempty"` // default 2s
}

// ShutdownConfig defines graceful shutdown behavior.
type ShutdownConfig struct {
	Timeout Duration `json:"timeout,omitempty"` // accept-layer drain bound; default 10s
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `json:"level,omitempty"`
	Format string `json:"format,omitempty"` // "json" or "text"
}

// RateLimitConfig defines HTTP-level rate limiting for the auth endpoints.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second,omitempty"` // default 5
	Burst             int     `json:"burst,omitempty"`               // default 10
}

// Duration is a JSON-friendly time.Duration.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		dur, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		d.Duration = dur
	case float64:
		d.Duration = time.Duration(val) * time.Second
	default:
		return fmt.Errorf("invalid duration: %v", v)
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// Validate checks required settings.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	// The origin policy is closed: an empty allow-list would admit nobody.
	if len(c.Server.AllowedOrigins) == 0 {
		return fmt.Errorf("server.allowed_origins must list at least one origin")
	}
	switch c.Auth.Provider {
	case "", "builtin":
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is required")
		}
		if len(c.Auth.JWTSecret) < 32 {
			return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
		}
		if knownWeakSecrets[c.Auth.JWTSecret] {
			return fmt.Errorf("auth.jwt_secret is a well-known weak secret — generate a new one")
		}
	case "jwks":
		if c.Auth.JWKSIssuer == "" {
			return fmt.Errorf("auth.jwks_issuer is required when provider is jwks")
		}
	default:
		return fmt.Errorf("unknown auth provider: %q", c.Auth.Provider)
	}
	return nil
}

// ApplyDefaults fills unset fields with production defaults.
func (c *Config) ApplyDefaults() {
	if c.Auth.JWTExpiry.Duration == 0 {
		c.Auth.JWTExpiry.Duration = 24 * time.Hour
	}
	if c.Chat.RateLimitWindow.Duration == 0 {
		c.Chat.RateLimitWindow.Duration = 10 * time.Second
	}
	if c.Chat.RateLimitMaxMessages == 0 {
		c.Chat.RateLimitMaxMessages = 20
	}
	if c.Chat.MaxMessageBytes == 0 {
		c.Chat.MaxMessageBytes = 1024
	}
	if c.Chat.MaxMessageChars == 0 {
		c.Chat.MaxMessageChars = 250
	}
	if c.Chat.PresenceDelay.Duration == 0 {
		c.Chat.PresenceDelay.Duration = 1 * time.Second
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.DSN == "" {
		c.Storage.DSN = "parley.db"
	}
	if c.Telemetry.FlushTimeout.Duration == 0 {
		c.Telemetry.FlushTimeout.Duration = 2 * time.Second
	}
	if c.Shutdown.Timeout.Duration == 0 {
		c.Shutdown.Timeout.Duration = 10 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 5
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 10
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 64 * 1024
	}
}
