package goAuthClient

import (
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete client configuration. Start from DefaultConfig
// and override fields, or load it from YAML with LoadConfig.
type Config struct {
	API       APIConfig       `yaml:"api"`
	Endpoints EndpointsConfig `yaml:"endpoints"`
	Session   SessionConfig   `yaml:"session"`
	Guard     GuardConfig     `yaml:"guard"`
	MFAGuard  GuardConfig     `yaml:"mfa_guard"`
	Flow      FlowConfig      `yaml:"flow"`
	Store     StoreConfig     `yaml:"store"`
	Audit     AuditConfig     `yaml:"audit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

/*
====================================
API CONFIG
====================================
*/

// APIConfig locates the backend.
type APIConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	UserAgent  string        `yaml:"user_agent"`
	CSRFCookie string        `yaml:"csrf_cookie"`
	CSRFHeader string        `yaml:"csrf_header"`
}

// EndpointsConfig holds the backend paths, relative to BaseURL.
type EndpointsConfig struct {
	ValidateEmail string `yaml:"validate_email"`
	Login         string `yaml:"login"`
	MFAVerify     string `yaml:"mfa_verify"`
	MFAResend     string `yaml:"mfa_resend"`
	Refresh       string `yaml:"refresh"`
	Logout        string `yaml:"logout"`
	Me            string `yaml:"me"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig tunes the session manager.
type SessionConfig struct {
	// RefreshSkew is how long before exp NeedsRefresh starts reporting true.
	RefreshSkew time.Duration `yaml:"refresh_skew"`
	// RetryOn401 enables the single refresh-then-retry in SessionManager.Do.
	RetryOn401 bool `yaml:"retry_on_401"`
	// SharedCallTimeout bounds a coalesced Bootstrap or Refresh run, which
	// outlives any single caller's context.
	SharedCallTimeout time.Duration `yaml:"shared_call_timeout"`
}

/*
====================================
GUARD CONFIG
====================================
*/

// GuardConfig configures one BruteForceGuard.
type GuardConfig struct {
	Namespace   string        `yaml:"namespace"`
	MaxAttempts int           `yaml:"max_attempts"`
	LockoutTTL  time.Duration `yaml:"lockout_ttl"`
	// AttemptWindow is the store TTL for records that are not locked.
	AttemptWindow time.Duration `yaml:"attempt_window"`
}

// FlowConfig configures the login state machine.
type FlowConfig struct {
	MinPasswordLength int    `yaml:"min_password_length"`
	RememberMeKey     string `yaml:"remember_me_key"`
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreBackend selects where attempt records live.
type StoreBackend string

const (
	StoreMemory StoreBackend = "memory"
	StoreRedis  StoreBackend = "redis"
)

// StoreConfig selects the KeyValueStore backing the guards.
type StoreConfig struct {
	Backend       StoreBackend `yaml:"backend"`
	RedisAddr     string       `yaml:"redis_addr"`
	RedisPassword string       `yaml:"redis_password"`
	RedisDB       int          `yaml:"redis_db"`
	Prefix        string       `yaml:"prefix"`
}

/*
====================================
OBSERVABILITY CONFIG
====================================
*/

// AuditConfig controls the async audit relay.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
	DropIfFull bool `yaml:"drop_if_full"`
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the backend's documented defaults.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			BaseURL:    "http://localhost:8000",
			Timeout:    15 * time.Second,
			UserAgent:  "goAuthClient/1",
			CSRFCookie: "csrf_token",
			CSRFHeader: "X-CSRF-Token",
		},
		Endpoints: EndpointsConfig{
			ValidateEmail: "/auth/validate-email",
			Login:         "/auth/login",
			MFAVerify:     "/auth/mfa/verify",
			MFAResend:     "/auth/mfa/resend",
			Refresh:       "/auth/refresh",
			Logout:        "/auth/logout",
			Me:            "/auth/me",
		},
		Session: SessionConfig{
			RefreshSkew:       30 * time.Second,
			RetryOn401:        true,
			SharedCallTimeout: time.Minute,
		},
		Guard: GuardConfig{
			Namespace:     "bf_attempts",
			MaxAttempts:   5,
			LockoutTTL:    15 * time.Minute,
			AttemptWindow: 24 * time.Hour,
		},
		MFAGuard: GuardConfig{
			Namespace:     "mfa_attempts",
			MaxAttempts:   5,
			LockoutTTL:    15 * time.Minute,
			AttemptWindow: 24 * time.Hour,
		},
		Flow: FlowConfig{
			MinPasswordLength: 8,
			RememberMeKey:     "auth_remember_flag",
		},
		Store: StoreConfig{
			Backend: StoreMemory,
			Prefix:  "gac",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate reports the first invalid field, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func (c *Config) validate() error {
	base, err := url.Parse(c.API.BaseURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return errors.New("API BaseURL must be an absolute http(s) URL")
	}
	if c.API.Timeout < 0 {
		return errors.New("API Timeout must be >= 0")
	}
	if c.API.CSRFCookie == "" || c.API.CSRFHeader == "" {
		return errors.New("API CSRFCookie and CSRFHeader must be set")
	}

	for name, path := range map[string]string{
		"ValidateEmail": c.Endpoints.ValidateEmail,
		"Login":         c.Endpoints.Login,
		"MFAVerify":     c.Endpoints.MFAVerify,
		"MFAResend":     c.Endpoints.MFAResend,
		"Refresh":       c.Endpoints.Refresh,
		"Logout":        c.Endpoints.Logout,
		"Me":            c.Endpoints.Me,
	} {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("Endpoints %s must start with '/'", name)
		}
	}

	if c.Session.RefreshSkew < 0 {
		return errors.New("Session RefreshSkew must be >= 0")
	}
	if c.Session.SharedCallTimeout <= 0 {
		return errors.New("Session SharedCallTimeout must be > 0")
	}

	for name, g := range map[string]GuardConfig{"Guard": c.Guard, "MFAGuard": c.MFAGuard} {
		if strings.TrimSpace(g.Namespace) == "" {
			return fmt.Errorf("%s Namespace must be set", name)
		}
		if g.MaxAttempts <= 0 {
			return fmt.Errorf("%s MaxAttempts must be > 0", name)
		}
		if g.LockoutTTL <= 0 {
			return fmt.Errorf("%s LockoutTTL must be > 0", name)
		}
		if g.AttemptWindow < 0 {
			return fmt.Errorf("%s AttemptWindow must be >= 0", name)
		}
	}
	if c.Guard.Namespace == c.MFAGuard.Namespace {
		return errors.New("Guard and MFAGuard namespaces must differ")
	}

	if c.Flow.MinPasswordLength < 0 {
		return errors.New("Flow MinPasswordLength must be >= 0")
	}
	if c.Flow.RememberMeKey == "" {
		return errors.New("Flow RememberMeKey must be set")
	}

	switch c.Store.Backend {
	case StoreMemory:
	case StoreRedis:
		if c.Store.RedisAddr == "" {
			return errors.New("Store RedisAddr is required for the redis backend")
		}
		if c.Store.RedisDB < 0 {
			return errors.New("Store RedisDB must be >= 0")
		}
	default:
		return fmt.Errorf("Store Backend must be 'memory' or 'redis', got %q", c.Store.Backend)
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("Logging Format must be 'text' or 'json', got %q", c.Logging.Format)
	}
	return nil
}

// LoadConfig reads YAML from path over DefaultConfig, applies GOAUTHCLIENT_*
// environment overrides, and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("GOAUTHCLIENT_API_BASE_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("GOAUTHCLIENT_API_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("GOAUTHCLIENT_API_TIMEOUT: %w", err)
		}
		cfg.API.Timeout = d
	}

	// Store
	if v := os.Getenv("GOAUTHCLIENT_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = StoreBackend(v)
	}
	if v := os.Getenv("GOAUTHCLIENT_REDIS_ADDR"); v != "" {
		cfg.Store.RedisAddr = v
	}
	if v := os.Getenv("GOAUTHCLIENT_REDIS_PASSWORD"); v != "" {
		cfg.Store.RedisPassword = v
	}
	if v := os.Getenv("GOAUTHCLIENT_REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("GOAUTHCLIENT_REDIS_DB: %w", err)
		}
		cfg.Store.RedisDB = db
	}

	// Logging
	if v := os.Getenv("GOAUTHCLIENT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("GOAUTHCLIENT_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	return nil
}

// validateEmail is the local pre-flight check on the identifier step.
func validateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return &ValidationError{Field: "email", Message: "Email is required."}
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndexByte(email, '@')+1:], ".") {
		return &ValidationError{Field: "email", Message: "Please enter a valid email address."}
	}
	return nil
}
