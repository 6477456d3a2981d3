package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/notebridge/internal/retry"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Environment variables that override the config file.
const (
	EnvAPIURL     = "JOPLIN_API_URL"
	EnvAPIToken   = "JOPLIN_API_TOKEN"
	EnvAllowWrite = "JOPLIN_ALLOW_WRITE_OPERATIONS"
	EnvLogLevel   = "LOG_LEVEL"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Upstream  UpstreamConfig    `yaml:"upstream"`
	Retry     RetryConfig       `yaml:"retry"`
	RateLimit RateLimitConfig   `yaml:"rate_limit"`
	Breaker   BreakerConfig     `yaml:"breaker"`
	Features  FeaturesConfig    `yaml:"features"`
	Journal   JournalConfig     `yaml:"journal"`
	Auth      AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	sections := []struct {
		name string
		v    validation.Validatable
	}{
		{"app", &c.App},
		{"upstream", &c.Upstream},
		{"retry", &c.Retry},
		{"rate_limit", &c.RateLimit},
		{"breaker", &c.Breaker},
		{"journal", &c.Journal},
		{"auth", &c.Auth},
	}
	for _, s := range sections {
		if err := s.v.Validate(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

// ApplyEnv overrides file settings with the JOPLIN_* and LOG_LEVEL
// environment variables. lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvAPIURL); ok && v != "" {
		c.Upstream.BaseURL = v
	}
	if v, ok := lookup(EnvAPIToken); ok && v != "" {
		c.Upstream.Token = v
	}
	if v, ok := lookup(EnvAllowWrite); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvAllowWrite, err)
		}
		c.Features.WriteEnabled = b
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		if err := c.App.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("%s: %w", EnvLogLevel, err)
		}
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// UpstreamConfig locates the Joplin data API. The token comes from
// Token or, when set, from the first line of TokenFile.
type UpstreamConfig struct {
	BaseURL          string        `yaml:"base_url"`
	Token            string        `yaml:"token"`
	TokenFile        string        `yaml:"token_file"`
	Timeout          time.Duration `yaml:"timeout"`
	CallDeadline     time.Duration `yaml:"call_deadline"`
	MinProbeInterval time.Duration `yaml:"min_probe_interval"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout"`
}

var httpURL = validation.By(func(v any) error {
	s, _ := v.(string)
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("must be an http or https URL")
	}
	return nil
})

// Validate validates the upstream configuration.
func (c *UpstreamConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required, httpURL),
		validation.Field(&c.Timeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.CallDeadline, validation.Required, validation.Min(c.Timeout)),
		validation.Field(&c.MinProbeInterval, validation.Min(time.Duration(0))),
		validation.Field(&c.ProbeTimeout, validation.Required, validation.Min(time.Millisecond)),
	); err != nil {
		return err
	}
	if c.Token == "" && c.TokenFile == "" {
		return fmt.Errorf("token or token_file is required (or set %s)", EnvAPIToken)
	}
	return nil
}

// RetryConfig tunes retries of transient upstream failures.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Jitter      float64       `yaml:"jitter"`
}

// Validate validates the retry configuration.
func (c *RetryConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxAttempts, validation.Required, validation.Min(1), validation.Max(10)),
		validation.Field(&c.BaseDelay, validation.Required),
		validation.Field(&c.MaxDelay, validation.Required, validation.Min(c.BaseDelay)),
		validation.Field(&c.Jitter, validation.Min(0.0), validation.Max(1.0)),
	)
}

// Policy converts the configuration to a retry policy.
func (c *RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   c.BaseDelay,
		MaxDelay:    c.MaxDelay,
		Jitter:      c.Jitter,
	}
}

// RateLimitConfig sizes the shared request budget.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Validate validates the rate limit configuration.
func (c *RateLimitConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.RequestsPerSecond, validation.Required, validation.Min(0.001)),
		validation.Field(&c.Burst, validation.Required, validation.Min(1)),
	)
}

// BreakerConfig tunes the circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	CoolDown         time.Duration `yaml:"cool_down"`
}

// Validate validates the breaker configuration.
func (c *BreakerConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.FailureThreshold, validation.Required, validation.Min(1)),
		validation.Field(&c.CoolDown, validation.Required),
	)
}

// FeaturesConfig toggles optional behaviour.
type FeaturesConfig struct {
	WriteEnabled bool `yaml:"write_enabled"`
}

// JournalConfig locates the SQLite operation journal. An empty Path
// disables journaling.
type JournalConfig struct {
	Path string `yaml:"path"`
	// Keep is how many entries survive the startup prune.
	Keep int `yaml:"keep"`
}

// Validate validates the journal configuration.
func (c *JournalConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Keep, validation.Min(0)),
	)
}

// AuthConfig holds authentication configuration for inbound REST calls.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	policy := retry.Default()
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Upstream: UpstreamConfig{
			BaseURL:          "http://localhost:41184",
			Timeout:          10 * time.Second,
			CallDeadline:     30 * time.Second,
			MinProbeInterval: 5 * time.Second,
			ProbeTimeout:     10 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts: policy.MaxAttempts,
			BaseDelay:   policy.BaseDelay,
			MaxDelay:    policy.MaxDelay,
			Jitter:      policy.Jitter,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 1,
			Burst:             10,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			CoolDown:         30 * time.Second,
		},
		Journal: JournalConfig{
			Path: "./notebridge.db",
			Keep: 10000,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
