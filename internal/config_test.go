package internal

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func validConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.Upstream.Token = "joplin"
	return cfg
}

func TestDefaultConfig_NeedsToken(t *testing.T) {
	cfg := NewDefaultConfig()
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "token") {
		t.Fatalf("default config without token: err = %v", err)
	}
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("default config with token: %v", err)
	}
}

func TestUpstreamConfig_TokenFileSuffices(t *testing.T) {
	cfg := validConfig()
	cfg.Upstream.Token = ""
	cfg.Upstream.TokenFile = "/run/secrets/joplin"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token_file should satisfy the token requirement: %v", err)
	}
}

func TestUpstreamConfig_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"ftp url", func(c *Config) { c.Upstream.BaseURL = "ftp://localhost" }},
		{"no host", func(c *Config) { c.Upstream.BaseURL = "http://" }},
		{"zero timeout", func(c *Config) { c.Upstream.Timeout = 0 }},
		{"deadline below timeout", func(c *Config) { c.Upstream.CallDeadline = c.Upstream.Timeout / 2 }},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }},
		{"jitter above one", func(c *Config) { c.Retry.Jitter = 1.5 }},
		{"max delay below base", func(c *Config) { c.Retry.MaxDelay = c.Retry.BaseDelay / 2 }},
		{"zero burst", func(c *Config) { c.RateLimit.Burst = 0 }},
		{"negative rate", func(c *Config) { c.RateLimit.RequestsPerSecond = -1 }},
		{"zero threshold", func(c *Config) { c.Breaker.FailureThreshold = 0 }},
		{"negative keep", func(c *Config) { c.Journal.Keep = -1 }},
		{"port out of range", func(c *Config) { c.App.HTTP.Port = 70000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvAPIURL:     "http://joplin.lan:41184",
		EnvAPIToken:   "from-env",
		EnvAllowWrite: "true",
		EnvLogLevel:   "debug",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := NewDefaultConfig()
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Upstream.BaseURL != env[EnvAPIURL] || cfg.Upstream.Token != "from-env" {
		t.Errorf("upstream = %+v", cfg.Upstream)
	}
	if !cfg.Features.WriteEnabled {
		t.Error("write should be enabled from the environment")
	}
	if cfg.App.LogLevel != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", cfg.App.LogLevel)
	}

	env[EnvAllowWrite] = "maybe"
	if err := NewDefaultConfig().ApplyEnv(lookup); err == nil {
		t.Error("expected error for a non-boolean write flag")
	}
}

func TestRetryConfig_Policy(t *testing.T) {
	cfg := validConfig()
	p := cfg.Retry.Policy()
	if p.MaxAttempts != 3 || p.BaseDelay != 200*time.Millisecond || p.MaxDelay != 5*time.Second {
		t.Errorf("policy = %+v", p)
	}
}
