// Package config provides the configuration schema, loader, and provider
// registry for the visaroom interview server.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l onto a slog level. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Interview  InterviewConfig  `yaml:"interview"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// AllowedOrigins lists host patterns allowed to open the speech
	// WebSocket from a browser (e.g., "localhost:3000"). Same-origin requests
	// are always accepted.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// StaticDir, if set, serves a built browser client from this directory.
	// It must contain index.html.
	StaticDir string `yaml:"static_dir"`

	// ShutdownTimeout bounds graceful shutdown. Defaults to 15s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares the language-model backends. LLM is the primary;
// Fallbacks are tried in order when it fails or its circuit is open.
type ProvidersConfig struct {
	LLM       ProviderEntry   `yaml:"llm"`
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// ProviderEntry is the configuration block of one backend.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "groq", "gemini").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	// Use ${VAR} to read it from the environment.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}

// InterviewConfig tunes the officer and the session controller. Changes are
// picked up by sessions created after a reload.
type InterviewConfig struct {
	// Persona replaces the built-in consular officer instructions.
	Persona string `yaml:"persona"`

	// Temperature, TopP and MaxTokens tune generation. Zero keeps the
	// built-in defaults (0.6, 0.85, 120).
	Temperature float64 `yaml:"temperature"`
	TopP        float64 `yaml:"top_p"`
	MaxTokens   int     `yaml:"max_tokens"`

	// RetryAttempts and RetryDelay bound the retries of an overloaded
	// backend. Defaults: 3 attempts, 2s apart.
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`

	// SkipGreeting starts listening without the opening officer line.
	SkipGreeting bool `yaml:"skip_greeting"`

	// RestartDelay and RelistenDelay are the capture timings. Defaults:
	// 500ms and 800ms.
	RestartDelay  time.Duration `yaml:"restart_delay"`
	RelistenDelay time.Duration `yaml:"relisten_delay"`

	// DecisionPrecedence picks the outcome when the officer both approved and
	// denied: "approval" (default) or "denial".
	DecisionPrecedence string `yaml:"decision_precedence"`

	// PhoneticCorrection repairs misrecognised destination names in
	// applicant speech.
	PhoneticCorrection bool `yaml:"phonetic_correction"`

	// ExtraDestinations adds correction targets to the built-in list.
	ExtraDestinations []string `yaml:"extra_destinations"`

	// MaxSessions caps concurrently registered sessions. Defaults to 100.
	MaxSessions int `yaml:"max_sessions"`

	// SessionTTL is how long an ended session stays available for its
	// verdict and transcript. Defaults to 30m.
	SessionTTL time.Duration `yaml:"session_ttl"`
}

// ResilienceConfig tunes the per-backend circuit breakers.
type ResilienceConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// TelemetryConfig controls tracing and metrics export.
type TelemetryConfig struct {
	// ServiceName is the OpenTelemetry service.name. Defaults to "visaroom".
	ServiceName string `yaml:"service_name"`

	// SampleRatio is the trace sampling ratio in [0, 1]. Zero samples
	// everything.
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Defaults for unset fields.
const (
	DefaultListenAddr      = ":8080"
	DefaultShutdownTimeout = 15 * time.Second
	DefaultRetryAttempts   = 3
	DefaultRetryDelay      = 2 * time.Second
	DefaultMaxSessions     = 100
	DefaultSessionTTL      = 30 * time.Minute
)

// ApplyDefaults fills unset fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Interview.RetryAttempts <= 0 {
		c.Interview.RetryAttempts = DefaultRetryAttempts
	}
	if c.Interview.RetryDelay <= 0 {
		c.Interview.RetryDelay = DefaultRetryDelay
	}
	if c.Interview.MaxSessions <= 0 {
		c.Interview.MaxSessions = DefaultMaxSessions
	}
	if c.Interview.SessionTTL <= 0 {
		c.Interview.SessionTTL = DefaultSessionTTL
	}
}
