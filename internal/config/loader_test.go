package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/visaroom/internal/config"
)

const minimalYAML = `
providers:
  llm:
    name: groq
    model: llama-3.3-70b-versatile
`

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr = %q, want %q", cfg.Server.ListenAddr, config.DefaultListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Interview.RetryAttempts != 3 || cfg.Interview.RetryDelay != 2*time.Second {
		t.Errorf("retry = %d x %v, want 3 x 2s", cfg.Interview.RetryAttempts, cfg.Interview.RetryDelay)
	}
	if cfg.Interview.MaxSessions != config.DefaultMaxSessions {
		t.Errorf("max_sessions = %d, want %d", cfg.Interview.MaxSessions, config.DefaultMaxSessions)
	}
	if cfg.Interview.SessionTTL != config.DefaultSessionTTL {
		t.Errorf("session_ttl = %v, want %v", cfg.Interview.SessionTTL, config.DefaultSessionTTL)
	}
}

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":9000"
  log_level: debug
  allowed_origins: ["localhost:3000"]
  shutdown_timeout: 5s
providers:
  llm:
    name: openai
    base_url: https://api.groq.com/openai/v1
    model: llama-3.3-70b-versatile
  fallbacks:
    - name: gemini
      model: gemini-2.0-flash
interview:
  temperature: 0.4
  max_tokens: 200
  restart_delay: 250ms
  decision_precedence: denial
  phonetic_correction: true
  extra_destinations: [Ireland]
resilience:
  max_failures: 2
  reset_timeout: 10s
telemetry:
  sample_ratio: 0.5
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("shutdown_timeout = %v, want 5s", cfg.Server.ShutdownTimeout)
	}
	if len(cfg.Providers.Fallbacks) != 1 || cfg.Providers.Fallbacks[0].Label() != "gemini/gemini-2.0-flash" {
		t.Errorf("fallbacks = %+v", cfg.Providers.Fallbacks)
	}
	if cfg.Interview.RestartDelay != 250*time.Millisecond {
		t.Errorf("restart_delay = %v, want 250ms", cfg.Interview.RestartDelay)
	}
	if cfg.Interview.DecisionPrecedence != "denial" {
		t.Errorf("decision_precedence = %q", cfg.Interview.DecisionPrecedence)
	}
	if cfg.Resilience.MaxFailures != 2 || cfg.Resilience.ResetTimeout != 10*time.Second {
		t.Errorf("resilience = %+v", cfg.Resilience)
	}
}

func TestLoadFromReader_ExpandsEnv(t *testing.T) {
	t.Setenv("VISAROOM_TEST_KEY", "sk-secret")
	yaml := `
providers:
  llm:
    name: groq
    api_key: ${VISAROOM_TEST_KEY}
interview:
  persona: "Fees are $160."
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers.LLM.APIKey != "sk-secret" {
		t.Errorf("api_key = %q, want sk-secret", cfg.Providers.LLM.APIKey)
	}
	if cfg.Interview.Persona != "Fees are $160." {
		t.Errorf("persona = %q, bare $ must survive", cfg.Interview.Persona)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	yaml := minimalYAML + "npcs: []\n"
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing llm", `server: {log_level: info}`, "providers.llm.name is required"},
		{"bad log level", minimalYAML + "server: {log_level: loud}\n", "server.log_level"},
		{"half tls", minimalYAML + "server: {tls: {cert_file: a.pem}}\n", "cert_file and key_file"},
		{"temperature", minimalYAML + "interview: {temperature: 3}\n", "interview.temperature"},
		{"top_p", minimalYAML + "interview: {top_p: 1.5}\n", "interview.top_p"},
		{"negative delay", minimalYAML + "interview: {restart_delay: -1s}\n", "interview.restart_delay"},
		{"precedence", minimalYAML + "interview: {decision_precedence: coin}\n", "decision_precedence"},
		{"sample ratio", minimalYAML + "telemetry: {sample_ratio: 2}\n", "telemetry.sample_ratio"},
		{"fallback name", minimalYAML + "  fallbacks: [{model: x}]\n", "providers.fallbacks[0].name is required"},
		{
			"duplicate fallback",
			"providers:\n  llm: {name: groq, model: m}\n  fallbacks: [{name: groq, model: m}]\n",
			"duplicate",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
interview:
  top_p: 2
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"log_level", "providers.llm.name", "top_p"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want os.ErrNotExist", err)
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	writeFile(t, path, "VISAROOM_DOTENV_A=from-file\nVISAROOM_DOTENV_B=from-file\n")
	t.Setenv("VISAROOM_DOTENV_B", "from-env")
	t.Cleanup(func() { os.Unsetenv("VISAROOM_DOTENV_A") })

	if err := config.LoadEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if got := os.Getenv("VISAROOM_DOTENV_A"); got != "from-file" {
		t.Errorf("A = %q, want from-file", got)
	}
	if got := os.Getenv("VISAROOM_DOTENV_B"); got != "from-env" {
		t.Errorf("B = %q, want the pre-set value", got)
	}
}

func TestProviderEntry_Label(t *testing.T) {
	t.Parallel()
	if got := (config.ProviderEntry{Name: "groq"}).Label(); got != "groq" {
		t.Errorf("Label = %q, want groq", got)
	}
	if got := (config.ProviderEntry{Name: "groq", Model: "llama"}).Label(); got != "groq/llama" {
		t.Errorf("Label = %q, want groq/llama", got)
	}
}
