package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"regexp"
	"slices"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/visaroom/internal/decision"
)

// ValidProviderNames lists the known language-model backends.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{
	"openai", "groq", "gemini", "anthropic", "ollama", "deepseek", "mistral", "llamacpp", "llamafile",
}

// envRef matches ${VAR} references. A bare $ is left alone so persona text
// may mention prices.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LoadEnv reads KEY=VALUE pairs from the given dotenv files into the process
// environment. Variables that are already set win. Missing files are skipped.
// Without arguments ".env" in the working directory is read.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load env %q: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands ${VAR} references from
// the environment, validates the result and fills in defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(expandEnv(data)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// expandEnv replaces ${VAR} with the value of the environment variable VAR.
// Unset variables expand to the empty string and are logged.
func expandEnv(data []byte) []byte {
	var missing []string
	out := envRef.ReplaceAllFunc(data, func(ref []byte) []byte {
		name := string(envRef.FindSubmatch(ref)[1])
		v, ok := os.LookupEnv(name)
		if !ok && !slices.Contains(missing, name) {
			missing = append(missing, name)
		}
		return []byte(v)
	})
	if len(missing) > 0 {
		slog.Warn("config references unset environment variables", "vars", missing)
	}
	return out
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %v must not be negative", cfg.Server.ShutdownTimeout))
	}

	// Providers
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	} else {
		validateProviderName("providers.llm", cfg.Providers.LLM.Name)
	}
	seen := map[string]string{cfg.Providers.LLM.Label(): "providers.llm"}
	for i, fb := range cfg.Providers.Fallbacks {
		prefix := fmt.Sprintf("providers.fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateProviderName(prefix, fb.Name)
		if prev, ok := seen[fb.Label()]; ok {
			errs = append(errs, fmt.Errorf("%s %q is a duplicate of %s", prefix, fb.Label(), prev))
			continue
		}
		seen[fb.Label()] = prefix
	}

	// Interview
	iv := cfg.Interview
	if iv.Temperature < 0 || iv.Temperature > 2 {
		errs = append(errs, fmt.Errorf("interview.temperature %.2f is out of range [0, 2]", iv.Temperature))
	}
	if iv.TopP < 0 || iv.TopP > 1 {
		errs = append(errs, fmt.Errorf("interview.top_p %.2f is out of range [0, 1]", iv.TopP))
	}
	if iv.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("interview.max_tokens %d must not be negative", iv.MaxTokens))
	}
	if iv.RetryAttempts < 0 {
		errs = append(errs, fmt.Errorf("interview.retry_attempts %d must not be negative", iv.RetryAttempts))
	}
	for name, d := range map[string]int64{
		"retry_delay":    int64(iv.RetryDelay),
		"restart_delay":  int64(iv.RestartDelay),
		"relisten_delay": int64(iv.RelistenDelay),
		"session_ttl":    int64(iv.SessionTTL),
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("interview.%s must not be negative", name))
		}
	}
	if _, err := decision.ParsePrecedence(iv.DecisionPrecedence); err != nil {
		errs = append(errs, fmt.Errorf("interview.decision_precedence: %w", err))
	}
	if iv.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("interview.max_sessions %d must not be negative", iv.MaxSessions))
	}
	if len(iv.ExtraDestinations) > 0 && !iv.PhoneticCorrection {
		slog.Warn("interview.extra_destinations is set but phonetic_correction is disabled")
	}

	// Resilience
	if cfg.Resilience.MaxFailures < 0 || cfg.Resilience.HalfOpenMax < 0 || cfg.Resilience.ResetTimeout < 0 {
		errs = append(errs, errors.New("resilience values must not be negative"))
	}

	// Telemetry
	if r := cfg.Telemetry.SampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_ratio %.2f is out of range [0, 1]", r))
	}

	return errors.Join(errs...)
}

// Label names the backend in logs, metrics and breaker state: the provider
// name, plus the model when one is set.
func (e ProviderEntry) Label() string {
	if e.Model == "" {
		return e.Name
	}
	return e.Name + "/" + e.Model
}

// validateProviderName logs a warning if name is not a known backend.
func validateProviderName(field, name string) {
	if slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or a third-party provider",
		"field", field,
		"name", name,
		"known", ValidProviderNames,
	)
}
