// Command visaroom is the main entry point for the visa interview server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/visaroom/internal/app"
	"github.com/MrWong99/visaroom/internal/config"
	"github.com/MrWong99/visaroom/internal/observe"
	"github.com/MrWong99/visaroom/pkg/provider/llm"
	"github.com/MrWong99/visaroom/pkg/provider/llm/anyllm"
	"github.com/MrWong99/visaroom/pkg/provider/llm/openai"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", ".env", "optional dotenv file loaded before the config")
	watch := flag.Duration("watch", 5*time.Second, "config reload poll interval (0 disables reloading)")
	flag.Parse()

	// ── Environment and configuration ─────────────────────────────────────────
	if err := config.LoadEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "visaroom: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "visaroom: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "visaroom: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	levels := new(slog.LevelVar)
	levels.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levels})))

	slog.Info("visaroom starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.Setup(context.Background(), observe.TelemetryConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printStartupSummary(cfg)

	application, err := app.New(cfg, providers,
		app.WithLevelVar(levels),
		app.WithMetrics(telemetry.Metrics()),
		app.WithMetricsHandler(telemetry.Handler()),
		app.WithCloser(func() error { return telemetry.Shutdown(context.Background()) }),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if *watch > 0 {
		w, err := config.NewWatcher(*configPath, application.Reload, config.WithInterval(*watch))
		if err != nil {
			slog.Warn("config reload disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("server ready; press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyLLMProviders are the backends constructed through any-llm-go. They all
// share the same pattern: optional APIKey + optional BaseURL.
var anyLLMProviders = []string{
	"groq", "gemini", "anthropic", "deepseek", "mistral", "ollama", "llamacpp", "llamafile",
}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// openai goes through the official SDK so that any OpenAI-compatible
	// endpoint can be targeted with base_url.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if d := optString(entry.Options, "timeout"); d != "" {
			timeout, err := time.ParseDuration(d)
			if err != nil {
				return nil, fmt.Errorf("options.timeout: %w", err)
			}
			opts = append(opts, openai.WithTimeout(timeout))
		}
		p, err := openai.New(entry.APIKey, entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	for _, providerName := range anyLLMProviders {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(providerName, entry.Model, opts...)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}

	for _, name := range reg.LLMNames() {
		slog.Debug("registered provider", "kind", "llm", "name", name)
	}
}

// buildProviders instantiates the primary and every fallback named in cfg.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	primary, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	ps.LLM = app.Backend{Name: cfg.Providers.LLM.Label(), Provider: primary}
	slog.Info("provider created", "kind", "llm", "name", ps.LLM.Name)

	for _, entry := range cfg.Providers.Fallbacks {
		p, err := reg.CreateLLM(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("fallback provider not available, skipping", "name", entry.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create fallback provider %q: %w", entry.Name, err)
		}
		ps.Fallbacks = append(ps.Fallbacks, app.Backend{Name: entry.Label(), Provider: p})
		slog.Info("provider created", "kind", "llm-fallback", "name", entry.Label())
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        visaroom: startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("LLM", providerValue(cfg.Providers.LLM))
	for i, fb := range cfg.Providers.Fallbacks {
		printRow(fmt.Sprintf("Fallback %d", i+1), providerValue(fb))
	}
	precedence := cfg.Interview.DecisionPrecedence
	if precedence == "" {
		precedence = "approval"
	}
	printRow("Precedence", precedence)
	printRow("Max sessions", fmt.Sprint(cfg.Interview.MaxSessions))
	if cfg.Interview.PhoneticCorrection {
		printRow("Correction", "phonetic")
	} else {
		printRow("Correction", "(disabled)")
	}
	if cfg.Server.StaticDir != "" {
		printRow("Static dir", cfg.Server.StaticDir)
	}
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerValue(e config.ProviderEntry) string {
	if e.Name == "" {
		return "(not configured)"
	}
	if e.Model != "" {
		return e.Name + " / " + e.Model
	}
	return e.Name
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}
