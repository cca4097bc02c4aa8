// Package app wires all visaroom subsystems into a running server.
//
// The App struct owns the full lifecycle: New builds the backend chain, the
// session registry and the HTTP surface, Run serves until its context is
// cancelled, and Shutdown drains everything in order. Reload applies a
// changed configuration without a restart where that is possible.
//
// For testing, inject doubles via functional options (WithMetrics,
// WithLevelVar). Language-model backends always come from the caller.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/visaroom/internal/config"
	"github.com/MrWong99/visaroom/internal/decision"
	"github.com/MrWong99/visaroom/internal/exchange"
	"github.com/MrWong99/visaroom/internal/health"
	"github.com/MrWong99/visaroom/internal/interview"
	"github.com/MrWong99/visaroom/internal/observe"
	"github.com/MrWong99/visaroom/internal/resilience"
	"github.com/MrWong99/visaroom/internal/server"
	"github.com/MrWong99/visaroom/internal/session"
	"github.com/MrWong99/visaroom/internal/transcript/phonetic"
	"github.com/MrWong99/visaroom/pkg/provider/llm"
)

// sweepInterval is how often ended sessions past their TTL are dropped.
const sweepInterval = time.Minute

// Backend is one constructed language-model provider and its label.
type Backend struct {
	Name     string
	Provider llm.Provider
}

// Providers holds the constructed backends. Populated by main.go via the
// config registry.
type Providers struct {
	// LLM is the primary backend. Required.
	LLM Backend

	// Fallbacks are tried in order after the primary.
	Fallbacks []Backend
}

// settings is the part of the configuration that new sessions read. It is
// swapped as a whole on reload.
type settings struct {
	client        *exchange.Client
	corrector     session.Corrector
	decision      decision.Options
	skipGreeting  bool
	restartDelay  time.Duration
	relistenDelay time.Duration
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	levels    *slog.LevelVar
	metrics   *observe.Metrics
	scrape    http.Handler

	// Subsystems, initialised in New and torn down in Shutdown.
	backend  *resilience.LLMFallback
	settings atomic.Pointer[settings]
	sessions *session.Registry
	health   *health.Handler
	server   *server.Server

	mu         sync.Mutex
	httpServer *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
	stopErr  error
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics injects the metric instruments instead of the global ones.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler replaces the default /metrics handler.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.scrape = h }
}

// WithLevelVar lets Reload change the level of the logger built around lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.levels = lv }
}

// WithCloser registers fn to run during Shutdown after the server stopped.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. cfg must already be
// validated and have its defaults applied.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM.Provider == nil {
		return nil, errors.New("app: a primary language-model provider is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.levels == nil {
		a.levels = new(slog.LevelVar)
		a.levels.Set(cfg.Server.LogLevel.Level())
	}

	// ── 1. Backend chain ─────────────────────────────────────────────────
	a.initBackends()

	// ── 2. Interview settings ────────────────────────────────────────────
	st, err := a.buildSettings(cfg.Interview)
	if err != nil {
		return nil, fmt.Errorf("app: init interview settings: %w", err)
	}
	a.settings.Store(st)

	// ── 3. Session registry ──────────────────────────────────────────────
	a.sessions, err = session.NewRegistry(session.RegistryConfig{
		Factory:   a.newSession,
		MaxActive: cfg.Interview.MaxSessions,
		TTL:       cfg.Interview.SessionTTL,
		Metrics:   a.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init sessions: %w", err)
	}

	// ── 4. Health and HTTP surface ───────────────────────────────────────
	a.health = health.New(health.BackendChecker(a.backend.BreakerStates))
	a.server, err = server.New(server.Config{
		Replier:        a,
		Sessions:       a.sessions,
		Decision:       func() decision.Options { return a.settings.Load().decision },
		Status:         a.status,
		Health:         a.health,
		Metrics:        a.metrics,
		MetricsHandler: a.scrape,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		StaticDir:      cfg.Server.StaticDir,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init server: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initBackends puts every configured provider behind its own circuit breaker.
func (a *App) initBackends() {
	rc := a.cfg.Resilience
	fcfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  rc.MaxFailures,
			ResetTimeout: rc.ResetTimeout,
			HalfOpenMax:  rc.HalfOpenMax,
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("backend circuit changed", "backend", name, "from", from, "to", to)
				a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
			},
		},
	}
	a.backend = resilience.NewLLMFallback(a.providers.LLM.Provider, a.providers.LLM.Name, fcfg)
	for _, fb := range a.providers.Fallbacks {
		a.backend.AddFallback(fb.Name, fb.Provider)
	}
}

// buildSettings derives the per-session settings from ic.
func (a *App) buildSettings(ic config.InterviewConfig) (*settings, error) {
	prec, err := decision.ParsePrecedence(ic.DecisionPrecedence)
	if err != nil {
		return nil, err
	}
	client, err := exchange.New(exchange.Config{
		Provider:    a.backend,
		Backend:     a.providers.LLM.Name,
		Persona:     ic.Persona,
		Temperature: ic.Temperature,
		TopP:        ic.TopP,
		MaxTokens:   ic.MaxTokens,
		Retry: resilience.RetryPolicy{
			Attempts: ic.RetryAttempts,
			Delay:    ic.RetryDelay,
		},
		Metrics: a.metrics,
	})
	if err != nil {
		return nil, err
	}
	st := &settings{
		client:        client,
		decision:      decision.Options{Precedence: prec},
		skipGreeting:  ic.SkipGreeting,
		restartDelay:  ic.RestartDelay,
		relistenDelay: ic.RelistenDelay,
	}
	if ic.PhoneticCorrection {
		terms := append(interview.Destinations(), ic.ExtraDestinations...)
		st.corrector = phonetic.NewCorrector(terms)
	}
	return st, nil
}

// newSession is the registry factory. It reads the settings in effect at
// creation time.
func (a *App) newSession(id string, docs interview.DocumentSet) (*session.Controller, error) {
	st := a.settings.Load()
	return session.New(session.Config{
		ID:            id,
		Replier:       st.client,
		Corrector:     st.corrector,
		Documents:     docs,
		Decision:      st.decision,
		SkipGreeting:  st.skipGreeting,
		RestartDelay:  st.restartDelay,
		RelistenDelay: st.relistenDelay,
		Metrics:       a.metrics,
	})
}

// Reply answers a stateless chat turn with the current settings.
func (a *App) Reply(ctx context.Context, req exchange.Request) (string, error) {
	return a.settings.Load().client.Reply(ctx, req)
}

var _ session.Replier = (*App)(nil)

func (a *App) status() server.BackendStatus {
	states := a.backend.BreakerStates()
	breakers := make(map[string]string, len(states))
	for name, s := range states {
		breakers[name] = s.String()
	}
	names := a.backend.Backends()
	primary := a.cfg.Providers.LLM
	return server.BackendStatus{
		Backend:       primary.Name,
		Model:         primary.Model,
		Fallbacks:     names[1:],
		Breakers:      breakers,
		APIConfigured: primary.APIKey != "" || primary.BaseURL != "",
	}
}

// Handler returns the HTTP handler of the application.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Sessions returns the session registry.
func (a *App) Sessions() *session.Registry {
	return a.sessions
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the differences between old and new. The log level and the
// interview settings change in place; new sessions pick up the latter while
// running sessions keep theirs. Everything else is logged as requiring a
// restart.
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged {
		a.levels.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.InterviewChanged {
		st, err := a.buildSettings(new.Interview)
		if err != nil {
			slog.Error("interview settings not applied", "err", err)
		} else {
			a.settings.Store(st)
			slog.Info("interview settings reloaded", "applies_to", "new sessions")
		}
		if old.Interview.MaxSessions != new.Interview.MaxSessions || old.Interview.SessionTTL != new.Interview.SessionTTL {
			slog.Warn("session limits take effect after restart")
		}
	}
	for _, section := range d.RestartRequired {
		slog.Warn("config section changed, restart required", "section", section)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on the configured address and serves until ctx is cancelled,
// then shuts down within the configured timeout.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	a.mu.Lock()
	a.httpServer = srv
	a.mu.Unlock()

	slog.Info("http server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		return a.sessions.RunSweeper(gctx, sweepInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return a.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown marks the service as draining, ends every interview, stops the
// HTTP server and runs the registered closers. It respects the context
// deadline and is safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", a.sessions.Active(), "closers", len(a.closers))
		a.health.SetDraining(true)
		a.sessions.EndAll()

		var errs []error
		a.mu.Lock()
		srv := a.httpServer
		a.mu.Unlock()
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("http server: %w", err))
			}
		}

		for i, closer := range a.closers {
			if ctx.Err() != nil {
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				errs = append(errs, ctx.Err())
				break
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
				errs = append(errs, err)
			}
		}
		a.stopErr = errors.Join(errs...)
	})
	return a.stopErr
}
