// Package server exposes the interview over HTTP.
//
// Two surfaces share one mux. The stateless API (/api/chat,
// /api/analyze-interview, /api/health) lets a client that keeps the
// conversation itself ask for the next officer line and for a verdict. The
// session API (/api/sessions/...) runs the interview server-side: the
// controller owns the transcript and drives the browser's speech engine over
// a WebSocket.
package server

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/visaroom/internal/decision"
	"github.com/MrWong99/visaroom/internal/health"
	"github.com/MrWong99/visaroom/internal/interview"
	"github.com/MrWong99/visaroom/internal/observe"
	"github.com/MrWong99/visaroom/internal/session"
)

// defaultMaxBody caps JSON request bodies.
const defaultMaxBody = 1 << 20

// Sessions is the part of [session.Registry] the server uses.
type Sessions interface {
	Create(docs interview.DocumentSet) (*session.Controller, error)
	Get(id string) (*session.Controller, error)
}

var _ Sessions = (*session.Registry)(nil)

// BackendStatus describes the language-model backends for /api/health.
type BackendStatus struct {
	Backend       string            `json:"backend"`
	Model         string            `json:"model,omitempty"`
	Fallbacks     []string          `json:"fallbacks,omitempty"`
	Breakers      map[string]string `json:"breakers,omitempty"`
	APIConfigured bool              `json:"apiConfigured"`
}

// Config holds the dependencies of a [Server]. Replier and Sessions are
// required.
type Config struct {
	Replier  session.Replier
	Sessions Sessions

	// Decision returns the verdict options in effect. Defaults to the zero
	// options (approval precedence).
	Decision func() decision.Options

	// Status reports backend health for /api/health.
	Status func() BackendStatus

	// Health serves /healthz and /readyz. Defaults to a handler without
	// checks.
	Health *health.Handler

	// MetricsHandler serves /metrics. Defaults to promhttp.Handler().
	MetricsHandler http.Handler

	Metrics *observe.Metrics

	// AllowedOrigins are extra host patterns accepted for the WebSocket
	// handshake.
	AllowedOrigins []string

	// StaticDir, if set, is served at / with index.html as the fallback for
	// unknown paths so a single-page client can route itself.
	StaticDir string

	// MaxBodyBytes caps request bodies. Defaults to 1 MiB.
	MaxBodyBytes int64
}

// Server is the HTTP surface. Create it with [New] and mount [Server.Handler].
type Server struct {
	replier        session.Replier
	sessions       Sessions
	decision       func() decision.Options
	status         func() BackendStatus
	health         *health.Handler
	metricsHandler http.Handler
	metrics        *observe.Metrics
	origins        []string
	staticDir      string
	maxBody        int64
}

// New validates cfg and returns a Server.
func New(cfg Config) (*Server, error) {
	if cfg.Replier == nil {
		return nil, errors.New("server: Replier must not be nil")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("server: Sessions must not be nil")
	}
	s := &Server{
		replier:        cfg.Replier,
		sessions:       cfg.Sessions,
		decision:       cfg.Decision,
		status:         cfg.Status,
		health:         cfg.Health,
		metricsHandler: cfg.MetricsHandler,
		metrics:        cfg.Metrics,
		origins:        cfg.AllowedOrigins,
		staticDir:      cfg.StaticDir,
		maxBody:        cfg.MaxBodyBytes,
	}
	if s.decision == nil {
		s.decision = func() decision.Options { return decision.Options{} }
	}
	if s.status == nil {
		s.status = func() BackendStatus { return BackendStatus{} }
	}
	if s.health == nil {
		s.health = health.New()
	}
	if s.metricsHandler == nil {
		s.metricsHandler = promhttp.Handler()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.maxBody <= 0 {
		s.maxBody = defaultMaxBody
	}
	if s.staticDir != "" {
		if _, err := os.Stat(filepath.Join(s.staticDir, "index.html")); err != nil {
			return nil, errors.Join(errors.New("server: static dir has no index.html"), err)
		}
	}
	return s, nil
}

// Handler returns the routed and instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/analyze-interview", s.handleAnalyze)
	mux.HandleFunc("GET /api/health", s.handleStatus)

	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("POST /api/sessions/{id}/documents", s.handleAddDocuments)
	mux.HandleFunc("POST /api/sessions/{id}/end", s.handleEndSession)
	mux.HandleFunc("GET /api/sessions/{id}/verdict", s.handleVerdict)
	mux.HandleFunc("GET /api/sessions/{id}/transcript", s.handleTranscript)
	mux.HandleFunc("GET /api/sessions/{id}/ws", s.handleWebSocket)

	s.health.Register(mux)
	mux.Handle("GET /metrics", s.metricsHandler)

	if s.staticDir != "" {
		mux.Handle("GET /", s.staticHandler())
	}

	return observe.Middleware(s.metrics)(mux)
}

// staticHandler serves files from staticDir and falls back to index.html.
func (s *Server) staticHandler() http.Handler {
	files := http.FileServer(http.Dir(s.staticDir))
	index := filepath.Join(s.staticDir, "index.html")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := filepath.Join(s.staticDir, filepath.FromSlash(filepath.Clean("/"+r.URL.Path)))
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			files.ServeHTTP(w, r)
			return
		}
		http.ServeFile(w, r, index)
	})
}
