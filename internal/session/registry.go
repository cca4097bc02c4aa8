package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/visaroom/internal/interview"
	"github.com/MrWong99/visaroom/internal/observe"
)

var (
	// ErrNotFound is returned by [Registry.Get] for unknown or swept ids.
	ErrNotFound = errors.New("session: not found")

	// ErrCapacity is returned by [Registry.Create] when the number of running
	// interviews has reached the configured limit.
	ErrCapacity = errors.New("session: too many running interviews")
)

// Factory builds the controller of a new session.
type Factory func(id string, docs interview.DocumentSet) (*Controller, error)

// RegistryConfig holds the dependencies of a [Registry]. Factory is required.
type RegistryConfig struct {
	Factory Factory

	// MaxActive caps interviews that have not ended. Zero means no limit.
	MaxActive int

	// TTL is how long an ended session stays retrievable. Zero keeps ended
	// sessions until EndAll.
	TTL time.Duration

	Metrics *observe.Metrics
	Now     func() time.Time
}

type registered struct {
	ctrl    *Controller
	created time.Time
	ended   time.Time
}

// Registry owns every session of the process. All methods are safe for
// concurrent use.
type Registry struct {
	factory   Factory
	maxActive int
	ttl       time.Duration
	metrics   *observe.Metrics
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*registered
	active   int
}

// NewRegistry returns an empty registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Factory == nil {
		return nil, errors.New("session: registry factory must not be nil")
	}
	r := &Registry{
		factory:   cfg.Factory,
		maxActive: cfg.MaxActive,
		ttl:       cfg.TTL,
		metrics:   cfg.Metrics,
		now:       cfg.Now,
		sessions:  make(map[string]*registered),
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r, nil
}

// Create builds and registers a new session with a random id.
func (r *Registry) Create(docs interview.DocumentSet) (*Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.maxActive > 0 && r.active >= r.maxActive {
		return nil, fmt.Errorf("%w (limit %d)", ErrCapacity, r.maxActive)
	}

	id := uuid.NewString()
	ctrl, err := r.factory(id, docs)
	if err != nil {
		return nil, fmt.Errorf("session: create %s: %w", id, err)
	}
	r.sessions[id] = &registered{ctrl: ctrl, created: r.now()}
	r.active++
	r.metrics.ActiveSessions.Add(context.Background(), 1)
	slog.Info("session created", "session_id", id, "active", r.active)

	go r.watch(id, ctrl)
	return ctrl, nil
}

// watch records when ctrl ends.
func (r *Registry) watch(id string, ctrl *Controller) {
	<-ctrl.Done()
	r.mu.Lock()
	if s, ok := r.sessions[id]; ok {
		s.ended = r.now()
	}
	r.active--
	r.mu.Unlock()
	r.metrics.ActiveSessions.Add(context.Background(), -1)
}

// Get returns the session with the given id.
func (r *Registry) Get(id string) (*Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.ctrl, nil
}

// Active returns the number of interviews that have not ended.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Len returns the number of registered sessions, ended ones included.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep drops sessions that ended more than TTL ago and returns how many
// were removed.
func (r *Registry) Sweep() int {
	if r.ttl <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.ttl)

	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.sessions {
		if !s.ended.IsZero() && s.ended.Before(cutoff) {
			delete(r.sessions, id)
			n++
		}
	}
	if n > 0 {
		slog.Debug("swept ended sessions", "removed", n, "remaining", len(r.sessions))
	}
	return n
}

// RunSweeper calls Sweep every interval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			r.Sweep()
		}
	}
}

// EndAll ends every running interview.
func (r *Registry) EndAll() {
	r.mu.Lock()
	ctrls := make([]*Controller, 0, len(r.sessions))
	for _, s := range r.sessions {
		ctrls = append(ctrls, s.ctrl)
	}
	r.mu.Unlock()

	for _, c := range ctrls {
		c.End()
	}
}
