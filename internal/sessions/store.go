// Package sessions keeps live builder sessions for API clients. Each session
// is owned by the subject that created it and is evicted after idling.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"querycanvas/internal/builder"
	"querycanvas/internal/logging"
	"querycanvas/internal/observability"
	"querycanvas/internal/schemagraph"
)

var (
	// ErrSessionNotFound covers unknown, evicted and foreign sessions alike.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTooManySessions reports that the store is at capacity.
	ErrTooManySessions = errors.New("too many sessions")
	// ErrInvalidID reports a malformed session id.
	ErrInvalidID = errors.New("invalid session id")
)

const (
	defaultIdleTimeout   = 30 * time.Minute
	defaultSweepInterval = time.Minute
)

// Config controls store capacity and eviction.
type Config struct {
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	MaxSessions   int // zero means unlimited
	Logger        *logging.Logger
	Metrics       *observability.BuilderMetrics
	// Graph supplies the schema graph for new sessions.
	Graph func() *schemagraph.Graph
	// BuilderOptions are applied to every new session.
	BuilderOptions []builder.Option
	Now            func() time.Time
}

type entry struct {
	mu       sync.Mutex
	id       string
	owner    string
	session  *builder.Session
	created  time.Time
	lastUsed time.Time
	closed   bool
}

// Info describes a session without exposing it.
type Info struct {
	ID       string
	Owner    string
	Created  time.Time
	LastUsed time.Time
}

// Store is a concurrent map of builder sessions.
type Store struct {
	cfg    Config
	logger *logging.Logger

	mu       sync.RWMutex
	sessions map[string]*entry
}

// NewStore returns an empty store.
func NewStore(cfg Config) *Store {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = &logging.Logger{Logger: slog.Default()}
	}
	if cfg.Graph == nil {
		cfg.Graph = schemagraph.Empty
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		cfg:      cfg,
		logger:   cfg.Logger.WithFields(slog.String("component", "sessions")),
		sessions: make(map[string]*entry),
	}
}

// ParseID normalizes a session id.
func ParseID(raw string) (string, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, raw)
	}
	return parsed.String(), nil
}

// Create starts a session owned by owner and returns its id.
func (s *Store) Create(ctx context.Context, owner string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.MaxSessions > 0 && len(s.sessions) >= s.cfg.MaxSessions {
		return "", fmt.Errorf("%w: limit is %d", ErrTooManySessions, s.cfg.MaxSessions)
	}

	id := uuid.NewString()
	logger := s.logger.WithSession(id)
	opts := append([]builder.Option{}, s.cfg.BuilderOptions...)
	opts = append(opts, builder.WithLogger(logger))
	if s.cfg.Metrics != nil {
		opts = append(opts, builder.WithRecorder(metricsRecorder{metrics: s.cfg.Metrics}))
	}

	now := s.cfg.Now()
	s.sessions[id] = &entry{
		id:       id,
		owner:    owner,
		session:  builder.New(s.cfg.Graph(), opts...),
		created:  now,
		lastUsed: now,
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.AddActiveSessions(ctx, 1)
	}
	logger.Info("session created", slog.String("owner", owner))
	return id, nil
}

// Do runs fn with exclusive access to the session. Sessions owned by a
// different subject are reported as not found.
func (s *Store) Do(id, owner string, fn func(*builder.Session) error) error {
	e, err := s.lookup(id, owner)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrSessionNotFound
	}
	e.lastUsed = s.cfg.Now()
	return fn(e.session)
}

// Info returns metadata for a session.
func (s *Store) Info(id, owner string) (Info, error) {
	e, err := s.lookup(id, owner)
	if err != nil {
		return Info{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return Info{ID: e.id, Owner: e.owner, Created: e.created, LastUsed: e.lastUsed}, nil
}

// Delete removes a session.
func (s *Store) Delete(ctx context.Context, id, owner string) error {
	e, err := s.lookup(id, owner)
	if err != nil {
		return err
	}
	s.remove(ctx, []*entry{e})
	s.logger.Info("session deleted", slog.String("session_id", e.id))
	return nil
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep evicts sessions idle for longer than the idle timeout and returns how
// many were removed.
func (s *Store) Sweep(ctx context.Context) int {
	cutoff := s.cfg.Now().Add(-s.cfg.IdleTimeout)

	s.mu.RLock()
	var idle []*entry
	for _, e := range s.sessions {
		e.mu.Lock()
		if e.lastUsed.Before(cutoff) {
			idle = append(idle, e)
		}
		e.mu.Unlock()
	}
	s.mu.RUnlock()

	if len(idle) == 0 {
		return 0
	}
	s.remove(ctx, idle)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordEvictions(ctx, int64(len(idle)))
	}
	s.logger.Info("idle sessions evicted", slog.Int("count", len(idle)), slog.Int("remaining", s.Len()))
	return len(idle)
}

// Run sweeps on the configured interval until ctx is canceled.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// SetGraph points every live session at g. It is meant to be subscribed to
// schema refreshes.
func (s *Store) SetGraph(g *schemagraph.Graph) {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	for _, e := range entries {
		e.mu.Lock()
		e.session.SetGraph(g)
		e.mu.Unlock()
	}
	s.logger.Debug("schema graph propagated", slog.Int("sessions", len(entries)))
}

func (s *Store) lookup(id, owner string) (*entry, error) {
	normalized, err := ParseID(id)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	e, ok := s.sessions[normalized]
	s.mu.RUnlock()
	if !ok || e.owner != owner {
		return nil, ErrSessionNotFound
	}
	return e, nil
}

func (s *Store) remove(ctx context.Context, entries []*entry) {
	removed := 0
	s.mu.Lock()
	for _, e := range entries {
		if current, ok := s.sessions[e.id]; ok && current == e {
			delete(s.sessions, e.id)
			removed++
		}
	}
	s.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
	}
	if s.cfg.Metrics != nil && removed > 0 {
		s.cfg.Metrics.AddActiveSessions(ctx, -int64(removed))
	}
}

// metricsRecorder forwards builder telemetry to the builder metrics.
type metricsRecorder struct {
	metrics *observability.BuilderMetrics
}

func (r metricsRecorder) RecordCommand(op string, outcome builder.Outcome, elapsed time.Duration) {
	r.metrics.RecordCommand(context.Background(), op, string(outcome), elapsed)
}

func (r metricsRecorder) RecordSignal(kind builder.SignalKind) {
	r.metrics.RecordSignal(context.Background(), string(kind))
}
