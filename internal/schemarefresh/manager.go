// Package schemarefresh loads schema graph snapshots and swaps them in when
// the underlying document changes.
package schemarefresh

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"querycanvas/internal/logging"
	"querycanvas/internal/observability"
	"querycanvas/internal/schemagraph"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Snapshot is an immutable schema graph with its build metadata.
type Snapshot struct {
	Graph       *schemagraph.Graph
	Source      string
	BuiltAt     time.Time
	Fingerprint string
	Components  map[string]string
}

// Config controls schema refresh behavior.
type Config struct {
	Source      Source
	Logger      *logging.Logger
	Metrics     *observability.SchemaRefreshMetrics
	MinInterval time.Duration
	MaxInterval time.Duration
}

// Manager maintains the active snapshot and refreshes it from its source.
type Manager struct {
	source      Source
	logger      *logging.Logger
	metrics     *observability.SchemaRefreshMetrics
	minInterval time.Duration
	maxInterval time.Duration
	active      atomic.Value
	wg          sync.WaitGroup
	refreshMu   sync.Mutex

	subscribersMu sync.RWMutex
	subscribers   []func(*Snapshot)
}

type fingerprintDetails struct {
	Value      string
	Components map[string]string
}

// NewManager loads the initial snapshot and returns a manager. Negative
// intervals disable the polling loop.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("schema refresh manager requires a source")
	}
	if cfg.Logger == nil {
		cfg.Logger = &logging.Logger{Logger: slog.Default()}
	}

	minInterval := cfg.MinInterval
	maxInterval := cfg.MaxInterval
	if minInterval == 0 {
		minInterval = 30 * time.Second
	}
	if maxInterval == 0 {
		maxInterval = 5 * time.Minute
	}
	if maxInterval < minInterval {
		maxInterval = minInterval
	}

	manager := &Manager{
		source:      cfg.Source,
		logger:      cfg.Logger.WithFields(slog.String("component", "schema_refresh")),
		metrics:     cfg.Metrics,
		minInterval: minInterval,
		maxInterval: maxInterval,
	}

	start := time.Now()
	snapshot, err := manager.build(context.Background())
	if err != nil {
		manager.recordRefresh(time.Since(start), false, "startup")
		return nil, err
	}
	manager.active.Store(snapshot)
	manager.recordSize(snapshot)
	manager.recordRefresh(time.Since(start), true, "startup")
	manager.logger.Info("schema graph loaded",
		slog.String("source", snapshot.Source),
		slog.Int("tables", len(snapshot.Graph.Tables())),
		slog.Int("relationships", len(snapshot.Graph.Relationships())),
	)
	return manager, nil
}

// Start begins the background refresh loop.
func (m *Manager) Start(ctx context.Context) {
	if m.minInterval <= 0 || m.maxInterval <= 0 {
		m.logger.Info("schema refresh disabled")
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.refreshLoop(ctx)
	}()
}

// Subscribe registers fn to run after every snapshot swap.
func (m *Manager) Subscribe(fn func(*Snapshot)) {
	m.subscribersMu.Lock()
	defer m.subscribersMu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// CurrentSnapshot returns the active snapshot.
func (m *Manager) CurrentSnapshot() *Snapshot {
	if value := m.active.Load(); value != nil {
		if snapshot, ok := value.(*Snapshot); ok {
			return snapshot
		}
	}
	return nil
}

// Graph returns the active graph, or an empty one before the first load.
func (m *Manager) Graph() *schemagraph.Graph {
	if snapshot := m.CurrentSnapshot(); snapshot != nil {
		return snapshot.Graph
	}
	return schemagraph.Empty()
}

// Reload re-reads the source and swaps the snapshot when the graph changed.
// It reports whether a swap happened.
func (m *Manager) Reload(ctx context.Context) (bool, error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	start := time.Now()
	snapshot, err := m.build(ctx)
	if err != nil {
		m.recordRefresh(time.Since(start), false, "manual")
		return false, err
	}
	if current := m.CurrentSnapshot(); current != nil && current.Fingerprint == snapshot.Fingerprint {
		m.recordRefresh(time.Since(start), true, "manual_no_change")
		return false, nil
	}
	m.swap(snapshot)
	m.recordRefresh(time.Since(start), true, "manual")
	return true, nil
}

// Wait blocks until the refresh loop exits or the context is canceled.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) refreshLoop(ctx context.Context) {
	interval := m.minInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("schema refresh stopped")
			return
		case <-timer.C:
			m.refreshOnce(ctx, &interval)
			timer.Reset(interval)
		}
	}
}

func (m *Manager) refreshOnce(ctx context.Context, interval *time.Duration) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	start := time.Now()
	snapshot, err := m.build(ctx)
	if err != nil {
		m.logger.Warn("schema graph reload failed", slog.String("error", err.Error()))
		m.recordRefresh(time.Since(start), false, "poll")
		*interval = m.minInterval
		return
	}

	current := m.CurrentSnapshot()
	if current != nil && snapshot.Fingerprint == current.Fingerprint {
		m.recordRefresh(time.Since(start), true, "poll_no_change")
		*interval = nextInterval(*interval, m.minInterval, m.maxInterval)
		return
	}

	var previous map[string]string
	if current != nil {
		previous = current.Components
	}
	m.logger.Info("schema graph change detected",
		slog.String("fingerprint", snapshot.Fingerprint),
		slog.Any("changed_components", changedFingerprintComponents(previous, snapshot.Components)),
	)
	m.swap(snapshot)
	*interval = m.minInterval
	m.recordRefresh(time.Since(start), true, "poll")
}

func (m *Manager) swap(snapshot *Snapshot) {
	m.active.Store(snapshot)
	m.recordSize(snapshot)

	m.subscribersMu.RLock()
	subscribers := slices.Clone(m.subscribers)
	m.subscribersMu.RUnlock()
	for _, fn := range subscribers {
		fn(snapshot)
	}
}

func (m *Manager) build(ctx context.Context) (*Snapshot, error) {
	tracer := otel.Tracer("querycanvas/schemarefresh")
	ctx, span := tracer.Start(ctx, "schemarefresh.build")
	defer span.End()

	raw, format, err := m.source.Read(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	graph, err := schemagraph.Decode(raw, format)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%s: %w", m.source.Name(), err)
	}
	details := fingerprint(graph)
	span.SetAttributes(
		attribute.String("schema.source", m.source.Name()),
		attribute.Int("schema.tables", len(graph.Tables())),
		attribute.String("schema.fingerprint", details.Value),
	)
	return &Snapshot{
		Graph:       graph,
		Source:      m.source.Name(),
		BuiltAt:     time.Now(),
		Fingerprint: details.Value,
		Components:  details.Components,
	}, nil
}

func nextInterval(current, minInterval, maxInterval time.Duration) time.Duration {
	if current < minInterval {
		return minInterval
	}
	next := current + current/2
	if next > maxInterval {
		return maxInterval
	}
	return next
}

func (m *Manager) recordRefresh(duration time.Duration, success bool, trigger string) {
	if m.metrics == nil {
		return
	}
	m.metrics.RecordRefresh(context.Background(), duration, success, trigger)
}

func (m *Manager) recordSize(snapshot *Snapshot) {
	if m.metrics == nil {
		return
	}
	m.metrics.RecordGraphSize(len(snapshot.Graph.Tables()), len(snapshot.Graph.Relationships()))
}

func combineComponentHashes(componentHashes map[string]string) string {
	if len(componentHashes) == 0 {
		return ""
	}
	keys := make([]string, 0, len(componentHashes))
	for key := range componentHashes {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	hash := sha256.New()
	for _, key := range keys {
		_, _ = fmt.Fprintf(hash, "%s=%s\n", key, componentHashes[key])
	}
	return hex.EncodeToString(hash.Sum(nil))
}

// changedFingerprintComponents compares over the union of keys so added and
// removed components are reported too.
func changedFingerprintComponents(previous, current map[string]string) []string {
	keySet := make(map[string]struct{}, len(previous)+len(current))
	for key := range previous {
		keySet[key] = struct{}{}
	}
	for key := range current {
		keySet[key] = struct{}{}
	}
	keys := make([]string, 0, len(keySet))
	for key := range keySet {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	changed := make([]string, 0, len(keys))
	for _, key := range keys {
		if previous[key] != current[key] {
			changed = append(changed, key)
		}
	}
	return changed
}
