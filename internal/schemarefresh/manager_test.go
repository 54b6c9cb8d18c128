package schemarefresh

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"querycanvas/internal/logging"
	"querycanvas/internal/schemagraph"
)

const graphYAML = `
tables:
  - id: customers
    columns: [{name: id}, {name: name}]
  - id: orders
    columns: [{name: id}, {name: customer_id}]
relationships:
  - id: orders_customer
    from_table: orders
    from_column: customer_id
    to_table: customers
    to_column: id
`

func testLogger() *logging.Logger {
	handler := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo})
	return &logging.Logger{Logger: slog.New(handler)}
}

// mutableSource lets a test swap the document between reads.
type mutableSource struct {
	mu   sync.Mutex
	data string
}

func (s *mutableSource) Name() string { return "mutable" }

func (s *mutableSource) Read(context.Context) ([]byte, schemagraph.Format, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return []byte(s.data), schemagraph.FormatYAML, nil
}

func (s *mutableSource) set(data string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
}

func TestNewManager_LoadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.yaml")
	if err := os.WriteFile(path, []byte(graphYAML), 0o600); err != nil {
		t.Fatalf("failed to write graph: %v", err)
	}

	manager, err := NewManager(Config{Source: FileSource{Path: path}, Logger: testLogger()})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	snapshot := manager.CurrentSnapshot()
	if snapshot == nil {
		t.Fatalf("expected snapshot")
	}
	if len(snapshot.Graph.Tables()) != 2 {
		t.Fatalf("expected 2 tables, got %d", len(snapshot.Graph.Tables()))
	}
	if snapshot.Source != path {
		t.Fatalf("source mismatch: %s", snapshot.Source)
	}
	if snapshot.Fingerprint == "" {
		t.Fatalf("expected fingerprint")
	}
}

func TestNewManager_RejectsInvalidGraph(t *testing.T) {
	_, err := NewManager(Config{
		Source: StaticSource{Data: []byte("tables: [{id: a, columns: []}]\nrelationships: [{from_table: a, from_column: x, to_table: b, to_column: y}]"), Format: schemagraph.FormatYAML},
		Logger: testLogger(),
	})
	if err == nil {
		t.Fatalf("expected error for relationship to unknown table")
	}

	if _, err := NewManager(Config{Logger: testLogger()}); err == nil {
		t.Fatalf("expected error without source")
	}
}

func TestFingerprint_IgnoresFormatting(t *testing.T) {
	a, err := schemagraph.Decode([]byte(graphYAML), schemagraph.FormatYAML)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	b, err := schemagraph.Decode([]byte(`{"tables":[{"id":"orders","columns":[{"name":"id"},{"name":"customer_id"}]},
		{"id":"customers","columns":[{"name":"id"},{"name":"name"}]}],
		"relationships":[{"id":"orders_customer","from_table":"orders","from_column":"customer_id","to_table":"customers","to_column":"id"}]}`), schemagraph.FormatJSON)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fingerprint(a).Value != fingerprint(b).Value {
		t.Fatalf("equivalent graphs should share a fingerprint")
	}
}

func TestRefreshOnce_NoChange_BacksOff(t *testing.T) {
	source := &mutableSource{data: graphYAML}
	manager, err := NewManager(Config{Source: source, Logger: testLogger(), MinInterval: 10 * time.Second, MaxInterval: time.Minute})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	before := manager.CurrentSnapshot()

	interval := manager.minInterval
	manager.refreshOnce(context.Background(), &interval)

	if interval <= manager.minInterval {
		t.Fatalf("expected backoff interval > min interval, got %v", interval)
	}
	if manager.CurrentSnapshot() != before {
		t.Fatalf("snapshot should not be swapped without a change")
	}
}

func TestRefreshOnce_Change_Swaps(t *testing.T) {
	source := &mutableSource{data: graphYAML}
	manager, err := NewManager(Config{Source: source, Logger: testLogger(), MinInterval: 5 * time.Second, MaxInterval: time.Minute})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	before := manager.CurrentSnapshot()

	var notified *Snapshot
	manager.Subscribe(func(s *Snapshot) { notified = s })

	source.set(graphYAML + "  - from_table: orders\n    from_column: id\n    to_table: customers\n    to_column: id\n")
	interval := 20 * time.Second
	manager.refreshOnce(context.Background(), &interval)

	snapshot := manager.CurrentSnapshot()
	if snapshot == before {
		t.Fatalf("expected a new snapshot after the graph changed")
	}
	if len(snapshot.Graph.Relationships()) != 2 {
		t.Fatalf("expected 2 relationships, got %d", len(snapshot.Graph.Relationships()))
	}
	if notified != snapshot {
		t.Fatalf("subscriber was not notified of the swap")
	}
	if interval != manager.minInterval {
		t.Fatalf("interval should reset to min interval, got %v", interval)
	}
	if changed := changedFingerprintComponents(before.Components, snapshot.Components); !reflect.DeepEqual(changed, []string{"relationships"}) {
		t.Fatalf("unexpected changed components: %v", changed)
	}
}

func TestRefreshOnce_BrokenSourceKeepsSnapshot(t *testing.T) {
	source := &mutableSource{data: graphYAML}
	manager, err := NewManager(Config{Source: source, Logger: testLogger(), MinInterval: 5 * time.Second, MaxInterval: time.Minute})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	before := manager.CurrentSnapshot()

	source.set("tables: [")
	interval := 40 * time.Second
	manager.refreshOnce(context.Background(), &interval)

	if manager.CurrentSnapshot() != before {
		t.Fatalf("broken source must not replace the snapshot")
	}
	if interval != manager.minInterval {
		t.Fatalf("interval should reset after a failure, got %v", interval)
	}
}

func TestReload(t *testing.T) {
	source := &mutableSource{data: graphYAML}
	manager, err := NewManager(Config{Source: source, Logger: testLogger(), MinInterval: -1})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	swapped, err := manager.Reload(context.Background())
	if err != nil || swapped {
		t.Fatalf("unchanged reload: swapped=%v err=%v", swapped, err)
	}

	source.set("tables: [{id: solo, columns: [{name: id}]}]\n")
	swapped, err = manager.Reload(context.Background())
	if err != nil || !swapped {
		t.Fatalf("changed reload: swapped=%v err=%v", swapped, err)
	}
	if _, ok := manager.Graph().Table("solo"); !ok {
		t.Fatalf("expected reloaded graph")
	}

	ctx, cancel := context.WithCancel(context.Background())
	manager.Start(ctx)
	cancel()
	if err := manager.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestNextInterval(t *testing.T) {
	tests := []struct {
		current, want time.Duration
	}{
		{time.Second, 10 * time.Second},
		{10 * time.Second, 15 * time.Second},
		{50 * time.Second, time.Minute},
	}
	for _, tt := range tests {
		if got := nextInterval(tt.current, 10*time.Second, time.Minute); got != tt.want {
			t.Fatalf("nextInterval(%v) = %v, want %v", tt.current, got, tt.want)
		}
	}
}
