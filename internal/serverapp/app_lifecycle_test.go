package serverapp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"querycanvas/internal/config"
	"querycanvas/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{Level: "info", Format: "text"})
}

func TestWaitForStop_ContextDone(t *testing.T) {
	app := &App{logger: testLogger()}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reason, err := app.WaitForStop(ctx, make(chan error))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reason != StopSignal {
		t.Fatalf("expected %q, got %q", StopSignal, reason)
	}
}

func TestWaitForStop_ServerError(t *testing.T) {
	app := &App{logger: testLogger()}
	serverErrors := make(chan error, 1)
	serverErrors <- errors.New("boom")

	reason, err := app.WaitForStop(context.Background(), serverErrors)
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected wrapped listener error, got %v", err)
	}
	if reason != StopServerError {
		t.Fatalf("expected %q, got %q", StopServerError, reason)
	}
}

func TestShutdown_RunsOnceAndJoinsErrors(t *testing.T) {
	app := &App{logger: testLogger()}
	var order []string
	var calls int32
	app.cleanup.push("first", func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		order = append(order, "first")
		return nil
	})
	app.cleanup.push("second", func(context.Context) error {
		order = append(order, "second")
		return errors.New("stuck")
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := app.Shutdown(ctx)
	if err == nil || !strings.Contains(err.Error(), "second: stuck") {
		t.Fatalf("expected joined cleanup error, got %v", err)
	}
	if again := app.Shutdown(ctx); again != err {
		t.Fatalf("second shutdown should return the first result, got %v", again)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected cleanup to run once, ran %d times", got)
	}
	if strings.Join(order, ",") != "second,first" {
		t.Fatalf("expected LIFO order, got %v", order)
	}
}

func TestStart_BeforeInit_Fails(t *testing.T) {
	app := &App{logger: testLogger()}
	if _, err := app.Start(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestStartAndShutdown_HappyPath(t *testing.T) {
	app := &App{
		cfg:        &config.Config{},
		logger:     testLogger(),
		serverAddr: "127.0.0.1:0",
		srv: &http.Server{
			Addr:    "127.0.0.1:0",
			Handler: http.NewServeMux(),
		},
		initialized: true,
	}
	app.cleanup.push("HTTP server", func(ctx context.Context) error {
		return app.srv.Shutdown(ctx)
	})

	if _, err := app.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := app.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
}

const testGraphYAML = `
tables:
  - id: customers
    columns: [{name: id}, {name: name}]
  - id: orders
    columns: [{name: id}, {name: customer_id}]
relationships:
  - from_table: orders
    from_column: customer_id
    to_table: customers
    to_column: id
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schema.yaml")
	if err := os.WriteFile(path, []byte(testGraphYAML), 0o600); err != nil {
		t.Fatalf("failed to write schema: %v", err)
	}
	return &config.Config{
		Schema: config.SchemaConfig{
			File:               path,
			RefreshMinInterval: -1,
			RefreshMaxInterval: -1,
		},
		Builder: config.BuilderConfig{
			DefaultDialect:  "mysql",
			DefaultJoinType: "LEFT",
		},
		Sessions: config.SessionsConfig{
			IdleTimeout:   time.Minute,
			SweepInterval: time.Minute,
			MaxSessions:   10,
		},
		Server: config.ServerConfig{
			Port:               18089,
			ReadTimeout:        time.Second,
			WriteTimeout:       time.Second,
			IdleTimeout:        time.Second,
			ShutdownTimeout:    time.Second,
			HealthCheckTimeout: time.Second,
		},
		Observability: config.ObservabilityConfig{
			ServiceName:    "querycanvas",
			ServiceVersion: "test",
			Environment:    "test",
			Logging: config.LoggingConfig{
				Level:  "info",
				Format: "text",
			},
		},
	}
}

func TestInit_ServesGraphQLAndHealth(t *testing.T) {
	app, err := New(testConfig(t), testLogger())
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	if err := app.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })

	handler := app.Handler()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected health 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"tables":2`) {
		t.Fatalf("unexpected health body: %s", rec.Body.String())
	}

	body := `{"query":"mutation { createSession { id } }"}`
	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected graphql 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), `"errors"`) {
		t.Fatalf("unexpected graphql errors: %s", rec.Body.String())
	}
	if app.store.Len() != 1 {
		t.Fatalf("expected one session, got %d", app.store.Len())
	}
}

func TestInitFailure_DoesNotMarkInitialized(t *testing.T) {
	appCfg := testConfig(t)
	appCfg.Schema.File = filepath.Join(t.TempDir(), "missing.yaml")

	app, err := New(appCfg, testLogger())
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}

	if err := app.Init(context.Background()); err == nil {
		t.Fatalf("expected init to fail with a missing schema file")
	}

	app.stateMu.Lock()
	initialized := app.initialized
	app.stateMu.Unlock()
	if initialized {
		t.Fatalf("app should not be marked initialized after failed Init")
	}
}

func TestInitFailure_UnreachablePreviewDatabase(t *testing.T) {
	appCfg := testConfig(t)
	appCfg.Preview = config.PreviewConfig{
		Enabled:  true,
		Host:     "127.0.0.1",
		Port:     1,
		User:     "querycanvas",
		Password: "invalid",
		Database: "test",
		TLS:      config.DatabaseTLSConfig{Mode: "off"},
		Pool: config.PoolConfig{
			MaxOpen:     1,
			MaxIdle:     1,
			MaxLifetime: time.Second,
		},
		MaxRows: 10,
		Timeout: time.Second,
	}

	app, err := New(appCfg, testLogger())
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	if err := app.Init(context.Background()); err == nil {
		t.Fatalf("expected init to fail with unreachable database")
	}
}

func TestNew_RejectsBadPreviewDSN(t *testing.T) {
	appCfg := testConfig(t)
	appCfg.Preview = config.PreviewConfig{Enabled: true, ConnectionString: "not a dsn"}
	if _, err := New(appCfg, testLogger()); err == nil {
		t.Fatalf("expected invalid DSN to fail")
	}
}

func TestBuilderOptions(t *testing.T) {
	if _, err := builderOptions("oracle", false, ""); err == nil {
		t.Fatalf("expected unknown dialect to fail")
	}
	if _, err := builderOptions("mysql", false, "SIDEWAYS"); err == nil {
		t.Fatalf("expected unknown join type to fail")
	}
	opts, err := builderOptions("sqlserver", true, "INNER")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(opts) != 3 {
		t.Fatalf("expected 3 options, got %d", len(opts))
	}
}
