// Package builder is the query builder engine: one editable query per session,
// the schema graph it resolves joins against, and the SQL derived from both.
package builder

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"querycanvas/internal/logging"
	"querycanvas/internal/query"
	"querycanvas/internal/schemagraph"
	"querycanvas/internal/sqlgen"
)

var (
	// ErrInvariant reports a mutation that produced an invalid query. The
	// mutation is discarded.
	ErrInvariant = errors.New("query invariant violated")
	// ErrUnknownTable reports a table the schema graph does not declare.
	ErrUnknownTable = errors.New("unknown table")
	// ErrUnknownColumn reports a column the schema graph does not declare.
	ErrUnknownColumn = errors.New("unknown column")
	// ErrUnknownRelationship reports a relationship id the schema graph does not declare.
	ErrUnknownRelationship = errors.New("unknown relationship")
)

// Outcome labels how a command ended, for logs and metrics.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeNoop      Outcome = "noop"
	OutcomeSignal    Outcome = "signal"
	OutcomeRejected  Outcome = "rejected"
	OutcomeInvariant Outcome = "invariant"
)

// Recorder receives per-command telemetry.
type Recorder interface {
	RecordCommand(op string, outcome Outcome, elapsed time.Duration)
	RecordSignal(kind SignalKind)
}

// Result describes the effect of one command. Applied is false for no-ops and
// for commands answered with a Signal.
type Result struct {
	Applied bool    `json:"applied"`
	Signal  *Signal `json:"signal,omitempty"`
}

// Session holds one query under construction and its derived views. A Session
// is not safe for concurrent use.
type Session struct {
	graph    *schemagraph.Graph
	q        query.Query
	dialect  *sqlgen.Dialect
	pretty   bool
	joinType query.JoinType
	logger   *logging.Logger
	recorder Recorder

	aliasMap map[string]string
	included []string
	sql      string
}

type options struct {
	dialect  *sqlgen.Dialect
	pretty   bool
	joinType query.JoinType
	logger   *logging.Logger
	recorder Recorder
}

// Option customizes a new Session.
type Option func(*options)

// WithDialect selects the SQL dialect used for generation.
func WithDialect(d *sqlgen.Dialect) Option {
	return func(o *options) {
		o.dialect = d
	}
}

// WithPretty enables multi-line SQL output.
func WithPretty(pretty bool) Option {
	return func(o *options) {
		o.pretty = pretty
	}
}

// WithDefaultJoinType sets the join type used for joins synthesized from the graph.
func WithDefaultJoinType(t query.JoinType) Option {
	return func(o *options) {
		o.joinType = t
	}
}

// WithLogger attaches a logger for command outcomes.
func WithLogger(logger *logging.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRecorder attaches a telemetry recorder.
func WithRecorder(r Recorder) Option {
	return func(o *options) {
		o.recorder = r
	}
}

// New creates an empty session over graph. A nil graph behaves as an empty one.
func New(graph *schemagraph.Graph, opts ...Option) *Session {
	o := &options{dialect: sqlgen.MySQL, joinType: query.JoinLeft}
	for _, opt := range opts {
		opt(o)
	}
	if graph == nil {
		graph = schemagraph.Empty()
	}
	if o.dialect == nil {
		o.dialect = sqlgen.MySQL
	}
	if jt, ok := query.ParseJoinType(string(o.joinType)); ok {
		o.joinType = jt
	} else {
		o.joinType = query.JoinLeft
	}
	if o.logger == nil {
		o.logger = &logging.Logger{Logger: slog.Default()}
	}
	s := &Session{
		graph:    graph,
		dialect:  o.dialect,
		pretty:   o.pretty,
		joinType: o.joinType,
		logger:   o.logger,
		recorder: o.recorder,
	}
	s.refresh()
	return s
}

// Query returns a copy of the current query.
func (s *Session) Query() query.Query { return s.q.Clone() }

// SQL returns the SQL generated for the current query, or "" while it has no base table.
func (s *Session) SQL() string { return s.sql }

// AliasMap returns alias -> table id for every source in the query. Derived
// tables map to "".
func (s *Session) AliasMap() map[string]string {
	out := make(map[string]string, len(s.aliasMap))
	for k, v := range s.aliasMap {
		out[k] = v
	}
	return out
}

// IncludedTables returns the distinct table ids present in the query, sorted.
func (s *Session) IncludedTables() []string {
	return append([]string(nil), s.included...)
}

// Includes reports whether table is part of the query.
func (s *Session) Includes(table string) bool {
	for _, t := range s.included {
		if t == table {
			return true
		}
	}
	return false
}

// Graph returns the schema graph the session resolves joins against.
func (s *Session) Graph() *schemagraph.Graph { return s.graph }

// Dialect returns the dialect SQL is rendered in.
func (s *Session) Dialect() *sqlgen.Dialect { return s.dialect }

// Pretty reports whether SQL is rendered one clause per line.
func (s *Session) Pretty() bool { return s.pretty }

// DefaultJoinType is the join type used for automatic joins.
func (s *Session) DefaultJoinType() query.JoinType { return s.joinType }

// SetDialect switches the generation dialect.
func (s *Session) SetDialect(d *sqlgen.Dialect) {
	if d == nil {
		d = sqlgen.MySQL
	}
	s.dialect = d
	s.refresh()
}

// SetPretty toggles multi-line SQL output.
func (s *Session) SetPretty(pretty bool) {
	s.pretty = pretty
	s.refresh()
}

// SetGraph replaces the schema graph. The query is kept as is: tables that
// left the graph stay in the query until removed.
func (s *Session) SetGraph(g *schemagraph.Graph) {
	if g == nil {
		g = schemagraph.Empty()
	}
	s.graph = g
}

// Reset discards the query.
func (s *Session) Reset() Result {
	start := time.Now()
	s.q = query.Query{}
	s.refresh()
	s.record("reset", OutcomeApplied, start)
	return Result{Applied: true}
}

// Save serializes the current query.
func (s *Session) Save() ([]byte, error) {
	return query.Marshal(s.q)
}

// Load replaces the query with a serialized one. Invalid input leaves the
// session unchanged.
func (s *Session) Load(data []byte) (Result, error) {
	start := time.Now()
	q, err := query.Unmarshal(data)
	if err != nil {
		s.reject("load", err, start)
		return Result{}, err
	}
	s.q = q
	s.refresh()
	s.record("load", OutcomeApplied, start)
	return Result{Applied: true}, nil
}

// Replace swaps in q after validating it.
func (s *Session) Replace(q query.Query) (Result, error) {
	return s.mutate("replace", func(query.Query) (query.Query, error) {
		return q.Clone(), nil
	})
}

// refresh recomputes every derived view from the query.
func (s *Session) refresh() {
	s.aliasMap = s.q.AliasMap()
	seen := make(map[string]bool, len(s.aliasMap))
	s.included = s.included[:0]
	for _, table := range s.aliasMap {
		if table == "" || seen[table] {
			continue
		}
		seen[table] = true
		s.included = append(s.included, table)
	}
	sort.Strings(s.included)
	s.sql = sqlgen.Generate(s.q, s.dialect, s.pretty)
}

// mutate applies fn to the query and commits the result if it validates.
func (s *Session) mutate(op string, fn func(query.Query) (query.Query, error)) (Result, error) {
	start := time.Now()
	next, err := fn(s.q)
	if err != nil {
		s.reject(op, err, start)
		return Result{}, err
	}
	return s.commit(op, next, start)
}

func (s *Session) commit(op string, next query.Query, start time.Time) (Result, error) {
	if err := query.Validate(next); err != nil {
		s.logger.Error("builder command broke query invariants",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		s.record(op, OutcomeInvariant, start)
		return Result{}, fmt.Errorf("%s: %w: %w", op, ErrInvariant, err)
	}
	s.q = next
	s.refresh()
	s.logger.Debug("builder command applied", slog.String("op", op), slog.String("sql", s.sql))
	s.record(op, OutcomeApplied, start)
	return Result{Applied: true}, nil
}

func (s *Session) noop(op string, start time.Time) Result {
	s.logger.Debug("builder command had no effect", slog.String("op", op))
	s.record(op, OutcomeNoop, start)
	return Result{}
}

func (s *Session) signal(op string, sig *Signal, start time.Time) Result {
	s.logger.Info("builder command needs a join decision",
		slog.String("op", op),
		slog.String("signal", string(sig.Kind)),
		slog.String("table", sig.Table),
		slog.Int("candidates", len(sig.Candidates)),
	)
	s.record(op, OutcomeSignal, start)
	if s.recorder != nil {
		s.recorder.RecordSignal(sig.Kind)
	}
	return Result{Signal: sig}
}

func (s *Session) reject(op string, err error, start time.Time) {
	s.logger.Info("builder command rejected", slog.String("op", op), slog.String("error", err.Error()))
	s.record(op, OutcomeRejected, start)
}

func (s *Session) record(op string, outcome Outcome, start time.Time) {
	if s.recorder != nil {
		s.recorder.RecordCommand(op, outcome, time.Since(start))
	}
}
