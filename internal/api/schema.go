// Package api exposes query builder sessions over GraphQL.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/handler"

	"querycanvas/internal/builder"
	"querycanvas/internal/dbexec"
	"querycanvas/internal/joinpath"
	"querycanvas/internal/logging"
	"querycanvas/internal/middleware"
	"querycanvas/internal/query"
	"querycanvas/internal/schemagraph"
	"querycanvas/internal/sessions"
	"querycanvas/internal/sqlgen"
)

// Previewer runs a query against the preview database.
type Previewer interface {
	Preview(ctx context.Context, q query.Query, limit int) (*dbexec.PreviewResult, error)
}

// Config wires the schema to its collaborators.
type Config struct {
	Store *sessions.Store
	// Graph returns the active schema graph.
	Graph func() *schemagraph.Graph
	// Previewer is nil when previews are disabled.
	Previewer Previewer
	Logger    *logging.Logger
	GraphiQL  bool
}

type schemaBuilder struct {
	cfg   Config
	types types
}

// NewSchema builds the GraphQL schema.
func NewSchema(cfg Config) (graphql.Schema, error) {
	if cfg.Store == nil {
		return graphql.Schema{}, fmt.Errorf("api schema requires a session store")
	}
	if cfg.Graph == nil {
		cfg.Graph = schemagraph.Empty
	}
	if cfg.Logger == nil {
		cfg.Logger = &logging.Logger{Logger: slog.Default()}
	}
	sc := &schemaBuilder{cfg: cfg}
	sc.buildTypes()

	schema, err := graphql.NewSchema(graphql.SchemaConfig{
		Query:    sc.queryType(),
		Mutation: sc.mutationType(),
	})
	if err != nil {
		return graphql.Schema{}, fmt.Errorf("failed to build GraphQL schema: %w", err)
	}
	cfg.Logger.Debug("GraphQL schema built", slog.Bool("previews", cfg.Previewer != nil))
	return schema, nil
}

// NewHandler serves the schema over HTTP.
func NewHandler(cfg Config) (http.Handler, error) {
	schema, err := NewSchema(cfg)
	if err != nil {
		return nil, err
	}
	return handler.New(&handler.Config{
		Schema:   &schema,
		Pretty:   true,
		GraphiQL: cfg.GraphiQL,
	}), nil
}

func (sc *schemaBuilder) queryType() *graphql.Object {
	t := &sc.types
	return graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"tables": &graphql.Field{
				Type:    graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(t.table))),
				Resolve: sc.resolveTables,
			},
			"table": &graphql.Field{
				Type: t.table,
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
				},
				Resolve: sc.resolveTable,
			},
			"paths": &graphql.Field{
				Type:        graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(t.path))),
				Description: "Join paths between two tables, shortest first.",
				Args: graphql.FieldConfigArgument{
					"source": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"target": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: sc.resolvePaths,
			},
			"dialects": &graphql.Field{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(graphql.String))),
				Resolve: func(graphql.ResolveParams) (interface{}, error) {
					names := []string{}
					for _, d := range sqlgen.Dialects() {
						names = append(names, string(d.Name))
					}
					return names, nil
				},
			},
			"generate": &graphql.Field{
				Type:        graphql.NewNonNull(graphql.String),
				Description: "Renders a serialized query without a session.",
				Args: graphql.FieldConfigArgument{
					"query":   &graphql.ArgumentConfig{Type: graphql.NewNonNull(JSONScalar)},
					"dialect": &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: string(sqlgen.NameMySQL)},
					"pretty":  &graphql.ArgumentConfig{Type: graphql.Boolean, DefaultValue: false},
				},
				Resolve: sc.resolveGenerate,
			},
			"session": &graphql.Field{
				Type: graphql.NewNonNull(t.session),
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
				},
				Resolve: sc.resolveSession,
			},
		},
	})
}

func (sc *schemaBuilder) mutationType() *graphql.Object {
	t := &sc.types
	sessionArg := &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)}
	return graphql.NewObject(graphql.ObjectConfig{
		Name: "Mutation",
		Fields: graphql.Fields{
			"createSession": &graphql.Field{
				Type: graphql.NewNonNull(t.session),
				Args: graphql.FieldConfigArgument{
					"dialect": &graphql.ArgumentConfig{Type: graphql.String},
					"pretty":  &graphql.ArgumentConfig{Type: graphql.Boolean},
				},
				Resolve: sc.resolveCreateSession,
			},
			"deleteSession": &graphql.Field{
				Type:    graphql.NewNonNull(graphql.Boolean),
				Args:    graphql.FieldConfigArgument{"session": sessionArg},
				Resolve: sc.resolveDeleteSession,
			},
			"addColumn": &graphql.Field{
				Type: graphql.NewNonNull(t.result),
				Args: graphql.FieldConfigArgument{
					"session": sessionArg,
					"table":   &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"column":  &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: sc.resolveAddColumn,
			},
			"addColumnVia": &graphql.Field{
				Type:        graphql.NewNonNull(t.result),
				Description: "Adds a column through the chosen relationships, resolving a signal.",
				Args: graphql.FieldConfigArgument{
					"session":       sessionArg,
					"table":         &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"column":        &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"relationships": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(graphql.ID)))},
					"joinType":      &graphql.ArgumentConfig{Type: graphql.String},
				},
				Resolve: sc.resolveAddColumnVia,
			},
			"apply": &graphql.Field{
				Type:        graphql.NewNonNull(t.result),
				Description: `Applies one command of the form {"op": "...", ...}.`,
				Args: graphql.FieldConfigArgument{
					"session": sessionArg,
					"command": &graphql.ArgumentConfig{Type: graphql.NewNonNull(JSONScalar)},
				},
				Resolve: sc.resolveApply,
			},
			"loadQuery": &graphql.Field{
				Type: graphql.NewNonNull(t.result),
				Args: graphql.FieldConfigArgument{
					"session": sessionArg,
					"query":   &graphql.ArgumentConfig{Type: graphql.NewNonNull(JSONScalar)},
				},
				Resolve: sc.resolveLoadQuery,
			},
			"setDialect": &graphql.Field{
				Type: graphql.NewNonNull(t.result),
				Args: graphql.FieldConfigArgument{
					"session": sessionArg,
					"dialect": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"pretty":  &graphql.ArgumentConfig{Type: graphql.Boolean},
				},
				Resolve: sc.resolveSetDialect,
			},
			"preview": &graphql.Field{
				Type: graphql.NewNonNull(t.preview),
				Args: graphql.FieldConfigArgument{
					"session": sessionArg,
					"limit":   &graphql.ArgumentConfig{Type: graphql.Int},
				},
				Resolve: sc.resolvePreview,
			},
		},
	})
}

func (sc *schemaBuilder) resolveTables(graphql.ResolveParams) (interface{}, error) {
	g := sc.cfg.Graph()
	tables := g.Tables()
	out := make([]tableView, 0, len(tables))
	for _, t := range tables {
		out = append(out, newTableView(g, t))
	}
	return out, nil
}

func (sc *schemaBuilder) resolveTable(p graphql.ResolveParams) (interface{}, error) {
	g := sc.cfg.Graph()
	t, ok := g.Table(stringArg(p, "id"))
	if !ok {
		return nil, nil
	}
	return newTableView(g, t), nil
}

func (sc *schemaBuilder) resolvePaths(p graphql.ResolveParams) (interface{}, error) {
	g := sc.cfg.Graph()
	source, target := stringArg(p, "source"), stringArg(p, "target")
	for _, id := range []string{source, target} {
		if _, ok := g.Table(id); !ok {
			return nil, classify(fmt.Errorf("%w: %s", builder.ErrUnknownTable, id))
		}
	}
	paths := joinpath.Options(g, source, target)
	if paths == nil {
		paths = []joinpath.Path{}
	}
	return paths, nil
}

func (sc *schemaBuilder) resolveGenerate(p graphql.ResolveParams) (interface{}, error) {
	raw, err := rawArg(p, "query")
	if err != nil {
		return nil, classify(err)
	}
	q, err := query.Unmarshal(raw)
	if err != nil {
		return nil, classify(err)
	}
	d, err := sqlgen.Lookup(stringArg(p, "dialect"))
	if err != nil {
		return nil, classify(err)
	}
	pretty, _ := p.Args["pretty"].(bool)
	return sqlgen.Generate(q, d, pretty), nil
}

func (sc *schemaBuilder) resolveSession(p graphql.ResolveParams) (interface{}, error) {
	view, err := sc.view(p.Context, stringArg(p, "id"))
	if err != nil {
		return nil, classify(err)
	}
	return view, nil
}

func (sc *schemaBuilder) resolveJoinPaths(p graphql.ResolveParams) (interface{}, error) {
	view := p.Source.(*sessionView)
	table := stringArg(p, "table")
	var paths []joinpath.Path
	err := sc.cfg.Store.Do(view.ID, view.owner, func(s *builder.Session) error {
		if _, ok := s.Graph().Table(table); !ok {
			return fmt.Errorf("%w: %s", builder.ErrUnknownTable, table)
		}
		paths = s.JoinPaths(table)
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	if paths == nil {
		paths = []joinpath.Path{}
	}
	return paths, nil
}

func (sc *schemaBuilder) resolveCreateSession(p graphql.ResolveParams) (interface{}, error) {
	var dialect *sqlgen.Dialect
	if name, ok := p.Args["dialect"].(string); ok && name != "" {
		d, err := sqlgen.Lookup(name)
		if err != nil {
			return nil, classify(err)
		}
		dialect = d
	}
	owner := middleware.OwnerFromContext(p.Context)
	id, err := sc.cfg.Store.Create(p.Context, owner)
	if err != nil {
		return nil, classify(err)
	}
	err = sc.cfg.Store.Do(id, owner, func(s *builder.Session) error {
		if dialect != nil {
			s.SetDialect(dialect)
		}
		if pretty, ok := p.Args["pretty"].(bool); ok {
			s.SetPretty(pretty)
		}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	view, err := sc.view(p.Context, id)
	if err != nil {
		return nil, classify(err)
	}
	return view, nil
}

func (sc *schemaBuilder) resolveDeleteSession(p graphql.ResolveParams) (interface{}, error) {
	owner := middleware.OwnerFromContext(p.Context)
	if err := sc.cfg.Store.Delete(p.Context, stringArg(p, "session"), owner); err != nil {
		return nil, classify(err)
	}
	return true, nil
}

func (sc *schemaBuilder) resolveAddColumn(p graphql.ResolveParams) (interface{}, error) {
	return sc.mutate(p, func(s *builder.Session) (builder.Result, error) {
		return s.AddColumn(stringArg(p, "table"), stringArg(p, "column"))
	})
}

func (sc *schemaBuilder) resolveAddColumnVia(p graphql.ResolveParams) (interface{}, error) {
	var joinType query.JoinType
	if raw, ok := p.Args["joinType"].(string); ok && raw != "" {
		parsed, ok := query.ParseJoinType(raw)
		if !ok {
			return nil, classify(fmt.Errorf("%w: unsupported join type %q", builder.ErrInvalidCommand, raw))
		}
		joinType = parsed
	}
	ids := stringListArg(p, "relationships")
	return sc.mutate(p, func(s *builder.Session) (builder.Result, error) {
		return s.AddColumnVia(stringArg(p, "table"), stringArg(p, "column"), ids, joinType)
	})
}

func (sc *schemaBuilder) resolveApply(p graphql.ResolveParams) (interface{}, error) {
	raw, err := rawArg(p, "command")
	if err != nil {
		return nil, classify(err)
	}
	cmd, err := builder.ParseCommand(raw)
	if err != nil {
		return nil, classify(err)
	}
	return sc.mutate(p, func(s *builder.Session) (builder.Result, error) {
		return s.Apply(cmd)
	})
}

func (sc *schemaBuilder) resolveLoadQuery(p graphql.ResolveParams) (interface{}, error) {
	raw, err := rawArg(p, "query")
	if err != nil {
		return nil, classify(err)
	}
	return sc.mutate(p, func(s *builder.Session) (builder.Result, error) {
		return s.Load(raw)
	})
}

func (sc *schemaBuilder) resolveSetDialect(p graphql.ResolveParams) (interface{}, error) {
	d, err := sqlgen.Lookup(stringArg(p, "dialect"))
	if err != nil {
		return nil, classify(err)
	}
	return sc.mutate(p, func(s *builder.Session) (builder.Result, error) {
		s.SetDialect(d)
		if pretty, ok := p.Args["pretty"].(bool); ok {
			s.SetPretty(pretty)
		}
		return builder.Result{Applied: true}, nil
	})
}

// resolvePreview copies the query under the session lock and runs it after
// the lock is released.
func (sc *schemaBuilder) resolvePreview(p graphql.ResolveParams) (interface{}, error) {
	if sc.cfg.Previewer == nil {
		return nil, classify(ErrPreviewDisabled)
	}
	owner := middleware.OwnerFromContext(p.Context)
	var q query.Query
	err := sc.cfg.Store.Do(stringArg(p, "session"), owner, func(s *builder.Session) error {
		q = s.Query()
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	limit, _ := p.Args["limit"].(int)
	res, err := sc.cfg.Previewer.Preview(p.Context, q, limit)
	if err != nil {
		if errors.Is(err, dbexec.ErrEmptyQuery) {
			return nil, classify(err)
		}
		logging.FromContext(p.Context).Warn("preview failed", slog.String("error", err.Error()))
		return nil, &codedError{code: CodePreviewFailed, err: err}
	}
	return newPreviewView(res), nil
}

// mutate applies fn to the session named by the "session" argument and
// returns the result with a fresh snapshot of the session.
func (sc *schemaBuilder) mutate(p graphql.ResolveParams, fn func(*builder.Session) (builder.Result, error)) (interface{}, error) {
	id := stringArg(p, "session")
	owner := middleware.OwnerFromContext(p.Context)
	var (
		res  builder.Result
		view *sessionView
	)
	err := sc.cfg.Store.Do(id, owner, func(s *builder.Session) error {
		var err error
		if res, err = fn(s); err != nil {
			return err
		}
		view, err = newSessionView(s)
		return err
	})
	if err != nil {
		sc.logFailure(p.Context, p.Info.FieldName, err)
		return nil, classify(err)
	}
	if err := sc.stamp(view, id, owner); err != nil {
		return nil, classify(err)
	}
	return &commandResultView{Applied: res.Applied, Signal: res.Signal, Session: view}, nil
}

func (sc *schemaBuilder) view(ctx context.Context, id string) (*sessionView, error) {
	owner := middleware.OwnerFromContext(ctx)
	var view *sessionView
	err := sc.cfg.Store.Do(id, owner, func(s *builder.Session) error {
		var err error
		view, err = newSessionView(s)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := sc.stamp(view, id, owner); err != nil {
		return nil, err
	}
	return view, nil
}

// stamp fills session metadata. Info takes the session lock, so it cannot run
// inside Store.Do.
func (sc *schemaBuilder) stamp(view *sessionView, id, owner string) error {
	info, err := sc.cfg.Store.Info(id, owner)
	if err != nil {
		return err
	}
	view.ID = info.ID
	view.CreatedAt = info.Created
	view.LastUsedAt = info.LastUsed
	view.owner = info.Owner
	return nil
}

func (sc *schemaBuilder) logFailure(ctx context.Context, field string, err error) {
	logging.FromContext(ctx).Debug("builder operation rejected",
		slog.String("field", field),
		slog.String("error", err.Error()),
	)
}

func stringArg(p graphql.ResolveParams, name string) string {
	s, _ := p.Args[name].(string)
	return s
}

func stringListArg(p graphql.ResolveParams, name string) []string {
	items, _ := p.Args[name].([]interface{})
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func rawArg(p graphql.ResolveParams, name string) (json.RawMessage, error) {
	raw, ok := p.Args[name].(json.RawMessage)
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("%w: %s must be JSON", builder.ErrInvalidCommand, name)
	}
	return raw, nil
}
