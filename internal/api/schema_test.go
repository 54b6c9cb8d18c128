package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/gqlerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querycanvas/internal/dbexec"
	"querycanvas/internal/logging"
	"querycanvas/internal/middleware"
	"querycanvas/internal/query"
	"querycanvas/internal/schemagraph"
	"querycanvas/internal/sessions"
)

func testGraph(t *testing.T) *schemagraph.Graph {
	t.Helper()
	g, err := schemagraph.New(
		[]schemagraph.Table{
			{ID: "customers", Columns: []schemagraph.Column{{Name: "id"}, {Name: "name"}}},
			{ID: "orders", Columns: []schemagraph.Column{{Name: "id"}, {Name: "customer_id"}, {Name: "total"}, {Name: "billing_address_id"}, {Name: "shipping_address_id"}}},
			{ID: "addresses", Columns: []schemagraph.Column{{Name: "id"}, {Name: "city"}}},
		},
		[]schemagraph.Relationship{
			{ID: "orders_customer", FromTable: "orders", FromColumn: "customer_id", ToTable: "customers", ToColumn: "id"},
			{ID: "orders_billing", FromTable: "orders", FromColumn: "billing_address_id", ToTable: "addresses", ToColumn: "id"},
			{ID: "orders_shipping", FromTable: "orders", FromColumn: "shipping_address_id", ToTable: "addresses", ToColumn: "id"},
		},
	)
	require.NoError(t, err)
	return g
}

type fakePreviewer struct {
	got   query.Query
	limit int
	err   error
}

func (f *fakePreviewer) Preview(_ context.Context, q query.Query, limit int) (*dbexec.PreviewResult, error) {
	f.got, f.limit = q, limit
	if !q.From.IsSet() {
		return nil, dbexec.ErrEmptyQuery
	}
	if f.err != nil {
		return nil, f.err
	}
	return &dbexec.PreviewResult{
		SQL:     "SELECT cus.name FROM customers AS cus",
		Columns: []string{"name"},
		Rows:    [][]any{{"Ada"}, {"Grace"}},
	}, nil
}

type harness struct {
	schema graphql.Schema
	store  *sessions.Store
}

func newHarness(t *testing.T, previewer Previewer) *harness {
	t.Helper()
	g := testGraph(t)
	store := sessions.NewStore(sessions.Config{
		Logger: logging.Discard(),
		Graph:  func() *schemagraph.Graph { return g },
	})
	schema, err := NewSchema(Config{
		Store:     store,
		Graph:     func() *schemagraph.Graph { return g },
		Previewer: previewer,
		Logger:    logging.Discard(),
	})
	require.NoError(t, err)
	return &harness{schema: schema, store: store}
}

func asUser(subject string) context.Context {
	return middleware.WithAuthContext(context.Background(), middleware.AuthContext{
		Subject: subject,
		Issuer:  "https://issuer.test",
		Method:  "jwt",
	})
}

func (h *harness) do(t *testing.T, ctx context.Context, query string, vars map[string]interface{}) *graphql.Result {
	t.Helper()
	return graphql.Do(graphql.Params{
		Schema:         h.schema,
		RequestString:  query,
		VariableValues: vars,
		Context:        ctx,
	})
}

func (h *harness) mustDo(t *testing.T, ctx context.Context, query string, vars map[string]interface{}) map[string]interface{} {
	t.Helper()
	res := h.do(t, ctx, query, vars)
	require.Empty(t, res.Errors)
	return res.Data.(map[string]interface{})
}

func (h *harness) createSession(t *testing.T, ctx context.Context) string {
	t.Helper()
	data := h.mustDo(t, ctx, `mutation { createSession { id sql } }`, nil)
	session := data["createSession"].(map[string]interface{})
	assert.Equal(t, "", session["sql"])
	return session["id"].(string)
}

func errorCode(t *testing.T, res *graphql.Result) string {
	t.Helper()
	require.NotEmpty(t, res.Errors)
	var ext gqlerrors.ExtendedError
	if errors.As(res.Errors[0].OriginalError(), &ext) {
		code, _ := ext.Extensions()["code"].(string)
		return code
	}
	code, _ := res.Errors[0].Extensions["code"].(string)
	return code
}

func TestTables(t *testing.T) {
	h := newHarness(t, nil)
	data := h.mustDo(t, context.Background(), `{
		tables { id label kind columns { name } }
		table(id: "customers") { id relationships { id label } }
		missing: table(id: "nope") { id }
	}`, nil)

	tables := data["tables"].([]interface{})
	require.Len(t, tables, 3)
	first := tables[0].(map[string]interface{})
	assert.Equal(t, "customers", first["id"])
	assert.Equal(t, "table", first["kind"])
	assert.NotEmpty(t, first["label"])

	customers := data["table"].(map[string]interface{})
	rels := customers["relationships"].([]interface{})
	require.Len(t, rels, 1)
	rel := rels[0].(map[string]interface{})
	assert.Equal(t, "orders_customer", rel["id"])
	assert.Equal(t, "Customer.id -> Order.customer_id", rel["label"])
	assert.Nil(t, data["missing"])
}

func TestPaths(t *testing.T) {
	h := newHarness(t, nil)
	data := h.mustDo(t, context.Background(), `{
		paths(source: "customers", target: "addresses") { hopCount edges { fromTable toTable relationshipId } }
	}`, nil)
	paths := data["paths"].([]interface{})
	require.NotEmpty(t, paths)
	shortest := paths[0].(map[string]interface{})
	assert.Equal(t, 2, shortest["hopCount"])

	res := h.do(t, context.Background(), `{ paths(source: "customers", target: "ghosts") { hopCount } }`, nil)
	assert.Equal(t, CodeBadRequest, errorCode(t, res))
}

func TestGenerate(t *testing.T) {
	h := newHarness(t, nil)
	q := map[string]interface{}{
		"from":   map[string]interface{}{"table": "customers", "alias": "c"},
		"fields": []interface{}{map[string]interface{}{"kind": "column", "id": "f1", "order": 0, "ref": map[string]interface{}{"alias": "c", "column": "name"}}},
		"limit":  map[string]interface{}{"count": 5},
	}
	data := h.mustDo(t, context.Background(), `query Gen($q: JSON!) {
		mysql: generate(query: $q)
		tsql: generate(query: $q, dialect: "sqlserver")
	}`, map[string]interface{}{"q": q})
	assert.Equal(t, "SELECT c.name FROM customers AS c LIMIT 5", data["mysql"])
	assert.Contains(t, data["tsql"], "FETCH NEXT 5 ROWS ONLY")

	res := h.do(t, context.Background(), `query Gen($q: JSON!) { generate(query: $q, dialect: "oracle") }`, map[string]interface{}{"q": q})
	assert.Equal(t, CodeBadRequest, errorCode(t, res))
}

func TestSessionLifecycle(t *testing.T) {
	h := newHarness(t, nil)
	ctx := asUser("alice")
	id := h.createSession(t, ctx)

	data := h.mustDo(t, ctx, `mutation($s: ID!) {
		addColumn(session: $s, table: "customers", column: "name") { applied session { sql includedTables } }
	}`, map[string]interface{}{"s": id})
	result := data["addColumn"].(map[string]interface{})
	assert.Equal(t, true, result["applied"])
	session := result["session"].(map[string]interface{})
	assert.Equal(t, "SELECT cus.name FROM customers AS cus", session["sql"])
	assert.Equal(t, []interface{}{"customers"}, session["includedTables"])

	data = h.mustDo(t, ctx, `mutation($s: ID!) {
		apply(session: $s, command: "{\"op\": \"set_limit\", \"count\": 3}") { applied session { sql aliases { alias table } } }
	}`, map[string]interface{}{"s": id})
	session = data["apply"].(map[string]interface{})["session"].(map[string]interface{})
	assert.Equal(t, "SELECT cus.name FROM customers AS cus LIMIT 3", session["sql"])
	assert.Equal(t, []interface{}{map[string]interface{}{"alias": "cus", "table": "customers"}}, session["aliases"])

	data = h.mustDo(t, ctx, `mutation($s: ID!) {
		setDialect(session: $s, dialect: "mssql", pretty: true) { session { dialect pretty sql } }
	}`, map[string]interface{}{"s": id})
	session = data["setDialect"].(map[string]interface{})["session"].(map[string]interface{})
	assert.Equal(t, "sqlserver", session["dialect"])
	assert.Equal(t, true, session["pretty"])
	assert.Contains(t, session["sql"], "FETCH NEXT 3 ROWS ONLY")

	data = h.mustDo(t, ctx, `query($s: ID!) { session(id: $s) { id query createdAt lastUsedAt } }`, map[string]interface{}{"s": id})
	view := data["session"].(map[string]interface{})
	assert.Equal(t, id, view["id"])
	saved, err := json.Marshal(view["query"])
	require.NoError(t, err)
	loaded, err := query.Unmarshal(saved)
	require.NoError(t, err)
	assert.Equal(t, "customers", loaded.From.Table)
	assert.NotEmpty(t, view["createdAt"])

	data = h.mustDo(t, ctx, `mutation($s: ID!) { deleteSession(session: $s) }`, map[string]interface{}{"s": id})
	assert.Equal(t, true, data["deleteSession"])
	assert.Equal(t, 0, h.store.Len())
}

func TestAmbiguousColumnSignal(t *testing.T) {
	h := newHarness(t, nil)
	ctx := asUser("alice")
	id := h.createSession(t, ctx)
	vars := map[string]interface{}{"s": id}

	h.mustDo(t, ctx, `mutation($s: ID!) { addColumn(session: $s, table: "orders", column: "total") { applied } }`, vars)
	data := h.mustDo(t, ctx, `mutation($s: ID!) {
		addColumn(session: $s, table: "addresses", column: "city") {
			applied
			signal { kind candidates { relationshipId sourceAlias label edge { toTable } } }
			session { sql }
		}
	}`, vars)
	result := data["addColumn"].(map[string]interface{})
	assert.Equal(t, false, result["applied"])
	signal := result["signal"].(map[string]interface{})
	assert.Equal(t, "ambiguous_relationship", signal["kind"])
	candidates := signal["candidates"].([]interface{})
	require.Len(t, candidates, 2)
	assert.Equal(t, "SELECT ord.total FROM orders AS ord", result["session"].(map[string]interface{})["sql"])

	chosen := candidates[1].(map[string]interface{})["relationshipId"]
	vars["rels"] = []interface{}{chosen}
	data = h.mustDo(t, ctx, `mutation($s: ID!, $rels: [ID!]!) {
		addColumnVia(session: $s, table: "addresses", column: "city", relationships: $rels, joinType: "INNER") { applied session { sql } }
	}`, vars)
	result = data["addColumnVia"].(map[string]interface{})
	assert.Equal(t, true, result["applied"])
	assert.Contains(t, result["session"].(map[string]interface{})["sql"], "INNER JOIN addresses")

	data = h.mustDo(t, ctx, `query($s: ID!) { session(id: $s) { joinPaths(table: "customers") { hopCount } } }`, map[string]interface{}{"s": id})
	paths := data["session"].(map[string]interface{})["joinPaths"].([]interface{})
	require.NotEmpty(t, paths)
}

func TestSessionOwnership(t *testing.T) {
	h := newHarness(t, nil)
	id := h.createSession(t, asUser("alice"))

	res := h.do(t, asUser("mallory"), `query($s: ID!) { session(id: $s) { sql } }`, map[string]interface{}{"s": id})
	assert.Equal(t, CodeNotFound, errorCode(t, res))

	res = h.do(t, context.Background(), `mutation($s: ID!) { deleteSession(session: $s) }`, map[string]interface{}{"s": id})
	assert.Equal(t, CodeNotFound, errorCode(t, res))
	assert.Equal(t, 1, h.store.Len())
}

func TestErrorCodes(t *testing.T) {
	h := newHarness(t, nil)
	ctx := asUser("alice")
	id := h.createSession(t, ctx)
	vars := map[string]interface{}{"s": id}

	res := h.do(t, ctx, `mutation($s: ID!) { addColumn(session: $s, table: "ghosts", column: "id") { applied } }`, vars)
	assert.Equal(t, CodeBadRequest, errorCode(t, res))

	res = h.do(t, ctx, `mutation($s: ID!) { apply(session: $s, command: "{\"op\": \"explode\"}") { applied } }`, vars)
	assert.Equal(t, CodeBadRequest, errorCode(t, res))

	res = h.do(t, ctx, `mutation($s: ID!) { addColumnVia(session: $s, table: "orders", column: "id", relationships: [], joinType: "SIDEWAYS") { applied } }`, vars)
	assert.Equal(t, CodeBadRequest, errorCode(t, res))

	res = h.do(t, ctx, `query { session(id: "not-a-uuid") { sql } }`, nil)
	assert.Equal(t, CodeBadRequest, errorCode(t, res))

	res = h.do(t, ctx, `mutation($s: ID!) { preview(session: $s) { sql } }`, vars)
	assert.Equal(t, CodeUnavailable, errorCode(t, res))
}

func TestLoadQuery(t *testing.T) {
	h := newHarness(t, nil)
	ctx := asUser("alice")
	id := h.createSession(t, ctx)

	data := h.mustDo(t, ctx, `mutation($s: ID!) {
		loadQuery(session: $s, query: {from: {table: "orders", alias: "o"}, fields: [{kind: "column", id: "f1", order: 0, ref: {alias: "o", column: "total"}}]}) {
			applied session { sql }
		}
	}`, map[string]interface{}{"s": id})
	result := data["loadQuery"].(map[string]interface{})
	assert.Equal(t, true, result["applied"])
	assert.Equal(t, "SELECT o.total FROM orders AS o", result["session"].(map[string]interface{})["sql"])
}

func TestPreview(t *testing.T) {
	previewer := &fakePreviewer{}
	h := newHarness(t, previewer)
	ctx := asUser("alice")
	id := h.createSession(t, ctx)
	vars := map[string]interface{}{"s": id}

	res := h.do(t, ctx, `mutation($s: ID!) { preview(session: $s) { sql } }`, vars)
	assert.Equal(t, CodeBadRequest, errorCode(t, res), "empty sessions cannot be previewed")

	h.mustDo(t, ctx, `mutation($s: ID!) { addColumn(session: $s, table: "customers", column: "name") { applied } }`, vars)
	data := h.mustDo(t, ctx, `mutation($s: ID!) { preview(session: $s, limit: 2) { sql columns rows truncated } }`, vars)
	preview := data["preview"].(map[string]interface{})
	assert.Equal(t, []interface{}{"name"}, preview["columns"])
	assert.Equal(t, false, preview["truncated"])
	assert.Len(t, preview["rows"], 2)
	assert.Equal(t, 2, previewer.limit)
	assert.Equal(t, "customers", previewer.got.From.Table)

	previewer.err = errors.New("connection refused")
	res = h.do(t, ctx, `mutation($s: ID!) { preview(session: $s) { sql } }`, vars)
	assert.Equal(t, CodePreviewFailed, errorCode(t, res))
}

func TestNewHandler(t *testing.T) {
	g := testGraph(t)
	store := sessions.NewStore(sessions.Config{Logger: logging.Discard(), Graph: func() *schemagraph.Graph { return g }})
	h, err := NewHandler(Config{Store: store, Graph: func() *schemagraph.Graph { return g }, Logger: logging.Discard()})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(`{"query":"{ dialects }"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data struct {
			Dialects []string `json:"dialects"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"mysql", "sqlserver"}, body.Data.Dialects)

	_, err = NewSchema(Config{})
	assert.Error(t, err)
}
