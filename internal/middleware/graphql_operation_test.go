package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescribeOperation(t *testing.T) {
	tests := []struct {
		name, query, operation string
		want                   Operation
	}{
		{"empty", "", "", Operation{Type: "unknown"}},
		{"parse error", "query {", "", Operation{Type: "unknown"}},
		{"anonymous query", "{ tables { id } session(id: \"x\") { sql } }", "",
			Operation{Type: "query", RootFields: []string{"tables", "session"}}},
		{"named mutation", "mutation Add { addColumn(session: \"s\", table: \"t\", column: \"c\") { applied } }", "",
			Operation{Type: "mutation", Name: "Add", RootFields: []string{"addColumn"}}},
		{"select by name", "query A { tables { id } } mutation B { createSession { id } }", "B",
			Operation{Type: "mutation", Name: "B", RootFields: []string{"createSession"}}},
		{"missing name", "query A { tables { id } }", "Z", Operation{Type: "unknown", Name: "Z"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, describeOperation(tt.query, tt.operation))
		})
	}
}

func TestGraphQLOperationMiddleware_RestoresBody(t *testing.T) {
	body := `{"query":"mutation { createSession { id } }"}`
	var seen Operation
	var forwarded string
	handler := GraphQLOperationMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = OperationFromContext(r.Context())
		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		forwarded = string(data)
	}))

	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "mutation", seen.Type)
	assert.Equal(t, []string{"createSession"}, seen.RootFields)
	assert.Equal(t, body, forwarded)
}

func TestGraphQLOperationMiddleware_GETAndRawBody(t *testing.T) {
	var seen Operation
	handler := GraphQLOperationMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = OperationFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/graphql?query=%7B%20tables%20%7B%20id%20%7D%20%7D", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "query", seen.Type)

	req = httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader("mutation { deleteSession(id: \"x\") }"))
	req.Header.Set("Content-Type", "application/graphql")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "mutation", seen.Type)
}
