package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/graphql-go/graphql/language/source"
)

// maxGraphQLBody caps the body read for operation analysis.
const maxGraphQLBody = 1 << 20

// Operation describes the GraphQL operation a request selects.
type Operation struct {
	// Type is query, mutation or subscription; unknown when the document
	// does not parse or names no matching operation.
	Type string
	Name string
	// RootFields are the top-level selections, e.g. addColumn.
	RootFields []string
}

type operationContextKey struct{}

// OperationFromContext returns the operation stored by GraphQLOperationMiddleware.
func OperationFromContext(ctx context.Context) (Operation, bool) {
	op, ok := ctx.Value(operationContextKey{}).(Operation)
	return op, ok
}

// GraphQLOperationMiddleware parses the request document once and stores
// its Operation for the metrics and tracing middleware further in.
func GraphQLOperationMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := OperationFromContext(r.Context()); ok {
				next.ServeHTTP(w, r)
				return
			}
			query, operationName := readGraphQLRequest(r)
			op := describeOperation(query, operationName)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), operationContextKey{}, op)))
		})
	}
}

// readGraphQLRequest extracts the document and operation name, restoring the
// body for the GraphQL handler.
func readGraphQLRequest(r *http.Request) (string, string) {
	switch r.Method {
	case http.MethodGet:
		return r.URL.Query().Get("query"), r.URL.Query().Get("operationName")
	case http.MethodPost:
	default:
		return "", ""
	}
	if r.Body == nil {
		return "", ""
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxGraphQLBody+1))
	rest := r.Body
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(body), rest), rest}
	if err != nil || len(body) > maxGraphQLBody {
		return "", ""
	}

	if strings.Contains(r.Header.Get("Content-Type"), "application/graphql") {
		return string(body), r.URL.Query().Get("operationName")
	}
	var payload struct {
		Query         string `json:"query"`
		OperationName string `json:"operationName"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", ""
	}
	return payload.Query, payload.OperationName
}

func describeOperation(query, operationName string) Operation {
	unknown := Operation{Type: "unknown", Name: operationName}
	if strings.TrimSpace(query) == "" {
		return unknown
	}
	doc, err := parser.Parse(parser.ParseParams{
		Source: source.NewSource(&source.Source{Body: []byte(query), Name: "graphql"}),
	})
	if err != nil {
		return unknown
	}

	var target *ast.OperationDefinition
	for _, def := range doc.Definitions {
		op, ok := def.(*ast.OperationDefinition)
		if !ok {
			continue
		}
		if operationName == "" {
			target = op
			break
		}
		if op.Name != nil && op.Name.Value == operationName {
			target = op
			break
		}
	}
	if target == nil {
		return unknown
	}

	result := Operation{Type: target.Operation, Name: operationName}
	if result.Name == "" && target.Name != nil {
		result.Name = target.Name.Value
	}
	if target.SelectionSet != nil {
		for _, sel := range target.SelectionSet.Selections {
			if field, ok := sel.(*ast.Field); ok && field.Name != nil {
				result.RootFields = append(result.RootFields, field.Name.Value)
			}
		}
	}
	return result
}
