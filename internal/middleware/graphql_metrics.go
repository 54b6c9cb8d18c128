package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"querycanvas/internal/observability"
)

const uncodedError = "UNCODED"

// GraphQLMetricsMiddleware records duration and count per operation type and
// root field, plus one error count per returned error code. Responses with a
// non-empty errors array count as failed even with status 200.
func GraphQLMetricsMiddleware(metrics *observability.GraphQLMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// GraphiQL page loads are not operations.
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			metrics.IncrementActiveRequests(ctx)
			defer metrics.DecrementActiveRequests(ctx)

			op, ok := OperationFromContext(ctx)
			if !ok || op.Type == "" {
				op.Type = "unknown"
			}

			start := time.Now()
			rec := &bodyRecorder{statusRecorder: statusRecorder{ResponseWriter: w, status: http.StatusOK}}
			next.ServeHTTP(rec, r)

			codes := responseErrorCodes(rec.body.Bytes())
			metrics.RecordRequest(ctx, observability.RequestSample{
				Duration:   time.Since(start),
				Operation:  op.Type,
				RootField:  rootFieldLabel(op.RootFields),
				Failed:     rec.status >= 400 || len(codes) > 0,
				ErrorCodes: codes,
			})
		})
		return GraphQLOperationMiddleware()(inner)
	}
}

func rootFieldLabel(fields []string) string {
	switch len(fields) {
	case 0:
		return "none"
	case 1:
		return fields[0]
	default:
		return "multiple"
	}
}

// bodyRecorder keeps a copy of the response body.
type bodyRecorder struct {
	statusRecorder
	body bytes.Buffer
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	_, _ = w.body.Write(b)
	return w.statusRecorder.Write(b)
}

// responseErrorCodes returns extensions.code for every entry in the errors
// array of a GraphQL response body.
func responseErrorCodes(body []byte) []string {
	var payload struct {
		Errors []struct {
			Extensions struct {
				Code string `json:"code"`
			} `json:"extensions"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(body), &payload); err != nil {
		return nil
	}
	codes := make([]string, 0, len(payload.Errors))
	for _, e := range payload.Errors {
		code := e.Extensions.Code
		if code == "" {
			code = uncodedError
		}
		codes = append(codes, code)
	}
	return codes
}
