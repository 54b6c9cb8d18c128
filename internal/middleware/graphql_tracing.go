package middleware

import (
	"log/slog"
	"net/http"

	"querycanvas/internal/logging"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// GraphQLTracingMiddleware wraps GraphQL execution in a graphql.execute span
// and adds the trace and span IDs to the request logger.
func GraphQLTracingMiddleware() func(http.Handler) http.Handler {
	tracer := otel.Tracer("querycanvas/graphql")
	return func(next http.Handler) http.Handler {
		inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			op, _ := OperationFromContext(r.Context())
			if op.Type == "" || op.Type == "unknown" {
				next.ServeHTTP(w, r)
				return
			}

			ctx, span := tracer.Start(r.Context(), "graphql.execute")
			defer span.End()
			if spanCtx := span.SpanContext(); spanCtx.IsValid() {
				ctx = logging.WithLogger(ctx, logging.FromContext(ctx).WithFields(
					slog.String("trace_id", spanCtx.TraceID().String()),
					slog.String("span_id", spanCtx.SpanID().String()),
				))
			}
			if span.IsRecording() {
				span.SetAttributes(
					attribute.String("graphql.operation.type", op.Type),
					attribute.StringSlice("graphql.operation.root_fields", op.RootFields),
				)
				if op.Name != "" {
					span.SetAttributes(attribute.String("graphql.operation.name", op.Name))
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
		return GraphQLOperationMiddleware()(inner)
	}
}
