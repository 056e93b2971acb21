package otel

import (
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPMiddleware traces API requests. Health probes and the websocket
// upgrade are not traced; span names use the method and path so dispute
// keys stay on the span attributes.
func HTTPMiddleware(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName,
			otelhttp.WithFilter(traced),
			otelhttp.WithSpanNameFormatter(spanName),
		)
	}
}

func traced(r *http.Request) bool {
	return !strings.HasPrefix(r.URL.Path, "/health") && r.URL.Path != "/ws"
}

// spanName collapses /api/v1/disputes/<key>/<action> to one name per action.
func spanName(_ string, r *http.Request) string {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) >= 4 && parts[2] == "disputes" {
		parts[3] = "{key}"
	}
	if len(parts) >= 4 && parts[2] == "payments" {
		parts[3] = "{hash}"
	}
	return r.Method + " /" + strings.Join(parts, "/")
}
