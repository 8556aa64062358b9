package metrics

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/jrsteele09/go-backoffice-client/dispatch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the client's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	apiCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "backoffice_client",
			Subsystem: "api",
			Name:      "calls_total",
			Help:      "Total number of API calls dispatched.",
		},
		[]string{"method", "path", "status"},
	)

	apiDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "backoffice_client",
			Subsystem: "api",
			Name:      "call_duration_seconds",
			Help:      "Duration of API calls.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"method", "path"},
	)

	tokenRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "backoffice_client",
			Subsystem: "auth",
			Name:      "token_refreshes_total",
			Help:      "Total number of access token refreshes.",
		},
		[]string{"success"},
	)
)

func init() {
	Registry.MustRegister(apiCalls, apiDuration, tokenRefreshes)
}

// Handler returns an HTTP handler exposing the registered metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the current metrics to path in the text exposition format.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, Registry)
}

// Observer records dispatched calls.
type Observer struct{}

var _ dispatch.Observer = Observer{}

func (Observer) ObserveCall(call dispatch.Call) {
	method := strings.ToUpper(call.Method)
	path := canonicalPath(call.Path)
	status := "error"
	if call.Status > 0 {
		status = strconv.Itoa(call.Status)
	}
	apiCalls.WithLabelValues(method, path, status).Inc()
	apiDuration.WithLabelValues(method, path).Observe(call.Duration.Seconds())
}

// RecordRefresh counts a completed token refresh.
func RecordRefresh(success bool) {
	tokenRefreshes.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// Fixed action segments; any other trailing segment is an identifier.
var actions = map[string]bool{
	"list":         true,
	"update":       true,
	"batch-update": true,
	"login":        true,
	"logout":       true,
	"refresh":      true,
	"me":           true,
}

// canonicalPath collapses identifiers so label cardinality stays bounded:
// /api/products/A100 becomes /api/products/:id.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) <= 2 || parts[0] != "api" {
		return "/" + trimmed
	}
	parts = parts[:3]
	if !actions[parts[2]] {
		parts[2] = ":id"
	}
	return "/" + strings.Join(parts, "/")
}
