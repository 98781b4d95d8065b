package observability

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// ReplicationCollector bundles Prometheus metrics for the replication RPC
// surface and provides helpers to wire them into gRPC servers and HTTP
// handlers.
type ReplicationCollector struct {
	gatherer prometheus.Gatherer

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec
	DeltasServed *prometheus.CounterVec
	Snapshots    prometheus.Counter
}

// NewReplicationCollector registers replication metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewReplicationCollector(reg prometheus.Registerer) (*ReplicationCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "replication_requests_total",
		Help: "Total number of handled replication RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "replication_requests_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "replication_request_duration_seconds",
		Help:    "Replication RPC latency in seconds.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"service", "method"}), "replication_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	deltas, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "replication_deltas_served_total",
		Help: "Database deltas sent to replicas, labeled by database.",
	}, []string{"database"}), "replication_deltas_served_total")
	if err != nil {
		return nil, err
	}

	snapshots, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "replication_snapshots_total",
		Help: "Full snapshots sent because a replica fell behind the delta journal.",
	}), "replication_snapshots_total")
	if err != nil {
		return nil, err
	}

	return &ReplicationCollector{
		gatherer:     gatherer,
		RPCRequests:  requests,
		RPCDurations: durations,
		DeltasServed: deltas,
		Snapshots:    snapshots,
	}, nil
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *ReplicationCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		if c.RPCRequests != nil {
			c.RPCRequests.WithLabelValues(service, method, code).Inc()
		}
		if c.RPCDurations != nil {
			c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		}
		return resp, err
	}
}

// AddDeltasServed counts deltas sent for database.
func (c *ReplicationCollector) AddDeltasServed(database string, n int) {
	if c == nil || c.DeltasServed == nil || n <= 0 {
		return
	}
	c.DeltasServed.WithLabelValues(database).Add(float64(n))
}

// IncSnapshots counts a full snapshot resend.
func (c *ReplicationCollector) IncSnapshots() {
	if c == nil || c.Snapshots == nil {
		return
	}
	c.Snapshots.Inc()
}

// Handler exposes a ready-to-use /metrics handler.
func (c *ReplicationCollector) Handler() http.Handler {
	return handlerFor(c.gatherer)
}

func handlerFor(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}
