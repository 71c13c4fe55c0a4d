package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	DispatchedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gomember",
			Name:      "dispatched_events_total",
			Help:      "Membership service events dispatched, by reason.",
		},
		[]string{"reason"},
	)

	ReconcilePasses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gomember",
			Name:      "reconcile_passes_total",
			Help:      "Completed reconciliation passes.",
		},
	)

	SnapshotFetchErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gomember",
			Name:      "snapshot_fetch_errors_total",
			Help:      "Reconciliation passes abandoned because the node list could not be fetched.",
		},
	)

	RegistryOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gomember",
			Name:      "registry_operations_total",
			Help:      "Resource registry operations, by operation and result.",
		},
		[]string{"op", "result"},
	)

	ShutdownVotes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gomember",
			Name:      "shutdown_votes_total",
			Help:      "Replies to cluster shutdown requests, by decision.",
		},
		[]string{"vote"},
	)

	Members = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gomember",
			Name:      "cluster_members",
			Help:      "Cluster members in the current snapshot.",
		},
	)

	// ---- Process / build info ----
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gomember",
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version and git_sha).",
		},
		[]string{"version", "git_sha"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "gomember",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		DispatchedEvents,
		ReconcilePasses,
		SnapshotFetchErrors,
		RegistryOps,
		ShutdownVotes,
		Members,
		buildInfo,
		uptime,
	)
}

// MetricsHandler exposes /metrics. Mount it with mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup, e.g. with ldflags-provided values.
func SetBuildInfo(version, gitSHA string) {
	buildInfo.WithLabelValues(version, gitSHA).Set(1)
}

// Result returns the "result" label value for an operation outcome.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
