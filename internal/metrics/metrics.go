package metrics

import (
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ArtifactSyncs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "model_serve",
		Name:      "artifact_syncs_total",
		Help:      "Artifact sync decisions by artifact and outcome (downloaded, skipped, failed).",
	}, []string{"artifact", "outcome"})
	SyncDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "model_serve",
		Name:      "artifact_sync_seconds",
		Help:      "Wall-clock time spent materializing an artifact.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"artifact"})
	ObjectsDownloaded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "model_serve",
		Name:      "objects_downloaded_total",
		Help:      "Objects fetched from the object store during folder sync.",
	})
	BytesDownloaded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "model_serve",
		Name:      "bytes_downloaded_total",
		Help:      "Bytes fetched from the object store.",
	})
	StoreErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "model_serve",
		Name:      "store_errors_total",
		Help:      "Failed object store operations by operation.",
	}, []string{"op"})
	Predictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "model_serve",
		Name:      "predictions_total",
		Help:      "Inputs classified, by model.",
	}, []string{"model"})
	PredictionSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "model_serve",
		Name:      "prediction_seconds",
		Help:      "Latency of one batched inference call.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"model"})
)

// Init registers collectors; call once from main.
func Init() {
	prometheus.MustRegister(ArtifactSyncs, SyncDuration, ObjectsDownloaded, BytesDownloaded,
		StoreErrors, Predictions, PredictionSeconds)
}

// Handler exposes the default registry.
func Handler() http.Handler { return promhttp.Handler() }

// Serve starts a /metrics server on the given addr (e.g., ":9090"). Blocks; run in a goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux)
}

// AddrFromEnv returns listen address from METRICS_ADDR or default ":9090".
func AddrFromEnv() string {
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		return v
	}
	return ":9090"
}
