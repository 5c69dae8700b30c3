package metrics

import "github.com/prometheus/client_golang/prometheus"

// Model-call Prometheus metrics, covering embedding and chat requests.
var (
	ModelRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finqa",
			Name:      "model_requests_total",
			Help:      "Total number of model backend requests",
		},
		[]string{"provider", "model", "op", "status"},
	)

	ModelRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "finqa",
			Name:      "model_request_duration_seconds",
			Help:      "Model backend request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider", "model", "op"},
	)

	ModelTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finqa",
			Name:      "model_tokens_total",
			Help:      "Total tokens consumed by model requests",
		},
		[]string{"provider", "model", "type"},
	)

	ModelRepairsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "finqa",
			Name:      "model_json_repairs_total",
			Help:      "Chat responses that needed JSON brace repair",
		},
	)

	EmbeddingCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finqa",
			Name:      "embedding_cache_total",
			Help:      "Embedding cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)
)

var modelMetricsRegistered bool

// RegisterModelMetrics registers model metrics. Must be called once from main.
func RegisterModelMetrics() {
	if modelMetricsRegistered {
		return
	}
	prometheus.MustRegister(ModelRequestsTotal)
	prometheus.MustRegister(ModelRequestDuration)
	prometheus.MustRegister(ModelTokensTotal)
	prometheus.MustRegister(ModelRepairsTotal)
	prometheus.MustRegister(EmbeddingCacheTotal)
	modelMetricsRegistered = true
}
