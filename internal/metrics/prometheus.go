package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// predictDuration tracks materialization latency by template kind
	predictDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "livepredict_predict_duration_seconds",
		Help:    "Template materialization duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.000001, 4, 10), // 1µs to ~260ms
	}, []string{"kind"})

	// verificationsTotal counts verification outcomes
	verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livepredict_verifications_total",
		Help: "Total verified changes by result",
	}, []string{"result"})

	// extractionsTotal counts learned templates by rule
	extractionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livepredict_extractions_total",
		Help: "Total learned templates by extraction rule",
	}, []string{"rule"})

	// extractionFailuresTotal counts rejected observations by error kind
	extractionFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livepredict_extraction_failures_total",
		Help: "Total observations no rule generalized, by reason",
	}, []string{"reason"})

	// messagesTotal counts websocket client messages by type
	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livepredict_messages_total",
		Help: "Total client messages by type",
	}, []string{"type"})

	evictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livepredict_template_evictions_total",
		Help: "Total templates evicted from the store",
	})

	activeSubjects = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livepredict_active_subjects",
		Help: "Subjects currently open",
	})

	templateBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livepredict_template_bytes",
		Help: "Bytes held by stored templates",
	})
)

// Handler serves the Prometheus exposition of the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
