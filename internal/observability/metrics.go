package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "intelmap"

// Metrics holds the Prometheus counters, histograms, and gauges for the ingestion pipeline.
type Metrics struct {
	EventsReceived     prometheus.Counter
	EventOutcomes      *prometheus.CounterVec // labels: state={committed,failed}, stage=last state reached
	EventDuration      prometheus.Histogram
	StepFailures       *prometheus.CounterVec // labels: step={media,persist_message,forward,persist_locations,notify}
	LocationsPersisted prometheus.Counter
	RateLimitPauses    prometheus.Counter
	PipelineRunning    prometheus.Gauge

	// Geocoding metrics.
	GeocodeAttempts      *prometheus.CounterVec // labels: outcome={match,empty,transient,error,invalid}
	GeocodeCache         *prometheus.CounterVec // labels: result={hit,miss}
	GeocodeAPIDuration   prometheus.Histogram
	ResolutionConfidence prometheus.Histogram
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.EventsReceived,
		m.EventOutcomes,
		m.EventDuration,
		m.StepFailures,
		m.LocationsPersisted,
		m.RateLimitPauses,
		m.PipelineRunning,
		m.GeocodeAttempts,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
		m.ResolutionConfidence,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		EventsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Total chat events accepted by the intake loop.",
		}),
		EventOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_outcomes_total",
			Help:      "Chat events by terminal state and last state reached.",
		}, []string{"state", "stage"}),
		EventDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_duration_seconds",
			Help:      "Time from receipt to terminal state for one event.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		StepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_failures_total",
			Help:      "Failures of individual pipeline steps.",
		}, []string{"step"}),
		LocationsPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "locations_persisted_total",
			Help:      "Total resolved location rows written.",
		}),
		RateLimitPauses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_pauses_total",
			Help:      "Times the chat platform mandated a pause.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
		GeocodeAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_attempts_total",
			Help:      "Geocoder calls by outcome.",
		}, []string{"outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocoding cache lookups by result.",
		}, []string{"result"}),
		GeocodeAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Geocoding API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		ResolutionConfidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolution_confidence",
			Help:      "Confidence of persisted resolved locations.",
			Buckets:   []float64{0.5, 0.7, 0.9},
		}),
	}
}
