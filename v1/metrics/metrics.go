package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// TurnGrantCounter tracks turns handed to a new holder.
	TurnGrantCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "imagetext_turn_grants_total",
		Help: "Total number of turns granted",
	})
	// TurnRenewCounter tracks lease renewals by the current holder.
	TurnRenewCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "imagetext_turn_renewals_total",
		Help: "Total number of lease renewals",
	})
	// TurnDenyCounter tracks polls that did not obtain the turn.
	TurnDenyCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "imagetext_turn_denials_total",
		Help: "Total number of turn requests that had to wait",
	})
	// TurnReleaseCounter tracks voluntary turn releases.
	TurnReleaseCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "imagetext_turn_releases_total",
		Help: "Total number of turns released by their holder",
	})
	// EvictionCounter tracks forced session ends by reason.
	EvictionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "imagetext_evictions_total",
		Help: "Total number of participants evicted",
	}, []string{"reason"})
	// QueueGauge reports the number of waiting participants.
	QueueGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "imagetext_queue_length",
		Help: "Current number of participants waiting for the turn",
	})
	// StageDuration observes extraction and generation latency.
	StageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "imagetext_stage_duration_seconds",
		Help:    "Duration of extraction and generation stages",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage", "outcome"})
	// SessionGauge reports the participant sessions held by the application.
	SessionGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "imagetext_sessions",
		Help: "Current number of participant sessions",
	})
	// WatcherGauge reports open turn event streams.
	WatcherGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "imagetext_event_watchers",
		Help: "Current number of clients watching turn changes",
	})
	// StoreErrorCounter tracks lease and queue storage failures.
	StoreErrorCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "imagetext_store_errors_total",
		Help: "Total number of turn storage failures",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterTurnMetrics registers the turn coordinator metrics on the provided registry.
func RegisterTurnMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		TurnGrantCounter,
		TurnRenewCounter,
		TurnDenyCounter,
		TurnReleaseCounter,
		EvictionCounter,
		QueueGauge,
		StoreErrorCounter,
	)
}

// RegisterPipelineMetrics registers the extraction, generation and session
// metrics.
func RegisterPipelineMetrics(reg prometheus.Registerer) {
	reg.MustRegister(StageDuration, SessionGauge, WatcherGauge)
}
