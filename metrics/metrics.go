package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sweep metrics
	SweepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mmair_sweeps_total",
			Help: "Total number of monitoring sweeps",
		},
		[]string{"status"}, // status: completed, failed, skipped_overlap
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mmair_sweep_duration_seconds",
			Help:    "Wall time of a monitoring sweep",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	SweepRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mmair_sweep_running",
			Help: "1 while a sweep is in progress",
		},
	)

	SchedulerActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mmair_scheduler_active",
			Help: "1 while the periodic scheduler is running",
		},
	)

	LastSweepTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mmair_last_sweep_timestamp_seconds",
			Help: "Unix time the last sweep finished",
		},
	)

	// Outcome metrics
	AlertsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mmair_alerts_sent_total",
			Help: "Total number of dust alerts delivered",
		},
	)

	EntriesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mmair_entries_skipped_total",
			Help: "Total number of users or devices skipped",
		},
		[]string{"reason"},
	)

	SweepErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mmair_sweep_errors_total",
			Help: "Total number of per-entity errors isolated by the sweep",
		},
		[]string{"stage"},
	)

	Evaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mmair_evaluations_total",
			Help: "Threshold evaluations by decision",
		},
		[]string{"decision"}, // decision: alert, no_alert, no_data
	)

	// Upstream metrics
	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mmair_upstream_request_duration_seconds",
			Help:    "Backend API latency in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation", "status"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mmair_notifications_total",
			Help: "Notification gateway sends by outcome",
		},
		[]string{"channel", "status"}, // status: success, failed
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mmair_events_published_total",
			Help: "Alert events published to downstream brokers",
		},
		[]string{"sink", "status"},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mmair_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
