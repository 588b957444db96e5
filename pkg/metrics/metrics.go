// Package metrics defines the Prometheus metrics of a checker run and an
// optional HTTP endpoint to scrape them while the run is in progress.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Probe metrics
var (
	ProbeAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apppw_probe_attempts_total",
			Help: "Total number of probe attempts by protocol, transport variant and result",
		},
		[]string{"protocol", "variant", "result"},
	)

	ProbeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "apppw_probe_duration_seconds",
			Help:    "Duration of probe attempts in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
		},
		[]string{"protocol", "variant"},
	)
)

// Credential metrics
var (
	CredentialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apppw_credentials_total",
			Help: "Total number of input rows by outcome (ok, partial, failed, skipped)",
		},
		[]string{"outcome"},
	)

	CredentialsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "apppw_credentials_in_flight",
			Help: "Number of credentials currently being verified",
		},
	)

	CredentialsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "apppw_credentials_pending",
			Help: "Number of credentials not yet verified in the current run",
		},
	)

	VerifyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "apppw_verify_duration_seconds",
			Help:    "Wall time to verify one credential against both endpoints",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
		},
	)

	CooldownSeconds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apppw_cooldown_seconds_total",
			Help: "Total time spent in post-success cooldown",
		},
	)
)

// Sink metrics
var (
	HistoryWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apppw_history_writes_total",
			Help: "Total number of run history writes",
		},
		[]string{"result"},
	)

	ArchiveUploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apppw_archive_uploads_total",
			Help: "Total number of report uploads to object storage",
		},
		[]string{"result"},
	)

	ArchiveUploadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "apppw_archive_upload_duration_seconds",
			Help:    "Duration of report uploads in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
	)
)
