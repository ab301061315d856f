package sandbox

import "github.com/prometheus/client_golang/prometheus"

// RunBuckets spans sub-second hello-world runs up to long timeouts.
var RunBuckets = []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60}

// Metric label values.
const (
	outcomeOK        = "ok"
	outcomeTimeout   = "timeout"
	outcomeError     = "error"
	modeNamedImage   = "image"
	modeScript       = "script"
	cleanupContainer = "container"
	cleanupWorkspace = "workspace"
	cleanupImage     = "image"
)

var (
	// RunsTotal counts finished runs by mode and outcome.
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codebot_runs_total",
			Help: "Sandbox runs",
		},
		[]string{"mode", "outcome"},
	)

	// RunDuration records container run time in seconds by mode.
	RunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codebot_run_duration_seconds",
			Help:    "Sandbox run duration",
			Buckets: RunBuckets,
		},
		[]string{"mode"},
	)

	// RunsInFlight tracks runs currently holding an admission slot.
	RunsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "codebot_runs_in_flight",
			Help: "Active sandbox runs",
		},
	)

	// ImageBuildsTotal counts image builds by outcome.
	ImageBuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codebot_image_builds_total",
			Help: "Image builds",
		},
		[]string{"outcome"},
	)

	// CleanupFailuresTotal counts failed teardown steps by resource kind.
	// A non-zero value means containers, workspaces or images may have leaked.
	CleanupFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codebot_cleanup_failures_total",
			Help: "Cleanup failures",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		RunsTotal,
		RunDuration,
		RunsInFlight,
		ImageBuildsTotal,
		CleanupFailuresTotal,
	)
}
