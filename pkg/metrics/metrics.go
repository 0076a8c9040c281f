package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Reachability probe metrics
	ProbeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chess_probe_total",
			Help: "Total number of reachability probes by result",
		},
		[]string{"result"},
	)

	ProbeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chess_probe_duration_seconds",
			Help:    "Time taken to probe a single host in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Image extraction metrics
	ImageExtractTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chess_image_extract_total",
			Help: "Total number of image extraction attempts by result",
		},
		[]string{"result"},
	)

	ImageExtractDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chess_image_extract_duration_seconds",
			Help:    "Time taken to pull and extract an image in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	// Upload metrics
	UploadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chess_upload_total",
			Help: "Total number of SFTP uploads by result",
		},
		[]string{"result"},
	)

	UploadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chess_upload_duration_seconds",
			Help:    "Time taken to upload an image cache folder to a host in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Remote execution metrics
	RemoteExecTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chess_remote_exec_total",
			Help: "Total number of remote command executions by result",
		},
		[]string{"result"},
	)

	RemoteExecDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chess_remote_exec_duration_seconds",
			Help:    "Time taken to run a command batch on one host in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)

	// Bootstrap stage metrics
	BootstrapStageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chess_bootstrap_stage_total",
			Help: "Total number of bootstrap stage runs by stage and result",
		},
		[]string{"stage", "result"},
	)

	BootstrapStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chess_bootstrap_stage_duration_seconds",
			Help:    "Time taken per bootstrap stage in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"stage"},
	)

	// Agent loop metrics
	AgentReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chess_agent_reconnects_total",
			Help: "Total number of agent reconnect attempts to the control endpoint",
		},
	)

	AgentFunctionCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chess_agent_function_calls_total",
			Help: "Total number of dispatched function calls by function name and result",
		},
		[]string{"function", "result"},
	)
)

func init() {
	prometheus.MustRegister(ProbeTotal)
	prometheus.MustRegister(ProbeDuration)
	prometheus.MustRegister(ImageExtractTotal)
	prometheus.MustRegister(ImageExtractDuration)
	prometheus.MustRegister(UploadTotal)
	prometheus.MustRegister(UploadDuration)
	prometheus.MustRegister(RemoteExecTotal)
	prometheus.MustRegister(RemoteExecDuration)
	prometheus.MustRegister(BootstrapStageTotal)
	prometheus.MustRegister(BootstrapStageDuration)
	prometheus.MustRegister(AgentReconnectsTotal)
	prometheus.MustRegister(AgentFunctionCallsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartServer starts the metrics HTTP endpoint on the given address.
func StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux)
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
