package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "storygate_requests_total", Help: "Gateway operations by capability and outcome"},
		[]string{"capability", "status"},
	)
	LatencyMS = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "storygate_latency_ms", Help: "Operation latency in ms", Buckets: prometheus.ExponentialBuckets(100, 2, 14)},
		[]string{"capability"},
	)
	TTFTMS = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "storygate_ttft_ms", Help: "Time to first streamed token in ms", Buckets: prometheus.LinearBuckets(50, 50, 20)},
		[]string{"capability"},
	)
	UpstreamAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "storygate_upstream_attempts_total", Help: "Upstream HTTP attempts by capability and outcome"},
		[]string{"capability", "outcome"},
	)
	Rotations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "storygate_credential_rotations_total", Help: "Credential rotations after an exhausted retry budget"},
		[]string{"capability"},
	)
	DegradedParses = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "storygate_degraded_parses_total", Help: "Structured outputs that fell back to the degraded shape"},
		[]string{"capability"},
	)
	JobPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "storygate_job_polls_total", Help: "Async job status polls by observed status"},
		[]string{"status"},
	)
)

func Register() {
	prometheus.MustRegister(RequestsTotal, LatencyMS, TTFTMS, UpstreamAttempts, Rotations, DegradedParses, JobPolls)
}
