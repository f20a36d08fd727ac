package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the process counters. A nil *Registry is valid and records nothing.
type Registry struct {
	registry          *prometheus.Registry
	paymentsTotal     *prometheus.CounterVec
	submissionsTotal  *prometheus.CounterVec
	pollAttemptsTotal *prometheus.CounterVec
	pipelinesTotal    *prometheus.CounterVec
	busyRejections    prometheus.Counter
	pipelineBusy      prometheus.Gauge
}

func New() *Registry {
	payments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "demoreel_payments_total",
		Help: "Payment attempts by final state",
	}, []string{"outcome"})

	submissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "demoreel_job_submissions_total",
		Help: "Job submissions by request variant and result",
	}, []string{"variant", "result"})

	polls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "demoreel_poll_attempts_total",
		Help: "Job status queries by result",
	}, []string{"result"})

	pipelines := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "demoreel_pipelines_total",
		Help: "Completed pipeline runs by result kind",
	}, []string{"result"})

	busy := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "demoreel_busy_rejections_total",
		Help: "Submissions ignored because a pipeline was already running",
	})

	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "demoreel_pipeline_busy",
		Help: "1 while a pipeline is running",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(payments, submissions, polls, pipelines, busy, inFlight)

	return &Registry{
		registry:          r,
		paymentsTotal:     payments,
		submissionsTotal:  submissions,
		pollAttemptsTotal: polls,
		pipelinesTotal:    pipelines,
		busyRejections:    busy,
		pipelineBusy:      inFlight,
	}
}

func (m *Registry) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Registry) IncPayment(outcome string) {
	if m == nil {
		return
	}
	m.paymentsTotal.WithLabelValues(outcome).Inc()
}

func (m *Registry) IncSubmission(variant, result string) {
	if m == nil {
		return
	}
	m.submissionsTotal.WithLabelValues(variant, result).Inc()
}

func (m *Registry) IncPoll(result string) {
	if m == nil {
		return
	}
	m.pollAttemptsTotal.WithLabelValues(result).Inc()
}

func (m *Registry) IncPipeline(result string) {
	if m == nil {
		return
	}
	m.pipelinesTotal.WithLabelValues(result).Inc()
}

func (m *Registry) IncBusyRejection() {
	if m == nil {
		return
	}
	m.busyRejections.Inc()
}

func (m *Registry) SetBusy(busy bool) {
	if m == nil {
		return
	}
	if busy {
		m.pipelineBusy.Set(1)
		return
	}
	m.pipelineBusy.Set(0)
}
