package obs

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	ProbeTotal     *prometheus.CounterVec   // outcome=secured|full|not_found|auth_expired|transient
	RoundsTotal    prometheus.Counter
	RefreshTotal   *prometheus.CounterVec   // result=ok|fail|reused
	RequestLatency *prometheus.HistogramVec // endpoint=list|claim|verify
	SkippedTotal   *prometheus.CounterVec   // reason=duplicate|time_slot|already_secured
	Secured        prometheus.Gauge

	reg *prometheus.Registry
}

// NewMetrics registers on a private registry so several instances can
// coexist (tests, multiple runs in one process).
func NewMetrics() *Metrics {
	m := &Metrics{
		ProbeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coursegrab_probe_total",
				Help: "Course probes by outcome",
			},
			[]string{"outcome"},
		),
		RoundsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coursegrab_rounds_total",
			Help: "Scheduling rounds started",
		}),
		RefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coursegrab_token_refresh_total",
				Help: "Credential refresh attempts by result",
			},
			[]string{"result"},
		),
		RequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coursegrab_request_latency_ms",
				Help:    "Latency of portal requests (ms)",
				Buckets: prometheus.ExponentialBuckets(5, 2, 12), // 5ms .. ~10s
			},
			[]string{"endpoint"},
		),
		SkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coursegrab_skipped_total",
				Help: "Candidates skipped before probing, by reason",
			},
			[]string{"reason"},
		),
		Secured: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coursegrab_secured_courses",
			Help: "Courses held in the selection record",
		}),
		reg: prometheus.NewRegistry(),
	}

	m.reg.MustRegister(
		m.ProbeTotal,
		m.RoundsTotal,
		m.RefreshTotal,
		m.RequestLatency,
		m.SkippedTotal,
		m.Secured,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// The helpers below are nil-safe so callers can run without metrics.

func (m *Metrics) Probe(outcome string) {
	if m == nil {
		return
	}
	m.ProbeTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Round() {
	if m == nil {
		return
	}
	m.RoundsTotal.Inc()
}

func (m *Metrics) Refresh(result string) {
	if m == nil {
		return
	}
	m.RefreshTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) Skipped(reason string) {
	if m == nil {
		return
	}
	m.SkippedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetSecured(n int) {
	if m == nil {
		return
	}
	m.Secured.Set(float64(n))
}

func (m *Metrics) ObserveRequest(endpoint string, start time.Time) {
	if m == nil {
		return
	}
	m.RequestLatency.WithLabelValues(endpoint).Observe(float64(time.Since(start).Milliseconds()))
}
