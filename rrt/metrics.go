package rrt

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeOK     = "ok"
	outcomeFailed = "failed"
)

// Metrics collects supervisor activity. It implements prometheus.Collector;
// register it once and share it between supervisors, which are told apart by
// the "supervisor" label. A nil *Metrics records nothing.
type Metrics struct {
	generations *prometheus.CounterVec
	restarts    *prometheus.CounterVec
	shutdowns   *prometheus.CounterVec
	running     *prometheus.GaugeVec
	subscribers *prometheus.GaugeVec
}

// NewMetrics creates the collector with the given metric namespace
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_started_total",
			Help:      "Worker generations spawned by the slow subscribe path.",
		}, []string{"supervisor"}),
		restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restarts_total",
			Help:      "Worker recreation attempts after a Restart verdict.",
		}, []string{"supervisor", "outcome"}),
		shutdowns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shutdowns_total",
			Help:      "Shutdown notifications sent to subscribers.",
		}, []string{"supervisor", "reason"}),
		running: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running",
			Help:      "1 while a generation goroutine is polling.",
		}, []string{"supervisor"}),
		subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Live subscriber receivers.",
		}, []string{"supervisor"}),
	}
}

// Describe implements prometheus.Collector
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.generations.Describe(ch)
	m.restarts.Describe(ch)
	m.shutdowns.Describe(ch)
	m.running.Describe(ch)
	m.subscribers.Describe(ch)
}

// Collect implements prometheus.Collector
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.generations.Collect(ch)
	m.restarts.Collect(ch)
	m.shutdowns.Collect(ch)
	m.running.Collect(ch)
	m.subscribers.Collect(ch)
}

func (m *Metrics) generationStarted(name string) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(name).Inc()
	m.running.WithLabelValues(name).Set(1)
}

func (m *Metrics) generationEnded(name string) {
	if m == nil {
		return
	}
	m.running.WithLabelValues(name).Set(0)
}

func (m *Metrics) restartAttempt(name string, ok bool) {
	if m == nil {
		return
	}
	outcome := outcomeOK
	if !ok {
		outcome = outcomeFailed
	}
	m.restarts.WithLabelValues(name, outcome).Inc()
}

func (m *Metrics) shutdown(name string, kind ShutdownKind) {
	if m == nil {
		return
	}
	m.shutdowns.WithLabelValues(name, kind.String()).Inc()
}

func (m *Metrics) setSubscribers(name string, n int) {
	if m == nil {
		return
	}
	m.subscribers.WithLabelValues(name).Set(float64(n))
}
