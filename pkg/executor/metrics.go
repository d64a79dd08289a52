package executor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts executor activity. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	submissions *prometheus.CounterVec
	polls       prometheus.Counter
	outcomes    *prometheus.CounterVec
	batchChars  prometheus.Histogram
}

// Outcome labels.
const (
	OutcomeDone    = "done"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
	OutcomeFailed  = "transport"
)

// NewMetrics creates executor metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cdoctl",
			Subsystem: "executor",
			Name:      "submissions_total",
			Help:      "Command batches submitted for remote execution.",
		}, []string{"device"}),
		polls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cdoctl",
			Subsystem: "executor",
			Name:      "status_polls_total",
			Help:      "Status checks issued while waiting for transactions.",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cdoctl",
			Subsystem: "executor",
			Name:      "transactions_total",
			Help:      "Finished transactions by outcome.",
		}, []string{"outcome"}),
		batchChars: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cdoctl",
			Subsystem: "executor",
			Name:      "batch_chars",
			Help:      "Serialized size of submitted batches.",
			Buckets:   []float64{50, 100, 200, 300, 400, 500, 600},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.submissions, m.polls, m.outcomes, m.batchChars)
	}
	return m
}

func (m *Metrics) submitted(device string, size int) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(device).Inc()
	m.batchChars.Observe(float64(size))
}

func (m *Metrics) polled() {
	if m == nil {
		return
	}
	m.polls.Inc()
}

func (m *Metrics) finished(outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome).Inc()
}
