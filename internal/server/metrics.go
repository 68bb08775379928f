package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of one Server. Each Server owns its
// registry so several servers can coexist in one process.
type Metrics struct {
	Registry *prometheus.Registry

	activeSessions   prometheus.Gauge
	sessionsAccepted prometheus.Counter
	sessionsRejected prometheus.Counter
	sessionsClosed   *prometheus.CounterVec // by reason

	commands       *prometheus.CounterVec // by command type
	errorResponses *prometheus.CounterVec // by error code
	decodeFailures prometheus.Counter

	broadcastFanout  prometheus.Histogram
	dispatchDuration prometheus.Histogram
}

// NewMetrics registers the server collectors on a fresh registry. queueDepth
// and channels are sampled at scrape time.
func NewMetrics(queueDepth, channels func() float64) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		Registry: reg,
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relaychat_active_sessions",
			Help: "Current number of connected sessions",
		}),
		sessionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "relaychat_sessions_accepted_total",
			Help: "Total number of sessions accepted",
		}),
		sessionsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "relaychat_sessions_rejected_total",
			Help: "Total number of connections rejected because the server was full",
		}),
		sessionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relaychat_sessions_closed_total",
			Help: "Total number of sessions closed by reason",
		}, []string{"reason"}),
		commands: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relaychat_commands_total",
			Help: "Total number of commands dispatched by type",
		}, []string{"command"}),
		errorResponses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relaychat_error_responses_total",
			Help: "Total number of ERROR responses by error code",
		}, []string{"code"}),
		decodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "relaychat_decode_failures_total",
			Help: "Total number of lines rejected by the codec",
		}),
		broadcastFanout: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "relaychat_broadcast_fanout",
			Help:    "Number of sessions that received each event",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		dispatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "relaychat_dispatch_duration_seconds",
			Help:    "Time spent dispatching one command, writes included",
			Buckets: prometheus.DefBuckets,
		}),
	}

	if queueDepth != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "relaychat_worker_queue_depth",
			Help: "Sessions waiting for a worker",
		}, queueDepth)
	}
	if channels != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "relaychat_channels",
			Help: "Current number of channels",
		}, channels)
	}
	return m
}

func (m *Metrics) sessionOpened() {
	m.sessionsAccepted.Inc()
	m.activeSessions.Inc()
}

func (m *Metrics) sessionClosed(reason string) {
	m.activeSessions.Dec()
	m.sessionsClosed.WithLabelValues(reason).Inc()
}

func (m *Metrics) recordError(code string) {
	if code == "" {
		code = "INTERNAL"
	}
	m.errorResponses.WithLabelValues(code).Inc()
}
