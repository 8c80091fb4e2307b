package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements repository.Metrics using Prometheus. Create one per process.
type Recorder struct {
	requests        *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	connectedAgents prometheus.Gauge
	lateResponses   prometheus.Counter
	chainContracts  *prometheus.HistogramVec
	partialChains   *prometheus.CounterVec
	brokerUp        prometheus.Gauge
	brokerErrors    *prometheus.CounterVec
	messagesSent    *prometheus.CounterVec
}

func New(namespace string) *Recorder {
	return &Recorder{
		requests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Requests handled, by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Errors by kind",
			},
			[]string{"kind"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of operations in seconds",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"op"},
		),
		connectedAgents: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_agents",
			Help:      "Agents currently registered",
		}),
		lateResponses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "late_responses_total",
			Help:      "Agent responses that arrived after their request was abandoned",
		}),
		chainContracts: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "chain_contracts",
				Help:      "Contracts returned per chain fetch",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
			[]string{"ticker"},
		),
		partialChains: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "partial_chains_total",
				Help:      "Chain fetches flagged partial",
			},
			[]string{"ticker"},
		),
		brokerUp: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broker_connected",
			Help:      "1 while a broker session is live",
		}),
		brokerErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "broker_errors_total",
				Help:      "Broker error callbacks by code",
			},
			[]string{"code"},
		),
		messagesSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_sent_total",
				Help:      "Messages sent to a backend",
			},
			[]string{"backend", "topic"},
		),
	}
}

func (r *Recorder) RecordRequest(op, outcome string) {
	r.requests.WithLabelValues(op, outcome).Inc()
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) SetConnectedAgents(n int) {
	r.connectedAgents.Set(float64(n))
}

func (r *Recorder) RecordLateResponse() {
	r.lateResponses.Inc()
}

func (r *Recorder) RecordChainContracts(ticker string, n int, partial bool) {
	r.chainContracts.WithLabelValues(ticker).Observe(float64(n))
	if partial {
		r.partialChains.WithLabelValues(ticker).Inc()
	}
}

func (r *Recorder) SetBrokerConnected(up bool) {
	if up {
		r.brokerUp.Set(1)
		return
	}
	r.brokerUp.Set(0)
}

func (r *Recorder) RecordBrokerError(code int) {
	r.brokerErrors.WithLabelValues(strconv.Itoa(code)).Inc()
}

func (r *Recorder) RecordMessageSent(backend, topic string) {
	r.messagesSent.WithLabelValues(backend, topic).Inc()
}

// Noop discards everything.
type Noop struct{}

func (Noop) RecordRequest(string, string)           {}
func (Noop) RecordError(string)                     {}
func (Noop) RecordLatency(string, float64)          {}
func (Noop) SetConnectedAgents(int)                 {}
func (Noop) RecordLateResponse()                    {}
func (Noop) RecordChainContracts(string, int, bool) {}
func (Noop) SetBrokerConnected(bool)                {}
func (Noop) RecordBrokerError(int)                  {}
func (Noop) RecordMessageSent(string, string)       {}
