package bus

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric label values for publish outcomes.
const (
	publishResultSent         = "sent"
	publishResultFailed       = "failed"
	publishResultNotConnected = "not_connected"
	publishResultEncodeFailed = "encode_failed"
)

// Metrics holds the Prometheus collectors for a Bus.
//
// A nil *Metrics is valid and records nothing, so the bus can run without a
// registry (tests, embedded use).
type Metrics struct {
	connectionState    prometheus.Gauge
	connectAttempts    prometheus.Counter
	connectFailures    prometheus.Counter
	messagesReceived   prometheus.Counter
	decodeFailures     prometheus.Counter
	handlersDispatched prometheus.Counter
	handlerFailures    prometheus.Counter
	handlersInflight   prometheus.Gauge
	publishes          *prometheus.CounterVec
	subscriptions      prometheus.Gauge
}

// NewMetrics creates the bus collectors and registers them with reg.
//
// Parameters:
//   - reg: registerer to add collectors to (prometheus.DefaultRegisterer or a private registry)
//
// Returns:
//   - *Metrics: collectors ready for SetMetrics
//   - error: if any collector is already registered
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	const namespace = "graylogic_bus"

	m := &Metrics{
		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Connection state (0=disconnected, 1=connecting, 2=connected, 3=listening)",
		}),
		connectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Total transport connection attempts",
		}),
		connectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_failures_total",
			Help:      "Total failed transport connection attempts",
		}),
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total inbound messages pulled from the transport",
		}),
		decodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Total inbound messages dropped because the payload was not valid JSON",
		}),
		handlersDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handlers_dispatched_total",
			Help:      "Total handler invocations scheduled",
		}),
		handlerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_failures_total",
			Help:      "Total handler invocations that returned an error or panicked",
		}),
		handlersInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "handlers_inflight",
			Help:      "Handler invocations currently running",
		}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "Total publish calls by result",
		}, []string{"result"}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscriptions",
			Help:      "Registered topic patterns",
		}),
	}

	collectors := []prometheus.Collector{
		m.connectionState, m.connectAttempts, m.connectFailures,
		m.messagesReceived, m.decodeFailures, m.handlersDispatched,
		m.handlerFailures, m.handlersInflight, m.publishes, m.subscriptions,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering bus metrics: %w", err)
		}
	}

	return m, nil
}

func (m *Metrics) setState(s State) {
	if m == nil {
		return
	}
	m.connectionState.Set(float64(s))
}

func (m *Metrics) connectAttempt() {
	if m == nil {
		return
	}
	m.connectAttempts.Inc()
}

func (m *Metrics) connectFailed() {
	if m == nil {
		return
	}
	m.connectFailures.Inc()
}

func (m *Metrics) messageReceived() {
	if m == nil {
		return
	}
	m.messagesReceived.Inc()
}

func (m *Metrics) decodeFailed() {
	if m == nil {
		return
	}
	m.decodeFailures.Inc()
}

func (m *Metrics) handlerStarted() {
	if m == nil {
		return
	}
	m.handlersDispatched.Inc()
	m.handlersInflight.Inc()
}

func (m *Metrics) handlerFinished() {
	if m == nil {
		return
	}
	m.handlersInflight.Dec()
}

func (m *Metrics) handlerFailed() {
	if m == nil {
		return
	}
	m.handlerFailures.Inc()
}

func (m *Metrics) published(result string) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(result).Inc()
}

func (m *Metrics) setSubscriptions(n int) {
	if m == nil {
		return
	}
	m.subscriptions.Set(float64(n))
}
