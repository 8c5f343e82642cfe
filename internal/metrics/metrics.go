// Package metrics exposes Prometheus collectors for the pairing engine and chat path.
// A nil *Metrics is valid and records nothing, so components can be built without it in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pairchat"

// Pairing outcomes
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Chat message results
const (
	ResultForwarded   = "forwarded"
	ResultRateLimited = "rate_limited"
	ResultRejected    = "rejected"
	ResultFailed      = "failed"
)

// Metrics owns a private registry so tests and multiple instances never collide
type Metrics struct {
	registry *prometheus.Registry

	waitingPoolSize   prometheus.Gauge
	pairings          *prometheus.CounterVec
	matchTimeouts     prometheus.Counter
	matchCancels      prometheus.Counter
	chatBlocks        prometheus.Counter
	chatMessages      *prometheus.CounterVec
	activeConnections prometheus.Gauge
	handshakesDenied  prometheus.Counter
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		waitingPoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "waiting_pool_size",
			Help:      "Number of connections currently waiting for a peer.",
		}),
		pairings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pairings_total",
			Help:      "Count of pairing attempts by outcome.",
		}, []string{"outcome"}),
		matchTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "match_timeouts_total",
			Help:      "Count of waits that expired without a peer.",
		}),
		matchCancels: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "match_cancels_total",
			Help:      "Count of waits cancelled by the client.",
		}),
		chatBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_blocks_total",
			Help:      "Count of senders blocked for flooding.",
		}),
		chatMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_messages_total",
			Help:      "Count of chat:send events by result.",
		}, []string{"result"}),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Number of open WebSocket connections.",
		}),
		handshakesDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_throttled_total",
			Help:      "Count of WebSocket handshakes refused by the per-IP throttle.",
		}),
	}

	m.registry.MustRegister(
		m.waitingPoolSize,
		m.pairings,
		m.matchTimeouts,
		m.matchCancels,
		m.chatBlocks,
		m.chatMessages,
		m.activeConnections,
		m.handshakesDenied,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// SetWaitingPoolSize records the current pool length
func (m *Metrics) SetWaitingPoolSize(n int) {
	if m == nil {
		return
	}
	m.waitingPoolSize.Set(float64(n))
}

// RecordPairing records a pairing attempt
func (m *Metrics) RecordPairing(outcome string) {
	if m == nil {
		return
	}
	m.pairings.WithLabelValues(outcome).Inc()
}

// RecordMatchTimeout records an expired wait
func (m *Metrics) RecordMatchTimeout() {
	if m == nil {
		return
	}
	m.matchTimeouts.Inc()
}

// RecordMatchCancel records a cancelled wait
func (m *Metrics) RecordMatchCancel() {
	if m == nil {
		return
	}
	m.matchCancels.Inc()
}

// RecordChatBlock records a block transition
func (m *Metrics) RecordChatBlock() {
	if m == nil {
		return
	}
	m.chatBlocks.Inc()
}

// RecordChatMessage records the result of a chat:send event
func (m *Metrics) RecordChatMessage(result string) {
	if m == nil {
		return
	}
	m.chatMessages.WithLabelValues(result).Inc()
}

// ConnectionOpened increments the active connection gauge
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.activeConnections.Inc()
}

// ConnectionClosed decrements the active connection gauge
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}

// RecordHandshakeThrottled records a refused handshake
func (m *Metrics) RecordHandshakeThrottled() {
	if m == nil {
		return
	}
	m.handshakesDenied.Inc()
}

// HandshakesThrottled returns the throttled handshake counter
func (m *Metrics) HandshakesThrottled() prometheus.Counter {
	return m.handshakesDenied
}

// ChatMessages returns the chat message counter for one result
func (m *Metrics) ChatMessages(result string) prometheus.Counter {
	return m.chatMessages.WithLabelValues(result)
}

// Pairings returns the pairing counter for one outcome
func (m *Metrics) Pairings(outcome string) prometheus.Counter {
	return m.pairings.WithLabelValues(outcome)
}
