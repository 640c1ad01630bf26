// Package telemetry counts sent and received messages per bot account.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is fire-and-forget; implementations never block or fail.
type Recorder interface {
	RecordSent(accountID, kind string)
	RecordReceived(accountID, kind string)
	// RecordEvent counts other account activity, for example group_increase.
	RecordEvent(accountID, name string)
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordSent(string, string)     {}
func (Nop) RecordReceived(string, string) {}
func (Nop) RecordEvent(string, string)    {}

// Prometheus exports the counters on its own registry.
type Prometheus struct {
	registry *prometheus.Registry
	sent     *prometheus.CounterVec
	received *prometheus.CounterVec
	events   *prometheus.CounterVec
}

func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qqbot",
			Name:      "messages_sent_total",
			Help:      "Packets delivered to the platform.",
		}, []string{"account", "kind"}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qqbot",
			Name:      "messages_received_total",
			Help:      "Inbound messages normalized.",
		}, []string{"account", "kind"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qqbot",
			Name:      "events_total",
			Help:      "Other account events such as group joins.",
		}, []string{"account", "event"}),
	}
	p.registry.MustRegister(
		p.sent,
		p.received,
		p.events,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return p
}

func (p *Prometheus) RecordSent(accountID, kind string) {
	p.sent.WithLabelValues(accountID, kind).Inc()
}

func (p *Prometheus) RecordReceived(accountID, kind string) {
	p.received.WithLabelValues(accountID, kind).Inc()
}

func (p *Prometheus) RecordEvent(accountID, name string) {
	p.events.WithLabelValues(accountID, name).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
