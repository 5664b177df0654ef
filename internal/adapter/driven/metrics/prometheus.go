package metrics

import (
	"net/http"

	"github.com/developer-khadim/Business-nexus/internal/core/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nexus_relay"

// Relay implements port.RelayMetrics on its own registry.
type Relay struct {
	registry *prometheus.Registry

	sockets  prometheus.Gauge
	members  prometheus.Gauge
	routed   *prometheus.CounterVec
	rejected *prometheus.CounterVec
}

func NewRelay() *Relay {
	m := &Relay{
		registry: prometheus.NewRegistry(),
		sockets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sockets",
			Help:      "Signaling sockets connected to this instance.",
		}),
		members: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "room_members",
			Help:      "Room memberships held by sockets on this instance.",
		}),
		routed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_routed_total",
			Help:      "Signaling messages routed, by event.",
		}, []string{"event"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_rejected_total",
			Help:      "Signaling messages rejected, by reason.",
		}, []string{"reason"}),
	}
	m.registry.MustRegister(
		m.sockets,
		m.members,
		m.routed,
		m.rejected,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Relay) SocketOpened()                    { m.sockets.Inc() }
func (m *Relay) SocketClosed()                    { m.sockets.Dec() }
func (m *Relay) RoomJoined()                      { m.members.Inc() }
func (m *Relay) RoomLeft()                        { m.members.Dec() }
func (m *Relay) MessageRouted(event domain.Event) { m.routed.WithLabelValues(string(event)).Inc() }
func (m *Relay) MessageRejected(reason string)    { m.rejected.WithLabelValues(reason).Inc() }

func (m *Relay) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Relay) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
