package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is nil-safe; a nil *Metrics records nothing.
type Metrics struct {
	connections prometheus.Gauge
	rooms       prometheus.Gauge
	joins       prometheus.Counter
	delivered   *prometheus.CounterVec
	dropped     prometheus.Counter
	duplicates  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "comments_ws_connections",
			Help: "Open WebSocket connections",
		}),
		rooms: f.NewGauge(prometheus.GaugeOpts{
			Name: "comments_ws_rooms",
			Help: "Video rooms with at least one member",
		}),
		joins: f.NewCounter(prometheus.CounterOpts{
			Name: "comments_ws_room_joins_total",
			Help: "Room joins accepted",
		}),
		delivered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "comments_ws_frames_delivered_total",
			Help: "Frames queued to room members, by event",
		}, []string{"event"}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "comments_ws_slow_consumers_total",
			Help: "Connections closed because their send buffer was full",
		}),
		duplicates: f.NewCounter(prometheus.CounterOpts{
			Name: "comments_events_duplicate_total",
			Help: "Room events dropped as already delivered",
		}),
	}
}

func (m *Metrics) connOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) connClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) roomCount(n int) {
	if m != nil {
		m.rooms.Set(float64(n))
	}
}

func (m *Metrics) joined() {
	if m != nil {
		m.joins.Inc()
	}
}

func (m *Metrics) deliveredN(event string, n int) {
	if m != nil && n > 0 {
		m.delivered.WithLabelValues(event).Add(float64(n))
	}
}

func (m *Metrics) slowConsumer() {
	if m != nil {
		m.dropped.Inc()
	}
}

func (m *Metrics) duplicate() {
	if m != nil {
		m.duplicates.Inc()
	}
}
