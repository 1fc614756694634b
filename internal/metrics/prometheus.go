// Package metrics exposes server counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter

	StreamsActive    prometheus.Gauge
	StreamsPublished prometheus.Counter
	StreamDuration   prometheus.Histogram
	Subscribers      prometheus.Gauge

	MediaForwarded    prometheus.Counter
	MediaDropped      prometheus.Counter
	SubscribersKicked prometheus.Counter

	OffAirNotifications *prometheus.CounterVec
}

// New creates and registers all metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ConnectionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "lemonair_rtmp_connections_active",
			Help: "Number of open RTMP connections",
		}),
		ConnectionsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "lemonair_rtmp_connections_total",
			Help: "Total number of accepted RTMP connections",
		}),
		StreamsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "lemonair_streams_active",
			Help: "Number of live streams",
		}),
		StreamsPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "lemonair_streams_published_total",
			Help: "Total number of successful publishes",
		}),
		StreamDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "lemonair_stream_duration_seconds",
			Help:    "How long streams stayed live",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10), // 1s to ~3 days
		}),
		Subscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "lemonair_subscribers",
			Help: "Number of playing connections across all streams",
		}),
		MediaForwarded: f.NewCounter(prometheus.CounterOpts{
			Name: "lemonair_media_forwarded_total",
			Help: "Media messages queued to subscribers",
		}),
		MediaDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "lemonair_media_dropped_total",
			Help: "Media messages not queued because a subscriber queue was full",
		}),
		SubscribersKicked: f.NewCounter(prometheus.CounterOpts{
			Name: "lemonair_subscribers_kicked_total",
			Help: "Subscribers disconnected for being too slow",
		}),
		OffAirNotifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lemonair_offair_notifications_total",
			Help: "Off-air notifications by target and result",
		}, []string{"target", "result"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Inc()
	m.ConnectionsTotal.Inc()
}

func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Dec()
}

func (m *Metrics) StreamStarted() {
	if m == nil {
		return
	}
	m.StreamsActive.Inc()
	m.StreamsPublished.Inc()
}

// StreamEnded records a stream leaving the registry after being live for d.
func (m *Metrics) StreamEnded(d time.Duration) {
	if m == nil {
		return
	}
	m.StreamsActive.Dec()
	m.StreamDuration.Observe(d.Seconds())
}

func (m *Metrics) SubscriberAdded() {
	if m == nil {
		return
	}
	m.Subscribers.Inc()
}

func (m *Metrics) SubscriberRemoved() {
	m.SubscribersRemoved(1)
}

// SubscribersRemoved is used when a closing stream drops all its subscribers.
func (m *Metrics) SubscribersRemoved(n int) {
	if m == nil {
		return
	}
	m.Subscribers.Sub(float64(n))
}

// MediaFanout records one AddMedia result.
func (m *Metrics) MediaFanout(sent, dropped int) {
	if m == nil {
		return
	}
	m.MediaForwarded.Add(float64(sent))
	m.MediaDropped.Add(float64(dropped))
}

func (m *Metrics) SubscriberKicked() {
	if m == nil {
		return
	}
	m.SubscribersKicked.Inc()
}

func (m *Metrics) OffAirNotified(target string, ok bool) {
	if m == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	m.OffAirNotifications.WithLabelValues(target, result).Inc()
}
