package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Collector owns a private registry with the tracker's gauges and counters.
// It satisfies the metrics interfaces of hub, tracking, relay and publisher.
type Collector struct {
	reg *prometheus.Registry

	Sessions prometheus.Gauge
	Rooms    prometheus.Gauge

	BroadcastDelivered prometheus.Counter
	BroadcastDropped   prometheus.Counter

	SamplesIngested prometheus.Counter
	SamplesDropped  *prometheus.CounterVec // reason label
	TripTransitions *prometheus.CounterVec // status label
	PersistDuration prometheus.Histogram

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	QueueDepth     prometheus.Gauge
	SamplesSent    prometheus.Counter
	SamplesQueued  prometheus.Counter
	TransportState prometheus.Gauge
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_sessions",
			Help: "Number of connected sessions.",
		}),
		Rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_rooms",
			Help: "Number of route rooms with at least one session.",
		}),
		BroadcastDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_broadcast_delivered_total",
			Help: "Events handed to session send buffers.",
		}),
		BroadcastDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_broadcast_dropped_total",
			Help: "Events dropped because a session buffer was full.",
		}),
		SamplesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_samples_ingested_total",
			Help: "Location samples persisted and broadcast.",
		}),
		SamplesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_samples_dropped_total",
			Help: "Location samples dropped, by reason.",
		}, []string{"reason"}),
		TripTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_trip_transitions_total",
			Help: "Trip start/stop commands applied, by resulting status.",
		}, []string{"status"}),
		PersistDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_persist_duration_seconds",
			Help:    "Duration of route state upserts.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_published_total",
			Help: "Events mirrored to NATS.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_publish_errors_total",
			Help: "NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_nats_connected",
			Help: "1 if the NATS connection is established, 0 otherwise.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "publisher_queue_depth",
			Help: "Samples waiting in the offline queue.",
		}),
		SamplesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "publisher_samples_sent_total",
			Help: "Samples sent to the server, live or replayed.",
		}),
		SamplesQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "publisher_samples_queued_total",
			Help: "Samples queued while disconnected.",
		}),
		TransportState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "publisher_connected",
			Help: "1 if the publisher transport is connected, 0 otherwise.",
		}),
	}

	reg.MustRegister(
		c.Sessions, c.Rooms,
		c.BroadcastDelivered, c.BroadcastDropped,
		c.SamplesIngested, c.SamplesDropped, c.TripTransitions, c.PersistDuration,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.QueueDepth, c.SamplesSent, c.SamplesQueued, c.TransportState,
	)
	return c
}

// hub.Metrics

func (c *Collector) SessionsSet(n int) { c.Sessions.Set(float64(n)) }
func (c *Collector) RoomsSet(n int)    { c.Rooms.Set(float64(n)) }
func (c *Collector) BroadcastObserve(delivered, dropped int) {
	c.BroadcastDelivered.Add(float64(delivered))
	c.BroadcastDropped.Add(float64(dropped))
}

// tracking.Metrics

func (c *Collector) SampleIngested()                { c.SamplesIngested.Inc() }
func (c *Collector) SampleDropped(reason string)    { c.SamplesDropped.WithLabelValues(reason).Inc() }
func (c *Collector) PersistObserve(d time.Duration) { c.PersistDuration.Observe(d.Seconds()) }
func (c *Collector) TripTransition(status string)   { c.TripTransitions.WithLabelValues(status).Inc() }

// relay.Metrics

func (c *Collector) NATSPublishedInc()  { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc() { c.NATSPublishErrs.Inc() }
func (c *Collector) NATSSetConnected(connected bool) {
	c.NATSConnected.Set(boolToFloat(connected))
}

// publisher.Metrics

func (c *Collector) QueueDepthSet(n int) { c.QueueDepth.Set(float64(n)) }
func (c *Collector) SampleSent()         { c.SamplesSent.Inc() }
func (c *Collector) SampleQueued()       { c.SamplesQueued.Inc() }
func (c *Collector) ConnectedSet(connected bool) {
	c.TransportState.Set(boolToFloat(connected))
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Server returns an HTTP server exposing /metrics on addr. The caller runs and shuts it down.
func (c *Collector) Server(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	logrus.WithField("addr", addr).Info("Metrics endpoint configured.")
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
