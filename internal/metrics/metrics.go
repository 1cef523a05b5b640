package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the session core.
type Metrics struct {
	registry           *prometheus.Registry
	signalRequests     prometheus.Counter
	producersCreated   prometheus.Counter
	recordingsFinished prometheus.Counter
	recordingsRejected prometheus.Counter
	jobsDropped        prometheus.Counter
	liveRooms          prometheus.Gauge
	connectedChannels  prometheus.Gauge
}

// New creates and registers the metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	signalRequests := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "livecast_signal_requests_total",
		Help: "Total number of signaling requests received",
	})
	producersCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "livecast_producers_created_total",
		Help: "Total number of media producers created",
	})
	recordingsFinished := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "livecast_recordings_finished_total",
		Help: "Total number of recordings validated and handed to transcoding",
	})
	recordingsRejected := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "livecast_recordings_rejected_total",
		Help: "Total number of recordings discarded by validation",
	})
	jobsDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "livecast_transcode_jobs_dropped_total",
		Help: "Total number of transcode jobs dropped after a handler failure",
	})
	liveRooms := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "livecast_live_rooms",
		Help: "Number of rooms currently live",
	})
	connectedChannels := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "livecast_connected_channels",
		Help: "Number of websocket channels attached to any group",
	})

	registry.MustRegister(
		signalRequests,
		producersCreated,
		recordingsFinished,
		recordingsRejected,
		jobsDropped,
		liveRooms,
		connectedChannels,
	)

	return &Metrics{
		registry:           registry,
		signalRequests:     signalRequests,
		producersCreated:   producersCreated,
		recordingsFinished: recordingsFinished,
		recordingsRejected: recordingsRejected,
		jobsDropped:        jobsDropped,
		liveRooms:          liveRooms,
		connectedChannels:  connectedChannels,
	}
}

func (m *Metrics) IncSignalRequests()     { m.signalRequests.Inc() }
func (m *Metrics) IncProducersCreated()   { m.producersCreated.Inc() }
func (m *Metrics) IncRecordingsFinished() { m.recordingsFinished.Inc() }
func (m *Metrics) IncRecordingsRejected() { m.recordingsRejected.Inc() }
func (m *Metrics) IncJobsDropped()        { m.jobsDropped.Inc() }

func (m *Metrics) SetLiveRooms(n int)         { m.liveRooms.Set(float64(n)) }
func (m *Metrics) SetConnectedChannels(n int) { m.connectedChannels.Set(float64(n)) }

// Handler serves the registry; updateGauges refreshes gauge values before
// each scrape.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
