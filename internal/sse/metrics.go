package sse

import "github.com/prometheus/client_golang/prometheus"

var (
	sseStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "omnidesk_sse_streams",
			Help: "Current number of open event streams.",
		},
	)
	sseEventsDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "omnidesk_sse_events_delivered_total",
			Help: "Total events written to stream clients.",
		},
	)
	sseStreamsEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "omnidesk_sse_streams_evicted_total",
			Help: "Streams closed because the client could not keep up.",
		},
	)
)

func init() {
	prometheus.MustRegister(sseStreams, sseEventsDelivered, sseStreamsEvicted)
}

func incStreams() {
	sseStreams.Inc()
}

func decStreams() {
	sseStreams.Dec()
}

func addDelivered(count int) {
	sseEventsDelivered.Add(float64(count))
}

func incEvicted() {
	sseStreamsEvicted.Inc()
}
