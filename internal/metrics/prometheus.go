package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Relay outcomes, one per datagram taken off the channel.
const (
	OutcomePersisted    = "persisted"
	OutcomeDecodeError  = "decode_error"
	OutcomeMissingField = "missing_field"
	OutcomeTruncated    = "truncated"
	OutcomeStoreError   = "store_error"
	OutcomePanic        = "panic"
)

var (
	Submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingress_submissions_total",
			Help: "Form submissions received on POST /message by result",
		},
		[]string{"result"},
	)

	DatagramsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datagrams_sent_total",
			Help: "Payloads handed to the datagram channel",
		},
		[]string{"transport", "result"},
	)

	RelayMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_total",
			Help: "Datagrams drained by the relay consumer by outcome",
		},
		[]string{"outcome"},
	)

	InsertDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_insert_duration_seconds",
			Help:    "Latency of document store inserts",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"driver"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Current RabbitMQ queue depth for the amqp transport",
		},
		[]string{"queue"},
	)
)

// Init registers metrics with Prometheus
func Init() {
	prometheus.MustRegister(Submissions)
	prometheus.MustRegister(DatagramsSent)
	prometheus.MustRegister(RelayMessages)
	prometheus.MustRegister(InsertDuration)
	prometheus.MustRegister(QueueDepth)
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
