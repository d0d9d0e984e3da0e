package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	MessagesConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amqp_messages_consumed_total",
			Help: "Number of deliveries received from the broker",
		},
		[]string{"queue"},
	)
	MessagesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amqp_messages_processed_total",
			Help: "Number of messages processed and acknowledged",
		},
		[]string{"queue"},
	)
	MessagesFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amqp_messages_failed_total",
			Help: "Number of messages whose handler returned an error",
		},
		[]string{"queue"},
	)
	AckActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amqp_acks_total",
			Help: "Acknowledgment actions sent to the broker",
		},
		[]string{"queue", "action"}, // ack|reject_requeue|reject|nack_requeue
	)
	ProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "amqp_processing_duration_seconds",
			Help:    "Handler execution time per message",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue"},
	)
	MemoryUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_memory_bytes",
			Help: "Heap memory in use, sampled after each processed message",
		},
	)
)

var registered bool

// MustRegister регистрирует коллекторы; повторный вызов безопасен.
func MustRegister() {
	if registered {
		return
	}
	prometheus.MustRegister(MessagesConsumed, MessagesProcessed, MessagesFailed, AckActions, ProcessingDuration, MemoryUsage)
	registered = true
}
