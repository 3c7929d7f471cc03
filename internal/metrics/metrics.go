// Package metrics exposes Prometheus collectors for the queue broker:
// enqueue/acquire/ack/nack/reclaim counters and a topic-depth gauge.
// Collectors are created against a private registry so embedding
// applications control what gets exposed on their own /metrics
// endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors bundles the broker's Prometheus instruments.
type Collectors struct {
	registry *prometheus.Registry

	MessagesEnqueued  prometheus.Counter
	MessagesAcquired  prometheus.Counter
	MessagesAcked     prometheus.Counter
	MessagesNacked    prometheus.Counter
	MessagesReclaimed prometheus.Counter

	TopicDepth        *prometheus.GaugeVec
	TopicLocksHeld    prometheus.Gauge
	RateLimitAccepted prometheus.Counter
	RateLimitRejected prometheus.Counter
}

// New creates and registers a Collectors under namespace.
func New(namespace string) *Collectors {
	registry := prometheus.NewRegistry()

	c := &Collectors{
		registry: registry,
		MessagesEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_enqueued_total",
			Help: "Total number of messages successfully inserted by BatchPut.",
		}),
		MessagesAcquired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_acquired_total",
			Help: "Total number of messages claimed by BatchGet.",
		}),
		MessagesAcked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_acked_total",
			Help: "Total number of messages acknowledged.",
		}),
		MessagesNacked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_nacked_total",
			Help: "Total number of messages released via nack.",
		}),
		MessagesReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_reclaimed_total",
			Help: "Total number of messages reclaimed by ReleaseStalledMessages.",
		}),
		TopicDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "topic_depth",
			Help: "Deliverable message count, by topic, as of the last ListTopics sample.",
		}, []string{"topic"}),
		TopicLocksHeld: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "topic_locks_held",
			Help: "Number of topic locks currently outstanding.",
		}),
		RateLimitAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rate_limit_accepted_total",
			Help: "Total number of rate-limit keys accepted (no live entry existed).",
		}),
		RateLimitRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rate_limit_rejected_total",
			Help: "Total number of rate-limit keys rejected (a live entry already existed).",
		}),
	}

	registry.MustRegister(
		c.MessagesEnqueued,
		c.MessagesAcquired,
		c.MessagesAcked,
		c.MessagesNacked,
		c.MessagesReclaimed,
		c.TopicDepth,
		c.TopicLocksHeld,
		c.RateLimitAccepted,
		c.RateLimitRejected,
	)
	return c
}

// Registry returns the private registry these collectors are registered
// against, for an embedding application to expose via promhttp.
func (c *Collectors) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveTopics updates the topic-depth gauge from a ListTopics sample.
func (c *Collectors) ObserveTopics(topics map[string]int64) {
	c.TopicDepth.Reset()
	for topic, count := range topics {
		c.TopicDepth.WithLabelValues(topic).Set(float64(count))
	}
}
