package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publisherEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "powledger",
		Subsystem: "publisher",
		Name:      "events_total",
		Help:      "Count of ledger events published to the message bus.",
	}, []string{"type", "status"})
	publisherEventDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "powledger",
		Subsystem: "publisher",
		Name:      "event_duration_seconds",
		Help:      "Duration of publishing a ledger event.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"type", "status"})
)

// Publisher tracks metrics for the event publisher.
type Publisher struct{}

// NewPublisher creates a Publisher metrics collector.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// Observe records the outcome of publishing one event.
func (m Publisher) Observe(eventType string, err error, started time.Time) {
	status := statusOf(err)
	publisherEventsTotal.WithLabelValues(eventType, status).Inc()
	publisherEventDuration.WithLabelValues(eventType, status).Observe(time.Since(started).Seconds())
}
