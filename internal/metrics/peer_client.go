package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	peerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "powledger",
		Subsystem: "peer_client",
		Name:      "requests_total",
		Help:      "Count of requests sent to peers.",
	}, []string{"operation", "status"})
	peerRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "powledger",
		Subsystem: "peer_client",
		Name:      "request_duration_seconds",
		Help:      "Duration of requests sent to peers, retries included.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "status"})
)

// PeerClient tracks metrics for outgoing peer requests.
type PeerClient struct{}

// NewPeerClient creates a PeerClient metrics collector.
func NewPeerClient() *PeerClient {
	return &PeerClient{}
}

// Observe records duration and status of a peer request.
func (m PeerClient) Observe(operation string, err error, started time.Time) {
	status := statusOf(err)
	peerRequestsTotal.WithLabelValues(operation, status).Inc()
	peerRequestDuration.WithLabelValues(operation, status).Observe(time.Since(started).Seconds())
}
