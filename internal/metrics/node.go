package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	nodeOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "powledger",
		Subsystem: "node",
		Name:      "operations_total",
		Help:      "Count of node operations by outcome.",
	}, []string{"operation", "status"})

	nodeOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "powledger",
		Subsystem: "node",
		Name:      "operation_duration_seconds",
		Help:      "Duration of node operations.",
		Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 15, 30, 60, 120},
	}, []string{"operation", "status"})

	nodeChainHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "powledger",
		Subsystem: "node",
		Name:      "chain_height",
		Help:      "Index of the last block of the local chain.",
	})

	nodePendingTransactions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "powledger",
		Subsystem: "node",
		Name:      "pending_transactions",
		Help:      "Number of transactions waiting to be mined.",
	})
)

// Node tracks metrics for the ledger node.
type Node struct{}

// NewNode creates a Node metrics collector.
func NewNode() *Node {
	return &Node{}
}

// ObserveOperation records the outcome and duration of a node operation.
func (m Node) ObserveOperation(operation string, err error, started time.Time) {
	status := statusOf(err)
	nodeOperationsTotal.WithLabelValues(operation, status).Inc()
	nodeOperationDuration.WithLabelValues(operation, status).Observe(time.Since(started).Seconds())
}

// SetChain publishes the current chain height and pending pool size.
func (m Node) SetChain(height uint64, pending int) {
	nodeChainHeight.Set(float64(height))
	nodePendingTransactions.Set(float64(pending))
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
