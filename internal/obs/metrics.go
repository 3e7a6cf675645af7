// Package obs wires Prometheus metrics for the monitor/queue/RPC
// operational surface. The teacher's go.mod already carried
// prometheus/client_golang as an indirect dependency; this package
// promotes it to a direct, exercised one.
package obs

import "github.com/prometheus/client_golang/prometheus"

var (
	// MonitorCursor reports the last committed block per monitor.
	MonitorCursor = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chainindexer_monitor_cursor",
		Help: "Last committed block number per monitor.",
	}, []string{"monitor"})

	// MonitorLagBlocks reports head-minus-cursor per monitor.
	MonitorLagBlocks = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chainindexer_monitor_lag_blocks",
		Help: "Blocks between chain head and monitor cursor.",
	}, []string{"monitor"})

	// RPCErrorsTotal counts classified RPC errors by kind.
	RPCErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chainindexer_rpc_errors_total",
		Help: "Classified chain RPC errors.",
	}, []string{"kind"})

	// BatchCommitSeconds tracks Store.CommitRange latency.
	BatchCommitSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chainindexer_batch_commit_seconds",
		Help:    "Latency of a single Store.CommitRange transaction.",
		Buckets: prometheus.DefBuckets,
	}, []string{"monitor"})

	// QueueDepth reports the depth of a monitor's derived-work queue.
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chainindexer_queue_depth",
		Help: "In-flight derived work items per monitor.",
	}, []string{"monitor"})

	// AlertsCriticalTotal counts CRITICAL-severity alerts emitted.
	AlertsCriticalTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chainindexer_alerts_critical_total",
		Help: "Total CRITICAL severity alerts routed.",
	})

	// ChainSubscriptionDegradedTotal counts streaming-to-polling degradations.
	ChainSubscriptionDegradedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chainindexer_chain_subscription_degraded_total",
		Help: "Times a streaming head subscription exhausted reconnect attempts and fell back to polling.",
	})

	// KVPublishDroppedTotal counts messages dropped to a full subscriber buffer.
	KVPublishDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chainindexer_kv_publish_dropped_total",
		Help: "Pub/sub messages dropped because a subscriber's buffer was full.",
	}, []string{"channel"})
)

// Register adds all collectors to reg. Call once at process start.
func Register(reg *prometheus.Registry) {
	reg.MustRegister(
		MonitorCursor,
		MonitorLagBlocks,
		RPCErrorsTotal,
		BatchCommitSeconds,
		QueueDepth,
		AlertsCriticalTotal,
		ChainSubscriptionDegradedTotal,
		KVPublishDroppedTotal,
	)
}
