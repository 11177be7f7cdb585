package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsRegistry is the process-wide Prometheus registry, built once in
// InitializeMetrics and threaded through every component that needs to
// record a counter, histogram, or gauge. Grounded on the teacher's
// internal/interfaces/http/metrics.go MetricsRegistry.
type MetricsRegistry struct {
	Registry *prometheus.Registry

	// C1/C2
	ConnectionState   *prometheus.GaugeVec
	ReconnectAttempts *prometheus.CounterVec
	HeartbeatMisses   *prometheus.CounterVec

	// C3
	ParseErrors *prometheus.CounterVec
	FramesOK    *prometheus.CounterVec

	// C4
	QueueDepth       prometheus.Gauge
	ProcessLatency   prometheus.Histogram
	BackpressureHits prometheus.Counter
	ChannelDrops     *prometheus.CounterVec
	BreakerState     *prometheus.GaugeVec

	// C5
	PublishLatency prometheus.Histogram
	PublishErrors  *prometheus.CounterVec
	PublishRetries prometheus.Counter
	BatchSize      prometheus.Histogram
	Outstanding    prometheus.Gauge

	// C6
	ActiveConnections prometheus.Gauge
	SendQueueDrops    prometheus.Counter
	RateLimitHits     prometheus.Counter

	// C7
	CacheSize prometheus.Gauge
}

var (
	globalOnce sync.Once
	global     *MetricsRegistry
)

// InitializeMetrics builds and registers every collector exactly once;
// subsequent calls return the already-built registry.
func InitializeMetrics() *MetricsRegistry {
	globalOnce.Do(func() {
		reg := prometheus.NewRegistry()
		m := &MetricsRegistry{
			Registry: reg,
			ConnectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "mdcollector", Subsystem: "exchange", Name: "connection_state",
				Help: "Upstream connection state (0=disconnected,1=connecting,2=connected,3=reconnecting,4=error).",
			}, []string{"exchange"}),
			ReconnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mdcollector", Subsystem: "exchange", Name: "reconnect_attempts_total",
				Help: "Total reconnect attempts per exchange.",
			}, []string{"exchange"}),
			HeartbeatMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mdcollector", Subsystem: "exchange", Name: "heartbeat_misses_total",
				Help: "Total missed heartbeat intervals per exchange.",
			}, []string{"exchange"}),
			ParseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mdcollector", Subsystem: "adapter", Name: "parse_errors_total",
				Help: "Total frame parse errors by error class.",
			}, []string{"exchange", "class"}),
			FramesOK: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mdcollector", Subsystem: "adapter", Name: "frames_parsed_total",
				Help: "Total successfully parsed frames by data type.",
			}, []string{"exchange", "type"}),
			QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "mdcollector", Subsystem: "dataflow", Name: "queue_depth",
				Help: "Current ingress queue depth.",
			}),
			ProcessLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "mdcollector", Subsystem: "dataflow", Name: "process_latency_seconds",
				Help: "Latency from enqueue to channel submit.", Buckets: prometheus.DefBuckets,
			}),
			BackpressureHits: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "mdcollector", Subsystem: "dataflow", Name: "backpressure_rejections_total",
				Help: "Total process() calls rejected with BACKPRESSURE.",
			}),
			ChannelDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mdcollector", Subsystem: "dataflow", Name: "channel_drops_total",
				Help: "Total records dropped per channel (CHANNEL_UNAVAILABLE).",
			}, []string{"channel"}),
			BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "mdcollector", Subsystem: "dataflow", Name: "breaker_state",
				Help: "Per-channel circuit breaker state (0=closed,1=half-open,2=open).",
			}, []string{"channel"}),
			PublishLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "mdcollector", Subsystem: "publisher", Name: "publish_latency_seconds",
				Help: "End-to-end publish latency including retries.", Buckets: prometheus.DefBuckets,
			}),
			PublishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mdcollector", Subsystem: "publisher", Name: "publish_errors_total",
				Help: "Total publish failures by error class.",
			}, []string{"class"}),
			PublishRetries: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "mdcollector", Subsystem: "publisher", Name: "publish_retries_total",
				Help: "Total per-message retry attempts.",
			}),
			BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "mdcollector", Subsystem: "publisher", Name: "batch_size",
				Help: "Batch size at submit time.", Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
			}),
			Outstanding: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "mdcollector", Subsystem: "publisher", Name: "outstanding_messages",
				Help: "Current in-flight message count.",
			}),
			ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "mdcollector", Subsystem: "broadcast", Name: "active_connections",
				Help: "Current broadcast subscriber connection count.",
			}),
			SendQueueDrops: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "mdcollector", Subsystem: "broadcast", Name: "send_queue_drops_total",
				Help: "Total frames dropped from a full per-connection send queue.",
			}),
			RateLimitHits: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "mdcollector", Subsystem: "broadcast", Name: "rate_limit_hits_total",
				Help: "Total inbound control messages rejected for exceeding the per-connection rate limit.",
			}),
			CacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "mdcollector", Subsystem: "cache", Name: "entries",
				Help: "Current subscriber cache entry count.",
			}),
		}
		reg.MustRegister(
			m.ConnectionState, m.ReconnectAttempts, m.HeartbeatMisses,
			m.ParseErrors, m.FramesOK,
			m.QueueDepth, m.ProcessLatency, m.BackpressureHits, m.ChannelDrops, m.BreakerState,
			m.PublishLatency, m.PublishErrors, m.PublishRetries, m.BatchSize, m.Outstanding,
			m.ActiveConnections, m.SendQueueDrops, m.RateLimitHits,
			m.CacheSize,
		)
		global = m
	})
	return global
}
