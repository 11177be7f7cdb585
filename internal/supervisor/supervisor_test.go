package supervisor

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/mdcollector/internal/config"
)

func testConfig() *config.Config {
	cfg := &config.Config{
		Service: config.ServiceConfig{Host: "0.0.0.0", Port: 8080, Environment: "test"},
		Adapters: map[string]config.AdapterConfig{
			"binance": {
				Enabled:    true,
				Endpoints:  config.EndpointsConfig{WS: "wss://stream.binance.com:9443"},
				Connection: config.ConnectionConfig{Timeout: time.Second, MaxRetries: 0, RetryInterval: time.Millisecond, HeartbeatInterval: time.Minute},
				Subscription: config.SubscriptionConfig{Symbols: []string{"BTCUSDT"}, DataTypes: []string{"trade"}},
			},
		},
		Dataflow: config.DataflowConfig{
			Batching:    config.BatchingConfig{Enabled: true, BatchSize: 10, FlushTimeout: 50 * time.Millisecond},
			Performance: config.PerformanceConfig{MaxQueueSize: 64, BackpressureThreshold: 0.8},
			ErrorHandling: config.ErrorHandlingConfig{RetryDelay: 10 * time.Millisecond, CircuitBreakerThreshold: 3},
			Workers:     2,
		},
		Publisher: config.PublisherConfig{
			NATSUrl:     "nats://127.0.0.1:4222",
			TopicPrefix: "md",
			Format:      "json",
			Batching: config.PublisherBatchingConfig{
				MaxMessages: 10, MaxBytes: 1 << 20, MaxMilliseconds: 50 * time.Millisecond,
				MaxOutstandingMessages: 1000, MaxOutstandingBytes: 1 << 20,
			},
			Retry: config.RetryConfig{
				RetryCodes: []string{"BATCH_FAILED_TRANSIENT"}, MaxRetries: 3,
				InitialRetryDelay: time.Millisecond, RetryDelayMultiplier: 2, MaxRetryDelay: 10 * time.Millisecond,
				TotalTimeout: time.Second,
			},
			FlowControl: config.FlowControlConfig{MaxOutstandingMessages: 1000, MaxOutstandingBytes: 1 << 20, AllowExcessMessages: true},
		},
		Broadcast: config.BroadcastConfig{
			MaxConnections: 10, IdleTimeout: time.Hour, CleanupInterval: time.Hour,
			RateLimit: config.RateLimitConfig{MaxMessagesPerMinute: 120}, SendQueueSize: 16,
		},
		Cache: config.CacheConfig{MaxSize: 100, TTL: time.Minute},
	}
	return cfg
}

func TestInitialize_BuildsWithoutIO(t *testing.T) {
	sup, err := Initialize(testConfig(), zerolog.Nop(), nil)
	require.NoError(t, err)
	require.NotNil(t, sup)
	assert.Len(t, sup.upstreams, 1)
}

func TestHealth_UnhealthyBeforeStart(t *testing.T) {
	sup, err := Initialize(testConfig(), zerolog.Nop(), nil)
	require.NoError(t, err)

	report := sup.Health()
	assert.False(t, report.Healthy)
	assert.Equal(t, "DISCONNECTED", report.UpstreamStates["binance"])
	assert.False(t, report.Live)
}
