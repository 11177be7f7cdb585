// Package config defines the typed configuration object consumed at
// Supervisor.Initialize, grouped exactly as spec §6 lists them, decoded
// from YAML and validated in one pass before any I/O runs.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServiceConfig is the top-level service group.
type ServiceConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Environment string `yaml:"environment"`
}

// ConnectionConfig groups one adapter's upstream connection knobs.
type ConnectionConfig struct {
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"maxRetries"`
	RetryInterval     time.Duration `yaml:"retryInterval"`
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
}

// SubscriptionConfig lists the symbols/data-types an adapter subscribes to
// at startup.
type SubscriptionConfig struct {
	Symbols   []string `yaml:"symbols"`
	DataTypes []string `yaml:"dataTypes"`
}

// AdapterConfig is one exchange adapter's full configuration.
type AdapterConfig struct {
	Enabled   bool              `yaml:"enabled"`
	Endpoints EndpointsConfig   `yaml:"endpoints"`
	Connection ConnectionConfig `yaml:"connection"`
	Subscription SubscriptionConfig `yaml:"subscription"`
	Extensions map[string]string `yaml:"extensions"`
}

// EndpointsConfig holds an adapter's WS/REST base URLs.
type EndpointsConfig struct {
	WS   string `yaml:"ws"`
	REST string `yaml:"rest"`
}

// BatchingConfig (dataflow) controls C4's per-channel batch buffer.
type BatchingConfig struct {
	Enabled      bool          `yaml:"enabled"`
	BatchSize    int           `yaml:"batchSize"`
	FlushTimeout time.Duration `yaml:"flushTimeout"`
}

// PerformanceConfig (dataflow) controls queue sizing and backpressure.
type PerformanceConfig struct {
	MaxQueueSize           int           `yaml:"maxQueueSize"`
	ProcessingTimeout      time.Duration `yaml:"processingTimeout"`
	EnableBackpressure     bool          `yaml:"enableBackpressure"`
	BackpressureThreshold  float64       `yaml:"backpressureThreshold"` // fraction of MaxQueueSize, e.g. 0.8
}

// ErrorHandlingConfig (dataflow) controls the per-channel circuit breaker.
type ErrorHandlingConfig struct {
	RetryCount              int           `yaml:"retryCount"`
	RetryDelay              time.Duration `yaml:"retryDelay"`
	EnableCircuitBreaker    bool          `yaml:"enableCircuitBreaker"`
	CircuitBreakerThreshold int           `yaml:"circuitBreakerThreshold"`
}

// DataflowConfig groups C4's configuration.
type DataflowConfig struct {
	Batching      BatchingConfig      `yaml:"batching"`
	Performance   PerformanceConfig   `yaml:"performance"`
	ErrorHandling ErrorHandlingConfig `yaml:"errorHandling"`
	Workers       int                 `yaml:"workers"`
}

// PublisherBatchingConfig controls C5's batch-flush triggers and
// flow-control limits.
type PublisherBatchingConfig struct {
	MaxMessages             int           `yaml:"maxMessages"`
	MaxBytes                int           `yaml:"maxBytes"`
	MaxMilliseconds         time.Duration `yaml:"maxMilliseconds"`
	MaxOutstandingMessages  int           `yaml:"maxOutstandingMessages"`
	MaxOutstandingBytes     int           `yaml:"maxOutstandingBytes"`
}

// RetryConfig (publisher) controls per-message retry.
type RetryConfig struct {
	RetryCodes            []string      `yaml:"retryCodes"`
	MaxRetries            int           `yaml:"maxRetries"`
	InitialRetryDelay     time.Duration `yaml:"initialRetryDelay"`
	RetryDelayMultiplier  float64       `yaml:"retryDelayMultiplier"`
	MaxRetryDelay         time.Duration `yaml:"maxRetryDelay"`
	TotalTimeout          time.Duration `yaml:"totalTimeout"`
}

// FlowControlConfig (publisher) duplicates the outstanding limits at the
// publisher level (distinct from the batching-trigger copy) per spec §6,
// plus the allowExcessMessages escape hatch.
type FlowControlConfig struct {
	MaxOutstandingMessages int  `yaml:"maxOutstandingMessages"`
	MaxOutstandingBytes    int  `yaml:"maxOutstandingBytes"`
	AllowExcessMessages    bool `yaml:"allowExcessMessages"`
}

// CompressionConfig (publisher) controls payload compression.
type CompressionConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Threshold int    `yaml:"threshold"`
	Algorithm string `yaml:"algorithm"` // "gzip" | "zstd" | "none"
}

// TopicSettingsConfig (publisher) controls topic lifecycle.
type TopicSettingsConfig struct {
	AutoCreate      bool `yaml:"autoCreate"`
	RetentionSeconds int `yaml:"retentionSeconds"`
}

// PublisherConfig groups C5's configuration.
type PublisherConfig struct {
	Batching      PublisherBatchingConfig `yaml:"batching"`
	Retry         RetryConfig             `yaml:"retry"`
	FlowControl   FlowControlConfig       `yaml:"flowControl"`
	Compression   CompressionConfig       `yaml:"compression"`
	TopicSettings TopicSettingsConfig     `yaml:"topicSettings"`
	NATSUrl       string                  `yaml:"natsUrl"`
	TopicPrefix   string                  `yaml:"topicPrefix"`
	Format        string                  `yaml:"format"` // "json" | "msgpack"
}

// RateLimitConfig (broadcast) controls inbound control-message throttling.
type RateLimitConfig struct {
	MaxMessagesPerMinute int `yaml:"maxMessagesPerMinute"`
}

// BroadcastConfig groups C6's configuration.
type BroadcastConfig struct {
	MaxConnections  int             `yaml:"maxConnections"`
	IdleTimeout     time.Duration   `yaml:"idleTimeout"`
	CleanupInterval time.Duration   `yaml:"cleanupInterval"`
	RateLimit       RateLimitConfig `yaml:"rateLimit"`
	SendQueueSize   int             `yaml:"sendQueueSize"`
}

// CacheConfig groups C7's configuration.
type CacheConfig struct {
	MaxSize          int           `yaml:"maxSize"`
	TTL              time.Duration `yaml:"ttl"`
	MaxRecordsPerKey int           `yaml:"maxRecordsPerKey"` // N in "most recent N records", per spec §4.7
}

// Config is the single validated configuration object consumed at
// Supervisor.Initialize.
type Config struct {
	Service   ServiceConfig            `yaml:"service"`
	Adapters  map[string]AdapterConfig `yaml:"adapters"`
	Dataflow  DataflowConfig           `yaml:"dataflow"`
	Publisher PublisherConfig          `yaml:"publisher"`
	Broadcast BroadcastConfig          `yaml:"broadcast"`
	Cache     CacheConfig              `yaml:"cache"`
}

// Load reads and YAML-decodes a Config from path, then validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Dataflow.Performance.MaxQueueSize == 0 {
		cfg.Dataflow.Performance.MaxQueueSize = 1024
	}
	if cfg.Dataflow.Performance.BackpressureThreshold == 0 {
		cfg.Dataflow.Performance.BackpressureThreshold = 0.8
	}
	if cfg.Dataflow.Batching.BatchSize == 0 {
		cfg.Dataflow.Batching.BatchSize = 50
	}
	if cfg.Dataflow.Batching.FlushTimeout == 0 {
		cfg.Dataflow.Batching.FlushTimeout = 250 * time.Millisecond
	}
	if cfg.Dataflow.Workers == 0 {
		cfg.Dataflow.Workers = 4
	}
	if cfg.Dataflow.ErrorHandling.CircuitBreakerThreshold == 0 {
		cfg.Dataflow.ErrorHandling.CircuitBreakerThreshold = 3
	}
	if cfg.Publisher.Batching.MaxMessages == 0 {
		cfg.Publisher.Batching.MaxMessages = 100
	}
	if cfg.Publisher.Batching.MaxBytes == 0 {
		cfg.Publisher.Batching.MaxBytes = 1 << 20
	}
	if cfg.Publisher.Batching.MaxMilliseconds == 0 {
		cfg.Publisher.Batching.MaxMilliseconds = 100 * time.Millisecond
	}
	if cfg.Publisher.Batching.MaxOutstandingMessages == 0 {
		cfg.Publisher.Batching.MaxOutstandingMessages = 1000
	}
	if cfg.Publisher.Batching.MaxOutstandingBytes == 0 {
		cfg.Publisher.Batching.MaxOutstandingBytes = 10 << 20
	}
	if cfg.Publisher.Retry.MaxRetries == 0 {
		cfg.Publisher.Retry.MaxRetries = 5
	}
	if cfg.Publisher.Retry.InitialRetryDelay == 0 {
		cfg.Publisher.Retry.InitialRetryDelay = 100 * time.Millisecond
	}
	if cfg.Publisher.Retry.RetryDelayMultiplier == 0 {
		cfg.Publisher.Retry.RetryDelayMultiplier = 2.0
	}
	if cfg.Publisher.Retry.MaxRetryDelay == 0 {
		cfg.Publisher.Retry.MaxRetryDelay = 10 * time.Second
	}
	if cfg.Publisher.Retry.TotalTimeout == 0 {
		cfg.Publisher.Retry.TotalTimeout = 30 * time.Second
	}
	if len(cfg.Publisher.Retry.RetryCodes) == 0 {
		cfg.Publisher.Retry.RetryCodes = []string{"BATCH_FAILED_TRANSIENT"}
	}
	if cfg.Publisher.Compression.Threshold == 0 {
		cfg.Publisher.Compression.Threshold = 1024
	}
	if cfg.Publisher.Compression.Algorithm == "" {
		cfg.Publisher.Compression.Algorithm = "gzip"
	}
	if cfg.Publisher.Format == "" {
		cfg.Publisher.Format = "json"
	}
	if cfg.Publisher.TopicPrefix == "" {
		cfg.Publisher.TopicPrefix = "mdcollector"
	}
	if cfg.Broadcast.MaxConnections == 0 {
		cfg.Broadcast.MaxConnections = 1000
	}
	if cfg.Broadcast.IdleTimeout == 0 {
		cfg.Broadcast.IdleTimeout = 5 * time.Minute
	}
	if cfg.Broadcast.CleanupInterval == 0 {
		cfg.Broadcast.CleanupInterval = 30 * time.Second
	}
	if cfg.Broadcast.RateLimit.MaxMessagesPerMinute == 0 {
		cfg.Broadcast.RateLimit.MaxMessagesPerMinute = 120
	}
	if cfg.Broadcast.SendQueueSize == 0 {
		cfg.Broadcast.SendQueueSize = 256
	}
	if cfg.Cache.MaxSize == 0 {
		cfg.Cache.MaxSize = 1000
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 5 * time.Minute
	}
	if cfg.Cache.MaxRecordsPerKey == 0 {
		cfg.Cache.MaxRecordsPerKey = 20
	}
	for name, a := range cfg.Adapters {
		if a.Connection.Timeout == 0 {
			a.Connection.Timeout = 10 * time.Second
		}
		if a.Connection.MaxRetries == 0 {
			a.Connection.MaxRetries = 10
		}
		if a.Connection.RetryInterval == 0 {
			a.Connection.RetryInterval = time.Second
		}
		if a.Connection.HeartbeatInterval == 0 {
			a.Connection.HeartbeatInterval = 30 * time.Second
		}
		cfg.Adapters[name] = a
	}
}
