package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
service:
  host: "0.0.0.0"
  port: 8080
  environment: "test"
adapters:
  binance:
    enabled: true
    endpoints:
      ws: "wss://stream.binance.com:9443"
    subscription:
      symbols: ["BTCUSDT"]
      dataTypes: ["trade"]
dataflow:
  performance:
    maxQueueSize: 1024
publisher:
  topicPrefix: "md"
broadcast:
  maxConnections: 10
cache:
  maxSize: 100
`

func TestLoad_AppliesDefaultsAndValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Service.Port)
	require.Equal(t, 50, cfg.Dataflow.Batching.BatchSize)
	require.Equal(t, "json", cfg.Publisher.Format)
	require.Equal(t, "gzip", cfg.Publisher.Compression.Algorithm)
	require.True(t, cfg.Adapters["binance"].Enabled)
}

func TestValidate_RejectsNoEnabledAdapters(t *testing.T) {
	cfg := &Config{
		Service:  ServiceConfig{Port: 8080, Environment: "test"},
		Adapters: map[string]AdapterConfig{"binance": {Enabled: false}},
	}
	applyDefaults(cfg)
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "at least one adapter")
}

func TestValidate_RejectsBadPort(t *testing.T) {
	cfg := &Config{
		Service:  ServiceConfig{Port: 0, Environment: "test"},
		Adapters: map[string]AdapterConfig{"binance": {Enabled: true, Endpoints: EndpointsConfig{WS: "wss://x"}, Subscription: SubscriptionConfig{Symbols: []string{"BTCUSDT"}, DataTypes: []string{"trade"}}}},
	}
	applyDefaults(cfg)
	err := cfg.Validate()
	require.Error(t, err)
}
