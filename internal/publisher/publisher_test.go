package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/mdcollector/internal/config"
	"github.com/sawpanic/mdcollector/internal/model"
)

// fakeBus is an in-memory EventBus double, recording every published batch.
type fakeBus struct {
	mu        sync.Mutex
	started   bool
	batches   map[string][][]Message
	failNext  int
	failErr   error
}

func newFakeBus() *fakeBus {
	return &fakeBus{batches: make(map[string][][]Message)}
}

func (b *fakeBus) Start(ctx context.Context) error { b.started = true; return nil }
func (b *fakeBus) Stop(ctx context.Context) error  { b.started = false; return nil }

func (b *fakeBus) Publish(ctx context.Context, topic string, msg Message) error {
	return b.PublishBatch(ctx, topic, []Message{msg})
}

func (b *fakeBus) PublishBatch(ctx context.Context, topic string, msgs []Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failNext > 0 {
		b.failNext--
		return b.failErr
	}
	b.batches[topic] = append(b.batches[topic], msgs)
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	return nil
}
func (b *fakeBus) CreateTopic(ctx context.Context, name string) error { return nil }
func (b *fakeBus) Health() HealthStatus {
	return HealthStatus{Healthy: b.started, Status: "ok", LastCheck: time.Now()}
}

func (b *fakeBus) countMessages(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, batch := range b.batches[topic] {
		n += len(batch)
	}
	return n
}

func testPublisherConfig() config.PublisherConfig {
	return config.PublisherConfig{
		Batching: config.PublisherBatchingConfig{
			MaxMessages:            3,
			MaxBytes:               1 << 20,
			MaxMilliseconds:        50 * time.Millisecond,
			MaxOutstandingMessages: 1000,
			MaxOutstandingBytes:    1 << 20,
		},
		Retry: config.RetryConfig{
			RetryCodes:           []string{"BATCH_FAILED_TRANSIENT"},
			MaxRetries:           3,
			InitialRetryDelay:    time.Millisecond,
			RetryDelayMultiplier: 2,
			MaxRetryDelay:        10 * time.Millisecond,
			TotalTimeout:         time.Second,
		},
		FlowControl: config.FlowControlConfig{
			MaxOutstandingMessages: 1000,
			MaxOutstandingBytes:    1 << 20,
			AllowExcessMessages:    true,
		},
		Compression: config.CompressionConfig{Enabled: false},
		TopicPrefix: "md",
		Format:      "json",
	}
}

func newTestPublisher(t *testing.T, bus EventBus) *Publisher {
	t.Helper()
	router := NewRouter(128)
	logger := zerolog.Nop()
	p, err := NewPublisher(testPublisherConfig(), bus, router, logger, nil, nil)
	require.NoError(t, err)
	return p
}

func sampleRecord() *model.Record {
	return &model.Record{
		Exchange:  "binance",
		Symbol:    "BTC/USDT",
		Type:      model.DataTypeTrade,
		Timestamp: 1710000000000,
		Trade:     &model.TradePayload{ID: "1"},
	}
}

func TestPublisher_SubmitFlushesOnMaxMessages(t *testing.T) {
	bus := newFakeBus()
	p := newTestPublisher(t, bus)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop(context.Background())

	records := []*model.Record{sampleRecord(), sampleRecord(), sampleRecord()}
	require.NoError(t, p.Submit(records))

	assert.Eventually(t, func() bool {
		return bus.countMessages("md.binance.trade.btc-usdt") == 3
	}, time.Second, 5*time.Millisecond)
}

func TestPublisher_FlushesOnTimerWhenUnderBatchSize(t *testing.T) {
	bus := newFakeBus()
	p := newTestPublisher(t, bus)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop(context.Background())

	require.NoError(t, p.Submit([]*model.Record{sampleRecord()}))

	assert.Eventually(t, func() bool {
		return bus.countMessages("md.binance.trade.btc-usdt") == 1
	}, time.Second, 5*time.Millisecond)
}

func TestPublisher_StopFlushesRemainder(t *testing.T) {
	bus := newFakeBus()
	p := newTestPublisher(t, bus)
	require.NoError(t, p.Start(context.Background()))

	require.NoError(t, p.Submit([]*model.Record{sampleRecord(), sampleRecord()}))
	require.NoError(t, p.Stop(context.Background()))

	assert.Equal(t, 2, bus.countMessages("md.binance.trade.btc-usdt"))
}

func TestPublisher_RetriesTransientFailureThenSucceeds(t *testing.T) {
	bus := newFakeBus()
	bus.failNext = 2
	bus.failErr = errors.New("transient")
	p := newTestPublisher(t, bus)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop(context.Background())

	records := []*model.Record{sampleRecord(), sampleRecord(), sampleRecord()}
	require.NoError(t, p.Submit(records))

	assert.Eventually(t, func() bool {
		return bus.countMessages("md.binance.trade.btc-usdt") == 3
	}, time.Second, 5*time.Millisecond)
}

func TestPublisher_DescribeReportsFailuresOnExhaustedRetry(t *testing.T) {
	bus := newFakeBus()
	bus.failNext = 100
	bus.failErr = errors.New("down")
	p := newTestPublisher(t, bus)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop(context.Background())

	records := []*model.Record{sampleRecord(), sampleRecord(), sampleRecord()}
	require.NoError(t, p.Submit(records))

	assert.Eventually(t, func() bool {
		return p.Describe().Metrics.Failed.Load() == 3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestPublisher_SkipBatchingSendsSynchronously(t *testing.T) {
	bus := newFakeBus()
	router := NewRouter(128)
	router.SetRules([]model.RoutingRule{{
		Name:     "sync-trades",
		Priority: 1,
		Targets: []model.RoutingTarget{{
			TopicTemplate: model.DefaultTopicTemplate,
			SkipBatching:  true,
		}},
	}})
	p, err := NewPublisher(testPublisherConfig(), bus, router, zerolog.Nop(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop(context.Background())

	require.NoError(t, p.Submit([]*model.Record{sampleRecord()}))

	// A skipBatching send never touches the batch map, so it must be
	// visible to the bus immediately, before any flush timer fires.
	assert.Equal(t, 1, bus.countMessages("md.binance.trade.btc-usdt"))
	p.mu.RLock()
	_, batched := p.batches["md.binance.trade.btc-usdt"]
	p.mu.RUnlock()
	assert.False(t, batched)
}

func TestPublisher_HealthReflectsBusConnectivity(t *testing.T) {
	bus := newFakeBus()
	p := newTestPublisher(t, bus)
	assert.Equal(t, model.HealthDown, p.Health())
	require.NoError(t, p.Start(context.Background()))
	assert.Equal(t, model.HealthHealthy, p.Health())
}
