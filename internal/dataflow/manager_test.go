package dataflow

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/mdcollector/internal/config"
	"github.com/sawpanic/mdcollector/internal/model"
	"github.com/sawpanic/mdcollector/internal/observability"
)

type recordingChannel struct {
	mu      sync.Mutex
	batches [][]*model.Record
	fail    bool
}

func (c *recordingChannel) Submit(batch []*model.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errFake
	}
	c.batches = append(c.batches, batch)
	return nil
}
func (c *recordingChannel) Health() model.HealthState          { return model.HealthHealthy }
func (c *recordingChannel) Describe() *model.ChannelDescriptor { return nil }

func (c *recordingChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, b := range c.batches {
		n += len(b)
	}
	return n
}

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

const errFake = fakeErr("fake submit failure")

func testConfig() config.DataflowConfig {
	return config.DataflowConfig{
		Batching:    config.BatchingConfig{BatchSize: 5, FlushTimeout: 50 * time.Millisecond},
		Performance: config.PerformanceConfig{MaxQueueSize: 100, EnableBackpressure: true, BackpressureThreshold: 0.8},
		Workers:     2,
	}
}

func TestManager_ProcessRejectsWhenStopped(t *testing.T) {
	m := NewManager(testConfig(), NewChannelRouter(), zerolog.Nop(), nil, nil)
	err := m.Process(&model.Record{Exchange: "binance", Symbol: "BTC/USDT", Type: model.DataTypeTrade}, "btcusdt@trade")
	require.Error(t, err)
}

func TestManager_DeliversBatchOnFlushTimeout(t *testing.T) {
	m := NewManager(testConfig(), NewChannelRouter(), zerolog.Nop(), nil, nil)
	ch := &recordingChannel{}
	m.RegisterChannel(model.NewChannelDescriptor("cache", model.ChannelCache, model.ChannelCapabilities{SupportsBatching: true}), ch)
	require.NoError(t, m.Start())
	defer m.Stop(time.Second)

	for i := 0; i < 3; i++ {
		require.NoError(t, m.Process(&model.Record{Exchange: "binance", Symbol: "BTC/USDT", Type: model.DataTypeTrade}, "btcusdt@trade"))
	}

	require.Eventually(t, func() bool { return ch.count() == 3 }, time.Second, 10*time.Millisecond)
}

func TestManager_BackpressureRejectsOverCapacity(t *testing.T) {
	cfg := testConfig()
	cfg.Performance.MaxQueueSize = 2
	m := NewManager(cfg, NewChannelRouter(), zerolog.Nop(), nil, nil)
	ch := &recordingChannel{fail: true}
	m.RegisterChannel(model.NewChannelDescriptor("durable", model.ChannelDurable, model.ChannelCapabilities{}), ch)

	rec := &model.Record{Exchange: "binance", Symbol: "BTC/USDT", Type: model.DataTypeTrade}
	// manager not started: first call rejects PIPELINE_STOPPED regardless of queue state
	require.Error(t, m.Process(rec, "k"))

	// with no worker draining the queue, the third record finds the depth
	// at maxQueueSize and is rejected with BACKPRESSURE
	m.workerQueues = []chan ingressItem{make(chan ingressItem, cfg.Performance.MaxQueueSize)}
	m.started.Store(true)
	require.NoError(t, m.Process(rec, "k"))
	require.NoError(t, m.Process(rec, "k"))
	err := m.Process(rec, "k")
	require.Error(t, err)
	var ce *observability.ClassifiedError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, observability.ErrBackpressure, ce.Class)
}

func TestManager_RegisterChannelIdempotent(t *testing.T) {
	m := NewManager(testConfig(), NewChannelRouter(), zerolog.Nop(), nil, nil)
	ch1 := &recordingChannel{}
	ch2 := &recordingChannel{}
	desc := model.NewChannelDescriptor("dup", model.ChannelCache, model.ChannelCapabilities{})
	m.RegisterChannel(desc, ch1)
	m.RegisterChannel(desc, ch2)
	require.Len(t, m.Describe(), 1)
}
