package dataflow

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/mdcollector/internal/config"
	"github.com/sawpanic/mdcollector/internal/model"
	"github.com/sawpanic/mdcollector/internal/observability"
)

type ingressItem struct {
	record     *model.Record
	sourceTag  string
	enqueuedAt time.Time
}

type registeredChannel struct {
	descriptor *model.ChannelDescriptor
	channel    Channel
	breaker    *gobreaker.CircuitBreaker

	mu         sync.Mutex
	batch      []*model.Record
	batchStart time.Time
}

// Manager is C4: it accepts canonical records, evaluates ChannelRoute
// conditions, and drives every matching Channel with per-channel batching
// and a per-channel circuit breaker, per spec §4.3.
type Manager struct {
	cfg    config.DataflowConfig
	router *ChannelRouter
	logger zerolog.Logger
	report observability.ErrorReporter
	metrics *observability.MetricsRegistry

	mu       sync.RWMutex
	channels map[string]*registeredChannel

	workerQueues []chan ingressItem
	queueDepth   atomic.Int64

	started atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewManager builds a Manager. Call RegisterChannel for each output channel
// before Start.
func NewManager(cfg config.DataflowConfig, router *ChannelRouter, logger zerolog.Logger, report observability.ErrorReporter, metrics *observability.MetricsRegistry) *Manager {
	if router == nil {
		router = NewChannelRouter()
	}
	return &Manager{
		cfg:      cfg,
		router:   router,
		logger:   logger.With().Str("component", "dataflow").Logger(),
		report:   report,
		metrics:  metrics,
		channels: make(map[string]*registeredChannel),
	}
}

// RegisterChannel adds descriptor/channel, idempotent by descriptor.ID. A
// later Start propagates to all registered channels (there is nothing to
// "start" on the channel side beyond being eligible for Submit).
func (m *Manager) RegisterChannel(descriptor *model.ChannelDescriptor, channel Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.channels[descriptor.ID]; exists {
		return
	}
	m.channels[descriptor.ID] = &registeredChannel{
		descriptor: descriptor,
		channel:    channel,
		breaker: newChannelBreaker(descriptor.ID,
			m.cfg.ErrorHandling.CircuitBreakerThreshold, m.cfg.ErrorHandling.RetryDelay*10),
	}
}

// Start launches the worker pool and the per-channel batch-flush ticker.
// Calling Start twice returns ErrAlreadyStarted.
func (m *Manager) Start() error {
	if !m.started.CompareAndSwap(false, true) {
		return observability.NewError("dataflow", observability.ErrAlreadyStarted, nil)
	}
	workers := m.cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	m.stopCh = make(chan struct{})
	m.workerQueues = make([]chan ingressItem, workers)
	for i := 0; i < workers; i++ {
		m.workerQueues[i] = make(chan ingressItem, m.cfg.Performance.MaxQueueSize)
		m.wg.Add(1)
		go m.workerLoop(m.workerQueues[i])
	}
	m.wg.Add(1)
	go m.flushLoop()
	return nil
}

// Stop flushes pending batches with a bounded grace period, then stops the
// worker set. Reverses Start's order.
func (m *Manager) Stop(grace time.Duration) error {
	if !m.started.CompareAndSwap(true, false) {
		return nil
	}
	close(m.stopCh)

	done := make(chan struct{})
	go func() { m.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(grace):
		m.logger.Warn().Msg("dataflow stop grace period exceeded, forcing drain")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rc := range m.channels {
		m.flushChannel(rc)
	}
	return nil
}

// Process enqueues record for routing/batching. It fails with BACKPRESSURE
// when the aggregate queue depth is at maxQueueSize, or PIPELINE_STOPPED
// when the manager is not started, per spec §4.3.
func (m *Manager) Process(record *model.Record, sourceTag string) error {
	if !m.started.Load() {
		return observability.NewError("dataflow", observability.ErrPipelineStopped, nil)
	}

	maxDepth := int64(m.cfg.Performance.MaxQueueSize)
	depth := m.queueDepth.Load()
	if depth >= maxDepth {
		if m.metrics != nil {
			m.metrics.BackpressureHits.Inc()
		}
		return observability.NewError("dataflow", observability.ErrBackpressure, nil)
	}
	if m.cfg.Performance.EnableBackpressure {
		soft := int64(float64(maxDepth) * m.cfg.Performance.BackpressureThreshold)
		if depth >= soft && depth%50 == 0 {
			m.logger.Warn().Int64("depth", depth).Msg("dataflow approaching backpressure threshold")
		}
	}

	idx := workerIndex(sourceTag, len(m.workerQueues))
	item := ingressItem{record: record, sourceTag: sourceTag, enqueuedAt: time.Now()}
	m.queueDepth.Add(1)
	select {
	case m.workerQueues[idx] <- item:
		if m.metrics != nil {
			m.metrics.QueueDepth.Set(float64(m.queueDepth.Load()))
		}
		return nil
	default:
		m.queueDepth.Add(-1)
		if m.metrics != nil {
			m.metrics.BackpressureHits.Inc()
		}
		return observability.NewError("dataflow", observability.ErrBackpressure, nil)
	}
}

func workerIndex(sourceTag string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(sourceTag))
	return int(h.Sum32() % uint32(n))
}

func (m *Manager) workerLoop(queue chan ingressItem) {
	defer m.wg.Done()
	for {
		select {
		case item := <-queue:
			m.queueDepth.Add(-1)
			m.handle(item)
		case <-m.stopCh:
			// drain remaining buffered items before exiting.
			for {
				select {
				case item := <-queue:
					m.queueDepth.Add(-1)
					m.handle(item)
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) handle(item ingressItem) {
	start := item.enqueuedAt
	ids, matched := m.router.Targets(item.record)

	m.mu.RLock()
	defer m.mu.RUnlock()

	targets := m.channelsFor(ids, matched)
	for _, rc := range targets {
		m.appendToBatch(rc, item.record)
	}
	if m.metrics != nil {
		m.metrics.ProcessLatency.Observe(time.Since(start).Seconds())
	}
}

func (m *Manager) channelsFor(ids []string, matched bool) []*registeredChannel {
	if !matched || len(ids) == 0 {
		all := make([]*registeredChannel, 0, len(m.channels))
		for _, rc := range m.channels {
			all = append(all, rc)
		}
		return all
	}
	out := make([]*registeredChannel, 0, len(ids))
	for _, id := range ids {
		if rc, ok := m.channels[id]; ok {
			out = append(out, rc)
		}
	}
	return out
}

func (m *Manager) appendToBatch(rc *registeredChannel, rec *model.Record) {
	rc.mu.Lock()
	if len(rc.batch) == 0 {
		rc.batchStart = time.Now()
	}
	rc.batch = append(rc.batch, rec)
	shouldFlush := len(rc.batch) >= m.batchSize()
	rc.mu.Unlock()

	if shouldFlush {
		m.flushChannel(rc)
	}
}

func (m *Manager) batchSize() int {
	if m.cfg.Batching.BatchSize <= 0 {
		return 1
	}
	return m.cfg.Batching.BatchSize
}

// flushLoop periodically submits any channel batch older than
// flushTimeout, satisfying the "no record buffered longer than
// flushTimeout + epsilon" testable property in spec §8.
func (m *Manager) flushLoop() {
	defer m.wg.Done()
	interval := m.cfg.Batching.FlushTimeout / 4
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.mu.RLock()
			for _, rc := range m.channels {
				rc.mu.Lock()
				age := time.Since(rc.batchStart)
				expired := len(rc.batch) > 0 && age >= m.cfg.Batching.FlushTimeout
				rc.mu.Unlock()
				if expired {
					m.flushChannel(rc)
				}
			}
			m.mu.RUnlock()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) flushChannel(rc *registeredChannel) {
	rc.mu.Lock()
	if len(rc.batch) == 0 {
		rc.mu.Unlock()
		return
	}
	batch := rc.batch
	rc.batch = nil
	rc.mu.Unlock()

	if m.metrics != nil {
		m.metrics.BatchSize.Observe(float64(len(batch)))
	}

	_, err := rc.breaker.Execute(func() (interface{}, error) {
		return nil, rc.channel.Submit(batch)
	})
	if err != nil {
		rc.descriptor.Metrics.Failed.Add(int64(len(batch)))
		rc.descriptor.Metrics.ConsecutiveFails.Add(1)
		if isCircuitOpen(err) {
			if m.metrics != nil {
				m.metrics.ChannelDrops.WithLabelValues(rc.descriptor.ID).Inc()
				m.metrics.BreakerState.WithLabelValues(rc.descriptor.ID).Set(2)
			}
			if m.report != nil {
				m.report.HandleError(observability.NewError("dataflow."+rc.descriptor.ID, observability.ErrChannelUnavailable, err))
			}
			return
		}
		if m.report != nil {
			m.report.HandleError(observability.NewError("dataflow."+rc.descriptor.ID, observability.ErrBatchFailedTransient, err))
		}
		return
	}
	rc.descriptor.Metrics.Submitted.Add(int64(len(batch)))
	rc.descriptor.Metrics.Delivered.Add(int64(len(batch)))
	rc.descriptor.Metrics.ConsecutiveFails.Store(0)
	if m.metrics != nil {
		m.metrics.BreakerState.WithLabelValues(rc.descriptor.ID).Set(0)
	}
}

// QueueDepth returns the current aggregate ingress queue depth, used by C8
// for its health conjunction (queue depth below the soft threshold).
func (m *Manager) QueueDepth() int64 { return m.queueDepth.Load() }

// Describe returns the ChannelDescriptor for every registered channel.
func (m *Manager) Describe() []*model.ChannelDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.ChannelDescriptor, 0, len(m.channels))
	for _, rc := range m.channels {
		out = append(out, rc.descriptor)
	}
	return out
}
