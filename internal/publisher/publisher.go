package publisher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/mdcollector/internal/config"
	"github.com/sawpanic/mdcollector/internal/model"
	"github.com/sawpanic/mdcollector/internal/observability"
)

// Publisher is C5: it batches, compresses, and sends canonical records to
// an EventBus-backed durable channel with at-least-once semantics. It
// implements dataflow.Channel so C4 can drive it like any other output.
type Publisher struct {
	cfg        config.PublisherConfig
	bus        EventBus
	router     *Router
	serializer Serializer
	compressor Compressor
	retry      *RetryPolicy
	logger     zerolog.Logger
	report     observability.ErrorReporter
	metrics    *observability.MetricsRegistry

	descriptor *model.ChannelDescriptor

	mu      sync.RWMutex
	batches map[string]*topicBatch

	outstandingMessages atomic.Int64
	outstandingBytes    atomic.Int64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPublisher builds a Publisher. bus must already be constructed (e.g.
// via NewNATSBus); Start connects it.
func NewPublisher(cfg config.PublisherConfig, bus EventBus, router *Router, logger zerolog.Logger, report observability.ErrorReporter, metrics *observability.MetricsRegistry) (*Publisher, error) {
	serializer, err := NewSerializer(cfg.Format)
	if err != nil {
		return nil, err
	}
	var compressor Compressor
	if cfg.Compression.Enabled {
		inner, err := NewCompressor(cfg.Compression.Algorithm)
		if err != nil {
			return nil, err
		}
		if inner != nil {
			compressor = NewAdaptiveCompressor(inner, 0.95)
		}
	}

	retryable := func(err error) bool {
		return isRetryableClass(err, cfg.Retry.RetryCodes)
	}

	p := &Publisher{
		cfg:        cfg,
		bus:        bus,
		router:     router,
		serializer: serializer,
		compressor: compressor,
		retry:      NewRetryPolicy(cfg.Retry, retryable),
		logger:     logger.With().Str("component", "publisher").Logger(),
		report:     report,
		metrics:    metrics,
		descriptor: model.NewChannelDescriptor("durable-publisher", model.ChannelDurable,
			model.ChannelCapabilities{SupportsBatching: true, SupportsOrdering: true}),
		batches: make(map[string]*topicBatch),
	}
	return p, nil
}

// Start connects the underlying bus and launches the maxMilliseconds flush
// ticker.
func (p *Publisher) Start(ctx context.Context) error {
	if err := p.bus.Start(ctx); err != nil {
		return fmt.Errorf("publisher: start bus: %w", err)
	}
	if err := p.bus.CreateTopic(ctx, p.cfg.TopicPrefix+".>"); err != nil {
		return fmt.Errorf("publisher: ensure topic stream: %w", err)
	}
	p.stopCh = make(chan struct{})
	p.wg.Add(1)
	go p.flushLoop()
	return nil
}

// Stop flushes every topic's pending batch, then stops the bus.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.stopCh != nil {
		close(p.stopCh)
	}
	p.wg.Wait()

	p.mu.RLock()
	topics := make([]string, 0, len(p.batches))
	for t := range p.batches {
		topics = append(topics, t)
	}
	p.mu.RUnlock()
	for _, t := range topics {
		p.flushTopic(ctx, t)
	}
	return p.bus.Stop(ctx)
}

// Submit implements dataflow.Channel: each record is routed to its target
// topic(s) and serialized/compressed/enqueued into that topic's batch.
func (p *Publisher) Submit(records []*model.Record) error {
	ctx := context.Background()
	for _, rec := range records {
		targets := p.router.Targets(rec)
		for _, target := range targets {
			if err := p.enqueue(ctx, rec, target); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Publisher) enqueue(ctx context.Context, rec *model.Record, target model.RoutingTarget) error {
	raw, err := p.serializer.Marshal(rec)
	if err != nil {
		return observability.NewError("publisher", observability.ErrBatchFailedPermanent, err)
	}

	payload := raw
	compression := "none"
	if p.compressor != nil && p.compressor.ShouldCompress() && len(raw) >= p.cfg.Compression.Threshold {
		compressed, err := p.compressor.Compress(raw)
		if err == nil {
			payload = compressed
			compression = p.compressor.Algorithm()
		}
	}

	header := BuildHeader(rec, raw, p.serializer.Format(), compression)
	attrs := AttributesFromHeader(header)

	topic := model.RenderTopicTemplate(target.TopicTemplate, p.cfg.TopicPrefix, "", rec, 249)
	orderingKey := rec.Exchange + "|" + rec.Symbol

	if err := p.waitForCapacity(ctx, len(payload)); err != nil {
		return err
	}

	pm := AcquirePending(topic, payload, attrs, orderingKey, nil)
	pm.SkipBatching = target.SkipBatching
	p.outstandingMessages.Add(1)
	p.outstandingBytes.Add(int64(len(payload)))

	if pm.SkipBatching {
		return p.sendSync(ctx, topic, pm)
	}

	p.mu.Lock()
	batch, ok := p.batches[topic]
	if !ok {
		batch = &topicBatch{}
		p.batches[topic] = batch
	}
	p.mu.Unlock()

	batch.add(pm)

	msgs, bytes, _ := batch.snapshot()
	if len(msgs) >= p.cfg.Batching.MaxMessages || bytes >= p.cfg.Batching.MaxBytes {
		p.flushTopic(ctx, topic)
	}
	return nil
}

// sendSync routes a skipBatching message around the batch and publishes it
// immediately through the same retry policy batched sends use, per spec
// §4.4.
func (p *Publisher) sendSync(ctx context.Context, topic string, pm *PendingMessage) error {
	start := time.Now()
	err, retries := p.retry.Do(ctx, func(attempt int) error {
		return p.bus.Publish(ctx, topic, Message{ID: pm.ID, Key: pm.OrderingKey, Payload: pm.Payload, Attributes: pm.Attributes, Timestamp: time.Now()})
	})

	p.outstandingMessages.Add(-1)
	p.outstandingBytes.Add(-int64(len(pm.Payload)))
	ReleasePending(pm)

	if p.metrics != nil {
		p.metrics.PublishLatency.Observe(time.Since(start).Seconds())
		p.metrics.BatchSize.Observe(1)
		if retries > 0 {
			p.metrics.PublishRetries.Add(float64(retries))
		}
		p.metrics.Outstanding.Set(float64(p.outstandingMessages.Load()))
	}

	if err != nil {
		p.descriptor.Metrics.Failed.Add(1)
		p.descriptor.Metrics.ConsecutiveFails.Add(1)
		if p.report != nil {
			p.report.HandleError(observability.NewError("publisher", classifyBusErr(err), err))
		}
		return err
	}
	p.descriptor.Metrics.Submitted.Add(1)
	p.descriptor.Metrics.Delivered.Add(1)
	p.descriptor.Metrics.ConsecutiveFails.Store(0)
	return nil
}

// waitForCapacity enforces the flow-control bound in spec §4.4/§8: when
// either outstanding limit is at or above cap, a send blocks until capacity
// frees when AllowExcessMessages is true, and fails fast with BACKPRESSURE
// when it is false (the zero value).
func (p *Publisher) waitForCapacity(ctx context.Context, payloadBytes int) error {
	for {
		msgs := p.outstandingMessages.Load()
		bts := p.outstandingBytes.Load()
		atCap := msgs >= int64(p.cfg.Batching.MaxOutstandingMessages) ||
			bts+int64(payloadBytes) > int64(p.cfg.Batching.MaxOutstandingBytes)
		if !atCap {
			return nil
		}
		if !p.cfg.FlowControl.AllowExcessMessages {
			return observability.NewError("publisher", observability.ErrBackpressure, nil)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (p *Publisher) flushLoop() {
	defer p.wg.Done()
	interval := p.cfg.Batching.MaxMilliseconds
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.mu.RLock()
			topics := make([]string, 0, len(p.batches))
			for t, b := range p.batches {
				_, _, oldest := b.snapshot()
				if b.len() > 0 && time.Since(oldest) >= p.cfg.Batching.MaxMilliseconds {
					topics = append(topics, t)
				}
			}
			p.mu.RUnlock()
			for _, t := range topics {
				p.flushTopic(context.Background(), t)
			}
		case <-p.stopCh:
			return
		}
	}
}

func (p *Publisher) flushTopic(ctx context.Context, topic string) {
	p.mu.RLock()
	batch, ok := p.batches[topic]
	p.mu.RUnlock()
	if !ok {
		return
	}
	pending := batch.drain()
	if len(pending) == 0 {
		return
	}

	start := time.Now()
	err, retries := p.retry.Do(ctx, func(attempt int) error {
		msgs := make([]Message, len(pending))
		for i, pm := range pending {
			msgs[i] = Message{ID: pm.ID, Key: pm.OrderingKey, Payload: pm.Payload, Attributes: pm.Attributes, Timestamp: time.Now()}
		}
		return p.bus.PublishBatch(ctx, topic, msgs)
	})

	for _, pm := range pending {
		p.outstandingMessages.Add(-1)
		p.outstandingBytes.Add(-int64(len(pm.Payload)))
		ReleasePending(pm)
	}

	if p.metrics != nil {
		p.metrics.PublishLatency.Observe(time.Since(start).Seconds())
		p.metrics.BatchSize.Observe(float64(len(pending)))
		if retries > 0 {
			p.metrics.PublishRetries.Add(float64(retries))
		}
		p.metrics.Outstanding.Set(float64(p.outstandingMessages.Load()))
	}

	if err != nil {
		p.descriptor.Metrics.Failed.Add(int64(len(pending)))
		p.descriptor.Metrics.ConsecutiveFails.Add(1)
		if p.report != nil {
			p.report.HandleError(observability.NewError("publisher", classifyBusErr(err), err))
		}
		return
	}
	p.descriptor.Metrics.Submitted.Add(int64(len(pending)))
	p.descriptor.Metrics.Delivered.Add(int64(len(pending)))
	p.descriptor.Metrics.ConsecutiveFails.Store(0)
}

func (p *Publisher) Health() model.HealthState {
	status := p.bus.Health()
	if status.Healthy {
		return model.HealthHealthy
	}
	return model.HealthDown
}

func (p *Publisher) Describe() *model.ChannelDescriptor { return p.descriptor }

func isRetryableClass(err error, codes []string) bool {
	class := classifyBusErr(err)
	for _, c := range codes {
		if string(class) == c {
			return true
		}
	}
	return false
}

func classifyBusErr(err error) observability.ErrorClass {
	if err == nil {
		return ""
	}
	switch err {
	case ErrTopicNotFound:
		return observability.ErrTopicNotFound
	case ErrBusNotStarted:
		return observability.ErrBatchFailedTransient
	default:
		return observability.ErrBatchFailedTransient
	}
}
