package publisher

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/sawpanic/mdcollector/internal/config"
)

// NATSConfig configures the NATS connection underlying NATSBus, adapted
// from adred-codev-ws_poc/go-server/pkg/nats.Config, plus the JetStream
// stream-lifecycle knobs spec §6's topicSettings names.
type NATSConfig struct {
	URL             string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectJitter time.Duration
	MaxPingsOut     int
	PingInterval    time.Duration

	// StreamPrefix names the JetStream stream backing this publisher's
	// topics; one stream with subject "<prefix>.>" covers every topic
	// rendered under TopicPrefix.
	StreamPrefix      string
	AutoCreateStreams bool
	StreamMaxAge      time.Duration // 0 = unlimited retention
}

// DefaultNATSConfig fills in the same connection-resilience defaults the
// pack repo's client uses.
func DefaultNATSConfig(url string) NATSConfig {
	return NATSConfig{
		URL:               url,
		MaxReconnects:     -1, // unlimited, mirrors C1's own backoff philosophy
		ReconnectWait:     2 * time.Second,
		ReconnectJitter:   500 * time.Millisecond,
		MaxPingsOut:       3,
		PingInterval:      20 * time.Second,
		StreamPrefix:      "MDCOLLECTOR",
		AutoCreateStreams: true,
	}
}

var streamNameSanitizer = regexp.MustCompile(`[^A-Z0-9_-]+`)

// NATSConfigFromPublisherConfig wires the JetStream stream lifecycle to
// cfg's natsUrl/topicPrefix/topicSettings (spec §6), so autoCreate and
// retentionSeconds actually govern stream creation instead of being
// decorative fields.
func NATSConfigFromPublisherConfig(cfg config.PublisherConfig) NATSConfig {
	n := DefaultNATSConfig(cfg.NATSUrl)
	n.AutoCreateStreams = cfg.TopicSettings.AutoCreate
	if cfg.TopicSettings.RetentionSeconds > 0 {
		n.StreamMaxAge = time.Duration(cfg.TopicSettings.RetentionSeconds) * time.Second
	}
	if cfg.TopicPrefix != "" {
		upper := strings.ToUpper(cfg.TopicPrefix)
		cleaned := strings.Trim(streamNameSanitizer.ReplaceAllString(upper, "_"), "_")
		if cleaned != "" {
			n.StreamPrefix = cleaned
		}
	}
	return n
}

// NATSBus is the real durable-channel driver, replacing the teacher's
// unwired in-memory Kafka/Pulsar stubs (see DESIGN.md) with an actual
// github.com/nats-io/nats.go JetStream context. Publishes go through
// JetStream's ack'd, persisted stream rather than core pub/sub, which is
// what gives C5 its at-least-once floor (spec §1): a publish with no live
// subscriber is still durably stored and redelivered to any consumer that
// subscribes later, unlike plain core-NATS fire-and-forget.
type NATSBus struct {
	cfg    NATSConfig
	logger zerolog.Logger

	mu             sync.RWMutex
	conn           *nats.Conn
	js             nats.JetStreamContext
	subs           map[string]*nats.Subscription
	streamsEnsured map[string]bool
	started        bool
}

// NewNATSBus builds a NATSBus without connecting; call Start to dial.
func NewNATSBus(cfg NATSConfig, logger zerolog.Logger) *NATSBus {
	return &NATSBus{
		cfg:            cfg,
		logger:         logger.With().Str("component", "publisher.nats").Logger(),
		subs:           make(map[string]*nats.Subscription),
		streamsEnsured: make(map[string]bool),
	}
}

func (b *NATSBus) Start(ctx context.Context) error {
	opts := []nats.Option{
		nats.MaxReconnects(b.cfg.MaxReconnects),
		nats.ReconnectWait(b.cfg.ReconnectWait),
		nats.ReconnectJitter(b.cfg.ReconnectJitter, b.cfg.ReconnectJitter),
		nats.MaxPingsOutstanding(b.cfg.MaxPingsOut),
		nats.PingInterval(b.cfg.PingInterval),
		nats.ConnectHandler(func(c *nats.Conn) {
			b.logger.Info().Str("url", c.ConnectedUrl()).Msg("connected to NATS")
		}),
		nats.DisconnectErrHandler(func(c *nats.Conn, err error) {
			b.logger.Warn().Err(err).Msg("disconnected from NATS")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			b.logger.Info().Str("url", c.ConnectedUrl()).Msg("reconnected to NATS")
		}),
		nats.ErrorHandler(func(c *nats.Conn, s *nats.Subscription, err error) {
			b.logger.Error().Err(err).Msg("NATS connection error")
		}),
	}

	conn, err := nats.Connect(b.cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("publisher: connect to NATS at %s: %w", b.cfg.URL, err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return fmt.Errorf("publisher: open jetstream context: %w", err)
	}

	b.mu.Lock()
	b.conn = conn
	b.js = js
	b.started = true
	b.mu.Unlock()
	return nil
}

func (b *NATSBus) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for subject, sub := range b.subs {
		if err := sub.Drain(); err != nil {
			b.logger.Warn().Err(err).Str("subject", subject).Msg("drain failed during stop")
		}
	}
	if b.conn != nil {
		b.conn.Close()
	}
	b.started = false
	return nil
}

// Publish persists msg to the JetStream stream covering topic and blocks
// for the broker's ack, giving the caller a durable-write confirmation
// rather than a fire-and-forget send.
func (b *NATSBus) Publish(ctx context.Context, topic string, msg Message) error {
	b.mu.RLock()
	js, started := b.js, b.started
	b.mu.RUnlock()
	if !started {
		return ErrBusNotStarted
	}
	natsMsg := &nats.Msg{Subject: topic, Data: msg.Payload, Header: nats.Header{}}
	for k, v := range msg.Attributes {
		natsMsg.Header.Set(k, v)
	}
	if _, err := js.PublishMsg(natsMsg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publisher: jetstream publish to %s: %w", topic, err)
	}
	return nil
}

// PublishBatch sends each message individually; JetStream has no native
// batch-publish API, so the atomic-send-unit semantics in spec §4.4 are
// enforced one level up, in Publisher.flushTopic, which reports the whole
// batch as failed if any individual send errors.
func (b *NATSBus) PublishBatch(ctx context.Context, topic string, msgs []Message) error {
	for _, m := range msgs {
		if err := b.Publish(ctx, topic, m); err != nil {
			return err
		}
	}
	return nil
}

func (b *NATSBus) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return ErrBusNotStarted
	}
	durable := durableSanitizer.ReplaceAllString(topic, "_")
	sub, err := b.js.Subscribe(topic, func(m *nats.Msg) {
		attrs := make(map[string]string, len(m.Header))
		for k := range m.Header {
			attrs[k] = m.Header.Get(k)
		}
		if err := handler(ctx, Message{Payload: m.Data, Attributes: attrs, Timestamp: time.Now()}); err != nil {
			_ = m.Nak()
			return
		}
		_ = m.Ack()
	}, nats.Durable(durable), nats.ManualAck())
	if err != nil {
		return fmt.Errorf("publisher: jetstream subscribe to %s: %w", topic, err)
	}
	b.subs[topic] = sub
	return nil
}

var durableSanitizer = regexp.MustCompile(`[.*>\s]+`)

// CreateTopic ensures a JetStream stream exists whose subject set covers
// name, honoring topicSettings.autoCreate: a no-op when auto-create is
// disabled, matching the default-deny posture a production topic
// provisioning workflow would want. name may be a literal subject or a
// wildcard (e.g. "md.>").
func (b *NATSBus) CreateTopic(ctx context.Context, name string) error {
	if !b.cfg.AutoCreateStreams {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return ErrBusNotStarted
	}
	if b.streamsEnsured[name] {
		return nil
	}

	streamName := b.cfg.StreamPrefix
	if streamName == "" {
		streamName = "MDCOLLECTOR"
	}

	info, err := b.js.StreamInfo(streamName)
	if err != nil && err != nats.ErrStreamNotFound {
		return fmt.Errorf("publisher: stream info %s: %w", streamName, err)
	}

	streamCfg := &nats.StreamConfig{
		Name:      streamName,
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
		MaxAge:    b.cfg.StreamMaxAge,
	}
	if info == nil {
		streamCfg.Subjects = []string{name}
		if _, err := b.js.AddStream(streamCfg); err != nil {
			return fmt.Errorf("publisher: add stream %s: %w", streamName, err)
		}
	} else if !containsSubject(info.Config.Subjects, name) {
		streamCfg.Subjects = append(append([]string{}, info.Config.Subjects...), name)
		if _, err := b.js.UpdateStream(streamCfg); err != nil {
			return fmt.Errorf("publisher: update stream %s: %w", streamName, err)
		}
	}
	b.streamsEnsured[name] = true
	return nil
}

func containsSubject(subjects []string, name string) bool {
	for _, s := range subjects {
		if s == name {
			return true
		}
	}
	return false
}

func (b *NATSBus) Health() HealthStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.conn == nil {
		return HealthStatus{Healthy: false, Status: "disconnected", LastCheck: time.Now()}
	}
	connected := b.conn.IsConnected()
	status := "connected"
	if !connected {
		status = b.conn.Status().String()
	}
	return HealthStatus{Healthy: connected, Status: status, LastCheck: time.Now()}
}
