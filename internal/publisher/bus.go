package publisher

import (
	"context"
	"errors"
	"time"
)

// EventBus is the durable pub/sub contract C5 publishes through, kept close
// to the teacher's internal/stream.EventBus interface (Publish/
// PublishBatch/Subscribe/Health/topic administration) but trimmed to what
// this spec's durable channel actually exercises — no consumer-group or
// partition-assignment surface, since C5 is producer-only.
type EventBus interface {
	Publish(ctx context.Context, topic string, msg Message) error
	PublishBatch(ctx context.Context, topic string, msgs []Message) error
	Subscribe(ctx context.Context, topic string, handler MessageHandler) error
	Health() HealthStatus
	CreateTopic(ctx context.Context, name string) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Message is one durable-channel message: a header-carrying envelope over
// an opaque serialized payload.
type Message struct {
	ID         string
	Key        string // ordering key
	Payload    []byte
	Attributes map[string]string
	Timestamp  time.Time
}

// MessageHandler processes an inbound durable-channel message.
type MessageHandler func(ctx context.Context, msg Message) error

// HealthStatus reports the durable channel's connectivity, mirroring the
// teacher's HealthStatus/HealthMetrics shape.
type HealthStatus struct {
	Healthy   bool
	Status    string
	LastCheck time.Time
}

// Sentinel errors, kept from the teacher's bus.go vocabulary.
var (
	ErrTopicNotFound  = errors.New("publisher: topic not found")
	ErrInvalidMessage = errors.New("publisher: invalid message")
	ErrPublishTimeout = errors.New("publisher: publish timeout")
	ErrBusNotStarted  = errors.New("publisher: bus not started")
)
