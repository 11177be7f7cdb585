package model

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// StreamKey is the exchange-local wire name for a single stream, e.g.
// "btcusdt@trade".
type StreamKey string

// Subscription is an active request for (exchange, symbol, dataType).
// Multiple subscription entries that resolve to the same StreamKey
// deduplicate to one upstream subscription via reference counting; RefCount
// is owned by the stream multiplexer (C2), not by the entry itself.
type Subscription struct {
	ID         string
	Exchange   string
	Symbol     string
	DataType   DataType
	StreamKey  StreamKey
	ActivatedAt time.Time
	live       atomic.Bool
}

// NewSubscription constructs a subscription entry with a fresh identifier
// and marks it live.
func NewSubscription(exchange, symbol string, dataType DataType, key StreamKey) *Subscription {
	s := &Subscription{
		ID:          uuid.NewString(),
		Exchange:    exchange,
		Symbol:      symbol,
		DataType:    dataType,
		StreamKey:   key,
		ActivatedAt: time.Now(),
	}
	s.live.Store(true)
	return s
}

// Live reports whether the subscription is still considered active.
func (s *Subscription) Live() bool { return s.live.Load() }

// Deactivate marks the subscription as no longer live. It does not remove
// the underlying stream from the multiplexer; callers must call
// RemoveStream separately once the last referencing subscription is gone.
func (s *Subscription) Deactivate() { s.live.Store(false) }
