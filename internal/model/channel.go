package model

import "sync/atomic"

// ChannelKind distinguishes the three output channel families C4 can drive.
type ChannelKind string

const (
	ChannelDurable   ChannelKind = "durable"
	ChannelBroadcast ChannelKind = "broadcast"
	ChannelCache     ChannelKind = "cache"
)

// HealthState is a channel's coarse health classification.
type HealthState string

const (
	HealthHealthy  HealthState = "healthy"
	HealthDegraded HealthState = "degraded"
	HealthDown     HealthState = "down"
)

// ChannelCapabilities flags what a channel supports, per the §9 "capability
// interface" redesign note.
type ChannelCapabilities struct {
	SupportsBatching bool
	SupportsOrdering bool
}

// ChannelMetrics holds the small set of per-channel counters C4 maintains
// independent of the Prometheus registry, used for the degraded/circuit
// breaker decisions.
type ChannelMetrics struct {
	Submitted        atomic.Int64
	Delivered        atomic.Int64
	Failed           atomic.Int64
	ConsecutiveFails atomic.Int64
}

// ChannelDescriptor identifies one output channel registered with C4: its
// id, kind, capabilities, and the health/metrics state C4 inspects when
// deciding whether to route to it.
type ChannelDescriptor struct {
	ID           string
	Kind         ChannelKind
	Capabilities ChannelCapabilities
	Metrics      *ChannelMetrics
}

// NewChannelDescriptor builds a descriptor with a fresh metrics block.
func NewChannelDescriptor(id string, kind ChannelKind, caps ChannelCapabilities) *ChannelDescriptor {
	return &ChannelDescriptor{
		ID:           id,
		Kind:         kind,
		Capabilities: caps,
		Metrics:      &ChannelMetrics{},
	}
}
