// Package dataflow implements C4: ingesting canonical records, evaluating
// routing rules, and driving output channels with per-channel batching,
// backpressure, and circuit breaking, per spec §4.3.
package dataflow

import "github.com/sawpanic/mdcollector/internal/model"

// Channel is the capability interface named in the §9 redesign note,
// replacing polymorphism over channel kinds: {submit(batch), health(),
// describe()}. C5 (durable publisher), C6 (broadcast server), and C7
// (subscriber cache) each implement it.
type Channel interface {
	Submit(batch []*model.Record) error
	Health() model.HealthState
	Describe() *model.ChannelDescriptor
}
