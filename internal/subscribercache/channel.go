package subscribercache

import "github.com/sawpanic/mdcollector/internal/model"

// channelAdapter exposes Cache as a dataflow.Channel so C4 can drive it
// like the durable and broadcast output channels.
type channelAdapter struct {
	cache      *Cache
	descriptor *model.ChannelDescriptor
}

// AsChannel wraps c as a dataflow.Channel for registration with C4.
func AsChannel(c *Cache) *channelAdapter {
	return &channelAdapter{
		cache: c,
		descriptor: model.NewChannelDescriptor("subscriber-cache", model.ChannelCache,
			model.ChannelCapabilities{SupportsBatching: true, SupportsOrdering: false}),
	}
}

// Submit appends every record to its key's ring, never failing — the cache is
// best-effort and never applies backpressure to the pipeline.
func (a *channelAdapter) Submit(records []*model.Record) error {
	for _, rec := range records {
		a.cache.Put(rec)
	}
	a.descriptor.Metrics.Submitted.Add(int64(len(records)))
	a.descriptor.Metrics.Delivered.Add(int64(len(records)))
	return nil
}

func (a *channelAdapter) Health() model.HealthState { return model.HealthHealthy }

func (a *channelAdapter) Describe() *model.ChannelDescriptor { return a.descriptor }
