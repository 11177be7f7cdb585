package broadcast

import "github.com/sawpanic/mdcollector/internal/model"

// channelAdapter exposes Hub as a dataflow.Channel so C4 can drive
// broadcast delivery like any other registered output.
type channelAdapter struct {
	hub *Hub
}

// AsChannel wraps hub as a dataflow.Channel for registration with C4.
func AsChannel(hub *Hub) *channelAdapter {
	return &channelAdapter{hub: hub}
}

// Submit fans every record out to its subscribers; broadcast delivery is
// best-effort, so individual send-queue drops never surface as an error
// here (they are counted, per spec §4.6).
func (a *channelAdapter) Submit(records []*model.Record) error {
	for _, rec := range records {
		a.hub.Broadcast(rec)
	}
	return nil
}

func (a *channelAdapter) Health() model.HealthState {
	if a.hub.count() >= a.hub.cfg.MaxConnections {
		return model.HealthDegraded
	}
	return model.HealthHealthy
}

func (a *channelAdapter) Describe() *model.ChannelDescriptor { return a.hub.descriptor }
