package dataflow

import (
	"sort"
	"sync"

	"github.com/sawpanic/mdcollector/internal/model"
)

// ChannelRoute is C4's (conditions -> target channels) rule: which
// registered output channels a matching record is routed to. This is
// distinct from the topic-naming RoutingRule the publisher evaluates
// internally (spec §4.5) — C4 decides *which channels* see a record; C5
// separately decides *which topic* within the durable channel.
type ChannelRoute struct {
	Name        string
	Priority    int
	Condition   model.RoutingCondition
	ChannelIDs  []string // empty means "all registered channels"
	FallThrough bool
}

// ChannelRouter evaluates the priority-ordered ChannelRoute list for each
// record. An unmatched record is routed to every registered channel.
type ChannelRouter struct {
	mu     sync.RWMutex
	routes []ChannelRoute
}

// NewChannelRouter builds an empty ChannelRouter; with no routes set,
// every record matches all channels.
func NewChannelRouter() *ChannelRouter {
	return &ChannelRouter{}
}

// SetRoutes replaces the route list, sorted priority-descending.
func (r *ChannelRouter) SetRoutes(routes []ChannelRoute) {
	sorted := make([]ChannelRoute, len(routes))
	copy(sorted, routes)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })

	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = sorted
}

// Targets returns the set of channel IDs rec should be delivered to, or nil
// meaning "all registered channels" (the default-naming-rule equivalent for
// channel selection).
func (r *ChannelRouter) Targets(rec *model.Record) (ids []string, matchedAny bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, route := range r.routes {
		if !route.Condition.Matches(rec) {
			continue
		}
		matchedAny = true
		ids = append(ids, route.ChannelIDs...)
		if !route.FallThrough {
			return ids, true
		}
	}
	return ids, matchedAny
}
