package publisher

import (
	"container/list"
	"sort"
	"sync"

	"github.com/sawpanic/mdcollector/internal/model"
)

// Router evaluates the priority-ordered routing-rule list against each
// record and caches the resulting target-topic set, per spec §4.5. The
// cache is a bounded LRU keyed by (exchange, symbol, dataType) and is
// invalidated wholesale whenever SetRules runs.
type Router struct {
	mu    sync.Mutex
	rules []model.RoutingRule

	cacheCap int
	cache    map[string]*list.Element
	order    *list.List // front = most recently used
}

type routerCacheEntry struct {
	key     string
	targets []model.RoutingTarget
}

// NewRouter builds a Router with the given LRU capacity (0 disables
// caching).
func NewRouter(cacheCap int) *Router {
	return &Router{
		cacheCap: cacheCap,
		cache:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// SetRules replaces the rule list, sorted priority-descending, and
// invalidates the routing cache.
func (r *Router) SetRules(rules []model.RoutingRule) {
	sorted := make([]model.RoutingRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = sorted
	r.cache = make(map[string]*list.Element)
	r.order.Init()
}

// Targets returns the target set for rec, consulting the LRU cache first.
// An unmatched record returns a single default target per spec §4.5.
func (r *Router) Targets(rec *model.Record) []model.RoutingTarget {
	key := rec.Key()

	r.mu.Lock()
	if el, ok := r.cache[key]; ok {
		r.order.MoveToFront(el)
		targets := el.Value.(*routerCacheEntry).targets
		r.mu.Unlock()
		return targets
	}
	rules := r.rules
	r.mu.Unlock()

	targets := evaluate(rules, rec)

	r.mu.Lock()
	r.insertLocked(key, targets)
	r.mu.Unlock()
	return targets
}

func (r *Router) insertLocked(key string, targets []model.RoutingTarget) {
	if r.cacheCap <= 0 {
		return
	}
	el := r.order.PushFront(&routerCacheEntry{key: key, targets: targets})
	r.cache[key] = el
	for r.order.Len() > r.cacheCap {
		oldest := r.order.Back()
		if oldest == nil {
			break
		}
		r.order.Remove(oldest)
		delete(r.cache, oldest.Value.(*routerCacheEntry).key)
	}
}

var defaultTarget = model.RoutingTarget{
	TopicTemplate:      model.DefaultTopicTemplate,
	OrderingKeySource:  "exchange|symbol",
	PartitionKeySource: "exchange|symbol",
}

func evaluate(rules []model.RoutingRule, rec *model.Record) []model.RoutingTarget {
	var targets []model.RoutingTarget
	for _, rule := range rules {
		if !rule.Condition.Matches(rec) {
			continue
		}
		targets = append(targets, rule.Targets...)
		if !rule.FallThrough {
			break
		}
	}
	if len(targets) == 0 {
		return []model.RoutingTarget{defaultTarget}
	}
	return targets
}
