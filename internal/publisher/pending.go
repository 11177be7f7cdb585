package publisher

import (
	"sync"
	"time"
)

// PendingMessage is C5's in-flight record per spec §3: created on enqueue,
// queued, batched, sent or retried, and resolved; on resolution the object
// is returned to a sync.Pool to reduce allocation pressure. The pool sets
// no limit on how many idle objects it holds.
type PendingMessage struct {
	ID          string
	Topic       string
	Payload     []byte
	Attributes  map[string]string
	OrderingKey string
	EnqueuedAt  time.Time
	RetryCount  int
	SkipBatching bool

	resolve func(error)
}

// Resolve invokes the pooled resolution callback with the send outcome.
func (p *PendingMessage) Resolve(err error) {
	if p.resolve != nil {
		p.resolve(err)
	}
}

var pendingPool = sync.Pool{
	New: func() interface{} { return &PendingMessage{} },
}

// AcquirePending takes a PendingMessage from the pool (or allocates one)
// and initializes it.
func AcquirePending(topic string, payload []byte, attrs map[string]string, orderingKey string, resolve func(error)) *PendingMessage {
	p := pendingPool.Get().(*PendingMessage)
	p.ID = ""
	p.Topic = topic
	p.Payload = payload
	p.Attributes = attrs
	p.OrderingKey = orderingKey
	p.EnqueuedAt = time.Now()
	p.RetryCount = 0
	p.SkipBatching = false
	p.resolve = resolve
	return p
}

// ReleasePending clears and returns p to the pool. Callers must not use p
// after calling this.
func ReleasePending(p *PendingMessage) {
	p.Payload = nil
	p.Attributes = nil
	p.resolve = nil
	pendingPool.Put(p)
}
