package publisher

import (
	"sync"
	"time"
)

// topicBatch accumulates PendingMessages for one topic until a batching
// trigger fires, per spec §4.4.
type topicBatch struct {
	mu       sync.Mutex
	messages []*PendingMessage
	bytes    int
	oldest   time.Time
}

func (b *topicBatch) add(pm *PendingMessage) (shouldFlush bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.messages) == 0 {
		b.oldest = pm.EnqueuedAt
	}
	b.messages = append(b.messages, pm)
	b.bytes += len(pm.Payload)
	return false // size/byte triggers are checked by the caller holding cfg
}

func (b *topicBatch) snapshot() ([]*PendingMessage, int, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.messages, b.bytes, b.oldest
}

func (b *topicBatch) drain() []*PendingMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.messages
	b.messages = nil
	b.bytes = 0
	return out
}

func (b *topicBatch) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}
