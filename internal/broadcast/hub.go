// Package broadcast implements C6, the broadcast WebSocket server: it
// accepts subscriber connections, enforces connection and rate limits, and
// fans canonical records out to subscribers by topic.
package broadcast

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/mdcollector/internal/config"
	"github.com/sawpanic/mdcollector/internal/model"
	"github.com/sawpanic/mdcollector/internal/observability"
)

// ReplaySource supplies the recent records cached per topic key (oldest
// first, up to the cache's per-key limit) so a new
// subscription can be replayed before live delivery begins, per spec
// §4.6/§4.7. Satisfied structurally by *subscribercache.Cache.
type ReplaySource interface {
	Snapshot(keys []string) []*model.Record
}

type hubMetrics struct {
	registry *observability.MetricsRegistry
}

func (m hubMetrics) recordRateLimited() {
	if m.registry != nil {
		m.registry.RateLimitHits.Inc()
	}
}

func (m hubMetrics) recordSendQueueDrop() {
	if m.registry != nil {
		m.registry.SendQueueDrops.Inc()
	}
}

func (m hubMetrics) setActiveConnections(n int) {
	if m.registry != nil {
		m.registry.ActiveConnections.Set(float64(n))
	}
}

// Hub maintains the set of active subscriber connections and fans
// outbound frames out by topic, grounded on the teacher-adjacent
// pkg/websocket.Hub register/unregister/broadcast channel loop.
type Hub struct {
	cfg     config.BroadcastConfig
	replay  ReplaySource
	logger  zerolog.Logger
	report  observability.ErrorReporter
	metrics hubMetrics

	mu       sync.RWMutex
	clients  map[*Connection]bool
	reserved atomic.Int64 // admitted-but-not-yet-registered + registered, guards maxConnections

	register   chan *Connection
	unregister chan *Connection

	descriptor *model.ChannelDescriptor

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewHub builds a Hub. replay may be nil, in which case new subscriptions
// receive no replay frames.
func NewHub(cfg config.BroadcastConfig, replay ReplaySource, logger zerolog.Logger, report observability.ErrorReporter, registry *observability.MetricsRegistry) *Hub {
	return &Hub{
		cfg:        cfg,
		replay:     replay,
		logger:     logger.With().Str("component", "broadcast").Logger(),
		report:     report,
		metrics:    hubMetrics{registry: registry},
		clients:    make(map[*Connection]bool),
		register:   make(chan *Connection, 64),
		unregister: make(chan *Connection, 64),
		descriptor: model.NewChannelDescriptor("broadcast", model.ChannelBroadcast,
			model.ChannelCapabilities{SupportsBatching: false, SupportsOrdering: false}),
		stopCh: make(chan struct{}),
	}
}

// Run drives the hub's register/unregister/cleanup loop until Stop is
// called. Intended to run on its own goroutine.
func (h *Hub) Run() {
	h.wg.Add(1)
	defer h.wg.Done()

	cleanup := time.NewTicker(h.cfg.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case conn := <-h.register:
			h.doRegister(conn)
		case conn := <-h.unregister:
			h.doUnregister(conn)
		case <-cleanup.C:
			h.sweepIdle()
		case <-h.stopCh:
			h.closeAll()
			return
		}
	}
}

// Stop halts Run and closes every connection.
func (h *Hub) Stop() {
	close(h.stopCh)
	h.wg.Wait()
}

func (h *Hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// admit reserves a connection slot against maxConnections with a CAS loop,
// so a burst of concurrent accepts can't all observe room and overshoot the
// cap before doRegister catches up. Call before upgrading the HTTP
// connection; release the slot via admitFailed if the upgrade itself fails.
func (h *Hub) admit() bool {
	max := int64(h.cfg.MaxConnections)
	for {
		cur := h.reserved.Load()
		if cur >= max {
			return false
		}
		if h.reserved.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// admitFailed releases a slot reserved by admit when the caller never
// reaches doRegister (e.g. the WebSocket upgrade itself failed).
func (h *Hub) admitFailed() {
	h.reserved.Add(-1)
}

func (h *Hub) doRegister(conn *Connection) {
	h.mu.Lock()
	h.clients[conn] = true
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.setActiveConnections(n)
	h.descriptor.Metrics.Submitted.Add(1)

	welcome, _ := json.Marshal(outboundFrame{Type: "welcome", Timestamp: time.Now().UnixMilli()})
	conn.enqueue(welcome)
}

func (h *Hub) doUnregister(conn *Connection) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(conn.send)
		h.reserved.Add(-1)
	}
	n := len(h.clients)
	h.mu.Unlock()
	conn.close()
	h.metrics.setActiveConnections(n)
}

func (h *Hub) sweepIdle() {
	deadline := time.Now().Add(-h.cfg.IdleTimeout)
	h.mu.RLock()
	var stale []*Connection
	for conn := range h.clients {
		if conn.lastActive.get().Before(deadline) {
			stale = append(stale, conn)
		}
	}
	h.mu.RUnlock()
	for _, conn := range stale {
		conn.conn.Close()
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		close(conn.send)
		conn.close()
		conn.conn.Close()
		delete(h.clients, conn)
	}
}

// handleControl dispatches one validated inbound control message from conn.
func (h *Hub) handleControl(conn *Connection, msg controlMessage) {
	switch msg.Method {
	case "subscribe":
		conn.beginReplay(msg.Topics)
		if h.replay != nil {
			for _, rec := range h.replay.Snapshot(msg.Topics) {
				h.deliverTo(conn, rec)
			}
		}
		conn.endReplay(msg.Topics)
	case "unsubscribe":
		conn.removeTopics(msg.Topics)
	case "ping":
		pong, _ := json.Marshal(outboundFrame{Type: "pong", Timestamp: time.Now().UnixMilli()})
		conn.enqueue(pong)
	default:
		conn.sendError("unknown method: " + msg.Method)
	}
}

// Broadcast fans rec out to every subscriber of its topic, per spec §4.6's
// "serialized once per topic and multicast across subscribers".
func (h *Hub) Broadcast(rec *model.Record) {
	topic := rec.Key()
	frame, err := json.Marshal(outboundFrame{Type: "record", Topic: topic, Data: rec, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.clients {
		if !conn.subscribedTo(topic) {
			continue
		}
		if dropped := conn.deliverLive(topic, frame); dropped {
			h.metrics.recordSendQueueDrop()
		}
	}
	h.descriptor.Metrics.Delivered.Add(1)
}

// deliverTo sends a cache-replayed record directly to conn's send queue,
// bypassing deliverLive's replay-buffer check since this call IS the
// replay, per spec §13.4.
func (h *Hub) deliverTo(conn *Connection, rec *model.Record) {
	frame, err := json.Marshal(outboundFrame{Type: "record", Topic: rec.Key(), Data: rec, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		return
	}
	conn.enqueue(frame)
}

// BroadcastStatus sends a status frame to every connection on upstream
// state change, per spec §4.6's outbound-frame contract.
func (h *Hub) BroadcastStatus(message string) {
	frame, _ := json.Marshal(outboundFrame{Type: "status", Message: message, Timestamp: time.Now().UnixMilli()})
	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.clients {
		conn.enqueue(frame)
	}
}
