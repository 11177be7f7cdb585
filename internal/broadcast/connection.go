package broadcast

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// controlMessage is the small inbound schema per spec §4.6: method plus
// parameters. Unknown fields are ignored; unknown methods get an error
// frame rather than a close.
type controlMessage struct {
	Method string   `json:"method"`
	Topics []string `json:"topics,omitempty"`
}

// outboundFrame is the outbound envelope: either a data record, the open
// welcome frame, a status frame on upstream state change, or an error
// frame for a malformed inbound message.
type outboundFrame struct {
	Type      string      `json:"type"`
	Topic     string      `json:"topic,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// Connection is one subscriber WebSocket, a middleman between the socket
// and the Hub, grounded on the teacher-adjacent pack's
// pkg/websocket.Client but reworked around topic subscriptions instead of
// a single global broadcast stream.
type Connection struct {
	id         string
	conn       *websocket.Conn
	hub        *Hub
	send       chan []byte
	limiter    *rate.Limiter
	connectedAt time.Time

	mu        sync.RWMutex
	topics    map[string]bool
	replaying map[string]bool
	replayBuf map[string][][]byte

	lastActive atomic64
	closeOnce  sync.Once
	closeCh    chan struct{}
}

// atomic64 is a tiny unix-nano timestamp guarded by its own mutex; kept
// separate from sync/atomic to avoid an import just for one field.
type atomic64 struct {
	mu sync.Mutex
	v  int64
}

func (a *atomic64) set(t time.Time) {
	a.mu.Lock()
	a.v = t.UnixNano()
	a.mu.Unlock()
}

func (a *atomic64) get() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return time.Unix(0, a.v)
}

func newConnection(conn *websocket.Conn, hub *Hub, maxPerMinute int, sendQueueSize int) *Connection {
	c := &Connection{
		id:          uuid.NewString(),
		conn:        conn,
		hub:         hub,
		send:        make(chan []byte, sendQueueSize),
		limiter:     rate.NewLimiter(rate.Limit(float64(maxPerMinute)/60.0), maxPerMinute),
		connectedAt: time.Now(),
		topics:      make(map[string]bool),
		replaying:   make(map[string]bool),
		replayBuf:   make(map[string][][]byte),
		closeCh:     make(chan struct{}),
	}
	c.lastActive.set(time.Now())
	return c
}

// subscribedTo reports whether the connection currently wants topic.
func (c *Connection) subscribedTo(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topics[topic]
}

func (c *Connection) topicList() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	return out
}

func (c *Connection) addTopics(topics []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		c.topics[t] = true
	}
}

func (c *Connection) removeTopics(topics []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.topics, t)
	}
}

// maxReplayBuffered bounds how many live frames get held per topic while a
// replay is in flight, so a pathologically slow cache snapshot can't grow
// the buffer without limit.
const maxReplayBuffered = 64

// beginReplay subscribes the connection to topics and marks each as
// mid-replay: a concurrent Broadcast for one of these topics is buffered
// rather than delivered until endReplay runs, per spec §13.4's
// replay-before-live handshake.
func (c *Connection) beginReplay(topics []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		c.topics[t] = true
		c.replaying[t] = true
	}
}

// endReplay clears the mid-replay marker for topics and flushes any live
// frames buffered for them while the replay snapshot was being sent, in
// arrival order, restoring normal direct delivery.
func (c *Connection) endReplay(topics []string) {
	c.mu.Lock()
	var flush [][]byte
	for _, t := range topics {
		flush = append(flush, c.replayBuf[t]...)
		delete(c.replayBuf, t)
		delete(c.replaying, t)
	}
	c.mu.Unlock()
	for _, frame := range flush {
		c.enqueue(frame)
	}
}

// deliverLive enqueues frame for topic, or buffers it if a replay for topic
// is still in flight on this connection, so replayed frames always reach
// the socket before any live frame that arrived during the replay window.
func (c *Connection) deliverLive(topic string, frame []byte) (dropped bool) {
	c.mu.Lock()
	if c.replaying[topic] {
		buf := append(c.replayBuf[topic], frame)
		if len(buf) > maxReplayBuffered {
			buf = buf[len(buf)-maxReplayBuffered:]
			dropped = true
		}
		c.replayBuf[topic] = buf
		c.mu.Unlock()
		return dropped
	}
	c.mu.Unlock()
	return c.enqueue(frame)
}

// enqueue pushes a frame onto the send queue, dropping the oldest queued
// frame when full rather than blocking — broadcast delivery is best-effort
// per spec §4.6.
func (c *Connection) enqueue(frame []byte) (dropped bool) {
	select {
	case c.send <- frame:
		return false
	default:
	}
	select {
	case <-c.send:
		dropped = true
	default:
	}
	select {
	case c.send <- frame:
	default:
	}
	return dropped
}

func (c *Connection) close() {
	c.closeOnce.Do(func() { close(c.closeCh) })
}

// readPump consumes inbound control messages, applies the per-connection
// rate limit, and dispatches subscribe/unsubscribe/ping handling to the
// Hub.
func (c *Connection) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.lastActive.set(time.Now())
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.lastActive.set(time.Now())

		if !c.limiter.Allow() {
			c.hub.metrics.recordRateLimited()
			c.sendError("rate limit exceeded")
			continue
		}

		var msg controlMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError("malformed control message")
			continue
		}
		c.hub.handleControl(c, msg)
	}
}

func (c *Connection) sendError(message string) {
	frame, _ := json.Marshal(outboundFrame{Type: "error", Message: message, Timestamp: time.Now().UnixMilli()})
	c.enqueue(frame)
}

// writePump drains the send queue to the socket and drives the ping timer,
// mirroring the teacher-adjacent pack's client write loop.
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closeCh:
			return
		}
	}
}
