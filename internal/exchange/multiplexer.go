package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/sawpanic/mdcollector/internal/model"
)

// ConnectionFactory builds a fresh Connection sharing the multiplexer's
// exchange, dialer, config, logger, and frame sink. Multiplexer calls it
// once per topology rebuild so the old and new sockets are genuinely
// independent connections during the handover.
type ConnectionFactory func() *Connection

// Multiplexer tracks the active stream-key set for one exchange and
// reshapes the upstream URL/subscription when that set changes, per C2's
// responsibility in spec §2/§4.1.
type Multiplexer struct {
	scheme     URLScheme
	factory    ConnectionFactory
	autoManage bool

	mu      sync.Mutex
	refs    map[model.StreamKey]int
	current *Connection
}

// NewMultiplexer builds a Multiplexer. autoManage controls whether
// AddStream/RemoveStream trigger an automatic socket rebuild; when false,
// they only update the active key set and the current socket is left as is.
func NewMultiplexer(scheme URLScheme, factory ConnectionFactory, autoManage bool) *Multiplexer {
	return &Multiplexer{
		scheme:     scheme,
		factory:    factory,
		autoManage: autoManage,
		refs:       make(map[model.StreamKey]int),
	}
}

// Start opens the initial connection for the current (possibly empty)
// key set.
func (m *Multiplexer) Start(ctx context.Context) error {
	m.mu.Lock()
	conn := m.factory()
	url := m.scheme.BuildURL(m.keysLocked())
	m.mu.Unlock()

	if err := conn.Connect(ctx, url); err != nil {
		return err
	}
	m.mu.Lock()
	m.current = conn
	m.mu.Unlock()
	return nil
}

// Current returns the live Connection, or nil before Start.
func (m *Multiplexer) Current() *Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *Multiplexer) keysLocked() []model.StreamKey {
	keys := make([]model.StreamKey, 0, len(m.refs))
	for k := range m.refs {
		keys = append(keys, k)
	}
	return keys
}

// AddStream mutates the active set to include key, reference-counting
// duplicate subscriptions to one upstream stream. Re-adding an existing key
// is a no-op (idempotent), per spec §4.1. When autoManage is true and key
// is genuinely new, it blocks until the rebuilt socket is CONNECTED before
// returning — the suspension point named in spec §5 — then closes the old
// socket.
func (m *Multiplexer) AddStream(ctx context.Context, key model.StreamKey) error {
	m.mu.Lock()
	_, exists := m.refs[key]
	m.refs[key]++
	if exists {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if m.autoManage {
		return m.rebuild(ctx)
	}
	return nil
}

// RemoveStream decrements the reference count for key and, once it reaches
// zero, removes it from the active set and (if autoManage) rebuilds.
// Removing an unknown key is a no-op, per spec §4.1.
func (m *Multiplexer) RemoveStream(ctx context.Context, key model.StreamKey) error {
	m.mu.Lock()
	count, exists := m.refs[key]
	if !exists {
		m.mu.Unlock()
		return nil
	}
	count--
	if count > 0 {
		m.refs[key] = count
		m.mu.Unlock()
		return nil
	}
	delete(m.refs, key)
	m.mu.Unlock()

	if m.autoManage {
		return m.rebuild(ctx)
	}
	return nil
}

// rebuild constructs the new URL, opens a fresh socket, and only after it
// reports CONNECTED closes the previous one — so late frames on the old
// socket are simply discarded per §4.1's accepted in-flight gap.
func (m *Multiplexer) rebuild(ctx context.Context) error {
	m.mu.Lock()
	url := m.scheme.BuildURL(m.keysLocked())
	old := m.current
	newConn := m.factory()
	m.mu.Unlock()

	if err := newConn.Connect(ctx, url); err != nil {
		return fmt.Errorf("exchange: rebuild connect: %w", err)
	}

	m.mu.Lock()
	m.current = newConn
	m.mu.Unlock()

	if old != nil {
		_ = old.Disconnect()
	}
	return nil
}

// Keys returns a snapshot of the active stream-key set.
func (m *Multiplexer) Keys() []model.StreamKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keysLocked()
}
