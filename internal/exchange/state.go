// Package exchange implements C1 (upstream connection) and C2 (stream
// multiplexer): one long-lived WebSocket per exchange whose URL/subscription
// tracks the active stream-key set, reconnecting with backoff and replying
// to exchange heartbeats.
package exchange

import "sync/atomic"

// State is one of the five upstream connection states from spec §4.1.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// atomicState is a small wrapper giving Connection lock-free state reads,
// since the health check (C8) polls it frequently.
type atomicState struct {
	v atomic.Int32
}

func (a *atomicState) load() State      { return State(a.v.Load()) }
func (a *atomicState) store(s State)    { a.v.Store(int32(s)) }
func (a *atomicState) cas(old, new_ State) bool {
	return a.v.CompareAndSwap(int32(old), int32(new_))
}
