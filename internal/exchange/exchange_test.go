package exchange

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/mdcollector/internal/model"
)

// fakeSocket is an injectable Socket used in place of a real network
// connection, per the §9 "injectable socket factory" redesign note.
type fakeSocket struct {
	mu     sync.Mutex
	closed bool
	inbox  chan []byte
}

func newFakeSocket() *fakeSocket { return &fakeSocket{inbox: make(chan []byte, 16)} }

func (f *fakeSocket) ReadMessage() (int, []byte, error) {
	data, ok := <-f.inbox
	if !ok {
		return 0, nil, io.EOF
	}
	return 1, data, nil
}
func (f *fakeSocket) WriteMessage(int, []byte) error { return nil }
func (f *fakeSocket) WriteControl(int, []byte, time.Time) error { return nil }
func (f *fakeSocket) SetReadDeadline(time.Time) error { return nil }
func (f *fakeSocket) SetPongHandler(func(string) error) {}
func (f *fakeSocket) SetPingHandler(func(string) error) {}
func (f *fakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		close(f.inbox)
		f.closed = true
	}
	return nil
}

type fakeDialer struct {
	sockets []*fakeSocket
	urls    []string
	mu      sync.Mutex
}

func (d *fakeDialer) Dial(_ context.Context, url string) (Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	s := newFakeSocket()
	d.sockets = append(d.sockets, s)
	return s, nil
}

func TestURLScheme_BuildURL(t *testing.T) {
	scheme := DefaultBinanceScheme("wss://stream.binance.com:9443")

	require.Equal(t, "wss://stream.binance.com:9443", scheme.BuildURL(nil))
	require.Equal(t, "wss://stream.binance.com:9443/ws/btcusdt@trade",
		scheme.BuildURL([]model.StreamKey{"btcusdt@trade"}))
	require.Equal(t, "wss://stream.binance.com:9443/stream?streams=btcusdt@trade/ethusdt@trade",
		scheme.BuildURL([]model.StreamKey{"ethusdt@trade", "btcusdt@trade"}))
}

func TestConnection_ConnectTransitionsToConnected(t *testing.T) {
	dialer := &fakeDialer{}
	frames := make(chan Frame, 16)
	conn := NewConnection("binance", dialer, ConnectionConfig{ConnectTimeout: time.Second}, zerolog.Nop(), nil, nil, frames)

	require.Equal(t, StateDisconnected, conn.State())
	err := conn.Connect(context.Background(), "wss://example/ws")
	require.NoError(t, err)
	require.Equal(t, StateConnected, conn.State())
}

func TestMultiplexer_AddStreamIdempotent(t *testing.T) {
	dialer := &fakeDialer{}
	frames := make(chan Frame, 16)
	scheme := DefaultBinanceScheme("wss://stream.binance.com:9443")

	mux := NewMultiplexer(scheme, func() *Connection {
		return NewConnection("binance", dialer, ConnectionConfig{ConnectTimeout: time.Second}, zerolog.Nop(), nil, nil, frames)
	}, true)

	require.NoError(t, mux.Start(context.Background()))
	require.NoError(t, mux.AddStream(context.Background(), "btcusdt@trade"))
	require.NoError(t, mux.AddStream(context.Background(), "btcusdt@trade"))
	require.Len(t, mux.Keys(), 1)

	require.NoError(t, mux.AddStream(context.Background(), "ethusdt@trade"))
	require.Len(t, mux.Keys(), 2)

	dialer.mu.Lock()
	lastURL := dialer.urls[len(dialer.urls)-1]
	dialer.mu.Unlock()
	require.Equal(t, "wss://stream.binance.com:9443/stream?streams=btcusdt@trade/ethusdt@trade", lastURL)
}

func TestMultiplexer_RemoveUnknownKeyIsNoop(t *testing.T) {
	dialer := &fakeDialer{}
	frames := make(chan Frame, 16)
	scheme := DefaultBinanceScheme("wss://stream.binance.com:9443")
	mux := NewMultiplexer(scheme, func() *Connection {
		return NewConnection("binance", dialer, ConnectionConfig{ConnectTimeout: time.Second}, zerolog.Nop(), nil, nil, frames)
	}, true)
	require.NoError(t, mux.Start(context.Background()))
	require.NoError(t, mux.RemoveStream(context.Background(), "unknown@trade"))
	require.Empty(t, mux.Keys())
}
