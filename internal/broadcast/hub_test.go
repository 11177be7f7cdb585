package broadcast

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/mdcollector/internal/config"
	"github.com/sawpanic/mdcollector/internal/model"
)

type fakeReplay struct {
	records map[string]*model.Record
}

func (f *fakeReplay) Snapshot(keys []string) []*model.Record {
	var out []*model.Record
	for _, k := range keys {
		if r, ok := f.records[k]; ok {
			out = append(out, r)
		}
	}
	return out
}

func testBroadcastConfig() config.BroadcastConfig {
	return config.BroadcastConfig{
		MaxConnections:  2,
		IdleTimeout:     time.Hour,
		CleanupInterval: time.Hour,
		RateLimit:       config.RateLimitConfig{MaxMessagesPerMinute: 120},
		SendQueueSize:   4,
	}
}

func startTestServer(t *testing.T, hub *Hub) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWS(hub, w, r)
	}))
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return srv, wsURL
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestHub_SendsWelcomeOnConnect(t *testing.T) {
	hub := NewHub(testBroadcastConfig(), nil, zerolog.Nop(), nil, nil)
	go hub.Run()
	defer hub.Stop()
	_, url := startTestServer(t, hub)

	conn := dial(t, url)
	defer conn.Close()

	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), `"type":"welcome"`)
}

func TestHub_BroadcastDeliversToSubscribedTopic(t *testing.T) {
	hub := NewHub(testBroadcastConfig(), nil, zerolog.Nop(), nil, nil)
	go hub.Run()
	defer hub.Stop()
	_, url := startTestServer(t, hub)

	conn := dial(t, url)
	defer conn.Close()
	_, _, _ = conn.ReadMessage() // welcome

	require.NoError(t, conn.WriteJSON(controlMessage{Method: "subscribe", Topics: []string{"binance|BTC/USDT|trade"}}))
	time.Sleep(20 * time.Millisecond)

	rec := &model.Record{Exchange: "binance", Symbol: "BTC/USDT", Type: model.DataTypeTrade}
	hub.Broadcast(rec)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), `"type":"record"`)
	assert.Contains(t, string(msg), "binance|BTC/USDT|trade")
}

func TestHub_ReplaysCacheOnSubscribe(t *testing.T) {
	replay := &fakeReplay{records: map[string]*model.Record{
		"binance|BTC/USDT|trade": {Exchange: "binance", Symbol: "BTC/USDT", Type: model.DataTypeTrade},
	}}
	hub := NewHub(testBroadcastConfig(), replay, zerolog.Nop(), nil, nil)
	go hub.Run()
	defer hub.Stop()
	_, url := startTestServer(t, hub)

	conn := dial(t, url)
	defer conn.Close()
	_, _, _ = conn.ReadMessage() // welcome

	require.NoError(t, conn.WriteJSON(controlMessage{Method: "subscribe", Topics: []string{"binance|BTC/USDT|trade"}}))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), `"type":"record"`)
}

// slowReplay blocks inside Snapshot until released, so a test can land a
// concurrent Broadcast call in the middle of a subscribe handshake.
type slowReplay struct {
	records map[string]*model.Record
	proceed chan struct{}
}

func (f *slowReplay) Snapshot(keys []string) []*model.Record {
	<-f.proceed
	var out []*model.Record
	for _, k := range keys {
		if r, ok := f.records[k]; ok {
			out = append(out, r)
		}
	}
	return out
}

func TestHub_LiveFrameDuringReplayArrivesAfterReplayFrame(t *testing.T) {
	topic := "binance|BTC/USDT|trade"
	replay := &slowReplay{
		records: map[string]*model.Record{topic: {Exchange: "binance", Symbol: "BTC/USDT", Type: model.DataTypeTrade, Timestamp: 1}},
		proceed: make(chan struct{}),
	}
	hub := NewHub(testBroadcastConfig(), replay, zerolog.Nop(), nil, nil)
	go hub.Run()
	defer hub.Stop()
	_, url := startTestServer(t, hub)

	conn := dial(t, url)
	defer conn.Close()
	_, _, _ = conn.ReadMessage() // welcome

	require.NoError(t, conn.WriteJSON(controlMessage{Method: "subscribe", Topics: []string{topic}}))
	time.Sleep(20 * time.Millisecond) // let handleControl reach beginReplay/Snapshot

	live := &model.Record{Exchange: "binance", Symbol: "BTC/USDT", Type: model.DataTypeTrade, Timestamp: 2}
	hub.Broadcast(live)
	time.Sleep(20 * time.Millisecond)
	close(replay.proceed) // release the blocked Snapshot call

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, first, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(first), `"timestamp":1`, "replayed record must arrive before the live one")

	_, second, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(second), `"timestamp":2`)
}

func TestHub_RejectsOverCapacity(t *testing.T) {
	cfg := testBroadcastConfig()
	cfg.MaxConnections = 1
	hub := NewHub(cfg, nil, zerolog.Nop(), nil, nil)
	go hub.Run()
	defer hub.Stop()
	_, url := startTestServer(t, hub)

	conn1 := dial(t, url)
	defer conn1.Close()
	_, _, _ = conn1.ReadMessage() // welcome
	time.Sleep(10 * time.Millisecond)

	_, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
}

func TestHub_MalformedMessageGetsErrorFrameNotClose(t *testing.T) {
	hub := NewHub(testBroadcastConfig(), nil, zerolog.Nop(), nil, nil)
	go hub.Run()
	defer hub.Stop()
	_, url := startTestServer(t, hub)

	conn := dial(t, url)
	defer conn.Close()
	_, _, _ = conn.ReadMessage() // welcome

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), `"type":"error"`)
}
