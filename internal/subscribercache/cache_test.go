package subscribercache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/mdcollector/internal/config"
	"github.com/sawpanic/mdcollector/internal/model"
)

func rec(exchange, symbol string) *model.Record {
	return &model.Record{Exchange: exchange, Symbol: symbol, Type: model.DataTypeTrade, Timestamp: 1}
}

func TestCache_PutGetRoundTrip(t *testing.T) {
	c := NewCache(config.CacheConfig{MaxSize: 10, TTL: time.Minute})
	defer c.Stop()

	r := rec("binance", "BTC/USDT")
	c.Put(r)

	got, ok := c.Get(r.Key())
	require.True(t, ok)
	assert.Equal(t, r, got)
}

func TestCache_MissIsSilent(t *testing.T) {
	c := NewCache(config.CacheConfig{MaxSize: 10, TTL: time.Minute})
	defer c.Stop()

	_, ok := c.Get("binance|ETH/USDT|trade")
	assert.False(t, ok)
}

func TestCache_EvictsOldestOverCapacity(t *testing.T) {
	c := NewCache(config.CacheConfig{MaxSize: 2, TTL: time.Minute})
	defer c.Stop()

	c.Put(rec("binance", "AAA/USDT"))
	c.Put(rec("binance", "BBB/USDT"))
	c.Put(rec("binance", "CCC/USDT"))

	assert.Equal(t, 2, c.Size())
	_, ok := c.Get("binance|AAA/USDT|trade")
	assert.False(t, ok)
}

func TestCache_ExpiresAfterTTL(t *testing.T) {
	c := NewCache(config.CacheConfig{MaxSize: 10, TTL: 10 * time.Millisecond})
	defer c.Stop()

	r := rec("binance", "BTC/USDT")
	c.Put(r)
	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get(r.Key())
	assert.False(t, ok)
}

func TestCache_SnapshotSkipsMisses(t *testing.T) {
	c := NewCache(config.CacheConfig{MaxSize: 10, TTL: time.Minute})
	defer c.Stop()

	r := rec("binance", "BTC/USDT")
	c.Put(r)

	out := c.Snapshot([]string{r.Key(), "binance|ZZZ/USDT|trade"})
	require.Len(t, out, 1)
	assert.Equal(t, r, out[0])
}

func TestCache_SnapshotReplaysUpToNRecordsPerKey(t *testing.T) {
	c := NewCache(config.CacheConfig{MaxSize: 10, TTL: time.Minute, MaxRecordsPerKey: 2})
	defer c.Stop()

	r1, r2, r3 := rec("binance", "BTC/USDT"), rec("binance", "BTC/USDT"), rec("binance", "BTC/USDT")
	r1.Timestamp, r2.Timestamp, r3.Timestamp = 1, 2, 3
	c.Put(r1)
	c.Put(r2)
	c.Put(r3)

	out := c.Snapshot([]string{r1.Key()})
	require.Len(t, out, 2)
	assert.Equal(t, int64(2), out[0].Timestamp)
	assert.Equal(t, int64(3), out[1].Timestamp)

	latest, ok := c.Get(r1.Key())
	require.True(t, ok)
	assert.Equal(t, int64(3), latest.Timestamp)
}

func TestCache_ClearEmptiesAllEntries(t *testing.T) {
	c := NewCache(config.CacheConfig{MaxSize: 10, TTL: time.Minute})
	defer c.Stop()

	c.Put(rec("binance", "BTC/USDT"))
	c.Clear()
	assert.Equal(t, 0, c.Size())
}
