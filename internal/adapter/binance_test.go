package adapter

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/mdcollector/internal/model"
)

func TestBinanceAdapter_NormalizeTrade(t *testing.T) {
	a := NewBinanceAdapter()
	payload := []byte(`{"e":"trade","E":1699123456789,"s":"BTCUSDT","t":12345,"p":"50000.00","q":"0.1","T":1699123456789,"m":false}`)

	res, err := a.Normalize("btcusdt@trade", payload, time.Now())
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	rec := res.Records[0]
	require.Equal(t, "binance", rec.Exchange)
	require.Equal(t, "BTC/USDT", rec.Symbol)
	require.Equal(t, model.DataTypeTrade, rec.Type)
	require.Equal(t, "12345", rec.Trade.ID)
	require.Equal(t, model.SideBuy, rec.Trade.Side)
	require.True(t, rec.Trade.Price.Equal(decimal.RequireFromString("50000.00")))
	require.Equal(t, "btcusdt@trade", rec.SourceTag)
}

func TestBinanceAdapter_MakerBuyerIsSell(t *testing.T) {
	a := NewBinanceAdapter()
	payload := []byte(`{"e":"trade","E":1,"s":"BTCUSDT","t":1,"p":"1","q":"1","T":1,"m":true}`)

	res, err := a.Normalize("btcusdt@trade", payload, time.Now())
	require.NoError(t, err)
	require.Equal(t, model.SideSell, res.Records[0].Trade.Side)
}

func TestBinanceAdapter_MalformedNumeric(t *testing.T) {
	a := NewBinanceAdapter()
	payload := []byte(`{"e":"trade","E":1,"s":"BTCUSDT","t":1,"p":"invalid-price","q":"1","T":1,"m":false}`)

	res, err := a.Normalize("btcusdt@trade", payload, time.Now())
	require.Error(t, err)
	require.Empty(t, res.Records)
}

func TestBinanceAdapter_UnknownEventSkipped(t *testing.T) {
	a := NewBinanceAdapter()
	res, err := a.Normalize("x", []byte(`{"e":"someFutureEvent","s":"BTCUSDT"}`), time.Now())
	require.NoError(t, err)
	require.True(t, res.Skipped)
	require.Equal(t, "unknown_event", res.SkipReason)
}

func TestRegistry_DispatchUnassociatedFrame(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewBinanceAdapter())

	frame := []byte(`{"data":{"e":"trade","E":1,"s":"BTCUSDT","t":1,"p":"1","q":"1","T":1,"m":false}}`)
	_, err := reg.Dispatch("binance", frame, time.Now(), true)
	require.Error(t, err)
}

func TestRegistry_DispatchCombinedStreamFrame(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewBinanceAdapter())

	frame := []byte(`{"stream":"btcusdt@trade","data":{"e":"trade","E":1,"s":"BTCUSDT","t":1,"p":"1","q":"1","T":1,"m":false}}`)
	res, err := reg.Dispatch("binance", frame, time.Now(), true)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
}
