// Package model defines the canonical market-data record and the other
// cross-component value types described by the system's data model: the
// subscription entry, stream key, routing rule, topic name, and channel
// descriptor.
package model

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DataType tags the shape of a canonical record's payload.
type DataType string

const (
	DataTypeTrade     DataType = "trade"
	DataTypeTicker    DataType = "ticker"
	DataTypeKline1m   DataType = "kline_1m"
	DataTypeKline5m   DataType = "kline_5m"
	DataTypeKline15m  DataType = "kline_15m"
	DataTypeKline1h   DataType = "kline_1h"
	DataTypeKline4h   DataType = "kline_4h"
	DataTypeKline1d   DataType = "kline_1d"
	DataTypeDepth     DataType = "depth"
	DataTypeOrderBook DataType = "orderbook"
)

// Side is the taker side of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// TradePayload is the type-specific body of a DataTypeTrade record.
type TradePayload struct {
	ID        string          `json:"id"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Side      Side            `json:"side"`
	Timestamp int64           `json:"timestamp"`
}

// TickerPayload is the type-specific body of a DataTypeTicker record.
type TickerPayload struct {
	Last   decimal.Decimal `json:"last"`
	Bid    decimal.Decimal `json:"bid"`
	Ask    decimal.Decimal `json:"ask"`
	Change decimal.Decimal `json:"change"`
	Volume decimal.Decimal `json:"volume"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
}

// KlinePayload is the type-specific body of a kline_* record.
type KlinePayload struct {
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	OpenTime  int64           `json:"openTime"`
	CloseTime int64           `json:"closeTime"`
	Interval  string          `json:"interval"`
	Closed    bool            `json:"closed"`
}

// DepthLevel is one price/quantity level delta in a DataTypeDepth record. A
// zero Quantity denotes removal of the level.
type DepthLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// DepthPayload is the type-specific body of a DataTypeDepth record.
type DepthPayload struct {
	Bids []DepthLevel `json:"bids"`
	Asks []DepthLevel `json:"asks"`
}

// Record is the normalized output of C3: the canonical, language-neutral
// representation of one exchange event. Exactly one of the typed payload
// fields is populated, selected by Type.
type Record struct {
	Exchange   string   `json:"exchange"`
	Symbol     string   `json:"symbol"`
	Type       DataType `json:"type"`
	Timestamp  int64    `json:"timestamp"`  // event time, ms since epoch, source clock
	ReceivedAt int64    `json:"receivedAt"` // local receipt time, ms since epoch

	Trade  *TradePayload  `json:"trade,omitempty"`
	Ticker *TickerPayload `json:"ticker,omitempty"`
	Kline  *KlinePayload  `json:"kline,omitempty"`
	Depth  *DepthPayload  `json:"depth,omitempty"`

	SourceTag string `json:"-"` // stream key this record was decoded from, used for per-key ordering
}

// Key returns the (exchange, symbol, type) tuple used for per-key ordering,
// routing-cache lookups, and subscriber-cache indexing.
func (r *Record) Key() string {
	return fmt.Sprintf("%s|%s|%s", r.Exchange, r.Symbol, r.Type)
}

// CanonicalSymbol maps an exchange-native token (e.g. "BTCUSDT") to the
// system's BASE/QUOTE form (e.g. "BTC/USDT") using a table of known quote
// assets, longest first so "USDT" is preferred over a false "USD" split.
func CanonicalSymbol(native string, quoteAssets []string) (string, error) {
	upper := strings.ToUpper(native)
	for _, quote := range quoteAssets {
		if strings.HasSuffix(upper, quote) && len(upper) > len(quote) {
			base := upper[:len(upper)-len(quote)]
			return base + "/" + quote, nil
		}
	}
	return "", fmt.Errorf("model: no known quote asset suffix for symbol %q", native)
}

// DefaultQuoteAssets is the longest-first quote-asset table used when an
// adapter does not supply its own.
var DefaultQuoteAssets = []string{"USDT", "BUSD", "USDC", "TUSD", "BTC", "ETH", "BNB", "USD", "EUR"}
