package adapter

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/mdcollector/internal/model"
	"github.com/sawpanic/mdcollector/internal/observability"
)

// BinanceAdapter normalizes Binance combined-stream frames per the wire
// protocol in spec §6: event type from data.e, fields read by their
// exchange-native short names (E, s, t, p, q, m, T, k.*, b/a, c/b/a/P/v/h/l).
type BinanceAdapter struct {
	QuoteAssets []string
}

// NewBinanceAdapter builds a BinanceAdapter using model.DefaultQuoteAssets
// for symbol canonicalization unless overridden.
func NewBinanceAdapter() *BinanceAdapter {
	return &BinanceAdapter{QuoteAssets: model.DefaultQuoteAssets}
}

func (a *BinanceAdapter) Venue() string { return "binance" }

type binanceEventHeader struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
}

func (a *BinanceAdapter) Normalize(streamKey string, payload []byte, receivedAt time.Time) (Result, error) {
	var header binanceEventHeader
	if err := json.Unmarshal(payload, &header); err != nil {
		return Result{}, ClassifiedParseError(a.Venue(), observability.ErrMalformedFrame, "", err)
	}

	switch header.EventType {
	case "trade":
		return a.normalizeTrade(streamKey, payload, header, receivedAt)
	case "24hrTicker", "24hrMiniTicker":
		return a.normalizeTicker(streamKey, payload, header, receivedAt)
	case "kline":
		return a.normalizeKline(streamKey, payload, header, receivedAt)
	case "depthUpdate":
		return a.normalizeDepth(streamKey, payload, header, receivedAt)
	case "":
		// bookTicker frames and a few others omit "e" entirely; without an
		// event-type tag to classify by, treat as unknown rather than guess.
		return Result{Skipped: true, SkipReason: "unknown_event"}, nil
	default:
		return Result{Skipped: true, SkipReason: "unknown_event"}, nil
	}
}

func (a *BinanceAdapter) canonicalSymbol(native string) (string, error) {
	return model.CanonicalSymbol(native, a.QuoteAssets)
}

type binanceTrade struct {
	Symbol       string          `json:"s"`
	TradeID      json.Number     `json:"t"`
	Price        decimal.Decimal `json:"p"`
	Quantity     decimal.Decimal `json:"q"`
	TradeTime    int64           `json:"T"`
	IsMakerBuyer bool            `json:"m"`
}

func (a *BinanceAdapter) normalizeTrade(streamKey string, payload []byte, header binanceEventHeader, receivedAt time.Time) (Result, error) {
	var t binanceTrade
	if err := json.Unmarshal(payload, &t); err != nil {
		return Result{}, a.classifyDecodeErr(err)
	}
	if t.Symbol == "" {
		return Result{}, ClassifiedParseError(a.Venue(), observability.ErrMissingField, "s", nil)
	}
	symbol, err := a.canonicalSymbol(t.Symbol)
	if err != nil {
		return Result{}, ClassifiedParseError(a.Venue(), observability.ErrMissingField, "s", err)
	}

	side := model.SideBuy
	if t.IsMakerBuyer {
		// maker-buy implies the taker sold into the bid.
		side = model.SideSell
	}

	ts := header.EventTime
	if t.TradeTime != 0 {
		ts = t.TradeTime
	}

	rec := &model.Record{
		Exchange:   "binance",
		Symbol:     symbol,
		Type:       model.DataTypeTrade,
		Timestamp:  ts,
		ReceivedAt: receivedAt.UnixMilli(),
		SourceTag:  streamKey,
		Trade: &model.TradePayload{
			ID:        t.TradeID.String(),
			Price:     t.Price,
			Quantity:  t.Quantity,
			Side:      side,
			Timestamp: ts,
		},
	}
	return Result{Records: []*model.Record{rec}}, nil
}

type binanceTicker struct {
	Symbol string          `json:"s"`
	Last   decimal.Decimal `json:"c"`
	Bid    decimal.Decimal `json:"b"`
	Ask    decimal.Decimal `json:"a"`
	Change decimal.Decimal `json:"P"`
	Volume decimal.Decimal `json:"v"`
	High   decimal.Decimal `json:"h"`
	Low    decimal.Decimal `json:"l"`
}

func (a *BinanceAdapter) normalizeTicker(streamKey string, payload []byte, header binanceEventHeader, receivedAt time.Time) (Result, error) {
	var tk binanceTicker
	if err := json.Unmarshal(payload, &tk); err != nil {
		return Result{}, a.classifyDecodeErr(err)
	}
	if tk.Symbol == "" {
		return Result{}, ClassifiedParseError(a.Venue(), observability.ErrMissingField, "s", nil)
	}
	symbol, err := a.canonicalSymbol(tk.Symbol)
	if err != nil {
		return Result{}, ClassifiedParseError(a.Venue(), observability.ErrMissingField, "s", err)
	}

	rec := &model.Record{
		Exchange:   "binance",
		Symbol:     symbol,
		Type:       model.DataTypeTicker,
		Timestamp:  header.EventTime,
		ReceivedAt: receivedAt.UnixMilli(),
		SourceTag:  streamKey,
		Ticker: &model.TickerPayload{
			Last: tk.Last, Bid: tk.Bid, Ask: tk.Ask,
			Change: tk.Change, Volume: tk.Volume, High: tk.High, Low: tk.Low,
		},
	}
	return Result{Records: []*model.Record{rec}}, nil
}

type binanceKlineBody struct {
	OpenTime  int64           `json:"t"`
	CloseTime int64           `json:"T"`
	Interval  string          `json:"i"`
	Open      decimal.Decimal `json:"o"`
	Close     decimal.Decimal `json:"c"`
	High      decimal.Decimal `json:"h"`
	Low       decimal.Decimal `json:"l"`
	Volume    decimal.Decimal `json:"v"`
	Closed    bool            `json:"x"`
}

type binanceKline struct {
	Symbol string           `json:"s"`
	K      binanceKlineBody `json:"k"`
}

var klineIntervalToDataType = map[string]model.DataType{
	"1m":  model.DataTypeKline1m,
	"5m":  model.DataTypeKline5m,
	"15m": model.DataTypeKline15m,
	"1h":  model.DataTypeKline1h,
	"4h":  model.DataTypeKline4h,
	"1d":  model.DataTypeKline1d,
}

func (a *BinanceAdapter) normalizeKline(streamKey string, payload []byte, header binanceEventHeader, receivedAt time.Time) (Result, error) {
	var k binanceKline
	if err := json.Unmarshal(payload, &k); err != nil {
		return Result{}, a.classifyDecodeErr(err)
	}
	if k.Symbol == "" {
		return Result{}, ClassifiedParseError(a.Venue(), observability.ErrMissingField, "s", nil)
	}
	symbol, err := a.canonicalSymbol(k.Symbol)
	if err != nil {
		return Result{}, ClassifiedParseError(a.Venue(), observability.ErrMissingField, "s", err)
	}
	dataType, ok := klineIntervalToDataType[k.K.Interval]
	if !ok {
		return Result{Skipped: true, SkipReason: "unknown_event"}, nil
	}

	rec := &model.Record{
		Exchange:   "binance",
		Symbol:     symbol,
		Type:       dataType,
		Timestamp:  header.EventTime,
		ReceivedAt: receivedAt.UnixMilli(),
		SourceTag:  streamKey,
		Kline: &model.KlinePayload{
			Open: k.K.Open, High: k.K.High, Low: k.K.Low, Close: k.K.Close, Volume: k.K.Volume,
			OpenTime: k.K.OpenTime, CloseTime: k.K.CloseTime, Interval: k.K.Interval, Closed: k.K.Closed,
		},
	}
	return Result{Records: []*model.Record{rec}}, nil
}

type binanceDepth struct {
	Symbol string             `json:"s"`
	Bids   [][2]decimal.Decimal `json:"b"`
	Asks   [][2]decimal.Decimal `json:"a"`
}

func (a *BinanceAdapter) normalizeDepth(streamKey string, payload []byte, header binanceEventHeader, receivedAt time.Time) (Result, error) {
	var d binanceDepth
	if err := json.Unmarshal(payload, &d); err != nil {
		return Result{}, a.classifyDecodeErr(err)
	}
	if d.Symbol == "" {
		return Result{}, ClassifiedParseError(a.Venue(), observability.ErrMissingField, "s", nil)
	}
	symbol, err := a.canonicalSymbol(d.Symbol)
	if err != nil {
		return Result{}, ClassifiedParseError(a.Venue(), observability.ErrMissingField, "s", err)
	}

	depth := &model.DepthPayload{
		Bids: make([]model.DepthLevel, len(d.Bids)),
		Asks: make([]model.DepthLevel, len(d.Asks)),
	}
	for i, lvl := range d.Bids {
		depth.Bids[i] = model.DepthLevel{Price: lvl[0], Quantity: lvl[1]}
	}
	for i, lvl := range d.Asks {
		depth.Asks[i] = model.DepthLevel{Price: lvl[0], Quantity: lvl[1]}
	}

	rec := &model.Record{
		Exchange:   "binance",
		Symbol:     symbol,
		Type:       model.DataTypeDepth,
		Timestamp:  header.EventTime,
		ReceivedAt: receivedAt.UnixMilli(),
		SourceTag:  streamKey,
		Depth:      depth,
	}
	return Result{Records: []*model.Record{rec}}, nil
}

// classifyDecodeErr distinguishes a numeric-parse failure (decimal.Decimal's
// UnmarshalJSON error) from any other structural decode failure, per the
// MALFORMED_NUMERIC vs. MISSING_FIELD split in spec §4.2.
func (a *BinanceAdapter) classifyDecodeErr(err error) error {
	if strings.Contains(err.Error(), "decimal") || strings.Contains(err.Error(), "can't convert") {
		return ClassifiedParseError(a.Venue(), observability.ErrMalformedNumeric, "", err)
	}
	return ClassifiedParseError(a.Venue(), observability.ErrMissingField, "", err)
}
