package adapter

import (
	"time"

	"github.com/sawpanic/mdcollector/internal/observability"
)

// KrakenAdapter is the second entry in the multi-venue registry named in
// SPEC_FULL.md §12: it proves the Registry dispatches by venue rather than
// a hardcoded Binance path, without fully building out a venue the spec
// does not name as a delivery target. Its wire format (array-based frames)
// differs enough from Binance's object frames that a faithful decode is
// left to a future venue expansion.
type KrakenAdapter struct{}

func NewKrakenAdapter() *KrakenAdapter { return &KrakenAdapter{} }

func (a *KrakenAdapter) Venue() string { return "kraken" }

func (a *KrakenAdapter) Normalize(streamKey string, payload []byte, receivedAt time.Time) (Result, error) {
	return Result{}, ClassifiedParseError(a.Venue(), observability.ErrUnknownEvent, "", errKrakenUnsupported)
}

type krakenUnsupportedErr struct{}

func (krakenUnsupportedErr) Error() string {
	return "adapter: kraken frame decoding is not yet implemented"
}

var errKrakenUnsupported = krakenUnsupportedErr{}
