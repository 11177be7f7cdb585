package exchange

import (
	"sort"
	"strings"

	"github.com/sawpanic/mdcollector/internal/model"
)

// URLScheme builds the upstream URL from the active stream-key set per
// spec §4.1: empty set uses the base path, a single key uses the
// single-stream path, and multiple keys use the combined-stream path with
// keys joined by the exchange-defined separator in deterministic
// (lexicographic) order.
type URLScheme struct {
	BaseURL          string // e.g. "wss://stream.binance.com:9443"
	SingleStreamPath string // e.g. "/ws/"
	CombinedPath     string // e.g. "/stream?streams="
	Separator        string // e.g. "/"
}

// DefaultBinanceScheme matches the wire protocol named in spec §6.
func DefaultBinanceScheme(baseURL string) URLScheme {
	return URLScheme{
		BaseURL:          baseURL,
		SingleStreamPath: "/ws/",
		CombinedPath:     "/stream?streams=",
		Separator:        "/",
	}
}

// BuildURL renders the URL for the given key set. Keys are sorted
// lexicographically before joining so the resulting URL is deterministic
// regardless of map/set iteration order upstream.
func (s URLScheme) BuildURL(keys []model.StreamKey) string {
	if len(keys) == 0 {
		return s.BaseURL
	}
	sorted := make([]string, len(keys))
	for i, k := range keys {
		sorted[i] = string(k)
	}
	sort.Strings(sorted)

	if len(sorted) == 1 {
		return s.BaseURL + s.SingleStreamPath + sorted[0]
	}
	return s.BaseURL + s.CombinedPath + strings.Join(sorted, s.Separator)
}
