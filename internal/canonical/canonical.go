// Package canonical implements the venue-native <-> canonical symbol
// mapping. Every function here is pure: no I/O, no shared state, safe to
// call concurrently from any number of goroutines.
package canonical

import (
	"strings"

	"github.com/crossspread/md-ingest/internal/model"
)

// shape describes how one venue spells its native perpetual symbols.
type shape struct {
	separator   string // "" , "-", "_"
	suffix      string // appended after quote, e.g. "-SWAP", "M"
	lower       bool
	toCanonical map[string]string // venue-native base -> canonical base (aliases)
	fromVenue   map[string]string // canonical base -> venue-native base (aliases)
	quotes      []string          // recognized quote assets, longest first
}

var shapes = map[model.VenueId]shape{
	model.VenueBinance: {separator: "", quotes: []string{"USDT", "USDC"}},
	model.VenueBybit:   {separator: "", quotes: []string{"USDT", "USDC"}},
	model.VenueOKX:     {separator: "-", suffix: "-SWAP", quotes: []string{"USDT", "USDC"}},
	model.VenueKuCoin: {
		separator:   "",
		suffix:      "M",
		quotes:      []string{"USDT"},
		toCanonical: map[string]string{"XBT": "BTC"},
		fromVenue:   map[string]string{"BTC": "XBT"},
	},
	model.VenueMEXC:   {separator: "_", quotes: []string{"USDT", "USDC"}},
	model.VenueBitget:  {separator: "", quotes: []string{"USDT", "USDC"}},
	model.VenueGateIO:  {separator: "_", quotes: []string{"USDT", "USDC"}},
	model.VenueBingX:   {separator: "-", quotes: []string{"USDT", "USDC"}},
	model.VenueCoinEx:  {separator: "", quotes: []string{"USDT", "USDC"}},
	model.VenueLBank:   {separator: "_", lower: true, quotes: []string{"usdt", "usdc"}},
	model.VenueHTX:     {separator: "-", quotes: []string{"USDT", "USDC"}},
}

const perpSuffix = "-PERP"

// ToCanonical maps a venue-native symbol to its canonical form
// (e.g. "BTC-USDT-PERP"). Returns false if native is not a recognized
// perpetual shape for the venue.
func ToCanonical(venue model.VenueId, native string) (string, bool) {
	sh, ok := shapes[venue]
	if !ok {
		return "", false
	}

	s := native
	if sh.lower {
		s = strings.ToUpper(s)
	}
	s = strings.TrimSuffix(s, strings.ToUpper(sh.suffix))

	base, quote, ok := splitBaseQuote(s, sh)
	if !ok {
		return "", false
	}

	if alias, ok := sh.toCanonical[base]; ok {
		base = alias
	}

	return base + "-" + quote + perpSuffix, true
}

// FromCanonical constructs the venue-native symbol for a canonical symbol.
// Total on any canonical produced by ToCanonical for the same venue.
func FromCanonical(venue model.VenueId, canonical string) (string, bool) {
	sh, ok := shapes[venue]
	if !ok {
		return "", false
	}

	s := strings.TrimSuffix(canonical, perpSuffix)
	if s == canonical {
		return "", false
	}
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return "", false
	}
	base, quote := parts[0], parts[1]

	if alias, ok := sh.fromVenue[base]; ok {
		base = alias
	}

	native := base + sh.separator + quote + sh.suffix
	if sh.lower {
		native = strings.ToLower(native)
	}
	return native, true
}

// splitBaseQuote separates a (suffix-stripped) native symbol into base and
// quote asset, using the venue's separator when present or matching against
// the venue's recognized quote-asset list when symbols are concatenated
// (e.g. Binance's "BTCUSDT").
func splitBaseQuote(s string, sh shape) (base, quote string, ok bool) {
	if sh.separator != "" {
		parts := strings.Split(s, sh.separator)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return "", "", false
		}
		return strings.ToUpper(parts[0]), strings.ToUpper(parts[1]), true
	}

	upper := strings.ToUpper(s)
	for _, q := range sh.quotes {
		q = strings.ToUpper(q)
		if strings.HasSuffix(upper, q) && len(upper) > len(q) {
			return upper[:len(upper)-len(q)], q, true
		}
	}
	return "", "", false
}
