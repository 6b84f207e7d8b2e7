// Package model holds the venue-agnostic data types shared across the
// ingest pipeline: instruments, tickers, funding rates, order books, and the
// spread inventory. All monetary values use decimal.Decimal for precision;
// all timestamps are host wall-clock unless noted.
package model

// VenueId identifies one of the supported trading venues.
type VenueId string

const (
	VenueBinance VenueId = "binance"
	VenueBybit   VenueId = "bybit"
	VenueOKX     VenueId = "okx"
	VenueKuCoin  VenueId = "kucoin"
	VenueMEXC    VenueId = "mexc"
	VenueBitget  VenueId = "bitget"
	VenueGateIO  VenueId = "gateio"
	VenueBingX   VenueId = "bingx"
	VenueCoinEx  VenueId = "coinex"
	VenueLBank   VenueId = "lbank"
	VenueHTX     VenueId = "htx"
)

// AllVenues lists every venue this module implements a connector for.
var AllVenues = []VenueId{
	VenueBinance, VenueBybit, VenueOKX, VenueKuCoin, VenueMEXC,
	VenueBitget, VenueGateIO, VenueBingX, VenueCoinEx, VenueLBank, VenueHTX,
}

// ParseVenueId maps a lower-cased venue name from configuration to a VenueId.
func ParseVenueId(s string) (VenueId, bool) {
	for _, v := range AllVenues {
		if string(v) == s {
			return v, true
		}
	}
	return "", false
}
