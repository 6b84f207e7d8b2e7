package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PreliminarySpread is a candidate long/short pairing between two venues
// trading the same canonical symbol. Replaced wholesale on each discovery
// cycle; never mutated field-by-field except for the live-correction path in
// internal/spread, which recomputes it in place.
type PreliminarySpread struct {
	ID                   string          `json:"id"`
	Canonical            string          `json:"canonical"`
	LongVenue            VenueId         `json:"long_exchange"`
	ShortVenue           VenueId         `json:"short_exchange"`
	LongSymbol           string          `json:"long_symbol"`
	ShortSymbol          string          `json:"short_symbol"`
	LongPrice            decimal.Decimal `json:"long_price"`
	ShortPrice           decimal.Decimal `json:"short_price"`
	SpreadPercent        decimal.Decimal `json:"spread_percent"`
	SpreadBps            decimal.Decimal `json:"spread_bps"`
	LongFunding          decimal.Decimal `json:"long_funding"`
	ShortFunding         decimal.Decimal `json:"short_funding"`
	NetFunding           decimal.Decimal `json:"net_funding"`
	LongDepositEnabled   bool            `json:"long_deposit_enabled"`
	ShortWithdrawEnabled bool            `json:"short_withdraw_enabled"`
	EstimatedPnLBps      decimal.Decimal `json:"estimated_pnl_bps"`
	LongDepthUSD         decimal.Decimal `json:"long_depth_usd"`
	ShortDepthUSD        decimal.Decimal `json:"short_depth_usd"`
	MinDepthUSD          decimal.Decimal `json:"min_depth_usd"`
	Volume24h            decimal.Decimal `json:"volume_24h"`
	Score                decimal.Decimal `json:"score"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// SpreadID builds the canonical:long:short key used throughout the pipeline.
func SpreadID(canonical string, long, short VenueId) string {
	return canonical + ":" + string(long) + ":" + string(short)
}

// SpreadInventory is the singleton, atomically-replaced ranked view produced
// by each discovery cycle.
type SpreadInventory struct {
	Spreads   []PreliminarySpread `json:"spreads"`
	Count     int                 `json:"count"`
	Timestamp time.Time           `json:"timestamp"`
}
