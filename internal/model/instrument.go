package model

import "github.com/shopspring/decimal"

// InstrumentKind distinguishes the contract kind; this module only discovers
// perpetuals (spec scope excludes quarterlies/options).
type InstrumentKind string

const (
	KindPerpetual InstrumentKind = "perpetual"
)

// Instrument describes one tradable perpetual contract on one venue.
type Instrument struct {
	Venue              VenueId         `json:"venue"`
	Symbol             string          `json:"symbol"`
	Canonical          string          `json:"canonical"`
	BaseAsset          string          `json:"base_asset"`
	QuoteAsset         string          `json:"quote_asset"`
	Kind               InstrumentKind  `json:"kind"`
	TickSize           decimal.Decimal `json:"tick_size"`
	LotSize            decimal.Decimal `json:"lot_size"`
	ContractMultiplier decimal.Decimal `json:"contract_multiplier"`
	MakerFee           decimal.Decimal `json:"maker_fee"`
	TakerFee           decimal.Decimal `json:"taker_fee"`
	MinNotional        decimal.Decimal `json:"min_notional"`
}

// PriceTicker is a single venue's view of a symbol's last traded price and
// top-of-book, refreshed on every REST cycle.
type PriceTicker struct {
	Venue     VenueId         `json:"venue"`
	Symbol    string          `json:"symbol"`
	Canonical string          `json:"canonical"`
	Last      decimal.Decimal `json:"last"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Volume24h decimal.Decimal `json:"volume_24h"`
	Timestamp int64           `json:"timestamp"`
}

// FundingRate is the periodic funding payment rate for a perpetual.
type FundingRate struct {
	Venue           VenueId         `json:"venue"`
	Symbol          string          `json:"symbol"`
	Canonical       string          `json:"canonical"`
	Rate            decimal.Decimal `json:"rate"`
	NextFundingTime int64           `json:"next_funding_time"`
	IntervalHours   int             `json:"interval_hours"`
	Timestamp       int64           `json:"timestamp"`
}

// AssetInfo carries deposit/withdraw availability for a base asset on a venue.
type AssetInfo struct {
	Venue            VenueId         `json:"venue"`
	BaseAsset        string          `json:"base_asset"`
	DepositEnabled   bool            `json:"deposit_enabled"`
	WithdrawEnabled  bool            `json:"withdraw_enabled"`
	WithdrawFee      decimal.Decimal `json:"withdraw_fee"`
	MinWithdraw      decimal.Decimal `json:"min_withdraw"`
	Timestamp        int64           `json:"timestamp"`
}

// DegradedAssetInfo returns the fallback AssetInfo spec.md §4.2 mandates when
// a venue requires authenticated endpoints for full detail: an active
// contract is assumed to mean deposits and withdrawals are enabled, at zero
// fee, until an authenticated fetch proves otherwise.
func DegradedAssetInfo(venue VenueId, baseAsset string, now int64) AssetInfo {
	return AssetInfo{
		Venue:           venue,
		BaseAsset:       baseAsset,
		DepositEnabled:  true,
		WithdrawEnabled: true,
		WithdrawFee:     decimal.Zero,
		MinWithdraw:     decimal.Zero,
		Timestamp:       now,
	}
}
