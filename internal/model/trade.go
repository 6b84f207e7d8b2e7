package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeSide is the taker side of a trade print.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

// Trade is a single normalized trade print emitted by a venue's streaming feed.
type Trade struct {
	Venue     VenueId         `json:"venue"`
	Symbol    string          `json:"symbol"`
	Canonical string          `json:"canonical"`
	TradeID   string          `json:"trade_id"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Side      TradeSide       `json:"side"`
	VenueTime time.Time       `json:"venue_time"`
	RecvTime  time.Time       `json:"recv_time"`
}
