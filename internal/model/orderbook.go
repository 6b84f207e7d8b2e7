package model

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel is one level of an order book side. Immutable within a snapshot.
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// OrderBook is the normalized, continuously-mutated view of one (venue,
// symbol) book. Bids are strictly price-descending, asks strictly
// price-ascending; every level has quantity > 0 (a zero-quantity update is a
// deletion and never appears in Bids/Asks itself).
type OrderBook struct {
	Venue      VenueId      `json:"venue"`
	Symbol     string       `json:"symbol"`
	Canonical  string       `json:"canonical"`
	Bids       []PriceLevel `json:"bids"`
	Asks       []PriceLevel `json:"asks"`
	BestBid    decimal.Decimal `json:"best_bid"`
	BestAsk    decimal.Decimal `json:"best_ask"`
	SpreadBps  decimal.Decimal `json:"spread_bps"`
	SequenceID int64        `json:"sequence_id"`
	Timestamp  time.Time    `json:"timestamp"`
	IsSnapshot bool         `json:"is_snapshot"`
}

// NewSnapshot builds an OrderBook from a full snapshot, replacing any prior
// state. Levels are sorted and zero-quantity levels are dropped (a snapshot
// never legitimately contains them, but defensive against malformed feeds).
func NewSnapshot(venue VenueId, symbol, canonical string, bids, asks []PriceLevel, sequenceID int64, ts time.Time) OrderBook {
	ob := OrderBook{
		Venue:      venue,
		Symbol:     symbol,
		Canonical:  canonical,
		SequenceID: sequenceID,
		Timestamp:  ts,
		IsSnapshot: true,
	}
	ob.Bids = sortedNonZero(bids, true)
	ob.Asks = sortedNonZero(asks, false)
	ob.recompute()
	return ob
}

// ApplyDelta applies incremental level updates: a positive quantity sets or
// updates that price level, a zero quantity deletes it. The result is
// re-sorted and top-of-book/spread-bps are recomputed. Deleting a
// non-existent level is a no-op for that level.
func (ob *OrderBook) ApplyDelta(bidUpdates, askUpdates []PriceLevel, sequenceID int64, ts time.Time) {
	ob.Bids = applyLevels(ob.Bids, bidUpdates, true)
	ob.Asks = applyLevels(ob.Asks, askUpdates, false)
	ob.SequenceID = sequenceID
	ob.Timestamp = ts
	ob.IsSnapshot = false
	ob.recompute()
}

func applyLevels(current, updates []PriceLevel, descending bool) []PriceLevel {
	byPrice := make(map[string]PriceLevel, len(current)+len(updates))
	for _, lvl := range current {
		byPrice[lvl.Price.String()] = lvl
	}
	for _, u := range updates {
		key := u.Price.String()
		if u.Quantity.IsZero() || u.Quantity.IsNegative() {
			delete(byPrice, key)
			continue
		}
		byPrice[key] = u
	}
	out := make([]PriceLevel, 0, len(byPrice))
	for _, lvl := range byPrice {
		out = append(out, lvl)
	}
	sortLevels(out, descending)
	return out
}

func sortedNonZero(levels []PriceLevel, descending bool) []PriceLevel {
	out := make([]PriceLevel, 0, len(levels))
	for _, lvl := range levels {
		if lvl.Quantity.IsPositive() {
			out = append(out, lvl)
		}
	}
	sortLevels(out, descending)
	return out
}

func sortLevels(levels []PriceLevel, descending bool) {
	sort.Slice(levels, func(i, j int) bool {
		if descending {
			return levels[i].Price.GreaterThan(levels[j].Price)
		}
		return levels[i].Price.LessThan(levels[j].Price)
	})
}

// recompute sets BestBid/BestAsk/SpreadBps from the current Bids/Asks. When
// either side is empty the corresponding fields are left at zero, matching
// spec.md's invariant that spread_bps is only defined with both sides present.
func (ob *OrderBook) recompute() {
	if len(ob.Bids) > 0 {
		ob.BestBid = ob.Bids[0].Price
	} else {
		ob.BestBid = decimal.Zero
	}
	if len(ob.Asks) > 0 {
		ob.BestAsk = ob.Asks[0].Price
	} else {
		ob.BestAsk = decimal.Zero
	}
	if len(ob.Bids) > 0 && len(ob.Asks) > 0 && ob.BestBid.IsPositive() {
		ob.SpreadBps = ob.BestAsk.Sub(ob.BestBid).Div(ob.BestBid).Mul(decimal.NewFromInt(10000))
	} else {
		ob.SpreadBps = decimal.Zero
	}
}

// DepthUSD sums price*quantity over the top n levels of one side.
func DepthUSD(levels []PriceLevel, n int) decimal.Decimal {
	total := decimal.Zero
	for i, lvl := range levels {
		if i >= n {
			break
		}
		total = total.Add(lvl.Price.Mul(lvl.Quantity))
	}
	return total
}
