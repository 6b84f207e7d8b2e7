package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func lvl(price, qty float64) PriceLevel {
	return PriceLevel{Price: decimal.NewFromFloat(price), Quantity: decimal.NewFromFloat(qty)}
}

func TestNewSnapshotSortsAndComputesTopOfBook(t *testing.T) {
	ob := NewSnapshot(VenueBinance, "BTCUSDT", "BTC-USDT-PERP",
		[]PriceLevel{lvl(100, 1), lvl(102, 1), lvl(101, 1)},
		[]PriceLevel{lvl(105, 1), lvl(103, 1), lvl(104, 1)},
		1, time.Now())

	for i := 1; i < len(ob.Bids); i++ {
		if !ob.Bids[i-1].Price.GreaterThan(ob.Bids[i].Price) {
			t.Fatalf("bids not strictly descending: %+v", ob.Bids)
		}
	}
	for i := 1; i < len(ob.Asks); i++ {
		if !ob.Asks[i-1].Price.LessThan(ob.Asks[i].Price) {
			t.Fatalf("asks not strictly ascending: %+v", ob.Asks)
		}
	}
	if !ob.BestBid.Equal(decimal.NewFromFloat(102)) {
		t.Errorf("expected best bid 102, got %s", ob.BestBid)
	}
	if !ob.BestAsk.Equal(decimal.NewFromFloat(103)) {
		t.Errorf("expected best ask 103, got %s", ob.BestAsk)
	}
	if !ob.BestBid.LessThan(ob.BestAsk) {
		t.Errorf("expected best bid < best ask")
	}
	wantSpreadBps := ob.BestAsk.Sub(ob.BestBid).Div(ob.BestBid).Mul(decimal.NewFromInt(10000))
	if !ob.SpreadBps.Equal(wantSpreadBps) {
		t.Errorf("spread_bps mismatch: got %s want %s", ob.SpreadBps, wantSpreadBps)
	}
}

func TestApplyDeltaZeroQuantityDeletes(t *testing.T) {
	ob := NewSnapshot(VenueBinance, "BTCUSDT", "BTC-USDT-PERP",
		[]PriceLevel{lvl(100, 1), lvl(99, 1)},
		[]PriceLevel{lvl(101, 1)},
		1, time.Now())

	ob.ApplyDelta([]PriceLevel{{Price: decimal.NewFromFloat(100), Quantity: decimal.Zero}}, nil, 2, time.Now())

	for _, b := range ob.Bids {
		if b.Price.Equal(decimal.NewFromFloat(100)) {
			t.Fatalf("expected level 100 to be deleted, still present: %+v", ob.Bids)
		}
	}
	if !ob.BestBid.Equal(decimal.NewFromFloat(99)) {
		t.Errorf("expected best bid to fall back to 99, got %s", ob.BestBid)
	}
}

func TestApplyDeltaDeleteOfAbsentLevelIsNoop(t *testing.T) {
	ob := NewSnapshot(VenueBinance, "BTCUSDT", "BTC-USDT-PERP",
		[]PriceLevel{lvl(100, 1)}, []PriceLevel{lvl(101, 1)}, 1, time.Now())
	before := len(ob.Bids)

	ob.ApplyDelta([]PriceLevel{{Price: decimal.NewFromFloat(50), Quantity: decimal.Zero}}, nil, 2, time.Now())

	if len(ob.Bids) != before {
		t.Fatalf("expected no-op, bids changed from %d to %d", before, len(ob.Bids))
	}
}

func TestSnapshotThenZeroDeltasIsIdempotent(t *testing.T) {
	ts := time.Now()
	ob := NewSnapshot(VenueBinance, "BTCUSDT", "BTC-USDT-PERP",
		[]PriceLevel{lvl(100, 1)}, []PriceLevel{lvl(101, 1)}, 1, ts)
	before := ob

	ob.ApplyDelta(nil, nil, 2, ts)

	if !ob.BestBid.Equal(before.BestBid) || !ob.BestAsk.Equal(before.BestAsk) || !ob.SpreadBps.Equal(before.SpreadBps) {
		t.Fatalf("expected unchanged top-of-book after zero deltas")
	}
}

func TestDepthUSDSumsTopNLevels(t *testing.T) {
	levels := []PriceLevel{lvl(100, 2), lvl(99, 3), lvl(98, 100)}
	got := DepthUSD(levels, 2)
	want := decimal.NewFromFloat(100 * 2).Add(decimal.NewFromFloat(99 * 3))
	if !got.Equal(want) {
		t.Errorf("expected depth %s, got %s", want, got)
	}
}
