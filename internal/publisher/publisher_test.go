package publisher

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crossspread/md-ingest/internal/model"
)

// newUnreachable points at a loopback port nothing is listening on, so
// every call exercises the error-wrapping path without requiring a live
// Redis instance in the test environment.
func newUnreachable(t *testing.T) *Publisher {
	t.Helper()
	return New(Config{Addr: "127.0.0.1:1"})
}

func TestPublishOrderbookWrapsConnectionFailure(t *testing.T) {
	p := newUnreachable(t)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	ob := model.NewSnapshot(model.VenueBinance, "BTCUSDT", "BTC-USDT-PERP",
		[]model.PriceLevel{{Price: decimal.NewFromInt(99), Quantity: decimal.NewFromInt(1)}},
		[]model.PriceLevel{{Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(1)}},
		1, time.Now())

	err := p.PublishOrderbook(ctx, ob)
	if err == nil {
		t.Fatal("expected a connection error against an unreachable address")
	}
}

func TestPublishTradeWrapsConnectionFailure(t *testing.T) {
	p := newUnreachable(t)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	trade := model.Trade{
		Venue:     model.VenueBinance,
		Symbol:    "BTCUSDT",
		Canonical: "BTC-USDT-PERP",
		TradeID:   "1",
		Price:     decimal.NewFromInt(100),
		Quantity:  decimal.NewFromInt(1),
		Side:      model.TradeSideBuy,
		VenueTime: time.Now(),
		RecvTime:  time.Now(),
	}

	if err := p.PublishTrade(ctx, trade); err == nil {
		t.Fatal("expected a connection error against an unreachable address")
	}
}

func TestSetSpreadWrapsConnectionFailure(t *testing.T) {
	p := newUnreachable(t)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	spread := model.PreliminarySpread{
		ID:        model.SpreadID("BTC-USDT-PERP", model.VenueBinance, model.VenueBybit),
		Canonical: "BTC-USDT-PERP",
	}

	if err := p.SetSpread(ctx, spread.ID, spread); err == nil {
		t.Fatal("expected a connection error against an unreachable address")
	}
}
