package htx

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/crossspread/md-ingest/internal/model"
)

func TestNewConstructsWithoutNetworkCalls(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.ID() != model.VenueHTX {
		t.Fatalf("expected venue id %q, got %q", model.VenueHTX, c.ID())
	}
}

func TestParseIntInvalidFallsBackToZero(t *testing.T) {
	if got := parseInt("garbage"); got != 0 {
		t.Fatalf("expected 0 for invalid input, got %d", got)
	}
}

func TestParseDecimalInvalidFallsBackToZero(t *testing.T) {
	if got := parseDecimal("garbage"); !got.Equal(decimal.Zero) {
		t.Fatalf("expected zero for invalid input, got %s", got)
	}
}

func TestHandleMessageStripsChannelAndEmits(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var got model.OrderBook
	received := false
	c.SetOrderbookHandler(func(ob model.OrderBook) {
		got = ob
		received = true
	})

	payload := []byte(`{"ch":"market.BTC-USDT.depth.step0","ts":1700000000000,"tick":{"bids":[[100.0,1.0]],"asks":[[101.0,2.0]]}}`)
	c.handleMessage(context.Background(), payload)

	if !received {
		t.Fatal("expected orderbook handler to be invoked")
	}
	if got.Symbol != "BTC-USDT" {
		t.Fatalf("expected symbol BTC-USDT after stripping channel wrapper, got %s", got.Symbol)
	}
	if !got.IsSnapshot {
		t.Fatal("expected depth.step0 frames to always be marked as snapshots")
	}
}

func TestHandleMessageIgnoresFramesWithoutChannel(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	called := false
	c.SetOrderbookHandler(func(model.OrderBook) { called = true })

	c.handleMessage(context.Background(), []byte(`{"ping":1700000000000}`))

	if called {
		t.Fatal("expected a frame without a channel to be ignored")
	}
}
