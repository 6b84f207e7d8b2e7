package gateio

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
	if c.ID() != model.VenueGateIO {
		t.Fatalf("expected venue id %q, got %q", model.VenueGateIO, c.ID())
	}
}

func TestParseDecimalInvalidFallsBackToZero(t *testing.T) {
	if got := parseDecimal("garbage"); !got.Equal(decimal.Zero) {
		t.Fatalf("expected zero for invalid input, got %s", got)
	}
}

func TestHandleMessageEmitsOrderbookOnUpdateEvent(t *testing.T) {
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

	payload := []byte(`{"channel":"futures.order_book_update","event":"update","result":{"t":1700000000000,"s":"BTC_USDT","u":11,"b":[["100.0","1.0"]],"a":[["101.0","2.0"]]}}`)
	c.handleMessage(context.Background(), payload)

	if !received {
		t.Fatal("expected orderbook handler to be invoked")
	}
	if got.Canonical != "BTC-USDT-PERP" {
		t.Fatalf("expected canonical BTC-USDT-PERP, got %s", got.Canonical)
	}
	if got.IsSnapshot {
		t.Fatal("expected order_book_update frames to be incremental, not snapshots")
	}
}

func TestHandleMessageEmitsTradeOnTradesChannel(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var got model.Trade
	received := false
	c.SetTradeHandler(func(tr model.Trade) {
		got = tr
		received = true
	})

	payload := []byte(`{"channel":"futures.trades","event":"update","result":[{"id":1,"create_time_ms":1700000000000,"contract":"BTC_USDT","size":-2,"price":"100.5"}]}`)
	c.handleMessage(context.Background(), payload)

	if !received {
		t.Fatal("expected trade handler to be invoked")
	}
	if got.Canonical != "BTC-USDT-PERP" {
		t.Fatalf("expected canonical BTC-USDT-PERP, got %s", got.Canonical)
	}
	if got.Side != model.TradeSideSell {
		t.Fatalf("expected negative size to map to sell side, got %s", got.Side)
	}
	if !got.Quantity.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected absolute quantity 2, got %s", got.Quantity)
	}
}

func TestHandleMessageIgnoresSubscribeAck(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	called := false
	c.SetOrderbookHandler(func(model.OrderBook) { called = true })

	c.handleMessage(context.Background(), []byte(`{"channel":"futures.order_book_update","event":"subscribe","result":{}}`))

	if called {
		t.Fatal("expected a subscribe acknowledgement to be ignored")
	}
}
