package binance

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
	if c.ID() != model.VenueBinance {
		t.Fatalf("expected venue id %q, got %q", model.VenueBinance, c.ID())
	}
	if c.IsConnected() {
		t.Fatal("expected a fresh connector to report disconnected")
	}
}

func TestParseDecimalInvalidFallsBackToZero(t *testing.T) {
	if got := parseDecimal("not-a-number"); !got.Equal(decimal.Zero) {
		t.Fatalf("expected zero for invalid input, got %s", got)
	}
	if got := parseDecimal("12.5"); !got.Equal(decimal.NewFromFloat(12.5)) {
		t.Fatalf("expected 12.5, got %s", got)
	}
}

func TestParseLevelsSkipsShortEntries(t *testing.T) {
	levels := parseLevels([][]string{{"100.5", "2.0"}, {"bad"}, {"101.0", "1.5"}})
	if len(levels) != 2 {
		t.Fatalf("expected 2 levels, got %d", len(levels))
	}
	if !levels[0].Price.Equal(decimal.NewFromFloat(100.5)) {
		t.Fatalf("unexpected first level price: %s", levels[0].Price)
	}
}

func TestHandleMessageEmitsOrderbookOnDepthUpdate(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var got model.OrderBook
	received := make(chan struct{}, 1)
	c.SetOrderbookHandler(func(ob model.OrderBook) {
		got = ob
		received <- struct{}{}
	})

	payload := []byte(`{"stream":"btcusdt@depth@100ms","data":{"e":"depthUpdate","E":1700000000000,"s":"BTCUSDT","u":42,"b":[["100.0","1.0"]],"a":[["101.0","2.0"]]}}`)
	c.handleMessage(context.Background(), payload)

	select {
	case <-received:
	default:
		t.Fatal("expected orderbook handler to be invoked")
	}

	if got.Symbol != "BTCUSDT" {
		t.Fatalf("expected symbol BTCUSDT, got %s", got.Symbol)
	}
	if got.IsSnapshot {
		t.Fatal("expected a depth update to not be marked as a snapshot")
	}
	if len(got.Bids) != 1 || len(got.Asks) != 1 {
		t.Fatalf("expected one bid and one ask level, got %d/%d", len(got.Bids), len(got.Asks))
	}
	if c.LastMessageTime().IsZero() {
		t.Fatal("expected LastMessageTime to be set after handling a message")
	}
}

func TestHandleMessageEmitsTradeOnAggTrade(t *testing.T) {
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

	payload := []byte(`{"stream":"btcusdt@aggTrade","data":{"e":"aggTrade","s":"BTCUSDT","a":123,"p":"100.5","q":"2.0","T":1700000000000,"m":true}}`)
	c.handleMessage(context.Background(), payload)

	if !received {
		t.Fatal("expected trade handler to be invoked")
	}
	if got.TradeID != "123" {
		t.Fatalf("expected trade id 123, got %s", got.TradeID)
	}
	if got.Side != model.TradeSideSell {
		t.Fatalf("expected buyer-is-maker to map to sell side, got %s", got.Side)
	}
}

func TestHandleMessageIgnoresNonDepthEvents(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	called := false
	c.SetOrderbookHandler(func(model.OrderBook) { called = true })

	payload := []byte(`{"stream":"btcusdt@markPrice","data":{"e":"markPriceUpdate","s":"BTCUSDT"}}`)
	c.handleMessage(context.Background(), payload)

	if called {
		t.Fatal("expected non-depthUpdate events to be ignored")
	}
}
