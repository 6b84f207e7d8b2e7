package bybit

import (
	"context"
	"testing"

	"github.com/crossspread/md-ingest/internal/model"
)

func TestNewConstructsWithoutNetworkCalls(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.ID() != model.VenueBybit {
		t.Fatalf("expected venue id %q, got %q", model.VenueBybit, c.ID())
	}
}

func TestHandleMessageEmitsOrderbookOnSnapshot(t *testing.T) {
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

	payload := []byte(`{"topic":"orderbook.50.BTCUSDT","type":"snapshot","ts":1700000000000,"data":{"s":"BTCUSDT","b":[["100.0","1.0"]],"a":[["101.0","2.0"]],"seq":7}}`)
	c.handleMessage(context.Background(), payload)

	if !received {
		t.Fatal("expected orderbook handler to be invoked")
	}
	if !got.IsSnapshot {
		t.Fatal("expected IsSnapshot to be true for a snapshot frame")
	}
	if got.Symbol != "BTCUSDT" {
		t.Fatalf("expected symbol BTCUSDT, got %s", got.Symbol)
	}
}

func TestHandleMessageEmitsTradeOnPublicTradeTopic(t *testing.T) {
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

	payload := []byte(`{"topic":"publicTrade.BTCUSDT","data":[{"s":"BTCUSDT","S":"Buy","p":"100.5","v":"2.0","i":"t1","T":1700000000000}]}`)
	c.handleMessage(context.Background(), payload)

	if !received {
		t.Fatal("expected trade handler to be invoked")
	}
	if got.Side != model.TradeSideBuy {
		t.Fatalf("expected buy side, got %s", got.Side)
	}
	if got.TradeID != "t1" {
		t.Fatalf("expected trade id t1, got %s", got.TradeID)
	}
}

func TestHandleMessageIgnoresFramesWithoutSymbol(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	called := false
	c.SetOrderbookHandler(func(model.OrderBook) { called = true })

	c.handleMessage(context.Background(), []byte(`{"op":"pong"}`))

	if called {
		t.Fatal("expected a frame with no symbol to be ignored")
	}
}
