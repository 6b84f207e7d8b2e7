package coinex

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
	if c.ID() != model.VenueCoinEx {
		t.Fatalf("expected venue id %q, got %q", model.VenueCoinEx, c.ID())
	}
}

func TestHandleMessageEmitsOrderbookOnDepthUpdate(t *testing.T) {
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

	payload := []byte(`{"method":"depth.update","data":{"market":"BTCUSDT","depth":{"bids":[["100.0","1.0"]],"asks":[["101.0","2.0"]]},"is_full":true}}`)
	c.handleMessage(context.Background(), payload)

	if !received {
		t.Fatal("expected orderbook handler to be invoked")
	}
	if !got.IsSnapshot {
		t.Fatal("expected is_full=true to map to IsSnapshot=true")
	}
	if got.Canonical != "BTC-USDT-PERP" {
		t.Fatalf("expected canonical BTC-USDT-PERP, got %s", got.Canonical)
	}
}

func TestHandleMessageIgnoresOtherMethods(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	called := false
	c.SetOrderbookHandler(func(model.OrderBook) { called = true })

	c.handleMessage(context.Background(), []byte(`{"method":"server.ping"}`))

	if called {
		t.Fatal("expected a non depth.update method to be ignored")
	}
}
