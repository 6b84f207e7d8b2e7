package mexc

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
	if c.ID() != model.VenueMEXC {
		t.Fatalf("expected venue id %q, got %q", model.VenueMEXC, c.ID())
	}
}

func TestHandleMessageEmitsOrderbookOnPushDepth(t *testing.T) {
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

	payload := []byte(`{"channel":"push.depth","symbol":"BTC_USDT","ts":1700000000000,"data":{"bids":[[100.0,1.0]],"asks":[[101.0,2.0]],"version":3}}`)
	c.handleMessage(context.Background(), payload)

	if !received {
		t.Fatal("expected orderbook handler to be invoked")
	}
	if got.Canonical != "BTC-USDT-PERP" {
		t.Fatalf("expected canonical BTC-USDT-PERP, got %s", got.Canonical)
	}
	if got.IsSnapshot {
		t.Fatal("expected push.depth frames to be incremental, not snapshots")
	}
}

func TestHandleMessageIgnoresOtherChannels(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	called := false
	c.SetOrderbookHandler(func(model.OrderBook) { called = true })

	c.handleMessage(context.Background(), []byte(`{"channel":"push.ticker","symbol":"BTC_USDT"}`))

	if called {
		t.Fatal("expected a non-depth channel frame to be ignored")
	}
}
