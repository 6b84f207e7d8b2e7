package lbank

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
	if c.ID() != model.VenueLBank {
		t.Fatalf("expected venue id %q, got %q", model.VenueLBank, c.ID())
	}
}

func TestHandleMessageEmitsOrderbookOnDepthFrame(t *testing.T) {
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

	payload := []byte(`{"type":"depth","pair":"btc_usdt","depth":{"bids":[["100.0","1.0"]],"asks":[["101.0","2.0"]]},"TS":1700000000000}`)
	c.handleMessage(context.Background(), payload)

	if !received {
		t.Fatal("expected orderbook handler to be invoked")
	}
	if !got.IsSnapshot {
		t.Fatal("expected depth frames to always be marked as snapshots")
	}
	if got.Canonical != "BTC-USDT-PERP" {
		t.Fatalf("expected canonical BTC-USDT-PERP, got %s", got.Canonical)
	}
}

func TestHandleMessageIgnoresNonDepthFrames(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	called := false
	c.SetOrderbookHandler(func(model.OrderBook) { called = true })

	c.handleMessage(context.Background(), []byte(`{"type":"ping"}`))

	if called {
		t.Fatal("expected a non-depth frame to be ignored")
	}
}
