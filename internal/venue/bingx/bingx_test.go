package bingx

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
	if c.ID() != model.VenueBingX {
		t.Fatalf("expected venue id %q, got %q", model.VenueBingX, c.ID())
	}
}

func TestParseRawLevelsSkipsMalformedEntries(t *testing.T) {
	raw := []interface{}{
		[]interface{}{"100.0", "1.0"},
		[]interface{}{"only-one"},
		"not-a-pair",
	}
	levels := parseRawLevels(raw)
	if len(levels) != 1 {
		t.Fatalf("expected 1 valid level, got %d", len(levels))
	}
}

func TestHandleMessageStripsDepthSuffixAndEmits(t *testing.T) {
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

	payload := []byte(`{"dataType":"BTC-USDT@depth20","data":{"bids":[["100.0","1.0"]],"asks":[["101.0","2.0"]]}}`)
	c.handleMessage(context.Background(), payload)

	if !received {
		t.Fatal("expected orderbook handler to be invoked")
	}
	if got.Symbol != "BTC-USDT" {
		t.Fatalf("expected symbol BTC-USDT after stripping @depth20, got %s", got.Symbol)
	}
	if got.Canonical != "BTC-USDT-PERP" {
		t.Fatalf("expected canonical BTC-USDT-PERP, got %s", got.Canonical)
	}
}

func TestHandleMessageIgnoresFramesWithoutDataType(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	called := false
	c.SetOrderbookHandler(func(model.OrderBook) { called = true })

	c.handleMessage(context.Background(), []byte(`{"pingPong":1700000000000}`))

	if called {
		t.Fatal("expected a frame without dataType to be ignored")
	}
}
