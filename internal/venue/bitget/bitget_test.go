package bitget

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
	if c.ID() != model.VenueBitget {
		t.Fatalf("expected venue id %q, got %q", model.VenueBitget, c.ID())
	}
}

func TestParseIntInvalidFallsBackToZero(t *testing.T) {
	if got := parseInt("not-a-number"); got != 0 {
		t.Fatalf("expected 0 for invalid input, got %d", got)
	}
	if got := parseInt("42"); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}

func TestParseDecimalInvalidFallsBackToZero(t *testing.T) {
	if got := parseDecimal("garbage"); !got.Equal(decimal.Zero) {
		t.Fatalf("expected zero for invalid input, got %s", got)
	}
}

func TestHandleMessageEmitsOrderbook(t *testing.T) {
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

	payload := []byte(`{"arg":{"channel":"books","instId":"BTCUSDT"},"action":"snapshot","data":[{"bids":[["100.0","1.0"]],"asks":[["101.0","2.0"]],"ts":"1700000000000"}]}`)
	c.handleMessage(context.Background(), payload)

	if !received {
		t.Fatal("expected orderbook handler to be invoked")
	}
	if !got.IsSnapshot {
		t.Fatal("expected action=snapshot to map to IsSnapshot=true")
	}
	if got.Canonical != "BTC-USDT-PERP" {
		t.Fatalf("expected canonical BTC-USDT-PERP, got %s", got.Canonical)
	}
}

func TestHandleMessageIgnoresEmptyData(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	called := false
	c.SetOrderbookHandler(func(model.OrderBook) { called = true })

	c.handleMessage(context.Background(), []byte(`{"arg":{"channel":"books","instId":"BTCUSDT"},"data":[]}`))

	if called {
		t.Fatal("expected an empty data array to be ignored")
	}
}
