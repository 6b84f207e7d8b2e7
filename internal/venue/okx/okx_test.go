package okx

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
	if c.ID() != model.VenueOKX {
		t.Fatalf("expected venue id %q, got %q", model.VenueOKX, c.ID())
	}
}

func TestSubscribeMessageShapesChannelArgs(t *testing.T) {
	msg := subscribeMessage("subscribe", []string{"BTC-USDT-SWAP"})
	if msg["op"] != "subscribe" {
		t.Fatalf("expected op subscribe, got %v", msg["op"])
	}
	args, ok := msg["args"].([]map[string]string)
	if !ok || len(args) != 2 {
		t.Fatalf("expected one books and one trades arg entry, got %v", msg["args"])
	}
	channels := map[string]bool{}
	for _, a := range args {
		if a["instId"] != "BTC-USDT-SWAP" {
			t.Fatalf("expected instId BTC-USDT-SWAP, got %s", a["instId"])
		}
		channels[a["channel"]] = true
	}
	if !channels["books"] || !channels["trades"] {
		t.Fatalf("expected both books and trades channels, got %v", args)
	}
}

func TestHandleMessageEmitsOrderbookOnBooksChannel(t *testing.T) {
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

	payload := []byte(`{"arg":{"channel":"books","instId":"BTC-USDT-SWAP"},"action":"snapshot","data":[{"bids":[["100.0","1.0"]],"asks":[["101.0","2.0"]],"ts":"1700000000000","seqId":9}]}`)
	c.handleMessage(context.Background(), payload)

	if !received {
		t.Fatal("expected orderbook handler to be invoked")
	}
	if !got.IsSnapshot {
		t.Fatal("expected IsSnapshot to be true for action=snapshot")
	}
	if got.Canonical != "BTC-USDT-PERP" {
		t.Fatalf("expected canonical BTC-USDT-PERP, got %s", got.Canonical)
	}
}

func TestHandleMessageIgnoresNonBooksChannel(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	called := false
	c.SetOrderbookHandler(func(model.OrderBook) { called = true })

	c.handleMessage(context.Background(), []byte(`{"arg":{"channel":"tickers","instId":"BTC-USDT-SWAP"},"data":[{}]}`))

	if called {
		t.Fatal("expected a non-books channel frame to be ignored")
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

	payload := []byte(`{"arg":{"channel":"trades","instId":"BTC-USDT-SWAP"},"data":[{"instId":"BTC-USDT-SWAP","tradeId":"123","px":"100.5","sz":"2.0","side":"sell","ts":"1700000000000"}]}`)
	c.handleMessage(context.Background(), payload)

	if !received {
		t.Fatal("expected trade handler to be invoked")
	}
	if got.Canonical != "BTC-USDT-PERP" {
		t.Fatalf("expected canonical BTC-USDT-PERP, got %s", got.Canonical)
	}
	if got.Side != model.TradeSideSell {
		t.Fatalf("expected sell side, got %s", got.Side)
	}
}
