package kucoin

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
	if c.ID() != model.VenueKuCoin {
		t.Fatalf("expected venue id %q, got %q", model.VenueKuCoin, c.ID())
	}
}

func TestHandleMessageEmitsOrderbookAndStripsTopicPrefix(t *testing.T) {
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

	payload := []byte(`{"type":"message","topic":"/contractMarket/level2Depth50:XBTUSDTM","subject":"level2","data":{"sequence":5,"bids":[[100.0,1.0]],"asks":[[101.0,2.0]],"ts":1700000000000}}`)
	c.handleMessage(context.Background(), payload)

	if !received {
		t.Fatal("expected orderbook handler to be invoked")
	}
	if got.Symbol != "XBTUSDTM" {
		t.Fatalf("expected symbol XBTUSDTM, got %s", got.Symbol)
	}
	if got.Canonical != "BTC-USDT-PERP" {
		t.Fatalf("expected XBT alias to map to BTC-USDT-PERP, got %s", got.Canonical)
	}
	if !got.IsSnapshot {
		t.Fatal("expected depth50 frames to always be marked as snapshots")
	}
}

func TestHandleMessageEmitsTradeOnExecutionTopic(t *testing.T) {
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

	payload := []byte(`{"type":"message","topic":"/contractMarket/execution:XBTUSDTM","subject":"match","data":{"symbol":"XBTUSDTM","side":"sell","price":"100.5","size":"2","tradeId":"t1","ts":1700000000000}}`)
	c.handleMessage(context.Background(), payload)

	if !received {
		t.Fatal("expected trade handler to be invoked")
	}
	if got.Canonical != "BTC-USDT-PERP" {
		t.Fatalf("expected XBT alias to map to BTC-USDT-PERP, got %s", got.Canonical)
	}
	if got.Side != model.TradeSideSell {
		t.Fatalf("expected sell side, got %s", got.Side)
	}
}

func TestHandleMessageIgnoresNonMessageFrames(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	called := false
	c.SetOrderbookHandler(func(model.OrderBook) { called = true })

	c.handleMessage(context.Background(), []byte(`{"type":"welcome"}`))

	if called {
		t.Fatal("expected a non-message frame to be ignored")
	}
}
