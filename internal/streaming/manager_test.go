package streaming

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/crossspread/md-ingest/internal/logger"
	"github.com/crossspread/md-ingest/internal/model"
	"github.com/crossspread/md-ingest/internal/venue"
)

type fakeConn struct {
	mu          sync.Mutex
	id          model.VenueId
	connected   bool
	lastMsg     time.Time
	subscribed  map[string]bool
	connectErr  error
	connectCalls int
}

func newFakeConn(id model.VenueId) *fakeConn {
	return &fakeConn{id: id, subscribed: make(map[string]bool), lastMsg: time.Now()}
}

func (f *fakeConn) ID() model.VenueId { return f.id }
func (f *fakeConn) FetchInstruments(ctx context.Context) ([]model.Instrument, error)   { return nil, nil }
func (f *fakeConn) FetchPriceTickers(ctx context.Context) ([]model.PriceTicker, error) { return nil, nil }
func (f *fakeConn) FetchFundingRates(ctx context.Context) ([]model.FundingRate, error) { return nil, nil }
func (f *fakeConn) FetchAssetInfo(ctx context.Context) ([]model.AssetInfo, error)      { return nil, nil }
func (f *fakeConn) FetchOrderbookSnapshot(ctx context.Context, symbol string, depth int) (model.OrderBook, error) {
	return model.OrderBook{}, nil
}

func (f *fakeConn) Connect(ctx context.Context) error { return f.connectErr }

func (f *fakeConn) ConnectForSymbols(ctx context.Context, symbols []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	f.lastMsg = time.Now()
	f.subscribed = toSet(symbols)
	return nil
}

func (f *fakeConn) Subscribe(symbols []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range symbols {
		f.subscribed[s] = true
	}
	return nil
}

func (f *fakeConn) Unsubscribe(symbols []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range symbols {
		delete(f.subscribed, s)
	}
	return nil
}

func (f *fakeConn) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeConn) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeConn) LastMessageTime() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastMsg
}

func (f *fakeConn) SetOrderbookHandler(h venue.OrderbookHandler) {}
func (f *fakeConn) SetTradeHandler(h venue.TradeHandler)         {}
func (f *fakeConn) SetFundingHandler(h venue.FundingHandler)     {}
func (f *fakeConn) SetErrorHandler(h venue.ErrorHandler)         {}
func (f *fakeConn) SetCredentials(c venue.Credentials)           {}

func testLogger() logger.LoggerInterface {
	return logger.New(nopWriter{}, logger.LevelError, "test")
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestConnectForSpreadsDialsEachReferencedVenue(t *testing.T) {
	binance := newFakeConn(model.VenueBinance)
	bybit := newFakeConn(model.VenueBybit)

	mgr := New([]venue.Connector{binance, bybit}, testLogger(), nil)

	err := mgr.ConnectForSpreads(context.Background(), map[model.VenueId][]string{
		model.VenueBinance: {"BTCUSDT"},
		model.VenueBybit:   {"BTCUSDT"},
	})
	if err != nil {
		t.Fatalf("ConnectForSpreads: %v", err)
	}

	if !binance.IsConnected() || !bybit.IsConnected() {
		t.Fatal("expected both venues connected")
	}
}

func TestUpdateSubscriptionsAppliesOnlyDelta(t *testing.T) {
	conn := newFakeConn(model.VenueBinance)
	mgr := New([]venue.Connector{conn}, testLogger(), nil)

	if err := mgr.ConnectForSpreads(context.Background(), map[model.VenueId][]string{
		model.VenueBinance: {"BTCUSDT", "ETHUSDT"},
	}); err != nil {
		t.Fatalf("ConnectForSpreads: %v", err)
	}

	if err := mgr.UpdateSubscriptions(context.Background(), model.VenueBinance, []string{"ETHUSDT", "SOLUSDT"}); err != nil {
		t.Fatalf("UpdateSubscriptions: %v", err)
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.subscribed["BTCUSDT"] {
		t.Error("expected BTCUSDT to be unsubscribed")
	}
	if !conn.subscribed["ETHUSDT"] || !conn.subscribed["SOLUSDT"] {
		t.Error("expected ETHUSDT and SOLUSDT to remain/become subscribed")
	}
}

func TestCheckStalenessForcesReconnect(t *testing.T) {
	conn := newFakeConn(model.VenueBinance)
	mgr := New([]venue.Connector{conn}, testLogger(), nil)

	if err := mgr.ConnectForSpreads(context.Background(), map[model.VenueId][]string{
		model.VenueBinance: {"BTCUSDT"},
	}); err != nil {
		t.Fatalf("ConnectForSpreads: %v", err)
	}

	conn.mu.Lock()
	conn.lastMsg = time.Now().Add(-time.Hour)
	conn.mu.Unlock()

	mgr.checkStaleness(context.Background())

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.connectCalls < 2 {
		t.Fatalf("expected a forced reconnect, got %d connect calls", conn.connectCalls)
	}
}

func TestCheckStalenessReconnectsFullyDisconnectedVenue(t *testing.T) {
	conn := newFakeConn(model.VenueBinance)
	mgr := New([]venue.Connector{conn}, testLogger(), nil)

	if err := mgr.ConnectForSpreads(context.Background(), map[model.VenueId][]string{
		model.VenueBinance: {"BTCUSDT"},
	}); err != nil {
		t.Fatalf("ConnectForSpreads: %v", err)
	}

	if err := conn.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	mgr.checkStaleness(context.Background())

	if !conn.IsConnected() {
		t.Fatal("expected disconnected venue to be reconnected from its recorded symbol set")
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if !conn.subscribed["BTCUSDT"] {
		t.Error("expected reconnect to use the recorded symbol set")
	}
}

func TestDisconnectAllTearsDownEveryVenue(t *testing.T) {
	a := newFakeConn(model.VenueBinance)
	b := newFakeConn(model.VenueBybit)
	mgr := New([]venue.Connector{a, b}, testLogger(), nil)

	_ = mgr.ConnectForSpreads(context.Background(), map[model.VenueId][]string{
		model.VenueBinance: {"BTCUSDT"},
		model.VenueBybit:   {"BTCUSDT"},
	})

	mgr.DisconnectAll(context.Background())

	if a.IsConnected() || b.IsConnected() {
		t.Fatal("expected both venues disconnected")
	}
}
