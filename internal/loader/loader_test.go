package loader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crossspread/md-ingest/internal/logger"
	"github.com/crossspread/md-ingest/internal/model"
	"github.com/crossspread/md-ingest/internal/venue"
)

type fakeConnector struct {
	id        model.VenueId
	tickers   []model.PriceTicker
	instr     []model.Instrument
	funding   []model.FundingRate
	fetchErr  error
}

func (f *fakeConnector) ID() model.VenueId { return f.id }
func (f *fakeConnector) FetchInstruments(ctx context.Context) ([]model.Instrument, error) {
	return f.instr, f.fetchErr
}
func (f *fakeConnector) FetchPriceTickers(ctx context.Context) ([]model.PriceTicker, error) {
	return f.tickers, f.fetchErr
}
func (f *fakeConnector) FetchFundingRates(ctx context.Context) ([]model.FundingRate, error) {
	return f.funding, nil
}
func (f *fakeConnector) FetchAssetInfo(ctx context.Context) ([]model.AssetInfo, error) {
	return nil, nil
}
func (f *fakeConnector) FetchOrderbookSnapshot(ctx context.Context, symbol string, depth int) (model.OrderBook, error) {
	return model.OrderBook{}, nil
}
func (f *fakeConnector) Connect(ctx context.Context) error                       { return nil }
func (f *fakeConnector) ConnectForSymbols(ctx context.Context, symbols []string) error { return nil }
func (f *fakeConnector) Subscribe(symbols []string) error                        { return nil }
func (f *fakeConnector) Unsubscribe(symbols []string) error                      { return nil }
func (f *fakeConnector) Disconnect() error                                       { return nil }
func (f *fakeConnector) IsConnected() bool                                       { return true }
func (f *fakeConnector) LastMessageTime() time.Time                              { return time.Now() }
func (f *fakeConnector) SetOrderbookHandler(h venue.OrderbookHandler)            {}
func (f *fakeConnector) SetTradeHandler(h venue.TradeHandler)                    {}
func (f *fakeConnector) SetFundingHandler(h venue.FundingHandler)                {}
func (f *fakeConnector) SetErrorHandler(h venue.ErrorHandler)                    {}
func (f *fakeConnector) SetCredentials(c venue.Credentials)                      {}

func TestLoadAllDiscoversSpreadAcrossVenues(t *testing.T) {
	cheap := &fakeConnector{
		id: model.VenueBinance,
		tickers: []model.PriceTicker{
			{Venue: model.VenueBinance, Symbol: "BTCUSDT", Canonical: "BTC-USDT-PERP", Last: decimal.NewFromInt(100), Bid: decimal.NewFromInt(99), Ask: decimal.NewFromInt(100)},
		},
	}
	pricey := &fakeConnector{
		id: model.VenueBybit,
		tickers: []model.PriceTicker{
			{Venue: model.VenueBybit, Symbol: "BTCUSDT", Canonical: "BTC-USDT-PERP", Last: decimal.NewFromInt(105), Bid: decimal.NewFromInt(105), Ask: decimal.NewFromInt(106)},
		},
	}

	l := New([]venue.Connector{cheap, pricey}, logger.New(nopWriter{}, logger.LevelError, "test"), nil)
	l.SetMinSpreadBps(decimal.NewFromInt(1))

	if err := l.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	inv := l.PreliminarySpreads()
	if inv.Count == 0 {
		t.Fatal("expected at least one preliminary spread")
	}

	var found bool
	for _, s := range inv.Spreads {
		if s.LongVenue == model.VenueBinance && s.ShortVenue == model.VenueBybit {
			found = true
			if !s.SpreadBps.IsPositive() {
				t.Errorf("expected positive spread bps, got %s", s.SpreadBps.String())
			}
		}
	}
	if !found {
		t.Fatal("expected a long-binance/short-bybit spread")
	}

	symbols := l.SymbolsForStreaming()
	if len(symbols[model.VenueBinance]) == 0 || len(symbols[model.VenueBybit]) == 0 {
		t.Fatal("expected both venues to have symbols flagged for streaming")
	}
}

func TestLoadAllToleratesPerVenueFailure(t *testing.T) {
	ok := &fakeConnector{
		id: model.VenueBinance,
		tickers: []model.PriceTicker{
			{Venue: model.VenueBinance, Symbol: "ETHUSDT", Canonical: "ETH-USDT-PERP", Last: decimal.NewFromInt(10)},
		},
	}
	broken := &fakeConnector{id: model.VenueOKX, fetchErr: errFetch}

	l := New([]venue.Connector{ok, broken}, logger.New(nopWriter{}, logger.LevelError, "test"), nil)
	if err := l.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll should tolerate a single venue failure: %v", err)
	}

	td := l.TokenData()
	if _, ok := td["ETH-USDT-PERP"]; !ok {
		t.Fatal("expected working venue's data to still be aggregated")
	}
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

var errFetch = errors.New("boom")
