package spread

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crossspread/md-ingest/internal/loader"
	"github.com/crossspread/md-ingest/internal/logger"
	"github.com/crossspread/md-ingest/internal/model"
)

type fakePublisher struct {
	spreads    []model.PreliminarySpread
	summaries  []model.SpreadInventory
}

func (f *fakePublisher) SetSpread(ctx context.Context, id string, spread model.PreliminarySpread) error {
	return nil
}
func (f *fakePublisher) PublishSpread(ctx context.Context, canonical string, spread model.PreliminarySpread) error {
	f.spreads = append(f.spreads, spread)
	return nil
}
func (f *fakePublisher) SetSpreadInventory(ctx context.Context, inv model.SpreadInventory) error {
	return nil
}
func (f *fakePublisher) PublishSpreadSummary(ctx context.Context, inv model.SpreadInventory) error {
	f.summaries = append(f.summaries, inv)
	return nil
}

func book(venue model.VenueId, canonical string, bid, ask decimal.Decimal) model.OrderBook {
	return model.NewSnapshot(venue, "X", canonical,
		[]model.PriceLevel{{Price: bid, Quantity: decimal.NewFromInt(10)}},
		[]model.PriceLevel{{Price: ask, Quantity: decimal.NewFromInt(10)}},
		1, time.Now())
}

func newTestEngine() (*Engine, *fakePublisher) {
	pub := &fakePublisher{}
	log := logger.New(nopWriter{}, logger.LevelError, "test")
	e := New(pub, log, nil, Config{
		MinSpreadBps: decimal.NewFromInt(1),
		MinDepthUSD:  decimal.NewFromInt(10),
	})
	return e, pub
}

func TestHandleOrderbookDiscoversSpread(t *testing.T) {
	e, _ := newTestEngine()

	e.HandleOrderbook(book(model.VenueBinance, "BTC-USDT-PERP", decimal.NewFromInt(99), decimal.NewFromInt(100)))
	e.HandleOrderbook(book(model.VenueBybit, "BTC-USDT-PERP", decimal.NewFromInt(105), decimal.NewFromInt(106)))

	top := e.TopSpreads(10)
	if len(top) == 0 {
		t.Fatal("expected at least one discovered spread")
	}

	var found bool
	for _, s := range top {
		if s.LongVenue == model.VenueBinance && s.ShortVenue == model.VenueBybit {
			found = true
			if !s.SpreadBps.IsPositive() {
				t.Errorf("expected positive spread, got %s", s.SpreadBps.String())
			}
		}
	}
	if !found {
		t.Fatal("expected long-binance/short-bybit spread")
	}
}

func TestCheckPairDropsThinBooks(t *testing.T) {
	e, _ := newTestEngine()
	e.minDepthUSD = decimal.NewFromInt(1_000_000)

	e.HandleOrderbook(book(model.VenueBinance, "BTC-USDT-PERP", decimal.NewFromInt(99), decimal.NewFromInt(100)))
	e.HandleOrderbook(book(model.VenueBybit, "BTC-USDT-PERP", decimal.NewFromInt(105), decimal.NewFromInt(106)))

	if len(e.TopSpreads(10)) != 0 {
		t.Fatal("expected thin books to be filtered out by minDepthUSD")
	}
}

func TestPublishBroadcastsTopSpreads(t *testing.T) {
	e, pub := newTestEngine()
	e.HandleOrderbook(book(model.VenueBinance, "BTC-USDT-PERP", decimal.NewFromInt(99), decimal.NewFromInt(100)))
	e.HandleOrderbook(book(model.VenueBybit, "BTC-USDT-PERP", decimal.NewFromInt(105), decimal.NewFromInt(106)))

	e.publish(context.Background())

	if len(pub.spreads) == 0 {
		t.Fatal("expected publish to broadcast at least one spread")
	}
	if len(pub.summaries) != 1 {
		t.Fatalf("expected exactly one summary broadcast, got %d", len(pub.summaries))
	}
}

func TestSeedTokenDataAppliesFeesAndEligibility(t *testing.T) {
	e, _ := newTestEngine()

	e.SeedTokenData(map[string]*loader.TokenData{
		"BTC-USDT-PERP": {
			Canonical: "BTC-USDT-PERP",
			Venues: map[model.VenueId]*loader.VenueTokenData{
				model.VenueBinance: {TakerFee: decimal.NewFromFloat(0.0004), DepositEnabled: true, Volume24h: decimal.NewFromInt(100)},
				model.VenueBybit:   {TakerFee: decimal.NewFromFloat(0.00055), WithdrawEnabled: true, Volume24h: decimal.NewFromInt(200)},
			},
		},
	})

	e.HandleOrderbook(book(model.VenueBinance, "BTC-USDT-PERP", decimal.NewFromInt(99), decimal.NewFromInt(100)))
	e.HandleOrderbook(book(model.VenueBybit, "BTC-USDT-PERP", decimal.NewFromInt(105), decimal.NewFromInt(106)))

	top := e.TopSpreads(10)
	var found bool
	for _, s := range top {
		if s.LongVenue == model.VenueBinance && s.ShortVenue == model.VenueBybit {
			found = true
			if !s.LongDepositEnabled {
				t.Error("expected long deposit enabled from seeded token data")
			}
			if !s.ShortWithdrawEnabled {
				t.Error("expected short withdraw enabled from seeded token data")
			}
			wantFeesBps := decimal.NewFromFloat(0.0004).Add(decimal.NewFromFloat(0.00055)).Mul(decimal.NewFromInt(10000))
			wantPnL := s.SpreadBps.Sub(wantFeesBps)
			if !s.EstimatedPnLBps.Equal(wantPnL) {
				t.Errorf("expected estimated pnl %s, got %s", wantPnL.String(), s.EstimatedPnLBps.String())
			}
			if !s.Volume24h.Equal(decimal.NewFromInt(300)) {
				t.Errorf("expected combined volume 300, got %s", s.Volume24h.String())
			}
		}
	}
	if !found {
		t.Fatal("expected long-binance/short-bybit spread")
	}
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
