// Package spread implements the Spread Discovery Engine: it consumes live
// order book and funding rate updates fed by the Streaming Manager,
// maintains the current cross-venue spread set for every canonical symbol,
// scores each one, and publishes the result on a fixed cadence.
package spread

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crossspread/md-ingest/internal/loader"
	"github.com/crossspread/md-ingest/internal/logger"
	"github.com/crossspread/md-ingest/internal/metrics"
	"github.com/crossspread/md-ingest/internal/model"
)

// Publisher is the subset of the Redis-backed publisher the engine needs;
// kept as an interface so the engine can be tested without Redis.
type Publisher interface {
	SetSpread(ctx context.Context, id string, spread model.PreliminarySpread) error
	PublishSpread(ctx context.Context, canonical string, spread model.PreliminarySpread) error
	SetSpreadInventory(ctx context.Context, inv model.SpreadInventory) error
	PublishSpreadSummary(ctx context.Context, inv model.SpreadInventory) error
}

// depthLevels is how many top-of-book levels count toward depth-in-USD.
const depthLevels = 5

// Engine discovers and tracks cross-venue spread opportunities from live
// order books and funding rates.
type Engine struct {
	mu sync.RWMutex

	publisher Publisher
	log       logger.LoggerInterface
	metrics   *metrics.Instruments

	orderbooks   map[string]map[model.VenueId]*model.OrderBook
	fundingRates map[string]map[model.VenueId]decimal.Decimal
	tokenData    map[string]map[model.VenueId]loader.VenueTokenData
	spreads      map[string]model.PreliminarySpread

	minSpreadBps decimal.Decimal
	minDepthUSD  decimal.Decimal
	topN         int

	publishInterval time.Duration

	done chan struct{}
}

// Config holds Engine tuning parameters.
type Config struct {
	MinSpreadBps    decimal.Decimal
	MinDepthUSD     decimal.Decimal
	PublishInterval time.Duration
	TopN            int
}

// DefaultConfig returns the engine's default thresholds: 5bps minimum
// spread, $5,000 minimum depth, published twice a second, top 100 kept.
func DefaultConfig() Config {
	return Config{
		MinSpreadBps:    decimal.NewFromInt(5),
		MinDepthUSD:     decimal.NewFromInt(5000),
		PublishInterval: 500 * time.Millisecond,
		TopN:            100,
	}
}

// New constructs an Engine.
func New(pub Publisher, log logger.LoggerInterface, m *metrics.Instruments, cfg Config) *Engine {
	topN := cfg.TopN
	if topN <= 0 {
		topN = 100
	}
	return &Engine{
		publisher:       pub,
		log:             log,
		metrics:         m,
		orderbooks:      make(map[string]map[model.VenueId]*model.OrderBook),
		fundingRates:    make(map[string]map[model.VenueId]decimal.Decimal),
		tokenData:       make(map[string]map[model.VenueId]loader.VenueTokenData),
		spreads:         make(map[string]model.PreliminarySpread),
		minSpreadBps:    cfg.MinSpreadBps,
		minDepthUSD:     cfg.MinDepthUSD,
		topN:            topN,
		publishInterval: cfg.PublishInterval,
		done:            make(chan struct{}),
	}
}

// Run publishes the current spread set on a ticker until ctx is cancelled
// or Stop is called.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.publishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case <-ticker.C:
			e.publish(ctx)
		}
	}
}

// Stop halts Run.
func (e *Engine) Stop() {
	close(e.done)
}

// HandleOrderbook ingests an order book mutation and recalculates every
// pair touching its canonical symbol.
func (e *Engine) HandleOrderbook(ob model.OrderBook) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.orderbooks[ob.Canonical] == nil {
		e.orderbooks[ob.Canonical] = make(map[model.VenueId]*model.OrderBook)
	}
	cp := ob
	e.orderbooks[ob.Canonical][ob.Venue] = &cp

	e.recalculate(ob.Canonical)
}

// HandleFundingRate ingests a funding rate update and recalculates every
// pair touching its canonical symbol.
func (e *Engine) HandleFundingRate(fr model.FundingRate) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.fundingRates[fr.Canonical] == nil {
		e.fundingRates[fr.Canonical] = make(map[model.VenueId]decimal.Decimal)
	}
	e.fundingRates[fr.Canonical][fr.Venue] = fr.Rate

	e.recalculate(fr.Canonical)
}

// SeedTokenData replaces the engine's view of per-venue fees, deposit and
// withdraw availability, and 24h volume with the Loader's latest REST
// aggregation, so live-path spreads price fees and eligibility the same way
// the REST-only preliminary pass does instead of leaving them at zero.
func (e *Engine) SeedTokenData(data map[string]*loader.TokenData) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tokenData := make(map[string]map[model.VenueId]loader.VenueTokenData, len(data))
	for canonical, td := range data {
		venues := make(map[model.VenueId]loader.VenueTokenData, len(td.Venues))
		for venueID, vtd := range td.Venues {
			venues[venueID] = *vtd
		}
		tokenData[canonical] = venues
	}
	e.tokenData = tokenData
}

// recalculate re-evaluates every directed venue pair for one canonical
// symbol. Caller must hold mu.
func (e *Engine) recalculate(canonical string) {
	venues, ok := e.orderbooks[canonical]
	if !ok || len(venues) < 2 {
		return
	}

	ids := make([]model.VenueId, 0, len(venues))
	for id := range venues {
		ids = append(ids, id)
	}

	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			e.checkPair(canonical, venues[ids[i]], venues[ids[j]])
			e.checkPair(canonical, venues[ids[j]], venues[ids[i]])
		}
	}
}

// checkPair evaluates buying on longOb (ask) and selling on shortOb (bid).
// Caller must hold mu.
func (e *Engine) checkPair(canonical string, longOb, shortOb *model.OrderBook) {
	id := model.SpreadID(canonical, longOb.Venue, shortOb.Venue)

	if len(longOb.Asks) == 0 || len(shortOb.Bids) == 0 {
		delete(e.spreads, id)
		return
	}

	longPrice := longOb.Asks[0].Price
	shortPrice := shortOb.Bids[0].Price
	if !longPrice.IsPositive() || !shortPrice.IsPositive() {
		delete(e.spreads, id)
		return
	}

	spreadPercent := shortPrice.Sub(longPrice).Div(longPrice).Mul(decimal.NewFromInt(100))
	spreadBps := spreadPercent.Mul(decimal.NewFromInt(100))
	if spreadBps.LessThan(e.minSpreadBps) {
		delete(e.spreads, id)
		return
	}

	longDepth := model.DepthUSD(longOb.Asks, depthLevels)
	shortDepth := model.DepthUSD(shortOb.Bids, depthLevels)
	minDepth := longDepth
	if shortDepth.LessThan(minDepth) {
		minDepth = shortDepth
	}
	if minDepth.LessThan(e.minDepthUSD) {
		delete(e.spreads, id)
		return
	}

	var longFunding, shortFunding decimal.Decimal
	if rates, ok := e.fundingRates[canonical]; ok {
		longFunding = rates[longOb.Venue]
		shortFunding = rates[shortOb.Venue]
	}
	netFunding := shortFunding.Sub(longFunding)

	var longToken, shortToken loader.VenueTokenData
	if venues, ok := e.tokenData[canonical]; ok {
		longToken = venues[longOb.Venue]
		shortToken = venues[shortOb.Venue]
	}
	totalFeesBps := longToken.TakerFee.Add(shortToken.TakerFee).Mul(decimal.NewFromInt(10000))
	estimatedPnL := spreadBps.Sub(totalFeesBps)

	score := score(spreadBps, minDepth, netFunding)

	e.spreads[id] = model.PreliminarySpread{
		ID:                   id,
		Canonical:            canonical,
		LongVenue:            longOb.Venue,
		ShortVenue:           shortOb.Venue,
		LongSymbol:           longOb.Symbol,
		ShortSymbol:          shortOb.Symbol,
		LongPrice:            longPrice,
		ShortPrice:           shortPrice,
		SpreadPercent:        spreadPercent,
		SpreadBps:            spreadBps,
		LongFunding:          longFunding,
		ShortFunding:         shortFunding,
		NetFunding:           netFunding,
		LongDepositEnabled:   longToken.DepositEnabled,
		ShortWithdrawEnabled: shortToken.WithdrawEnabled,
		EstimatedPnLBps:      estimatedPnL,
		LongDepthUSD:         longDepth,
		ShortDepthUSD:        shortDepth,
		MinDepthUSD:          minDepth,
		Volume24h:            longToken.Volume24h.Add(shortToken.Volume24h),
		Score:                score,
		UpdatedAt:            time.Now(),
	}
}

// score rewards wider spreads, deeper books, and favorable net funding.
// Depth contributes logarithmically so a single very deep book cannot
// dominate an otherwise thin spread.
func score(spreadBps, minDepthUSD, netFunding decimal.Decimal) decimal.Decimal {
	depthFactor := math.Log10(minDepthUSD.InexactFloat64() + 1)
	fundingFactor := 1 + netFunding.InexactFloat64()*100
	s := spreadBps.InexactFloat64() * depthFactor * fundingFactor
	return decimal.NewFromFloat(s)
}

// TopSpreads returns up to n spreads sorted by score descending.
func (e *Engine) TopSpreads(n int) []model.PreliminarySpread {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]model.PreliminarySpread, 0, len(e.spreads))
	for _, s := range e.spreads {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score.GreaterThan(out[j].Score) })

	if n > len(out) || n <= 0 {
		n = len(out)
	}
	return out[:n]
}

// SpreadsByCanonical returns every tracked spread for one canonical symbol,
// sorted by score descending.
func (e *Engine) SpreadsByCanonical(canonical string) []model.PreliminarySpread {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []model.PreliminarySpread
	for _, s := range e.spreads {
		if s.Canonical == canonical {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score.GreaterThan(out[j].Score) })
	return out
}

// publish writes the top spreads to the store and broadcasts them, matching
// the dual durable-key/low-latency-channel layout.
func (e *Engine) publish(ctx context.Context) {
	timer := metrics.NewTimer()
	top := e.TopSpreads(e.topN)

	for _, s := range top {
		if err := e.publisher.SetSpread(ctx, s.ID, s); err != nil {
			e.log.Error(ctx, "failed to store spread", "spread", s.ID, "error", err.Error())
			if e.metrics != nil {
				e.metrics.PublishErrors.Add(ctx, 1)
			}
			continue
		}
		if err := e.publisher.PublishSpread(ctx, s.Canonical, s); err != nil {
			e.log.Error(ctx, "failed to broadcast spread", "spread", s.ID, "error", err.Error())
			if e.metrics != nil {
				e.metrics.PublishErrors.Add(ctx, 1)
			}
		}
	}

	inv := model.SpreadInventory{Spreads: top, Count: len(top), Timestamp: time.Now()}
	if err := e.publisher.SetSpreadInventory(ctx, inv); err != nil {
		e.log.Error(ctx, "failed to store spread inventory", "error", err.Error())
	}
	if err := e.publisher.PublishSpreadSummary(ctx, inv); err != nil {
		e.log.Error(ctx, "failed to broadcast spread summary", "error", err.Error())
	}

	if e.metrics != nil {
		timer.ObserveDuration(ctx, e.metrics.PublishDuration)
	}
}
