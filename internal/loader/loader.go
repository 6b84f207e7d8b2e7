// Package loader implements Phase 1 of the two-phase ingest pipeline: a
// parallel REST sweep across every enabled venue, aggregation by canonical
// symbol, and a preliminary cross-venue spread pass used to decide which
// symbols warrant a WebSocket subscription in Phase 2.
package loader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/crossspread/md-ingest/internal/logger"
	"github.com/crossspread/md-ingest/internal/metrics"
	"github.com/crossspread/md-ingest/internal/model"
	"github.com/crossspread/md-ingest/internal/venue"
)

// VenueData holds everything fetched from a single venue in one REST sweep.
type VenueData struct {
	Venue        model.VenueId
	Instruments  []model.Instrument
	Tickers      []model.PriceTicker
	FundingRates []model.FundingRate
	AssetInfo    []model.AssetInfo
	FetchedAt    time.Time
}

// TokenData aggregates every venue's view of one canonical symbol.
type TokenData struct {
	Canonical string
	Venues    map[model.VenueId]*VenueTokenData
}

// VenueTokenData is one venue's contribution to a TokenData.
type VenueTokenData struct {
	Venue           model.VenueId
	Symbol          string
	Last            decimal.Decimal
	Bid             decimal.Decimal
	Ask             decimal.Decimal
	FundingRate     decimal.Decimal
	MakerFee        decimal.Decimal
	TakerFee        decimal.Decimal
	DepositEnabled  bool
	WithdrawEnabled bool
	TickSize        decimal.Decimal
	LotSize         decimal.Decimal
	MinNotional     decimal.Decimal
	Volume24h       decimal.Decimal
}

// Loader drives Phase 1: parallel REST fetch, token aggregation, and
// preliminary spread discovery, refreshed on a fixed interval.
type Loader struct {
	connectors []venue.Connector
	log        logger.LoggerInterface
	metrics    *metrics.Instruments

	mu          sync.RWMutex
	venueData   map[model.VenueId]*VenueData
	tokenData   map[string]*TokenData
	inventory   model.SpreadInventory

	minSpreadBps    decimal.Decimal
	refreshInterval time.Duration
}

// New constructs a Loader over the given connectors.
func New(connectors []venue.Connector, log logger.LoggerInterface, m *metrics.Instruments) *Loader {
	return &Loader{
		connectors:      connectors,
		log:             log,
		metrics:         m,
		venueData:       make(map[model.VenueId]*VenueData),
		tokenData:       make(map[string]*TokenData),
		minSpreadBps:    decimal.NewFromInt(1),
		refreshInterval: 30 * time.Second,
	}
}

// SetMinSpreadBps overrides the minimum spread, in basis points, a pair must
// clear to be recorded as a preliminary spread.
func (l *Loader) SetMinSpreadBps(bps decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minSpreadBps = bps
}

// SetRefreshInterval overrides the periodic refresh cadence.
func (l *Loader) SetRefreshInterval(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refreshInterval = d
}

// LoadAll runs one full REST sweep across every connector, in parallel,
// tolerating individual venue failures.
func (l *Loader) LoadAll(ctx context.Context) error {
	l.log.Info(ctx, "phase 1: loading REST data", "venues", len(l.connectors))
	start := time.Now()

	var wg sync.WaitGroup
	results := make(chan *VenueData, len(l.connectors))

	for _, conn := range l.connectors {
		wg.Add(1)
		go func(c venue.Connector) {
			defer wg.Done()
			data, err := l.fetchVenueData(ctx, c)
			if err != nil {
				l.log.Warn(ctx, "venue REST fetch failed (non-fatal)", "venue", string(c.ID()), "error", err.Error())
				if l.metrics != nil {
					l.metrics.RestFetchErrors.Add(ctx, 1)
				}
				return
			}
			results <- data
		}(conn)
	}

	wg.Wait()
	close(results)

	l.mu.Lock()
	for data := range results {
		l.venueData[data.Venue] = data
	}
	l.mu.Unlock()

	l.aggregateByToken()
	l.discoverSpreads(ctx)

	l.log.Info(ctx, "phase 1: REST data loading complete", "duration_ms", time.Since(start).Milliseconds(), "venues", len(l.venueData))
	return nil
}

func (l *Loader) fetchVenueData(ctx context.Context, c venue.Connector) (*VenueData, error) {
	timer := metrics.NewTimer()
	id := c.ID()

	instruments, err := c.FetchInstruments(ctx)
	if err != nil {
		l.log.Warn(ctx, "instrument fetch failed (non-fatal)", "venue", string(id), "error", err.Error())
		instruments = nil
	}
	tickers, err := c.FetchPriceTickers(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch tickers: %w", err)
	}

	data := &VenueData{Venue: id, Instruments: instruments, Tickers: tickers, FetchedAt: time.Now()}

	if rates, err := c.FetchFundingRates(ctx); err != nil {
		l.log.Warn(ctx, "funding rate fetch failed (non-fatal)", "venue", string(id), "error", err.Error())
	} else {
		data.FundingRates = rates
	}

	if assets, err := c.FetchAssetInfo(ctx); err != nil {
		l.log.Warn(ctx, "asset info fetch failed (non-fatal)", "venue", string(id), "error", err.Error())
	} else {
		data.AssetInfo = assets
	}

	if l.metrics != nil {
		timer.ObserveDuration(ctx, l.metrics.RestFetchDuration, venueAttr(id))
	}
	return data, nil
}

// aggregateByToken rebuilds tokenData wholesale from venueData.
func (l *Loader) aggregateByToken() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.tokenData = make(map[string]*TokenData)

	for venueID, data := range l.venueData {
		instrumentBySymbol := make(map[string]*model.Instrument, len(data.Instruments))
		for i := range data.Instruments {
			inst := &data.Instruments[i]
			instrumentBySymbol[inst.Symbol] = inst
		}
		fundingBySymbol := make(map[string]decimal.Decimal, len(data.FundingRates))
		for _, fr := range data.FundingRates {
			fundingBySymbol[fr.Symbol] = fr.Rate
		}
		assetByBase := make(map[string]*model.AssetInfo, len(data.AssetInfo))
		for i := range data.AssetInfo {
			ai := &data.AssetInfo[i]
			assetByBase[ai.BaseAsset] = ai
		}

		for _, ticker := range data.Tickers {
			if ticker.Canonical == "" {
				continue
			}
			td, ok := l.tokenData[ticker.Canonical]
			if !ok {
				td = &TokenData{Canonical: ticker.Canonical, Venues: make(map[model.VenueId]*VenueTokenData)}
				l.tokenData[ticker.Canonical] = td
			}

			vtd := &VenueTokenData{
				Venue:           venueID,
				Symbol:          ticker.Symbol,
				Last:            ticker.Last,
				Bid:             ticker.Bid,
				Ask:             ticker.Ask,
				Volume24h:       ticker.Volume24h,
				DepositEnabled:  true,
				WithdrawEnabled: true,
			}
			if inst, ok := instrumentBySymbol[ticker.Symbol]; ok {
				vtd.MakerFee = inst.MakerFee
				vtd.TakerFee = inst.TakerFee
				vtd.TickSize = inst.TickSize
				vtd.LotSize = inst.LotSize
				vtd.MinNotional = inst.MinNotional
			}
			if rate, ok := fundingBySymbol[ticker.Symbol]; ok {
				vtd.FundingRate = rate
			}
			if inst, ok := instrumentBySymbol[ticker.Symbol]; ok {
				if ai, ok := assetByBase[inst.BaseAsset]; ok {
					vtd.DepositEnabled = ai.DepositEnabled
					vtd.WithdrawEnabled = ai.WithdrawEnabled
				}
			}

			td.Venues[venueID] = vtd
		}
	}
}

// discoverSpreads evaluates every directed venue pair per canonical symbol
// and records those clearing minSpreadBps as a fresh SpreadInventory.
func (l *Loader) discoverSpreads(ctx context.Context) {
	timer := metrics.NewTimer()

	l.mu.RLock()
	tokenData := l.tokenData
	minBps := l.minSpreadBps
	l.mu.RUnlock()

	spreads := make([]model.PreliminarySpread, 0)

	for canonical, td := range tokenData {
		if len(td.Venues) < 2 {
			continue
		}
		venues := make([]model.VenueId, 0, len(td.Venues))
		for v := range td.Venues {
			venues = append(venues, v)
		}

		for i := range venues {
			for j := range venues {
				if i == j {
					continue
				}
				long := td.Venues[venues[i]]
				short := td.Venues[venues[j]]

				longPrice := long.Ask
				if longPrice.IsZero() {
					longPrice = long.Last
				}
				shortPrice := short.Bid
				if shortPrice.IsZero() {
					shortPrice = short.Last
				}
				if !longPrice.IsPositive() || !shortPrice.IsPositive() {
					continue
				}

				spreadPercent := shortPrice.Sub(longPrice).Div(longPrice).Mul(decimal.NewFromInt(100))
				spreadBps := spreadPercent.Mul(decimal.NewFromInt(100))
				if spreadBps.LessThan(minBps) {
					continue
				}

				totalFeesBps := long.TakerFee.Add(short.TakerFee).Mul(decimal.NewFromInt(10000))
				estimatedPnL := spreadBps.Sub(totalFeesBps)

				spreads = append(spreads, model.PreliminarySpread{
					ID:                   model.SpreadID(canonical, venues[i], venues[j]),
					Canonical:            canonical,
					LongVenue:            venues[i],
					ShortVenue:           venues[j],
					LongSymbol:           long.Symbol,
					ShortSymbol:          short.Symbol,
					LongPrice:            longPrice,
					ShortPrice:           shortPrice,
					SpreadPercent:        spreadPercent,
					SpreadBps:            spreadBps,
					LongFunding:          long.FundingRate,
					ShortFunding:         short.FundingRate,
					NetFunding:           short.FundingRate.Sub(long.FundingRate),
					LongDepositEnabled:   long.DepositEnabled,
					ShortWithdrawEnabled: short.WithdrawEnabled,
					EstimatedPnLBps:      estimatedPnL,
					Volume24h:            long.Volume24h.Add(short.Volume24h),
					UpdatedAt:            time.Now(),
				})
			}
		}
	}

	l.mu.Lock()
	l.inventory = model.SpreadInventory{Spreads: spreads, Count: len(spreads), Timestamp: time.Now()}
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.PreliminarySpreads.Record(ctx, int64(len(spreads)))
		timer.ObserveDuration(ctx, l.metrics.SpreadDiscoveryDuration)
	}
	l.log.Info(ctx, "preliminary spread discovery complete", "spreads", len(spreads), "min_bps", minBps.String())
}

// PreliminarySpreads returns a copy of the current preliminary spread
// inventory discovered from REST data.
func (l *Loader) PreliminarySpreads() model.SpreadInventory {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.PreliminarySpread, len(l.inventory.Spreads))
	copy(out, l.inventory.Spreads)
	return model.SpreadInventory{Spreads: out, Count: l.inventory.Count, Timestamp: l.inventory.Timestamp}
}

// SymbolsForStreaming returns, per venue, the unique native symbols that
// appear in at least one preliminary spread and therefore warrant a
// WebSocket subscription in Phase 2.
func (l *Loader) SymbolsForStreaming() map[model.VenueId][]string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	sets := make(map[model.VenueId]map[string]bool)
	for _, s := range l.inventory.Spreads {
		if sets[s.LongVenue] == nil {
			sets[s.LongVenue] = make(map[string]bool)
		}
		sets[s.LongVenue][s.LongSymbol] = true
		if sets[s.ShortVenue] == nil {
			sets[s.ShortVenue] = make(map[string]bool)
		}
		sets[s.ShortVenue][s.ShortSymbol] = true
	}

	result := make(map[model.VenueId][]string, len(sets))
	for v, set := range sets {
		symbols := make([]string, 0, len(set))
		for s := range set {
			symbols = append(symbols, s)
		}
		result[v] = symbols
	}
	return result
}

// TokenData returns a snapshot of the current per-canonical aggregation.
func (l *Loader) TokenData() map[string]*TokenData {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]*TokenData, len(l.tokenData))
	for k, v := range l.tokenData {
		out[k] = v
	}
	return out
}

func venueAttr(v model.VenueId) attribute.KeyValue {
	return attribute.String("venue", string(v))
}

// Refresh re-runs LoadAll.
func (l *Loader) Refresh(ctx context.Context) error {
	return l.LoadAll(ctx)
}

// StartPeriodicRefresh re-runs LoadAll on refreshInterval until ctx is
// cancelled.
func (l *Loader) StartPeriodicRefresh(ctx context.Context) {
	go func() {
		l.mu.RLock()
		interval := l.refreshInterval
		l.mu.RUnlock()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := l.Refresh(ctx); err != nil {
					l.log.Error(ctx, "periodic refresh failed", "error", err.Error())
				}
			}
		}
	}()
}
