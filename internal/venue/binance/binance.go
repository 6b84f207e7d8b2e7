// Package binance implements the uniform venue.Connector contract for
// Binance USDT-M perpetual futures.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crossspread/md-ingest/internal/apperror"
	"github.com/crossspread/md-ingest/internal/canonical"
	"github.com/crossspread/md-ingest/internal/circuitbreaker"
	"github.com/crossspread/md-ingest/internal/httpclient"
	"github.com/crossspread/md-ingest/internal/model"
	"github.com/crossspread/md-ingest/internal/ratelimit"
	"github.com/crossspread/md-ingest/internal/venue"
	"github.com/crossspread/md-ingest/internal/wsconn"
)

const (
	restBaseURL = "https://fapi.binance.com"
	wsBaseURL   = "wss://fstream.binance.com/stream"
)

// Connector implements venue.Connector for Binance USDT-M futures.
type Connector struct {
	*venue.BaseConnector

	http httpclient.Client
	rl   *ratelimit.Limiter
	cb   *circuitbreaker.CircuitBreaker[any]

	ws *wsconn.Client

	mu      sync.RWMutex
	symbols map[string]bool
	books   *venue.BookCache
}

// New constructs a Binance connector.
func New() (*Connector, error) {
	cli, err := httpclient.NewInstrumentedClient(
		httpclient.WithBaseURL(restBaseURL),
		httpclient.WithProviderName("binance"),
	)
	if err != nil {
		return nil, fmt.Errorf("binance: new http client: %w", err)
	}

	return &Connector{
		BaseConnector: venue.NewBase(model.VenueBinance),
		http:          cli,
		rl:            ratelimit.New(1200),
		cb:            circuitbreaker.New[any](circuitbreaker.DefaultConfig("binance-rest")),
		symbols:       make(map[string]bool),
		books:         venue.NewBookCache(),
	}, nil
}

// FetchInstruments returns all trading USDT-M perpetuals.
func (c *Connector) FetchInstruments(ctx context.Context) ([]model.Instrument, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}

	var raw struct {
		Symbols []struct {
			Symbol       string `json:"symbol"`
			Status       string `json:"status"`
			BaseAsset    string `json:"baseAsset"`
			QuoteAsset   string `json:"quoteAsset"`
			ContractType string `json:"contractType"`
			Filters      []struct {
				FilterType  string `json:"filterType"`
				TickSize    string `json:"tickSize,omitempty"`
				StepSize    string `json:"stepSize,omitempty"`
				MinNotional string `json:"notional,omitempty"`
			} `json:"filters"`
		} `json:"symbols"`
	}

	resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
		return c.http.NewRequest().SetResult(&raw).Get(ctx, "/fapi/v1/exchangeInfo")
	})
	if err != nil {
		return nil, apperror.External(apperror.CodeVenueUnreachable, "binance: fetch exchange info", err)
	}
	if resp.IsError() {
		return nil, apperror.New(apperror.CodeVenueAPIError, apperror.WithContext(fmt.Sprintf("binance exchangeInfo status %d", resp.StatusCode)))
	}

	instruments := make([]model.Instrument, 0, len(raw.Symbols))
	for _, s := range raw.Symbols {
		if s.Status != "TRADING" || s.ContractType != "PERPETUAL" {
			continue
		}
		canon, ok := canonical.ToCanonical(model.VenueBinance, s.Symbol)
		if !ok {
			continue
		}

		inst := model.Instrument{
			Venue:      model.VenueBinance,
			Symbol:     s.Symbol,
			Canonical:  canon,
			BaseAsset:  s.BaseAsset,
			QuoteAsset: s.QuoteAsset,
			Kind:       model.KindPerpetual,
			MakerFee:   decimal.NewFromFloat(0.0002),
			TakerFee:   decimal.NewFromFloat(0.0004),
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				inst.TickSize = parseDecimal(f.TickSize)
			case "LOT_SIZE":
				inst.LotSize = parseDecimal(f.StepSize)
			case "MIN_NOTIONAL":
				inst.MinNotional = parseDecimal(f.MinNotional)
			}
		}
		instruments = append(instruments, inst)
	}
	return instruments, nil
}

// FetchPriceTickers returns last price + 24h volume for every symbol.
func (c *Connector) FetchPriceTickers(ctx context.Context) ([]model.PriceTicker, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}

	var raw []struct {
		Symbol      string `json:"symbol"`
		LastPrice   string `json:"lastPrice"`
		BidPrice    string `json:"bidPrice"`
		AskPrice    string `json:"askPrice"`
		Volume      string `json:"volume"`
		QuoteVolume string `json:"quoteVolume"`
		CloseTime   int64  `json:"closeTime"`
	}

	resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
		return c.http.NewRequest().SetResult(&raw).Get(ctx, "/fapi/v1/ticker/24hr")
	})
	if err != nil {
		return nil, apperror.External(apperror.CodeVenueUnreachable, "binance: fetch tickers", err)
	}
	if resp.IsError() {
		return nil, apperror.New(apperror.CodeVenueAPIError, apperror.WithContext(fmt.Sprintf("binance ticker/24hr status %d", resp.StatusCode)))
	}

	tickers := make([]model.PriceTicker, 0, len(raw))
	for _, d := range raw {
		canon, ok := canonical.ToCanonical(model.VenueBinance, d.Symbol)
		if !ok {
			continue
		}
		tickers = append(tickers, model.PriceTicker{
			Venue:     model.VenueBinance,
			Symbol:    d.Symbol,
			Canonical: canon,
			Last:      parseDecimal(d.LastPrice),
			Bid:       parseDecimal(d.BidPrice),
			Ask:       parseDecimal(d.AskPrice),
			Volume24h: parseDecimal(d.QuoteVolume),
			Timestamp: d.CloseTime,
		})
	}
	return tickers, nil
}

// FetchFundingRates returns the current (premium index) funding rate per symbol.
func (c *Connector) FetchFundingRates(ctx context.Context) ([]model.FundingRate, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}

	var raw []struct {
		Symbol          string `json:"symbol"`
		LastFundingRate string `json:"lastFundingRate"`
		NextFundingTime int64  `json:"nextFundingTime"`
		Time            int64  `json:"time"`
	}

	resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
		return c.http.NewRequest().SetResult(&raw).Get(ctx, "/fapi/v1/premiumIndex")
	})
	if err != nil {
		return nil, apperror.External(apperror.CodeVenueUnreachable, "binance: fetch funding", err)
	}
	if resp.IsError() {
		return nil, apperror.New(apperror.CodeVenueAPIError, apperror.WithContext(fmt.Sprintf("binance premiumIndex status %d", resp.StatusCode)))
	}

	rates := make([]model.FundingRate, 0, len(raw))
	for _, d := range raw {
		canon, ok := canonical.ToCanonical(model.VenueBinance, d.Symbol)
		if !ok {
			continue
		}
		rates = append(rates, model.FundingRate{
			Venue:           model.VenueBinance,
			Symbol:          d.Symbol,
			Canonical:       canon,
			Rate:            parseDecimal(d.LastFundingRate),
			NextFundingTime: d.NextFundingTime,
			IntervalHours:   8,
			Timestamp:       d.Time,
		})
	}
	return rates, nil
}

// FetchAssetInfo returns degraded (always-enabled) asset info: Binance
// futures margin deposit/withdraw status requires signed endpoints this
// connector does not call in public mode.
func (c *Connector) FetchAssetInfo(ctx context.Context) ([]model.AssetInfo, error) {
	instruments, err := c.FetchInstruments(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	now := time.Now().UnixMilli()
	infos := make([]model.AssetInfo, 0, len(instruments))
	for _, inst := range instruments {
		if seen[inst.BaseAsset] {
			continue
		}
		seen[inst.BaseAsset] = true
		infos = append(infos, model.DegradedAssetInfo(model.VenueBinance, inst.BaseAsset, now))
	}
	return infos, nil
}

// FetchOrderbookSnapshot fetches an L2 depth snapshot via REST.
func (c *Connector) FetchOrderbookSnapshot(ctx context.Context, symbol string, depth int) (model.OrderBook, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return model.OrderBook{}, err
	}

	var raw struct {
		LastUpdateID int64      `json:"lastUpdateId"`
		Bids         [][]string `json:"bids"`
		Asks         [][]string `json:"asks"`
	}

	resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
		return c.http.NewRequest().SetResult(&raw).
			SetQueryParam("symbol", symbol).
			SetQueryParam("limit", strconv.Itoa(depth)).
			Get(ctx, "/fapi/v1/depth")
	})
	if err != nil {
		return model.OrderBook{}, apperror.External(apperror.CodeVenueUnreachable, "binance: fetch orderbook snapshot", err)
	}
	if resp.IsError() {
		return model.OrderBook{}, apperror.New(apperror.CodeOrderbookFetchFailed, apperror.WithContext(fmt.Sprintf("binance depth status %d", resp.StatusCode)))
	}

	canon, _ := canonical.ToCanonical(model.VenueBinance, symbol)
	return model.NewSnapshot(model.VenueBinance, symbol, canon, parseLevels(raw.Bids), parseLevels(raw.Asks), raw.LastUpdateID, time.Now()), nil
}

// Connect dials the combined depth-stream socket for all registered symbols.
func (c *Connector) Connect(ctx context.Context) error {
	c.mu.RLock()
	symbols := make([]string, 0, len(c.symbols))
	for s := range c.symbols {
		symbols = append(symbols, s)
	}
	c.mu.RUnlock()
	return c.dial(ctx, symbols)
}

// ConnectForSymbols replaces the current subscription set and (re)dials.
func (c *Connector) ConnectForSymbols(ctx context.Context, symbols []string) error {
	c.mu.Lock()
	c.symbols = make(map[string]bool, len(symbols))
	for _, s := range symbols {
		c.symbols[s] = true
	}
	c.mu.Unlock()
	return c.dial(ctx, symbols)
}

func (c *Connector) dial(ctx context.Context, symbols []string) error {
	if len(symbols) == 0 {
		return apperror.New(apperror.CodeInvalidInput, apperror.WithContext("binance: no symbols to subscribe"))
	}

	streams := make([]string, 0, len(symbols)*2)
	for _, s := range symbols {
		lower := strings.ToLower(s)
		streams = append(streams, lower+"@depth@100ms", lower+"@aggTrade")
	}

	cfg := wsconn.DefaultConfig(fmt.Sprintf("%s?streams=%s", wsBaseURL, strings.Join(streams, "/")), "binance")
	ws, err := wsconn.New(cfg)
	if err != nil {
		return fmt.Errorf("binance: new ws client: %w", err)
	}
	ws.OnMessage(c.handleMessage)
	ws.OnStateChange(func(state wsconn.State, err error) {
		c.SetConnected(state == wsconn.StateConnected)
		if state == wsconn.StateDisconnected && err != nil {
			c.EmitError(fmt.Errorf("binance: connection lost: %w", err))
		}
	})

	if err := ws.Connect(ctx); err != nil {
		return apperror.Wrap(err, apperror.CodeWebSocketConnectionError, "binance: dial failed")
	}
	c.ws = ws
	c.SetConnected(true)
	return nil
}

// Subscribe re-dials with the union of current and new symbols: Binance's
// combined-stream endpoint has no incremental SUBSCRIBE for depth@100ms
// without first opening the stream URL with them included.
func (c *Connector) Subscribe(symbols []string) error {
	c.mu.Lock()
	for _, s := range symbols {
		c.symbols[s] = true
	}
	all := make([]string, 0, len(c.symbols))
	for s := range c.symbols {
		all = append(all, s)
	}
	c.mu.Unlock()
	return c.dial(context.Background(), all)
}

// Unsubscribe drops symbols from the local set and re-dials with the rest.
func (c *Connector) Unsubscribe(symbols []string) error {
	c.mu.Lock()
	for _, s := range symbols {
		delete(c.symbols, s)
		c.books.Remove(s)
	}
	all := make([]string, 0, len(c.symbols))
	for s := range c.symbols {
		all = append(all, s)
	}
	c.mu.Unlock()
	if len(all) == 0 {
		return c.Disconnect()
	}
	return c.dial(context.Background(), all)
}

// Disconnect closes the active WebSocket connection, if any.
func (c *Connector) Disconnect() error {
	c.SetConnected(false)
	if c.ws == nil {
		return nil
	}
	return c.ws.Close()
}

func (c *Connector) handleMessage(_ context.Context, data []byte) {
	var wrapper struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		c.EmitError(fmt.Errorf("binance: unmarshal envelope: %w", err))
		return
	}
	if wrapper.Data == nil {
		return
	}

	var evt struct {
		EventType string `json:"e"`
	}
	if err := json.Unmarshal(wrapper.Data, &evt); err != nil {
		c.EmitError(fmt.Errorf("binance: unmarshal event type: %w", err))
		return
	}

	switch evt.EventType {
	case "depthUpdate":
		c.handleDepth(wrapper.Data)
	case "aggTrade":
		c.handleAggTrade(wrapper.Data)
	}
}

func (c *Connector) handleDepth(raw json.RawMessage) {
	var depth struct {
		EventTime int64      `json:"E"`
		Symbol    string     `json:"s"`
		FinalID   int64      `json:"u"`
		Bids      [][]string `json:"b"`
		Asks      [][]string `json:"a"`
	}
	if err := json.Unmarshal(raw, &depth); err != nil {
		c.EmitError(fmt.Errorf("binance: unmarshal depth: %w", err))
		return
	}

	canon, ok := canonical.ToCanonical(model.VenueBinance, depth.Symbol)
	if !ok {
		return
	}

	// depthUpdate frames are always incremental: Binance's combined stream
	// never re-sends a full book, so every frame after the first is applied
	// as a delta against the book cache rather than replacing it.
	ob := c.books.Apply(model.VenueBinance, depth.Symbol, canon, parseLevels(depth.Bids), parseLevels(depth.Asks), depth.FinalID, time.UnixMilli(depth.EventTime), false)
	c.EmitOrderbook(ob)
}

func (c *Connector) handleAggTrade(raw json.RawMessage) {
	var t struct {
		Symbol    string `json:"s"`
		TradeID   int64  `json:"a"`
		Price     string `json:"p"`
		Quantity  string `json:"q"`
		TradeTime int64  `json:"T"`
		BuyerMaker bool  `json:"m"`
	}
	if err := json.Unmarshal(raw, &t); err != nil {
		c.EmitError(fmt.Errorf("binance: unmarshal aggTrade: %w", err))
		return
	}

	canon, ok := canonical.ToCanonical(model.VenueBinance, t.Symbol)
	if !ok {
		return
	}

	side := model.TradeSideBuy
	if t.BuyerMaker {
		side = model.TradeSideSell
	}

	c.EmitTrade(model.Trade{
		Venue:     model.VenueBinance,
		Symbol:    t.Symbol,
		Canonical: canon,
		TradeID:   strconv.FormatInt(t.TradeID, 10),
		Price:     parseDecimal(t.Price),
		Quantity:  parseDecimal(t.Quantity),
		Side:      side,
		VenueTime: time.UnixMilli(t.TradeTime),
		RecvTime:  time.Now(),
	})
}

func parseLevels(raw [][]string) []model.PriceLevel {
	levels := make([]model.PriceLevel, 0, len(raw))
	for _, item := range raw {
		if len(item) < 2 {
			continue
		}
		levels = append(levels, model.PriceLevel{
			Price:    parseDecimal(item[0]),
			Quantity: parseDecimal(item[1]),
		})
	}
	return levels
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
