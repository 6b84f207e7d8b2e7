// Package bybit implements the uniform venue.Connector contract for Bybit
// USDT/USDC linear perpetuals.
package bybit

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
	restBaseURL = "https://api.bybit.com"
	wsURL       = "wss://stream.bybit.com/v5/public/linear"
)

// Connector implements venue.Connector for Bybit linear perpetuals.
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

// New constructs a Bybit connector.
func New() (*Connector, error) {
	cli, err := httpclient.NewInstrumentedClient(
		httpclient.WithBaseURL(restBaseURL),
		httpclient.WithProviderName("bybit"),
	)
	if err != nil {
		return nil, fmt.Errorf("bybit: new http client: %w", err)
	}
	return &Connector{
		BaseConnector: venue.NewBase(model.VenueBybit),
		http:          cli,
		rl:            ratelimit.New(600),
		cb:            circuitbreaker.New[any](circuitbreaker.DefaultConfig("bybit-rest")),
		symbols:       make(map[string]bool),
		books:         venue.NewBookCache(),
	}, nil
}

// FetchInstruments returns all trading linear USDT/USDC perpetuals.
func (c *Connector) FetchInstruments(ctx context.Context) ([]model.Instrument, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}

	var raw struct {
		Result struct {
			List []struct {
				Symbol      string `json:"symbol"`
				ContractType string `json:"contractType"`
				Status      string `json:"status"`
				BaseCoin    string `json:"baseCoin"`
				QuoteCoin   string `json:"quoteCoin"`
				PriceFilter struct {
					TickSize string `json:"tickSize"`
				} `json:"priceFilter"`
				LotSizeFilter struct {
					QtyStep string `json:"qtyStep"`
				} `json:"lotSizeFilter"`
			} `json:"list"`
		} `json:"result"`
	}

	resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
		return c.http.NewRequest().SetResult(&raw).
			SetQueryParam("category", "linear").
			Get(ctx, "/v5/market/instruments-info")
	})
	if err != nil {
		return nil, apperror.External(apperror.CodeVenueUnreachable, "bybit: fetch instruments-info", err)
	}
	if resp.IsError() {
		return nil, apperror.New(apperror.CodeVenueAPIError, apperror.WithContext(fmt.Sprintf("bybit instruments-info status %d", resp.StatusCode)))
	}

	instruments := make([]model.Instrument, 0, len(raw.Result.List))
	for _, s := range raw.Result.List {
		if s.Status != "Trading" || s.ContractType != "LinearPerpetual" {
			continue
		}
		canon, ok := canonical.ToCanonical(model.VenueBybit, s.Symbol)
		if !ok {
			continue
		}
		instruments = append(instruments, model.Instrument{
			Venue:      model.VenueBybit,
			Symbol:     s.Symbol,
			Canonical:  canon,
			BaseAsset:  s.BaseCoin,
			QuoteAsset: s.QuoteCoin,
			Kind:       model.KindPerpetual,
			TickSize:   parseDecimal(s.PriceFilter.TickSize),
			LotSize:    parseDecimal(s.LotSizeFilter.QtyStep),
			MakerFee:   decimal.NewFromFloat(0.0002),
			TakerFee:   decimal.NewFromFloat(0.00055),
		})
	}
	return instruments, nil
}

// FetchPriceTickers returns last price, top of book, and 24h turnover.
func (c *Connector) FetchPriceTickers(ctx context.Context) ([]model.PriceTicker, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}

	var raw struct {
		Result struct {
			List []struct {
				Symbol      string `json:"symbol"`
				LastPrice   string `json:"lastPrice"`
				Bid1Price   string `json:"bid1Price"`
				Ask1Price   string `json:"ask1Price"`
				Turnover24h string `json:"turnover24h"`
			} `json:"list"`
		} `json:"result"`
	}

	resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
		return c.http.NewRequest().SetResult(&raw).
			SetQueryParam("category", "linear").
			Get(ctx, "/v5/market/tickers")
	})
	if err != nil {
		return nil, apperror.External(apperror.CodeVenueUnreachable, "bybit: fetch tickers", err)
	}
	if resp.IsError() {
		return nil, apperror.New(apperror.CodeVenueAPIError, apperror.WithContext(fmt.Sprintf("bybit tickers status %d", resp.StatusCode)))
	}

	now := time.Now().UnixMilli()
	tickers := make([]model.PriceTicker, 0, len(raw.Result.List))
	for _, d := range raw.Result.List {
		canon, ok := canonical.ToCanonical(model.VenueBybit, d.Symbol)
		if !ok {
			continue
		}
		tickers = append(tickers, model.PriceTicker{
			Venue:     model.VenueBybit,
			Symbol:    d.Symbol,
			Canonical: canon,
			Last:      parseDecimal(d.LastPrice),
			Bid:       parseDecimal(d.Bid1Price),
			Ask:       parseDecimal(d.Ask1Price),
			Volume24h: parseDecimal(d.Turnover24h),
			Timestamp: now,
		})
	}
	return tickers, nil
}

// FetchFundingRates returns the most recent funding rate per symbol.
func (c *Connector) FetchFundingRates(ctx context.Context) ([]model.FundingRate, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}

	var raw struct {
		Result struct {
			List []struct {
				Symbol          string `json:"symbol"`
				FundingRate     string `json:"fundingRate"`
				NextFundingTime string `json:"nextFundingTime"`
			} `json:"list"`
		} `json:"result"`
	}

	resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
		return c.http.NewRequest().SetResult(&raw).
			SetQueryParam("category", "linear").
			Get(ctx, "/v5/market/tickers")
	})
	if err != nil {
		return nil, apperror.External(apperror.CodeVenueUnreachable, "bybit: fetch funding", err)
	}
	if resp.IsError() {
		return nil, apperror.New(apperror.CodeVenueAPIError, apperror.WithContext(fmt.Sprintf("bybit tickers(funding) status %d", resp.StatusCode)))
	}

	now := time.Now().UnixMilli()
	rates := make([]model.FundingRate, 0, len(raw.Result.List))
	for _, d := range raw.Result.List {
		canon, ok := canonical.ToCanonical(model.VenueBybit, d.Symbol)
		if !ok {
			continue
		}
		nextMs, _ := strconv.ParseInt(d.NextFundingTime, 10, 64)
		rates = append(rates, model.FundingRate{
			Venue:           model.VenueBybit,
			Symbol:          d.Symbol,
			Canonical:       canon,
			Rate:            parseDecimal(d.FundingRate),
			NextFundingTime: nextMs,
			IntervalHours:   8,
			Timestamp:       now,
		})
	}
	return rates, nil
}

// FetchAssetInfo returns degraded asset info: deposit/withdraw status needs
// the signed /v5/asset/coin/query-info endpoint, not called in public mode.
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
		infos = append(infos, model.DegradedAssetInfo(model.VenueBybit, inst.BaseAsset, now))
	}
	return infos, nil
}

// FetchOrderbookSnapshot fetches an L2 depth snapshot via REST.
func (c *Connector) FetchOrderbookSnapshot(ctx context.Context, symbol string, depth int) (model.OrderBook, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return model.OrderBook{}, err
	}

	var raw struct {
		Result struct {
			Bids [][]string `json:"b"`
			Asks [][]string `json:"a"`
			Ts   int64      `json:"ts"`
			U    int64      `json:"u"`
		} `json:"result"`
	}

	resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
		return c.http.NewRequest().SetResult(&raw).
			SetQueryParam("category", "linear").
			SetQueryParam("symbol", symbol).
			SetQueryParam("limit", strconv.Itoa(depth)).
			Get(ctx, "/v5/market/orderbook")
	})
	if err != nil {
		return model.OrderBook{}, apperror.External(apperror.CodeVenueUnreachable, "bybit: fetch orderbook snapshot", err)
	}
	if resp.IsError() {
		return model.OrderBook{}, apperror.New(apperror.CodeOrderbookFetchFailed, apperror.WithContext(fmt.Sprintf("bybit orderbook status %d", resp.StatusCode)))
	}

	canon, _ := canonical.ToCanonical(model.VenueBybit, symbol)
	ts := time.UnixMilli(raw.Result.Ts)
	if raw.Result.Ts == 0 {
		ts = time.Now()
	}
	return model.NewSnapshot(model.VenueBybit, symbol, canon, parseLevels(raw.Result.Bids), parseLevels(raw.Result.Asks), raw.Result.U, ts), nil
}

// Connect dials the public linear topic socket and subscribes to orderbook.50
// for every registered symbol.
func (c *Connector) Connect(ctx context.Context) error {
	c.mu.RLock()
	symbols := make([]string, 0, len(c.symbols))
	for s := range c.symbols {
		symbols = append(symbols, s)
	}
	c.mu.RUnlock()
	return c.dial(ctx, symbols)
}

// ConnectForSymbols replaces the subscription set and (re)dials.
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
		return apperror.New(apperror.CodeInvalidInput, apperror.WithContext("bybit: no symbols to subscribe"))
	}

	cfg := wsconn.DefaultConfig(wsURL, "bybit")
	cfg.PingInterval = 20 * time.Second
	ws, err := wsconn.New(cfg)
	if err != nil {
		return fmt.Errorf("bybit: new ws client: %w", err)
	}
	ws.OnMessage(c.handleMessage)
	ws.OnStateChange(func(state wsconn.State, err error) {
		c.SetConnected(state == wsconn.StateConnected)
		if state == wsconn.StateDisconnected && err != nil {
			c.EmitError(fmt.Errorf("bybit: connection lost: %w", err))
		}
	})
	if err := ws.Connect(ctx); err != nil {
		return apperror.Wrap(err, apperror.CodeWebSocketConnectionError, "bybit: dial failed")
	}
	c.ws = ws
	c.SetConnected(true)

	args := make([]string, 0, len(symbols)*2)
	for _, s := range symbols {
		args = append(args, fmt.Sprintf("orderbook.50.%s", s), fmt.Sprintf("publicTrade.%s", s))
	}
	return ws.SendJSON(ctx, map[string]any{"op": "subscribe", "args": args})
}

// Subscribe adds subscriptions over the live connection via op:"subscribe".
func (c *Connector) Subscribe(symbols []string) error {
	c.mu.Lock()
	for _, s := range symbols {
		c.symbols[s] = true
	}
	c.mu.Unlock()
	if c.ws == nil || !c.ws.IsConnected() {
		return c.dial(context.Background(), symbols)
	}
	args := make([]string, 0, len(symbols)*2)
	for _, s := range symbols {
		args = append(args, fmt.Sprintf("orderbook.50.%s", s), fmt.Sprintf("publicTrade.%s", s))
	}
	return c.ws.SendJSON(context.Background(), map[string]any{"op": "subscribe", "args": args})
}

// Unsubscribe removes subscriptions over the live connection.
func (c *Connector) Unsubscribe(symbols []string) error {
	c.mu.Lock()
	for _, s := range symbols {
		delete(c.symbols, s)
		c.books.Remove(s)
	}
	c.mu.Unlock()
	if c.ws == nil || !c.ws.IsConnected() {
		return nil
	}
	args := make([]string, 0, len(symbols)*2)
	for _, s := range symbols {
		args = append(args, fmt.Sprintf("orderbook.50.%s", s), fmt.Sprintf("publicTrade.%s", s))
	}
	return c.ws.SendJSON(context.Background(), map[string]any{"op": "unsubscribe", "args": args})
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
	var topic struct {
		Topic string `json:"topic"`
	}
	if err := json.Unmarshal(data, &topic); err != nil {
		return // ping/pong or subscription ack frames aren't topic payloads
	}

	switch {
	case strings.HasPrefix(topic.Topic, "orderbook."):
		c.handleOrderbook(data)
	case strings.HasPrefix(topic.Topic, "publicTrade."):
		c.handleTrade(data)
	}
}

func (c *Connector) handleOrderbook(data []byte) {
	var msg struct {
		Type string `json:"type"`
		Ts   int64  `json:"ts"`
		Data struct {
			Symbol string     `json:"s"`
			Bids   [][]string `json:"b"`
			Asks   [][]string `json:"a"`
			Seq    int64      `json:"seq"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &msg); err != nil || msg.Data.Symbol == "" {
		return
	}

	canon, ok := canonical.ToCanonical(model.VenueBybit, msg.Data.Symbol)
	if !ok {
		return
	}

	ob := c.books.Apply(model.VenueBybit, msg.Data.Symbol, canon, parseLevels(msg.Data.Bids), parseLevels(msg.Data.Asks), msg.Data.Seq, time.UnixMilli(msg.Ts), msg.Type == "snapshot")
	c.EmitOrderbook(ob)
}

func (c *Connector) handleTrade(data []byte) {
	var msg struct {
		Data []struct {
			Symbol string `json:"s"`
			Side   string `json:"S"`
			Price  string `json:"p"`
			Qty    string `json:"v"`
			ID     string `json:"i"`
			Ts     int64  `json:"T"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	for _, t := range msg.Data {
		canon, ok := canonical.ToCanonical(model.VenueBybit, t.Symbol)
		if !ok {
			continue
		}
		side := model.TradeSideBuy
		if t.Side == "Sell" {
			side = model.TradeSideSell
		}
		c.EmitTrade(model.Trade{
			Venue:     model.VenueBybit,
			Symbol:    t.Symbol,
			Canonical: canon,
			TradeID:   t.ID,
			Price:     parseDecimal(t.Price),
			Quantity:  parseDecimal(t.Qty),
			Side:      side,
			VenueTime: time.UnixMilli(t.Ts),
			RecvTime:  time.Now(),
		})
	}
}

func parseLevels(raw [][]string) []model.PriceLevel {
	levels := make([]model.PriceLevel, 0, len(raw))
	for _, item := range raw {
		if len(item) < 2 {
			continue
		}
		levels = append(levels, model.PriceLevel{Price: parseDecimal(item[0]), Quantity: parseDecimal(item[1])})
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
