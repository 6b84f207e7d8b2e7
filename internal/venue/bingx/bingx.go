// Package bingx implements the uniform venue.Connector contract for BingX
// USDT-margined perpetual swaps.
package bingx

import (
	"context"
	"encoding/json"
	"fmt"
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
	restBaseURL = "https://open-api.bingx.com"
	wsURL       = "wss://open-api-swap.bingx.com/swap-market"
)

// Connector implements venue.Connector for BingX USDT-margined perpetual
// swaps (native symbols like BTC-USDT).
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

// New constructs a BingX connector.
func New() (*Connector, error) {
	cli, err := httpclient.NewInstrumentedClient(
		httpclient.WithBaseURL(restBaseURL),
		httpclient.WithProviderName("bingx"),
	)
	if err != nil {
		return nil, fmt.Errorf("bingx: new http client: %w", err)
	}
	return &Connector{
		BaseConnector: venue.NewBase(model.VenueBingX),
		http:          cli,
		rl:            ratelimit.New(300),
		cb:            circuitbreaker.New[any](circuitbreaker.DefaultConfig("bingx-rest")),
		symbols:       make(map[string]bool),
		books:         venue.NewBookCache(),
	}, nil
}

type bingxEnvelope[T any] struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data T      `json:"data"`
}

func (c *Connector) FetchInstruments(ctx context.Context) ([]model.Instrument, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}
	var raw bingxEnvelope[[]struct {
		Symbol        string  `json:"symbol"`
		Currency      string  `json:"currency"`
		Asset         string  `json:"asset"`
		Status        int     `json:"status"`
		PricePrecision int    `json:"pricePrecision"`
		TradeMinQuantity string `json:"tradeMinQuantity"`
		MakerFeeRate  float64 `json:"makerFeeRate"`
		TakerFeeRate  float64 `json:"takerFeeRate"`
	}]
	resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
		return c.http.NewRequest().SetResult(&raw).Get(ctx, "/openApi/swap/v2/quote/contracts")
	})
	if err != nil {
		return nil, apperror.External(apperror.CodeVenueUnreachable, "bingx: fetch contracts", err)
	}
	if resp.IsError() || raw.Code != 0 {
		return nil, apperror.New(apperror.CodeVenueAPIError, apperror.WithContext(fmt.Sprintf("bingx contracts code=%d msg=%s", raw.Code, raw.Msg)))
	}
	instruments := make([]model.Instrument, 0, len(raw.Data))
	for _, s := range raw.Data {
		if s.Status != 1 {
			continue
		}
		canon, ok := canonical.ToCanonical(model.VenueBingX, s.Symbol)
		if !ok {
			continue
		}
		instruments = append(instruments, model.Instrument{
			Venue:      model.VenueBingX,
			Symbol:     s.Symbol,
			Canonical:  canon,
			BaseAsset:  s.Asset,
			QuoteAsset: s.Currency,
			Kind:       model.KindPerpetual,
			LotSize:    parseDecimal(s.TradeMinQuantity),
			MakerFee:   decimal.NewFromFloat(s.MakerFeeRate),
			TakerFee:   decimal.NewFromFloat(s.TakerFeeRate),
		})
	}
	return instruments, nil
}

func (c *Connector) FetchPriceTickers(ctx context.Context) ([]model.PriceTicker, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}
	var raw bingxEnvelope[[]struct {
		Symbol      string `json:"symbol"`
		LastPrice   string `json:"lastPrice"`
		BidPrice    string `json:"bidPrice"`
		AskPrice    string `json:"askPrice"`
		QuoteVolume string `json:"quoteVolume"`
	}]
	resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
		return c.http.NewRequest().SetResult(&raw).Get(ctx, "/openApi/swap/v2/quote/ticker")
	})
	if err != nil {
		return nil, apperror.External(apperror.CodeVenueUnreachable, "bingx: fetch tickers", err)
	}
	if resp.IsError() || raw.Code != 0 {
		return nil, apperror.New(apperror.CodeVenueAPIError, apperror.WithContext(fmt.Sprintf("bingx ticker code=%d msg=%s", raw.Code, raw.Msg)))
	}
	now := time.Now().UnixMilli()
	tickers := make([]model.PriceTicker, 0, len(raw.Data))
	for _, d := range raw.Data {
		canon, ok := canonical.ToCanonical(model.VenueBingX, d.Symbol)
		if !ok {
			continue
		}
		tickers = append(tickers, model.PriceTicker{
			Venue:     model.VenueBingX,
			Symbol:    d.Symbol,
			Canonical: canon,
			Last:      parseDecimal(d.LastPrice),
			Bid:       parseDecimal(d.BidPrice),
			Ask:       parseDecimal(d.AskPrice),
			Volume24h: parseDecimal(d.QuoteVolume),
			Timestamp: now,
		})
	}
	return tickers, nil
}

func (c *Connector) FetchFundingRates(ctx context.Context) ([]model.FundingRate, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}
	var raw bingxEnvelope[[]struct {
		Symbol          string `json:"symbol"`
		LastFundingRate string `json:"lastFundingRate"`
		NextFundingTime int64  `json:"nextFundingTime"`
	}]
	resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
		return c.http.NewRequest().SetResult(&raw).Get(ctx, "/openApi/swap/v2/quote/premiumIndex")
	})
	if err != nil {
		return nil, apperror.External(apperror.CodeVenueUnreachable, "bingx: fetch funding", err)
	}
	if resp.IsError() || raw.Code != 0 {
		return nil, apperror.New(apperror.CodeVenueAPIError, apperror.WithContext(fmt.Sprintf("bingx premiumIndex code=%d msg=%s", raw.Code, raw.Msg)))
	}
	now := time.Now().UnixMilli()
	rates := make([]model.FundingRate, 0, len(raw.Data))
	for _, d := range raw.Data {
		canon, ok := canonical.ToCanonical(model.VenueBingX, d.Symbol)
		if !ok {
			continue
		}
		rates = append(rates, model.FundingRate{
			Venue:           model.VenueBingX,
			Symbol:          d.Symbol,
			Canonical:       canon,
			Rate:            parseDecimal(d.LastFundingRate),
			NextFundingTime: d.NextFundingTime,
			IntervalHours:   8,
			Timestamp:       now,
		})
	}
	return rates, nil
}

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
		infos = append(infos, model.DegradedAssetInfo(model.VenueBingX, inst.BaseAsset, now))
	}
	return infos, nil
}

func (c *Connector) FetchOrderbookSnapshot(ctx context.Context, symbol string, depth int) (model.OrderBook, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return model.OrderBook{}, err
	}
	var raw bingxEnvelope[struct {
		Bids []interface{} `json:"bids"`
		Asks []interface{} `json:"asks"`
		T    int64         `json:"T"`
	}]
	resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
		return c.http.NewRequest().SetResult(&raw).
			SetQueryParam("symbol", symbol).
			Get(ctx, "/openApi/swap/v2/quote/depth")
	})
	if err != nil {
		return model.OrderBook{}, apperror.External(apperror.CodeVenueUnreachable, "bingx: fetch orderbook snapshot", err)
	}
	if resp.IsError() || raw.Code != 0 {
		return model.OrderBook{}, apperror.New(apperror.CodeOrderbookFetchFailed, apperror.WithContext(fmt.Sprintf("bingx depth code=%d msg=%s", raw.Code, raw.Msg)))
	}
	canon, _ := canonical.ToCanonical(model.VenueBingX, symbol)
	ts := time.UnixMilli(raw.Data.T)
	if raw.Data.T == 0 {
		ts = time.Now()
	}
	return model.NewSnapshot(model.VenueBingX, symbol, canon, parseRawLevels(raw.Data.Bids), parseRawLevels(raw.Data.Asks), raw.Data.T, ts), nil
}

func (c *Connector) Connect(ctx context.Context) error {
	c.mu.RLock()
	symbols := make([]string, 0, len(c.symbols))
	for s := range c.symbols {
		symbols = append(symbols, s)
	}
	c.mu.RUnlock()
	return c.dial(ctx, symbols)
}

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
		return apperror.New(apperror.CodeInvalidInput, apperror.WithContext("bingx: no symbols to subscribe"))
	}
	cfg := wsconn.DefaultConfig(wsURL, "bingx")
	ws, err := wsconn.New(cfg)
	if err != nil {
		return fmt.Errorf("bingx: new ws client: %w", err)
	}
	ws.OnMessage(c.handleMessage)
	ws.OnStateChange(func(state wsconn.State, err error) {
		c.SetConnected(state == wsconn.StateConnected)
		if state == wsconn.StateDisconnected && err != nil {
			c.EmitError(fmt.Errorf("bingx: connection lost: %w", err))
		}
	})
	if err := ws.Connect(ctx); err != nil {
		return apperror.Wrap(err, apperror.CodeWebSocketConnectionError, "bingx: dial failed")
	}
	c.ws = ws
	c.SetConnected(true)
	for _, s := range symbols {
		if err := ws.SendJSON(ctx, map[string]any{"id": s, "reqType": "sub", "dataType": s + "@depth20"}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connector) Subscribe(symbols []string) error {
	c.mu.Lock()
	for _, s := range symbols {
		c.symbols[s] = true
	}
	c.mu.Unlock()
	if c.ws == nil || !c.ws.IsConnected() {
		return c.dial(context.Background(), symbols)
	}
	for _, s := range symbols {
		if err := c.ws.SendJSON(context.Background(), map[string]any{"id": s, "reqType": "sub", "dataType": s + "@depth20"}); err != nil {
			return err
		}
	}
	return nil
}

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
	for _, s := range symbols {
		if err := c.ws.SendJSON(context.Background(), map[string]any{"id": s, "reqType": "unsub", "dataType": s + "@depth20"}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connector) Disconnect() error {
	c.SetConnected(false)
	if c.ws == nil {
		return nil
	}
	return c.ws.Close()
}

func (c *Connector) handleMessage(_ context.Context, data []byte) {
	var msg struct {
		DataType string `json:"dataType"`
		Data     struct {
			Bids []interface{} `json:"bids"`
			Asks []interface{} `json:"asks"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &msg); err != nil || msg.DataType == "" {
		return
	}
	const suffix = "@depth20"
	if len(msg.DataType) <= len(suffix) {
		return
	}
	symbol := msg.DataType[:len(msg.DataType)-len(suffix)]
	canon, ok := canonical.ToCanonical(model.VenueBingX, symbol)
	if !ok {
		return
	}
	// depth20 pushes the full top-20 book every message, not a delta, so each
	// frame replaces the cached book outright.
	ob := c.books.Apply(model.VenueBingX, symbol, canon, parseRawLevels(msg.Data.Bids), parseRawLevels(msg.Data.Asks), 0, time.Now(), true)
	c.EmitOrderbook(ob)
}

func parseRawLevels(raw []interface{}) []model.PriceLevel {
	levels := make([]model.PriceLevel, 0, len(raw))
	for _, item := range raw {
		pair, ok := item.([]interface{})
		if !ok || len(pair) < 2 {
			continue
		}
		price, _ := pair[0].(string)
		qty, _ := pair[1].(string)
		levels = append(levels, model.PriceLevel{Price: parseDecimal(price), Quantity: parseDecimal(qty)})
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
