// Package kucoin implements the uniform venue.Connector contract for KuCoin
// Futures (USDT-margined perpetuals, native symbols like XBTUSDTM).
package kucoin

import (
	"context"
	"encoding/json"
	"fmt"
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

const restBaseURL = "https://api-futures.kucoin.com"

// Connector implements venue.Connector for KuCoin Futures. Unlike most
// venues, KuCoin requires a REST "bullet" handshake to obtain a short-lived
// WebSocket endpoint and token before dialing.
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

// New constructs a KuCoin Futures connector.
func New() (*Connector, error) {
	cli, err := httpclient.NewInstrumentedClient(
		httpclient.WithBaseURL(restBaseURL),
		httpclient.WithProviderName("kucoin"),
	)
	if err != nil {
		return nil, fmt.Errorf("kucoin: new http client: %w", err)
	}
	return &Connector{
		BaseConnector: venue.NewBase(model.VenueKuCoin),
		http:          cli,
		rl:            ratelimit.New(600),
		cb:            circuitbreaker.New[any](circuitbreaker.DefaultConfig("kucoin-rest")),
		symbols:       make(map[string]bool),
		books:         venue.NewBookCache(),
	}, nil
}

type kucoinEnvelope[T any] struct {
	Code string `json:"code"`
	Data T      `json:"data"`
}

// FetchInstruments returns all open perpetual futures contracts.
func (c *Connector) FetchInstruments(ctx context.Context) ([]model.Instrument, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}

	var raw kucoinEnvelope[[]struct {
		Symbol       string  `json:"symbol"`
		BaseCurrency string  `json:"baseCurrency"`
		QuoteCurrency string `json:"quoteCurrency"`
		Status       string  `json:"status"`
		IsInverse    bool    `json:"isInverse"`
		TickSize     float64 `json:"tickSize"`
		LotSize      float64 `json:"lotSize"`
		MakerFeeRate float64 `json:"makerFeeRate"`
		TakerFeeRate float64 `json:"takerFeeRate"`
	}]

	resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
		return c.http.NewRequest().SetResult(&raw).Get(ctx, "/api/v1/contracts/active")
	})
	if err != nil {
		return nil, apperror.External(apperror.CodeVenueUnreachable, "kucoin: fetch contracts", err)
	}
	if resp.IsError() || raw.Code != "200000" {
		return nil, apperror.New(apperror.CodeVenueAPIError, apperror.WithContext(fmt.Sprintf("kucoin contracts code=%s", raw.Code)))
	}

	instruments := make([]model.Instrument, 0, len(raw.Data))
	for _, s := range raw.Data {
		if s.Status != "Open" || s.IsInverse {
			continue
		}
		canon, ok := canonical.ToCanonical(model.VenueKuCoin, s.Symbol)
		if !ok {
			continue
		}
		instruments = append(instruments, model.Instrument{
			Venue:      model.VenueKuCoin,
			Symbol:     s.Symbol,
			Canonical:  canon,
			BaseAsset:  s.BaseCurrency,
			QuoteAsset: s.QuoteCurrency,
			Kind:       model.KindPerpetual,
			TickSize:   decimal.NewFromFloat(s.TickSize),
			LotSize:    decimal.NewFromFloat(s.LotSize),
			MakerFee:   decimal.NewFromFloat(s.MakerFeeRate),
			TakerFee:   decimal.NewFromFloat(s.TakerFeeRate),
		})
	}
	return instruments, nil
}

// FetchPriceTickers fetches a ticker snapshot per instrument. KuCoin's
// all-symbols ticker endpoint requires auth, so this iterates the active
// contract list instead.
func (c *Connector) FetchPriceTickers(ctx context.Context) ([]model.PriceTicker, error) {
	instruments, err := c.FetchInstruments(ctx)
	if err != nil {
		return nil, err
	}

	tickers := make([]model.PriceTicker, 0, len(instruments))
	for _, inst := range instruments {
		if err := c.rl.Wait(ctx); err != nil {
			return nil, err
		}

		var raw kucoinEnvelope[struct {
			Price     string `json:"price"`
			BestBidPrice string `json:"bestBidPrice"`
			BestAskPrice string `json:"bestAskPrice"`
			Volume    float64 `json:"volume"`
			Ts        int64   `json:"ts"`
		}]

		resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
			return c.http.NewRequest().SetResult(&raw).
				SetQueryParam("symbol", inst.Symbol).
				Get(ctx, "/api/v1/ticker")
		})
		if err != nil || resp.IsError() || raw.Code != "200000" {
			continue // per-symbol ticker gaps are non-fatal
		}

		tickers = append(tickers, model.PriceTicker{
			Venue:     model.VenueKuCoin,
			Symbol:    inst.Symbol,
			Canonical: inst.Canonical,
			Last:      parseDecimal(raw.Data.Price),
			Bid:       parseDecimal(raw.Data.BestBidPrice),
			Ask:       parseDecimal(raw.Data.BestAskPrice),
			Volume24h: decimal.NewFromFloat(raw.Data.Volume),
			Timestamp: raw.Data.Ts / int64(time.Millisecond),
		})
	}
	return tickers, nil
}

// FetchFundingRates returns the current funding rate per contract.
func (c *Connector) FetchFundingRates(ctx context.Context) ([]model.FundingRate, error) {
	instruments, err := c.FetchInstruments(ctx)
	if err != nil {
		return nil, err
	}

	rates := make([]model.FundingRate, 0, len(instruments))
	for _, inst := range instruments {
		if err := c.rl.Wait(ctx); err != nil {
			return nil, err
		}

		var raw kucoinEnvelope[struct {
			Value            float64 `json:"value"`
			PredictedValue   float64 `json:"predictedValue"`
			NextFundingRateTime int64 `json:"nextFundingRateTime"`
		}]

		resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
			return c.http.NewRequest().SetResult(&raw).
				SetQueryParam("symbol", inst.Symbol).
				Get(ctx, "/api/v1/funding-rate/"+inst.Symbol+"/current")
		})
		if err != nil || resp.IsError() || raw.Code != "200000" {
			continue
		}

		rates = append(rates, model.FundingRate{
			Venue:           model.VenueKuCoin,
			Symbol:          inst.Symbol,
			Canonical:       inst.Canonical,
			Rate:            decimal.NewFromFloat(raw.Data.Value),
			NextFundingTime: time.Now().Add(time.Duration(raw.Data.NextFundingRateTime) * time.Millisecond).UnixMilli(),
			IntervalHours:   8,
			Timestamp:       time.Now().UnixMilli(),
		})
	}
	return rates, nil
}

// FetchAssetInfo returns degraded asset info derived from the contract list.
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
		infos = append(infos, model.DegradedAssetInfo(model.VenueKuCoin, inst.BaseAsset, now))
	}
	return infos, nil
}

// FetchOrderbookSnapshot fetches a level-2 depth snapshot via REST.
func (c *Connector) FetchOrderbookSnapshot(ctx context.Context, symbol string, depth int) (model.OrderBook, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return model.OrderBook{}, err
	}

	endpoint := "/api/v1/level2/depth20"
	if depth > 20 {
		endpoint = "/api/v1/level2/depth100"
	}

	var raw kucoinEnvelope[struct {
		Bids     [][2]float64 `json:"bids"`
		Asks     [][2]float64 `json:"asks"`
		Ts       int64        `json:"ts"`
	}]

	resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
		return c.http.NewRequest().SetResult(&raw).
			SetQueryParam("symbol", symbol).
			Get(ctx, endpoint)
	})
	if err != nil {
		return model.OrderBook{}, apperror.External(apperror.CodeVenueUnreachable, "kucoin: fetch orderbook snapshot", err)
	}
	if resp.IsError() || raw.Code != "200000" {
		return model.OrderBook{}, apperror.New(apperror.CodeOrderbookFetchFailed, apperror.WithContext(fmt.Sprintf("kucoin orderbook code=%s", raw.Code)))
	}

	canon, _ := canonical.ToCanonical(model.VenueKuCoin, symbol)
	ts := time.UnixMilli(raw.Data.Ts)
	if raw.Data.Ts == 0 {
		ts = time.Now()
	}
	return model.NewSnapshot(model.VenueKuCoin, symbol, canon, parsePairLevels(raw.Data.Bids), parsePairLevels(raw.Data.Asks), raw.Data.Ts, ts), nil
}

type bulletResponse struct {
	Code string `json:"code"`
	Data struct {
		Token           string `json:"token"`
		InstanceServers []struct {
			Endpoint      string `json:"endpoint"`
			PingInterval  int64  `json:"pingInterval"`
		} `json:"instanceServers"`
	} `json:"data"`
}

// bullet performs the public bullet handshake to obtain a WS endpoint+token.
func (c *Connector) bullet(ctx context.Context) (string, error) {
	var raw bulletResponse
	resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
		return c.http.NewRequest().SetResult(&raw).Post(ctx, "/api/v1/bullet-public")
	})
	if err != nil {
		return "", apperror.External(apperror.CodeVenueUnreachable, "kucoin: bullet handshake", err)
	}
	if resp.IsError() || raw.Code != "200000" || len(raw.Data.InstanceServers) == 0 {
		return "", apperror.New(apperror.CodeWebSocketConnectionError, apperror.WithContext(fmt.Sprintf("kucoin bullet code=%s", raw.Code)))
	}
	srv := raw.Data.InstanceServers[0]
	return fmt.Sprintf("%s?token=%s", srv.Endpoint, raw.Data.Token), nil
}

// Connect performs the bullet handshake and dials with currently registered
// symbols.
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
		return apperror.New(apperror.CodeInvalidInput, apperror.WithContext("kucoin: no symbols to subscribe"))
	}

	url, err := c.bullet(ctx)
	if err != nil {
		return err
	}

	cfg := wsconn.DefaultConfig(url, "kucoin")
	cfg.PingInterval = 15 * time.Second
	ws, err := wsconn.New(cfg)
	if err != nil {
		return fmt.Errorf("kucoin: new ws client: %w", err)
	}
	ws.OnMessage(c.handleMessage)
	ws.OnStateChange(func(state wsconn.State, err error) {
		c.SetConnected(state == wsconn.StateConnected)
		if state == wsconn.StateDisconnected && err != nil {
			c.EmitError(fmt.Errorf("kucoin: connection lost: %w", err))
		}
	})
	if err := ws.Connect(ctx); err != nil {
		return apperror.Wrap(err, apperror.CodeWebSocketConnectionError, "kucoin: dial failed")
	}
	c.ws = ws
	c.SetConnected(true)

	for _, s := range symbols {
		if err := ws.SendJSON(ctx, subscribeMessage(s, true)); err != nil {
			return err
		}
		if err := ws.SendJSON(ctx, tradeSubscribeMessage(s, true)); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe adds subscriptions over the live connection, one topic per
// symbol (KuCoin Futures has no combined-topic subscribe for depth).
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
		if err := c.ws.SendJSON(context.Background(), subscribeMessage(s, true)); err != nil {
			return err
		}
		if err := c.ws.SendJSON(context.Background(), tradeSubscribeMessage(s, true)); err != nil {
			return err
		}
	}
	return nil
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
	for _, s := range symbols {
		if err := c.ws.SendJSON(context.Background(), subscribeMessage(s, false)); err != nil {
			return err
		}
		if err := c.ws.SendJSON(context.Background(), tradeSubscribeMessage(s, false)); err != nil {
			return err
		}
	}
	return nil
}

// Disconnect closes the active WebSocket connection, if any.
func (c *Connector) Disconnect() error {
	c.SetConnected(false)
	if c.ws == nil {
		return nil
	}
	return c.ws.Close()
}

func subscribeMessage(symbol string, subscribe bool) map[string]any {
	return map[string]any{
		"id":       time.Now().UnixNano(),
		"type":     map[bool]string{true: "subscribe", false: "unsubscribe"}[subscribe],
		"topic":    "/contractMarket/level2Depth50:" + symbol,
		"response": true,
	}
}

func tradeSubscribeMessage(symbol string, subscribe bool) map[string]any {
	return map[string]any{
		"id":       time.Now().UnixNano(),
		"type":     map[bool]string{true: "subscribe", false: "unsubscribe"}[subscribe],
		"topic":    "/contractMarket/execution:" + symbol,
		"response": true,
	}
}

func (c *Connector) handleMessage(_ context.Context, data []byte) {
	var msg struct {
		Type  string `json:"type"`
		Topic string `json:"topic"`
	}
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "message" {
		return
	}

	const depthPrefix, execPrefix = "/contractMarket/level2Depth50:", "/contractMarket/execution:"
	switch {
	case strings.HasPrefix(msg.Topic, depthPrefix) && len(msg.Topic) > len(depthPrefix):
		c.handleDepth(data, msg.Topic[len(depthPrefix):])
	case strings.HasPrefix(msg.Topic, execPrefix) && len(msg.Topic) > len(execPrefix):
		c.handleExecution(data)
	}
}

func (c *Connector) handleDepth(data []byte, symbol string) {
	var msg struct {
		Data struct {
			Sequence int64        `json:"sequence"`
			Bids     [][2]float64 `json:"bids"`
			Asks     [][2]float64 `json:"asks"`
			Ts       int64        `json:"ts"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}

	canon, ok := canonical.ToCanonical(model.VenueKuCoin, symbol)
	if !ok {
		return
	}

	t := kucoinTimestamp(msg.Data.Ts)
	// KuCoin's depth50 topic always publishes full snapshots, never deltas.
	ob := c.books.Apply(model.VenueKuCoin, symbol, canon, parsePairLevels(msg.Data.Bids), parsePairLevels(msg.Data.Asks), msg.Data.Sequence, t, true)
	c.EmitOrderbook(ob)
}

func (c *Connector) handleExecution(data []byte) {
	var msg struct {
		Data struct {
			Symbol  string `json:"symbol"`
			Side    string `json:"side"`
			Price   string `json:"price"`
			Size    string `json:"size"`
			TradeID string `json:"tradeId"`
			Ts      int64  `json:"ts"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &msg); err != nil || msg.Data.Symbol == "" {
		return
	}

	canon, ok := canonical.ToCanonical(model.VenueKuCoin, msg.Data.Symbol)
	if !ok {
		return
	}

	side := model.TradeSideBuy
	if msg.Data.Side == "sell" {
		side = model.TradeSideSell
	}

	c.EmitTrade(model.Trade{
		Venue:     model.VenueKuCoin,
		Symbol:    msg.Data.Symbol,
		Canonical: canon,
		TradeID:   msg.Data.TradeID,
		Price:     parseDecimal(msg.Data.Price),
		Quantity:  parseDecimal(msg.Data.Size),
		Side:      side,
		VenueTime: kucoinTimestamp(msg.Data.Ts),
		RecvTime:  time.Now(),
	})
}

func kucoinTimestamp(ts int64) time.Time {
	if ts > 1e15 {
		return time.Unix(0, ts) // nanoseconds
	}
	return time.UnixMilli(ts)
}

func parsePairLevels(raw [][2]float64) []model.PriceLevel {
	levels := make([]model.PriceLevel, 0, len(raw))
	for _, item := range raw {
		levels = append(levels, model.PriceLevel{Price: decimal.NewFromFloat(item[0]), Quantity: decimal.NewFromFloat(item[1])})
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
