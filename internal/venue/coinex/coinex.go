// Package coinex implements the uniform venue.Connector contract for CoinEx
// USDT-margined perpetual futures.
package coinex

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
	restBaseURL = "https://api.coinex.com"
	wsURL       = "wss://socket.coinex.com/v2/futures"
)

// Connector implements venue.Connector for CoinEx perpetual futures (native
// symbols like BTCUSDT).
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

// New constructs a CoinEx connector.
func New() (*Connector, error) {
	cli, err := httpclient.NewInstrumentedClient(
		httpclient.WithBaseURL(restBaseURL),
		httpclient.WithProviderName("coinex"),
	)
	if err != nil {
		return nil, fmt.Errorf("coinex: new http client: %w", err)
	}
	return &Connector{
		BaseConnector: venue.NewBase(model.VenueCoinEx),
		http:          cli,
		rl:            ratelimit.New(600),
		cb:            circuitbreaker.New[any](circuitbreaker.DefaultConfig("coinex-rest")),
		symbols:       make(map[string]bool),
		books:         venue.NewBookCache(),
	}, nil
}

type coinexEnvelope[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func (c *Connector) FetchInstruments(ctx context.Context) ([]model.Instrument, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}
	var raw coinexEnvelope[[]struct {
		Market         string `json:"market"`
		BaseCcy        string `json:"base_ccy"`
		QuoteCcy       string `json:"quote_ccy"`
		IsMarketAvailable bool `json:"is_market_available"`
		TickSize       string `json:"tick_size"`
		MinAmount      string `json:"min_amount"`
		MakerFeeRate   string `json:"maker_fee_rate"`
		TakerFeeRate   string `json:"taker_fee_rate"`
	}]
	resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
		return c.http.NewRequest().SetResult(&raw).Get(ctx, "/v2/futures/market")
	})
	if err != nil {
		return nil, apperror.External(apperror.CodeVenueUnreachable, "coinex: fetch market", err)
	}
	if resp.IsError() || raw.Code != 0 {
		return nil, apperror.New(apperror.CodeVenueAPIError, apperror.WithContext(fmt.Sprintf("coinex market code=%d msg=%s", raw.Code, raw.Message)))
	}
	instruments := make([]model.Instrument, 0, len(raw.Data))
	for _, s := range raw.Data {
		if !s.IsMarketAvailable {
			continue
		}
		canon, ok := canonical.ToCanonical(model.VenueCoinEx, s.Market)
		if !ok {
			continue
		}
		instruments = append(instruments, model.Instrument{
			Venue:      model.VenueCoinEx,
			Symbol:     s.Market,
			Canonical:  canon,
			BaseAsset:  s.BaseCcy,
			QuoteAsset: s.QuoteCcy,
			Kind:       model.KindPerpetual,
			TickSize:   parseDecimal(s.TickSize),
			LotSize:    parseDecimal(s.MinAmount),
			MakerFee:   parseDecimal(s.MakerFeeRate),
			TakerFee:   parseDecimal(s.TakerFeeRate),
		})
	}
	return instruments, nil
}

func (c *Connector) FetchPriceTickers(ctx context.Context) ([]model.PriceTicker, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}
	var raw coinexEnvelope[[]struct {
		Market string `json:"market"`
		Last   string `json:"last"`
		Volume string `json:"value"`
	}]
	resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
		return c.http.NewRequest().SetResult(&raw).Get(ctx, "/v2/futures/ticker")
	})
	if err != nil {
		return nil, apperror.External(apperror.CodeVenueUnreachable, "coinex: fetch ticker", err)
	}
	if resp.IsError() || raw.Code != 0 {
		return nil, apperror.New(apperror.CodeVenueAPIError, apperror.WithContext(fmt.Sprintf("coinex ticker code=%d msg=%s", raw.Code, raw.Message)))
	}
	now := time.Now().UnixMilli()
	tickers := make([]model.PriceTicker, 0, len(raw.Data))
	for _, d := range raw.Data {
		canon, ok := canonical.ToCanonical(model.VenueCoinEx, d.Market)
		if !ok {
			continue
		}
		tickers = append(tickers, model.PriceTicker{
			Venue:     model.VenueCoinEx,
			Symbol:    d.Market,
			Canonical: canon,
			Last:      parseDecimal(d.Last),
			Volume24h: parseDecimal(d.Volume),
			Timestamp: now,
		})
	}
	return tickers, nil
}

func (c *Connector) FetchFundingRates(ctx context.Context) ([]model.FundingRate, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}
	var raw coinexEnvelope[[]struct {
		Market              string `json:"market"`
		LatestFundingRate   string `json:"latest_funding_rate"`
		NextFundingTime     int64  `json:"next_funding_time"`
	}]
	resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
		return c.http.NewRequest().SetResult(&raw).Get(ctx, "/v2/futures/funding-rate")
	})
	if err != nil {
		return nil, apperror.External(apperror.CodeVenueUnreachable, "coinex: fetch funding", err)
	}
	if resp.IsError() || raw.Code != 0 {
		return nil, apperror.New(apperror.CodeVenueAPIError, apperror.WithContext(fmt.Sprintf("coinex funding-rate code=%d msg=%s", raw.Code, raw.Message)))
	}
	now := time.Now().UnixMilli()
	rates := make([]model.FundingRate, 0, len(raw.Data))
	for _, d := range raw.Data {
		canon, ok := canonical.ToCanonical(model.VenueCoinEx, d.Market)
		if !ok {
			continue
		}
		rates = append(rates, model.FundingRate{
			Venue:           model.VenueCoinEx,
			Symbol:          d.Market,
			Canonical:       canon,
			Rate:            parseDecimal(d.LatestFundingRate),
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
		infos = append(infos, model.DegradedAssetInfo(model.VenueCoinEx, inst.BaseAsset, now))
	}
	return infos, nil
}

func (c *Connector) FetchOrderbookSnapshot(ctx context.Context, symbol string, depth int) (model.OrderBook, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return model.OrderBook{}, err
	}
	var raw coinexEnvelope[struct {
		Depth struct {
			Bids [][2]string `json:"bids"`
			Asks [][2]string `json:"asks"`
		} `json:"depth"`
		UpdatedAt int64 `json:"updated_at"`
	}]
	resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
		return c.http.NewRequest().SetResult(&raw).
			SetQueryParam("market", symbol).
			SetQueryParam("limit", fmt.Sprintf("%d", depth)).
			SetQueryParam("interval", "0").
			Get(ctx, "/v2/futures/depth")
	})
	if err != nil {
		return model.OrderBook{}, apperror.External(apperror.CodeVenueUnreachable, "coinex: fetch orderbook snapshot", err)
	}
	if resp.IsError() || raw.Code != 0 {
		return model.OrderBook{}, apperror.New(apperror.CodeOrderbookFetchFailed, apperror.WithContext(fmt.Sprintf("coinex depth code=%d msg=%s", raw.Code, raw.Message)))
	}
	canon, _ := canonical.ToCanonical(model.VenueCoinEx, symbol)
	ts := time.UnixMilli(raw.Data.UpdatedAt)
	if raw.Data.UpdatedAt == 0 {
		ts = time.Now()
	}
	return model.NewSnapshot(model.VenueCoinEx, symbol, canon, parsePairLevels(raw.Data.Depth.Bids), parsePairLevels(raw.Data.Depth.Asks), raw.Data.UpdatedAt, ts), nil
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
		return apperror.New(apperror.CodeInvalidInput, apperror.WithContext("coinex: no symbols to subscribe"))
	}
	cfg := wsconn.DefaultConfig(wsURL, "coinex")
	ws, err := wsconn.New(cfg)
	if err != nil {
		return fmt.Errorf("coinex: new ws client: %w", err)
	}
	ws.OnMessage(c.handleMessage)
	ws.OnStateChange(func(state wsconn.State, err error) {
		c.SetConnected(state == wsconn.StateConnected)
		if state == wsconn.StateDisconnected && err != nil {
			c.EmitError(fmt.Errorf("coinex: connection lost: %w", err))
		}
	})
	if err := ws.Connect(ctx); err != nil {
		return apperror.Wrap(err, apperror.CodeWebSocketConnectionError, "coinex: dial failed")
	}
	c.ws = ws
	c.SetConnected(true)
	return ws.SendJSON(ctx, map[string]any{
		"method": "depth.subscribe",
		"params": map[string]any{"market_list": symbolDepthParams(symbols)},
		"id":     time.Now().UnixNano(),
	})
}

func symbolDepthParams(symbols []string) [][]any {
	params := make([][]any, 0, len(symbols))
	for _, s := range symbols {
		params = append(params, []any{s, 20, "0", true})
	}
	return params
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
	return c.ws.SendJSON(context.Background(), map[string]any{
		"method": "depth.subscribe",
		"params": map[string]any{"market_list": symbolDepthParams(symbols)},
		"id":     time.Now().UnixNano(),
	})
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
	return c.ws.SendJSON(context.Background(), map[string]any{
		"method": "depth.unsubscribe",
		"params": map[string]any{"market_list": symbols},
		"id":     time.Now().UnixNano(),
	})
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
		Method string `json:"method"`
		Data   struct {
			Market string `json:"market"`
			Depth  struct {
				Bids [][2]string `json:"bids"`
				Asks [][2]string `json:"asks"`
			} `json:"depth"`
			IsFull bool `json:"is_full"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &msg); err != nil || msg.Method != "depth.update" || msg.Data.Market == "" {
		return
	}
	canon, ok := canonical.ToCanonical(model.VenueCoinEx, msg.Data.Market)
	if !ok {
		return
	}
	ob := c.books.Apply(model.VenueCoinEx, msg.Data.Market, canon, parsePairLevels(msg.Data.Depth.Bids), parsePairLevels(msg.Data.Depth.Asks), 0, time.Now(), msg.Data.IsFull)
	c.EmitOrderbook(ob)
}

func parsePairLevels(raw [][2]string) []model.PriceLevel {
	levels := make([]model.PriceLevel, 0, len(raw))
	for _, item := range raw {
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
