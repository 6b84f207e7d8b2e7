// Package lbank implements the uniform venue.Connector contract for LBank
// USDT-margined perpetual futures.
package lbank

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
	restBaseURL = "https://lbkperp.lbank.com"
	wsURL       = "wss://lbkperp.lbank.com/ws/V1p1"
)

// Connector implements venue.Connector for LBank perpetual futures (native
// symbols like btc_usdt, lower-cased per canonical's lbank shape).
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

// New constructs an LBank connector.
func New() (*Connector, error) {
	cli, err := httpclient.NewInstrumentedClient(
		httpclient.WithBaseURL(restBaseURL),
		httpclient.WithProviderName("lbank"),
	)
	if err != nil {
		return nil, fmt.Errorf("lbank: new http client: %w", err)
	}
	return &Connector{
		BaseConnector: venue.NewBase(model.VenueLBank),
		http:          cli,
		rl:            ratelimit.New(200),
		cb:            circuitbreaker.New[any](circuitbreaker.DefaultConfig("lbank-rest")),
		symbols:       make(map[string]bool),
		books:         venue.NewBookCache(),
	}, nil
}

type lbankEnvelope[T any] struct {
	Result bool   `json:"result"`
	Error  string `json:"error_code"`
	Data   T      `json:"data"`
}

func (c *Connector) FetchInstruments(ctx context.Context) ([]model.Instrument, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}
	var raw lbankEnvelope[[]struct {
		Symbol       string `json:"symbol"`
		BaseCurrency string `json:"baseCurrency"`
		QuoteCurrency string `json:"quoteCurrency"`
		ProductStatus int   `json:"productStatus"`
		PriceTick    string `json:"priceTick"`
		VolumeTick   string `json:"volumeTick"`
		MakerFeeRate string `json:"makerFeeRate"`
		TakerFeeRate string `json:"takerFeeRate"`
	}]
	resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
		return c.http.NewRequest().SetResult(&raw).Get(ctx, "/cfd/openApi/v1/pub/instrument")
	})
	if err != nil {
		return nil, apperror.External(apperror.CodeVenueUnreachable, "lbank: fetch instruments", err)
	}
	if resp.IsError() || !raw.Result {
		return nil, apperror.New(apperror.CodeVenueAPIError, apperror.WithContext(fmt.Sprintf("lbank instrument error=%s", raw.Error)))
	}
	instruments := make([]model.Instrument, 0, len(raw.Data))
	for _, s := range raw.Data {
		if s.ProductStatus != 1 {
			continue
		}
		canon, ok := canonical.ToCanonical(model.VenueLBank, s.Symbol)
		if !ok {
			continue
		}
		instruments = append(instruments, model.Instrument{
			Venue:      model.VenueLBank,
			Symbol:     s.Symbol,
			Canonical:  canon,
			BaseAsset:  s.BaseCurrency,
			QuoteAsset: s.QuoteCurrency,
			Kind:       model.KindPerpetual,
			TickSize:   parseDecimal(s.PriceTick),
			LotSize:    parseDecimal(s.VolumeTick),
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
	var raw lbankEnvelope[[]struct {
		Symbol string `json:"symbol"`
		Last   string `json:"last"`
		Buy    string `json:"buy"`
		Sell   string `json:"sell"`
		Vol    string `json:"vol"`
	}]
	resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
		return c.http.NewRequest().SetResult(&raw).Get(ctx, "/cfd/openApi/v1/pub/ticker")
	})
	if err != nil {
		return nil, apperror.External(apperror.CodeVenueUnreachable, "lbank: fetch tickers", err)
	}
	if resp.IsError() || !raw.Result {
		return nil, apperror.New(apperror.CodeVenueAPIError, apperror.WithContext(fmt.Sprintf("lbank ticker error=%s", raw.Error)))
	}
	now := time.Now().UnixMilli()
	tickers := make([]model.PriceTicker, 0, len(raw.Data))
	for _, d := range raw.Data {
		canon, ok := canonical.ToCanonical(model.VenueLBank, d.Symbol)
		if !ok {
			continue
		}
		tickers = append(tickers, model.PriceTicker{
			Venue:     model.VenueLBank,
			Symbol:    d.Symbol,
			Canonical: canon,
			Last:      parseDecimal(d.Last),
			Bid:       parseDecimal(d.Buy),
			Ask:       parseDecimal(d.Sell),
			Volume24h: parseDecimal(d.Vol),
			Timestamp: now,
		})
	}
	return tickers, nil
}

func (c *Connector) FetchFundingRates(ctx context.Context) ([]model.FundingRate, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}
	var raw lbankEnvelope[[]struct {
		Symbol          string `json:"symbol"`
		FundingRate     string `json:"fundingRate"`
		NextFundingTime int64  `json:"nextFundingTime"`
	}]
	resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
		return c.http.NewRequest().SetResult(&raw).Get(ctx, "/cfd/openApi/v1/pub/fundingRate")
	})
	if err != nil {
		return nil, apperror.External(apperror.CodeVenueUnreachable, "lbank: fetch funding", err)
	}
	if resp.IsError() || !raw.Result {
		return nil, apperror.New(apperror.CodeVenueAPIError, apperror.WithContext(fmt.Sprintf("lbank fundingRate error=%s", raw.Error)))
	}
	now := time.Now().UnixMilli()
	rates := make([]model.FundingRate, 0, len(raw.Data))
	for _, d := range raw.Data {
		canon, ok := canonical.ToCanonical(model.VenueLBank, d.Symbol)
		if !ok {
			continue
		}
		rates = append(rates, model.FundingRate{
			Venue:           model.VenueLBank,
			Symbol:          d.Symbol,
			Canonical:       canon,
			Rate:            parseDecimal(d.FundingRate),
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
		infos = append(infos, model.DegradedAssetInfo(model.VenueLBank, inst.BaseAsset, now))
	}
	return infos, nil
}

func (c *Connector) FetchOrderbookSnapshot(ctx context.Context, symbol string, depth int) (model.OrderBook, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return model.OrderBook{}, err
	}
	var raw lbankEnvelope[struct {
		Bids [][2]string `json:"bids"`
		Asks [][2]string `json:"asks"`
		Ts   int64       `json:"timestamp"`
	}]
	resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
		return c.http.NewRequest().SetResult(&raw).
			SetQueryParam("symbol", symbol).
			SetQueryParam("size", fmt.Sprintf("%d", depth)).
			Get(ctx, "/cfd/openApi/v1/pub/depth")
	})
	if err != nil {
		return model.OrderBook{}, apperror.External(apperror.CodeVenueUnreachable, "lbank: fetch orderbook snapshot", err)
	}
	if resp.IsError() || !raw.Result {
		return model.OrderBook{}, apperror.New(apperror.CodeOrderbookFetchFailed, apperror.WithContext(fmt.Sprintf("lbank depth error=%s", raw.Error)))
	}
	canon, _ := canonical.ToCanonical(model.VenueLBank, symbol)
	ts := time.UnixMilli(raw.Data.Ts)
	if raw.Data.Ts == 0 {
		ts = time.Now()
	}
	return model.NewSnapshot(model.VenueLBank, symbol, canon, parsePairLevels(raw.Data.Bids), parsePairLevels(raw.Data.Asks), raw.Data.Ts, ts), nil
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
		return apperror.New(apperror.CodeInvalidInput, apperror.WithContext("lbank: no symbols to subscribe"))
	}
	cfg := wsconn.DefaultConfig(wsURL, "lbank")
	ws, err := wsconn.New(cfg)
	if err != nil {
		return fmt.Errorf("lbank: new ws client: %w", err)
	}
	ws.OnMessage(c.handleMessage)
	ws.OnStateChange(func(state wsconn.State, err error) {
		c.SetConnected(state == wsconn.StateConnected)
		if state == wsconn.StateDisconnected && err != nil {
			c.EmitError(fmt.Errorf("lbank: connection lost: %w", err))
		}
	})
	if err := ws.Connect(ctx); err != nil {
		return apperror.Wrap(err, apperror.CodeWebSocketConnectionError, "lbank: dial failed")
	}
	c.ws = ws
	c.SetConnected(true)
	for _, s := range symbols {
		if err := ws.SendJSON(ctx, map[string]any{"action": "subscribe", "subscribe": "depth", "depth": "20", "pair": s}); err != nil {
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
		if err := c.ws.SendJSON(context.Background(), map[string]any{"action": "subscribe", "subscribe": "depth", "depth": "20", "pair": s}); err != nil {
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
		if err := c.ws.SendJSON(context.Background(), map[string]any{"action": "unsubscribe", "subscribe": "depth", "pair": s}); err != nil {
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
		Type  string `json:"type"`
		Pair  string `json:"pair"`
		Depth struct {
			Bids [][2]string `json:"bids"`
			Asks [][2]string `json:"asks"`
		} `json:"depth"`
		Ts int64 `json:"TS"`
	}
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "depth" || msg.Pair == "" {
		return
	}
	canon, ok := canonical.ToCanonical(model.VenueLBank, msg.Pair)
	if !ok {
		return
	}
	// LBank's depth topic always publishes a full book, never a delta.
	ob := c.books.Apply(model.VenueLBank, msg.Pair, canon, parsePairLevels(msg.Depth.Bids), parsePairLevels(msg.Depth.Asks), msg.Ts, time.Now(), true)
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
