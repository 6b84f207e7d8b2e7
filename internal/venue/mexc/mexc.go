// Package mexc implements the uniform venue.Connector contract for MEXC
// USDT-margined perpetual futures.
package mexc

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
	restBaseURL = "https://contract.mexc.com"
	wsURL       = "wss://contract.mexc.com/edge"
)

// Connector implements venue.Connector for MEXC perpetual futures (native
// symbols like BTC_USDT).
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

// New constructs a MEXC connector.
func New() (*Connector, error) {
	cli, err := httpclient.NewInstrumentedClient(
		httpclient.WithBaseURL(restBaseURL),
		httpclient.WithProviderName("mexc"),
	)
	if err != nil {
		return nil, fmt.Errorf("mexc: new http client: %w", err)
	}
	return &Connector{
		BaseConnector: venue.NewBase(model.VenueMEXC),
		http:          cli,
		rl:            ratelimit.New(500),
		cb:            circuitbreaker.New[any](circuitbreaker.DefaultConfig("mexc-rest")),
		symbols:       make(map[string]bool),
		books:         venue.NewBookCache(),
	}, nil
}

type mexcEnvelope[T any] struct {
	Success bool `json:"success"`
	Data    T    `json:"data"`
}

func (c *Connector) FetchInstruments(ctx context.Context) ([]model.Instrument, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}
	var raw mexcEnvelope[[]struct {
		Symbol       string  `json:"symbol"`
		BaseCoin     string  `json:"baseCoin"`
		QuoteCoin    string  `json:"quoteCoin"`
		State        int     `json:"state"`
		PriceUnit    float64 `json:"priceUnit"`
		VolUnit      float64 `json:"volUnit"`
		MakerFeeRate float64 `json:"makerFeeRate"`
		TakerFeeRate float64 `json:"takerFeeRate"`
	}]
	resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
		return c.http.NewRequest().SetResult(&raw).Get(ctx, "/api/v1/contract/detail")
	})
	if err != nil {
		return nil, apperror.External(apperror.CodeVenueUnreachable, "mexc: fetch contract detail", err)
	}
	if resp.IsError() || !raw.Success {
		return nil, apperror.New(apperror.CodeVenueAPIError, apperror.WithContext(fmt.Sprintf("mexc contract/detail status %d", resp.StatusCode)))
	}
	instruments := make([]model.Instrument, 0, len(raw.Data))
	for _, s := range raw.Data {
		if s.State != 0 {
			continue
		}
		canon, ok := canonical.ToCanonical(model.VenueMEXC, s.Symbol)
		if !ok {
			continue
		}
		instruments = append(instruments, model.Instrument{
			Venue:      model.VenueMEXC,
			Symbol:     s.Symbol,
			Canonical:  canon,
			BaseAsset:  s.BaseCoin,
			QuoteAsset: s.QuoteCoin,
			Kind:       model.KindPerpetual,
			TickSize:   decimal.NewFromFloat(s.PriceUnit),
			LotSize:    decimal.NewFromFloat(s.VolUnit),
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
	var raw mexcEnvelope[[]struct {
		Symbol    string  `json:"symbol"`
		LastPrice float64 `json:"lastPrice"`
		Bid1      float64 `json:"bid1"`
		Ask1      float64 `json:"ask1"`
		Volume24  float64 `json:"volume24"`
		Timestamp int64   `json:"timestamp"`
	}]
	resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
		return c.http.NewRequest().SetResult(&raw).Get(ctx, "/api/v1/contract/ticker")
	})
	if err != nil {
		return nil, apperror.External(apperror.CodeVenueUnreachable, "mexc: fetch ticker", err)
	}
	if resp.IsError() || !raw.Success {
		return nil, apperror.New(apperror.CodeVenueAPIError, apperror.WithContext(fmt.Sprintf("mexc contract/ticker status %d", resp.StatusCode)))
	}
	tickers := make([]model.PriceTicker, 0, len(raw.Data))
	for _, d := range raw.Data {
		canon, ok := canonical.ToCanonical(model.VenueMEXC, d.Symbol)
		if !ok {
			continue
		}
		tickers = append(tickers, model.PriceTicker{
			Venue:     model.VenueMEXC,
			Symbol:    d.Symbol,
			Canonical: canon,
			Last:      decimal.NewFromFloat(d.LastPrice),
			Bid:       decimal.NewFromFloat(d.Bid1),
			Ask:       decimal.NewFromFloat(d.Ask1),
			Volume24h: decimal.NewFromFloat(d.Volume24),
			Timestamp: d.Timestamp,
		})
	}
	return tickers, nil
}

func (c *Connector) FetchFundingRates(ctx context.Context) ([]model.FundingRate, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}
	var raw mexcEnvelope[[]struct {
		Symbol          string  `json:"symbol"`
		FundingRate     float64 `json:"fundingRate"`
		NextSettleTime  int64   `json:"nextSettleTime"`
		CollectCycle    int     `json:"collectCycle"`
	}]
	resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
		return c.http.NewRequest().SetResult(&raw).Get(ctx, "/api/v1/contract/funding_rate")
	})
	if err != nil {
		return nil, apperror.External(apperror.CodeVenueUnreachable, "mexc: fetch funding rate", err)
	}
	if resp.IsError() || !raw.Success {
		return nil, apperror.New(apperror.CodeVenueAPIError, apperror.WithContext(fmt.Sprintf("mexc funding_rate status %d", resp.StatusCode)))
	}
	now := time.Now().UnixMilli()
	rates := make([]model.FundingRate, 0, len(raw.Data))
	for _, d := range raw.Data {
		canon, ok := canonical.ToCanonical(model.VenueMEXC, d.Symbol)
		if !ok {
			continue
		}
		interval := d.CollectCycle
		if interval == 0 {
			interval = 8
		}
		rates = append(rates, model.FundingRate{
			Venue:           model.VenueMEXC,
			Symbol:          d.Symbol,
			Canonical:       canon,
			Rate:            decimal.NewFromFloat(d.FundingRate),
			NextFundingTime: d.NextSettleTime,
			IntervalHours:   interval,
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
		infos = append(infos, model.DegradedAssetInfo(model.VenueMEXC, inst.BaseAsset, now))
	}
	return infos, nil
}

func (c *Connector) FetchOrderbookSnapshot(ctx context.Context, symbol string, depth int) (model.OrderBook, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return model.OrderBook{}, err
	}
	var raw mexcEnvelope[struct {
		Bids      [][]float64 `json:"bids"`
		Asks      [][]float64 `json:"asks"`
		Version   int64       `json:"version"`
		Timestamp int64       `json:"timestamp"`
	}]
	resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
		return c.http.NewRequest().SetResult(&raw).Get(ctx, "/api/v1/contract/depth/"+symbol)
	})
	if err != nil {
		return model.OrderBook{}, apperror.External(apperror.CodeVenueUnreachable, "mexc: fetch orderbook snapshot", err)
	}
	if resp.IsError() || !raw.Success {
		return model.OrderBook{}, apperror.New(apperror.CodeOrderbookFetchFailed, apperror.WithContext(fmt.Sprintf("mexc depth status %d", resp.StatusCode)))
	}
	canon, _ := canonical.ToCanonical(model.VenueMEXC, symbol)
	ts := time.UnixMilli(raw.Data.Timestamp)
	if raw.Data.Timestamp == 0 {
		ts = time.Now()
	}
	return model.NewSnapshot(model.VenueMEXC, symbol, canon, parseLevels(raw.Data.Bids), parseLevels(raw.Data.Asks), raw.Data.Version, ts), nil
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
		return apperror.New(apperror.CodeInvalidInput, apperror.WithContext("mexc: no symbols to subscribe"))
	}
	cfg := wsconn.DefaultConfig(wsURL, "mexc")
	ws, err := wsconn.New(cfg)
	if err != nil {
		return fmt.Errorf("mexc: new ws client: %w", err)
	}
	ws.OnMessage(c.handleMessage)
	ws.OnStateChange(func(state wsconn.State, err error) {
		c.SetConnected(state == wsconn.StateConnected)
		if state == wsconn.StateDisconnected && err != nil {
			c.EmitError(fmt.Errorf("mexc: connection lost: %w", err))
		}
	})
	if err := ws.Connect(ctx); err != nil {
		return apperror.Wrap(err, apperror.CodeWebSocketConnectionError, "mexc: dial failed")
	}
	c.ws = ws
	c.SetConnected(true)
	for _, s := range symbols {
		if err := ws.SendJSON(ctx, map[string]any{"method": "sub.depth", "param": map[string]string{"symbol": s}}); err != nil {
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
		if err := c.ws.SendJSON(context.Background(), map[string]any{"method": "sub.depth", "param": map[string]string{"symbol": s}}); err != nil {
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
		if err := c.ws.SendJSON(context.Background(), map[string]any{"method": "unsub.depth", "param": map[string]string{"symbol": s}}); err != nil {
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
		Channel string `json:"channel"`
		Data    struct {
			Bids    [][]float64 `json:"bids"`
			Asks    [][]float64 `json:"asks"`
			Version int64       `json:"version"`
		} `json:"data"`
		Symbol string `json:"symbol"`
		Ts     int64  `json:"ts"`
	}
	if err := json.Unmarshal(data, &msg); err != nil || msg.Channel != "push.depth" || msg.Symbol == "" {
		return
	}
	canon, ok := canonical.ToCanonical(model.VenueMEXC, msg.Symbol)
	if !ok {
		return
	}
	ob := c.books.Apply(model.VenueMEXC, msg.Symbol, canon, parseLevels(msg.Data.Bids), parseLevels(msg.Data.Asks), msg.Data.Version, time.UnixMilli(msg.Ts), false)
	c.EmitOrderbook(ob)
}

func parseLevels(raw [][]float64) []model.PriceLevel {
	levels := make([]model.PriceLevel, 0, len(raw))
	for _, item := range raw {
		if len(item) < 2 {
			continue
		}
		levels = append(levels, model.PriceLevel{Price: decimal.NewFromFloat(item[0]), Quantity: decimal.NewFromFloat(item[1])})
	}
	return levels
}
