// Package htx implements the uniform venue.Connector contract for HTX
// (Huobi) USDT-margined perpetual swaps.
package htx

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
	restBaseURL = "https://api.hbdm.com"
	wsURL       = "wss://api.hbdm.com/linear-swap-ws"
)

// Connector implements venue.Connector for HTX linear USDT swaps (native
// symbols like BTC-USDT).
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

// New constructs an HTX connector.
func New() (*Connector, error) {
	cli, err := httpclient.NewInstrumentedClient(
		httpclient.WithBaseURL(restBaseURL),
		httpclient.WithProviderName("htx"),
	)
	if err != nil {
		return nil, fmt.Errorf("htx: new http client: %w", err)
	}
	return &Connector{
		BaseConnector: venue.NewBase(model.VenueHTX),
		http:          cli,
		rl:            ratelimit.New(300),
		cb:            circuitbreaker.New[any](circuitbreaker.DefaultConfig("htx-rest")),
		symbols:       make(map[string]bool),
		books:         venue.NewBookCache(),
	}, nil
}

type htxEnvelope[T any] struct {
	Status string `json:"status"`
	Data   T      `json:"data"`
}

func (c *Connector) FetchInstruments(ctx context.Context) ([]model.Instrument, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}
	var raw htxEnvelope[[]struct {
		ContractCode string  `json:"contract_code"`
		BaseCurrency string  `json:"base_currency"`
		QuoteCurrency string `json:"quote_currency"`
		ContractStatus int   `json:"contract_status"`
		PriceTick    float64 `json:"price_tick"`
		ContractSize float64 `json:"contract_size"`
	}]
	resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
		return c.http.NewRequest().SetResult(&raw).
			SetQueryParam("support_margin_mode", "cross").
			Get(ctx, "/linear-swap-api/v1/swap_contract_info")
	})
	if err != nil {
		return nil, apperror.External(apperror.CodeVenueUnreachable, "htx: fetch contract info", err)
	}
	if resp.IsError() || raw.Status != "ok" {
		return nil, apperror.New(apperror.CodeVenueAPIError, apperror.WithContext(fmt.Sprintf("htx contract_info status %d", resp.StatusCode)))
	}
	instruments := make([]model.Instrument, 0, len(raw.Data))
	for _, s := range raw.Data {
		if s.ContractStatus != 1 {
			continue
		}
		canon, ok := canonical.ToCanonical(model.VenueHTX, s.ContractCode)
		if !ok {
			continue
		}
		instruments = append(instruments, model.Instrument{
			Venue:              model.VenueHTX,
			Symbol:             s.ContractCode,
			Canonical:          canon,
			BaseAsset:          s.BaseCurrency,
			QuoteAsset:         s.QuoteCurrency,
			Kind:               model.KindPerpetual,
			TickSize:           decimal.NewFromFloat(s.PriceTick),
			ContractMultiplier: decimal.NewFromFloat(s.ContractSize),
			MakerFee:           decimal.NewFromFloat(0.0002),
			TakerFee:           decimal.NewFromFloat(0.0004),
		})
	}
	return instruments, nil
}

func (c *Connector) FetchPriceTickers(ctx context.Context) ([]model.PriceTicker, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}
	var raw htxEnvelope[struct {
		Ts   int64 `json:"ts"`
		Tick struct {
			Data []struct {
				ContractCode string  `json:"contract_code"`
				Close        float64 `json:"close"`
				Bid          []float64 `json:"bid"`
				Ask          []float64 `json:"ask"`
				Vol          float64 `json:"vol"`
			} `json:"data"`
		} `json:"tick"`
	}]
	resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
		return c.http.NewRequest().SetResult(&raw).Get(ctx, "/linear-swap-ex/market/detail/batch_merged")
	})
	if err != nil {
		return nil, apperror.External(apperror.CodeVenueUnreachable, "htx: fetch tickers", err)
	}
	if resp.IsError() || raw.Status != "ok" {
		return nil, apperror.New(apperror.CodeVenueAPIError, apperror.WithContext(fmt.Sprintf("htx batch_merged status %d", resp.StatusCode)))
	}
	tickers := make([]model.PriceTicker, 0, len(raw.Data.Tick.Data))
	for _, d := range raw.Data.Tick.Data {
		canon, ok := canonical.ToCanonical(model.VenueHTX, d.ContractCode)
		if !ok {
			continue
		}
		var bid, ask decimal.Decimal
		if len(d.Bid) > 0 {
			bid = decimal.NewFromFloat(d.Bid[0])
		}
		if len(d.Ask) > 0 {
			ask = decimal.NewFromFloat(d.Ask[0])
		}
		tickers = append(tickers, model.PriceTicker{
			Venue:     model.VenueHTX,
			Symbol:    d.ContractCode,
			Canonical: canon,
			Last:      decimal.NewFromFloat(d.Close),
			Bid:       bid,
			Ask:       ask,
			Volume24h: decimal.NewFromFloat(d.Vol),
			Timestamp: raw.Data.Ts,
		})
	}
	return tickers, nil
}

func (c *Connector) FetchFundingRates(ctx context.Context) ([]model.FundingRate, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}
	var raw htxEnvelope[[]struct {
		ContractCode    string `json:"contract_code"`
		FundingRate     string `json:"funding_rate"`
		NextFundingTime string `json:"next_funding_time"`
	}]
	resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
		return c.http.NewRequest().SetResult(&raw).Get(ctx, "/linear-swap-api/v1/swap_batch_funding_rate")
	})
	if err != nil {
		return nil, apperror.External(apperror.CodeVenueUnreachable, "htx: fetch funding", err)
	}
	if resp.IsError() || raw.Status != "ok" {
		return nil, apperror.New(apperror.CodeVenueAPIError, apperror.WithContext(fmt.Sprintf("htx funding_rate status %d", resp.StatusCode)))
	}
	now := time.Now().UnixMilli()
	rates := make([]model.FundingRate, 0, len(raw.Data))
	for _, d := range raw.Data {
		canon, ok := canonical.ToCanonical(model.VenueHTX, d.ContractCode)
		if !ok {
			continue
		}
		rates = append(rates, model.FundingRate{
			Venue:           model.VenueHTX,
			Symbol:          d.ContractCode,
			Canonical:       canon,
			Rate:            parseDecimal(d.FundingRate),
			NextFundingTime: parseInt(d.NextFundingTime),
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
		infos = append(infos, model.DegradedAssetInfo(model.VenueHTX, inst.BaseAsset, now))
	}
	return infos, nil
}

func (c *Connector) FetchOrderbookSnapshot(ctx context.Context, symbol string, depth int) (model.OrderBook, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return model.OrderBook{}, err
	}
	var raw htxEnvelope[struct {
		Bids [][2]float64 `json:"bids"`
		Asks [][2]float64 `json:"asks"`
		Ts   int64        `json:"ts"`
	}]
	resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
		return c.http.NewRequest().SetResult(&raw).
			SetQueryParam("contract_code", symbol).
			SetQueryParam("type", "step0").
			Get(ctx, "/linear-swap-ex/market/depth")
	})
	if err != nil {
		return model.OrderBook{}, apperror.External(apperror.CodeVenueUnreachable, "htx: fetch orderbook snapshot", err)
	}
	if resp.IsError() || raw.Status != "ok" {
		return model.OrderBook{}, apperror.New(apperror.CodeOrderbookFetchFailed, apperror.WithContext(fmt.Sprintf("htx depth status %d", resp.StatusCode)))
	}
	canon, _ := canonical.ToCanonical(model.VenueHTX, symbol)
	ts := time.UnixMilli(raw.Data.Ts)
	if raw.Data.Ts == 0 {
		ts = time.Now()
	}
	return model.NewSnapshot(model.VenueHTX, symbol, canon, parsePairLevels(raw.Data.Bids), parsePairLevels(raw.Data.Asks), raw.Data.Ts, ts), nil
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
		return apperror.New(apperror.CodeInvalidInput, apperror.WithContext("htx: no symbols to subscribe"))
	}
	cfg := wsconn.DefaultConfig(wsURL, "htx")
	ws, err := wsconn.New(cfg)
	if err != nil {
		return fmt.Errorf("htx: new ws client: %w", err)
	}
	ws.OnMessage(c.handleMessage)
	ws.OnStateChange(func(state wsconn.State, err error) {
		c.SetConnected(state == wsconn.StateConnected)
		if state == wsconn.StateDisconnected && err != nil {
			c.EmitError(fmt.Errorf("htx: connection lost: %w", err))
		}
	})
	if err := ws.Connect(ctx); err != nil {
		return apperror.Wrap(err, apperror.CodeWebSocketConnectionError, "htx: dial failed")
	}
	c.ws = ws
	c.SetConnected(true)
	for _, s := range symbols {
		if err := ws.SendJSON(ctx, map[string]any{"sub": "market." + s + ".depth.step0", "id": s}); err != nil {
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
		if err := c.ws.SendJSON(context.Background(), map[string]any{"sub": "market." + s + ".depth.step0", "id": s}); err != nil {
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
		if err := c.ws.SendJSON(context.Background(), map[string]any{"unsub": "market." + s + ".depth.step0", "id": s}); err != nil {
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

// handleMessage decodes each frame as plain JSON; wsconn hands frames over
// without decompressing them, so a gzip-compressed frame fails to unmarshal
// and is dropped. Frames without a "ch" field, such as {"ping":...}
// heartbeats, are dropped as well; no pong reply is sent.
func (c *Connector) handleMessage(_ context.Context, data []byte) {
	var msg struct {
		Ch   string `json:"ch"`
		Ts   int64  `json:"ts"`
		Tick struct {
			Bids [][2]float64 `json:"bids"`
			Asks [][2]float64 `json:"asks"`
		} `json:"tick"`
	}
	if err := json.Unmarshal(data, &msg); err != nil || msg.Ch == "" {
		return
	}
	const prefix, suffix = "market.", ".depth.step0"
	if len(msg.Ch) <= len(prefix)+len(suffix) {
		return
	}
	symbol := msg.Ch[len(prefix) : len(msg.Ch)-len(suffix)]
	canon, ok := canonical.ToCanonical(model.VenueHTX, symbol)
	if !ok {
		return
	}
	// HTX's depth.step0 channel always publishes a full book, never a delta.
	ob := c.books.Apply(model.VenueHTX, symbol, canon, parsePairLevels(msg.Tick.Bids), parsePairLevels(msg.Tick.Asks), msg.Ts, time.UnixMilli(msg.Ts), true)
	c.EmitOrderbook(ob)
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

func parseInt(s string) int64 {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.IntPart()
}
