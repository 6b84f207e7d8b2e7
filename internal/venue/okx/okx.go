// Package okx implements the uniform venue.Connector contract for OKX
// USDT-margined perpetual swaps.
package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
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
	restBaseURL = "https://www.okx.com"
	wsURL       = "wss://ws.okx.com:8443/ws/v5/public"
)

// Connector implements venue.Connector for OKX USDT-margined swaps (instType
// SWAP, instId like BTC-USDT-SWAP).
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

// New constructs an OKX connector.
func New() (*Connector, error) {
	cli, err := httpclient.NewInstrumentedClient(
		httpclient.WithBaseURL(restBaseURL),
		httpclient.WithProviderName("okx"),
	)
	if err != nil {
		return nil, fmt.Errorf("okx: new http client: %w", err)
	}
	return &Connector{
		BaseConnector: venue.NewBase(model.VenueOKX),
		http:          cli,
		rl:            ratelimit.New(1200),
		cb:            circuitbreaker.New[any](circuitbreaker.DefaultConfig("okx-rest")),
		symbols:       make(map[string]bool),
		books:         venue.NewBookCache(),
	}, nil
}

type okxEnvelope[T any] struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data T      `json:"data"`
}

// FetchInstruments returns all live USDT-margined perpetual swaps.
func (c *Connector) FetchInstruments(ctx context.Context) ([]model.Instrument, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}

	var raw okxEnvelope[[]struct {
		InstID   string `json:"instId"`
		BaseCcy  string `json:"ctValCcy"`
		SettleCcy string `json:"settleCcy"`
		State    string `json:"state"`
		TickSz   string `json:"tickSz"`
		LotSz    string `json:"lotSz"`
		MinSz    string `json:"minSz"`
	}]

	resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
		return c.http.NewRequest().SetResult(&raw).
			SetQueryParam("instType", "SWAP").
			Get(ctx, "/api/v5/public/instruments")
	})
	if err != nil {
		return nil, apperror.External(apperror.CodeVenueUnreachable, "okx: fetch instruments", err)
	}
	if resp.IsError() || raw.Code != "0" {
		return nil, apperror.New(apperror.CodeVenueAPIError, apperror.WithContext(fmt.Sprintf("okx instruments code=%s msg=%s", raw.Code, raw.Msg)))
	}

	instruments := make([]model.Instrument, 0, len(raw.Data))
	for _, s := range raw.Data {
		if s.State != "live" {
			continue
		}
		canon, ok := canonical.ToCanonical(model.VenueOKX, s.InstID)
		if !ok {
			continue
		}
		instruments = append(instruments, model.Instrument{
			Venue:      model.VenueOKX,
			Symbol:     s.InstID,
			Canonical:  canon,
			BaseAsset:  s.BaseCcy,
			QuoteAsset: s.SettleCcy,
			Kind:       model.KindPerpetual,
			TickSize:   parseDecimal(s.TickSz),
			LotSize:    parseDecimal(s.LotSz),
			MakerFee:   decimal.NewFromFloat(0.0002),
			TakerFee:   decimal.NewFromFloat(0.0005),
		})
	}
	return instruments, nil
}

// FetchPriceTickers returns last/bid/ask/24h volume for every SWAP ticker.
func (c *Connector) FetchPriceTickers(ctx context.Context) ([]model.PriceTicker, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}

	var raw okxEnvelope[[]struct {
		InstID  string `json:"instId"`
		Last    string `json:"last"`
		BidPx   string `json:"bidPx"`
		AskPx   string `json:"askPx"`
		VolCcy24h string `json:"volCcy24h"`
		Ts      string `json:"ts"`
	}]

	resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
		return c.http.NewRequest().SetResult(&raw).
			SetQueryParam("instType", "SWAP").
			Get(ctx, "/api/v5/market/tickers")
	})
	if err != nil {
		return nil, apperror.External(apperror.CodeVenueUnreachable, "okx: fetch tickers", err)
	}
	if resp.IsError() || raw.Code != "0" {
		return nil, apperror.New(apperror.CodeVenueAPIError, apperror.WithContext(fmt.Sprintf("okx tickers code=%s msg=%s", raw.Code, raw.Msg)))
	}

	tickers := make([]model.PriceTicker, 0, len(raw.Data))
	for _, d := range raw.Data {
		canon, ok := canonical.ToCanonical(model.VenueOKX, d.InstID)
		if !ok {
			continue
		}
		ts, _ := strconv.ParseInt(d.Ts, 10, 64)
		tickers = append(tickers, model.PriceTicker{
			Venue:     model.VenueOKX,
			Symbol:    d.InstID,
			Canonical: canon,
			Last:      parseDecimal(d.Last),
			Bid:       parseDecimal(d.BidPx),
			Ask:       parseDecimal(d.AskPx),
			Volume24h: parseDecimal(d.VolCcy24h),
			Timestamp: ts,
		})
	}
	return tickers, nil
}

// FetchFundingRates returns the current funding rate per swap.
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

		var raw okxEnvelope[[]struct {
			InstID      string `json:"instId"`
			FundingRate string `json:"fundingRate"`
			NextFundingTime string `json:"nextFundingTime"`
		}]

		resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
			return c.http.NewRequest().SetResult(&raw).
				SetQueryParam("instId", inst.Symbol).
				Get(ctx, "/api/v5/public/funding-rate")
		})
		if err != nil || resp.IsError() || raw.Code != "0" || len(raw.Data) == 0 {
			continue // symbol-level funding gaps are non-fatal; skip and keep going
		}

		d := raw.Data[0]
		next, _ := strconv.ParseInt(d.NextFundingTime, 10, 64)
		rates = append(rates, model.FundingRate{
			Venue:           model.VenueOKX,
			Symbol:          d.InstID,
			Canonical:       inst.Canonical,
			Rate:            parseDecimal(d.FundingRate),
			NextFundingTime: next,
			IntervalHours:   8,
			Timestamp:       time.Now().UnixMilli(),
		})
	}
	return rates, nil
}

// FetchAssetInfo returns degraded asset info derived from the instrument list.
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
		infos = append(infos, model.DegradedAssetInfo(model.VenueOKX, inst.BaseAsset, now))
	}
	return infos, nil
}

// FetchOrderbookSnapshot fetches an L2 depth snapshot via REST.
func (c *Connector) FetchOrderbookSnapshot(ctx context.Context, symbol string, depth int) (model.OrderBook, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return model.OrderBook{}, err
	}

	var raw okxEnvelope[[]struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
		Ts   string     `json:"ts"`
	}]

	resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
		return c.http.NewRequest().SetResult(&raw).
			SetQueryParam("instId", symbol).
			SetQueryParam("sz", strconv.Itoa(depth)).
			Get(ctx, "/api/v5/market/books")
	})
	if err != nil {
		return model.OrderBook{}, apperror.External(apperror.CodeVenueUnreachable, "okx: fetch orderbook snapshot", err)
	}
	if resp.IsError() || raw.Code != "0" || len(raw.Data) == 0 {
		return model.OrderBook{}, apperror.New(apperror.CodeOrderbookFetchFailed, apperror.WithContext(fmt.Sprintf("okx orderbook code=%s msg=%s", raw.Code, raw.Msg)))
	}

	d := raw.Data[0]
	canon, _ := canonical.ToCanonical(model.VenueOKX, symbol)
	ts, _ := strconv.ParseInt(d.Ts, 10, 64)
	t := time.UnixMilli(ts)
	if ts == 0 {
		t = time.Now()
	}
	return model.NewSnapshot(model.VenueOKX, symbol, canon, parseLevels(d.Bids), parseLevels(d.Asks), ts, t), nil
}

// Connect dials the public socket and subscribes to books and trades for
// every registered symbol.
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
		return apperror.New(apperror.CodeInvalidInput, apperror.WithContext("okx: no symbols to subscribe"))
	}

	cfg := wsconn.DefaultConfig(wsURL, "okx")
	ws, err := wsconn.New(cfg)
	if err != nil {
		return fmt.Errorf("okx: new ws client: %w", err)
	}
	ws.OnMessage(c.handleMessage)
	ws.OnStateChange(func(state wsconn.State, err error) {
		c.SetConnected(state == wsconn.StateConnected)
		if state == wsconn.StateDisconnected && err != nil {
			c.EmitError(fmt.Errorf("okx: connection lost: %w", err))
		}
	})
	if err := ws.Connect(ctx); err != nil {
		return apperror.Wrap(err, apperror.CodeWebSocketConnectionError, "okx: dial failed")
	}
	c.ws = ws
	c.SetConnected(true)

	return ws.SendJSON(ctx, subscribeMessage("subscribe", symbols))
}

// Subscribe adds subscriptions over the live connection.
func (c *Connector) Subscribe(symbols []string) error {
	c.mu.Lock()
	for _, s := range symbols {
		c.symbols[s] = true
	}
	c.mu.Unlock()
	if c.ws == nil || !c.ws.IsConnected() {
		return c.dial(context.Background(), symbols)
	}
	return c.ws.SendJSON(context.Background(), subscribeMessage("subscribe", symbols))
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
	return c.ws.SendJSON(context.Background(), subscribeMessage("unsubscribe", symbols))
}

// Disconnect closes the active WebSocket connection, if any.
func (c *Connector) Disconnect() error {
	c.SetConnected(false)
	if c.ws == nil {
		return nil
	}
	return c.ws.Close()
}

func subscribeMessage(op string, symbols []string) map[string]any {
	args := make([]map[string]string, 0, len(symbols)*2)
	for _, s := range symbols {
		args = append(args, map[string]string{"channel": "books", "instId": s})
		args = append(args, map[string]string{"channel": "trades", "instId": s})
	}
	return map[string]any{"op": op, "args": args}
}

func (c *Connector) handleMessage(_ context.Context, data []byte) {
	var arg struct {
		Arg struct {
			Channel string `json:"channel"`
			InstID  string `json:"instId"`
		} `json:"arg"`
	}
	if err := json.Unmarshal(data, &arg); err != nil {
		return
	}

	switch arg.Arg.Channel {
	case "books":
		c.handleBooks(data)
	case "trades":
		c.handleTrades(data)
	}
}

func (c *Connector) handleBooks(data []byte) {
	var msg struct {
		Arg struct {
			InstID string `json:"instId"`
		} `json:"arg"`
		Action string `json:"action"`
		Data   []struct {
			Bids [][]string `json:"bids"`
			Asks [][]string `json:"asks"`
			Ts   string     `json:"ts"`
			Seq  int64      `json:"seqId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &msg); err != nil || len(msg.Data) == 0 {
		return
	}

	canon, ok := canonical.ToCanonical(model.VenueOKX, msg.Arg.InstID)
	if !ok {
		return
	}

	d := msg.Data[0]
	ts, _ := strconv.ParseInt(d.Ts, 10, 64)
	ob := c.books.Apply(model.VenueOKX, msg.Arg.InstID, canon, parseLevels(d.Bids), parseLevels(d.Asks), d.Seq, time.UnixMilli(ts), msg.Action == "snapshot")
	c.EmitOrderbook(ob)
}

func (c *Connector) handleTrades(data []byte) {
	var msg struct {
		Arg struct {
			InstID string `json:"instId"`
		} `json:"arg"`
		Data []struct {
			InstID  string `json:"instId"`
			TradeID string `json:"tradeId"`
			Px      string `json:"px"`
			Sz      string `json:"sz"`
			Side    string `json:"side"`
			Ts      string `json:"ts"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	for _, t := range msg.Data {
		canon, ok := canonical.ToCanonical(model.VenueOKX, t.InstID)
		if !ok {
			continue
		}
		side := model.TradeSideBuy
		if t.Side == "sell" {
			side = model.TradeSideSell
		}
		ts, _ := strconv.ParseInt(t.Ts, 10, 64)
		c.EmitTrade(model.Trade{
			Venue:     model.VenueOKX,
			Symbol:    t.InstID,
			Canonical: canon,
			TradeID:   t.TradeID,
			Price:     parseDecimal(t.Px),
			Quantity:  parseDecimal(t.Sz),
			Side:      side,
			VenueTime: time.UnixMilli(ts),
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
