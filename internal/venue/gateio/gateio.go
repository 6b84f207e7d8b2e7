// Package gateio implements the uniform venue.Connector contract for Gate.io
// USDT-settled perpetual futures.
package gateio

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
	restBaseURL = "https://api.gateio.ws"
	wsURL       = "wss://fx-ws.gateio.ws/v4/ws/usdt"
	settle      = "usdt"
)

// Connector implements venue.Connector for Gate.io USDT-settled perpetuals
// (native symbols like BTC_USDT).
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

// New constructs a Gate.io connector.
func New() (*Connector, error) {
	cli, err := httpclient.NewInstrumentedClient(
		httpclient.WithBaseURL(restBaseURL),
		httpclient.WithProviderName("gateio"),
	)
	if err != nil {
		return nil, fmt.Errorf("gateio: new http client: %w", err)
	}
	return &Connector{
		BaseConnector: venue.NewBase(model.VenueGateIO),
		http:          cli,
		rl:            ratelimit.New(900),
		cb:            circuitbreaker.New[any](circuitbreaker.DefaultConfig("gateio-rest")),
		symbols:       make(map[string]bool),
		books:         venue.NewBookCache(),
	}, nil
}

// FetchInstruments returns all tradable USDT perpetual contracts.
func (c *Connector) FetchInstruments(ctx context.Context) ([]model.Instrument, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}

	var raw []struct {
		Name           string `json:"name"`
		Type           string `json:"type"`
		InDelisting    bool   `json:"in_delisting"`
		QuoteCurrency  string `json:"quote_currency"`
		OrderPriceRound string `json:"order_price_round"`
		OrderSizeMin   int64  `json:"order_size_min"`
		MakerFeeRate   string `json:"maker_fee_rate"`
		TakerFeeRate   string `json:"taker_fee_rate"`
	}

	resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
		return c.http.NewRequest().SetResult(&raw).Get(ctx, "/api/v4/futures/"+settle+"/contracts")
	})
	if err != nil {
		return nil, apperror.External(apperror.CodeVenueUnreachable, "gateio: fetch contracts", err)
	}
	if resp.IsError() {
		return nil, apperror.New(apperror.CodeVenueAPIError, apperror.WithContext(fmt.Sprintf("gateio contracts status %d", resp.StatusCode)))
	}

	instruments := make([]model.Instrument, 0, len(raw))
	for _, s := range raw {
		if s.InDelisting || s.Type != "direct" {
			continue
		}
		canon, ok := canonical.ToCanonical(model.VenueGateIO, s.Name)
		if !ok {
			continue
		}
		base := s.Name
		if idx := indexByte(s.Name, '_'); idx >= 0 {
			base = s.Name[:idx]
		}
		instruments = append(instruments, model.Instrument{
			Venue:      model.VenueGateIO,
			Symbol:     s.Name,
			Canonical:  canon,
			BaseAsset:  base,
			QuoteAsset: s.QuoteCurrency,
			Kind:       model.KindPerpetual,
			TickSize:   parseDecimal(s.OrderPriceRound),
			LotSize:    decimal.NewFromInt(s.OrderSizeMin),
			MakerFee:   parseDecimal(s.MakerFeeRate),
			TakerFee:   parseDecimal(s.TakerFeeRate),
		})
	}
	return instruments, nil
}

// FetchPriceTickers returns last/bid/ask/24h volume for every contract.
func (c *Connector) FetchPriceTickers(ctx context.Context) ([]model.PriceTicker, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}

	var raw []struct {
		Contract      string `json:"contract"`
		Last          string `json:"last"`
		HighestBid    string `json:"highest_bid"`
		LowestAsk     string `json:"lowest_ask"`
		Volume24hQuote string `json:"volume_24h_quote"`
	}

	resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
		return c.http.NewRequest().SetResult(&raw).Get(ctx, "/api/v4/futures/"+settle+"/tickers")
	})
	if err != nil {
		return nil, apperror.External(apperror.CodeVenueUnreachable, "gateio: fetch tickers", err)
	}
	if resp.IsError() {
		return nil, apperror.New(apperror.CodeVenueAPIError, apperror.WithContext(fmt.Sprintf("gateio tickers status %d", resp.StatusCode)))
	}

	now := time.Now().UnixMilli()
	tickers := make([]model.PriceTicker, 0, len(raw))
	for _, d := range raw {
		canon, ok := canonical.ToCanonical(model.VenueGateIO, d.Contract)
		if !ok {
			continue
		}
		tickers = append(tickers, model.PriceTicker{
			Venue:     model.VenueGateIO,
			Symbol:    d.Contract,
			Canonical: canon,
			Last:      parseDecimal(d.Last),
			Bid:       parseDecimal(d.HighestBid),
			Ask:       parseDecimal(d.LowestAsk),
			Volume24h: parseDecimal(d.Volume24hQuote),
			Timestamp: now,
		})
	}
	return tickers, nil
}

// FetchFundingRates returns the current funding rate per contract, sourced
// from the same tickers endpoint Gate.io embeds funding_rate in.
func (c *Connector) FetchFundingRates(ctx context.Context) ([]model.FundingRate, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}

	var raw []struct {
		Contract          string `json:"contract"`
		FundingRate       string `json:"funding_rate"`
		FundingNextApply  int64  `json:"funding_next_apply"`
	}

	resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
		return c.http.NewRequest().SetResult(&raw).Get(ctx, "/api/v4/futures/"+settle+"/tickers")
	})
	if err != nil {
		return nil, apperror.External(apperror.CodeVenueUnreachable, "gateio: fetch funding", err)
	}
	if resp.IsError() {
		return nil, apperror.New(apperror.CodeVenueAPIError, apperror.WithContext(fmt.Sprintf("gateio tickers(funding) status %d", resp.StatusCode)))
	}

	now := time.Now().UnixMilli()
	rates := make([]model.FundingRate, 0, len(raw))
	for _, d := range raw {
		canon, ok := canonical.ToCanonical(model.VenueGateIO, d.Contract)
		if !ok {
			continue
		}
		rates = append(rates, model.FundingRate{
			Venue:           model.VenueGateIO,
			Symbol:          d.Contract,
			Canonical:       canon,
			Rate:            parseDecimal(d.FundingRate),
			NextFundingTime: d.FundingNextApply * 1000,
			IntervalHours:   8,
			Timestamp:       now,
		})
	}
	return rates, nil
}

// FetchAssetInfo returns degraded asset info: Gate.io's currency-detail
// endpoint requires per-currency lookups, too expensive to do for every
// instrument on every poll, so this derives from the contract list instead.
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
		infos = append(infos, model.DegradedAssetInfo(model.VenueGateIO, inst.BaseAsset, now))
	}
	return infos, nil
}

// FetchOrderbookSnapshot fetches an order book snapshot via REST.
func (c *Connector) FetchOrderbookSnapshot(ctx context.Context, symbol string, depth int) (model.OrderBook, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return model.OrderBook{}, err
	}

	var raw struct {
		ID    int64 `json:"id"`
		Bids  []struct {
			P string `json:"p"`
			S int64  `json:"s"`
		} `json:"bids"`
		Asks []struct {
			P string `json:"p"`
			S int64  `json:"s"`
		} `json:"asks"`
	}

	resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
		return c.http.NewRequest().SetResult(&raw).
			SetQueryParam("contract", symbol).
			SetQueryParam("limit", fmt.Sprintf("%d", depth)).
			Get(ctx, "/api/v4/futures/"+settle+"/order_book")
	})
	if err != nil {
		return model.OrderBook{}, apperror.External(apperror.CodeVenueUnreachable, "gateio: fetch orderbook snapshot", err)
	}
	if resp.IsError() {
		return model.OrderBook{}, apperror.New(apperror.CodeOrderbookFetchFailed, apperror.WithContext(fmt.Sprintf("gateio orderbook status %d", resp.StatusCode)))
	}

	canon, _ := canonical.ToCanonical(model.VenueGateIO, symbol)
	bids := make([]model.PriceLevel, 0, len(raw.Bids))
	for _, b := range raw.Bids {
		bids = append(bids, model.PriceLevel{Price: parseDecimal(b.P), Quantity: decimal.NewFromInt(b.S)})
	}
	asks := make([]model.PriceLevel, 0, len(raw.Asks))
	for _, a := range raw.Asks {
		asks = append(asks, model.PriceLevel{Price: parseDecimal(a.P), Quantity: decimal.NewFromInt(a.S)})
	}
	return model.NewSnapshot(model.VenueGateIO, symbol, canon, bids, asks, raw.ID, time.Now()), nil
}

// Connect dials the public futures socket and subscribes to order_book for
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
		return apperror.New(apperror.CodeInvalidInput, apperror.WithContext("gateio: no symbols to subscribe"))
	}

	cfg := wsconn.DefaultConfig(wsURL, "gateio")
	ws, err := wsconn.New(cfg)
	if err != nil {
		return fmt.Errorf("gateio: new ws client: %w", err)
	}
	ws.OnMessage(c.handleMessage)
	ws.OnStateChange(func(state wsconn.State, err error) {
		c.SetConnected(state == wsconn.StateConnected)
		if state == wsconn.StateDisconnected && err != nil {
			c.EmitError(fmt.Errorf("gateio: connection lost: %w", err))
		}
	})
	if err := ws.Connect(ctx); err != nil {
		return apperror.Wrap(err, apperror.CodeWebSocketConnectionError, "gateio: dial failed")
	}
	c.ws = ws
	c.SetConnected(true)

	if err := ws.SendJSON(ctx, subscribeMessage("futures.order_book_update", "subscribe", symbols)); err != nil {
		return err
	}
	return ws.SendJSON(ctx, subscribeMessage("futures.trades", "subscribe", symbols))
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
	if err := c.ws.SendJSON(context.Background(), subscribeMessage("futures.order_book_update", "subscribe", symbols)); err != nil {
		return err
	}
	return c.ws.SendJSON(context.Background(), subscribeMessage("futures.trades", "subscribe", symbols))
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
	if err := c.ws.SendJSON(context.Background(), subscribeMessage("futures.order_book_update", "unsubscribe", symbols)); err != nil {
		return err
	}
	return c.ws.SendJSON(context.Background(), subscribeMessage("futures.trades", "unsubscribe", symbols))
}

// Disconnect closes the active WebSocket connection, if any.
func (c *Connector) Disconnect() error {
	c.SetConnected(false)
	if c.ws == nil {
		return nil
	}
	return c.ws.Close()
}

func subscribeMessage(channel, event string, symbols []string) map[string]any {
	var payload []string
	if channel == "futures.order_book_update" {
		payload = make([]string, 0, len(symbols)*2)
		for _, s := range symbols {
			payload = append(payload, s, "100ms")
		}
	} else {
		payload = append(payload, symbols...)
	}
	return map[string]any{
		"time":    time.Now().Unix(),
		"channel": channel,
		"event":   event,
		"payload": payload,
	}
}

func (c *Connector) handleMessage(_ context.Context, data []byte) {
	var chEvt struct {
		Channel string `json:"channel"`
		Event   string `json:"event"`
	}
	if err := json.Unmarshal(data, &chEvt); err != nil || chEvt.Event != "update" {
		return
	}

	switch chEvt.Channel {
	case "futures.order_book_update":
		c.handleDepth(data)
	case "futures.trades":
		c.handleTrades(data)
	}
}

func (c *Connector) handleDepth(data []byte) {
	var msg struct {
		Result struct {
			T    int64       `json:"t"`
			S    string      `json:"s"`
			U    int64       `json:"u"`
			Bids [][2]string `json:"b"`
			Asks [][2]string `json:"a"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &msg); err != nil || msg.Result.S == "" {
		return
	}

	canon, ok := canonical.ToCanonical(model.VenueGateIO, msg.Result.S)
	if !ok {
		return
	}

	bids := make([]model.PriceLevel, 0, len(msg.Result.Bids))
	for _, lvl := range msg.Result.Bids {
		bids = append(bids, model.PriceLevel{Price: parseDecimal(lvl[0]), Quantity: parseDecimal(lvl[1])})
	}
	asks := make([]model.PriceLevel, 0, len(msg.Result.Asks))
	for _, lvl := range msg.Result.Asks {
		asks = append(asks, model.PriceLevel{Price: parseDecimal(lvl[0]), Quantity: parseDecimal(lvl[1])})
	}

	ob := c.books.Apply(model.VenueGateIO, msg.Result.S, canon, bids, asks, msg.Result.U, time.UnixMilli(msg.Result.T), false)
	c.EmitOrderbook(ob)
}

func (c *Connector) handleTrades(data []byte) {
	var msg struct {
		Result []struct {
			ID           int64  `json:"id"`
			CreateTimeMs int64  `json:"create_time_ms"`
			Contract     string `json:"contract"`
			Size         int64  `json:"size"`
			Price        string `json:"price"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	for _, t := range msg.Result {
		canon, ok := canonical.ToCanonical(model.VenueGateIO, t.Contract)
		if !ok {
			continue
		}
		side := model.TradeSideBuy
		size := t.Size
		if size < 0 {
			side = model.TradeSideSell
			size = -size
		}
		c.EmitTrade(model.Trade{
			Venue:     model.VenueGateIO,
			Symbol:    t.Contract,
			Canonical: canon,
			TradeID:   fmt.Sprintf("%d", t.ID),
			Price:     parseDecimal(t.Price),
			Quantity:  decimal.NewFromInt(size),
			Side:      side,
			VenueTime: time.UnixMilli(t.CreateTimeMs),
			RecvTime:  time.Now(),
		})
	}
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
