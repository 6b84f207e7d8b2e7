// Package bitget implements the uniform venue.Connector contract for Bitget
// USDT-margined perpetual futures.
package bitget

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
	restBaseURL = "https://api.bitget.com"
	wsURL       = "wss://ws.bitget.com/v2/ws/public"
	productType = "USDT-FUTURES"
)

// Connector implements venue.Connector for Bitget USDT-margined perpetuals
// (native symbols like BTCUSDT).
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

// New constructs a Bitget connector.
func New() (*Connector, error) {
	cli, err := httpclient.NewInstrumentedClient(
		httpclient.WithBaseURL(restBaseURL),
		httpclient.WithProviderName("bitget"),
	)
	if err != nil {
		return nil, fmt.Errorf("bitget: new http client: %w", err)
	}
	return &Connector{
		BaseConnector: venue.NewBase(model.VenueBitget),
		http:          cli,
		rl:            ratelimit.New(600),
		cb:            circuitbreaker.New[any](circuitbreaker.DefaultConfig("bitget-rest")),
		symbols:       make(map[string]bool),
		books:         venue.NewBookCache(),
	}, nil
}

type bitgetEnvelope[T any] struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data T      `json:"data"`
}

func (c *Connector) FetchInstruments(ctx context.Context) ([]model.Instrument, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}
	var raw bitgetEnvelope[[]struct {
		Symbol        string `json:"symbol"`
		BaseCoin      string `json:"baseCoin"`
		QuoteCoin     string `json:"quoteCoin"`
		SymbolStatus  string `json:"symbolStatus"`
		PricePlace    string `json:"pricePlace"`
		MinTradeNum   string `json:"minTradeNum"`
		MakerFeeRate  string `json:"makerFeeRate"`
		TakerFeeRate  string `json:"takerFeeRate"`
	}]
	resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
		return c.http.NewRequest().SetResult(&raw).
			SetQueryParam("productType", productType).
			Get(ctx, "/api/v2/mix/market/contracts")
	})
	if err != nil {
		return nil, apperror.External(apperror.CodeVenueUnreachable, "bitget: fetch contracts", err)
	}
	if resp.IsError() || raw.Code != "00000" {
		return nil, apperror.New(apperror.CodeVenueAPIError, apperror.WithContext(fmt.Sprintf("bitget contracts code=%s msg=%s", raw.Code, raw.Msg)))
	}
	instruments := make([]model.Instrument, 0, len(raw.Data))
	for _, s := range raw.Data {
		if s.SymbolStatus != "normal" {
			continue
		}
		canon, ok := canonical.ToCanonical(model.VenueBitget, s.Symbol)
		if !ok {
			continue
		}
		instruments = append(instruments, model.Instrument{
			Venue:      model.VenueBitget,
			Symbol:     s.Symbol,
			Canonical:  canon,
			BaseAsset:  s.BaseCoin,
			QuoteAsset: s.QuoteCoin,
			Kind:       model.KindPerpetual,
			LotSize:    parseDecimal(s.MinTradeNum),
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
	var raw bitgetEnvelope[[]struct {
		Symbol       string `json:"symbol"`
		LastPr       string `json:"lastPr"`
		BidPr        string `json:"bidPr"`
		AskPr        string `json:"askPr"`
		UsdtVolume   string `json:"usdtVolume"`
		Ts           string `json:"ts"`
	}]
	resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
		return c.http.NewRequest().SetResult(&raw).
			SetQueryParam("productType", productType).
			Get(ctx, "/api/v2/mix/market/tickers")
	})
	if err != nil {
		return nil, apperror.External(apperror.CodeVenueUnreachable, "bitget: fetch tickers", err)
	}
	if resp.IsError() || raw.Code != "00000" {
		return nil, apperror.New(apperror.CodeVenueAPIError, apperror.WithContext(fmt.Sprintf("bitget tickers code=%s msg=%s", raw.Code, raw.Msg)))
	}
	tickers := make([]model.PriceTicker, 0, len(raw.Data))
	for _, d := range raw.Data {
		canon, ok := canonical.ToCanonical(model.VenueBitget, d.Symbol)
		if !ok {
			continue
		}
		tickers = append(tickers, model.PriceTicker{
			Venue:     model.VenueBitget,
			Symbol:    d.Symbol,
			Canonical: canon,
			Last:      parseDecimal(d.LastPr),
			Bid:       parseDecimal(d.BidPr),
			Ask:       parseDecimal(d.AskPr),
			Volume24h: parseDecimal(d.UsdtVolume),
			Timestamp: parseInt(d.Ts),
		})
	}
	return tickers, nil
}

func (c *Connector) FetchFundingRates(ctx context.Context) ([]model.FundingRate, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}
	var raw bitgetEnvelope[[]struct {
		Symbol      string `json:"symbol"`
		FundingRate string `json:"fundingRate"`
	}]
	resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
		return c.http.NewRequest().SetResult(&raw).
			SetQueryParam("productType", productType).
			Get(ctx, "/api/v2/mix/market/current-fund-rate")
	})
	if err != nil {
		return nil, apperror.External(apperror.CodeVenueUnreachable, "bitget: fetch funding", err)
	}
	if resp.IsError() || raw.Code != "00000" {
		return nil, apperror.New(apperror.CodeVenueAPIError, apperror.WithContext(fmt.Sprintf("bitget fund-rate code=%s msg=%s", raw.Code, raw.Msg)))
	}
	now := time.Now().UnixMilli()
	rates := make([]model.FundingRate, 0, len(raw.Data))
	for _, d := range raw.Data {
		canon, ok := canonical.ToCanonical(model.VenueBitget, d.Symbol)
		if !ok {
			continue
		}
		rates = append(rates, model.FundingRate{
			Venue:         model.VenueBitget,
			Symbol:        d.Symbol,
			Canonical:     canon,
			Rate:          parseDecimal(d.FundingRate),
			IntervalHours: 8,
			Timestamp:     now,
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
		infos = append(infos, model.DegradedAssetInfo(model.VenueBitget, inst.BaseAsset, now))
	}
	return infos, nil
}

func (c *Connector) FetchOrderbookSnapshot(ctx context.Context, symbol string, depth int) (model.OrderBook, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return model.OrderBook{}, err
	}
	var raw bitgetEnvelope[struct {
		Bids [][2]string `json:"bids"`
		Asks [][2]string `json:"asks"`
		Ts   string      `json:"ts"`
	}]
	resp, err := circuitbreaker.Guard(c.cb, func() (*httpclient.Response, error) {
		return c.http.NewRequest().SetResult(&raw).
			SetQueryParam("symbol", symbol).
			SetQueryParam("productType", productType).
			Get(ctx, "/api/v2/mix/market/merge-depth")
	})
	if err != nil {
		return model.OrderBook{}, apperror.External(apperror.CodeVenueUnreachable, "bitget: fetch orderbook snapshot", err)
	}
	if resp.IsError() || raw.Code != "00000" {
		return model.OrderBook{}, apperror.New(apperror.CodeOrderbookFetchFailed, apperror.WithContext(fmt.Sprintf("bitget merge-depth code=%s msg=%s", raw.Code, raw.Msg)))
	}
	canon, _ := canonical.ToCanonical(model.VenueBitget, symbol)
	ts := parseInt(raw.Data.Ts)
	t := time.UnixMilli(ts)
	if ts == 0 {
		t = time.Now()
	}
	return model.NewSnapshot(model.VenueBitget, symbol, canon, parsePairLevels(raw.Data.Bids), parsePairLevels(raw.Data.Asks), ts, t), nil
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
		return apperror.New(apperror.CodeInvalidInput, apperror.WithContext("bitget: no symbols to subscribe"))
	}
	cfg := wsconn.DefaultConfig(wsURL, "bitget")
	ws, err := wsconn.New(cfg)
	if err != nil {
		return fmt.Errorf("bitget: new ws client: %w", err)
	}
	ws.OnMessage(c.handleMessage)
	ws.OnStateChange(func(state wsconn.State, err error) {
		c.SetConnected(state == wsconn.StateConnected)
		if state == wsconn.StateDisconnected && err != nil {
			c.EmitError(fmt.Errorf("bitget: connection lost: %w", err))
		}
	})
	if err := ws.Connect(ctx); err != nil {
		return apperror.Wrap(err, apperror.CodeWebSocketConnectionError, "bitget: dial failed")
	}
	c.ws = ws
	c.SetConnected(true)
	return ws.SendJSON(ctx, subscribeMessage("subscribe", symbols))
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
	return c.ws.SendJSON(context.Background(), subscribeMessage("subscribe", symbols))
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
	return c.ws.SendJSON(context.Background(), subscribeMessage("unsubscribe", symbols))
}

func (c *Connector) Disconnect() error {
	c.SetConnected(false)
	if c.ws == nil {
		return nil
	}
	return c.ws.Close()
}

func subscribeMessage(op string, symbols []string) map[string]any {
	args := make([]map[string]string, 0, len(symbols))
	for _, s := range symbols {
		args = append(args, map[string]string{"instType": productType, "channel": "books15", "instId": s})
	}
	return map[string]any{"op": op, "args": args}
}

func (c *Connector) handleMessage(_ context.Context, data []byte) {
	var msg struct {
		Arg struct {
			Channel string `json:"channel"`
			InstID  string `json:"instId"`
		} `json:"arg"`
		Action string `json:"action"`
		Data   []struct {
			Bids [][2]string `json:"bids"`
			Asks [][2]string `json:"asks"`
			Ts   string      `json:"ts"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &msg); err != nil || msg.Arg.Channel == "" || len(msg.Data) == 0 {
		return
	}
	canon, ok := canonical.ToCanonical(model.VenueBitget, msg.Arg.InstID)
	if !ok {
		return
	}
	d := msg.Data[0]
	ob := c.books.Apply(model.VenueBitget, msg.Arg.InstID, canon, parsePairLevels(d.Bids), parsePairLevels(d.Asks), parseInt(d.Ts), time.UnixMilli(parseInt(d.Ts)), msg.Action == "snapshot")
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

func parseInt(s string) int64 {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.IntPart()
}
