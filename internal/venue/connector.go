// Package venue defines the uniform Connector contract every trading venue
// implementation satisfies, plus a BaseConnector composition helper shared by
// all of them.
package venue

import (
	"context"
	"time"

	"github.com/crossspread/md-ingest/internal/model"
)

// OrderbookHandler receives a normalized order book after every mutation.
type OrderbookHandler func(model.OrderBook)

// TradeHandler receives a normalized trade print.
type TradeHandler func(model.Trade)

// FundingHandler receives a funding rate update.
type FundingHandler func(model.FundingRate)

// ErrorHandler receives connector-level errors (parse failures, connection
// errors); it never receives REST call errors, which are returned directly
// to the caller per spec.
type ErrorHandler func(venue model.VenueId, err error)

// Credentials carries an optional authenticated-REST credential, injected by
// the Credentials Client. Connectors not given credentials operate in
// public-only mode.
type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
}

// Connector is the uniform contract every venue implementation satisfies.
// REST methods are safe to call concurrently with streaming methods; the
// streaming half owns its own socket exclusively.
type Connector interface {
	ID() model.VenueId

	FetchInstruments(ctx context.Context) ([]model.Instrument, error)
	FetchPriceTickers(ctx context.Context) ([]model.PriceTicker, error)
	FetchFundingRates(ctx context.Context) ([]model.FundingRate, error)
	FetchAssetInfo(ctx context.Context) ([]model.AssetInfo, error)
	FetchOrderbookSnapshot(ctx context.Context, symbol string, depth int) (model.OrderBook, error)

	Connect(ctx context.Context) error
	ConnectForSymbols(ctx context.Context, symbols []string) error
	Subscribe(symbols []string) error
	Unsubscribe(symbols []string) error
	Disconnect() error

	IsConnected() bool
	LastMessageTime() time.Time

	SetOrderbookHandler(h OrderbookHandler)
	SetTradeHandler(h TradeHandler)
	SetFundingHandler(h FundingHandler)
	SetErrorHandler(h ErrorHandler)

	SetCredentials(c Credentials)
}

// Factory constructs a Connector for a venue; credentials, if any, are
// injected afterwards via SetCredentials.
type Factory func() Connector
