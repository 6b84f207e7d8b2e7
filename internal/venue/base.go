package venue

import (
	"sync"
	"time"

	"github.com/crossspread/md-ingest/internal/model"
)

// BaseConnector holds the handler slots, connection state, and credential
// every venue implementation needs; it is embedded by composition, not
// inherited, per the uniform-polymorphism design notes: venue packages embed
// *BaseConnector and implement only the venue-specific REST/streaming logic.
type BaseConnector struct {
	id model.VenueId

	mu          sync.RWMutex
	connected   bool
	lastMessage time.Time
	creds       Credentials

	obHandler      OrderbookHandler
	tradeHandler   TradeHandler
	fundingHandler FundingHandler
	errHandler     ErrorHandler
}

// NewBase constructs a BaseConnector for the given venue id.
func NewBase(id model.VenueId) *BaseConnector {
	return &BaseConnector{id: id}
}

func (b *BaseConnector) ID() model.VenueId { return b.id }

func (b *BaseConnector) SetOrderbookHandler(h OrderbookHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.obHandler = h
}

func (b *BaseConnector) SetTradeHandler(h TradeHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tradeHandler = h
}

func (b *BaseConnector) SetFundingHandler(h FundingHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fundingHandler = h
}

func (b *BaseConnector) SetErrorHandler(h ErrorHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errHandler = h
}

func (b *BaseConnector) SetCredentials(c Credentials) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.creds = c
}

func (b *BaseConnector) Credentials() Credentials {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.creds
}

func (b *BaseConnector) HasCredentials() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.creds.APIKey != ""
}

func (b *BaseConnector) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

func (b *BaseConnector) SetConnected(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = v
}

func (b *BaseConnector) LastMessageTime() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastMessage
}

func (b *BaseConnector) touch() {
	b.mu.Lock()
	b.lastMessage = time.Now()
	b.mu.Unlock()
}

// EmitOrderbook dispatches ob to the registered handler, if any, and marks
// the connection as having just received a message.
func (b *BaseConnector) EmitOrderbook(ob model.OrderBook) {
	b.touch()
	b.mu.RLock()
	h := b.obHandler
	b.mu.RUnlock()
	if h != nil {
		h(ob)
	}
}

// EmitTrade dispatches a normalized trade to the registered handler.
func (b *BaseConnector) EmitTrade(t model.Trade) {
	b.touch()
	b.mu.RLock()
	h := b.tradeHandler
	b.mu.RUnlock()
	if h != nil {
		h(t)
	}
}

// EmitFunding dispatches a funding rate update to the registered handler.
func (b *BaseConnector) EmitFunding(f model.FundingRate) {
	b.touch()
	b.mu.RLock()
	h := b.fundingHandler
	b.mu.RUnlock()
	if h != nil {
		h(f)
	}
}

// EmitError dispatches a connector-level error (parse failure, connection
// drop) to the registered handler without touching last-message-time.
func (b *BaseConnector) EmitError(err error) {
	b.mu.RLock()
	h := b.errHandler
	b.mu.RUnlock()
	if h != nil {
		h(b.id, err)
	}
}
