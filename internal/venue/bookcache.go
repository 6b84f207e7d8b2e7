package venue

import (
	"sync"
	"time"

	"github.com/crossspread/md-ingest/internal/model"
)

// BookCache maintains the continuously-mutated OrderBook per symbol for a
// connector whose streaming feed mixes full snapshots with incremental
// deltas. Snapshot frames replace the stored book outright; delta frames are
// applied against whatever is stored via OrderBook.ApplyDelta, so a reader
// of Apply's return value always sees the full current book, never just the
// levels one message happened to touch.
type BookCache struct {
	mu    sync.Mutex
	books map[string]*model.OrderBook
}

// NewBookCache constructs an empty cache.
func NewBookCache() *BookCache {
	return &BookCache{books: make(map[string]*model.OrderBook)}
}

// Apply folds one venue message into the cached book for symbol and returns
// the resulting full book. isSnapshot selects full-replace semantics; the
// first message ever seen for a symbol is always treated as a snapshot
// regardless of isSnapshot, since there is nothing yet to apply a delta to.
func (c *BookCache) Apply(venueID model.VenueId, symbol, canonical string, bids, asks []model.PriceLevel, sequenceID int64, ts time.Time, isSnapshot bool) model.OrderBook {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.books[symbol]
	if isSnapshot || !ok {
		ob := model.NewSnapshot(venueID, symbol, canonical, bids, asks, sequenceID, ts)
		ob.IsSnapshot = isSnapshot
		stored := ob
		c.books[symbol] = &stored
		return ob
	}

	existing.ApplyDelta(bids, asks, sequenceID, ts)
	return *existing
}

// Remove drops cached state for symbol, used when a connector unsubscribes
// from it so a later resubscribe starts clean from the next snapshot.
func (c *BookCache) Remove(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.books, symbol)
}
