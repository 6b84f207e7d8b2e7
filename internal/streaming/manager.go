// Package streaming implements Phase 2 of the two-phase ingest pipeline:
// selective WebSocket subscription lifecycle across the venue fleet,
// staleness detection, and full-reconnect-on-stale recovery.
package streaming

import (
	"context"
	"sync"
	"time"

	"github.com/crossspread/md-ingest/internal/logger"
	"github.com/crossspread/md-ingest/internal/metrics"
	"github.com/crossspread/md-ingest/internal/model"
	"github.com/crossspread/md-ingest/internal/venue"
)

// defaultStalenessThreshold is how long a venue may go without a message
// before MonitorConnections forces a full re-dial, unless overridden via
// SetStalenessThreshold.
const defaultStalenessThreshold = 30 * time.Second

// venueState tracks one venue's current subscription set under Manager's
// single-writer mutex.
type venueState struct {
	connector venue.Connector
	symbols   map[string]bool
}

// Manager owns the Phase 2 WebSocket connection fleet: one Connector per
// enabled venue, each subscribed to the symbol set Phase 1 determined was
// worth watching.
type Manager struct {
	mu      sync.Mutex
	venues  map[model.VenueId]*venueState
	log     logger.LoggerInterface
	metrics *metrics.Instruments

	monitorInterval    time.Duration
	stalenessThreshold time.Duration
	done               chan struct{}
}

// New constructs a Manager over the given connectors. Handlers must already
// be registered on each connector (order book, trade, funding, error).
func New(connectors []venue.Connector, log logger.LoggerInterface, m *metrics.Instruments) *Manager {
	venues := make(map[model.VenueId]*venueState, len(connectors))
	for _, c := range connectors {
		venues[c.ID()] = &venueState{connector: c, symbols: make(map[string]bool)}
	}
	return &Manager{
		venues:             venues,
		log:                log,
		metrics:            m,
		monitorInterval:    5 * time.Second,
		stalenessThreshold: defaultStalenessThreshold,
		done:               make(chan struct{}),
	}
}

// SetStalenessThreshold overrides how long a venue may go without a message
// before a forced reconnect.
func (mgr *Manager) SetStalenessThreshold(d time.Duration) {
	if d > 0 {
		mgr.stalenessThreshold = d
	}
}

// ConnectForSpreads dials every venue referenced by the given symbol set
// and subscribes each to its venue's slice, replacing any prior connection.
func (mgr *Manager) ConnectForSpreads(ctx context.Context, symbolsByVenue map[model.VenueId][]string) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	for venueID, symbols := range symbolsByVenue {
		st, ok := mgr.venues[venueID]
		if !ok {
			mgr.log.Warn(ctx, "spread references an unconfigured venue", "venue", string(venueID))
			continue
		}

		if err := st.connector.ConnectForSymbols(ctx, symbols); err != nil {
			mgr.log.Error(ctx, "initial connect failed", "venue", string(venueID), "error", err.Error())
			if mgr.metrics != nil {
				mgr.metrics.ConnectionErrors.Add(ctx, 1, metrics.VenueAttrs(string(venueID)))
			}
			continue
		}

		st.symbols = toSet(symbols)
		mgr.reportConnectionStatus(ctx, venueID, true)
		mgr.reportSubscribedSymbols(ctx, venueID, len(st.symbols))
	}

	return nil
}

// UpdateSubscriptions diffs the requested symbol set for one venue against
// its current set and subscribes/unsubscribes only the delta.
func (mgr *Manager) UpdateSubscriptions(ctx context.Context, venueID model.VenueId, symbols []string) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	st, ok := mgr.venues[venueID]
	if !ok {
		return nil
	}

	want := toSet(symbols)

	var toAdd, toRemove []string
	for s := range want {
		if !st.symbols[s] {
			toAdd = append(toAdd, s)
		}
	}
	for s := range st.symbols {
		if !want[s] {
			toRemove = append(toRemove, s)
		}
	}

	if len(toAdd) > 0 {
		if err := st.connector.Subscribe(toAdd); err != nil {
			mgr.log.Error(ctx, "subscribe failed", "venue", string(venueID), "error", err.Error())
			return err
		}
	}
	if len(toRemove) > 0 {
		if err := st.connector.Unsubscribe(toRemove); err != nil {
			mgr.log.Error(ctx, "unsubscribe failed", "venue", string(venueID), "error", err.Error())
			return err
		}
	}

	st.symbols = want
	mgr.reportSubscribedSymbols(ctx, venueID, len(st.symbols))
	return nil
}

// MonitorConnections runs until ctx is cancelled, checking every venue's
// last-message time on a fixed tick and forcing a full re-dial of any venue
// that has gone stale.
func (mgr *Manager) MonitorConnections(ctx context.Context) {
	ticker := time.NewTicker(mgr.monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-mgr.done:
			return
		case <-ticker.C:
			mgr.checkStaleness(ctx)
		}
	}
}

func (mgr *Manager) checkStaleness(ctx context.Context) {
	mgr.mu.Lock()
	stale := make([]*venueState, 0)
	disconnected := make([]*venueState, 0)
	for _, st := range mgr.venues {
		if !st.connector.IsConnected() {
			if len(st.symbols) > 0 {
				disconnected = append(disconnected, st)
			}
			continue
		}
		if time.Since(st.connector.LastMessageTime()) > mgr.stalenessThreshold {
			stale = append(stale, st)
		}
	}
	mgr.mu.Unlock()

	for _, st := range stale {
		venueID := st.connector.ID()
		mgr.log.Warn(ctx, "venue connection stale, forcing reconnect", "venue", string(venueID))
		if mgr.metrics != nil {
			mgr.metrics.Reconnects.Add(ctx, 1, metrics.VenueAttrs(string(venueID)))
		}

		mgr.mu.Lock()
		symbols := make([]string, 0, len(st.symbols))
		for s := range st.symbols {
			symbols = append(symbols, s)
		}
		mgr.mu.Unlock()

		if err := st.connector.Disconnect(); err != nil {
			mgr.log.Warn(ctx, "disconnect before reconnect failed", "venue", string(venueID), "error", err.Error())
		}
		if err := st.connector.ConnectForSymbols(ctx, symbols); err != nil {
			mgr.log.Error(ctx, "reconnect failed", "venue", string(venueID), "error", err.Error())
			mgr.reportConnectionStatus(ctx, venueID, false)
			continue
		}
		mgr.reportConnectionStatus(ctx, venueID, true)
	}

	// A venue already fully disconnected (rather than merely stale) never
	// satisfies the staleness check above, since IsConnected short-circuits
	// it out of that loop entirely. Recover it here from its recorded
	// subscription set so a dead connector doesn't stay dead forever.
	for _, st := range disconnected {
		venueID := st.connector.ID()
		mgr.log.Warn(ctx, "venue disconnected, reconnecting from recorded symbols", "venue", string(venueID))
		if mgr.metrics != nil {
			mgr.metrics.Reconnects.Add(ctx, 1, metrics.VenueAttrs(string(venueID)))
		}

		mgr.mu.Lock()
		symbols := make([]string, 0, len(st.symbols))
		for s := range st.symbols {
			symbols = append(symbols, s)
		}
		mgr.mu.Unlock()

		if err := st.connector.ConnectForSymbols(ctx, symbols); err != nil {
			mgr.log.Error(ctx, "reconnect failed", "venue", string(venueID), "error", err.Error())
			mgr.reportConnectionStatus(ctx, venueID, false)
			continue
		}
		mgr.reportConnectionStatus(ctx, venueID, true)
	}
}

// DisconnectAll tears down every venue connection, used on shutdown.
func (mgr *Manager) DisconnectAll(ctx context.Context) {
	close(mgr.done)

	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	for venueID, st := range mgr.venues {
		if err := st.connector.Disconnect(); err != nil {
			mgr.log.Warn(ctx, "disconnect failed during shutdown", "venue", string(venueID), "error", err.Error())
		}
	}
}

func (mgr *Manager) reportConnectionStatus(ctx context.Context, venueID model.VenueId, connected bool) {
	if mgr.metrics == nil {
		return
	}
	v := int64(0)
	if connected {
		v = 1
	}
	mgr.metrics.ConnectionStatus.Record(ctx, v, metrics.VenueAttrs(string(venueID)))
}

func (mgr *Manager) reportSubscribedSymbols(ctx context.Context, venueID model.VenueId, count int) {
	if mgr.metrics == nil {
		return
	}
	mgr.metrics.SubscribedSymbols.Record(ctx, int64(count), metrics.VenueAttrs(string(venueID)))
}

func toSet(symbols []string) map[string]bool {
	set := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		set[s] = true
	}
	return set
}
