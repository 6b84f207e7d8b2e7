// Package supervisor wires every ingest component into a single running
// process: configuration, telemetry, the venue connector fleet, the
// two-phase REST/WebSocket pipeline, the live spread discovery engine, and
// the Redis publisher. It is the composition root — nothing outside main
// constructs a Supervisor.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/crossspread/md-ingest/internal/apm"
	"github.com/crossspread/md-ingest/internal/apperror"
	"github.com/crossspread/md-ingest/internal/config"
	"github.com/crossspread/md-ingest/internal/credentials"
	"github.com/crossspread/md-ingest/internal/health"
	"github.com/crossspread/md-ingest/internal/loader"
	"github.com/crossspread/md-ingest/internal/logger"
	"github.com/crossspread/md-ingest/internal/metrics"
	"github.com/crossspread/md-ingest/internal/model"
	"github.com/crossspread/md-ingest/internal/publisher"
	"github.com/crossspread/md-ingest/internal/spread"
	"github.com/crossspread/md-ingest/internal/streaming"
	"github.com/crossspread/md-ingest/internal/venue"
	"github.com/crossspread/md-ingest/internal/venue/binance"
	"github.com/crossspread/md-ingest/internal/venue/bingx"
	"github.com/crossspread/md-ingest/internal/venue/bitget"
	"github.com/crossspread/md-ingest/internal/venue/bybit"
	"github.com/crossspread/md-ingest/internal/venue/coinex"
	"github.com/crossspread/md-ingest/internal/venue/gateio"
	"github.com/crossspread/md-ingest/internal/venue/htx"
	"github.com/crossspread/md-ingest/internal/venue/kucoin"
	"github.com/crossspread/md-ingest/internal/venue/lbank"
	"github.com/crossspread/md-ingest/internal/venue/mexc"
	"github.com/crossspread/md-ingest/internal/venue/okx"
)

// venueFactories maps a configured venue name to its connector constructor.
// New venues are onboarded by adding one line here.
var venueFactories = map[string]venue.Factory{
	"binance": func() venue.Connector { c, _ := binance.New(); return c },
	"bybit":   func() venue.Connector { c, _ := bybit.New(); return c },
	"okx":     func() venue.Connector { c, _ := okx.New(); return c },
	"kucoin":  func() venue.Connector { c, _ := kucoin.New(); return c },
	"mexc":    func() venue.Connector { c, _ := mexc.New(); return c },
	"bitget":  func() venue.Connector { c, _ := bitget.New(); return c },
	"gateio":  func() venue.Connector { c, _ := gateio.New(); return c },
	"bingx":   func() venue.Connector { c, _ := bingx.New(); return c },
	"coinex":  func() venue.Connector { c, _ := coinex.New(); return c },
	"lbank":   func() venue.Connector { c, _ := lbank.New(); return c },
	"htx":     func() venue.Connector { c, _ := htx.New(); return c },
}

// Supervisor owns every long-lived component of the ingest process and the
// goroutines that drive them.
type Supervisor struct {
	cfg  *config.Config
	log  logger.LoggerInterface
	inst *metrics.Instruments

	trace apm.TraceProvider
	health *health.Server

	creds      *credentials.Client
	connectors []venue.Connector

	loader    *loader.Loader
	streaming *streaming.Manager
	engine    *spread.Engine
	pub       *publisher.Publisher
}

// New constructs every component from cfg but starts nothing.
func New(cfg *config.Config, log logger.LoggerInterface) (*Supervisor, error) {
	inst, err := metrics.NewInstruments()
	if err != nil {
		return nil, fmt.Errorf("supervisor: new instruments: %w", err)
	}

	connectors, err := buildConnectors(cfg)
	if err != nil {
		return nil, err
	}

	var credsClient *credentials.Client
	if cfg.Credentials.BackendAPIURL != "" {
		credsClient, err = credentials.New(cfg.Credentials.BackendAPIURL, cfg.Credentials.ServiceSecret)
		if err != nil {
			return nil, fmt.Errorf("supervisor: new credentials client: %w", err)
		}
	}

	pub := publisher.New(publisher.Config{
		Addr: cfg.Redis.Addr(),
	})

	ld := loader.New(connectors, log, inst)
	ld.SetMinSpreadBps(decimal.NewFromFloat(cfg.Discovery.MinSpreadBps))
	if cfg.Discovery.RefreshInterval > 0 {
		ld.SetRefreshInterval(cfg.Discovery.RefreshInterval)
	}

	streamMgr := streaming.New(connectors, log, inst)
	streamMgr.SetStalenessThreshold(cfg.Discovery.StalenessInterval)

	engine := spread.New(pub, log, inst, spread.Config{
		MinSpreadBps:    decimal.NewFromFloat(cfg.Discovery.MinSpreadBps),
		MinDepthUSD:     decimal.NewFromFloat(cfg.Discovery.MinDepthUSD),
		PublishInterval: durationOrDefault(cfg.Discovery.PublishInterval, 500*time.Millisecond),
		TopN:            cfg.Discovery.TopN,
	})

	healthServer := health.NewServer(cfg.Metrics.Port, cfg.App.Name)
	healthServer.WithMetricsHandler(promhttp.Handler())
	healthServer.RegisterCheck("redis", func(ctx context.Context) (bool, string) {
		if pub.Health(ctx) {
			return true, ""
		}
		return false, "redis unreachable"
	})

	return &Supervisor{
		cfg:        cfg,
		log:        log,
		inst:       inst,
		health:     healthServer,
		creds:      credsClient,
		connectors: connectors,
		loader:     ld,
		streaming:  streamMgr,
		engine:     engine,
		pub:        pub,
	}, nil
}

func durationOrDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// buildConnectors constructs one Connector per venue named in
// cfg.Venues.Enabled, failing fast on an unrecognized venue name.
func buildConnectors(cfg *config.Config) ([]venue.Connector, error) {
	enabled := cfg.EnabledVenues()
	connectors := make([]venue.Connector, 0, len(enabled))

	for _, name := range enabled {
		factory, ok := venueFactories[name]
		if !ok {
			return nil, apperror.New(apperror.CodeUnknownVenue,
				apperror.WithMessage(fmt.Sprintf("unknown venue %q in venues.enabled", name)))
		}
		connectors = append(connectors, factory())
	}

	return connectors, nil
}

// WithTraceProvider attaches a started trace provider so Run can stop it on
// shutdown. Telemetry setup happens in cmd/ingest, which owns the provider
// options — Supervisor only needs to know when to tear it down.
func (s *Supervisor) WithTraceProvider(tp apm.TraceProvider) {
	s.trace = tp
}

// Run wires every handler, loads the initial market-data snapshot, opens the
// streaming fleet, and blocks until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	s.registerHandlers()

	if err := s.health.Start(); err != nil {
		s.log.Warn(ctx, "failed to start health server", "error", err.Error())
	}
	defer s.health.Stop(context.Background())

	if !s.pub.Health(ctx) {
		return apperror.New(apperror.CodeStoreUnreachable,
			apperror.WithMessage("key/value store unreachable at startup"))
	}

	if s.creds != nil {
		if err := s.creds.Refresh(ctx); err != nil {
			s.log.Warn(ctx, "initial credentials refresh failed, continuing in public-only mode", "error", err.Error())
		} else {
			s.applyCredentials()
		}
	}

	s.log.Info(ctx, "loading initial market data snapshot")
	if err := s.loader.LoadAll(ctx); err != nil {
		return fmt.Errorf("supervisor: initial load: %w", err)
	}

	inventory := s.loader.PreliminarySpreads()
	s.log.Info(ctx, "initial discovery complete", "preliminary_spreads", inventory.Count)
	s.engine.SeedTokenData(s.loader.TokenData())

	symbols := s.loader.SymbolsForStreaming()
	if s.cfg.Venues.UseTwoPhase {
		if err := s.streaming.ConnectForSpreads(ctx, symbols); err != nil {
			return fmt.Errorf("supervisor: connect streaming fleet: %w", err)
		}
	} else {
		allSymbols := map[model.VenueId][]string{}
		for _, c := range s.connectors {
			allSymbols[c.ID()] = nil
		}
		for _, td := range s.loader.TokenData() {
			for v, vd := range td.Venues {
				allSymbols[v] = append(allSymbols[v], vd.Symbol)
			}
		}
		if err := s.streaming.ConnectForSpreads(ctx, allSymbols); err != nil {
			return fmt.Errorf("supervisor: connect streaming fleet: %w", err)
		}
	}

	go s.streaming.MonitorConnections(ctx)
	go s.loader.StartPeriodicRefresh(ctx)
	go s.refreshSubscriptions(ctx)
	go s.engine.Run(ctx)

	s.log.Info(ctx, "ingest pipeline running")
	<-ctx.Done()

	s.log.Info(ctx, "shutting down")
	s.engine.Stop()
	s.streaming.DisconnectAll(context.Background())
	if err := s.pub.Close(); err != nil {
		s.log.Warn(ctx, "error closing publisher", "error", err.Error())
	}
	if s.trace != nil {
		if err := s.trace.Stop(); err != nil {
			s.log.Warn(ctx, "error stopping trace provider", "error", err.Error())
		}
	}

	return nil
}

// registerHandlers wires every connector's streaming callbacks to both the
// publisher (raw market data) and the spread engine (live recalculation).
func (s *Supervisor) registerHandlers() {
	for _, c := range s.connectors {
		c.SetOrderbookHandler(func(ob model.OrderBook) {
			s.engine.HandleOrderbook(ob)
			if err := s.pub.PublishOrderbook(context.Background(), ob); err != nil {
				s.log.Warn(context.Background(), "publish orderbook failed", "venue", string(ob.Venue), "error", err.Error())
				s.inst.PublishErrors.Add(context.Background(), 1)
			}
		})
		c.SetFundingHandler(func(fr model.FundingRate) {
			s.engine.HandleFundingRate(fr)
		})
		c.SetTradeHandler(func(t model.Trade) {
			if err := s.pub.PublishTrade(context.Background(), t); err != nil {
				s.log.Warn(context.Background(), "publish trade failed", "venue", string(t.Venue), "error", err.Error())
				s.inst.PublishErrors.Add(context.Background(), 1)
			}
		})
		c.SetErrorHandler(func(v model.VenueId, err error) {
			s.log.Warn(context.Background(), "venue streaming error", "venue", string(v), "error", err.Error())
		})
	}
}

// applyCredentials injects the first active credential into every connector
// that has one. Connectors left without one operate in public-only mode.
func (s *Supervisor) applyCredentials() {
	for _, c := range s.connectors {
		cred, ok := s.creds.FirstActive(c.ID())
		if !ok {
			continue
		}
		c.SetCredentials(venue.Credentials{
			APIKey:     cred.APIKey,
			APISecret:  cred.APISecret,
			Passphrase: cred.Passphrase,
		})
	}
}

// refreshSubscriptions periodically re-derives the per-venue symbol set from
// the loader's latest spread discovery and pushes the delta to the
// streaming fleet, keeping Phase 2 subscriptions in step with Phase 1.
func (s *Supervisor) refreshSubscriptions(ctx context.Context) {
	interval := durationOrDefault(s.cfg.Discovery.RefreshInterval, 30*time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.engine.SeedTokenData(s.loader.TokenData())
			for venueID, symbols := range s.loader.SymbolsForStreaming() {
				if err := s.streaming.UpdateSubscriptions(ctx, venueID, symbols); err != nil {
					s.log.Warn(ctx, "update subscriptions failed", "venue", string(venueID), "error", err.Error())
				}
			}
		}
	}
}
