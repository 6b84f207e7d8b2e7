package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "crossspread.md-ingest"

// Instruments holds every counter/gauge/histogram the ingest pipeline emits,
// built once at startup against the process-wide MeterProvider and passed by
// reference into every component that reports metrics.
type Instruments struct {
	OrderbookUpdates  metric.Int64Counter
	Trades            metric.Int64Counter
	Reconnects        metric.Int64Counter
	ConnectionErrors  metric.Int64Counter
	PublishErrors     metric.Int64Counter
	RestFetchErrors   metric.Int64Counter

	ConnectionStatus    metric.Int64Gauge
	OrderbookDepth      metric.Int64Gauge
	BestBid             metric.Float64Gauge
	BestAsk             metric.Float64Gauge
	SpreadBps           metric.Float64Gauge
	FundingRate         metric.Float64Gauge
	SubscribedSymbols   metric.Int64Gauge
	PreliminarySpreads  metric.Int64Gauge

	MessageLatency        metric.Float64Histogram
	ProcessingDuration     metric.Float64Histogram
	RestFetchDuration      metric.Float64Histogram
	PublishDuration        metric.Float64Histogram
	SpreadDiscoveryDuration metric.Float64Histogram
}

// NewInstruments registers every instrument against the global MeterProvider.
// Called once during Supervisor startup, after NewMetricProvider.
func NewInstruments() (*Instruments, error) {
	m := otel.Meter(meterName)

	var err error
	in := &Instruments{}

	if in.OrderbookUpdates, err = m.Int64Counter("ingest.orderbook.updates"); err != nil {
		return nil, err
	}
	if in.Trades, err = m.Int64Counter("ingest.trades"); err != nil {
		return nil, err
	}
	if in.Reconnects, err = m.Int64Counter("ingest.connection.reconnects"); err != nil {
		return nil, err
	}
	if in.ConnectionErrors, err = m.Int64Counter("ingest.connection.errors"); err != nil {
		return nil, err
	}
	if in.PublishErrors, err = m.Int64Counter("ingest.publish.errors"); err != nil {
		return nil, err
	}
	if in.RestFetchErrors, err = m.Int64Counter("ingest.rest.fetch_errors"); err != nil {
		return nil, err
	}

	if in.ConnectionStatus, err = m.Int64Gauge("ingest.connection.status"); err != nil {
		return nil, err
	}
	if in.OrderbookDepth, err = m.Int64Gauge("ingest.orderbook.depth"); err != nil {
		return nil, err
	}
	if in.BestBid, err = m.Float64Gauge("ingest.orderbook.best_bid"); err != nil {
		return nil, err
	}
	if in.BestAsk, err = m.Float64Gauge("ingest.orderbook.best_ask"); err != nil {
		return nil, err
	}
	if in.SpreadBps, err = m.Float64Gauge("ingest.orderbook.spread_bps"); err != nil {
		return nil, err
	}
	if in.FundingRate, err = m.Float64Gauge("ingest.funding_rate"); err != nil {
		return nil, err
	}
	if in.SubscribedSymbols, err = m.Int64Gauge("ingest.subscribed_symbols"); err != nil {
		return nil, err
	}
	if in.PreliminarySpreads, err = m.Int64Gauge("ingest.spreads.preliminary"); err != nil {
		return nil, err
	}

	if in.MessageLatency, err = m.Float64Histogram("ingest.message.latency", metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if in.ProcessingDuration, err = m.Float64Histogram("ingest.processing.duration", metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if in.RestFetchDuration, err = m.Float64Histogram("ingest.rest.fetch_duration", metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if in.PublishDuration, err = m.Float64Histogram("ingest.publish.duration", metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if in.SpreadDiscoveryDuration, err = m.Float64Histogram("ingest.spread_discovery.duration", metric.WithUnit("ms")); err != nil {
		return nil, err
	}

	return in, nil
}

// Timer measures an elapsed duration and records it to a histogram in
// milliseconds, mirroring the corpus's metrics.NewTimer/ObserveDuration idiom.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() Timer { return Timer{start: time.Now()} }

// ObserveDuration records the elapsed time since NewTimer onto hist, tagged
// with the given attributes.
func (t Timer) ObserveDuration(ctx context.Context, hist metric.Float64Histogram, attrs ...attribute.KeyValue) {
	hist.Record(ctx, float64(time.Since(t.start).Milliseconds()), metric.WithAttributes(attrs...))
}

// VenueAttr returns a "venue" attribute for use with metric.WithAttributes.
func VenueAttr(venue string) attribute.KeyValue {
	return attribute.String("venue", venue)
}

// VenueAttrs wraps VenueAttr as a MeasurementOption, accepted by every
// instrument's Add/Record method (counters, gauges, histograms alike).
func VenueAttrs(venue string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("venue", venue))
}
