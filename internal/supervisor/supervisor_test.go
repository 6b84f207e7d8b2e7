package supervisor

import (
	"testing"

	"github.com/crossspread/md-ingest/internal/apperror"
	"github.com/crossspread/md-ingest/internal/config"
)

func TestBuildConnectorsRejectsUnknownVenue(t *testing.T) {
	cfg := &config.Config{}
	cfg.Venues.Enabled = []string{"binance", "not-a-real-venue"}

	_, err := buildConnectors(cfg)
	if err == nil {
		t.Fatal("expected an error for an unrecognized venue name")
	}
	if apperror.GetCode(err) != apperror.CodeUnknownVenue {
		t.Fatalf("expected CodeUnknownVenue, got %v", apperror.GetCode(err))
	}
}

func TestBuildConnectorsOneConnectorPerEnabledVenue(t *testing.T) {
	cfg := &config.Config{}
	cfg.Venues.Enabled = []string{"binance", "bybit", "okx"}

	connectors, err := buildConnectors(cfg)
	if err != nil {
		t.Fatalf("buildConnectors: %v", err)
	}
	if len(connectors) != 3 {
		t.Fatalf("expected 3 connectors, got %d", len(connectors))
	}
}
