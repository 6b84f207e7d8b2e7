package canonical

import (
	"testing"

	"github.com/crossspread/md-ingest/internal/model"
)

func TestRoundTripAllVenues(t *testing.T) {
	cases := []struct {
		venue     model.VenueId
		canonical string
	}{
		{model.VenueBinance, "BTC-USDT-PERP"},
		{model.VenueBybit, "ETH-USDT-PERP"},
		{model.VenueOKX, "BTC-USDT-PERP"},
		{model.VenueKuCoin, "BTC-USDT-PERP"},
		{model.VenueMEXC, "SOL-USDT-PERP"},
		{model.VenueBitget, "BTC-USDT-PERP"},
		{model.VenueGateIO, "BTC-USDT-PERP"},
		{model.VenueBingX, "BTC-USDT-PERP"},
		{model.VenueCoinEx, "BTC-USDT-PERP"},
		{model.VenueLBank, "BTC-USDT-PERP"},
		{model.VenueHTX, "BTC-USDT-PERP"},
	}

	for _, tc := range cases {
		native, ok := FromCanonical(tc.venue, tc.canonical)
		if !ok {
			t.Fatalf("%s: FromCanonical(%s) failed", tc.venue, tc.canonical)
		}
		got, ok := ToCanonical(tc.venue, native)
		if !ok {
			t.Fatalf("%s: ToCanonical(%s) failed", tc.venue, native)
		}
		if got != tc.canonical {
			t.Errorf("%s: round trip %s -> %s -> %s, want %s", tc.venue, tc.canonical, native, got, tc.canonical)
		}
	}
}

func TestKuCoinAlias(t *testing.T) {
	native, ok := FromCanonical(model.VenueKuCoin, "BTC-USDT-PERP")
	if !ok || native != "XBTUSDTM" {
		t.Fatalf("expected XBTUSDTM, got %q (ok=%v)", native, ok)
	}
	c, ok := ToCanonical(model.VenueKuCoin, "XBTUSDTM")
	if !ok || c != "BTC-USDT-PERP" {
		t.Fatalf("expected BTC-USDT-PERP, got %q (ok=%v)", c, ok)
	}
}

func TestToCanonicalUnknownVenue(t *testing.T) {
	if _, ok := ToCanonical(model.VenueId("doesnotexist"), "BTCUSDT"); ok {
		t.Fatal("expected unrecognized venue to fail")
	}
}

func TestToCanonicalMalformedSymbolIsDropped(t *testing.T) {
	if _, ok := ToCanonical(model.VenueBinance, "???"); ok {
		t.Fatal("expected malformed symbol to not resolve")
	}
}
