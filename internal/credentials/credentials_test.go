package credentials

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/crossspread/md-ingest/internal/apperror"
	"github.com/crossspread/md-ingest/internal/httpclient"
	"github.com/crossspread/md-ingest/internal/model"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cli, err := httpclient.NewInstrumentedClient(httpclient.WithBaseURL(srv.URL), httpclient.WithProviderName("test"))
	if err != nil {
		t.Fatalf("new http client: %v", err)
	}

	return &Client{http: cli, serviceSecret: "test-secret", byVenue: make(map[model.VenueId][]Credential)}
}

func TestRefreshGroupsCredentialsByVenue(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Service test-secret" {
			t.Errorf("expected service auth header, got %q", r.Header.Get("Authorization"))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"credentials": []Credential{
				{Venue: model.VenueBinance, APIKey: "k1", Active: true},
				{Venue: model.VenueBinance, APIKey: "k2", Active: false},
				{Venue: model.VenueBybit, APIKey: "k3", Active: true},
			},
		})
	})

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	cred, ok := c.FirstActive(model.VenueBinance)
	if !ok || cred.APIKey != "k1" {
		t.Fatalf("expected first active binance credential k1, got %+v ok=%v", cred, ok)
	}

	if _, ok := c.FirstActive(model.VenueOKX); ok {
		t.Fatal("expected no credential for a venue with none configured")
	}

	all := c.All()
	if len(all[model.VenueBinance]) != 2 {
		t.Fatalf("expected 2 binance credentials, got %d", len(all[model.VenueBinance]))
	}
}

func TestRefreshWrapsAuthFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	err := c.Refresh(context.Background())
	if err == nil {
		t.Fatal("expected an error on 401 response")
	}
	if apperror.GetCode(err) != apperror.CodeCredentialsAuthFailed {
		t.Fatalf("expected CodeCredentialsAuthFailed, got %v", apperror.GetCode(err))
	}
}
