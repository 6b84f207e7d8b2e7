// Package credentials fetches per-venue authenticated API credentials from
// the backend service, never decrypting or persisting them itself — it
// holds them in memory only for the lifetime of the process and hands the
// first active credential per venue to whichever Venue Connector asks.
package credentials

import (
	"context"
	"fmt"
	"sync"

	"github.com/crossspread/md-ingest/internal/apperror"
	"github.com/crossspread/md-ingest/internal/httpclient"
	"github.com/crossspread/md-ingest/internal/model"
)

// Credential is one authenticated credential for one venue.
type Credential struct {
	Venue      model.VenueId `json:"venue"`
	APIKey     string        `json:"api_key"`
	APISecret  string        `json:"api_secret"`
	Passphrase string        `json:"passphrase,omitempty"`
	Active     bool          `json:"active"`
}

// Client fetches and caches credentials from the backend API.
type Client struct {
	http          httpclient.Client
	serviceSecret string

	mu    sync.RWMutex
	byVenue map[model.VenueId][]Credential
}

// New constructs a Client against the backend API base URL, authenticating
// every request with the given service secret.
func New(backendAPIURL, serviceSecret string) (*Client, error) {
	cli, err := httpclient.NewInstrumentedClient(
		httpclient.WithBaseURL(backendAPIURL),
		httpclient.WithProviderName("credentials"),
	)
	if err != nil {
		return nil, fmt.Errorf("credentials: new http client: %w", err)
	}

	return &Client{
		http:          cli,
		serviceSecret: serviceSecret,
		byVenue:       make(map[model.VenueId][]Credential),
	}, nil
}

// Refresh fetches the full credential set from the backend and replaces the
// in-memory cache atomically.
func (c *Client) Refresh(ctx context.Context) error {
	var raw struct {
		Credentials []Credential `json:"credentials"`
	}

	resp, err := c.http.NewRequest().
		SetHeader("Authorization", "Service "+c.serviceSecret).
		SetResult(&raw).
		Get(ctx, "/api/v1/internal/credentials")
	if err != nil {
		return apperror.External(apperror.CodeCredentialsUnavailable, "fetch credentials", err)
	}
	if resp.IsError() {
		return apperror.New(apperror.CodeCredentialsAuthFailed,
			apperror.WithMessage(fmt.Sprintf("credentials endpoint returned %d", resp.StatusCode)),
			apperror.WithStatusCode(resp.StatusCode))
	}

	byVenue := make(map[model.VenueId][]Credential, len(raw.Credentials))
	for _, cred := range raw.Credentials {
		byVenue[cred.Venue] = append(byVenue[cred.Venue], cred)
	}

	c.mu.Lock()
	c.byVenue = byVenue
	c.mu.Unlock()

	return nil
}

// FirstActive returns the first active credential cached for a venue, or
// false if none is available — meaning the venue connector should operate
// in public-only mode.
func (c *Client) FirstActive(venueID model.VenueId) (Credential, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, cred := range c.byVenue[venueID] {
		if cred.Active {
			return cred, true
		}
	}
	return Credential{}, false
}

// All returns a copy of every cached credential, grouped by venue.
func (c *Client) All() map[model.VenueId][]Credential {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[model.VenueId][]Credential, len(c.byVenue))
	for v, creds := range c.byVenue {
		cp := make([]Credential, len(creds))
		copy(cp, creds)
		out[v] = cp
	}
	return out
}
