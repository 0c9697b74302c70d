// Package identity resolves a verified claim (phone plus email) to a stable
// account reference in the external identity provider.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Claim is what a user asserted during login and proved via OTP.
type Claim struct {
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Identity is the provider's view of an account.
type Identity struct {
	Ref   string `json:"ref"`
	Email string `json:"email,omitempty"`
}

// Provider looks up or creates the account behind a verified claim.
type Provider interface {
	LookupOrCreate(ctx context.Context, claim Claim) (Identity, error)
}

// Opts holds configuration for the HTTP provider client.
type Opts struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// Option defines a configuration option for the provider client.
type Option func(*Opts)

// WithBaseURL sets the identity service base URL.
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithAPIKey sets the bearer token for the identity service.
func WithAPIKey(k string) Option {
	return func(o *Opts) { o.APIKey = k }
}

// WithHTTPClient overrides the HTTP client (tests).
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.Client = c }
}

// Client talks to the identity service over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates an identity service client.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("identity service base URL not set")
	}
	httpClient := cfg.Client
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	slog.Debug("Identity client created", "baseURL", cfg.BaseURL)
	return &Client{baseURL: cfg.BaseURL, apiKey: cfg.APIKey, http: httpClient}, nil
}

type lookupRequest struct {
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

type lookupResponse struct {
	Ref   string `json:"ref"`
	Email string `json:"email,omitempty"`
}

// LookupOrCreate resolves the claim to an account, creating one on first login.
func (c *Client) LookupOrCreate(ctx context.Context, claim Claim) (Identity, error) {
	body, err := json.Marshal(lookupRequest{Phone: claim.Phone, Email: claim.Email, Name: claim.Name})
	if err != nil {
		return Identity{}, fmt.Errorf("failed to marshal lookup request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/accounts/lookup-or-create", bytes.NewReader(body))
	if err != nil {
		return Identity{}, fmt.Errorf("failed to build lookup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Error("Identity LookupOrCreate request failed", "error", err)
		return Identity{}, fmt.Errorf("identity lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		slog.Error("Identity LookupOrCreate unexpected status", "status", resp.StatusCode)
		return Identity{}, fmt.Errorf("identity lookup returned status %d: %s", resp.StatusCode, string(data))
	}

	var out lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Identity{}, fmt.Errorf("failed to decode lookup response: %w", err)
	}
	if out.Ref == "" {
		return Identity{}, fmt.Errorf("identity lookup returned empty account ref")
	}
	slog.Debug("Identity LookupOrCreate succeeded", "ref", out.Ref)
	return Identity{Ref: out.Ref, Email: out.Email}, nil
}

// LocalProvider mints stable references locally, keyed by email when present
// and by phone otherwise. Used when no external identity service is
// configured and in tests.
type LocalProvider struct {
	mu   sync.Mutex
	refs map[string]Identity
}

// NewLocalProvider creates an empty local provider.
func NewLocalProvider() *LocalProvider {
	return &LocalProvider{refs: make(map[string]Identity)}
}

func (p *LocalProvider) LookupOrCreate(ctx context.Context, claim Claim) (Identity, error) {
	key := claim.Email
	if key == "" {
		key = claim.Phone
	}
	if key == "" {
		return Identity{}, fmt.Errorf("claim has neither email nor phone")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.refs[key]; ok {
		return id, nil
	}
	id := Identity{Ref: uuid.NewString(), Email: claim.Email}
	p.refs[key] = id
	return id, nil
}
