// Package notify delivers login codes to the claimed email address through
// the transactional mail service.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Mailer delivers a one-time login code out of band. Implementations must
// never log the code.
type Mailer interface {
	SendCode(ctx context.Context, email, code string) error
}

// Opts holds configuration for the HTTP mailer client.
type Opts struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// Option defines a configuration option for the mailer client.
type Option func(*Opts)

// WithBaseURL sets the mail service base URL.
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithAPIKey sets the bearer token for the mail service.
func WithAPIKey(k string) Option {
	return func(o *Opts) { o.APIKey = k }
}

// WithHTTPClient overrides the HTTP client (tests).
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.Client = c }
}

// Client talks to the mail service over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a mail service client.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("mail service base URL not set")
	}
	httpClient := cfg.Client
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: cfg.BaseURL, apiKey: cfg.APIKey, http: httpClient}, nil
}

// SendCode posts a login-code email job to the mail service.
func (c *Client) SendCode(ctx context.Context, email, code string) error {
	body, err := json.Marshal(map[string]string{
		"to":       email,
		"template": "login_code",
		"code":     code,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal mail request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/mail", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		slog.Error("Mailer SendCode request failed", "error", err)
		return fmt.Errorf("mail send failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Error("Mailer SendCode unexpected status", "status", resp.StatusCode)
		return fmt.Errorf("mail send returned status %d", resp.StatusCode)
	}
	slog.Info("Mailer SendCode succeeded", "to", email)
	return nil
}

// MockMailer records deliveries for tests.
type MockMailer struct {
	mu   sync.Mutex
	Sent []SentCode
	Fail error
}

// SentCode is one recorded delivery.
type SentCode struct {
	Email string
	Code  string
}

// NewMockMailer creates an empty mock mailer.
func NewMockMailer() *MockMailer {
	return &MockMailer{}
}

func (m *MockMailer) SendCode(ctx context.Context, email, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.Sent = append(m.Sent, SentCode{Email: email, Code: code})
	return nil
}
