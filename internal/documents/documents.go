// Package documents talks to the object-storage service that holds user
// health records. Listing, short-lived download links, and uploads all go
// through the Storage interface so the dispatcher can be tested without the
// service.
package documents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DownloadURLTTL is how long generated download links stay valid.
const DownloadURLTTL = 24 * time.Hour

// Document describes one stored file.
type Document struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	MimeType   string    `json:"mime_type,omitempty"`
	Size       int64     `json:"size,omitempty"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Upload is an inbound file to store.
type Upload struct {
	Name     string
	MimeType string
	Data     []byte
}

// Storage is the document service contract. ownerRef is the identity
// reference stamped on the session at verification.
type Storage interface {
	ListDocuments(ctx context.Context, ownerRef string) ([]Document, error)
	GetDownloadURL(ctx context.Context, ownerRef, docID string) (string, error)
	SaveDocument(ctx context.Context, ownerRef string, up Upload) (Document, error)
}

// Opts holds configuration for the HTTP storage client.
type Opts struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// Option defines a configuration option for the storage client.
type Option func(*Opts)

// WithBaseURL sets the document service base URL.
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithAPIKey sets the bearer token for the document service.
func WithAPIKey(k string) Option {
	return func(o *Opts) { o.APIKey = k }
}

// WithHTTPClient overrides the HTTP client (tests).
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.Client = c }
}

// Client talks to the document service over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a document service client.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("document service base URL not set")
	}
	httpClient := cfg.Client
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	slog.Debug("Documents client created", "baseURL", cfg.BaseURL)
	return &Client{baseURL: cfg.BaseURL, apiKey: cfg.APIKey, http: httpClient}, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return c.http.Do(req)
}

func (c *Client) ListDocuments(ctx context.Context, ownerRef string) ([]Document, error) {
	u := fmt.Sprintf("%s/v1/owners/%s/documents", c.baseURL, url.PathEscape(ownerRef))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build list request: %w", err)
	}
	resp, err := c.do(req)
	if err != nil {
		slog.Error("Documents ListDocuments request failed", "error", err)
		return nil, fmt.Errorf("document list failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		slog.Error("Documents ListDocuments unexpected status", "status", resp.StatusCode)
		return nil, fmt.Errorf("document list returned status %d", resp.StatusCode)
	}
	var out struct {
		Documents []Document `json:"documents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode document list: %w", err)
	}
	slog.Debug("Documents ListDocuments succeeded", "count", len(out.Documents))
	return out.Documents, nil
}

func (c *Client) GetDownloadURL(ctx context.Context, ownerRef, docID string) (string, error) {
	u := fmt.Sprintf("%s/v1/owners/%s/documents/%s/url?ttl=%d",
		c.baseURL, url.PathEscape(ownerRef), url.PathEscape(docID), int(DownloadURLTTL.Seconds()))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build url request: %w", err)
	}
	resp, err := c.do(req)
	if err != nil {
		slog.Error("Documents GetDownloadURL request failed", "error", err)
		return "", fmt.Errorf("download url failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		slog.Error("Documents GetDownloadURL unexpected status", "status", resp.StatusCode)
		return "", fmt.Errorf("download url returned status %d", resp.StatusCode)
	}
	var out struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode download url: %w", err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("document service returned empty url")
	}
	return out.URL, nil
}

func (c *Client) SaveDocument(ctx context.Context, ownerRef string, up Upload) (Document, error) {
	meta, err := json.Marshal(map[string]string{"name": up.Name, "mime_type": up.MimeType})
	if err != nil {
		return Document{}, fmt.Errorf("failed to marshal upload metadata: %w", err)
	}
	u := fmt.Sprintf("%s/v1/owners/%s/documents", c.baseURL, url.PathEscape(ownerRef))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(up.Data))
	if err != nil {
		return Document{}, fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", up.MimeType)
	req.Header.Set("X-Document-Meta", string(meta))
	resp, err := c.do(req)
	if err != nil {
		slog.Error("Documents SaveDocument request failed", "error", err)
		return Document{}, fmt.Errorf("document upload failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		slog.Error("Documents SaveDocument unexpected status", "status", resp.StatusCode)
		return Document{}, fmt.Errorf("document upload returned status %d: %s", resp.StatusCode, string(data))
	}
	var doc Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("failed to decode upload response: %w", err)
	}
	slog.Debug("Documents SaveDocument succeeded", "id", doc.ID, "name", doc.Name)
	return doc, nil
}

// InMemoryStorage keeps documents in a map for tests and local development.
type InMemoryStorage struct {
	mu   sync.Mutex
	docs map[string][]Document
}

// NewInMemoryStorage creates an empty in-memory document store.
func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{docs: make(map[string][]Document)}
}

func (s *InMemoryStorage) ListDocuments(ctx context.Context, ownerRef string) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Document, len(s.docs[ownerRef]))
	copy(out, s.docs[ownerRef])
	return out, nil
}

func (s *InMemoryStorage) GetDownloadURL(ctx context.Context, ownerRef, docID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.docs[ownerRef] {
		if d.ID == docID {
			return "https://storage.local/" + ownerRef + "/" + docID, nil
		}
	}
	return "", fmt.Errorf("document %s not found", docID)
}

func (s *InMemoryStorage) SaveDocument(ctx context.Context, ownerRef string, up Upload) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := Document{
		ID:         uuid.NewString(),
		Name:       up.Name,
		MimeType:   up.MimeType,
		Size:       int64(len(up.Data)),
		UploadedAt: time.Now().UTC(),
	}
	s.docs[ownerRef] = append(s.docs[ownerRef], doc)
	return doc, nil
}
