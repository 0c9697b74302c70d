package messaging

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

	"github.com/appayureze-cloud/astra/internal/models"
)

// GatewayOpts holds configuration for the messaging gateway client.
type GatewayOpts struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// GatewayOption defines a configuration option for the gateway service.
type GatewayOption func(*GatewayOpts)

// WithGatewayBaseURL sets the gateway base URL.
func WithGatewayBaseURL(u string) GatewayOption {
	return func(o *GatewayOpts) { o.BaseURL = u }
}

// WithGatewayAPIKey sets the gateway bearer token.
func WithGatewayAPIKey(k string) GatewayOption {
	return func(o *GatewayOpts) { o.APIKey = k }
}

// WithGatewayHTTPClient overrides the HTTP client (tests).
func WithGatewayHTTPClient(c *http.Client) GatewayOption {
	return func(o *GatewayOpts) { o.Client = c }
}

// GatewayService implements Service against the WhatsApp messaging gateway's
// REST API. Inbound traffic arrives on its webhook handler.
type GatewayService struct {
	baseURL   string
	apiKey    string
	http      *http.Client
	receipts  chan models.Receipt
	responses chan models.IncomingMessage
	done      chan struct{}
	mu        sync.RWMutex
	stopped   bool
}

// NewGatewayService creates a gateway-backed messaging service.
func NewGatewayService(opts ...GatewayOption) (*GatewayService, error) {
	var cfg GatewayOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("gateway base URL not set")
	}
	httpClient := cfg.Client
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	slog.Debug("GatewayService created", "baseURL", cfg.BaseURL)
	return &GatewayService{
		baseURL:   cfg.BaseURL,
		apiKey:    cfg.APIKey,
		http:      httpClient,
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.IncomingMessage, DefaultChannelBufferSize),
		done:      make(chan struct{}),
	}, nil
}

// ValidateAndCanonicalizeRecipient strips formatting and checks the number.
func (s *GatewayService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// Start is a no-op; inbound traffic arrives via the webhook handler.
func (s *GatewayService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service.
func (s *GatewayService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(s.receipts)
		close(s.responses)
	}()
	return nil
}

type gatewayButton struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type gatewayListRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type gatewayListSection struct {
	Title string           `json:"title,omitempty"`
	Rows  []gatewayListRow `json:"rows"`
}

type gatewaySendRequest struct {
	To      string          `json:"to"`
	Body    string          `json:"body"`
	Buttons []gatewayButton `json:"buttons,omitempty"`
	List    *struct {
		Button   string               `json:"button"`
		Sections []gatewayListSection `json:"sections"`
	} `json:"list,omitempty"`
}

func (s *GatewayService) post(ctx context.Context, payload gatewaySendRequest) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal send request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/messages", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		slog.Error("GatewayService send request failed", "error", err, "to", payload.To)
		return fmt.Errorf("gateway send failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		slog.Error("GatewayService send unexpected status", "status", resp.StatusCode, "to", payload.To)
		return fmt.Errorf("gateway send returned status %d: %s", resp.StatusCode, string(body))
	}
	s.safeEmitReceipt(models.Receipt{To: payload.To, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	return nil
}

// SendMessage sends a plain text message through the gateway.
func (s *GatewayService) SendMessage(ctx context.Context, to string, body string) error {
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("GatewayService SendMessage validation error", "error", err, "to", to)
		return err
	}
	if err := s.post(ctx, gatewaySendRequest{To: canonical, Body: body}); err != nil {
		return err
	}
	slog.Info("GatewayService message sent", "to", canonical, "body_length", len(body))
	return nil
}

// SendButtons sends a message with quick-reply buttons.
func (s *GatewayService) SendButtons(ctx context.Context, to string, body string, buttons []models.Button) error {
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	if len(buttons) > models.MaxButtons {
		return models.ErrTooManyButtons
	}
	req := gatewaySendRequest{To: canonical, Body: body}
	for _, b := range buttons {
		req.Buttons = append(req.Buttons, gatewayButton{ID: b.ID, Title: b.Title})
	}
	if err := s.post(ctx, req); err != nil {
		return err
	}
	slog.Info("GatewayService buttons sent", "to", canonical, "buttons", len(buttons))
	return nil
}

// SendList sends a message opening an interactive list.
func (s *GatewayService) SendList(ctx context.Context, to string, body, listText string, sections []models.ListSection) error {
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	req := gatewaySendRequest{To: canonical, Body: body}
	req.List = &struct {
		Button   string               `json:"button"`
		Sections []gatewayListSection `json:"sections"`
	}{Button: listText}
	for _, sec := range sections {
		if len(sec.Rows) > models.MaxListRows {
			return models.ErrTooManyListRows
		}
		gs := gatewayListSection{Title: sec.Title}
		for _, row := range sec.Rows {
			gs.Rows = append(gs.Rows, gatewayListRow{ID: row.ID, Title: row.Title, Description: row.Description})
		}
		req.List.Sections = append(req.List.Sections, gs)
	}
	if err := s.post(ctx, req); err != nil {
		return err
	}
	slog.Info("GatewayService list sent", "to", canonical, "sections", len(sections))
	return nil
}

// Receipts returns the channel of delivery status events.
func (s *GatewayService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Responses returns the channel of inbound messages.
func (s *GatewayService) Responses() <-chan models.IncomingMessage {
	return s.responses
}

// webhookPayload mirrors the gateway's inbound webhook body. Optionals are
// pointers so a missing block is distinguishable from an empty one.
type webhookPayload struct {
	Contact struct {
		PhoneNumber string `json:"phone_number"`
		FirstName   string `json:"first_name"`
	} `json:"contact"`
	Message struct {
		IsNewMessage bool   `json:"is_new_message"`
		Body         string `json:"body"`
		Media        *struct {
			URL      string `json:"url"`
			MimeType string `json:"mime_type"`
			Filename string `json:"filename"`
		} `json:"media"`
		Interactive *struct {
			Type        string `json:"type"`
			ButtonReply *struct {
				ID string `json:"id"`
			} `json:"button_reply"`
			ListReply *struct {
				ID string `json:"id"`
			} `json:"list_reply"`
		} `json:"interactive"`
	} `json:"message"`
}

// WebhookHandler accepts inbound gateway webhooks and emits them on the
// Responses channel. The raw interactive "type" strings are resolved into
// the closed variant set here, at the boundary.
func (s *GatewayService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		slog.Error("GatewayService webhook decode failed", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if payload.Contact.PhoneNumber == "" {
		slog.Warn("GatewayService webhook missing phone number")
		http.Error(w, "missing phone number", http.StatusBadRequest)
		return
	}
	if !payload.Message.IsNewMessage {
		// Status callbacks and edits replay through the same hook; only
		// fresh messages enter the conversation.
		w.WriteHeader(http.StatusOK)
		return
	}

	msg := models.IncomingMessage{
		From:        payload.Contact.PhoneNumber,
		ProfileName: payload.Contact.FirstName,
		Body:        payload.Message.Body,
		Time:        time.Now().Unix(),
	}
	if m := payload.Message.Media; m != nil && m.URL != "" {
		msg.Media = &models.Media{URL: m.URL, MimeType: m.MimeType, Filename: m.Filename}
	}
	if iv := payload.Message.Interactive; iv != nil {
		switch {
		case iv.ButtonReply != nil && iv.ButtonReply.ID != "":
			msg.Interactive = &models.Interactive{Kind: models.InteractionButtonReply, ID: iv.ButtonReply.ID}
		case iv.ListReply != nil && iv.ListReply.ID != "":
			msg.Interactive = &models.Interactive{Kind: models.InteractionListReply, ID: iv.ListReply.ID}
		default:
			slog.Debug("GatewayService webhook interactive block without reply id", "type", iv.Type)
		}
	}

	s.safeEmitResponse(msg)
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (s *GatewayService) safeEmitReceipt(receipt models.Receipt) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return
	}
	select {
	case s.receipts <- receipt:
	case <-time.After(DefaultChannelTimeout):
	}
}

func (s *GatewayService) safeEmitResponse(msg models.IncomingMessage) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		slog.Warn("GatewayService dropping inbound message (service stopped)", "from", msg.From)
		return
	}
	select {
	case s.responses <- msg:
		slog.Debug("GatewayService emitted inbound message", "from", msg.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("GatewayService responses channel blocked, dropping message", "from", msg.From)
	}
}
