package messaging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/appayureze-cloud/astra/internal/models"
	"github.com/appayureze-cloud/astra/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// WhatsAppService implements Service using the whatsmeow-based client.
// Interactive content goes out as numbered text; inbound button and list
// replies still arrive as structured events and are surfaced as callbacks.
type WhatsAppService struct {
	client    whatsapp.WhatsAppSender
	waClient  *whatsapp.Client // full client for events and media download
	receipts  chan models.Receipt
	responses chan models.IncomingMessage
	done      chan struct{}
	mu        sync.RWMutex
	stopped   bool
}

// NewWhatsAppService creates a WhatsAppService wrapping the given sender.
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	service := &WhatsAppService{
		client:    client,
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.IncomingMessage, DefaultChannelBufferSize),
		done:      make(chan struct{}),
	}
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}
	return service
}

// ValidateAndCanonicalizeRecipient strips formatting and checks the number.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// Start begins background event processing.
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked")
	if s.waClient != nil {
		go s.handleEvents(ctx)
		slog.Debug("WhatsAppService event handler started")
	} else {
		slog.Debug("WhatsAppService no full client available, skipping event handling")
	}
	return nil
}

// Stop stops background processing. The whatsmeow event handler cannot be
// unregistered, so the channels close after a grace period and late events
// are dropped by the guarded emit helpers instead of hitting closed channels.
func (s *WhatsAppService) Stop() error {
	slog.Info("WhatsAppService Stop invoked")
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

// SendMessage sends a message and emits a sent receipt.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService SendMessage validation error", "error", err, "to", to)
		return err
	}
	if err := s.client.SendMessage(ctx, canonical, body); err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", canonical)
		return err
	}
	s.emitReceipt(models.Receipt{To: canonical, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	return nil
}

// SendButtons renders the buttons as numbered text and sends one message.
func (s *WhatsAppService) SendButtons(ctx context.Context, to string, body string, buttons []models.Button) error {
	return s.SendMessage(ctx, to, renderInteractiveAsText(body, buttons, nil))
}

// SendList renders the list rows as numbered text and sends one message.
func (s *WhatsAppService) SendList(ctx context.Context, to string, body, listText string, sections []models.ListSection) error {
	return s.SendMessage(ctx, to, renderInteractiveAsText(body, nil, sections))
}

// Receipts returns a channel of receipt events.
func (s *WhatsAppService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Responses returns a channel of inbound message events.
func (s *WhatsAppService) Responses() <-chan models.IncomingMessage {
	return s.responses
}

func (s *WhatsAppService) emitReceipt(receipt models.Receipt) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return
	}
	select {
	case s.receipts <- receipt:
		slog.Debug("WhatsAppService receipt forwarded", "to", receipt.To, "status", receipt.Status)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService receipts channel blocked, dropping receipt", "to", receipt.To)
	}
}

func (s *WhatsAppService) emitResponse(msg models.IncomingMessage) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		slog.Warn("WhatsAppService dropping inbound message (service stopped)", "from", msg.From)
		return
	}
	select {
	case s.responses <- msg:
		slog.Info("WhatsAppService incoming message forwarded", "from", msg.From, "body_length", len(msg.Body), "has_media", msg.Media != nil)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService responses channel blocked, dropping message", "from", msg.From)
	}
}

// handleEvents registers the whatsmeow event handler and runs until the
// context is cancelled.
func (s *WhatsAppService) handleEvents(ctx context.Context) {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Error("WhatsAppService handleEvents: no client available")
		return
	}

	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleIncomingMessage(ctx, v)
		case *events.Receipt:
			s.handleMessageReceipt(v)
		}
	})
	slog.Debug("WhatsAppService event handler registered")

	<-ctx.Done()
	slog.Debug("WhatsAppService handleEvents stopping due to context cancellation")
}

// handleIncomingMessage normalizes one inbound event. Documents and images
// are downloaded eagerly so the upload path receives bytes, matching what
// the gateway backends provide as URLs.
func (s *WhatsAppService) handleIncomingMessage(ctx context.Context, evt *events.Message) {
	if evt.Message == nil {
		return
	}

	msg := models.IncomingMessage{
		From:        strings.TrimPrefix(evt.Info.Sender.User, "+"),
		ProfileName: evt.Info.PushName,
		Time:        evt.Info.Timestamp.Unix(),
	}

	switch {
	case evt.Message.Conversation != nil:
		msg.Body = *evt.Message.Conversation
	case evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil:
		msg.Body = *evt.Message.ExtendedTextMessage.Text
	case evt.Message.ButtonsResponseMessage != nil:
		msg.Body = evt.Message.ButtonsResponseMessage.GetSelectedDisplayText()
		msg.Interactive = &models.Interactive{
			Kind: models.InteractionButtonReply,
			ID:   evt.Message.ButtonsResponseMessage.GetSelectedButtonID(),
		}
	case evt.Message.ListResponseMessage != nil:
		msg.Body = evt.Message.ListResponseMessage.GetTitle()
		msg.Interactive = &models.Interactive{
			Kind: models.InteractionListReply,
			ID:   evt.Message.ListResponseMessage.GetSingleSelectReply().GetSelectedRowID(),
		}
	case evt.Message.DocumentMessage != nil:
		doc := evt.Message.DocumentMessage
		data, err := s.waClient.DownloadMedia(ctx, doc)
		if err != nil {
			slog.Error("WhatsAppService document download failed", "error", err, "from", msg.From)
			return
		}
		msg.Media = &models.Media{
			MimeType: doc.GetMimetype(),
			Filename: doc.GetFileName(),
			Data:     data,
		}
	case evt.Message.ImageMessage != nil:
		img := evt.Message.ImageMessage
		data, err := s.waClient.DownloadMedia(ctx, img)
		if err != nil {
			slog.Error("WhatsAppService image download failed", "error", err, "from", msg.From)
			return
		}
		msg.Media = &models.Media{
			MimeType: img.GetMimetype(),
			Data:     data,
		}
	default:
		slog.Debug("WhatsAppService ignoring unsupported message type", "from", msg.From)
		return
	}

	s.emitResponse(msg)
}

// handleMessageReceipt processes delivery and read receipts.
func (s *WhatsAppService) handleMessageReceipt(evt *events.Receipt) {
	var status models.MessageStatus
	switch evt.Type {
	case events.ReceiptTypeDelivered:
		status = models.MessageStatusDelivered
	case events.ReceiptTypeRead:
		status = models.MessageStatusRead
	default:
		return
	}

	s.emitReceipt(models.Receipt{
		To:     evt.MessageSource.Sender.User,
		Status: status,
		Time:   evt.Timestamp.Unix(),
	})
}
