// Package messaging defines the pluggable WhatsApp delivery abstraction and
// its backends: the messaging gateway, Twilio, and a direct whatsmeow client.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/appayureze-cloud/astra/internal/models"
)

// Constants shared by service implementations.
const (
	// DefaultChannelBufferSize defines the buffer size for receipt and response channels.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the timeout for non-blocking channel sends.
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned when sending through a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service defines a pluggable message delivery abstraction. It supports
// sending text and interactive messages, and provides channels for receipt
// and inbound message events.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a
	// recipient identifier. Each backend applies its own rules.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a plain text message.
	SendMessage(ctx context.Context, to string, body string) error

	// SendButtons sends a message with up to three quick-reply buttons.
	SendButtons(ctx context.Context, to string, body string, buttons []models.Button) error

	// SendList sends a message opening an interactive list.
	SendList(ctx context.Context, to string, body, listText string, sections []models.ListSection) error

	// Start begins background processing (event polling, webhook pumps).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Receipts returns a channel of delivery status events.
	Receipts() <-chan models.Receipt

	// Responses returns a channel of inbound participant messages.
	Responses() <-chan models.IncomingMessage
}

// Send delivers one OutboundMessage through the service, picking the send
// method from the message shape. Validation happens before any network call.
func Send(ctx context.Context, svc Service, msg models.OutboundMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	switch {
	case len(msg.Sections) > 0:
		return svc.SendList(ctx, msg.To, msg.Body, msg.ListText, msg.Sections)
	case len(msg.Buttons) > 0:
		return svc.SendButtons(ctx, msg.To, msg.Body, msg.Buttons)
	default:
		return svc.SendMessage(ctx, msg.To, msg.Body)
	}
}

// canonicalizePhone strips non-digits and enforces a minimum length. Shared
// by backends that address recipients by bare phone number.
func canonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}
	return canonical, nil
}

// renderInteractiveAsText flattens buttons or list rows into a numbered text
// block for backends without native interactive support.
func renderInteractiveAsText(body string, buttons []models.Button, sections []models.ListSection) string {
	out := body
	n := 0
	for _, b := range buttons {
		n++
		out += fmt.Sprintf("\n%d. %s", n, b.Title)
	}
	for _, sec := range sections {
		if sec.Title != "" {
			out += "\n\n" + sec.Title
		}
		for _, row := range sec.Rows {
			n++
			out += fmt.Sprintf("\n%d. %s", n, row.Title)
		}
	}
	if n > 0 {
		out += "\n\nReply with the number of your choice."
	}
	return out
}
