package messaging

import (
	"context"

	"github.com/appayureze-cloud/astra/internal/models"
)

// MockService records sends and lets tests inject inbound messages.
type MockService struct {
	Messages  []models.OutboundMessage
	SendErr   error
	responses chan models.IncomingMessage
	receipts  chan models.Receipt
}

// NewMockService creates an empty mock messaging service.
func NewMockService() *MockService {
	return &MockService{
		responses: make(chan models.IncomingMessage, DefaultChannelBufferSize),
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
	}
}

func (m *MockService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

func (m *MockService) SendMessage(ctx context.Context, to string, body string) error {
	if m.SendErr != nil {
		return m.SendErr
	}
	m.Messages = append(m.Messages, models.OutboundMessage{To: to, Body: body})
	return nil
}

func (m *MockService) SendButtons(ctx context.Context, to string, body string, buttons []models.Button) error {
	if m.SendErr != nil {
		return m.SendErr
	}
	m.Messages = append(m.Messages, models.OutboundMessage{To: to, Body: body, Buttons: buttons})
	return nil
}

func (m *MockService) SendList(ctx context.Context, to string, body, listText string, sections []models.ListSection) error {
	if m.SendErr != nil {
		return m.SendErr
	}
	m.Messages = append(m.Messages, models.OutboundMessage{To: to, Body: body, ListText: listText, Sections: sections})
	return nil
}

func (m *MockService) Start(ctx context.Context) error { return nil }

func (m *MockService) Stop() error {
	close(m.responses)
	close(m.receipts)
	return nil
}

func (m *MockService) Receipts() <-chan models.Receipt { return m.receipts }

func (m *MockService) Responses() <-chan models.IncomingMessage { return m.responses }

// EmitResponse injects an inbound message, as a webhook or event would.
func (m *MockService) EmitResponse(msg models.IncomingMessage) {
	m.responses <- msg
}
