package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/appayureze-cloud/astra/internal/models"
	"github.com/appayureze-cloud/astra/internal/whatsapp"
)

func TestWhatsAppServiceSendEmitsReceipt(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())

	if err := svc.SendMessage(context.Background(), "+1 (555) 123-4567", "hello"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	select {
	case r := <-svc.Receipts():
		if r.Status != models.MessageStatusSent || r.To != "15551234567" {
			t.Errorf("unexpected receipt: %+v", r)
		}
	default:
		t.Error("no receipt emitted")
	}
}

func TestWhatsAppServiceInteractiveRendersAsText(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	ctx := context.Background()

	if err := svc.SendButtons(ctx, "15551234567", "pick one", []models.Button{{ID: "a", Title: "A"}}); err != nil {
		t.Fatalf("SendButtons failed: %v", err)
	}
	if err := svc.SendList(ctx, "15551234567", "your docs", "Open", []models.ListSection{
		{Rows: []models.ListRow{{ID: "doc_1", Title: "a.pdf"}}},
	}); err != nil {
		t.Fatalf("SendList failed: %v", err)
	}
}

func TestWhatsAppServiceStopDropsLateEvents(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())

	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	// Events arriving after Stop are dropped, never sent on closed channels.
	svc.emitReceipt(models.Receipt{To: "15551234567", Status: models.MessageStatusDelivered, Time: time.Now().Unix()})
	svc.emitResponse(models.IncomingMessage{From: "15551234567", Body: "late"})

	// Stop is idempotent.
	if err := svc.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
}
