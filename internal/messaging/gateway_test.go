package messaging

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/appayureze-cloud/astra/internal/models"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) (*GatewayService, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	svc, err := NewGatewayService(WithGatewayBaseURL(srv.URL), WithGatewayAPIKey("test-key"))
	if err != nil {
		t.Fatalf("NewGatewayService failed: %v", err)
	}
	return svc, srv
}

func TestGatewaySendMessage(t *testing.T) {
	var got gatewaySendRequest
	svc, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer token")
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	})

	if err := svc.SendMessage(t.Context(), "+1 (555) 123-4567", "hello"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if got.To != "15551234567" || got.Body != "hello" {
		t.Errorf("unexpected payload: %+v", got)
	}

	// A sent receipt is emitted.
	select {
	case r := <-svc.Receipts():
		if r.Status != models.MessageStatusSent || r.To != "15551234567" {
			t.Errorf("unexpected receipt: %+v", r)
		}
	default:
		t.Error("no receipt emitted")
	}
}

func TestGatewaySendMessageServerError(t *testing.T) {
	svc, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	if err := svc.SendMessage(t.Context(), "15551234567", "hello"); err == nil {
		t.Error("expected error on 500 response")
	}
}

func TestGatewaySendButtonsLimit(t *testing.T) {
	svc, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	tooMany := make([]models.Button, models.MaxButtons+1)
	for i := range tooMany {
		tooMany[i] = models.Button{ID: "b", Title: "B"}
	}
	if err := svc.SendButtons(t.Context(), "15551234567", "pick", tooMany); err != models.ErrTooManyButtons {
		t.Errorf("expected ErrTooManyButtons, got %v", err)
	}
}

func TestGatewayWebhookParsesMessage(t *testing.T) {
	svc, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {})

	payload := `{
		"contact": {"phone_number": "919876543210", "first_name": "Asha"},
		"message": {"is_new_message": true, "body": "hello"}
	}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	svc.WebhookHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook status = %d", rec.Code)
	}

	select {
	case msg := <-svc.Responses():
		if msg.From != "919876543210" || msg.Body != "hello" || msg.ProfileName != "Asha" {
			t.Errorf("unexpected message: %+v", msg)
		}
	default:
		t.Fatal("no message emitted")
	}
}

func TestGatewayWebhookParsesInteractiveAndMedia(t *testing.T) {
	svc, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {})

	payload := `{
		"contact": {"phone_number": "919876543210"},
		"message": {
			"is_new_message": true,
			"body": "",
			"media": {"url": "https://cdn.example/file.pdf", "mime_type": "application/pdf", "filename": "report.pdf"},
			"interactive": {"type": "list_reply", "list_reply": {"id": "doc_2"}}
		}
	}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	svc.WebhookHandler(rec, req)

	msg := <-svc.Responses()
	if msg.Media == nil || msg.Media.Filename != "report.pdf" {
		t.Errorf("media not parsed: %+v", msg.Media)
	}
	if msg.Interactive == nil || msg.Interactive.Kind != models.InteractionListReply || msg.Interactive.ID != "doc_2" {
		t.Errorf("interactive not parsed: %+v", msg.Interactive)
	}
}

func TestGatewayWebhookIgnoresReplays(t *testing.T) {
	svc, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {})

	payload := `{"contact": {"phone_number": "919876543210"}, "message": {"is_new_message": false, "body": "old"}}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	svc.WebhookHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook status = %d", rec.Code)
	}
	select {
	case msg := <-svc.Responses():
		t.Errorf("replayed message emitted: %+v", msg)
	default:
	}
}

func TestGatewayWebhookRejectsBadPayloads(t *testing.T) {
	svc, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {})

	for _, body := range []string{"not json", `{"message": {"is_new_message": true, "body": "x"}}`} {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(body))
		rec := httptest.NewRecorder()
		svc.WebhookHandler(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("payload %q: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestTwilioWebhookParsesForm(t *testing.T) {
	svc := NewTwilioService(nil)

	form := url.Values{}
	form.Set("From", "whatsapp:+919876543210")
	form.Set("Body", "hello")
	form.Set("ProfileName", "Asha")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	svc.WebhookHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook status = %d", rec.Code)
	}

	msg := <-svc.Responses()
	if msg.From != "+919876543210" || msg.Body != "hello" {
		t.Errorf("unexpected message: %+v", msg)
	}
}
