package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/appayureze-cloud/astra/internal/models"
	"github.com/appayureze-cloud/astra/internal/store"
)

func TestHealthEndpoint(t *testing.T) {
	s := NewServer(store.NewInMemoryStore())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
}

func TestSessionStatusEndpoint(t *testing.T) {
	st := store.NewInMemoryStore()
	if _, err := st.GetOrCreateSession(context.Background(), "919876543210"); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	s := NewServer(st)

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/919876543210", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Status string        `json:"status"`
		Result sessionStatus `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if resp.Result.Stage != string(models.StageUnverified) || resp.Result.Verified {
		t.Errorf("unexpected session view: %+v", resp.Result)
	}
	if resp.Result.PhoneHash == "" {
		t.Error("phone hash missing from session view")
	}
	if strings.Contains(rec.Body.String(), "919876543210") {
		t.Error("raw phone number leaked in response")
	}
}

func TestSessionStatusNotFound(t *testing.T) {
	s := NewServer(store.NewInMemoryStore())

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/15550000000", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestSessionResetEndpoint(t *testing.T) {
	st := store.NewInMemoryStore()
	ctx := context.Background()
	if _, err := st.GetOrCreateSession(ctx, "919876543210"); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	for i := 0; i < models.MaxOTPAttempts; i++ {
		if _, err := st.IncrementOTPAttempts(ctx, "919876543210"); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}
	s := NewServer(st)

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/919876543210/reset", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset status = %d", rec.Code)
	}

	sess, err := st.GetSession(ctx, "919876543210")
	if err != nil || sess == nil {
		t.Fatalf("session load failed: %v", err)
	}
	if sess.IsLocked || sess.OTPAttempts != 0 {
		t.Errorf("session not reset: %+v", sess)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/sessions/15550000000/reset", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing session reset status = %d, want 404", rec.Code)
	}
}

func TestWebhookMounting(t *testing.T) {
	called := false
	s := NewServer(store.NewInMemoryStore(), WithWhatsAppWebhook(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if !called {
		t.Error("webhook handler not invoked")
	}

	// Twilio route is absent when not configured.
	req = httptest.NewRequest(http.MethodPost, "/webhooks/twilio", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound && rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("unmounted webhook status = %d", rec.Code)
	}
}
