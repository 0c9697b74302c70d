package messaging

import (
	"context"
	"strings"
	"testing"

	"github.com/appayureze-cloud/astra/internal/models"
)

func TestCanonicalizePhone(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+1 (555) 123-4567", "15551234567", false},
		{"919876543210", "919876543210", false},
		{"", "", true},
		{"abc", "", true},
		{"12345", "", true},
	}
	for _, c := range cases {
		got, err := canonicalizePhone(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("canonicalizePhone(%q) expected error, got %q", c.in, got)
			}
			continue
		}
		if err != nil || got != c.want {
			t.Errorf("canonicalizePhone(%q) = (%q, %v), want %q", c.in, got, err, c.want)
		}
	}
}

func TestRenderInteractiveAsText(t *testing.T) {
	body := "What would you like to do?"
	out := renderInteractiveAsText(body, []models.Button{
		{ID: "view_documents", Title: "View Documents"},
		{ID: "ask_ai", Title: "Ask a Question"},
	}, nil)
	if !strings.Contains(out, "1. View Documents") || !strings.Contains(out, "2. Ask a Question") {
		t.Errorf("buttons not numbered: %q", out)
	}
	if !strings.Contains(out, "Reply with the number") {
		t.Errorf("missing reply instruction: %q", out)
	}

	out = renderInteractiveAsText(body, nil, []models.ListSection{
		{Title: "Your Documents", Rows: []models.ListRow{{ID: "doc_1", Title: "report.pdf"}}},
	})
	if !strings.Contains(out, "Your Documents") || !strings.Contains(out, "1. report.pdf") {
		t.Errorf("list not rendered: %q", out)
	}

	// Plain text passes through untouched.
	if got := renderInteractiveAsText(body, nil, nil); got != body {
		t.Errorf("plain body modified: %q", got)
	}
}

func TestSendDispatchesByShape(t *testing.T) {
	svc := NewMockService()
	ctx := context.Background()

	if err := Send(ctx, svc, models.OutboundMessage{To: "15551234567", Body: "hello"}); err != nil {
		t.Fatalf("Send text failed: %v", err)
	}
	if err := Send(ctx, svc, models.OutboundMessage{
		To: "15551234567", Body: "pick one",
		Buttons: []models.Button{{ID: "a", Title: "A"}},
	}); err != nil {
		t.Fatalf("Send buttons failed: %v", err)
	}
	if err := Send(ctx, svc, models.OutboundMessage{
		To: "15551234567", Body: "your docs", ListText: "Open",
		Sections: []models.ListSection{{Rows: []models.ListRow{{ID: "doc_1", Title: "a.pdf"}}}},
	}); err != nil {
		t.Fatalf("Send list failed: %v", err)
	}

	if len(svc.Messages) != 3 {
		t.Fatalf("expected 3 sends, got %d", len(svc.Messages))
	}
	if len(svc.Messages[1].Buttons) != 1 || len(svc.Messages[2].Sections) != 1 {
		t.Errorf("send shapes not preserved: %+v", svc.Messages)
	}
}

func TestSendValidates(t *testing.T) {
	svc := NewMockService()
	ctx := context.Background()

	if err := Send(ctx, svc, models.OutboundMessage{To: "", Body: "x"}); err != models.ErrEmptyRecipient {
		t.Errorf("expected ErrEmptyRecipient, got %v", err)
	}
	if err := Send(ctx, svc, models.OutboundMessage{To: "15551234567", Body: ""}); err != models.ErrEmptyBody {
		t.Errorf("expected ErrEmptyBody, got %v", err)
	}
	tooMany := make([]models.Button, models.MaxButtons+1)
	for i := range tooMany {
		tooMany[i] = models.Button{ID: "b", Title: "B"}
	}
	if err := Send(ctx, svc, models.OutboundMessage{To: "15551234567", Body: "x", Buttons: tooMany}); err != models.ErrTooManyButtons {
		t.Errorf("expected ErrTooManyButtons, got %v", err)
	}
	if len(svc.Messages) != 0 {
		t.Errorf("invalid messages reached the service: %+v", svc.Messages)
	}
}
