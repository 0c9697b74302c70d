package intent

import (
	"testing"

	"github.com/appayureze-cloud/astra/internal/models"
)

func TestClassifyPriorityOrder(t *testing.T) {
	// A callback id wins over everything, media over any text.
	got := Classify("hello", true, "view_documents")
	if got.Kind != KindButton || got.CallbackID != "view_documents" {
		t.Errorf("callback message classified as %+v", got)
	}
	if got := Classify("hello", true, ""); got.Kind != KindDocumentUpload {
		t.Errorf("media message classified as %+v", got)
	}
	// A greeting that happens to be long stays a greeting, not an AI query.
	if got := Classify("hello, I have a question about my diet", false, ""); got.Kind != KindGreeting {
		t.Errorf("long greeting classified as %+v", got)
	}
}

func TestClassifyText(t *testing.T) {
	cases := []struct {
		name string
		body string
		want Intent
	}{
		{"greeting exact", "Hi", Intent{Kind: KindGreeting}},
		{"greeting hinglish", "hlo", Intent{Kind: KindGreeting}},
		{"greeting prefix word", "namaste ji", Intent{Kind: KindGreeting}},
		{"greeting with comma", "hello, doctor", Intent{Kind: KindGreeting}},
		{"greeting with bang", "hey! anyone there?", Intent{Kind: KindGreeting}},
		{"greeting not substring", "history", Intent{Kind: KindUnknown}},
		{"greeting not substring long", "historically ayurveda used many herbs", Intent{Kind: KindAIQuery, Query: "historically ayurveda used many herbs"}},
		{"email", "user@example.com", Intent{Kind: KindEmailLogin, Email: "user@example.com"}},
		{"email padded", "  User.Name+tag@sub.example.co  ", Intent{Kind: KindEmailLogin, Email: "User.Name+tag@sub.example.co"}},
		{"email invalid tld falls to ai", "user@example.c", Intent{Kind: KindAIQuery, Query: "user@example.c"}},
		{"otp", "123456", Intent{Kind: KindOTP, Code: "123456"}},
		{"otp too short", "12345", Intent{Kind: KindUnknown}},
		{"otp too long", "1234567", Intent{Kind: KindUnknown}},
		{"logout", "Log Out", Intent{Kind: KindLogout}},
		{"signout", "signout", Intent{Kind: KindLogout}},
		{"list docs", "view docs", Intent{Kind: KindListDocuments}},
		{"list docs alias", "My Docs", Intent{Kind: KindListDocuments}},
		{"get doc", "get doc 3", Intent{Kind: KindGetDocument, DocIndex: 3}},
		{"get doc malformed", "get doc three", Intent{Kind: KindUnknown}},
		{"get doc missing index", "get doc", Intent{Kind: KindUnknown}},
		{"get doc zero", "get doc 0", Intent{Kind: KindUnknown}},
		{"track order", "where is my order", Intent{Kind: KindTrackOrder}},
		{"track short", "track", Intent{Kind: KindTrackOrder}},
		{"medicine taken", "Taken", Intent{Kind: KindMedicineResponse, Action: models.MedicineTaken}},
		{"medicine taken emoji", "✅ taken", Intent{Kind: KindMedicineResponse, Action: models.MedicineTaken}},
		{"medicine skipped", "no", Intent{Kind: KindMedicineResponse, Action: models.MedicineSkipped}},
		{"medicine later", "remind later", Intent{Kind: KindMedicineResponse, Action: models.MedicineLater}},
		{"stop", "STOP", Intent{Kind: KindStopReminders}},
		{"unsubscribe", "unsubscribe", Intent{Kind: KindStopReminders}},
		{"ai query", "what herbs help with digestion?", Intent{Kind: KindAIQuery, Query: "what herbs help with digestion?"}},
		{"short noise", "ok thanks", Intent{Kind: KindUnknown}},
		{"empty", "   ", Intent{Kind: KindUnknown}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Classify(c.body, false, "")
			if got != c.want {
				t.Errorf("Classify(%q) = %+v, want %+v", c.body, got, c.want)
			}
		})
	}
}

func TestClassifyYesIsMedicineNotAI(t *testing.T) {
	// Bare confirmations belong to the reminder flow even though they are
	// common words.
	got := Classify("yes", false, "")
	if got.Kind != KindMedicineResponse || got.Action != models.MedicineTaken {
		t.Errorf("Classify(yes) = %+v", got)
	}
}
