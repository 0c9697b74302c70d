// Package intent classifies inbound WhatsApp messages into a closed set of
// intents. Classification is pure string work: first matching rule wins, and
// the priority order is fixed so that structured signals (callbacks, media,
// codes) are never shadowed by the free-text fallback.
package intent

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/appayureze-cloud/astra/internal/models"
)

// Kind identifies what the user is asking for.
type Kind string

const (
	KindButton           Kind = "button"
	KindDocumentUpload   Kind = "document_upload"
	KindGreeting         Kind = "greeting"
	KindEmailLogin       Kind = "email_login"
	KindOTP              Kind = "otp"
	KindLogout           Kind = "logout"
	KindListDocuments    Kind = "list_documents"
	KindGetDocument      Kind = "get_document"
	KindTrackOrder       Kind = "track_order"
	KindMedicineResponse Kind = "medicine_response"
	KindStopReminders    Kind = "stop_reminders"
	KindAIQuery          Kind = "ai_query"
	KindUnknown          Kind = "unknown"
)

// Intent is the classification result. Only the fields relevant to Kind are
// populated.
type Intent struct {
	Kind       Kind
	CallbackID string
	Email      string
	Code       string
	DocIndex   int
	Action     models.MedicineAction
	Query      string
}

// Vocabulary sets, exported so copy reviews and tests see the data the
// classifier runs on. All matching happens on the lowercased trimmed text.
var (
	// GreetingTokens match exactly or as the first word of the message.
	GreetingTokens = []string{"hi", "hello", "hey", "namaste", "hii", "hlo", "start", "help"}

	LogoutPhrases = []string{"logout", "signout", "sign out", "log out"}

	ListDocsPhrases = []string{"view docs", "my docs", "documents", "view documents", "list docs"}

	TrackOrderPhrases = []string{"track order", "track my order", "order status", "where is my order", "track"}

	MedicineTakenPhrases   = []string{"taken", "✅ taken", "yes", "done"}
	MedicineSkippedPhrases = []string{"skip", "❌ skip", "skipped", "no"}
	MedicineLaterPhrases   = []string{"later", "⏰ later", "remind later", "snooze"}

	StopPhrases = []string{"stop", "cancel", "unsubscribe"}
)

var (
	emailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	otpRe   = regexp.MustCompile(`^\d{6}$`)
)

// MinAIQueryLength is the length above which unmatched text is treated as a
// question for the assistant rather than noise.
const MinAIQueryLength = 10

func matchesAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if text == p {
			return true
		}
	}
	return false
}

// isGreeting matches on the first word so "hello, I have a question" still
// greets. Trailing punctuation on the word is ignored; "history" is not "hi".
func isGreeting(text string) bool {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	first := strings.TrimRight(fields[0], ",.!?")
	for _, g := range GreetingTokens {
		if first == g {
			return true
		}
	}
	return false
}

// parseGetDocument handles "get doc N". A malformed index is not an error
// worth surfacing; it falls through to Unknown so the user gets the
// capability summary.
func parseGetDocument(text string) (int, bool) {
	if !strings.HasPrefix(text, "get doc") {
		return 0, false
	}
	fields := strings.Fields(text)
	if len(fields) != 3 {
		return 0, false
	}
	n, err := strconv.Atoi(fields[2])
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// Classify maps one inbound message to an Intent. hasMedia reports an
// attachment; callbackID carries a button or list reply id when present.
func Classify(body string, hasMedia bool, callbackID string) Intent {
	if callbackID != "" {
		return Intent{Kind: KindButton, CallbackID: callbackID}
	}
	if hasMedia {
		return Intent{Kind: KindDocumentUpload}
	}

	trimmed := strings.TrimSpace(body)
	text := strings.ToLower(trimmed)

	switch {
	case isGreeting(text):
		return Intent{Kind: KindGreeting}
	case emailRe.MatchString(trimmed):
		return Intent{Kind: KindEmailLogin, Email: trimmed}
	case otpRe.MatchString(trimmed):
		return Intent{Kind: KindOTP, Code: trimmed}
	case matchesAny(text, LogoutPhrases):
		return Intent{Kind: KindLogout}
	case matchesAny(text, ListDocsPhrases):
		return Intent{Kind: KindListDocuments}
	}

	if strings.HasPrefix(text, "get doc") {
		if n, ok := parseGetDocument(text); ok {
			return Intent{Kind: KindGetDocument, DocIndex: n}
		}
		return Intent{Kind: KindUnknown}
	}

	switch {
	case matchesAny(text, TrackOrderPhrases):
		return Intent{Kind: KindTrackOrder}
	case matchesAny(text, MedicineTakenPhrases):
		return Intent{Kind: KindMedicineResponse, Action: models.MedicineTaken}
	case matchesAny(text, MedicineSkippedPhrases):
		return Intent{Kind: KindMedicineResponse, Action: models.MedicineSkipped}
	case matchesAny(text, MedicineLaterPhrases):
		return Intent{Kind: KindMedicineResponse, Action: models.MedicineLater}
	case matchesAny(text, StopPhrases):
		return Intent{Kind: KindStopReminders}
	case len(trimmed) > MinAIQueryLength:
		return Intent{Kind: KindAIQuery, Query: trimmed}
	}
	return Intent{Kind: KindUnknown}
}
