package conversation

import (
	"fmt"
	"time"

	"github.com/appayureze-cloud/astra/internal/models"
)

// User-facing copy. Everything the assistant says lives here so the wording
// can be reviewed in one place.
const (
	welcomeNewText = "Namaste! 🙏 I'm Astra, your Ayurvedic wellness companion.\n\n" +
		"I can answer wellness questions, track your orders, and keep your health documents safe.\n\n" +
		"To get started, send your email address to log in, or just ask me a question."

	welcomeBackText = "Welcome back! 🙏 How can I help you today?"

	verifyPromptText = "That feature needs a verified account. Send your email address and I'll email you a 6-digit code to log in."

	otpSentTemplate = "I've emailed a 6-digit code to %s. Reply here with the code to verify. It expires in %d minutes."

	otpInvalidTemplate = "That code doesn't match. You have %d attempt(s) left before your account is locked."

	otpExpiredText = "That code has expired. Send your email address again and I'll issue a fresh one."

	otpCooldownTemplate = "Please wait %d seconds before requesting another code."

	otpLockedTemplate = "Too many failed attempts. Your account is locked for about %d minute(s). Please try again later."

	otpNoSessionText = "There's no login in progress. Send your email address to get started."

	verifiedText = "You're verified! 🎉 Your documents and orders are now available."

	alreadyVerifiedText = "You're already logged in. How can I help?"

	loggedOutText = "You've been logged out. Send your email address whenever you want to log back in."

	medicineTakenText   = "Great job! ✅ I've marked this dose as taken."
	medicineSkippedText = "Noted. ⏭️ I've marked this dose as skipped. If you're unsure about a missed dose, check with your practitioner."
	medicineLaterText   = "Okay! ⏰ I'll remind you again in a little while."

	remindersStoppedText = "You won't receive any more reminders. Reply \"start\" anytime to hear from me again."

	trackOrderFallbackText = "Order tracking is being set up for your account. Please check back soon, or reach out to support for an update."

	noDocumentsText = "You don't have any documents yet. Send me a PDF or a photo and I'll store it securely."

	uploadSavedTemplate = "Your document %q is saved. 📄 Say \"view docs\" anytime to see your files."

	genericErrorText = "Sorry, something went wrong on my side. Please try again in a moment."

	unknownText = "I didn't quite catch that. Here's what I can do:\n\n" +
		"• Ask me any wellness question\n" +
		"• \"view docs\" to see your documents\n" +
		"• \"track order\" to check an order\n" +
		"• Send your email address to log in\n" +
		"• \"stop\" to pause reminders"
)

// Callback ids attached to quick-action buttons. Inbound button and list
// replies carry these back.
const (
	callbackViewDocuments = "view_documents"
	callbackAskAI         = "ask_ai"
	callbackTrackOrder    = "track_order"
	callbackTaken         = "taken"
	callbackSkip          = "skip"
	callbackLater         = "later"
	docCallbackPrefix     = "doc_"
)

const askAIPromptText = "Sure! What would you like to know? Ask me anything about Ayurveda and wellness."

func quickActionButtons() []models.Button {
	return []models.Button{
		{ID: callbackViewDocuments, Title: "View Documents"},
		{ID: callbackAskAI, Title: "Ask a Question"},
		{ID: callbackTrackOrder, Title: "Track Order"},
	}
}

func otpSentMessage(to, email string, expiresAt time.Time) models.OutboundMessage {
	minutes := int(time.Until(expiresAt).Round(time.Minute).Minutes())
	if minutes < 1 {
		minutes = 1
	}
	return text(to, fmt.Sprintf(otpSentTemplate, email, minutes))
}

func lockedMessage(to string, retryAfter time.Duration) models.OutboundMessage {
	minutes := int(retryAfter.Minutes())
	if minutes < 1 {
		minutes = 1
	}
	return text(to, fmt.Sprintf(otpLockedTemplate, minutes))
}

func text(to, body string) models.OutboundMessage {
	return models.OutboundMessage{To: to, Body: body}
}
