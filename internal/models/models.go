// Package models defines the core data structures for Astra.
//
// It includes the WhatsApp authentication session model, the inbound and
// outbound message shapes shared across modules, and the error taxonomy.
package models

import (
	"errors"
	"time"
)

// AuthStage represents a point in the authentication lifecycle of a phone number.
type AuthStage string

const (
	// StageUnverified is the initial stage for any new or reset session.
	StageUnverified AuthStage = "unverified"
	// StageOTPSent indicates a one-time code has been issued and not yet checked.
	StageOTPSent AuthStage = "otp_sent"
	// StageVerified indicates the user proved control of the claimed identity.
	StageVerified AuthStage = "verified"
	// StageUploadProcessing indicates a document upload is in flight.
	StageUploadProcessing AuthStage = "upload_processing"
	// StageReady indicates the session is verified and has stored documents.
	StageReady AuthStage = "ready"
)

// IsValidAuthStage checks if the given stage is one of the closed set.
func IsValidAuthStage(s AuthStage) bool {
	switch s {
	case StageUnverified, StageOTPSent, StageVerified, StageUploadProcessing, StageReady:
		return true
	default:
		return false
	}
}

// IsVerifiedStage reports whether a stage counts as authenticated. A session
// that finished a document upload sits at ready and stays authenticated.
func IsVerifiedStage(s AuthStage) bool {
	return s == StageVerified || s == StageReady
}

// Security policy constants for the session lifecycle.
const (
	// MaxOTPAttempts is the number of failed verifications before lockout.
	MaxOTPAttempts = 5
	// OTPCooldown is the minimum interval between OTP issuances per phone.
	OTPCooldown = 60 * time.Second
	// OTPExpiry is how long an issued code remains valid.
	OTPExpiry = 10 * time.Minute
	// SessionTTL is the lifetime of a session before it lazily resets.
	// Lockouts clear on the same reset path, so this is also the lockout duration.
	SessionTTL = 24 * time.Hour
	// OTPCodeLength is the number of digits in an issued code.
	OTPCodeLength = 6
)

// Error variables for better error handling and testability
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrEmptyPhoneNumber = errors.New("phone number cannot be empty")
	ErrInvalidStage     = errors.New("invalid auth stage")
	ErrEmptyRecipient   = errors.New("recipient cannot be empty")
	ErrEmptyBody        = errors.New("message body cannot be empty")
	ErrTooManyButtons   = errors.New("outbound message exceeds button limit")
	ErrTooManyListRows  = errors.New("outbound list section exceeds row limit")
)

// Session is the per-phone authentication record. Exactly one row exists per
// phone hash; the store upserts on first contact.
type Session struct {
	PhoneHash     string     `json:"phone_hash"`
	PhoneNumber   string     `json:"phone_number"`
	Stage         AuthStage  `json:"stage"`
	IdentityRef   string     `json:"identity_ref,omitempty"`
	OTPAttempts   int        `json:"otp_attempts"`
	LastOTPSentAt *time.Time `json:"last_otp_sent_at,omitempty"`
	VerifiedAt    *time.Time `json:"verified_at,omitempty"`
	IsLocked      bool       `json:"is_locked"`
	ExpiresAt     time.Time  `json:"expires_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Expired reports whether the session TTL has passed at the given instant.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// AttemptState is the post-increment view returned by the session store so
// callers can report "N attempts remaining" without a second read.
type AttemptState struct {
	Attempts int  `json:"attempts"`
	Locked   bool `json:"locked"`
}

// MedicineAction is a patient's reply to a medicine reminder.
type MedicineAction string

const (
	MedicineTaken   MedicineAction = "taken"
	MedicineSkipped MedicineAction = "skipped"
	MedicineLater   MedicineAction = "later"
)

// MedicineResponse records one adherence reply for audit and follow-up.
type MedicineResponse struct {
	PhoneHash string         `json:"phone_hash"`
	Action    MedicineAction `json:"action"`
	Time      time.Time      `json:"time"`
}

// Interaction variants parsed from webhook payloads. The raw "type" strings
// from the gateway are resolved into this closed set at the boundary.
type InteractionKind string

const (
	InteractionButtonReply InteractionKind = "button_reply"
	InteractionListReply   InteractionKind = "list_reply"
)

// Interactive describes a button or list callback attached to a message.
type Interactive struct {
	Kind InteractionKind `json:"kind"`
	ID   string          `json:"id"`
}

// Media describes an inbound attachment. Gateway backends deliver a URL;
// the whatsmeow backend downloads the bytes directly.
type Media struct {
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Filename string `json:"filename,omitempty"`
	Data     []byte `json:"-"`
}

// IncomingMessage is a participant message normalized from any backend.
type IncomingMessage struct {
	From        string       `json:"from"`
	ProfileName string       `json:"profile_name,omitempty"`
	Body        string       `json:"body"`
	Media       *Media       `json:"media,omitempty"`
	Interactive *Interactive `json:"interactive,omitempty"`
	Time        int64        `json:"time"`
}

// Limits imposed by the messaging gateway on interactive content.
const (
	MaxButtons         = 3
	MaxListRows        = 10
	MaxMessageBodySize = 4096
)

// Button is a quick-reply option on an outbound message.
type Button struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// ListRow is one selectable row in an outbound list section.
type ListRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// ListSection groups rows under a heading in an outbound list.
type ListSection struct {
	Title string    `json:"title"`
	Rows  []ListRow `json:"rows"`
}

// OutboundMessage is what the dispatcher hands to the messaging service.
// Buttons and list sections are mutually optional; plain text is the common case.
type OutboundMessage struct {
	To       string        `json:"to"`
	Body     string        `json:"body"`
	Buttons  []Button      `json:"buttons,omitempty"`
	ListText string        `json:"list_text,omitempty"` // label on the list opener button
	Sections []ListSection `json:"sections,omitempty"`
}

// Validate checks an outbound message against gateway limits.
func (m *OutboundMessage) Validate() error {
	if m.To == "" {
		return ErrEmptyRecipient
	}
	if m.Body == "" {
		return ErrEmptyBody
	}
	if len(m.Buttons) > MaxButtons {
		return ErrTooManyButtons
	}
	for _, sec := range m.Sections {
		if len(sec.Rows) > MaxListRows {
			return ErrTooManyListRows
		}
	}
	return nil
}

// MessageStatus represents the delivery status of a message.
type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

// Receipt records a delivery status event for an outbound message.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// APIResponse is the standard JSON envelope for the HTTP API.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: "ok", Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: "error", Message: message}
}
