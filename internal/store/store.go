// Package store provides storage backends for Astra authentication sessions.
//
// It includes SQLite and PostgreSQL backed stores plus an in-memory store for
// tests. All backends share the same lazy-expiry semantics: any read path
// resets an expired session (stage, attempts, lock) before other logic runs.
package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/appayureze-cloud/astra/internal/models"
	"github.com/appayureze-cloud/astra/internal/util"
)

// Store is the session persistence contract. It is the single source of
// truth for attempt counters, lockout, and the verified check that gates
// document features.
type Store interface {
	// GetOrCreateSession normalizes the phone, loads the existing session or
	// inserts a fresh unverified one, applying the lazy expiry reset.
	GetOrCreateSession(ctx context.Context, phone string) (models.Session, error)

	// GetSession returns the current session or nil when none exists.
	// An expired session is reset before being returned.
	GetSession(ctx context.Context, phone string) (*models.Session, error)

	// UpdateStage moves the session to a new stage, optionally stamping the
	// external identity reference. Returns models.ErrSessionNotFound when no
	// row exists. It does not check the lock; callers must not use it to
	// bypass a lockout.
	UpdateStage(ctx context.Context, phone string, stage models.AuthStage, identityRef string) error

	// RecordOTPSent is the single rate-limiting gate for OTP issuance.
	// Returns false while the cooldown window is open; otherwise stamps
	// lastOtpSentAt, moves the stage to otp_sent, and returns true.
	RecordOTPSent(ctx context.Context, phone string) (bool, error)

	// IncrementOTPAttempts atomically bumps the failure counter. Crossing
	// MaxOTPAttempts locks the session and forces the stage back to
	// unverified in the same statement.
	IncrementOTPAttempts(ctx context.Context, phone string) (models.AttemptState, error)

	// ResetOTPAttempts zeroes the counter and clears the lock. Called only
	// after successful verification or an explicit administrative reset.
	ResetOTPAttempts(ctx context.Context, phone string) error

	// IsVerified reports stage in {verified, ready} AND now<expiresAt AND
	// not locked. Every feature gate in the system goes through this check.
	IsVerified(ctx context.Context, phone string) (bool, error)

	// ClearAuth clears the identity reference and returns the stage to
	// unverified, retaining the row for audit.
	ClearAuth(ctx context.Context, phone string) error

	// AddMedicineResponse records an adherence reply.
	AddMedicineResponse(ctx context.Context, r models.MedicineResponse) error

	// SetRemindersEnabled toggles reminder delivery for a phone.
	SetRemindersEnabled(ctx context.Context, phone string, enabled bool) error

	// AddReceipt records a delivery status event.
	AddReceipt(ctx context.Context, r models.Receipt) error

	// Close releases backend resources.
	Close() error
}

// Opts holds configuration for store constructors.
type Opts struct {
	DSN string
}

// Option defines a configuration option for a store.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL-style DSNs and "sqlite"
// for anything that looks like a file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}

// InMemoryStore is a mutex-guarded map store used by tests and small
// single-process deployments. The per-store mutex makes increment-and-check
// atomic, matching the SQL backends.
type InMemoryStore struct {
	mu        sync.Mutex
	sessions  map[string]*models.Session
	responses []models.MedicineResponse
	reminders map[string]bool
	receipts  []models.Receipt
	nowFn     func() time.Time
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions:  make(map[string]*models.Session),
		reminders: make(map[string]bool),
		nowFn:     time.Now,
	}
}

// SetNowFunc overrides the store clock. Tests use this to drive cooldown and
// TTL expiry without sleeping.
func (s *InMemoryStore) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

// resetIfExpired applies the lazy TTL reset. Caller holds the lock.
func (s *InMemoryStore) resetIfExpired(sess *models.Session, now time.Time) {
	if !sess.Expired(now) {
		return
	}
	sess.Stage = models.StageUnverified
	sess.OTPAttempts = 0
	sess.IsLocked = false
	sess.ExpiresAt = now.Add(models.SessionTTL)
	sess.UpdatedAt = now
}

func (s *InMemoryStore) GetOrCreateSession(ctx context.Context, phone string) (models.Session, error) {
	if strings.TrimSpace(phone) == "" {
		return models.Session{}, models.ErrEmptyPhoneNumber
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowFn()
	hash := util.HashPhone(phone)
	if sess, ok := s.sessions[hash]; ok {
		s.resetIfExpired(sess, now)
		return *sess, nil
	}
	sess := &models.Session{
		PhoneHash:   hash,
		PhoneNumber: util.NormalizePhone(phone),
		Stage:       models.StageUnverified,
		ExpiresAt:   now.Add(models.SessionTTL),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.sessions[hash] = sess
	return *sess, nil
}

func (s *InMemoryStore) GetSession(ctx context.Context, phone string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[util.HashPhone(phone)]
	if !ok {
		return nil, nil
	}
	s.resetIfExpired(sess, s.nowFn())
	out := *sess
	return &out, nil
}

func (s *InMemoryStore) UpdateStage(ctx context.Context, phone string, stage models.AuthStage, identityRef string) error {
	if !models.IsValidAuthStage(stage) {
		return models.ErrInvalidStage
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[util.HashPhone(phone)]
	if !ok {
		return models.ErrSessionNotFound
	}
	now := s.nowFn()
	sess.Stage = stage
	if identityRef != "" {
		sess.IdentityRef = identityRef
	}
	if stage == models.StageVerified {
		sess.VerifiedAt = &now
	}
	sess.UpdatedAt = now
	return nil
}

func (s *InMemoryStore) RecordOTPSent(ctx context.Context, phone string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[util.HashPhone(phone)]
	if !ok {
		return false, nil
	}
	now := s.nowFn()
	if sess.LastOTPSentAt != nil && now.Sub(*sess.LastOTPSentAt) < models.OTPCooldown {
		return false, nil
	}
	sent := now
	sess.LastOTPSentAt = &sent
	sess.Stage = models.StageOTPSent
	sess.UpdatedAt = now
	return true, nil
}

func (s *InMemoryStore) IncrementOTPAttempts(ctx context.Context, phone string) (models.AttemptState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[util.HashPhone(phone)]
	if !ok {
		return models.AttemptState{}, models.ErrSessionNotFound
	}
	sess.OTPAttempts++
	if sess.OTPAttempts >= models.MaxOTPAttempts {
		sess.IsLocked = true
		sess.Stage = models.StageUnverified
	}
	sess.UpdatedAt = s.nowFn()
	return models.AttemptState{Attempts: sess.OTPAttempts, Locked: sess.IsLocked}, nil
}

func (s *InMemoryStore) ResetOTPAttempts(ctx context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[util.HashPhone(phone)]
	if !ok {
		return models.ErrSessionNotFound
	}
	sess.OTPAttempts = 0
	sess.IsLocked = false
	sess.UpdatedAt = s.nowFn()
	return nil
}

func (s *InMemoryStore) IsVerified(ctx context.Context, phone string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[util.HashPhone(phone)]
	if !ok {
		return false, nil
	}
	now := s.nowFn()
	s.resetIfExpired(sess, now)
	return models.IsVerifiedStage(sess.Stage) && now.Before(sess.ExpiresAt) && !sess.IsLocked, nil
}

func (s *InMemoryStore) ClearAuth(ctx context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[util.HashPhone(phone)]
	if !ok {
		return models.ErrSessionNotFound
	}
	sess.Stage = models.StageUnverified
	sess.IdentityRef = ""
	sess.VerifiedAt = nil
	sess.UpdatedAt = s.nowFn()
	return nil
}

func (s *InMemoryStore) AddMedicineResponse(ctx context.Context, r models.MedicineResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, r)
	return nil
}

func (s *InMemoryStore) SetRemindersEnabled(ctx context.Context, phone string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reminders[util.HashPhone(phone)] = enabled
	return nil
}

func (s *InMemoryStore) AddReceipt(ctx context.Context, r models.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, r)
	return nil
}

// MedicineResponses returns recorded adherence replies (for tests).
func (s *InMemoryStore) MedicineResponses() []models.MedicineResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.MedicineResponse, len(s.responses))
	copy(out, s.responses)
	return out
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }
