// Package auth implements OTP issuance and verification for WhatsApp login.
//
// Codes are short-lived challenges held outside the session store: the
// session row tracks attempts and lockout, the challenge store tracks the
// secret itself. Losing a challenge (restart, TTL) costs the user a resend,
// never their attempt budget.
package auth

import (
	"context"
	"sync"
	"time"
)

// Challenge is an issued one-time code bound to a login claim.
type Challenge struct {
	Code      string    `json:"code"`
	Claim     string    `json:"claim,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ChallengeStore holds pending challenges keyed by phone hash.
type ChallengeStore interface {
	// Put stores or replaces the pending challenge for a phone hash.
	Put(ctx context.Context, phoneHash string, ch Challenge) error
	// Get returns the pending challenge, or nil when none exists.
	// Backends may drop expired entries; callers must not distinguish
	// expired from never-issued through this method alone.
	Get(ctx context.Context, phoneHash string) (*Challenge, error)
	// Delete removes the pending challenge, if any.
	Delete(ctx context.Context, phoneHash string) error
}

// InMemoryChallengeStore keeps challenges in a map. Suitable for a single
// process and for tests.
type InMemoryChallengeStore struct {
	mu         sync.Mutex
	challenges map[string]Challenge
	nowFn      func() time.Time
}

// NewInMemoryChallengeStore creates an empty in-memory challenge store.
func NewInMemoryChallengeStore() *InMemoryChallengeStore {
	return &InMemoryChallengeStore{
		challenges: make(map[string]Challenge),
		nowFn:      time.Now,
	}
}

// SetNowFunc overrides the store clock for tests.
func (s *InMemoryChallengeStore) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

func (s *InMemoryChallengeStore) Put(ctx context.Context, phoneHash string, ch Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[phoneHash] = ch
	return nil
}

func (s *InMemoryChallengeStore) Get(ctx context.Context, phoneHash string) (*Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[phoneHash]
	if !ok {
		return nil, nil
	}
	if s.nowFn().After(ch.ExpiresAt) {
		delete(s.challenges, phoneHash)
		return nil, nil
	}
	out := ch
	return &out, nil
}

func (s *InMemoryChallengeStore) Delete(ctx context.Context, phoneHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.challenges, phoneHash)
	return nil
}
