package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/appayureze-cloud/astra/internal/identity"
	"github.com/appayureze-cloud/astra/internal/models"
	"github.com/appayureze-cloud/astra/internal/store"
	"github.com/appayureze-cloud/astra/internal/util"
)

// Outcome classifies the result of an issue or verify call.
type Outcome string

const (
	// OutcomeSent means a fresh code was issued; Result.Code carries it for delivery.
	OutcomeSent Outcome = "sent"
	// OutcomeVerified means the code matched and the session is now verified.
	OutcomeVerified Outcome = "verified"
	// OutcomeAlreadyVerified means the session was verified before the call.
	OutcomeAlreadyVerified Outcome = "already_verified"
	// OutcomeInvalid means the code did not match; Result.AttemptsLeft is set.
	OutcomeInvalid Outcome = "invalid"
	// OutcomeExpired means the challenge lapsed; the user must request a new code.
	OutcomeExpired Outcome = "expired"
	// OutcomeLocked means the attempt budget is exhausted; Result.RetryAfter is set.
	OutcomeLocked Outcome = "locked"
	// OutcomeCooldown means issuance was rate limited; Result.RetryAfter is set.
	OutcomeCooldown Outcome = "cooldown"
	// OutcomeNoSession means no login is in progress for this phone.
	OutcomeNoSession Outcome = "no_session"
)

// Result is the caller-facing view of an issue or verify call. Code is only
// populated on OutcomeSent, together with its expiry, and must be delivered
// out of band, never logged.
type Result struct {
	Outcome      Outcome
	Code         string
	Claim        string
	ExpiresAt    time.Time
	AttemptsLeft int
	RetryAfter   time.Duration
	Identity     *identity.Identity
}

// Verifier drives the OTP login state machine. Attempt counting and lockout
// live in the session store; the secret lives in the challenge store.
type Verifier struct {
	store      store.Store
	challenges ChallengeStore
	provider   identity.Provider
	nowFn      func() time.Time
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithNowFunc overrides the verifier clock for tests.
func WithNowFunc(fn func() time.Time) VerifierOption {
	return func(v *Verifier) { v.nowFn = fn }
}

// NewVerifier creates a Verifier over the given collaborators.
func NewVerifier(st store.Store, ch ChallengeStore, provider identity.Provider, opts ...VerifierOption) *Verifier {
	v := &Verifier{store: st, challenges: ch, provider: provider, nowFn: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// generateCode produces a 6-digit code from crypto/rand. Leading zeros are
// preserved, so the space is the full 000000-999999.
func generateCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < models.OTPCodeLength; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", models.OTPCodeLength, n), nil
}

// Issue starts or restarts a login for phone, claiming the given email.
// On OutcomeSent the returned code must be delivered to the claimed contact.
func (v *Verifier) Issue(ctx context.Context, phone, claim string) (Result, error) {
	sess, err := v.store.GetOrCreateSession(ctx, phone)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load session: %w", err)
	}
	now := v.nowFn()

	if sess.IsLocked {
		retry := sess.ExpiresAt.Sub(now)
		slog.Info("Verifier Issue refused, session locked", "phoneHash", sess.PhoneHash)
		return Result{Outcome: OutcomeLocked, RetryAfter: retry}, nil
	}

	if models.IsVerifiedStage(sess.Stage) && now.Before(sess.ExpiresAt) {
		slog.Debug("Verifier Issue no-op, already verified", "phoneHash", sess.PhoneHash)
		return Result{Outcome: OutcomeAlreadyVerified}, nil
	}

	allowed, err := v.store.RecordOTPSent(ctx, phone)
	if err != nil {
		return Result{}, fmt.Errorf("failed to record otp issuance: %w", err)
	}
	if !allowed {
		retry := models.OTPCooldown
		if sess.LastOTPSentAt != nil {
			retry = models.OTPCooldown - now.Sub(*sess.LastOTPSentAt)
		}
		if retry < 0 {
			retry = 0
		}
		slog.Info("Verifier Issue rate limited", "phoneHash", sess.PhoneHash)
		return Result{Outcome: OutcomeCooldown, RetryAfter: retry}, nil
	}

	code, err := generateCode()
	if err != nil {
		return Result{}, err
	}
	expiry := now.Add(models.OTPExpiry)
	if err := v.challenges.Put(ctx, sess.PhoneHash, Challenge{Code: code, Claim: claim, ExpiresAt: expiry}); err != nil {
		return Result{}, fmt.Errorf("failed to store challenge: %w", err)
	}
	slog.Info("Verifier Issue succeeded", "phoneHash", sess.PhoneHash, "expiresAt", expiry)
	return Result{Outcome: OutcomeSent, Code: code, Claim: claim, ExpiresAt: expiry}, nil
}

// Verify checks a submitted code against the pending challenge. Comparison is
// exact string equality after trimming whitespace.
func (v *Verifier) Verify(ctx context.Context, phone, code string) (Result, error) {
	sess, err := v.store.GetSession(ctx, phone)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load session: %w", err)
	}
	if sess == nil {
		return Result{Outcome: OutcomeNoSession}, nil
	}
	now := v.nowFn()

	if sess.IsLocked {
		slog.Info("Verifier Verify refused, session locked", "phoneHash", sess.PhoneHash)
		return Result{Outcome: OutcomeLocked, RetryAfter: sess.ExpiresAt.Sub(now)}, nil
	}
	if models.IsVerifiedStage(sess.Stage) && now.Before(sess.ExpiresAt) {
		return Result{Outcome: OutcomeAlreadyVerified}, nil
	}

	ch, err := v.challenges.Get(ctx, sess.PhoneHash)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load challenge: %w", err)
	}
	if ch == nil {
		// The challenge backend cannot distinguish expired from never
		// issued; the session stage can.
		if sess.Stage == models.StageOTPSent {
			return Result{Outcome: OutcomeExpired}, nil
		}
		return Result{Outcome: OutcomeNoSession}, nil
	}
	if now.After(ch.ExpiresAt) {
		if err := v.challenges.Delete(ctx, sess.PhoneHash); err != nil {
			slog.Warn("Verifier failed to delete expired challenge", "error", err, "phoneHash", sess.PhoneHash)
		}
		return Result{Outcome: OutcomeExpired}, nil
	}

	if strings.TrimSpace(code) != ch.Code {
		state, err := v.store.IncrementOTPAttempts(ctx, phone)
		if err != nil {
			return Result{}, fmt.Errorf("failed to record failed attempt: %w", err)
		}
		if state.Locked {
			slog.Info("Verifier Verify lockout triggered", "phoneHash", sess.PhoneHash, "attempts", state.Attempts)
			return Result{Outcome: OutcomeLocked, RetryAfter: sess.ExpiresAt.Sub(now)}, nil
		}
		remaining := models.MaxOTPAttempts - state.Attempts
		slog.Info("Verifier Verify code mismatch", "phoneHash", sess.PhoneHash, "attemptsLeft", remaining)
		return Result{Outcome: OutcomeInvalid, AttemptsLeft: remaining}, nil
	}

	id, err := v.provider.LookupOrCreate(ctx, identity.Claim{Phone: util.NormalizePhone(phone), Email: ch.Claim})
	if err != nil {
		return Result{}, fmt.Errorf("identity resolution failed: %w", err)
	}
	if err := v.store.UpdateStage(ctx, phone, models.StageVerified, id.Ref); err != nil {
		return Result{}, fmt.Errorf("failed to mark session verified: %w", err)
	}
	if err := v.store.ResetOTPAttempts(ctx, phone); err != nil {
		return Result{}, fmt.Errorf("failed to reset attempts: %w", err)
	}
	if err := v.challenges.Delete(ctx, sess.PhoneHash); err != nil {
		slog.Warn("Verifier failed to delete consumed challenge", "error", err, "phoneHash", sess.PhoneHash)
	}
	slog.Info("Verifier Verify succeeded", "phoneHash", sess.PhoneHash, "identityRef", id.Ref)
	return Result{Outcome: OutcomeVerified, Claim: ch.Claim, Identity: &id}, nil
}
