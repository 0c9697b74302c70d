package auth

import (
	"context"
	"testing"
	"time"

	"github.com/appayureze-cloud/astra/internal/identity"
	"github.com/appayureze-cloud/astra/internal/models"
	"github.com/appayureze-cloud/astra/internal/store"
)

// testClock drives the store, challenge store, and verifier off one
// adjustable instant.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestVerifier() (*Verifier, *store.InMemoryStore, *InMemoryChallengeStore, *testClock) {
	clock := &testClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	st := store.NewInMemoryStore()
	st.SetNowFunc(clock.Now)
	ch := NewInMemoryChallengeStore()
	ch.SetNowFunc(clock.Now)
	v := NewVerifier(st, ch, identity.NewLocalProvider(), WithNowFunc(clock.Now))
	return v, st, ch, clock
}

func TestGenerateCode(t *testing.T) {
	for i := 0; i < 20; i++ {
		code, err := generateCode()
		if err != nil {
			t.Fatalf("generateCode failed: %v", err)
		}
		if len(code) != models.OTPCodeLength {
			t.Fatalf("code %q has length %d, want %d", code, len(code), models.OTPCodeLength)
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Fatalf("code %q contains non-digit %q", code, r)
			}
		}
	}
}

func TestIssueAndVerifyHappyPath(t *testing.T) {
	v, st, _, clock := newTestVerifier()
	ctx := context.Background()
	phone := "15551234567"

	res, err := v.Issue(ctx, phone, "user@example.com")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if res.Outcome != OutcomeSent {
		t.Fatalf("Issue outcome = %q, want %q", res.Outcome, OutcomeSent)
	}
	if len(res.Code) != models.OTPCodeLength {
		t.Fatalf("issued code %q has wrong length", res.Code)
	}
	if want := clock.Now().Add(models.OTPExpiry); !res.ExpiresAt.Equal(want) {
		t.Errorf("issued expiry = %v, want %v", res.ExpiresAt, want)
	}

	got, err := v.Verify(ctx, phone, res.Code)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if got.Outcome != OutcomeVerified {
		t.Fatalf("Verify outcome = %q, want %q", got.Outcome, OutcomeVerified)
	}
	if got.Identity == nil || got.Identity.Ref == "" {
		t.Fatal("Verify returned no identity")
	}
	if got.Claim != "user@example.com" {
		t.Errorf("Verify claim = %q", got.Claim)
	}
	if ok, _ := st.IsVerified(ctx, phone); !ok {
		t.Error("session not verified after successful code")
	}

	// Re-verifying and re-issuing are idempotent while the session holds.
	if got, _ := v.Verify(ctx, phone, res.Code); got.Outcome != OutcomeAlreadyVerified {
		t.Errorf("second Verify outcome = %q, want %q", got.Outcome, OutcomeAlreadyVerified)
	}
	if got, _ := v.Issue(ctx, phone, "user@example.com"); got.Outcome != OutcomeAlreadyVerified {
		t.Errorf("Issue after verify outcome = %q, want %q", got.Outcome, OutcomeAlreadyVerified)
	}
}

func TestVerifyTrimsWhitespace(t *testing.T) {
	v, _, _, _ := newTestVerifier()
	ctx := context.Background()
	phone := "15551234567"

	res, err := v.Issue(ctx, phone, "user@example.com")
	if err != nil || res.Outcome != OutcomeSent {
		t.Fatalf("Issue = (%+v, %v)", res, err)
	}
	got, err := v.Verify(ctx, phone, "  "+res.Code+"\n")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if got.Outcome != OutcomeVerified {
		t.Errorf("Verify outcome = %q, want %q", got.Outcome, OutcomeVerified)
	}
}

func TestIssueCooldown(t *testing.T) {
	v, _, _, clock := newTestVerifier()
	ctx := context.Background()
	phone := "15551234567"

	if res, _ := v.Issue(ctx, phone, ""); res.Outcome != OutcomeSent {
		t.Fatalf("first Issue outcome = %q", res.Outcome)
	}

	clock.Advance(10 * time.Second)
	res, err := v.Issue(ctx, phone, "")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if res.Outcome != OutcomeCooldown {
		t.Fatalf("Issue inside cooldown outcome = %q, want %q", res.Outcome, OutcomeCooldown)
	}
	if res.RetryAfter <= 0 || res.RetryAfter > models.OTPCooldown {
		t.Errorf("RetryAfter = %v, want within (0, %v]", res.RetryAfter, models.OTPCooldown)
	}

	clock.Advance(51 * time.Second)
	if res, _ := v.Issue(ctx, phone, ""); res.Outcome != OutcomeSent {
		t.Errorf("Issue after cooldown outcome = %q, want %q", res.Outcome, OutcomeSent)
	}
}

func TestVerifyWrongCodeCountsDownToLockout(t *testing.T) {
	v, _, _, _ := newTestVerifier()
	ctx := context.Background()
	phone := "15551234567"

	res, err := v.Issue(ctx, phone, "")
	if err != nil || res.Outcome != OutcomeSent {
		t.Fatalf("Issue = (%+v, %v)", res, err)
	}
	wrong := "000000"
	if wrong == res.Code {
		wrong = "000001"
	}

	for want := models.MaxOTPAttempts - 1; want >= 1; want-- {
		got, err := v.Verify(ctx, phone, wrong)
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if got.Outcome != OutcomeInvalid {
			t.Fatalf("Verify outcome = %q, want %q", got.Outcome, OutcomeInvalid)
		}
		if got.AttemptsLeft != want {
			t.Fatalf("AttemptsLeft = %d, want %d", got.AttemptsLeft, want)
		}
	}

	got, err := v.Verify(ctx, phone, wrong)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if got.Outcome != OutcomeLocked {
		t.Fatalf("final Verify outcome = %q, want %q", got.Outcome, OutcomeLocked)
	}

	// The lockout holds for both verification and issuance, even with the
	// right code.
	if got, _ := v.Verify(ctx, phone, res.Code); got.Outcome != OutcomeLocked {
		t.Errorf("Verify while locked outcome = %q, want %q", got.Outcome, OutcomeLocked)
	}
	if got, _ := v.Issue(ctx, phone, ""); got.Outcome != OutcomeLocked {
		t.Errorf("Issue while locked outcome = %q, want %q", got.Outcome, OutcomeLocked)
	}
}

func TestLockoutClearsWithSessionTTL(t *testing.T) {
	v, _, _, clock := newTestVerifier()
	ctx := context.Background()
	phone := "15551234567"

	res, _ := v.Issue(ctx, phone, "")
	wrong := "000000"
	if wrong == res.Code {
		wrong = "000001"
	}
	for i := 0; i < models.MaxOTPAttempts; i++ {
		if _, err := v.Verify(ctx, phone, wrong); err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
	}
	if got, _ := v.Issue(ctx, phone, ""); got.Outcome != OutcomeLocked {
		t.Fatalf("expected lockout, got %q", got.Outcome)
	}

	clock.Advance(models.SessionTTL + time.Minute)
	if got, _ := v.Issue(ctx, phone, ""); got.Outcome != OutcomeSent {
		t.Errorf("Issue after TTL outcome = %q, want %q", got.Outcome, OutcomeSent)
	}
}

func TestVerifyNoSession(t *testing.T) {
	v, _, _, _ := newTestVerifier()
	got, err := v.Verify(context.Background(), "15550000000", "123456")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if got.Outcome != OutcomeNoSession {
		t.Errorf("Verify outcome = %q, want %q", got.Outcome, OutcomeNoSession)
	}
}

func TestVerifyWithoutPendingChallenge(t *testing.T) {
	v, st, _, _ := newTestVerifier()
	ctx := context.Background()
	phone := "15551234567"

	// Session exists but no code was ever issued.
	if _, err := st.GetOrCreateSession(ctx, phone); err != nil {
		t.Fatalf("GetOrCreateSession failed: %v", err)
	}
	got, err := v.Verify(ctx, phone, "123456")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if got.Outcome != OutcomeNoSession {
		t.Errorf("Verify outcome = %q, want %q", got.Outcome, OutcomeNoSession)
	}
}

func TestVerifyExpiredChallenge(t *testing.T) {
	v, _, _, clock := newTestVerifier()
	ctx := context.Background()
	phone := "15551234567"

	res, err := v.Issue(ctx, phone, "")
	if err != nil || res.Outcome != OutcomeSent {
		t.Fatalf("Issue = (%+v, %v)", res, err)
	}

	clock.Advance(models.OTPExpiry + time.Minute)
	got, err := v.Verify(ctx, phone, res.Code)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if got.Outcome != OutcomeExpired {
		t.Errorf("Verify outcome = %q, want %q", got.Outcome, OutcomeExpired)
	}
}
