package mfa

import (
	"errors"
	"testing"
	"time"
)

func TestEnrollmentLifecycle(t *testing.T) {
	g := NewGate(NewMemorySecretStore())

	status, err := g.Status(t.Context(), "u1")
	if err != nil || status != StateUnconfigured {
		t.Fatalf("status = %q, %v", status, err)
	}

	enr, err := g.BeginEnrollment(t.Context(), "u1", "alice@custodia.test")
	if err != nil {
		t.Fatalf("BeginEnrollment: %v", err)
	}
	if enr.Secret == "" || enr.OTPAuthURL == "" {
		t.Fatalf("enrollment = %+v", enr)
	}

	status, _ = g.Status(t.Context(), "u1")
	if status != StatePending {
		t.Fatalf("status = %q, want pending", status)
	}

	if err := g.ConfirmEnrollment(t.Context(), "u1", "000000"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("want ErrInvalidCode for bogus code, got %v", err)
	}

	code, err := CodeAt(enr.Secret, time.Now())
	if err != nil {
		t.Fatalf("CodeAt: %v", err)
	}
	if err := g.ConfirmEnrollment(t.Context(), "u1", code); err != nil {
		t.Fatalf("ConfirmEnrollment: %v", err)
	}

	status, _ = g.Status(t.Context(), "u1")
	if status != StateEnrolled {
		t.Fatalf("status = %q, want enrolled", status)
	}

	if _, err := g.BeginEnrollment(t.Context(), "u1", "alice@custodia.test"); !errors.Is(err, ErrAlreadyEnrolled) {
		t.Fatalf("want ErrAlreadyEnrolled, got %v", err)
	}
}

func TestConfirmWithoutPending(t *testing.T) {
	g := NewGate(NewMemorySecretStore())
	if err := g.ConfirmEnrollment(t.Context(), "u1", "123456"); !errors.Is(err, ErrNoPendingEnrollment) {
		t.Fatalf("want ErrNoPendingEnrollment, got %v", err)
	}
}

func TestPendingSecretExpires(t *testing.T) {
	now := time.Now()
	g := NewGate(NewMemorySecretStore(), WithGateClock(func() time.Time { return now }))

	enr, err := g.BeginEnrollment(t.Context(), "u1", "alice")
	if err != nil {
		t.Fatalf("BeginEnrollment: %v", err)
	}
	now = now.Add(defaultSetupTTL + time.Minute)

	code, _ := CodeAt(enr.Secret, now)
	if err := g.ConfirmEnrollment(t.Context(), "u1", code); !errors.Is(err, ErrNoPendingEnrollment) {
		t.Fatalf("want ErrNoPendingEnrollment after expiry, got %v", err)
	}
}

func TestVerify(t *testing.T) {
	store := NewMemorySecretStore()
	g := NewGate(store)
	if err := g.Verify(t.Context(), "u1", "123456"); !errors.Is(err, ErrNotEnrolled) {
		t.Fatalf("want ErrNotEnrolled, got %v", err)
	}

	secret, _ := generateSecret()
	if err := store.Save(t.Context(), "u1", secret); err != nil {
		t.Fatalf("Save: %v", err)
	}

	code, _ := CodeAt(secret, time.Now())
	if err := g.Verify(t.Context(), "u1", code); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := g.Verify(t.Context(), "u1", "000000"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("want ErrInvalidCode, got %v", err)
	}
}

func TestVerifyThrottled(t *testing.T) {
	store := NewMemorySecretStore()
	secret, _ := generateSecret()
	_ = store.Save(t.Context(), "u1", secret)
	g := NewGate(store)

	var throttled bool
	for i := 0; i < attemptBurst+1; i++ {
		err := g.Verify(t.Context(), "u1", "000000")
		if errors.Is(err, ErrThrottled) {
			throttled = true
			break
		}
		if !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	if !throttled {
		t.Fatal("attempt budget never exhausted")
	}

	// The budget is per user.
	_ = store.Save(t.Context(), "u2", secret)
	if err := g.Verify(t.Context(), "u2", "000000"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("other user throttled too: %v", err)
	}
}

func TestVerifyCodeWindow(t *testing.T) {
	secret, _ := generateSecret()
	now := time.Unix(1700000000, 0)

	prev, _ := CodeAt(secret, now.Add(-totpPeriod*time.Second))
	next, _ := CodeAt(secret, now.Add(totpPeriod*time.Second))
	far, _ := CodeAt(secret, now.Add(2*totpPeriod*time.Second))

	if !verifyCode(secret, prev, now) || !verifyCode(secret, next, now) {
		t.Fatal("adjacent periods must be accepted")
	}
	if verifyCode(secret, far, now) && far != prev && far != next {
		t.Fatal("code two periods out must be rejected")
	}
}

func TestVerifyCodeNormalization(t *testing.T) {
	secret, _ := generateSecret()
	now := time.Now()
	code, _ := CodeAt(secret, now)
	spaced := " " + code[:3] + " " + code[3:] + " "
	if !verifyCode(secret, spaced, now) {
		t.Fatal("whitespace in code must be tolerated")
	}
	if verifyCode(secret, "12345", now) {
		t.Fatal("five-digit code must be rejected")
	}
	if verifyCode(secret, "abcdef", now) {
		t.Fatal("non-numeric code must be rejected")
	}
}
