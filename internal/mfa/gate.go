package mfa

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Enrollment states reported by Status.
const (
	StateUnconfigured = "unconfigured"
	StatePending      = "pending"
	StateEnrolled     = "enrolled"
)

const (
	defaultSetupTTL = 10 * time.Minute

	// Attempt budget: five tries, then one fresh try every ten seconds.
	attemptRate  = rate.Limit(0.1)
	attemptBurst = 5
)

// Gate is the enrollment and verification state machine. A user moves
// unconfigured -> pending -> enrolled; each session then moves unverified ->
// verified by presenting a code, which the session token records.
type Gate struct {
	secrets  SecretStore
	pending  *pendingStore
	attempts *throttle
	now      func() time.Time
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithGateClock injects the time source.
func WithGateClock(now func() time.Time) GateOption {
	return func(g *Gate) {
		if now != nil {
			g.now = now
			g.pending.now = now
		}
	}
}

// NewGate constructs a Gate over the given confirmed-secret store.
func NewGate(secrets SecretStore, opts ...GateOption) *Gate {
	g := &Gate{
		secrets:  secrets,
		attempts: newThrottle(attemptRate, attemptBurst),
		now:      time.Now,
	}
	g.pending = newPendingStore(defaultSetupTTL, func() time.Time { return g.now() })
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Enrollment is the provisioning payload returned by BeginEnrollment. The
// secret appears here exactly once; afterwards only codes travel.
type Enrollment struct {
	Secret     string `json:"secret"`
	OTPAuthURL string `json:"otpauth_url"`
}

// BeginEnrollment generates a fresh secret and parks it as pending. Nothing
// durable is written until the user confirms with a valid code.
func (g *Gate) BeginEnrollment(ctx context.Context, userID, accountLabel string) (*Enrollment, error) {
	if _, err := g.secrets.Secret(ctx, userID); err == nil {
		return nil, ErrAlreadyEnrolled
	} else if err != ErrNotEnrolled {
		return nil, err
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, err
	}
	g.pending.put(userID, secret)
	return &Enrollment{
		Secret:     secret,
		OTPAuthURL: otpAuthURL(secret, accountLabel),
	}, nil
}

// ConfirmEnrollment promotes the pending secret to confirmed once the user
// proves possession. An expired or absent pending secret means starting over.
func (g *Gate) ConfirmEnrollment(ctx context.Context, userID, code string) error {
	secret, ok := g.pending.get(userID)
	if !ok {
		return ErrNoPendingEnrollment
	}
	if !verifyCode(secret, code, g.now()) {
		return ErrInvalidCode
	}
	if err := g.secrets.Save(ctx, userID, secret); err != nil {
		return err
	}
	g.pending.drop(userID)
	return nil
}

// Verify checks a code against the confirmed secret. Attempts are budgeted
// per user; a success clears the budget.
func (g *Gate) Verify(ctx context.Context, userID, code string) error {
	if !g.attempts.allow(userID) {
		return ErrThrottled
	}
	secret, err := g.secrets.Secret(ctx, userID)
	if err != nil {
		return err
	}
	if !verifyCode(secret, code, g.now()) {
		return ErrInvalidCode
	}
	g.attempts.reset(userID)
	return nil
}

// Status reports where the user stands in the enrollment state machine.
func (g *Gate) Status(ctx context.Context, userID string) (string, error) {
	if _, err := g.secrets.Secret(ctx, userID); err == nil {
		return StateEnrolled, nil
	} else if err != ErrNotEnrolled {
		return "", err
	}
	if _, ok := g.pending.get(userID); ok {
		return StatePending, nil
	}
	return StateUnconfigured, nil
}
