package mfa

import "errors"

var (
	// ErrNotEnrolled is returned when a user has no confirmed authenticator.
	ErrNotEnrolled = errors.New("mfa: not enrolled")

	// ErrAlreadyEnrolled rejects a second enrollment over a confirmed one.
	ErrAlreadyEnrolled = errors.New("mfa: already enrolled")

	// ErrNoPendingEnrollment is returned when confirmation arrives without a
	// live pending secret, including after the setup window expired.
	ErrNoPendingEnrollment = errors.New("mfa: no pending enrollment")

	// ErrInvalidCode is returned for a code that matches no accepted period.
	ErrInvalidCode = errors.New("mfa: invalid code")

	// ErrThrottled is returned when a user has exhausted the verification
	// attempt budget. The caller should back off.
	ErrThrottled = errors.New("mfa: too many attempts")

	// ErrVerificationRequired gates evidence operations for password
	// sessions that have not presented a valid code yet.
	ErrVerificationRequired = errors.New("mfa: verification required")
)
