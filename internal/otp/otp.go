// Package otp issues and verifies short numeric one-time passcodes scoped to
// a (subject, purpose) pair. At most one challenge per pair is active; issuing
// a new one replaces the previous row in the store.
package otp

import (
	"context"
	"errors"
	"time"
)

// Purpose scopes a challenge.
type Purpose string

const (
	PurposeLogin         Purpose = "login"
	PurposeAttendance    Purpose = "attendance"
	PurposePasswordReset Purpose = "password_reset"
)

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	switch p {
	case PurposeLogin, PurposeAttendance, PurposePasswordReset:
		return true
	}
	return false
}

// CodeLength is the number of decimal digits in a code.
const CodeLength = 6

// MaxAttempts is the number of wrong guesses after which a challenge stops
// accepting any code, including the right one.
const MaxAttempts = 5

var (
	// ErrInvalidCode is the only verification failure callers ever see,
	// whether the code was wrong, expired, already used or never issued.
	ErrInvalidCode    = errors.New("invalid or expired code")
	ErrExpired        = errors.New("no active code, request a new one")
	ErrDeliveryFailed = errors.New("code delivery failed")
	ErrInvalidPurpose = errors.New("invalid otp purpose")

	// ErrNoChallenge is returned by Store.Active when nothing is active.
	ErrNoChallenge = errors.New("no active challenge")
)

// Challenge is a persisted passcode. The plaintext code is never stored:
// CodeHash is a keyed hash used for verification and Sealed an encrypted copy
// used only to resend the same code.
type Challenge struct {
	ID         string
	SubjectID  string
	Purpose    Purpose
	CodeHash   string
	Sealed     []byte
	IssuedAt   time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	// Attempts counts wrong guesses against this challenge.
	Attempts int
}

// Active reports whether the challenge can still be verified at now.
func (c Challenge) Active(now time.Time) bool {
	return c.ConsumedAt == nil && c.Attempts < MaxAttempts && now.Before(c.ExpiresAt)
}

// Store persists challenges. Implementations must make Replace an upsert keyed
// on (SubjectID, Purpose) that resets Attempts, and Consume an atomic
// compare-and-set that counts a mismatch against an active challenge.
type Store interface {
	Replace(ctx context.Context, c Challenge) error
	Active(ctx context.Context, subjectID string, purpose Purpose, now time.Time) (Challenge, error)
	Consume(ctx context.Context, subjectID string, purpose Purpose, codeHash string, now time.Time) (bool, error)
	Purge(ctx context.Context, now time.Time) (int64, error)
}
