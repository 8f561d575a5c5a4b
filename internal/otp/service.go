package otp

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/url"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/nacl/secretbox"

	"campusattend/internal/directory"
	"campusattend/internal/metrics"
)

// Sender delivers codes and reset links.
type Sender interface {
	SendOTP(ctx context.Context, to directory.Contact, code, purpose string) error
	SendPasswordReset(ctx context.Context, to directory.Contact, link string) error
}

// Contacts resolves delivery endpoints for a subject.
type Contacts interface {
	ContactInfo(ctx context.Context, subjectID string) (directory.Contact, error)
}

// Options tunes a Service.
type Options struct {
	TTL      time.Duration
	Secret   string
	ResetURL string
	Now      func() time.Time
}

// Issued describes a persisted challenge. Code is populated for callers that
// echo it in development; production handlers must not return it.
type Issued struct {
	ChallengeID string
	Purpose     Purpose
	ExpiresAt   time.Time
	Code        string
}

// Service issues, resends, verifies and sweeps challenges.
type Service struct {
	store    Store
	contacts Contacts
	sender   Sender
	ttl      time.Duration
	macKey   []byte
	sealKey  [32]byte
	resetURL string
	now      func() time.Time
}

// NewService wires a Service. TTL defaults to five minutes.
func NewService(store Store, contacts Contacts, sender Sender, opts Options) *Service {
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	mac := sha256.Sum256([]byte("otp-mac:" + opts.Secret))
	return &Service{
		store:    store,
		contacts: contacts,
		sender:   sender,
		ttl:      opts.TTL,
		macKey:   mac[:],
		sealKey:  sha256.Sum256([]byte("otp-seal:" + opts.Secret)),
		resetURL: opts.ResetURL,
		now:      opts.Now,
	}
}

// TTL returns the configured challenge lifetime.
func (s *Service) TTL() time.Duration { return s.ttl }

// Issue creates a fresh challenge for (subjectID, purpose), replacing any
// earlier one, and delivers it. When delivery fails the challenge stays
// persisted and the error wraps ErrDeliveryFailed so the caller can Resend.
func (s *Service) Issue(ctx context.Context, subjectID string, purpose Purpose) (Issued, error) {
	if !purpose.Valid() {
		return Issued{}, ErrInvalidPurpose
	}
	contact, err := s.contacts.ContactInfo(ctx, subjectID)
	if err != nil {
		return Issued{}, err
	}

	code, err := generateCode()
	if err != nil {
		return Issued{}, fmt.Errorf("generate code: %w", err)
	}
	sealed, err := s.seal(code)
	if err != nil {
		return Issued{}, fmt.Errorf("seal code: %w", err)
	}

	now := s.now().UTC()
	ch := Challenge{
		ID:        uuid.NewString(),
		SubjectID: subjectID,
		Purpose:   purpose,
		CodeHash:  s.hash(subjectID, purpose, code),
		Sealed:    sealed,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.store.Replace(ctx, ch); err != nil {
		return Issued{}, err
	}
	metrics.OTPIssued.WithLabelValues(string(purpose)).Inc()

	issued := Issued{ChallengeID: ch.ID, Purpose: purpose, ExpiresAt: ch.ExpiresAt, Code: code}
	if err := s.deliver(ctx, subjectID, contact, purpose, code); err != nil {
		return issued, err
	}
	return issued, nil
}

// Resend re-delivers the active challenge without invalidating it.
func (s *Service) Resend(ctx context.Context, subjectID string, purpose Purpose) (Issued, error) {
	if !purpose.Valid() {
		return Issued{}, ErrInvalidPurpose
	}
	ch, err := s.store.Active(ctx, subjectID, purpose, s.now().UTC())
	if errors.Is(err, ErrNoChallenge) {
		return Issued{}, ErrExpired
	}
	if err != nil {
		return Issued{}, err
	}
	code, ok := s.open(ch.Sealed)
	if !ok {
		return Issued{}, ErrExpired
	}
	contact, err := s.contacts.ContactInfo(ctx, subjectID)
	if err != nil {
		return Issued{}, err
	}
	issued := Issued{ChallengeID: ch.ID, Purpose: purpose, ExpiresAt: ch.ExpiresAt, Code: code}
	if err := s.deliver(ctx, subjectID, contact, purpose, code); err != nil {
		return issued, err
	}
	return issued, nil
}

// Verify consumes the matching active challenge. Every mismatch yields
// ErrInvalidCode; only store failures are reported differently.
func (s *Service) Verify(ctx context.Context, subjectID, code string, purpose Purpose) error {
	if !purpose.Valid() || !wellFormed(code) {
		metrics.OTPVerifications.WithLabelValues(string(purpose), metrics.ResultFailed).Inc()
		return ErrInvalidCode
	}
	ok, err := s.store.Consume(ctx, subjectID, purpose, s.hash(subjectID, purpose, code), s.now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		metrics.OTPVerifications.WithLabelValues(string(purpose), metrics.ResultFailed).Inc()
		return ErrInvalidCode
	}
	metrics.OTPVerifications.WithLabelValues(string(purpose), metrics.ResultOK).Inc()
	return nil
}

// Sweep removes expired and consumed challenges.
func (s *Service) Sweep(ctx context.Context) (int64, error) {
	n, err := s.store.Purge(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	metrics.OTPPurged.Add(float64(n))
	return n, nil
}

func (s *Service) deliver(ctx context.Context, subjectID string, to directory.Contact, purpose Purpose, code string) error {
	var err error
	if purpose == PurposePasswordReset {
		err = s.sender.SendPasswordReset(ctx, to, s.resetLink(subjectID, code))
	} else {
		err = s.sender.SendOTP(ctx, to, code, string(purpose))
	}
	if err != nil {
		log.Printf("[otp] delivery for subject %s (%s) failed: %v", subjectID, purpose, err)
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	return nil
}

func (s *Service) resetLink(subjectID, code string) string {
	q := url.Values{}
	q.Set("subject", subjectID)
	q.Set("code", code)
	return s.resetURL + "?" + q.Encode()
}

func (s *Service) hash(subjectID string, purpose Purpose, code string) string {
	m := hmac.New(sha256.New, s.macKey)
	m.Write([]byte(subjectID))
	m.Write([]byte{0})
	m.Write([]byte(purpose))
	m.Write([]byte{0})
	m.Write([]byte(code))
	return hex.EncodeToString(m.Sum(nil))
}

func (s *Service) seal(code string) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], []byte(code), &nonce, &s.sealKey), nil
}

func (s *Service) open(sealed []byte) (string, bool) {
	if len(sealed) < 24 {
		return "", false
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	out, ok := secretbox.Open(nil, sealed[24:], &nonce, &s.sealKey)
	return string(out), ok
}

var codeSpace = big.NewInt(1_000_000)

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}

func wellFormed(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
