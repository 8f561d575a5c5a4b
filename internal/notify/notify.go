// Package notify delivers passcodes, reset links and attendance receipts
// over email and SMS.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"campusattend/internal/directory"
	"campusattend/internal/metrics"
)

var (
	ErrNoEndpoint = errors.New("no contact endpoint")
	ErrDelivery   = errors.New("delivery failed")
)

// Channel moves a single text message to one address.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, to, subject, body string) error
}

// Router picks email or SMS for a contact and bounds every delivery with a timeout.
type Router struct {
	email   Channel
	sms     Channel
	timeout time.Duration
}

// NewRouter builds a Router. Either channel may be nil.
func NewRouter(email, sms Channel, timeout time.Duration) *Router {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Router{email: email, sms: sms, timeout: timeout}
}

// SendOTP delivers a passcode for purpose.
func (r *Router) SendOTP(ctx context.Context, to directory.Contact, code, purpose string) error {
	subject := "Your verification code"
	body := fmt.Sprintf("Your %s code is %s. It expires shortly; do not share it.", purposeLabel(purpose), code)
	return r.send(ctx, to, subject, body)
}

// SendPasswordReset delivers a reset link.
func (r *Router) SendPasswordReset(ctx context.Context, to directory.Contact, link string) error {
	return r.send(ctx, to, "Reset your password", "Use this link to reset your password: "+link)
}

// SendReceipt confirms a committed attendance mark.
func (r *Router) SendReceipt(ctx context.Context, to directory.Contact, rc Receipt) error {
	body := fmt.Sprintf("Attendance recorded for %s on %s: %s.", rc.ClassID, rc.Date, rc.Status)
	return r.send(ctx, to, "Attendance recorded", body)
}

func (r *Router) send(ctx context.Context, to directory.Contact, subject, body string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var errs []error
	tried := false
	if r.email != nil && to.Email != "" {
		tried = true
		err := r.deliver(ctx, r.email, to.Email, subject, body)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	if r.sms != nil && to.Phone != "" {
		tried = true
		err := r.deliver(ctx, r.sms, to.Phone, subject, body)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	if !tried {
		return fmt.Errorf("%w: %w", ErrDelivery, ErrNoEndpoint)
	}
	return fmt.Errorf("%w: %w", ErrDelivery, errors.Join(errs...))
}

func (r *Router) deliver(ctx context.Context, ch Channel, to, subject, body string) error {
	if err := ch.Deliver(ctx, to, subject, body); err != nil {
		metrics.Notifications.WithLabelValues(ch.Name(), metrics.ResultFailed).Inc()
		log.Printf("[notify] %s delivery failed: %v", ch.Name(), err)
		return fmt.Errorf("%s: %w", ch.Name(), err)
	}
	metrics.Notifications.WithLabelValues(ch.Name(), metrics.ResultOK).Inc()
	return nil
}

func purposeLabel(purpose string) string {
	switch purpose {
	case "login":
		return "sign-in"
	case "attendance":
		return "attendance confirmation"
	case "password_reset":
		return "password reset"
	}
	return purpose
}

// Log writes messages to the process log instead of delivering them.
// Only wired when no real channel is configured outside production.
type Log struct{}

func (Log) Name() string { return "log" }

func (Log) Deliver(_ context.Context, to, subject, body string) error {
	log.Printf("[notify] to=%s subject=%q body=%q", to, subject, body)
	return nil
}
