// Package directory is the credential store: users, contact endpoints,
// class rosters and the weekly timetable.
package directory

import (
	"context"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Role tags an identity.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleAdmin:
		return true
	}
	return false
}

var (
	// ErrAuthenticationFailed covers unknown identifiers, wrong secrets and inactive accounts alike.
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrNotFound             = errors.New("subject not found")
)

// Contact holds delivery endpoints for a subject.
type Contact struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Identity is an authenticated subject.
type Identity struct {
	ID       string  `json:"id"`
	Username string  `json:"username"`
	Role     Role    `json:"role"`
	Contact  Contact `json:"contact"`
}

// Store is implemented by Postgres and Memory.
type Store interface {
	Authenticate(ctx context.Context, identifier, secret string) (Identity, error)
	Lookup(ctx context.Context, identifier string) (Identity, error)
	Identity(ctx context.Context, subjectID string) (Identity, error)
	ContactInfo(ctx context.Context, subjectID string) (Contact, error)
	IsEnrolled(ctx context.Context, studentID, classID string) (bool, error)
	ScheduledStart(ctx context.Context, classID string, day time.Time) (time.Time, bool, error)
	SetPassword(ctx context.Context, subjectID, secret string) error
}

// dummyHash keeps Authenticate's cost the same whether or not the identifier exists.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("campusattend-dummy"), bcrypt.DefaultCost)

func checkSecret(hash []byte, secret string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(secret)) == nil
}

// startOn combines a calendar day with an offset from its local midnight.
func startOn(day time.Time, offset time.Duration) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, day.Location()).Add(offset)
}
