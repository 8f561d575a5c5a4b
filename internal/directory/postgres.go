package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"campusattend/internal/store"
)

// Postgres reads identities, rosters and timetables from the users,
// enrollments and class_schedules tables.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const userColumns = `id, username, email, phone, role, password_hash, active`

type userRow struct {
	Identity
	hash   string
	active bool
}

func (p *Postgres) scanUser(row *sql.Row) (userRow, error) {
	var u userRow
	var role string
	err := row.Scan(&u.ID, &u.Username, &u.Contact.Email, &u.Contact.Phone, &role, &u.hash, &u.active)
	if errors.Is(err, sql.ErrNoRows) {
		return userRow{}, ErrNotFound
	}
	if err != nil {
		return userRow{}, store.Unavailable(err)
	}
	u.Role = Role(role)
	return u, nil
}

func (p *Postgres) byIdentifier(ctx context.Context, identifier string) (userRow, error) {
	ident := strings.TrimSpace(identifier)
	return p.scanUser(p.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE username = $1 OR (email <> '' AND lower(email) = lower($1))
		LIMIT 1
	`, ident))
}

// Authenticate verifies a username or email and password.
func (p *Postgres) Authenticate(ctx context.Context, identifier, secret string) (Identity, error) {
	u, err := p.byIdentifier(ctx, identifier)
	if errors.Is(err, ErrNotFound) {
		checkSecret(dummyHash, secret)
		return Identity{}, ErrAuthenticationFailed
	}
	if err != nil {
		return Identity{}, err
	}
	if !checkSecret([]byte(u.hash), secret) || !u.active {
		return Identity{}, ErrAuthenticationFailed
	}
	return u.Identity, nil
}

// Lookup resolves a username or email without checking a secret.
func (p *Postgres) Lookup(ctx context.Context, identifier string) (Identity, error) {
	u, err := p.byIdentifier(ctx, identifier)
	if err != nil {
		return Identity{}, err
	}
	if !u.active {
		return Identity{}, ErrNotFound
	}
	return u.Identity, nil
}

func (p *Postgres) Identity(ctx context.Context, subjectID string) (Identity, error) {
	u, err := p.scanUser(p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, subjectID))
	if err != nil {
		return Identity{}, err
	}
	if !u.active {
		return Identity{}, ErrNotFound
	}
	return u.Identity, nil
}

func (p *Postgres) ContactInfo(ctx context.Context, subjectID string) (Contact, error) {
	id, err := p.Identity(ctx, subjectID)
	if err != nil {
		return Contact{}, err
	}
	return id.Contact, nil
}

func (p *Postgres) IsEnrolled(ctx context.Context, studentID, classID string) (bool, error) {
	var ok bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM enrollments WHERE student_id = $1 AND class_id = $2)
	`, studentID, classID).Scan(&ok)
	if err != nil {
		return false, store.Unavailable(err)
	}
	return ok, nil
}

// ScheduledStart returns the class start on day, false when the class does not meet that weekday.
func (p *Postgres) ScheduledStart(ctx context.Context, classID string, day time.Time) (time.Time, bool, error) {
	var secs int64
	err := p.db.QueryRowContext(ctx, `
		SELECT EXTRACT(EPOCH FROM starts_at)::BIGINT FROM class_schedules
		WHERE class_id = $1 AND weekday = $2
	`, classID, int(day.Weekday())).Scan(&secs)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, store.Unavailable(err)
	}
	return startOn(day, time.Duration(secs)*time.Second), true, nil
}

func (p *Postgres) SetPassword(ctx context.Context, subjectID, secret string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1
	`, subjectID, string(hash))
	if err != nil {
		return store.Unavailable(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
