package directory

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Memory is an in-process Store for dev and tests.
type Memory struct {
	mu        sync.RWMutex
	users     map[string]*memUser
	rosters   map[string]map[string]bool
	schedules map[string]map[time.Weekday]time.Duration
}

type memUser struct {
	Identity
	hash   []byte
	active bool
}

func NewMemory() *Memory {
	return &Memory{
		users:     make(map[string]*memUser),
		rosters:   make(map[string]map[string]bool),
		schedules: make(map[string]map[time.Weekday]time.Duration),
	}
}

// AddUser registers an active identity with the given password.
func (m *Memory) AddUser(id Identity, password string) {
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id.ID] = &memUser{Identity: id, hash: hash, active: true}
}

// Deactivate disables a subject.
func (m *Memory) Deactivate(subjectID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[subjectID]; ok {
		u.active = false
	}
}

// Enroll adds a student to a class roster.
func (m *Memory) Enroll(studentID, classID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rosters[classID] == nil {
		m.rosters[classID] = make(map[string]bool)
	}
	m.rosters[classID][studentID] = true
}

// Schedule sets the weekly start time of a class as an offset from midnight.
func (m *Memory) Schedule(classID string, day time.Weekday, startsAt time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.schedules[classID] == nil {
		m.schedules[classID] = make(map[time.Weekday]time.Duration)
	}
	m.schedules[classID][day] = startsAt
}

func (m *Memory) find(identifier string) *memUser {
	ident := strings.TrimSpace(identifier)
	for _, u := range m.users {
		if u.Username == ident || (u.Contact.Email != "" && strings.EqualFold(u.Contact.Email, ident)) {
			return u
		}
	}
	return nil
}

func (m *Memory) Authenticate(_ context.Context, identifier, secret string) (Identity, error) {
	m.mu.RLock()
	u := m.find(identifier)
	m.mu.RUnlock()
	if u == nil {
		checkSecret(dummyHash, secret)
		return Identity{}, ErrAuthenticationFailed
	}
	if !checkSecret(u.hash, secret) || !u.active {
		return Identity{}, ErrAuthenticationFailed
	}
	return u.Identity, nil
}

func (m *Memory) Lookup(_ context.Context, identifier string) (Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u := m.find(identifier)
	if u == nil || !u.active {
		return Identity{}, ErrNotFound
	}
	return u.Identity, nil
}

func (m *Memory) Identity(_ context.Context, subjectID string) (Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[subjectID]
	if !ok || !u.active {
		return Identity{}, ErrNotFound
	}
	return u.Identity, nil
}

func (m *Memory) ContactInfo(ctx context.Context, subjectID string) (Contact, error) {
	id, err := m.Identity(ctx, subjectID)
	return id.Contact, err
}

func (m *Memory) IsEnrolled(_ context.Context, studentID, classID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rosters[classID][studentID], nil
}

func (m *Memory) ScheduledStart(_ context.Context, classID string, day time.Time) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	offset, ok := m.schedules[classID][day.Weekday()]
	if !ok {
		return time.Time{}, false, nil
	}
	return startOn(day, offset), true, nil
}

func (m *Memory) SetPassword(_ context.Context, subjectID, secret string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[subjectID]
	if !ok {
		return ErrNotFound
	}
	u.hash = hash
	return nil
}
