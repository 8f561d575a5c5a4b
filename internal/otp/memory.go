package otp

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"
)

// MemoryStore keeps challenges in process. Single-instance dev and tests only.
type MemoryStore struct {
	mu   sync.Mutex
	byID map[memKey]Challenge
}

type memKey struct {
	subject string
	purpose Purpose
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[memKey]Challenge)}
}

func (m *MemoryStore) Replace(_ context.Context, c Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.Attempts = 0
	c.ConsumedAt = nil
	m.byID[memKey{c.SubjectID, c.Purpose}] = c
	return nil
}

func (m *MemoryStore) Active(_ context.Context, subjectID string, purpose Purpose, now time.Time) (Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[memKey{subjectID, purpose}]
	if !ok || !c.Active(now) {
		return Challenge{}, ErrNoChallenge
	}
	return c, nil
}

func (m *MemoryStore) Consume(_ context.Context, subjectID string, purpose Purpose, codeHash string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memKey{subjectID, purpose}
	c, ok := m.byID[k]
	if !ok || !c.Active(now) {
		return false, nil
	}
	if subtle.ConstantTimeCompare([]byte(c.CodeHash), []byte(codeHash)) != 1 {
		c.Attempts++
		m.byID[k] = c
		return false, nil
	}
	at := now
	c.ConsumedAt = &at
	m.byID[k] = c
	return true, nil
}

func (m *MemoryStore) Purge(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, c := range m.byID {
		if !c.Active(now) {
			delete(m.byID, k)
			n++
		}
	}
	return n, nil
}
