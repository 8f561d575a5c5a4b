package attendance

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository. The map key plays the role
// of the unique index, so it is only correct for a single instance.
type MemoryRepository struct {
	mu    sync.RWMutex
	byID  map[string]Record
	byKey map[recordKey]string
	audit []Correction
}

type recordKey struct {
	student string
	class   string
	date    time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:  make(map[string]Record),
		byKey: make(map[recordKey]string),
	}
}

func (m *MemoryRepository) Exists(_ context.Context, studentID, classID string, day time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byKey[recordKey{studentID, classID, Day(day)}]
	return ok, nil
}

func (m *MemoryRepository) Insert(_ context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Date = Day(rec.Date)
	k := recordKey{rec.StudentID, rec.ClassID, rec.Date}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.byKey[k]; dup {
		return Record{}, ErrAlreadyMarked
	}
	m.byKey[k] = rec.ID
	m.byID[rec.ID] = rec
	return rec, nil
}

func (m *MemoryRepository) Get(_ context.Context, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.byID[id]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return rec, nil
}

func (m *MemoryRepository) UpdateStatus(_ context.Context, c Correction) (Record, Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[c.RecordID]
	if !ok {
		return Record{}, "", ErrRecordNotFound
	}
	old := rec.Status
	rec.Status = c.Status
	m.byID[c.RecordID] = rec
	m.audit = append(m.audit, c)
	return rec, old, nil
}

// Audit returns the corrections applied so far.
func (m *MemoryRepository) Audit() []Correction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Correction(nil), m.audit...)
}

func (m *MemoryRepository) List(_ context.Context, f ListFilter) ([]Record, error) {
	m.mu.RLock()
	var out []Record
	for _, rec := range m.byID {
		if f.ClassID != "" && rec.ClassID != f.ClassID {
			continue
		}
		if f.StudentID != "" && rec.StudentID != f.StudentID {
			continue
		}
		if !f.Date.IsZero() && !rec.Date.Equal(Day(f.Date)) {
			continue
		}
		out = append(out, rec)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].MarkedAt.After(out[j].MarkedAt)
	})
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepository) Tally(_ context.Context, q ReportQuery) ([]Tally, error) {
	from, to := Day(q.From), Day(q.To)
	type tk struct {
		date   time.Time
		status Status
	}
	counts := make(map[tk]int)

	m.mu.RLock()
	for _, rec := range m.byID {
		if q.StudentID != "" {
			if rec.StudentID != q.StudentID {
				continue
			}
		} else if rec.ClassID != q.ClassID {
			continue
		}
		if rec.Date.Before(from) || rec.Date.After(to) {
			continue
		}
		counts[tk{rec.Date, rec.Status}]++
	}
	m.mu.RUnlock()

	out := make([]Tally, 0, len(counts))
	for k, n := range counts {
		out = append(out, Tally{Date: k.date, Status: k.status, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Status < out[j].Status
	})
	return out, nil
}
