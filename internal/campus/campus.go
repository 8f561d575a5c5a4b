// Package campus holds the admin-editable campus zone. Every read goes to the
// backing store so a radius change applies to the very next request.
package campus

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"campusattend/internal/geo"
	"campusattend/internal/store"
)

var ErrNotConfigured = errors.New("campus zone not configured")

// Setting is a stored zone with its audit fields.
type Setting struct {
	Zone      geo.Zone
	UpdatedBy string
	UpdatedAt time.Time
}

// Postgres appends zone revisions to campus_zones and reads the newest one.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Current(ctx context.Context) (Setting, error) {
	var lat, lng, radius float64
	var s Setting
	err := p.db.QueryRowContext(ctx, `
		SELECT latitude, longitude, radius_meters, updated_by, updated_at
		FROM campus_zones ORDER BY id DESC LIMIT 1
	`).Scan(&lat, &lng, &radius, &s.UpdatedBy, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Setting{}, ErrNotConfigured
	}
	if err != nil {
		return Setting{}, store.Unavailable(err)
	}
	center, err := geo.NewPoint(lat, lng)
	if err != nil {
		return Setting{}, err
	}
	s.Zone, err = geo.NewZone(center, radius)
	return s, err
}

func (p *Postgres) CurrentZone(ctx context.Context) (geo.Zone, error) {
	s, err := p.Current(ctx)
	return s.Zone, err
}

func (p *Postgres) Update(ctx context.Context, zone geo.Zone, actor string) (Setting, error) {
	s := Setting{Zone: zone, UpdatedBy: actor}
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO campus_zones (latitude, longitude, radius_meters, updated_by)
		VALUES ($1, $2, $3, $4)
		RETURNING updated_at
	`, zone.Center.Lat(), zone.Center.Lng(), zone.RadiusMeters, actor).Scan(&s.UpdatedAt)
	if err != nil {
		return Setting{}, store.Unavailable(err)
	}
	return s, nil
}

// Memory keeps the zone in process.
type Memory struct {
	mu  sync.RWMutex
	cur *Setting
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Current(context.Context) (Setting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cur == nil {
		return Setting{}, ErrNotConfigured
	}
	return *m.cur, nil
}

func (m *Memory) CurrentZone(ctx context.Context) (geo.Zone, error) {
	s, err := m.Current(ctx)
	return s.Zone, err
}

func (m *Memory) Update(_ context.Context, zone geo.Zone, actor string) (Setting, error) {
	s := Setting{Zone: zone, UpdatedBy: actor, UpdatedAt: time.Now().UTC()}
	m.mu.Lock()
	m.cur = &s
	m.mu.Unlock()
	return s, nil
}
