package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"campusattend/internal/geo"
	"campusattend/internal/store"
)

// PostgresRepository persists attendance records in Postgres.
type PostgresRepository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const recordColumns = `id, class_id, student_id, attendance_date, status, marked_at, marker_id,
	latitude, longitude, location_verified, notes`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var status string
	var lat, lng sql.NullFloat64
	if err := row.Scan(&rec.ID, &rec.ClassID, &rec.StudentID, &rec.Date, &status, &rec.MarkedAt, &rec.MarkerID,
		&lat, &lng, &rec.LocationVerified, &rec.Notes); err != nil {
		return Record{}, err
	}
	rec.Status = Status(status)
	rec.Date = Day(rec.Date)
	if lat.Valid && lng.Valid {
		if p, err := geo.NewPoint(lat.Float64, lng.Float64); err == nil {
			rec.Location = &p
		}
	}
	return rec, nil
}

// Exists reports whether a record is committed for the key.
func (r *PostgresRepository) Exists(ctx context.Context, studentID, classID string, day time.Time) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM attendance_records
			WHERE student_id = $1 AND class_id = $2 AND attendance_date = $3
		)
	`, studentID, classID, Day(day)).Scan(&ok)
	if err != nil {
		return false, store.Unavailable(err)
	}
	return ok, nil
}

// Insert writes a new record. The unique index on (student_id, class_id,
// attendance_date) decides concurrent races; the loser gets ErrAlreadyMarked.
func (r *PostgresRepository) Insert(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Date = Day(rec.Date)
	var lat, lng sql.NullFloat64
	if rec.Location != nil {
		lat = sql.NullFloat64{Float64: rec.Location.Lat(), Valid: true}
		lng = sql.NullFloat64{Float64: rec.Location.Lng(), Valid: true}
	}
	var id string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, class_id, student_id, attendance_date, status, marked_at, marker_id,
			latitude, longitude, location_verified, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (student_id, class_id, attendance_date) DO NOTHING
		RETURNING id
	`, rec.ID, rec.ClassID, rec.StudentID, rec.Date, string(rec.Status), rec.MarkedAt, rec.MarkerID,
		lat, lng, rec.LocationVerified, rec.Notes).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows), store.IsUniqueViolation(err):
		return Record{}, ErrAlreadyMarked
	case err != nil:
		return Record{}, store.Unavailable(err)
	}
	return rec, nil
}

// Get returns a single record by id.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Record, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM attendance_records WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, store.Unavailable(err)
	}
	return rec, nil
}

// UpdateStatus applies a correction and its audit row in one transaction.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, c Correction) (Record, Status, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, "", store.Unavailable(err)
	}
	defer tx.Rollback()

	rec, err := scanRecord(tx.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM attendance_records WHERE id = $1 FOR UPDATE`, c.RecordID))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, "", ErrRecordNotFound
	}
	if err != nil {
		return Record{}, "", store.Unavailable(err)
	}
	old := rec.Status

	if _, err := tx.ExecContext(ctx, `
		UPDATE attendance_records SET status = $2, updated_at = $3 WHERE id = $1
	`, c.RecordID, string(c.Status), c.At); err != nil {
		return Record{}, "", store.Unavailable(err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO attendance_audit (id, record_id, old_status, new_status, actor_id, reason, changed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, uuid.NewString(), c.RecordID, string(old), string(c.Status), c.ActorID, c.Reason, c.At); err != nil {
		return Record{}, "", store.Unavailable(err)
	}
	if err := tx.Commit(); err != nil {
		return Record{}, "", store.Unavailable(err)
	}
	rec.Status = c.Status
	return rec, old, nil
}

// List returns records with basic filters.
func (r *PostgresRepository) List(ctx context.Context, f ListFilter) ([]Record, error) {
	limit, offset := f.Limit, f.Offset
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + recordColumns + ` FROM attendance_records`
	args := []any{}
	clauses := []string{}
	if f.ClassID != "" {
		clauses = append(clauses, "class_id = $"+itoa(len(args)+1))
		args = append(args, f.ClassID)
	}
	if f.StudentID != "" {
		clauses = append(clauses, "student_id = $"+itoa(len(args)+1))
		args = append(args, f.StudentID)
	}
	if !f.Date.IsZero() {
		clauses = append(clauses, "attendance_date = $"+itoa(len(args)+1))
		args = append(args, Day(f.Date))
	}
	if len(clauses) > 0 {
		query += " WHERE " + joinClauses(clauses, " AND ")
	}
	query += " ORDER BY attendance_date DESC, marked_at DESC LIMIT $" + itoa(len(args)+1) + " OFFSET $" + itoa(len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.Unavailable(err)
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, store.Unavailable(err)
		}
		res = append(res, rec)
	}
	return res, store.Unavailable(rows.Err())
}

// Tally counts records per day and status.
func (r *PostgresRepository) Tally(ctx context.Context, q ReportQuery) ([]Tally, error) {
	column, id := "class_id", q.ClassID
	if q.StudentID != "" {
		column, id = "student_id", q.StudentID
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT attendance_date, status, COUNT(*)
		FROM attendance_records
		WHERE `+column+` = $1 AND attendance_date BETWEEN $2 AND $3
		GROUP BY attendance_date, status
		ORDER BY attendance_date
	`, id, Day(q.From), Day(q.To))
	if err != nil {
		return nil, store.Unavailable(err)
	}
	defer rows.Close()
	var out []Tally
	for rows.Next() {
		var t Tally
		var status string
		if err := rows.Scan(&t.Date, &status, &t.Count); err != nil {
			return nil, store.Unavailable(err)
		}
		t.Date = Day(t.Date)
		t.Status = Status(status)
		out = append(out, t)
	}
	return out, store.Unavailable(rows.Err())
}

func itoa(i int) string { return fmt.Sprintf("%d", i) }

func joinClauses(parts []string, sep string) string {
	if len(parts) == 0 {
		return ""
	}
	out := parts[0]
	for i := 1; i < len(parts); i++ {
		out += sep + parts[i]
	}
	return out
}
