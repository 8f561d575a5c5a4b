package store

import (
	"context"
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	username      TEXT UNIQUE NOT NULL,
	email         TEXT NOT NULL DEFAULT '',
	phone         TEXT NOT NULL DEFAULT '',
	role          TEXT NOT NULL CHECK (role IN ('student', 'teacher', 'admin')),
	password_hash TEXT NOT NULL,
	active        BOOLEAN NOT NULL DEFAULT TRUE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS enrollments (
	student_id TEXT NOT NULL REFERENCES users(id),
	class_id   TEXT NOT NULL,
	PRIMARY KEY (student_id, class_id)
);

CREATE TABLE IF NOT EXISTS class_schedules (
	class_id  TEXT NOT NULL,
	weekday   SMALLINT NOT NULL CHECK (weekday BETWEEN 0 AND 6),
	starts_at TIME NOT NULL,
	PRIMARY KEY (class_id, weekday)
);

CREATE TABLE IF NOT EXISTS campus_zones (
	id            SERIAL PRIMARY KEY,
	latitude      DOUBLE PRECISION NOT NULL,
	longitude     DOUBLE PRECISION NOT NULL,
	radius_meters DOUBLE PRECISION NOT NULL CHECK (radius_meters > 0),
	updated_by    TEXT NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS otp_challenges (
	id          TEXT PRIMARY KEY,
	subject_id  TEXT NOT NULL,
	purpose     TEXT NOT NULL,
	code_hash   TEXT NOT NULL,
	sealed_code BYTEA NOT NULL,
	issued_at   TIMESTAMPTZ NOT NULL,
	expires_at  TIMESTAMPTZ NOT NULL,
	consumed_at TIMESTAMPTZ,
	attempts    INTEGER NOT NULL DEFAULT 0,
	UNIQUE (subject_id, purpose)
);
ALTER TABLE otp_challenges ADD COLUMN IF NOT EXISTS attempts INTEGER NOT NULL DEFAULT 0;
CREATE INDEX IF NOT EXISTS idx_otp_expires ON otp_challenges(expires_at);

CREATE TABLE IF NOT EXISTS attendance_records (
	id                TEXT PRIMARY KEY,
	class_id          TEXT NOT NULL,
	student_id        TEXT NOT NULL,
	attendance_date   DATE NOT NULL,
	status            TEXT NOT NULL CHECK (status IN ('present', 'absent', 'late', 'excused')),
	marked_at         TIMESTAMPTZ NOT NULL,
	marker_id         TEXT NOT NULL,
	latitude          DOUBLE PRECISION,
	longitude         DOUBLE PRECISION,
	location_verified BOOLEAN NOT NULL DEFAULT FALSE,
	notes             TEXT NOT NULL DEFAULT '',
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_attendance_student_class_date
	ON attendance_records(student_id, class_id, attendance_date);
CREATE INDEX IF NOT EXISTS idx_attendance_class_date ON attendance_records(class_id, attendance_date);

CREATE TABLE IF NOT EXISTS attendance_audit (
	id         TEXT PRIMARY KEY,
	record_id  TEXT NOT NULL REFERENCES attendance_records(id),
	old_status TEXT NOT NULL,
	new_status TEXT NOT NULL,
	actor_id   TEXT NOT NULL,
	reason     TEXT NOT NULL DEFAULT '',
	changed_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attendance_audit_record ON attendance_audit(record_id);
`

// Migrate applies the idempotent schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
