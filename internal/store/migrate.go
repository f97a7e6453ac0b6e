package store

import (
	"context"
	"fmt"
	"strings"
)

// schema is written in the subset both Postgres and SQLite accept. {{ts}} is
// replaced per driver because go-sqlite3 only decodes columns declared
// exactly TIMESTAMP into time.Time.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		session_ref  TEXT PRIMARY KEY,
		lecturer_ref TEXT NOT NULL,
		course_ref   TEXT NOT NULL,
		program_ref  TEXT NOT NULL,
		stream_ref   TEXT NOT NULL DEFAULT '',
		latitude     DOUBLE PRECISION NOT NULL,
		longitude    DOUBLE PRECISION NOT NULL,
		opens_at     {{ts}} NOT NULL,
		closes_at    {{ts}} NOT NULL,
		CONSTRAINT sessions_window CHECK (closes_at > opens_at)
	)`,
	`CREATE TABLE IF NOT EXISTS enrollments (
		student_ref TEXT PRIMARY KEY,
		program_ref TEXT NOT NULL,
		stream_ref  TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_enrollments_program ON enrollments(program_ref, stream_ref)`,
	`CREATE TABLE IF NOT EXISTS attendance_records (
		id            TEXT PRIMARY KEY,
		student_ref   TEXT NOT NULL,
		session_ref   TEXT NOT NULL REFERENCES sessions(session_ref),
		recorded_at   {{ts}} NOT NULL,
		latitude      DOUBLE PRECISION NOT NULL,
		longitude     DOUBLE PRECISION NOT NULL,
		within_radius BOOLEAN NOT NULL,
		status        TEXT NOT NULL,
		CONSTRAINT attendance_records_status CHECK (status IN ('present', 'late')),
		CONSTRAINT attendance_records_student_session UNIQUE (student_ref, session_ref)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attendance_records_session ON attendance_records(session_ref)`,
}

// Migrate creates the attendance tables if they do not exist.
func Migrate(ctx context.Context, db *DB) error {
	ts := "TIMESTAMPTZ"
	if db.Driver == DriverSQLite {
		ts = "TIMESTAMP"
	}
	for i, stmt := range schema {
		if _, err := db.Client.ExecContext(ctx, strings.ReplaceAll(stmt, "{{ts}}", ts)); err != nil {
			return fmt.Errorf("migration step %d: %w", i+1, err)
		}
	}
	return nil
}
