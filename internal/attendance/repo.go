package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chusseyoo/proj-sub001/internal/store"
)

// Repository persists attendance data in Postgres or SQLite. It implements
// Store, SessionProvider and RosterProvider over the tables created by
// store.Migrate.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// InsertIfAbsent writes rec unless a record for the same student and session
// exists. The conflict is resolved by the table's unique constraint, so two
// instances racing on the same pair produce exactly one row.
func (r *Repository) InsertIfAbsent(ctx context.Context, rec Record) (Record, error) {
	if rec.StudentRef == "" || rec.SessionRef == "" {
		return Record{}, errors.New("student and session required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}
	rec.RecordedAt = rec.RecordedAt.UTC()

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, student_ref, session_ref, recorded_at, latitude, longitude, within_radius, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (student_ref, session_ref) DO NOTHING
	`, rec.ID, rec.StudentRef, rec.SessionRef, rec.RecordedAt, rec.Latitude, rec.Longitude, rec.WithinRadius, string(rec.Status))
	if err != nil {
		if store.IsUniqueViolation(err) {
			return Record{}, ErrDuplicateAttendance
		}
		return Record{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Record{}, err
	}
	if n == 0 {
		return Record{}, ErrDuplicateAttendance
	}
	return rec, nil
}

// GetRecord returns the record for a pair or sql.ErrNoRows.
func (r *Repository) GetRecord(ctx context.Context, studentRef, sessionRef string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, student_ref, session_ref, recorded_at, latitude, longitude, within_radius, status
		FROM attendance_records WHERE student_ref = $1 AND session_ref = $2
	`, studentRef, sessionRef)
	return scanRecord(row)
}

// ListBySession returns every record of a session ordered by student.
func (r *Repository) ListBySession(ctx context.Context, sessionRef string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, student_ref, session_ref, recorded_at, latitude, longitude, within_radius, status
		FROM attendance_records WHERE session_ref = $1
		ORDER BY student_ref
	`, sessionRef)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (Record, error) {
	var rec Record
	var status string
	if err := s.Scan(&rec.ID, &rec.StudentRef, &rec.SessionRef, &rec.RecordedAt, &rec.Latitude, &rec.Longitude, &rec.WithinRadius, &status); err != nil {
		return Record{}, err
	}
	rec.Status = Status(status)
	rec.RecordedAt = rec.RecordedAt.UTC()
	return rec, nil
}

// GetSession loads a session by reference.
func (r *Repository) GetSession(ctx context.Context, sessionRef string) (Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT session_ref, lecturer_ref, course_ref, program_ref, stream_ref, latitude, longitude, opens_at, closes_at
		FROM sessions WHERE session_ref = $1
	`, sessionRef)
	var s Session
	if err := row.Scan(&s.Ref, &s.LecturerRef, &s.CourseRef, &s.ProgramRef, &s.StreamRef, &s.Anchor.Latitude, &s.Anchor.Longitude, &s.OpensAt, &s.ClosesAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionRef)
		}
		return Session{}, err
	}
	s.OpensAt, s.ClosesAt = s.OpensAt.UTC(), s.ClosesAt.UTC()
	return s, nil
}

// UpsertSession stores a session as published by the scheduling service.
func (r *Repository) UpsertSession(ctx context.Context, s Session) error {
	if err := s.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (session_ref, lecturer_ref, course_ref, program_ref, stream_ref, latitude, longitude, opens_at, closes_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (session_ref) DO UPDATE SET
			lecturer_ref = EXCLUDED.lecturer_ref,
			course_ref = EXCLUDED.course_ref,
			program_ref = EXCLUDED.program_ref,
			stream_ref = EXCLUDED.stream_ref,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			opens_at = EXCLUDED.opens_at,
			closes_at = EXCLUDED.closes_at
	`, s.Ref, s.LecturerRef, s.CourseRef, s.ProgramRef, s.StreamRef, s.Anchor.Latitude, s.Anchor.Longitude, s.OpensAt.UTC(), s.ClosesAt.UTC())
	return err
}

// Enrollment returns a student's program and stream.
func (r *Repository) Enrollment(ctx context.Context, studentRef string) (Enrollment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT student_ref, program_ref, stream_ref FROM enrollments WHERE student_ref = $1
	`, studentRef)
	var e Enrollment
	if err := row.Scan(&e.StudentRef, &e.ProgramRef, &e.StreamRef); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Enrollment{}, fmt.Errorf("%w: %s", ErrStudentNotFound, studentRef)
		}
		return Enrollment{}, err
	}
	return e, nil
}

// UpsertEnrollment places a student in a program and optional stream.
func (r *Repository) UpsertEnrollment(ctx context.Context, e Enrollment) error {
	if e.StudentRef == "" || e.ProgramRef == "" {
		return errors.New("student and program required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO enrollments (student_ref, program_ref, stream_ref)
		VALUES ($1, $2, $3)
		ON CONFLICT (student_ref) DO UPDATE SET
			program_ref = EXCLUDED.program_ref,
			stream_ref = EXCLUDED.stream_ref
	`, e.StudentRef, e.ProgramRef, e.StreamRef)
	return err
}

// ListEligibleStudents returns the session's roster ordered by student.
func (r *Repository) ListEligibleStudents(ctx context.Context, s Session) ([]string, error) {
	clauses := []string{"program_ref = $1"}
	args := []any{s.ProgramRef}
	if s.StreamRef != "" {
		clauses = append(clauses, fmt.Sprintf("stream_ref = $%d", len(args)+1))
		args = append(args, s.StreamRef)
	}
	query := "SELECT student_ref FROM enrollments WHERE " + strings.Join(clauses, " AND ") + " ORDER BY student_ref"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		res = append(res, ref)
	}
	return res, rows.Err()
}
