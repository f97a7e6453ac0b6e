package attendance

import (
	"context"
	"time"

	"github.com/chusseyoo/proj-sub001/internal/queue"
	"github.com/chusseyoo/proj-sub001/internal/token"
)

// SessionProvider looks up sessions owned by the scheduling service.
// Unknown references return ErrSessionNotFound.
type SessionProvider interface {
	GetSession(ctx context.Context, sessionRef string) (Session, error)
}

// RosterProvider answers membership questions from the academic catalog.
// Enrollment returns ErrStudentNotFound for unknown students; any other error
// means the roster could not be consulted.
type RosterProvider interface {
	Enrollment(ctx context.Context, studentRef string) (Enrollment, error)
	ListEligibleStudents(ctx context.Context, session Session) ([]string, error)
}

// Store persists attendance records. InsertIfAbsent must reject a second
// record for the same (student, session) atomically at the storage layer and
// report it as ErrDuplicateAttendance.
type Store interface {
	InsertIfAbsent(ctx context.Context, rec Record) (Record, error)
	GetRecord(ctx context.Context, studentRef, sessionRef string) (Record, error)
	ListBySession(ctx context.Context, sessionRef string) ([]Record, error)
}

// TokenVerifier is satisfied by *token.Verifier.
type TokenVerifier interface {
	Verify(raw string, now time.Time) (token.Grant, error)
}

// Publisher receives attendance events. Satisfied by queue.Queue.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}
