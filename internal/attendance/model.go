package attendance

import (
	"fmt"
	"time"

	"github.com/chusseyoo/proj-sub001/internal/geo"
)

// DefaultRadiusMeters is the geofence radius used when none is configured.
const DefaultRadiusMeters = 30.0

// Session is a scheduled teaching event. It is owned by the scheduling
// service and treated as read-only here.
type Session struct {
	Ref         string    `json:"session_ref"`
	LecturerRef string    `json:"lecturer_ref"`
	CourseRef   string    `json:"course_ref"`
	ProgramRef  string    `json:"program_ref"`
	StreamRef   string    `json:"stream_ref,omitempty"` // empty targets the whole program
	Anchor      geo.Point `json:"anchor"`
	OpensAt     time.Time `json:"opens_at"`
	ClosesAt    time.Time `json:"closes_at"`
}

// Validate checks the invariants the scheduling service must uphold.
func (s Session) Validate() error {
	if s.Ref == "" || s.ProgramRef == "" {
		return fmt.Errorf("%w: session %q missing reference or program", ErrInvalidSession, s.Ref)
	}
	if !s.ClosesAt.After(s.OpensAt) {
		return fmt.Errorf("%w: session %s closes at %s, not after opening at %s",
			ErrInvalidSession, s.Ref, s.ClosesAt.Format(time.RFC3339), s.OpensAt.Format(time.RFC3339))
	}
	if err := s.Anchor.Validate(); err != nil {
		return fmt.Errorf("%w: session %s anchor: %v", ErrInvalidSession, s.Ref, err)
	}
	return nil
}

// Open reports whether at lies inside [OpensAt, ClosesAt].
func (s Session) Open(at time.Time) bool {
	return !at.Before(s.OpensAt) && !at.After(s.ClosesAt)
}

// Enrollment is a student's academic placement as known to the roster.
type Enrollment struct {
	StudentRef string
	ProgramRef string
	StreamRef  string
}

// Status is the classification of one student for one session.
type Status string

const (
	StatusPresent Status = "present"
	StatusLate    Status = "late"
	StatusAbsent  Status = "absent"
)

// LateReason distinguishes why a student was classified late.
type LateReason string

const (
	LateOutsideRadius LateReason = "outside_radius"
	LateAfterGrace    LateReason = "after_grace"
)

// Record is the durable outcome of an accepted claim. At most one exists per
// (StudentRef, SessionRef).
type Record struct {
	ID           string    `json:"id"`
	StudentRef   string    `json:"student_ref"`
	SessionRef   string    `json:"session_ref"`
	RecordedAt   time.Time `json:"recorded_at"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	WithinRadius bool      `json:"within_radius"`
	Status       Status    `json:"status"`
}

// Claim is one in-flight attempt to mark attendance.
type Claim struct {
	Token    string
	Location geo.Point
	At       time.Time
}

// Decision is the terminal state of validating one Claim. A rejected decision
// carries Reason and nothing else is meaningful.
type Decision struct {
	Accepted       bool
	Reason         Code
	StudentRef     string
	SessionRef     string
	Session        Session
	ClaimTime      time.Time
	Location       geo.Point
	DistanceMeters float64
	WithinRadius   bool
}

func reject(code Code) Decision {
	return Decision{Reason: code}
}

// Policy holds the lecturer-facing knobs for geofencing and lateness.
type Policy struct {
	RadiusMeters float64
	// LateAfter is the grace period after OpensAt; zero disables time-based lateness.
	LateAfter time.Duration
	// SplitLateReasons reports why a row is late instead of a bare late tag.
	SplitLateReasons bool
}

// DefaultPolicy returns a 30 m geofence with no grace cutoff.
func DefaultPolicy() Policy {
	return Policy{RadiusMeters: DefaultRadiusMeters}
}

func (p Policy) withDefaults() Policy {
	if p.RadiusMeters <= 0 {
		p.RadiusMeters = DefaultRadiusMeters
	}
	if p.LateAfter < 0 {
		p.LateAfter = 0
	}
	return p
}
