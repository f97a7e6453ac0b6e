package attendance

import (
	"context"
	"errors"
	"time"
)

// Eligible applies the membership rule: same program and, when the session
// targets a stream, the same stream.
func Eligible(e Enrollment, s Session) bool {
	if e.ProgramRef == "" || e.ProgramRef != s.ProgramRef {
		return false
	}
	return s.StreamRef == "" || e.StreamRef == s.StreamRef
}

// EligibilityChecker decides whether a student belongs to a session's target
// population.
type EligibilityChecker struct {
	roster  RosterProvider
	timeout time.Duration
}

// NewEligibilityChecker wraps a roster provider. A zero timeout relies on the
// caller's context alone.
func NewEligibilityChecker(roster RosterProvider, timeout time.Duration) *EligibilityChecker {
	return &EligibilityChecker{roster: roster, timeout: timeout}
}

// IsEligible never turns a lookup failure into false: those surface as
// ErrRosterUnavailable.
func (c *EligibilityChecker) IsEligible(ctx context.Context, studentRef string, s Session) (bool, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	enr, err := c.roster.Enrollment(ctx, studentRef)
	if errors.Is(err, ErrStudentNotFound) {
		return false, nil
	}
	if err != nil {
		return false, newError(CodeRosterUnavailable, "IsEligible", errors.Join(ErrRosterUnavailable, err))
	}
	return Eligible(enr, s), nil
}
