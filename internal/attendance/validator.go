package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chusseyoo/proj-sub001/internal/geo"
	"github.com/chusseyoo/proj-sub001/internal/token"
)

// Validator runs a claim through token, window, eligibility and geofence
// checks. It keeps no state between calls and may run in parallel freely.
type Validator struct {
	tokens      TokenVerifier
	sessions    SessionProvider
	eligibility *EligibilityChecker
	policy      Policy
	timeout     time.Duration
}

// NewValidator wires a validator. timeout bounds the session lookup.
func NewValidator(tokens TokenVerifier, sessions SessionProvider, eligibility *EligibilityChecker, policy Policy, timeout time.Duration) *Validator {
	return &Validator{
		tokens:      tokens,
		sessions:    sessions,
		eligibility: eligibility,
		policy:      policy.withDefaults(),
		timeout:     timeout,
	}
}

// Validate returns a rejected Decision for invalid claims and an error only
// when a dependency failed or an invariant was broken.
func (v *Validator) Validate(ctx context.Context, claim Claim) (Decision, error) {
	if err := claim.Location.Validate(); err != nil {
		return Decision{}, newError(CodeInvalidRequest, "Validate", err)
	}

	grant, err := v.tokens.Verify(claim.Token, claim.At)
	switch {
	case errors.Is(err, token.ErrTokenTypeMismatch):
		return reject(CodeTokenTypeMismatch), nil
	case errors.Is(err, token.ErrTokenExpired):
		return reject(CodeTokenExpired), nil
	case err != nil:
		return reject(CodeTokenInvalid), nil
	}

	session, err := v.session(ctx, grant.SessionRef)
	if errors.Is(err, ErrSessionNotFound) {
		// a correctly signed link for a session that no longer exists
		return reject(CodeTokenInvalid), nil
	}
	if err != nil {
		return Decision{}, err
	}

	if !session.Open(claim.At) {
		return reject(CodeSessionClosed), nil
	}

	ok, err := v.eligibility.IsEligible(ctx, grant.StudentRef, session)
	if err != nil {
		return Decision{}, err
	}
	if !ok {
		return reject(CodeIneligible), nil
	}

	within, distance, err := geo.Within(session.Anchor, claim.Location, v.policy.RadiusMeters)
	if err != nil {
		return Decision{}, newError(CodeInternal, "Validate", err)
	}

	return Decision{
		Accepted:       true,
		StudentRef:     grant.StudentRef,
		SessionRef:     session.Ref,
		Session:        session,
		ClaimTime:      claim.At,
		Location:       claim.Location,
		DistanceMeters: distance,
		WithinRadius:   within,
	}, nil
}

func (v *Validator) session(ctx context.Context, ref string) (Session, error) {
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}
	s, err := v.sessions.GetSession(ctx, ref)
	if errors.Is(err, ErrSessionNotFound) {
		return Session{}, err
	}
	if err != nil {
		return Session{}, newError(CodeSessionUnavailable, "GetSession", errors.Join(ErrSessionUnavailable, err))
	}
	if err := s.Validate(); err != nil {
		return Session{}, newError(CodeInternal, "GetSession", err)
	}
	if s.Ref != ref {
		return Session{}, newError(CodeInternal, "GetSession", fmt.Errorf("%w: asked for %s, got %s", ErrInvalidSession, ref, s.Ref))
	}
	return s, nil
}
