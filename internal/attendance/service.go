package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/chusseyoo/proj-sub001/internal/geo"
	"github.com/chusseyoo/proj-sub001/internal/queue"
)

// EventRecorded is the queue message type published after a new record.
const EventRecorded = "attendance.recorded"

// SubmissionStatus tags the result of SubmitAttendance.
type SubmissionStatus string

const (
	SubmissionRecorded  SubmissionStatus = "recorded"
	SubmissionDuplicate SubmissionStatus = "duplicate"
	SubmissionRejected  SubmissionStatus = "rejected"
)

// Submission is the caller-facing outcome of one claim. Reason is set only
// for rejections.
type Submission struct {
	Status         SubmissionStatus
	Reason         Code
	WithinRadius   bool
	DistanceMeters float64
	Classification Status
	Record         Record
}

// Options configures a Service.
type Options struct {
	Policy        Policy
	RosterTimeout time.Duration
	StoreTimeout  time.Duration
}

// Service coordinates claim validation, recording and reporting.
type Service struct {
	validator  *Validator
	recorder   *Recorder
	aggregator Aggregator
	sessions   SessionProvider
	roster     RosterProvider
	store      Store
	events     Publisher
	opts       Options
}

// NewService wires the attendance core. events may be nil.
func NewService(tokens TokenVerifier, sessions SessionProvider, roster RosterProvider, store Store, events Publisher, opts Options) *Service {
	opts.Policy = opts.Policy.withDefaults()
	eligibility := NewEligibilityChecker(roster, opts.RosterTimeout)
	return &Service{
		validator:  NewValidator(tokens, sessions, eligibility, opts.Policy, opts.RosterTimeout),
		recorder:   NewRecorder(store, NewClassifier(opts.Policy), opts.StoreTimeout),
		aggregator: NewAggregator(opts.Policy),
		sessions:   sessions,
		roster:     roster,
		store:      store,
		events:     events,
		opts:       opts,
	}
}

// SubmitAttendance validates and records one claim. Rejections and
// duplicates are returned as values; the error is reserved for dependency
// failures and broken invariants.
func (s *Service) SubmitAttendance(ctx context.Context, rawToken string, loc geo.Point, now time.Time) (Submission, error) {
	d, err := s.validator.Validate(ctx, Claim{Token: rawToken, Location: loc, At: now})
	if err != nil {
		return Submission{}, err
	}
	if !d.Accepted {
		return Submission{Status: SubmissionRejected, Reason: d.Reason}, nil
	}

	res, err := s.recorder.Record(ctx, d)
	if err != nil {
		return Submission{}, err
	}

	sub := Submission{
		Status:         SubmissionRecorded,
		WithinRadius:   res.Record.WithinRadius,
		DistanceMeters: d.DistanceMeters,
		Classification: res.Record.Status,
		Record:         res.Record,
	}
	if res.Duplicate {
		sub.Status = SubmissionDuplicate
		return sub, nil
	}
	s.publish(ctx, res.Record)
	return sub, nil
}

// GenerateReport classifies every eligible student of the session as it
// stands now.
func (s *Service) GenerateReport(ctx context.Context, sessionRef string, now time.Time) (Report, error) {
	session, err := s.getSession(ctx, sessionRef)
	if errors.Is(err, ErrSessionNotFound) {
		return Report{}, newError(CodeSessionNotFound, "GenerateReport", err)
	}
	if err != nil {
		return Report{}, newError(CodeSessionUnavailable, "GenerateReport", errors.Join(ErrSessionUnavailable, err))
	}
	if err := session.Validate(); err != nil {
		return Report{}, newError(CodeInternal, "GenerateReport", err)
	}

	roster, err := s.listRoster(ctx, session)
	if err != nil {
		return Report{}, newError(CodeRosterUnavailable, "GenerateReport", errors.Join(ErrRosterUnavailable, err))
	}
	records, err := s.listRecords(ctx, session.Ref)
	if err != nil {
		return Report{}, newError(CodeStorageUnavailable, "GenerateReport", errors.Join(ErrStorageUnavailable, err))
	}
	return s.aggregator.Aggregate(session, roster, records, now.UTC()), nil
}

func (s *Service) getSession(ctx context.Context, sessionRef string) (Session, error) {
	if s.opts.RosterTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RosterTimeout)
		defer cancel()
	}
	return s.sessions.GetSession(ctx, sessionRef)
}

func (s *Service) listRoster(ctx context.Context, session Session) ([]string, error) {
	if s.opts.RosterTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RosterTimeout)
		defer cancel()
	}
	return s.roster.ListEligibleStudents(ctx, session)
}

func (s *Service) listRecords(ctx context.Context, sessionRef string) ([]Record, error) {
	if s.opts.StoreTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.StoreTimeout)
		defer cancel()
	}
	return s.store.ListBySession(ctx, sessionRef)
}

// publish is best effort: the record is already durable.
func (s *Service) publish(ctx context.Context, rec Record) {
	if s.events == nil {
		return
	}
	body, err := json.Marshal(rec)
	if err != nil {
		log.Printf("encode %s event failed: %v", EventRecorded, err)
		return
	}
	if err := s.events.Publish(ctx, queue.Message{Type: EventRecorded, Body: body}); err != nil {
		log.Printf("queue publish failed for session %s: %v", rec.SessionRef, err)
	}
}
