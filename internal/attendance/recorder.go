package attendance

import (
	"context"
	"errors"
	"time"
)

// RecordResult is the outcome of recording an accepted decision. Duplicate
// is set when the pair was already recorded; Record then holds the stored row.
type RecordResult struct {
	Record    Record
	Duplicate bool
}

// Recorder persists accepted decisions at most once per (student, session).
// It holds no locks: uniqueness is the Store's job.
type Recorder struct {
	store      Store
	classifier Classifier
	timeout    time.Duration
}

// NewRecorder wires a recorder. timeout bounds each storage call.
func NewRecorder(store Store, classifier Classifier, timeout time.Duration) *Recorder {
	return &Recorder{store: store, classifier: classifier, timeout: timeout}
}

// Record writes the decision. A lost race against a concurrent submission is
// a Duplicate result, not an error. If the stored row cannot be read back the
// call fails as STORAGE_UNAVAILABLE; retrying is safe.
func (r *Recorder) Record(ctx context.Context, d Decision) (RecordResult, error) {
	if !d.Accepted {
		return RecordResult{}, newError(CodeInternal, "Record", errors.New("decision was not accepted"))
	}

	rec := Record{
		StudentRef:   d.StudentRef,
		SessionRef:   d.SessionRef,
		RecordedAt:   d.ClaimTime.UTC(),
		Latitude:     d.Location.Latitude,
		Longitude:    d.Location.Longitude,
		WithinRadius: d.WithinRadius,
	}
	rec.Status = r.classifier.Classify(d.Session, &rec).Status

	stored, err := r.insert(ctx, rec)
	if errors.Is(err, ErrDuplicateAttendance) {
		existing, gerr := r.get(ctx, d.StudentRef, d.SessionRef)
		if gerr != nil {
			return RecordResult{}, newError(CodeStorageUnavailable, "Record", errors.Join(ErrStorageUnavailable, gerr))
		}
		return RecordResult{Record: existing, Duplicate: true}, nil
	}
	if err != nil {
		return RecordResult{}, newError(CodeStorageUnavailable, "Record", errors.Join(ErrStorageUnavailable, err))
	}
	return RecordResult{Record: stored}, nil
}

func (r *Recorder) insert(ctx context.Context, rec Record) (Record, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.store.InsertIfAbsent(ctx, rec)
}

func (r *Recorder) get(ctx context.Context, studentRef, sessionRef string) (Record, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.store.GetRecord(ctx, studentRef, sessionRef)
}

func (r *Recorder) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}
