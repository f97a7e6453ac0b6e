package attendance

import (
	"context"
	"database/sql"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chusseyoo/proj-sub001/internal/geo"
	"github.com/chusseyoo/proj-sub001/internal/queue"
	"github.com/chusseyoo/proj-sub001/internal/token"
)

const (
	testKey      = "attendance-test-key"
	testIssuer   = "scheduler"
	testAudience = "attendance"
)

var (
	opensAt  = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	closesAt = opensAt.Add(2 * time.Hour)
)

func testSession() Session {
	return Session{
		Ref:         "ses-1",
		LecturerRef: "lec-1",
		CourseRef:   "crs-101",
		ProgramRef:  "prog-cs",
		Anchor:      geo.Point{Latitude: 0, Longitude: 0},
		OpensAt:     opensAt,
		ClosesAt:    closesAt,
	}
}

// east returns the point m meters east of the origin along the equator.
func east(m float64) geo.Point {
	return geo.Point{Latitude: 0, Longitude: m / geo.EarthRadiusMeters * 180 / math.Pi}
}

func testSigner() *token.Signer {
	return token.NewSigner(testKey, testIssuer, testAudience, time.Hour)
}

func testVerifier() *token.Verifier {
	return token.NewVerifier(testKey, testIssuer, testAudience)
}

func issue(t *testing.T, student, session string, at time.Time) string {
	t.Helper()
	raw, _, err := testSigner().Issue(student, session, at)
	require.NoError(t, err)
	return raw
}

type fakeSessions struct {
	sessions map[string]Session
	err      error
	block    bool
}

func newFakeSessions(ss ...Session) *fakeSessions {
	f := &fakeSessions{sessions: map[string]Session{}}
	for _, s := range ss {
		f.sessions[s.Ref] = s
	}
	return f
}

func (f *fakeSessions) GetSession(ctx context.Context, ref string) (Session, error) {
	if f.block {
		<-ctx.Done()
		return Session{}, ctx.Err()
	}
	if f.err != nil {
		return Session{}, f.err
	}
	s, ok := f.sessions[ref]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

type fakeRoster struct {
	enrollments map[string]Enrollment
	err         error
	block       bool
}

func newFakeRoster(es ...Enrollment) *fakeRoster {
	f := &fakeRoster{enrollments: map[string]Enrollment{}}
	for _, e := range es {
		f.enrollments[e.StudentRef] = e
	}
	return f
}

func (f *fakeRoster) Enrollment(ctx context.Context, student string) (Enrollment, error) {
	if f.block {
		<-ctx.Done()
		return Enrollment{}, ctx.Err()
	}
	if f.err != nil {
		return Enrollment{}, f.err
	}
	e, ok := f.enrollments[student]
	if !ok {
		return Enrollment{}, ErrStudentNotFound
	}
	return e, nil
}

func (f *fakeRoster) ListEligibleStudents(ctx context.Context, s Session) ([]string, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	var out []string
	for _, e := range f.enrollments {
		if Eligible(e, s) {
			out = append(out, e.StudentRef)
		}
	}
	return out, nil
}

type pairKey struct{ student, session string }

// memStore behaves like a table with a unique index on (student, session).
type memStore struct {
	mu      sync.Mutex
	records map[pairKey]Record
	err     error
	getErr  error
	inserts int
}

func newMemStore() *memStore {
	return &memStore{records: map[pairKey]Record{}}
}

func (m *memStore) InsertIfAbsent(_ context.Context, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return Record{}, m.err
	}
	k := pairKey{rec.StudentRef, rec.SessionRef}
	if _, ok := m.records[k]; ok {
		return Record{}, ErrDuplicateAttendance
	}
	m.inserts++
	if rec.ID == "" {
		rec.ID = rec.StudentRef + "/" + rec.SessionRef
	}
	m.records[k] = rec
	return rec, nil
}

func (m *memStore) GetRecord(_ context.Context, student, session string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return Record{}, m.getErr
	}
	rec, ok := m.records[pairKey{student, session}]
	if !ok {
		return Record{}, sql.ErrNoRows
	}
	return rec, nil
}

func (m *memStore) ListBySession(_ context.Context, session string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []Record
	for k, rec := range m.records {
		if k.session == session {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []queue.Message
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, msg queue.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}
