package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chusseyoo/proj-sub001/internal/attendance"
	"github.com/chusseyoo/proj-sub001/internal/auth"
	"github.com/chusseyoo/proj-sub001/internal/geo"
	"github.com/chusseyoo/proj-sub001/internal/metrics"
	"github.com/chusseyoo/proj-sub001/internal/reportcache"
	"github.com/chusseyoo/proj-sub001/internal/store"
	"github.com/chusseyoo/proj-sub001/internal/token"
)

type fakeService struct {
	sub    attendance.Submission
	err    error
	rep    attendance.Report
	repErr error
	loc    geo.Point
	calls  int
}

func (f *fakeService) SubmitAttendance(_ context.Context, _ string, loc geo.Point, _ time.Time) (attendance.Submission, error) {
	f.loc = loc
	return f.sub, f.err
}

func (f *fakeService) GenerateReport(_ context.Context, ref string, _ time.Time) (attendance.Report, error) {
	f.calls++
	if f.repErr != nil {
		return attendance.Report{}, f.repErr
	}
	rep := f.rep
	rep.SessionRef = ref
	return rep, nil
}

type fakeCache struct {
	rep attendance.Report
	err error
}

func (f fakeCache) Get(context.Context, string) (attendance.Report, error) {
	return f.rep, f.err
}

func newRouter(h *Handler, staff ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.Register(r, staff...)
	return r
}

func postJSON(r http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Error.Message)
	return body.Error.Code
}

func TestSubmit_StatusMapping(t *testing.T) {
	const body = `{"token":"t","latitude":0,"longitude":0.0004}`
	tests := []struct {
		name       string
		sub        attendance.Submission
		err        error
		wantStatus int
		wantCode   string
	}{
		{"recorded", attendance.Submission{Status: attendance.SubmissionRecorded, WithinRadius: true, Classification: attendance.StatusPresent}, nil, http.StatusCreated, ""},
		{"duplicate", attendance.Submission{Status: attendance.SubmissionDuplicate}, nil, http.StatusOK, ""},
		{"expired", attendance.Submission{Status: attendance.SubmissionRejected, Reason: attendance.CodeTokenExpired}, nil, http.StatusUnauthorized, "TOKEN_EXPIRED"},
		{"invalid", attendance.Submission{Status: attendance.SubmissionRejected, Reason: attendance.CodeTokenInvalid}, nil, http.StatusUnauthorized, "TOKEN_INVALID"},
		{"closed", attendance.Submission{Status: attendance.SubmissionRejected, Reason: attendance.CodeSessionClosed}, nil, http.StatusForbidden, "SESSION_CLOSED"},
		{"ineligible", attendance.Submission{Status: attendance.SubmissionRejected, Reason: attendance.CodeIneligible}, nil, http.StatusForbidden, "INELIGIBLE"},
		{"storage down", attendance.Submission{}, &attendance.Error{Code: attendance.CodeStorageUnavailable, Op: "Record", Err: attendance.ErrStorageUnavailable}, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE"},
		{"roster down", attendance.Submission{}, &attendance.Error{Code: attendance.CodeRosterUnavailable, Op: "IsEligible", Err: attendance.ErrRosterUnavailable}, http.StatusServiceUnavailable, "ROSTER_UNAVAILABLE"},
		{"bad coordinates", attendance.Submission{}, &attendance.Error{Code: attendance.CodeInvalidRequest, Op: "Validate", Err: geo.ErrInvalidCoordinate}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"broken invariant", attendance.Submission{}, errors.New("boom"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{sub: tt.sub, err: tt.err}
			w := postJSON(newRouter(New(svc, nil, nil)), "/v1/attendance", body)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, geo.Point{Latitude: 0, Longitude: 0.0004}, svc.loc)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, errorCode(t, w))
			}
			if tt.wantStatus == http.StatusServiceUnavailable {
				assert.Equal(t, RetryAfterSeconds, w.Header().Get("Retry-After"))
			} else {
				assert.Empty(t, w.Header().Get("Retry-After"))
			}
		})
	}
}

func TestSubmit_BadRequest(t *testing.T) {
	svc := &fakeService{}
	r := newRouter(New(svc, nil, nil))
	for _, body := range []string{
		`{}`,
		`{"token":"t","latitude":1}`,
		`{"latitude":1,"longitude":2}`,
		`not json`,
	} {
		w := postJSON(r, "/v1/attendance", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Equal(t, "INVALID_REQUEST", errorCode(t, w))
	}
}

func TestSubmit_CountsOutcomes(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	svc := &fakeService{sub: attendance.Submission{Status: attendance.SubmissionRejected, Reason: attendance.CodeTokenExpired}}
	r := newRouter(New(svc, nil, m))

	postJSON(r, "/v1/attendance", `{"token":"t","latitude":1,"longitude":1}`)
	postJSON(r, "/v1/attendance", `{"token":"t","latitude":1,"longitude":1}`)
	svc.sub = attendance.Submission{Status: attendance.SubmissionRecorded}
	postJSON(r, "/v1/attendance", `{"token":"t","latitude":1,"longitude":1}`)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Submissions.WithLabelValues("rejected", "TOKEN_EXPIRED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Submissions.WithLabelValues("recorded", "")))
}

func TestReport(t *testing.T) {
	get := func(r http.Handler, path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}
	live := attendance.Report{Summary: attendance.Summary{Total: 3, Absent: 3, AbsentPct: 100}}

	t.Run("live", func(t *testing.T) {
		svc := &fakeService{rep: live}
		w := get(newRouter(New(svc, nil, nil)), "/v1/sessions/ses-1/report")
		require.Equal(t, http.StatusOK, w.Code)
		var rep attendance.Report
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rep))
		assert.Equal(t, "ses-1", rep.SessionRef)
		assert.Equal(t, 3, rep.Summary.Absent)
	})

	t.Run("cache hit", func(t *testing.T) {
		svc := &fakeService{rep: live}
		cached := attendance.Report{SessionRef: "ses-1", Summary: attendance.Summary{Total: 1, Present: 1, PresentPct: 100}}
		w := get(newRouter(New(svc, fakeCache{rep: cached}, nil)), "/v1/sessions/ses-1/report?cached=1")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Zero(t, svc.calls)
		assert.Contains(t, w.Body.String(), `"present":1`)
	})

	t.Run("cache miss falls back", func(t *testing.T) {
		svc := &fakeService{rep: live}
		w := get(newRouter(New(svc, fakeCache{err: reportcache.ErrMiss}, nil)), "/v1/sessions/ses-1/report?cached=1")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 1, svc.calls)
	})

	t.Run("cache error falls back", func(t *testing.T) {
		svc := &fakeService{rep: live}
		w := get(newRouter(New(svc, fakeCache{err: errors.New("redis down")}, nil)), "/v1/sessions/ses-1/report?cached=1")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 1, svc.calls)
	})

	t.Run("not found", func(t *testing.T) {
		svc := &fakeService{repErr: &attendance.Error{Code: attendance.CodeSessionNotFound, Op: "GenerateReport", Err: attendance.ErrSessionNotFound}}
		w := get(newRouter(New(svc, nil, nil)), "/v1/sessions/nope/report")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "SESSION_NOT_FOUND", errorCode(t, w))
	})

	t.Run("staff only", func(t *testing.T) {
		svc := &fakeService{rep: live}
		w := get(newRouter(New(svc, nil, nil), auth.StaffAuth("k", "", auth.RoleLecturer)), "/v1/sessions/ses-1/report")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Zero(t, svc.calls)
	})
}

func TestEndToEnd_SQLite(t *testing.T) {
	ctx := context.Background()
	db, err := store.NewSQLite(ctx, filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.Migrate(ctx, db))

	now := time.Now().UTC().Truncate(time.Second)
	repo := attendance.NewRepository(db.Client)
	require.NoError(t, repo.UpsertSession(ctx, attendance.Session{
		Ref:         "ses-e2e",
		LecturerRef: "lec-1",
		CourseRef:   "crs-1",
		ProgramRef:  "prog-1",
		Anchor:      geo.Point{Latitude: -1.2921, Longitude: 36.8219},
		OpensAt:     now.Add(-10 * time.Minute),
		ClosesAt:    now.Add(time.Hour),
	}))
	require.NoError(t, repo.UpsertEnrollment(ctx, attendance.Enrollment{StudentRef: "stu-1", ProgramRef: "prog-1"}))
	require.NoError(t, repo.UpsertEnrollment(ctx, attendance.Enrollment{StudentRef: "stu-2", ProgramRef: "prog-1"}))

	signer := token.NewSigner("e2e-key", "scheduler", "attendance", time.Hour)
	svc := attendance.NewService(token.NewVerifier("e2e-key", "scheduler", "attendance"), repo, repo, repo, nil, attendance.Options{
		Policy: attendance.DefaultPolicy(),
	})
	r := newRouter(New(svc, nil, nil), auth.StaffAuth("staff-key", "", auth.RoleLecturer))

	raw, _, err := signer.Issue("stu-1", "ses-e2e", now.Add(-time.Minute))
	require.NoError(t, err)
	body := `{"token":"` + raw + `","latitude":-1.2921,"longitude":36.8219}`

	w := postJSON(r, "/v1/attendance", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var first submitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	assert.Equal(t, attendance.SubmissionRecorded, first.Status)
	assert.Equal(t, attendance.StatusPresent, first.Classification)

	w = postJSON(r, "/v1/attendance", body)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"duplicate"`)

	staff, err := auth.Issue("lec-1", auth.RoleLecturer, "", "staff-key", time.Hour, time.Now())
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/ses-e2e/report", nil)
	req.Header.Set("Authorization", "Bearer "+staff.Token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var rep attendance.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rep))
	assert.Equal(t, attendance.Summary{Total: 2, Present: 1, Absent: 1, PresentPct: 50, AbsentPct: 50}, rep.Summary)
}
