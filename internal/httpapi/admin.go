package httpapi

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chusseyoo/proj-sub001/internal/attendance"
	"github.com/chusseyoo/proj-sub001/internal/geo"
)

// Catalog is the session and roster store behind the admin routes.
type Catalog interface {
	GetSession(ctx context.Context, sessionRef string) (attendance.Session, error)
	UpsertSession(ctx context.Context, s attendance.Session) error
	UpsertEnrollment(ctx context.Context, e attendance.Enrollment) error
	ListEligibleStudents(ctx context.Context, s attendance.Session) ([]string, error)
}

// LinkIssuer signs one attendance token per student and session.
type LinkIssuer interface {
	Issue(studentRef, sessionRef string, now time.Time) (string, time.Time, error)
}

// ReportInvalidator drops cached reports for a session.
type ReportInvalidator interface {
	Invalidate(ctx context.Context, sessionRef string) error
}

// Admin serves the routes the scheduling side uses to publish sessions,
// enrollments and attendance links.
type Admin struct {
	catalog Catalog
	links   LinkIssuer
	reports ReportInvalidator
	now     func() time.Time
}

// NewAdmin wires the admin routes. reports may be nil.
func NewAdmin(catalog Catalog, links LinkIssuer, reports ReportInvalidator) *Admin {
	return &Admin{catalog: catalog, links: links, reports: reports, now: time.Now}
}

// Register mounts the admin routes. admin guards writes, staff guards link
// issuance.
func (a *Admin) Register(r gin.IRouter, admin, staff gin.HandlerFunc) {
	w := r.Group("/v1/admin", admin)
	w.PUT("/sessions/:id", a.putSession)
	w.PUT("/enrollments/:student", a.putEnrollment)
	r.POST("/v1/sessions/:id/links", staff, a.issueLinks)
}

type sessionRequest struct {
	LecturerRef string    `json:"lecturer_ref" binding:"required"`
	CourseRef   string    `json:"course_ref" binding:"required"`
	ProgramRef  string    `json:"program_ref" binding:"required"`
	StreamRef   string    `json:"stream_ref"`
	Latitude    *float64  `json:"latitude" binding:"required"`
	Longitude   *float64  `json:"longitude" binding:"required"`
	OpensAt     time.Time `json:"opens_at" binding:"required"`
	ClosesAt    time.Time `json:"closes_at" binding:"required"`
}

func (a *Admin) putSession(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, attendance.CodeInvalidRequest, err.Error())
		return
	}
	s := attendance.Session{
		Ref:         c.Param("id"),
		LecturerRef: req.LecturerRef,
		CourseRef:   req.CourseRef,
		ProgramRef:  req.ProgramRef,
		StreamRef:   req.StreamRef,
		Anchor:      geo.Point{Latitude: *req.Latitude, Longitude: *req.Longitude},
		OpensAt:     req.OpensAt.UTC(),
		ClosesAt:    req.ClosesAt.UTC(),
	}
	if err := s.Validate(); err != nil {
		writeError(c, attendance.CodeInvalidRequest, err.Error())
		return
	}
	if err := a.catalog.UpsertSession(c.Request.Context(), s); err != nil {
		log.Printf("upsert session %s failed: %v", s.Ref, err)
		writeError(c, attendance.CodeStorageUnavailable, "")
		return
	}
	// a republished session invalidates whatever report was cached for it
	if a.reports != nil {
		if err := a.reports.Invalidate(c.Request.Context(), s.Ref); err != nil {
			log.Printf("invalidate cached report for %s failed: %v", s.Ref, err)
		}
	}
	c.Status(http.StatusNoContent)
}

type enrollmentRequest struct {
	ProgramRef string `json:"program_ref" binding:"required"`
	StreamRef  string `json:"stream_ref"`
}

func (a *Admin) putEnrollment(c *gin.Context) {
	var req enrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, attendance.CodeInvalidRequest, err.Error())
		return
	}
	e := attendance.Enrollment{StudentRef: c.Param("student"), ProgramRef: req.ProgramRef, StreamRef: req.StreamRef}
	if err := a.catalog.UpsertEnrollment(c.Request.Context(), e); err != nil {
		log.Printf("upsert enrollment %s failed: %v", e.StudentRef, err)
		writeError(c, attendance.CodeStorageUnavailable, "")
		return
	}
	c.Status(http.StatusNoContent)
}

type link struct {
	StudentRef string    `json:"student_ref"`
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// issueLinks signs a token for every eligible student of an open session.
// Tokens carry only the (student, session) pair, so calling it again re-signs
// the same grants with a fresh expiry; recording stays at most once per pair.
func (a *Admin) issueLinks(c *gin.Context) {
	ctx := c.Request.Context()
	ref := c.Param("id")
	now := a.now()

	s, err := a.catalog.GetSession(ctx, ref)
	if errors.Is(err, attendance.ErrSessionNotFound) {
		writeError(c, attendance.CodeSessionNotFound, "")
		return
	}
	if err != nil {
		log.Printf("load session %s failed: %v", ref, err)
		writeError(c, attendance.CodeSessionUnavailable, "")
		return
	}
	if now.Before(s.OpensAt) {
		writeError(c, attendance.CodeSessionClosed, "session is not open yet")
		return
	}
	if !s.Open(now) {
		writeError(c, attendance.CodeSessionClosed, "")
		return
	}
	students, err := a.catalog.ListEligibleStudents(ctx, s)
	if err != nil {
		log.Printf("list roster for %s failed: %v", ref, err)
		writeError(c, attendance.CodeRosterUnavailable, "")
		return
	}

	links := make([]link, 0, len(students))
	for _, student := range students {
		tok, exp, err := a.links.Issue(student, s.Ref, now)
		if err != nil {
			log.Printf("invariant violation: sign link for %s/%s: %v", student, s.Ref, err)
			writeError(c, attendance.CodeInternal, "")
			return
		}
		links = append(links, link{StudentRef: student, Token: tok, ExpiresAt: exp})
	}
	c.JSON(http.StatusOK, gin.H{"session_ref": s.Ref, "links": links})
}
