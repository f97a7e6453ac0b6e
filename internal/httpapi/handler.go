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
	"github.com/chusseyoo/proj-sub001/internal/metrics"
	"github.com/chusseyoo/proj-sub001/internal/reportcache"
)

// Service is the attendance core used by the handlers.
type Service interface {
	SubmitAttendance(ctx context.Context, rawToken string, loc geo.Point, now time.Time) (attendance.Submission, error)
	GenerateReport(ctx context.Context, sessionRef string, now time.Time) (attendance.Report, error)
}

// ReportCache serves reports refreshed by the worker.
type ReportCache interface {
	Get(ctx context.Context, sessionRef string) (attendance.Report, error)
}

// Handler exposes the attendance core over HTTP.
type Handler struct {
	svc     Service
	cache   ReportCache
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a handler. cache and m may be nil.
func New(svc Service, cache ReportCache, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, cache: cache, metrics: m, now: time.Now}
}

// Register mounts the attendance routes. staff guards the report endpoint.
func (h *Handler) Register(r gin.IRouter, staff ...gin.HandlerFunc) {
	v1 := r.Group("/v1")
	v1.POST("/attendance", h.submit)
	v1.GET("/sessions/:id/report", append(staff, h.report)...)
}

type submitRequest struct {
	Token     string   `json:"token" binding:"required"`
	Latitude  *float64 `json:"latitude" binding:"required"`
	Longitude *float64 `json:"longitude" binding:"required"`
}

type submitResponse struct {
	Status         attendance.SubmissionStatus `json:"status"`
	WithinRadius   bool                        `json:"within_radius"`
	DistanceMeters float64                     `json:"distance_meters"`
	Classification attendance.Status           `json:"classification"`
	Record         attendance.Record           `json:"record"`
}

func (h *Handler) submit(c *gin.Context) {
	start := time.Now()
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, attendance.CodeInvalidRequest, "token, latitude and longitude are required")
		return
	}
	loc := geo.Point{Latitude: *req.Latitude, Longitude: *req.Longitude}

	sub, err := h.svc.SubmitAttendance(c.Request.Context(), req.Token, loc, h.now())
	if err != nil {
		code := attendance.CodeOf(err)
		h.metrics.ObserveSubmission("failed", string(code), time.Since(start))
		logFailure("submit", code, err)
		writeError(c, code, "")
		return
	}
	if sub.Status == attendance.SubmissionRejected {
		h.metrics.ObserveSubmission(string(sub.Status), string(sub.Reason), time.Since(start))
		writeError(c, sub.Reason, "")
		return
	}

	h.metrics.ObserveSubmission(string(sub.Status), "", time.Since(start))
	status := http.StatusCreated
	if sub.Status == attendance.SubmissionDuplicate {
		status = http.StatusOK
	}
	c.JSON(status, submitResponse{
		Status:         sub.Status,
		WithinRadius:   sub.WithinRadius,
		DistanceMeters: sub.DistanceMeters,
		Classification: sub.Classification,
		Record:         sub.Record,
	})
}

func (h *Handler) report(c *gin.Context) {
	ref := c.Param("id")
	ctx := c.Request.Context()

	if c.Query("cached") == "1" && h.cache != nil {
		rep, err := h.cache.Get(ctx, ref)
		switch {
		case err == nil:
			h.metrics.ObserveCache("hit")
			h.metrics.ObserveReport("cache")
			c.JSON(http.StatusOK, rep)
			return
		case errors.Is(err, reportcache.ErrMiss):
			h.metrics.ObserveCache("miss")
		default:
			h.metrics.ObserveCache("error")
			log.Printf("report cache read for %s failed: %v", ref, err)
		}
	}

	rep, err := h.svc.GenerateReport(ctx, ref, h.now())
	if err != nil {
		code := attendance.CodeOf(err)
		logFailure("report", code, err)
		writeError(c, code, "")
		return
	}
	h.metrics.ObserveReport("live")
	c.JSON(http.StatusOK, rep)
}

func logFailure(op string, code attendance.Code, err error) {
	switch {
	case code.Retryable():
		log.Printf("%s: dependency failure %s: %v", op, code, err)
	case code == attendance.CodeInternal:
		log.Printf("invariant violation: %s: %v", op, err)
	}
}
