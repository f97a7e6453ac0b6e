package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chusseyoo/proj-sub001/internal/attendance"
)

// RetryAfterSeconds is advertised on 503 responses.
const RetryAfterSeconds = "5"

var messages = map[attendance.Code]string{
	attendance.CodeTokenInvalid:       "attendance link is not valid",
	attendance.CodeTokenExpired:       "attendance link has expired",
	attendance.CodeTokenTypeMismatch:  "token is not an attendance link",
	attendance.CodeSessionClosed:      "session is not open",
	attendance.CodeIneligible:         "student is not enrolled for this session",
	attendance.CodeRosterUnavailable:  "roster temporarily unavailable, retry later",
	attendance.CodeSessionUnavailable: "session lookup temporarily unavailable, retry later",
	attendance.CodeStorageUnavailable: "storage temporarily unavailable, retry later",
	attendance.CodeSessionNotFound:    "session not found",
	attendance.CodeInvalidRequest:     "invalid request",
	attendance.CodeInternal:           "internal error",
}

// StatusFor maps an outcome code to its HTTP status.
func StatusFor(code attendance.Code) int {
	switch code {
	case attendance.CodeTokenInvalid, attendance.CodeTokenExpired, attendance.CodeTokenTypeMismatch:
		return http.StatusUnauthorized
	case attendance.CodeSessionClosed, attendance.CodeIneligible:
		return http.StatusForbidden
	case attendance.CodeSessionNotFound:
		return http.StatusNotFound
	case attendance.CodeInvalidRequest:
		return http.StatusBadRequest
	}
	if code.Retryable() {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, code attendance.Code, msg string) {
	if msg == "" {
		msg = messages[code]
	}
	status := StatusFor(code)
	if status == http.StatusServiceUnavailable {
		c.Header("Retry-After", RetryAfterSeconds)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"code": code, "message": msg}})
}
