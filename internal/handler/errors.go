package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"approvals/internal/service"
	"approvals/pkg/response"

	"github.com/gin-gonic/gin"
)

const (
	codeValidation    = "validation_error"
	codeNotFound      = "not_found"
	codeStateConflict = "state_conflict"
	codeAuthorization = "authorization_error"
	codeRaceLost      = "race_lost"
	codeAuditDown     = "audit_unavailable"
	codeInternal      = "internal_error"

	retryAfterSeconds = 1
)

// writeError maps service errors onto the response envelope. Anything not in
// the taxonomy is logged and reported as a bare 500.
func writeError(c *gin.Context, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		resp := response.ErrorWithCode(http.StatusBadRequest, codeValidation, verr.Error())
		if len(verr.Fields) > 0 {
			resp.Fields = verr.Fields
		}
		c.JSON(http.StatusBadRequest, resp)
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, response.ErrorWithCode(http.StatusNotFound, codeNotFound, err.Error()))
	case errors.Is(err, service.ErrStateConflict):
		c.JSON(http.StatusConflict, response.ErrorWithCode(http.StatusConflict, codeStateConflict, err.Error()))
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, response.ErrorWithCode(http.StatusForbidden, codeAuthorization, err.Error()))
	case errors.Is(err, service.ErrRaceLost):
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
		c.JSON(http.StatusServiceUnavailable, response.ErrorWithCode(http.StatusServiceUnavailable, codeRaceLost, err.Error()))
	case errors.Is(err, service.ErrAuditUnavailable):
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
		c.JSON(http.StatusServiceUnavailable, response.ErrorWithCode(http.StatusServiceUnavailable, codeAuditDown, service.ErrAuditUnavailable.Error()))
	default:
		slog.ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, response.ErrorWithCode(http.StatusInternalServerError, codeInternal, "Internal server error"))
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, response.ErrorWithCode(http.StatusBadRequest, codeValidation, msg))
}
