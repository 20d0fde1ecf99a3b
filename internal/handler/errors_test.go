package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"approvals/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		retryAfter bool
	}{
		{
			name:       "validation",
			err:        service.NewValidationError(errors.New("invalid input"), service.FieldError{Field: "reason", Error: "reason must not be blank"}),
			wantStatus: http.StatusBadRequest,
			wantCode:   codeValidation,
		},
		{name: "not found", err: service.ErrNotFound, wantStatus: http.StatusNotFound, wantCode: codeNotFound},
		{name: "conflict", err: fmt.Errorf("%w: already approved", service.ErrStateConflict), wantStatus: http.StatusConflict, wantCode: codeStateConflict},
		{name: "forbidden", err: fmt.Errorf("%w: self approval", service.ErrForbidden), wantStatus: http.StatusForbidden, wantCode: codeAuthorization},
		{name: "race lost", err: service.ErrRaceLost, wantStatus: http.StatusServiceUnavailable, wantCode: codeRaceLost, retryAfter: true},
		{name: "audit down", err: fmt.Errorf("%w: disk full", service.ErrAuditUnavailable), wantStatus: http.StatusServiceUnavailable, wantCode: codeAuditDown, retryAfter: true},
		{name: "unexpected", err: errors.New("connection reset"), wantStatus: http.StatusInternalServerError, wantCode: codeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rec)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			writeError(c, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			var body struct {
				Status string `json:"status"`
				Code   string `json:"code"`
				Error  string `json:"error"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "error", body.Status)
			assert.Equal(t, tt.wantCode, body.Code)
			assert.NotEmpty(t, body.Error)
			if tt.retryAfter {
				assert.Equal(t, "1", rec.Header().Get("Retry-After"))
			} else {
				assert.Empty(t, rec.Header().Get("Retry-After"))
			}
		})
	}
}
