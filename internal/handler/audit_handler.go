package handler

import (
	"net/http"

	"approvals/internal/service"
	"approvals/pkg/pagination"
	"approvals/pkg/response"

	"github.com/gin-gonic/gin"
)

type AuditHandler struct {
	auditService service.AuditService
	auth         gin.HandlerFunc
}

func NewAuditHandler(auditService service.AuditService, auth gin.HandlerFunc) *AuditHandler {
	return &AuditHandler{auditService: auditService, auth: auth}
}

func (h *AuditHandler) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/api/admin/audit-logs")
	group.Use(h.auth)
	{
		group.GET("", h.GetAuditLogs)
	}
}

// GetAuditLogs retrieves the approval audit trail across all requests, newest first
// @Summary      Get audit logs
// @Tags         audit
// @Security     BearerAuth
// @Produce      json
// @Param        page   query     int  false  "Page number (default 1)"
// @Param        limit  query     int  false  "Number of items per page (default 20)"
// @Success      200    {object}  response.PageResponse{data=[]service.AuditLogResponse}
// @Router       /api/admin/audit-logs [get]
func (h *AuditHandler) GetAuditLogs(c *gin.Context) {
	p := pagination.Parse(c)

	logs, total, err := h.auditService.GetAuditLogs(c.Request.Context(), p.Page, p.Limit)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Paginated(http.StatusOK, logs, total, p.Page, p.Limit))
}
