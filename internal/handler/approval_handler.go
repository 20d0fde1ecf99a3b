package handler

import (
	"errors"
	"io"
	"net/http"

	"approvals/internal/middleware"
	"approvals/internal/service"
	"approvals/pkg/pagination"
	"approvals/pkg/response"

	"github.com/gin-gonic/gin"
)

type ApprovalHandler struct {
	approvalService service.ApprovalService
	quorumService   service.QuorumService
	accessService   service.AccessService
	auditService    service.AuditService
	auth            gin.HandlerFunc
}

func NewApprovalHandler(
	approvalService service.ApprovalService,
	quorumService service.QuorumService,
	accessService service.AccessService,
	auditService service.AuditService,
	auth gin.HandlerFunc,
) *ApprovalHandler {
	return &ApprovalHandler{
		approvalService: approvalService,
		quorumService:   quorumService,
		accessService:   accessService,
		auditService:    auditService,
		auth:            auth,
	}
}

func (h *ApprovalHandler) RegisterRoutes(router *gin.RouterGroup) {
	approvals := router.Group("/api/admin/approvals")
	approvals.Use(h.auth)
	{
		approvals.GET("/stats", h.GetStats)
		approvals.POST("/requests", h.CreateApprovalRequest)
		approvals.GET("/requests", h.ListApprovalRequests)
		approvals.GET("/requests/:id", h.GetApprovalRequest)
		approvals.GET("/requests/:id/audit", h.GetRequestAuditTrail)
		approvals.PUT("/requests/:id/approve", h.ApproveRequest)
		approvals.PUT("/requests/:id/reject", h.RejectRequest)
		approvals.POST("/requests/:id/access", h.AccessData)
	}
}

// bindOptionalJSON binds the body when there is one.
func bindOptionalJSON(c *gin.Context, obj interface{}) error {
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// CreateApprovalRequest files a new request for sensitive data access
// @Summary      Create approval request
// @Description  Files a request that must be signed off by requiredApprovals distinct admins other than the caller
// @Tags         approvals
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request  body      service.CreateApprovalRequestDTO  true  "Request"
// @Success      201      {object}  response.Response{data=service.ApprovalRequestResponse}
// @Failure      400      {object}  response.Response
// @Failure      403      {object}  response.Response
// @Router       /api/admin/approvals/requests [post]
func (h *ApprovalHandler) CreateApprovalRequest(c *gin.Context) {
	var req service.CreateApprovalRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	req.RequestedBy = middleware.UserID(c)

	result, err := h.approvalService.CreateApprovalRequest(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, result))
}

// ListApprovalRequests returns approval requests, optionally filtered by status
// @Summary      List approval requests
// @Tags         approvals
// @Security     BearerAuth
// @Produce      json
// @Param        status  query     string  false  "pending, approved, rejected, expired or all"
// @Param        page    query     int     false  "Page number (default 1)"
// @Param        limit   query     int     false  "Number of items per page (default 20)"
// @Success      200     {object}  response.PageResponse{data=[]service.ApprovalRequestResponse}
// @Failure      400     {object}  response.Response
// @Router       /api/admin/approvals/requests [get]
func (h *ApprovalHandler) ListApprovalRequests(c *gin.Context) {
	p := pagination.Parse(c)

	filter := service.ApprovalFilter{
		Status: c.Query("status"),
		Page:   p.Page,
		Limit:  p.Limit,
	}

	approvals, total, err := h.approvalService.ListApprovalRequests(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Paginated(http.StatusOK, approvals, total, p.Page, p.Limit))
}

// GetApprovalRequest returns a single approval request
// @Summary      Get approval request
// @Tags         approvals
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Request ID"
// @Success      200  {object}  response.Response{data=service.ApprovalRequestResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/admin/approvals/requests/{id} [get]
func (h *ApprovalHandler) GetApprovalRequest(c *gin.Context) {
	result, err := h.approvalService.GetApprovalRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// GetRequestAuditTrail returns every audit entry of one request, oldest first
// @Summary      Get request audit trail
// @Tags         approvals
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Request ID"
// @Success      200  {object}  response.Response{data=[]service.AuditLogResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/admin/approvals/requests/{id}/audit [get]
func (h *ApprovalHandler) GetRequestAuditTrail(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	// 404 for unknown requests rather than an empty trail
	if _, err := h.approvalService.GetApprovalRequest(ctx, id); err != nil {
		writeError(c, err)
		return
	}

	trail, err := h.auditService.ListForRequest(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, trail))
}

// GetStats returns request counts for the dashboard cards
// @Summary      Get approval stats
// @Tags         approvals
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=service.StatsResponse}
// @Router       /api/admin/approvals/stats [get]
func (h *ApprovalHandler) GetStats(c *gin.Context) {
	stats, err := h.approvalService.GetStats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, stats))
}

// ApproveRequest adds the caller's approval to a pending request
// @Summary      Approve request
// @Tags         approvals
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                     true   "Request ID"
// @Param        request  body      service.ApproveRequestDTO  false  "Comments"
// @Success      200      {object}  response.Response{data=service.ApprovalRequestResponse}
// @Failure      403      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Failure      503      {object}  response.Response
// @Router       /api/admin/approvals/requests/{id}/approve [put]
func (h *ApprovalHandler) ApproveRequest(c *gin.Context) {
	var req service.ApproveRequestDTO
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	result, err := h.quorumService.ApproveRequest(c.Request.Context(), c.Param("id"), middleware.UserID(c), req.Comments)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// RejectRequest records the caller's rejection of a pending request
// @Summary      Reject request
// @Tags         approvals
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                    true  "Request ID"
// @Param        request  body      service.RejectRequestDTO  true  "Reason"
// @Success      200      {object}  response.Response{data=service.ApprovalRequestResponse}
// @Failure      400      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Failure      503      {object}  response.Response
// @Router       /api/admin/approvals/requests/{id}/reject [put]
func (h *ApprovalHandler) RejectRequest(c *gin.Context) {
	var req service.RejectRequestDTO
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	result, err := h.quorumService.RejectRequest(c.Request.Context(), c.Param("id"), middleware.UserID(c), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// AccessData releases the protected data behind an approved request
// @Summary      Access protected data
// @Description  Only valid once the request is approved. The access is audited before any data is returned.
// @Tags         approvals
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                 true   "Request ID"
// @Param        request  body      service.AccessDataDTO  false  "Fields to return, empty for all"
// @Success      200      {object}  response.Response{data=service.AccessGrantResponse}
// @Failure      404      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Failure      503      {object}  response.Response
// @Router       /api/admin/approvals/requests/{id}/access [post]
func (h *ApprovalHandler) AccessData(c *gin.Context) {
	var req service.AccessDataDTO
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	result, err := h.accessService.AccessData(c.Request.Context(), c.Param("id"), middleware.UserID(c), req.Fields)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}
