package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"approvals/internal/model"
	"approvals/internal/repository"
)

// --- DTOs ---

type CreateApprovalRequestDTO struct {
	ApprovalType      string `json:"approvalType" validate:"required,oneof=student_data_drilldown export_data delete_user modify_settings"`
	TargetType        string `json:"targetType" validate:"required,oneof=student school organization platform"`
	TargetID          string `json:"targetId" validate:"notblank,max=100"`
	Justification     string `json:"justification" validate:"notblank,max=5000"`
	RequiredApprovals *int   `json:"requiredApprovals" validate:"omitnil,min=1"`
	RequestedBy       string `json:"-"`
}

type ApprovalFilter struct {
	Status string // pending, approved, rejected, expired or empty for all
	Page   int
	Limit  int
}

type ApprovalVoteResponse struct {
	AdminID    string `json:"adminId"`
	ApprovedAt string `json:"approvedAt"`
	Comments   string `json:"comments"`
}

type RejectionResponse struct {
	AdminID    string `json:"adminId"`
	Reason     string `json:"reason"`
	RejectedAt string `json:"rejectedAt"`
}

type ProgressResponse struct {
	Current  int `json:"current"`
	Required int `json:"required"`
}

type ApprovalRequestResponse struct {
	ID                 string                 `json:"id"`
	ApprovalType       string                 `json:"approvalType"`
	TargetType         string                 `json:"targetType"`
	TargetID           string                 `json:"targetId"`
	RequestedBy        string                 `json:"requestedBy"`
	Justification      string                 `json:"justification"`
	RequiredApprovals  int                    `json:"requiredApprovals"`
	ApprovedBy         []ApprovalVoteResponse `json:"approvedBy"`
	Rejection          *RejectionResponse     `json:"rejection,omitempty"`
	RequiredRejections int                    `json:"requiredRejections"`
	RejectionVotes     []RejectionResponse    `json:"rejectionVotes,omitempty"`
	Status             string                 `json:"status"`
	Progress           ProgressResponse       `json:"progress"`
	AccessCount        int                    `json:"accessCount"`
	Version            int64                  `json:"version"`
	CreatedAt          string                 `json:"createdAt"`
	UpdatedAt          string                 `json:"updatedAt"`
	ExpiresAt          string                 `json:"expiresAt"`
}

type StatusBreakdown struct {
	Approved int64 `json:"approved"`
	Rejected int64 `json:"rejected"`
	Expired  int64 `json:"expired"`
}

type StatsResponse struct {
	TotalRequests    int64           `json:"totalRequests"`
	PendingApprovals int64           `json:"pendingApprovals"`
	ByStatus         StatusBreakdown `json:"byStatus"`
}

// --- Interface ---

// ApprovalService is the registry of approval requests: creation, lookups and
// aggregate reads. State transitions live in QuorumService and ExpiryReaper.
type ApprovalService interface {
	CreateApprovalRequest(ctx context.Context, req CreateApprovalRequestDTO) (ApprovalRequestResponse, error)
	GetApprovalRequest(ctx context.Context, id string) (ApprovalRequestResponse, error)
	ListApprovalRequests(ctx context.Context, filter ApprovalFilter) ([]ApprovalRequestResponse, int64, error)
	GetStats(ctx context.Context) (StatsResponse, error)
}

type approvalService struct {
	Workflow
}

func NewApprovalService(w Workflow) ApprovalService {
	return &approvalService{Workflow: w.withDefaults()}
}

// --- Implementation ---

func (s *approvalService) CreateApprovalRequest(ctx context.Context, req CreateApprovalRequestDTO) (ApprovalRequestResponse, error) {
	req.ApprovalType = strings.TrimSpace(req.ApprovalType)
	req.TargetType = strings.TrimSpace(req.TargetType)
	req.TargetID = strings.TrimSpace(req.TargetID)
	req.Justification = strings.TrimSpace(req.Justification)
	req.RequestedBy = strings.TrimSpace(req.RequestedBy)

	if req.RequestedBy == "" {
		return ApprovalRequestResponse{}, forbiddenf("requester identity is missing")
	}
	if err := validateStruct(req); err != nil {
		return ApprovalRequestResponse{}, err
	}

	exists, err := s.Directory.Exists(ctx, req.TargetType, req.TargetID)
	if err != nil {
		return ApprovalRequestResponse{}, fmt.Errorf("failed to resolve target: %w", err)
	}
	if !exists {
		return ApprovalRequestResponse{}, NewValidationError(errInvalidInput,
			FieldError{Field: "targetId", Error: fmt.Sprintf("no %s with id %q", req.TargetType, req.TargetID)})
	}

	required := s.Policy.requiredApprovals(req.ApprovalType)
	if req.RequiredApprovals != nil {
		// A requester may ask for more sign-offs, never fewer than the type demands.
		required = max(*req.RequiredApprovals, s.Policy.minimumApprovals(req.ApprovalType))
	}

	now := s.Clock()
	approval := model.ApprovalRequest{
		ApprovalType:       req.ApprovalType,
		TargetType:         req.TargetType,
		TargetID:           req.TargetID,
		RequestedBy:        req.RequestedBy,
		Justification:      req.Justification,
		RequiredApprovals:  required,
		RequiredRejections: s.Policy.requiredRejections(req.ApprovalType),
		Status:             model.StatusPending,
		Version:            0,
		CreatedAt:          now,
		UpdatedAt:          now,
		ExpiresAt:          now.Add(s.Policy.TTL),
	}

	if err := s.Requests.Create(ctx, &approval); err != nil {
		return ApprovalRequestResponse{}, fmt.Errorf("failed to create approval request: %w", err)
	}

	s.committed(ctx, req.RequestedBy, model.ActionCreate, &approval, map[string]interface{}{
		"approval_type":      approval.ApprovalType,
		"target_type":        approval.TargetType,
		"target_id":          approval.TargetID,
		"required_approvals": approval.RequiredApprovals,
		"expires_at":         approval.ExpiresAt.Format(time.RFC3339),
	})

	return toApprovalResponse(&approval), nil
}

func (s *approvalService) GetApprovalRequest(ctx context.Context, id string) (ApprovalRequestResponse, error) {
	reqID, err := parseRequestID(id)
	if err != nil {
		return ApprovalRequestResponse{}, err
	}

	approval, err := s.Requests.FindByID(ctx, reqID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ApprovalRequestResponse{}, ErrNotFound
		}
		return ApprovalRequestResponse{}, fmt.Errorf("failed to load approval request: %w", err)
	}
	return toApprovalResponse(approval), nil
}

func (s *approvalService) ListApprovalRequests(ctx context.Context, filter ApprovalFilter) ([]ApprovalRequestResponse, int64, error) {
	filter.Status = strings.ToLower(strings.TrimSpace(filter.Status))
	if filter.Status == "all" {
		filter.Status = ""
	}
	if filter.Status != "" && !model.IsValidStatus(filter.Status) {
		return nil, 0, NewValidationError(errInvalidInput,
			FieldError{Field: "status", Error: "status must be one of pending, approved, rejected, expired"})
	}

	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}

	approvals, total, err := s.Requests.List(ctx, filter.Status, (filter.Page-1)*filter.Limit, filter.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch approval requests: %w", err)
	}

	result := make([]ApprovalRequestResponse, 0, len(approvals))
	for i := range approvals {
		result = append(result, toApprovalResponse(&approvals[i]))
	}
	return result, total, nil
}

func (s *approvalService) GetStats(ctx context.Context) (StatsResponse, error) {
	counts, err := s.Requests.CountByStatus(ctx)
	if err != nil {
		return StatsResponse{}, fmt.Errorf("failed to count approval requests: %w", err)
	}

	var stats StatsResponse
	for _, n := range counts {
		stats.TotalRequests += n
	}
	stats.PendingApprovals = counts[model.StatusPending]
	stats.ByStatus = StatusBreakdown{
		Approved: counts[model.StatusApproved],
		Rejected: counts[model.StatusRejected],
		Expired:  counts[model.StatusExpired],
	}
	return stats, nil
}

// --- Helpers ---

func toApprovalResponse(a *model.ApprovalRequest) ApprovalRequestResponse {
	resp := ApprovalRequestResponse{
		ID:                 a.ID.String(),
		ApprovalType:       a.ApprovalType,
		TargetType:         a.TargetType,
		TargetID:           a.TargetID,
		RequestedBy:        a.RequestedBy,
		Justification:      a.Justification,
		RequiredApprovals:  a.RequiredApprovals,
		ApprovedBy:         make([]ApprovalVoteResponse, 0, len(a.ApprovedBy)),
		RequiredRejections: a.RequiredRejections,
		Status:             a.Status,
		Progress:           ProgressResponse{Current: len(a.ApprovedBy), Required: a.RequiredApprovals},
		AccessCount:        a.AccessCount,
		Version:            a.Version,
		CreatedAt:          formatTime(a.CreatedAt),
		UpdatedAt:          formatTime(a.UpdatedAt),
		ExpiresAt:          formatTime(a.ExpiresAt),
	}

	for _, v := range a.ApprovedBy {
		resp.ApprovedBy = append(resp.ApprovedBy, ApprovalVoteResponse{
			AdminID:    v.AdminID,
			ApprovedAt: formatTime(v.ApprovedAt),
			Comments:   v.Comments,
		})
	}
	for _, v := range a.RejectionVotes {
		resp.RejectionVotes = append(resp.RejectionVotes, RejectionResponse{
			AdminID:    v.AdminID,
			Reason:     v.Reason,
			RejectedAt: formatTime(v.RejectedAt),
		})
	}
	if a.RejectedBy != nil {
		resp.Rejection = &RejectionResponse{AdminID: *a.RejectedBy, Reason: a.RejectionReason}
		if a.RejectedAt != nil {
			resp.Rejection.RejectedAt = formatTime(*a.RejectedAt)
		}
	}

	return resp
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
