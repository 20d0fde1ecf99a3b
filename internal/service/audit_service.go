package service

import (
	"context"
	"fmt"
	"time"

	"approvals/internal/model"
	"approvals/internal/repository"

	"github.com/google/uuid"
)

type AuditLogResponse struct {
	ID        string                 `json:"id"`
	RequestID string                 `json:"requestId"`
	ActorID   string                 `json:"actorId"`
	Action    string                 `json:"action"`
	Details   map[string]interface{} `json:"details"`
	Timestamp string                 `json:"timestamp"`
}

// AuditService is the append-only trail of every action taken against an
// approval request.
type AuditService interface {
	Record(ctx context.Context, actorID, action string, requestID uuid.UUID, details map[string]interface{}) error
	ListForRequest(ctx context.Context, requestID string) ([]AuditLogResponse, error)
	GetAuditLogs(ctx context.Context, page, limit int) ([]AuditLogResponse, int64, error)
}

type auditService struct {
	repo  repository.AuditRepository
	clock Clock
}

// NewAuditService creates a new AuditService instance
func NewAuditService(repo repository.AuditRepository, clock Clock) AuditService {
	if clock == nil {
		clock = systemClock
	}
	return &auditService{repo: repo, clock: clock}
}

func (s *auditService) Record(ctx context.Context, actorID, action string, requestID uuid.UUID, details map[string]interface{}) error {
	entry := model.AuditLog{
		RequestID: requestID,
		ActorID:   actorID,
		Action:    action,
		Details:   details,
		CreatedAt: s.clock(),
	}
	if err := s.repo.Append(ctx, &entry); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

func (s *auditService) ListForRequest(ctx context.Context, requestID string) ([]AuditLogResponse, error) {
	id, err := parseRequestID(requestID)
	if err != nil {
		return nil, err
	}

	logs, err := s.repo.ListByRequest(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch audit trail: %w", err)
	}
	return toAuditResponses(logs), nil
}

// GetAuditLogs retrieves audit entries across all requests, newest first.
func (s *auditService) GetAuditLogs(ctx context.Context, page, limit int) ([]AuditLogResponse, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	logs, total, err := s.repo.List(ctx, (page-1)*limit, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch audit logs: %w", err)
	}
	return toAuditResponses(logs), total, nil
}

func toAuditResponses(logs []model.AuditLog) []AuditLogResponse {
	res := make([]AuditLogResponse, 0, len(logs))
	for _, l := range logs {
		details := map[string]interface{}(l.Details)
		if details == nil {
			details = map[string]interface{}{}
		}
		res = append(res, AuditLogResponse{
			ID:        l.ID.String(),
			RequestID: l.RequestID.String(),
			ActorID:   l.ActorID,
			Action:    l.Action,
			Details:   details,
			Timestamp: l.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return res
}
