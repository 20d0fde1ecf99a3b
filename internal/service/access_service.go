package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"approvals/internal/metrics"
	"approvals/internal/model"
	"approvals/internal/repository"

	"github.com/google/uuid"
)

type AccessDataDTO struct {
	Fields []string `json:"fields" validate:"omitempty,max=50,dive,max=100"`
}

// AccessGrantResponse is the audited release of protected data.
type AccessGrantResponse struct {
	RequestID  string                 `json:"requestId"`
	TargetType string                 `json:"targetType"`
	TargetID   string                 `json:"targetId"`
	AccessedBy string                 `json:"accessedBy"`
	Fields     []string               `json:"fields"`
	GrantedAt  string                 `json:"grantedAt"`
	Data       map[string]interface{} `json:"data"`
}

// AccessService releases the protected data behind an approved request.
// Nothing is returned unless the access has been written to the audit log.
type AccessService interface {
	AccessData(ctx context.Context, id, actorID string, fields []string) (AccessGrantResponse, error)
}

type accessService struct {
	Workflow
}

func NewAccessService(w Workflow) AccessService {
	return &accessService{Workflow: w.withDefaults()}
}

func (s *accessService) AccessData(ctx context.Context, id, actorID string, fields []string) (AccessGrantResponse, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return AccessGrantResponse{}, forbiddenf("actor identity is missing")
	}
	fields = normalizeFields(fields)
	if err := validateStruct(AccessDataDTO{Fields: fields}); err != nil {
		return AccessGrantResponse{}, err
	}
	reqID, err := parseRequestID(id)
	if err != nil {
		return AccessGrantResponse{}, err
	}

	req, err := s.Requests.FindByID(ctx, reqID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return AccessGrantResponse{}, ErrNotFound
		}
		return AccessGrantResponse{}, fmt.Errorf("failed to load approval request: %w", err)
	}
	if err := s.checkGrantable(req); err != nil {
		metrics.AccessGrants.WithLabelValues("denied").Inc()
		return AccessGrantResponse{}, err
	}

	data, err := s.Directory.Fetch(ctx, req.TargetType, req.TargetID, fields)
	if err != nil {
		metrics.AccessGrants.WithLabelValues("failed").Inc()
		return AccessGrantResponse{}, fmt.Errorf("failed to fetch protected data: %w", err)
	}

	var grantedAt time.Time
	err = s.Tx.RunInTx(ctx, func(txCtx context.Context) error {
		updated, err := s.recordAccess(txCtx, reqID)
		if err != nil {
			return err
		}
		req = updated
		grantedAt = *req.LastAccessedAt

		details := map[string]interface{}{
			"fields":       fields,
			"target_type":  req.TargetType,
			"target_id":    req.TargetID,
			"access_count": req.AccessCount,
		}
		if err := s.Audit.Record(txCtx, actorID, model.ActionAccess, req.ID, details); err != nil {
			metrics.AuditFailures.WithLabelValues(model.ActionAccess).Inc()
			s.Alerter.Alert(txCtx, "audit log write failed, access withheld", err, map[string]interface{}{
				"action":     model.ActionAccess,
				"request_id": req.ID.String(),
				"actor_id":   actorID,
			})
			return fmt.Errorf("%w: %v", ErrAuditUnavailable, err)
		}
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrStateConflict), errors.Is(err, ErrNotFound):
			metrics.AccessGrants.WithLabelValues("denied").Inc()
		default:
			metrics.AccessGrants.WithLabelValues("failed").Inc()
		}
		return AccessGrantResponse{}, err
	}

	metrics.AccessGrants.WithLabelValues("granted").Inc()
	s.Logger.InfoContext(ctx, "protected data released",
		"request_id", req.ID.String(), "actor_id", actorID, "target_type", req.TargetType, "access_count", req.AccessCount)

	if data == nil {
		data = map[string]interface{}{}
	}
	if fields == nil {
		fields = []string{}
	}
	return AccessGrantResponse{
		RequestID:  req.ID.String(),
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		AccessedBy: actorID,
		Fields:     fields,
		GrantedAt:  formatTime(grantedAt),
		Data:       data,
	}, nil
}

// recordAccess bumps the access bookkeeping inside the caller's transaction.
// Single-use grants must claim the access exactly once, so they swap on
// version. Repeat grants only increment the counter and never conflict with
// each other.
func (s *accessService) recordAccess(ctx context.Context, id uuid.UUID) (*model.ApprovalRequest, error) {
	if s.Policy.SingleUseAccess {
		return s.mutate(ctx, model.ActionAccess, id, func(r *model.ApprovalRequest, now time.Time) error {
			if err := s.checkGrantable(r); err != nil {
				return err
			}
			r.AccessCount++
			r.LastAccessedAt = &now
			r.UpdatedAt = now
			return nil
		})
	}

	now := s.Clock()
	if err := s.Requests.IncrementAccess(ctx, id, now); err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("failed to record access: %w", err)
		}
		// Missing entirely, or moved out of approved since the pre-check.
		current, findErr := s.Requests.FindByID(ctx, id)
		if findErr != nil {
			if errors.Is(findErr, repository.ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("failed to load approval request: %w", findErr)
		}
		if err := s.checkGrantable(current); err != nil {
			return nil, err
		}
		return nil, conflictf("request changed while access was recorded")
	}

	updated, err := s.Requests.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load approval request: %w", err)
	}
	updated.LastAccessedAt = &now
	return updated, nil
}

func (s *accessService) checkGrantable(req *model.ApprovalRequest) error {
	if req.Status != model.StatusApproved {
		return conflictf("request is %s, access requires approval", req.Status)
	}
	if s.Policy.SingleUseAccess && req.AccessCount > 0 {
		return conflictf("access for this request has already been used")
	}
	return nil
}

// normalizeFields trims, drops blanks and de-duplicates while keeping order.
// An empty result means every field.
func normalizeFields(fields []string) []string {
	if len(fields) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
