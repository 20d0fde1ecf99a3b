package service

import (
	"context"
	"strings"
	"time"

	"approvals/internal/model"
)

type ApproveRequestDTO struct {
	Comments string `json:"comments" validate:"max=2000"`
}

type RejectRequestDTO struct {
	Reason string `json:"reason" validate:"notblank,max=2000"`
}

// QuorumService drives the pending -> approved | rejected transitions.
// Approval needs RequiredApprovals distinct admins other than the requester;
// rejection needs RequiredRejections votes, one unless configured otherwise.
type QuorumService interface {
	ApproveRequest(ctx context.Context, id, adminID, comments string) (ApprovalRequestResponse, error)
	RejectRequest(ctx context.Context, id, adminID, reason string) (ApprovalRequestResponse, error)
}

type quorumService struct {
	Workflow
}

func NewQuorumService(w Workflow) QuorumService {
	return &quorumService{Workflow: w.withDefaults()}
}

func (s *quorumService) ApproveRequest(ctx context.Context, id, adminID, comments string) (ApprovalRequestResponse, error) {
	adminID = strings.TrimSpace(adminID)
	if adminID == "" {
		return ApprovalRequestResponse{}, forbiddenf("admin identity is missing")
	}
	if err := validateStruct(ApproveRequestDTO{Comments: comments}); err != nil {
		return ApprovalRequestResponse{}, err
	}
	reqID, err := parseRequestID(id)
	if err != nil {
		return ApprovalRequestResponse{}, err
	}

	updated, err := s.mutate(ctx, model.ActionApprove, reqID, func(req *model.ApprovalRequest, now time.Time) error {
		if req.IsTerminal() {
			return conflictf("request is already %s", req.Status)
		}
		if req.RequestedBy == adminID {
			return forbiddenf("the requester cannot approve their own request")
		}
		if req.HasApproval(adminID) {
			return conflictf("admin %s has already approved this request", adminID)
		}
		if req.HasRejectionVote(adminID) {
			return conflictf("admin %s has already voted to reject this request", adminID)
		}

		req.ApprovedBy = append(req.ApprovedBy, model.ApprovalVote{
			AdminID:    adminID,
			ApprovedAt: now,
			Comments:   comments,
		})
		if req.QuorumReached() {
			req.Status = model.StatusApproved
		}
		req.UpdatedAt = now
		return nil
	})
	if err != nil {
		return ApprovalRequestResponse{}, err
	}

	s.committed(ctx, adminID, model.ActionApprove, updated, map[string]interface{}{
		"comments":           comments,
		"approvals":          len(updated.ApprovedBy),
		"required_approvals": updated.RequiredApprovals,
		"status":             updated.Status,
	})

	return toApprovalResponse(updated), nil
}

// RejectRequest records a dissent. The requester may reject their own request
// to withdraw it. An admin holds at most one vote, approve or reject.
func (s *quorumService) RejectRequest(ctx context.Context, id, adminID, reason string) (ApprovalRequestResponse, error) {
	adminID = strings.TrimSpace(adminID)
	reason = strings.TrimSpace(reason)
	if adminID == "" {
		return ApprovalRequestResponse{}, forbiddenf("admin identity is missing")
	}
	if err := validateStruct(RejectRequestDTO{Reason: reason}); err != nil {
		return ApprovalRequestResponse{}, err
	}
	reqID, err := parseRequestID(id)
	if err != nil {
		return ApprovalRequestResponse{}, err
	}

	updated, err := s.mutate(ctx, model.ActionReject, reqID, func(req *model.ApprovalRequest, now time.Time) error {
		if req.IsTerminal() {
			return conflictf("request is already %s", req.Status)
		}
		if req.HasApproval(adminID) {
			return conflictf("admin %s has already approved this request", adminID)
		}

		if req.RequiredRejections > 1 {
			if req.HasRejectionVote(adminID) {
				return conflictf("admin %s has already voted to reject this request", adminID)
			}
			req.RejectionVotes = append(req.RejectionVotes, model.RejectionVote{
				AdminID:    adminID,
				Reason:     reason,
				RejectedAt: now,
			})
			if len(req.RejectionVotes) < req.RequiredRejections {
				req.UpdatedAt = now
				return nil
			}
		}

		rejectedBy := adminID
		rejectedAt := now
		req.Status = model.StatusRejected
		req.RejectedBy = &rejectedBy
		req.RejectionReason = reason
		req.RejectedAt = &rejectedAt
		req.UpdatedAt = now
		return nil
	})
	if err != nil {
		return ApprovalRequestResponse{}, err
	}

	s.committed(ctx, adminID, model.ActionReject, updated, map[string]interface{}{
		"reason":              reason,
		"rejections":          len(updated.RejectionVotes),
		"required_rejections": updated.RequiredRejections,
		"status":              updated.Status,
		"withdrawn":           adminID == updated.RequestedBy,
	})

	return toApprovalResponse(updated), nil
}
