package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"approvals/internal/alert"
	"approvals/internal/metrics"
	"approvals/internal/model"
	"approvals/internal/notify"
	"approvals/internal/repository"

	"github.com/google/uuid"
)

// Clock returns the current time. Tests inject fixed or stepping clocks.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }

// TargetDirectory is the data-owning collaborator that knows the protected
// resources (students, schools, ...) an approval request points at.
type TargetDirectory interface {
	Exists(ctx context.Context, targetType, targetID string) (bool, error)
	Fetch(ctx context.Context, targetType, targetID string, fields []string) (map[string]interface{}, error)
}

// Policy holds the workflow knobs a deployment may tune.
type Policy struct {
	TTL             time.Duration
	DefaultRequired int
	// RequiredByType overrides DefaultRequired per approval type.
	RequiredByType map[string]int
	// RejectQuorumByType sets how many rejections a type needs; absent means one.
	RejectQuorumByType map[string]int
	MaxCASAttempts     int
	SingleUseAccess    bool
}

func DefaultPolicy() Policy {
	return Policy{
		TTL:             72 * time.Hour,
		DefaultRequired: 2,
		MaxCASAttempts:  3,
	}
}

func (p Policy) requiredApprovals(approvalType string) int {
	if n, ok := p.RequiredByType[approvalType]; ok && n >= 1 {
		return n
	}
	return p.DefaultRequired
}

// minimumApprovals is the floor a request of this type may not go below. Only
// types with a configured quorum have one above a single sign-off.
func (p Policy) minimumApprovals(approvalType string) int {
	if n, ok := p.RequiredByType[approvalType]; ok && n >= 1 {
		return n
	}
	return 1
}

func (p Policy) requiredRejections(approvalType string) int {
	if n, ok := p.RejectQuorumByType[approvalType]; ok && n >= 1 {
		return n
	}
	return 1
}

// Workflow bundles the collaborators shared by the approval services.
type Workflow struct {
	Requests  repository.ApprovalRepository
	Audit     AuditService
	Directory TargetDirectory
	Notifier  notify.Notifier
	Alerter   alert.Alerter
	Tx        repository.TransactionManager
	Policy    Policy
	Clock     Clock
	Logger    *slog.Logger
}

type passthroughTx struct{}

func (passthroughTx) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func (w Workflow) withDefaults() Workflow {
	def := DefaultPolicy()
	if w.Policy.TTL <= 0 {
		w.Policy.TTL = def.TTL
	}
	if w.Policy.DefaultRequired < 1 {
		w.Policy.DefaultRequired = def.DefaultRequired
	}
	if w.Policy.MaxCASAttempts < 1 {
		w.Policy.MaxCASAttempts = def.MaxCASAttempts
	}
	if w.Clock == nil {
		w.Clock = systemClock
	}
	if w.Logger == nil {
		w.Logger = slog.Default()
	}
	if w.Notifier == nil {
		w.Notifier = notify.Nop{}
	}
	if w.Alerter == nil {
		w.Alerter = alert.NewLogAlerter(w.Logger)
	}
	if w.Tx == nil {
		w.Tx = passthroughTx{}
	}
	return w
}

// errSkip aborts a mutation without error when the request no longer
// qualifies for it.
var errSkip = errors.New("mutation not applicable")

// mutate applies fn to a fresh copy of the request and commits it with a
// compare-and-swap on the version read. A lost swap restarts the cycle from
// the read, up to Policy.MaxCASAttempts times.
func (w Workflow) mutate(ctx context.Context, op string, id uuid.UUID, fn func(req *model.ApprovalRequest, now time.Time) error) (*model.ApprovalRequest, error) {
	for attempt := 1; attempt <= w.Policy.MaxCASAttempts; attempt++ {
		req, err := w.Requests.FindByID(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("failed to load approval request: %w", err)
		}

		expected := req.Version
		if err := fn(req, w.Clock()); err != nil {
			return nil, err
		}

		err = w.Requests.CompareAndSwap(ctx, req, expected)
		if err == nil {
			return req, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, fmt.Errorf("failed to update approval request: %w", err)
		}
		metrics.CASConflicts.WithLabelValues(op).Inc()
		w.Logger.DebugContext(ctx, "compare-and-swap lost, retrying",
			"operation", op, "request_id", id.String(), "attempt", attempt)
	}

	metrics.RacesLost.WithLabelValues(op).Inc()
	return nil, ErrRaceLost
}

// recordBestEffort writes an audit entry for a transition that has already
// been committed. A failure raises an alert but does not undo the transition.
func (w Workflow) recordBestEffort(ctx context.Context, actorID, action string, req *model.ApprovalRequest, details map[string]interface{}) {
	if err := w.Audit.Record(ctx, actorID, action, req.ID, details); err != nil {
		metrics.AuditFailures.WithLabelValues(action).Inc()
		w.Alerter.Alert(ctx, "audit log write failed", err, map[string]interface{}{
			"action":     action,
			"request_id": req.ID.String(),
			"actor_id":   actorID,
		})
	}
}

// committed runs the bookkeeping that follows every committed transition.
func (w Workflow) committed(ctx context.Context, actorID, action string, req *model.ApprovalRequest, details map[string]interface{}) {
	w.recordBestEffort(ctx, actorID, action, req, details)
	metrics.Transitions.WithLabelValues(action, req.Status).Inc()

	event := notify.Event{
		Type:       notify.EventRequestUpdated,
		RequestID:  req.ID.String(),
		Action:     action,
		Status:     req.Status,
		Version:    req.Version,
		ActorID:    actorID,
		OccurredAt: req.UpdatedAt,
	}
	if err := w.Notifier.Notify(ctx, event); err != nil {
		w.Alerter.Alert(ctx, "change notification failed", err, map[string]interface{}{
			"action":     action,
			"request_id": req.ID.String(),
		})
	}

	w.Logger.InfoContext(ctx, "approval request "+action,
		"request_id", req.ID.String(), "actor_id", actorID, "status", req.Status, "version", req.Version)
}

func parseRequestID(id string) (uuid.UUID, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		// An id that cannot exist is reported like any other unknown id.
		return uuid.Nil, ErrNotFound
	}
	return parsed, nil
}
