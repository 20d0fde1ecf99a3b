package repository

import (
	"context"
	"errors"
	"time"

	"approvals/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when no row matches the lookup.
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict is returned by CompareAndSwap when the stored version
	// moved since the caller read the record.
	ErrVersionConflict = errors.New("version conflict")
)

type ApprovalRepository interface {
	Create(ctx context.Context, req *model.ApprovalRequest) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.ApprovalRequest, error)
	List(ctx context.Context, status string, offset, limit int) ([]model.ApprovalRequest, int64, error)
	CountByStatus(ctx context.Context) (map[string]int64, error)
	FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]model.ApprovalRequest, error)
	CompareAndSwap(ctx context.Context, req *model.ApprovalRequest, expectedVersion int64) error
	IncrementAccess(ctx context.Context, id uuid.UUID, at time.Time) error
}

type approvalRepository struct {
	db *gorm.DB
}

func NewApprovalRepository(db *gorm.DB) ApprovalRepository {
	return &approvalRepository{db: db}
}

func (r *approvalRepository) Create(ctx context.Context, req *model.ApprovalRequest) error {
	return GetDB(ctx, r.db).Create(req).Error
}

func (r *approvalRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.ApprovalRequest, error) {
	var req model.ApprovalRequest
	if err := GetDB(ctx, r.db).First(&req, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &req, nil
}

func (r *approvalRepository) List(ctx context.Context, status string, offset, limit int) ([]model.ApprovalRequest, int64, error) {
	var requests []model.ApprovalRequest
	var total int64

	byStatus := func(db *gorm.DB) *gorm.DB {
		if status != "" {
			return db.Where("status = ?", status)
		}
		return db
	}

	db := GetDB(ctx, r.db)
	if err := db.Model(&model.ApprovalRequest{}).Scopes(byStatus).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := db.Scopes(byStatus).Order("created_at DESC").Offset(offset).Limit(limit).Find(&requests).Error; err != nil {
		return nil, 0, err
	}

	return requests, total, nil
}

func (r *approvalRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	if err := GetDB(ctx, r.db).Model(&model.ApprovalRequest{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// FindExpiredPending returns up to limit pending requests whose deadline is
// before now, oldest deadline first.
func (r *approvalRepository) FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]model.ApprovalRequest, error) {
	var requests []model.ApprovalRequest
	if err := GetDB(ctx, r.db).
		Where("status = ? AND expires_at < ?", model.StatusPending, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&requests).Error; err != nil {
		return nil, err
	}
	return requests, nil
}

// CompareAndSwap persists the mutable fields of req only if the stored row is
// still at expectedVersion. On success req.Version is advanced.
func (r *approvalRepository) CompareAndSwap(ctx context.Context, req *model.ApprovalRequest, expectedVersion int64) error {
	next := expectedVersion + 1
	res := GetDB(ctx, r.db).Model(&model.ApprovalRequest{}).
		Where("id = ? AND version = ?", req.ID, expectedVersion).
		Updates(map[string]interface{}{
			"status":           req.Status,
			"approved_by":      req.ApprovedBy,
			"rejection_votes":  req.RejectionVotes,
			"rejected_by":      req.RejectedBy,
			"rejection_reason": req.RejectionReason,
			"rejected_at":      req.RejectedAt,
			"access_count":     req.AccessCount,
			"last_accessed_at": req.LastAccessedAt,
			"updated_at":       req.UpdatedAt,
			"version":          next,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	req.Version = next
	return nil
}

// IncrementAccess bumps the access counter of an approved request in place.
// It leaves version alone so concurrent readers never conflict. ErrNotFound
// means the request is missing or no longer approved.
func (r *approvalRepository) IncrementAccess(ctx context.Context, id uuid.UUID, at time.Time) error {
	res := GetDB(ctx, r.db).Model(&model.ApprovalRequest{}).
		Where("id = ? AND status = ?", id, model.StatusApproved).
		Updates(map[string]interface{}{
			"access_count":     gorm.Expr("access_count + ?", 1),
			"last_accessed_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
