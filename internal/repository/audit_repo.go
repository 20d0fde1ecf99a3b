package repository

import (
	"context"

	"approvals/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditRepository only ever inserts and reads; there is no update or delete.
type AuditRepository interface {
	Append(ctx context.Context, entry *model.AuditLog) error
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]model.AuditLog, error)
	List(ctx context.Context, offset, limit int) ([]model.AuditLog, int64, error)
}

type auditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Append(ctx context.Context, entry *model.AuditLog) error {
	return GetDB(ctx, r.db).Create(entry).Error
}

func (r *auditRepository) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]model.AuditLog, error) {
	var logs []model.AuditLog
	if err := GetDB(ctx, r.db).
		Where("request_id = ?", requestID).
		Order("created_at ASC").
		Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

func (r *auditRepository) List(ctx context.Context, offset, limit int) ([]model.AuditLog, int64, error) {
	var logs []model.AuditLog
	var total int64

	db := GetDB(ctx, r.db)
	if err := db.Model(&model.AuditLog{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := db.Order("created_at DESC").Offset(offset).Limit(limit).Find(&logs).Error; err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}
