package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ActionCreate  = "create"
	ActionApprove = "approve"
	ActionReject  = "reject"
	ActionAccess  = "access"
	ActionExpire  = "expire"
)

// SystemActor is recorded as the actor for transitions made by background jobs.
const SystemActor = "system"

// AuditLog is an append-only record of Who did What to Which request, and When.
// Rows are inserted and never updated or deleted.
type AuditLog struct {
	ID        uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	RequestID uuid.UUID         `gorm:"type:uuid;not null;index" json:"request_id"`
	ActorID   string            `gorm:"type:varchar(100);not null;index" json:"actor_id"`
	Action    string            `gorm:"type:varchar(20);not null;index" json:"action"`
	Details   datatypes.JSONMap `gorm:"type:jsonb" json:"details"`
	CreatedAt time.Time         `gorm:"index" json:"created_at"`
}

// TableName keeps audit rows of this workflow apart from other audit tables
// living in the same database.
func (AuditLog) TableName() string {
	return "approval_audit_logs"
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
