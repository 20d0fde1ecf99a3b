package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ApprovalStatus enum constants
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
	StatusExpired  = "expired"
)

// ApprovalType enum constants
const (
	ApprovalTypeStudentDataDrilldown = "student_data_drilldown"
	ApprovalTypeExportData           = "export_data"
	ApprovalTypeDeleteUser           = "delete_user"
	ApprovalTypeModifySettings       = "modify_settings"
)

// TargetType enum constants
const (
	TargetStudent      = "student"
	TargetSchool       = "school"
	TargetOrganization = "organization"
	TargetPlatform     = "platform"
)

// ApprovalVote is a single admin's sign-off on a request.
type ApprovalVote struct {
	AdminID    string    `json:"adminId"`
	ApprovedAt time.Time `json:"approvedAt"`
	Comments   string    `json:"comments,omitempty"`
}

// RejectionVote is a single admin's dissent. Only collected while the
// request's rejection quorum is larger than one.
type RejectionVote struct {
	AdminID    string    `json:"adminId"`
	Reason     string    `json:"reason"`
	RejectedAt time.Time `json:"rejectedAt"`
}

// ApprovalRequest is a request for access to sensitive data that must be
// signed off by RequiredApprovals distinct admins other than the requester.
// Every state change goes through a compare-and-swap on Version. Repeat
// access bookkeeping is the exception and never moves Version.
type ApprovalRequest struct {
	ID                 uuid.UUID                          `gorm:"type:uuid;primaryKey" json:"id"`
	ApprovalType       string                             `gorm:"type:varchar(40);not null;index" json:"approval_type"`
	TargetType         string                             `gorm:"type:varchar(20);not null" json:"target_type"`
	TargetID           string                             `gorm:"type:varchar(100);not null;index" json:"target_id"`
	RequestedBy        string                             `gorm:"type:varchar(100);not null;index" json:"requested_by"`
	Justification      string                             `gorm:"type:text;not null" json:"justification"`
	RequiredApprovals  int                                `gorm:"not null;default:2" json:"required_approvals"`
	RequiredRejections int                                `gorm:"not null;default:1" json:"required_rejections"`
	ApprovedBy         datatypes.JSONSlice[ApprovalVote]  `gorm:"type:jsonb" json:"approved_by"`
	RejectionVotes     datatypes.JSONSlice[RejectionVote] `gorm:"type:jsonb" json:"rejection_votes"`
	RejectedBy         *string                            `gorm:"type:varchar(100)" json:"rejected_by"`
	RejectionReason    string                             `gorm:"type:text" json:"rejection_reason"`
	RejectedAt         *time.Time                         `json:"rejected_at"`
	Status             string                             `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	AccessCount        int                                `gorm:"not null;default:0" json:"access_count"`
	LastAccessedAt     *time.Time                         `json:"last_accessed_at"`
	Version            int64                              `gorm:"not null;default:0" json:"version"`
	CreatedAt          time.Time                          `json:"created_at"`
	UpdatedAt          time.Time                          `json:"updated_at"`
	ExpiresAt          time.Time                          `gorm:"not null;index" json:"expires_at"`
}

// BeforeCreate assigns the primary key client-side so the id is known before
// the row is committed.
func (r *ApprovalRequest) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// IsTerminal reports whether the request can no longer change state.
func (r *ApprovalRequest) IsTerminal() bool {
	return r.Status != StatusPending
}

// HasApproval reports whether adminID already signed off.
func (r *ApprovalRequest) HasApproval(adminID string) bool {
	for _, v := range r.ApprovedBy {
		if v.AdminID == adminID {
			return true
		}
	}
	return false
}

// HasRejectionVote reports whether adminID already voted to reject.
func (r *ApprovalRequest) HasRejectionVote(adminID string) bool {
	for _, v := range r.RejectionVotes {
		if v.AdminID == adminID {
			return true
		}
	}
	return false
}

// QuorumReached reports whether enough distinct approvals have been collected.
func (r *ApprovalRequest) QuorumReached() bool {
	return len(r.ApprovedBy) >= r.RequiredApprovals
}

// IsExpiredAt reports whether a pending request has outlived its deadline.
func (r *ApprovalRequest) IsExpiredAt(now time.Time) bool {
	return r.Status == StatusPending && now.After(r.ExpiresAt)
}

// IsValidStatus checks status filters coming from callers.
func IsValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusExpired:
		return true
	}
	return false
}
