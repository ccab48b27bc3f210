package models

import "time"

type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusAccepted  RequestStatus = "accepted"
	StatusRejected  RequestStatus = "rejected"
	StatusWithdrawn RequestStatus = "withdrawn"
	StatusApproved  RequestStatus = "approved"
)

// JoinRequest 入组申请；同一 (group_id, user_id) 最多一条 pending
type JoinRequest struct {
	ID              uint          `gorm:"primaryKey" json:"id"`
	GroupID         uint          `gorm:"not null;index;uniqueIndex:idx_join_pending,where:status = 'pending'" json:"group_id"`
	UserID          uint          `gorm:"not null;index;uniqueIndex:idx_join_pending,where:status = 'pending'" json:"user_id"`
	Status          RequestStatus `gorm:"size:20;not null;default:pending" json:"status"`
	Message         string        `json:"message"`
	ResponseMessage string        `json:"response_message"`
	ReviewedByID    *uint         `json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time    `json:"reviewed_at,omitempty"`

	User  *User  `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"user,omitempty"`
	Group *Group `gorm:"foreignKey:GroupID" json:"group,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (JoinRequest) TableName() string {
	return "join_requests"
}

// LeaveRequest 退组申请；leader 不可发起
type LeaveRequest struct {
	ID           uint          `gorm:"primaryKey" json:"id"`
	GroupID      uint          `gorm:"not null;index;uniqueIndex:idx_leave_pending,where:status = 'pending'" json:"group_id"`
	UserID       uint          `gorm:"not null;index;uniqueIndex:idx_leave_pending,where:status = 'pending'" json:"user_id"`
	Status       RequestStatus `gorm:"size:20;not null;default:pending" json:"status"`
	Reason       string        `json:"reason"`
	ReviewedByID *uint         `json:"reviewed_by,omitempty"`
	ReviewedAt   *time.Time    `json:"reviewed_at,omitempty"`

	User *User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"user,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (LeaveRequest) TableName() string {
	return "leave_requests"
}
