package models

import "time"

type Role string

const (
	RoleLeader Role = "leader"
	RoleMember Role = "member"
)

// Membership 小组成员关系，(group_id, user_id) 唯一，每组仅一个 leader
type Membership struct {
	ID       uint      `gorm:"primaryKey" json:"id"`
	GroupID  uint      `gorm:"not null;uniqueIndex:idx_membership_group_user;uniqueIndex:idx_membership_leader,where:role = 'leader'" json:"group_id"`
	UserID   uint      `gorm:"not null;uniqueIndex:idx_membership_group_user;index" json:"user_id"`
	Role     Role      `gorm:"size:20;not null;default:member" json:"role"`
	JoinedAt time.Time `gorm:"not null" json:"joined_at"`

	User *User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"user,omitempty"`
}

func (Membership) TableName() string {
	return "memberships"
}
