package models

import "time"

type GroupType string

const (
	GroupTypeStudent   GroupType = "student"
	GroupTypeResearch  GroupType = "research"
	GroupTypeCourse    GroupType = "course"
	GroupTypeHackathon GroupType = "hackathon"
	GroupTypeStartup   GroupType = "startup"
)

func (t GroupType) Valid() bool {
	switch t {
	case GroupTypeStudent, GroupTypeResearch, GroupTypeCourse, GroupTypeHackathon, GroupTypeStartup:
		return true
	}
	return false
}

type GroupStatus string

const (
	GroupForming   GroupStatus = "forming"
	GroupActive    GroupStatus = "active"
	GroupCompleted GroupStatus = "completed"
	GroupArchived  GroupStatus = "archived"
)

// DefaultCapacity applies when a group is created without an explicit capacity.
const DefaultCapacity = 5

// Group 项目小组
//
// The number of memberships never exceeds Capacity, and LeaderID always has a
// membership with RoleLeader. Member counts are derived from memberships and
// are not stored.
type Group struct {
	ID uint `gorm:"primaryKey" json:"id"`

	Name        string      `gorm:"size:200;not null" json:"name"`
	Description string      `json:"description"`
	Type        GroupType   `gorm:"size:20;default:student" json:"group_type"`
	Capacity    int         `gorm:"not null;default:5;check:capacity >= 1" json:"capacity"`
	Status      GroupStatus `gorm:"size:20;default:forming;index" json:"status"`
	LeaderID    uint        `gorm:"not null;index" json:"leader_id"`
	Leader      *User       `gorm:"foreignKey:LeaderID" json:"leader,omitempty"`

	Memberships   []Membership   `gorm:"foreignKey:GroupID;constraint:OnDelete:CASCADE" json:"-"`
	JoinRequests  []JoinRequest  `gorm:"foreignKey:GroupID;constraint:OnDelete:CASCADE" json:"-"`
	LeaveRequests []LeaveRequest `gorm:"foreignKey:GroupID;constraint:OnDelete:CASCADE" json:"-"`
	Messages      []Message      `gorm:"foreignKey:GroupID;constraint:OnDelete:CASCADE" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Group) TableName() string {
	return "groups"
}
