package models

import "time"

// GroupActivity is the projection of a membership domain event, written by the
// event consumer (or directly when kafka is disabled). EventID deduplicates
// redelivered events.
type GroupActivity struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	EventID    string    `gorm:"size:64;uniqueIndex;not null" json:"event_id"`
	GroupID    uint      `gorm:"not null;index:idx_activity_group_time,priority:1" json:"group_id"`
	Kind       string    `gorm:"size:40;not null" json:"kind"`
	ActorID    uint      `json:"actor_id"`
	SubjectID  uint      `json:"subject_id"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `gorm:"not null;index:idx_activity_group_time,priority:2" json:"occurred_at"`
}

func (GroupActivity) TableName() string {
	return "group_activities"
}

// All lists every model for AutoMigrate, parents first.
func All() []any {
	return []any{
		&User{},
		&Profile{},
		&Group{},
		&Membership{},
		&JoinRequest{},
		&LeaveRequest{},
		&Message{},
		&MessageRead{},
		&Notification{},
		&GroupActivity{},
	}
}
