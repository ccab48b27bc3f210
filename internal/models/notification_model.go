package models

import "time"

type NotificationType string

const (
	NotifyJoinRequest     NotificationType = "join_request"
	NotifyRequestAccepted NotificationType = "request_accepted"
	NotifyRequestRejected NotificationType = "request_rejected"
	NotifyNewMember       NotificationType = "new_member"
	NotifyMemberLeft      NotificationType = "member_left"
	NotifyNewMessage      NotificationType = "new_message"
	NotifyMention         NotificationType = "mention"
	NotifyProfileView     NotificationType = "profile_view"
	NotifyGroupUpdate     NotificationType = "group_update"
	NotifySystem          NotificationType = "system"
)

func (t NotificationType) Valid() bool {
	switch t {
	case NotifyJoinRequest, NotifyRequestAccepted, NotifyRequestRejected, NotifyNewMember,
		NotifyMemberLeft, NotifyNewMessage, NotifyMention, NotifyProfileView, NotifyGroupUpdate, NotifySystem:
		return true
	}
	return false
}

// Notification 站内通知，归属于 recipient
type Notification struct {
	ID          uint             `gorm:"primaryKey" json:"id"`
	RecipientID uint             `gorm:"not null;index:idx_notifications_recipient_read,priority:1" json:"recipient_id"`
	Type        NotificationType `gorm:"size:30;not null" json:"notification_type"`
	Title       string           `gorm:"size:200;not null" json:"title"`
	Message     string           `gorm:"type:text" json:"message"`
	ActorID     *uint            `gorm:"index" json:"actor_id,omitempty"`
	GroupID     *uint            `gorm:"index" json:"group_id,omitempty"`
	Link        string           `json:"link,omitempty"`
	IsRead      bool             `gorm:"not null;default:false;index:idx_notifications_recipient_read,priority:2" json:"is_read"`
	ReadAt      *time.Time       `json:"read_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`

	Recipient *User  `gorm:"foreignKey:RecipientID;constraint:OnDelete:CASCADE" json:"-"`
	Actor     *User  `gorm:"foreignKey:ActorID;constraint:OnDelete:SET NULL" json:"actor,omitempty"`
	Group     *Group `gorm:"foreignKey:GroupID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Notification) TableName() string {
	return "notifications"
}
