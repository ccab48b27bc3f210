package models

import "time"

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageSystem MessageType = "system"
	MessageFile   MessageType = "file"
	MessageImage  MessageType = "image"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageSystem, MessageFile, MessageImage:
		return true
	}
	return false
}

// DeletedMessageContent replaces the body of a soft-deleted message.
const DeletedMessageContent = "[Message deleted]"

// Message 群聊消息，ID 由 snowflake 生成
type Message struct {
	ID          int64       `gorm:"primaryKey;autoIncrement:false" json:"id"`
	GroupID     uint        `gorm:"not null;index:idx_messages_group_created,priority:1" json:"group_id"`
	SenderID    uint        `gorm:"not null;index" json:"sender_id"`
	Content     string      `gorm:"type:text;not null" json:"content"`
	MessageType MessageType `gorm:"size:10;not null;default:text" json:"message_type"`
	FileURL     string      `json:"file_url"`
	FileName    string      `json:"file_name"`
	ReplyToID   *int64      `gorm:"index" json:"reply_to"`
	IsEdited    bool        `gorm:"not null;default:false" json:"is_edited"`
	EditedAt    *time.Time  `json:"edited_at"`
	IsDeleted   bool        `gorm:"not null;default:false" json:"is_deleted"`
	CreatedAt   time.Time   `gorm:"not null;index:idx_messages_group_created,priority:2" json:"created_at"`

	Sender *User         `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
	Reads  []MessageRead `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Message) TableName() string {
	return "messages"
}

// MessageRead 已读回执，(message_id, user_id) 唯一
type MessageRead struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	MessageID int64     `gorm:"not null;uniqueIndex:idx_message_read_user" json:"message_id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_message_read_user;index" json:"user_id"`
	ReadAt    time.Time `gorm:"not null" json:"read_at"`
}

func (MessageRead) TableName() string {
	return "message_reads"
}
