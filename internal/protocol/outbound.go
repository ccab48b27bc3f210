package protocol

import (
	"encoding/json"
	"time"
)

// Outbound event type tags.
const (
	TypeUserJoined   = "user_joined"
	TypeUserLeft     = "user_left"
	TypeUnreadCount  = "unread_count"
	TypeNotification = "notification"
	TypeError        = "error"
)

// TimeFormat is ISO-8601 with sub-second precision, always UTC.
const TimeFormat = "2006-01-02T15:04:05.000000Z07:00"

// Outbound is an event sent to clients. Every variant marshals with a "type" tag.
type Outbound interface {
	json.Marshaler
	Type() string
}

// Sender is the identity snapshot embedded in chat messages.
type Sender struct {
	ID     uint   `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// ChatMessage is the wire form of a persisted message.
type ChatMessage struct {
	ID          int64  `json:"id"`
	Sender      Sender `json:"sender"`
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
	FileURL     string `json:"file_url"`
	FileName    string `json:"file_name"`
	ReplyTo     *int64 `json:"reply_to"`
	CreatedAt   string `json:"created_at"`
}

type MessageEvent struct {
	Message ChatMessage `json:"message"`
}

type TypingEvent struct {
	UserID   uint   `json:"user_id"`
	UserName string `json:"user_name"`
	IsTyping bool   `json:"is_typing"`
}

type UserJoinedEvent struct {
	UserID   uint   `json:"user_id"`
	UserName string `json:"user_name"`
}

type UserLeftEvent struct {
	UserID   uint   `json:"user_id"`
	UserName string `json:"user_name"`
}

type UnreadCountEvent struct {
	Count int64 `json:"count"`
}

type NotificationPayload struct {
	ID               uint   `json:"id"`
	NotificationType string `json:"notification_type"`
	Title            string `json:"title"`
	Message          string `json:"message"`
	ActorID          *uint  `json:"actor_id,omitempty"`
	GroupID          *uint  `json:"group_id,omitempty"`
	Link             string `json:"link,omitempty"`
	IsRead           bool   `json:"is_read"`
	CreatedAt        string `json:"created_at"`
}

type NotificationEvent struct {
	Notification NotificationPayload `json:"notification"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}

func (MessageEvent) Type() string      { return TypeMessage }
func (TypingEvent) Type() string       { return TypeTyping }
func (UserJoinedEvent) Type() string   { return TypeUserJoined }
func (UserLeftEvent) Type() string     { return TypeUserLeft }
func (UnreadCountEvent) Type() string  { return TypeUnreadCount }
func (NotificationEvent) Type() string { return TypeNotification }
func (ErrorEvent) Type() string        { return TypeError }

func (e MessageEvent) MarshalJSON() ([]byte, error) {
	type alias MessageEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{e.Type(), alias(e)})
}

func (e TypingEvent) MarshalJSON() ([]byte, error) {
	type alias TypingEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{e.Type(), alias(e)})
}

func (e UserJoinedEvent) MarshalJSON() ([]byte, error) {
	type alias UserJoinedEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{e.Type(), alias(e)})
}

func (e UserLeftEvent) MarshalJSON() ([]byte, error) {
	type alias UserLeftEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{e.Type(), alias(e)})
}

func (e UnreadCountEvent) MarshalJSON() ([]byte, error) {
	type alias UnreadCountEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{e.Type(), alias(e)})
}

func (e NotificationEvent) MarshalJSON() ([]byte, error) {
	type alias NotificationEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{e.Type(), alias(e)})
}

func (e ErrorEvent) MarshalJSON() ([]byte, error) {
	type alias ErrorEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{e.Type(), alias(e)})
}

// Encode serializes an outbound event once so it can be fanned out as bytes.
func Encode(ev Outbound) ([]byte, error) {
	return json.Marshal(ev)
}

// FormatTime renders timestamps the way every outbound event does.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}
