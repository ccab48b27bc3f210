// Package protocol defines the JSON events exchanged over chat and
// notification sockets. Inbound and outbound events are closed sets: each
// variant is a distinct type and callers dispatch with a type switch.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Inbound event type tags.
const (
	TypeMessage  = "message"
	TypeTyping   = "typing"
	TypeRead     = "read"
	TypeMarkRead = "mark_read"
)

// Inbound is a decoded client event.
type Inbound interface {
	inbound()
}

// SendMessage asks the server to persist and broadcast a chat message.
type SendMessage struct {
	Content     string `json:"content" validate:"max=10000"`
	MessageType string `json:"message_type" validate:"omitempty,oneof=text file image"`
	FileURL     string `json:"file_url" validate:"max=2048"`
	FileName    string `json:"file_name" validate:"max=255"`
	ReplyTo     *int64 `json:"reply_to" validate:"omitempty,gt=0"`
}

// Typing toggles the typing indicator.
type Typing struct {
	IsTyping bool `json:"is_typing"`
}

// Read records a read receipt for one message.
type Read struct {
	MessageID int64 `json:"message_id" validate:"required,gt=0"`
}

// MarkNotificationRead is sent on the notification socket.
type MarkNotificationRead struct {
	NotificationID uint `json:"notification_id" validate:"required,gt=0"`
}

func (SendMessage) inbound()          {}
func (Typing) inbound()               {}
func (Read) inbound()                 {}
func (MarkNotificationRead) inbound() {}

// ErrMalformed wraps every decoding failure; the message is safe to echo to the client.
var ErrMalformed = errors.New("malformed event")

var validate = validator.New(validator.WithRequiredStructEnabled())

// DecodeChat parses a frame received on a chat socket. A missing type is
// treated as "message".
func DecodeChat(data []byte) (Inbound, error) {
	typ, err := peekType(data)
	if err != nil {
		return nil, err
	}
	switch typ {
	case "", TypeMessage:
		return decodeInto[SendMessage](data)
	case TypeTyping:
		return decodeInto[Typing](data)
	case TypeRead:
		return decodeInto[Read](data)
	default:
		return nil, fmt.Errorf("%w: unsupported event type %q", ErrMalformed, typ)
	}
}

// DecodeNotification parses a frame received on a notification socket.
func DecodeNotification(data []byte) (Inbound, error) {
	typ, err := peekType(data)
	if err != nil {
		return nil, err
	}
	if typ != TypeMarkRead {
		return nil, fmt.Errorf("%w: unsupported event type %q", ErrMalformed, typ)
	}
	return decodeInto[MarkNotificationRead](data)
}

func peekType(data []byte) (string, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if !bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		return "", fmt.Errorf("%w: Invalid JSON", ErrMalformed)
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", fmt.Errorf("%w: Invalid JSON", ErrMalformed)
	}
	return envelope.Type, nil
}

func decodeInto[T Inbound](data []byte) (Inbound, error) {
	var ev T
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: Invalid JSON", ErrMalformed)
	}
	if err := validate.Struct(ev); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, describe(err))
	}
	return ev, nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

// ClientMessage strips the ErrMalformed prefix for the error event sent back.
func ClientMessage(err error) string {
	return strings.TrimPrefix(err.Error(), ErrMalformed.Error()+": ")
}
