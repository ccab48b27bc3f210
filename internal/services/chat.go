package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Gopher0727/TeamLoom/internal/models"
	"github.com/Gopher0727/TeamLoom/internal/protocol"
	"github.com/Gopher0727/TeamLoom/internal/repositories"
)

// IDGenerator hands out message ids.
type IDGenerator interface {
	NextID() (int64, error)
}

// SendMessageInput is a chat message as submitted by a member.
type SendMessageInput struct {
	Content     string
	MessageType models.MessageType
	FileURL     string
	FileName    string
	ReplyTo     *int64
}

// ChatService persists chat traffic for group members.
type ChatService struct {
	store        *repositories.Gateway
	ids          IDGenerator
	maxLen       int
	historyLimit int
	now          func() time.Time
}

func NewChatService(store *repositories.Gateway, ids IDGenerator, maxLen, historyLimit int) *ChatService {
	return &ChatService{
		store:        store,
		ids:          ids,
		maxLen:       maxLen,
		historyLimit: historyLimit,
		now:          time.Now,
	}
}

// SendMessage validates and stores a message from senderID. File and image
// messages without text get a placeholder built from the file name.
func (s *ChatService) SendMessage(ctx context.Context, groupID, senderID uint, in SendMessageInput) (*models.Message, error) {
	msgType := in.MessageType
	if msgType == "" {
		msgType = models.MessageText
	}
	// system messages are never accepted from clients
	if !msgType.Valid() || msgType == models.MessageSystem {
		return nil, ErrInvalidMessageType
	}

	content := strings.TrimSpace(in.Content)
	if content == "" && (msgType == models.MessageFile || msgType == models.MessageImage) {
		content = "Sent a file"
		if name := strings.TrimSpace(in.FileName); name != "" {
			content = "Sent a file: " + name
		}
	}
	if content == "" {
		return nil, ErrEmptyContent
	}
	if s.maxLen > 0 && utf8.RuneCountInString(content) > s.maxLen {
		return nil, ErrContentTooLong
	}

	member, err := s.store.Groups.IsMember(ctx, groupID, senderID)
	if err != nil {
		return nil, fromStorage("check membership", err, nil)
	}
	if !member {
		return nil, ErrNotMember
	}
	if in.ReplyTo != nil {
		if _, err := s.store.Messages.GetInGroup(ctx, groupID, *in.ReplyTo); err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return nil, ErrReplyOutsideGroup
			}
			return nil, fromStorage("load replied message", err, nil)
		}
	}

	id, err := s.ids.NextID()
	if err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}
	msg := &models.Message{
		ID:          id,
		GroupID:     groupID,
		SenderID:    senderID,
		Content:     content,
		MessageType: msgType,
		FileURL:     strings.TrimSpace(in.FileURL),
		FileName:    strings.TrimSpace(in.FileName),
		ReplyToID:   in.ReplyTo,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.Messages.Create(ctx, msg); err != nil {
		return nil, fromStorage("create message", err, nil)
	}
	sender, err := s.store.Users.GetByID(ctx, senderID)
	if err != nil {
		return nil, fromStorage("load sender", err, ErrUserNotFound)
	}
	msg.Sender = sender
	return msg, nil
}

// MarkRead records a read receipt. Repeated marks keep the first read_at.
func (s *ChatService) MarkRead(ctx context.Context, groupID, userID uint, messageID int64) error {
	if _, err := s.store.Messages.GetInGroup(ctx, groupID, messageID); err != nil {
		return fromStorage("load message", err, ErrMessageNotFound)
	}
	if _, err := s.store.Messages.MarkRead(ctx, messageID, userID, s.now().UTC()); err != nil {
		return fromStorage("mark read", err, nil)
	}
	return nil
}

// History returns up to limit live messages in chronological order. limit
// is clamped to the configured maximum.
func (s *ChatService) History(ctx context.Context, groupID, userID uint, limit int, before *time.Time) ([]models.Message, error) {
	if err := s.requireMember(ctx, groupID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > s.historyLimit {
		limit = s.historyLimit
	}
	msgs, err := s.store.Messages.ListRecent(ctx, groupID, limit, before)
	if err != nil {
		return nil, fromStorage("list messages", err, nil)
	}
	return msgs, nil
}

// Edit replaces the content of the sender's own live message.
func (s *ChatService) Edit(ctx context.Context, groupID, userID uint, messageID int64, content string) (*models.Message, error) {
	msg, err := s.ownMessage(ctx, groupID, userID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted {
		return nil, ErrMessageDeleted
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if s.maxLen > 0 && utf8.RuneCountInString(content) > s.maxLen {
		return nil, ErrContentTooLong
	}

	at := s.now().UTC()
	if err := s.store.Messages.Edit(ctx, messageID, content, at); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrMessageDeleted
		}
		return nil, fromStorage("edit message", err, nil)
	}
	msg.Content = content
	msg.IsEdited = true
	msg.EditedAt = &at
	return msg, nil
}

// Delete soft-deletes the sender's own message. The row stays.
func (s *ChatService) Delete(ctx context.Context, groupID, userID uint, messageID int64) error {
	msg, err := s.ownMessage(ctx, groupID, userID, messageID)
	if err != nil {
		return err
	}
	if msg.IsDeleted {
		return nil
	}
	if err := s.store.Messages.SoftDelete(ctx, messageID); err != nil {
		return fromStorage("delete message", err, ErrMessageNotFound)
	}
	return nil
}

// UnreadCount counts live messages from others since the member joined that
// have no read receipt.
func (s *ChatService) UnreadCount(ctx context.Context, groupID, userID uint) (int64, error) {
	m, err := s.store.Groups.GetMembership(ctx, groupID, userID)
	if err != nil {
		return 0, fromStorage("load membership", err, ErrNotMember)
	}
	n, err := s.store.Messages.CountUnread(ctx, groupID, userID, m.JoinedAt)
	if err != nil {
		return 0, fromStorage("count unread messages", err, nil)
	}
	return n, nil
}

func (s *ChatService) ownMessage(ctx context.Context, groupID, userID uint, messageID int64) (*models.Message, error) {
	msg, err := s.store.Messages.GetInGroup(ctx, groupID, messageID)
	if err != nil {
		return nil, fromStorage("load message", err, ErrMessageNotFound)
	}
	if msg.SenderID != userID {
		return nil, ErrNotSender
	}
	return msg, nil
}

func (s *ChatService) requireMember(ctx context.Context, groupID, userID uint) error {
	member, err := s.store.Groups.IsMember(ctx, groupID, userID)
	if err != nil {
		return fromStorage("check membership", err, nil)
	}
	if !member {
		return ErrNotMember
	}
	return nil
}

// WireMessage converts a stored message to its broadcast form.
func WireMessage(msg *models.Message) protocol.ChatMessage {
	out := protocol.ChatMessage{
		ID:          msg.ID,
		Content:     msg.Content,
		MessageType: string(msg.MessageType),
		FileURL:     msg.FileURL,
		FileName:    msg.FileName,
		ReplyTo:     msg.ReplyToID,
		CreatedAt:   protocol.FormatTime(msg.CreatedAt),
	}
	out.Sender = SenderOf(msg.Sender)
	if msg.Sender == nil {
		out.Sender.ID = msg.SenderID
	}
	return out
}

// SenderOf snapshots the identity shown next to a message.
func SenderOf(u *models.User) protocol.Sender {
	if u == nil {
		return protocol.Sender{}
	}
	return protocol.Sender{ID: u.ID, Name: u.FullName(), Avatar: u.AvatarURL}
}
