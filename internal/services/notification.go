package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Gopher0727/TeamLoom/internal/fanout"
	"github.com/Gopher0727/TeamLoom/internal/models"
	"github.com/Gopher0727/TeamLoom/internal/protocol"
	"github.com/Gopher0727/TeamLoom/internal/repositories"
)

// NotificationListLimit caps the notification listing.
const NotificationListLimit = 50

// NotificationInput describes one notification to persist and push.
type NotificationInput struct {
	RecipientID uint
	Type        models.NotificationType
	Title       string
	Message     string
	ActorID     *uint
	GroupID     *uint
	Link        string
}

// NotificationService persists notifications and pushes them to the
// recipient's personal topic. Unread counts are always read from the table.
type NotificationService struct {
	store *repositories.Gateway
	bus   fanout.Publisher
	log   *zap.Logger
	now   func() time.Time
}

func NewNotificationService(store *repositories.Gateway, bus fanout.Publisher, log *zap.Logger) *NotificationService {
	return &NotificationService{
		store: store,
		bus:   bus,
		log:   log,
		now:   time.Now,
	}
}

// Record writes the notification through store, which may be a transaction.
// Nothing is pushed; call Deliver after the transaction commits.
func (s *NotificationService) Record(ctx context.Context, store *repositories.Gateway, in NotificationInput) (*models.Notification, error) {
	if !in.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown notification type %q", ErrValidation, in.Type)
	}
	n := &models.Notification{
		RecipientID: in.RecipientID,
		Type:        in.Type,
		Title:       strings.TrimSpace(in.Title),
		Message:     strings.TrimSpace(in.Message),
		ActorID:     in.ActorID,
		GroupID:     in.GroupID,
		Link:        in.Link,
		CreatedAt:   s.now().UTC(),
	}
	if err := store.Notifications.Create(ctx, n); err != nil {
		return nil, fromStorage("create notification", err, nil)
	}
	return n, nil
}

// Deliver pushes n and the recipient's fresh unread count. Push failures are
// logged only; the stored row is what counts.
func (s *NotificationService) Deliver(ctx context.Context, n *models.Notification) {
	if n == nil {
		return
	}
	topic := fanout.UserTopic(n.RecipientID)
	if err := s.bus.Publish(ctx, topic, protocol.NotificationEvent{Notification: NotificationPayload(n)}, ""); err != nil {
		s.log.Warn("failed to push notification",
			zap.Uint("notification_id", n.ID),
			zap.Uint("recipient_id", n.RecipientID),
			zap.Error(err),
		)
	}
	s.pushUnread(ctx, n.RecipientID)
}

// Notify records and delivers outside any caller transaction.
func (s *NotificationService) Notify(ctx context.Context, in NotificationInput) (*models.Notification, error) {
	n, err := s.Record(ctx, s.store, in)
	if err != nil {
		return nil, err
	}
	s.Deliver(ctx, n)
	return n, nil
}

func (s *NotificationService) List(ctx context.Context, userID uint, unreadOnly bool) ([]models.Notification, error) {
	list, err := s.store.Notifications.ListForRecipient(ctx, userID, NotificationListLimit, unreadOnly)
	if err != nil {
		return nil, fromStorage("list notifications", err, nil)
	}
	return list, nil
}

func (s *NotificationService) UnreadCount(ctx context.Context, userID uint) (int64, error) {
	n, err := s.store.Notifications.CountUnread(ctx, userID)
	if err != nil {
		return 0, fromStorage("count unread notifications", err, nil)
	}
	return n, nil
}

// MarkRead marks one of the user's notifications read. Notifications owned by
// someone else are reported as not found.
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID uint) error {
	if err := s.store.Notifications.MarkRead(ctx, userID, notificationID, s.now().UTC()); err != nil {
		return fromStorage("mark notification read", err, ErrNotificationNotFound)
	}
	s.pushUnread(ctx, userID)
	return nil
}

func (s *NotificationService) MarkAllRead(ctx context.Context, userID uint) (int64, error) {
	changed, err := s.store.Notifications.MarkAllRead(ctx, userID, s.now().UTC())
	if err != nil {
		return 0, fromStorage("mark all notifications read", err, nil)
	}
	if changed > 0 {
		s.pushUnread(ctx, userID)
	}
	return changed, nil
}

func (s *NotificationService) pushUnread(ctx context.Context, userID uint) {
	count, err := s.store.Notifications.CountUnread(ctx, userID)
	if err != nil {
		s.log.Warn("failed to count unread notifications", zap.Uint("user_id", userID), zap.Error(err))
		return
	}
	if err := s.bus.Publish(ctx, fanout.UserTopic(userID), protocol.UnreadCountEvent{Count: count}, ""); err != nil {
		s.log.Warn("failed to push unread count", zap.Uint("user_id", userID), zap.Error(err))
	}
}

// NotificationPayload converts a stored notification to its wire form.
func NotificationPayload(n *models.Notification) protocol.NotificationPayload {
	return protocol.NotificationPayload{
		ID:               n.ID,
		NotificationType: string(n.Type),
		Title:            n.Title,
		Message:          n.Message,
		ActorID:          n.ActorID,
		GroupID:          n.GroupID,
		Link:             n.Link,
		IsRead:           n.IsRead,
		CreatedAt:        protocol.FormatTime(n.CreatedAt),
	}
}
