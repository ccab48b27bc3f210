package ws

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Gopher0727/TeamLoom/internal/fanout"
	"github.com/Gopher0727/TeamLoom/internal/protocol"
	"github.com/Gopher0727/TeamLoom/internal/services"
)

// NotificationHandler serves /ws/notifications: every session of a user
// receives that user's notifications and unread counts.
type NotificationHandler struct {
	notify *services.NotificationService
	router *fanout.Router
	opts   Options
	log    *zap.Logger
}

func NewNotificationHandler(notify *services.NotificationService, router *fanout.Router, opts Options, log *zap.Logger) *NotificationHandler {
	return &NotificationHandler{notify: notify, router: router, opts: opts.withDefaults(), log: log}
}

func (h *NotificationHandler) ServeNotifications(c *gin.Context) {
	userID, ok := identity(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	upgrader := h.opts.upgrader()
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	s := newSession(conn, userID, c.GetString("user_name"), h.opts, h.log)
	s.setState(StateAuthorized)

	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()

	topic := fanout.UserTopic(userID)
	h.router.Subscribe(topic, s)
	defer func() {
		h.router.Unsubscribe(topic, s)
		s.shutdown()
	}()

	go s.writePump()
	s.setState(StateActive)

	count, err := h.notify.UnreadCount(ctx, userID)
	if err != nil {
		s.log.Error("load unread count", zap.Error(err))
	} else {
		s.reply(protocol.UnreadCountEvent{Count: count})
	}

	s.readLoop(func(data []byte) bool {
		ev, err := protocol.DecodeNotification(data)
		if err != nil {
			s.fail(protocol.ClientMessage(err))
			return true
		}
		if mark, ok := ev.(protocol.MarkNotificationRead); ok {
			// the fresh unread_count arrives through the user topic
			if err := h.notify.MarkRead(ctx, userID, mark.NotificationID); err != nil {
				s.fail(clientMessage(err))
			}
		}
		return true
	})
}
