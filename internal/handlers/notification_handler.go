package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Gopher0727/TeamLoom/internal/services"
)

type NotificationHandler struct {
	notify *services.NotificationService
	log    *zap.Logger
}

func NewNotificationHandler(notify *services.NotificationService, log *zap.Logger) *NotificationHandler {
	return &NotificationHandler{notify: notify, log: log}
}

// List 最近的通知，?unread=true 只看未读
func (h *NotificationHandler) List(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	list, err := h.notify.List(c.Request.Context(), uid, c.Query("unread") == "true")
	if err != nil {
		fail(c, h.log, err)
		return
	}
	out := make([]any, len(list))
	for i := range list {
		out[i] = services.NotificationPayload(&list[i])
	}
	success(c, http.StatusOK, out)
}

func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	n, err := h.notify.UnreadCount(c.Request.Context(), uid)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	success(c, http.StatusOK, gin.H{"count": n})
}

func (h *NotificationHandler) MarkRead(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "notification_id")
	if !ok {
		return
	}
	if err := h.notify.MarkRead(c.Request.Context(), uid, id); err != nil {
		fail(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	n, err := h.notify.MarkAllRead(c.Request.Context(), uid)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	success(c, http.StatusOK, gin.H{"updated": n})
}
