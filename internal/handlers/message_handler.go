package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Gopher0727/TeamLoom/internal/fanout"
	"github.com/Gopher0727/TeamLoom/internal/models"
	"github.com/Gopher0727/TeamLoom/internal/protocol"
	"github.com/Gopher0727/TeamLoom/internal/services"
)

// MessageHandler 小组消息
type MessageHandler struct {
	chat *services.ChatService
	bus  fanout.Publisher
	log  *zap.Logger
}

func NewMessageHandler(chat *services.ChatService, bus fanout.Publisher, log *zap.Logger) *MessageHandler {
	return &MessageHandler{chat: chat, bus: bus, log: log}
}

type sendBody struct {
	Content     string             `json:"content" binding:"max=10000"`
	MessageType models.MessageType `json:"message_type"`
	FileURL     string             `json:"file_url" binding:"max=2048"`
	FileName    string             `json:"file_name" binding:"max=255"`
	ReplyTo     *int64             `json:"reply_to"`
}

type editBody struct {
	Content string `json:"content" binding:"required,max=10000"`
}

// History 最近消息，按时间正序
func (h *MessageHandler) History(c *gin.Context) {
	uid, groupID, ok := messageScope(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	var before *time.Time
	if raw := c.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			badRequest(c, err)
			return
		}
		before = &t
	}

	msgs, err := h.chat.History(c.Request.Context(), groupID, uid, limit, before)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	out := make([]protocol.ChatMessage, len(msgs))
	for i := range msgs {
		out[i] = services.WireMessage(&msgs[i])
	}
	success(c, http.StatusOK, out)
}

// SendMessage persists a message and broadcasts it like a chat socket would.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	uid, groupID, ok := messageScope(c)
	if !ok {
		return
	}
	var body sendBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	msg, err := h.chat.SendMessage(c.Request.Context(), groupID, uid, services.SendMessageInput{
		Content:     body.Content,
		MessageType: body.MessageType,
		FileURL:     body.FileURL,
		FileName:    body.FileName,
		ReplyTo:     body.ReplyTo,
	})
	if err != nil {
		fail(c, h.log, err)
		return
	}
	wire := services.WireMessage(msg)
	if err := h.bus.Publish(c.Request.Context(), fanout.GroupTopic(groupID), protocol.MessageEvent{Message: wire}, ""); err != nil {
		h.log.Warn("broadcast message failed", zap.Int64("message_id", msg.ID), zap.Error(err))
	}
	success(c, http.StatusCreated, wire)
}

func (h *MessageHandler) EditMessage(c *gin.Context) {
	uid, groupID, ok := messageScope(c)
	if !ok {
		return
	}
	messageID, ok := parseMessageID(c)
	if !ok {
		return
	}
	var body editBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	msg, err := h.chat.Edit(c.Request.Context(), groupID, uid, messageID, body.Content)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	success(c, http.StatusOK, msg)
}

// DeleteMessage 软删除，行保留
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	uid, groupID, ok := messageScope(c)
	if !ok {
		return
	}
	messageID, ok := parseMessageID(c)
	if !ok {
		return
	}
	if err := h.chat.Delete(c.Request.Context(), groupID, uid, messageID); err != nil {
		fail(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *MessageHandler) MarkRead(c *gin.Context) {
	uid, groupID, ok := messageScope(c)
	if !ok {
		return
	}
	messageID, ok := parseMessageID(c)
	if !ok {
		return
	}
	if err := h.chat.MarkRead(c.Request.Context(), groupID, uid, messageID); err != nil {
		fail(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *MessageHandler) UnreadCount(c *gin.Context) {
	uid, groupID, ok := messageScope(c)
	if !ok {
		return
	}
	n, err := h.chat.UnreadCount(c.Request.Context(), groupID, uid)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	success(c, http.StatusOK, gin.H{"count": n})
}

func messageScope(c *gin.Context) (uint, uint, bool) {
	uid, ok := currentUser(c)
	if !ok {
		return 0, 0, false
	}
	groupID, ok := pathID(c, "group_id")
	return uid, groupID, ok
}

func parseMessageID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("message_id"), 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "invalid message_id", "code": "not_found"})
		return 0, false
	}
	return id, true
}
