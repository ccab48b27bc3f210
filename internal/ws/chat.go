package ws

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Gopher0727/TeamLoom/internal/fanout"
	"github.com/Gopher0727/TeamLoom/internal/models"
	"github.com/Gopher0727/TeamLoom/internal/presence"
	"github.com/Gopher0727/TeamLoom/internal/protocol"
	"github.com/Gopher0727/TeamLoom/internal/services"
	"github.com/Gopher0727/TeamLoom/utils/ratelimit"
)

// ChatDeps are the collaborators of a chat session.
type ChatDeps struct {
	Members  *services.MembershipService
	Chat     *services.ChatService
	Router   *fanout.Router
	Bus      fanout.Publisher
	Presence *presence.Tracker
	Limiter  *ratelimit.Limiter
	Rule     ratelimit.Rule
}

type ChatHandler struct {
	ChatDeps
	opts Options
	log  *zap.Logger
}

func NewChatHandler(deps ChatDeps, opts Options, log *zap.Logger) *ChatHandler {
	if deps.Bus == nil {
		deps.Bus = deps.Router
	}
	return &ChatHandler{ChatDeps: deps, opts: opts.withDefaults(), log: log}
}

// ServeChat upgrades GET /ws/chat/:group_id. Callers that are not members are
// turned away with a bare status before the upgrade.
func (h *ChatHandler) ServeChat(c *gin.Context) {
	userID, ok := identity(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	gid, err := strconv.ParseUint(c.Param("group_id"), 10, 64)
	if err != nil || gid == 0 {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	groupID := uint(gid)

	if _, err := h.Members.Authorize(c.Request.Context(), groupID, userID); err != nil {
		status := handshakeStatus(err)
		if status == http.StatusInternalServerError {
			h.log.Error("authorize chat session", zap.Uint("group_id", groupID), zap.Error(err))
		}
		c.AbortWithStatus(status)
		return
	}

	upgrader := h.opts.upgrader()
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	s := newSession(conn, userID, c.GetString("user_name"), h.opts, h.log.With(zap.Uint("group_id", groupID)))
	s.setState(StateAuthorized)

	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()
	h.run(ctx, s, groupID)
}

func (h *ChatHandler) run(ctx context.Context, s *session, groupID uint) {
	topic := fanout.GroupTopic(groupID)

	h.Router.Subscribe(topic, s)
	if err := h.Presence.Join(ctx, groupID, s.userID); err != nil {
		s.log.Warn("presence join failed", zap.Error(err))
	}
	defer func() {
		wasActive := s.State() == StateActive
		h.Router.Unsubscribe(topic, s)
		if err := h.Presence.Leave(ctx, groupID, s.userID); err != nil {
			s.log.Warn("presence leave failed", zap.Error(err))
		}
		if wasActive {
			ev := protocol.UserLeftEvent{UserID: s.userID, UserName: s.name}
			if err := h.Bus.Publish(ctx, topic, ev, s.id); err != nil {
				s.log.Warn("publish user_left failed", zap.Error(err))
			}
		}
		s.shutdown()
		s.log.Info("chat session closed")
	}()

	go s.writePump()

	s.setState(StateActive)
	s.log.Info("chat session opened")
	joined := protocol.UserJoinedEvent{UserID: s.userID, UserName: s.name}
	if err := h.Bus.Publish(ctx, topic, joined, s.id); err != nil {
		s.log.Warn("publish user_joined failed", zap.Error(err))
	}

	s.readLoop(func(data []byte) bool {
		ev, err := protocol.DecodeChat(data)
		if err != nil {
			s.log.Debug("malformed frame", zap.Error(err))
			s.fail(protocol.ClientMessage(err))
			return true
		}
		return h.dispatch(ctx, s, groupID, topic, ev)
	})
}

// dispatch handles one inbound event and reports whether the session stays open.
func (h *ChatHandler) dispatch(ctx context.Context, s *session, groupID uint, topic fanout.Topic, ev protocol.Inbound) bool {
	switch ev := ev.(type) {
	case protocol.SendMessage:
		allowed, err := h.Limiter.Allow(ctx, "message:"+strconv.FormatUint(uint64(s.userID), 10), h.Rule)
		if err != nil {
			s.log.Warn("rate limiter unavailable", zap.Error(err))
		}
		if !allowed {
			s.fail(services.ErrTooManyRequests.Message)
			return true
		}
		msg, err := h.Chat.SendMessage(ctx, groupID, s.userID, services.SendMessageInput{
			Content:     ev.Content,
			MessageType: models.MessageType(ev.MessageType),
			FileURL:     ev.FileURL,
			FileName:    ev.FileName,
			ReplyTo:     ev.ReplyTo,
		})
		if err != nil {
			return h.rejected(s, err)
		}
		out := protocol.MessageEvent{Message: services.WireMessage(msg)}
		if err := h.Bus.Publish(ctx, topic, out, ""); err != nil {
			s.log.Error("publish message failed", zap.Int64("message_id", msg.ID), zap.Error(err))
		}

	case protocol.Typing:
		out := protocol.TypingEvent{UserID: s.userID, UserName: s.name, IsTyping: ev.IsTyping}
		if err := h.Bus.Publish(ctx, topic, out, s.id); err != nil {
			s.log.Warn("publish typing failed", zap.Error(err))
		}

	case protocol.Read:
		if err := h.Chat.MarkRead(ctx, groupID, s.userID, ev.MessageID); err != nil {
			return h.rejected(s, err)
		}

	default:
		s.fail("unsupported event")
	}
	return true
}

// rejected reports a failed operation to the session. Losing membership ends it.
func (h *ChatHandler) rejected(s *session, err error) bool {
	s.fail(clientMessage(err))
	if errors.Is(err, services.ErrNotMember) {
		return false
	}
	if services.CodeOf(err) == "" {
		s.log.Error("chat operation failed", zap.Error(err))
	}
	return true
}

func identity(c *gin.Context) (uint, bool) {
	v, ok := c.Get("user_id")
	if !ok {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok && id != 0
}

func handshakeStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, services.ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func clientMessage(err error) string {
	var coded *services.Error
	switch {
	case errors.As(err, &coded):
		return coded.Message
	case errors.Is(err, services.ErrTransient):
		return "Service temporarily unavailable, please retry"
	default:
		return "Internal error"
	}
}
