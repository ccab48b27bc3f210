package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Gopher0727/TeamLoom/internal/models"
	"github.com/Gopher0727/TeamLoom/internal/presence"
	"github.com/Gopher0727/TeamLoom/internal/services"
)

// GroupHandler 小组与成员管理
type GroupHandler struct {
	members  *services.MembershipService
	presence *presence.Tracker
	log      *zap.Logger
}

func NewGroupHandler(members *services.MembershipService, tracker *presence.Tracker, log *zap.Logger) *GroupHandler {
	return &GroupHandler{members: members, presence: tracker, log: log}
}

type joinBody struct {
	Message string `json:"message" binding:"max=2000"`
}

type leaveBody struct {
	Reason string `json:"reason" binding:"max=2000"`
}

type reviewBody struct {
	Decision services.Decision `json:"decision" binding:"required"`
	Response string            `json:"response" binding:"max=2000"`
}

// CreateGroup 创建小组，创建者成为组长
func (h *GroupHandler) CreateGroup(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	var req services.CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	group, err := h.members.CreateGroup(c.Request.Context(), uid, &req)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	success(c, http.StatusCreated, group)
}

func (h *GroupHandler) GetGroup(c *gin.Context) {
	groupID, ok := pathID(c, "group_id")
	if !ok {
		return
	}
	group, err := h.members.GetGroup(c.Request.Context(), groupID)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	success(c, http.StatusOK, group)
}

// MyGroups 我加入的小组
func (h *GroupHandler) MyGroups(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	groups, err := h.members.MyGroups(c.Request.Context(), uid)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	success(c, http.StatusOK, groups)
}

func (h *GroupHandler) ToggleComplete(c *gin.Context) {
	uid, groupID, ok := h.scope(c)
	if !ok {
		return
	}
	group, err := h.members.ToggleComplete(c.Request.Context(), groupID, uid)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	success(c, http.StatusOK, group)
}

// RequestJoin 申请加入
func (h *GroupHandler) RequestJoin(c *gin.Context) {
	uid, groupID, ok := h.scope(c)
	if !ok {
		return
	}
	var body joinBody
	if err := bindOptional(c, &body); err != nil {
		badRequest(c, err)
		return
	}
	req, err := h.members.RequestJoin(c.Request.Context(), groupID, uid, body.Message)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	success(c, http.StatusCreated, req)
}

func (h *GroupHandler) ListJoinRequests(c *gin.Context) {
	uid, groupID, ok := h.scope(c)
	if !ok {
		return
	}
	list, err := h.members.ListJoinRequests(c.Request.Context(), groupID, uid, statusFilter(c))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	success(c, http.StatusOK, list)
}

// ReviewJoin 组长审批加入申请
func (h *GroupHandler) ReviewJoin(c *gin.Context) {
	uid, groupID, ok := h.scope(c)
	if !ok {
		return
	}
	requestID, ok := pathID(c, "request_id")
	if !ok {
		return
	}
	var body reviewBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	req, err := h.members.ReviewJoin(c.Request.Context(), groupID, requestID, uid, body.Decision, body.Response)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	success(c, http.StatusOK, req)
}

// RequestLeave 申请退出
func (h *GroupHandler) RequestLeave(c *gin.Context) {
	uid, groupID, ok := h.scope(c)
	if !ok {
		return
	}
	var body leaveBody
	if err := bindOptional(c, &body); err != nil {
		badRequest(c, err)
		return
	}
	req, err := h.members.RequestLeave(c.Request.Context(), groupID, uid, body.Reason)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	success(c, http.StatusCreated, req)
}

func (h *GroupHandler) ListLeaveRequests(c *gin.Context) {
	uid, groupID, ok := h.scope(c)
	if !ok {
		return
	}
	list, err := h.members.ListLeaveRequests(c.Request.Context(), groupID, uid, statusFilter(c))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	success(c, http.StatusOK, list)
}

// ReviewLeave 组长审批退出申请
func (h *GroupHandler) ReviewLeave(c *gin.Context) {
	uid, groupID, ok := h.scope(c)
	if !ok {
		return
	}
	requestID, ok := pathID(c, "request_id")
	if !ok {
		return
	}
	var body reviewBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	req, err := h.members.ReviewLeave(c.Request.Context(), groupID, requestID, uid, body.Decision)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	success(c, http.StatusOK, req)
}

// RemoveMember 组长移除成员
func (h *GroupHandler) RemoveMember(c *gin.Context) {
	uid, groupID, ok := h.scope(c)
	if !ok {
		return
	}
	targetID, ok := pathID(c, "user_id")
	if !ok {
		return
	}
	if err := h.members.RemoveMember(c.Request.Context(), groupID, uid, targetID); err != nil {
		fail(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *GroupHandler) MyJoinRequests(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	list, err := h.members.MyJoinRequests(c.Request.Context(), uid)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	success(c, http.StatusOK, list)
}

func (h *GroupHandler) Activity(c *gin.Context) {
	uid, groupID, ok := h.scope(c)
	if !ok {
		return
	}
	feed, err := h.members.Activity(c.Request.Context(), groupID, uid)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	success(c, http.StatusOK, feed)
}

// Online 当前在线的成员
func (h *GroupHandler) Online(c *gin.Context) {
	uid, groupID, ok := h.scope(c)
	if !ok {
		return
	}
	if _, err := h.members.Authorize(c.Request.Context(), groupID, uid); err != nil {
		fail(c, h.log, err)
		return
	}
	ids, err := h.presence.Online(c.Request.Context(), groupID)
	if err != nil {
		h.log.Warn("presence unavailable", zap.Uint("group_id", groupID), zap.Error(err))
		ids = []uint{}
	}
	success(c, http.StatusOK, gin.H{"user_ids": ids})
}

// scope resolves the caller and the :group_id parameter.
func (h *GroupHandler) scope(c *gin.Context) (uint, uint, bool) {
	uid, ok := currentUser(c)
	if !ok {
		return 0, 0, false
	}
	groupID, ok := pathID(c, "group_id")
	return uid, groupID, ok
}

// statusFilter defaults to pending; "all" lists every status.
func statusFilter(c *gin.Context) models.RequestStatus {
	switch s := c.Query("status"); s {
	case "":
		return models.StatusPending
	case "all":
		return ""
	default:
		return models.RequestStatus(s)
	}
}

// bindOptional accepts an empty body.
func bindOptional(c *gin.Context, v any) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	return c.ShouldBindJSON(v)
}
