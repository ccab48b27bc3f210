package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Gopher0727/TeamLoom/internal/events"
	"github.com/Gopher0727/TeamLoom/internal/models"
	"github.com/Gopher0727/TeamLoom/internal/repositories"
)

// Decision is a leader's verdict on a pending request.
type Decision string

const (
	DecisionAccept  Decision = "accept"
	DecisionReject  Decision = "reject"
	DecisionApprove Decision = "approve"
)

// ActivityListLimit caps the activity feed.
const ActivityListLimit = 50

// CreateGroupRequest 创建小组请求
type CreateGroupRequest struct {
	Name        string           `json:"name" binding:"required,min=1,max=200"`
	Description string           `json:"description" binding:"max=5000"`
	GroupType   models.GroupType `json:"group_type"`
	Capacity    *int             `json:"capacity"`
}

// GroupDetail is a group with its derived member count.
type GroupDetail struct {
	*models.Group
	MemberCount int64               `json:"member_count"`
	Members     []models.Membership `json:"members,omitempty"`
}

// MembershipService is the only place membership rows are created or
// removed. Every capacity decision recounts memberships under the group's
// row lock inside the same transaction as the write.
type MembershipService struct {
	store    *repositories.Gateway
	notifier *NotificationService
	events   events.Publisher
	log      *zap.Logger
	now      func() time.Time
}

func NewMembershipService(store *repositories.Gateway, notifier *NotificationService, pub events.Publisher, log *zap.Logger) *MembershipService {
	return &MembershipService{
		store:    store,
		notifier: notifier,
		events:   pub,
		log:      log,
		now:      time.Now,
	}
}

// CreateGroup creates the group and its leader membership atomically.
func (s *MembershipService) CreateGroup(ctx context.Context, leaderID uint, req *CreateGroupRequest) (*GroupDetail, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: group name is required", ErrValidation)
	}
	groupType := req.GroupType
	if groupType == "" {
		groupType = models.GroupTypeStudent
	}
	if !groupType.Valid() {
		return nil, ErrInvalidGroupType
	}
	capacity := models.DefaultCapacity
	if req.Capacity != nil {
		capacity = *req.Capacity
	}
	if capacity < 1 {
		return nil, ErrInvalidCapacity
	}

	now := s.now().UTC()
	group := &models.Group{
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		Type:        groupType,
		Capacity:    capacity,
		Status:      models.GroupForming,
		LeaderID:    leaderID,
	}
	var leader models.Membership
	err := s.store.Transaction(ctx, func(tx *repositories.Gateway) error {
		user, err := tx.Users.GetByID(ctx, leaderID)
		if err != nil {
			return fromStorage("load leader", err, ErrUserNotFound)
		}
		if err := tx.Groups.Create(ctx, group); err != nil {
			return fromStorage("create group", err, nil)
		}
		leader = models.Membership{GroupID: group.ID, UserID: leaderID, Role: models.RoleLeader, JoinedAt: now}
		if err := tx.Groups.AddMember(ctx, &leader); err != nil {
			return fromStorage("add leader membership", err, nil)
		}
		group.Leader = user
		leader.User = user
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, events.New(events.KindGroupCreated, group.ID, leaderID, leaderID, group.Name, now))
	return &GroupDetail{Group: group, MemberCount: 1, Members: []models.Membership{leader}}, nil
}

// GetGroup returns the group, its members and the current count.
func (s *MembershipService) GetGroup(ctx context.Context, groupID uint) (*GroupDetail, error) {
	group, err := s.store.Groups.Get(ctx, groupID)
	if err != nil {
		return nil, fromStorage("load group", err, ErrGroupNotFound)
	}
	members, err := s.store.Groups.ListMembers(ctx, groupID)
	if err != nil {
		return nil, fromStorage("list members", err, nil)
	}
	return &GroupDetail{Group: group, MemberCount: int64(len(members)), Members: members}, nil
}

// MyGroups lists the groups userID belongs to.
func (s *MembershipService) MyGroups(ctx context.Context, userID uint) ([]GroupDetail, error) {
	groups, err := s.store.Groups.ListByMember(ctx, userID)
	if err != nil {
		return nil, fromStorage("list groups", err, nil)
	}
	ids := make([]uint, len(groups))
	for i := range groups {
		ids[i] = groups[i].ID
	}
	counts, err := s.store.Groups.MemberCounts(ctx, ids)
	if err != nil {
		return nil, fromStorage("count members", err, nil)
	}

	out := make([]GroupDetail, len(groups))
	for i := range groups {
		out[i] = GroupDetail{Group: &groups[i], MemberCount: counts[groups[i].ID]}
	}
	return out, nil
}

// ToggleComplete flips a group between completed and active.
func (s *MembershipService) ToggleComplete(ctx context.Context, groupID, actorID uint) (*models.Group, error) {
	var group *models.Group
	err := s.store.Transaction(ctx, func(tx *repositories.Gateway) error {
		var err error
		if group, err = s.lockAsLeader(ctx, tx, groupID, actorID); err != nil {
			return err
		}
		next := models.GroupCompleted
		if group.Status == models.GroupCompleted {
			next = models.GroupActive
		}
		if err := tx.Groups.UpdateStatus(ctx, groupID, next); err != nil {
			return fromStorage("update group status", err, ErrGroupNotFound)
		}
		group.Status = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, events.New(events.KindStatusChanged, groupID, actorID, 0, string(group.Status), s.now()))
	return group, nil
}

// RequestJoin files a pending join request and notifies the leader.
func (s *MembershipService) RequestJoin(ctx context.Context, groupID, userID uint, message string) (*models.JoinRequest, error) {
	var (
		req  *models.JoinRequest
		note *models.Notification
	)
	err := s.store.Transaction(ctx, func(tx *repositories.Gateway) error {
		group, err := tx.Groups.GetForUpdate(ctx, groupID)
		if err != nil {
			return fromStorage("load group", err, ErrGroupNotFound)
		}
		member, err := tx.Groups.IsMember(ctx, groupID, userID)
		if err != nil {
			return fromStorage("check membership", err, nil)
		}
		if member {
			return ErrAlreadyMember
		}
		if err := s.checkCapacity(ctx, tx, group); err != nil {
			return err
		}
		pending, err := tx.Requests.HasPendingJoin(ctx, groupID, userID)
		if err != nil {
			return fromStorage("check pending join", err, nil)
		}
		if pending {
			return ErrDuplicatePending
		}

		requester, err := tx.Users.GetByID(ctx, userID)
		if err != nil {
			return fromStorage("load requester", err, ErrUserNotFound)
		}
		req = &models.JoinRequest{
			GroupID: groupID,
			UserID:  userID,
			Status:  models.StatusPending,
			Message: strings.TrimSpace(message),
		}
		if err := tx.Requests.CreateJoin(ctx, req); err != nil {
			if errors.Is(err, repositories.ErrDuplicate) {
				return ErrDuplicatePending
			}
			return fromStorage("create join request", err, nil)
		}
		req.User = requester

		note, err = s.notifier.Record(ctx, tx, NotificationInput{
			RecipientID: group.LeaderID,
			Type:        models.NotifyJoinRequest,
			Title:       "New Join Request",
			Message:     fmt.Sprintf("%s wants to join your group %q", requester.FullName(), group.Name),
			ActorID:     &userID,
			GroupID:     &groupID,
			Link:        fmt.Sprintf("/groups/%d", groupID),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Deliver(ctx, note)
	s.emit(ctx, events.New(events.KindJoinRequested, groupID, userID, userID, "", req.CreatedAt))
	return req, nil
}

// ReviewJoin accepts or rejects a pending join request. Capacity is rechecked
// at accept time.
func (s *MembershipService) ReviewJoin(ctx context.Context, groupID, requestID, actorID uint, decision Decision, response string) (*models.JoinRequest, error) {
	var status models.RequestStatus
	switch decision {
	case DecisionAccept:
		status = models.StatusAccepted
	case DecisionReject:
		status = models.StatusRejected
	default:
		return nil, ErrInvalidDecision
	}

	now := s.now().UTC()
	var req *models.JoinRequest
	err := s.store.Transaction(ctx, func(tx *repositories.Gateway) error {
		group, err := s.lockAsLeader(ctx, tx, groupID, actorID)
		if err != nil {
			return err
		}
		req, err = tx.Requests.GetJoin(ctx, requestID)
		if err != nil {
			return fromStorage("load join request", err, ErrRequestNotFound)
		}
		if req.GroupID != groupID {
			return ErrRequestNotFound
		}
		if req.Status != models.StatusPending {
			return ErrInvalidState
		}

		if status == models.StatusAccepted {
			if err := s.checkCapacity(ctx, tx, group); err != nil {
				return err
			}
			m := &models.Membership{GroupID: groupID, UserID: req.UserID, Role: models.RoleMember, JoinedAt: now}
			if err := tx.Groups.AddMember(ctx, m); err != nil {
				if errors.Is(err, repositories.ErrDuplicate) {
					return ErrAlreadyMember
				}
				return fromStorage("add member", err, nil)
			}
		}

		ok, err := tx.Requests.ResolveJoin(ctx, requestID, repositories.Resolution{
			Status:          status,
			ReviewerID:      actorID,
			ResponseMessage: strings.TrimSpace(response),
			At:              now,
		})
		if err != nil {
			return fromStorage("resolve join request", err, nil)
		}
		if !ok {
			return ErrInvalidState
		}
		req.Status = status
		req.ResponseMessage = strings.TrimSpace(response)
		req.ReviewedByID = &actorID
		req.ReviewedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	kind := events.KindJoinAccepted
	if status == models.StatusRejected {
		kind = events.KindJoinRejected
	}
	s.emit(ctx, events.New(kind, groupID, actorID, req.UserID, "", now))
	return req, nil
}

// RequestLeave files a pending leave request. The leader cannot leave.
func (s *MembershipService) RequestLeave(ctx context.Context, groupID, userID uint, reason string) (*models.LeaveRequest, error) {
	var req *models.LeaveRequest
	err := s.store.Transaction(ctx, func(tx *repositories.Gateway) error {
		group, err := tx.Groups.GetForUpdate(ctx, groupID)
		if err != nil {
			return fromStorage("load group", err, ErrGroupNotFound)
		}
		if group.LeaderID == userID {
			return ErrLeaderCannotLeave
		}
		member, err := tx.Groups.IsMember(ctx, groupID, userID)
		if err != nil {
			return fromStorage("check membership", err, nil)
		}
		if !member {
			return ErrNotMember
		}
		pending, err := tx.Requests.HasPendingLeave(ctx, groupID, userID)
		if err != nil {
			return fromStorage("check pending leave", err, nil)
		}
		if pending {
			return ErrDuplicatePending
		}

		req = &models.LeaveRequest{
			GroupID: groupID,
			UserID:  userID,
			Status:  models.StatusPending,
			Reason:  strings.TrimSpace(reason),
		}
		if err := tx.Requests.CreateLeave(ctx, req); err != nil {
			if errors.Is(err, repositories.ErrDuplicate) {
				return ErrDuplicatePending
			}
			return fromStorage("create leave request", err, nil)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, events.New(events.KindLeaveRequested, groupID, userID, userID, "", req.CreatedAt))
	return req, nil
}

// ReviewLeave approves (removing the membership) or rejects a leave request.
func (s *MembershipService) ReviewLeave(ctx context.Context, groupID, requestID, actorID uint, decision Decision) (*models.LeaveRequest, error) {
	var status models.RequestStatus
	switch decision {
	case DecisionApprove:
		status = models.StatusApproved
	case DecisionReject:
		status = models.StatusRejected
	default:
		return nil, ErrInvalidDecision
	}

	now := s.now().UTC()
	var req *models.LeaveRequest
	err := s.store.Transaction(ctx, func(tx *repositories.Gateway) error {
		if _, err := s.lockAsLeader(ctx, tx, groupID, actorID); err != nil {
			return err
		}
		var err error
		req, err = tx.Requests.GetLeave(ctx, requestID)
		if err != nil {
			return fromStorage("load leave request", err, ErrRequestNotFound)
		}
		if req.GroupID != groupID {
			return ErrRequestNotFound
		}
		if req.Status != models.StatusPending {
			return ErrInvalidState
		}

		if status == models.StatusApproved {
			// The member may already have been removed by the leader.
			if err := tx.Groups.DeleteMembership(ctx, groupID, req.UserID); err != nil && !errors.Is(err, repositories.ErrNotFound) {
				return fromStorage("delete membership", err, nil)
			}
		}

		ok, err := tx.Requests.ResolveLeave(ctx, requestID, repositories.Resolution{
			Status:     status,
			ReviewerID: actorID,
			At:         now,
		})
		if err != nil {
			return fromStorage("resolve leave request", err, nil)
		}
		if !ok {
			return ErrInvalidState
		}
		req.Status = status
		req.ReviewedByID = &actorID
		req.ReviewedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	kind := events.KindLeaveApproved
	if status == models.StatusRejected {
		kind = events.KindLeaveRejected
	}
	s.emit(ctx, events.New(kind, groupID, actorID, req.UserID, "", now))
	return req, nil
}

// RemoveMember lets the leader drop a member without a leave request.
func (s *MembershipService) RemoveMember(ctx context.Context, groupID, actorID, targetID uint) error {
	err := s.store.Transaction(ctx, func(tx *repositories.Gateway) error {
		if _, err := s.lockAsLeader(ctx, tx, groupID, actorID); err != nil {
			return err
		}
		if targetID == actorID {
			return ErrSelfRemoval
		}
		if err := tx.Groups.DeleteMembership(ctx, groupID, targetID); err != nil {
			return fromStorage("delete membership", err, ErrTargetNotMember)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.emit(ctx, events.New(events.KindMemberRemoved, groupID, actorID, targetID, "", s.now()))
	return nil
}

// ListJoinRequests lists a group's join requests for its leader. An empty
// status lists every request.
func (s *MembershipService) ListJoinRequests(ctx context.Context, groupID, actorID uint, status models.RequestStatus) ([]models.JoinRequest, error) {
	if err := s.requireLeader(ctx, groupID, actorID); err != nil {
		return nil, err
	}
	reqs, err := s.store.Requests.ListJoinByGroup(ctx, groupID, status)
	if err != nil {
		return nil, fromStorage("list join requests", err, nil)
	}
	return reqs, nil
}

func (s *MembershipService) ListLeaveRequests(ctx context.Context, groupID, actorID uint, status models.RequestStatus) ([]models.LeaveRequest, error) {
	if err := s.requireLeader(ctx, groupID, actorID); err != nil {
		return nil, err
	}
	reqs, err := s.store.Requests.ListLeaveByGroup(ctx, groupID, status)
	if err != nil {
		return nil, fromStorage("list leave requests", err, nil)
	}
	return reqs, nil
}

// MyJoinRequests lists the requests userID has filed.
func (s *MembershipService) MyJoinRequests(ctx context.Context, userID uint) ([]models.JoinRequest, error) {
	reqs, err := s.store.Requests.ListJoinByUser(ctx, userID)
	if err != nil {
		return nil, fromStorage("list join requests", err, nil)
	}
	return reqs, nil
}

// Authorize reports whether userID may participate in groupID right now.
func (s *MembershipService) Authorize(ctx context.Context, groupID, userID uint) (*models.Membership, error) {
	if _, err := s.store.Groups.Get(ctx, groupID); err != nil {
		return nil, fromStorage("load group", err, ErrGroupNotFound)
	}
	m, err := s.store.Groups.GetMembership(ctx, groupID, userID)
	if err != nil {
		return nil, fromStorage("load membership", err, ErrNotMember)
	}
	return m, nil
}

// Activity returns the group's recent membership events, newest first.
func (s *MembershipService) Activity(ctx context.Context, groupID, userID uint) ([]models.GroupActivity, error) {
	if _, err := s.Authorize(ctx, groupID, userID); err != nil {
		return nil, err
	}
	list, err := s.store.Activities.ListByGroup(ctx, groupID, ActivityListLimit)
	if err != nil {
		return nil, fromStorage("list activity", err, nil)
	}
	return list, nil
}

// checkCapacity is the single capacity check; it must run under the
// group's row lock in the transaction performing the write.
func (s *MembershipService) checkCapacity(ctx context.Context, tx *repositories.Gateway, group *models.Group) error {
	count, err := tx.Groups.CountMembers(ctx, group.ID)
	if err != nil {
		return fromStorage("count members", err, nil)
	}
	if count >= int64(group.Capacity) {
		return ErrGroupFull
	}
	return nil
}

func (s *MembershipService) lockAsLeader(ctx context.Context, tx *repositories.Gateway, groupID, actorID uint) (*models.Group, error) {
	group, err := tx.Groups.GetForUpdate(ctx, groupID)
	if err != nil {
		return nil, fromStorage("load group", err, ErrGroupNotFound)
	}
	if group.LeaderID != actorID {
		return nil, ErrNotLeader
	}
	return group, nil
}

func (s *MembershipService) requireLeader(ctx context.Context, groupID, actorID uint) error {
	group, err := s.store.Groups.Get(ctx, groupID)
	if err != nil {
		return fromStorage("load group", err, ErrGroupNotFound)
	}
	if group.LeaderID != actorID {
		return ErrNotLeader
	}
	return nil
}

// emit publishes after commit; failures are logged.
func (s *MembershipService) emit(ctx context.Context, ev events.GroupEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn("failed to publish group event",
			zap.String("kind", string(ev.Kind)),
			zap.Uint("group_id", ev.GroupID),
			zap.Error(err),
		)
	}
}
