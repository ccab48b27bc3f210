package services

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gopher0727/TeamLoom/internal/events"
	"github.com/Gopher0727/TeamLoom/internal/fanout"
	"github.com/Gopher0727/TeamLoom/internal/models"
	"github.com/Gopher0727/TeamLoom/internal/protocol"
	"github.com/Gopher0727/TeamLoom/internal/repositories"
)

func TestCreateGroup(t *testing.T) {
	f := newFixture(t)
	leader := f.user(t, "ada")

	detail, err := f.members.CreateGroup(f.ctx, leader.ID, &CreateGroupRequest{Name: "  Robotics  "})
	require.NoError(t, err)
	assert.Equal(t, "Robotics", detail.Name)
	assert.Equal(t, models.DefaultCapacity, detail.Capacity)
	assert.Equal(t, models.GroupForming, detail.Status)
	assert.Equal(t, models.GroupTypeStudent, detail.Type)
	assert.EqualValues(t, 1, detail.MemberCount)

	m, err := f.store.Groups.GetMembership(f.ctx, detail.ID, leader.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleLeader, m.Role)
	assert.Equal(t, []events.Kind{events.KindGroupCreated}, f.events.kinds())
}

func TestCreateGroupValidation(t *testing.T) {
	f := newFixture(t)
	leader := f.user(t, "ada")
	zero := 0

	_, err := f.members.CreateGroup(f.ctx, leader.ID, &CreateGroupRequest{Name: "x", Capacity: &zero})
	assert.ErrorIs(t, err, ErrInvalidCapacity)

	_, err = f.members.CreateGroup(f.ctx, leader.ID, &CreateGroupRequest{Name: "x", GroupType: "club"})
	assert.ErrorIs(t, err, ErrInvalidGroupType)

	_, err = f.members.CreateGroup(f.ctx, leader.ID, &CreateGroupRequest{Name: "   "})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.members.CreateGroup(f.ctx, 9999, &CreateGroupRequest{Name: "x"})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

// The leader occupies one seat, so a group of two is full after one accept.
func TestJoinUntilFull(t *testing.T) {
	f := newFixture(t)
	a, b, c := f.user(t, "a"), f.user(t, "b"), f.user(t, "c")
	g := f.group(t, a, 2)

	req, err := f.members.RequestJoin(f.ctx, g.ID, b.ID, "let me in")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, req.Status)

	reviewed, err := f.members.ReviewJoin(f.ctx, g.ID, req.ID, a.ID, DecisionAccept, "welcome")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, reviewed.Status)
	assert.Equal(t, "welcome", reviewed.ResponseMessage)
	require.NotNil(t, reviewed.ReviewedByID)
	assert.Equal(t, a.ID, *reviewed.ReviewedByID)

	m, err := f.store.Groups.GetMembership(f.ctx, g.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleMember, m.Role)

	_, err = f.members.RequestJoin(f.ctx, g.ID, c.ID, "")
	assert.ErrorIs(t, err, ErrGroupFull)
	assert.ErrorIs(t, err, ErrConflict)
	assert.EqualValues(t, 2, f.memberCount(t, g.ID))
}

func TestRequestJoinErrors(t *testing.T) {
	f := newFixture(t)
	a, b := f.user(t, "a"), f.user(t, "b")
	g := f.group(t, a, 3)

	_, err := f.members.RequestJoin(f.ctx, g.ID, a.ID, "")
	assert.ErrorIs(t, err, ErrAlreadyMember)

	_, err = f.members.RequestJoin(f.ctx, 4242, b.ID, "")
	assert.ErrorIs(t, err, ErrGroupNotFound)

	_, err = f.members.RequestJoin(f.ctx, g.ID, b.ID, "")
	require.NoError(t, err)
	_, err = f.members.RequestJoin(f.ctx, g.ID, b.ID, "again")
	assert.ErrorIs(t, err, ErrDuplicatePending)
}

func TestRequestJoinNotifiesLeader(t *testing.T) {
	f := newFixture(t)
	a, b := f.user(t, "ada"), f.user(t, "bob")
	g := f.group(t, a, 3)

	_, err := f.members.RequestJoin(f.ctx, g.ID, b.ID, "")
	require.NoError(t, err)

	list, err := f.notify.List(f.ctx, a.ID, false)
	require.NoError(t, err)
	require.Len(t, list, 1)
	n := list[0]
	assert.Equal(t, models.NotifyJoinRequest, n.Type)
	assert.Equal(t, "New Join Request", n.Title)
	assert.Equal(t, `bob wants to join your group "Robotics"`, n.Message)
	require.NotNil(t, n.ActorID)
	assert.Equal(t, b.ID, *n.ActorID)
	assert.Equal(t, fmt.Sprintf("/groups/%d", g.ID), n.Link)

	pushed := f.bus.to(fanout.UserTopic(a.ID))
	require.Len(t, pushed, 2)
	note, ok := pushed[0].(protocol.NotificationEvent)
	require.True(t, ok)
	assert.Equal(t, n.ID, note.Notification.ID)
	assert.Equal(t, protocol.UnreadCountEvent{Count: 1}, pushed[1])
}

// Reviews and removals do not notify anyone.
func TestReviewDoesNotNotify(t *testing.T) {
	f := newFixture(t)
	a, b, c := f.user(t, "a"), f.user(t, "b"), f.user(t, "c")
	g := f.group(t, a, 4)

	f.join(t, g, b)
	req, err := f.members.RequestJoin(f.ctx, g.ID, c.ID, "")
	require.NoError(t, err)
	_, err = f.members.ReviewJoin(f.ctx, g.ID, req.ID, a.ID, DecisionReject, "no")
	require.NoError(t, err)
	require.NoError(t, f.members.RemoveMember(f.ctx, g.ID, a.ID, b.ID))

	assert.Empty(t, f.bus.to(fanout.UserTopic(b.ID)))
	assert.Empty(t, f.bus.to(fanout.UserTopic(c.ID)))
	n, err := f.notify.UnreadCount(f.ctx, b.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReviewJoinErrors(t *testing.T) {
	f := newFixture(t)
	a, b, c := f.user(t, "a"), f.user(t, "b"), f.user(t, "c")
	g := f.group(t, a, 3)
	other := f.group(t, c, 3)

	req, err := f.members.RequestJoin(f.ctx, g.ID, b.ID, "")
	require.NoError(t, err)

	_, err = f.members.ReviewJoin(f.ctx, g.ID, req.ID, b.ID, DecisionAccept, "")
	assert.ErrorIs(t, err, ErrNotLeader)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.members.ReviewJoin(f.ctx, g.ID, req.ID, a.ID, "maybe", "")
	assert.ErrorIs(t, err, ErrInvalidDecision)

	_, err = f.members.ReviewJoin(f.ctx, g.ID, 999, a.ID, DecisionAccept, "")
	assert.ErrorIs(t, err, ErrRequestNotFound)

	_, err = f.members.ReviewJoin(f.ctx, other.ID, req.ID, c.ID, DecisionAccept, "")
	assert.ErrorIs(t, err, ErrRequestNotFound, "request belongs to another group")

	_, err = f.members.ReviewJoin(f.ctx, g.ID, req.ID, a.ID, DecisionReject, "")
	require.NoError(t, err)
	_, err = f.members.ReviewJoin(f.ctx, g.ID, req.ID, a.ID, DecisionAccept, "")
	assert.ErrorIs(t, err, ErrInvalidState)

	member, err := f.store.Groups.IsMember(f.ctx, g.ID, b.ID)
	require.NoError(t, err)
	assert.False(t, member)
}

func TestAcceptRechecksCapacity(t *testing.T) {
	f := newFixture(t)
	a, b, c := f.user(t, "a"), f.user(t, "b"), f.user(t, "c")
	g := f.group(t, a, 2)

	rb, err := f.members.RequestJoin(f.ctx, g.ID, b.ID, "")
	require.NoError(t, err)
	rc, err := f.members.RequestJoin(f.ctx, g.ID, c.ID, "")
	require.NoError(t, err)

	_, err = f.members.ReviewJoin(f.ctx, g.ID, rb.ID, a.ID, DecisionAccept, "")
	require.NoError(t, err)
	_, err = f.members.ReviewJoin(f.ctx, g.ID, rc.ID, a.ID, DecisionAccept, "")
	assert.ErrorIs(t, err, ErrGroupFull)

	assert.EqualValues(t, 2, f.memberCount(t, g.ID))
	still, err := f.store.Requests.GetJoin(f.ctx, rc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, still.Status)
}

func TestConcurrentAcceptsOnLastSlot(t *testing.T) {
	f := newFixture(t)
	leader := f.user(t, "lead")
	g := f.group(t, leader, 2)

	const contenders = 6
	reqIDs := make([]uint, contenders)
	for i := range reqIDs {
		req, err := f.members.RequestJoin(f.ctx, g.ID, f.user(t, "u").ID, "")
		require.NoError(t, err)
		reqIDs[i] = req.ID
	}

	var wg sync.WaitGroup
	errs := make([]error, contenders)
	for i, id := range reqIDs {
		wg.Add(1)
		go func(i int, id uint) {
			defer wg.Done()
			_, errs[i] = f.members.ReviewJoin(f.ctx, g.ID, id, leader.ID, DecisionAccept, "")
		}(i, id)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		default:
			assert.ErrorIs(t, err, ErrGroupFull)
		}
	}
	assert.Equal(t, 1, winners)
	assert.EqualValues(t, 2, f.memberCount(t, g.ID))
}

func TestConcurrentDuplicateJoinRequests(t *testing.T) {
	f := newFixture(t)
	a, b := f.user(t, "a"), f.user(t, "b")
	g := f.group(t, a, 5)

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.members.RequestJoin(f.ctx, g.ID, b.ID, "")
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrDuplicatePending)
	}
	assert.Equal(t, 1, ok)

	pending, err := f.store.Requests.ListJoinByGroup(f.ctx, g.ID, models.StatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestLeaveLifecycle(t *testing.T) {
	f := newFixture(t)
	a, b := f.user(t, "a"), f.user(t, "b")
	g := f.group(t, a, 3)
	f.join(t, g, b)

	req, err := f.members.RequestLeave(f.ctx, g.ID, b.ID, "graduating")
	require.NoError(t, err)
	assert.Equal(t, "graduating", req.Reason)

	_, err = f.members.RequestLeave(f.ctx, g.ID, b.ID, "")
	assert.ErrorIs(t, err, ErrDuplicatePending)

	rejected, err := f.members.ReviewLeave(f.ctx, g.ID, req.ID, a.ID, DecisionReject)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, rejected.Status)
	assert.EqualValues(t, 2, f.memberCount(t, g.ID))

	req, err = f.members.RequestLeave(f.ctx, g.ID, b.ID, "")
	require.NoError(t, err)
	approved, err := f.members.ReviewLeave(f.ctx, g.ID, req.ID, a.ID, DecisionApprove)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, approved.Status)
	assert.EqualValues(t, 1, f.memberCount(t, g.ID))

	_, err = f.members.ReviewLeave(f.ctx, g.ID, req.ID, a.ID, DecisionApprove)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestRequestLeaveErrors(t *testing.T) {
	f := newFixture(t)
	a, b := f.user(t, "a"), f.user(t, "b")
	g := f.group(t, a, 3)

	_, err := f.members.RequestLeave(f.ctx, g.ID, a.ID, "")
	assert.ErrorIs(t, err, ErrLeaderCannotLeave)

	_, err = f.members.RequestLeave(f.ctx, g.ID, b.ID, "")
	assert.ErrorIs(t, err, ErrNotMember)

	_, err = f.members.RequestLeave(f.ctx, 777, b.ID, "")
	assert.ErrorIs(t, err, ErrGroupNotFound)
}

func TestReviewLeaveErrors(t *testing.T) {
	f := newFixture(t)
	a, b := f.user(t, "a"), f.user(t, "b")
	g := f.group(t, a, 3)
	f.join(t, g, b)

	req, err := f.members.RequestLeave(f.ctx, g.ID, b.ID, "")
	require.NoError(t, err)

	_, err = f.members.ReviewLeave(f.ctx, g.ID, req.ID, b.ID, DecisionApprove)
	assert.ErrorIs(t, err, ErrNotLeader)
	_, err = f.members.ReviewLeave(f.ctx, g.ID, req.ID, a.ID, DecisionAccept)
	assert.ErrorIs(t, err, ErrInvalidDecision)
	_, err = f.members.ReviewLeave(f.ctx, g.ID, 999, a.ID, DecisionApprove)
	assert.ErrorIs(t, err, ErrRequestNotFound)
}

// Approving a leave request for someone the leader already removed still
// resolves the request.
func TestApproveLeaveAfterRemoval(t *testing.T) {
	f := newFixture(t)
	a, b := f.user(t, "a"), f.user(t, "b")
	g := f.group(t, a, 3)
	f.join(t, g, b)

	req, err := f.members.RequestLeave(f.ctx, g.ID, b.ID, "")
	require.NoError(t, err)
	require.NoError(t, f.members.RemoveMember(f.ctx, g.ID, a.ID, b.ID))

	approved, err := f.members.ReviewLeave(f.ctx, g.ID, req.ID, a.ID, DecisionApprove)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, approved.Status)
}

func TestRemoveMember(t *testing.T) {
	f := newFixture(t)
	a, b, c := f.user(t, "a"), f.user(t, "b"), f.user(t, "c")
	g := f.group(t, a, 3)
	f.join(t, g, b)

	assert.ErrorIs(t, f.members.RemoveMember(f.ctx, g.ID, b.ID, a.ID), ErrNotLeader)
	assert.ErrorIs(t, f.members.RemoveMember(f.ctx, g.ID, a.ID, a.ID), ErrSelfRemoval)
	assert.ErrorIs(t, f.members.RemoveMember(f.ctx, g.ID, a.ID, c.ID), ErrTargetNotMember)

	require.NoError(t, f.members.RemoveMember(f.ctx, g.ID, a.ID, b.ID))
	assert.EqualValues(t, 1, f.memberCount(t, g.ID))

	// a removed member may ask to come back
	_, err := f.members.RequestJoin(f.ctx, g.ID, b.ID, "")
	assert.NoError(t, err)
}

func TestEventsFollowTransitions(t *testing.T) {
	f := newFixture(t)
	a, b := f.user(t, "a"), f.user(t, "b")
	g := f.group(t, a, 3)
	f.join(t, g, b)
	req, err := f.members.RequestLeave(f.ctx, g.ID, b.ID, "")
	require.NoError(t, err)
	_, err = f.members.ReviewLeave(f.ctx, g.ID, req.ID, a.ID, DecisionApprove)
	require.NoError(t, err)

	assert.Equal(t, []events.Kind{
		events.KindGroupCreated,
		events.KindJoinRequested,
		events.KindJoinAccepted,
		events.KindLeaveRequested,
		events.KindLeaveApproved,
	}, f.events.kinds())
}

func TestFailedTransitionEmitsNothing(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "a")
	g := f.group(t, a, 1)
	before := len(f.events.kinds())

	_, err := f.members.RequestJoin(f.ctx, g.ID, f.user(t, "b").ID, "")
	require.Error(t, err)
	assert.Len(t, f.events.kinds(), before)
}

func TestToggleComplete(t *testing.T) {
	f := newFixture(t)
	a, b := f.user(t, "a"), f.user(t, "b")
	g := f.group(t, a, 3)

	_, err := f.members.ToggleComplete(f.ctx, g.ID, b.ID)
	assert.ErrorIs(t, err, ErrNotLeader)

	got, err := f.members.ToggleComplete(f.ctx, g.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GroupCompleted, got.Status)

	got, err = f.members.ToggleComplete(f.ctx, g.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GroupActive, got.Status)
}

func TestListings(t *testing.T) {
	f := newFixture(t)
	a, b, c := f.user(t, "a"), f.user(t, "b"), f.user(t, "c")
	g := f.group(t, a, 4)
	f.join(t, g, b)
	_, err := f.members.RequestJoin(f.ctx, g.ID, c.ID, "")
	require.NoError(t, err)

	pending, err := f.members.ListJoinRequests(f.ctx, g.ID, a.ID, models.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, c.ID, pending[0].UserID)

	all, err := f.members.ListJoinRequests(f.ctx, g.ID, a.ID, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = f.members.ListJoinRequests(f.ctx, g.ID, b.ID, "")
	assert.ErrorIs(t, err, ErrNotLeader)
	_, err = f.members.ListLeaveRequests(f.ctx, g.ID, c.ID, "")
	assert.ErrorIs(t, err, ErrNotLeader)

	mine, err := f.members.MyJoinRequests(f.ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	require.NotNil(t, mine[0].Group)
	assert.Equal(t, "Robotics", mine[0].Group.Name)

	groups, err := f.members.MyGroups(f.ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.EqualValues(t, 2, groups[0].MemberCount)

	detail, err := f.members.GetGroup(f.ctx, g.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, detail.MemberCount)
	assert.Len(t, detail.Members, 2)
}

func TestAuthorize(t *testing.T) {
	f := newFixture(t)
	a, b := f.user(t, "a"), f.user(t, "b")
	g := f.group(t, a, 3)

	m, err := f.members.Authorize(f.ctx, g.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleLeader, m.Role)

	_, err = f.members.Authorize(f.ctx, g.ID, b.ID)
	assert.ErrorIs(t, err, ErrNotMember)
	_, err = f.members.Authorize(f.ctx, 555, a.ID)
	assert.ErrorIs(t, err, ErrGroupNotFound)
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, "group_full", CodeOf(ErrGroupFull))
	assert.Equal(t, "transient", CodeOf(fromStorage("x", errTransientForTest, nil)))
	assert.Equal(t, "", CodeOf(errors.New("boom")))
}

var errTransientForTest = fmt.Errorf("%w: lock timeout", repositories.ErrTransient)
