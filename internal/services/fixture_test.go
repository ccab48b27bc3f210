package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Gopher0727/TeamLoom/internal/events"
	"github.com/Gopher0727/TeamLoom/internal/fanout"
	"github.com/Gopher0727/TeamLoom/internal/models"
	"github.com/Gopher0727/TeamLoom/internal/protocol"
	"github.com/Gopher0727/TeamLoom/internal/repositories"
	"github.com/Gopher0727/TeamLoom/internal/storage/storagetest"
)

type published struct {
	Topic   fanout.Topic
	Event   protocol.Outbound
	Exclude string
}

type fakeBus struct {
	mu   sync.Mutex
	sent []published
}

func (b *fakeBus) Publish(_ context.Context, topic fanout.Topic, ev protocol.Outbound, exclude string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, published{Topic: topic, Event: ev, Exclude: exclude})
	return nil
}

func (b *fakeBus) to(topic fanout.Topic) []protocol.Outbound {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []protocol.Outbound
	for _, p := range b.sent {
		if p.Topic == topic {
			out = append(out, p.Event)
		}
	}
	return out
}

type eventLog struct {
	mu     sync.Mutex
	events []events.GroupEvent
}

func (l *eventLog) Publish(_ context.Context, ev events.GroupEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

func (l *eventLog) kinds() []events.Kind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]events.Kind, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Kind
	}
	return out
}

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) NextID() (int64, error) { return s.n.Add(1), nil }

type fixture struct {
	ctx     context.Context
	store   *repositories.Gateway
	bus     *fakeBus
	events  *eventLog
	notify  *NotificationService
	members *MembershipService
	chat    *ChatService
	clock   *clock

	users atomic.Int64
}

// clock hands out strictly increasing times so ordering by created_at is stable.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repositories.NewGateway(storagetest.NewDB(t), nil)
	bus := &fakeBus{}
	evs := &eventLog{}
	clk := &clock{now: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}

	notify := NewNotificationService(store, bus, zap.NewNop())
	notify.now = clk.Now
	members := NewMembershipService(store, notify, evs, zap.NewNop())
	members.now = clk.Now
	chat := NewChatService(store, &seqIDs{}, 2000, 100)
	chat.now = clk.Now

	return &fixture{
		ctx:     context.Background(),
		store:   store,
		bus:     bus,
		events:  evs,
		notify:  notify,
		members: members,
		chat:    chat,
		clock:   clk,
	}
}

func (f *fixture) user(t *testing.T, first string) *models.User {
	t.Helper()
	n := f.users.Add(1)
	u := &models.User{
		Email:        fmt.Sprintf("%s%d@example.com", first, n),
		FirstName:    first,
		PasswordHash: "x",
	}
	require.NoError(t, f.store.Users.Create(f.ctx, u))
	return u
}

func (f *fixture) group(t *testing.T, leader *models.User, capacity int) *models.Group {
	t.Helper()
	g, err := f.members.CreateGroup(f.ctx, leader.ID, &CreateGroupRequest{Name: "Robotics", Capacity: &capacity})
	require.NoError(t, err)
	return g.Group
}

// join files and accepts a join request for u.
func (f *fixture) join(t *testing.T, g *models.Group, u *models.User) {
	t.Helper()
	req, err := f.members.RequestJoin(f.ctx, g.ID, u.ID, "")
	require.NoError(t, err)
	_, err = f.members.ReviewJoin(f.ctx, g.ID, req.ID, g.LeaderID, DecisionAccept, "")
	require.NoError(t, err)
}

func (f *fixture) memberCount(t *testing.T, groupID uint) int64 {
	t.Helper()
	n, err := f.store.Groups.CountMembers(f.ctx, groupID)
	require.NoError(t, err)
	return n
}
