package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gopher0727/TeamLoom/internal/fanout"
	"github.com/Gopher0727/TeamLoom/internal/models"
	"github.com/Gopher0727/TeamLoom/internal/protocol"
)

func TestNotifyPersistsAndPushes(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "u")

	n, err := f.notify.Notify(f.ctx, NotificationInput{
		RecipientID: u.ID,
		Type:        models.NotifySystem,
		Title:       " <Welcome> ",
		Message:     "Glad you're here, a<b",
	})
	require.NoError(t, err)
	assert.Equal(t, "<Welcome>", n.Title)
	assert.Equal(t, "Glad you're here, a<b", n.Message)

	pushed := f.bus.to(fanout.UserTopic(u.ID))
	require.Len(t, pushed, 2)
	ev := pushed[0].(protocol.NotificationEvent)
	assert.Equal(t, "system", ev.Notification.NotificationType)
	assert.False(t, ev.Notification.IsRead)
	assert.Equal(t, protocol.UnreadCountEvent{Count: 1}, pushed[1])
}

func TestNotifyRejectsUnknownType(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "u")
	_, err := f.notify.Notify(f.ctx, NotificationInput{RecipientID: u.ID, Type: "party", Title: "x"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestMarkReadFlow(t *testing.T) {
	f := newFixture(t)
	u, other := f.user(t, "u"), f.user(t, "o")

	var ids []uint
	for range 3 {
		n, err := f.notify.Notify(f.ctx, NotificationInput{RecipientID: u.ID, Type: models.NotifySystem, Title: "t"})
		require.NoError(t, err)
		ids = append(ids, n.ID)
	}

	count, err := f.notify.UnreadCount(f.ctx, u.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	require.NoError(t, f.notify.MarkRead(f.ctx, u.ID, ids[0]))
	require.NoError(t, f.notify.MarkRead(f.ctx, u.ID, ids[0]), "marking twice succeeds")
	assert.ErrorIs(t, f.notify.MarkRead(f.ctx, other.ID, ids[1]), ErrNotificationNotFound)

	count, err = f.notify.UnreadCount(f.ctx, u.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	unread, err := f.notify.List(f.ctx, u.ID, true)
	require.NoError(t, err)
	assert.Len(t, unread, 2)

	changed, err := f.notify.MarkAllRead(f.ctx, u.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, changed)

	pushed := f.bus.to(fanout.UserTopic(u.ID))
	assert.Equal(t, protocol.UnreadCountEvent{Count: 0}, pushed[len(pushed)-1])

	all, err := f.notify.List(f.ctx, u.ID, false)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].ID, "newest first")
	for _, n := range all {
		assert.True(t, n.IsRead)
		assert.NotNil(t, n.ReadAt)
	}
}

// Counts come from the table, so a fresh service sees the same numbers.
func TestUnreadCountSurvivesRestart(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "u")
	_, err := f.notify.Notify(f.ctx, NotificationInput{RecipientID: u.ID, Type: models.NotifySystem, Title: "t"})
	require.NoError(t, err)

	restarted := NewNotificationService(f.store, &fakeBus{}, f.notify.log)
	count, err := restarted.UnreadCount(f.ctx, u.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}
