package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gopher0727/TeamLoom/internal/models"
)

func TestSendMessage(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "ada")
	g := f.group(t, a, 3)

	msg, err := f.chat.SendMessage(f.ctx, g.ID, a.ID, SendMessageInput{Content: "  hello team \n"})
	require.NoError(t, err)
	assert.NotZero(t, msg.ID)
	assert.Equal(t, "hello team", msg.Content)
	assert.Equal(t, models.MessageText, msg.MessageType)
	require.NotNil(t, msg.Sender)

	wire := WireMessage(msg)
	assert.Equal(t, msg.ID, wire.ID)
	assert.Equal(t, "ada", wire.Sender.Name)
	assert.Equal(t, a.ID, wire.Sender.ID)
	assert.NotEmpty(t, wire.CreatedAt)
}

func TestContentIsStoredVerbatim(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "a")
	g := f.group(t, a, 3)

	for _, content := range []string{
		"if a<b and c>d",
		"use Vec<String> here",
		"&lt;b&gt;bold&lt;/b&gt;",
		"<b>hello</b> & <script>x</script>",
	} {
		msg, err := f.chat.SendMessage(f.ctx, g.ID, a.ID, SendMessageInput{Content: " " + content + " "})
		require.NoError(t, err)
		assert.Equal(t, content, msg.Content)

		history, err := f.chat.History(f.ctx, g.ID, a.ID, 1, nil)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, content, history[0].Content)
	}

	msg, err := f.chat.SendMessage(f.ctx, g.ID, a.ID, SendMessageInput{Content: "x"})
	require.NoError(t, err)
	edited, err := f.chat.Edit(f.ctx, g.ID, a.ID, msg.ID, "Option<T> vs T")
	require.NoError(t, err)
	assert.Equal(t, "Option<T> vs T", edited.Content)
}

func TestSendMessageValidation(t *testing.T) {
	f := newFixture(t)
	a, outsider := f.user(t, "a"), f.user(t, "o")
	g := f.group(t, a, 3)

	cases := []struct {
		name string
		in   SendMessageInput
		user uint
		want error
	}{
		{"empty", SendMessageInput{Content: "   "}, a.ID, ErrEmptyContent},
		{"markup only", SendMessageInput{Content: "<script>x</script>"}, a.ID, ErrEmptyContent},
		{"system type", SendMessageInput{Content: "hi", MessageType: models.MessageSystem}, a.ID, ErrInvalidMessageType},
		{"unknown type", SendMessageInput{Content: "hi", MessageType: "video"}, a.ID, ErrInvalidMessageType},
		{"too long", SendMessageInput{Content: strings.Repeat("é", 2001)}, a.ID, ErrContentTooLong},
		{"not member", SendMessageInput{Content: "hi"}, outsider.ID, ErrNotMember},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.chat.SendMessage(f.ctx, g.ID, tc.user, tc.in)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestFilePlaceholder(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "a")
	g := f.group(t, a, 3)

	msg, err := f.chat.SendMessage(f.ctx, g.ID, a.ID, SendMessageInput{
		MessageType: models.MessageFile,
		FileURL:     "/files/report.pdf",
		FileName:    "report.pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, "Sent a file: report.pdf", msg.Content)

	msg, err = f.chat.SendMessage(f.ctx, g.ID, a.ID, SendMessageInput{MessageType: models.MessageImage})
	require.NoError(t, err)
	assert.Equal(t, "Sent a file", msg.Content)
}

func TestReplyMustStayInGroup(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "a")
	g1, g2 := f.group(t, a, 3), f.group(t, a, 3)

	first, err := f.chat.SendMessage(f.ctx, g1.ID, a.ID, SendMessageInput{Content: "root"})
	require.NoError(t, err)

	reply, err := f.chat.SendMessage(f.ctx, g1.ID, a.ID, SendMessageInput{Content: "re", ReplyTo: &first.ID})
	require.NoError(t, err)
	require.NotNil(t, reply.ReplyToID)
	assert.Equal(t, first.ID, *reply.ReplyToID)

	_, err = f.chat.SendMessage(f.ctx, g2.ID, a.ID, SendMessageInput{Content: "re", ReplyTo: &first.ID})
	assert.ErrorIs(t, err, ErrReplyOutsideGroup)
}

func TestMarkReadIsIdempotent(t *testing.T) {
	f := newFixture(t)
	a, b := f.user(t, "a"), f.user(t, "b")
	g := f.group(t, a, 3)
	f.join(t, g, b)

	msg, err := f.chat.SendMessage(f.ctx, g.ID, a.ID, SendMessageInput{Content: "hi"})
	require.NoError(t, err)

	require.NoError(t, f.chat.MarkRead(f.ctx, g.ID, b.ID, msg.ID))
	require.NoError(t, f.chat.MarkRead(f.ctx, g.ID, b.ID, msg.ID))

	n, err := f.store.Messages.CountReads(f.ctx, msg.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	assert.ErrorIs(t, f.chat.MarkRead(f.ctx, g.ID, b.ID, 12345), ErrMessageNotFound)
}

func TestUnreadCountAndSoftDelete(t *testing.T) {
	f := newFixture(t)
	a, b := f.user(t, "a"), f.user(t, "b")
	g := f.group(t, a, 3)

	before, err := f.chat.SendMessage(f.ctx, g.ID, a.ID, SendMessageInput{Content: "before b joined"})
	require.NoError(t, err)
	f.join(t, g, b)

	m1, err := f.chat.SendMessage(f.ctx, g.ID, a.ID, SendMessageInput{Content: "one"})
	require.NoError(t, err)
	m2, err := f.chat.SendMessage(f.ctx, g.ID, a.ID, SendMessageInput{Content: "two"})
	require.NoError(t, err)
	_, err = f.chat.SendMessage(f.ctx, g.ID, b.ID, SendMessageInput{Content: "own"})
	require.NoError(t, err)

	n, err := f.chat.UnreadCount(f.ctx, g.ID, b.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n, "only messages from others since joining")

	require.NoError(t, f.chat.MarkRead(f.ctx, g.ID, b.ID, m1.ID))
	require.NoError(t, f.chat.Delete(f.ctx, g.ID, a.ID, m2.ID))

	n, err = f.chat.UnreadCount(f.ctx, g.ID, b.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	stored, err := f.store.Messages.Get(f.ctx, m2.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsDeleted)
	assert.Equal(t, models.DeletedMessageContent, stored.Content)

	history, err := f.chat.History(f.ctx, g.ID, b.ID, 0, nil)
	require.NoError(t, err)
	var contents []string
	for _, m := range history {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{before.Content, "one", "own"}, contents)
}

func TestHistoryLimitAndAccess(t *testing.T) {
	f := newFixture(t)
	a, outsider := f.user(t, "a"), f.user(t, "o")
	g := f.group(t, a, 3)
	for _, c := range []string{"1", "2", "3", "4"} {
		_, err := f.chat.SendMessage(f.ctx, g.ID, a.ID, SendMessageInput{Content: c})
		require.NoError(t, err)
	}

	msgs, err := f.chat.History(f.ctx, g.ID, a.ID, 2, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "3", msgs[0].Content)
	assert.Equal(t, "4", msgs[1].Content)

	_, err = f.chat.History(f.ctx, g.ID, outsider.ID, 10, nil)
	assert.ErrorIs(t, err, ErrNotMember)
}

func TestEditMessage(t *testing.T) {
	f := newFixture(t)
	a, b := f.user(t, "a"), f.user(t, "b")
	g := f.group(t, a, 3)
	f.join(t, g, b)

	msg, err := f.chat.SendMessage(f.ctx, g.ID, a.ID, SendMessageInput{Content: "teh"})
	require.NoError(t, err)

	_, err = f.chat.Edit(f.ctx, g.ID, b.ID, msg.ID, "hijack")
	assert.ErrorIs(t, err, ErrNotSender)

	edited, err := f.chat.Edit(f.ctx, g.ID, a.ID, msg.ID, "the")
	require.NoError(t, err)
	assert.True(t, edited.IsEdited)
	require.NotNil(t, edited.EditedAt)
	assert.Equal(t, "the", edited.Content)

	require.NoError(t, f.chat.Delete(f.ctx, g.ID, a.ID, msg.ID))
	_, err = f.chat.Edit(f.ctx, g.ID, a.ID, msg.ID, "again")
	assert.ErrorIs(t, err, ErrMessageDeleted)
	assert.ErrorIs(t, f.chat.Delete(f.ctx, g.ID, b.ID, msg.ID), ErrNotSender)
}
