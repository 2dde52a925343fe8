package chathub_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"relaychat/backend/internal/chathub"
	"relaychat/backend/internal/models"
	"relaychat/backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type coordFixture struct {
	ctx   context.Context
	store *storage.Memory
	hub   *chathub.ManagerService
	conv  *models.Conversation
	a1    *fakeClient
	a2    *fakeClient
	b1    *fakeClient
}

// newCoordFixture has alice on two connections and bob on one, all online,
// in a 1:1 conversation. Only a1 has joined the room.
func newCoordFixture(t *testing.T) *coordFixture {
	t.Helper()
	f := &coordFixture{
		ctx:   context.Background(),
		store: storage.NewMemory(),
		a1:    newFakeClient("a1", "alice"),
		a2:    newFakeClient("a2", "alice"),
		b1:    newFakeClient("b1", "bob"),
	}
	f.hub = newHub(f.store)
	f.conv = seedConversation(t, f.store, "alice", "bob")
	online(t, f.hub, f.a1)
	online(t, f.hub, f.a2)
	online(t, f.hub, f.b1)
	require.NoError(t, f.hub.Coordinator.JoinRoom(f.ctx, f.a1, f.conv.ID))
	return f
}

func (f *coordFixture) send(t *testing.T, from *fakeClient, content string) *models.Message {
	t.Helper()
	msg, err := f.hub.Coordinator.Send(f.ctx, from, models.SendMessagePayload{
		ConversationID: f.conv.ID,
		Content:        content,
		TempID:         "tmp-" + content,
	})
	require.NoError(t, err)
	return msg
}

func TestCoordinator_SendAcksOriginAndBroadcasts(t *testing.T) {
	f := newCoordFixture(t)

	msg := f.send(t, f.a1, "hi")

	ack := lastOf[models.MessageSent](t, f.a1, models.EventMessageSent)
	assert.Equal(t, "tmp-hi", ack.TempID)
	assert.Equal(t, msg.ID, ack.Message.ID)
	assert.Zero(t, f.a2.count(models.EventMessageSent), "ack goes to the originating connection only")
	assert.Zero(t, f.b1.count(models.EventMessageSent))

	for _, c := range []*fakeClient{f.a1, f.a2, f.b1} {
		assert.Equal(t, 1, c.count(models.EventNewMessage), c.id)
		assert.Equal(t, 1, c.count(models.EventMessageDelivered), c.id)
	}

	require.NotNil(t, msg.ReceiverID)
	assert.Equal(t, "bob", *msg.ReceiverID)
	assert.True(t, msg.Delivered)
	assert.Equal(t, "alice", msg.SenderID)

	conv, err := f.store.GetConversation(f.ctx, f.conv.ID)
	require.NoError(t, err)
	require.NotNil(t, conv.LastMessageID)
	assert.Equal(t, msg.ID, *conv.LastMessageID)
	assert.Equal(t, 1, conv.UnreadFor("bob"))
	assert.Equal(t, 0, conv.UnreadFor("alice"))
}

func TestCoordinator_SendToOfflineReceiverIsUndelivered(t *testing.T) {
	f := newCoordFixture(t)
	f.hub.Registry.Unregister("b1")

	msg := f.send(t, f.a1, "hi")

	assert.False(t, msg.Delivered)
	assert.Nil(t, msg.DeliveredAt)
	assert.False(t, lastOf[models.MessageSent](t, f.a1, models.EventMessageSent).Message.Delivered)
	assert.Zero(t, f.a1.count(models.EventMessageDelivered))
}

func TestCoordinator_SendRejectsNonParticipant(t *testing.T) {
	f := newCoordFixture(t)
	eve := newFakeClient("e1", "eve")
	online(t, f.hub, eve)

	_, err := f.hub.Coordinator.Send(f.ctx, eve, models.SendMessagePayload{ConversationID: f.conv.ID, Content: "x"})

	assert.ErrorIs(t, err, chathub.ErrAuthorization)
	msgs, _ := f.store.ListMessages(f.ctx, f.conv.ID, "alice", 0)
	assert.Empty(t, msgs)
	assert.Zero(t, f.a1.total()+f.b1.total(), "failed attempts are not announced")
}

func TestCoordinator_SendRejectsForeignIdentity(t *testing.T) {
	f := newCoordFixture(t)

	_, err := f.hub.Coordinator.Send(f.ctx, f.a1, models.SendMessagePayload{
		ConversationID: f.conv.ID, SenderID: "bob", Content: "x",
	})
	assert.ErrorIs(t, err, chathub.ErrAuthorization)

	_, err = f.hub.Coordinator.Send(f.ctx, f.a1, models.SendMessagePayload{
		ConversationID: f.conv.ID, ReceiverID: "eve", Content: "x",
	})
	assert.ErrorIs(t, err, chathub.ErrAuthorization)
}

func TestCoordinator_SendUnknownConversation(t *testing.T) {
	f := newCoordFixture(t)

	_, err := f.hub.Coordinator.Send(f.ctx, f.a1, models.SendMessagePayload{ConversationID: "nope", Content: "x"})

	assert.ErrorIs(t, err, chathub.ErrNotFound)
}

func TestCoordinator_GroupMessagesHaveNoReceiver(t *testing.T) {
	f := newCoordFixture(t)
	group := seedConversation(t, f.store, "alice", "bob", "carol")

	msg, err := f.hub.Coordinator.Send(f.ctx, f.a1, models.SendMessagePayload{
		ConversationID: group.ID, Content: "all", FileURL: "https://files/x.png",
	})

	require.NoError(t, err)
	assert.Nil(t, msg.ReceiverID)
	assert.True(t, msg.Delivered, "bob is online")
	assert.Equal(t, models.MessageTypeFile, msg.Type)
	conv, _ := f.store.GetConversation(f.ctx, group.ID)
	assert.Equal(t, 1, conv.UnreadFor("carol"))
}

func TestCoordinator_MarkDeliveredOneEventPerConversation(t *testing.T) {
	f := newCoordFixture(t)
	other := seedConversation(t, f.store, "carol", "bob")
	carol := newFakeClient("c1", "carol")
	online(t, f.hub, carol)
	f.hub.Registry.Unregister("b1")

	m1 := f.send(t, f.a1, "one")
	f.send(t, f.a1, "two")
	_, err := f.hub.Coordinator.Send(f.ctx, carol, models.SendMessagePayload{ConversationID: other.ID, Content: "three"})
	require.NoError(t, err)

	require.NoError(t, f.hub.Coordinator.MarkDelivered(f.ctx, "bob"))

	assert.Equal(t, 1, f.a1.count(models.EventMessagesDelivered))
	assert.Equal(t, 1, carol.count(models.EventMessagesDelivered))
	notice := lastOf[models.MessagesDelivered](t, f.a1, models.EventMessagesDelivered)
	assert.Equal(t, f.conv.ID, notice.ConversationID)
	assert.Equal(t, "bob", notice.ReceiverID)

	got, _ := f.store.GetMessage(f.ctx, m1.ID)
	assert.True(t, got.Delivered)

	require.NoError(t, f.hub.Coordinator.MarkDelivered(f.ctx, "bob"))
	assert.Equal(t, 1, f.a1.count(models.EventMessagesDelivered), "nothing left to deliver")
}

func TestCoordinator_MarkReadIsIdempotent(t *testing.T) {
	f := newCoordFixture(t)
	msg := f.send(t, f.a1, "hi")

	require.NoError(t, f.hub.Coordinator.MarkRead(f.ctx, f.b1, models.MarkReadPayload{MessageID: msg.ID}))
	require.NoError(t, f.hub.Coordinator.MarkRead(f.ctx, f.b1, models.MarkReadPayload{MessageID: msg.ID}))

	assert.Equal(t, 1, f.a2.count(models.EventMessageStatusUpdate), "sender's tab outside the room is notified once")
	update := lastOf[models.MessageStatusUpdate](t, f.a1, models.EventMessageStatusUpdate)
	assert.Equal(t, models.StatusRead, update.Status)
	assert.Equal(t, "bob", update.ReadBy)

	got, _ := f.store.GetMessage(f.ctx, msg.ID)
	assert.True(t, got.IsRead)
	assert.Len(t, got.ReadBy, 1)
	conv, _ := f.store.GetConversation(f.ctx, f.conv.ID)
	assert.Equal(t, 0, conv.UnreadFor("bob"))
}

func TestCoordinator_MarkReadRejectsSenderAndOutsiders(t *testing.T) {
	f := newCoordFixture(t)
	msg := f.send(t, f.a1, "hi")
	eve := newFakeClient("e1", "eve")

	assert.ErrorIs(t, f.hub.Coordinator.MarkRead(f.ctx, f.a2, models.MarkReadPayload{MessageID: msg.ID}), chathub.ErrAuthorization)
	assert.ErrorIs(t, f.hub.Coordinator.MarkRead(f.ctx, eve, models.MarkReadPayload{MessageID: msg.ID}), chathub.ErrAuthorization)
	assert.ErrorIs(t, f.hub.Coordinator.MarkRead(f.ctx, f.b1, models.MarkReadPayload{MessageID: "missing"}), chathub.ErrNotFound)
	assert.ErrorIs(t, f.hub.Coordinator.MarkRead(f.ctx, f.b1, models.MarkReadPayload{MessageID: msg.ID, ConversationID: "other"}), chathub.ErrNotFound)
}

func TestCoordinator_ReactTwiceRestoresList(t *testing.T) {
	f := newCoordFixture(t)
	msg := f.send(t, f.a1, "hi")
	react := models.ReactPayload{MessageID: msg.ID, Emoji: "👍"}

	first, err := f.hub.Coordinator.React(f.ctx, f.b1, react)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := f.hub.Coordinator.React(f.ctx, f.b1, react)
	require.NoError(t, err)
	assert.Empty(t, second)

	got, _ := f.store.GetMessage(f.ctx, msg.ID)
	assert.Empty(t, got.Reactions)

	assert.Equal(t, 2, f.a1.count(models.EventReactionAdded))
	assert.Zero(t, f.a2.count(models.EventReactionAdded), "reactions go to the room only")
	update := lastOf[models.ReactionUpdate](t, f.a1, models.EventReactionAdded)
	assert.NotNil(t, update.Reactions, "full list, empty not null")
	assert.Empty(t, update.Reactions)
}

func TestCoordinator_ReactSingleReactionPerUser(t *testing.T) {
	f := newCoordFixture(t)
	f.hub.Coordinator.SingleReactionPerUser = true
	msg := f.send(t, f.a1, "hi")

	_, err := f.hub.Coordinator.React(f.ctx, f.b1, models.ReactPayload{MessageID: msg.ID, Emoji: "👍"})
	require.NoError(t, err)
	list, err := f.hub.Coordinator.React(f.ctx, f.b1, models.ReactPayload{MessageID: msg.ID, Emoji: "🎉"})
	require.NoError(t, err)

	require.Len(t, list, 1)
	assert.Equal(t, "🎉", list[0].Emoji)
	got, _ := f.store.GetMessage(f.ctx, msg.ID)
	require.Len(t, got.Reactions, 1)
	assert.Equal(t, "🎉", got.Reactions[0].Emoji)
}

func TestCoordinator_ConcurrentReactionsAreNotLost(t *testing.T) {
	f := newCoordFixture(t)
	users := make([]string, 20)
	for i := range users {
		users[i] = fmt.Sprintf("u%d", i)
	}
	group := seedConversation(t, f.store, append([]string{"alice"}, users...)...)
	msg, err := f.hub.Coordinator.Send(f.ctx, f.a1, models.SendMessagePayload{ConversationID: group.ID, Content: "vote"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i, user := range users {
		wg.Add(1)
		go func(c *fakeClient) {
			defer wg.Done()
			_, err := f.hub.Coordinator.React(f.ctx, c, models.ReactPayload{MessageID: msg.ID, Emoji: "👍"})
			assert.NoError(t, err)
		}(newFakeClient(fmt.Sprintf("r%d", i), user))
	}
	wg.Wait()

	got, _ := f.store.GetMessage(f.ctx, msg.ID)
	assert.Len(t, got.Reactions, len(users))
}

func TestCoordinator_DeleteForEveryoneByNonSenderFails(t *testing.T) {
	f := newCoordFixture(t)
	msg := f.send(t, f.a1, "hi")

	err := f.hub.Coordinator.Delete(f.ctx, f.b1, models.DeleteMessagePayload{MessageID: msg.ID, Scope: models.DeleteForEveryone})

	assert.ErrorIs(t, err, chathub.ErrAuthorization)
	got, err := f.store.GetMessage(f.ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Content)
	assert.Zero(t, f.a1.count(models.EventMessageDeleted))
	assert.Zero(t, f.b1.count(models.EventMessageDeleted))
}

func TestCoordinator_DeleteForEveryoneResolvesLastMessage(t *testing.T) {
	f := newCoordFixture(t)
	first := f.send(t, f.a1, "one")
	second := f.send(t, f.a1, "two")

	require.NoError(t, f.hub.Coordinator.Delete(f.ctx, f.a1, models.DeleteMessagePayload{MessageID: second.ID, Scope: models.DeleteForEveryone}))

	conv, _ := f.store.GetConversation(f.ctx, f.conv.ID)
	require.NotNil(t, conv.LastMessageID)
	assert.Equal(t, first.ID, *conv.LastMessageID)
	_, err := f.store.GetMessage(f.ctx, second.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	for _, c := range []*fakeClient{f.a1, f.a2, f.b1} {
		deleted := lastOf[models.MessageDeleted](t, c, models.EventMessageDeleted)
		assert.Equal(t, models.DeleteForEveryone, deleted.Scope, c.id)
		assert.Equal(t, second.ID, deleted.MessageID)
	}

	require.NoError(t, f.hub.Coordinator.Delete(f.ctx, f.a1, models.DeleteMessagePayload{MessageID: first.ID, Scope: models.DeleteForEveryone}))
	conv, _ = f.store.GetConversation(f.ctx, f.conv.ID)
	assert.Nil(t, conv.LastMessageID)
}

func TestCoordinator_DeleteForMeNotifiesRequesterOnly(t *testing.T) {
	f := newCoordFixture(t)
	msg := f.send(t, f.a1, "hi")

	require.NoError(t, f.hub.Coordinator.Delete(f.ctx, f.a1, models.DeleteMessagePayload{MessageID: msg.ID, Scope: models.DeleteForMe}))

	assert.Equal(t, 1, f.a1.count(models.EventMessageDeleted))
	assert.Equal(t, 1, f.a2.count(models.EventMessageDeleted))
	assert.Zero(t, f.b1.count(models.EventMessageDeleted))
	deleted := lastOf[models.MessageDeleted](t, f.a2, models.EventMessageDeleted)
	assert.Equal(t, models.DeleteForMe, deleted.Scope)
	assert.Equal(t, "alice", deleted.UserID)

	forAlice, _ := f.store.ListMessages(f.ctx, f.conv.ID, "alice", 0)
	forBob, _ := f.store.ListMessages(f.ctx, f.conv.ID, "bob", 0)
	assert.Empty(t, forAlice)
	assert.Len(t, forBob, 1)

	err := f.hub.Coordinator.Delete(f.ctx, f.b1, models.DeleteMessagePayload{MessageID: msg.ID, Scope: models.DeleteForMe})
	assert.ErrorIs(t, err, chathub.ErrAuthorization, "receivers cannot hide another party's message")
}

func TestCoordinator_EditBySender(t *testing.T) {
	f := newCoordFixture(t)
	msg := f.send(t, f.a1, "hi")

	_, err := f.hub.Coordinator.Edit(f.ctx, f.b1, models.EditMessagePayload{MessageID: msg.ID, Content: "hacked"})
	assert.ErrorIs(t, err, chathub.ErrAuthorization)

	edited, err := f.hub.Coordinator.Edit(f.ctx, f.a1, models.EditMessagePayload{MessageID: msg.ID, Content: "hello"})
	require.NoError(t, err)

	assert.True(t, edited.IsEdited)
	got := lastOf[models.Message](t, f.a1, models.EventMessageEdited)
	assert.Equal(t, "hello", got.Content)
	assert.NotNil(t, got.EditedAt)
	stored, _ := f.store.GetMessage(f.ctx, msg.ID)
	assert.Equal(t, "hello", stored.Content)
}

func TestCoordinator_TypingExcludesTypist(t *testing.T) {
	f := newCoordFixture(t)
	require.NoError(t, f.hub.Coordinator.JoinRoom(f.ctx, f.a2, f.conv.ID))
	require.NoError(t, f.hub.Coordinator.JoinRoom(f.ctx, f.b1, f.conv.ID))

	require.NoError(t, f.hub.Coordinator.Typing(f.ctx, f.b1, f.conv.ID, true))

	assert.Zero(t, f.b1.count(models.EventUserTyping))
	typing := lastOf[models.UserTyping](t, f.a2, models.EventUserTyping)
	assert.Equal(t, "bob", typing.UserID)
	assert.True(t, typing.IsTyping)

	eve := newFakeClient("e1", "eve")
	assert.ErrorIs(t, f.hub.Coordinator.Typing(f.ctx, eve, f.conv.ID, true), chathub.ErrAuthorization)
	assert.ErrorIs(t, f.hub.Coordinator.JoinRoom(f.ctx, eve, f.conv.ID), chathub.ErrAuthorization)
}
