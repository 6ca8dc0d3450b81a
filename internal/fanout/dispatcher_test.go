package fanout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/kpmajid/chat-app/internal/models"
	"github.com/kpmajid/chat-app/internal/presence"
)

type capturedEvent struct {
	event   string
	payload any
}

type capturePusher struct {
	events []capturedEvent
}

func (p *capturePusher) Push(event string, payload any) {
	p.events = append(p.events, capturedEvent{event, payload})
}

type stubRegistry struct {
	conns map[string][]*capturePusher
}

func (r *stubRegistry) ConnectionsFor(userID string) []presence.Pusher {
	out := make([]presence.Pusher, 0, len(r.conns[userID]))
	for _, p := range r.conns[userID] {
		out = append(out, p)
	}
	return out
}

type stubContacts struct {
	contacts map[string][]string
	users    map[string]*models.User
}

func (s *stubContacts) ContactIDs(ctx context.Context, userID string) ([]string, error) {
	return s.contacts[userID], nil
}

func (s *stubContacts) GetUser(ctx context.Context, userID string) (*models.User, error) {
	return s.users[userID], nil
}

func directView(t *testing.T, unread map[string]int64, ids ...primitive.ObjectID) *models.ConversationView {
	t.Helper()
	participants := make([]models.UserView, 0, len(ids))
	for _, id := range ids {
		participants = append(participants, models.UserView{ID: id.Hex()})
	}
	conv := &models.Conversation{
		ID:           primitive.NewObjectID(),
		Type:         models.ConversationDirect,
		Participants: ids,
		UnreadCount:  unread,
		UpdatedAt:    time.Now().UTC(),
	}
	return models.NewConversationView(conv, participants, nil, nil)
}

func TestDispatchMessageSentEmbedsOwnUnreadCount(t *testing.T) {
	sender := primitive.NewObjectID()
	recB := primitive.NewObjectID()
	recC := primitive.NewObjectID()

	bConn := &capturePusher{}
	cConn1 := &capturePusher{}
	cConn2 := &capturePusher{}
	reg := &stubRegistry{conns: map[string][]*capturePusher{
		recB.Hex(): {bConn},
		recC.Hex(): {cConn1, cConn2},
	}}
	d := NewDispatcher(reg, &stubContacts{}, zap.NewNop().Sugar())

	conv := directView(t, map[string]int64{recB.Hex(): 5, recC.Hex(): 1}, sender, recB, recC)
	msg := &models.MessageView{ID: primitive.NewObjectID().Hex(), ConversationID: conv.ID, Content: "hi"}

	d.DispatchMessageSent(msg, conv, sender.Hex())

	// B sees B's counter
	require.Len(t, bConn.events, 1)
	assert.Equal(t, EventNewMessage, bConn.events[0].event)
	pb := bConn.events[0].payload.(newMessagePayload)
	assert.Equal(t, int64(5), pb.Conversation.UnreadCount)
	assert.Equal(t, "hi", pb.Message.Content)

	// every one of C's connections sees C's counter, not B's
	for _, conn := range []*capturePusher{cConn1, cConn2} {
		require.Len(t, conn.events, 1)
		pc := conn.events[0].payload.(newMessagePayload)
		assert.Equal(t, int64(1), pc.Conversation.UnreadCount)
	}
}

func TestDispatchMessageSentExcludesSender(t *testing.T) {
	sender := primitive.NewObjectID()
	rec := primitive.NewObjectID()

	senderConn := &capturePusher{}
	recConn := &capturePusher{}
	reg := &stubRegistry{conns: map[string][]*capturePusher{
		sender.Hex(): {senderConn},
		rec.Hex():    {recConn},
	}}
	d := NewDispatcher(reg, &stubContacts{}, zap.NewNop().Sugar())

	conv := directView(t, nil, sender, rec)
	d.DispatchMessageSent(&models.MessageView{ID: "m1"}, conv, sender.Hex())

	assert.Empty(t, senderConn.events, "sender must not receive their own fanout")
	assert.Len(t, recConn.events, 1)
}

func TestDispatchToOfflineRecipientIsSilent(t *testing.T) {
	sender := primitive.NewObjectID()
	rec := primitive.NewObjectID()
	reg := &stubRegistry{conns: map[string][]*capturePusher{}}
	d := NewDispatcher(reg, &stubContacts{}, zap.NewNop().Sugar())

	conv := directView(t, nil, sender, rec)
	// must not panic or error; the client catches up on next fetch
	d.DispatchMessageSent(&models.MessageView{ID: "m1"}, conv, sender.Hex())
	d.DispatchMessageDeleted("m1", conv.ID, time.Now(), []string{rec.Hex()})
}

func TestDispatchMessageEdited(t *testing.T) {
	rec := primitive.NewObjectID()
	recConn := &capturePusher{}
	reg := &stubRegistry{conns: map[string][]*capturePusher{rec.Hex(): {recConn}}}
	d := NewDispatcher(reg, &stubContacts{}, zap.NewNop().Sugar())

	editedAt := time.Now().UTC()
	msg := &models.MessageView{ID: "m1", Content: "new text", EditedAt: &editedAt}
	d.DispatchMessageEdited(msg, "conv1", []string{rec.Hex()})

	require.Len(t, recConn.events, 1)
	assert.Equal(t, EventMessageUpdated, recConn.events[0].event)
	p := recConn.events[0].payload.(messageUpdatedPayload)
	assert.Equal(t, "m1", p.MessageID)
	assert.Equal(t, "conv1", p.ConversationID)
	assert.Equal(t, "new text", p.Content)
}

func TestDispatchMessageDeleted(t *testing.T) {
	rec := primitive.NewObjectID()
	recConn := &capturePusher{}
	reg := &stubRegistry{conns: map[string][]*capturePusher{rec.Hex(): {recConn}}}
	d := NewDispatcher(reg, &stubContacts{}, zap.NewNop().Sugar())

	deletedAt := time.Now().UTC()
	d.DispatchMessageDeleted("m1", "conv1", deletedAt, []string{rec.Hex()})

	require.Len(t, recConn.events, 1)
	assert.Equal(t, EventMessageDeleted, recConn.events[0].event)
	p := recConn.events[0].payload.(messageDeletedPayload)
	assert.Equal(t, deletedAt, p.DeletedAt)
}

func TestDispatchPresenceChangeIsContactScoped(t *testing.T) {
	user := primitive.NewObjectID()
	contact := primitive.NewObjectID()
	stranger := primitive.NewObjectID()

	contactConn := &capturePusher{}
	strangerConn := &capturePusher{}
	reg := &stubRegistry{conns: map[string][]*capturePusher{
		contact.Hex():  {contactConn},
		stranger.Hex(): {strangerConn},
	}}
	contacts := &stubContacts{
		contacts: map[string][]string{user.Hex(): {contact.Hex()}},
		users:    map[string]*models.User{user.Hex(): {ID: user, Username: "alice"}},
	}
	d := NewDispatcher(reg, contacts, zap.NewNop().Sugar())

	d.DispatchPresenceChange(context.Background(), user.Hex(), true)

	require.Len(t, contactConn.events, 1)
	assert.Equal(t, EventUserOnline, contactConn.events[0].event)
	p := contactConn.events[0].payload.(presencePayload)
	assert.Equal(t, "alice", p.Username)
	assert.True(t, p.Online)

	assert.Empty(t, strangerConn.events, "presence is contact-scoped, never global")

	d.DispatchPresenceChange(context.Background(), user.Hex(), false)
	require.Len(t, contactConn.events, 2)
	assert.Equal(t, EventUserOffline, contactConn.events[1].event)
}
