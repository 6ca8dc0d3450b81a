package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestNewMessageViewRedactsDeletedContent(t *testing.T) {
	now := time.Now().UTC()
	deletedAt := now.Add(time.Minute)
	msg := &Message{
		ID:           primitive.NewObjectID(),
		Conversation: primitive.NewObjectID(),
		Sender:       primitive.NewObjectID(),
		Content:      "secret text",
		IsDeleted:    true,
		DeletedAt:    &deletedAt,
		CreatedAt:    now,
	}
	sender := UserView{ID: msg.Sender.Hex(), Username: "alice"}

	v := NewMessageView(msg, sender)

	assert.Empty(t, v.Content, "deleted content must never leave the server")
	assert.True(t, v.IsDeleted)
	// metadata stays visible for the deletion placeholder
	assert.Equal(t, "alice", v.Sender.Username)
	assert.Equal(t, now, v.CreatedAt)
	require.NotNil(t, v.DeletedAt)
	assert.Equal(t, deletedAt, *v.DeletedAt)
}

func TestNewMessageViewKeepsActiveContent(t *testing.T) {
	msg := &Message{
		ID:           primitive.NewObjectID(),
		Conversation: primitive.NewObjectID(),
		Sender:       primitive.NewObjectID(),
		Content:      "hello",
		CreatedAt:    time.Now().UTC(),
	}
	v := NewMessageView(msg, UserView{})
	assert.Equal(t, "hello", v.Content)
	assert.False(t, v.IsDeleted)
}

func TestConversationViewForUser(t *testing.T) {
	a := primitive.NewObjectID()
	b := primitive.NewObjectID()
	conv := &Conversation{
		ID:           primitive.NewObjectID(),
		Type:         ConversationDirect,
		Participants: []primitive.ObjectID{a, b},
		UnreadCount:  map[string]int64{a.Hex(): 3, b.Hex(): 0},
	}
	v := NewConversationView(conv, []UserView{{ID: a.Hex()}, {ID: b.Hex()}}, nil, nil)

	assert.Equal(t, int64(3), v.ForUser(a.Hex()).UnreadCount)
	assert.Equal(t, int64(0), v.ForUser(b.Hex()).UnreadCount)
	// absent entry implies zero
	assert.Equal(t, int64(0), v.ForUser(primitive.NewObjectID().Hex()).UnreadCount)
}

func TestParticipantIDsExcludesActor(t *testing.T) {
	a := primitive.NewObjectID()
	b := primitive.NewObjectID()
	c := primitive.NewObjectID()
	conv := &Conversation{
		ID:           primitive.NewObjectID(),
		Type:         ConversationGroup,
		Participants: []primitive.ObjectID{a, b, c},
	}
	v := NewConversationView(conv, []UserView{{ID: a.Hex()}, {ID: b.Hex()}, {ID: c.Hex()}}, nil, nil)

	ids := v.ParticipantIDs(a.Hex())
	assert.ElementsMatch(t, []string{b.Hex(), c.Hex()}, ids)

	ids = v.ParticipantIDs("")
	assert.Len(t, ids, 3)
}
