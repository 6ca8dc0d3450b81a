package fanout

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kpmajid/chat-app/internal/metrics"
	"github.com/kpmajid/chat-app/internal/models"
	"github.com/kpmajid/chat-app/internal/presence"
)

// Registry is the slice of the presence registry the dispatcher needs.
type Registry interface {
	ConnectionsFor(userID string) []presence.Pusher
}

// ContactSource answers "who should hear about this user's presence": the
// distinct counterparts across all of the user's conversations.
type ContactSource interface {
	ContactIDs(ctx context.Context, userID string) ([]string, error)
	GetUser(ctx context.Context, userID string) (*models.User, error)
}

const (
	EventNewMessage     = "newMessage"
	EventMessageUpdated = "messageUpdated"
	EventMessageDeleted = "messageDeleted"
	EventUserOnline     = "userOnline"
	EventUserOffline    = "userOffline"
)

// Dispatcher translates completed store mutations into pushes to exactly the
// affected recipients. It never writes to the store, and a recipient with no
// live connections is a normal silent case: that client catches up on its
// next fetch. Push failures are logged, never propagated; by the time the
// dispatcher runs, the mutation has already succeeded.
type Dispatcher struct {
	registry Registry
	contacts ContactSource
	log      *zap.SugaredLogger
}

func NewDispatcher(registry Registry, contacts ContactSource, log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{registry: registry, contacts: contacts, log: log}
}

type newMessagePayload struct {
	Message      *models.MessageView      `json:"message"`
	Conversation *models.ConversationView `json:"conversation"`
}

type messageUpdatedPayload struct {
	MessageID      string     `json:"messageId"`
	ConversationID string     `json:"conversationId"`
	Content        string     `json:"content"`
	EditedAt       *time.Time `json:"editedAt"`
}

type messageDeletedPayload struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	DeletedAt      time.Time `json:"deletedAt"`
}

type presencePayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

// DispatchMessageSent pushes the new message to every participant except the
// sender. Each recipient gets the conversation view carrying that
// recipient's own unread counter, not a shared value.
func (d *Dispatcher) DispatchMessageSent(msg *models.MessageView, conv *models.ConversationView, excludeUserID string) {
	for _, uid := range conv.ParticipantIDs(excludeUserID) {
		payload := newMessagePayload{Message: msg, Conversation: conv.ForUser(uid)}
		d.pushTo(uid, EventNewMessage, payload)
	}
}

func (d *Dispatcher) DispatchMessageEdited(msg *models.MessageView, conversationID string, recipients []string) {
	payload := messageUpdatedPayload{
		MessageID:      msg.ID,
		ConversationID: conversationID,
		Content:        msg.Content,
		EditedAt:       msg.EditedAt,
	}
	for _, uid := range recipients {
		d.pushTo(uid, EventMessageUpdated, payload)
	}
}

func (d *Dispatcher) DispatchMessageDeleted(messageID, conversationID string, deletedAt time.Time, recipients []string) {
	payload := messageDeletedPayload{
		MessageID:      messageID,
		ConversationID: conversationID,
		DeletedAt:      deletedAt,
	}
	for _, uid := range recipients {
		d.pushTo(uid, EventMessageDeleted, payload)
	}
}

// DispatchPresenceChange notifies the user's contacts. The contact scan is
// O(conversations-for-user) but only runs once per connect/disconnect edge.
func (d *Dispatcher) DispatchPresenceChange(ctx context.Context, userID string, online bool) {
	username := ""
	if u, err := d.contacts.GetUser(ctx, userID); err == nil {
		username = u.Username
	}
	contactIDs, err := d.contacts.ContactIDs(ctx, userID)
	if err != nil {
		d.log.Warnw("presence contact scan failed", "user_id", userID, "err", err)
		return
	}
	event := EventUserOffline
	if online {
		event = EventUserOnline
	}
	payload := presencePayload{UserID: userID, Username: username, Online: online}
	for _, uid := range contactIDs {
		d.pushTo(uid, event, payload)
	}
}

func (d *Dispatcher) pushTo(userID, event string, payload any) {
	conns := d.registry.ConnectionsFor(userID)
	if len(conns) == 0 {
		return
	}
	for _, c := range conns {
		c.Push(event, payload)
	}
	metrics.EventsPushed.WithLabelValues(event).Add(float64(len(conns)))
}
