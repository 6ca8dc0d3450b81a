package models

import "time"

// UserView is the public profile projection embedded in conversations and
// messages. Email and provider IDs stay server-side.
type UserView struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
	Online   bool   `json:"online"`
}

type GroupView struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// MessageView is the only message shape that leaves the server. Construct it
// with NewMessageView so redaction cannot be bypassed by a new read path.
type MessageView struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	Sender         UserView   `json:"sender"`
	Content        string     `json:"content"`
	EditedAt       *time.Time `json:"edited_at,omitempty"`
	IsDeleted      bool       `json:"is_deleted"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ConversationView is the populated projection. UnreadCount is the counter
// for the user the view is being rendered for; the full per-user map never
// leaves the server.
type ConversationView struct {
	ID           string           `json:"id"`
	Type         ConversationType `json:"type"`
	Participants []UserView       `json:"participants"`
	Group        *GroupView       `json:"group,omitempty"`
	LastMessage  *MessageView     `json:"last_message,omitempty"`
	UnreadCount  int64            `json:"unread_count"`
	UpdatedAt    time.Time        `json:"updated_at"`
	CreatedAt    time.Time        `json:"created_at"`

	unread map[string]int64
}

func NewUserView(u *User) UserView {
	return UserView{
		ID:       u.ID.Hex(),
		Username: u.Username,
		Avatar:   u.Avatar,
		Online:   u.Online,
	}
}

func NewGroupView(g *Group) *GroupView {
	if g == nil {
		return nil
	}
	return &GroupView{ID: g.ID.Hex(), Name: g.Name, Avatar: g.Avatar}
}

// NewMessageView projects a stored message. This is the single redaction
// point: once IsDeleted is set the content is blanked, while sender and
// timestamps stay visible so clients can render a deletion placeholder.
func NewMessageView(m *Message, sender UserView) *MessageView {
	v := &MessageView{
		ID:             m.ID.Hex(),
		ConversationID: m.Conversation.Hex(),
		Sender:         sender,
		Content:        m.Content,
		EditedAt:       m.EditedAt,
		IsDeleted:      m.IsDeleted,
		DeletedAt:      m.DeletedAt,
		CreatedAt:      m.CreatedAt,
	}
	if m.IsDeleted {
		v.Content = ""
	}
	return v
}

func NewConversationView(c *Conversation, participants []UserView, group *GroupView, last *MessageView) *ConversationView {
	unread := make(map[string]int64, len(c.UnreadCount))
	for k, n := range c.UnreadCount {
		unread[k] = n
	}
	return &ConversationView{
		ID:           c.ID.Hex(),
		Type:         c.Type,
		Participants: participants,
		Group:        group,
		LastMessage:  last,
		UpdatedAt:    c.UpdatedAt,
		CreatedAt:    c.CreatedAt,
		unread:       unread,
	}
}

// ForUser returns a copy of the view with UnreadCount set to the given
// user's own counter. The dispatcher calls this once per recipient so each
// client sees its own number, never a shared one.
func (v *ConversationView) ForUser(userID string) *ConversationView {
	cp := *v
	cp.UnreadCount = v.unread[userID]
	return &cp
}

// ParticipantIDs lists participant user IDs, optionally excluding one (the
// actor of a mutation).
func (v *ConversationView) ParticipantIDs(exclude string) []string {
	out := make([]string, 0, len(v.Participants))
	for _, p := range v.Participants {
		if p.ID == exclude {
			continue
		}
		out = append(out, p.ID)
	}
	return out
}
