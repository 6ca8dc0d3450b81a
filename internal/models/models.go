package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
)

type GroupRole string

const (
	RoleAdmin  GroupRole = "admin"
	RoleMember GroupRole = "member"
)

// User is the stored identity. GoogleID and Email come from the identity
// provider and are never exposed through conversation projections. Online is
// a best-effort cache of the presence registry's view, kept for clients that
// fetch a conversation snapshot while the owner is connected elsewhere.
type User struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	GoogleID  string             `bson:"google_id,omitempty" json:"-"`
	Username  string             `bson:"username,omitempty" json:"username"`
	Email     string             `bson:"email,omitempty" json:"-"`
	Avatar    string             `bson:"avatar,omitempty" json:"avatar,omitempty"`
	Online    bool               `bson:"online" json:"online"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at" json:"updated_at"`
}

type GroupMember struct {
	User primitive.ObjectID `bson:"user" json:"user"`
	Role GroupRole          `bson:"role" json:"role"`
}

type Group struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name      string             `bson:"name" json:"name"`
	Avatar    string             `bson:"avatar,omitempty" json:"avatar,omitempty"`
	Members   []GroupMember      `bson:"members" json:"members"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at" json:"updated_at"`
}

// Conversation is the stored document. Participants are unpopulated IDs;
// populated reads go through ConversationView, never through this type.
// UnreadCount maps user ID hex to that user's counter; a missing entry means
// zero. PairKey is set for direct conversations only: the two participant
// hexes sorted and joined, backed by a unique sparse index so a concurrent
// first-contact race resolves to a single document.
type Conversation struct {
	ID           primitive.ObjectID   `bson:"_id,omitempty"`
	Type         ConversationType     `bson:"type"`
	Participants []primitive.ObjectID `bson:"participants"`
	Group        primitive.ObjectID   `bson:"group,omitempty"`
	LastMessage  primitive.ObjectID   `bson:"last_message,omitempty"`
	UnreadCount  map[string]int64     `bson:"unread_count,omitempty"`
	PairKey      string               `bson:"pair_key,omitempty"`
	CreatedAt    time.Time            `bson:"created_at"`
	UpdatedAt    time.Time            `bson:"updated_at"`
}

// Message lifecycle: Active -> Edited* -> Deleted (terminal). Content is
// retained on soft delete; redaction happens at projection time.
type Message struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	Conversation primitive.ObjectID `bson:"conversation"`
	Sender       primitive.ObjectID `bson:"sender"`
	Content      string             `bson:"content"`
	EditedAt     *time.Time         `bson:"edited_at,omitempty"`
	IsDeleted    bool               `bson:"is_deleted"`
	DeletedAt    *time.Time         `bson:"deleted_at,omitempty"`
	CreatedAt    time.Time          `bson:"created_at"`
	UpdatedAt    time.Time          `bson:"updated_at"`
}
