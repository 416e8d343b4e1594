package models

import "time"

// Conversation kinds.
const (
	KindDirect = "direct"
	KindGroup  = "group"
)

// Member roles within a group conversation.
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// Conversation is a direct (2-party) or group (N-party) chat container.
type Conversation struct {
	ID             int       `db:"id" json:"id"`
	Kind           string    `db:"kind" json:"kind"`
	Name           string    `db:"name" json:"name,omitempty"`
	CreatorID      int       `db:"creator_id" json:"creator_id"`
	LastMessage    string    `db:"last_message" json:"last_message"`
	LastActivityAt time.Time `db:"last_activity_at" json:"last_activity_at"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Member links a user to a conversation with a role.
type Member struct {
	ConversationID int       `db:"conversation_id" json:"conversation_id"`
	UserID         int       `db:"user_id" json:"user_id"`
	Role           string    `db:"role" json:"role"`
	JoinedAt       time.Time `db:"joined_at" json:"joined_at"`
}

// ConversationSummary is the list-view shape of a conversation for one user:
// denormalized preview fields plus that user's unread count.
type ConversationSummary struct {
	Conversation
	UnreadCount int `db:"unread_count" json:"unread_count"`
}

// ConversationDetail carries the conversation and its full member list.
type ConversationDetail struct {
	Conversation
	Members []Member `json:"members"`
}

// IsAdmin reports whether the user holds the admin role in the detail's
// member list. The creator is always treated as an admin.
func (d ConversationDetail) IsAdmin(userID int) bool {
	if d.CreatorID == userID {
		return true
	}
	for _, m := range d.Members {
		if m.UserID == userID && m.Role == RoleAdmin {
			return true
		}
	}
	return false
}

// HasMember reports whether the user is a current member.
func (d ConversationDetail) HasMember(userID int) bool {
	for _, m := range d.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}
