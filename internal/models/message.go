package models

import "time"

// Message is an immutable unit of communication within one conversation.
// ClientID, when present, is the caller-chosen idempotency key; the store
// guarantees at most one message per (conversation, client id) pair.
type Message struct {
	ID             int       `db:"id" json:"id"`
	ConversationID int       `db:"conversation_id" json:"conversation_id"`
	SenderID       int       `db:"sender_id" json:"sender_id"`
	Content        string    `db:"content" json:"content"`
	AttachmentURL  string    `db:"attachment_url" json:"attachment_url,omitempty"`
	ReplyToID      *int      `db:"reply_to_id" json:"reply_to_id,omitempty"`
	ClientID       *string   `db:"client_id" json:"client_id,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// ReplyPreview is the resolved reply reference attached to a message on
// fetch. Available is false when the referenced message has been deleted;
// callers render it as unavailable rather than failing.
type ReplyPreview struct {
	MessageID int    `json:"message_id"`
	SenderID  int    `json:"sender_id,omitempty"`
	Content   string `json:"content,omitempty"`
	Available bool   `json:"available"`
}

// MessagePage is one page of a reverse-chronological cursor scan, already
// reversed into chronological order for display.
type MessagePage struct {
	Messages   []Message `json:"messages"`
	NextCursor string    `json:"next_cursor,omitempty"`
	HasMore    bool      `json:"has_more"`
}
