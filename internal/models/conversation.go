package models

import "time"

// Conversation is a private 1:1 thread between two users. Participants are
// stored in canonical order (user1_id < user2_id) so each pair maps to at
// most one row.
type Conversation struct {
	ID        int       `db:"id" json:"id"`
	User1ID   int       `db:"user1_id" json:"user1"`
	User2ID   int       `db:"user2_id" json:"user2"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// ConversationSummary is the per-user listing view of a conversation:
// counterpart info, last message and the caller's unread count.
type ConversationSummary struct {
	ID            int        `db:"id" json:"id"`
	User1ID       int        `db:"user1_id" json:"user1"`
	User2ID       int        `db:"user2_id" json:"user2"`
	CreatedAt     time.Time  `db:"created_at" json:"createdAt"`
	ReceiverID    int        `db:"receiver_id" json:"receiverId"`
	ReceiverName  string     `db:"receiver_name" json:"receiverName"`
	LastMessage   *string    `db:"last_message" json:"lastMessage,omitempty"`
	LastMessageAt *time.Time `db:"last_message_at" json:"lastMessageAt,omitempty"`
	UnreadCount   int        `db:"unread_count" json:"unreadCount"`
}

// Other returns the counterpart of userID on the conversation.
func (c Conversation) Other(userID int) int {
	if c.User1ID == userID {
		return c.User2ID
	}
	return c.User1ID
}

// HasParticipant reports whether userID is one of the two parties.
func (c Conversation) HasParticipant(userID int) bool {
	return c.User1ID == userID || c.User2ID == userID
}
