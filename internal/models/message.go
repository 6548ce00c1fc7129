package models

import "time"

// Message is a persisted chat message. SentAt is assigned by the database
// at insert time and defines the display order within a conversation.
// ReadAt is set exactly once, when IsRead flips to true.
type Message struct {
	ID             int          `db:"id" json:"id"`
	ConversationID int          `db:"conversation_id" json:"conversationId"`
	Sender         int          `db:"sender_id" json:"sender"`
	Content        string       `db:"content" json:"message"`
	SentAt         time.Time    `db:"sent_at" json:"sentAt"`
	IsRead         bool         `db:"is_read" json:"isRead"`
	ReadAt         *time.Time   `db:"read_at" json:"readAt"`
	Attachments    []Attachment `json:"attachments,omitempty"`
}

// Attachment is a file stored alongside a message. FileData marshals as
// base64, which is what the web client expects.
type Attachment struct {
	ID        int    `db:"id" json:"id"`
	MessageID int    `db:"message_id" json:"-"`
	FileName  string `db:"file_name" json:"fileName"`
	FileType  string `db:"file_type" json:"fileType"`
	FileData  []byte `db:"file_data" json:"fileData"`
}

// NewAttachment carries an uploaded file into the message store.
type NewAttachment struct {
	FileName string
	FileType string
	Data     []byte
}

// ChatEvent is the envelope broadcast over websockets.
type ChatEvent struct {
	Type    string   `json:"type"`
	Message *Message `json:"message,omitempty"`
	Error   string   `json:"error,omitempty"`
}
