package repositories

import (
	"context"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"uniconnect-chat/internal/models"
)

var ErrEmptyMessage = errors.New("message has no content and no attachments")

// MessageRepository defines interactions for messages and read state.
type MessageRepository interface {
	CreateMessage(ctx context.Context, conversationID int, senderID int, content string, attachments []models.NewAttachment) (models.Message, error)
	ListMessages(ctx context.Context, conversationID int) ([]models.Message, error)
	MarkConversationRead(ctx context.Context, conversationID int, userID int) error
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage stores a message and its attachments in one transaction.
// sent_at is assigned by the database at insert time; is_read starts false.
func (r *MessageRepo) CreateMessage(ctx context.Context, conversationID int, senderID int, content string, attachments []models.NewAttachment) (models.Message, error) {
	if strings.TrimSpace(content) == "" && len(attachments) == 0 {
		return models.Message{}, ErrEmptyMessage
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var exists bool
	if err = tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM conversations WHERE id=$1)`, conversationID); err != nil {
		return models.Message{}, err
	}
	if !exists {
		err = ErrConversationNotFound
		return models.Message{}, err
	}

	var msg models.Message
	if err = tx.QueryRowxContext(ctx, `INSERT INTO messages (conversation_id, sender_id, content) VALUES ($1, $2, $3)
        RETURNING id, conversation_id, sender_id, content, sent_at, is_read, read_at`, conversationID, senderID, content).
		StructScan(&msg); err != nil {
		return models.Message{}, err
	}

	for _, att := range attachments {
		var stored models.Attachment
		if err = tx.QueryRowxContext(ctx, `INSERT INTO message_attachments (message_id, file_name, file_type, file_data) VALUES ($1, $2, $3, $4)
            RETURNING id, message_id, file_name, file_type, file_data`, msg.ID, att.FileName, att.FileType, att.Data).
			StructScan(&stored); err != nil {
			return models.Message{}, err
		}
		msg.Attachments = append(msg.Attachments, stored)
	}

	if err = tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// ListMessages returns a conversation's messages in send order with
// attachments hydrated.
func (r *MessageRepo) ListMessages(ctx context.Context, conversationID int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT id, conversation_id, sender_id, content, sent_at, is_read, read_at
        FROM messages WHERE conversation_id=$1 ORDER BY sent_at ASC, id ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return msgs, nil
	}

	ids := make([]int64, 0, len(msgs))
	index := make(map[int]*models.Message, len(msgs))
	for i := range msgs {
		ids = append(ids, int64(msgs[i].ID))
		index[msgs[i].ID] = &msgs[i]
	}

	var atts []models.Attachment
	err = r.db.SelectContext(ctx, &atts, `SELECT id, message_id, file_name, file_type, file_data
        FROM message_attachments WHERE message_id = ANY($1) ORDER BY id ASC`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	for _, att := range atts {
		if msg, ok := index[att.MessageID]; ok {
			msg.Attachments = append(msg.Attachments, att)
		}
	}
	return msgs, nil
}

// MarkConversationRead marks every unread message from the other
// participant as read. Calling it again is a no-op; read_at is only ever
// written on the false-to-true transition.
func (r *MessageRepo) MarkConversationRead(ctx context.Context, conversationID int, userID int) error {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM conversations WHERE id=$1)`, conversationID); err != nil {
		return err
	}
	if !exists {
		return ErrConversationNotFound
	}

	_, err := r.db.ExecContext(ctx, `UPDATE messages SET is_read = TRUE, read_at = NOW()
        WHERE conversation_id=$1 AND sender_id<>$2 AND is_read = FALSE`, conversationID, userID)
	return err
}
