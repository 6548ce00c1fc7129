package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"uniconnect-chat/internal/models"
)

var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	CreateOrGetConversation(ctx context.Context, userID int, otherID int) (models.Conversation, error)
	IsParticipant(ctx context.Context, conversationID int, userID int) (bool, error)
	GetConversation(ctx context.Context, conversationID int) (models.Conversation, error)
	ListConversationSummaries(ctx context.Context, userID int) ([]models.ConversationSummary, error)
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// canonicalPair orders two participant ids so that each unordered pair maps
// to exactly one (user1_id, user2_id) row.
func canonicalPair(a, b int) (int, int) {
	if a > b {
		return b, a
	}
	return a, b
}

// CreateOrGetConversation returns the conversation between two users,
// creating it if absent. Concurrent calls for the same pair are resolved by
// the UNIQUE(user1_id, user2_id) constraint: the losing insert is a no-op
// and the winning row is fetched instead.
func (r *ConversationRepo) CreateOrGetConversation(ctx context.Context, userID int, otherID int) (models.Conversation, error) {
	if userID == otherID {
		return models.Conversation{}, errors.New("cannot start a conversation with yourself")
	}
	user1, user2 := canonicalPair(userID, otherID)

	var conv models.Conversation
	err := r.db.QueryRowxContext(ctx, `INSERT INTO conversations (user1_id, user2_id) VALUES ($1, $2)
        ON CONFLICT (user1_id, user2_id) DO NOTHING
        RETURNING id, user1_id, user2_id, created_at`, user1, user2).StructScan(&conv)
	if errors.Is(err, sql.ErrNoRows) {
		// Lost the race or the pair already existed; fetch the winning row.
		err = r.db.GetContext(ctx, &conv, `SELECT id, user1_id, user2_id, created_at FROM conversations WHERE user1_id=$1 AND user2_id=$2`, user1, user2)
	}
	if err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

// IsParticipant checks whether a user is one of the two parties.
func (r *ConversationRepo) IsParticipant(ctx context.Context, conversationID int, userID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM conversations WHERE id=$1 AND (user1_id=$2 OR user2_id=$2))`, conversationID, userID)
	return exists, err
}

// GetConversation fetches a conversation by id.
func (r *ConversationRepo) GetConversation(ctx context.Context, conversationID int) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT id, user1_id, user2_id, created_at FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// ListConversationSummaries returns the user's conversations with the
// counterpart name, the latest message and the caller's unread count,
// most recent activity first.
func (r *ConversationRepo) ListConversationSummaries(ctx context.Context, userID int) ([]models.ConversationSummary, error) {
	query := `SELECT c.id, c.user1_id, c.user2_id, c.created_at,
            u.id AS receiver_id, u.name AS receiver_name,
            lm.content AS last_message, lm.sent_at AS last_message_at,
            (SELECT COUNT(*) FROM messages m
                WHERE m.conversation_id = c.id AND m.sender_id <> $1 AND m.is_read = FALSE) AS unread_count
        FROM conversations c
        JOIN users u ON u.id = CASE WHEN c.user1_id = $1 THEN c.user2_id ELSE c.user1_id END
        LEFT JOIN LATERAL (
            SELECT content, sent_at FROM messages m
            WHERE m.conversation_id = c.id
            ORDER BY m.sent_at DESC, m.id DESC
            LIMIT 1
        ) lm ON TRUE
        WHERE c.user1_id = $1 OR c.user2_id = $1
        ORDER BY COALESCE(lm.sent_at, c.created_at) DESC`

	var summaries []models.ConversationSummary
	err := r.db.SelectContext(ctx, &summaries, query, userID)
	return summaries, err
}
