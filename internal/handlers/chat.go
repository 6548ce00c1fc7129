package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"uniconnect-chat/internal/models"
	"uniconnect-chat/internal/observability"
	"uniconnect-chat/internal/repositories"
	"uniconnect-chat/internal/telemetry"
	"uniconnect-chat/internal/ws"
)

// maxAttachmentBytes caps a single uploaded file.
const maxAttachmentBytes = 10 << 20

// ChatHandler manages the conversation and message endpoints.
type ChatHandler struct {
	convRepo    repositories.ConversationRepository
	messageRepo repositories.MessageRepository
	userRepo    repositories.UserRepository
	hub         *ws.Hub
	audit       *telemetry.AuditEmitter
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(convRepo repositories.ConversationRepository, messageRepo repositories.MessageRepository, userRepo repositories.UserRepository, hub *ws.Hub, audit *telemetry.AuditEmitter) *ChatHandler {
	return &ChatHandler{
		convRepo:    convRepo,
		messageRepo: messageRepo,
		userRepo:    userRepo,
		hub:         hub,
		audit:       audit,
	}
}

// ListConversations returns the caller's conversation summaries, newest
// activity first. The path user id must match the authenticated user.
func (h *ChatHandler) ListConversations(c *gin.Context) {
	pathUserID, err := strconv.Atoi(c.Param("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	userID := c.GetInt("userID")
	if pathUserID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "cannot list another user's conversations"})
		return
	}

	summaries, err := h.convRepo.ListConversationSummaries(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}
	if summaries == nil {
		summaries = []models.ConversationSummary{}
	}

	c.JSON(http.StatusOK, summaries)
}

// StartConversation creates or returns the conversation between the caller
// and the recipient.
func (h *ChatHandler) StartConversation(c *gin.Context) {
	var req struct {
		RecipientID int `json:"recipientId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt("userID")
	if userID == req.RecipientID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot start a conversation with yourself"})
		return
	}

	if _, err := h.userRepo.GetUser(c.Request.Context(), req.RecipientID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrUserNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "recipient not found"})
		return
	}

	conv, err := h.convRepo.CreateOrGetConversation(c.Request.Context(), userID, req.RecipientID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not start conversation"})
		return
	}

	c.JSON(http.StatusOK, conv)
}

// GetMessages returns a conversation's messages in send order.
func (h *ChatHandler) GetMessages(c *gin.Context) {
	conversationID, err := strconv.Atoi(c.Param("conversation_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	userID := c.GetInt("userID")
	member, err := h.convRepo.IsParticipant(c.Request.Context(), conversationID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation participant"})
		return
	}

	msgs, err := h.messageRepo.ListMessages(c.Request.Context(), conversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}

	c.JSON(http.StatusOK, msgs)
}

// PostMessage stores a message with its attachments, then broadcasts the
// stored row to live subscribers. Multipart form: conversationId, message,
// attachments files.
func (h *ChatHandler) PostMessage(c *gin.Context) {
	conversationID, err := strconv.Atoi(c.PostForm("conversationId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}
	content := c.PostForm("message")

	userID := c.GetInt("userID")
	conv, err := h.convRepo.GetConversation(c.Request.Context(), conversationID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrConversationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "conversation not found"})
		return
	}
	if !conv.HasParticipant(userID) {
		h.emitAudit(c, "ERROR", "message send rejected: not a participant")
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation participant"})
		return
	}

	attachments, err := h.collectAttachments(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.messageRepo.CreateMessage(c.Request.Context(), conversationID, userID, content, attachments)
	if err != nil {
		switch {
		case errors.Is(err, repositories.ErrEmptyMessage):
			c.JSON(http.StatusBadRequest, gin.H{"error": "message needs text or attachments"})
		case errors.Is(err, repositories.ErrConversationNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		default:
			h.emitAudit(c, "ERROR", "message store failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		}
		return
	}

	observability.IncMessageStored()
	h.hub.Broadcast(conversationID, msg)
	h.emitAudit(c, "INFO", "message sent")
	c.JSON(http.StatusCreated, msg)
}

// MarkMessagesRead flips the unread messages from the other participant to
// read. Safe to call repeatedly.
func (h *ChatHandler) MarkMessagesRead(c *gin.Context) {
	var req struct {
		ConversationID int `json:"conversationId" binding:"required"`
		UserID         int `json:"userId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt("userID")
	if req.UserID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "cannot mark messages read for another user"})
		return
	}

	if err := h.messageRepo.MarkConversationRead(c.Request.Context(), req.ConversationID, userID); err != nil {
		if errors.Is(err, repositories.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		h.emitAudit(c, "ERROR", "mark read failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark messages read"})
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *ChatHandler) collectAttachments(c *gin.Context) ([]models.NewAttachment, error) {
	form, err := c.MultipartForm()
	if err != nil {
		// A text-only send may arrive as plain form data.
		return nil, nil
	}

	files := form.File["attachments"]
	attachments := make([]models.NewAttachment, 0, len(files))
	for _, header := range files {
		data, err := readAttachment(header)
		if err != nil {
			return nil, err
		}
		attachments = append(attachments, models.NewAttachment{
			FileName: header.Filename,
			FileType: header.Header.Get("Content-Type"),
			Data:     data,
		})
	}
	return attachments, nil
}

func readAttachment(header *multipart.FileHeader) ([]byte, error) {
	if header.Size > maxAttachmentBytes {
		return nil, errors.New("attachment too large")
	}
	file, err := header.Open()
	if err != nil {
		return nil, errors.New("could not read attachment")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxAttachmentBytes+1))
	if err != nil {
		return nil, errors.New("could not read attachment")
	}
	if len(data) > maxAttachmentBytes {
		return nil, errors.New("attachment too large")
	}
	return data, nil
}

func (h *ChatHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}
