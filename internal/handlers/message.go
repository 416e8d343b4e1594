package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"messaging-service/internal/directory"
	"messaging-service/internal/middleware"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/presence"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
)

const (
	maxMessageLength = 2000
	defaultPageLimit = 50
	maxPageLimit     = 100
)

// MessageHandler serves the message history and send endpoints.
type MessageHandler struct {
	convRepo  repositories.ConversationRepository
	msgRepo   repositories.MessageRepository
	directory directory.Directory
	presence  *presence.Registry
	audit     *telemetry.AuditEmitter
	logger    zerolog.Logger
}

// NewMessageHandler constructs a MessageHandler.
func NewMessageHandler(convRepo repositories.ConversationRepository, msgRepo repositories.MessageRepository, dir directory.Directory, registry *presence.Registry, audit *telemetry.AuditEmitter, logger zerolog.Logger) *MessageHandler {
	return &MessageHandler{
		convRepo:  convRepo,
		msgRepo:   msgRepo,
		directory: dir,
		presence:  registry,
		audit:     audit,
		logger:    logger,
	}
}

type messageResponse struct {
	models.Message
	SenderUsername string               `json:"sender_username,omitempty"`
	Reply          *models.ReplyPreview `json:"reply,omitempty"`
}

// ListMessages returns a chronological page of messages. The cursor walks
// backwards through history; fetching a page also advances the caller's read
// marker.
func (h *MessageHandler) ListMessages(c *gin.Context) {
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}
	userID := c.GetInt(middleware.UserIDKey)

	limit := defaultPageLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	var cursor *repositories.Cursor
	if token := c.Query("cursor"); token != "" {
		decoded, err := repositories.DecodeCursor(token)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cursor"})
			return
		}
		cursor = &decoded
	}

	ctx := c.Request.Context()
	member, err := h.convRepo.IsMember(ctx, conversationID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "membership check failed"})
		return
	}
	if !member {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}

	page, err := h.msgRepo.Page(ctx, conversationID, limit, cursor)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	replies, err := h.msgRepo.ResolveReplies(ctx, page.Messages)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	senderIDs := make([]int, 0, len(page.Messages))
	seen := map[int]bool{}
	for _, m := range page.Messages {
		if !seen[m.SenderID] {
			seen[m.SenderID] = true
			senderIDs = append(senderIDs, m.SenderID)
		}
	}
	names, err := h.directory.BulkUsernames(ctx, senderIDs)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load sender info"})
		return
	}

	out := make([]messageResponse, 0, len(page.Messages))
	for _, m := range page.Messages {
		resp := messageResponse{Message: m, SenderUsername: names[m.SenderID]}
		if m.ReplyToID != nil {
			if preview, ok := replies[*m.ReplyToID]; ok {
				resp.Reply = &preview
			}
		}
		out = append(out, resp)
	}

	// Reading the latest page marks the conversation read; the marker only
	// ever moves forward.
	if cursor == nil {
		if err := h.convRepo.MarkRead(ctx, conversationID, userID, time.Now()); err != nil {
			h.logger.Warn().Err(err).Int("conversation_id", conversationID).Msg("mark read failed")
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"messages":    out,
		"next_cursor": page.NextCursor,
		"has_more":    page.HasMore,
	})
}

// PostMessage appends a message. Retries carrying the same client id get the
// originally stored message back instead of a second copy.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}
	userID := c.GetInt(middleware.UserIDKey)

	var req struct {
		Content       string  `json:"content"`
		AttachmentURL string  `json:"attachment_url"`
		ReplyToID     *int    `json:"reply_to_id"`
		ClientID      *string `json:"client_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Content == "" && req.AttachmentURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is empty"})
		return
	}
	if utf8.RuneCountInString(req.Content) > maxMessageLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message too long"})
		return
	}
	if req.ClientID != nil && *req.ClientID == "" {
		req.ClientID = nil
	}

	ctx := c.Request.Context()
	detail, err := h.convRepo.GetDetail(ctx, conversationID)
	if err != nil {
		if errors.Is(err, repositories.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if !detail.HasMember(userID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}

	if req.ReplyToID != nil {
		if detail.Kind != models.KindGroup {
			c.JSON(http.StatusBadRequest, gin.H{"error": "replies are only supported in groups"})
			return
		}
		referent, err := h.msgRepo.Get(ctx, *req.ReplyToID)
		if err != nil || referent.ConversationID != conversationID {
			c.JSON(http.StatusBadRequest, gin.H{"error": "reply target not found"})
			return
		}
	}

	msg, duplicate, err := h.msgRepo.Append(ctx, repositories.AppendParams{
		ConversationID: conversationID,
		SenderID:       userID,
		Content:        req.Content,
		AttachmentURL:  req.AttachmentURL,
		ReplyToID:      req.ReplyToID,
		ClientID:       req.ClientID,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not send message"})
		return
	}

	resp := messageResponse{Message: msg}
	if names, err := h.directory.BulkUsernames(ctx, []int{msg.SenderID}); err == nil {
		resp.SenderUsername = names[msg.SenderID]
	}

	if duplicate {
		observability.IncLedgerHit()
		c.JSON(http.StatusOK, resp)
		return
	}

	// A delivered message implies the sender stopped typing.
	if h.presence != nil {
		h.presence.SetTyping(conversationID, userID, false)
	}
	observability.IncMessageSent(detail.Kind)
	if h.audit != nil {
		h.audit.Emit(ctx, "INFO", "message sent", requestIDFromContext(c), userIDFromContext(c), &conversationID)
	}

	c.JSON(http.StatusCreated, resp)
}

// DeleteMessage removes a single message; only its sender may do so.
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	conversationID, messageID, ok := parseMessageIDs(c)
	if !ok {
		return
	}
	userID := c.GetInt(middleware.UserIDKey)

	ctx := c.Request.Context()
	member, err := h.convRepo.IsMember(ctx, conversationID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "membership check failed"})
		return
	}
	if !member {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}

	msg, err := h.msgRepo.Get(ctx, messageID)
	if err != nil || msg.ConversationID != conversationID {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}
	if msg.SenderID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the sender can delete a message"})
		return
	}

	if err := h.msgRepo.Delete(ctx, messageID, userID); err != nil {
		if errors.Is(err, repositories.ErrMessageNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not delete message"})
		return
	}

	c.Status(http.StatusNoContent)
}
