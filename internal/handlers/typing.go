package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/middleware"
	"messaging-service/internal/observability"
	"messaging-service/internal/presence"
	"messaging-service/internal/repositories"
)

// TypingHandler exposes the ephemeral typing registry over HTTP.
type TypingHandler struct {
	convRepo repositories.ConversationRepository
	registry *presence.Registry
}

// NewTypingHandler constructs a TypingHandler.
func NewTypingHandler(convRepo repositories.ConversationRepository, registry *presence.Registry) *TypingHandler {
	return &TypingHandler{convRepo: convRepo, registry: registry}
}

// SetTyping records or clears the caller's typing signal.
func (h *TypingHandler) SetTyping(c *gin.Context) {
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}
	userID := c.GetInt(middleware.UserIDKey)

	var req struct {
		IsTyping bool `json:"is_typing"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	member, err := h.convRepo.IsMember(c.Request.Context(), conversationID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "membership check failed"})
		return
	}
	if !member {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}

	h.registry.SetTyping(conversationID, userID, req.IsTyping)
	if req.IsTyping {
		observability.IncTypingSignal("start")
	} else {
		observability.IncTypingSignal("stop")
	}

	c.Status(http.StatusNoContent)
}

// GetTyping returns who is currently typing, excluding the caller.
func (h *TypingHandler) GetTyping(c *gin.Context) {
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}
	userID := c.GetInt(middleware.UserIDKey)

	member, err := h.convRepo.IsMember(c.Request.Context(), conversationID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "membership check failed"})
		return
	}
	if !member {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"typing": h.registry.ActiveTypists(conversationID, userID)})
}
