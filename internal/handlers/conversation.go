package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/directory"
	"messaging-service/internal/middleware"
	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
)

// ConversationHandler manages conversation lifecycle endpoints.
type ConversationHandler struct {
	convRepo  repositories.ConversationRepository
	msgRepo   repositories.MessageRepository
	directory directory.Directory
	audit     *telemetry.AuditEmitter
}

// NewConversationHandler constructs a ConversationHandler.
func NewConversationHandler(convRepo repositories.ConversationRepository, msgRepo repositories.MessageRepository, dir directory.Directory, audit *telemetry.AuditEmitter) *ConversationHandler {
	return &ConversationHandler{
		convRepo:  convRepo,
		msgRepo:   msgRepo,
		directory: dir,
		audit:     audit,
	}
}

// StartDirect creates or returns the direct conversation with a peer. Asking
// twice for the same peer yields the same conversation.
func (h *ConversationHandler) StartDirect(c *gin.Context) {
	var req struct {
		PeerID int `json:"peer_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt(middleware.UserIDKey)
	conv, err := h.convRepo.CreateOrGetDirect(c.Request.Context(), userID, req.PeerID)
	if err != nil {
		if errors.Is(err, repositories.ErrSelfConversation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot chat with yourself"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not start conversation"})
		return
	}

	c.JSON(http.StatusOK, conv)
}

// CreateGroup creates a group conversation with the caller as creator/admin.
func (h *ConversationHandler) CreateGroup(c *gin.Context) {
	var req struct {
		Name      string `json:"name" binding:"required,max=50"`
		MemberIDs []int  `json:"member_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt(middleware.UserIDKey)
	detail, err := h.convRepo.CreateGroup(c.Request.Context(), userID, req.Name, req.MemberIDs)
	if err != nil {
		h.emitAudit(c, "ERROR", "group create failed", nil)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create group"})
		return
	}

	h.emitAudit(c, "INFO", "group created", &detail.ID)
	c.JSON(http.StatusCreated, detail)
}

// ListConversations returns the caller's conversations with unread counts,
// most recently active first.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	userID := c.GetInt(middleware.UserIDKey)
	summaries, err := h.convRepo.ListForUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": summaries})
}

// GetConversation returns conversation details including members with
// display names.
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}
	userID := c.GetInt(middleware.UserIDKey)

	detail, err := h.convRepo.GetDetail(c.Request.Context(), conversationID)
	if err != nil {
		h.respondDetailError(c, err)
		return
	}
	if !detail.HasMember(userID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}

	memberIDs := make([]int, 0, len(detail.Members))
	for _, m := range detail.Members {
		memberIDs = append(memberIDs, m.UserID)
	}
	names, err := h.directory.BulkUsernames(c.Request.Context(), memberIDs)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load member info"})
		return
	}

	type memberResponse struct {
		models.Member
		Username string `json:"username,omitempty"`
	}
	members := make([]memberResponse, 0, len(detail.Members))
	for _, m := range detail.Members {
		members = append(members, memberResponse{Member: m, Username: names[m.UserID]})
	}

	c.JSON(http.StatusOK, gin.H{"conversation": detail.Conversation, "members": members})
}

// UpdateConversation renames a group or changes its membership. Admin only;
// the creator can never be removed.
func (h *ConversationHandler) UpdateConversation(c *gin.Context) {
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}
	userID := c.GetInt(middleware.UserIDKey)

	var req struct {
		Name            string `json:"name" binding:"omitempty,max=50"`
		AddMemberIDs    []int  `json:"add_member_ids"`
		RemoveMemberIDs []int  `json:"remove_member_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	detail, err := h.convRepo.GetDetail(c.Request.Context(), conversationID)
	if err != nil {
		h.respondDetailError(c, err)
		return
	}
	if !detail.HasMember(userID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	if detail.Kind != models.KindGroup {
		c.JSON(http.StatusBadRequest, gin.H{"error": "direct conversations cannot be modified"})
		return
	}
	if !detail.IsAdmin(userID) {
		h.emitAudit(c, "ERROR", "group update denied", &conversationID)
		c.JSON(http.StatusForbidden, gin.H{"error": "only admins can modify the group"})
		return
	}
	for _, id := range req.RemoveMemberIDs {
		if id == detail.CreatorID {
			c.JSON(http.StatusForbidden, gin.H{"error": "the creator cannot be removed"})
			return
		}
	}

	ctx := c.Request.Context()
	if req.Name != "" {
		if err := h.convRepo.Rename(ctx, conversationID, req.Name); err != nil {
			h.respondDetailError(c, err)
			return
		}
	}
	if len(req.AddMemberIDs) > 0 {
		if err := h.convRepo.AddMembers(ctx, conversationID, req.AddMemberIDs); err != nil {
			if errors.Is(err, repositories.ErrDuplicateMember) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "user already in group"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not add members"})
			return
		}
	}
	for _, id := range req.RemoveMemberIDs {
		if err := h.convRepo.RemoveMember(ctx, conversationID, id); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not remove members"})
			return
		}
	}

	updated, err := h.convRepo.GetDetail(ctx, conversationID)
	if err != nil {
		h.respondDetailError(c, err)
		return
	}

	h.emitAudit(c, "INFO", "group updated", &conversationID)
	c.JSON(http.StatusOK, updated)
}

// DeleteConversation removes the conversation and cascades its messages.
// Any member may delete a direct chat; only the creator may delete a group.
func (h *ConversationHandler) DeleteConversation(c *gin.Context) {
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}
	userID := c.GetInt(middleware.UserIDKey)

	detail, err := h.convRepo.GetDetail(c.Request.Context(), conversationID)
	if err != nil {
		h.respondDetailError(c, err)
		return
	}
	if !detail.HasMember(userID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	if detail.Kind == models.KindGroup && detail.CreatorID != userID {
		h.emitAudit(c, "ERROR", "group delete denied", &conversationID)
		c.JSON(http.StatusForbidden, gin.H{"error": "only the creator can delete the group"})
		return
	}

	if err := h.convRepo.Delete(c.Request.Context(), conversationID); err != nil {
		h.respondDetailError(c, err)
		return
	}

	h.emitAudit(c, "INFO", "conversation deleted", &conversationID)
	c.Status(http.StatusNoContent)
}

// ClearConversation deletes every message but keeps the conversation.
func (h *ConversationHandler) ClearConversation(c *gin.Context) {
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

	count, err := h.msgRepo.Clear(c.Request.Context(), conversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not clear conversation"})
		return
	}

	h.emitAudit(c, "INFO", "conversation cleared", &conversationID)
	c.JSON(http.StatusOK, gin.H{"deleted_count": count})
}

func (h *ConversationHandler) respondDetailError(c *gin.Context, err error) {
	if errors.Is(err, repositories.ErrConversationNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func (h *ConversationHandler) emitAudit(c *gin.Context, level, text string, conversationID *int) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c), conversationID)
}
