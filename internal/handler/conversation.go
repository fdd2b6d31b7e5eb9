package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chat_backend/internal/service"
	pkgerrors "chat_backend/pkg/errors"
	"chat_backend/pkg/logger"
)

type ConversationHandler struct {
	conversationService service.ConversationService
	log                 logger.Logger
}

func NewConversationHandler(conversationService service.ConversationService, log logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		conversationService: conversationService,
		log:                 log,
	}
}

func (h *ConversationHandler) GetConversations(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	conversations, err := h.conversationService.ListForUser(c.Request.Context(), userID.(uuid.UUID))
	if err != nil {
		h.log.Error("Failed to list conversations", "error", err, "user_id", userID)
		c.JSON(pkgerrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}

type CheckOrCreateRequest struct {
	ContactID uuid.UUID `json:"contact_id" binding:"required"`
}

// CheckOrCreatePrivate возвращает существующую приватную беседу с контактом
// либо создает новую. Повторный вызов отдает ту же беседу.
func (h *ConversationHandler) CheckOrCreatePrivate(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	var req CheckOrCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conversation, err := h.conversationService.FindOrCreatePrivate(c.Request.Context(), userID.(uuid.UUID), req.ContactID)
	if err != nil {
		c.JSON(pkgerrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, conversation)
}

type CreateGroupRequest struct {
	Name      string      `json:"name" binding:"required"`
	AvatarURL *string     `json:"avatar_url"`
	MemberIDs []uuid.UUID `json:"member_ids" binding:"required"`
}

func (h *ConversationHandler) CreateGroup(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	var req CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conversation, members, err := h.conversationService.CreateGroup(c.Request.Context(), userID.(uuid.UUID), req.Name, req.AvatarURL, req.MemberIDs)
	if err != nil {
		c.JSON(pkgerrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	h.log.Info("Group created", "conversation_id", conversation.ID, "creator_id", userID)
	c.JSON(http.StatusCreated, gin.H{"conversation": conversation, "members": members})
}

type UpdateGroupRequest struct {
	Name      *string `json:"name"`
	AvatarURL *string `json:"avatar_url"`
}

func (h *ConversationHandler) UpdateGroup(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation ID"})
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	var req UpdateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conversation, members, err := h.conversationService.UpdateGroup(c.Request.Context(), userID.(uuid.UUID), conversationID, req.Name, req.AvatarURL)
	if err != nil {
		c.JSON(pkgerrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversation": conversation, "members": members})
}

type AddMembersRequest struct {
	MemberIDs []uuid.UUID `json:"member_ids" binding:"required"`
}

func (h *ConversationHandler) AddMembers(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation ID"})
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	var req AddMembersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	members, err := h.conversationService.AddMembers(c.Request.Context(), userID.(uuid.UUID), conversationID, req.MemberIDs)
	if err != nil {
		c.JSON(pkgerrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"members": members})
}

func (h *ConversationHandler) RemoveMember(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation ID"})
		return
	}

	targetID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user ID"})
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	if err := h.conversationService.RemoveMember(c.Request.Context(), userID.(uuid.UUID), conversationID, targetID); err != nil {
		c.JSON(pkgerrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Member removed"})
}

type UpdateRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

func (h *ConversationHandler) UpdateMemberRole(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation ID"})
		return
	}

	targetID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user ID"})
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	var req UpdateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	member, err := h.conversationService.UpdateRole(c.Request.Context(), userID.(uuid.UUID), conversationID, targetID, req.Role)
	if err != nil {
		c.JSON(pkgerrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, member)
}

func (h *ConversationHandler) ToggleMute(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation ID"})
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	member, err := h.conversationService.ToggleMute(c.Request.Context(), userID.(uuid.UUID), conversationID)
	if err != nil {
		c.JSON(pkgerrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, member)
}

func (h *ConversationHandler) Leave(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation ID"})
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	if err := h.conversationService.Leave(c.Request.Context(), userID.(uuid.UUID), conversationID); err != nil {
		c.JSON(pkgerrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Left conversation"})
}
