package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chat_backend/internal/service"
	pkgerrors "chat_backend/pkg/errors"
	"chat_backend/pkg/logger"
)

type MessageHandler struct {
	messageService    service.MessageService
	engagementService service.EngagementService
	log               logger.Logger
}

func NewMessageHandler(messageService service.MessageService, engagementService service.EngagementService, log logger.Logger) *MessageHandler {
	return &MessageHandler{
		messageService:    messageService,
		engagementService: engagementService,
		log:               log,
	}
}

func (h *MessageHandler) GetMessages(c *gin.Context) {
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

	messages, err := h.messageService.List(c.Request.Context(), userID.(uuid.UUID), conversationID)
	if err != nil {
		c.JSON(pkgerrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

type SendMessageRequest struct {
	Content  string      `json:"content" binding:"required"`
	Type     string      `json:"type"`
	MediaURL *string     `json:"media_url"`
	FileName *string     `json:"file_name"`
	FileSize *int64      `json:"file_size"`
	Mentions []uuid.UUID `json:"mentions"`
}

func (h *MessageHandler) SendMessage(c *gin.Context) {
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

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	message, err := h.messageService.Send(c.Request.Context(), userID.(uuid.UUID), service.SendMessageInput{
		ConversationID: conversationID,
		Content:        req.Content,
		Type:           req.Type,
		MediaURL:       req.MediaURL,
		FileName:       req.FileName,
		FileSize:       req.FileSize,
		Mentions:       req.Mentions,
	})
	if err != nil {
		c.JSON(pkgerrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, message)
}

type EditMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

func (h *MessageHandler) EditMessage(c *gin.Context) {
	messageID, err := strconv.ParseInt(c.Param("messageId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message ID"})
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	var req EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	message, err := h.messageService.Edit(c.Request.Context(), userID.(uuid.UUID), messageID, req.Content)
	if err != nil {
		c.JSON(pkgerrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, message)
}

func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	messageID, err := strconv.ParseInt(c.Param("messageId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message ID"})
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	forEveryone := c.DefaultQuery("delete_for_everyone", "false") == "true"

	if err := h.messageService.Delete(c.Request.Context(), userID.(uuid.UUID), messageID, forEveryone); err != nil {
		c.JSON(pkgerrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Message deleted"})
}

type AddReactionRequest struct {
	Emoji string `json:"emoji" binding:"required"`
}

// AddReaction работает как переключатель: повторная реакция тем же emoji
// снимает ее
func (h *MessageHandler) AddReaction(c *gin.Context) {
	messageID, err := strconv.ParseInt(c.Param("messageId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message ID"})
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	var req AddReactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reaction, added, err := h.engagementService.ToggleReaction(c.Request.Context(), userID.(uuid.UUID), messageID, req.Emoji)
	if err != nil {
		c.JSON(pkgerrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"added": added, "reaction": reaction})
}

func (h *MessageHandler) MarkAsRead(c *gin.Context) {
	messageID, err := strconv.ParseInt(c.Param("messageId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message ID"})
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	receipt, err := h.engagementService.MarkRead(c.Request.Context(), userID.(uuid.UUID), messageID)
	if err != nil {
		c.JSON(pkgerrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, receipt)
}

func (h *MessageHandler) SearchMessages(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	query := c.Query("q")

	var conversationID *uuid.UUID
	if raw := c.Query("conversation_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation ID"})
			return
		}
		conversationID = &id
	}

	var senderID *uuid.UUID
	if raw := c.Query("sender_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sender ID"})
			return
		}
		senderID = &id
	}

	messages, err := h.messageService.Search(c.Request.Context(), userID.(uuid.UUID), query, conversationID, senderID)
	if err != nil {
		c.JSON(pkgerrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages})
}
