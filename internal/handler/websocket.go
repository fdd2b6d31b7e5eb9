package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chat_backend/internal/realtime"
	"chat_backend/internal/service"
	pkgerrors "chat_backend/pkg/errors"
	"chat_backend/pkg/logger"
)

// eventTimeout ограничивает обращения к базе из одного клиентского события
const eventTimeout = 10 * time.Second

type WebSocketHandler struct {
	authService       service.AuthService
	accessService     service.AccessService
	messageService    service.MessageService
	engagementService service.EngagementService
	presenceService   service.PresenceService
	hub               *realtime.Hub
	upgrader          websocket.Upgrader
	log               logger.Logger
}

func NewWebSocketHandler(services *service.Services, hub *realtime.Hub, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		authService:       services.Auth,
		accessService:     services.Access,
		messageService:    services.Message,
		engagementService: services.Engagement,
		presenceService:   services.Presence,
		hub:               hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log: log,
	}
}

// Handle апгрейдит соединение и держит read loop до отключения клиента.
// Токен передается в query, потому что браузерный WebSocket API не умеет
// ставить заголовки.
func (h *WebSocketHandler) Handle(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token required"})
		return
	}

	user, err := h.authService.ValidateToken(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("WebSocket upgrade failed", "error", err, "user_id", user.ID)
		return
	}

	conn := realtime.NewConnection(user.ID, ws)
	h.hub.Attach(conn)
	h.log.Info("WebSocket connected", "user_id", user.ID, "session_id", conn.ID)

	// Контекст живет пока открыто соединение; запросный контекст после
	// hijack'а апгрейдером использовать нельзя
	connCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := h.presenceService.SetOnline(connCtx, user.ID, true); err != nil {
		h.log.Warn("Failed to mark user online", "error", err, "user_id", user.ID)
	}

	h.readLoop(connCtx, conn)

	h.hub.Detach(conn)
	conn.Close(websocket.CloseNormalClosure, "disconnect")

	// Отметка offline выполняется безусловно, независимо от судьбы соединения
	if err := h.presenceService.SetOnline(context.Background(), user.ID, false); err != nil {
		h.log.Warn("Failed to mark user offline", "error", err, "user_id", user.ID)
	}
	h.log.Info("WebSocket disconnected", "user_id", user.ID, "session_id", conn.ID)
}

func (h *WebSocketHandler) readLoop(ctx context.Context, conn *realtime.Connection) {
	for {
		event, err := conn.ReadEvent()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Warn("WebSocket read error", "error", err, "user_id", conn.UserID)
			}
			return
		}

		h.dispatch(ctx, conn, event)
	}
}

func (h *WebSocketHandler) dispatch(connCtx context.Context, conn *realtime.Connection, event *realtime.ClientEvent) {
	ctx, cancel := context.WithTimeout(connCtx, eventTimeout)
	defer cancel()

	var err error
	switch event.Event {
	case realtime.ClientEventJoinConversation:
		err = h.handleJoin(ctx, conn, event.Data)
	case realtime.ClientEventLeaveConversation:
		err = h.handleLeave(conn, event.Data)
	case realtime.ClientEventSendMessage:
		err = h.handleSendMessage(ctx, conn, event.Data)
	case realtime.ClientEventEditMessage:
		err = h.handleEditMessage(ctx, conn, event.Data)
	case realtime.ClientEventDeleteMessage:
		err = h.handleDeleteMessage(ctx, conn, event.Data)
	case realtime.ClientEventTyping:
		err = h.handleTyping(ctx, conn, event.Data)
	case realtime.ClientEventAddReaction:
		err = h.handleAddReaction(ctx, conn, event.Data)
	case realtime.ClientEventMarkAsRead:
		err = h.handleMarkAsRead(ctx, conn, event.Data)
	case realtime.ClientEventUpdatePresence:
		err = h.handleUpdatePresence(ctx, conn, event.Data)
	default:
		err = nil
		h.log.Warn("Unknown client event", "event", event.Event, "user_id", conn.UserID)
	}

	if err != nil {
		h.log.Warn("Client event failed", "event", event.Event, "error", err, "user_id", conn.UserID)
		_ = conn.SendEvent(realtime.EventError, gin.H{"event": event.Event, "message": err.Error()})
	}
}

type joinPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
}

func (h *WebSocketHandler) handleJoin(ctx context.Context, conn *realtime.Connection, data json.RawMessage) error {
	var payload joinPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}

	_, access, err := h.accessService.CanAccess(ctx, conn.UserID, payload.ConversationID)
	if err != nil {
		return err
	}
	if !access.Granted {
		return pkgerrors.ErrAccessDenied
	}

	h.hub.Join(realtime.ConversationScope(payload.ConversationID), conn)
	h.hub.ToConversation(payload.ConversationID, realtime.EventUserJoined, gin.H{
		"conversation_id": payload.ConversationID,
		"user_id":         conn.UserID,
	}, conn.UserID)
	return nil
}

func (h *WebSocketHandler) handleLeave(conn *realtime.Connection, data json.RawMessage) error {
	var payload joinPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}

	h.hub.Leave(realtime.ConversationScope(payload.ConversationID), conn)
	h.hub.ToConversation(payload.ConversationID, realtime.EventUserLeft, gin.H{
		"conversation_id": payload.ConversationID,
		"user_id":         conn.UserID,
	}, conn.UserID)
	return nil
}

func (h *WebSocketHandler) handleSendMessage(ctx context.Context, conn *realtime.Connection, data json.RawMessage) error {
	var input service.SendMessageInput
	if err := json.Unmarshal(data, &input); err != nil {
		return err
	}

	_, err := h.messageService.Send(ctx, conn.UserID, input)
	return err
}

type editMessagePayload struct {
	MessageID int64  `json:"message_id"`
	Content   string `json:"content"`
}

func (h *WebSocketHandler) handleEditMessage(ctx context.Context, conn *realtime.Connection, data json.RawMessage) error {
	var payload editMessagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}

	_, err := h.messageService.Edit(ctx, conn.UserID, payload.MessageID, payload.Content)
	return err
}

type deleteMessagePayload struct {
	MessageID         int64 `json:"message_id"`
	DeleteForEveryone bool  `json:"delete_for_everyone"`
}

func (h *WebSocketHandler) handleDeleteMessage(ctx context.Context, conn *realtime.Connection, data json.RawMessage) error {
	var payload deleteMessagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}

	return h.messageService.Delete(ctx, conn.UserID, payload.MessageID, payload.DeleteForEveryone)
}

type typingPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	IsTyping       bool      `json:"is_typing"`
}

// handleTyping ретранслирует индикатор без обращения к базе: scope беседы
// уже подразумевает проверенный доступ
func (h *WebSocketHandler) handleTyping(ctx context.Context, conn *realtime.Connection, data json.RawMessage) error {
	var payload typingPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}

	h.hub.ToConversation(payload.ConversationID, realtime.EventTyping, gin.H{
		"conversation_id": payload.ConversationID,
		"user_id":         conn.UserID,
		"is_typing":       payload.IsTyping,
	}, conn.UserID)
	return nil
}

type reactionPayload struct {
	MessageID int64  `json:"message_id"`
	Emoji     string `json:"emoji"`
}

func (h *WebSocketHandler) handleAddReaction(ctx context.Context, conn *realtime.Connection, data json.RawMessage) error {
	var payload reactionPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}

	_, _, err := h.engagementService.ToggleReaction(ctx, conn.UserID, payload.MessageID, payload.Emoji)
	return err
}

type markAsReadPayload struct {
	MessageID int64 `json:"message_id"`
}

func (h *WebSocketHandler) handleMarkAsRead(ctx context.Context, conn *realtime.Connection, data json.RawMessage) error {
	var payload markAsReadPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}

	_, err := h.engagementService.MarkRead(ctx, conn.UserID, payload.MessageID)
	return err
}

type updatePresencePayload struct {
	IsOnline bool `json:"is_online"`
}

func (h *WebSocketHandler) handleUpdatePresence(ctx context.Context, conn *realtime.Connection, data json.RawMessage) error {
	var payload updatePresencePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}

	return h.presenceService.SetOnline(ctx, conn.UserID, payload.IsOnline)
}
