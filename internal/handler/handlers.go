package handler

import (
	"chat_backend/internal/config"
	"chat_backend/internal/realtime"
	"chat_backend/internal/service"
	"chat_backend/pkg/logger"
)

type Handlers struct {
	Health       *HealthHandler
	Auth         *AuthHandler
	Conversation *ConversationHandler
	Message      *MessageHandler
	WebSocket    *WebSocketHandler
}

func NewHandlers(services *service.Services, hub *realtime.Hub, cfg *config.Config, log logger.Logger) *Handlers {
	return &Handlers{
		Health:       NewHealthHandler(cfg),
		Auth:         NewAuthHandler(services.Auth, log),
		Conversation: NewConversationHandler(services.Conversation, log),
		Message:      NewMessageHandler(services.Message, services.Engagement, log),
		WebSocket:    NewWebSocketHandler(services, hub, log),
	}
}
