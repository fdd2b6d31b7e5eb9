package service

import (
	"chat_backend/internal/config"
	"chat_backend/internal/repository"
	"chat_backend/pkg/logger"
)

type Services struct {
	Auth         AuthService
	Access       AccessService
	Conversation ConversationService
	Message      MessageService
	Engagement   EngagementService
	Presence     PresenceService
	RateLimit    RateLimitService
}

func NewServices(repos *repository.Repositories, cfg *config.Config, broadcaster Broadcaster, log logger.Logger) *Services {
	access := NewAccessService(repos.Conversation, log)

	return &Services{
		Auth:         NewAuthService(repos.User, cfg.JWT, log),
		Access:       access,
		Conversation: NewConversationService(repos.Conversation, repos.Audit, log),
		Message:      NewMessageService(repos.Message, access, broadcaster, log),
		Engagement:   NewEngagementService(repos.Engagement, repos.Message, broadcaster, log),
		Presence:     NewPresenceService(repos.User, broadcaster, log),
		RateLimit:    NewRateLimitService(repos.RateLimit, log),
	}
}
