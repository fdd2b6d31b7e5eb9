package service

import (
	"context"

	"github.com/google/uuid"

	"chat_backend/internal/domain"
	"chat_backend/internal/realtime"
	"chat_backend/internal/repository"
	"chat_backend/pkg/logger"
)

type EngagementService interface {
	ToggleReaction(ctx context.Context, userID uuid.UUID, messageID int64, emoji string) (*domain.Reaction, bool, error)
	MarkRead(ctx context.Context, userID uuid.UUID, messageID int64) (*domain.ReadReceipt, error)
}

type engagementService struct {
	engagementRepo repository.EngagementRepository
	messageRepo    repository.MessageRepository
	broadcaster    Broadcaster
	log            logger.Logger
}

func NewEngagementService(engagementRepo repository.EngagementRepository, messageRepo repository.MessageRepository, broadcaster Broadcaster, log logger.Logger) EngagementService {
	return &engagementService{
		engagementRepo: engagementRepo,
		messageRepo:    messageRepo,
		broadcaster:    broadcaster,
		log:            log,
	}
}

// ToggleReaction снимает реакцию, если она есть, и ставит, если нет.
// Второй вызов с теми же аргументами возвращает состояние к исходному.
func (s *engagementService) ToggleReaction(ctx context.Context, userID uuid.UUID, messageID int64, emoji string) (*domain.Reaction, bool, error) {
	message, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, false, err
	}

	reaction, added, err := s.engagementRepo.ToggleReaction(ctx, messageID, userID, emoji)
	if err != nil {
		return nil, false, err
	}

	if added {
		s.broadcaster.ToConversation(message.ConversationID, realtime.EventReactionAdded, reaction, uuid.Nil)
	} else {
		s.broadcaster.ToConversation(message.ConversationID, realtime.EventReactionRemoved, map[string]interface{}{
			"message_id": messageID,
			"user_id":    userID,
			"emoji":      emoji,
		}, uuid.Nil)
	}

	return reaction, added, nil
}

// MarkRead — upsert по (message_id, user_id): первая отметка создает запись,
// повторные обновляют время. Проверки владения нет: отметить может любой
// участник с доступом к беседе.
func (s *engagementService) MarkRead(ctx context.Context, userID uuid.UUID, messageID int64) (*domain.ReadReceipt, error) {
	message, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}

	receipt, err := s.engagementRepo.UpsertReadReceipt(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}

	s.broadcaster.ToConversation(message.ConversationID, realtime.EventMessageRead, map[string]interface{}{
		"message_id": messageID,
		"user_id":    userID,
		"read_at":    receipt.ReadAt,
	}, uuid.Nil)

	return receipt, nil
}
