package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"chat_backend/internal/realtime"
	"chat_backend/internal/repository"
	"chat_backend/pkg/logger"
)

type PresenceService interface {
	SetOnline(ctx context.Context, userID uuid.UUID, online bool) error
}

type presenceService struct {
	userRepo    repository.UserRepository
	broadcaster Broadcaster
	log         logger.Logger
}

func NewPresenceService(userRepo repository.UserRepository, broadcaster Broadcaster, log logger.Logger) PresenceService {
	return &presenceService{
		userRepo:    userRepo,
		broadcaster: broadcaster,
		log:         log,
	}
}

// SetOnline обновляет флаг и last_seen (на обоих переходах) и уведомляет
// каждого контрагента из таблицы контактов через его персональный scope.
func (s *presenceService) SetOnline(ctx context.Context, userID uuid.UUID, online bool) error {
	lastSeen := time.Now()
	if err := s.userRepo.SetPresence(ctx, userID, online, lastSeen); err != nil {
		return err
	}

	contactIDs, err := s.userRepo.GetContactIDs(ctx, userID)
	if err != nil {
		s.log.Warn("Failed to load contacts for presence fan-out", "error", err, "user_id", userID)
		return nil
	}

	for _, contactID := range contactIDs {
		s.broadcaster.ToUser(contactID, realtime.EventPresenceUpdate, map[string]interface{}{
			"user_id":   userID,
			"is_online": online,
			"last_seen": lastSeen,
		})
	}

	return nil
}
