package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"chat_backend/internal/domain"
	"chat_backend/internal/repository"
	pkgerrors "chat_backend/pkg/errors"
	"chat_backend/pkg/logger"
)

// Access — результат проверки доступа к беседе. Role заполняется только
// для групповых бесед.
type Access struct {
	Granted bool
	Role    string
}

// AccessService решает, видит ли пользователь беседу и с какой ролью.
// Вызывается перед любым чтением или мутацией данных беседы.
type AccessService interface {
	CanAccess(ctx context.Context, userID, conversationID uuid.UUID) (*domain.Conversation, *Access, error)
}

type accessService struct {
	convRepo repository.ConversationRepository
	log      logger.Logger
}

func NewAccessService(convRepo repository.ConversationRepository, log logger.Logger) AccessService {
	return &accessService{convRepo: convRepo, log: log}
}

// CanAccess сначала резолвит беседу (не найдена -> ErrConversationNotFound,
// до проверки прав), затем решает членство: для приватной — совпадение с
// одним из участников, для группы — наличие membership.
func (s *accessService) CanAccess(ctx context.Context, userID, conversationID uuid.UUID) (*domain.Conversation, *Access, error) {
	conv, err := s.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}

	switch conv.Type {
	case domain.ConversationTypePrivate:
		granted := (conv.ParticipantOne != nil && *conv.ParticipantOne == userID) ||
			(conv.ParticipantTwo != nil && *conv.ParticipantTwo == userID)
		return conv, &Access{Granted: granted}, nil

	case domain.ConversationTypeGroup:
		member, err := s.convRepo.GetMember(ctx, conversationID, userID)
		if err != nil {
			if errors.Is(err, pkgerrors.ErrMemberNotFound) {
				return conv, &Access{Granted: false}, nil
			}
			return nil, nil, err
		}
		return conv, &Access{Granted: true, Role: member.Role}, nil

	default:
		s.log.Warn("Unknown conversation type", "conversation_id", conversationID, "type", conv.Type)
		return conv, &Access{Granted: false}, nil
	}
}
