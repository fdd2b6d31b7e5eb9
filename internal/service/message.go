package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"chat_backend/internal/domain"
	"chat_backend/internal/realtime"
	"chat_backend/internal/repository"
	pkgerrors "chat_backend/pkg/errors"
	"chat_backend/pkg/logger"
)

// SendMessageInput — провалидированная команда отправки сообщения,
// общая для REST и websocket
type SendMessageInput struct {
	ConversationID uuid.UUID   `json:"conversation_id"`
	Content        string      `json:"content"`
	Type           string      `json:"type"`
	MediaURL       *string     `json:"media_url,omitempty"`
	FileName       *string     `json:"file_name,omitempty"`
	FileSize       *int64      `json:"file_size,omitempty"`
	Mentions       []uuid.UUID `json:"mentions,omitempty"`
}

type MessageService interface {
	Send(ctx context.Context, senderID uuid.UUID, input SendMessageInput) (*domain.Message, error)
	Edit(ctx context.Context, actorID uuid.UUID, messageID int64, content string) (*domain.Message, error)
	Delete(ctx context.Context, actorID uuid.UUID, messageID int64, forEveryone bool) error
	List(ctx context.Context, userID, conversationID uuid.UUID) ([]*domain.Message, error)
	Search(ctx context.Context, userID uuid.UUID, query string, conversationID *uuid.UUID, senderID *uuid.UUID) ([]*domain.Message, error)
}

const searchLimit = 50

type messageService struct {
	messageRepo repository.MessageRepository
	access      AccessService
	broadcaster Broadcaster
	log         logger.Logger
}

func NewMessageService(messageRepo repository.MessageRepository, access AccessService, broadcaster Broadcaster, log logger.Logger) MessageService {
	return &messageService{
		messageRepo: messageRepo,
		access:      access,
		broadcaster: broadcaster,
		log:         log,
	}
}

func (s *messageService) Send(ctx context.Context, senderID uuid.UUID, input SendMessageInput) (*domain.Message, error) {
	if strings.TrimSpace(input.Content) == "" {
		return nil, pkgerrors.ErrBadRequest
	}

	if _, err := s.checkAccess(ctx, senderID, input.ConversationID); err != nil {
		return nil, err
	}

	msgType := input.Type
	if msgType == "" {
		msgType = domain.MessageTypeText
	}

	message := &domain.Message{
		ConversationID: input.ConversationID,
		SenderID:       senderID,
		Content:        input.Content,
		Type:           msgType,
		MediaURL:       input.MediaURL,
		FileName:       input.FileName,
		FileSize:       input.FileSize,
		CreatedAt:      time.Now(),
	}

	if err := s.messageRepo.Create(ctx, message, input.Mentions); err != nil {
		return nil, err
	}

	created, err := s.messageRepo.GetWithRelations(ctx, message.ID)
	if err != nil {
		return nil, err
	}

	s.broadcaster.ToConversation(created.ConversationID, realtime.EventNewMessage, created, uuid.Nil)
	for _, mention := range created.Mentions {
		s.broadcaster.ToUser(mention.UserID, realtime.EventMention, map[string]interface{}{
			"message":         created,
			"conversation_id": created.ConversationID,
		})
	}

	return created, nil
}

func (s *messageService) Edit(ctx context.Context, actorID uuid.UUID, messageID int64, content string) (*domain.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, pkgerrors.ErrBadRequest
	}

	message, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}

	if message.SenderID != actorID {
		return nil, pkgerrors.ErrOnlySender
	}
	if message.IsDeleted {
		return nil, pkgerrors.ErrEditDeletedMessage
	}

	if err := s.messageRepo.SetContent(ctx, messageID, content); err != nil {
		return nil, err
	}

	updated, err := s.messageRepo.GetWithRelations(ctx, messageID)
	if err != nil {
		return nil, err
	}

	s.broadcaster.ToConversation(updated.ConversationID, realtime.EventMessageUpdated, updated, uuid.Nil)

	return updated, nil
}

// Delete помечает сообщение удаленным, не стирая его физически. Контент
// остается в хранилище, но исключается из последующих выборок.
func (s *messageService) Delete(ctx context.Context, actorID uuid.UUID, messageID int64, forEveryone bool) error {
	message, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return err
	}

	if message.SenderID != actorID {
		return pkgerrors.ErrOnlySender
	}

	if err := s.messageRepo.SoftDelete(ctx, messageID, forEveryone); err != nil {
		return err
	}

	s.broadcaster.ToConversation(message.ConversationID, realtime.EventMessageDeleted, map[string]interface{}{
		"message_id":          messageID,
		"delete_for_everyone": forEveryone,
	}, uuid.Nil)

	return nil
}

func (s *messageService) List(ctx context.Context, userID, conversationID uuid.UUID) ([]*domain.Message, error) {
	if _, err := s.checkAccess(ctx, userID, conversationID); err != nil {
		return nil, err
	}

	return s.messageRepo.ListByConversation(ctx, conversationID, userID)
}

func (s *messageService) Search(ctx context.Context, userID uuid.UUID, query string, conversationID *uuid.UUID, senderID *uuid.UUID) ([]*domain.Message, error) {
	if strings.TrimSpace(query) == "" {
		return nil, pkgerrors.ErrBadRequest
	}

	if conversationID != nil {
		if _, err := s.checkAccess(ctx, userID, *conversationID); err != nil {
			return nil, err
		}
	}

	return s.messageRepo.Search(ctx, query, conversationID, senderID, searchLimit)
}

func (s *messageService) checkAccess(ctx context.Context, userID, conversationID uuid.UUID) (*domain.Conversation, error) {
	conv, access, err := s.access.CanAccess(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	if !access.Granted {
		return nil, pkgerrors.ErrAccessDenied
	}
	return conv, nil
}
