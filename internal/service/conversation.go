package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"chat_backend/internal/domain"
	"chat_backend/internal/repository"
	pkgerrors "chat_backend/pkg/errors"
	"chat_backend/pkg/logger"
)

type ConversationService interface {
	ListForUser(ctx context.Context, userID uuid.UUID) ([]*domain.ConversationPreview, error)
	FindOrCreatePrivate(ctx context.Context, userID, contactID uuid.UUID) (*domain.Conversation, error)
	CreateGroup(ctx context.Context, creatorID uuid.UUID, name string, avatar *string, memberIDs []uuid.UUID) (*domain.Conversation, []*domain.GroupMember, error)
	UpdateGroup(ctx context.Context, actorID, conversationID uuid.UUID, name, avatar *string) (*domain.Conversation, []*domain.GroupMember, error)
	AddMembers(ctx context.Context, actorID, conversationID uuid.UUID, memberIDs []uuid.UUID) ([]*domain.GroupMember, error)
	RemoveMember(ctx context.Context, actorID, conversationID, targetID uuid.UUID) error
	UpdateRole(ctx context.Context, actorID, conversationID, targetID uuid.UUID, role string) (*domain.GroupMember, error)
	ToggleMute(ctx context.Context, userID, conversationID uuid.UUID) (*domain.GroupMember, error)
	Leave(ctx context.Context, userID, conversationID uuid.UUID) error
}

type conversationService struct {
	convRepo  repository.ConversationRepository
	auditRepo repository.AuditRepository
	log       logger.Logger
}

func NewConversationService(convRepo repository.ConversationRepository, auditRepo repository.AuditRepository, log logger.Logger) ConversationService {
	return &conversationService{
		convRepo:  convRepo,
		auditRepo: auditRepo,
		log:       log,
	}
}

// ListForUser объединяет приватные и групповые беседы и сортирует по времени
// последнего сообщения (убывание). Беседы без сообщений уходят в конец;
// при равенстве сохраняется исходный порядок выборки.
func (s *conversationService) ListForUser(ctx context.Context, userID uuid.UUID) ([]*domain.ConversationPreview, error) {
	private, err := s.convRepo.ListPrivateForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	groups, err := s.convRepo.ListGroupForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	all := make([]*domain.ConversationPreview, 0, len(private)+len(groups))
	all = append(all, private...)
	all = append(all, groups...)

	sort.SliceStable(all, func(i, j int) bool {
		return lastMessageUnix(all[i]) > lastMessageUnix(all[j])
	})

	return all, nil
}

func lastMessageUnix(p *domain.ConversationPreview) int64 {
	if p.LastMessageTime == nil {
		return 0
	}
	return p.LastMessageTime.UnixMilli()
}

// FindOrCreatePrivate идемпотентна: повторный вызов для той же пары
// возвращает уже существующую беседу.
func (s *conversationService) FindOrCreatePrivate(ctx context.Context, userID, contactID uuid.UUID) (*domain.Conversation, error) {
	if contactID == uuid.Nil || contactID == userID {
		return nil, pkgerrors.ErrBadRequest
	}

	conv, err := s.convRepo.FindPrivate(ctx, userID, contactID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, pkgerrors.ErrConversationNotFound) {
		return nil, err
	}

	conv = &domain.Conversation{
		ID:             uuid.New(),
		Type:           domain.ConversationTypePrivate,
		ParticipantOne: &userID,
		ParticipantTwo: &contactID,
		CreatedAt:      time.Now(),
	}

	if err := s.convRepo.CreatePrivate(ctx, conv); err != nil {
		if errors.Is(err, pkgerrors.ErrAlreadyExists) {
			// Конкурентный вызов создал беседу первым
			return s.convRepo.FindPrivate(ctx, userID, contactID)
		}
		return nil, err
	}

	return conv, nil
}

func (s *conversationService) CreateGroup(ctx context.Context, creatorID uuid.UUID, name string, avatar *string, memberIDs []uuid.UUID) (*domain.Conversation, []*domain.GroupMember, error) {
	if strings.TrimSpace(name) == "" || len(memberIDs) == 0 {
		return nil, nil, pkgerrors.ErrBadRequest
	}

	now := time.Now()
	conv := &domain.Conversation{
		ID:        uuid.New(),
		Type:      domain.ConversationTypeGroup,
		Name:      &name,
		AvatarURL: avatar,
		CreatedAt: now,
	}

	// Создатель — админ; остальные участники дедуплицируются
	members := []*domain.GroupMember{{
		ConversationID: conv.ID,
		UserID:         creatorID,
		Role:           domain.MemberRoleAdmin,
		JoinedAt:       now,
	}}
	seen := map[uuid.UUID]struct{}{creatorID: {}}
	for _, id := range memberIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		members = append(members, &domain.GroupMember{
			ConversationID: conv.ID,
			UserID:         id,
			Role:           domain.MemberRoleMember,
			JoinedAt:       now,
		})
	}

	if err := s.convRepo.CreateGroup(ctx, conv, members); err != nil {
		return nil, nil, err
	}

	s.audit(ctx, creatorID, conv.ID, domain.EventTypeGroupCreated, map[string]interface{}{"name": name})

	created, err := s.convRepo.ListMembers(ctx, conv.ID)
	if err != nil {
		return conv, members, nil
	}

	return conv, created, nil
}

func (s *conversationService) UpdateGroup(ctx context.Context, actorID, conversationID uuid.UUID, name, avatar *string) (*domain.Conversation, []*domain.GroupMember, error) {
	if err := s.requireAdmin(ctx, conversationID, actorID); err != nil {
		return nil, nil, err
	}

	if err := s.convRepo.UpdateGroup(ctx, conversationID, name, avatar); err != nil {
		return nil, nil, err
	}

	s.audit(ctx, actorID, conversationID, domain.EventTypeGroupUpdated, map[string]interface{}{})

	conv, err := s.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}

	members, err := s.convRepo.ListMembers(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}

	return conv, members, nil
}

func (s *conversationService) AddMembers(ctx context.Context, actorID, conversationID uuid.UUID, memberIDs []uuid.UUID) ([]*domain.GroupMember, error) {
	if len(memberIDs) == 0 {
		return nil, pkgerrors.ErrBadRequest
	}

	if err := s.requireAdmin(ctx, conversationID, actorID); err != nil {
		return nil, err
	}

	if err := s.convRepo.AddMembers(ctx, conversationID, memberIDs, domain.MemberRoleMember); err != nil {
		return nil, err
	}

	s.audit(ctx, actorID, conversationID, domain.EventTypeMemberAdded, map[string]interface{}{"count": len(memberIDs)})

	return s.convRepo.ListMembers(ctx, conversationID)
}

func (s *conversationService) RemoveMember(ctx context.Context, actorID, conversationID, targetID uuid.UUID) error {
	if err := s.requireAdmin(ctx, conversationID, actorID); err != nil {
		return err
	}

	if _, err := s.convRepo.GetMember(ctx, conversationID, targetID); err != nil {
		return err
	}

	applied, err := s.convRepo.RemoveMember(ctx, conversationID, targetID)
	if err != nil {
		return err
	}
	if !applied {
		return pkgerrors.ErrLastAdmin
	}

	s.audit(ctx, actorID, conversationID, domain.EventTypeMemberRemoved, map[string]interface{}{"target_id": targetID.String()})

	return nil
}

// UpdateRole меняет роль участника. Понижение последнего админа отклоняется:
// удаление и выход уже защищают этот инвариант, и понижение не должно
// обходить его.
func (s *conversationService) UpdateRole(ctx context.Context, actorID, conversationID, targetID uuid.UUID, role string) (*domain.GroupMember, error) {
	if role != domain.MemberRoleAdmin && role != domain.MemberRoleMember {
		return nil, pkgerrors.ErrBadRequest
	}

	if err := s.requireAdmin(ctx, conversationID, actorID); err != nil {
		return nil, err
	}

	if _, err := s.convRepo.GetMember(ctx, conversationID, targetID); err != nil {
		return nil, err
	}

	applied, err := s.convRepo.UpdateMemberRole(ctx, conversationID, targetID, role)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, pkgerrors.ErrLastAdmin
	}

	s.audit(ctx, actorID, conversationID, domain.EventTypeRoleUpdated, map[string]interface{}{
		"target_id": targetID.String(),
		"role":      role,
	})

	return s.convRepo.GetMember(ctx, conversationID, targetID)
}

func (s *conversationService) ToggleMute(ctx context.Context, userID, conversationID uuid.UUID) (*domain.GroupMember, error) {
	member, err := s.convRepo.GetMember(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}

	muted, err := s.convRepo.ToggleMuted(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}

	member.Muted = muted
	return member, nil
}

func (s *conversationService) Leave(ctx context.Context, userID, conversationID uuid.UUID) error {
	if _, err := s.convRepo.GetMember(ctx, conversationID, userID); err != nil {
		return err
	}

	applied, err := s.convRepo.RemoveMember(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !applied {
		return pkgerrors.ErrLeaveLastAdmin
	}

	s.audit(ctx, userID, conversationID, domain.EventTypeMemberLeft, map[string]interface{}{})

	return nil
}

func (s *conversationService) requireAdmin(ctx context.Context, conversationID, actorID uuid.UUID) error {
	member, err := s.convRepo.GetMember(ctx, conversationID, actorID)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrMemberNotFound) {
			return pkgerrors.ErrAdminOnly
		}
		return err
	}
	if member.Role != domain.MemberRoleAdmin {
		return pkgerrors.ErrAdminOnly
	}
	return nil
}

func (s *conversationService) audit(ctx context.Context, actorID, conversationID uuid.UUID, eventType string, payload map[string]interface{}) {
	entry := &domain.AuditLog{
		EventTime:      time.Now(),
		ActorUserID:    &actorID,
		ConversationID: &conversationID,
		EventType:      eventType,
		Payload:        payload,
	}
	if err := s.auditRepo.CreateLog(ctx, entry); err != nil {
		s.log.Warn("Failed to write audit log", "error", err, "event_type", eventType)
	}
}
