package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"chat_backend/internal/domain"
	pkgerrors "chat_backend/pkg/errors"
	"chat_backend/pkg/logger"
)

func testLogger() logger.Logger {
	return logger.New("error")
}

// fakeConversationRepo повторяет семантику SQL-реализации в памяти,
// включая условные мутации, защищающие последнего админа
type fakeConversationRepo struct {
	mu            sync.Mutex
	conversations map[uuid.UUID]*domain.Conversation
	members       map[uuid.UUID][]*domain.GroupMember
	lastMessageAt map[uuid.UUID]time.Time

	// Хук для воспроизведения гонки при создании приватной беседы
	beforeCreatePrivate func()
}

func newFakeConversationRepo() *fakeConversationRepo {
	return &fakeConversationRepo{
		conversations: make(map[uuid.UUID]*domain.Conversation),
		members:       make(map[uuid.UUID][]*domain.GroupMember),
		lastMessageAt: make(map[uuid.UUID]time.Time),
	}
}

func (f *fakeConversationRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.conversations[id]
	if !ok {
		return nil, pkgerrors.ErrConversationNotFound
	}
	return conv, nil
}

func (f *fakeConversationRepo) FindPrivate(_ context.Context, userA, userB uuid.UUID) (*domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.findPrivateLocked(userA, userB)
}

func (f *fakeConversationRepo) findPrivateLocked(userA, userB uuid.UUID) (*domain.Conversation, error) {
	for _, conv := range f.conversations {
		if conv.Type != domain.ConversationTypePrivate {
			continue
		}
		one, two := *conv.ParticipantOne, *conv.ParticipantTwo
		if (one == userA && two == userB) || (one == userB && two == userA) {
			return conv, nil
		}
	}
	return nil, pkgerrors.ErrConversationNotFound
}

func (f *fakeConversationRepo) CreatePrivate(_ context.Context, conv *domain.Conversation) error {
	if f.beforeCreatePrivate != nil {
		f.beforeCreatePrivate()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.findPrivateLocked(*conv.ParticipantOne, *conv.ParticipantTwo); err == nil {
		return pkgerrors.ErrAlreadyExists
	}
	f.conversations[conv.ID] = conv
	return nil
}

func (f *fakeConversationRepo) CreateGroup(_ context.Context, conv *domain.Conversation, members []*domain.GroupMember) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversations[conv.ID] = conv
	f.members[conv.ID] = append([]*domain.GroupMember{}, members...)
	return nil
}

func (f *fakeConversationRepo) UpdateGroup(_ context.Context, id uuid.UUID, name, avatar *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.conversations[id]
	if !ok {
		return pkgerrors.ErrConversationNotFound
	}
	if name != nil {
		conv.Name = name
	}
	if avatar != nil {
		conv.AvatarURL = avatar
	}
	return nil
}

func (f *fakeConversationRepo) ListPrivateForUser(_ context.Context, userID uuid.UUID) ([]*domain.ConversationPreview, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	previews := []*domain.ConversationPreview{}
	for _, conv := range f.conversations {
		if conv.Type != domain.ConversationTypePrivate {
			continue
		}
		if *conv.ParticipantOne != userID && *conv.ParticipantTwo != userID {
			continue
		}
		previews = append(previews, &domain.ConversationPreview{
			ConversationID:  conv.ID,
			Type:            conv.Type,
			LastMessageTime: f.lastMessageTimeLocked(conv.ID),
		})
	}
	return previews, nil
}

func (f *fakeConversationRepo) ListGroupForUser(_ context.Context, userID uuid.UUID) ([]*domain.ConversationPreview, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	previews := []*domain.ConversationPreview{}
	for convID, members := range f.members {
		for _, m := range members {
			if m.UserID == userID {
				conv := f.conversations[convID]
				previews = append(previews, &domain.ConversationPreview{
					ConversationID:  conv.ID,
					Type:            conv.Type,
					Name:            conv.Name,
					LastMessageTime: f.lastMessageTimeLocked(conv.ID),
				})
				break
			}
		}
	}
	return previews, nil
}

func (f *fakeConversationRepo) GetMember(_ context.Context, conversationID, userID uuid.UUID) (*domain.GroupMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.members[conversationID] {
		if m.UserID == userID {
			copied := *m
			return &copied, nil
		}
	}
	return nil, pkgerrors.ErrMemberNotFound
}

func (f *fakeConversationRepo) ListMembers(_ context.Context, conversationID uuid.UUID) ([]*domain.GroupMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*domain.GroupMember{}, f.members[conversationID]...), nil
}

func (f *fakeConversationRepo) AddMembers(_ context.Context, conversationID uuid.UUID, userIDs []uuid.UUID, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range userIDs {
		exists := false
		for _, m := range f.members[conversationID] {
			if m.UserID == id {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		f.members[conversationID] = append(f.members[conversationID], &domain.GroupMember{
			ConversationID: conversationID,
			UserID:         id,
			Role:           role,
			JoinedAt:       time.Now(),
		})
	}
	return nil
}

func (f *fakeConversationRepo) RemoveMember(_ context.Context, conversationID, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	members := f.members[conversationID]
	for i, m := range members {
		if m.UserID != userID {
			continue
		}
		if m.Role == domain.MemberRoleAdmin && f.adminCountLocked(conversationID) <= 1 {
			return false, nil
		}
		f.members[conversationID] = append(members[:i], members[i+1:]...)
		return true, nil
	}
	return false, nil
}

func (f *fakeConversationRepo) UpdateMemberRole(_ context.Context, conversationID, userID uuid.UUID, role string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.members[conversationID] {
		if m.UserID != userID {
			continue
		}
		if role == domain.MemberRoleMember && m.Role == domain.MemberRoleAdmin && f.adminCountLocked(conversationID) <= 1 {
			return false, nil
		}
		m.Role = role
		return true, nil
	}
	return false, nil
}

// ToggleMuted инвертирует флаг под мьютексом, как это делает единственный
// UPDATE в реальном хранилище
func (f *fakeConversationRepo) ToggleMuted(_ context.Context, conversationID, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.members[conversationID] {
		if m.UserID == userID {
			m.Muted = !m.Muted
			return m.Muted, nil
		}
	}
	return false, pkgerrors.ErrMemberNotFound
}

func (f *fakeConversationRepo) lastMessageTimeLocked(conversationID uuid.UUID) *time.Time {
	at, ok := f.lastMessageAt[conversationID]
	if !ok {
		return nil
	}
	return &at
}

func (f *fakeConversationRepo) adminCountLocked(conversationID uuid.UUID) int {
	count := 0
	for _, m := range f.members[conversationID] {
		if m.Role == domain.MemberRoleAdmin {
			count++
		}
	}
	return count
}

type fakeMessageRepo struct {
	mu       sync.Mutex
	messages map[int64]*domain.Message
	nextID   int64
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{messages: make(map[int64]*domain.Message)}
}

func (f *fakeMessageRepo) Create(_ context.Context, message *domain.Message, mentionIDs []uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	message.ID = f.nextID

	stored := *message
	seen := map[uuid.UUID]struct{}{}
	for _, id := range mentionIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		stored.Mentions = append(stored.Mentions, &domain.Mention{MessageID: stored.ID, UserID: id})
	}
	f.messages[stored.ID] = &stored
	return nil
}

func (f *fakeMessageRepo) GetByID(_ context.Context, id int64) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[id]
	if !ok {
		return nil, pkgerrors.ErrMessageNotFound
	}
	copied := *msg
	return &copied, nil
}

func (f *fakeMessageRepo) GetWithRelations(ctx context.Context, id int64) (*domain.Message, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeMessageRepo) ListByConversation(_ context.Context, conversationID uuid.UUID, _ uuid.UUID) ([]*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := []*domain.Message{}
	for _, msg := range f.messages {
		if msg.ConversationID == conversationID && !msg.IsDeleted {
			copied := *msg
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (f *fakeMessageRepo) Search(_ context.Context, query string, conversationID *uuid.UUID, senderID *uuid.UUID, limit int) ([]*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := []*domain.Message{}
	for _, msg := range f.messages {
		if msg.IsDeleted {
			continue
		}
		if !strings.Contains(strings.ToLower(msg.Content), strings.ToLower(query)) {
			continue
		}
		if conversationID != nil && msg.ConversationID != *conversationID {
			continue
		}
		if senderID != nil && msg.SenderID != *senderID {
			continue
		}
		copied := *msg
		result = append(result, &copied)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (f *fakeMessageRepo) SetContent(_ context.Context, id int64, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[id]
	if !ok {
		return pkgerrors.ErrMessageNotFound
	}
	msg.Content = content
	msg.IsEdited = true
	return nil
}

func (f *fakeMessageRepo) SoftDelete(_ context.Context, id int64, forEveryone bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[id]
	if !ok {
		return pkgerrors.ErrMessageNotFound
	}
	msg.IsDeleted = true
	msg.DeletedForEveryone = msg.DeletedForEveryone || forEveryone
	return nil
}

type reactionKey struct {
	messageID int64
	userID    uuid.UUID
	emoji     string
}

type receiptKey struct {
	messageID int64
	userID    uuid.UUID
}

type fakeEngagementRepo struct {
	mu        sync.Mutex
	reactions map[reactionKey]*domain.Reaction
	receipts  map[receiptKey]*domain.ReadReceipt
	nextID    int64
}

func newFakeEngagementRepo() *fakeEngagementRepo {
	return &fakeEngagementRepo{
		reactions: make(map[reactionKey]*domain.Reaction),
		receipts:  make(map[receiptKey]*domain.ReadReceipt),
	}
}

func (f *fakeEngagementRepo) ToggleReaction(_ context.Context, messageID int64, userID uuid.UUID, emoji string) (*domain.Reaction, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := reactionKey{messageID: messageID, userID: userID, emoji: emoji}
	if _, ok := f.reactions[key]; ok {
		delete(f.reactions, key)
		return nil, false, nil
	}
	f.nextID++
	reaction := &domain.Reaction{
		ID:        f.nextID,
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
		CreatedAt: time.Now(),
	}
	f.reactions[key] = reaction
	return reaction, true, nil
}

func (f *fakeEngagementRepo) UpsertReadReceipt(_ context.Context, messageID int64, userID uuid.UUID) (*domain.ReadReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := receiptKey{messageID: messageID, userID: userID}
	receipt, ok := f.receipts[key]
	if !ok {
		receipt = &domain.ReadReceipt{MessageID: messageID, UserID: userID}
		f.receipts[key] = receipt
	}
	receipt.ReadAt = time.Now()
	copied := *receipt
	return &copied, nil
}

type fakeUserRepo struct {
	mu       sync.Mutex
	users    map[uuid.UUID]*domain.User
	byEmail  map[string]uuid.UUID
	sessions map[string]*domain.UserSession
	contacts map[uuid.UUID][]uuid.UUID
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{
		users:    make(map[uuid.UUID]*domain.User),
		byEmail:  make(map[string]uuid.UUID),
		sessions: make(map[string]*domain.UserSession),
		contacts: make(map[uuid.UUID][]uuid.UUID),
	}
}

func (f *fakeUserRepo) Create(_ context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byEmail[user.Email]; ok {
		return pkgerrors.ErrUserAlreadyExists
	}
	copied := *user
	f.users[user.ID] = &copied
	f.byEmail[user.Email] = user.ID
	return nil
}

func (f *fakeUserRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return nil, pkgerrors.ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

func (f *fakeUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byEmail[email]
	if !ok {
		return nil, pkgerrors.ErrUserNotFound
	}
	copied := *f.users[id]
	return &copied, nil
}

func (f *fakeUserRepo) SetPresence(_ context.Context, id uuid.UUID, online bool, lastSeen time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return pkgerrors.ErrUserNotFound
	}
	user.IsOnline = online
	user.LastSeen = &lastSeen
	return nil
}

func (f *fakeUserRepo) GetContactIDs(_ context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uuid.UUID{}, f.contacts[userID]...), nil
}

func (f *fakeUserRepo) CreateSession(_ context.Context, session *domain.UserSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *session
	f.sessions[session.RefreshTokenHash] = &copied
	return nil
}

func (f *fakeUserRepo) GetSessionByTokenHash(_ context.Context, tokenHash string) (*domain.UserSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[tokenHash]
	if !ok || session.RevokedAt != nil || session.ExpiresAt.Before(time.Now()) {
		return nil, pkgerrors.ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (f *fakeUserRepo) RevokeSession(_ context.Context, sessionID uuid.UUID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, session := range f.sessions {
		if session.ID == sessionID {
			now := time.Now()
			session.RevokedAt = &now
			session.RevokedReason = &reason
			return nil
		}
	}
	return pkgerrors.ErrNotFound
}

type fakeAuditRepo struct {
	mu      sync.Mutex
	entries []*domain.AuditLog
}

func (f *fakeAuditRepo) CreateLog(_ context.Context, entry *domain.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAuditRepo) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]string, 0, len(f.entries))
	for _, e := range f.entries {
		types = append(types, e.EventType)
	}
	return types
}

type recordedEvent struct {
	Scope   string
	UserID  uuid.UUID
	Event   string
	Data    any
	Exclude uuid.UUID
}

// fakeBroadcaster записывает рассылки вместо доставки по websocket
type fakeBroadcaster struct {
	mu     sync.Mutex
	toConv []recordedEvent
	toUser []recordedEvent
}

func (f *fakeBroadcaster) ToConversation(conversationID uuid.UUID, event string, data any, excludeUserID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toConv = append(f.toConv, recordedEvent{
		Scope:   conversationID.String(),
		Event:   event,
		Data:    data,
		Exclude: excludeUserID,
	})
}

func (f *fakeBroadcaster) ToUser(userID uuid.UUID, event string, data any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toUser = append(f.toUser, recordedEvent{UserID: userID, Event: event, Data: data})
}

func (f *fakeBroadcaster) convEvents(event string) []recordedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := []recordedEvent{}
	for _, e := range f.toConv {
		if e.Event == event {
			result = append(result, e)
		}
	}
	return result
}

func (f *fakeBroadcaster) userEvents(event string) []recordedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := []recordedEvent{}
	for _, e := range f.toUser {
		if e.Event == event {
			result = append(result, e)
		}
	}
	return result
}
