package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"chat_backend/internal/domain"
	pkgerrors "chat_backend/pkg/errors"
)

func newConversationFixture() (*fakeConversationRepo, *fakeAuditRepo, ConversationService) {
	convRepo := newFakeConversationRepo()
	auditRepo := &fakeAuditRepo{}
	svc := NewConversationService(convRepo, auditRepo, testLogger())
	return convRepo, auditRepo, svc
}

func TestFindOrCreatePrivateIdempotent(t *testing.T) {
	_, _, svc := newConversationFixture()
	ctx := context.Background()

	alice := uuid.New()
	bob := uuid.New()

	first, err := svc.FindOrCreatePrivate(ctx, alice, bob)
	require.NoError(t, err)
	require.Equal(t, domain.ConversationTypePrivate, first.Type)

	// Повтор с той же парой и с обратным порядком участников
	second, err := svc.FindOrCreatePrivate(ctx, alice, bob)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	reversed, err := svc.FindOrCreatePrivate(ctx, bob, alice)
	require.NoError(t, err)
	require.Equal(t, first.ID, reversed.ID)
}

func TestFindOrCreatePrivateRejectsSelfAndNil(t *testing.T) {
	_, _, svc := newConversationFixture()
	ctx := context.Background()

	alice := uuid.New()

	_, err := svc.FindOrCreatePrivate(ctx, alice, alice)
	require.ErrorIs(t, err, pkgerrors.ErrBadRequest)

	_, err = svc.FindOrCreatePrivate(ctx, alice, uuid.Nil)
	require.ErrorIs(t, err, pkgerrors.ErrBadRequest)
}

func TestFindOrCreatePrivateConcurrentCreate(t *testing.T) {
	convRepo, _, svc := newConversationFixture()
	ctx := context.Background()

	alice := uuid.New()
	bob := uuid.New()

	// Конкурент вставляет пару между проверкой и созданием
	convRepo.beforeCreatePrivate = func() {
		convRepo.beforeCreatePrivate = nil
		winner := &domain.Conversation{
			ID:             uuid.New(),
			Type:           domain.ConversationTypePrivate,
			ParticipantOne: &bob,
			ParticipantTwo: &alice,
			CreatedAt:      time.Now(),
		}
		require.NoError(t, convRepo.CreatePrivate(ctx, winner))
	}

	conv, err := svc.FindOrCreatePrivate(ctx, alice, bob)
	require.NoError(t, err)

	winner, err := convRepo.FindPrivate(ctx, alice, bob)
	require.NoError(t, err)
	require.Equal(t, winner.ID, conv.ID)
}

func TestCreateGroupCreatorIsAdmin(t *testing.T) {
	_, auditRepo, svc := newConversationFixture()
	ctx := context.Background()

	creator := uuid.New()
	member := uuid.New()

	// Создатель и дубликат участника в списке не порождают лишних записей
	conv, members, err := svc.CreateGroup(ctx, creator, "team", nil, []uuid.UUID{member, member, creator})
	require.NoError(t, err)
	require.Equal(t, domain.ConversationTypeGroup, conv.Type)
	require.Len(t, members, 2)

	roles := map[uuid.UUID]string{}
	for _, m := range members {
		roles[m.UserID] = m.Role
	}
	require.Equal(t, domain.MemberRoleAdmin, roles[creator])
	require.Equal(t, domain.MemberRoleMember, roles[member])

	require.Contains(t, auditRepo.eventTypes(), domain.EventTypeGroupCreated)
}

func TestCreateGroupValidation(t *testing.T) {
	_, _, svc := newConversationFixture()
	ctx := context.Background()

	_, _, err := svc.CreateGroup(ctx, uuid.New(), "  ", nil, []uuid.UUID{uuid.New()})
	require.ErrorIs(t, err, pkgerrors.ErrBadRequest)

	_, _, err = svc.CreateGroup(ctx, uuid.New(), "team", nil, nil)
	require.ErrorIs(t, err, pkgerrors.ErrBadRequest)
}

func TestUpdateGroupRequiresAdmin(t *testing.T) {
	_, _, svc := newConversationFixture()
	ctx := context.Background()

	creator := uuid.New()
	member := uuid.New()

	conv, _, err := svc.CreateGroup(ctx, creator, "team", nil, []uuid.UUID{member})
	require.NoError(t, err)

	name := "renamed"
	_, _, err = svc.UpdateGroup(ctx, member, conv.ID, &name, nil)
	require.ErrorIs(t, err, pkgerrors.ErrAdminOnly)

	updated, _, err := svc.UpdateGroup(ctx, creator, conv.ID, &name, nil)
	require.NoError(t, err)
	require.Equal(t, "renamed", *updated.Name)
}

func TestRemoveMemberLastAdminProtected(t *testing.T) {
	_, _, svc := newConversationFixture()
	ctx := context.Background()

	creator := uuid.New()
	member := uuid.New()

	conv, _, err := svc.CreateGroup(ctx, creator, "team", nil, []uuid.UUID{member})
	require.NoError(t, err)

	// Единственный админ не может быть удален даже самим собой
	err = svc.RemoveMember(ctx, creator, conv.ID, creator)
	require.ErrorIs(t, err, pkgerrors.ErrLastAdmin)

	// После назначения второго админа удаление проходит
	_, err = svc.UpdateRole(ctx, creator, conv.ID, member, domain.MemberRoleAdmin)
	require.NoError(t, err)

	require.NoError(t, svc.RemoveMember(ctx, member, conv.ID, creator))
}

func TestRemoveMemberChecks(t *testing.T) {
	_, _, svc := newConversationFixture()
	ctx := context.Background()

	creator := uuid.New()
	member := uuid.New()
	outsider := uuid.New()

	conv, _, err := svc.CreateGroup(ctx, creator, "team", nil, []uuid.UUID{member})
	require.NoError(t, err)

	err = svc.RemoveMember(ctx, member, conv.ID, creator)
	require.ErrorIs(t, err, pkgerrors.ErrAdminOnly)

	err = svc.RemoveMember(ctx, creator, conv.ID, outsider)
	require.ErrorIs(t, err, pkgerrors.ErrMemberNotFound)

	require.NoError(t, svc.RemoveMember(ctx, creator, conv.ID, member))
}

func TestUpdateRoleDemoteLastAdmin(t *testing.T) {
	_, _, svc := newConversationFixture()
	ctx := context.Background()

	creator := uuid.New()
	member := uuid.New()

	conv, _, err := svc.CreateGroup(ctx, creator, "team", nil, []uuid.UUID{member})
	require.NoError(t, err)

	_, err = svc.UpdateRole(ctx, creator, conv.ID, creator, domain.MemberRoleMember)
	require.ErrorIs(t, err, pkgerrors.ErrLastAdmin)

	promoted, err := svc.UpdateRole(ctx, creator, conv.ID, member, domain.MemberRoleAdmin)
	require.NoError(t, err)
	require.Equal(t, domain.MemberRoleAdmin, promoted.Role)

	// Теперь админов двое и понижение возможно
	demoted, err := svc.UpdateRole(ctx, member, conv.ID, creator, domain.MemberRoleMember)
	require.NoError(t, err)
	require.Equal(t, domain.MemberRoleMember, demoted.Role)
}

func TestUpdateRoleValidation(t *testing.T) {
	_, _, svc := newConversationFixture()
	ctx := context.Background()

	creator := uuid.New()
	member := uuid.New()

	conv, _, err := svc.CreateGroup(ctx, creator, "team", nil, []uuid.UUID{member})
	require.NoError(t, err)

	_, err = svc.UpdateRole(ctx, creator, conv.ID, member, "owner")
	require.ErrorIs(t, err, pkgerrors.ErrBadRequest)
}

func TestLeaveLastAdminProtected(t *testing.T) {
	_, _, svc := newConversationFixture()
	ctx := context.Background()

	creator := uuid.New()
	member := uuid.New()

	conv, _, err := svc.CreateGroup(ctx, creator, "team", nil, []uuid.UUID{member})
	require.NoError(t, err)

	err = svc.Leave(ctx, creator, conv.ID)
	require.ErrorIs(t, err, pkgerrors.ErrLeaveLastAdmin)

	require.NoError(t, svc.Leave(ctx, member, conv.ID))
}

func TestToggleMute(t *testing.T) {
	convRepo, _, svc := newConversationFixture()
	ctx := context.Background()

	creator := uuid.New()
	member := uuid.New()

	conv, _, err := svc.CreateGroup(ctx, creator, "team", nil, []uuid.UUID{member})
	require.NoError(t, err)

	muted, err := svc.ToggleMute(ctx, member, conv.ID)
	require.NoError(t, err)
	require.True(t, muted.Muted)

	stored, err := convRepo.GetMember(ctx, conv.ID, member)
	require.NoError(t, err)
	require.True(t, stored.Muted)

	unmuted, err := svc.ToggleMute(ctx, member, conv.ID)
	require.NoError(t, err)
	require.False(t, unmuted.Muted)

	_, err = svc.ToggleMute(ctx, uuid.New(), conv.ID)
	require.ErrorIs(t, err, pkgerrors.ErrMemberNotFound)
}

// Четное число конкурентных переключений возвращает флаг в исходное состояние:
// инверсия выполняется в хранилище, а не через read-then-write
func TestToggleMuteConcurrentFlips(t *testing.T) {
	convRepo, _, svc := newConversationFixture()
	ctx := context.Background()

	creator := uuid.New()
	member := uuid.New()

	conv, _, err := svc.CreateGroup(ctx, creator, "team", nil, []uuid.UUID{member})
	require.NoError(t, err)

	const toggles = 8
	errs := make(chan error, toggles)
	var wg sync.WaitGroup
	for i := 0; i < toggles; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ToggleMute(ctx, member, conv.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	stored, err := convRepo.GetMember(ctx, conv.ID, member)
	require.NoError(t, err)
	require.False(t, stored.Muted)
}

func TestAddMembersSkipsExisting(t *testing.T) {
	_, _, svc := newConversationFixture()
	ctx := context.Background()

	creator := uuid.New()
	member := uuid.New()
	newcomer := uuid.New()

	conv, _, err := svc.CreateGroup(ctx, creator, "team", nil, []uuid.UUID{member})
	require.NoError(t, err)

	members, err := svc.AddMembers(ctx, creator, conv.ID, []uuid.UUID{member, newcomer})
	require.NoError(t, err)
	require.Len(t, members, 3)

	_, err = svc.AddMembers(ctx, member, conv.ID, []uuid.UUID{uuid.New()})
	require.ErrorIs(t, err, pkgerrors.ErrAdminOnly)

	_, err = svc.AddMembers(ctx, creator, conv.ID, nil)
	require.ErrorIs(t, err, pkgerrors.ErrBadRequest)
}

func TestListForUserMergesPrivateAndGroups(t *testing.T) {
	_, _, svc := newConversationFixture()
	ctx := context.Background()

	alice := uuid.New()
	bob := uuid.New()

	_, err := svc.FindOrCreatePrivate(ctx, alice, bob)
	require.NoError(t, err)

	_, _, err = svc.CreateGroup(ctx, alice, "team", nil, []uuid.UUID{bob})
	require.NoError(t, err)

	previews, err := svc.ListForUser(ctx, alice)
	require.NoError(t, err)
	require.Len(t, previews, 2)

	stranger, err := svc.ListForUser(ctx, uuid.New())
	require.NoError(t, err)
	require.Empty(t, stranger)
}

func TestListForUserSortedByLastMessage(t *testing.T) {
	convRepo, _, svc := newConversationFixture()
	ctx := context.Background()

	alice := uuid.New()
	bob := uuid.New()
	carol := uuid.New()

	older, err := svc.FindOrCreatePrivate(ctx, alice, bob)
	require.NoError(t, err)
	newer, err := svc.FindOrCreatePrivate(ctx, alice, carol)
	require.NoError(t, err)
	silent, _, err := svc.CreateGroup(ctx, alice, "team", nil, []uuid.UUID{bob})
	require.NoError(t, err)

	now := time.Now()
	convRepo.lastMessageAt[older.ID] = now.Add(-time.Hour)
	convRepo.lastMessageAt[newer.ID] = now

	previews, err := svc.ListForUser(ctx, alice)
	require.NoError(t, err)
	require.Len(t, previews, 3)

	// Беседа без сообщений уходит в конец списка
	require.Equal(t, newer.ID, previews[0].ConversationID)
	require.Equal(t, older.ID, previews[1].ConversationID)
	require.Equal(t, silent.ID, previews[2].ConversationID)
}
