package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"chat_backend/internal/domain"
	pkgerrors "chat_backend/pkg/errors"
)

func TestCanAccessPrivate(t *testing.T) {
	convRepo := newFakeConversationRepo()
	svc := NewAccessService(convRepo, testLogger())
	ctx := context.Background()

	alice := uuid.New()
	bob := uuid.New()
	conv := &domain.Conversation{
		ID:             uuid.New(),
		Type:           domain.ConversationTypePrivate,
		ParticipantOne: &alice,
		ParticipantTwo: &bob,
	}
	require.NoError(t, convRepo.CreatePrivate(ctx, conv))

	for _, participant := range []uuid.UUID{alice, bob} {
		_, access, err := svc.CanAccess(ctx, participant, conv.ID)
		require.NoError(t, err)
		require.True(t, access.Granted)
	}

	_, access, err := svc.CanAccess(ctx, uuid.New(), conv.ID)
	require.NoError(t, err)
	require.False(t, access.Granted)
}

func TestCanAccessGroup(t *testing.T) {
	convRepo := newFakeConversationRepo()
	svc := NewAccessService(convRepo, testLogger())
	ctx := context.Background()

	admin := uuid.New()
	member := uuid.New()
	convSvc := NewConversationService(convRepo, &fakeAuditRepo{}, testLogger())
	conv, _, err := convSvc.CreateGroup(ctx, admin, "team", nil, []uuid.UUID{member})
	require.NoError(t, err)

	_, access, err := svc.CanAccess(ctx, admin, conv.ID)
	require.NoError(t, err)
	require.True(t, access.Granted)
	require.Equal(t, domain.MemberRoleAdmin, access.Role)

	_, access, err = svc.CanAccess(ctx, member, conv.ID)
	require.NoError(t, err)
	require.True(t, access.Granted)
	require.Equal(t, domain.MemberRoleMember, access.Role)

	_, access, err = svc.CanAccess(ctx, uuid.New(), conv.ID)
	require.NoError(t, err)
	require.False(t, access.Granted)
}

func TestCanAccessUnknownConversation(t *testing.T) {
	svc := NewAccessService(newFakeConversationRepo(), testLogger())

	_, _, err := svc.CanAccess(context.Background(), uuid.New(), uuid.New())
	require.ErrorIs(t, err, pkgerrors.ErrConversationNotFound)
}
