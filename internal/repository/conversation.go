package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"chat_backend/internal/domain"
	pkgerrors "chat_backend/pkg/errors"
	"chat_backend/pkg/logger"
)

type ConversationRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error)
	FindPrivate(ctx context.Context, userA, userB uuid.UUID) (*domain.Conversation, error)
	CreatePrivate(ctx context.Context, conv *domain.Conversation) error
	CreateGroup(ctx context.Context, conv *domain.Conversation, members []*domain.GroupMember) error
	UpdateGroup(ctx context.Context, id uuid.UUID, name, avatar *string) error
	ListPrivateForUser(ctx context.Context, userID uuid.UUID) ([]*domain.ConversationPreview, error)
	ListGroupForUser(ctx context.Context, userID uuid.UUID) ([]*domain.ConversationPreview, error)
	GetMember(ctx context.Context, conversationID, userID uuid.UUID) (*domain.GroupMember, error)
	ListMembers(ctx context.Context, conversationID uuid.UUID) ([]*domain.GroupMember, error)
	AddMembers(ctx context.Context, conversationID uuid.UUID, userIDs []uuid.UUID, role string) error
	RemoveMember(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
	UpdateMemberRole(ctx context.Context, conversationID, userID uuid.UUID, role string) (bool, error)
	ToggleMuted(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
}

type conversationRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewConversationRepository(db *pgxpool.Pool, log logger.Logger) ConversationRepository {
	return &conversationRepository{db: db, log: log}
}

func (r *conversationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	query := `
		SELECT id, type, name, avatar_url, participant_one, participant_two, created_at
		FROM conversations
		WHERE id = $1
	`

	conv := &domain.Conversation{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&conv.ID, &conv.Type, &conv.Name, &conv.AvatarURL,
		&conv.ParticipantOne, &conv.ParticipantTwo, &conv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pkgerrors.ErrConversationNotFound
		}
		r.log.Error("Failed to get conversation", "error", err, "conversation_id", id)
		return nil, err
	}

	return conv, nil
}

func (r *conversationRepository) FindPrivate(ctx context.Context, userA, userB uuid.UUID) (*domain.Conversation, error) {
	query := `
		SELECT id, type, name, avatar_url, participant_one, participant_two, created_at
		FROM conversations
		WHERE type = 'private'
		  AND ((participant_one = $1 AND participant_two = $2)
		    OR (participant_one = $2 AND participant_two = $1))
	`

	conv := &domain.Conversation{}
	err := r.db.QueryRow(ctx, query, userA, userB).Scan(
		&conv.ID, &conv.Type, &conv.Name, &conv.AvatarURL,
		&conv.ParticipantOne, &conv.ParticipantTwo, &conv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pkgerrors.ErrConversationNotFound
		}
		r.log.Error("Failed to find private conversation", "error", err)
		return nil, err
	}

	return conv, nil
}

func (r *conversationRepository) CreatePrivate(ctx context.Context, conv *domain.Conversation) error {
	// Уникальный индекс по (LEAST(p1,p2), GREATEST(p1,p2)) гарантирует
	// одну приватную беседу на неупорядоченную пару
	query := `
		INSERT INTO conversations (id, type, participant_one, participant_two, created_at)
		VALUES ($1, 'private', $2, $3, $4)
		RETURNING created_at
	`

	err := r.db.QueryRow(ctx, query,
		conv.ID, conv.ParticipantOne, conv.ParticipantTwo, conv.CreatedAt,
	).Scan(&conv.CreatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Конкурентное создание той же пары: победителя перечитывает вызывающий
			return pkgerrors.ErrAlreadyExists
		}
		r.log.Error("Failed to create private conversation", "error", err)
		return err
	}

	return nil
}

func (r *conversationRepository) CreateGroup(ctx context.Context, conv *domain.Conversation, members []*domain.GroupMember) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		r.log.Error("Failed to begin transaction", "error", err)
		return err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO conversations (id, type, name, avatar_url, created_at)
		VALUES ($1, 'group', $2, $3, $4)
		RETURNING created_at
	`

	if err := tx.QueryRow(ctx, query, conv.ID, conv.Name, conv.AvatarURL, conv.CreatedAt).Scan(&conv.CreatedAt); err != nil {
		r.log.Error("Failed to create group conversation", "error", err)
		return err
	}

	memberQuery := `
		INSERT INTO group_members (conversation_id, user_id, role, muted, joined_at)
		VALUES ($1, $2, $3, FALSE, $4)
	`

	for _, m := range members {
		if _, err := tx.Exec(ctx, memberQuery, conv.ID, m.UserID, m.Role, m.JoinedAt); err != nil {
			r.log.Error("Failed to create group member", "error", err, "user_id", m.UserID)
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *conversationRepository) UpdateGroup(ctx context.Context, id uuid.UUID, name, avatar *string) error {
	query := `
		UPDATE conversations
		SET name = COALESCE($2, name), avatar_url = COALESCE($3, avatar_url)
		WHERE id = $1 AND type = 'group'
	`

	tag, err := r.db.Exec(ctx, query, id, name, avatar)
	if err != nil {
		r.log.Error("Failed to update group conversation", "error", err, "conversation_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		return pkgerrors.ErrConversationNotFound
	}

	return nil
}

func (r *conversationRepository) ListPrivateForUser(ctx context.Context, userID uuid.UUID) ([]*domain.ConversationPreview, error) {
	query := `
		SELECT c.id, u.id, u.username, u.avatar_url, u.is_online,
		       m.content, m.created_at, m.sender_id, m.type
		FROM conversations c
		JOIN users u ON u.id = CASE WHEN c.participant_one = $1 THEN c.participant_two ELSE c.participant_one END
		LEFT JOIN LATERAL (
			SELECT content, created_at, sender_id, type
			FROM messages
			WHERE conversation_id = c.id AND is_deleted = FALSE
			ORDER BY created_at DESC
			LIMIT 1
		) m ON TRUE
		WHERE c.type = 'private' AND (c.participant_one = $1 OR c.participant_two = $1)
		ORDER BY c.created_at
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		r.log.Error("Failed to list private conversations", "error", err, "user_id", userID)
		return nil, err
	}
	defer rows.Close()

	var previews []*domain.ConversationPreview
	for rows.Next() {
		p := &domain.ConversationPreview{Type: domain.ConversationTypePrivate}
		participant := &domain.UserSummary{}
		err := rows.Scan(
			&p.ConversationID, &participant.ID, &participant.Username, &participant.AvatarURL, &participant.IsOnline,
			&p.LastMessage, &p.LastMessageTime, &p.LastMessageSenderID, &p.LastMessageType,
		)
		if err != nil {
			r.log.Error("Failed to scan private conversation", "error", err)
			return nil, err
		}
		p.Participant = participant
		previews = append(previews, p)
	}

	return previews, rows.Err()
}

func (r *conversationRepository) ListGroupForUser(ctx context.Context, userID uuid.UUID) ([]*domain.ConversationPreview, error) {
	query := `
		SELECT c.id, c.name, c.avatar_url,
		       m.content, m.created_at, m.sender_id, m.type
		FROM conversations c
		JOIN group_members gm ON gm.conversation_id = c.id AND gm.user_id = $1
		LEFT JOIN LATERAL (
			SELECT content, created_at, sender_id, type
			FROM messages
			WHERE conversation_id = c.id AND is_deleted = FALSE
			ORDER BY created_at DESC
			LIMIT 1
		) m ON TRUE
		WHERE c.type = 'group'
		ORDER BY c.created_at
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		r.log.Error("Failed to list group conversations", "error", err, "user_id", userID)
		return nil, err
	}
	defer rows.Close()

	var previews []*domain.ConversationPreview
	for rows.Next() {
		p := &domain.ConversationPreview{Type: domain.ConversationTypeGroup}
		err := rows.Scan(
			&p.ConversationID, &p.Name, &p.AvatarURL,
			&p.LastMessage, &p.LastMessageTime, &p.LastMessageSenderID, &p.LastMessageType,
		)
		if err != nil {
			r.log.Error("Failed to scan group conversation", "error", err)
			return nil, err
		}
		previews = append(previews, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, p := range previews {
		members, err := r.ListMembers(ctx, p.ConversationID)
		if err != nil {
			return nil, err
		}
		p.Members = members
	}

	return previews, nil
}

func (r *conversationRepository) GetMember(ctx context.Context, conversationID, userID uuid.UUID) (*domain.GroupMember, error) {
	query := `
		SELECT gm.conversation_id, gm.user_id, gm.role, gm.muted, gm.joined_at,
		       u.username, u.avatar_url
		FROM group_members gm
		JOIN users u ON u.id = gm.user_id
		WHERE gm.conversation_id = $1 AND gm.user_id = $2
	`

	m := &domain.GroupMember{User: &domain.UserSummary{}}
	err := r.db.QueryRow(ctx, query, conversationID, userID).Scan(
		&m.ConversationID, &m.UserID, &m.Role, &m.Muted, &m.JoinedAt,
		&m.User.Username, &m.User.AvatarURL,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pkgerrors.ErrMemberNotFound
		}
		r.log.Error("Failed to get member", "error", err, "conversation_id", conversationID, "user_id", userID)
		return nil, err
	}
	m.User.ID = m.UserID

	return m, nil
}

func (r *conversationRepository) ListMembers(ctx context.Context, conversationID uuid.UUID) ([]*domain.GroupMember, error) {
	query := `
		SELECT gm.conversation_id, gm.user_id, gm.role, gm.muted, gm.joined_at,
		       u.username, u.avatar_url
		FROM group_members gm
		JOIN users u ON u.id = gm.user_id
		WHERE gm.conversation_id = $1
		ORDER BY gm.joined_at
	`

	rows, err := r.db.Query(ctx, query, conversationID)
	if err != nil {
		r.log.Error("Failed to list members", "error", err, "conversation_id", conversationID)
		return nil, err
	}
	defer rows.Close()

	var members []*domain.GroupMember
	for rows.Next() {
		m := &domain.GroupMember{User: &domain.UserSummary{}}
		err := rows.Scan(
			&m.ConversationID, &m.UserID, &m.Role, &m.Muted, &m.JoinedAt,
			&m.User.Username, &m.User.AvatarURL,
		)
		if err != nil {
			r.log.Error("Failed to scan member", "error", err)
			return nil, err
		}
		m.User.ID = m.UserID
		members = append(members, m)
	}

	return members, rows.Err()
}

func (r *conversationRepository) AddMembers(ctx context.Context, conversationID uuid.UUID, userIDs []uuid.UUID, role string) error {
	// Уже существующие пары молча пропускаются
	query := `
		INSERT INTO group_members (conversation_id, user_id, role, muted, joined_at)
		VALUES ($1, $2, $3, FALSE, NOW())
		ON CONFLICT (conversation_id, user_id) DO NOTHING
	`

	for _, userID := range userIDs {
		if _, err := r.db.Exec(ctx, query, conversationID, userID, role); err != nil {
			r.log.Error("Failed to add member", "error", err, "conversation_id", conversationID, "user_id", userID)
			return err
		}
	}

	return nil
}

// RemoveMember удаляет членство, если это не оставит группу без админов.
// Проверка и удаление выполняются одним оператором, чтобы два конкурентных
// удаления не прошли оба через проверку "админов больше одного".
func (r *conversationRepository) RemoveMember(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	query := `
		DELETE FROM group_members
		WHERE conversation_id = $1 AND user_id = $2
		  AND (role <> 'admin'
		    OR (SELECT COUNT(*) FROM group_members WHERE conversation_id = $1 AND role = 'admin') > 1)
	`

	tag, err := r.db.Exec(ctx, query, conversationID, userID)
	if err != nil {
		r.log.Error("Failed to remove member", "error", err, "conversation_id", conversationID, "user_id", userID)
		return false, err
	}

	return tag.RowsAffected() > 0, nil
}

// UpdateMemberRole меняет роль; понижение последнего админа блокируется
// тем же встроенным подсчетом, что и удаление.
func (r *conversationRepository) UpdateMemberRole(ctx context.Context, conversationID, userID uuid.UUID, role string) (bool, error) {
	query := `
		UPDATE group_members
		SET role = $3
		WHERE conversation_id = $1 AND user_id = $2
		  AND ($3 = 'admin' OR role = 'member'
		    OR (SELECT COUNT(*) FROM group_members WHERE conversation_id = $1 AND role = 'admin') > 1)
	`

	tag, err := r.db.Exec(ctx, query, conversationID, userID, role)
	if err != nil {
		r.log.Error("Failed to update member role", "error", err, "conversation_id", conversationID, "user_id", userID)
		return false, err
	}

	return tag.RowsAffected() > 0, nil
}

// ToggleMuted инвертирует флаг одним оператором, чтобы два конкурентных
// переключения не прочитали одно и то же исходное значение
func (r *conversationRepository) ToggleMuted(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	query := `
		UPDATE group_members
		SET muted = NOT muted
		WHERE conversation_id = $1 AND user_id = $2
		RETURNING muted
	`

	var muted bool
	err := r.db.QueryRow(ctx, query, conversationID, userID).Scan(&muted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, pkgerrors.ErrMemberNotFound
		}
		r.log.Error("Failed to toggle mute", "error", err, "conversation_id", conversationID, "user_id", userID)
		return false, err
	}

	return muted, nil
}
