package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chat_backend/internal/domain"
	pkgerrors "chat_backend/pkg/errors"
	"chat_backend/pkg/logger"
)

type MessageRepository interface {
	Create(ctx context.Context, message *domain.Message, mentionIDs []uuid.UUID) error
	GetByID(ctx context.Context, id int64) (*domain.Message, error)
	GetWithRelations(ctx context.Context, id int64) (*domain.Message, error)
	ListByConversation(ctx context.Context, conversationID uuid.UUID, viewerID uuid.UUID) ([]*domain.Message, error)
	Search(ctx context.Context, query string, conversationID *uuid.UUID, senderID *uuid.UUID, limit int) ([]*domain.Message, error)
	SetContent(ctx context.Context, id int64, content string) error
	SoftDelete(ctx context.Context, id int64, forEveryone bool) error
}

type messageRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewMessageRepository(db *pgxpool.Pool, log logger.Logger) MessageRepository {
	return &messageRepository{db: db, log: log}
}

func (r *messageRepository) Create(ctx context.Context, message *domain.Message, mentionIDs []uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		r.log.Error("Failed to begin transaction", "error", err)
		return err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO messages (conversation_id, sender_id, content, type, media_url, file_name, file_size, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`

	err = tx.QueryRow(ctx, query,
		message.ConversationID, message.SenderID, message.Content, message.Type,
		message.MediaURL, message.FileName, message.FileSize, message.CreatedAt,
	).Scan(&message.ID, &message.CreatedAt)
	if err != nil {
		r.log.Error("Failed to create message", "error", err)
		return err
	}

	mentionQuery := `
		INSERT INTO message_mentions (message_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (message_id, user_id) DO NOTHING
	`

	for _, userID := range mentionIDs {
		if _, err := tx.Exec(ctx, mentionQuery, message.ID, userID); err != nil {
			r.log.Error("Failed to create mention", "error", err, "message_id", message.ID, "user_id", userID)
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *messageRepository) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, content, type, media_url, file_name, file_size,
		       is_edited, is_deleted, deleted_for_everyone, created_at
		FROM messages
		WHERE id = $1
	`

	message := &domain.Message{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&message.ID, &message.ConversationID, &message.SenderID, &message.Content, &message.Type,
		&message.MediaURL, &message.FileName, &message.FileSize,
		&message.IsEdited, &message.IsDeleted, &message.DeletedForEveryone, &message.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pkgerrors.ErrMessageNotFound
		}
		r.log.Error("Failed to get message", "error", err, "message_id", id)
		return nil, err
	}

	return message, nil
}

func (r *messageRepository) GetWithRelations(ctx context.Context, id int64) (*domain.Message, error) {
	message, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := r.loadRelations(ctx, []*domain.Message{message}, uuid.Nil); err != nil {
		return nil, err
	}

	return message, nil
}

func (r *messageRepository) ListByConversation(ctx context.Context, conversationID uuid.UUID, viewerID uuid.UUID) ([]*domain.Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, content, type, media_url, file_name, file_size,
		       is_edited, is_deleted, deleted_for_everyone, created_at
		FROM messages
		WHERE conversation_id = $1 AND is_deleted = FALSE
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, conversationID)
	if err != nil {
		r.log.Error("Failed to list messages", "error", err, "conversation_id", conversationID)
		return nil, err
	}
	defer rows.Close()

	messages, err := r.scanMessages(rows)
	if err != nil {
		return nil, err
	}

	if err := r.loadRelations(ctx, messages, viewerID); err != nil {
		return nil, err
	}

	return messages, nil
}

func (r *messageRepository) Search(ctx context.Context, query string, conversationID *uuid.UUID, senderID *uuid.UUID, limit int) ([]*domain.Message, error) {
	sql := `
		SELECT id, conversation_id, sender_id, content, type, media_url, file_name, file_size,
		       is_edited, is_deleted, deleted_for_everyone, created_at
		FROM messages
		WHERE content ILIKE '%' || $1 || '%' AND is_deleted = FALSE
		  AND ($2::uuid IS NULL OR conversation_id = $2)
		  AND ($3::uuid IS NULL OR sender_id = $3)
		ORDER BY created_at DESC
		LIMIT $4
	`

	rows, err := r.db.Query(ctx, sql, query, conversationID, senderID, limit)
	if err != nil {
		r.log.Error("Failed to search messages", "error", err)
		return nil, err
	}
	defer rows.Close()

	messages, err := r.scanMessages(rows)
	if err != nil {
		return nil, err
	}

	if err := r.loadSenders(ctx, messages); err != nil {
		return nil, err
	}

	return messages, nil
}

func (r *messageRepository) SetContent(ctx context.Context, id int64, content string) error {
	query := `
		UPDATE messages
		SET content = $2, is_edited = TRUE
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query, id, content)
	if err != nil {
		r.log.Error("Failed to update message", "error", err, "message_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		return pkgerrors.ErrMessageNotFound
	}

	return nil
}

func (r *messageRepository) SoftDelete(ctx context.Context, id int64, forEveryone bool) error {
	query := `
		UPDATE messages
		SET is_deleted = TRUE, deleted_for_everyone = deleted_for_everyone OR $2
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query, id, forEveryone)
	if err != nil {
		r.log.Error("Failed to delete message", "error", err, "message_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		return pkgerrors.ErrMessageNotFound
	}

	return nil
}

func (r *messageRepository) scanMessages(rows pgx.Rows) ([]*domain.Message, error) {
	var messages []*domain.Message
	for rows.Next() {
		message := &domain.Message{}
		err := rows.Scan(
			&message.ID, &message.ConversationID, &message.SenderID, &message.Content, &message.Type,
			&message.MediaURL, &message.FileName, &message.FileSize,
			&message.IsEdited, &message.IsDeleted, &message.DeletedForEveryone, &message.CreatedAt,
		)
		if err != nil {
			r.log.Error("Failed to scan message", "error", err)
			return nil, err
		}
		messages = append(messages, message)
	}

	return messages, rows.Err()
}

// loadRelations подгружает отправителей, реакции, упоминания и отметки о
// прочтении для набора сообщений. Заданный viewerID сужает отметки до
// отметок самого читателя; uuid.Nil загружает отметки всех участников.
func (r *messageRepository) loadRelations(ctx context.Context, messages []*domain.Message, viewerID uuid.UUID) error {
	if len(messages) == 0 {
		return nil
	}

	if err := r.loadSenders(ctx, messages); err != nil {
		return err
	}

	byID := make(map[int64]*domain.Message, len(messages))
	ids := make([]int64, 0, len(messages))
	for _, m := range messages {
		byID[m.ID] = m
		ids = append(ids, m.ID)
	}

	reactionQuery := `
		SELECT mr.id, mr.message_id, mr.user_id, mr.emoji, mr.created_at, u.username
		FROM message_reactions mr
		JOIN users u ON u.id = mr.user_id
		WHERE mr.message_id = ANY($1)
		ORDER BY mr.created_at
	`

	rows, err := r.db.Query(ctx, reactionQuery, ids)
	if err != nil {
		r.log.Error("Failed to load reactions", "error", err)
		return err
	}
	for rows.Next() {
		reaction := &domain.Reaction{User: &domain.UserSummary{}}
		if err := rows.Scan(&reaction.ID, &reaction.MessageID, &reaction.UserID, &reaction.Emoji, &reaction.CreatedAt, &reaction.User.Username); err != nil {
			rows.Close()
			return err
		}
		reaction.User.ID = reaction.UserID
		if m := byID[reaction.MessageID]; m != nil {
			m.Reactions = append(m.Reactions, reaction)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	mentionQuery := `
		SELECT mm.message_id, mm.user_id, u.username
		FROM message_mentions mm
		JOIN users u ON u.id = mm.user_id
		WHERE mm.message_id = ANY($1)
	`

	rows, err = r.db.Query(ctx, mentionQuery, ids)
	if err != nil {
		r.log.Error("Failed to load mentions", "error", err)
		return err
	}
	for rows.Next() {
		mention := &domain.Mention{User: &domain.UserSummary{}}
		if err := rows.Scan(&mention.MessageID, &mention.UserID, &mention.User.Username); err != nil {
			rows.Close()
			return err
		}
		mention.User.ID = mention.UserID
		if m := byID[mention.MessageID]; m != nil {
			m.Mentions = append(m.Mentions, mention)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	receiptQuery := `
		SELECT message_id, user_id, read_at
		FROM read_receipts
		WHERE message_id = ANY($1) AND ($2::uuid IS NULL OR user_id = $2)
	`

	var viewer *uuid.UUID
	if viewerID != uuid.Nil {
		viewer = &viewerID
	}

	rows, err = r.db.Query(ctx, receiptQuery, ids, viewer)
	if err != nil {
		r.log.Error("Failed to load read receipts", "error", err)
		return err
	}
	for rows.Next() {
		receipt := &domain.ReadReceipt{}
		if err := rows.Scan(&receipt.MessageID, &receipt.UserID, &receipt.ReadAt); err != nil {
			rows.Close()
			return err
		}
		if m := byID[receipt.MessageID]; m != nil {
			m.ReadReceipts = append(m.ReadReceipts, receipt)
		}
	}
	rows.Close()

	return rows.Err()
}

func (r *messageRepository) loadSenders(ctx context.Context, messages []*domain.Message) error {
	if len(messages) == 0 {
		return nil
	}

	senderIDs := make([]uuid.UUID, 0, len(messages))
	seen := make(map[uuid.UUID]struct{}, len(messages))
	for _, m := range messages {
		if _, ok := seen[m.SenderID]; !ok {
			seen[m.SenderID] = struct{}{}
			senderIDs = append(senderIDs, m.SenderID)
		}
	}

	query := `
		SELECT id, username, avatar_url
		FROM users
		WHERE id = ANY($1)
	`

	rows, err := r.db.Query(ctx, query, senderIDs)
	if err != nil {
		r.log.Error("Failed to load senders", "error", err)
		return err
	}
	defer rows.Close()

	senders := make(map[uuid.UUID]*domain.UserSummary, len(senderIDs))
	for rows.Next() {
		s := &domain.UserSummary{}
		if err := rows.Scan(&s.ID, &s.Username, &s.AvatarURL); err != nil {
			return err
		}
		senders[s.ID] = s
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, m := range messages {
		m.Sender = senders[m.SenderID]
	}

	return nil
}
