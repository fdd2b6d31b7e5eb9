package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chat_backend/internal/domain"
	"chat_backend/pkg/logger"
)

type EngagementRepository interface {
	ToggleReaction(ctx context.Context, messageID int64, userID uuid.UUID, emoji string) (*domain.Reaction, bool, error)
	UpsertReadReceipt(ctx context.Context, messageID int64, userID uuid.UUID) (*domain.ReadReceipt, error)
}

type engagementRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewEngagementRepository(db *pgxpool.Pool, log logger.Logger) EngagementRepository {
	return &engagementRepository{db: db, log: log}
}

// ToggleReaction атомарно снимает или ставит реакцию по ключу
// (message_id, user_id, emoji). Возвращает (nil, false) при снятии и
// (реакция, true) при установке. Конкурентные вызовы сериализуются
// уникальным индексом, а не блокировкой в процессе.
func (r *engagementRepository) ToggleReaction(ctx context.Context, messageID int64, userID uuid.UUID, emoji string) (*domain.Reaction, bool, error) {
	deleteQuery := `
		DELETE FROM message_reactions
		WHERE message_id = $1 AND user_id = $2 AND emoji = $3
		RETURNING id
	`

	var deletedID int64
	err := r.db.QueryRow(ctx, deleteQuery, messageID, userID, emoji).Scan(&deletedID)
	if err == nil {
		return nil, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		r.log.Error("Failed to remove reaction", "error", err, "message_id", messageID)
		return nil, false, err
	}

	insertQuery := `
		INSERT INTO message_reactions (message_id, user_id, emoji, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (message_id, user_id, emoji) DO NOTHING
		RETURNING id, created_at
	`

	reaction := &domain.Reaction{
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
	}

	err = r.db.QueryRow(ctx, insertQuery, messageID, userID, emoji, time.Now()).Scan(&reaction.ID, &reaction.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Конкурентный вызов успел вставить ту же реакцию: перечитываем ее
			selectQuery := `
				SELECT id, created_at FROM message_reactions
				WHERE message_id = $1 AND user_id = $2 AND emoji = $3
			`
			if err := r.db.QueryRow(ctx, selectQuery, messageID, userID, emoji).Scan(&reaction.ID, &reaction.CreatedAt); err != nil {
				r.log.Error("Failed to reread reaction", "error", err, "message_id", messageID)
				return nil, false, err
			}
		} else {
			r.log.Error("Failed to add reaction", "error", err, "message_id", messageID)
			return nil, false, err
		}
	}

	userQuery := `SELECT username, avatar_url FROM users WHERE id = $1`
	user := &domain.UserSummary{ID: userID}
	if err := r.db.QueryRow(ctx, userQuery, userID).Scan(&user.Username, &user.AvatarURL); err != nil {
		r.log.Error("Failed to load reacting user", "error", err, "user_id", userID)
		return nil, false, err
	}
	reaction.User = user

	return reaction, true, nil
}

// UpsertReadReceipt создает отметку о прочтении или обновляет ее время.
// Отметки никогда не удаляются.
func (r *engagementRepository) UpsertReadReceipt(ctx context.Context, messageID int64, userID uuid.UUID) (*domain.ReadReceipt, error) {
	query := `
		INSERT INTO read_receipts (message_id, user_id, read_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (message_id, user_id) DO UPDATE SET read_at = NOW()
		RETURNING read_at
	`

	receipt := &domain.ReadReceipt{
		MessageID: messageID,
		UserID:    userID,
	}

	if err := r.db.QueryRow(ctx, query, messageID, userID).Scan(&receipt.ReadAt); err != nil {
		r.log.Error("Failed to upsert read receipt", "error", err, "message_id", messageID, "user_id", userID)
		return nil, err
	}

	return receipt, nil
}
