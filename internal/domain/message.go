package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeFile  = "file"
)

type Message struct {
	ID                 int64     `json:"id"`
	ConversationID     uuid.UUID `json:"conversation_id"`
	SenderID           uuid.UUID `json:"sender_id"`
	Content            string    `json:"content"`
	Type               string    `json:"type"`
	MediaURL           *string   `json:"media_url,omitempty"`
	FileName           *string   `json:"file_name,omitempty"`
	FileSize           *int64    `json:"file_size,omitempty"`
	IsEdited           bool      `json:"is_edited"`
	IsDeleted          bool      `json:"is_deleted"`
	DeletedForEveryone bool      `json:"deleted_for_everyone"`
	CreatedAt          time.Time `json:"created_at"`

	Sender       *UserSummary   `json:"sender,omitempty"`
	Reactions    []*Reaction    `json:"reactions,omitempty"`
	Mentions     []*Mention     `json:"mentions,omitempty"`
	ReadReceipts []*ReadReceipt `json:"read_receipts,omitempty"`
}

// Reaction — уникальна по (message_id, user_id, emoji)
type Reaction struct {
	ID        int64        `json:"id"`
	MessageID int64        `json:"message_id"`
	UserID    uuid.UUID    `json:"user_id"`
	Emoji     string       `json:"emoji"`
	CreatedAt time.Time    `json:"created_at"`
	User      *UserSummary `json:"user,omitempty"`
}

// ReadReceipt — уникальна по (message_id, user_id), обновляется при повторной отметке
type ReadReceipt struct {
	MessageID int64     `json:"message_id"`
	UserID    uuid.UUID `json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}

// Mention создается при отправке сообщения и далее не меняется
type Mention struct {
	MessageID int64        `json:"message_id"`
	UserID    uuid.UUID    `json:"user_id"`
	User      *UserSummary `json:"user,omitempty"`
}
