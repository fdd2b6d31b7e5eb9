package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	ConversationTypePrivate = "private"
	ConversationTypeGroup   = "group"
)

const (
	MemberRoleAdmin  = "admin"
	MemberRoleMember = "member"
)

type Conversation struct {
	ID             uuid.UUID  `json:"id"`
	Type           string     `json:"type"`
	Name           *string    `json:"name,omitempty"`
	AvatarURL      *string    `json:"avatar,omitempty"`
	ParticipantOne *uuid.UUID `json:"participant_one,omitempty"`
	ParticipantTwo *uuid.UUID `json:"participant_two,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// GroupMember — членство пользователя в групповой беседе
type GroupMember struct {
	ConversationID uuid.UUID    `json:"conversation_id"`
	UserID         uuid.UUID    `json:"user_id"`
	Role           string       `json:"role"`
	Muted          bool         `json:"muted"`
	JoinedAt       time.Time    `json:"joined_at"`
	User           *UserSummary `json:"user,omitempty"`
}

// ConversationPreview — элемент списка бесед с последним сообщением
type ConversationPreview struct {
	ConversationID      uuid.UUID      `json:"conversation_id"`
	Type                string         `json:"type"`
	Name                *string        `json:"name,omitempty"`
	AvatarURL           *string        `json:"avatar,omitempty"`
	Participant         *UserSummary   `json:"participant,omitempty"`
	Members             []*GroupMember `json:"members,omitempty"`
	LastMessage         *string        `json:"last_message"`
	LastMessageTime     *time.Time     `json:"last_message_time"`
	LastMessageSenderID *uuid.UUID     `json:"last_message_sender_id"`
	LastMessageType     *string        `json:"last_message_type"`
}
