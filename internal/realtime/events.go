package realtime

import (
	"encoding/json"

	"github.com/google/uuid"
)

// События, инициируемые клиентом
const (
	ClientEventJoinConversation  = "joinConversation"
	ClientEventLeaveConversation = "leaveConversation"
	ClientEventSendMessage       = "sendMessage"
	ClientEventEditMessage       = "editMessage"
	ClientEventDeleteMessage     = "deleteMessage"
	ClientEventTyping            = "typing"
	ClientEventAddReaction       = "addReaction"
	ClientEventMarkAsRead        = "markAsRead"
	ClientEventUpdatePresence    = "updatePresence"
)

// События, рассылаемые сервером
const (
	EventNewMessage      = "newMessage"
	EventMention         = "mention"
	EventMessageUpdated  = "messageUpdated"
	EventMessageDeleted  = "messageDeleted"
	EventReactionAdded   = "reactionAdded"
	EventReactionRemoved = "reactionRemoved"
	EventMessageRead     = "messageRead"
	EventTyping          = "typing"
	EventUserJoined      = "userJoined"
	EventUserLeft        = "userLeft"
	EventPresenceUpdate  = "presenceUpdate"
	EventError           = "error"
)

// Envelope — обертка всех сообщений в обе стороны
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// ClientEvent — входящее событие с еще не разобранной полезной нагрузкой
type ClientEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// UserScope — персональный scope пользователя, подключается автоматически
func UserScope(userID uuid.UUID) string {
	return "user:" + userID.String()
}

// ConversationScope — scope беседы, подключается после проверки доступа
func ConversationScope(conversationID uuid.UUID) string {
	return "conversation:" + conversationID.String()
}
