package service

import "github.com/google/uuid"

// Broadcaster — точка входа рассылки доменных событий живым соединениям.
// Реализуется realtime.Hub; внедряется в сервисы, чтобы REST и websocket
// проходили через одни и те же мутации с одинаковым фан-аутом.
// Рассылка fire-and-forget: мутация уже применена, ошибка доставки ее не
// откатывает.
type Broadcaster interface {
	ToConversation(conversationID uuid.UUID, event string, data any, excludeUserID uuid.UUID)
	ToUser(userID uuid.UUID, event string, data any)
}
