package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"chat_backend/pkg/logger"
)

// Hub — реестр живых соединений и их scope'ов. Хранит одно активное
// соединение на пользователя; при повторном подключении старое соединение
// закрывается. Инициализируется при старте сервера и гасится при остановке.
type Hub struct {
	mu            sync.RWMutex
	sessions      map[string]*Connection            // sessionID -> connection
	userSessions  map[uuid.UUID]string              // userID -> sessionID
	scopes        map[string]map[string]*Connection // scope -> sessionID -> connection
	sessionScopes map[string]map[string]struct{}    // sessionID -> set of scopes

	log logger.Logger
}

func NewHub(log logger.Logger) *Hub {
	return &Hub{
		sessions:      make(map[string]*Connection),
		userSessions:  make(map[uuid.UUID]string),
		scopes:        make(map[string]map[string]*Connection),
		sessionScopes: make(map[string]map[string]struct{}),
		log:           log,
	}
}

// Attach регистрирует соединение и автоматически включает его в персональный
// scope пользователя. Предыдущая сессия того же пользователя вытесняется.
func (h *Hub) Attach(conn *Connection) {
	var previous *Connection

	h.mu.Lock()
	if existingID, ok := h.userSessions[conn.UserID]; ok {
		if existing := h.sessions[existingID]; existing != nil {
			previous = existing
			h.detachLocked(existingID)
		}
	}

	h.sessions[conn.ID] = conn
	h.userSessions[conn.UserID] = conn.ID
	h.sessionScopes[conn.ID] = make(map[string]struct{})
	h.joinLocked(UserScope(conn.UserID), conn)
	h.mu.Unlock()

	conn.Start()

	if previous != nil {
		previous.Close(4001, "session replaced")
	}
}

// Detach убирает соединение из реестра и всех его scope'ов
func (h *Hub) Detach(conn *Connection) {
	h.mu.Lock()
	h.detachLocked(conn.ID)
	h.mu.Unlock()
}

// Join включает соединение в scope
func (h *Hub) Join(scope string, conn *Connection) {
	h.mu.Lock()
	if _, ok := h.sessions[conn.ID]; ok {
		h.joinLocked(scope, conn)
	}
	h.mu.Unlock()
}

// Leave исключает соединение из scope
func (h *Hub) Leave(scope string, conn *Connection) {
	h.mu.Lock()
	h.leaveLocked(scope, conn.ID)
	h.mu.Unlock()
}

// Broadcast доставляет payload всем участникам scope. excludeUserID (не Nil)
// исключает этого пользователя. Доставка best-effort: мутация уже применена,
// недоставленные события клиент доберет при переподключении через REST.
// Соединения, у которых Send не прошел, уже закрыты и вычищаются из реестра.
func (h *Hub) Broadcast(scope string, payload []byte, excludeUserID uuid.UUID) int {
	h.mu.RLock()
	members := h.scopes[scope]
	if len(members) == 0 {
		h.mu.RUnlock()
		return 0
	}

	delivered := 0
	var stale []string
	for _, conn := range members {
		if excludeUserID != uuid.Nil && conn.UserID == excludeUserID {
			continue
		}
		if err := conn.Send(payload); err == nil {
			delivered++
		} else {
			stale = append(stale, conn.ID)
		}
	}
	h.mu.RUnlock()

	if len(stale) > 0 {
		h.mu.Lock()
		for _, id := range stale {
			h.detachLocked(id)
		}
		h.mu.Unlock()
	}

	return delivered
}

// ToConversation рассылает событие в scope беседы
func (h *Hub) ToConversation(conversationID uuid.UUID, event string, data any, excludeUserID uuid.UUID) {
	payload, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		h.log.Error("Failed to marshal event", "error", err, "event", event)
		return
	}
	h.Broadcast(ConversationScope(conversationID), payload, excludeUserID)
}

// ToUser доставляет событие в персональный scope пользователя
func (h *Hub) ToUser(userID uuid.UUID, event string, data any) {
	payload, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		h.log.Error("Failed to marshal event", "error", err, "event", event)
		return
	}
	h.Broadcast(UserScope(userID), payload, uuid.Nil)
}

// Close завершает все соединения и очищает состояние реестра
func (h *Hub) Close() {
	h.mu.Lock()
	sessions := make([]*Connection, 0, len(h.sessions))
	for _, conn := range h.sessions {
		sessions = append(sessions, conn)
	}
	h.sessions = make(map[string]*Connection)
	h.userSessions = make(map[uuid.UUID]string)
	h.scopes = make(map[string]map[string]*Connection)
	h.sessionScopes = make(map[string]map[string]struct{})
	h.mu.Unlock()

	for _, conn := range sessions {
		conn.Close(1001, "hub shutdown")
	}
}

func (h *Hub) joinLocked(scope string, conn *Connection) {
	members := h.scopes[scope]
	if members == nil {
		members = make(map[string]*Connection)
		h.scopes[scope] = members
	}
	members[conn.ID] = conn

	scopes := h.sessionScopes[conn.ID]
	if scopes == nil {
		scopes = make(map[string]struct{})
		h.sessionScopes[conn.ID] = scopes
	}
	scopes[scope] = struct{}{}
}

func (h *Hub) detachLocked(sessionID string) {
	conn, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	delete(h.sessions, sessionID)

	if current, ok := h.userSessions[conn.UserID]; ok && current == sessionID {
		delete(h.userSessions, conn.UserID)
	}

	for scope := range h.sessionScopes[sessionID] {
		h.leaveLocked(scope, sessionID)
	}
	delete(h.sessionScopes, sessionID)
}

func (h *Hub) leaveLocked(scope string, sessionID string) {
	members := h.scopes[scope]
	if members == nil {
		return
	}
	delete(members, sessionID)
	if len(members) == 0 {
		delete(h.scopes, scope)
	}
	if scopes, ok := h.sessionScopes[sessionID]; ok {
		delete(scopes, scope)
	}
}
