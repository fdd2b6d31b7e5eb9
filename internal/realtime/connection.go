package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// Connection оборачивает websocket и сериализует исходящие записи через
// буферизованный канал. Безопасна для конкурентного использования.
type Connection struct {
	ID     string
	UserID uuid.UUID

	ws    *websocket.Conn
	send  chan []byte
	once  sync.Once
	close chan struct{}
}

func NewConnection(userID uuid.UUID, ws *websocket.Conn) *Connection {
	return &Connection{
		ID:     uuid.NewString(),
		UserID: userID,
		ws:     ws,
		send:   make(chan []byte, 128),
		close:  make(chan struct{}),
	}
}

// Start запускает цикл записи. Вызывается ровно один раз на соединение.
func (c *Connection) Start() {
	go c.writeLoop()
}

// Send ставит payload в очередь на доставку. Если клиент медленный и буфер
// заполнен, соединение закрывается, чтобы не копить backpressure.
// Канал send никогда не закрывается; остановка сигналится только через close.
func (c *Connection) Send(payload []byte) error {
	select {
	case <-c.close:
		return errors.New("connection closed")
	default:
	}

	select {
	case <-c.close:
		return errors.New("connection closed")
	case c.send <- payload:
		return nil
	default:
		c.Close(websocket.CloseGoingAway, "send buffer full")
		return errors.New("connection buffer exceeded")
	}
}

// SendEvent упаковывает событие в Envelope и отправляет его
func (c *Connection) SendEvent(event string, data any) error {
	payload, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return err
	}
	return c.Send(payload)
}

// ReadEvent блокирующе читает следующее клиентское событие
func (c *Connection) ReadEvent() (*ClientEvent, error) {
	_, payload, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}

	event := &ClientEvent{}
	if err := json.Unmarshal(payload, event); err != nil {
		return nil, err
	}

	return event, nil
}

// Close завершает соединение и останавливает цикл записи
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.close)
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.close:
			return
		case msg := <-c.send:
			if err := c.writeMessage(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.writePing(); err != nil {
				return
			}
		}
	}
}

func (c *Connection) writeMessage(payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *Connection) writePing() error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.PingMessage, nil)
}
