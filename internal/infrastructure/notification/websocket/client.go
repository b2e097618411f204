package websocket

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/dreschagin/rollout-controller/pkg/logger"
)

const (
	// Дедлайн на запись одного снимка состояния
	writeWait = 10 * time.Second

	// Время ожидания pong; соединение без pong считается мертвым
	pongWait = 45 * time.Second

	// Интервал ping, с запасом меньше pongWait
	pingPeriod = (pongWait * 9) / 10

	// Поток односторонний: от клиента ожидаются только control frames,
	// поэтому лимит на входящие данные минимальный
	maxInboundBytes = 256

	// Снимки состояния небольшие; буфера хватает на всплеск переходов
	sendBufferSize = 32
)

// Client - подписчик push-потока состояний rollout. Сервер шлет снимки
// состояния и ping; от клиента принимаются только pong и close. Любой
// data frame от клиента считается нарушением протокола.
type Client struct {
	conn   *websocket.Conn
	hub    *Hub
	send   chan Message
	logger *logger.Logger
}

// NewClient создает подписчика поверх установленного соединения
func NewClient(hub *Hub, conn *websocket.Conn, logger *logger.Logger) *Client {
	return &Client{
		conn:   conn,
		hub:    hub,
		send:   make(chan Message, sendBufferSize),
		logger: logger,
	}
}

// Run обслуживает соединение до разрыва: запускает цикл записи и блокируется
// в цикле чтения. Вызывается в отдельной goroutine на каждое соединение.
func (c *Client) Run() {
	go c.writeLoop()
	c.readLoop()
}

// readLoop следит за живостью соединения. Полезные данные от клиента не
// читаются: получение data frame завершает соединение с policy violation.
func (c *Client) readLoop() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxInboundBytes)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error("WebSocket set read deadline error", err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket read error", err)
			}
			return
		}

		// Сюда попадают только text/binary frames, поток read-only
		c.logger.Warn("Inbound frame on read-only state stream, dropping client",
			"message_type", msgType,
		)
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "state stream is read-only"),
			time.Now().Add(writeWait),
		)
		return
	}
}

// writeLoop сериализует все записи в соединение: снимки состояния из канала
// send и периодические ping. Закрытие канала hub'ом завершает цикл.
func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error("WebSocket set write deadline error", err)
				return
			}
			if !ok {
				// Hub отключил клиента
				_ = c.conn.WriteMessage(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				)
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				c.logger.Error("WebSocket write error", err)
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error("WebSocket set write deadline error", err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
