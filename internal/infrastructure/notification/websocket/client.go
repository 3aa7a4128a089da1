package websocket

import (
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dreschagin/visual-regression/internal/application/dto"
	"github.com/dreschagin/visual-regression/pkg/logger"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// watch-команда со списком test id
	maxMessageSize = 16 << 10
	maxWatchedIDs  = 256
	sendBuffer     = 256
)

// WatchCommand входящее сообщение подписчика:
// {"action":"watch","test_ids":["..."]} сужает поток до этих тестов,
// {"action":"watch"} без test_ids снимает фильтр.
type WatchCommand struct {
	Action  string   `json:"action"`
	TestIDs []string `json:"test_ids"`
}

// Client подписчик на события visual tests
type Client struct {
	conn *websocket.Conn
	hub  *Hub
	send chan Message

	// пусто = все проекты; задается при подключении и не меняется
	projects map[string]struct{}
	// nil = все тесты; меняется из ReadPump, читается из Hub.Run
	watched atomic.Pointer[map[string]struct{}]

	logger *logger.Logger
}

// NewClient projects ограничивает рассылку событиями указанных проектов
func NewClient(hub *Hub, conn *websocket.Conn, projects []string, logger *logger.Logger) *Client {
	return &Client{
		conn:     conn,
		hub:      hub,
		send:     make(chan Message, sendBuffer),
		projects: toSet(projects),
		logger:   logger,
	}
}

func toSet(values []string) map[string]struct{} {
	var set map[string]struct{}
	for _, v := range values {
		if v = strings.TrimSpace(v); v == "" {
			continue
		}
		if set == nil {
			set = make(map[string]struct{}, len(values))
		}
		set[v] = struct{}{}
	}
	return set
}

func (c *Client) accepts(event *dto.VisualTestEvent) bool {
	if c.projects != nil {
		if _, ok := c.projects[event.ProjectID]; !ok {
			return false
		}
	}
	if watched := c.watched.Load(); watched != nil {
		_, ok := (*watched)[event.TestID]
		return ok
	}
	return true
}

// Watch заменяет фильтр по test id; пустой список снимает фильтр
func (c *Client) Watch(testIDs []string) {
	set := toSet(testIDs)
	if set == nil {
		c.watched.Store(nil)
		return
	}
	c.watched.Store(&set)
}

func (c *Client) handleCommand(raw []byte) {
	var cmd WatchCommand
	if err := json.Unmarshal(raw, &cmd); err != nil || cmd.Action != "watch" {
		c.logger.Debug("WebSocket command ignored", "size", len(raw))
		return
	}
	if len(cmd.TestIDs) > maxWatchedIDs {
		cmd.TestIDs = cmd.TestIDs[:maxWatchedIDs]
	}
	c.Watch(cmd.TestIDs)
	c.logger.Debug("WebSocket watch updated", "tests", len(cmd.TestIDs))
}

// ReadPump принимает watch-команды и pong; выход отписывает клиента
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("WebSocket read failed", "error", err.Error())
			}
			return
		}
		if kind == websocket.TextMessage {
			c.handleCommand(raw)
		}
	}
}

// WritePump пишет события и ping до закрытия send хабом
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"))
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				c.logger.Warn("WebSocket write failed", "error", err.Error())
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
