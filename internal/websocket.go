package internal

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// 系統設計問題：
//   如何把房間事件即時推送給兩位玩家，並在連線中斷時交還位置？
//
// 設計方案：
//   ✅ WebSocket - 全雙工通信（低延遲、服務器推送）
//   ✅ Hub 模式 - 集中管理所有連接，連接 ID 由伺服器產生
//   ✅ Ping/Pong 心跳 - 檢測死連接（54s/60s）
//   ✅ 緩衝 channel - 非阻塞發送，Manager 持有房間鎖時也能安全呼叫

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
	sendBufferSize = 256
)

// WebSocketHub WebSocket 連接中心
//
// 連接與房間的對應由 Manager 負責，Hub 只認得連接 ID。
type WebSocketHub struct {
	manager     *Manager
	logger      *slog.Logger
	upgrader    websocket.Upgrader
	connections map[string]*Connection // connID -> Connection
	mu          sync.RWMutex
}

// Connection WebSocket 連接
type Connection struct {
	ID        string
	Conn      *websocket.Conn
	Send      chan []byte
	Hub       *WebSocketHub
	LastPing  time.Time
	mu        sync.Mutex
	closeOnce sync.Once // 確保 channel 只關閉一次
}

// NewWebSocketHub 創建 WebSocket Hub，並註冊為 Manager 的事件送出端
func NewWebSocketHub(manager *Manager, logger *slog.Logger) *WebSocketHub {
	hub := &WebSocketHub{
		manager: manager,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 在生產環境應該檢查來源
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		connections: make(map[string]*Connection),
	}

	manager.SetSender(hub)
	return hub
}

// ServeWS 處理 WebSocket 連接
//
// 連線後由客戶端送 join-room 加入房間。
func (hub *WebSocketHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	connection := &Connection{
		ID:       uuid.NewString(),
		Conn:     conn,
		Send:     make(chan []byte, sendBufferSize),
		Hub:      hub,
		LastPing: time.Now(),
	}

	hub.register(connection)

	go connection.writePump()
	go connection.readPump()

	hub.logger.Info("WebSocket 連接建立", "conn_id", connection.ID)
}

// Send 實作 Sender：序列化後放進連接的發送緩衝
func (hub *WebSocketHub) Send(connID string, msg Message) {
	data, err := Encode(msg)
	if err != nil {
		hub.logger.Error("序列化事件失敗", "event", msg.EventName(), "error", err)
		return
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()

	conn, exists := hub.connections[connID]
	if !exists {
		return
	}

	select {
	case conn.Send <- data:
	default:
		// 慢客戶端不拖累整個房間，靠 room-state 重新同步
		hub.logger.Warn("連接緩衝區滿，丟棄事件",
			"conn_id", connID,
			"event", msg.EventName())
	}
}

// register 註冊連接
func (hub *WebSocketHub) register(conn *Connection) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	hub.connections[conn.ID] = conn
}

// unregister 取消註冊連接，並通知 Manager 交還位置
func (hub *WebSocketHub) unregister(conn *Connection) {
	hub.mu.Lock()
	removed := false
	if actual, exists := hub.connections[conn.ID]; exists && actual == conn {
		delete(hub.connections, conn.ID)
		conn.closeOnce.Do(func() {
			close(conn.Send)
		})
		removed = true
	}
	hub.mu.Unlock()

	if removed {
		hub.manager.Disconnect(conn.ID)
		hub.logger.Info("WebSocket 連接關閉", "conn_id", conn.ID)
	}
}

// Stop 關閉所有連接
func (hub *WebSocketHub) Stop() {
	hub.mu.Lock()
	for _, conn := range hub.connections {
		// 先關閉 Send channel，再關閉連接
		conn.closeOnce.Do(func() {
			close(conn.Send)
		})
		conn.Conn.Close()
	}
	hub.connections = make(map[string]*Connection)
	hub.mu.Unlock()

	hub.logger.Info("WebSocket Hub 已停止")
}

// ConnectionCount 獲取連接數
func (hub *WebSocketHub) ConnectionCount() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.connections)
}

// readPump 讀取客戶端消息
//
// 60 秒內沒有收到任何消息（包括 Pong）就關閉連接，
// 配合 writePump 每 54 秒送一次 Ping。
func (c *Connection) readPump() {
	defer func() {
		c.Hub.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	if err := c.Conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.Hub.logger.Error("設置讀取期限失敗", "error", err)
	}

	c.Conn.SetPongHandler(func(string) error {
		if err := c.Conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.Hub.logger.Error("設置讀取期限失敗", "error", err)
		}
		c.mu.Lock()
		c.LastPing = time.Now()
		c.mu.Unlock()
		return nil
	})

	for {
		messageType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Error("WebSocket 讀取錯誤",
					"error", err,
					"conn_id", c.ID)
			}
			break
		}

		if messageType == websocket.TextMessage {
			c.handleMessage(message)
		}
	}
}

// writePump 寫入消息到客戶端
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.Hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if !ok {
				// Hub 關閉了通道，嘗試送出關閉訊息，忽略錯誤（連接可能已關閉）
				_ = c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 批量發送隊列中的消息，保持順序
			n := len(c.Send)
			for i := 0; i < n; i++ {
				next, ok := <-c.Send
				if !ok {
					return
				}
				if err := c.Conn.WriteMessage(websocket.TextMessage, next); err != nil {
					c.Hub.logger.Error("發送消息失敗", "error", err)
					return
				}
			}

		case <-ticker.C:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.Hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 解析客戶端消息並交給 Manager
func (c *Connection) handleMessage(message []byte) {
	msg, err := DecodeClientMessage(message)
	if err != nil {
		c.Hub.logger.Debug("無效的客戶端消息", "error", err, "conn_id", c.ID)
		c.Hub.Send(c.ID, ErrorEvent(err))
		return
	}

	if err := c.Hub.manager.Handle(c.ID, msg); err != nil {
		if IsClientError(err) {
			c.Hub.logger.Debug("客戶端錯誤",
				"event", msg.clientEvent(),
				"error", err,
				"conn_id", c.ID)
		} else {
			c.Hub.logger.Error("處理客戶端消息失敗",
				"event", msg.clientEvent(),
				"error", err,
				"conn_id", c.ID)
		}
		c.Hub.Send(c.ID, ErrorEvent(err))
	}
}
