package internal

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// 系統設計問題：
//   如何把多條持久連線上的變更請求，可靠地路由到各自房間的權威者？
//
// 核心挑戰：
//   1. 路由：連線建立時就確定房間（路徑上的 room_id），之後的每一幀
//      都隱含屬於該房間
//   2. 心跳：偵測死連線（網絡異常、瀏覽器崩潰），避免資源洩漏
//   3. 背壓：慢客戶端不能拖慢房間廣播
//   4. 清理：連線關閉必須觸發房間的解綁清理，但絕不動玩家名單
//
// 設計方案：
//   ✅ WebSocket - 全雙工、服務器可主動推送
//   ✅ 每連線讀寫兩條 goroutine - 讀入站幀、寫出站幀互不阻塞
//   ✅ 協議層 Ping/Pong（54s/60s）+ 應用層 ping/pong 幀
//   ✅ 緩衝 Send channel + 非阻塞送出 - 慢連線只丟自己的訊息

// WebSocketHub WebSocket 傳輸適配器
//
// 職責邊界：反序列化入站幀、依連線的路由鍵分發給房間、
// 把出站幀寫回指定連線。所有狀態語義都在房間那一側。
type WebSocketHub struct {
	registry *Registry
	logger   *slog.Logger
	upgrader websocket.Upgrader
	cfg      WebSocketConfig

	mu    sync.Mutex
	conns map[*Connection]struct{}
}

// Connection 一條客戶端連線
//
// 實現 Sender 介面：房間透過它單播與廣播，但不擁有它的生命週期。
type Connection struct {
	id   string // 連線識別碼（日誌關聯用）
	room *Room
	ws   *websocket.Conn
	send chan []byte
	hub  *WebSocketHub

	// sendMu 保護 closed 與 send channel 的關閉：
	// 踢掉舊連線的 Close 可能與該連線自己的 Send 併發
	sendMu sync.Mutex
	closed bool
}

// NewWebSocketHub 創建傳輸適配器
func NewWebSocketHub(registry *Registry, cfg WebSocketConfig, logger *slog.Logger) *WebSocketHub {
	return &WebSocketHub{
		registry: registry,
		logger:   logger,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 在生產環境應該檢查來源
				return true
			},
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
		},
		conns: make(map[*Connection]struct{}),
	}
}

// ServeWS 處理 WebSocket 連接
//
// 路由鍵在這裡確定：路徑上的 room_id 解析（必要時延遲創建）出房間，
// 此後這條連線的所有入站幀都交給該房間處理。
func (hub *WebSocketHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room_id")
	if roomID == "" {
		http.Error(w, "缺少房間 ID", http.StatusBadRequest)
		return
	}

	ws, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	conn := &Connection{
		id:   uuid.New().String(),
		room: hub.registry.GetOrCreate(roomID),
		ws:   ws,
		send: make(chan []byte, hub.cfg.SendBufferSize),
		hub:  hub,
	}

	hub.mu.Lock()
	hub.conns[conn] = struct{}{}
	hub.mu.Unlock()

	go conn.writePump()
	go conn.readPump()

	hub.logger.Info("WebSocket 連接建立",
		"room_id", roomID,
		"conn", conn.id)
}

// unregister 連線結束時的清理
//
// 順序很重要：先讓房間解綁（期間可能還有廣播送達，channel 必須還開著），
// 再關閉 send channel 與底層連線。
func (hub *WebSocketHub) unregister(conn *Connection) {
	conn.room.HandleDisconnect(conn)

	hub.mu.Lock()
	delete(hub.conns, conn)
	hub.mu.Unlock()

	conn.Close()
	conn.ws.Close()
}

// Stop 關閉所有連線
func (hub *WebSocketHub) Stop() {
	hub.mu.Lock()
	conns := make([]*Connection, 0, len(hub.conns))
	for conn := range hub.conns {
		conns = append(conns, conn)
	}
	hub.conns = make(map[*Connection]struct{})
	hub.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
		conn.ws.Close()
	}

	hub.logger.Info("WebSocket Hub 已停止")
}

// ID 連線識別碼
func (c *Connection) ID() string {
	return c.id
}

// Send 非阻塞送出（實現 Sender）
func (c *Connection) Send(message []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// Close 關閉連線（實現 Sender；房間踢掉舊連線時呼叫）
//
// 只關閉 send channel：writePump 看到 channel 關閉後會送出
// Close 幀並關閉底層連線，readPump 隨之結束並走完整的清理路徑。
func (c *Connection) Close() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// readPump 讀取客戶端幀
//
// 心跳（讀取端）：60 秒內沒有任何訊息（包括 Pong）就視為死連線。
// 配合 writePump 的 54 秒 Ping，正常連線每 54 秒重置一次超時。
func (c *Connection) readPump() {
	defer c.hub.unregister(c)

	if err := c.ws.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait)); err != nil {
		c.hub.logger.Error("設置讀取期限失敗", "error", err, "conn", c.id)
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait))
	})

	for {
		messageType, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("WebSocket 讀取錯誤",
					"error", err,
					"room_id", c.room.ID(),
					"conn", c.id)
			}
			return
		}

		if messageType == websocket.TextMessage {
			c.handleFrame(message)
		}
	}
}

// writePump 寫出站幀
//
// 54 秒 Ping：避開常見代理的 60 秒閒置超時，留 6 秒餘量。
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait)); err != nil {
				c.hub.logger.Error("設置寫入期限失敗", "error", err, "conn", c.id)
			}
			if !ok {
				// channel 已關閉：優雅送出關閉幀
				deadline := time.Now().Add(time.Second)
				if err := c.ws.SetWriteDeadline(deadline); err == nil {
					_ = c.ws.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				}
				return
			}

			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 批量送出隊列中累積的訊息
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.ws.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait)); err != nil {
				c.hub.logger.Error("設置寫入期限失敗", "error", err, "conn", c.id)
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleFrame 分發一幀入站事件
//
// 錯誤回報約定：任何拒絕（解析失敗、驗證失敗、房間拒絕）都只單播
// 給這條連線；其他連線完全無感。
func (c *Connection) handleFrame(message []byte) {
	var event ClientEvent
	if err := json.Unmarshal(message, &event); err != nil {
		c.Send(encodeError(NewAppError(ErrCodeMalformedRequest, "無法解析請求")))
		return
	}

	var appErr *AppError
	switch event.Type {
	case EventJoinRoom:
		appErr = c.room.Join(c, event.PlayerID, event.DisplayName)
	case EventStartMatch:
		appErr = c.room.StartMatch(event.StartingScore, event.OrderedPlayerIDs)
	case EventThrowVisit:
		appErr = c.room.ThrowVisit(c, event.DartValues)
	case EventUndoLast:
		appErr = c.room.UndoLast()
	case EventLeaveRoom:
		appErr = c.room.Leave(c)
	case EventPing:
		// 活性檢查：不碰房間狀態、不廣播
		c.Send(encodePong())
		return
	default:
		appErr = NewAppError(ErrCodeMalformedRequest, "未知的事件類型: "+event.Type)
	}

	if appErr != nil {
		c.hub.logger.Debug("請求被拒絕",
			"room_id", c.room.ID(),
			"conn", c.id,
			"code", appErr.Code)
		c.Send(encodeError(appErr))
	}
}
