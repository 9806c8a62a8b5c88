package internal

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// 系統設計問題：
//   如何讓多個連線對同一場比賽的變更請求，在不犧牲正確性的前提下即時同步？
//
// 核心挑戰：
//   1. 順序性：ApplyVisit / Undo 是 read-modify-write，交錯執行會毀壞狀態
//   2. 授權：出手必須由「當前輪到的玩家」綁定的那條連線發出
//   3. 重連：玩家斷線後要能用同一個 ID 接回進行中的比賽
//   4. 廣播：每次接受變更後，所有綁定連線都要收到帶版本號的權威快照
//
// 設計方案：
//   ✅ 每房一個權威者 - 所有讀寫都經過同一個 Room，事件逐一處理完才換下一個
//   ✅ 互斥鎖序列化 - 單一操作全程持鎖（讀、改、廣播），不需更細的鎖
//   ✅ 版本號廣播 - 單調遞增 version，客戶端據此丟棄過期/重複快照
//   ✅ 綁定註冊表 - playerID → 連線的弱關聯，重綁即踢掉舊連線

// Sender 出站連線句柄
//
// 房間只記錄關聯、不擁有連線生命週期：連線關閉時由傳輸層觸發解綁，
// 但解綁絕不代表把玩家從名單或比賽中移除。
type Sender interface {
	// ID 連線識別碼（僅供日誌關聯）
	ID() string
	// Send 非阻塞送出訊息；緩衝滿時回傳 false 並丟棄（best-effort）
	Send(message []byte) bool
	// Close 關閉連線（重綁踢舊連線時使用）
	Close()
}

// Room 房間權威者
//
// 並發模型：
//   - 每個操作（Join / StartMatch / ThrowVisit / UndoLast / Leave）
//     從頭到尾持有 mu，讀狀態、改狀態、廣播一氣呵成，中途不讓出
//   - 不同房間彼此完全獨立，可並行處理
//   - 廣播對每條連線都是非阻塞送出：慢連線只會漏掉自己的訊息，
//     絕不拖慢其他連線或整個房間
type Room struct {
	id      string
	clients []ClientInfo // 依加入先後排序
	match   *Match
	version uint64
	conns   map[string]Sender // playerID -> 連線（一個 ID 同時最多一條）

	mu        sync.Mutex
	logger    *slog.Logger
	publisher MatchPublisher

	createdAt  time.Time
	lastActive time.Time
}

// NewRoom 創建房間（首次引用房間 ID 時由 Registry 延遲創建）
func NewRoom(id string, logger *slog.Logger, publisher MatchPublisher) *Room {
	now := time.Now()
	return &Room{
		id:         id,
		conns:      make(map[string]Sender),
		logger:     logger,
		publisher:  publisher,
		createdAt:  now,
		lastActive: now,
	}
}

// ID 房間識別碼
func (r *Room) ID() string {
	return r.id
}

// Join 註冊/更新客戶端並綁定連線
//
// 重連設計：同一個 playerID 再次 join 時，直接踢掉（關閉）舊連線並
// 改綁新連線。客戶端因此不需要額外的 rejoin 協議就能接回進行中的比賽。
func (r *Room) Join(conn Sender, playerID, displayName string) *AppError {
	if playerID == "" {
		return NewAppError(ErrCodeMalformedRequest, "玩家 ID 不能為空")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, exists := r.conns[playerID]; exists && old != conn {
		old.Close()
		r.logger.Info("舊連線已被踢出",
			"room_id", r.id,
			"player_id", playerID,
			"old_conn", old.ID(),
			"new_conn", conn.ID())
	}
	r.conns[playerID] = conn

	// 名單：新 ID 依加入順序附加，既有 ID 只更新顯示名稱
	found := false
	for i := range r.clients {
		if r.clients[i].ID == playerID {
			r.clients[i].DisplayName = displayName
			found = true
			break
		}
	}
	if !found {
		r.clients = append(r.clients, ClientInfo{ID: playerID, DisplayName: displayName})
	}

	r.bumpAndBroadcast()
	return nil
}

// StartMatch 開始新比賽（替換當前比賽）
//
// ordered_player_ids 決定固定的出手順序；每一個 ID 都必須已在房間名單中。
func (r *Room) StartMatch(startingScore int, orderedPlayerIDs []string) *AppError {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(orderedPlayerIDs) == 0 {
		return NewAppError(ErrCodeMalformedRequest, "玩家順序列表不能為空")
	}

	players := make([]MatchPlayer, 0, len(orderedPlayerIDs))
	for _, id := range orderedPlayerIDs {
		info, ok := r.findClient(id)
		if !ok {
			return NewAppError(ErrCodeUnknownPlayer, fmt.Sprintf("玩家不在房間名單中: %s", id))
		}
		players = append(players, MatchPlayer{ID: info.ID, DisplayName: info.DisplayName})
	}

	legNumber := 1
	if r.match != nil {
		legNumber = r.match.LegNumber + 1
	}

	match, err := NewMatch(startingScore, players, legNumber)
	if err != nil {
		return NewAppError(ErrCodeMalformedRequest, err.Error())
	}

	r.match = match
	r.logger.Info("比賽開始",
		"room_id", r.id,
		"starting_score", startingScore,
		"players", len(players),
		"leg", legNumber)

	r.bumpAndBroadcast()
	return nil
}

// ThrowVisit 套用一次出手
//
// 出手者身份由「哪條連線送來請求」經綁定註冊表解析，授權在這裡把關，
// 引擎內的同名檢查只是最後防線。
func (r *Room) ThrowVisit(conn Sender, dartValues []int) *AppError {
	if appErr := validateDartValues(dartValues); appErr != nil {
		return appErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.match == nil {
		return NewAppError(ErrCodeNoMatch, "房間尚未開始比賽")
	}

	playerID, bound := r.playerFor(conn)
	if !bound {
		return NewAppError(ErrCodeNoPlayerBound, "連線尚未加入房間")
	}
	if playerID != r.match.Turn {
		return NewAppError(ErrCodeNotYourTurn, fmt.Sprintf("還沒輪到你，當前輪到: %s", r.match.Turn))
	}

	wasFinished := r.match.FinishResult != nil
	r.match.ApplyVisit(playerID, dartValues)

	if !wasFinished && r.match.FinishResult != nil {
		r.logger.Info("比賽結算",
			"room_id", r.id,
			"winner", r.match.FinishResult.WinnerID,
			"leg", r.match.LegNumber)
		r.publisher.PublishMatchFinished(newMatchSummary(r.id, r.match))
	}

	r.bumpAndBroadcast()
	return nil
}

// UndoLast 撤銷最近一次出手
func (r *Room) UndoLast() *AppError {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.match == nil {
		return NewAppError(ErrCodeNoMatch, "房間尚未開始比賽")
	}

	r.match.Undo()
	r.bumpAndBroadcast()
	return nil
}

// Leave 解除連線綁定
//
// 只解綁、不把玩家從名單移除：比賽與計分板保持原樣，等玩家重連。
func (r *Room) Leave(conn Sender) *AppError {
	r.mu.Lock()
	defer r.mu.Unlock()

	playerID, bound := r.playerFor(conn)
	if !bound {
		return NewAppError(ErrCodeNoPlayerBound, "連線尚未加入房間")
	}

	delete(r.conns, playerID)
	r.bumpAndBroadcast()
	return nil
}

// HandleDisconnect 連線關閉時的隱式清理（由傳輸層觸發）
//
// 語義等同 Leave，但對未綁定的連線靜默返回：斷線不是一個「請求」，
// 沒有請求者可以回報錯誤。
func (r *Room) HandleDisconnect(conn Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()

	playerID, bound := r.playerFor(conn)
	if !bound {
		return
	}
	// 重綁後舊連線才收到關閉通知時，註冊表裡已是新連線，不可誤刪
	if r.conns[playerID] != conn {
		return
	}

	delete(r.conns, playerID)
	r.logger.Info("連線斷開，已解除綁定",
		"room_id", r.id,
		"player_id", playerID,
		"conn", conn.ID())
	r.bumpAndBroadcast()
}

// Snapshot 取得當前快照與版本號（供 HTTP 查詢介面使用）
func (r *Room) Snapshot() (RoomSnapshot, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(), r.version
}

// Version 當前版本號
func (r *Room) Version() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

// BoundConnections 當前綁定連線數
func (r *Room) BoundConnections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// HasMatch 是否有進行中的比賽
func (r *Room) HasMatch() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.match != nil
}

// IsIdle 房間是否閒置（無綁定連線且超過閒置時限）
func (r *Room) IsIdle(timeout time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns) == 0 && time.Since(r.lastActive) > timeout
}

// CloseAll 關閉所有綁定連線（Registry 停機或逐出房間時使用）
func (r *Room) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for playerID, conn := range r.conns {
		conn.Close()
		delete(r.conns, playerID)
	}
}

// bumpAndBroadcast 推進版本號並全量廣播（呼叫者必須持有 mu）
//
// 版本號只在「已接受的變更」推進：被拒絕的請求走錯誤單播，
// 不經過這裡，其他連線完全無感。
func (r *Room) bumpAndBroadcast() {
	r.version++
	r.lastActive = time.Now()

	message := encodeServerUpdate(r.version, r.snapshotLocked())
	for playerID, conn := range r.conns {
		if !conn.Send(message) {
			// 慢連線：丟棄這一次的訊息，不阻塞其他連線
			r.logger.Warn("廣播被丟棄（連線緩衝滿）",
				"room_id", r.id,
				"player_id", playerID,
				"version", r.version)
		}
	}
}

// snapshotLocked 構建快照（呼叫者必須持有 mu）
func (r *Room) snapshotLocked() RoomSnapshot {
	clients := make([]ClientInfo, len(r.clients))
	copy(clients, r.clients)
	return RoomSnapshot{
		RoomID:  r.id,
		Clients: clients,
		Match:   r.match.clone(),
	}
}

// playerFor 由連線反查綁定的玩家 ID（呼叫者必須持有 mu）
func (r *Room) playerFor(conn Sender) (string, bool) {
	for playerID, c := range r.conns {
		if c == conn {
			return playerID, true
		}
	}
	return "", false
}

// findClient 在名單中尋找客戶端（呼叫者必須持有 mu）
func (r *Room) findClient(playerID string) (ClientInfo, bool) {
	for _, c := range r.clients {
		if c.ID == playerID {
			return c, true
		}
	}
	return ClientInfo{}, false
}

// validateDartValues 驗證鏢值負載
func validateDartValues(dartValues []int) *AppError {
	if len(dartValues) == 0 || len(dartValues) > MaxDartsPerVisit {
		return NewAppError(ErrCodeMalformedRequest,
			fmt.Sprintf("鏢值數量必須在 1-%d 之間", MaxDartsPerVisit))
	}
	for _, v := range dartValues {
		if v < 0 {
			return NewAppError(ErrCodeMalformedRequest, fmt.Sprintf("鏢值不能為負數: %d", v))
		}
	}
	return nil
}
