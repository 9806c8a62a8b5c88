package internal

import "encoding/json"

// 線路協議定義
//
// 入站事件（客戶端 → 房間）與出站事件（房間 → 客戶端）都是單層 JSON，
// 以 type 欄位分流。入站事件經由連線建立時的路由鍵（room_id）隱含指定
// 房間，payload 本身不需重複攜帶。

// 入站事件類型
const (
	EventJoinRoom   = "join_room"
	EventStartMatch = "start_match"
	EventThrowVisit = "throw_visit"
	EventUndoLast   = "undo_last"
	EventLeaveRoom  = "leave_room"
	EventPing       = "ping"
)

// 出站事件類型
const (
	EventServerUpdate = "server_update"
	EventError        = "error"
	EventPong         = "pong"
)

// 每次出手最多鏢數
const MaxDartsPerVisit = 3

// ClientEvent 入站事件（所有類型共用一個外框，依 Type 取用欄位）
type ClientEvent struct {
	Type             string   `json:"type"`
	PlayerID         string   `json:"player_id,omitempty"`
	DisplayName      string   `json:"display_name,omitempty"`
	StartingScore    int      `json:"starting_score,omitempty"`
	OrderedPlayerIDs []string `json:"ordered_player_ids,omitempty"`
	DartValues       []int    `json:"dart_values,omitempty"`
}

// ClientInfo 房間名單中的一位客戶端（依加入先後排序）
type ClientInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// RoomSnapshot 房間完整快照（每次接受變更後全量廣播）
//
// 為什麼全量而非差量？
//   - 客戶端斷線重連後收到下一次廣播即可完全對齊，不需補差量
//   - 快照體積小（名單 + 一場比賽），差量協議的複雜度不划算
type RoomSnapshot struct {
	RoomID  string       `json:"room_id"`
	Clients []ClientInfo `json:"clients"`
	Match   *Match       `json:"match,omitempty"`
}

// ServerUpdate 權威狀態廣播
//
// Version 單調遞增，客戶端以此偵測並丟棄過期或重複的廣播。
type ServerUpdate struct {
	Type    string       `json:"type"`
	Version uint64       `json:"version"`
	State   RoomSnapshot `json:"state"`
}

// ErrorEvent 請求被拒絕（只單播給請求者）
type ErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongEvent ping 的回覆
type PongEvent struct {
	Type string `json:"type"`
}

// encodeServerUpdate 序列化狀態廣播
func encodeServerUpdate(version uint64, state RoomSnapshot) []byte {
	data, _ := json.Marshal(ServerUpdate{
		Type:    EventServerUpdate,
		Version: version,
		State:   state,
	})
	return data
}

// encodeError 序列化錯誤事件
func encodeError(appErr *AppError) []byte {
	data, _ := json.Marshal(ErrorEvent{
		Type:    EventError,
		Code:    appErr.Code,
		Message: appErr.Message,
	})
	return data
}

// encodePong 序列化 pong 回覆
func encodePong() []byte {
	data, _ := json.Marshal(PongEvent{Type: EventPong})
	return data
}
