package internal_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koopa0/system-design/14-match-coordinator/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsTestServer 啟動完整的 WebSocket 服務端
func wsTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := internal.DefaultConfig()
	registry := internal.NewRegistry(cfg.Room, testLogger(), nil)
	hub := internal.NewWebSocketHub(registry, cfg.WebSocket, testLogger())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/rooms/{room_id}", hub.ServeWS)

	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		hub.Stop()
		registry.Stop()
	})
	return srv
}

func dialRoom(t *testing.T, srv *httptest.Server, roomID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/rooms/" + roomID
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func sendEvent(t *testing.T, ws *websocket.Conn, event internal.ClientEvent) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(event))
}

// readUpdate 讀下一則訊息並斷言是 server_update
func readUpdate(t *testing.T, ws *websocket.Conn) internal.ServerUpdate {
	t.Helper()
	var update internal.ServerUpdate
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, ws.ReadJSON(&update))
	require.Equal(t, internal.EventServerUpdate, update.Type)
	return update
}

// readError 讀下一則訊息並斷言是 error
func readError(t *testing.T, ws *websocket.Conn) internal.ErrorEvent {
	t.Helper()
	var errEvent internal.ErrorEvent
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, ws.ReadJSON(&errEvent))
	require.Equal(t, internal.EventError, errEvent.Type)
	return errEvent
}

// TestWebSocket_JoinBroadcast 測試加入後收到第一版快照
func TestWebSocket_JoinBroadcast(t *testing.T) {
	srv := wsTestServer(t)
	ws := dialRoom(t, srv, "room_001")

	sendEvent(t, ws, internal.ClientEvent{
		Type:        internal.EventJoinRoom,
		PlayerID:    "player_a",
		DisplayName: "小明",
	})

	update := readUpdate(t, ws)
	assert.Equal(t, uint64(1), update.Version)
	assert.Equal(t, "room_001", update.State.RoomID)
	require.Len(t, update.State.Clients, 1)
	assert.Equal(t, "player_a", update.State.Clients[0].ID)
}

// TestWebSocket_PingPong 測試應用層心跳
func TestWebSocket_PingPong(t *testing.T) {
	srv := wsTestServer(t)
	ws := dialRoom(t, srv, "room_001")

	sendEvent(t, ws, internal.ClientEvent{Type: internal.EventPing})

	var pong internal.PongEvent
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, ws.ReadJSON(&pong))
	assert.Equal(t, internal.EventPong, pong.Type)
}

// TestWebSocket_ErrorFrames 測試錯誤只回給請求者
func TestWebSocket_ErrorFrames(t *testing.T) {
	srv := wsTestServer(t)
	ws := dialRoom(t, srv, "room_001")

	t.Run("malformed json", func(t *testing.T) {
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{not json")))
		errEvent := readError(t, ws)
		assert.Equal(t, internal.ErrCodeMalformedRequest, errEvent.Code)
	})

	t.Run("unknown event type", func(t *testing.T) {
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"teleport"}`)))
		errEvent := readError(t, ws)
		assert.Equal(t, internal.ErrCodeMalformedRequest, errEvent.Code)
	})

	t.Run("throw before match", func(t *testing.T) {
		sendEvent(t, ws, internal.ClientEvent{
			Type:        internal.EventJoinRoom,
			PlayerID:    "player_a",
			DisplayName: "小明",
		})
		readUpdate(t, ws)

		sendEvent(t, ws, internal.ClientEvent{
			Type:       internal.EventThrowVisit,
			DartValues: []int{60},
		})
		errEvent := readError(t, ws)
		assert.Equal(t, internal.ErrCodeNoMatch, errEvent.Code)
		assert.NotEmpty(t, errEvent.Message)
	})
}

// TestWebSocket_FullFlow 測試兩位玩家從加入到結算的完整流程
func TestWebSocket_FullFlow(t *testing.T) {
	srv := wsTestServer(t)
	wsA := dialRoom(t, srv, "room_flow")
	wsB := dialRoom(t, srv, "room_flow")

	sendEvent(t, wsA, internal.ClientEvent{
		Type: internal.EventJoinRoom, PlayerID: "player_a", DisplayName: "小明",
	})
	readUpdate(t, wsA)

	sendEvent(t, wsB, internal.ClientEvent{
		Type: internal.EventJoinRoom, PlayerID: "player_b", DisplayName: "小華",
	})
	readUpdate(t, wsA)
	readUpdate(t, wsB)

	sendEvent(t, wsA, internal.ClientEvent{
		Type:             internal.EventStartMatch,
		StartingScore:    101,
		OrderedPlayerIDs: []string{"player_a", "player_b"},
	})
	update := readUpdate(t, wsA)
	readUpdate(t, wsB)
	require.NotNil(t, update.State.Match)
	assert.Equal(t, "player_a", update.State.Match.Turn)

	// a: 101 → 41
	sendEvent(t, wsA, internal.ClientEvent{
		Type: internal.EventThrowVisit, DartValues: []int{60},
	})
	readUpdate(t, wsA)
	readUpdate(t, wsB)

	// b: 101 → 61
	sendEvent(t, wsB, internal.ClientEvent{
		Type: internal.EventThrowVisit, DartValues: []int{40},
	})
	readUpdate(t, wsA)
	readUpdate(t, wsB)

	// a: 41 → 0,結算
	sendEvent(t, wsA, internal.ClientEvent{
		Type: internal.EventThrowVisit, DartValues: []int{41},
	})
	final := readUpdate(t, wsA)
	readUpdate(t, wsB)

	require.NotNil(t, final.State.Match.FinishResult)
	assert.Equal(t, "player_a", final.State.Match.FinishResult.WinnerID)
	assert.Equal(t, []string{"player_a", "player_b"}, final.State.Match.FinishResult.RankedOrder)
}

// TestWebSocket_RebindClosesOldSocket 測試重連踢掉舊連線
func TestWebSocket_RebindClosesOldSocket(t *testing.T) {
	srv := wsTestServer(t)
	wsOld := dialRoom(t, srv, "room_001")

	sendEvent(t, wsOld, internal.ClientEvent{
		Type: internal.EventJoinRoom, PlayerID: "player_a", DisplayName: "小明",
	})
	readUpdate(t, wsOld)

	wsNew := dialRoom(t, srv, "room_001")
	sendEvent(t, wsNew, internal.ClientEvent{
		Type: internal.EventJoinRoom, PlayerID: "player_a", DisplayName: "小明",
	})
	update := readUpdate(t, wsNew)
	assert.Equal(t, uint64(2), update.Version)

	// 舊連線被服務端關閉,之後的讀取以錯誤收場
	require.NoError(t, wsOld.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := wsOld.ReadMessage(); err != nil {
			return
		}
	}
}

// TestWebSocket_MissingRoomID 測試路徑缺少房間 ID
func TestWebSocket_MissingRoomID(t *testing.T) {
	cfg := internal.DefaultConfig()
	registry := internal.NewRegistry(cfg.Room, testLogger(), nil)
	defer registry.Stop()
	hub := internal.NewWebSocketHub(registry, cfg.WebSocket, testLogger())
	defer hub.Stop()

	req := httptest.NewRequest(http.MethodGet, "/ws/rooms/x", nil)
	rec := httptest.NewRecorder()
	// 不經由 mux,PathValue 為空
	hub.ServeWS(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
