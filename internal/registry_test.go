package internal_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/koopa0/system-design/14-match-coordinator/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, cfg internal.RoomConfig) *internal.Registry {
	t.Helper()
	registry := internal.NewRegistry(cfg, testLogger(), nil)
	t.Cleanup(registry.Stop)
	return registry
}

// TestRegistry_GetOrCreate 測試惰性建立
func TestRegistry_GetOrCreate(t *testing.T) {
	registry := newTestRegistry(t, internal.RoomConfig{})

	room1 := registry.GetOrCreate("room_001")
	require.NotNil(t, room1)
	assert.Equal(t, 1, registry.RoomCount())

	// 同一 ID 回傳同一實例
	room2 := registry.GetOrCreate("room_001")
	assert.Same(t, room1, room2)
	assert.Equal(t, 1, registry.RoomCount())

	registry.GetOrCreate("room_002")
	assert.Equal(t, 2, registry.RoomCount())
}

// TestRegistry_Get 測試查詢不建立
func TestRegistry_Get(t *testing.T) {
	registry := newTestRegistry(t, internal.RoomConfig{})

	_, ok := registry.Get("room_001")
	assert.False(t, ok)
	assert.Equal(t, 0, registry.RoomCount())

	created := registry.GetOrCreate("room_001")
	got, ok := registry.Get("room_001")
	require.True(t, ok)
	assert.Same(t, created, got)
}

// TestRegistry_Cleanup 測試閒置回收
func TestRegistry_Cleanup(t *testing.T) {
	// 清掃間隔設得很長，由測試手動觸發
	registry := newTestRegistry(t, internal.RoomConfig{
		IdleTimeout:     10 * time.Millisecond,
		CleanupInterval: time.Hour,
	})

	registry.GetOrCreate("room_idle")
	busy := registry.GetOrCreate("room_busy")

	time.Sleep(20 * time.Millisecond)

	// busy 這時有活動
	conn := newFakeConn("conn_1")
	require.Nil(t, busy.Join(conn, "player_a", "小明"))

	registry.Cleanup()

	_, ok := registry.Get("room_idle")
	assert.False(t, ok, "閒置房間被回收")
	_, ok = registry.Get("room_busy")
	assert.True(t, ok, "活躍房間保留")
}

// TestRegistry_Stats 測試統計快照
func TestRegistry_Stats(t *testing.T) {
	registry := newTestRegistry(t, internal.RoomConfig{})

	roomA := registry.GetOrCreate("room_a")
	registry.GetOrCreate("room_b")

	connA := newFakeConn("conn_a")
	connB := newFakeConn("conn_b")
	require.Nil(t, roomA.Join(connA, "player_a", "小明"))
	require.Nil(t, roomA.Join(connB, "player_b", "小華"))
	require.Nil(t, roomA.StartMatch(501, []string{"player_a", "player_b"}))

	stats := registry.Stats()
	assert.Equal(t, 2, stats["total_rooms"])
	assert.Equal(t, 2, stats["bound_connections"])
	assert.Equal(t, 1, stats["active_matches"])
}

// TestRegistry_Stop 測試關閉：清空房間並關閉所有連線
func TestRegistry_Stop(t *testing.T) {
	registry := internal.NewRegistry(internal.RoomConfig{}, testLogger(), nil)

	room := registry.GetOrCreate("room_001")
	conn := newFakeConn("conn_1")
	require.Nil(t, room.Join(conn, "player_a", "小明"))

	registry.Stop()

	assert.True(t, conn.isClosed())
	assert.Equal(t, 0, registry.RoomCount())
}

// TestRegistry_ConcurrentGetOrCreate 測試併發建立同一房間
func TestRegistry_ConcurrentGetOrCreate(t *testing.T) {
	registry := newTestRegistry(t, internal.RoomConfig{})

	const workers = 50
	results := make(chan *internal.Room, workers)
	for i := 0; i < workers; i++ {
		go func(n int) {
			results <- registry.GetOrCreate(fmt.Sprintf("room_%03d", n%5))
		}(i)
	}

	seen := make(map[*internal.Room]struct{})
	for i := 0; i < workers; i++ {
		seen[<-results] = struct{}{}
	}
	assert.Len(t, seen, 5)
	assert.Equal(t, 5, registry.RoomCount())
}
