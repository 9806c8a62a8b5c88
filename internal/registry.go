package internal

import (
	"log/slog"
	"sync"
	"time"
)

// Registry 房間註冊表
//
// 全域共享的可變資源，設計要點：
//   - 延遲創建：首次引用某個房間 ID 時才建立權威者
//   - 表本身用 RWMutex 保護；一旦路由解析到某個房間，
//     房間內部的順序性由該房間自己的鎖保證，不需再經過這裡
//   - 閒置逐出：背景掃描，無綁定連線且超過時限的房間直接移除
//     （狀態只存在於進程記憶體，逐出即消失，無持久化保證）
type Registry struct {
	rooms     map[string]*Room
	mu        sync.RWMutex
	logger    *slog.Logger
	publisher MatchPublisher

	idleTimeout     time.Duration
	cleanupInterval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRegistry 創建房間註冊表並啟動清理迴圈
func NewRegistry(cfg RoomConfig, logger *slog.Logger, publisher MatchPublisher) *Registry {
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}

	g := &Registry{
		rooms:           make(map[string]*Room),
		logger:          logger,
		publisher:       publisher,
		idleTimeout:     cfg.IdleTimeout,
		cleanupInterval: cfg.CleanupInterval,
		stopCh:          make(chan struct{}),
	}

	g.wg.Add(1)
	go g.cleanupLoop()

	return g
}

// GetOrCreate 取得房間，不存在則延遲創建
func (g *Registry) GetOrCreate(roomID string) *Room {
	g.mu.RLock()
	room, exists := g.rooms[roomID]
	g.mu.RUnlock()
	if exists {
		return room
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// double-check：兩個連線同時首次引用同一個房間 ID
	if room, exists := g.rooms[roomID]; exists {
		return room
	}

	room = NewRoom(roomID, g.logger, g.publisher)
	g.rooms[roomID] = room
	g.logger.Info("房間已創建", "room_id", roomID)
	return room
}

// Get 取得既有房間
func (g *Registry) Get(roomID string) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	room, exists := g.rooms[roomID]
	return room, exists
}

// RoomCount 當前房間數
func (g *Registry) RoomCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}

// Stats 統計資訊
func (g *Registry) Stats() map[string]any {
	g.mu.RLock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, room := range g.rooms {
		rooms = append(rooms, room)
	}
	g.mu.RUnlock()

	totalConns := 0
	activeMatches := 0
	for _, room := range rooms {
		totalConns += room.BoundConnections()
		if room.HasMatch() {
			activeMatches++
		}
	}

	return map[string]any{
		"total_rooms":       len(rooms),
		"bound_connections": totalConns,
		"active_matches":    activeMatches,
	}
}

// cleanupLoop 定期清理閒置房間
func (g *Registry) cleanupLoop() {
	defer g.wg.Done()

	ticker := time.NewTicker(g.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.cleanup()
		case <-g.stopCh:
			return
		}
	}
}

// Cleanup 執行清理（公開方法供測試使用）
func (g *Registry) Cleanup() {
	g.cleanup()
}

// cleanup 移除閒置房間
func (g *Registry) cleanup() {
	g.mu.RLock()
	var toRemove []string
	for roomID, room := range g.rooms {
		if room.IsIdle(g.idleTimeout) {
			toRemove = append(toRemove, roomID)
		}
	}
	g.mu.RUnlock()

	for _, roomID := range toRemove {
		g.mu.Lock()
		room, exists := g.rooms[roomID]
		// 逐出前再確認一次：掃描後可能有新連線綁了進來
		if exists && room.IsIdle(g.idleTimeout) {
			delete(g.rooms, roomID)
			g.logger.Info("閒置房間已逐出", "room_id", roomID)
		}
		g.mu.Unlock()
	}
}

// Stop 停止註冊表：結束清理迴圈並關閉所有房間的連線
func (g *Registry) Stop() {
	close(g.stopCh)
	g.wg.Wait()

	g.mu.Lock()
	for _, room := range g.rooms {
		room.CloseAll()
	}
	g.rooms = make(map[string]*Room)
	g.mu.Unlock()

	g.logger.Info("房間註冊表已停止")
}
