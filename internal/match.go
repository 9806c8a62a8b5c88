package internal

import (
	"fmt"
	"sort"
)

// 系統設計問題：
//   如何讓多人即時計分的規則邏輯可測試、可重放、且與並發控制完全解耦？
//
// 核心挑戰：
//   1. 確定性：同一串出手序列必須永遠推導出同一個比賽狀態
//   2. Undo：撤銷最近一次出手需要重算所有衍生狀態（bust、結算、輪次）
//   3. 邊界規則：bust（爆分）與 finish（結算）的判定必須精確
//
// 設計方案：
//   ✅ 純狀態轉移 - 引擎不做 I/O、不碰鎖，由 RoomActor 獨佔呼叫
//   ✅ Undo by replay - 從頭重放剩餘出手，一次消除所有衍生狀態
//   ✅ 嚴格輪轉 - 回合永遠依固定順序輪替，這是 undo 重建的前提

// MatchPlayer 比賽中的玩家（順序固定，代表出手順序）
type MatchPlayer struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Visit 一位玩家單一回合內依序投出的鏢值
type Visit []int

// FinishResult 比賽結算結果
type FinishResult struct {
	WinnerID    string   `json:"winner_id"`
	RankedOrder []string `json:"ranked_order"`
}

// Match X01 計分比賽
//
// 不變量：
//   - Remaining[p] >= 0 恆成立（轉移完成之後）
//   - Turn 永遠是 Players 中的成員；結算後凍結在最後出手者
//   - 每接受一次出手，只有當前輪到的玩家的 Visits 長度 +1
//   - FinishResult 被設置 ⇔ 某玩家的 Remaining 被合法出手打到 0；
//     設置之後所有出手變更都是 no-op，直到 undo 清除
type Match struct {
	StartingScore int                `json:"starting_score"`
	Players       []MatchPlayer      `json:"players"`
	Turn          string             `json:"turn"`
	Remaining     map[string]int     `json:"remaining"`
	Visits        map[string][]Visit `json:"visits"`
	LegNumber     int                `json:"leg_number"`
	FinishResult  *FinishResult      `json:"finish_result,omitempty"`
}

// NewMatch 創建新比賽
//
// 約束：起始分必須為正、玩家至少一位、玩家 ID 不可重複。
func NewMatch(startingScore int, players []MatchPlayer, legNumber int) (*Match, error) {
	if startingScore <= 0 {
		return nil, fmt.Errorf("起始分必須為正數: %d", startingScore)
	}
	if len(players) == 0 {
		return nil, fmt.Errorf("至少需要一位玩家")
	}

	seen := make(map[string]bool, len(players))
	for _, p := range players {
		if p.ID == "" {
			return nil, fmt.Errorf("玩家 ID 不能為空")
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("玩家 ID 重複: %s", p.ID)
		}
		seen[p.ID] = true
	}

	m := &Match{
		StartingScore: startingScore,
		Players:       players,
		Turn:          players[0].ID,
		Remaining:     make(map[string]int, len(players)),
		Visits:        make(map[string][]Visit, len(players)),
		LegNumber:     legNumber,
	}
	for _, p := range players {
		m.Remaining[p.ID] = startingScore
	}
	return m, nil
}

// ApplyVisit 套用一次出手
//
// 規則判定（visitSum = 鏢值總和，next = 剩餘分 - visitSum）：
//
//	next < 0 或 next == 1 → bust：記錄出手、剩餘分不變、輪次照常輪替
//	next == 0             → finish：記錄出手、剩餘分歸零、計算結算、輪次凍結
//	其他                  → 正常：記錄出手、扣分、輪次輪替
//
// 為什麼 next == 1 也是 bust？
//   - 這個玩法的收尾規則要求最後一鏢收在特定目標，剩 1 分無法合法收尾
//   - 因此剩 1 分與超扣一視同仁：分數不動、換人
//
// 保護性檢查：比賽已結算、或出手者不是當前輪到的玩家 → no-op。
// 授權主要在 RoomActor 層把關，這裡是最後一道防線。
func (m *Match) ApplyVisit(playerID string, darts []int) {
	if m.FinishResult != nil {
		return
	}
	if playerID != m.Turn {
		return
	}

	visitSum := 0
	for _, d := range darts {
		visitSum += d
	}

	// 複製鏢值，避免呼叫端之後修改切片影響已記錄的出手
	visit := append(Visit(nil), darts...)

	next := m.Remaining[playerID] - visitSum
	switch {
	case next < 0 || next == 1:
		// bust：出手仍要記錄（undo 重放需要完整序列），分數不動
		m.Visits[playerID] = append(m.Visits[playerID], visit)
		m.advanceTurn()
	case next == 0:
		m.Visits[playerID] = append(m.Visits[playerID], visit)
		m.Remaining[playerID] = 0
		m.FinishResult = &FinishResult{
			WinnerID:    playerID,
			RankedOrder: m.rankedOrder(),
		}
		// 輪次凍結在結算者
	default:
		m.Visits[playerID] = append(m.Visits[playerID], visit)
		m.Remaining[playerID] = next
		m.advanceTurn()
	}
}

// Undo 撤銷整場比賽中最近一次被接受的出手
//
// 演算法：
//  1. 清除結算結果（若有）
//  2. 依回合輪替順序交錯各玩家的出手列表，重建完整時間序
//  3. 丟棄時間序的最後一筆
//  4. 重置所有衍生狀態（剩餘分、出手記錄、輪次）
//  5. 依序重放剩下的出手
//
// 步驟 2 的重建之所以正確，是因為輪次永遠嚴格輪替、絕不跳過任何玩家
// （ApplyVisit 的 bust 與正常分支都照常輪替）。任何改動輪替規則的人
// 必須同步改掉這裡的重建方式。
//
// 複雜度 O(總出手數)：一場比賽的出手數以鏢數為上限，重放成本可忽略。
func (m *Match) Undo() {
	m.FinishResult = nil

	type logEntry struct {
		playerID string
		visit    Visit
	}
	var chrono []logEntry
	for i := 0; ; i++ {
		found := false
		for _, p := range m.Players {
			if visits := m.Visits[p.ID]; i < len(visits) {
				chrono = append(chrono, logEntry{playerID: p.ID, visit: visits[i]})
				found = true
			}
		}
		if !found {
			break
		}
	}

	if len(chrono) == 0 {
		return
	}
	chrono = chrono[:len(chrono)-1]

	// 重置後從頭重放，一次重算 bust、結算、輪次
	m.Remaining = make(map[string]int, len(m.Players))
	m.Visits = make(map[string][]Visit, len(m.Players))
	for _, p := range m.Players {
		m.Remaining[p.ID] = m.StartingScore
	}
	m.Turn = m.Players[0].ID

	for _, entry := range chrono {
		m.ApplyVisit(entry.playerID, entry.visit)
	}
}

// clone 深拷貝比賽狀態
//
// 快照廣播與 HTTP 查詢拿到的是拷貝，權威者之後的變更不會穿透出去。
func (m *Match) clone() *Match {
	if m == nil {
		return nil
	}

	c := &Match{
		StartingScore: m.StartingScore,
		Players:       append([]MatchPlayer(nil), m.Players...),
		Turn:          m.Turn,
		Remaining:     make(map[string]int, len(m.Remaining)),
		Visits:        make(map[string][]Visit, len(m.Visits)),
		LegNumber:     m.LegNumber,
	}
	for id, score := range m.Remaining {
		c.Remaining[id] = score
	}
	for id, visits := range m.Visits {
		copied := make([]Visit, len(visits))
		for i, v := range visits {
			copied[i] = append(Visit(nil), v...)
		}
		c.Visits[id] = copied
	}
	if m.FinishResult != nil {
		c.FinishResult = &FinishResult{
			WinnerID:    m.FinishResult.WinnerID,
			RankedOrder: append([]string(nil), m.FinishResult.RankedOrder...),
		}
	}
	return c
}

// advanceTurn 輪替到下一位玩家（嚴格輪轉，不跳過任何人）
func (m *Match) advanceTurn() {
	idx := m.playerIndex(m.Turn)
	m.Turn = m.Players[(idx+1)%len(m.Players)].ID
}

// playerIndex 取得玩家在固定順序中的位置
func (m *Match) playerIndex(playerID string) int {
	for i, p := range m.Players {
		if p.ID == playerID {
			return i
		}
	}
	// Turn 不變量保證找得到；防禦性回傳 0
	return 0
}

// rankedOrder 計算完整名次
//
// 排序規則：
//	(a) 已歸零者優先
//	(b) 其次依剩餘分遞增
//	(c) 平手時依出手次數遞增（出手少者名次較前）
func (m *Match) rankedOrder() []string {
	order := make([]string, len(m.Players))
	for i, p := range m.Players {
		order[i] = p.ID
	}

	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		aFinished := m.Remaining[a] == 0
		bFinished := m.Remaining[b] == 0
		if aFinished != bFinished {
			return aFinished
		}
		if m.Remaining[a] != m.Remaining[b] {
			return m.Remaining[a] < m.Remaining[b]
		}
		return len(m.Visits[a]) < len(m.Visits[b])
	})

	return order
}
