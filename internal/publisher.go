package internal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// 比賽結果事件發布
//
// 歷史紀錄與統計是外部子系統的職責，核心只在比賽結算時把摘要事件
// 推出去。Subject 命名 matches.{room_id}.finished：同一個房間的事件
// 落在同一個 subject 前綴下，下游可以依房間訂閱。
//
// 發布是 best-effort：NATS 不可用時記錄日誌後繼續，絕不影響房間操作。
// 房間狀態永遠不會從 NATS 讀回來：這不是持久化，只是對外通知。

// MatchSummary 比賽結算摘要（對外事件負載）
type MatchSummary struct {
	RoomID      string         `json:"room_id"`
	WinnerID    string         `json:"winner_id"`
	RankedOrder []string       `json:"ranked_order"`
	LegNumber   int            `json:"leg_number"`
	Remaining   map[string]int `json:"remaining"`
	VisitCounts map[string]int `json:"visit_counts"`
	FinishedAt  time.Time      `json:"finished_at"`
}

// newMatchSummary 由結算後的比賽構建摘要
func newMatchSummary(roomID string, m *Match) MatchSummary {
	remaining := make(map[string]int, len(m.Remaining))
	for id, score := range m.Remaining {
		remaining[id] = score
	}
	visitCounts := make(map[string]int, len(m.Visits))
	for _, p := range m.Players {
		visitCounts[p.ID] = len(m.Visits[p.ID])
	}

	return MatchSummary{
		RoomID:      roomID,
		WinnerID:    m.FinishResult.WinnerID,
		RankedOrder: append([]string(nil), m.FinishResult.RankedOrder...),
		LegNumber:   m.LegNumber,
		Remaining:   remaining,
		VisitCounts: visitCounts,
		FinishedAt:  time.Now(),
	}
}

// MatchFinishedSubject 事件的 NATS subject
func MatchFinishedSubject(roomID string) string {
	return fmt.Sprintf("matches.%s.finished", roomID)
}

// MatchPublisher 結果事件發布介面
type MatchPublisher interface {
	PublishMatchFinished(summary MatchSummary)
}

// NoopPublisher 未配置 NATS 時的空實現
type NoopPublisher struct{}

// PublishMatchFinished 不做任何事
func (NoopPublisher) PublishMatchFinished(MatchSummary) {}

// NATSPublisher 透過 NATS 發布結果事件
type NATSPublisher struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewNATSPublisher 連接 NATS 並創建發布者
func NewNATSPublisher(url string, logger *slog.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("連接 NATS 失敗: %w", err)
	}

	return &NATSPublisher{
		conn:   conn,
		logger: logger,
	}, nil
}

// PublishMatchFinished 發布比賽結算事件（best-effort）
func (p *NATSPublisher) PublishMatchFinished(summary MatchSummary) {
	data, err := json.Marshal(summary)
	if err != nil {
		p.logger.Error("序列化結算事件失敗", "error", err, "room_id", summary.RoomID)
		return
	}

	subject := MatchFinishedSubject(summary.RoomID)
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn("發布結算事件失敗",
			"error", err,
			"subject", subject,
			"room_id", summary.RoomID)
		return
	}

	p.logger.Debug("結算事件已發布",
		"subject", subject,
		"winner", summary.WinnerID)
}

// Close 關閉 NATS 連線
func (p *NATSPublisher) Close() {
	p.conn.Close()
}
