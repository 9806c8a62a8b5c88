// Package coordinator 提供了一個即時多人計分比賽的會話協調服務。
//
// 實現了一個以房間為單位的權威計分服務器，包含以下核心功能：
//
// 比賽引擎
//
// X01 計分規則的純狀態轉移函數：
//   - 出手套用（正常 / bust / 結算三種判定）
//   - 撤銷（undo by replay，從頭重算所有衍生狀態）
//   - 名次計算（歸零優先、剩餘分遞增、出手數決勝）
//
// 房間權威者
//
// 每個房間 ID 一個權威實例：
//   - 所有變更逐一處理，同一房間絕不交錯
//   - 單調遞增的版本號，客戶端據此丟棄過期快照
//   - 連線綁定註冊表，重綁即踢舊連線（斷線重連免額外協議）
//   - 閒置房間自動逐出
//
// # WebSocket 通訊
//
// 即時雙向通訊機制：
//   - 心跳檢測（Ping/Pong，54s/60s）
//   - 每次接受變更後全量快照廣播
//   - 錯誤只單播給請求者，其他連線無感
//   - 慢連線非阻塞丟棄，不拖慢房間
//
// 事件發布
//
// 比賽結算時向 NATS 發布摘要事件（matches.{room_id}.finished），
// 供外部統計子系統消費；未配置時自動停用。
//
// 架構設計
//
// 系統採用分層架構設計：
//   - MatchEngine 層：純規則邏輯，無 I/O、無並發
//   - Room 層：順序性與授權的唯一權威
//   - Registry 層：房間表的延遲創建與逐出
//   - WebSocket 層：線路協議與連線生命週期
//
// 配置選項
//
// 透過 config.yaml 配置（見 internal.Config）：
//   - server：端口與超時
//   - websocket：緩衝與心跳
//   - room：閒置逐出策略
//   - nats：結果事件發布（可選）
//   - log：日誌級別與格式
package coordinator
