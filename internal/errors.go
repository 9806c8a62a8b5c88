package internal

import "fmt"

// 錯誤碼定義
//
// 設計原則：每一種拒絕原因都有自己的錯誤碼，不使用 catch-all。
// 客戶端依據錯誤碼決定 UI 行為（例如 not_your_turn 只需提示，
// malformed_request 則代表客戶端程式有 bug）。
const (
	// ErrCodeNoMatch 操作需要進行中的比賽，但房間尚未開賽
	ErrCodeNoMatch = "no_match"
	// ErrCodeNotYourTurn 出手的連線綁定的玩家不是當前輪到的玩家
	ErrCodeNotYourTurn = "not_your_turn"
	// ErrCodeUnknownPlayer start_match 引用了不在房間名單中的玩家
	ErrCodeUnknownPlayer = "unknown_player"
	// ErrCodeNoPlayerBound 連線尚未 join 就發送了需要身份的請求
	ErrCodeNoPlayerBound = "no_player_bound"
	// ErrCodeMalformedRequest 負載解析失敗或欄位驗證失敗
	ErrCodeMalformedRequest = "malformed_request"
)

// AppError 應用程式錯誤
//
// 錯誤傳播策略：
//   - 所有錯誤只回傳給觸發請求的那一條連線（單播）
//   - 錯誤永遠不會廣播、不會推進版本號、不會中止房間
//   - 沒有致命錯誤：最壞情況就是單一請求被拒絕
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Is 實現 errors.Is（以錯誤碼比對）
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewAppError 創建應用程式錯誤
func NewAppError(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}
