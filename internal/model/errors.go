package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// チャットフロントエンドに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, subscription, service, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeServiceError         = "SERVICE_ERROR"
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
	ErrCodeNoSearchResults      = "NO_SEARCH_RESULTS"
	ErrCodeInvalidSearchIndex   = "INVALID_SEARCH_INDEX"
	ErrCodeSubscriptionNotFound = "SUBSCRIPTION_NOT_FOUND"
	ErrCodeAreaNotFound         = "AREA_NOT_FOUND"
	ErrCodeEngineStopped        = "ENGINE_STOPPED"
)

// NewServiceError は外部サービス呼び出し失敗時の汎用エラーを生成する。
// 失敗の詳細はログのみに記録し、ユーザーには再試行を促す。
func NewServiceError() *APIError {
	return &APIError{
		Code:     ErrCodeServiceError,
		Message:  "An error occurred while contacting the load-shedding service.",
		Category: "service",
		Action:   "Please retry, or contact an administrator if the issue persists.",
	}
}

// NewInvalidRequestError はリクエスト内容が不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("Input is invalid or empty: %s", reason),
		Category: "validation",
		Action:   "Please check the command syntax and retry.",
	}
}

// NewNoSearchResultsError は直前の検索結果が存在しない場合のエラーを生成する。
func NewNoSearchResultsError() *APIError {
	return &APIError{
		Code:     ErrCodeNoSearchResults,
		Message:  "No search results available.",
		Category: "subscription",
		Action:   "Search for an area first, then subscribe by its number.",
	}
}

// NewInvalidSearchIndexError は検索結果の番号が範囲外の場合のエラーを生成する。
func NewInvalidSearchIndexError(index, size int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSearchIndex,
		Message:  fmt.Sprintf("Area number %d is not in the last search results (1-%d).", index, size),
		Category: "validation",
		Action:   "Pick a number from the last search results.",
	}
}

// NewSubscriptionNotFoundError は購読が見つからない場合のエラーを生成する。
func NewSubscriptionNotFoundError(key string) *APIError {
	return &APIError{
		Code:     ErrCodeSubscriptionNotFound,
		Message:  fmt.Sprintf("Subscription not found: %s", key),
		Category: "subscription",
		Action:   "List subscriptions to check the subscription number.",
	}
}

// NewAreaNotFoundError はエリアIDに該当するエリアが存在しない場合のエラーを生成する。
func NewAreaNotFoundError(areaID string) *APIError {
	return &APIError{
		Code:     ErrCodeAreaNotFound,
		Message:  fmt.Sprintf("Area not found: %s", areaID),
		Category: "validation",
		Action:   "Search for the area and use the ID from the results.",
	}
}

// NewEngineStoppedError はエンジン停止後に要求が届いた場合のエラーを生成する。
func NewEngineStoppedError() *APIError {
	return &APIError{
		Code:     ErrCodeEngineStopped,
		Message:  "The alert engine is not running.",
		Category: "system",
		Action:   "Please retry shortly.",
	}
}
