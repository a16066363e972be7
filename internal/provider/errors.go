package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind は外部サービス呼び出し失敗の分類。
type ErrorKind int

const (
	// KindUnknown は分類できない失敗（未知のステータスコード、不正なレスポンス）。
	KindUnknown ErrorKind = iota
	// KindAuthentication はトークンが無効または失効している（401/403）。
	KindAuthentication
	// KindQuotaExceeded はレート制限またはクォータ超過（429）。
	KindQuotaExceeded
	// KindNotFound は対象が存在しない（404）。
	KindNotFound
	// KindTransientNetwork は接続失敗やタイムアウト（408/502/503/504、トランスポートエラー）。
	KindTransientNetwork
)

// String はログ出力用の分類名を返す。
func (k ErrorKind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindNotFound:
		return "not_found"
	case KindTransientNetwork:
		return "transient_network"
	default:
		return "unknown"
	}
}

// 分類ごとのセンチネルエラー。errors.Isで判定する。
var (
	ErrAuthentication   = errors.New("provider: authentication failed")
	ErrQuotaExceeded    = errors.New("provider: quota exceeded")
	ErrNotFound         = errors.New("provider: not found")
	ErrTransientNetwork = errors.New("provider: transient network failure")
	ErrUnknownService   = errors.New("provider: unknown service failure")
)

// statusMessages はステータスコードごとの説明文。
var statusMessages = map[int]string{
	http.StatusBadRequest:          "Bad Request (You sent something bad)",
	http.StatusUnauthorized:        "Not Authenticated (Token Invalid / Disabled)",
	http.StatusForbidden:           "Not Authenticated (Token Invalid / Disabled)",
	http.StatusNotFound:            "Not Found",
	http.StatusRequestTimeout:      "Request Timeout (try again, gently)",
	http.StatusTooManyRequests:     "Too Many Requests (Token quota exceeded)",
	http.StatusInternalServerError: "Server side issue",
}

// ServiceError は外部サービス呼び出しの失敗を表す。
// トランスポートエラーやHTTPエラーはすべてこの型に変換して呼び出し元に返す。
type ServiceError struct {
	Kind       ErrorKind
	Endpoint   string
	StatusCode int // トランスポートエラーの場合は0
	Message    string
	Err        error
}

// Error はerrorインターフェースを実装する。
func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Endpoint, e.Kind, e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Endpoint, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Endpoint, e.Kind, e.Message)
}

// Unwrap は元のエラーを返す。
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Is は分類に対応するセンチネルエラーとの比較を行う。
func (e *ServiceError) Is(target error) bool {
	return target == e.sentinel()
}

func (e *ServiceError) sentinel() error {
	switch e.Kind {
	case KindAuthentication:
		return ErrAuthentication
	case KindQuotaExceeded:
		return ErrQuotaExceeded
	case KindNotFound:
		return ErrNotFound
	case KindTransientNetwork:
		return ErrTransientNetwork
	default:
		return ErrUnknownService
	}
}

// ClassifyHTTPStatus はHTTPステータスコードを失敗分類に変換する。
// 2xxは成功として扱い、okにtrueを返す。
func ClassifyHTTPStatus(statusCode int) (kind ErrorKind, ok bool) {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return KindUnknown, true
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return KindAuthentication, false
	case statusCode == http.StatusNotFound:
		return KindNotFound, false
	case statusCode == http.StatusTooManyRequests:
		return KindQuotaExceeded, false
	case statusCode == http.StatusRequestTimeout,
		statusCode == http.StatusBadGateway,
		statusCode == http.StatusServiceUnavailable,
		statusCode == http.StatusGatewayTimeout:
		return KindTransientNetwork, false
	default:
		return KindUnknown, false
	}
}

// statusMessage はステータスコードの説明文を返す。
func statusMessage(statusCode int) string {
	if msg, ok := statusMessages[statusCode]; ok {
		return msg
	}
	if statusCode >= 500 && statusCode < 600 {
		return statusMessages[http.StatusInternalServerError]
	}
	return "Unknown error"
}

// KindOf はエラーの分類を返す。ServiceError以外はKindUnknown。
func KindOf(err error) ErrorKind {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}
