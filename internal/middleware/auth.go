package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/hitoshi/shedalert/internal/model"
)

// contextKey はコンテキストキーの型。外部パッケージとの衝突を防ぐ。
type contextKey string

const (
	// callerIDContextKey は呼び出し元IDをコンテキストに格納するためのキー。
	callerIDContextKey contextKey = "caller_id"
	// callerHolderContextKey はログミドルウェアが用意する呼び出し元IDの受け皿のキー。
	callerHolderContextKey contextKey = "caller_holder"

	// CallerIDHeader はチャットフロントエンドが呼び出し元を識別するためのヘッダー。
	CallerIDHeader = "X-Caller-ID"
	// DefaultCallerID はヘッダーがない場合の呼び出し元ID。
	DefaultCallerID = "frontend"

	maxCallerIDLength = 128
)

// ErrNoCallerID はコンテキストに呼び出し元IDが存在しない場合のエラー。
var ErrNoCallerID = errors.New("caller ID not found in context")

// NewBearerAuthMiddleware はAuthorizationヘッダーのBearerトークンを検証するミドルウェアを返す。
// トークンは定数時間で比較し、一致しない場合は401を返す。
// 認証済みリクエストのコンテキストには呼び出し元IDを設定する。
func NewBearerAuthMiddleware(token string) func(next http.Handler) http.Handler {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented, ok := bearerToken(r)
			if !ok || len(expected) == 0 || subtle.ConstantTimeCompare([]byte(presented), expected) != 1 {
				WriteErrorResponse(w, http.StatusUnauthorized, &model.APIError{
					Code:     "AUTH_REQUIRED",
					Message:  "Authentication is required.",
					Category: "auth",
					Action:   "Send a valid bearer token.",
				})
				return
			}

			callerID := strings.TrimSpace(r.Header.Get(CallerIDHeader))
			if callerID == "" || len(callerID) > maxCallerIDLength {
				callerID = DefaultCallerID
			}

			if holder, ok := r.Context().Value(callerHolderContextKey).(*string); ok {
				*holder = callerID
			}

			ctx := ContextWithCallerID(r.Context(), callerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken はAuthorizationヘッダーからトークン部分を取り出す。
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}

// CallerIDFromContext はコンテキストから呼び出し元IDを取得する。
func CallerIDFromContext(ctx context.Context) (string, error) {
	callerID, ok := ctx.Value(callerIDContextKey).(string)
	if !ok || callerID == "" {
		return "", ErrNoCallerID
	}
	return callerID, nil
}

// ContextWithCallerID は呼び出し元IDを設定したコンテキストを返す。
// テストやミドルウェアの外から呼び出し元を設定する場合に使用する。
func ContextWithCallerID(ctx context.Context, callerID string) context.Context {
	return context.WithValue(ctx, callerIDContextKey, callerID)
}
