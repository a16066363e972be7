package handler

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/shedalert/internal/engine"
	"github.com/hitoshi/shedalert/internal/model"
)

const testToken = "test-frontend-token"

// mockService はServiceのモック実装。
type mockService struct {
	searchFn             func(ctx context.Context, query string) ([]model.AreaSummary, error)
	lastSearchFn         func(ctx context.Context) ([]model.AreaSummary, error)
	lookupAreaFn         func(ctx context.Context, areaID string) (*model.AreaDetail, error)
	quotaFn              func(ctx context.Context) (*model.Allowance, error)
	lastStageFn          func(ctx context.Context) (int, bool, error)
	listSubscriptionsFn  func(ctx context.Context) ([]model.Subscription, error)
	subscribeFn          func(ctx context.Context, sub model.Subscription) (*engine.SubscribeResult, error)
	subscribeByIndexFn   func(ctx context.Context, user model.User, index int) (*engine.SubscribeResult, error)
	unsubscribeFn        func(ctx context.Context, userID, areaID string) (bool, error)
	unsubscribeByIndexFn func(ctx context.Context, index int) (*model.Subscription, error)
}

func (m *mockService) Search(ctx context.Context, query string) ([]model.AreaSummary, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, query)
	}
	return nil, nil
}

func (m *mockService) LastSearchResults(ctx context.Context) ([]model.AreaSummary, error) {
	if m.lastSearchFn != nil {
		return m.lastSearchFn(ctx)
	}
	return nil, model.NewNoSearchResultsError()
}

func (m *mockService) LookupArea(ctx context.Context, areaID string) (*model.AreaDetail, error) {
	if m.lookupAreaFn != nil {
		return m.lookupAreaFn(ctx, areaID)
	}
	return &model.AreaDetail{}, nil
}

func (m *mockService) Quota(ctx context.Context) (*model.Allowance, error) {
	if m.quotaFn != nil {
		return m.quotaFn(ctx)
	}
	return &model.Allowance{}, nil
}

func (m *mockService) LastStage(ctx context.Context) (int, bool, error) {
	if m.lastStageFn != nil {
		return m.lastStageFn(ctx)
	}
	return 0, false, nil
}

func (m *mockService) ListSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	if m.listSubscriptionsFn != nil {
		return m.listSubscriptionsFn(ctx)
	}
	return nil, nil
}

func (m *mockService) Subscribe(ctx context.Context, sub model.Subscription) (*engine.SubscribeResult, error) {
	if m.subscribeFn != nil {
		return m.subscribeFn(ctx, sub)
	}
	return &engine.SubscribeResult{Subscription: sub}, nil
}

func (m *mockService) SubscribeByIndex(ctx context.Context, user model.User, index int) (*engine.SubscribeResult, error) {
	if m.subscribeByIndexFn != nil {
		return m.subscribeByIndexFn(ctx, user, index)
	}
	return nil, model.NewNoSearchResultsError()
}

func (m *mockService) Unsubscribe(ctx context.Context, userID, areaID string) (bool, error) {
	if m.unsubscribeFn != nil {
		return m.unsubscribeFn(ctx, userID, areaID)
	}
	return false, nil
}

func (m *mockService) UnsubscribeByIndex(ctx context.Context, index int) (*model.Subscription, error) {
	if m.unsubscribeByIndexFn != nil {
		return m.unsubscribeByIndexFn(ctx, index)
	}
	return nil, model.NewSubscriptionNotFoundError("")
}

// newTestRouter はモックサービスを使うルーターを生成する。
func newTestRouter(svc *mockService) http.Handler {
	return NewRouter(&RouterDeps{
		Service:       svc,
		FrontendToken: testToken,
		Logger:        slog.New(slog.NewJSONHandler(io.Discard, nil)),
	})
}

// doRequest は認証ヘッダー付きでリクエストを送り、レスポンスを返す。
func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}
