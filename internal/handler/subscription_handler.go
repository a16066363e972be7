package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/shedalert/internal/engine"
	"github.com/hitoshi/shedalert/internal/model"
)

// maxBodyBytes は購読リクエストボディの上限。
const maxBodyBytes = 64 << 10

// SubscriptionService は購読ハンドラーが必要とするインターフェース。
type SubscriptionService interface {
	ListSubscriptions(ctx context.Context) ([]model.Subscription, error)
	Subscribe(ctx context.Context, sub model.Subscription) (*engine.SubscribeResult, error)
	SubscribeByIndex(ctx context.Context, user model.User, index int) (*engine.SubscribeResult, error)
	Unsubscribe(ctx context.Context, userID, areaID string) (bool, error)
	UnsubscribeByIndex(ctx context.Context, index int) (*model.Subscription, error)
}

// SubscriptionHandler は購読管理のHTTPハンドラー。
type SubscriptionHandler struct {
	service SubscriptionService
	logger  *slog.Logger
}

// NewSubscriptionHandler はSubscriptionHandlerを生成する。
func NewSubscriptionHandler(service SubscriptionService, logger *slog.Logger) *SubscriptionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionHandler{service: service, logger: logger}
}

type userPayload struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Mention string `json:"mention"`
}

type areaPayload struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Region string `json:"region"`
}

// subscribeRequest は購読追加リクエストのボディ。
// AreaかIndex（直前の検索結果の番号）のどちらか一方を指定する。
type subscribeRequest struct {
	User  userPayload  `json:"user"`
	Area  *areaPayload `json:"area,omitempty"`
	Index *int         `json:"index,omitempty"`
}

// subscriptionResponse は購読情報のAPIレスポンス。Indexは番号指定の削除に使う。
type subscriptionResponse struct {
	Index     int         `json:"index"`
	Key       string      `json:"key"`
	User      userPayload `json:"user"`
	Area      areaPayload `json:"area"`
	CreatedAt time.Time   `json:"created_at"`
}

type subscriptionListResponse struct {
	Subscriptions []subscriptionResponse `json:"subscriptions"`
}

type subscribeResponse struct {
	Subscription      subscriptionResponse `json:"subscription"`
	ScheduleAvailable bool                 `json:"schedule_available"`
}

type unsubscribeResponse struct {
	Removed      bool                  `json:"removed"`
	Subscription *subscriptionResponse `json:"subscription,omitempty"`
}

func toSubscriptionResponse(index int, s model.Subscription) subscriptionResponse {
	return subscriptionResponse{
		Index:     index,
		Key:       s.Key(),
		User:      userPayload{ID: s.User.ID, Name: s.User.Name, Mention: s.User.Mention},
		Area:      areaPayload{ID: s.Area.ID, Name: s.Area.Name, Region: s.Area.Region},
		CreatedAt: s.CreatedAt,
	}
}

// ListSubscriptions は購読一覧を番号付きで返す。
// GET /api/subscriptions
func (h *SubscriptionHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.service.ListSubscriptions(r.Context())
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	resp := subscriptionListResponse{Subscriptions: make([]subscriptionResponse, 0, len(subs))}
	for i, s := range subs {
		resp.Subscriptions = append(resp.Subscriptions, toSubscriptionResponse(i+1, s))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Subscribe は購読を追加する。
// POST /api/subscriptions
func (h *SubscriptionHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeInvalidRequest(w, "request body is not valid JSON")
		return
	}

	user := model.User{
		ID:      strings.TrimSpace(req.User.ID),
		Name:    strings.TrimSpace(req.User.Name),
		Mention: strings.TrimSpace(req.User.Mention),
	}
	if user.ID == "" {
		writeInvalidRequest(w, "user id is empty")
		return
	}

	var (
		result *engine.SubscribeResult
		err    error
	)
	switch {
	case req.Area != nil && req.Index != nil:
		writeInvalidRequest(w, "specify either area or index, not both")
		return
	case req.Index != nil:
		result, err = h.service.SubscribeByIndex(r.Context(), user, *req.Index)
	case req.Area != nil:
		area := model.AreaSummary{
			ID:     strings.TrimSpace(req.Area.ID),
			Name:   strings.TrimSpace(req.Area.Name),
			Region: strings.TrimSpace(req.Area.Region),
		}
		if area.ID == "" {
			writeInvalidRequest(w, "area id is empty")
			return
		}
		result, err = h.service.Subscribe(r.Context(), model.Subscription{User: user, Area: area})
	default:
		writeInvalidRequest(w, "area or index is required")
		return
	}
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, subscribeResponse{
		Subscription:      toSubscriptionResponse(0, result.Subscription),
		ScheduleAvailable: result.ScheduleAvailable,
	})
}

// Unsubscribe はユーザーIDとエリアIDで購読を削除する。存在しない場合もエラーにしない。
// DELETE /api/subscriptions/{userID}/{areaID}
func (h *SubscriptionHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	areaID := chi.URLParam(r, "areaID")
	if userID == "" || areaID == "" {
		writeInvalidRequest(w, "user id and area id are required")
		return
	}

	removed, err := h.service.Unsubscribe(r.Context(), userID, areaID)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, unsubscribeResponse{Removed: removed})
}

// UnsubscribeByIndex は購読一覧の番号で購読を削除する。
// DELETE /api/subscriptions/index/{index}
func (h *SubscriptionHandler) UnsubscribeByIndex(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeInvalidRequest(w, "index must be a number")
		return
	}

	sub, err := h.service.UnsubscribeByIndex(r.Context(), index)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	resp := toSubscriptionResponse(index, *sub)
	writeJSON(w, http.StatusOK, unsubscribeResponse{Removed: true, Subscription: &resp})
}
