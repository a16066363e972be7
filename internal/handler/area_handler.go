package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/shedalert/internal/model"
)

// AreaService はエリア関連ハンドラーが必要とするインターフェース。
type AreaService interface {
	Search(ctx context.Context, query string) ([]model.AreaSummary, error)
	LastSearchResults(ctx context.Context) ([]model.AreaSummary, error)
	LookupArea(ctx context.Context, areaID string) (*model.AreaDetail, error)
	Quota(ctx context.Context) (*model.Allowance, error)
	LastStage(ctx context.Context) (int, bool, error)
}

// AreaHandler はエリア検索・照会とステータス表示のHTTPハンドラー。
type AreaHandler struct {
	service AreaService
	logger  *slog.Logger
}

// NewAreaHandler はAreaHandlerを生成する。
func NewAreaHandler(service AreaService, logger *slog.Logger) *AreaHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AreaHandler{service: service, logger: logger}
}

// areaResponse はエリアのAPIレスポンス。Indexは検索結果の番号（1始まり）。
type areaResponse struct {
	Index  int    `json:"index,omitempty"`
	ID     string `json:"id"`
	Name   string `json:"name"`
	Region string `json:"region"`
}

// searchResponse は検索結果のAPIレスポンス。
type searchResponse struct {
	Areas []areaResponse `json:"areas"`
}

// eventResponse はエリアの直近イベント。
type eventResponse struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Note  string    `json:"note"`
}

// areaDetailResponse はエリア照会のAPIレスポンス。
type areaDetailResponse struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Region    string         `json:"region"`
	NextEvent *eventResponse `json:"next_event"`
}

type quotaResponse struct {
	Count int    `json:"count"`
	Limit int    `json:"limit"`
	Type  string `json:"type"`
}

type stageResponse struct {
	Stage int  `json:"stage"`
	Known bool `json:"known"`
}

func toSearchResponse(areas []model.AreaSummary) searchResponse {
	resp := searchResponse{Areas: make([]areaResponse, 0, len(areas))}
	for i, a := range areas {
		resp.Areas = append(resp.Areas, areaResponse{Index: i + 1, ID: a.ID, Name: a.Name, Region: a.Region})
	}
	return resp
}

// Search はエリアを検索し、番号付きの結果を返す。
// GET /api/areas/search?text=
func (h *AreaHandler) Search(w http.ResponseWriter, r *http.Request) {
	text := strings.TrimSpace(r.URL.Query().Get("text"))
	if text == "" {
		writeInvalidRequest(w, "search text is empty")
		return
	}

	areas, err := h.service.Search(r.Context(), text)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toSearchResponse(areas))
}

// LastSearch は直前の検索結果を再表示する。
// GET /api/areas/search/last
func (h *AreaHandler) LastSearch(w http.ResponseWriter, r *http.Request) {
	areas, err := h.service.LastSearchResults(r.Context())
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toSearchResponse(areas))
}

// GetArea はエリアの名前と直近のイベントを返す。
// GET /api/areas/{id}
func (h *AreaHandler) GetArea(w http.ResponseWriter, r *http.Request) {
	areaID := chi.URLParam(r, "id")
	if areaID == "" {
		writeInvalidRequest(w, "area id is empty")
		return
	}

	detail, err := h.service.LookupArea(r.Context(), areaID)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	resp := areaDetailResponse{
		ID:     areaID,
		Name:   detail.Info.Name,
		Region: detail.Info.Region,
	}
	if ev := detail.NextEvent(); ev != nil {
		resp.NextEvent = &eventResponse{Start: ev.Start, End: ev.End, Note: ev.Note}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Quota は外部APIのクォータ使用状況を返す。
// GET /api/quota
func (h *AreaHandler) Quota(w http.ResponseWriter, r *http.Request) {
	a, err := h.service.Quota(r.Context())
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, quotaResponse{Count: a.Count, Limit: a.Limit, Type: a.Type})
}

// Stage は直近に取得したステージを返す。
// GET /api/stage
func (h *AreaHandler) Stage(w http.ResponseWriter, r *http.Request) {
	stage, known, err := h.service.LastStage(r.Context())
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, stageResponse{Stage: stage, Known: known})
}
