// Package provider は停電スケジュールAPIと全国ステータスAPIのクライアントを提供する。
// すべての呼び出し結果はステータスコードで分類し、失敗はServiceErrorとして返す。
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/hitoshi/shedalert/internal/metrics"
	"github.com/hitoshi/shedalert/internal/model"
)

const (
	// DefaultBaseURL は停電スケジュールAPIのベースURL。
	DefaultBaseURL = "https://developer.sepush.co.za/business/2.0"
	// DefaultStatusURL は全国ステータスAPIのURL。
	DefaultStatusURL = "https://loadshedding.eskom.co.za/LoadShedding/GetStatus"

	// maxBodySize はレスポンスボディの読み取り上限。
	maxBodySize = 1 << 20

	endpointArea      = "area"
	endpointSearch    = "areas_search"
	endpointAllowance = "api_allowance"
	endpointStatus    = "status"
)

// Config はクライアントの接続設定。
type Config struct {
	BaseURL           string
	StatusURL         string
	Token             string
	TestMode          string // "current" または "future" の場合、エリア照会にテストデータを要求する
	RequestsPerMinute int
}

// Client は停電スケジュールAPIと全国ステータスAPIのクライアント。
// スケジュールAPIの呼び出しはトークンバケットでレート制限する。
type Client struct {
	httpClient *http.Client
	baseURL    string
	statusURL  string
	token      string
	testMode   string
	limiter    *rate.Limiter
	logger     *slog.Logger
	metrics    metrics.Recorder
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, cfg Config, logger *slog.Logger, rec metrics.Recorder) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.StatusURL == "" {
		cfg.StatusURL = DefaultStatusURL
	}
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		statusURL:  cfg.StatusURL,
		token:      cfg.Token,
		testMode:   cfg.TestMode,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger,
		metrics:    rec,
	}
}

// areaResponse はエリア照会APIのレスポンス。
type areaResponse struct {
	Events []struct {
		Start string `json:"start"`
		End   string `json:"end"`
		Note  string `json:"note"`
	} `json:"events"`
	Info struct {
		Name   string `json:"name"`
		Region string `json:"region"`
	} `json:"info"`
	Schedule struct {
		Days []struct {
			Name   string     `json:"name"`
			Stages [][]string `json:"stages"`
		} `json:"days"`
	} `json:"schedule"`
}

// searchResponse はエリア検索APIのレスポンス。
type searchResponse struct {
	Areas []struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Region string `json:"region"`
	} `json:"areas"`
}

// allowanceResponse はクォータ照会APIのレスポンス。
type allowanceResponse struct {
	Allowance struct {
		Count int    `json:"count"`
		Limit int    `json:"limit"`
		Type  string `json:"type"`
	} `json:"allowance"`
}

// FetchArea はエリアの週間スケジュールと直近イベントを取得する。
func (c *Client) FetchArea(ctx context.Context, areaID string) (*model.AreaDetail, error) {
	if strings.TrimSpace(areaID) == "" {
		return nil, &ServiceError{Kind: KindNotFound, Endpoint: endpointArea, Message: "empty area id"}
	}

	q := url.Values{}
	q.Set("id", areaID)
	if c.testMode != "" {
		q.Set("test", c.testMode)
	}

	body, err := c.get(ctx, endpointArea, c.baseURL+"/area?"+q.Encode(), true)
	if err != nil {
		return nil, err
	}

	var resp areaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, decodeError(endpointArea, err)
	}

	detail := &model.AreaDetail{
		Info: model.AreaInfo{Name: resp.Info.Name, Region: resp.Info.Region},
	}
	for _, ev := range resp.Events {
		detail.Events = append(detail.Events, model.AreaEvent{
			Start: parseTime(ev.Start),
			End:   parseTime(ev.End),
			Note:  ev.Note,
		})
	}
	for _, d := range resp.Schedule.Days {
		detail.Schedule.Days = append(detail.Schedule.Days, model.DaySchedule{
			Name:   d.Name,
			Stages: d.Stages,
		})
	}
	return detail, nil
}

// FetchNationalStatus は全国ステータスAPIの生の値を返す。
// 値は1始まりで、呼び出し側でステージ枠に合わせて1を引く。
func (c *Client) FetchNationalStatus(ctx context.Context) (int, error) {
	body, err := c.get(ctx, endpointStatus, c.statusURL, false)
	if err != nil {
		return 0, err
	}

	raw := strings.Trim(strings.TrimSpace(string(body)), `"`)
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &ServiceError{
			Kind:     KindUnknown,
			Endpoint: endpointStatus,
			Message:  "unexpected status body: " + describeBody(body),
			Err:      err,
		}
	}
	return v, nil
}

// FetchAllowance は当日のAPIクォータ使用状況を取得する。
func (c *Client) FetchAllowance(ctx context.Context) (*model.Allowance, error) {
	body, err := c.get(ctx, endpointAllowance, c.baseURL+"/api_allowance", true)
	if err != nil {
		return nil, err
	}

	var resp allowanceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, decodeError(endpointAllowance, err)
	}
	return &model.Allowance{
		Count: resp.Allowance.Count,
		Limit: resp.Allowance.Limit,
		Type:  resp.Allowance.Type,
	}, nil
}

// SearchAreas はテキストでエリアを検索する。
// 検索語は空白区切りの単語を連結して送信する。
func (c *Client) SearchAreas(ctx context.Context, query string) ([]model.AreaSummary, error) {
	text := strings.Join(strings.Fields(query), " ")
	if text == "" {
		return nil, &ServiceError{Kind: KindNotFound, Endpoint: endpointSearch, Message: "empty search query"}
	}

	q := url.Values{}
	q.Set("text", text)

	body, err := c.get(ctx, endpointSearch, c.baseURL+"/areas_search?"+q.Encode(), true)
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, decodeError(endpointSearch, err)
	}

	areas := make([]model.AreaSummary, 0, len(resp.Areas))
	for _, a := range resp.Areas {
		areas = append(areas, model.AreaSummary{ID: a.ID, Name: a.Name, Region: a.Region})
	}
	return areas, nil
}

// get はGETリクエストを1回実行し、2xxの場合のみボディを返す。
// authenticatedがtrueの場合はトークンヘッダーを付与し、レート制限を適用する。
func (c *Client) get(ctx context.Context, endpoint, rawURL string, authenticated bool) ([]byte, error) {
	if authenticated {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &ServiceError{Kind: KindTransientNetwork, Endpoint: endpoint, Message: "rate limit wait", Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &ServiceError{Kind: KindUnknown, Endpoint: endpoint, Message: "create request", Err: err}
	}
	req.Header.Set("User-Agent", "shedalert/1.0")
	if authenticated {
		req.Header.Set("token", c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.RecordProviderLatency(endpoint, time.Since(start))
	if err != nil {
		c.logger.Error("外部サービスの呼び出しに失敗しました",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
		return nil, &ServiceError{Kind: KindTransientNetwork, Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	c.metrics.RecordProviderStatus(endpoint, resp.StatusCode)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &ServiceError{Kind: KindTransientNetwork, Endpoint: endpoint, StatusCode: resp.StatusCode, Message: "read response body", Err: err}
	}

	kind, ok := ClassifyHTTPStatus(resp.StatusCode)
	if !ok {
		se := &ServiceError{
			Kind:       kind,
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Message:    statusMessage(resp.StatusCode),
		}
		if detail := describeBody(body); detail != "" {
			se.Message += ": " + detail
		}
		c.logger.Error("外部サービスがエラーステータスを返しました",
			slog.String("endpoint", endpoint),
			slog.Int("http_status", resp.StatusCode),
			slog.String("kind", kind.String()),
			slog.String("message", se.Message),
		)
		return nil, se
	}

	return body, nil
}

// decodeError はJSONデコード失敗をServiceErrorに変換する。
func decodeError(endpoint string, err error) error {
	return &ServiceError{Kind: KindUnknown, Endpoint: endpoint, Message: "decode response", Err: err}
}

// parseTime はRFC3339形式の時刻をパースする。失敗時はゼロ値を返す。
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// describeBody はエラーメッセージ用にレスポンスボディを要約する。
// JSONのerrorフィールド、HTMLのtitle、先頭200バイトの順に試す。
func describeBody(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return ""
	}

	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(trimmed, &payload) == nil && payload.Error != "" {
		return payload.Error
	}

	if trimmed[0] == '<' {
		if title := htmlTitle(trimmed); title != "" {
			return title
		}
	}

	return truncate(trimmed, 200)
}

// htmlTitle はHTML文書の<title>要素のテキストを返す。
func htmlTitle(body []byte) string {
	z := html.NewTokenizer(bytes.NewReader(body))
	inTitle := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			name, _ := z.TagName()
			inTitle = string(name) == "title"
		case html.TextToken:
			if inTitle {
				return strings.TrimSpace(string(z.Text()))
			}
		case html.EndTagToken:
			inTitle = false
		}
	}
}

// truncate はエラーメッセージ用に切り詰めた文字列を返す。
func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return fmt.Sprintf("%s...", b[:maxLen])
}
