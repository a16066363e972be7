package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/shedalert/internal/model"
)

// maxContentLength はチャットの1メッセージあたりの文字数上限。
const maxContentLength = 2000

// webhookPayload はDiscord互換Webhookのリクエストボディ。
type webhookPayload struct {
	Content         string          `json:"content"`
	AllowedMentions allowedMentions `json:"allowed_mentions"`
}

// allowedMentions はメッセージ内で実際に通知するメンション種別。
// ユーザーメンションのみ許可し、@everyone等は展開させない。
type allowedMentions struct {
	Parse []string `json:"parse"`
}

// WebhookSink はチャットのWebhookへメッセージをPOSTする送信先。
type WebhookSink struct {
	client    *http.Client
	url       string
	sanitizer Sanitizer
	logger    *slog.Logger
}

// NewWebhookSink はWebhookSinkを生成する。
// clientにはOutboundGuardが生成した安全なクライアントを渡す。
func NewWebhookSink(client *http.Client, webhookURL string, sanitizer Sanitizer, logger *slog.Logger) *WebhookSink {
	return &WebhookSink{
		client:    client,
		url:       webhookURL,
		sanitizer: sanitizer,
		logger:    logger,
	}
}

// SendAlert はアラートメッセージを送信する。
func (s *WebhookSink) SendAlert(ctx context.Context, ev model.AlertEvent) error {
	if err := s.post(ctx, FormatAlert(ev, s.sanitizer)); err != nil {
		s.logger.Error("アラートの送信に失敗しました",
			slog.String("alert_id", ev.ID),
			slog.String("user_id", ev.Subscription.User.ID),
			slog.String("area_id", ev.Subscription.Area.ID),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

// SendNotice は通知メッセージを送信する。
func (s *WebhookSink) SendNotice(ctx context.Context, n model.Notice) error {
	if err := s.post(ctx, n.Message); err != nil {
		s.logger.Error("通知の送信に失敗しました",
			slog.String("kind", string(n.Kind)),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

func (s *WebhookSink) post(ctx context.Context, content string) error {
	if r := []rune(content); len(r) > maxContentLength {
		content = string(r[:maxContentLength])
	}

	body, err := json.Marshal(webhookPayload{
		Content:         content,
		AllowedMentions: allowedMentions{Parse: []string{"users"}},
	})
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
