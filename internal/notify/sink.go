// Package notify はアラートと通知をチャットへ届ける送信先を提供する。
package notify

import (
	"context"
	"fmt"

	"github.com/hitoshi/shedalert/internal/model"
)

// Sink はアラートイベントと通知の送信先。
// 送信はベストエフォートで、失敗しても再送しない。
type Sink interface {
	SendAlert(ctx context.Context, ev model.AlertEvent) error
	SendNotice(ctx context.Context, n model.Notice) error
}

// Sanitizer は表示用テキストからマークアップを除去する。
type Sanitizer interface {
	Sanitize(text string) string
}

// FormatAlert はアラートのチャットメッセージを組み立てる。
func FormatAlert(ev model.AlertEvent, s Sanitizer) string {
	mention := ev.Subscription.User.Mention
	if mention == "" {
		mention = ev.Subscription.User.Name
	}
	area := ev.Subscription.Area.Name
	if s != nil {
		mention = s.Sanitize(mention)
		area = s.Sanitize(area)
	}
	return fmt.Sprintf("%s\nLoadshedding starting soon for area: %s", mention, area)
}
