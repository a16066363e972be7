package notify

import (
	"context"
	"log/slog"

	"github.com/hitoshi/shedalert/internal/model"
)

// LogSink はアラートをログに出力するだけの送信先。Webhook未設定時に使う。
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink はLogSinkを生成する。
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// SendAlert はアラートをログに出力する。
func (s *LogSink) SendAlert(ctx context.Context, ev model.AlertEvent) error {
	s.logger.Info("アラート",
		slog.String("alert_id", ev.ID),
		slog.String("user_id", ev.Subscription.User.ID),
		slog.String("area_id", ev.Subscription.Area.ID),
		slog.String("start_time", ev.StartTime),
		slog.Int("stage", ev.Stage),
		slog.String("message", FormatAlert(ev, nil)),
	)
	return nil
}

// SendNotice は通知をログに出力する。
func (s *LogSink) SendNotice(ctx context.Context, n model.Notice) error {
	s.logger.Warn("通知",
		slog.String("kind", string(n.Kind)),
		slog.String("message", n.Message),
	)
	return nil
}
