// Package stage は全国ステージを毎時取得し、エンジンに評価させるポーラーを提供する。
package stage

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/shedalert/internal/alert"
	"github.com/hitoshi/shedalert/internal/metrics"
	"github.com/hitoshi/shedalert/internal/provider"
)

// StatusFetcher は全国ステータスの生の値を取得するインターフェース。
type StatusFetcher interface {
	FetchNationalStatus(ctx context.Context) (int, error)
}

// StageHandler は取得したステージを評価するインターフェース。
type StageHandler interface {
	HandleStage(ctx context.Context, stage int) (alert.Result, error)
}

// DefaultBufferMinute は毎時の取得を行う分。
const DefaultBufferMinute = 30

// NextRun は次回の実行時刻を返す。
// 現在の分がbuffer以上なら次の時のbuffer分、そうでなければ現在の時のbuffer分。
// 起動時刻や処理時間のずれに関係なく、常に毎時同じ分に揃う。
func NextRun(now time.Time, buffer int) time.Time {
	base := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), buffer, 0, 0, now.Location())
	if now.Minute() >= buffer {
		return base.Add(time.Hour)
	}
	return base
}

// scheduleAfter は回の開始時刻tickStartから次回の実行時刻を決める。
// 前回の予約時刻lastと現在時刻nowより必ず後になるよう1時間ずつ進める。
// 早く起きても同じ時刻に2回実行せず、処理が長引いた場合は過ぎた回を飛ばす。
func scheduleAfter(tickStart, now, last time.Time, buffer int) time.Time {
	next := NextRun(tickStart, buffer)
	for !next.After(last) || !next.After(now) {
		next = next.Add(time.Hour)
	}
	return next
}

// Poller は全国ステージの毎時ポーラー。
type Poller struct {
	status   StatusFetcher
	handler  StageHandler
	logger   *slog.Logger
	metrics  metrics.Recorder
	location *time.Location
	buffer   int
	now      func() time.Time
	wait     func(ctx context.Context, d time.Duration) bool
}

// NewPoller はPollerの新しいインスタンスを生成する。
// locationは実行時刻の計算に使うタイムゾーン。
func NewPoller(status StatusFetcher, handler StageHandler, logger *slog.Logger, rec metrics.Recorder, location *time.Location, buffer int) *Poller {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if location == nil {
		location = time.UTC
	}
	if buffer < 0 || buffer > 59 {
		buffer = DefaultBufferMinute
	}
	return &Poller{
		status:   status,
		handler:  handler,
		logger:   logger,
		metrics:  rec,
		location: location,
		buffer:   buffer,
		now:      time.Now,
		wait:     sleepContext,
	}
}

// sleepContext はdだけ待つ。ctxがキャンセルされた場合はfalseを返す。
func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Start はreadyが閉じられるのを待ってから、起動直後に1回、その後は毎時buffer分に実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (p *Poller) Start(ctx context.Context, ready <-chan struct{}) {
	select {
	case <-ctx.Done():
		return
	case <-ready:
	}

	p.logger.Info("ステージポーラーを開始しました",
		slog.Int("buffer_minute", p.buffer),
		slog.String("location", p.location.String()),
	)

	var last time.Time
	for {
		tickStart := p.now().In(p.location)
		// 失敗はRunOnce内で記録済み。次の実行まで待つ
		_ = p.RunOnce(ctx)

		now := p.now().In(p.location)
		next := scheduleAfter(tickStart, now, last, p.buffer)
		last = next
		p.logger.Debug("次回のステージ取得を予約しました", slog.Time("next_run", next))

		if !p.wait(ctx, next.Sub(now)) {
			p.logger.Info("ステージポーラーを停止しました")
			return
		}
	}
}

// RunOnce は全国ステータスを1回取得し、1を引いたステージでエンジンに評価させる。
// 取得に失敗した場合はこの回の評価を行わない。
func (p *Poller) RunOnce(ctx context.Context) error {
	start := p.now()

	v, err := p.status.FetchNationalStatus(ctx)
	if err != nil {
		p.metrics.RecordStagePoll(false)
		p.logger.Error("全国ステータスの取得に失敗しました",
			slog.String("kind", provider.KindOf(err).String()),
			slog.String("error", err.Error()),
		)
		return err
	}
	p.metrics.RecordStagePoll(true)

	stage := v - 1
	res, err := p.handler.HandleStage(ctx, stage)
	if err != nil {
		p.logger.Error("ステージの評価に失敗しました",
			slog.Int("stage", stage),
			slog.String("error", err.Error()),
		)
		return err
	}

	p.logger.Info("ステージ取得が完了しました",
		slog.Int("status_value", v),
		slog.Int("stage", stage),
		slog.Int("alerts", len(res.Events)),
		slog.Int64("duration_ms", p.now().Sub(start).Milliseconds()),
	)
	return nil
}
