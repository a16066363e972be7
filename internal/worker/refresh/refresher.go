// Package refresh は購読中エリアのスケジュールを毎日取得し直すジョブを提供する。
package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSpec は既定の実行スケジュール（毎日0時）。
const DefaultSpec = "0 0 * * *"

// ScheduleRefresher はスケジュールキャッシュを一括更新するインターフェース。
type ScheduleRefresher interface {
	RefreshSchedules(ctx context.Context) (int, error)
}

// Refresher はcron式に従ってスケジュールの一括更新を実行する。
// 前回の実行が終わっていない場合、その回はスキップされる。
type Refresher struct {
	target   ScheduleRefresher
	logger   *slog.Logger
	spec     string
	schedule cron.Schedule
	location *time.Location
}

// NewRefresher はRefresherを生成する。cron式が不正な場合はエラーを返す。
func NewRefresher(target ScheduleRefresher, logger *slog.Logger, spec string, location *time.Location) (*Refresher, error) {
	if spec == "" {
		spec = DefaultSpec
	}
	if location == nil {
		location = time.UTC
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", spec, err)
	}
	return &Refresher{
		target:   target,
		logger:   logger,
		spec:     spec,
		schedule: sched,
		location: location,
	}, nil
}

// Next はnow以降の次回実行時刻を返す。
func (r *Refresher) Next(now time.Time) time.Time {
	return r.schedule.Next(now.In(r.location))
}

// Start はreadyが閉じられるのを待ってからcronを開始する。
// コンテキストがキャンセルされると、実行中のジョブの完了を待って戻る。
func (r *Refresher) Start(ctx context.Context, ready <-chan struct{}) {
	select {
	case <-ctx.Done():
		return
	case <-ready:
	}

	cl := cronLogger{logger: r.logger}
	c := cron.New(
		cron.WithLocation(r.location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	c.Schedule(r.schedule, cron.FuncJob(func() {
		_ = r.RunOnce(ctx)
	}))
	c.Start()

	r.logger.Info("スケジュール更新ジョブを開始しました",
		slog.String("cron", r.spec),
		slog.String("location", r.location.String()),
		slog.Time("next_run", r.Next(time.Now())),
	)

	<-ctx.Done()
	<-c.Stop().Done()
	r.logger.Info("スケジュール更新ジョブを停止しました")
}

// RunOnce はスケジュールの一括更新を1回実行する。
func (r *Refresher) RunOnce(ctx context.Context) error {
	start := time.Now()
	n, err := r.target.RefreshSchedules(ctx)
	if err != nil {
		r.logger.Error("スケジュールの一括更新に失敗しました",
			slog.String("error", err.Error()),
		)
		return err
	}
	r.logger.Info("スケジュールの一括更新が完了しました",
		slog.Int("areas", n),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return nil
}

// cronLogger はcronのログをslogに流す。
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	args := append([]interface{}{slog.String("error", err.Error())}, keysAndValues...)
	l.logger.Error("cron: "+msg, args...)
}
