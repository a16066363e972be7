// Package engine は購読・スケジュールキャッシュ・直近ステージを保持し、
// すべての変更を単一のイベントループで直列に処理する。
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/shedalert/internal/alert"
	"github.com/hitoshi/shedalert/internal/metrics"
	"github.com/hitoshi/shedalert/internal/model"
	"github.com/hitoshi/shedalert/internal/notify"
	"github.com/hitoshi/shedalert/internal/provider"
	"github.com/hitoshi/shedalert/internal/repository"
	"github.com/hitoshi/shedalert/internal/schedule"
)

// Provider はエンジンが利用する外部サービスのインターフェース。
type Provider interface {
	FetchArea(ctx context.Context, areaID string) (*model.AreaDetail, error)
	FetchAllowance(ctx context.Context) (*model.Allowance, error)
	SearchAreas(ctx context.Context, query string) ([]model.AreaSummary, error)
}

// SubscribeResult は購読追加の結果。
type SubscribeResult struct {
	Subscription      model.Subscription
	ScheduleAvailable bool
}

// request はイベントループで実行する処理。
type request struct {
	fn   func(ctx context.Context)
	done chan struct{}
}

// Engine は購読アラートの中核となる状態を所有する。
type Engine struct {
	repo     repository.SubscriptionRepository
	cache    *schedule.Cache
	provider Provider
	sink     notify.Sink
	logger   *slog.Logger
	metrics  metrics.Recorder
	now      func() time.Time
	newID    func() string

	requests  chan request
	ready     chan struct{}
	readyOnce sync.Once
	stopped   chan struct{}

	// 以下はイベントループのみが読み書きする
	subs       model.Subscriptions
	lastStage  int
	stageKnown bool
	lastSearch []model.AreaSummary
}

// Option はEngineの任意設定。
type Option func(*Engine)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator はアラートIDの生成関数を差し替える。
func WithIDGenerator(f func() string) Option {
	return func(e *Engine) { e.newID = f }
}

// New はEngineを生成する。Runを呼ぶまで要求は処理されない。
func New(repo repository.SubscriptionRepository, p Provider, sink notify.Sink, logger *slog.Logger, rec metrics.Recorder, opts ...Option) *Engine {
	if rec == nil {
		rec = metrics.Nop{}
	}
	e := &Engine{
		repo:     repo,
		cache:    schedule.NewCache(p, logger, rec),
		provider: p,
		sink:     sink,
		logger:   logger,
		metrics:  rec,
		now:      time.Now,
		newID:    uuid.NewString,
		requests: make(chan request),
		ready:    make(chan struct{}),
		stopped:  make(chan struct{}),
		subs:     make(model.Subscriptions),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run はイベントループを実行する。ctxがキャンセルされるまで戻らない。
func (e *Engine) Run(ctx context.Context) {
	defer close(e.stopped)
	e.logger.Info("エンジンを開始しました")
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("エンジンを停止しました")
			return
		case req := <-e.requests:
			req.fn(ctx)
			close(req.done)
		}
	}
}

// Ready はLoadが完了すると閉じられるチャネルを返す。
func (e *Engine) Ready() <-chan struct{} {
	return e.ready
}

// submit は処理をイベントループに渡し、完了まで待つ。
// 受け付けられた処理は呼び出し元のキャンセルに関係なく最後まで実行される。
func (e *Engine) submit(ctx context.Context, fn func(ctx context.Context)) error {
	req := request{fn: fn, done: make(chan struct{})}
	select {
	case e.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		return model.NewEngineStoppedError()
	}
	<-req.done
	return nil
}

// Load は永続化された購読を読み込み、全エリアのスケジュールを取得する。
// 完了後にReadyが閉じられる。
func (e *Engine) Load(ctx context.Context) error {
	var loadErr error
	err := e.submit(ctx, func(ctx context.Context) {
		subs, err := e.repo.Load(ctx)
		if err != nil {
			loadErr = fmt.Errorf("購読の読み込みに失敗しました: %w", err)
			return
		}
		e.subs = subs
		e.cache.RefreshAll(ctx, e.subs)
		e.metrics.RecordSubscriptions(len(e.subs))
		e.logger.Info("購読を読み込みました",
			slog.Int("subscriptions", len(e.subs)),
			slog.Int("areas", e.cache.Len()),
		)
	})
	if err != nil {
		return err
	}
	if loadErr != nil {
		return loadErr
	}
	e.readyOnce.Do(func() { close(e.ready) })
	return nil
}

// Subscribe は購読を追加（同一キーは上書き）し、保存してからエリアのスケジュールを取得する。
// 直近のステージが分かっている場合は、追加した購読をすぐに評価する。
func (e *Engine) Subscribe(ctx context.Context, sub model.Subscription) (*SubscribeResult, error) {
	if sub.User.ID == "" || sub.Area.ID == "" {
		return nil, model.NewInvalidRequestError("user id and area id are required")
	}

	var (
		result *SubscribeResult
		opErr  error
	)
	err := e.submit(ctx, func(ctx context.Context) {
		result, opErr = e.subscribe(ctx, sub)
	})
	if err != nil {
		return nil, err
	}
	return result, opErr
}

func (e *Engine) subscribe(ctx context.Context, sub model.Subscription) (*SubscribeResult, error) {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = e.now()
	}

	next := e.subs.Clone()
	next[sub.Key()] = sub
	if err := e.repo.Save(ctx, next); err != nil {
		e.logger.Error("購読の保存に失敗しました",
			slog.String("key", sub.Key()),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("購読の保存に失敗しました: %w", err)
	}
	e.subs = next
	e.metrics.RecordSubscriptions(len(e.subs))

	entry := e.cache.RefreshOne(ctx, sub.Area.ID)
	e.logger.Info("購読を追加しました",
		slog.String("key", sub.Key()),
		slog.String("area_id", sub.Area.ID),
		slog.Bool("schedule_available", entry.Available()),
	)

	if e.stageKnown {
		only := model.Subscriptions{sub.Key(): sub}
		e.dispatch(ctx, alert.Evaluate(e.lastStage, only, e.cache.Snapshot(), e.now()))
	}

	return &SubscribeResult{Subscription: sub, ScheduleAvailable: entry.Available()}, nil
}

// SubscribeByIndex は直前の検索結果の番号（1始まり）でエリアを選んで購読する。
func (e *Engine) SubscribeByIndex(ctx context.Context, user model.User, index int) (*SubscribeResult, error) {
	if user.ID == "" {
		return nil, model.NewInvalidRequestError("user id is required")
	}

	var (
		result *SubscribeResult
		opErr  error
	)
	err := e.submit(ctx, func(ctx context.Context) {
		if e.lastSearch == nil {
			opErr = model.NewNoSearchResultsError()
			return
		}
		if index < 1 || index > len(e.lastSearch) {
			opErr = model.NewInvalidSearchIndexError(index, len(e.lastSearch))
			return
		}
		result, opErr = e.subscribe(ctx, model.Subscription{User: user, Area: e.lastSearch[index-1]})
	})
	if err != nil {
		return nil, err
	}
	return result, opErr
}

// Unsubscribe は購読を削除する。存在しないキーの場合は何もせずfalseを返す。
// 削除した購読のエリアは、他の購読が参照していてもキャッシュから削除する。
func (e *Engine) Unsubscribe(ctx context.Context, userID, areaID string) (bool, error) {
	var (
		removed bool
		opErr   error
	)
	err := e.submit(ctx, func(ctx context.Context) {
		removed, opErr = e.unsubscribe(ctx, model.SubscriptionKey(userID, areaID))
	})
	if err != nil {
		return false, err
	}
	return removed, opErr
}

// UnsubscribeByIndex は購読一覧の番号（1始まり）で購読を削除する。
func (e *Engine) UnsubscribeByIndex(ctx context.Context, index int) (*model.Subscription, error) {
	var (
		removed *model.Subscription
		opErr   error
	)
	err := e.submit(ctx, func(ctx context.Context) {
		sorted := e.subs.Sorted()
		if index < 1 || index > len(sorted) {
			opErr = model.NewSubscriptionNotFoundError(strconv.Itoa(index))
			return
		}
		target := sorted[index-1]
		if _, opErr = e.unsubscribe(ctx, target.Key()); opErr == nil {
			removed = &target
		}
	})
	if err != nil {
		return nil, err
	}
	return removed, opErr
}

func (e *Engine) unsubscribe(ctx context.Context, key string) (bool, error) {
	sub, ok := e.subs[key]
	if !ok {
		return false, nil
	}

	next := e.subs.Clone()
	delete(next, key)
	if err := e.repo.Save(ctx, next); err != nil {
		e.logger.Error("購読の保存に失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return false, fmt.Errorf("購読の保存に失敗しました: %w", err)
	}
	e.subs = next
	// 他の購読が同じエリアを参照している間はスケジュールを残す
	evicted := !next.HasArea(sub.Area.ID)
	if evicted {
		e.cache.Evict(sub.Area.ID)
	}
	e.metrics.RecordSubscriptions(len(e.subs))

	e.logger.Info("購読を削除しました",
		slog.String("key", key),
		slog.String("area_id", sub.Area.ID),
		slog.Bool("schedule_evicted", evicted),
	)
	return true, nil
}

// ListSubscriptions は購読をキー順で返す。返した順序が番号指定の削除に対応する。
func (e *Engine) ListSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	var out []model.Subscription
	err := e.submit(ctx, func(ctx context.Context) {
		out = e.subs.Sorted()
	})
	return out, err
}

// Search はエリアを検索し、結果を直前の検索結果として保持する。
func (e *Engine) Search(ctx context.Context, query string) ([]model.AreaSummary, error) {
	var (
		out   []model.AreaSummary
		opErr error
	)
	err := e.submit(ctx, func(ctx context.Context) {
		areas, err := e.provider.SearchAreas(ctx, query)
		if err != nil {
			e.logger.Error("エリア検索に失敗しました",
				slog.String("query", query),
				slog.String("kind", provider.KindOf(err).String()),
				slog.String("error", err.Error()),
			)
			opErr = model.NewServiceError()
			return
		}
		e.lastSearch = areas
		out = append([]model.AreaSummary(nil), areas...)
	})
	if err != nil {
		return nil, err
	}
	return out, opErr
}

// LastSearchResults は直前の検索結果を返す。まだ検索していない場合はエラーを返す。
func (e *Engine) LastSearchResults(ctx context.Context) ([]model.AreaSummary, error) {
	var (
		out   []model.AreaSummary
		opErr error
	)
	err := e.submit(ctx, func(ctx context.Context) {
		if e.lastSearch == nil {
			opErr = model.NewNoSearchResultsError()
			return
		}
		out = append([]model.AreaSummary(nil), e.lastSearch...)
	})
	if err != nil {
		return nil, err
	}
	return out, opErr
}

// HandleStage は取得したステージを記録し、すべての購読を評価してアラートを送る。
func (e *Engine) HandleStage(ctx context.Context, stage int) (alert.Result, error) {
	var res alert.Result
	err := e.submit(ctx, func(ctx context.Context) {
		e.lastStage = stage
		e.stageKnown = true
		e.metrics.RecordCurrentStage(stage)

		res = alert.Evaluate(stage, e.subs, e.cache.Snapshot(), e.now())
		e.dispatch(ctx, res)
		e.logger.Info("ステージを評価しました",
			slog.Int("stage", stage),
			slog.Int("alerts", len(res.Events)),
			slog.Bool("schedule_unavailable", res.Unavailable),
		)
	})
	return res, err
}

// RefreshSchedules は購読中の全エリアのスケジュールを取得し直す。
// 戻り値はキャッシュされたエリア数。
func (e *Engine) RefreshSchedules(ctx context.Context) (int, error) {
	var n int
	err := e.submit(ctx, func(ctx context.Context) {
		e.cache.RefreshAll(ctx, e.subs)
		n = e.cache.Len()
	})
	return n, err
}

// LastStage は直近に取得したステージを返す。未取得の場合はokがfalse。
func (e *Engine) LastStage(ctx context.Context) (stage int, ok bool, err error) {
	err = e.submit(ctx, func(ctx context.Context) {
		stage, ok = e.lastStage, e.stageKnown
	})
	return stage, ok, err
}

// LookupArea はエリアの情報と直近のイベントを取得する。状態は変更しない。
func (e *Engine) LookupArea(ctx context.Context, areaID string) (*model.AreaDetail, error) {
	detail, err := e.provider.FetchArea(ctx, areaID)
	if err != nil {
		e.logger.Error("エリア情報の取得に失敗しました",
			slog.String("area_id", areaID),
			slog.String("kind", provider.KindOf(err).String()),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, provider.ErrNotFound) {
			return nil, model.NewAreaNotFoundError(areaID)
		}
		return nil, model.NewServiceError()
	}
	return detail, nil
}

// Quota は外部APIのクォータ使用状況を取得する。状態は変更しない。
func (e *Engine) Quota(ctx context.Context) (*model.Allowance, error) {
	a, err := e.provider.FetchAllowance(ctx)
	if err != nil {
		e.logger.Error("クォータの取得に失敗しました",
			slog.String("kind", provider.KindOf(err).String()),
			slog.String("error", err.Error()),
		)
		return nil, model.NewServiceError()
	}
	return a, nil
}

// dispatch は評価結果を送信先に渡す。送信失敗は記録のみ行う。
func (e *Engine) dispatch(ctx context.Context, res alert.Result) {
	if res.Unavailable {
		e.metrics.RecordScheduleUnavailable()
		e.logger.Warn("スケジュールを取得できないエリアがあるため評価を中断しました")
		if err := e.sink.SendNotice(ctx, model.NewScheduleUnavailableNotice()); err != nil {
			e.logger.Warn("通知の送信に失敗しました", slog.String("error", err.Error()))
		}
		return
	}

	if len(res.MissingDay) > 0 {
		e.logger.Warn("当日のスケジュールがない購読をスキップしました",
			slog.Any("keys", res.MissingDay),
		)
	}

	for i := range res.Events {
		ev := &res.Events[i]
		ev.ID = e.newID()
		e.metrics.RecordAlertFired()
		e.logger.Info("アラートを発行しました",
			slog.String("alert_id", ev.ID),
			slog.String("key", ev.Subscription.Key()),
			slog.String("start_time", ev.StartTime),
			slog.Int("stage", ev.Stage),
		)
		if err := e.sink.SendAlert(ctx, *ev); err != nil {
			e.logger.Warn("アラートの送信に失敗しました",
				slog.String("alert_id", ev.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}
