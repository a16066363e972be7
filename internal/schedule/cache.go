// Package schedule はエリアごとの週間停電スケジュールのキャッシュを提供する。
package schedule

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/shedalert/internal/metrics"
	"github.com/hitoshi/shedalert/internal/model"
)

// AreaFetcher はエリアのスケジュールを取得するインターフェース。
type AreaFetcher interface {
	FetchArea(ctx context.Context, areaID string) (*model.AreaDetail, error)
}

// Entry はキャッシュされた1エリア分の取得結果。
// 取得に失敗した場合はScheduleがnilでErrにエラーマーカーが入る。
type Entry struct {
	Schedule  *model.AreaSchedule
	Err       error
	FetchedAt time.Time
}

// Available はスケジュールが評価に使える状態かを返す。
func (e Entry) Available() bool {
	return e.Err == nil && e.Schedule != nil
}

// Cache はエリアIDからスケジュール取得結果へのマッピング。
// エンジンのイベントループからのみ操作されるため、排他制御は行わない。
type Cache struct {
	fetcher AreaFetcher
	entries map[string]Entry
	logger  *slog.Logger
	metrics metrics.Recorder
	now     func() time.Time
}

// NewCache はCacheの新しいインスタンスを生成する。
func NewCache(fetcher AreaFetcher, logger *slog.Logger, rec metrics.Recorder) *Cache {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Cache{
		fetcher: fetcher,
		entries: make(map[string]Entry),
		logger:  logger,
		metrics: rec,
		now:     time.Now,
	}
}

// RefreshAll は購読に含まれるすべてのエリアを取得し直し、キャッシュ全体を置き換える。
// 購読されなくなったエリアは削除される。1エリアの失敗は他のエリアの取得を中断しない。
func (c *Cache) RefreshAll(ctx context.Context, subs model.Subscriptions) map[string]Entry {
	start := c.now()
	areaIDs := subs.AreaIDs()

	next := make(map[string]Entry, len(areaIDs))
	failed := 0
	for _, id := range areaIDs {
		entry := c.fetch(ctx, id)
		if !entry.Available() {
			failed++
		}
		next[id] = entry
	}
	c.entries = next

	c.logger.Info("エリアスケジュールを一括更新しました",
		slog.Int("areas", len(areaIDs)),
		slog.Int("failed", failed),
		slog.Int64("duration_ms", c.now().Sub(start).Milliseconds()),
	)

	return c.Snapshot()
}

// RefreshOne は1エリアを取得してキャッシュする。購読追加時に使う。
func (c *Cache) RefreshOne(ctx context.Context, areaID string) Entry {
	entry := c.fetch(ctx, areaID)
	c.entries[areaID] = entry
	return entry
}

// Evict はエリアをキャッシュから削除する。
func (c *Cache) Evict(areaID string) {
	delete(c.entries, areaID)
}

// Get はエリアのキャッシュエントリを返す。
func (c *Cache) Get(areaID string) (Entry, bool) {
	e, ok := c.entries[areaID]
	return e, ok
}

// Snapshot はキャッシュの浅いコピーを返す。
func (c *Cache) Snapshot() map[string]Entry {
	out := make(map[string]Entry, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

// Len はキャッシュされているエリア数を返す。
func (c *Cache) Len() int {
	return len(c.entries)
}

func (c *Cache) fetch(ctx context.Context, areaID string) Entry {
	detail, err := c.fetcher.FetchArea(ctx, areaID)
	if err != nil {
		c.metrics.RecordScheduleFetchFailure(areaID)
		c.logger.Warn("エリアスケジュールの取得に失敗しました",
			slog.String("area_id", areaID),
			slog.String("error", err.Error()),
		)
		return Entry{Err: err, FetchedAt: c.now()}
	}
	sched := detail.Schedule
	return Entry{Schedule: &sched, FetchedAt: c.now()}
}
