// Package alert は停電開始が近い購読を判定する。
package alert

import (
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/shedalert/internal/model"
	"github.com/hitoshi/shedalert/internal/schedule"
)

// leadHours は何時間先までの停電開始をアラート対象とするか。
const leadHours = 1

// Result は1回の評価結果。
// Unavailableがtrueの場合、購読エリアのいずれかのスケジュールが使えないため
// 評価を中断しており、Eventsは常に空になる。
// MissingDayはスケジュールに当日の曜日が含まれず評価できなかった購読キー。
type Result struct {
	Events      []model.AlertEvent
	Unavailable bool
	MissingDay  []string
}

// Evaluate は現在のステージとスケジュールから、いまアラートを送るべき購読を判定する。
//
// 比較は時単位で行い、分は見ない。nowの時刻より後で、かつ1時間以内に始まる
// 開始時刻ごとに1件のイベントを返す。ステージが0以下の場合は停電なしとして何も返さない。
// 購読は購読キー順に評価するため、結果の順序は安定している。
func Evaluate(stage int, subs model.Subscriptions, schedules map[string]schedule.Entry, now time.Time) Result {
	if stage <= 0 || len(subs) == 0 {
		return Result{}
	}

	sorted := subs.Sorted()
	for _, s := range sorted {
		entry, ok := schedules[s.Area.ID]
		if !ok || !entry.Available() {
			return Result{Unavailable: true}
		}
	}

	today := now.Weekday().String()
	var (
		events  []model.AlertEvent
		missing []string
	)
	for _, s := range sorted {
		day, ok := schedules[s.Area.ID].Schedule.Day(today)
		if !ok {
			missing = append(missing, s.Key())
			continue
		}
		for _, start := range day.TimesForStage(stage) {
			h, ok := startHour(start)
			if !ok {
				continue
			}
			if now.Hour() < h && h-now.Hour() <= leadHours {
				events = append(events, model.AlertEvent{
					Subscription: s,
					Day:          today,
					Stage:        stage,
					StartTime:    start,
					FiredAt:      now,
				})
			}
		}
	}
	return Result{Events: events, MissingDay: missing}
}

// startHour は "HH:MM" または "HH:MM-HH:MM" 形式の開始時刻から時を取り出す。
func startHour(s string) (int, bool) {
	head, _, found := strings.Cut(strings.TrimSpace(s), ":")
	if !found {
		return 0, false
	}
	h, err := strconv.Atoi(head)
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	return h, true
}
