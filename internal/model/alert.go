package model

import "time"

// AlertEvent は停電開始が近い購読に対して発行されるアラートを表す。
type AlertEvent struct {
	ID           string
	Subscription Subscription
	Day          string
	Stage        int
	StartTime    string
	FiredAt      time.Time
}

// NoticeKind は購読者全体に向けた通知の種別。
type NoticeKind string

const (
	// NoticeScheduleUnavailable はスケジュールが取得できずアラート評価を中断したことを示す。
	NoticeScheduleUnavailable NoticeKind = "schedule_unavailable"
)

// Notice は特定の購読に紐付かない通知を表す。
type Notice struct {
	Kind    NoticeKind
	Message string
}

// ScheduleUnavailableMessage はスケジュール取得失敗時にチャットへ送る定型文。
const ScheduleUnavailableMessage = "Schedule data is currently unavailable for one or more subscribed areas. Alerts were skipped this hour."

// NewScheduleUnavailableNotice はスケジュール取得不可の通知を生成する。
func NewScheduleUnavailableNotice() Notice {
	return Notice{
		Kind:    NoticeScheduleUnavailable,
		Message: ScheduleUnavailableMessage,
	}
}
