// Package model はドメインモデルを定義する。
package model

import "time"

// AreaSummary は検索結果や購読に含まれるエリアの概要を表す。
type AreaSummary struct {
	ID     string
	Name   string
	Region string
}

// AreaSchedule はエリアの週間停電スケジュールを表す。
// Daysはプロバイダーが返した順序（7日分）を保持する。
type AreaSchedule struct {
	Days []DaySchedule
}

// DaySchedule は1日分のステージ別停電開始時刻を表す。
// Stages[i] はステージ枠iにおける "HH:MM" 形式の開始時刻の並び。
type DaySchedule struct {
	Name   string
	Stages [][]string
}

// clampStageThreshold は詳細を4段階までしか公開しないプロバイダー向けの上限ステージ。
const clampStageThreshold = 4

// Day は曜日名（例: "Monday"）に一致する日のスケジュールを返す。
func (s *AreaSchedule) Day(name string) (DaySchedule, bool) {
	if s == nil {
		return DaySchedule{}, false
	}
	for _, d := range s.Days {
		if d.Name == name {
			return d, true
		}
	}
	return DaySchedule{}, false
}

// ClampStage はステージ値を公開済みの枠に収める。
// 公開枠が4以下でステージが4以上の場合は4に丸め、
// それでも枠外になる場合は最後に公開された枠を使う。
// 該当する枠がない場合は-1を返す。
func (d DaySchedule) ClampStage(stage int) int {
	if stage < 0 || len(d.Stages) == 0 {
		return -1
	}
	if len(d.Stages) <= clampStageThreshold && stage >= clampStageThreshold {
		stage = clampStageThreshold
	}
	if stage >= len(d.Stages) {
		stage = len(d.Stages) - 1
	}
	return stage
}

// TimesForStage は指定ステージの停電開始時刻を返す。
func (d DaySchedule) TimesForStage(stage int) []string {
	idx := d.ClampStage(stage)
	if idx < 0 {
		return nil
	}
	return d.Stages[idx]
}

// AreaInfo はエリアの名称と地域名を表す。
type AreaInfo struct {
	Name   string
	Region string
}

// AreaEvent はエリアで予定されている停電イベントを表す。
type AreaEvent struct {
	Start time.Time
	End   time.Time
	Note  string
}

// AreaDetail はエリア照会の結果を表す。
type AreaDetail struct {
	Info     AreaInfo
	Events   []AreaEvent
	Schedule AreaSchedule
}

// NextEvent は直近のイベントを返す。イベントがない場合はnilを返す。
func (a *AreaDetail) NextEvent() *AreaEvent {
	if a == nil || len(a.Events) == 0 {
		return nil
	}
	return &a.Events[0]
}

// Allowance はプロバイダーAPIの当日のクォータ使用状況を表す。
type Allowance struct {
	Count int
	Limit int
	Type  string
}
