package model

import (
	"sort"
	"time"
)

// User はチャット上で購読を行うユーザーを表す。
// Mentionはアラート送信時にユーザーを呼び出すためのハンドル。
type User struct {
	ID      string
	Name    string
	Mention string
}

// Subscription はユーザーとエリアの購読関係を表す。
// 同一の（ユーザー, エリア）ペアにつき1件のみ存在する。
type Subscription struct {
	User      User
	Area      AreaSummary
	CreatedAt time.Time
}

// Key は購読の複合キーを返す。
func (s Subscription) Key() string {
	return SubscriptionKey(s.User.ID, s.Area.ID)
}

// SubscriptionKey はユーザーIDとエリアIDから購読キーを生成する。
func SubscriptionKey(userID, areaID string) string {
	return userID + "_" + areaID
}

// Subscriptions は購読キーから購読へのマッピング。
type Subscriptions map[string]Subscription

// Clone はマッピングの浅いコピーを返す。
func (s Subscriptions) Clone() Subscriptions {
	out := make(Subscriptions, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Sorted は購読をキー順に並べて返す。
// 一覧表示のインデックスと評価順序を安定させるために使う。
func (s Subscriptions) Sorted() []Subscription {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Subscription, 0, len(keys))
	for _, k := range keys {
		out = append(out, s[k])
	}
	return out
}

// HasArea はいずれかの購読がareaIDのエリアを参照しているかを返す。
func (s Subscriptions) HasArea(areaID string) bool {
	for _, sub := range s {
		if sub.Area.ID == areaID {
			return true
		}
	}
	return false
}

// AreaIDs は購読に含まれるエリアIDを重複なしで返す。
func (s Subscriptions) AreaIDs() []string {
	seen := make(map[string]struct{}, len(s))
	var ids []string
	for _, sub := range s.Sorted() {
		if _, ok := seen[sub.Area.ID]; ok {
			continue
		}
		seen[sub.Area.ID] = struct{}{}
		ids = append(ids, sub.Area.ID)
	}
	return ids
}
