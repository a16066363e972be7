// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/shedalert/internal/model"
)

// SubscriptionRepository は購読マッピングの永続化インターフェース。
// 変更のたびにマッピング全体を保存し、起動時に全体を読み込む。
type SubscriptionRepository interface {
	// Load は永続化された購読マッピングを読み込む。
	// 保存済みの状態が存在しない場合は空のマッピングを返す（エラーではない）。
	Load(ctx context.Context) (model.Subscriptions, error)

	// Save は購読マッピング全体で永続化状態をアトミックに上書きする。
	Save(ctx context.Context, subs model.Subscriptions) error
}
