package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/shedalert/internal/model"
)

// PostgresSubscriptionRepo はPostgreSQLを使用した購読リポジトリ。
type PostgresSubscriptionRepo struct {
	db *sql.DB
}

// NewPostgresSubscriptionRepo はPostgresSubscriptionRepoを生成する。
func NewPostgresSubscriptionRepo(db *sql.DB) *PostgresSubscriptionRepo {
	return &PostgresSubscriptionRepo{db: db}
}

// Load はすべての購読を読み込む。テーブルが空の場合は空のマッピングを返す。
func (r *PostgresSubscriptionRepo) Load(ctx context.Context) (model.Subscriptions, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, user_name, user_mention, area_id, area_name, area_region, created_at
		 FROM subscriptions ORDER BY key`,
	)
	if err != nil {
		return nil, fmt.Errorf("購読の読み込みに失敗しました: %w", err)
	}
	defer rows.Close()

	subs := make(model.Subscriptions)
	for rows.Next() {
		var s model.Subscription
		if err := rows.Scan(
			&s.User.ID, &s.User.Name, &s.User.Mention,
			&s.Area.ID, &s.Area.Name, &s.Area.Region,
			&s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("購読行の読み取りに失敗しました: %w", err)
		}
		subs[s.Key()] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("購読の読み込みに失敗しました: %w", err)
	}

	return subs, nil
}

// Save は購読マッピング全体で既存の行を置き換える。
// 削除と挿入は同一トランザクションで行い、途中で失敗した場合は元の状態を維持する。
func (r *PostgresSubscriptionRepo) Save(ctx context.Context, subs model.Subscriptions) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM subscriptions`); err != nil {
		return fmt.Errorf("既存の購読の削除に失敗しました: %w", err)
	}

	for _, s := range subs.Sorted() {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO subscriptions (key, user_id, user_name, user_mention, area_id, area_name, area_region, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			s.Key(), s.User.ID, s.User.Name, s.User.Mention,
			s.Area.ID, s.Area.Name, s.Area.Region, s.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("購読の保存に失敗しました (key=%s): %w", s.Key(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
