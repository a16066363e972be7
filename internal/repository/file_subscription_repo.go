package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/hitoshi/shedalert/internal/model"
)

// fileFormatVersion は購読ファイルの形式バージョン。
const fileFormatVersion = 1

// subscriptionFile は購読ファイルのJSON構造。
type subscriptionFile struct {
	Version       int                           `json:"version"`
	Subscriptions map[string]subscriptionRecord `json:"subscriptions"`
}

type subscriptionRecord struct {
	UserID      string    `json:"user_id"`
	UserName    string    `json:"user_name"`
	UserMention string    `json:"user_mention"`
	AreaID      string    `json:"area_id"`
	AreaName    string    `json:"area_name"`
	AreaRegion  string    `json:"area_region"`
	CreatedAt   time.Time `json:"created_at"`
}

// FileSubscriptionRepo はJSONファイルを使用した購読リポジトリ。
type FileSubscriptionRepo struct {
	path string
}

// NewFileSubscriptionRepo はFileSubscriptionRepoを生成する。
func NewFileSubscriptionRepo(path string) *FileSubscriptionRepo {
	return &FileSubscriptionRepo{path: path}
}

// Load は購読ファイルを読み込む。ファイルが存在しない場合は空のマッピングを返す。
func (r *FileSubscriptionRepo) Load(ctx context.Context) (model.Subscriptions, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(model.Subscriptions), nil
	}
	if err != nil {
		return nil, fmt.Errorf("購読ファイルの読み込みに失敗しました: %w", err)
	}

	var f subscriptionFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("購読ファイルの解析に失敗しました: %w", err)
	}
	if f.Version != fileFormatVersion {
		return nil, fmt.Errorf("未対応の購読ファイル形式です: version=%d", f.Version)
	}

	subs := make(model.Subscriptions, len(f.Subscriptions))
	for _, rec := range f.Subscriptions {
		s := model.Subscription{
			User:      model.User{ID: rec.UserID, Name: rec.UserName, Mention: rec.UserMention},
			Area:      model.AreaSummary{ID: rec.AreaID, Name: rec.AreaName, Region: rec.AreaRegion},
			CreatedAt: rec.CreatedAt,
		}
		// キーは保存値ではなく識別子から再計算する
		subs[s.Key()] = s
	}
	return subs, nil
}

// Save は購読マッピング全体を一時ファイルに書き出し、リネームで置き換える。
func (r *FileSubscriptionRepo) Save(ctx context.Context, subs model.Subscriptions) error {
	f := subscriptionFile{
		Version:       fileFormatVersion,
		Subscriptions: make(map[string]subscriptionRecord, len(subs)),
	}
	for key, s := range subs {
		f.Subscriptions[key] = subscriptionRecord{
			UserID:      s.User.ID,
			UserName:    s.User.Name,
			UserMention: s.User.Mention,
			AreaID:      s.Area.ID,
			AreaName:    s.Area.Name,
			AreaRegion:  s.Area.Region,
			CreatedAt:   s.CreatedAt,
		}
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("購読のシリアライズに失敗しました: %w", err)
	}

	dir := filepath.Dir(r.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(r.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("一時ファイルの作成に失敗しました: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("一時ファイルへの書き込みに失敗しました: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("一時ファイルの同期に失敗しました: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("一時ファイルのクローズに失敗しました: %w", err)
	}

	if err := os.Rename(tmpName, r.path); err != nil {
		return fmt.Errorf("購読ファイルの置き換えに失敗しました: %w", err)
	}
	return nil
}
