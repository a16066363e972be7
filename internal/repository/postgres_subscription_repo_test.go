package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/hitoshi/shedalert/internal/model"
)

// PostgresSubscriptionRepoはSubscriptionRepositoryインターフェースを満たすことを検証
func TestPostgresSubscriptionRepo_ImplementsInterface(t *testing.T) {
	var _ SubscriptionRepository = (*PostgresSubscriptionRepo)(nil)
}

// NewPostgresSubscriptionRepoが正しく初期化されることを検証
func TestNewPostgresSubscriptionRepo_Initializes(t *testing.T) {
	repo := NewPostgresSubscriptionRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

var subscriptionColumns = []string{"user_id", "user_name", "user_mention", "area_id", "area_name", "area_region", "created_at"}

func TestPostgresSubscriptionRepo_Load(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmockの生成に失敗: %v", err)
	}
	defer db.Close()

	created := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(subscriptionColumns).
		AddRow("u1", "alice", "<@u1>", "area-1", "Gardens", "Cape Town", created).
		AddRow("u2", "bob", "<@u2>", "area-2", "Sandton", "Johannesburg", created)
	mock.ExpectQuery(regexp.QuoteMeta("FROM subscriptions ORDER BY key")).WillReturnRows(rows)

	repo := NewPostgresSubscriptionRepo(db)
	subs, err := repo.Load(context.Background())
	if err != nil {
		t.Fatalf("Load がエラーを返した: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("len(subs) = %d, want 2", len(subs))
	}
	got, ok := subs["u1_area-1"]
	if !ok {
		t.Fatal("key u1_area-1 が存在しない")
	}
	if got.User.Mention != "<@u1>" || got.Area.Name != "Gardens" || !got.CreatedAt.Equal(created) {
		t.Errorf("subscription = %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("未実行の期待値があります: %v", err)
	}
}

func TestPostgresSubscriptionRepo_Load_Empty(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmockの生成に失敗: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows(subscriptionColumns))

	subs, err := NewPostgresSubscriptionRepo(db).Load(context.Background())
	if err != nil {
		t.Fatalf("Load がエラーを返した: %v", err)
	}
	if subs == nil || len(subs) != 0 {
		t.Errorf("subs = %v, want empty non-nil mapping", subs)
	}
}

func TestPostgresSubscriptionRepo_Load_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmockの生成に失敗: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT").WillReturnError(errors.New("connection refused"))

	if _, err := NewPostgresSubscriptionRepo(db).Load(context.Background()); err == nil {
		t.Error("クエリ失敗時はエラーを返すべき")
	}
}

func TestPostgresSubscriptionRepo_Save_ReplacesAllRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmockの生成に失敗: %v", err)
	}
	defer db.Close()

	created := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)
	subs := model.Subscriptions{}
	for _, s := range []model.Subscription{
		{User: model.User{ID: "u2", Name: "bob", Mention: "<@u2>"}, Area: model.AreaSummary{ID: "a2", Name: "Sandton", Region: "Johannesburg"}, CreatedAt: created},
		{User: model.User{ID: "u1", Name: "alice", Mention: "<@u1>"}, Area: model.AreaSummary{ID: "a1", Name: "Gardens", Region: "Cape Town"}, CreatedAt: created},
	} {
		subs[s.Key()] = s
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM subscriptions")).WillReturnResult(sqlmock.NewResult(0, 3))
	// キー順に挿入される
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO subscriptions")).
		WithArgs("u1_a1", "u1", "alice", "<@u1>", "a1", "Gardens", "Cape Town", created).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO subscriptions")).
		WithArgs("u2_a2", "u2", "bob", "<@u2>", "a2", "Sandton", "Johannesburg", created).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := NewPostgresSubscriptionRepo(db).Save(context.Background(), subs); err != nil {
		t.Fatalf("Save がエラーを返した: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("未実行の期待値があります: %v", err)
	}
}

func TestPostgresSubscriptionRepo_Save_RollsBackOnInsertError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmockの生成に失敗: %v", err)
	}
	defer db.Close()

	subs := model.Subscriptions{}
	s := model.Subscription{User: model.User{ID: "u1"}, Area: model.AreaSummary{ID: "a1"}}
	subs[s.Key()] = s

	mock.ExpectBegin()
	mock.ExpectExec("DELETE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	if err := NewPostgresSubscriptionRepo(db).Save(context.Background(), subs); err == nil {
		t.Fatal("挿入失敗時はエラーを返すべき")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("未実行の期待値があります: %v", err)
	}
}
