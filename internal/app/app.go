package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/shedalert/internal/config"
	"github.com/hitoshi/shedalert/internal/database"
	"github.com/hitoshi/shedalert/internal/engine"
	"github.com/hitoshi/shedalert/internal/handler"
	"github.com/hitoshi/shedalert/internal/logger"
	"github.com/hitoshi/shedalert/internal/metrics"
	"github.com/hitoshi/shedalert/internal/middleware"
	"github.com/hitoshi/shedalert/internal/notify"
	"github.com/hitoshi/shedalert/internal/provider"
	"github.com/hitoshi/shedalert/internal/repository"
	"github.com/hitoshi/shedalert/internal/security"
	"github.com/hitoshi/shedalert/internal/worker/refresh"
	"github.com/hitoshi/shedalert/internal/worker/stage"
)

// shutdownTimeout はHTTPサーバーのグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// .envがあれば読み込み、環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	log := logger.SetupDefault(w, slog.LevelInfo)

	// 2. .envの読み込み。既に設定済みの環境変数は上書きしない
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("failed to load .env: %w", err)
	}

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 4. 設定されたログレベルでロガーを作り直す
	if level := logger.ParseLevel(cfg.LogLevel); level != slog.LevelInfo {
		log = logger.SetupDefault(w, level)
	}

	return cfg, log, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, log, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	log.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("store_backend", cfg.StoreBackend),
		slog.String("timezone", cfg.Timezone),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg, log)
	default:
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return Serve(ctx, cfg, log)
	}
}

// Serve は全依存関係をワイヤリングし、エンジン・ワーカー・HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func Serve(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 1. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rec := metrics.NewCollector(reg)

	// 2. 購読ストア
	repo, closeRepo, err := openRepository(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeRepo()

	// 3. 外部サービスクライアント
	client := provider.NewClient(
		&http.Client{Timeout: cfg.ProviderTimeout},
		provider.Config{
			BaseURL:           cfg.ESPBaseURL,
			StatusURL:         cfg.StatusURL,
			Token:             cfg.ESPAPIToken,
			TestMode:          cfg.ESPTestMode,
			RequestsPerMinute: cfg.ESPRateLimitPerMinute,
		},
		log, rec,
	)

	// 4. 通知先
	sink, err := newSink(cfg, log)
	if err != nil {
		return err
	}

	// 5. エンジン
	loc := cfg.Location
	eng := engine.New(repo, client, sink, log, rec,
		engine.WithClock(func() time.Time { return time.Now().In(loc) }),
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		eng.Run(ctx)
	}()
	// ctxのキャンセルで各ゴルーチンを止めてから戻る
	defer wg.Wait()
	defer cancel()

	if err := eng.Load(ctx); err != nil {
		return fmt.Errorf("failed to load subscriptions: %w", err)
	}

	// 6. ワーカー
	poller := stage.NewPoller(client, eng, log, rec, loc, cfg.StagePollBufferMinute)
	refresher, err := refresh.NewRefresher(eng, log, cfg.ScheduleRefreshCron, loc)
	if err != nil {
		return fmt.Errorf("invalid SCHEDULE_REFRESH_CRON: %w", err)
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		poller.Start(ctx, eng.Ready())
	}()
	go func() {
		defer wg.Done()
		refresher.Start(ctx, eng.Ready())
	}()

	// 7. HTTPサーバー
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral), log)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Service:        eng,
		FrontendToken:  cfg.FrontendToken,
		RateLimiter:    rateLimiter,
		MetricsHandler: metrics.Handler(reg),
		Logger:         log,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2*cfg.ProviderTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	}

	log.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("API server stopped gracefully")
	return nil
}

// openRepository は設定されたバックエンドの購読リポジトリを開く。
// 戻り値のclose関数は必ず呼び出すこと。
func openRepository(ctx context.Context, cfg *config.Config, log *slog.Logger) (repository.SubscriptionRepository, func(), error) {
	switch cfg.StoreBackend {
	case config.StoreBackendPostgres:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := database.Ping(ctx, db, 5*time.Second); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		log.Info("database connection established")
		return repository.NewPostgresSubscriptionRepo(db), func() { db.Close() }, nil
	default:
		log.Info("using file subscription store", slog.String("path", cfg.SubscriptionsFile))
		return repository.NewFileSubscriptionRepo(cfg.SubscriptionsFile), func() {}, nil
	}
}

// newSink はCHAT_WEBHOOK_URLが設定されていればWebhook送信先を、なければログ出力のみの送信先を返す。
// WebhookのURLは起動時に検証し、送信には内部ネットワークへ接続しないクライアントを使う。
func newSink(cfg *config.Config, log *slog.Logger) (notify.Sink, error) {
	if cfg.ChatWebhookURL == "" {
		log.Warn("CHAT_WEBHOOK_URL is not set; alerts are logged only")
		return notify.NewLogSink(log), nil
	}

	guard := security.NewOutboundGuard(true)
	if err := guard.ValidateURL(cfg.ChatWebhookURL); err != nil {
		return nil, fmt.Errorf("invalid CHAT_WEBHOOK_URL: %w", err)
	}

	return notify.NewWebhookSink(
		guard.NewSafeClient(cfg.ProviderTimeout),
		cfg.ChatWebhookURL,
		security.NewTextSanitizer(),
		log,
	), nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config, log *slog.Logger) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required for migrate")
	}

	log.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
