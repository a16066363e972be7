package app

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/shedalert/internal/config"
)

// newFakeProvider は全国ステータスとエリア照会に応答するテスト用サーバーを返す。
func newFakeProvider(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/GetStatus"):
			w.Write([]byte("1"))
		case strings.HasSuffix(r.URL.Path, "/area"):
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"events":[],"info":{"name":"Area","region":"R"},"schedule":{"days":[]}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testServeConfig(t *testing.T, providerURL string) *config.Config {
	t.Helper()
	return &config.Config{
		ESPAPIToken:           "token",
		ESPBaseURL:            providerURL,
		ESPRateLimitPerMinute: 0,
		StatusURL:             providerURL + "/GetStatus",
		ProviderTimeout:       2 * time.Second,
		StoreBackend:          config.StoreBackendFile,
		SubscriptionsFile:     filepath.Join(t.TempDir(), "subscriptions.json"),
		Timezone:              "UTC",
		Location:              time.UTC,
		StagePollBufferMinute: 30,
		ScheduleRefreshCron:   "0 0 * * *",
		FrontendToken:         "frontend",
		ServerPort:            "0",
		RateLimitGeneral:      120,
		LogLevel:              "info",
	}
}

func TestServe_StopsOnContextCancel(t *testing.T) {
	srv := newFakeProvider(t)
	cfg := testServeConfig(t, srv.URL)

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, cfg, log) }()

	time.Sleep(300 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve() error = %v, want nil", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not stop after cancel")
	}

	if !strings.Contains(buf.String(), "API server stopped gracefully") {
		t.Errorf("シャットダウンのログが出力されるべき: %s", buf.String())
	}
}

func TestServe_InvalidCron_ReturnsError(t *testing.T) {
	srv := newFakeProvider(t)
	cfg := testServeConfig(t, srv.URL)
	cfg.ScheduleRefreshCron = "not a cron"

	err := Serve(context.Background(), cfg, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	if err == nil || !strings.Contains(err.Error(), "SCHEDULE_REFRESH_CRON") {
		t.Errorf("Serve() error = %v, want cron error", err)
	}
}

func TestServe_InvalidWebhook_ReturnsError(t *testing.T) {
	srv := newFakeProvider(t)
	cfg := testServeConfig(t, srv.URL)
	cfg.ChatWebhookURL = "http://127.0.0.1/hook"

	err := Serve(context.Background(), cfg, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	if err == nil || !strings.Contains(err.Error(), "CHAT_WEBHOOK_URL") {
		t.Errorf("Serve() error = %v, want webhook error", err)
	}
}

func TestRun_WithMissingEnv_ReturnsError(t *testing.T) {
	t.Setenv("ESP_API_TOKEN", "")
	t.Setenv("FRONTEND_TOKEN", "")

	var buf bytes.Buffer
	err := Run(&buf, []string{"serve"})
	if err == nil {
		t.Fatal("Run with missing env should return error")
	}
}

func TestRun_MigrateWithoutDatabaseURL_ReturnsError(t *testing.T) {
	setTestEnv(t)
	t.Setenv("DATABASE_URL", "")

	var buf bytes.Buffer
	err := Run(&buf, []string{"migrate"})
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Errorf("Run(migrate) error = %v, want DATABASE_URL error", err)
	}
}
