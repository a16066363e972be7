// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder はメトリクス収集のインターフェース。
// プロバイダークライアント、ワーカー、エンジンから利用する。
type Recorder interface {
	RecordStagePoll(success bool)
	RecordCurrentStage(stage int)
	RecordAlertFired()
	RecordScheduleUnavailable()
	RecordScheduleFetchFailure(areaID string)
	RecordProviderStatus(endpoint string, statusCode int)
	RecordProviderLatency(endpoint string, duration time.Duration)
	RecordSubscriptions(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	stagePoll           *prometheus.CounterVec
	currentStage        prometheus.Gauge
	alertsFired         prometheus.Counter
	scheduleUnavailable prometheus.Counter
	scheduleFetchFail   prometheus.Counter
	providerStatus      *prometheus.CounterVec
	providerLatency     *prometheus.HistogramVec
	subscriptions       prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		stagePoll: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shedalert_stage_poll_total",
			Help: "全国ステージ取得の実行回数（結果別）",
		}, []string{"result"}),
		currentStage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shedalert_current_stage",
			Help: "直近に取得した全国ステージ",
		}),
		alertsFired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shedalert_alerts_fired_total",
			Help: "発行したアラートの合計数",
		}),
		scheduleUnavailable: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shedalert_schedule_unavailable_total",
			Help: "スケジュール取得不可により評価を中断した回数",
		}),
		scheduleFetchFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shedalert_schedule_fetch_fail_total",
			Help: "エリアスケジュール取得失敗の合計数",
		}),
		providerStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shedalert_provider_http_status_total",
			Help: "外部サービスのHTTPステータスコード別レスポンス数",
		}, []string{"endpoint", "status_code"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shedalert_provider_latency_seconds",
			Help:    "外部サービス呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shedalert_subscriptions",
			Help: "現在の購読数",
		}),
	}

	reg.MustRegister(
		c.stagePoll,
		c.currentStage,
		c.alertsFired,
		c.scheduleUnavailable,
		c.scheduleFetchFail,
		c.providerStatus,
		c.providerLatency,
		c.subscriptions,
	)

	return c
}

// RecordStagePoll は全国ステージ取得の結果を記録する。
func (c *Collector) RecordStagePoll(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.stagePoll.WithLabelValues(result).Inc()
}

// RecordCurrentStage は直近のステージを記録する。
func (c *Collector) RecordCurrentStage(stage int) {
	c.currentStage.Set(float64(stage))
}

// RecordAlertFired はアラート発行を記録する。
func (c *Collector) RecordAlertFired() {
	c.alertsFired.Inc()
}

// RecordScheduleUnavailable は評価中断を記録する。
func (c *Collector) RecordScheduleUnavailable() {
	c.scheduleUnavailable.Inc()
}

// RecordScheduleFetchFailure はエリアスケジュール取得失敗を記録する。
func (c *Collector) RecordScheduleFetchFailure(areaID string) {
	c.scheduleFetchFail.Inc()
}

// RecordProviderStatus は外部サービスのHTTPステータスコードを記録する。
func (c *Collector) RecordProviderStatus(endpoint string, statusCode int) {
	c.providerStatus.WithLabelValues(endpoint, strconv.Itoa(statusCode)).Inc()
}

// RecordProviderLatency は外部サービス呼び出しのレイテンシを記録する。
func (c *Collector) RecordProviderLatency(endpoint string, duration time.Duration) {
	c.providerLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordSubscriptions は現在の購読数を記録する。
func (c *Collector) RecordSubscriptions(count int) {
	c.subscriptions.Set(float64(count))
}

// Nop は何も記録しないRecorder。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordStagePoll(bool) {}
func (Nop) RecordCurrentStage(int) {}
func (Nop) RecordAlertFired() {}
func (Nop) RecordScheduleUnavailable() {}
func (Nop) RecordScheduleFetchFailure(string) {}
func (Nop) RecordProviderStatus(string, int) {}
func (Nop) RecordProviderLatency(string, time.Duration) {}
func (Nop) RecordSubscriptions(int) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
