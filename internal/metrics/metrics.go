// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービス、ミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordLogin(method, result string)
	RecordSessionCreated()
	RecordAuthRejection(reason string)
	RecordAuthzDenial(reason string)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	RecordCleanup(kind string, count int)
}

// ログイン方式とその結果のラベル値。
const (
	LoginMethodPassword = "password"
	LoginMethodGoogle   = "google"

	LoginResultSuccess = "success"
	LoginResultFailure = "failure"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins          *prometheus.CounterVec
	sessionsCreated prometheus.Counter
	authRejections  *prometheus.CounterVec
	authzDenials    *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
	requestLatency  prometheus.Histogram
	cleanupDeleted  *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskman_logins_total",
			Help: "ログイン試行の合計数（方式・結果別）",
		}, []string{"method", "result"}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskman_sessions_created_total",
			Help: "発行したセッションの合計数",
		}),
		authRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskman_auth_rejections_total",
			Help: "認証ミドルウェアで拒否したリクエスト数（理由別）",
		}, []string{"reason"}),
		authzDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskman_authz_denials_total",
			Help: "認可チェックで拒否した操作の数（理由別）",
		}, []string{"reason"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskman_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "taskman_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		cleanupDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskman_cleanup_deleted_total",
			Help: "メンテナンスジョブで削除した件数（種別別）",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		c.logins,
		c.sessionsCreated,
		c.authRejections,
		c.authzDenials,
		c.httpStatus,
		c.requestLatency,
		c.cleanupDeleted,
	)

	return c
}

// RecordLogin はログイン試行を記録する。
func (c *Collector) RecordLogin(method, result string) {
	c.logins.WithLabelValues(method, result).Inc()
}

// RecordSessionCreated はセッション発行を記録する。
func (c *Collector) RecordSessionCreated() {
	c.sessionsCreated.Inc()
}

// RecordAuthRejection は認証拒否を記録する。
func (c *Collector) RecordAuthRejection(reason string) {
	c.authRejections.WithLabelValues(reason).Inc()
}

// RecordAuthzDenial は認可拒否を記録する。
func (c *Collector) RecordAuthzDenial(reason string) {
	c.authzDenials.WithLabelValues(reason).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストの処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordCleanup はメンテナンスジョブの削除件数を記録する。
func (c *Collector) RecordCleanup(kind string, count int) {
	c.cleanupDeleted.WithLabelValues(kind).Add(float64(count))
}

// Noop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Noop struct{}

func (Noop) RecordLogin(string, string) {}
func (Noop) RecordSessionCreated() {}
func (Noop) RecordAuthRejection(string) {}
func (Noop) RecordAuthzDenial(string) {}
func (Noop) RecordHTTPStatus(int) {}
func (Noop) RecordRequestLatency(time.Duration) {}
func (Noop) RecordCleanup(string, int) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// compile-time interface checks
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Noop{}
)
