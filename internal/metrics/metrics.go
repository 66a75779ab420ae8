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
// バックエンド呼び出し、セッション、送信処理、HTTPブリッジから利用する。
type MetricsCollector interface {
	RecordBackendAttempt(baseURL string, success bool)
	RecordLogin(phase string)
	RecordSubmission(outcome string, photos int, duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	backendAttempts   *prometheus.CounterVec
	logins            *prometheus.CounterVec
	submissions       *prometheus.CounterVec
	submissionLatency prometheus.Histogram
	photosPerSubmit   prometheus.Histogram
	httpStatus        *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		backendAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapchef_backend_attempts_total",
			Help: "候補ベースURLごとのバックエンド試行数",
		}, []string{"base_url", "result"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapchef_logins_total",
			Help: "プロフィール補完の段階別ログイン数",
		}, []string{"phase"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapchef_submissions_total",
			Help: "結果別の写真送信数",
		}, []string{"outcome"}),
		submissionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "snapchef_submission_latency_seconds",
			Help:    "写真送信から解析結果受信までのレイテンシ（秒）",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
		}),
		photosPerSubmit: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "snapchef_photos_per_submission",
			Help:    "1回の送信に含まれる写真の枚数",
			Buckets: []float64{1, 2, 3, 5, 8},
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapchef_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.backendAttempts,
		c.logins,
		c.submissions,
		c.submissionLatency,
		c.photosPerSubmit,
		c.httpStatus,
	)

	return c
}

// RecordBackendAttempt は候補ベースURLへの試行結果を記録する。
func (c *Collector) RecordBackendAttempt(baseURL string, success bool) {
	result := "transport_error"
	if success {
		result = "responded"
	}
	c.backendAttempts.WithLabelValues(baseURL, result).Inc()
}

// RecordLogin はログインの到達段階を記録する。
func (c *Collector) RecordLogin(phase string) {
	c.logins.WithLabelValues(phase).Inc()
}

// RecordSubmission は送信結果を記録する。通信を行わなかった送信はレイテンシを記録しない。
func (c *Collector) RecordSubmission(outcome string, photos int, duration time.Duration) {
	c.submissions.WithLabelValues(outcome).Inc()
	if photos > 0 {
		c.photosPerSubmit.Observe(float64(photos))
	}
	if duration > 0 {
		c.submissionLatency.Observe(duration.Seconds())
	}
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
