package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 收件箱指标
	InboxesCreated  prometheus.Counter
	InboxesExpired  prometheus.Counter
	InboxesAnalyzed prometheus.Counter

	// 分析指标
	AnalysesTotal    *prometheus.CounterVec // outcome: analyzed / retry / quota_denied / duplicate / failed
	AnalysisDuration prometheus.Histogram
	AnalysisScore    prometheus.Histogram
	CheckDuration    *prometheus.HistogramVec // check: spf / dkim / dmarc / rdns / blacklists / spamassassin

	// 黑名单指标
	BlacklistQueries  *prometheus.CounterVec // status: listed / not_listed / timeout / error
	BlacklistListings prometheus.Counter

	// 配额指标
	QuotaDenials *prometheus.CounterVec // kind: identity / anonymous

	// 队列指标
	JobsEnqueued  prometheus.Counter
	JobsRetried   prometheus.Counter
	JobsAbandoned prometheus.Counter
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailtester_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailtester_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		InboxesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailtester_inboxes_created_total",
			Help: "Total number of test inboxes created",
		}),
		InboxesExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailtester_inboxes_expired_total",
			Help: "Total number of test inboxes removed by expiry",
		}),
		InboxesAnalyzed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailtester_inboxes_analyzed_total",
			Help: "Total number of test inboxes analyzed successfully",
		}),

		AnalysesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailtester_analyses_total",
				Help: "Analysis task outcomes",
			},
			[]string{"outcome"},
		),
		AnalysisDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailtester_analysis_duration_seconds",
			Help:    "End to end duration of a single analysis",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		AnalysisScore: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailtester_analysis_score",
			Help:    "Distribution of final deliverability scores",
			Buckets: []float64{0, 2, 4, 6, 7, 8, 9, 10},
		}),
		CheckDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailtester_check_duration_seconds",
				Help:    "Duration of individual deliverability checks",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"check"},
		),

		BlacklistQueries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailtester_blacklist_queries_total",
				Help: "DNSBL zone query results",
			},
			[]string{"status"},
		),
		BlacklistListings: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailtester_blacklist_listings_total",
			Help: "Analyses where the sender IP was listed on at least one zone",
		}),

		QuotaDenials: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailtester_quota_denials_total",
				Help: "Admission denials due to exhausted daily quota",
			},
			[]string{"kind"},
		),

		JobsEnqueued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailtester_jobs_enqueued_total",
			Help: "Analysis jobs pushed to the queue",
		}),
		JobsRetried: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailtester_jobs_retried_total",
			Help: "Analysis jobs rescheduled because the message had not arrived",
		}),
		JobsAbandoned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailtester_jobs_abandoned_total",
			Help: "Analysis jobs abandoned after exhausting the retry budget",
		}),
	}
}

// Handler 返回 Prometheus 指标处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
