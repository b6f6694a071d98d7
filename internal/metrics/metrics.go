// 包 metrics：进程级 Prometheus 指标，覆盖覆盖度采样、完成提交、级联写入与 API 请求
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FogSamplesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fog_samples_total",
		Help: "GPS samples by outcome (logged, deduped, unlocated, completed_zone, known_cell, new_cell)",
	}, []string{"outcome"})
	VisitChecksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fog_visit_checks_total",
		Help: "Visit coverage checks by outcome",
	}, []string{"outcome"})
	CompletionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fog_completions_total",
		Help: "Zone completion attempts by result (success, failure, suppressed)",
	}, []string{"result"})
	CommitDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fog_commit_duration_ms",
		Help:    "Remote progression commit duration in milliseconds",
		Buckets: []float64{5, 10, 20, 50, 100, 200, 500, 1000, 5000},
	})
	CascadeWritesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fog_cascade_writes_total",
		Help: "Parent progression writes performed by the cascade, by action (created, flipped, noop)",
	}, []string{"level", "action"})
	ProgressionWritesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fog_progression_writes_total",
		Help: "Progression create requests by action (created, flipped, noop, deduped)",
	}, []string{"action"})
	CatalogCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fog_catalog_cache_total",
		Help: "Catalog cache lookups by backend and result",
	}, []string{"backend", "result"})
	APIRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fog_api_requests_total",
		Help: "Outgoing API client requests by endpoint and status",
	}, []string{"endpoint", "status"})
	APIDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fog_api_duration_ms",
		Help:    "Outgoing API client call duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
	}, []string{"endpoint"})
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fog_http_requests_total",
		Help: "Served HTTP requests by route pattern, method and status",
	}, []string{"route", "method", "status"})
	HTTPDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fog_http_duration_ms",
		Help:    "Served HTTP request duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
	}, []string{"route"})
)

func init() {
	prometheus.MustRegister(FogSamplesTotal)
	prometheus.MustRegister(VisitChecksTotal)
	prometheus.MustRegister(CompletionsTotal)
	prometheus.MustRegister(CommitDurationMs)
	prometheus.MustRegister(CascadeWritesTotal)
	prometheus.MustRegister(ProgressionWritesTotal)
	prometheus.MustRegister(CatalogCacheTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIDurationMs)
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPDurationMs)
}

// 文档注释：返回 Prometheus 指标监听器
// 背景：统一暴露注册指标到 /metrics 路径，供 Prometheus 抓取；在主入口挂载。
func Handler() http.Handler { return promhttp.Handler() }
