// Package metrics 定义发布流程的 Prometheus 指标。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PublishTargets 按站点与结果统计单个目标的发布次数。
	PublishTargets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsrelay_publish_targets_total",
		Help: "Per-target publish outcomes.",
	}, []string{"portal", "outcome"})

	// PublishDuration 为单个目标从领取记录到落库的耗时。
	PublishDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "newsrelay_publish_target_duration_seconds",
		Help:    "Time spent publishing to one target.",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"portal"})

	// GatewayRequests 统计站点接口调用。
	GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsrelay_gateway_requests_total",
		Help: "Portal API calls by operation and result.",
	}, []string{"portal", "operation", "result"})

	// GatewayLatency 为站点接口的响应耗时。
	GatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "newsrelay_gateway_request_duration_seconds",
		Help:    "Portal API latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// BreakerState 记录站点熔断器状态：0 关闭，1 半开，2 打开。
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "newsrelay_gateway_breaker_state",
		Help: "Circuit breaker state per portal.",
	}, []string{"portal"})

	// RewriteRequests 统计 AI 改写调用。
	RewriteRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsrelay_rewrite_requests_total",
		Help: "AI rewrite calls by result.",
	}, []string{"result"})

	// Jobs 统计后台任务的状态变更。
	Jobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsrelay_publish_jobs_total",
		Help: "Background publish job transitions.",
	}, []string{"state"})

	// HTTPRequests 按路由与状态码统计 API 请求。
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsrelay_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"method", "route", "status"})

	// QueueDepth 为工作池队列中待处理的任务数。
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "newsrelay_job_queue_depth",
		Help: "Tasks waiting in the worker queue.",
	})
)
