// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
//
// 同时实现 runtime.Observer、supervisor.Observer、handoff.Observer 与
// registry.Observer，由 cmd 在装配时注入各组件。
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 生命周期指标
	lifecycleOpsTotal *prometheus.CounterVec
	trainingRuns      *prometheus.CounterVec
	trainingDuration  *prometheus.HistogramVec

	// 对话轮次指标
	turnsTotal   *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec

	// 运行时调用指标
	runtimeCallsTotal   *prometheus.CounterVec
	runtimeCallDuration *prometheus.HistogramVec

	// 注册表指标
	registryOpsTotal   *prometheus.CounterVec
	registryOpDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 生命周期指标
	c.lifecycleOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_lifecycle_operations_total",
			Help:      "Total number of agent lifecycle operations",
		},
		[]string{"operation", "outcome"}, // operation: create, train, start, stop
	)

	c.trainingRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_training_runs_total",
			Help:      "Total number of finished training runs",
		},
		[]string{"outcome"},
	)

	c.trainingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_training_duration_seconds",
			Help:      "Training run duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"outcome"},
	)

	// 对话轮次指标
	c.turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of routed conversational turns",
		},
		[]string{"outcome"},
	)

	c.turnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Turn duration in seconds, handoff included",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"outcome"},
	)

	// 运行时调用指标
	c.runtimeCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runtime_calls_total",
			Help:      "Total number of calls to agent runtimes",
		},
		[]string{"operation", "outcome"},
	)

	c.runtimeCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "runtime_call_duration_seconds",
			Help:      "Agent runtime call duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"operation"},
	)

	// 注册表指标
	c.registryOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_operations_total",
			Help:      "Total number of registry operations",
		},
		[]string{"operation", "outcome"},
	)

	c.registryOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "registry_operation_duration_seconds",
			Help:      "Registry operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🤖 生命周期指标记录
// =============================================================================

// ObserveLifecycle 记录一次生命周期操作
func (c *Collector) ObserveLifecycle(operation, outcome string) {
	c.lifecycleOpsTotal.WithLabelValues(operation, outcome).Inc()
}

// ObserveTraining 记录一次训练结果
func (c *Collector) ObserveTraining(outcome string, duration time.Duration) {
	c.trainingRuns.WithLabelValues(outcome).Inc()
	c.trainingDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// =============================================================================
// 💬 对话与运行时指标记录
// =============================================================================

// ObserveTurn 记录一轮对话
func (c *Collector) ObserveTurn(outcome string, duration time.Duration) {
	c.turnsTotal.WithLabelValues(outcome).Inc()
	c.turnDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveRuntimeCall 记录一次运行时 HTTP 调用
func (c *Collector) ObserveRuntimeCall(operation, outcome string, duration time.Duration) {
	c.runtimeCallsTotal.WithLabelValues(operation, outcome).Inc()
	c.runtimeCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// =============================================================================
// 🗄️ 注册表指标记录
// =============================================================================

// ObserveRegistryOp 记录一次注册表操作
func (c *Collector) ObserveRegistryOp(operation, outcome string, duration time.Duration) {
	c.registryOpsTotal.WithLabelValues(operation, outcome).Inc()
	c.registryOpDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
