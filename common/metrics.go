package common

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"
)

var (
	// HTTP 请求指标
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status_code"},
	)

	// 回调处理指标
	callbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_callbacks_total",
			Help: "Total number of payment notifications by outcome",
		},
		[]string{"provider", "outcome"},
	)

	callbackDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_callback_duration_seconds",
			Help:    "Payment notification processing duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"provider"},
	)

	orderTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_order_transitions_total",
			Help: "Total number of order status transitions",
		},
		[]string{"from", "to"},
	)

	lockAcquireTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_lock_acquire_total",
			Help: "Order lock acquisitions by backend and result",
		},
		[]string{"backend", "result"},
	)

	// 错误指标
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors",
		},
		[]string{"type", "error_code"},
	)

	// 速率限制指标
	rateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
		[]string{"limit_type", "path"},
	)

	// 数据库指标
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"operation"},
	)

	dbQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	// Redis 指标
	redisOperationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Total number of Redis operations",
		},
		[]string{"operation", "status"},
	)
)

// MetricsMiddleware 监控指标中间件
func MetricsMiddleware() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		start := time.Now()
		method := string(c.Method())

		c.Next(ctx)

		path := normalizePath(c)
		duration := time.Since(start).Seconds()
		statusCode := c.Response.StatusCode()
		statusCodeStr := fmt.Sprintf("%d", statusCode)

		httpRequestsTotal.WithLabelValues(method, path, statusCodeStr).Inc()
		httpRequestDuration.WithLabelValues(method, path, statusCodeStr).Observe(duration)

		if statusCode >= 500 {
			errorsTotal.WithLabelValues("http_error", statusCodeStr).Inc()
		} else if statusCode >= 400 {
			errorsTotal.WithLabelValues("client_error", statusCodeStr).Inc()
		}
	}
}

// RecordCallback 记录回调处理结果
func RecordCallback(provider, outcome string, duration time.Duration) {
	callbacksTotal.WithLabelValues(provider, outcome).Inc()
	callbackDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordTransition 记录订单状态迁移
func RecordTransition(from, to string) {
	orderTransitions.WithLabelValues(from, to).Inc()
}

// RecordLockAcquire 记录订单锁获取结果
func RecordLockAcquire(backend, result string) {
	lockAcquireTotal.WithLabelValues(backend, result).Inc()
}

// RecordRateLimitHit 记录速率限制命中
func RecordRateLimitHit(limitType, path string) {
	rateLimitHits.WithLabelValues(limitType, path).Inc()
}

// RecordDBQuery 记录数据库查询指标
func RecordDBQuery(operation, status string, duration time.Duration) {
	dbQueryTotal.WithLabelValues(operation, status).Inc()
	dbQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())

	if status == "error" {
		errorsTotal.WithLabelValues("db_error", operation).Inc()
	}
}

// RecordRedisOperation 记录 Redis 操作指标
func RecordRedisOperation(operation, status string) {
	redisOperationTotal.WithLabelValues(operation, status).Inc()
	if status == "error" {
		errorsTotal.WithLabelValues("redis_error", operation).Inc()
	}
}

// normalizePath 使用路由模板作为标签，避免 order_no 造成标签爆炸
func normalizePath(c *app.RequestContext) string {
	if full := c.FullPath(); full != "" {
		return full
	}
	return "unmatched"
}

// MetricsHandler 以 Prometheus 文本格式输出默认注册表
func MetricsHandler(ctx context.Context, c *app.RequestContext) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		zap.L().Error("Failed to gather metrics", zap.Error(err))
		c.JSON(500, utils.H{"error": "Failed to gather metrics", "details": err.Error()})
		return
	}

	var out strings.Builder
	for _, mf := range families {
		writeFamily(&out, mf)
	}

	c.SetStatusCode(200)
	c.Header("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	c.Write([]byte(out.String()))
}

func writeFamily(out *strings.Builder, mf *dto.MetricFamily) {
	name := mf.GetName()
	if mf.Help != nil {
		fmt.Fprintf(out, "# HELP %s %s\n", name, mf.GetHelp())
	}
	fmt.Fprintf(out, "# TYPE %s %s\n", name, strings.ToLower(mf.GetType().String()))

	for _, m := range mf.Metric {
		switch mf.GetType() {
		case dto.MetricType_COUNTER:
			fmt.Fprintf(out, "%s%s %v\n", name, labelString(m.Label), m.GetCounter().GetValue())
		case dto.MetricType_GAUGE:
			fmt.Fprintf(out, "%s%s %v\n", name, labelString(m.Label), m.GetGauge().GetValue())
		case dto.MetricType_HISTOGRAM:
			h := m.GetHistogram()
			for _, b := range h.Bucket {
				le := strconv.FormatFloat(b.GetUpperBound(), 'g', -1, 64)
				fmt.Fprintf(out, "%s_bucket%s %d\n", name, labelString(m.Label, "le", le), b.GetCumulativeCount())
			}
			fmt.Fprintf(out, "%s_bucket%s %d\n", name, labelString(m.Label, "le", "+Inf"), h.GetSampleCount())
			fmt.Fprintf(out, "%s_sum%s %v\n", name, labelString(m.Label), h.GetSampleSum())
			fmt.Fprintf(out, "%s_count%s %d\n", name, labelString(m.Label), h.GetSampleCount())
		case dto.MetricType_SUMMARY:
			sm := m.GetSummary()
			fmt.Fprintf(out, "%s_sum%s %v\n", name, labelString(m.Label), sm.GetSampleSum())
			fmt.Fprintf(out, "%s_count%s %d\n", name, labelString(m.Label), sm.GetSampleCount())
		}
	}
	out.WriteString("\n")
}

// labelString 拼接标签，extra 为额外的 name/value 对
func labelString(labels []*dto.LabelPair, extra ...string) string {
	parts := make([]string, 0, len(labels)+len(extra)/2)
	for _, l := range labels {
		parts = append(parts, fmt.Sprintf("%s=%q", l.GetName(), l.GetValue()))
	}
	for i := 0; i+1 < len(extra); i += 2 {
		parts = append(parts, fmt.Sprintf("%s=%q", extra[i], extra[i+1]))
	}
	if len(parts) == 0 {
		return ""
	}
	return "{" + strings.Join(parts, ",") + "}"
}
