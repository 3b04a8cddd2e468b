package services

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsService 对话链路的Prometheus指标
type MetricsService struct {
	TurnsTotal      *prometheus.CounterVec
	TurnDuration    *prometheus.HistogramVec
	TokensTotal     *prometheus.CounterVec
	QuotaRejections *prometheus.CounterVec
	ToolCallsTotal  *prometheus.CounterVec
}

// NewMetricsService 创建并注册指标
// 注册器由调用方传入，测试中使用独立registry避免重复注册
func NewMetricsService(reg prometheus.Registerer) *MetricsService {
	m := &MetricsService{
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_turns_total",
			Help: "Total chat turns by outcome",
		}, []string{"status"}),
		TurnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chat_turn_duration_seconds",
			Help:    "Chat turn duration from request to done event",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"model"}),
		TokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_tokens_total",
			Help: "Total tokens consumed by direction",
		}, []string{"model", "direction"}),
		QuotaRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_quota_rejections_total",
			Help: "Turns rejected by the quota guard",
		}, []string{"reason"}),
		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_tool_calls_total",
			Help: "External tool invocations by outcome",
		}, []string{"outcome"}),
	}

	reg.MustRegister(m.TurnsTotal, m.TurnDuration, m.TokensTotal, m.QuotaRejections, m.ToolCallsTotal)
	return m
}

var (
	globalMetricsOnce sync.Once
	globalMetrics     *MetricsService
)

// GetMetrics 返回注册到默认registry的全局指标实例
func GetMetrics() *MetricsService {
	globalMetricsOnce.Do(func() {
		globalMetrics = NewMetricsService(prometheus.DefaultRegisterer)
	})
	return globalMetrics
}
