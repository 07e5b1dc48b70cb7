// Package metrics 提供 Prometheus 指标定义与采集方法，所有方法对 nil 接收者安全
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 指标集合
type Metrics struct {
	// HTTP 请求计数
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTP 请求耗时
	HTTPRequestDuration *prometheus.HistogramVec

	// 单会员计算结果，按 outcome 区分
	CalculationsTotal *prometheus.CounterVec
	// 批量计算耗时
	BatchDuration prometheus.Histogram
	// 已生成的账单
	TransactionsBilled prometheus.Counter

	// 对账结果，按状态区分
	ReconciliationsTotal *prometheus.CounterVec
	// 对账差异绝对值
	ReconciliationVariance prometheus.Histogram

	// 预测次数，按状态区分
	ForecastsTotal *prometheus.CounterVec
	// 新产生的告警，按级别区分
	AlertsRaised *prometheus.CounterVec

	// Kafka 发送结果
	EventsPublished *prometheus.CounterVec
}

// New 创建指标实例
func New(namespace string) *Metrics {
	return &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		CalculationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dues",
			Name:      "calculations_total",
			Help:      "Member dues calculations by outcome",
		}, []string{"outcome"}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dues",
			Name:      "batch_duration_seconds",
			Help:      "Batch dues calculation duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),
		TransactionsBilled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dues",
			Name:      "transactions_billed_total",
			Help:      "Pending dues transactions created by billing cycles",
		}),

		ReconciliationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "remittance",
			Name:      "reconciliations_total",
			Help:      "Remittance reconciliations by resulting status",
		}, []string{"status"}),
		ReconciliationVariance: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "remittance",
			Name:      "variance_amount",
			Help:      "Absolute reconciliation variance",
			Buckets:   []float64{0.01, 1, 10, 100, 1000, 10000},
		}),

		ForecastsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "strikefund",
			Name:      "forecasts_total",
			Help:      "Burn rate forecasts by fund status",
		}, []string{"status"}),
		AlertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "strikefund",
			Name:      "alerts_raised_total",
			Help:      "New strike fund alerts by level",
		}, []string{"level"}),

		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Kafka events by topic and result",
		}, []string{"topic", "result"}),
	}
}

// Register 注册所有指标
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CalculationsTotal,
		m.BatchDuration,
		m.TransactionsBilled,
		m.ReconciliationsTotal,
		m.ReconciliationVariance,
		m.ForecastsTotal,
		m.AlertsRaised,
		m.EventsPublished,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler 返回指标暴露的 HTTP handler
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// RecordCalculation 记录单会员计算，outcome 为 success 或错误码
func (m *Metrics) RecordCalculation(outcome string) {
	if m == nil {
		return
	}
	m.CalculationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveBatch 记录批量耗时
func (m *Metrics) ObserveBatch(d time.Duration) {
	if m == nil {
		return
	}
	m.BatchDuration.Observe(d.Seconds())
}

// AddBilled 累加生成的账单数
func (m *Metrics) AddBilled(n int) {
	if m == nil {
		return
	}
	m.TransactionsBilled.Add(float64(n))
}

// RecordReconciliation 记录对账结果
func (m *Metrics) RecordReconciliation(status string, absVariance float64) {
	if m == nil {
		return
	}
	m.ReconciliationsTotal.WithLabelValues(status).Inc()
	m.ReconciliationVariance.Observe(absVariance)
}

// RecordForecast 记录预测
func (m *Metrics) RecordForecast(status string) {
	if m == nil {
		return
	}
	m.ForecastsTotal.WithLabelValues(status).Inc()
}

// RecordAlert 记录新告警
func (m *Metrics) RecordAlert(level string) {
	if m == nil {
		return
	}
	m.AlertsRaised.WithLabelValues(level).Inc()
}

// RecordPublish 记录事件发送
func (m *Metrics) RecordPublish(topic string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.EventsPublished.WithLabelValues(topic, result).Inc()
}
