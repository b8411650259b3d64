package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/apk-classify/apk-classify-go/internal/engine"
)

// PrometheusMetrics Prometheus 指标收集器
type PrometheusMetrics struct {
	logger *logrus.Logger

	// HTTP 请求指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 任务指标
	tasksTotal      *prometheus.CounterVec
	tasksInProgress prometheus.Gauge
	taskDuration    *prometheus.HistogramVec

	// 分类指标
	classificationsTotal   *prometheus.CounterVec
	obfuscationScore       prometheus.Histogram
	modifiablePoints       prometheus.Histogram
	scanTruncatedTotal     prometheus.Counter
	classificationDuration prometheus.Histogram

	// 系统指标
	memoryUsage     prometheus.Gauge
	goroutinesCount prometheus.Gauge
	gcCount         prometheus.Gauge

	// Worker Pool 指标
	workerPoolSize      prometheus.Gauge
	workerPoolActive    prometheus.Gauge
	workerPoolQueueSize prometheus.Gauge

	// 数据库指标
	dbConnectionsOpen  prometheus.Gauge
	dbConnectionsIdle  prometheus.Gauge
	dbConnectionsInUse prometheus.Gauge
}

// NewPrometheusMetrics 创建 Prometheus 指标收集器
func NewPrometheusMetrics(logger *logrus.Logger, namespace string) *PrometheusMetrics {
	if namespace == "" {
		namespace = "apk_classify"
	}

	pm := &PrometheusMetrics{
		logger: logger,

		// HTTP 请求指标
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latencies in seconds",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"method", "path"},
		),

		// 任务指标
		tasksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_total",
				Help:      "Total number of classification tasks",
			},
			[]string{"status"}, // queued, completed, failed
		),
		tasksInProgress: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tasks_in_progress",
				Help:      "Number of tasks currently in progress",
			},
		),
		taskDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Task execution duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"status"},
		),

		// 分类指标
		classificationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "classifications_total",
				Help:      "Total number of classifications by packer",
			},
			[]string{"packer"}, // 壳名, 未检出时为 none
		),
		obfuscationScore: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "obfuscation_score",
				Help:      "Obfuscation score distribution",
				Buckets:   []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
			},
		),
		modifiablePoints: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "modifiable_points",
				Help:      "Number of modifiable points found per APK",
				Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250},
			},
		),
		scanTruncatedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scan_truncated_total",
				Help:      "Number of scans truncated by the file limit",
			},
		),
		classificationDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "classification_duration_seconds",
				Help:      "Engine classification duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
		),

		// 系统指标
		memoryUsage: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "memory_usage_bytes",
				Help:      "Current memory usage in bytes",
			},
		),
		goroutinesCount: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "goroutines_count",
				Help:      "Current number of goroutines",
			},
		),
		gcCount: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "gc_count",
				Help:      "Number of completed GC cycles",
			},
		),

		// Worker Pool 指标
		workerPoolSize: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_pool_size",
				Help:      "Total number of workers in the pool",
			},
		),
		workerPoolActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_pool_active",
				Help:      "Number of active workers",
			},
		),
		workerPoolQueueSize: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_pool_queue_size",
				Help:      "Number of tasks waiting in queue",
			},
		),

		// 数据库指标
		dbConnectionsOpen: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connections_open",
				Help:      "Number of open database connections",
			},
		),
		dbConnectionsIdle: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connections_idle",
				Help:      "Number of idle database connections",
			},
		),
		dbConnectionsInUse: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connections_in_use",
				Help:      "Number of database connections in use",
			},
		),
	}

	logger.Info("Prometheus metrics initialized")
	return pm
}

// HTTPMiddleware HTTP 请求监控中间件
func (pm *PrometheusMetrics) HTTPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		pm.httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		pm.httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
	}
}

// Handler 返回 Prometheus HTTP Handler
func (pm *PrometheusMetrics) Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordTaskCreated 记录任务创建
func (pm *PrometheusMetrics) RecordTaskCreated() {
	pm.tasksTotal.WithLabelValues("queued").Inc()
}

// RecordTaskStarted 记录任务开始
func (pm *PrometheusMetrics) RecordTaskStarted() {
	pm.tasksTotal.WithLabelValues("running").Inc()
	pm.tasksInProgress.Inc()
}

// RecordTaskCompleted 记录任务完成
func (pm *PrometheusMetrics) RecordTaskCompleted(duration time.Duration) {
	pm.tasksTotal.WithLabelValues("completed").Inc()
	pm.tasksInProgress.Dec()
	pm.taskDuration.WithLabelValues("completed").Observe(duration.Seconds())
}

// RecordTaskFailed 记录任务失败
func (pm *PrometheusMetrics) RecordTaskFailed(duration time.Duration) {
	pm.tasksTotal.WithLabelValues("failed").Inc()
	pm.tasksInProgress.Dec()
	pm.taskDuration.WithLabelValues("failed").Observe(duration.Seconds())
}

// RecordClassification 记录一次分类结果
func (pm *PrometheusMetrics) RecordClassification(r *engine.Report) {
	packer := "none"
	if r.Packer != nil {
		packer = r.Packer.RuleName
	}

	pm.classificationsTotal.WithLabelValues(packer).Inc()
	pm.obfuscationScore.Observe(float64(r.Obfuscation.Score))
	pm.modifiablePoints.Observe(float64(len(r.ModifiablePoints)))
	pm.classificationDuration.Observe(r.Duration.Seconds())

	if r.ScanTruncated {
		pm.scanTruncatedTotal.Inc()
	}
}

// UpdateMemoryStats 更新内存统计
func (pm *PrometheusMetrics) UpdateMemoryStats(stats MemoryStats) {
	pm.memoryUsage.Set(float64(stats.Alloc))
	pm.goroutinesCount.Set(float64(stats.Goroutines))
	pm.gcCount.Set(float64(stats.NumGC))
}

// UpdateWorkerPoolStats 更新 Worker Pool 统计
func (pm *PrometheusMetrics) UpdateWorkerPoolStats(size, active, queueSize int) {
	pm.workerPoolSize.Set(float64(size))
	pm.workerPoolActive.Set(float64(active))
	pm.workerPoolQueueSize.Set(float64(queueSize))
}

// UpdateDBStats 更新数据库连接统计
func (pm *PrometheusMetrics) UpdateDBStats(open, idle, inUse int) {
	pm.dbConnectionsOpen.Set(float64(open))
	pm.dbConnectionsIdle.Set(float64(idle))
	pm.dbConnectionsInUse.Set(float64(inUse))
}
