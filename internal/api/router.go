package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/apk-classify/apk-classify-go/internal/api/handlers"
	"github.com/apk-classify/apk-classify-go/internal/config"
	"github.com/apk-classify/apk-classify-go/internal/middleware"
	"github.com/apk-classify/apk-classify-go/internal/repository"
	"github.com/apk-classify/apk-classify-go/internal/service"
)

func SetupRouter(cfg *config.Config, logger *logrus.Logger, db *gorm.DB, memMonitor *middleware.MemoryMonitor, promMetrics *middleware.PrometheusMetrics, statusHub *handlers.StatusHub) *gin.Engine {
	// 设置 Gin 模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// 全局中间件
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(logger))
	r.Use(CORSMiddleware())

	// Prometheus 监控中间件
	if promMetrics != nil {
		r.Use(promMetrics.HTTPMiddleware())
	}

	// 初始化依赖
	taskRepo := repository.NewTaskRepository(db, logger)
	classRepo := repository.NewClassificationRepository(db)
	taskService := service.NewTaskService(taskRepo, logger)

	// 初始化处理器
	taskHandler := handlers.NewTaskHandler(taskService, logger)
	classHandler := handlers.NewClassificationHandler(classRepo, logger)
	fileHandler := handlers.NewFileHandler(taskService, logger, cfg.ResultDir, cfg.APKDir)

	// 任务状态 WebSocket 推送
	if statusHub != nil {
		r.GET("/ws/tasks/:task_id", statusHub.HandleWebSocket)
	}

	// 内存监控端点
	r.GET("/metrics", memMonitor.MetricsEndpoint())
	r.POST("/debug/gc", middleware.ForceGC())

	// Prometheus 指标端点
	if promMetrics != nil {
		r.GET("/metrics/prometheus", promMetrics.Handler())
	}

	// API v1
	v1 := r.Group("/api")
	{
		// 健康检查
		v1.GET("/health", func(c *gin.Context) {
			c.JSON(200, gin.H{
				"status":  "ok",
				"version": "1.0.0",
			})
		})

		// 系统统计
		v1.GET("/stats", taskHandler.GetSystemStats)

		// 任务管理
		v1.GET("/tasks", taskHandler.ListTasks)
		v1.GET("/tasks/queued", taskHandler.ListQueuedTasks) // 获取所有排队任务（不分页）
		v1.GET("/tasks/:id", taskHandler.GetTask)
		v1.DELETE("/tasks/:id", taskHandler.DeleteTask)
		v1.POST("/tasks/:id/retry", taskHandler.RetryTask)

		// 分类结果
		v1.GET("/tasks/:id/classification", classHandler.GetClassification)
		v1.GET("/tasks/:id/report", fileHandler.GetReport)

		// 壳统计
		v1.GET("/packers/statistics", classHandler.GetPackerStatistics)
		v1.GET("/packers/:name/tasks", classHandler.ListPackerTasks)

		// 文件服务
		v1.POST("/upload", fileHandler.UploadAPK)            // 单个 APK 上传
		v1.POST("/upload/batch", fileHandler.UploadAPKBatch) // 批量 APK 上传
	}

	return r
}

// LoggerMiddleware 日志中间件
func LoggerMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		method := c.Request.Method
		path := c.Request.URL.Path

		logger.WithFields(logrus.Fields{
			"status":  statusCode,
			"method":  method,
			"path":    path,
			"latency": latency.Milliseconds(),
		}).Info("HTTP Request")
	}
}

// CORSMiddleware CORS 中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
