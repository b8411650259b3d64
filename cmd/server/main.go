package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/apk-classify/apk-classify-go/internal/api"
	"github.com/apk-classify/apk-classify-go/internal/api/handlers"
	"github.com/apk-classify/apk-classify-go/internal/config"
	"github.com/apk-classify/apk-classify-go/internal/decompiler"
	"github.com/apk-classify/apk-classify-go/internal/engine"
	"github.com/apk-classify/apk-classify-go/internal/extractor"
	"github.com/apk-classify/apk-classify-go/internal/middleware"
	"github.com/apk-classify/apk-classify-go/internal/queue"
	"github.com/apk-classify/apk-classify-go/internal/repository"
	"github.com/apk-classify/apk-classify-go/internal/service"
	"github.com/apk-classify/apk-classify-go/internal/signature"
	"github.com/apk-classify/apk-classify-go/internal/watcher"
	"github.com/apk-classify/apk-classify-go/internal/worker"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// submitFunc 任务投递函数 (RabbitMQ 发布或直接进 Worker Pool)
type submitFunc func(ctx context.Context, msg *queue.TaskMessage) error

func main() {
	// 1. 打印版本信息
	fmt.Printf("APK Classification Engine - Go Version\n")
	fmt.Printf("Version: %s\n", Version)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n\n", GitCommit)

	// 2. 加载配置
	configPath := "./configs/config.yaml"
	if len(os.Args) > 1 && os.Args[1] == "--config" && len(os.Args) > 2 {
		configPath = os.Args[2]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 3. 初始化日志
	logger := config.InitLogger(&cfg.Log)
	logger.Infof("Starting APK Classification Engine %s", Version)
	logger.Infof("Config loaded from: %s", configPath)

	// 4. 初始化数据库
	db, err := repository.InitDB(&cfg.Database, logger)
	if err != nil {
		logger.Fatalf("Failed to init database: %v", err)
	}
	logger.Info("Database connected successfully")

	// 清理因服务重启而中断的任务
	if err := cleanupStuckTasks(db, logger); err != nil {
		logger.WithError(err).Warn("Failed to cleanup stuck tasks")
	}

	// 5. 初始化 Repositories 和 Services
	taskRepo := repository.NewTaskRepository(db, logger)
	classRepo := repository.NewClassificationRepository(db)
	taskService := service.NewTaskService(taskRepo, logger)

	// 6. 初始化分类引擎
	registry := signature.NewBuiltinRegistry(logger)
	classifyEngine := engine.New(registry, cfg.Classification, logger)
	apkExtractor := extractor.NewExtractor(logger)
	sourceDecompiler := decompiler.NewDecompiler(cfg.Decompiler, logger)
	logger.WithFields(logrus.Fields{
		"packer_rules":         len(registry.PackerRules()),
		"sensitive_categories": len(registry.Categories()),
	}).Info("Classification engine initialized with builtin signature registry")

	// 7. 初始化 Prometheus 指标和内存监控
	promMetrics := middleware.NewPrometheusMetrics(logger, "apk_classify")
	logger.Info("Prometheus metrics initialized")

	memMonitor := middleware.NewMemoryMonitor(logger, 30*time.Second)
	memMonitor.AttachPrometheus(promMetrics)
	memMonitor.Start()
	defer memMonitor.Stop()
	logger.Info("Memory monitor started")

	// 8. 初始化任务状态 WebSocket 推送
	statusHub := handlers.NewStatusHub(logger)
	statusHub.Start()
	logger.Info("Task status hub started for real-time progress push")

	// 9. 初始化核心编排器 (Orchestrator)
	if err := os.MkdirAll(cfg.ResultDir, 0755); err != nil {
		logger.Fatalf("Failed to create result directory: %v", err)
	}
	orchestrator := worker.NewOrchestrator(taskRepo, classRepo, apkExtractor, sourceDecompiler,
		classifyEngine, statusHub, promMetrics, cfg.ResultDir, logger)
	logger.WithField("result_dir", cfg.ResultDir).Info("Orchestrator initialized")

	// 10. 初始化 Worker Pool
	workerPool := worker.NewPool(cfg.Worker.Concurrency, cfg.Worker.QueueSize, orchestrator, logger)
	workerPool.Start(context.Background())
	defer workerPool.Stop()
	logger.Infof("Worker pool started with %d workers", cfg.Worker.Concurrency)

	// 启动 Prometheus 指标更新协程
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			sqlDB, err := db.DB()
			if err != nil {
				continue
			}
			dbStats := sqlDB.Stats()
			promMetrics.UpdateDBStats(dbStats.OpenConnections, dbStats.Idle, dbStats.InUse)
			promMetrics.UpdateWorkerPoolStats(workerPool.GetWorkerCount(), workerPool.GetActiveCount(), workerPool.GetQueueSize())
		}
	}()

	// 11. 初始化任务投递通道
	// RabbitMQ 启用时任务经消息队列流转，否则直接进 Worker Pool
	var submit submitFunc
	if cfg.RabbitMQ.Enabled {
		mqConfig := &queue.RabbitMQConfig{
			Host:     cfg.RabbitMQ.Host,
			Port:     cfg.RabbitMQ.Port,
			User:     cfg.RabbitMQ.User,
			Password: cfg.RabbitMQ.Password,
			VHost:    cfg.RabbitMQ.VHost,
		}
		workerCount := cfg.Worker.Concurrency
		if workerCount <= 0 {
			workerCount = 1
		}
		mq, err := queue.NewRabbitMQWithPrefetch(mqConfig, cfg.RabbitMQ.Queue, workerCount, logger)
		if err != nil {
			logger.Fatalf("Failed to init RabbitMQ: %v", err)
		}
		defer mq.Close()
		logger.WithField("prefetch_count", workerCount).Info("RabbitMQ connected successfully")

		producer := queue.NewProducer(mq, logger)
		submit = func(ctx context.Context, msg *queue.TaskMessage) error {
			return producer.PublishTask(ctx, msg)
		}

		// 重新发布排队中的任务（服务重启后以数据库为准重建队列）
		if err := republishQueuedTasks(db, mq, producer, cfg.APKDir, logger); err != nil {
			logger.WithError(err).Warn("Failed to republish queued tasks")
		}

		// 启动任务消费者 (从 RabbitMQ 读取任务并提交到 Worker Pool)
		consumer := queue.NewConsumer(mq, createTaskHandler(workerPool, producer, logger), workerCount, logger)
		if err := consumer.Start(context.Background()); err != nil {
			logger.Fatalf("Failed to start consumer: %v", err)
		}
		defer consumer.Stop()
		logger.Infof("Task consumer started with %d workers", workerCount)
	} else {
		logger.Info("RabbitMQ disabled, tasks will be dispatched to worker pool directly")
		submit = createDirectSubmitter(workerPool, logger)

		// 重新提交排队中的任务（以数据库为准恢复执行）
		if err := resubmitQueuedTasks(taskRepo, submit, cfg.APKDir, logger); err != nil {
			logger.WithError(err).Warn("Failed to resubmit queued tasks")
		}
	}

	// 12. 启动文件监控
	fileWatcher, err := watcher.NewFileWatcher(cfg.APKDir, "*.apk", true, createFileHandler(taskService, submit, promMetrics, logger), logger)
	if err != nil {
		logger.Fatalf("Failed to create file watcher: %v", err)
	}
	defer fileWatcher.Stop()

	if err := fileWatcher.Start(context.Background()); err != nil {
		logger.Fatalf("Failed to start file watcher: %v", err)
	}
	logger.Infof("File watcher started for directory: %s", cfg.APKDir)

	// 13. 设置 HTTP Server
	router := api.SetupRouter(cfg, logger, db, memMonitor, promMetrics, statusHub)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Minute, // 10分钟，支持大文件上传
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	// 14. 启动 HTTP Server
	go func() {
		logger.Infof("HTTP server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("HTTP server error: %v", err)
		}
	}()

	// 15. 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down gracefully...")

	// 16. 优雅关闭 (30秒超时)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("HTTP server shutdown error: %v", err)
	}

	sqlDB, _ := db.DB()
	sqlDB.Close()

	logger.Info("Server stopped")
}

// createTaskHandler 创建任务处理器 (从 RabbitMQ 消息提交到 Worker Pool)
// producer 用于在任务需要重试时重新发布消息
func createTaskHandler(workerPool *worker.Pool, producer *queue.Producer, logger *logrus.Logger) queue.TaskHandler {
	return func(ctx context.Context, msg *queue.TaskMessage) error {
		logger.WithFields(logrus.Fields{
			"task_id":  msg.TaskID,
			"apk_name": msg.APKName,
			"apk_path": msg.APKPath,
		}).Info("Received task from RabbitMQ, submitting to worker pool")

		task := &worker.Task{
			ID:      msg.TaskID,
			APKPath: msg.APKPath,
		}

		if err := workerPool.SubmitAndWait(ctx, task); err != nil {
			// 检查是否为可重试错误
			if retryErr, ok := worker.IsRetryableError(err); ok {
				logger.WithFields(logrus.Fields{
					"task_id":     retryErr.TaskID,
					"retry_count": retryErr.RetryCount,
					"max_retry":   retryErr.MaxRetry,
				}).Warn("🔄 Task failed, republishing to RabbitMQ for retry...")

				retryMsg := &queue.TaskMessage{
					TaskID:  retryErr.TaskID,
					APKName: msg.APKName,
					APKPath: retryErr.APKPath,
					Attempt: retryErr.RetryCount,
				}
				if pubErr := producer.PublishTask(ctx, retryMsg); pubErr != nil {
					logger.WithError(pubErr).WithField("task_id", retryErr.TaskID).Error("Failed to republish task for retry")
					return pubErr
				}
				logger.WithField("task_id", retryErr.TaskID).Info("✅ Task republished to RabbitMQ for retry")
				return nil // 重试已安排，不返回错误
			}

			logger.WithError(err).Error("Task execution failed")
			return err
		}

		logger.WithField("task_id", msg.TaskID).Info("Task completed successfully")
		return nil
	}
}

// createDirectSubmitter 创建直接投递到 Worker Pool 的任务投递函数
// 可重试错误在本进程内延迟重新投递，代替消息队列的重新入队
func createDirectSubmitter(workerPool *worker.Pool, logger *logrus.Logger) submitFunc {
	return func(ctx context.Context, msg *queue.TaskMessage) error {
		go func() {
			for {
				task := &worker.Task{
					ID:      msg.TaskID,
					APKPath: msg.APKPath,
				}

				err := workerPool.SubmitAndWait(context.Background(), task)
				if err == nil {
					return
				}

				retryErr, ok := worker.IsRetryableError(err)
				if !ok {
					return // 终态失败已由编排器落库
				}

				logger.WithFields(logrus.Fields{
					"task_id":     retryErr.TaskID,
					"retry_count": retryErr.RetryCount,
					"max_retry":   retryErr.MaxRetry,
				}).Warn("🔄 Task failed, re-dispatching to worker pool for retry...")
				time.Sleep(5 * time.Second)
			}
		}()
		return nil
	}
}

// createFileHandler 创建文件处理器
func createFileHandler(taskService service.TaskService, submit submitFunc, promMetrics *middleware.PrometheusMetrics, logger *logrus.Logger) watcher.FileHandler {
	return func(ctx context.Context, filePath string) error {
		fileName := filepath.Base(filePath)
		logger.WithFields(logrus.Fields{
			"file_path": filePath,
			"file_name": fileName,
		}).Info("New APK file detected")

		// 1. 创建任务
		task, err := taskService.CreateTask(ctx, fileName, filePath)
		if err != nil {
			return fmt.Errorf("failed to create task: %w", err)
		}
		promMetrics.RecordTaskCreated()

		// 2. 投递任务
		msg := &queue.TaskMessage{
			TaskID:  task.ID,
			APKName: fileName,
			APKPath: filePath,
		}

		if err := submit(ctx, msg); err != nil {
			return fmt.Errorf("failed to submit task: %w", err)
		}

		logger.WithFields(logrus.Fields{
			"task_id":  task.ID,
			"apk_name": fileName,
		}).Info("Task created and dispatched")

		return nil
	}
}

// cleanupStuckTasks 清理因服务重启而中断的任务
// 将所有执行中状态的任务标记为 failed
// 注意：queued 状态的任务不需要清理，它们会被重新投递
func cleanupStuckTasks(db *gorm.DB, logger *logrus.Logger) error {
	logger.Info("Checking for stuck tasks from previous service run...")

	// 只清理正在执行的任务，queued 任务会被重新投递
	stuckStatuses := []string{"extracting", "decompiling", "classifying"}

	var stuckTasks []struct {
		ID     string
		Status string
	}

	err := db.Table("apk_tasks").
		Select("id", "status").
		Where("status IN ?", stuckStatuses).
		Find(&stuckTasks).Error

	if err != nil {
		return fmt.Errorf("failed to query stuck tasks: %w", err)
	}

	if len(stuckTasks) == 0 {
		logger.Info("No stuck tasks found (queued tasks will continue)")
		return nil
	}

	logger.Infof("Found %d stuck tasks, marking as failed...", len(stuckTasks))

	now := time.Now().UTC()
	result := db.Table("apk_tasks").
		Where("status IN ?", stuckStatuses).
		Updates(map[string]interface{}{
			"status":        "failed",
			"error_message": "服务重启，任务中断",
			"completed_at":  now,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to update stuck tasks: %w", result.Error)
	}

	logger.WithField("count", result.RowsAffected).Warn("Marked stuck tasks as failed due to service restart (queued tasks preserved)")

	return nil
}

// republishQueuedTasks 重新发布排队中的任务到 RabbitMQ
// 服务重启后，以数据库为唯一真实数据源，重建 RabbitMQ 队列
// 步骤：1. 清空队列中的残留消息  2. 从数据库查询 queued 任务  3. 重新投递
func republishQueuedTasks(db *gorm.DB, mq *queue.RabbitMQ, producer *queue.Producer, apkDir string, logger *logrus.Logger) error {
	logger.Info("Rebuilding RabbitMQ queue from database (single source of truth)...")

	// 1. 先清空队列，确保没有残留的重复/过期消息
	purgedCount, err := mq.PurgeQueue()
	if err != nil {
		logger.WithError(err).Warn("Failed to purge queue, continuing with republish...")
	} else if purgedCount > 0 {
		logger.WithField("purged_count", purgedCount).Info("Cleared stale messages from queue")
	}

	// 2. 查找所有 queued 状态的任务
	var queuedTasks []struct {
		ID      string
		APKName string
		APKPath string
	}

	err = db.Table("apk_tasks").
		Select("id", "apk_name", "apk_path").
		Where("status = ?", "queued").
		Order("created_at ASC"). // 按创建时间排序，先进先出
		Find(&queuedTasks).Error

	if err != nil {
		return fmt.Errorf("failed to query queued tasks: %w", err)
	}

	if len(queuedTasks) == 0 {
		logger.Info("No queued tasks found, queue is empty and clean")
		return nil
	}

	logger.Infof("Found %d queued tasks in database, republishing to RabbitMQ...", len(queuedTasks))

	successCount := 0
	for _, task := range queuedTasks {
		apkPath := task.APKPath
		if apkPath == "" {
			// 旧数据没有存路径，按入库目录和文件名重建
			apkPath = filepath.Join(apkDir, task.APKName)
		}

		msg := &queue.TaskMessage{
			TaskID:  task.ID,
			APKName: task.APKName,
			APKPath: apkPath,
		}

		if err := producer.PublishTask(context.Background(), msg); err != nil {
			logger.WithError(err).WithField("task_id", task.ID).Error("Failed to republish task")
			continue
		}

		successCount++
		logger.WithFields(logrus.Fields{
			"task_id":  task.ID,
			"apk_name": task.APKName,
		}).Debug("Task republished to queue")
	}

	logger.WithFields(logrus.Fields{
		"total":   len(queuedTasks),
		"success": successCount,
		"failed":  len(queuedTasks) - successCount,
	}).Info("Queued tasks republished to RabbitMQ")

	return nil
}

// resubmitQueuedTasks 重新提交排队中的任务到 Worker Pool (RabbitMQ 关闭时)
func resubmitQueuedTasks(taskRepo repository.TaskRepository, submit submitFunc, apkDir string, logger *logrus.Logger) error {
	tasks, err := taskRepo.ListQueuedTasks(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list queued tasks: %w", err)
	}

	if len(tasks) == 0 {
		logger.Info("No queued tasks found")
		return nil
	}

	logger.Infof("Found %d queued tasks in database, resubmitting to worker pool...", len(tasks))

	for _, task := range tasks {
		apkPath := task.APKPath
		if apkPath == "" {
			apkPath = filepath.Join(apkDir, task.APKName)
		}

		msg := &queue.TaskMessage{
			TaskID:  task.ID,
			APKName: task.APKName,
			APKPath: apkPath,
		}

		if err := submit(context.Background(), msg); err != nil {
			logger.WithError(err).WithField("task_id", task.ID).Error("Failed to resubmit task")
		}
	}

	return nil
}
