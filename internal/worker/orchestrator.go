package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/apk-classify/apk-classify-go/internal/decompiler"
	"github.com/apk-classify/apk-classify-go/internal/domain"
	"github.com/apk-classify/apk-classify-go/internal/engine"
	"github.com/apk-classify/apk-classify-go/internal/extractor"
	"github.com/apk-classify/apk-classify-go/internal/middleware"
	"github.com/apk-classify/apk-classify-go/internal/report"
	"github.com/apk-classify/apk-classify-go/internal/repository"
	"github.com/apk-classify/apk-classify-go/internal/retry"
)

// StatusBroadcaster 任务状态广播接口（用于实时推送到前端）
type StatusBroadcaster interface {
	BroadcastStatus(taskID string, status domain.TaskStatus, step string)
}

// Orchestrator 核心编排器
// 驱动单个任务的完整流水线: 提取证据 -> 反编译 -> 分类 -> 落库
type Orchestrator struct {
	taskRepo    repository.TaskRepository
	classRepo   repository.ClassificationRepository
	extractor   *extractor.Extractor
	decompiler  *decompiler.Decompiler
	engine      *engine.Engine
	broadcaster StatusBroadcaster             // 可选，传 nil 则不推送
	metrics     *middleware.PrometheusMetrics // 可选，传 nil 则不上报
	resultDir   string
	logger      *logrus.Logger
}

// NewOrchestrator 创建编排器
// broadcaster: 状态广播器（可选，传 nil 则禁用实时推送）
// metrics: 指标收集器（可选，传 nil 则禁用指标上报）
func NewOrchestrator(
	taskRepo repository.TaskRepository,
	classRepo repository.ClassificationRepository,
	ext *extractor.Extractor,
	dec *decompiler.Decompiler,
	eng *engine.Engine,
	broadcaster StatusBroadcaster,
	metrics *middleware.PrometheusMetrics,
	resultDir string,
	logger *logrus.Logger,
) *Orchestrator {
	return &Orchestrator{
		taskRepo:    taskRepo,
		classRepo:   classRepo,
		extractor:   ext,
		decompiler:  dec,
		engine:      eng,
		broadcaster: broadcaster,
		metrics:     metrics,
		resultDir:   resultDir,
		logger:      logger,
	}
}

// ExecuteTask 执行完整任务
func (o *Orchestrator) ExecuteTask(ctx context.Context, taskID, apkPath string) error {
	o.logger.WithFields(logrus.Fields{
		"task_id":  taskID,
		"apk_path": apkPath,
	}).Info("Starting task execution")

	startTime := time.Now()
	if o.metrics != nil {
		o.metrics.RecordTaskStarted()
	}

	// 1. 提取证据
	if err := o.updateTaskStatus(ctx, taskID, domain.TaskStatusExtracting, "正在提取包结构证据"); err != nil {
		return err
	}

	ev, err := o.extractor.Extract(ctx, apkPath)
	if err != nil {
		return o.failTaskWithAPKPath(ctx, taskID, apkPath, startTime, fmt.Errorf("evidence extraction failed: %w", err))
	}

	// 回填 Manifest 基础信息到任务表
	if ev.Manifest.PackageName != "" {
		if task, findErr := o.taskRepo.FindByID(ctx, taskID); findErr == nil {
			task.PackageName = ev.Manifest.PackageName
			task.VersionName = ev.Manifest.VersionName
			if updErr := o.taskRepo.Update(ctx, task); updErr != nil {
				o.logger.WithError(updErr).WithField("task_id", taskID).Warn("Failed to backfill manifest info")
			}
		}
	}

	// 2. 反编译（失败降级为无源码分析，不中断任务）
	if err := o.updateTaskStatus(ctx, taskID, domain.TaskStatusDecompiling, "正在反编译源码"); err != nil {
		return err
	}

	ev.Source = o.decompiler.Decompile(ctx, apkPath)
	if !ev.Source.Available {
		o.logger.WithFields(logrus.Fields{
			"task_id": taskID,
			"reason":  ev.Source.Reason,
		}).Warn("Decompilation unavailable, classifying without source")
	}

	// 3. 分类
	if err := o.updateTaskStatus(ctx, taskID, domain.TaskStatusClassifying, "正在执行分类分析"); err != nil {
		return err
	}

	result := o.engine.Classify(ev)

	// 4. 落库（带重试）
	classification, err := o.buildClassification(taskID, result)
	if err != nil {
		return o.failTaskWithAPKPath(ctx, taskID, apkPath, startTime, fmt.Errorf("failed to serialize report: %w", err))
	}

	err = retry.RetryWithAttempts(ctx, 3, func(ctx context.Context) error {
		return o.classRepo.Upsert(ctx, classification)
	})
	if err != nil {
		return o.failTaskWithAPKPath(ctx, taskID, apkPath, startTime, fmt.Errorf("failed to persist classification: %w", err))
	}

	// 5. 报告落盘（尽力而为）
	o.writeReportFiles(taskID, result)

	// 6. 指标上报
	if o.metrics != nil {
		o.metrics.RecordClassification(result)
		o.metrics.RecordTaskCompleted(time.Since(startTime))
	}

	// 7. 完成
	if err := o.updateTaskStatus(ctx, taskID, domain.TaskStatusCompleted, "分类完成"); err != nil {
		return err
	}

	o.logger.WithFields(logrus.Fields{
		"task_id":           taskID,
		"packed":            result.Packer != nil,
		"obfuscation_score": result.Obfuscation.Score,
		"modifiable_points": len(result.ModifiablePoints),
		"duration_ms":       result.Duration.Milliseconds(),
	}).Info("Task completed")

	return nil
}

// buildClassification 把分类报告转换成落库模型
func (o *Orchestrator) buildClassification(taskID string, r *engine.Report) (*domain.TaskClassification, error) {
	reportJSON, err := report.RenderJSON(r, false)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	c := &domain.TaskClassification{
		TaskID:                taskID,
		ObfuscationScore:      r.Obfuscation.Score,
		IdentifiersObfuscated: r.Obfuscation.IdentifiersObfuscated,
		StringsEncrypted:      r.Obfuscation.StringsEncrypted,
		ModifiablePointCount:  len(r.ModifiablePoints),
		ScanTruncated:         r.ScanTruncated,
		ScannedFiles:          r.ScannedFiles,
		ReportJSON:            string(reportJSON),
		DurationMs:            int(r.Duration.Milliseconds()),
		ClassifiedAt:          &now,
		CreatedAt:             now,
	}

	if r.Packer != nil {
		c.Packed = true
		c.PackerName = r.Packer.RuleName
		c.PackerFamily = r.Packer.Family
		c.PackerConfidence = r.Packer.Confidence
		c.DifficultyTier = string(r.Packer.Tier)
	}

	return c, nil
}

// writeReportFiles 把JSON和文本报告写入结果目录
func (o *Orchestrator) writeReportFiles(taskID string, r *engine.Report) {
	if o.resultDir == "" {
		return
	}
	if err := os.MkdirAll(o.resultDir, 0o755); err != nil {
		o.logger.WithError(err).Warn("Failed to create result dir")
		return
	}

	if data, err := report.RenderJSON(r, true); err == nil {
		path := filepath.Join(o.resultDir, taskID+".json")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			o.logger.WithError(err).WithField("path", path).Warn("Failed to write JSON report")
		}
	}

	path := filepath.Join(o.resultDir, taskID+".txt")
	if err := os.WriteFile(path, []byte(report.RenderText(r)), 0o644); err != nil {
		o.logger.WithError(err).WithField("path", path).Warn("Failed to write text report")
	}
}

// updateTaskStatus 更新任务状态并广播
func (o *Orchestrator) updateTaskStatus(ctx context.Context, taskID string, status domain.TaskStatus, step string) error {
	if err := o.taskRepo.UpdateStatus(ctx, taskID, status); err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}
	if err := o.taskRepo.UpdateStep(ctx, taskID, step); err != nil {
		o.logger.WithError(err).WithField("task_id", taskID).Warn("Failed to update task step")
	}

	if o.broadcaster != nil {
		o.broadcaster.BroadcastStatus(taskID, status, step)
	}

	return nil
}

// RetryableError 可重试错误（用于通知 worker pool 需要重试）
type RetryableError struct {
	TaskID      string
	APKPath     string
	OriginalErr error
	RetryCount  int
	MaxRetry    int
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("task %s failed (retry %d/%d): %v", e.TaskID, e.RetryCount, e.MaxRetry, e.OriginalErr)
}

// IsRetryableError 检查错误是否为可重试错误
func IsRetryableError(err error) (*RetryableError, bool) {
	var retryErr *RetryableError
	if errors.As(err, &retryErr) {
		return retryErr, true
	}
	return nil, false
}

func (o *Orchestrator) failTaskWithAPKPath(ctx context.Context, taskID, apkPath string, startTime time.Time, err error) error {
	// 尝试从错误中提取失败类型
	failureType := o.detectFailureType(err)

	// 本次执行的失败指标（重试也算一次失败的执行）
	if o.metrics != nil {
		o.metrics.RecordTaskFailed(time.Since(startTime))
	}

	// 获取当前重试次数
	var retryCount int
	if task, findErr := o.taskRepo.FindByID(ctx, taskID); findErr == nil {
		retryCount = task.RetryCount
	} else {
		o.logger.WithError(findErr).WithField("task_id", taskID).Warn("Failed to get retry count, assuming 0")
	}

	// 检查是否可以重试
	maxRetry := failureType.GetMaxRetryCount()
	canRetry := failureType.CanRetry() && retryCount < maxRetry

	if canRetry {
		newRetryCount, incErr := o.taskRepo.IncrementRetryCount(ctx, taskID)
		if incErr != nil {
			o.logger.WithError(incErr).WithField("task_id", taskID).Error("Failed to increment retry count")
		} else {
			retryCount = newRetryCount
		}

		// 重置任务状态以准备重试
		if resetErr := o.taskRepo.ResetForRetry(ctx, taskID); resetErr != nil {
			o.logger.WithError(resetErr).WithField("task_id", taskID).Error("Failed to reset task for retry")
			// 重置失败，不重试，直接标记为失败
			canRetry = false
		}
	}

	if canRetry {
		o.logger.WithFields(logrus.Fields{
			"task_id":      taskID,
			"failure_type": failureType,
			"retry_count":  retryCount,
			"max_retry":    maxRetry,
			"error":        err.Error(),
		}).Warn("🔄 Task will be retried")

		// 返回可重试错误，通知 worker pool 重新入队
		return &RetryableError{
			TaskID:      taskID,
			APKPath:     apkPath,
			OriginalErr: err,
			RetryCount:  retryCount,
			MaxRetry:    maxRetry,
		}
	}

	// 不可重试，标记为最终失败
	if updateErr := o.taskRepo.UpdateFailure(ctx, taskID, failureType, err.Error()); updateErr != nil {
		o.logger.WithError(updateErr).WithField("task_id", taskID).Error("Failed to update task failure")
	}

	if o.broadcaster != nil {
		o.broadcaster.BroadcastStatus(taskID, domain.TaskStatusFailed, failureType.GetDisplayName())
	}

	o.logger.WithFields(logrus.Fields{
		"task_id":          taskID,
		"failure_type":     failureType,
		"failure_severity": failureType.GetSeverity(),
		"retry_count":      retryCount,
		"max_retry":        maxRetry,
		"error":            err.Error(),
	}).Error("❌ Task failed (no more retries)")

	return err
}

// detectFailureType 根据错误信息检测失败类型
// 检测顺序很重要: 更具体的错误类型要放在前面
func (o *Orchestrator) detectFailureType(err error) domain.FailureType {
	if err == nil {
		return domain.FailureTypeNone
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return domain.FailureTypeTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not a valid zip") || strings.Contains(msg, "zip: not a valid"):
		return domain.FailureTypeInvalidArchive
	case strings.Contains(msg, "evidence extraction"):
		return domain.FailureTypeExtractFailed
	case strings.Contains(msg, "persist classification"):
		return domain.FailureTypePersistError
	case strings.Contains(msg, "timed out") || strings.Contains(msg, "timeout"):
		return domain.FailureTypeTimeout
	default:
		return domain.FailureTypeUnknown
	}
}
