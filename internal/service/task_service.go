package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/apk-classify/apk-classify-go/internal/domain"
	"github.com/apk-classify/apk-classify-go/internal/repository"
)

// TaskService 任务服务接口
type TaskService interface {
	// 创建任务 (带 60 秒窗口的防重复检查)
	CreateTask(ctx context.Context, apkName, apkPath string) (*domain.Task, error)

	// 获取任务 (含分类结果关联)
	GetTask(ctx context.Context, taskID string) (*domain.Task, error)

	// 获取任务列表（分页）
	ListTasksWithPagination(ctx context.Context, page int, pageSize int) ([]*domain.Task, int64, error)

	// 获取所有排队中的任务（不分页）
	ListQueuedTasks(ctx context.Context) ([]*domain.Task, error)

	// 删除任务及其分类结果
	DeleteTask(ctx context.Context, taskID string) error

	// 重置失败任务为排队状态 (保留重试计数)
	RetryTask(ctx context.Context, taskID string) (*domain.Task, error)

	// 获取任务状态统计（使用数据库聚合查询）
	GetStatusCounts(ctx context.Context) (map[string]int64, int64, error)
}

type taskService struct {
	taskRepo repository.TaskRepository
	logger   *logrus.Logger
}

// NewTaskService 创建任务服务实例
func NewTaskService(taskRepo repository.TaskRepository, logger *logrus.Logger) TaskService {
	return &taskService{
		taskRepo: taskRepo,
		logger:   logger,
	}
}

func (s *taskService) CreateTask(ctx context.Context, apkName, apkPath string) (*domain.Task, error) {
	// 🔧 防重复：检查是否存在最近创建的同名 APK 任务
	// 解决大文件复制时文件监控器触发多次事件导致重复创建任务的问题
	hasRecent, err := s.taskRepo.HasRecentTaskForAPK(ctx, apkName, 60) // 60秒时间窗口
	if err != nil {
		s.logger.WithError(err).WithField("apk_name", apkName).Warn("Failed to check recent task, continuing anyway")
	} else if hasRecent {
		s.logger.WithField("apk_name", apkName).Warn("⚠️ Duplicate task creation blocked: recent task exists for same APK")
		return nil, fmt.Errorf("任务已存在：最近60秒内已为该APK创建任务")
	}

	task := &domain.Task{
		ID:          uuid.New().String(),
		APKName:     apkName,
		APKPath:     apkPath,
		Status:      domain.TaskStatusQueued,
		CreatedAt:   time.Now().UTC(),
		CurrentStep: "任务已创建",
	}

	if err := s.taskRepo.Create(ctx, task); err != nil {
		s.logger.WithError(err).Error("Failed to create task")
		return nil, fmt.Errorf("创建任务失败: %w", err)
	}

	s.logger.WithField("task_id", task.ID).Info("Task created successfully")
	return task, nil
}

func (s *taskService) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	task, err := s.taskRepo.FindByID(ctx, taskID)
	if err != nil {
		s.logger.WithError(err).WithField("task_id", taskID).Error("Failed to get task")
		return nil, fmt.Errorf("获取任务失败: %w", err)
	}
	return task, nil
}

func (s *taskService) ListTasksWithPagination(ctx context.Context, page int, pageSize int) ([]*domain.Task, int64, error) {
	tasks, total, err := s.taskRepo.ListWithPagination(ctx, page, pageSize)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list tasks with pagination")
		return nil, 0, fmt.Errorf("获取任务列表失败: %w", err)
	}
	return tasks, total, nil
}

func (s *taskService) ListQueuedTasks(ctx context.Context) ([]*domain.Task, error) {
	tasks, err := s.taskRepo.ListQueuedTasks(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list queued tasks")
		return nil, fmt.Errorf("获取排队任务列表失败: %w", err)
	}
	return tasks, nil
}

func (s *taskService) DeleteTask(ctx context.Context, taskID string) error {
	if err := s.taskRepo.Delete(ctx, taskID); err != nil {
		s.logger.WithError(err).WithField("task_id", taskID).Error("Failed to delete task")
		return fmt.Errorf("删除任务失败: %w", err)
	}

	s.logger.WithField("task_id", taskID).Info("Task deleted successfully")
	return nil
}

func (s *taskService) RetryTask(ctx context.Context, taskID string) (*domain.Task, error) {
	task, err := s.taskRepo.FindByID(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("获取任务失败: %w", err)
	}

	// 仅允许重试终态任务，进行中的任务重新入队会产生重复分类
	if task.Status != domain.TaskStatusFailed && task.Status != domain.TaskStatusCancelled {
		return nil, fmt.Errorf("任务状态为 %s，仅失败或已取消的任务可以重试", task.Status)
	}

	if err := s.taskRepo.ResetForRetry(ctx, taskID); err != nil {
		s.logger.WithError(err).WithField("task_id", taskID).Error("Failed to reset task for retry")
		return nil, fmt.Errorf("重置任务失败: %w", err)
	}

	s.logger.WithField("task_id", taskID).Info("Task reset for retry")
	return s.taskRepo.FindByID(ctx, taskID)
}

func (s *taskService) GetStatusCounts(ctx context.Context) (map[string]int64, int64, error) {
	return s.taskRepo.GetStatusCounts(ctx)
}
