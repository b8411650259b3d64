package repository

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/apk-classify/apk-classify-go/internal/domain"
)

type TaskRepository interface {
	Create(ctx context.Context, task *domain.Task) error
	Update(ctx context.Context, task *domain.Task) error
	FindByID(ctx context.Context, id string) (*domain.Task, error)
	List(ctx context.Context, limit int) ([]*domain.Task, error)
	ListWithPagination(ctx context.Context, page int, pageSize int) ([]*domain.Task, int64, error)
	Delete(ctx context.Context, id string) error
	UpdateStatus(ctx context.Context, id string, status domain.TaskStatus) error
	UpdateStep(ctx context.Context, id string, step string) error
	// 更新任务失败信息（包含失败类型）
	UpdateFailure(ctx context.Context, id string, failureType domain.FailureType, errorMessage string) error
	// 重试相关方法
	IncrementRetryCount(ctx context.Context, id string) (int, error)
	ResetForRetry(ctx context.Context, id string) error
	// 检查是否存在最近创建的同名 APK 任务（防止重复创建）
	HasRecentTaskForAPK(ctx context.Context, apkName string, withinSeconds int) (bool, error)
	// 获取各状态任务数量统计（使用数据库聚合查询）
	GetStatusCounts(ctx context.Context) (map[string]int64, int64, error)
	// 获取所有排队中的任务（不分页）
	ListQueuedTasks(ctx context.Context) ([]*domain.Task, error)
}

type taskRepo struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewTaskRepository(db *gorm.DB, logger *logrus.Logger) TaskRepository {
	return &taskRepo{
		db:     db,
		logger: logger,
	}
}

func (r *taskRepo) Create(ctx context.Context, task *domain.Task) error {
	task.CreatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Create(task).Error
}

func (r *taskRepo) Update(ctx context.Context, task *domain.Task) error {
	// 禁止级联更新关联表,只更新主表 apk_tasks 的字段
	// 避免频繁的 task 更新覆盖 TaskClassification 等关联表的数据
	err := r.db.WithContext(ctx).
		Model(task).
		Select("apk_name", "apk_path", "package_name", "version_name", "status",
			"error_message", "started_at", "completed_at", "current_step").
		Updates(task).Error

	if err != nil {
		r.logger.WithError(err).WithField("task_id", task.ID).Error("Task update failed")
	}

	return err
}

func (r *taskRepo) FindByID(ctx context.Context, id string) (*domain.Task, error) {
	var task domain.Task
	err := r.db.WithContext(ctx).
		Preload("Classification").
		First(&task, "id = ?", id).Error

	if err != nil {
		return nil, err
	}

	return &task, nil
}

func (r *taskRepo) List(ctx context.Context, limit int) ([]*domain.Task, error) {
	var tasks []*domain.Task
	// 优化: 列表查询只加载必要的轻量级关联字段，不带完整报告JSON
	err := r.db.WithContext(ctx).
		Preload("Classification", func(db *gorm.DB) *gorm.DB {
			return db.Select("id", "task_id", "packed", "packer_name", "packer_confidence",
				"difficulty_tier", "obfuscation_score", "modifiable_point_count")
		}).
		Order("created_at DESC").
		Limit(limit).
		Find(&tasks).Error

	return tasks, err
}

func (r *taskRepo) ListWithPagination(ctx context.Context, page int, pageSize int) ([]*domain.Task, int64, error) {
	var tasks []*domain.Task
	var total int64

	// 先统计总数
	if err := r.db.WithContext(ctx).Model(&domain.Task{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize

	err := r.db.WithContext(ctx).
		Preload("Classification", func(db *gorm.DB) *gorm.DB {
			return db.Select("id", "task_id", "packed", "packer_name", "packer_confidence",
				"difficulty_tier", "obfuscation_score", "modifiable_point_count")
		}).
		Order("created_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&tasks).Error

	return tasks, total, err
}

func (r *taskRepo) Delete(ctx context.Context, id string) error {
	// 使用事务删除，先删关联表再删主表
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}

	result := tx.Exec("DELETE FROM task_classifications WHERE task_id = ?", id)
	if result.Error != nil {
		tx.Rollback()
		return result.Error
	}

	result = tx.Exec("DELETE FROM apk_tasks WHERE id = ?", id)
	if result.Error != nil {
		tx.Rollback()
		return result.Error
	}
	r.logger.WithFields(logrus.Fields{"task_id": id, "deleted": result.RowsAffected}).Info("Deleted task")

	return tx.Commit().Error
}

func (r *taskRepo) UpdateStatus(ctx context.Context, id string, status domain.TaskStatus) error {
	updates := map[string]interface{}{"status": status}

	switch status {
	case domain.TaskStatusExtracting:
		now := time.Now().UTC()
		updates["started_at"] = &now
	case domain.TaskStatusCompleted, domain.TaskStatusFailed, domain.TaskStatusCancelled:
		now := time.Now().UTC()
		updates["completed_at"] = &now
	}

	return r.db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *taskRepo) UpdateStep(ctx context.Context, id string, step string) error {
	return r.db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id = ?", id).
		Update("current_step", step).Error
}

func (r *taskRepo) UpdateFailure(ctx context.Context, id string, failureType domain.FailureType, errorMessage string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        domain.TaskStatusFailed,
			"failure_type":  failureType,
			"error_message": errorMessage,
			"completed_at":  &now,
		}).Error
}

func (r *taskRepo) IncrementRetryCount(ctx context.Context, id string) (int, error) {
	// 原子自增，避免并发重试时读改写竞态
	err := r.db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id = ?", id).
		Update("retry_count", gorm.Expr("retry_count + 1")).Error
	if err != nil {
		return 0, err
	}

	var task domain.Task
	if err := r.db.WithContext(ctx).Select("retry_count").First(&task, "id = ?", id).Error; err != nil {
		return 0, err
	}
	return task.RetryCount, nil
}

func (r *taskRepo) ResetForRetry(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        domain.TaskStatusQueued,
			"failure_type":  domain.FailureTypeNone,
			"error_message": "",
			"current_step":  "",
			"started_at":    nil,
			"completed_at":  nil,
		}).Error
}

func (r *taskRepo) HasRecentTaskForAPK(ctx context.Context, apkName string, withinSeconds int) (bool, error) {
	var count int64
	cutoff := time.Now().UTC().Add(-time.Duration(withinSeconds) * time.Second)

	err := r.db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("apk_name = ? AND created_at > ?", apkName, cutoff).
		Count(&count).Error

	return count > 0, err
}

func (r *taskRepo) GetStatusCounts(ctx context.Context) (map[string]int64, int64, error) {
	type statusCount struct {
		Status string
		Count  int64
	}

	var rows []statusCount
	err := r.db.WithContext(ctx).
		Model(&domain.Task{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, 0, err
	}

	counts := make(map[string]int64, len(rows))
	var total int64
	for _, row := range rows {
		counts[row.Status] = row.Count
		total += row.Count
	}

	return counts, total, nil
}

func (r *taskRepo) ListQueuedTasks(ctx context.Context) ([]*domain.Task, error) {
	var tasks []*domain.Task
	err := r.db.WithContext(ctx).
		Where("status = ?", domain.TaskStatusQueued).
		Order("created_at ASC").
		Find(&tasks).Error

	return tasks, err
}
