package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/apk-classify/apk-classify-go/internal/domain"
)

// ClassificationRepository 分类结果 Repository
type ClassificationRepository interface {
	Create(ctx context.Context, c *domain.TaskClassification) error
	Upsert(ctx context.Context, c *domain.TaskClassification) error
	FindByTaskID(ctx context.Context, taskID string) (*domain.TaskClassification, error)
	// 按壳名查询 (用于统计某个壳的样本列表)
	ListByPacker(ctx context.Context, packerName string, limit int) ([]*domain.TaskClassification, error)
	// 各壳名的样本数统计
	CountByPacker(ctx context.Context) (map[string]int64, error)
	Delete(ctx context.Context, taskID string) error
}

// classificationRepo 分类结果 Repository 实现
type classificationRepo struct {
	db *gorm.DB
}

// NewClassificationRepository 创建分类结果 Repository
func NewClassificationRepository(db *gorm.DB) ClassificationRepository {
	return &classificationRepo{db: db}
}

// Create 创建分类结果
func (r *classificationRepo) Create(ctx context.Context, c *domain.TaskClassification) error {
	return r.db.WithContext(ctx).Create(c).Error
}

// Upsert 插入或更新分类结果（使用 ON DUPLICATE KEY UPDATE）
func (r *classificationRepo) Upsert(ctx context.Context, c *domain.TaskClassification) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "task_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"packed", "packer_name", "packer_family", "packer_confidence", "difficulty_tier",
				"obfuscation_score", "identifiers_obfuscated", "strings_encrypted",
				"modifiable_point_count", "scan_truncated", "scanned_files",
				"report_json", "duration_ms", "classified_at",
			}),
		}).
		Create(c).Error
}

// FindByTaskID 根据任务 ID 查询分类结果
func (r *classificationRepo) FindByTaskID(ctx context.Context, taskID string) (*domain.TaskClassification, error) {
	var c domain.TaskClassification
	err := r.db.WithContext(ctx).Where("task_id = ?", taskID).First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListByPacker 按壳名查询分类结果
func (r *classificationRepo) ListByPacker(ctx context.Context, packerName string, limit int) ([]*domain.TaskClassification, error) {
	var results []*domain.TaskClassification
	err := r.db.WithContext(ctx).
		Where("packer_name = ?", packerName).
		Order("created_at DESC").
		Limit(limit).
		Find(&results).Error

	return results, err
}

// CountByPacker 统计各壳名的样本数 (只统计检出加壳的样本)
func (r *classificationRepo) CountByPacker(ctx context.Context) (map[string]int64, error) {
	type packerCount struct {
		PackerName string
		Count      int64
	}

	var rows []packerCount
	err := r.db.WithContext(ctx).
		Model(&domain.TaskClassification{}).
		Select("packer_name, count(*) as count").
		Where("packed = ?", true).
		Group("packer_name").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.PackerName] = row.Count
	}
	return counts, nil
}

// Delete 删除分类结果
func (r *classificationRepo) Delete(ctx context.Context, taskID string) error {
	return r.db.WithContext(ctx).Where("task_id = ?", taskID).Delete(&domain.TaskClassification{}).Error
}
