package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apk-classify/apk-classify-go/internal/domain"
)

func sampleClassification(taskID string) *domain.TaskClassification {
	now := time.Now().UTC()
	return &domain.TaskClassification{
		TaskID:               taskID,
		Packed:               true,
		PackerName:           "腾讯乐固",
		PackerFamily:         "native",
		PackerConfidence:     0.5,
		DifficultyTier:       "medium",
		ObfuscationScore:     3,
		ModifiablePointCount: 2,
		ScannedFiles:         5,
		ReportJSON:           `{"packer":{"rule_name":"腾讯乐固"}}`,
		ClassifiedAt:         &now,
		CreatedAt:            now,
	}
}

// TestClassificationRepository_CreateAndFind 测试创建与查询分类结果
func TestClassificationRepository_CreateAndFind(t *testing.T) {
	repo := NewClassificationRepository(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, sampleClassification("task-001")))

	found, err := repo.FindByTaskID(ctx, "task-001")
	require.NoError(t, err)
	assert.Equal(t, "腾讯乐固", found.PackerName)
	assert.Equal(t, 0.5, found.PackerConfidence)
	assert.Equal(t, 3, found.ObfuscationScore)
}

// TestClassificationRepository_Upsert 测试重复写入时覆盖而不是报错
func TestClassificationRepository_Upsert(t *testing.T) {
	repo := NewClassificationRepository(setupTestDB(t))
	ctx := context.Background()

	first := sampleClassification("task-002")
	require.NoError(t, repo.Upsert(ctx, first))

	second := sampleClassification("task-002")
	second.PackerName = "360加固"
	second.ObfuscationScore = 7
	require.NoError(t, repo.Upsert(ctx, second))

	found, err := repo.FindByTaskID(ctx, "task-002")
	require.NoError(t, err)
	assert.Equal(t, "360加固", found.PackerName)
	assert.Equal(t, 7, found.ObfuscationScore)

	// 仍然只有一条记录
	var count int64
	require.NoError(t, setupCount(repo, ctx, &count))
	assert.Equal(t, int64(1), count)
}

// setupCount 统计分类结果行数
func setupCount(repo ClassificationRepository, ctx context.Context, count *int64) error {
	r := repo.(*classificationRepo)
	return r.db.WithContext(ctx).Model(&domain.TaskClassification{}).Count(count).Error
}

// TestClassificationRepository_ListByPacker 测试按壳名查询
func TestClassificationRepository_ListByPacker(t *testing.T) {
	repo := NewClassificationRepository(setupTestDB(t))
	ctx := context.Background()

	a := sampleClassification("task-a")
	b := sampleClassification("task-b")
	c := sampleClassification("task-c")
	c.PackerName = "360加固"
	require.NoError(t, repo.Create(ctx, a))
	require.NoError(t, repo.Create(ctx, b))
	require.NoError(t, repo.Create(ctx, c))

	results, err := repo.ListByPacker(ctx, "腾讯乐固", 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

// TestClassificationRepository_CountByPacker 测试壳名统计只计入已检出加壳的样本
func TestClassificationRepository_CountByPacker(t *testing.T) {
	repo := NewClassificationRepository(setupTestDB(t))
	ctx := context.Background()

	packed := sampleClassification("task-p")
	require.NoError(t, repo.Create(ctx, packed))

	clean := sampleClassification("task-q")
	clean.Packed = false
	clean.PackerName = ""
	require.NoError(t, repo.Create(ctx, clean))

	counts, err := repo.CountByPacker(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["腾讯乐固"])
	assert.NotContains(t, counts, "")
}
