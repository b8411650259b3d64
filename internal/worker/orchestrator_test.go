package worker

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/apk-classify/apk-classify-go/internal/decompiler"
	"github.com/apk-classify/apk-classify-go/internal/domain"
	"github.com/apk-classify/apk-classify-go/internal/engine"
	"github.com/apk-classify/apk-classify-go/internal/extractor"
	"github.com/apk-classify/apk-classify-go/internal/repository"
	"github.com/apk-classify/apk-classify-go/internal/signature"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// fakeBroadcaster 记录广播的状态序列
type fakeBroadcaster struct {
	mu       sync.Mutex
	statuses []domain.TaskStatus
}

func (f *fakeBroadcaster) BroadcastStatus(taskID string, status domain.TaskStatus, step string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
}

// writeTestAPK 构造一个包含加壳特征的APK文件
func writeTestAPK(t *testing.T, dir string) string {
	t.Helper()

	apkPath := filepath.Join(dir, "sample.apk")
	f, err := os.Create(apkPath)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	entries := []string{
		"AndroidManifest.xml",
		"classes.dex",
		"lib/arm64-v8a/libshellx-2.0.so",
		"res/layout/main.xml",
	}
	for _, name := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte("test content"))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	return apkPath
}

// setupOrchestrator 组装一个使用内存数据库和不可用反编译器的编排器
func setupOrchestrator(t *testing.T, resultDir string, broadcaster StatusBroadcaster) (*Orchestrator, repository.TaskRepository, repository.ClassificationRepository) {
	t.Helper()
	logger := newTestLogger()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Task{}, &domain.TaskClassification{}))

	taskRepo := repository.NewTaskRepository(db, logger)
	classRepo := repository.NewClassificationRepository(db)

	decCfg := decompiler.DefaultConfig()
	decCfg.JadxPath = "jadx-not-installed"
	decCfg.ApktoolPath = "apktool-not-installed"

	registry := signature.NewBuiltinRegistry(logger)
	eng := engine.New(registry, engine.DefaultConfig(), logger)

	orch := NewOrchestrator(
		taskRepo,
		classRepo,
		extractor.NewExtractor(logger),
		decompiler.NewDecompiler(decCfg, logger),
		eng,
		broadcaster,
		nil,
		resultDir,
		logger,
	)

	return orch, taskRepo, classRepo
}

// TestOrchestrator_ExecuteTask 测试完整流水线: 提取 -> 分类 -> 落库
func TestOrchestrator_ExecuteTask(t *testing.T) {
	dir := t.TempDir()
	broadcaster := &fakeBroadcaster{}
	orch, taskRepo, classRepo := setupOrchestrator(t, dir, broadcaster)
	ctx := context.Background()

	apkPath := writeTestAPK(t, dir)
	task := &domain.Task{ID: "orch-task-001", APKName: "sample.apk", APKPath: apkPath, Status: domain.TaskStatusQueued}
	require.NoError(t, taskRepo.Create(ctx, task))

	err := orch.ExecuteTask(ctx, task.ID, apkPath)
	require.NoError(t, err)

	// 任务状态
	found, err := taskRepo.FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, found.Status)
	assert.NotNil(t, found.CompletedAt)

	// 分类结果: libshellx 特征应命中腾讯乐固
	c, err := classRepo.FindByTaskID(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, c.Packed)
	assert.Equal(t, "腾讯乐固", c.PackerName)
	assert.Equal(t, 1, c.ObfuscationScore, "Single dex without other signals should stay at baseline")
	assert.Contains(t, c.ReportJSON, "腾讯乐固")

	// 报告落盘
	_, err = os.Stat(filepath.Join(dir, task.ID+".json"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, task.ID+".txt"))
	assert.NoError(t, err)

	// 状态广播按流水线顺序推进
	broadcaster.mu.Lock()
	defer broadcaster.mu.Unlock()
	assert.Equal(t, []domain.TaskStatus{
		domain.TaskStatusExtracting,
		domain.TaskStatusDecompiling,
		domain.TaskStatusClassifying,
		domain.TaskStatusCompleted,
	}, broadcaster.statuses)
}

// TestOrchestrator_ExecuteTask_InvalidArchive 测试损坏的APK直接标记失败且不重试
func TestOrchestrator_ExecuteTask_InvalidArchive(t *testing.T) {
	dir := t.TempDir()
	orch, taskRepo, _ := setupOrchestrator(t, dir, nil)
	ctx := context.Background()

	apkPath := filepath.Join(dir, "broken.apk")
	require.NoError(t, os.WriteFile(apkPath, []byte("this is not a zip"), 0o644))

	task := &domain.Task{ID: "orch-task-002", APKName: "broken.apk", APKPath: apkPath, Status: domain.TaskStatusQueued}
	require.NoError(t, taskRepo.Create(ctx, task))

	err := orch.ExecuteTask(ctx, task.ID, apkPath)
	require.Error(t, err)
	_, retryable := IsRetryableError(err)
	assert.False(t, retryable, "Invalid archive should not be retried")

	found, err := taskRepo.FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, found.Status)
	assert.Equal(t, domain.FailureTypeInvalidArchive, found.FailureType)
}

// TestOrchestrator_DetectFailureType 测试失败类型判定
func TestOrchestrator_DetectFailureType(t *testing.T) {
	orch := &Orchestrator{logger: newTestLogger()}

	assert.Equal(t, domain.FailureTypeNone, orch.detectFailureType(nil))
	assert.Equal(t, domain.FailureTypeTimeout, orch.detectFailureType(context.DeadlineExceeded))
	assert.Equal(t, domain.FailureTypeInvalidArchive,
		orch.detectFailureType(errors.New("failed to open APK as zip: zip: not a valid zip file")))
	assert.Equal(t, domain.FailureTypeUnknown, orch.detectFailureType(errors.New("something exploded")))
}
