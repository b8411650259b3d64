package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/apk-classify/apk-classify-go/internal/domain"
)

// MockTaskService Mock Service
type MockTaskService struct {
	mock.Mock
}

func (m *MockTaskService) CreateTask(ctx context.Context, apkName, apkPath string) (*domain.Task, error) {
	args := m.Called(apkName, apkPath)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Task), args.Error(1)
}

func (m *MockTaskService) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	args := m.Called(taskID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Task), args.Error(1)
}

func (m *MockTaskService) ListTasksWithPagination(ctx context.Context, page int, pageSize int) ([]*domain.Task, int64, error) {
	args := m.Called(page, pageSize)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*domain.Task), args.Get(1).(int64), args.Error(2)
}

func (m *MockTaskService) ListQueuedTasks(ctx context.Context) ([]*domain.Task, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Task), args.Error(1)
}

func (m *MockTaskService) DeleteTask(ctx context.Context, taskID string) error {
	args := m.Called(taskID)
	return args.Error(0)
}

func (m *MockTaskService) RetryTask(ctx context.Context, taskID string) (*domain.Task, error) {
	args := m.Called(taskID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Task), args.Error(1)
}

func (m *MockTaskService) GetStatusCounts(ctx context.Context) (map[string]int64, int64, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).(map[string]int64), args.Get(1).(int64), args.Error(2)
}

// setupTestRouter 设置测试路由
func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func newHandlerTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// TestTaskHandler_GetTask 测试获取任务
func TestTaskHandler_GetTask(t *testing.T) {
	mockService := new(MockTaskService)
	handler := NewTaskHandler(mockService, newHandlerTestLogger())
	router := setupTestRouter()
	router.GET("/api/tasks/:id", handler.GetTask)

	expectedTask := &domain.Task{
		ID:        "test-task-001",
		APKName:   "test.apk",
		Status:    domain.TaskStatusCompleted,
		CreatedAt: time.Now().UTC(),
		Classification: &domain.TaskClassification{
			TaskID:           "test-task-001",
			Packed:           true,
			PackerName:       "腾讯乐固",
			PackerFamily:     "legu",
			PackerConfidence: 0.5,
			ObfuscationScore: 3,
		},
	}

	mockService.On("GetTask", "test-task-001").Return(expectedTask, nil)

	req := httptest.NewRequest("GET", "/api/tasks/test-task-001", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Equal(t, "test-task-001", response["id"])
	assert.Equal(t, "test.apk", response["apk_name"])

	// 分类结果摘要应包含壳信息
	cls, ok := response["classification"].(map[string]interface{})
	assert.True(t, ok, "classification summary should be present")
	assert.Equal(t, true, cls["packed"])
	assert.Equal(t, "腾讯乐固", cls["packer_name"])
	assert.Equal(t, float64(3), cls["obfuscation_score"])

	mockService.AssertExpectations(t)
}

// TestTaskHandler_GetTask_NotFound 测试获取不存在的任务
func TestTaskHandler_GetTask_NotFound(t *testing.T) {
	mockService := new(MockTaskService)
	handler := NewTaskHandler(mockService, newHandlerTestLogger())
	router := setupTestRouter()
	router.GET("/api/tasks/:id", handler.GetTask)

	mockService.On("GetTask", "non-existent").Return(nil, errors.New("not found"))

	req := httptest.NewRequest("GET", "/api/tasks/non-existent", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	mockService.AssertExpectations(t)
}

// TestTaskHandler_ListTasks 测试列出任务
func TestTaskHandler_ListTasks(t *testing.T) {
	mockService := new(MockTaskService)
	handler := NewTaskHandler(mockService, newHandlerTestLogger())
	router := setupTestRouter()
	router.GET("/api/tasks", handler.ListTasks)

	expectedTasks := []*domain.Task{
		{ID: "task-1", APKName: "app1.apk", Status: domain.TaskStatusCompleted},
		{ID: "task-2", APKName: "app2.apk", Status: domain.TaskStatusQueued},
	}

	mockService.On("ListTasksWithPagination", 1, 20).Return(expectedTasks, int64(2), nil)

	req := httptest.NewRequest("GET", "/api/tasks", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Equal(t, float64(2), response["total"])

	tasks, ok := response["tasks"].([]interface{})
	assert.True(t, ok)
	assert.Len(t, tasks, 2)

	mockService.AssertExpectations(t)
}

// TestTaskHandler_ListTasks_StatusFilter 测试状态过滤
func TestTaskHandler_ListTasks_StatusFilter(t *testing.T) {
	mockService := new(MockTaskService)
	handler := NewTaskHandler(mockService, newHandlerTestLogger())
	router := setupTestRouter()
	router.GET("/api/tasks", handler.ListTasks)

	allTasks := []*domain.Task{
		{ID: "task-1", APKName: "app1.apk", Status: domain.TaskStatusCompleted},
		{ID: "task-2", APKName: "app2.apk", Status: domain.TaskStatusQueued},
		{ID: "task-3", APKName: "app3.apk", Status: domain.TaskStatusCompleted},
	}

	// 状态过滤走内存过滤路径，一次性查询后再筛选
	mockService.On("ListTasksWithPagination", 1, 5000).Return(allTasks, int64(3), nil)

	req := httptest.NewRequest("GET", "/api/tasks?status=completed", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Equal(t, float64(2), response["total"])

	mockService.AssertExpectations(t)
}

// TestTaskHandler_DeleteTask 测试删除任务
func TestTaskHandler_DeleteTask(t *testing.T) {
	mockService := new(MockTaskService)
	handler := NewTaskHandler(mockService, newHandlerTestLogger())
	router := setupTestRouter()
	router.DELETE("/api/tasks/:id", handler.DeleteTask)

	mockService.On("DeleteTask", "task-001").Return(nil)

	req := httptest.NewRequest("DELETE", "/api/tasks/task-001", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	mockService.AssertExpectations(t)
}

// TestTaskHandler_DeleteTask_Error 测试删除任务失败
func TestTaskHandler_DeleteTask_Error(t *testing.T) {
	mockService := new(MockTaskService)
	handler := NewTaskHandler(mockService, newHandlerTestLogger())
	router := setupTestRouter()
	router.DELETE("/api/tasks/:id", handler.DeleteTask)

	mockService.On("DeleteTask", "task-001").Return(errors.New("database error"))

	req := httptest.NewRequest("DELETE", "/api/tasks/task-001", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	mockService.AssertExpectations(t)
}

// TestTaskHandler_RetryTask 测试重试任务
func TestTaskHandler_RetryTask(t *testing.T) {
	mockService := new(MockTaskService)
	handler := NewTaskHandler(mockService, newHandlerTestLogger())
	router := setupTestRouter()
	router.POST("/api/tasks/:id/retry", handler.RetryTask)

	requeued := &domain.Task{
		ID:      "task-001",
		APKName: "app.apk",
		Status:  domain.TaskStatusQueued,
	}
	mockService.On("RetryTask", "task-001").Return(requeued, nil)

	req := httptest.NewRequest("POST", "/api/tasks/task-001/retry", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Equal(t, true, response["success"])

	mockService.AssertExpectations(t)
}

// TestTaskHandler_RetryTask_NotAllowed 测试非终态任务重试被拒绝
func TestTaskHandler_RetryTask_NotAllowed(t *testing.T) {
	mockService := new(MockTaskService)
	handler := NewTaskHandler(mockService, newHandlerTestLogger())
	router := setupTestRouter()
	router.POST("/api/tasks/:id/retry", handler.RetryTask)

	mockService.On("RetryTask", "task-001").Return(nil, errors.New("任务状态为 classifying，仅失败或已取消的任务可以重试"))

	req := httptest.NewRequest("POST", "/api/tasks/task-001/retry", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockService.AssertExpectations(t)
}

// TestTaskHandler_GetSystemStats 测试获取系统统计
func TestTaskHandler_GetSystemStats(t *testing.T) {
	mockService := new(MockTaskService)
	handler := NewTaskHandler(mockService, newHandlerTestLogger())
	router := setupTestRouter()
	router.GET("/api/stats", handler.GetSystemStats)

	expectedStats := map[string]int64{
		"queued":    5,
		"completed": 100,
		"failed":    3,
	}
	mockService.On("GetStatusCounts").Return(expectedStats, int64(108), nil)

	req := httptest.NewRequest("GET", "/api/stats", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Equal(t, float64(108), response["total_tasks"])
	assert.Contains(t, response, "status_breakdown")

	mockService.AssertExpectations(t)
}

// TestTaskHandler_ConcurrentRequests 测试并发请求
func TestTaskHandler_ConcurrentRequests(t *testing.T) {
	mockService := new(MockTaskService)
	handler := NewTaskHandler(mockService, newHandlerTestLogger())
	router := setupTestRouter()
	router.GET("/api/tasks/:id", handler.GetTask)

	task := &domain.Task{
		ID:      "concurrent-task",
		APKName: "test.apk",
	}
	mockService.On("GetTask", "concurrent-task").Return(task, nil)

	// 并发发送 10 个请求
	done := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		go func() {
			req := httptest.NewRequest("GET", "/api/tasks/concurrent-task", nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, http.StatusOK, w.Code)
			done <- true
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	mockService.AssertNumberOfCalls(t, "GetTask", 10)
}

// BenchmarkTaskHandler_GetTask 性能测试 - 获取任务
func BenchmarkTaskHandler_GetTask(b *testing.B) {
	mockService := new(MockTaskService)
	handler := NewTaskHandler(mockService, newHandlerTestLogger())
	router := setupTestRouter()
	router.GET("/api/tasks/:id", handler.GetTask)

	task := &domain.Task{
		ID:      "bench-task",
		APKName: "bench.apk",
	}
	mockService.On("GetTask", "bench-task").Return(task, nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest("GET", "/api/tasks/bench-task", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
	}
}
