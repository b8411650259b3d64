package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/apk-classify/apk-classify-go/internal/domain"
)

// MockClassificationRepository Mock Repository
type MockClassificationRepository struct {
	mock.Mock
}

func (m *MockClassificationRepository) Create(ctx context.Context, c *domain.TaskClassification) error {
	args := m.Called(c)
	return args.Error(0)
}

func (m *MockClassificationRepository) Upsert(ctx context.Context, c *domain.TaskClassification) error {
	args := m.Called(c)
	return args.Error(0)
}

func (m *MockClassificationRepository) FindByTaskID(ctx context.Context, taskID string) (*domain.TaskClassification, error) {
	args := m.Called(taskID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TaskClassification), args.Error(1)
}

func (m *MockClassificationRepository) ListByPacker(ctx context.Context, packerName string, limit int) ([]*domain.TaskClassification, error) {
	args := m.Called(packerName, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.TaskClassification), args.Error(1)
}

func (m *MockClassificationRepository) CountByPacker(ctx context.Context) (map[string]int64, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int64), args.Error(1)
}

func (m *MockClassificationRepository) Delete(ctx context.Context, taskID string) error {
	args := m.Called(taskID)
	return args.Error(0)
}

// TestClassificationHandler_GetClassification 测试获取分类结果
func TestClassificationHandler_GetClassification(t *testing.T) {
	mockRepo := new(MockClassificationRepository)
	handler := NewClassificationHandler(mockRepo, newHandlerTestLogger())
	router := setupTestRouter()
	router.GET("/api/tasks/:id/classification", handler.GetClassification)

	cls := &domain.TaskClassification{
		TaskID:               "task-001",
		Packed:               true,
		PackerName:           "腾讯乐固",
		PackerFamily:         "legu",
		PackerConfidence:     0.5,
		DifficultyTier:       "hard",
		ObfuscationScore:     3,
		ModifiablePointCount: 2,
		ReportJSON:           `{"apk_name":"app.apk","obfuscation":{"score":3}}`,
	}
	mockRepo.On("FindByTaskID", "task-001").Return(cls, nil)

	req := httptest.NewRequest("GET", "/api/tasks/task-001/classification", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Equal(t, true, response["packed"])
	assert.Equal(t, "腾讯乐固", response["packer_name"])
	assert.Equal(t, 0.5, response["packer_confidence"])

	// 落库的完整报告应被解析后内联返回
	report, ok := response["report"].(map[string]interface{})
	assert.True(t, ok, "parsed report should be present")
	assert.Equal(t, "app.apk", report["apk_name"])

	mockRepo.AssertExpectations(t)
}

// TestClassificationHandler_GetClassification_NotFound 测试分类结果不存在
func TestClassificationHandler_GetClassification_NotFound(t *testing.T) {
	mockRepo := new(MockClassificationRepository)
	handler := NewClassificationHandler(mockRepo, newHandlerTestLogger())
	router := setupTestRouter()
	router.GET("/api/tasks/:id/classification", handler.GetClassification)

	mockRepo.On("FindByTaskID", "missing").Return(nil, errors.New("record not found"))

	req := httptest.NewRequest("GET", "/api/tasks/missing/classification", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	mockRepo.AssertExpectations(t)
}

// TestClassificationHandler_GetPackerStatistics 测试壳统计
func TestClassificationHandler_GetPackerStatistics(t *testing.T) {
	mockRepo := new(MockClassificationRepository)
	handler := NewClassificationHandler(mockRepo, newHandlerTestLogger())
	router := setupTestRouter()
	router.GET("/api/packers/statistics", handler.GetPackerStatistics)

	counts := map[string]int64{
		"腾讯乐固": 12,
		"360加固": 7,
	}
	mockRepo.On("CountByPacker").Return(counts, nil)

	req := httptest.NewRequest("GET", "/api/packers/statistics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Equal(t, float64(19), response["total_packed"])

	packers, ok := response["packers"].(map[string]interface{})
	assert.True(t, ok)
	assert.Equal(t, float64(12), packers["腾讯乐固"])

	mockRepo.AssertExpectations(t)
}

// TestClassificationHandler_ListPackerTasks 测试壳样本列表
func TestClassificationHandler_ListPackerTasks(t *testing.T) {
	mockRepo := new(MockClassificationRepository)
	handler := NewClassificationHandler(mockRepo, newHandlerTestLogger())
	router := setupTestRouter()
	router.GET("/api/packers/:name/tasks", handler.ListPackerTasks)

	results := []*domain.TaskClassification{
		{TaskID: "task-1", PackerName: "360加固", PackerConfidence: 0.75, ObfuscationScore: 5},
		{TaskID: "task-2", PackerName: "360加固", PackerConfidence: 0.5, ObfuscationScore: 2},
	}
	mockRepo.On("ListByPacker", "360加固", 50).Return(results, nil)

	req := httptest.NewRequest("GET", "/api/packers/360加固/tasks", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Equal(t, float64(2), response["total"])

	mockRepo.AssertExpectations(t)
}
