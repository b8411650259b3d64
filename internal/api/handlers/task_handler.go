package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/apk-classify/apk-classify-go/internal/domain"
	"github.com/apk-classify/apk-classify-go/internal/service"
)

// TaskHandler 任务处理器
type TaskHandler struct {
	taskService service.TaskService
	logger      *logrus.Logger
}

// NewTaskHandler 创建任务处理器实例
func NewTaskHandler(taskService service.TaskService, logger *logrus.Logger) *TaskHandler {
	return &TaskHandler{
		taskService: taskService,
		logger:      logger,
	}
}

// ListTasks 获取任务列表
// GET /api/tasks?page=1&page_size=20&status=completed&packed=true
// 支持分页参数，默认每页20条
// 支持状态过滤：status=completed
// 支持加壳过滤：packed=true/false（需要已有分类结果）
func (h *TaskHandler) ListTasks(c *gin.Context) {
	pageStr := c.DefaultQuery("page", "1")
	pageSizeStr := c.DefaultQuery("page_size", "20")
	statusFilter := c.Query("status") // 例如: status=completed
	packedFilter := c.Query("packed") // 例如: packed=true

	page, err := strconv.Atoi(pageStr)
	if err != nil || page <= 0 {
		page = 1
	}

	pageSize, err := strconv.Atoi(pageSizeStr)
	if err != nil || pageSize <= 0 {
		pageSize = 20
	}

	// 限制最大每页数量，防止过大的查询
	if pageSize > 100 {
		pageSize = 100
	}

	// 状态/加壳过滤需要内存过滤，查询上限设为 5000 条避免内存溢出
	hasMemoryFilter := statusFilter != "" || packedFilter != ""

	var tasks []*domain.Task
	var total int64

	if hasMemoryFilter {
		queryLimit := 5000
		tasks, _, err = h.taskService.ListTasksWithPagination(c.Request.Context(), 1, queryLimit)
	} else {
		tasks, total, err = h.taskService.ListTasksWithPagination(c.Request.Context(), page, pageSize)
	}

	if err != nil {
		h.logger.WithError(err).Error("Failed to list tasks")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "获取任务列表失败",
		})
		return
	}

	if hasMemoryFilter {
		var filtered []*domain.Task
		for _, task := range tasks {
			if statusFilter != "" && string(task.Status) != statusFilter {
				continue
			}

			if packedFilter != "" {
				if task.Classification == nil {
					continue
				}
				wantPacked := packedFilter == "true"
				if task.Classification.Packed != wantPacked {
					continue
				}
			}

			filtered = append(filtered, task)
		}

		// 手动分页
		startIdx := (page - 1) * pageSize
		endIdx := startIdx + pageSize
		if startIdx >= len(filtered) {
			startIdx = len(filtered)
		}
		if endIdx > len(filtered) {
			endIdx = len(filtered)
		}
		tasks = filtered[startIdx:endIdx]
		total = int64(len(filtered))
	}

	// 转换为响应格式
	taskList := make([]map[string]interface{}, len(tasks))
	for i, task := range tasks {
		taskList[i] = h.taskToResponse(task)
	}

	// 计算总页数
	totalPages := (total + int64(pageSize) - 1) / int64(pageSize)

	c.JSON(http.StatusOK, gin.H{
		"tasks":       taskList,
		"total":       total,
		"page":        page,
		"page_size":   pageSize,
		"total_pages": totalPages,
	})
}

// GetTask 获取单个任务详情
// GET /api/tasks/:id
func (h *TaskHandler) GetTask(c *gin.Context) {
	taskID := c.Param("id")

	task, err := h.taskService.GetTask(c.Request.Context(), taskID)
	if err != nil {
		h.logger.WithError(err).WithField("task_id", taskID).Error("Failed to get task")
		c.JSON(http.StatusNotFound, gin.H{
			"error": "任务不存在",
		})
		return
	}

	c.JSON(http.StatusOK, h.taskToResponse(task))
}

// ListQueuedTasks 获取所有排队中的任务（不分页）
// GET /api/tasks/queued
func (h *TaskHandler) ListQueuedTasks(c *gin.Context) {
	tasks, err := h.taskService.ListQueuedTasks(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list queued tasks")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "获取排队任务列表失败",
		})
		return
	}

	// 转换为响应格式
	var taskResponses []gin.H
	for _, task := range tasks {
		taskResponses = append(taskResponses, h.taskToResponse(task))
	}

	c.JSON(http.StatusOK, gin.H{
		"tasks": taskResponses,
		"total": len(tasks),
	})
}

// DeleteTask 删除任务
// DELETE /api/tasks/:id
func (h *TaskHandler) DeleteTask(c *gin.Context) {
	taskID := c.Param("id")

	if err := h.taskService.DeleteTask(c.Request.Context(), taskID); err != nil {
		h.logger.WithError(err).WithField("task_id", taskID).Error("Failed to delete task")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "删除任务失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "任务删除成功",
	})
}

// RetryTask 重试失败任务
// POST /api/tasks/:id/retry
func (h *TaskHandler) RetryTask(c *gin.Context) {
	taskID := c.Param("id")

	task, err := h.taskService.RetryTask(c.Request.Context(), taskID)
	if err != nil {
		h.logger.WithError(err).WithField("task_id", taskID).Error("Failed to retry task")
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "任务已重新排队",
		"task":    h.taskToResponse(task),
	})
}

// GetSystemStats 获取系统统计信息
// GET /api/stats
// 使用数据库聚合查询统计各状态任务数量，避免只统计部分数据的问题
func (h *TaskHandler) GetSystemStats(c *gin.Context) {
	statusCounts, total, err := h.taskService.GetStatusCounts(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to get status counts")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取统计信息失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total_tasks":      total,
		"status_breakdown": statusCounts,
	})
}

// taskToResponse 将 Task 模型转换为响应格式
func (h *TaskHandler) taskToResponse(task *domain.Task) map[string]interface{} {
	response := map[string]interface{}{
		"id":            task.ID,
		"apk_name":      task.APKName,
		"package_name":  task.PackageName,
		"version_name":  task.VersionName,
		"status":        task.Status,
		"created_at":    task.CreatedAt,
		"started_at":    task.StartedAt,
		"completed_at":  task.CompletedAt,
		"current_step":  task.CurrentStep,
		"error_message": task.ErrorMessage,
		"retry_count":   task.RetryCount,
		"failure_type":  task.FailureType,
	}

	// 添加失败类型的显示名称和严重程度
	if task.FailureType != "" {
		response["failure_type_display"] = task.FailureType.GetDisplayName()
		response["failure_severity"] = task.FailureType.GetSeverity()
	}

	// 添加 CST 时间格式
	if !task.CreatedAt.IsZero() {
		response["created_at_cst"] = task.CreatedAt.Add(8 * 60 * 60 * 1000000000).Format("2006/01/02 15:04:05")
	}
	if task.StartedAt != nil && !task.StartedAt.IsZero() {
		response["started_at_cst"] = task.StartedAt.Add(8 * 60 * 60 * 1000000000).Format("2006/01/02 15:04:05")
	}
	if task.CompletedAt != nil && !task.CompletedAt.IsZero() {
		response["completed_at_cst"] = task.CompletedAt.Add(8 * 60 * 60 * 1000000000).Format("2006/01/02 15:04:05")
	}

	// 分类结果摘要（任务列表展示结论用，完整报告走 classification 接口）
	if task.Classification != nil {
		cls := map[string]interface{}{
			"packed":                 task.Classification.Packed,
			"obfuscation_score":      task.Classification.ObfuscationScore,
			"identifiers_obfuscated": task.Classification.IdentifiersObfuscated,
			"strings_encrypted":      task.Classification.StringsEncrypted,
			"modifiable_point_count": task.Classification.ModifiablePointCount,
			"scan_truncated":         task.Classification.ScanTruncated,
		}
		if task.Classification.Packed {
			cls["packer_name"] = task.Classification.PackerName
			cls["packer_family"] = task.Classification.PackerFamily
			cls["packer_confidence"] = task.Classification.PackerConfidence
			cls["difficulty_tier"] = task.Classification.DifficultyTier
		}
		response["classification"] = cls
	}

	return response
}

// parseReportJSON 解析落库的完整报告 JSON，解析失败时返回 nil
func parseReportJSON(raw string) map[string]interface{} {
	if raw == "" {
		return nil
	}
	var report map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		return nil
	}
	return report
}
