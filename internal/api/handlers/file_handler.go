package handlers

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/apk-classify/apk-classify-go/internal/service"
)

// 上传文件大小上限 (500MB)
const maxUploadSize = int64(500 * 1024 * 1024)

// FileHandler 文件处理器
type FileHandler struct {
	taskService service.TaskService
	logger      *logrus.Logger
	resultDir   string // 分类报告输出目录
	apkDir      string // APK 入库目录（文件监控器监听此目录）
}

// NewFileHandler 创建文件处理器实例
func NewFileHandler(taskService service.TaskService, logger *logrus.Logger, resultDir string, apkDir string) *FileHandler {
	return &FileHandler{
		taskService: taskService,
		logger:      logger,
		resultDir:   resultDir,
		apkDir:      apkDir,
	}
}

// UploadAPK 上传 APK 文件
// POST /api/upload
// 文件落入 APK 入库目录后由文件监控器创建分类任务
func (h *FileHandler) UploadAPK(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		h.logger.WithError(err).Error("Failed to get uploaded file")
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "获取上传文件失败",
		})
		return
	}

	if err := h.saveUploadedAPK(file); err != nil {
		status := http.StatusInternalServerError
		if ue, ok := err.(*uploadError); ok {
			status = ue.status
		}
		c.JSON(status, gin.H{
			"error":    err.Error(),
			"filename": file.Filename,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"message":  "APK 上传成功，任务将自动创建",
		"filename": file.Filename,
	})
}

// UploadAPKBatch 批量上传 APK 文件
// POST /api/upload/batch
func (h *FileHandler) UploadAPKBatch(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		h.logger.WithError(err).Error("Failed to parse multipart form")
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "解析上传表单失败",
		})
		return
	}

	files := form.File["files"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "未提供上传文件",
		})
		return
	}

	var succeeded []string
	var failed []gin.H

	for _, file := range files {
		if err := h.saveUploadedAPK(file); err != nil {
			failed = append(failed, gin.H{
				"filename": file.Filename,
				"error":    err.Error(),
			})
			continue
		}
		succeeded = append(succeeded, file.Filename)
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        len(failed) == 0,
		"uploaded":       succeeded,
		"uploaded_count": len(succeeded),
		"failed":         failed,
		"failed_count":   len(failed),
	})
}

// GetReport 下载任务的分类报告文件
// GET /api/tasks/:id/report?format=json|text
func (h *FileHandler) GetReport(c *gin.Context) {
	taskID := c.Param("id")
	format := c.DefaultQuery("format", "json")

	// 验证任务是否存在
	if _, err := h.taskService.GetTask(c.Request.Context(), taskID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "任务不存在",
		})
		return
	}

	var filename, contentType string
	switch format {
	case "json":
		filename = taskID + ".json"
		contentType = "application/json; charset=utf-8"
	case "text":
		filename = taskID + ".txt"
		contentType = "text/plain; charset=utf-8"
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "不支持的报告格式，仅支持 json/text",
		})
		return
	}

	filePath := filepath.Join(h.resultDir, filename)
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "报告文件不存在",
		})
		return
	}

	c.Header("Content-Type", contentType)
	c.File(filePath)
}

// uploadError 携带 HTTP 状态码的上传错误
type uploadError struct {
	status  int
	message string
}

func (e *uploadError) Error() string {
	return e.message
}

// saveUploadedAPK 校验并保存上传的 APK 到入库目录
func (h *FileHandler) saveUploadedAPK(file *multipart.FileHeader) error {
	filename := filepath.Base(file.Filename)

	// 验证文件扩展名
	if !strings.HasSuffix(strings.ToLower(filename), ".apk") {
		return &uploadError{http.StatusBadRequest, "只支持 APK 文件格式"}
	}

	// 验证文件大小
	if file.Size > maxUploadSize {
		return &uploadError{http.StatusBadRequest,
			fmt.Sprintf("文件大小超过限制 (最大 %dMB)", maxUploadSize/(1024*1024))}
	}

	// 确保入库目录存在
	if err := os.MkdirAll(h.apkDir, 0755); err != nil {
		h.logger.WithError(err).Error("Failed to create apk directory")
		return &uploadError{http.StatusInternalServerError, "创建上传目录失败"}
	}

	destPath := filepath.Join(h.apkDir, filename)

	// 检查文件是否已存在
	if _, err := os.Stat(destPath); err == nil {
		return &uploadError{http.StatusConflict, "文件已存在"}
	}

	src, err := file.Open()
	if err != nil {
		h.logger.WithError(err).Error("Failed to open uploaded file")
		return &uploadError{http.StatusInternalServerError, "打开上传文件失败"}
	}
	defer src.Close()

	dst, err := os.Create(destPath)
	if err != nil {
		h.logger.WithError(err).Error("Failed to create destination file")
		return &uploadError{http.StatusInternalServerError, "创建目标文件失败"}
	}
	defer dst.Close()

	written, err := io.Copy(dst, src)
	if err != nil {
		h.logger.WithError(err).Error("Failed to copy file")
		// 删除不完整的文件
		os.Remove(destPath)
		return &uploadError{http.StatusInternalServerError, "文件上传失败"}
	}

	h.logger.WithFields(logrus.Fields{
		"filename": filename,
		"size":     written,
		"path":     destPath,
	}).Info("APK file uploaded successfully")

	return nil
}
