package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/apk-classify/apk-classify-go/internal/repository"
)

// ClassificationHandler 分类结果处理器
type ClassificationHandler struct {
	classRepo repository.ClassificationRepository
	logger    *logrus.Logger
}

// NewClassificationHandler 创建分类结果处理器
func NewClassificationHandler(classRepo repository.ClassificationRepository, logger *logrus.Logger) *ClassificationHandler {
	return &ClassificationHandler{
		classRepo: classRepo,
		logger:    logger,
	}
}

// GetClassification 获取任务的完整分类结果
// GET /api/tasks/:id/classification
func (h *ClassificationHandler) GetClassification(c *gin.Context) {
	taskID := c.Param("id")

	cls, err := h.classRepo.FindByTaskID(c.Request.Context(), taskID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "分类结果不存在",
		})
		return
	}

	response := gin.H{
		"task_id":                cls.TaskID,
		"packed":                 cls.Packed,
		"obfuscation_score":      cls.ObfuscationScore,
		"identifiers_obfuscated": cls.IdentifiersObfuscated,
		"strings_encrypted":      cls.StringsEncrypted,
		"modifiable_point_count": cls.ModifiablePointCount,
		"scan_truncated":         cls.ScanTruncated,
		"scanned_files":          cls.ScannedFiles,
		"duration_ms":            cls.DurationMs,
		"classified_at":          cls.ClassifiedAt,
	}

	if cls.Packed {
		response["packer_name"] = cls.PackerName
		response["packer_family"] = cls.PackerFamily
		response["packer_confidence"] = cls.PackerConfidence
		response["difficulty_tier"] = cls.DifficultyTier
	}

	// 完整报告（含评分因素明细和可修改点列表）
	if report := parseReportJSON(cls.ReportJSON); report != nil {
		response["report"] = report
	} else if cls.ReportJSON != "" {
		h.logger.WithField("task_id", taskID).Warn("Failed to parse stored report JSON")
	}

	c.JSON(http.StatusOK, response)
}

// GetPackerStatistics 获取各壳名的样本数统计
// GET /api/packers/statistics
func (h *ClassificationHandler) GetPackerStatistics(c *gin.Context) {
	counts, err := h.classRepo.CountByPacker(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to get packer statistics")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "获取壳统计信息失败",
		})
		return
	}

	var total int64
	for _, n := range counts {
		total += n
	}

	c.JSON(http.StatusOK, gin.H{
		"packers":      counts,
		"total_packed": total,
	})
}

// ListPackerTasks 获取命中某个壳的样本列表
// GET /api/packers/:name/tasks?limit=50
func (h *ClassificationHandler) ListPackerTasks(c *gin.Context) {
	packerName := c.Param("name")

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	results, err := h.classRepo.ListByPacker(c.Request.Context(), packerName, limit)
	if err != nil {
		h.logger.WithError(err).WithField("packer_name", packerName).Error("Failed to list packer tasks")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "获取壳样本列表失败",
		})
		return
	}

	items := make([]gin.H, len(results))
	for i, cls := range results {
		items[i] = gin.H{
			"task_id":           cls.TaskID,
			"packer_name":       cls.PackerName,
			"packer_family":     cls.PackerFamily,
			"packer_confidence": cls.PackerConfidence,
			"difficulty_tier":   cls.DifficultyTier,
			"obfuscation_score": cls.ObfuscationScore,
			"classified_at":     cls.ClassifiedAt,
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"packer_name": packerName,
		"tasks":       items,
		"total":       len(items),
	})
}
