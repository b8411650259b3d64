package domain

import (
	"time"
)

type TaskStatus string

const (
	TaskStatusQueued      TaskStatus = "queued"
	TaskStatusExtracting  TaskStatus = "extracting"
	TaskStatusDecompiling TaskStatus = "decompiling"
	TaskStatusClassifying TaskStatus = "classifying"
	TaskStatusCompleted   TaskStatus = "completed"
	TaskStatusFailed      TaskStatus = "failed"
	TaskStatusCancelled   TaskStatus = "cancelled"
)

// FailureType 失败类型
type FailureType string

const (
	FailureTypeNone            FailureType = ""                 // 无失败（成功或进行中）
	FailureTypeInvalidArchive  FailureType = "invalid_archive"  // APK不是合法zip（警告-样本问题）
	FailureTypeExtractFailed   FailureType = "extract_failed"   // 证据提取失败（警告-样本问题）
	FailureTypeDecompileFailed FailureType = "decompile_failed" // 反编译失败（正常-降级为无源码分析）
	FailureTypePersistError    FailureType = "persist_error"    // 结果落库失败（异常-系统问题）
	FailureTypeTimeout         FailureType = "timeout"          // 任务执行超时（警告）
	FailureTypeUnknown         FailureType = "unknown"          // 未知错误（异常）
)

// FailureSeverity 失败严重程度
type FailureSeverity string

const (
	FailureSeverityNormal  FailureSeverity = "normal"  // 正常（资源限制，可重试）
	FailureSeverityWarning FailureSeverity = "warning" // 警告（需要关注）
	FailureSeverityError   FailureSeverity = "error"   // 错误（需要排查）
)

// GetSeverity 获取失败类型对应的严重程度
func (ft FailureType) GetSeverity() FailureSeverity {
	switch ft {
	case FailureTypeNone, FailureTypeDecompileFailed:
		return FailureSeverityNormal
	case FailureTypeInvalidArchive, FailureTypeExtractFailed, FailureTypeTimeout:
		return FailureSeverityWarning // 样本或超时问题，需关注
	case FailureTypePersistError, FailureTypeUnknown:
		return FailureSeverityError // 系统问题，需排查
	default:
		return FailureSeverityError
	}
}

// GetDisplayName 获取失败类型的中文显示名称
func (ft FailureType) GetDisplayName() string {
	switch ft {
	case FailureTypeNone:
		return ""
	case FailureTypeInvalidArchive:
		return "文件格式错误"
	case FailureTypeExtractFailed:
		return "证据提取失败"
	case FailureTypeDecompileFailed:
		return "反编译失败"
	case FailureTypePersistError:
		return "结果保存失败"
	case FailureTypeTimeout:
		return "执行超时"
	case FailureTypeUnknown:
		return "未知错误"
	default:
		return "未知错误"
	}
}

// GetMaxRetryCount 获取失败类型对应的最大重试次数
// 返回 0 表示不重试
func (ft FailureType) GetMaxRetryCount() int {
	switch ft {
	case FailureTypeNone:
		return 0 // 成功不需要重试
	case FailureTypeInvalidArchive:
		return 0 // 样本本身损坏，重试无意义
	case FailureTypePersistError, FailureTypeTimeout:
		return 3 // 环境问题，可重试3次
	case FailureTypeExtractFailed, FailureTypeUnknown:
		return 1
	default:
		return 1
	}
}

// CanRetry 检查失败类型是否可以重试
func (ft FailureType) CanRetry() bool {
	return ft.GetMaxRetryCount() > 0
}

// Task 主任务表
type Task struct {
	ID           string      `gorm:"primaryKey;type:varchar(36)" json:"id"`
	APKName      string      `gorm:"type:varchar(255);not null" json:"apk_name"`
	APKPath      string      `gorm:"type:varchar(1024)" json:"apk_path,omitempty"`
	PackageName  string      `gorm:"type:varchar(255);index:idx_package_name" json:"package_name,omitempty"`
	VersionName  string      `gorm:"type:varchar(50)" json:"version_name,omitempty"`
	Status       TaskStatus  `gorm:"type:varchar(20);not null;default:'queued'" json:"status"`
	FailureType  FailureType `gorm:"type:varchar(30);default:''" json:"failure_type,omitempty"`
	ErrorMessage string      `gorm:"type:text" json:"error_message,omitempty"`
	RetryCount   int         `gorm:"type:tinyint;default:0" json:"retry_count"`
	CreatedAt    time.Time   `gorm:"not null" json:"created_at"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
	CurrentStep  string      `gorm:"type:varchar(255)" json:"current_step,omitempty"`

	// 关联 (使用指针避免循环依赖)
	Classification *TaskClassification `gorm:"foreignKey:TaskID;references:ID" json:"classification,omitempty"`
}

func (Task) TableName() string {
	return "apk_tasks"
}
