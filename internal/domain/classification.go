package domain

import "time"

// TaskClassification 分类结果表
// 标量字段冗余存储方便按壳名/评分查询，完整报告以JSON列保存
type TaskClassification struct {
	ID     uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	TaskID string `gorm:"type:varchar(36);uniqueIndex:uk_task_id;not null" json:"task_id"`

	// 加壳检测 (未检出时壳字段为空)
	Packed           bool    `gorm:"default:false;index:idx_packed" json:"packed"`
	PackerName       string  `gorm:"type:varchar(100);index:idx_packer_name" json:"packer_name,omitempty"`
	PackerFamily     string  `gorm:"type:varchar(30)" json:"packer_family,omitempty"`
	PackerConfidence float64 `gorm:"type:decimal(3,2);default:0" json:"packer_confidence"`
	DifficultyTier   string  `gorm:"type:varchar(20)" json:"difficulty_tier,omitempty"`

	// 混淆评估
	ObfuscationScore      int  `gorm:"type:tinyint;default:1" json:"obfuscation_score"`
	IdentifiersObfuscated bool `gorm:"default:false" json:"identifiers_obfuscated"`
	StringsEncrypted      bool `gorm:"default:false" json:"strings_encrypted"`

	// 敏感代码扫描
	ModifiablePointCount int  `gorm:"default:0" json:"modifiable_point_count"`
	ScanTruncated        bool `gorm:"default:false" json:"scan_truncated"`
	ScannedFiles         int  `gorm:"default:0" json:"scanned_files"`

	// 完整报告 JSON
	ReportJSON string `gorm:"type:mediumtext" json:"report_json,omitempty"`

	// 性能指标
	DurationMs int `gorm:"type:int" json:"duration_ms,omitempty"`

	ClassifiedAt *time.Time `json:"classified_at,omitempty"`
	CreatedAt    time.Time  `gorm:"not null" json:"created_at"`
}

func (TaskClassification) TableName() string {
	return "task_classifications"
}
