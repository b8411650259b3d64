package packer

import "github.com/apk-classify/apk-classify-go/internal/signature"

// ConfidenceCap 置信度上限
// 特征匹配本质上是启发式的，不同厂商的落地文件可能冲突，
// 所以无论命中多少特征，置信度都不允许到达1.0
const ConfidenceCap = 0.9

// Finding 壳识别结果
// 每次分析最多产生一个 Finding；没有任何特征命中时结果为 nil (视为未加壳)
type Finding struct {
	RuleName        string         `json:"rule_name"`        // 命中的规则名
	Family          string         `json:"family"`           // 壳类型
	RawScore        float64        `json:"raw_score"`        // 原始得分 = 基础权重 × 命中特征数
	Confidence      float64        `json:"confidence"`       // 置信度 [0, 0.9]
	MatchedEvidence []string       `json:"matched_evidence"` // 命中的证据
	Tier            signature.Tier `json:"difficulty_tier"`  // 脱壳难度 (规则静态属性)
}

// Config 分类器策略常量
type Config struct {
	// ConfidenceMultiplier 原始得分到置信度的换算系数
	// confidence = min(0.9, rawScore × ConfidenceMultiplier)
	// 单调饱和: 每多命中一个特征置信度不减，且永不超过上限
	ConfidenceMultiplier float64 `mapstructure:"confidence_multiplier"`
}

// DefaultConfig 默认策略常量
func DefaultConfig() Config {
	return Config{
		ConfidenceMultiplier: 0.25,
	}
}
