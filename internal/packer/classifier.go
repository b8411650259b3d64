package packer

import (
	"github.com/sirupsen/logrus"

	"github.com/apk-classify/apk-classify-go/internal/evidence"
	"github.com/apk-classify/apk-classify-go/internal/signature"
)

// Classifier 壳分类器
// 纯函数式: 只读证据模型和特征库，无副作用，可并发复用
type Classifier struct {
	registry *signature.Registry
	cfg      Config
	logger   *logrus.Logger
}

// NewClassifier 创建壳分类器
func NewClassifier(registry *signature.Registry, cfg Config, logger *logrus.Logger) *Classifier {
	if cfg.ConfidenceMultiplier <= 0 {
		cfg = DefaultConfig()
	}
	return &Classifier{
		registry: registry,
		cfg:      cfg,
		logger:   logger,
	}
}

// Classify 对证据模型执行壳识别
// 返回置信度最高的规则；并列时取声明顺序靠前的规则 (确定性，非任意)
// 没有任何特征命中时返回 nil，表示推定未加壳，不是错误
func (c *Classifier) Classify(ev *evidence.Model) *Finding {
	paths := ev.SortedFilePaths()
	libs := ev.SortedNativeLibs()
	manifestStrings := ev.ManifestStrings()

	var best *Finding
	for _, rule := range c.registry.PackerRules() {
		matched := matchRule(rule, paths, libs, manifestStrings)
		if len(matched) == 0 {
			continue
		}

		raw := rule.BaseWeight * float64(len(matched))
		conf := raw * c.cfg.ConfidenceMultiplier
		if conf > ConfidenceCap {
			conf = ConfidenceCap
		}

		// 严格大于: 并列置信度时保留先声明的规则
		if best == nil || conf > best.Confidence {
			best = &Finding{
				RuleName:        rule.Name,
				Family:          rule.Family,
				RawScore:        raw,
				Confidence:      conf,
				MatchedEvidence: matched,
				Tier:            rule.Tier,
			}
		}
	}

	if best == nil {
		c.logger.Debug("No packer signature matched")
		return nil
	}

	c.logger.WithFields(logrus.Fields{
		"rule":       best.RuleName,
		"family":     best.Family,
		"confidence": best.Confidence,
		"evidence":   best.MatchedEvidence,
	}).Info("Packer detected")

	return best
}

// matchRule 计算单条规则命中的特征
// 每个特征至多计一次 (取字典序最小的命中对象作为证据)，
// 原始得分因此与"命中特征数"而不是"命中文件数"成正比
func matchRule(rule signature.PackerRule, paths, libs, manifestStrings []string) []string {
	var matched []string

	for _, m := range rule.PathMarkers {
		for _, p := range paths {
			if m.Match(p) {
				matched = append(matched, "path:"+p)
				break
			}
		}
	}
	for _, m := range rule.LibMarkers {
		for _, lib := range libs {
			if m.Match(lib) {
				matched = append(matched, "native_lib:"+lib)
				break
			}
		}
	}
	for _, m := range rule.ManifestMarkers {
		for _, s := range manifestStrings {
			if m.Match(s) {
				matched = append(matched, "manifest:"+s)
				break
			}
		}
	}

	return matched
}
