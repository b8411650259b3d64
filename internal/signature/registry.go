package signature

import (
	"github.com/sirupsen/logrus"
)

// Registry 静态特征库
// 初始化后只读，所有分析共享同一实例，可并发读取
// 空的或部分非法的特征库只会降级为"无结果"，不是故障
type Registry struct {
	packerRules []PackerRule
	categories  []CategorySignature
	byCategory  map[Category]CategorySignature
}

// NewRegistry 从声明式规则编译特征库
// 非法模式的单条特征跳过并记录日志，其余特征继续可用
func NewRegistry(packers []PackerRuleSpec, cats []CategorySpec, logger *logrus.Logger) *Registry {
	r := &Registry{
		byCategory: make(map[Category]CategorySignature),
	}

	for _, spec := range packers {
		rule := PackerRule{
			Name:       spec.Name,
			Family:     spec.Family,
			BaseWeight: spec.BaseWeight,
			Tier:       spec.Tier,
		}
		if rule.BaseWeight <= 0 {
			rule.BaseWeight = 1.0
		}

		for _, p := range spec.PathMarkers {
			m, err := NewPathGlob(p)
			if err != nil {
				logger.WithFields(logrus.Fields{
					"rule":    spec.Name,
					"pattern": p,
				}).Warn("Skipping malformed path marker")
				continue
			}
			rule.PathMarkers = append(rule.PathMarkers, m)
		}
		for _, p := range spec.LibMarkers {
			rule.LibMarkers = append(rule.LibMarkers, NewSubstring(p))
		}
		for _, p := range spec.ManifestMarkers {
			rule.ManifestMarkers = append(rule.ManifestMarkers, NewSubstring(p))
		}

		if len(rule.PathMarkers)+len(rule.LibMarkers)+len(rule.ManifestMarkers) == 0 {
			logger.WithField("rule", spec.Name).Warn("Skipping packer rule without usable markers")
			continue
		}
		r.packerRules = append(r.packerRules, rule)
	}

	for _, spec := range cats {
		sig := CategorySignature{
			Category:        spec.Category,
			Tier:            spec.Tier,
			SuggestedAction: spec.SuggestedAction,
			HookSuggestion:  spec.HookSuggestion,
		}
		for _, p := range spec.Patterns {
			m, err := NewSymbolRegex(p)
			if err != nil {
				logger.WithFields(logrus.Fields{
					"category": spec.Category,
					"pattern":  p,
				}).Warn("Skipping malformed symbol pattern")
				continue
			}
			sig.Patterns = append(sig.Patterns, m)
		}
		if len(sig.Patterns) == 0 {
			continue
		}
		r.categories = append(r.categories, sig)
		r.byCategory[sig.Category] = sig
	}

	logger.WithFields(logrus.Fields{
		"packer_rules": len(r.packerRules),
		"categories":   len(r.categories),
	}).Debug("Signature registry loaded")

	return r
}

// NewBuiltinRegistry 加载内置特征库
func NewBuiltinRegistry(logger *logrus.Logger) *Registry {
	return NewRegistry(BuiltinPackerRules(), BuiltinCategorySpecs(), logger)
}

// PackerRules 按声明顺序返回壳规则 (顺序即并列时的优先顺序)
func (r *Registry) PackerRules() []PackerRule {
	return r.packerRules
}

// Categories 按声明顺序返回敏感类别特征
func (r *Registry) Categories() []CategorySignature {
	return r.categories
}

// Category 按类别查找特征，不存在时第二个返回值为 false
func (r *Registry) Category(c Category) (CategorySignature, bool) {
	sig, ok := r.byCategory[c]
	return sig, ok
}
