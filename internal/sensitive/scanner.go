package sensitive

import (
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/apk-classify/apk-classify-go/internal/evidence"
	"github.com/apk-classify/apk-classify-go/internal/signature"
)

// ComponentRef Manifest声明的入口组件
type ComponentRef struct {
	Kind evidence.ComponentKind `json:"kind"`
	Name string                 `json:"name"`
}

// Point 可修改点: 反编译源码中定位到的敏感代码位置
type Point struct {
	Category        signature.Category `json:"category"`
	SourceFile      string             `json:"source_file"`
	Line            int                `json:"line"`
	Symbol          string             `json:"symbol"`           // 命中行的截断文本
	SuggestedAction string             `json:"suggested_action"` // 建议操作
	HookSuggestion  string             `json:"hook_suggestion"`  // 运行时Hook建议
	Tier            signature.Tier     `json:"difficulty_tier"`
}

// Result 敏感代码扫描结果
// 空的反编译源码产生空结果 (不是错误)；Truncated 表示扫描因文件数上限被截断
type Result struct {
	EntryPoints      []ComponentRef `json:"entry_points"`
	KeyClasses       []string       `json:"key_classes"`
	ModifiablePoints []Point        `json:"modifiable_points"`
	ScannedFiles     int            `json:"scanned_files"`
	SkippedFiles     int            `json:"skipped_files"` // 无法按文本解码而跳过的文件
	Truncated        bool           `json:"truncated"`     // 达到 MaxScanFiles 上限
}

// Config 扫描策略常量
type Config struct {
	// MaxScanFiles 扫描文件数上限
	// 用常量上界换取最坏情况延迟有界: 超大的反编译树只看前 N 个文件，
	// 牺牲部分召回率，这是有意为之的限制而不是缺陷
	MaxScanFiles int `mapstructure:"max_scan_files"`
	// EscalateMatchCount 同文件同类别命中数达到该值时难度升一级
	EscalateMatchCount int `mapstructure:"escalate_match_count"`
	// MaxSymbolLen 记录到可修改点的命中行文本长度上限
	MaxSymbolLen int `mapstructure:"max_symbol_len"`
}

// DefaultConfig 默认扫描策略
func DefaultConfig() Config {
	return Config{
		MaxScanFiles:       100,
		EscalateMatchCount: 3,
		MaxSymbolLen:       120,
	}
}

// Scanner 敏感代码扫描器
type Scanner struct {
	registry *signature.Registry
	cfg      Config
	logger   *logrus.Logger
}

// NewScanner 创建敏感代码扫描器
func NewScanner(registry *signature.Registry, cfg Config, logger *logrus.Logger) *Scanner {
	if cfg.MaxScanFiles <= 0 {
		cfg = DefaultConfig()
	}
	return &Scanner{
		registry: registry,
		cfg:      cfg,
		logger:   logger,
	}
}

// Scan 扫描证据模型
// 入口组件只来自Manifest事实 (比源码启发式更可信，不扫源码也能得到)；
// 可修改点来自对反编译源码的有界遍历
func (s *Scanner) Scan(ev *evidence.Model) *Result {
	result := &Result{
		EntryPoints:      []ComponentRef{},
		KeyClasses:       []string{},
		ModifiablePoints: []Point{},
	}

	// 入口组件: 按固定组件类型顺序，保证结果确定
	for _, kind := range evidence.ComponentKinds {
		for _, name := range ev.Manifest.Components[kind] {
			result.EntryPoints = append(result.EntryPoints, ComponentRef{Kind: kind, Name: name})
		}
	}

	if !ev.Source.Available {
		s.logger.WithField("reason", ev.Source.Reason).Debug("No decompiled source, skipping code scan")
		return result
	}

	keyClassSet := make(map[string]struct{})

	for i, file := range ev.Source.Files {
		if i >= s.cfg.MaxScanFiles {
			result.Truncated = true
			s.logger.WithFields(logrus.Fields{
				"limit":     s.cfg.MaxScanFiles,
				"remaining": len(ev.Source.Files) - i,
			}).Debug("Scan file limit reached")
			break
		}

		if !utf8.ValidString(file.Text) {
			result.SkippedFiles++
			continue
		}
		result.ScannedFiles++

		points, categories := s.scanFile(file)
		result.ModifiablePoints = append(result.ModifiablePoints, points...)

		// 关键类: 跨多类别命中，或命中Root检测/签名校验
		if len(categories) >= 2 ||
			categories[signature.CategoryRootDetection] > 0 ||
			categories[signature.CategorySignatureVerify] > 0 {
			class := classNameFromPath(file.Path)
			if _, seen := keyClassSet[class]; !seen && class != "" {
				keyClassSet[class] = struct{}{}
				result.KeyClasses = append(result.KeyClasses, class)
			}
		}
	}

	s.logger.WithFields(logrus.Fields{
		"entry_points":      len(result.EntryPoints),
		"modifiable_points": len(result.ModifiablePoints),
		"key_classes":       len(result.KeyClasses),
		"scanned":           result.ScannedFiles,
		"skipped":           result.SkippedFiles,
		"truncated":         result.Truncated,
	}).Info("Sensitive code scan completed")

	return result
}

// scanFile 对单个源码文件做类别特征匹配
// 每个 (类别, 行) 至多产生一个可修改点；返回各类别的命中数用于难度升级
func (s *Scanner) scanFile(file evidence.SourceFile) ([]Point, map[signature.Category]int) {
	lines := strings.Split(file.Text, "\n")
	var points []Point
	counts := make(map[signature.Category]int)

	for _, sig := range s.registry.Categories() {
		for lineNo, line := range lines {
			if !matchAny(sig.Patterns, line) {
				continue
			}
			counts[sig.Category]++
			points = append(points, Point{
				Category:        sig.Category,
				SourceFile:      file.Path,
				Line:            lineNo + 1,
				Symbol:          truncate(strings.TrimSpace(line), s.cfg.MaxSymbolLen),
				SuggestedAction: sig.SuggestedAction,
				HookSuggestion:  sig.HookSuggestion,
				Tier:            sig.Tier,
			})
		}
	}

	// 同类别在同一文件内命中多处意味着需要交叉比对多个调用点，难度升一级
	for i := range points {
		if counts[points[i].Category] >= s.cfg.EscalateMatchCount {
			points[i].Tier = escalate(points[i].Tier)
		}
	}

	return points, counts
}

func matchAny(patterns []signature.Matcher, line string) bool {
	for _, m := range patterns {
		if m.Match(line) {
			return true
		}
	}
	return false
}

// escalate 难度升一级
func escalate(t signature.Tier) signature.Tier {
	switch t {
	case signature.TierSimple:
		return signature.TierMedium
	default:
		return signature.TierHard
	}
}

// classNameFromPath 从反编译文件路径推导类名
// sources/com/example/Foo.java -> com.example.Foo
func classNameFromPath(p string) string {
	p = strings.TrimSuffix(p, ".java")
	p = strings.TrimSuffix(p, ".smali")
	p = strings.TrimSuffix(p, ".kt")
	for _, prefix := range []string{"sources/", "smali/", "smali_classes2/", "src/"} {
		p = strings.TrimPrefix(p, prefix)
	}
	return strings.ReplaceAll(p, "/", ".")
}

func truncate(s string, max int) string {
	if max > 0 && len(s) > max {
		return s[:max]
	}
	return s
}
