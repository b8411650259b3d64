package obfuscation

import (
	"fmt"
	"regexp"

	"github.com/sirupsen/logrus"

	"github.com/apk-classify/apk-classify-go/internal/evidence"
)

// Factor 单项混淆指标的贡献
type Factor struct {
	Name         string `json:"name"`         // 指标名
	Contribution int    `json:"contribution"` // 实际计入总分的贡献
	Rationale    string `json:"rationale"`    // 判定依据
}

// Report 混淆评估报告
// 约束: Score = Baseline + Σ Factors[].Contribution，每一分都能回溯到指标
type Report struct {
	Score                 int      `json:"score"` // 1-10
	Factors               []Factor `json:"factors"`
	IdentifiersObfuscated bool     `json:"identifiers_obfuscated"`
	StringsEncrypted      bool     `json:"strings_encrypted"`
}

// Config 评分策略常量
type Config struct {
	Baseline               int     `mapstructure:"baseline"`                 // 基准分
	MaxScore               int     `mapstructure:"max_score"`                // 总分上限
	ShortIdentifierWeight  int     `mapstructure:"short_identifier_weight"`  // 标识符混淆贡献
	ShortIdentifierRatio   float64 `mapstructure:"short_identifier_ratio"`   // 短标识符密度阈值
	StringEncryptionWeight int     `mapstructure:"string_encryption_weight"` // 字符串加密贡献
	MultiDexThreshold      int     `mapstructure:"multidex_threshold"`       // 多DEX起算阈值
	MultiDexCap            int     `mapstructure:"multidex_cap"`             // 多DEX贡献上限
	NativeDensityThreshold int     `mapstructure:"native_density_threshold"` // Native库密度阈值
	NativeDensityCap       int     `mapstructure:"native_density_cap"`       // Native库贡献上限
	MissingMappingWeight   int     `mapstructure:"missing_mapping_weight"`   // 缺失mapping贡献
}

// DefaultConfig 默认评分策略
func DefaultConfig() Config {
	return Config{
		Baseline:               1,
		MaxScore:               10,
		ShortIdentifierWeight:  3,
		ShortIdentifierRatio:   0.3,
		StringEncryptionWeight: 2,
		MultiDexThreshold:      3,
		MultiDexCap:            2,
		NativeDensityThreshold: 4,
		NativeDensityCap:       2,
		MissingMappingWeight:   2,
	}
}

// 指标名常量 (报告中可回溯)
const (
	FactorShortIdentifiers = "short_identifiers"
	FactorStringEncryption = "string_encryption"
	FactorMultiDex         = "multidex_fragmentation"
	FactorNativeDensity    = "native_library_density"
	FactorMissingMapping   = "missing_mapping_file"
)

var (
	// 类/接口/方法/字段声明中的标识符 (jadx输出的Java源码)
	identifierRe = regexp.MustCompile(`(?m)(?:class|interface|enum)\s+([A-Za-z$_][A-Za-z0-9$_]*)|(?:public|private|protected)\s+(?:static\s+)?[\w<>\[\].]+\s+([A-Za-z$_][A-Za-z0-9$_]*)\s*[(;=]`)
	// 解码/解密风格的调用
	decodeCallRe = regexp.MustCompile(`Base64\.decode|Cipher\.getInstance|decrypt\w*\(|DESKeySpec|xor\w*\(`)
	// 字符串字面量
	stringLiteralRe = regexp.MustCompile(`"[^"\n]{4,}"`)
)

// Scorer 混淆评分器
// 各项指标彼此独立、只依赖证据模型；总分钳制在 [1, MaxScore]
type Scorer struct {
	cfg    Config
	logger *logrus.Logger
}

// NewScorer 创建混淆评分器
func NewScorer(cfg Config, logger *logrus.Logger) *Scorer {
	if cfg.MaxScore <= 0 {
		cfg = DefaultConfig()
	}
	return &Scorer{cfg: cfg, logger: logger}
}

// Score 计算混淆严重度
// 各指标按固定顺序累加，每项贡献截断到剩余额度内，
// 因此 Baseline + Σ贡献 恒等于最终得分 (可审计性约束)
func (s *Scorer) Score(ev *evidence.Model) *Report {
	report := &Report{Score: s.cfg.Baseline}
	headroom := s.cfg.MaxScore - s.cfg.Baseline

	add := func(name string, raw int, rationale string) {
		if raw < 0 {
			raw = 0
		}
		if raw > headroom {
			raw = headroom
		}
		report.Factors = append(report.Factors, Factor{
			Name:         name,
			Contribution: raw,
			Rationale:    rationale,
		})
		report.Score += raw
		headroom -= raw
	}

	// 指标1: 标识符混淆 (短名密度)
	obfuscated, ratio := s.checkShortIdentifiers(ev)
	report.IdentifiersObfuscated = obfuscated
	if obfuscated {
		add(FactorShortIdentifiers, s.cfg.ShortIdentifierWeight,
			fmt.Sprintf("短标识符密度 %.2f 超过阈值 %.2f", ratio, s.cfg.ShortIdentifierRatio))
	} else {
		add(FactorShortIdentifiers, 0, "未发现明显的标识符混淆")
	}

	// 指标2: 字符串加密
	encrypted := s.checkStringEncryption(ev)
	report.StringsEncrypted = encrypted
	if encrypted {
		add(FactorStringEncryption, s.cfg.StringEncryptionWeight, "存在解码/解密调用且字符串字面量稀疏")
	} else {
		add(FactorStringEncryption, 0, "未发现字符串加密迹象")
	}

	// 指标3: 多DEX碎片化
	if ev.DexFileCount >= s.cfg.MultiDexThreshold {
		contrib := ev.DexFileCount - s.cfg.MultiDexThreshold + 1
		if contrib > s.cfg.MultiDexCap {
			contrib = s.cfg.MultiDexCap
		}
		add(FactorMultiDex, contrib, fmt.Sprintf("DEX文件数 %d 达到阈值 %d", ev.DexFileCount, s.cfg.MultiDexThreshold))
	} else {
		add(FactorMultiDex, 0, fmt.Sprintf("DEX文件数 %d 低于阈值", ev.DexFileCount))
	}

	// 指标4: Native库密度
	libCount := len(ev.NativeLibs)
	if libCount >= s.cfg.NativeDensityThreshold {
		contrib := 1 + (libCount-s.cfg.NativeDensityThreshold)/4
		if contrib > s.cfg.NativeDensityCap {
			contrib = s.cfg.NativeDensityCap
		}
		add(FactorNativeDensity, contrib, fmt.Sprintf("Native库数量 %d 达到阈值 %d", libCount, s.cfg.NativeDensityThreshold))
	} else {
		add(FactorNativeDensity, 0, fmt.Sprintf("Native库数量 %d 低于阈值", libCount))
	}

	// 指标5: 高混淆信号下缺失mapping文件
	// 普通优化构建会保留mapping；多DEX/高Native密度叠加缺失mapping更像刻意混淆
	suspicious := ev.DexFileCount > 1 || libCount >= s.cfg.NativeDensityThreshold
	if !ev.MappingFilePresent && suspicious {
		add(FactorMissingMapping, s.cfg.MissingMappingWeight, "缺失mapping文件且伴随多DEX/高Native密度")
	} else {
		add(FactorMissingMapping, 0, "mapping文件存在或无其他叠加信号")
	}

	s.logger.WithFields(logrus.Fields{
		"score":                  report.Score,
		"identifiers_obfuscated": report.IdentifiersObfuscated,
		"strings_encrypted":      report.StringsEncrypted,
	}).Debug("Obfuscation scoring completed")

	return report
}

// checkShortIdentifiers 统计源码中声明的短标识符密度
// 没有可用源码时按"未知"处理，不计贡献
func (s *Scorer) checkShortIdentifiers(ev *evidence.Model) (bool, float64) {
	if !ev.Source.Available {
		return false, 0
	}

	total, short := 0, 0
	for _, f := range ev.Source.Files {
		for _, m := range identifierRe.FindAllStringSubmatch(f.Text, -1) {
			name := m[1]
			if name == "" {
				name = m[2]
			}
			if name == "" {
				continue
			}
			total++
			if len(name) <= 2 {
				short++
			}
		}
	}

	if total == 0 {
		return false, 0
	}
	ratio := float64(short) / float64(total)
	return ratio >= s.cfg.ShortIdentifierRatio, ratio
}

// checkStringEncryption 字符串加密启发式
// 存在解码风格调用、且字符串字面量密度很低的文件视为加密迹象
func (s *Scorer) checkStringEncryption(ev *evidence.Model) bool {
	if !ev.Source.Available {
		return false
	}

	for _, f := range ev.Source.Files {
		decodeCalls := len(decodeCallRe.FindAllString(f.Text, -1))
		if decodeCalls == 0 {
			continue
		}
		literals := len(stringLiteralRe.FindAllString(f.Text, -1))
		// 解码调用多而可读字面量少: 字符串大概率被加密后再解码
		if literals < decodeCalls {
			return true
		}
	}
	return false
}
