package signature

// Tier 对抗/修改难度等级
type Tier string

const (
	TierSimple Tier = "simple" // 简单: 替换字符串或返回值即可
	TierMedium Tier = "medium" // 中等: 需要定位并修改校验逻辑
	TierHard   Tier = "hard"   // 困难: 需要跨多个调用点交叉分析
)

// Family 壳类型枚举
const (
	FamilyNative     = "native"      // 原生库加密
	FamilyDexEncrypt = "dex_encrypt" // DEX加密
	FamilyVMP        = "vmp"         // 虚拟机保护
	FamilyUnknown    = "unknown"     // 未知类型
)

// Category 敏感代码类别
type Category string

const (
	CategoryNetwork         Category = "network"
	CategoryFileIO          Category = "file_io"
	CategoryCrypto          Category = "crypto"
	CategorySignatureVerify Category = "signature_verification"
	CategoryDynamicLoading  Category = "dynamic_loading"
	CategoryReflection      Category = "reflection"
	CategoryNativeCall      Category = "native_call"
	CategoryDatabase        Category = "database"
	CategoryPreferences     Category = "preferences"
	CategoryRootDetection   Category = "root_detection"
)

// PackerRuleSpec 声明式壳规则 (未编译)
// 新增壳特征只需追加条目，不需要改动分类器代码
type PackerRuleSpec struct {
	Name            string   // 壳名称
	Family          string   // 壳类型
	PathMarkers     []string // 包内路径特征 (glob)
	LibMarkers      []string // Native库名特征 (子串)
	ManifestMarkers []string // Manifest类名/组件特征 (子串)
	BaseWeight      float64  // 单个命中特征的基础权重
	Tier            Tier     // 脱壳难度 (规则静态属性)
}

// PackerRule 编译后的壳规则
type PackerRule struct {
	Name            string
	Family          string
	PathMarkers     []Matcher
	LibMarkers      []Matcher
	ManifestMarkers []Matcher
	BaseWeight      float64
	Tier            Tier
}

// CategorySpec 声明式敏感类别特征 (未编译)
type CategorySpec struct {
	Category        Category
	Patterns        []string // 符号正则
	Tier            Tier     // 修改难度基准
	SuggestedAction string   // 建议操作
	HookSuggestion  string   // 运行时Hook建议
}

// CategorySignature 编译后的敏感类别特征
type CategorySignature struct {
	Category        Category
	Patterns        []Matcher
	Tier            Tier
	SuggestedAction string
	HookSuggestion  string
}
