package evidence

import "sort"

// ComponentKind Manifest组件类型
type ComponentKind string

const (
	ComponentActivity ComponentKind = "activity"
	ComponentService  ComponentKind = "service"
	ComponentReceiver ComponentKind = "receiver"
	ComponentProvider ComponentKind = "provider"
)

// ComponentKinds 固定的组件类型顺序 (保证结果确定性)
var ComponentKinds = []ComponentKind{
	ComponentActivity,
	ComponentService,
	ComponentReceiver,
	ComponentProvider,
}

// Manifest 从AndroidManifest解析出的事实
// 零值/空字段表示"未知"，而不是"否"
type Manifest struct {
	PackageName string                     `json:"package_name,omitempty"`
	VersionName string                     `json:"version_name,omitempty"`
	VersionCode string                     `json:"version_code,omitempty"`
	AppClass    string                     `json:"app_class,omitempty"` // application类名
	Debuggable  *bool                      `json:"debuggable,omitempty"`
	Permissions []string                   `json:"permissions,omitempty"`
	Components  map[ComponentKind][]string `json:"components,omitempty"`
}

// SourceFile 一个反编译源码文件
type SourceFile struct {
	Path string
	Text string
}

// SourceResult 反编译结果
// 超时/工具缺失等情况一律表现为 Unavailable，引擎按"未反编译"处理
type SourceResult struct {
	Available bool
	Reason    string // 不可用原因 (工具缺失/超时/未请求)
	Files     []SourceFile
}

// SourceAvailable 构造可用的反编译结果
func SourceAvailable(files []SourceFile) SourceResult {
	return SourceResult{Available: true, Files: files}
}

// SourceUnavailable 构造不可用的反编译结果
func SourceUnavailable(reason string) SourceResult {
	return SourceResult{Available: false, Reason: reason}
}

// Model 证据模型: 一次分析的只读快照
// 由提取器在分析开始前构建一次，之后不再修改
// 所有引擎组件可以并发读取，无需加锁
type Model struct {
	FilePaths          map[string]struct{} // 包内归一化相对路径集合
	NativeLibs         map[string]struct{} // Native库基础名集合
	Manifest           Manifest            // Manifest事实
	DexFileCount       int                 // DEX文件数量
	MappingFilePresent bool                // 是否存在混淆映射文件
	Source             SourceResult        // 反编译源码 (可选)
}

// SortedFilePaths 返回排序后的路径列表 (匹配时保证证据顺序确定)
func (m *Model) SortedFilePaths() []string {
	return sortedKeys(m.FilePaths)
}

// SortedNativeLibs 返回排序后的Native库名列表
func (m *Model) SortedNativeLibs() []string {
	return sortedKeys(m.NativeLibs)
}

// ManifestStrings 返回用于Manifest特征匹配的字符串集合
// 包含application类名与全部组件类名
func (m *Model) ManifestStrings() []string {
	var out []string
	if m.Manifest.AppClass != "" {
		out = append(out, m.Manifest.AppClass)
	}
	for _, kind := range ComponentKinds {
		out = append(out, m.Manifest.Components[kind]...)
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
