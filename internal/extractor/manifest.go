package extractor

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"

	"github.com/apk-classify/apk-classify-go/internal/evidence"
)

// aapt2 xmltree 输出的解析正则
// 元素行以 "E:" 开头、属性行以 "A:" 开头，[^E]*? 把属性限定在当前元素内
var (
	pkgRe         = regexp.MustCompile(`A: package="([^"]+)"`)
	versionNameRe = regexp.MustCompile(`A: (?:android:)?versionName(?:\([^)]*\))?="([^"]+)"`)
	versionCodeRe = regexp.MustCompile(`A: (?:android:)?versionCode(?:\([^)]*\))?=\(type 0x10\)0x([0-9a-f]+)`)
	appClassRe    = regexp.MustCompile(`E: application[^E]*?A: android:name\([^)]*\)="([^"]+)"`)
	debuggableRe  = regexp.MustCompile(`A: android:debuggable\([^)]*\)=\(type 0x12\)0x([0-9a-f]+)`)
	activityRe    = regexp.MustCompile(`E: activity[^E]*?A: android:name\([^)]*\)="([^"]+)"`)
	serviceRe     = regexp.MustCompile(`E: service[^E]*?A: android:name\([^)]*\)="([^"]+)"`)
	receiverRe    = regexp.MustCompile(`E: receiver[^E]*?A: android:name\([^)]*\)="([^"]+)"`)
	providerRe    = regexp.MustCompile(`E: provider[^E]*?A: android:name\([^)]*\)="([^"]+)"`)
	permissionRe  = regexp.MustCompile(`E: uses-permission[^E]*?A: android:name\([^)]*\)="([^"]+)"`)
)

// parseManifest 用 aapt2 解析AndroidManifest并转换成类型化事实
func (e *Extractor) parseManifest(ctx context.Context, apkPath string) (*evidence.Manifest, error) {
	cmd := exec.CommandContext(ctx, e.aaptPath, "dump", "xmltree", apkPath, "AndroidManifest.xml")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("aapt2 command failed: %w", err)
	}
	return ParseManifestDump(string(output)), nil
}

// ParseManifestDump 解析 aapt2 dump xmltree 的文本输出
// 解析不到的字段保持零值，表示"未知"而不是"否"
func ParseManifestDump(output string) *evidence.Manifest {
	m := &evidence.Manifest{
		Components: make(map[evidence.ComponentKind][]string),
	}

	if match := pkgRe.FindStringSubmatch(output); len(match) > 1 {
		m.PackageName = match[1]
	}
	if match := versionNameRe.FindStringSubmatch(output); len(match) > 1 {
		m.VersionName = match[1]
	}
	if match := versionCodeRe.FindStringSubmatch(output); len(match) > 1 {
		m.VersionCode = match[1]
	}
	if match := appClassRe.FindStringSubmatch(output); len(match) > 1 {
		m.AppClass = match[1]
	}
	if match := debuggableRe.FindStringSubmatch(output); len(match) > 1 {
		debuggable := match[1] != "0"
		m.Debuggable = &debuggable
	}

	extract := func(re *regexp.Regexp, kind evidence.ComponentKind) {
		for _, match := range re.FindAllStringSubmatch(output, -1) {
			if len(match) > 1 {
				m.Components[kind] = append(m.Components[kind], match[1])
			}
		}
	}
	extract(activityRe, evidence.ComponentActivity)
	extract(serviceRe, evidence.ComponentService)
	extract(receiverRe, evidence.ComponentReceiver)
	extract(providerRe, evidence.ComponentProvider)

	for _, match := range permissionRe.FindAllStringSubmatch(output, -1) {
		if len(match) > 1 {
			m.Permissions = append(m.Permissions, match[1])
		}
	}

	return m
}
