package report

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/apk-classify/apk-classify-go/internal/engine"
)

// RenderJSON 把分类报告渲染成JSON
// indent 为 true 时输出带缩进的可读格式
func RenderJSON(r *engine.Report, indent bool) ([]byte, error) {
	if indent {
		return json.MarshalIndent(r, "", "  ")
	}
	return json.Marshal(r)
}

// RenderText 把分类报告渲染成给人看的文本摘要
func RenderText(r *engine.Report) string {
	var b strings.Builder

	b.WriteString("===== APK分类报告 =====\n")

	if r.Packer != nil {
		fmt.Fprintf(&b, "加壳检测: %s (类型=%s, 置信度=%.2f, 脱壳难度=%s)\n",
			r.Packer.RuleName, r.Packer.Family, r.Packer.Confidence, r.Packer.Tier)
		for _, ev := range r.Packer.MatchedEvidence {
			fmt.Fprintf(&b, "  证据: %s\n", ev)
		}
	} else {
		b.WriteString("加壳检测: 未命中任何壳特征\n")
	}

	if r.Obfuscation != nil {
		fmt.Fprintf(&b, "混淆评分: %d/10\n", r.Obfuscation.Score)
		for _, f := range r.Obfuscation.Factors {
			fmt.Fprintf(&b, "  [%+d] %s: %s\n", f.Contribution, f.Name, f.Rationale)
		}
	}

	if len(r.EntryPoints) > 0 {
		b.WriteString("入口组件:\n")
		for _, ep := range r.EntryPoints {
			fmt.Fprintf(&b, "  [%s] %s\n", ep.Kind, ep.Name)
		}
	}

	if len(r.KeyClasses) > 0 {
		fmt.Fprintf(&b, "关键类: %s\n", strings.Join(r.KeyClasses, ", "))
	}

	fmt.Fprintf(&b, "可修改点: %d 处\n", len(r.ModifiablePoints))
	for _, p := range r.ModifiablePoints {
		fmt.Fprintf(&b, "  %s:%d [%s/%s]\n", p.SourceFile, p.Line, p.Category, p.Tier)
		fmt.Fprintf(&b, "    命中: %s\n", p.Symbol)
		fmt.Fprintf(&b, "    建议: %s\n", p.SuggestedAction)
		fmt.Fprintf(&b, "    Hook: %s\n", p.HookSuggestion)
	}

	fmt.Fprintf(&b, "扫描统计: 已扫描=%d 已跳过=%d", r.ScannedFiles, r.SkippedFiles)
	if r.ScanTruncated {
		b.WriteString(" (达到文件数上限，结果可能不完整)")
	}
	b.WriteString("\n")

	return b.String()
}
