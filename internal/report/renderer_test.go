package report

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apk-classify/apk-classify-go/internal/engine"
	"github.com/apk-classify/apk-classify-go/internal/obfuscation"
	"github.com/apk-classify/apk-classify-go/internal/packer"
	"github.com/apk-classify/apk-classify-go/internal/sensitive"
	"github.com/apk-classify/apk-classify-go/internal/signature"
)

func sampleReport() *engine.Report {
	return &engine.Report{
		Packer: &packer.Finding{
			RuleName:        "腾讯乐固",
			Family:          signature.FamilyNative,
			RawScore:        0.5,
			Confidence:      0.5,
			MatchedEvidence: []string{"native_lib:libshellx-2.0.so"},
			Tier:            signature.TierMedium,
		},
		Obfuscation: &obfuscation.Report{
			Score: 3,
			Factors: []obfuscation.Factor{
				{Name: obfuscation.FactorMissingMapping, Contribution: 2, Rationale: "未找到混淆映射文件"},
			},
		},
		EntryPoints: []sensitive.ComponentRef{
			{Kind: "activity", Name: "com.example.MainActivity"},
		},
		KeyClasses: []string{"com.example.RootCheck"},
		ModifiablePoints: []sensitive.Point{
			{
				Category:        signature.CategoryRootDetection,
				SourceFile:      "sources/com/example/RootCheck.java",
				Line:            12,
				Symbol:          `new File("/system/xbin/su").exists()`,
				SuggestedAction: "让检测方法恒定返回false",
				HookSuggestion:  "Hook java.io.File.exists 对su路径返回false",
				Tier:            signature.TierSimple,
			},
		},
		ScannedFiles: 5,
	}
}

// TestRenderJSON 测试JSON渲染可以往返解析
func TestRenderJSON(t *testing.T) {
	data, err := RenderJSON(sampleReport(), true)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Contains(t, decoded, "packer")
	assert.Contains(t, decoded, "obfuscation")
	assert.Contains(t, decoded, "modifiable_points")
}

// TestRenderJSON_NoPacker 测试未加壳时packer字段被省略
func TestRenderJSON_NoPacker(t *testing.T) {
	r := sampleReport()
	r.Packer = nil

	data, err := RenderJSON(r, false)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.NotContains(t, decoded, "packer")
}

// TestRenderText 测试文本摘要包含关键信息
func TestRenderText(t *testing.T) {
	text := RenderText(sampleReport())

	assert.Contains(t, text, "腾讯乐固")
	assert.Contains(t, text, "置信度=0.50")
	assert.Contains(t, text, "混淆评分: 3/10")
	assert.Contains(t, text, "missing_mapping_file")
	assert.Contains(t, text, "com.example.MainActivity")
	assert.Contains(t, text, "sources/com/example/RootCheck.java:12")
	assert.Contains(t, text, "可修改点: 1 处")
}

// TestRenderText_Clean 测试干净样本的摘要
func TestRenderText_Clean(t *testing.T) {
	r := &engine.Report{
		Obfuscation: &obfuscation.Report{Score: 1},
	}
	text := RenderText(r)

	assert.Contains(t, text, "未命中任何壳特征")
	assert.Contains(t, text, "可修改点: 0 处")
	assert.NotContains(t, text, "达到文件数上限")
}
