package packer

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apk-classify/apk-classify-go/internal/evidence"
	"github.com/apk-classify/apk-classify-go/internal/signature"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	reg := signature.NewBuiltinRegistry(testLogger())
	return NewClassifier(reg, DefaultConfig(), testLogger())
}

func evidenceWithLibs(libs ...string) *evidence.Model {
	m := &evidence.Model{
		FilePaths:  map[string]struct{}{},
		NativeLibs: map[string]struct{}{},
	}
	for _, lib := range libs {
		m.NativeLibs[lib] = struct{}{}
	}
	return m
}

// TestClassify_NoEvidence 测试无特征命中时返回nil (推定未加壳)
func TestClassify_NoEvidence(t *testing.T) {
	c := newTestClassifier(t)

	ev := &evidence.Model{
		FilePaths: map[string]struct{}{
			"classes.dex":          {},
			"res/layout/main.xml":  {},
			"META-INF/MANIFEST.MF": {},
		},
		NativeLibs: map[string]struct{}{"libnormal.so": {}},
	}

	finding := c.Classify(ev)
	assert.Nil(t, finding, "Clean APK should produce no packer finding")
}

// TestClassify_TencentShellLib 测试腾讯乐固特征库命中 (场景A)
func TestClassify_TencentShellLib(t *testing.T) {
	c := newTestClassifier(t)

	finding := c.Classify(evidenceWithLibs("libshellx-2.0.so"))

	require.NotNil(t, finding)
	assert.Equal(t, "腾讯乐固", finding.RuleName)
	assert.Equal(t, signature.TierMedium, finding.Tier, "Tier should be the rule's fixed property")
	assert.Contains(t, finding.MatchedEvidence, "native_lib:libshellx-2.0.so")
	assert.Greater(t, finding.Confidence, 0.0)
}

// TestClassify_ConfidenceCap 测试置信度饱和上限
func TestClassify_ConfidenceCap(t *testing.T) {
	c := newTestClassifier(t)

	// 同一规则的所有特征全部命中
	ev := &evidence.Model{
		FilePaths: map[string]struct{}{
			"assets/libjiagu_a64.so": {},
			"assets/jiagu_data.bin":  {},
		},
		NativeLibs: map[string]struct{}{"libjiagu.so": {}},
		Manifest: evidence.Manifest{
			AppClass: "com.stub.StubApp",
			Components: map[evidence.ComponentKind][]string{
				evidence.ComponentActivity: {"com.qihoo.util.QHActivity"},
			},
		},
	}

	finding := c.Classify(ev)
	require.NotNil(t, finding)
	assert.Equal(t, "360加固", finding.RuleName)
	assert.LessOrEqual(t, finding.Confidence, ConfidenceCap)
	assert.GreaterOrEqual(t, finding.Confidence, 0.0)
}

// TestClassify_Monotonic 测试多一个命中特征时置信度单调不减
func TestClassify_Monotonic(t *testing.T) {
	c := newTestClassifier(t)

	one := c.Classify(evidenceWithLibs("libshellx-2.0.so"))
	two := c.Classify(evidenceWithLibs("libshellx-2.0.so", "libtxmsecurity.so"))

	require.NotNil(t, one)
	require.NotNil(t, two)
	assert.GreaterOrEqual(t, two.Confidence, one.Confidence)
}

// TestClassify_TieBreakDeclarationOrder 测试并列置信度时取先声明的规则
func TestClassify_TieBreakDeclarationOrder(t *testing.T) {
	specs := []signature.PackerRuleSpec{
		{Name: "rule-a", Family: signature.FamilyNative, LibMarkers: []string{"libboth"}, BaseWeight: 1.0, Tier: signature.TierSimple},
		{Name: "rule-b", Family: signature.FamilyNative, LibMarkers: []string{"libboth"}, BaseWeight: 1.0, Tier: signature.TierHard},
	}
	reg := signature.NewRegistry(specs, nil, testLogger())
	c := NewClassifier(reg, DefaultConfig(), testLogger())

	finding := c.Classify(evidenceWithLibs("libboth.so"))
	require.NotNil(t, finding)
	assert.Equal(t, "rule-a", finding.RuleName, "Earlier declared rule wins ties")
}

// TestClassify_Deterministic 测试重复分类得到完全一致的结果
func TestClassify_Deterministic(t *testing.T) {
	c := newTestClassifier(t)
	ev := evidenceWithLibs("libshellx-2.0.so", "libshell.so", "libtxmsecurity.so")

	first := c.Classify(ev)
	second := c.Classify(ev)

	require.NotNil(t, first)
	assert.Equal(t, first, second)
}
