package engine

import (
	"encoding/json"
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

func newTestEngine() *Engine {
	return New(signature.NewBuiltinRegistry(testLogger()), DefaultConfig(), testLogger())
}

// packedEvidence 构造一个带壳、带源码的证据模型
func packedEvidence() *evidence.Model {
	return &evidence.Model{
		FilePaths: map[string]struct{}{
			"classes.dex":  {},
			"classes2.dex": {},
		},
		NativeLibs:   map[string]struct{}{"libjiagu.so": {}},
		DexFileCount: 2,
		Manifest: evidence.Manifest{
			PackageName: "com.example.app",
			AppClass:    "com.stub.StubApp",
			Components: map[evidence.ComponentKind][]string{
				evidence.ComponentActivity: {"com.example.MainActivity"},
			},
		},
		Source: evidence.SourceAvailable([]evidence.SourceFile{
			{Path: "sources/com/example/RootCheck.java", Text: "File su = new File(\"/system/bin/su\");\n"},
		}),
	}
}

// TestClassify_FullReport 测试完整分类报告的聚合
func TestClassify_FullReport(t *testing.T) {
	e := newTestEngine()

	report := e.Classify(packedEvidence())

	require.NotNil(t, report)
	require.NotNil(t, report.Packer)
	assert.Equal(t, "360加固", report.Packer.RuleName)
	require.NotNil(t, report.Obfuscation)
	assert.GreaterOrEqual(t, report.Obfuscation.Score, 1)
	assert.LessOrEqual(t, report.Obfuscation.Score, 10)
	require.Len(t, report.EntryPoints, 1)
	assert.Equal(t, "com.example.MainActivity", report.EntryPoints[0].Name)
	require.Len(t, report.ModifiablePoints, 1)
	assert.Equal(t, signature.CategoryRootDetection, report.ModifiablePoints[0].Category)
}

// TestClassify_Idempotent 测试同一快照重复分析得到字节一致的结果
func TestClassify_Idempotent(t *testing.T) {
	e := newTestEngine()
	ev := packedEvidence()

	first, err := json.Marshal(e.Classify(ev))
	require.NoError(t, err)
	second, err := json.Marshal(e.Classify(ev))
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second), "Repeated runs must be byte-identical")
}

// TestClassify_EmptyEvidence 测试几乎为空的证据仍产生完整报告而不是错误
func TestClassify_EmptyEvidence(t *testing.T) {
	e := newTestEngine()

	report := e.Classify(&evidence.Model{
		Source: evidence.SourceUnavailable("decompilation not requested"),
	})

	require.NotNil(t, report)
	assert.Nil(t, report.Packer)
	assert.Equal(t, 1, report.Obfuscation.Score)
	assert.Empty(t, report.EntryPoints)
	assert.Empty(t, report.ModifiablePoints)
	assert.False(t, report.ScanTruncated)
}
