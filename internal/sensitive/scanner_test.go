package sensitive

import (
	"fmt"
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

func newTestScanner(cfg Config) *Scanner {
	reg := signature.NewBuiltinRegistry(testLogger())
	return NewScanner(reg, cfg, testLogger())
}

// TestScan_NoSource 测试无反编译源码时返回空结果 (正常路径，不是错误)
func TestScan_NoSource(t *testing.T) {
	s := newTestScanner(DefaultConfig())

	ev := &evidence.Model{Source: evidence.SourceUnavailable("jadx not found")}
	result := s.Scan(ev)

	require.NotNil(t, result)
	assert.Empty(t, result.ModifiablePoints)
	assert.Empty(t, result.KeyClasses)
	assert.False(t, result.Truncated)
}

// TestScan_EntryPointsFromManifestOnly 测试入口组件只来自Manifest事实
func TestScan_EntryPointsFromManifestOnly(t *testing.T) {
	s := newTestScanner(DefaultConfig())

	ev := &evidence.Model{
		Manifest: evidence.Manifest{
			Components: map[evidence.ComponentKind][]string{
				evidence.ComponentActivity: {"com.example.MainActivity", "com.example.LoginActivity"},
				evidence.ComponentService:  {"com.example.SyncService"},
				evidence.ComponentReceiver: {"com.example.BootReceiver"},
			},
		},
		Source: evidence.SourceUnavailable("not requested"),
	}

	result := s.Scan(ev)

	require.Len(t, result.EntryPoints, 4)
	// 固定的组件类型顺序: activity -> service -> receiver -> provider
	assert.Equal(t, ComponentRef{Kind: evidence.ComponentActivity, Name: "com.example.MainActivity"}, result.EntryPoints[0])
	assert.Equal(t, ComponentRef{Kind: evidence.ComponentService, Name: "com.example.SyncService"}, result.EntryPoints[2])
	assert.Equal(t, ComponentRef{Kind: evidence.ComponentReceiver, Name: "com.example.BootReceiver"}, result.EntryPoints[3])
}

// TestScan_RootAndSignaturePatterns 测试三文件场景 (场景C)
func TestScan_RootAndSignaturePatterns(t *testing.T) {
	s := newTestScanner(DefaultConfig())

	ev := &evidence.Model{
		Source: evidence.SourceAvailable([]evidence.SourceFile{
			{Path: "sources/com/example/Plain.java", Text: "public class Plain {}\n"},
			{Path: "sources/com/example/RootCheck.java", Text: "boolean rooted = new File(\"/system/xbin/su\").exists();\n"},
			{Path: "sources/com/example/SigCheck.java", Text: "PackageInfo pi = pm.getPackageInfo(name, PackageManager.GET_SIGNATURES);\n"},
		}),
	}

	result := s.Scan(ev)

	require.Len(t, result.ModifiablePoints, 2)
	root := result.ModifiablePoints[0]
	sig := result.ModifiablePoints[1]

	assert.Equal(t, signature.CategoryRootDetection, root.Category)
	assert.Equal(t, "sources/com/example/RootCheck.java", root.SourceFile)
	assert.Equal(t, signature.TierSimple, root.Tier)
	assert.NotEmpty(t, root.HookSuggestion)

	assert.Equal(t, signature.CategorySignatureVerify, sig.Category)
	assert.Equal(t, "sources/com/example/SigCheck.java", sig.SourceFile)
	assert.Equal(t, signature.TierMedium, sig.Tier)

	// 两个文件都命中了Root检测/签名校验 -> 都是关键类
	assert.Equal(t, []string{"com.example.RootCheck", "com.example.SigCheck"}, result.KeyClasses)
}

// TestScan_FileLimit 测试扫描文件数上限与截断标记
func TestScan_FileLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxScanFiles = 3
	s := newTestScanner(cfg)

	var files []evidence.SourceFile
	for i := 0; i < 10; i++ {
		files = append(files, evidence.SourceFile{
			Path: fmt.Sprintf("sources/com/example/C%d.java", i),
			Text: "SQLiteDatabase db = helper.getWritableDatabase();\n",
		})
	}

	result := s.Scan(&evidence.Model{Source: evidence.SourceAvailable(files)})

	assert.Equal(t, 3, result.ScannedFiles, "Scanner must never visit more than MaxScanFiles files")
	assert.True(t, result.Truncated, "Truncation must be recorded as a flag")
	assert.Len(t, result.ModifiablePoints, 3)
}

// TestScan_SkipsUndecodableFiles 测试无法按文本解码的文件被跳过并计数
func TestScan_SkipsUndecodableFiles(t *testing.T) {
	s := newTestScanner(DefaultConfig())

	ev := &evidence.Model{
		Source: evidence.SourceAvailable([]evidence.SourceFile{
			{Path: "sources/bad.java", Text: string([]byte{0xff, 0xfe, 0x80, 0x81})},
			{Path: "sources/com/example/Db.java", Text: "db.execSQL(sql);\n"},
		}),
	}

	result := s.Scan(ev)

	assert.Equal(t, 1, result.SkippedFiles)
	assert.Equal(t, 1, result.ScannedFiles)
	require.Len(t, result.ModifiablePoints, 1)
	assert.Equal(t, signature.CategoryDatabase, result.ModifiablePoints[0].Category)
}

// TestScan_DifficultyEscalation 测试同文件同类别多处命中时难度升级
func TestScan_DifficultyEscalation(t *testing.T) {
	s := newTestScanner(DefaultConfig())

	text := `SQLiteDatabase db = helper.getWritableDatabase();
db.execSQL(createTable);
Cursor c = db.rawQuery(query, null);
`
	ev := &evidence.Model{
		Source: evidence.SourceAvailable([]evidence.SourceFile{
			{Path: "sources/com/example/Store.java", Text: text},
		}),
	}

	result := s.Scan(ev)

	require.Len(t, result.ModifiablePoints, 3)
	for _, p := range result.ModifiablePoints {
		assert.Equal(t, signature.CategoryDatabase, p.Category)
		// 基准simple，因同文件3处命中升级为medium
		assert.Equal(t, signature.TierMedium, p.Tier)
	}
}

// TestScan_EmptySourceSet 测试空的反编译树产生空结果
func TestScan_EmptySourceSet(t *testing.T) {
	s := newTestScanner(DefaultConfig())

	result := s.Scan(&evidence.Model{Source: evidence.SourceAvailable(nil)})

	assert.Empty(t, result.ModifiablePoints)
	assert.Empty(t, result.KeyClasses)
	assert.Zero(t, result.ScannedFiles)
	assert.False(t, result.Truncated)
}
