package decompiler

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// TestDecompile_NoTools 测试工具缺失时结果标记为不可用而不是报错
func TestDecompile_NoTools(t *testing.T) {
	cfg := DefaultConfig()
	cfg.JadxPath = "jadx-definitely-not-installed"
	cfg.ApktoolPath = "apktool-definitely-not-installed"

	d := NewDecompiler(cfg, newTestLogger())
	result := d.Decompile(context.Background(), "/tmp/nonexistent.apk")

	assert.False(t, result.Available)
	assert.Equal(t, "no decompiler tool available", result.Reason)
	assert.Empty(t, result.Files)
}

// TestIsSourceFile 测试源码文件类型过滤
func TestIsSourceFile(t *testing.T) {
	assert.True(t, isSourceFile("sources/com/example/Main.java"))
	assert.True(t, isSourceFile("smali/com/example/Main.smali"))
	assert.True(t, isSourceFile("app/src/Foo.KT"))
	assert.False(t, isSourceFile("res/drawable/icon.png"))
	assert.False(t, isSourceFile("lib/arm64-v8a/libnative.so"))
}
