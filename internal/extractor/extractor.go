package extractor

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/apk-classify/apk-classify-go/internal/evidence"
)

// Extractor 证据提取器
// 遍历APK包结构并解析Manifest，产出引擎消费的证据模型
// 提取失败的单项事实一律表现为"未知"，不中断整次提取
type Extractor struct {
	aaptPath string // aapt2 可执行文件路径
	useAapt  bool   // aapt2 不可用时Manifest事实保持未知
	logger   *logrus.Logger
}

// NewExtractor 创建证据提取器
func NewExtractor(logger *logrus.Logger) *Extractor {
	e := &Extractor{
		aaptPath: "aapt2",
		useAapt:  true,
		logger:   logger,
	}

	if err := exec.Command(e.aaptPath, "version").Run(); err != nil {
		logger.Warn("aapt2 not available, manifest facts will be unknown")
		e.useAapt = false
	}

	return e
}

// Extract 从APK构建证据模型
// 路径已归一化为包内相对路径; 带遍历成分的条目直接丢弃
func (e *Extractor) Extract(ctx context.Context, apkPath string) (*evidence.Model, error) {
	reader, err := zip.OpenReader(apkPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open APK as zip: %w", err)
	}
	defer reader.Close()

	model := &evidence.Model{
		FilePaths:  make(map[string]struct{}),
		NativeLibs: make(map[string]struct{}),
		Source:     evidence.SourceUnavailable("decompilation not requested"),
	}

	for _, file := range reader.File {
		name, ok := NormalizePath(file.Name)
		if !ok {
			e.logger.WithField("entry", file.Name).Warn("Dropping suspicious zip entry")
			continue
		}
		model.FilePaths[name] = struct{}{}

		if strings.HasPrefix(name, "lib/") && strings.HasSuffix(name, ".so") {
			model.NativeLibs[filepath.Base(name)] = struct{}{}
		}
		if strings.HasSuffix(name, ".dex") {
			model.DexFileCount++
		}
		if filepath.Base(name) == "mapping.txt" {
			model.MappingFilePresent = true
		}
	}

	// R8/ProGuard mapping 通常随构建产物放在APK旁边
	if !model.MappingFilePresent {
		sibling := filepath.Join(filepath.Dir(apkPath), "mapping.txt")
		if _, err := os.Stat(sibling); err == nil {
			model.MappingFilePresent = true
		}
	}

	if e.useAapt {
		manifest, err := e.parseManifest(ctx, apkPath)
		if err != nil {
			e.logger.WithError(err).Warn("Manifest parsing failed, facts stay unknown")
		} else {
			model.Manifest = *manifest
		}
	}

	e.logger.WithFields(logrus.Fields{
		"files":       len(model.FilePaths),
		"native_libs": len(model.NativeLibs),
		"dex_count":   model.DexFileCount,
		"package":     model.Manifest.PackageName,
	}).Info("Evidence extracted")

	return model, nil
}

// NormalizePath 归一化包内路径
// 拒绝绝对路径和带遍历成分的条目，返回 false 表示应当丢弃
func NormalizePath(name string) (string, bool) {
	name = strings.TrimPrefix(name, "./")
	if name == "" || strings.HasPrefix(name, "/") {
		return "", false
	}
	cleaned := filepath.ToSlash(filepath.Clean(name))
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", false
	}
	return cleaned, true
}
