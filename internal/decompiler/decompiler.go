package decompiler

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/apk-classify/apk-classify-go/internal/evidence"
)

// Config 反编译配置
type Config struct {
	JadxPath    string        `mapstructure:"jadx_path"`    // jadx 可执行文件路径
	ApktoolPath string        `mapstructure:"apktool_path"` // apktool 可执行文件路径
	Timeout     time.Duration `mapstructure:"timeout"`      // 单次反编译超时
	WorkDir     string        `mapstructure:"work_dir"`     // 反编译输出根目录
	MaxFiles    int           `mapstructure:"max_files"`    // 读入源码文件数上限
	MaxFileSize int64         `mapstructure:"max_file_size"` // 单文件字节数上限
}

// DefaultConfig 返回默认反编译配置
func DefaultConfig() Config {
	return Config{
		JadxPath:    "jadx",
		ApktoolPath: "apktool",
		Timeout:     300 * time.Second,
		WorkDir:     os.TempDir(),
		MaxFiles:    2000,
		MaxFileSize: 1 << 20, // 1MB
	}
}

// Decompiler APK反编译器
// 优先使用 jadx 还原Java源码，失败时降级到 apktool 的smali输出
// 两个工具都不可用或超时，结果标记为不可用，不向上抛错
type Decompiler struct {
	cfg    Config
	logger *logrus.Logger

	jadxOK    bool
	apktoolOK bool
}

// NewDecompiler 创建反编译器并探测工具可用性
func NewDecompiler(cfg Config, logger *logrus.Logger) *Decompiler {
	d := &Decompiler{cfg: cfg, logger: logger}

	if _, err := exec.LookPath(cfg.JadxPath); err == nil {
		d.jadxOK = true
	}
	if _, err := exec.LookPath(cfg.ApktoolPath); err == nil {
		d.apktoolOK = true
	}

	logger.WithFields(logrus.Fields{
		"jadx":    d.jadxOK,
		"apktool": d.apktoolOK,
	}).Info("Decompiler tools probed")

	return d
}

// Decompile 反编译APK并读入源码文件
// 输出目录在返回前清理，源码以内存形式交给引擎
func (d *Decompiler) Decompile(ctx context.Context, apkPath string) evidence.SourceResult {
	if !d.jadxOK && !d.apktoolOK {
		return evidence.SourceUnavailable("no decompiler tool available")
	}

	outDir, err := os.MkdirTemp(d.cfg.WorkDir, "decompile-")
	if err != nil {
		return evidence.SourceUnavailable(fmt.Sprintf("create work dir: %v", err))
	}
	defer os.RemoveAll(outDir)

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	start := time.Now()
	tool, err := d.run(ctx, apkPath, outDir)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			d.logger.WithFields(logrus.Fields{
				"apk":     filepath.Base(apkPath),
				"timeout": d.cfg.Timeout,
			}).Warn("Decompilation timed out")
			return evidence.SourceUnavailable("decompilation timed out")
		}
		return evidence.SourceUnavailable(fmt.Sprintf("decompilation failed: %v", err))
	}

	files, err := d.collect(outDir)
	if err != nil {
		return evidence.SourceUnavailable(fmt.Sprintf("read decompiled tree: %v", err))
	}
	if len(files) == 0 {
		return evidence.SourceUnavailable("decompilation produced no source files")
	}

	d.logger.WithFields(logrus.Fields{
		"apk":      filepath.Base(apkPath),
		"tool":     tool,
		"files":    len(files),
		"duration": time.Since(start).String(),
	}).Info("Decompilation completed")

	return evidence.SourceAvailable(files)
}

// run 按固定顺序尝试反编译工具: 先 jadx 后 apktool
func (d *Decompiler) run(ctx context.Context, apkPath, outDir string) (string, error) {
	var lastErr error

	if d.jadxOK {
		cmd := exec.CommandContext(ctx, d.cfg.JadxPath, "-d", outDir, "--no-res", apkPath)
		if err := cmd.Run(); err == nil {
			return "jadx", nil
		} else {
			lastErr = fmt.Errorf("jadx: %w", err)
			d.logger.WithError(lastErr).Warn("jadx failed, falling back to apktool")
		}
		if ctx.Err() != nil {
			return "", lastErr
		}
	}

	if d.apktoolOK {
		cmd := exec.CommandContext(ctx, d.cfg.ApktoolPath, "d", "-f", "-o", outDir, apkPath)
		if err := cmd.Run(); err == nil {
			return "apktool", nil
		} else {
			lastErr = fmt.Errorf("apktool: %w", err)
		}
	}

	return "", lastErr
}

// collect 按排序后的路径顺序读入源码文件，保证多次分析结果一致
func (d *Decompiler) collect(outDir string) ([]evidence.SourceFile, error) {
	var paths []string
	err := filepath.Walk(outDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if !isSourceFile(p) || info.Size() > d.cfg.MaxFileSize {
			return nil
		}
		rel, err := filepath.Rel(outDir, p)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	if d.cfg.MaxFiles > 0 && len(paths) > d.cfg.MaxFiles {
		d.logger.WithFields(logrus.Fields{
			"total": len(paths),
			"limit": d.cfg.MaxFiles,
		}).Warn("Source file count exceeds limit, truncating")
		paths = paths[:d.cfg.MaxFiles]
	}

	files := make([]evidence.SourceFile, 0, len(paths))
	for _, rel := range paths {
		data, err := os.ReadFile(filepath.Join(outDir, filepath.FromSlash(rel)))
		if err != nil {
			return nil, err
		}
		files = append(files, evidence.SourceFile{Path: rel, Text: string(data)})
	}
	return files, nil
}

// isSourceFile 判断是否为引擎扫描的源码文件
func isSourceFile(p string) bool {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".java", ".kt", ".smali", ".xml":
		return true
	}
	return false
}
