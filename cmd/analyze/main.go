package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/apk-classify/apk-classify-go/internal/decompiler"
	"github.com/apk-classify/apk-classify-go/internal/engine"
	"github.com/apk-classify/apk-classify-go/internal/extractor"
	"github.com/apk-classify/apk-classify-go/internal/report"
	"github.com/apk-classify/apk-classify-go/internal/signature"
	"github.com/sirupsen/logrus"
)

// analyze 单次APK分类命令行工具
// 不依赖数据库和消息队列，直接在本地跑一遍分类流水线，结果输出到stdout
func main() {
	var (
		format      = flag.String("format", "text", "输出格式: text 或 json")
		output      = flag.String("o", "", "报告输出文件，留空输出到stdout")
		noDecompile = flag.Bool("no-decompile", false, "跳过反编译，只做包结构分析")
		jadxPath    = flag.String("jadx", "jadx", "jadx 可执行文件路径")
		apktoolPath = flag.String("apktool", "apktool", "apktool 可执行文件路径")
		timeout     = flag.Duration("timeout", 10*time.Minute, "单次分析超时")
		verbose     = flag.Bool("v", false, "输出调试日志")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <apk文件路径>\n\nOptions:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	apkPath := flag.Arg(0)

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	if _, err := os.Stat(apkPath); err != nil {
		fmt.Fprintf(os.Stderr, "❌ APK文件不可访问: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	result, err := runPipeline(ctx, apkPath, *noDecompile, *jadxPath, *apktoolPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ 分析失败: %v\n", err)
		os.Exit(1)
	}

	var rendered []byte
	switch *format {
	case "json":
		rendered, err = report.RenderJSON(result, true)
		if err != nil {
			fmt.Fprintf(os.Stderr, "❌ 报告序列化失败: %v\n", err)
			os.Exit(1)
		}
		rendered = append(rendered, '\n')
	case "text":
		rendered = []byte(report.RenderText(result))
	default:
		fmt.Fprintf(os.Stderr, "❌ 未知输出格式: %s（支持 text / json）\n", *format)
		os.Exit(2)
	}

	if *output == "" {
		os.Stdout.Write(rendered)
		return
	}
	if err := os.WriteFile(*output, rendered, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "❌ 报告写入失败: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "✅ 报告已写入: %s\n", *output)
}

func runPipeline(ctx context.Context, apkPath string, noDecompile bool, jadxPath, apktoolPath string, logger *logrus.Logger) (*engine.Report, error) {
	ext := extractor.NewExtractor(logger)
	ev, err := ext.Extract(ctx, apkPath)
	if err != nil {
		return nil, fmt.Errorf("提取包结构证据失败: %w", err)
	}

	if !noDecompile {
		decCfg := decompiler.DefaultConfig()
		decCfg.JadxPath = jadxPath
		decCfg.ApktoolPath = apktoolPath
		dec := decompiler.NewDecompiler(decCfg, logger)
		ev.Source = dec.Decompile(ctx, apkPath)
	}

	registry := signature.NewBuiltinRegistry(logger)
	classifyEngine := engine.New(registry, engine.DefaultConfig(), logger)
	return classifyEngine.Classify(ev), nil
}
