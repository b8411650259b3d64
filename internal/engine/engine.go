package engine

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/apk-classify/apk-classify-go/internal/evidence"
	"github.com/apk-classify/apk-classify-go/internal/obfuscation"
	"github.com/apk-classify/apk-classify-go/internal/packer"
	"github.com/apk-classify/apk-classify-go/internal/sensitive"
	"github.com/apk-classify/apk-classify-go/internal/signature"
)

// Report 分类报告: 一次分析的不可变聚合结果
// 由引擎构造一次后归调用方所有，不共享、不再修改
type Report struct {
	Packer           *packer.Finding          `json:"packer,omitempty"` // nil = 推定未加壳
	Obfuscation      *obfuscation.Report      `json:"obfuscation"`
	EntryPoints      []sensitive.ComponentRef `json:"entry_points"`
	KeyClasses       []string                 `json:"key_classes"`
	ModifiablePoints []sensitive.Point        `json:"modifiable_points"`
	ScanTruncated    bool                     `json:"scan_truncated"` // 扫描被文件数上限截断
	ScannedFiles     int                      `json:"scanned_files"`
	SkippedFiles     int                      `json:"skipped_files"`
	Duration         time.Duration            `json:"-"`
}

// Config 引擎策略常量集合
// 权重/阈值/上限都是策略而非推导值，集中在这里便于测试时注入
type Config struct {
	Packer      packer.Config      `mapstructure:"packer"`
	Obfuscation obfuscation.Config `mapstructure:"obfuscation"`
	Sensitive   sensitive.Config   `mapstructure:"sensitive"`
}

// DefaultConfig 默认策略
func DefaultConfig() Config {
	return Config{
		Packer:      packer.DefaultConfig(),
		Obfuscation: obfuscation.DefaultConfig(),
		Sensitive:   sensitive.DefaultConfig(),
	}
}

// Engine 制品分类引擎
// 纯计算组件: 不做任何IO，不持有锁，输入是只读快照，
// 工作量被 MaxScanFiles 限定，所以内部不需要超时或取消机制
type Engine struct {
	classifier *packer.Classifier
	scorer     *obfuscation.Scorer
	scanner    *sensitive.Scanner
	logger     *logrus.Logger
}

// New 创建分类引擎
func New(registry *signature.Registry, cfg Config, logger *logrus.Logger) *Engine {
	return &Engine{
		classifier: packer.NewClassifier(registry, cfg.Packer, logger),
		scorer:     obfuscation.NewScorer(cfg.Obfuscation, logger),
		scanner:    sensitive.NewScanner(registry, cfg.Sensitive, logger),
		logger:     logger,
	}
}

// Classify 对证据模型执行完整分类
// 三个分析彼此无数据依赖，在各自的goroutine上并发执行，
// 共享的只有只读的证据模型和特征库
func (e *Engine) Classify(ev *evidence.Model) *Report {
	start := time.Now()

	var (
		wg         sync.WaitGroup
		finding    *packer.Finding
		obfReport  *obfuscation.Report
		scanResult *sensitive.Result
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		finding = e.classifier.Classify(ev)
	}()
	go func() {
		defer wg.Done()
		obfReport = e.scorer.Score(ev)
	}()
	go func() {
		defer wg.Done()
		scanResult = e.scanner.Scan(ev)
	}()
	wg.Wait()

	report := &Report{
		Packer:           finding,
		Obfuscation:      obfReport,
		EntryPoints:      scanResult.EntryPoints,
		KeyClasses:       scanResult.KeyClasses,
		ModifiablePoints: scanResult.ModifiablePoints,
		ScanTruncated:    scanResult.Truncated,
		ScannedFiles:     scanResult.ScannedFiles,
		SkippedFiles:     scanResult.SkippedFiles,
		Duration:         time.Since(start),
	}

	e.logger.WithFields(logrus.Fields{
		"packed":            finding != nil,
		"obfuscation_score": obfReport.Score,
		"modifiable_points": len(report.ModifiablePoints),
		"duration_ms":       report.Duration.Milliseconds(),
	}).Info("Classification completed")

	return report
}
