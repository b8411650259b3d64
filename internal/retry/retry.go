package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Strategy 重试间隔策略
type Strategy string

const (
	StrategyFixed       Strategy = "fixed"       // 固定间隔
	StrategyLinear      Strategy = "linear"      // 线性递增
	StrategyExponential Strategy = "exponential" // 指数退避
)

// Config 重试配置
type Config struct {
	Name            string        // 操作名，仅用于日志定位
	MaxAttempts     int           // 最大尝试次数
	InitialInterval time.Duration // 初始间隔
	MaxInterval     time.Duration // 间隔上限
	Strategy        Strategy      // 间隔策略
	Timeout         time.Duration // 所有尝试的总预算，0 表示不限
	Logger          *logrus.Logger
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:     3,
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		Strategy:        StrategyExponential,
		Timeout:         5 * time.Minute,
		Logger:          logrus.New(),
	}
}

func (c *Config) logFields(extra logrus.Fields) logrus.Fields {
	if c.Name != "" {
		extra["op"] = c.Name
	}
	return extra
}

// RetryableError 可重试错误接口
type RetryableError interface {
	error
	IsRetryable() bool
}

type retryableError struct {
	error
	retryable bool
}

func (e *retryableError) IsRetryable() bool {
	return e.retryable
}

// NewRetryableError 标记错误为可重试
func NewRetryableError(err error) error {
	return &retryableError{error: err, retryable: true}
}

// NewNonRetryableError 标记错误为不可重试
func NewNonRetryableError(err error) error {
	return &retryableError{error: err, retryable: false}
}

// IsRetryable 判定错误是否值得重试
// 实现了 RetryableError 接口的以接口为准；
// 上下文取消/超时不重试；其余默认重试
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var retryableErr RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.IsRetryable()
	}

	switch {
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return true
	}
}

// Func 可重试的操作
type Func func(ctx context.Context) error

// Do 按配置重试执行 fn，直到成功、耗尽次数或遇到不可重试错误
func Do(ctx context.Context, config *Config, fn Func) error {
	if config == nil {
		config = DefaultConfig()
	}

	var cancel context.CancelFunc
	if config.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, config.Timeout)
		defer cancel()
	}

	var lastErr error
	interval := config.InitialInterval

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry canceled: %w", ctx.Err())
		default:
		}

		startTime := time.Now()
		err := fn(ctx)
		duration := time.Since(startTime)

		if err == nil {
			if attempt > 1 {
				config.Logger.WithFields(config.logFields(logrus.Fields{
					"attempt":  attempt,
					"duration": duration,
				})).Info("Operation recovered after retries")
			}
			return nil
		}

		lastErr = err

		config.Logger.WithFields(config.logFields(logrus.Fields{
			"attempt":  attempt,
			"max":      config.MaxAttempts,
			"duration": duration,
			"error":    err.Error(),
		})).Warn("Operation failed")

		if !IsRetryable(err) {
			config.Logger.WithError(err).Warn("Error is not retryable, aborting")
			return fmt.Errorf("non-retryable error: %w", err)
		}

		if attempt >= config.MaxAttempts {
			break
		}

		interval = calculateNextInterval(config.Strategy, interval, config.InitialInterval, config.MaxInterval, attempt)

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry canceled during wait: %w", ctx.Err())
		case <-time.After(interval):
		}
	}

	return fmt.Errorf("max attempts (%d) reached: %w", config.MaxAttempts, lastErr)
}

// calculateNextInterval 计算下一次等待间隔，结果被钳制在 max 以内
func calculateNextInterval(strategy Strategy, current, initial, max time.Duration, attempt int) time.Duration {
	var next time.Duration

	switch strategy {
	case StrategyFixed:
		next = initial
	case StrategyLinear:
		next = initial * time.Duration(attempt)
	case StrategyExponential:
		next = initial * time.Duration(1<<(attempt-1))
	default:
		next = initial
	}

	if next > max {
		next = max
	}

	return next
}

// RetryWithAttempts 指定尝试次数、其余走默认配置的简化入口
func RetryWithAttempts(ctx context.Context, attempts int, fn Func) error {
	config := DefaultConfig()
	config.MaxAttempts = attempts
	return Do(ctx, config, fn)
}
