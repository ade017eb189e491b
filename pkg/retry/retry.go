package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"edgetrader/conf"

	"github.com/cenkalti/backoff/v4"
)

// Policy 统一的重试策略：最大次数、退避函数、可重试判断
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Retryable 为nil时除context错误外均可重试
	Retryable func(error) bool
	// OnRetry 每次等待之前回调，通常用来打日志
	OnRetry func(err error, wait time.Duration)
}

// FromConfig 由配置构造
func FromConfig(cfg conf.RetryConfig) Policy {
	return Policy{
		MaxAttempts:     cfg.MaxAttempts,
		InitialInterval: cfg.InitialInterval,
		MaxInterval:     cfg.MaxInterval,
		Multiplier:      cfg.Multiplier,
	}
}

// Fixed 固定次数、固定间隔
func Fixed(attempts int, interval time.Duration) Policy {
	return Policy{MaxAttempts: attempts, InitialInterval: interval, MaxInterval: interval, Multiplier: 1}
}

// WithRetryable 返回替换了判断函数的副本
func (p Policy) WithRetryable(fn func(error) bool) Policy {
	p.Retryable = fn
	return p
}

// Permanent 标记错误不可重试
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier >= 1 {
		b.Multiplier = p.Multiplier
	}
	// 只按次数限制
	b.MaxElapsedTime = 0
	b.Reset()

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

func (p Policy) retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

// Do 执行fn直到成功、遇到不可重试错误或次数耗尽
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := 0
	op := func() error {
		attempts++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return err
		}
		if !p.retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var notify backoff.Notify
	if p.OnRetry != nil {
		notify = func(err error, wait time.Duration) { p.OnRetry(err, wait) }
	}

	err := backoff.RetryNotify(op, p.backOff(ctx), notify)
	if err == nil {
		return nil
	}
	if attempts > 1 {
		return fmt.Errorf("after %d attempts, last error: %w", attempts, err)
	}
	return err
}

// DoValue 带返回值的Do
func DoValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
